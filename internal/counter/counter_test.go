package counter

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/store"
)

func newTestEngine(t *testing.T, dir, ns string, threshold int) *Engine {
	t.Helper()
	s, err := store.NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	e, err := New(s, ns, Rule{Threshold: threshold, Message: "reminder"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return e
}

func TestEngine_ThresholdFiveScenario(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), NamespaceSuggestions, 5)

	for i := 1; i <= 4; i++ {
		res, err := e.OnMessage("c1")
		if err != nil {
			t.Fatalf("OnMessage #%d error: %v", i, err)
		}
		if res.Fired || res.Count != i {
			t.Fatalf("message #%d: fired=%v count=%d", i, res.Fired, res.Count)
		}
	}

	res, err := e.OnMessage("c1")
	if err != nil {
		t.Fatalf("OnMessage #5 error: %v", err)
	}
	if !res.Fired {
		t.Fatal("fifth message should fire")
	}
	if len(res.Directives) != 1 {
		t.Fatalf("directives = %d, want 1", len(res.Directives))
	}
	d := res.Directives[0]
	if d.Kind != bus.DirectiveSendMessage || d.ChannelID != "c1" || d.Message.Content != "reminder" {
		t.Errorf("directive = %+v", d)
	}
	if n, _ := e.Get("c1"); n != 0 {
		t.Errorf("count after fire = %d, want 0", n)
	}
}

func TestEngine_FailedSaveAtThresholdKeepsCount(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir, NamespaceSuggestions, 5)
	for i := 1; i <= 4; i++ {
		if _, err := e.OnMessage("c1"); err != nil {
			t.Fatalf("OnMessage #%d error: %v", i, err)
		}
	}

	path := filepath.Join(dir, NamespaceSuggestions+".json")
	os.Remove(path)
	if err := os.MkdirAll(filepath.Join(path, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := e.OnMessage("c1"); !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if n, _ := e.Get("c1"); n != 4 {
		t.Errorf("count after failed save = %d, want 4", n)
	}

	os.RemoveAll(path)
	res, err := e.OnMessage("c1")
	if err != nil {
		t.Fatalf("OnMessage after recovery error: %v", err)
	}
	if !res.Fired || len(res.Directives) != 1 {
		t.Errorf("recovered message fired=%v directives=%d, want the reminder", res.Fired, len(res.Directives))
	}
}

func TestEngine_FiresFloorNOverT(t *testing.T) {
	for _, tc := range []struct{ n, threshold int }{{0, 3}, {2, 3}, {3, 3}, {10, 3}, {17, 5}, {7, 1}} {
		dir := t.TempDir()
		e := newTestEngine(t, dir, NamespaceHelp, tc.threshold)

		fired := 0
		for i := 0; i < tc.n; i++ {
			res, err := e.OnMessage("help")
			if err != nil {
				t.Fatalf("OnMessage error: %v", err)
			}
			if res.Fired {
				fired++
			}
		}
		if want := tc.n / tc.threshold; fired != want {
			t.Errorf("n=%d t=%d: fired %d, want %d", tc.n, tc.threshold, fired, want)
		}

		// Persisted count survives a restart.
		reopened := newTestEngine(t, dir, NamespaceHelp, tc.threshold)
		if got, _ := reopened.Get("help"); got != tc.n%tc.threshold {
			t.Errorf("n=%d t=%d: persisted count %d, want %d", tc.n, tc.threshold, got, tc.n%tc.threshold)
		}
	}
}

func TestEngine_ChannelsAreIndependent(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), NamespaceHelp, 2)
	e.OnMessage("a")
	res, _ := e.OnMessage("b")
	if res.Fired {
		t.Error("channel b should not fire after one message")
	}
	res, _ = e.OnMessage("a")
	if !res.Fired {
		t.Error("channel a should fire on its second message")
	}
}

func TestEngine_NamespacesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	s, _ := store.NewFileStore(dir, nil)
	sug, _ := New(s, NamespaceSuggestions, Rule{Threshold: 5})
	create, _ := New(s, NamespaceSuggestCreate, Rule{Threshold: 5})

	sug.OnMessage("c1")
	sug.OnMessage("c1")
	create.Increment(GlobalKey, "c1")

	if n, _ := sug.Get("c1"); n != 2 {
		t.Errorf("suggestions count = %d, want 2", n)
	}
	if n, _ := create.Get(GlobalKey); n != 1 {
		t.Errorf("create count = %d, want 1", n)
	}
	if n, _ := create.Get("c1"); n != 0 {
		t.Errorf("create count for c1 = %d, want 0", n)
	}
}

func TestEngine_IncrementTargetsOtherChannel(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), NamespaceSuggestCreate, 1)
	res, err := e.Increment(GlobalKey, "suggestions")
	if err != nil {
		t.Fatalf("Increment error: %v", err)
	}
	if !res.Fired || res.Directives[0].ChannelID != "suggestions" {
		t.Errorf("result = %+v", res)
	}
}

func TestEngine_ResetAndResetAll(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), NamespaceHelp, 10)
	e.OnMessage("a")
	e.OnMessage("a")
	e.OnMessage("b")

	if err := e.Reset("a"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if n, _ := e.Get("a"); n != 0 {
		t.Errorf("a = %d after Reset", n)
	}
	if n, _ := e.Get("b"); n != 1 {
		t.Errorf("b = %d, want 1", n)
	}

	keys, err := e.ResetAll()
	if err != nil {
		t.Fatalf("ResetAll error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("keys = %v", keys)
	}
	if n, _ := e.Get("b"); n != 0 {
		t.Errorf("b = %d after ResetAll", n)
	}
}

func TestEngine_LoweredThresholdClampsCount(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir, NamespaceHelp, 10)
	for i := 0; i < 7; i++ {
		e.OnMessage("c")
	}
	lowered := newTestEngine(t, dir, NamespaceHelp, 5)
	if n, _ := lowered.Get("c"); n != 0 {
		t.Errorf("count = %d, want 0 once above the new threshold", n)
	}
}

func TestNew_InvalidThreshold(t *testing.T) {
	s, _ := store.NewFileStore(t.TempDir(), nil)
	if _, err := New(s, NamespaceHelp, Rule{Threshold: 0}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
