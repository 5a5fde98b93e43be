package strike

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/store"
)

var admin = Issuer{ID: "a1", Name: "Ana"}

func newTestEngine(t *testing.T, dir string, opts Options) *Engine {
	t.Helper()
	s, err := store.NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	if opts.Limits == nil {
		opts.Limits = map[string]int{"minor": 5, "moderate": 3, "severe": 1}
	}
	e, err := New(s, opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	tick := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}
	return e
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"leve", Minor},
		{"Moderado", Moderate},
		{" grave ", Severe},
		{"severe", Severe},
	}
	for _, tt := range tests {
		got, err := ParseSeverity(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseSeverity(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := ParseSeverity("extreme"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestEngine_SevereLimitThreeScenario(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{Limits: map[string]int{"severe": 3}})

	wantEscalated := []bool{false, false, true, false}
	for i, want := range wantEscalated {
		res, err := e.Add("u1", Severe, admin, "motivo")
		if err != nil {
			t.Fatalf("Add #%d error: %v", i+1, err)
		}
		if res.Count != i+1 {
			t.Errorf("Add #%d count = %d, want %d", i+1, res.Count, i+1)
		}
		if res.Escalated != want {
			t.Errorf("Add #%d escalated = %v, want %v", i+1, res.Escalated, want)
		}
	}
}

func TestEngine_AddNotRecordedWhenSaveFails(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir, Options{})
	if _, err := e.Add("u1", Minor, admin, "spam"); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	path := filepath.Join(dir, Namespace+".json")
	os.Remove(path)
	if err := os.MkdirAll(filepath.Join(path, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Add("u1", Severe, admin, "insultos"); !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	snap, err := e.Check("u1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if len(snap.Record.Strikes) != 1 {
		t.Errorf("strikes = %d, want only the saved one", len(snap.Record.Strikes))
	}
	os.RemoveAll(path)
}

func TestEngine_EscalatesOnlyOnCrossing(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{})

	escalations := 0
	for i := 0; i < 8; i++ {
		res, err := e.Add("u1", Minor, admin, "spam")
		if err != nil {
			t.Fatalf("Add error: %v", err)
		}
		if res.Escalated {
			escalations++
			if res.Count != 5 {
				t.Errorf("escalated at count %d, want 5", res.Count)
			}
		}
	}
	if escalations != 1 {
		t.Errorf("escalations = %d, want 1", escalations)
	}

	// Dropping below the limit and crossing again escalates once more.
	if _, err := e.Remove("u1", Minor); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	e.Remove("u1", Minor)
	e.Remove("u1", Minor)
	e.Remove("u1", Minor)
	res, _ := e.Add("u1", Minor, admin, "spam")
	if !res.Escalated {
		t.Errorf("re-crossing at count %d should escalate", res.Count)
	}
}

func TestEngine_EscalationBanDirective(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{Escalation: "ban"})

	res, err := e.Add("u1", Severe, admin, "trampas")
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if !res.Escalated || len(res.Directives) != 1 {
		t.Fatalf("result = %+v", res)
	}
	d := res.Directives[0]
	if d.Kind != bus.DirectiveBan || d.UserID != "u1" {
		t.Errorf("directive = %+v", d)
	}

	warnOnly := newTestEngine(t, t.TempDir(), Options{Escalation: "warn"})
	res, _ = warnOnly.Add("u1", Severe, admin, "trampas")
	if !res.Escalated || len(res.Directives) != 0 {
		t.Errorf("warn escalation should emit no directives: %+v", res)
	}
}

func TestEngine_Status(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{Warnings: map[string]int{"minor": 3, "moderate": 2}})

	res, _ := e.Add("u1", Minor, admin, "r")
	if res.Status.Level != LevelOK || res.Status.Message != "Dentro de los límites" {
		t.Errorf("status = %+v", res.Status)
	}
	e.Add("u1", Minor, admin, "r")
	res, _ = e.Add("u1", Minor, admin, "r")
	if res.Status.Level != LevelWarning || !strings.Contains(res.Status.Message, "ADVERTENCIA") {
		t.Errorf("status = %+v, want warning", res.Status)
	}
	res, _ = e.Add("u1", Severe, admin, "r")
	if res.Status.Level != LevelLimit || !strings.Contains(res.Status.Message, "POSIBLE DESPIDO DIRECTO") {
		t.Errorf("status = %+v, want direct limit", res.Status)
	}
}

func TestEngine_AddRejectsBadInput(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{})

	if _, err := e.Add("u1", "huge", admin, "r"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("bad severity err = %v", err)
	}
	if _, err := e.Add("u1", Minor, admin, "  "); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty reason err = %v", err)
	}
	snap, _ := e.Check("u1")
	if len(snap.Record.Strikes) != 0 {
		t.Errorf("rejected adds mutated the record: %+v", snap.Record)
	}
}

func TestEngine_RemoveNotFound(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{})

	if _, err := e.Remove("nobody", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	e.Add("u1", Minor, admin, "r")
	if _, err := e.Remove("u1", Severe); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for missing severity", err)
	}
}

func TestEngine_RemoveMostRecent(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{})
	e.Add("u1", Minor, admin, "first")
	e.Add("u1", Moderate, admin, "second")
	e.Add("u1", Minor, admin, "third")

	res, err := e.Remove("u1", Moderate)
	if err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if res.Removed.Reason != "second" || res.Count != 0 {
		t.Errorf("removed %+v count %d", res.Removed, res.Count)
	}

	res, err = e.Remove("u1", "")
	if err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if res.Removed.Reason != "third" {
		t.Errorf("removed %q, want third", res.Removed.Reason)
	}
	if res.Counts[Minor] != 1 {
		t.Errorf("minor count = %d, want 1", res.Counts[Minor])
	}
}

func TestEngine_CheckRecentAndPersistence(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir, Options{})
	for _, reason := range []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7"} {
		if _, err := e.Add("u1", Minor, admin, reason); err != nil {
			t.Fatalf("Add error: %v", err)
		}
	}

	reopened := newTestEngine(t, dir, Options{})
	snap, err := reopened.Check("u1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if len(snap.Record.Strikes) != 7 || snap.Counts[Minor] != 7 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Recent) != RecentLimit || snap.Recent[0].Reason != "r7" || snap.Recent[4].Reason != "r3" {
		t.Errorf("recent = %+v", snap.Recent)
	}
	for i := 1; i < len(snap.Record.Strikes); i++ {
		if !snap.Record.Strikes[i].Timestamp.After(snap.Record.Strikes[i-1].Timestamp) {
			t.Errorf("history out of order at %d", i)
		}
	}
}

func TestEngine_Clear(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{})
	if _, err := e.Clear("u1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	e.Add("u1", Minor, admin, "r")
	e.Add("u1", Severe, admin, "r")

	n, err := e.Clear("u1")
	if err != nil || n != 2 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
	snap, _ := e.Check("u1")
	if len(snap.Record.Strikes) != 0 {
		t.Errorf("record not cleared: %+v", snap.Record)
	}
}

func TestNew_InvalidLimits(t *testing.T) {
	s, _ := store.NewFileStore(t.TempDir(), nil)
	if _, err := New(s, Options{Limits: map[string]int{"severe": 0}}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
	if _, err := New(s, Options{Limits: map[string]int{"tiny": 1}}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}
