package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/config"
	"github.com/stellarlinkco/modclaw/internal/counter"
	"github.com/stellarlinkco/modclaw/internal/cron"
	"github.com/stellarlinkco/modclaw/internal/store"
	"github.com/stellarlinkco/modclaw/internal/strike"
	"github.com/stellarlinkco/modclaw/internal/suggestion"
	"github.com/stellarlinkco/modclaw/internal/ticket"
)

// isolate points HOME at a temp dir and clears env overrides.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	for _, k := range []string{
		"MODCLAW_DISCORD_TOKEN", "BOT_TOKEN", "MODCLAW_GUILD_ID",
		"MODCLAW_SUGGESTIONS_CHANNEL", "CHANNEL_ID", "MODCLAW_STORE_BACKEND",
		"MODCLAW_DATA_DIR", "MODCLAW_TRANSCRIPT_CHANNEL",
	} {
		t.Setenv(k, "")
	}
	return tmpDir
}

func run(t *testing.T, fn func(*cobra.Command, []string) error, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	err := fn(cmd, args)
	return buf.String(), err
}

func openTestStore(t *testing.T, home string) store.Store {
	t.Helper()
	st, err := store.Open(store.BackendFile, filepath.Join(home, ".modclaw", "data"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func TestWriteIfNotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	var buf bytes.Buffer

	writeIfNotExists(&buf, path, "first")
	writeIfNotExists(&buf, path, "second")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "first" {
		t.Errorf("content = %q, want first", data)
	}
	if strings.Count(buf.String(), "Created") != 1 {
		t.Errorf("output = %q", buf.String())
	}
}

func TestInit(t *testing.T) {
	want := []string{"gateway", "onboard", "status", "counter", "strike", "ticket", "suggest", "jobs"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
			}
		}
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
	if f := counterResetCmd.Flags().Lookup("kind"); f == nil || f.DefValue != "suggestions" {
		t.Error("counter reset --kind flag missing")
	}
}

func TestRunOnboard(t *testing.T) {
	home := isolate(t)

	out, err := run(t, runOnboard)
	if err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if !strings.Contains(out, "Created config") {
		t.Errorf("unexpected output: %s", out)
	}
	if _, err := os.Stat(filepath.Join(home, ".modclaw", "config.json")); err != nil {
		t.Error("config file was not created")
	}
	tpl := filepath.Join(home, ".modclaw", "workspace", "templates", "welcome", "TEMPLATE.md")
	data, err := os.ReadFile(tpl)
	if err != nil {
		t.Fatalf("welcome template missing: %v", err)
	}
	if !strings.Contains(string(data), "name: welcome") || !strings.Contains(string(data), "{mention}") {
		t.Errorf("template = %s", data)
	}

	out, err = run(t, runOnboard)
	if err != nil {
		t.Fatalf("second runOnboard error: %v", err)
	}
	if !strings.Contains(out, "Config already exists") {
		t.Errorf("expected 'Config already exists', got: %s", out)
	}
}

func TestRunStatus_Unconfigured(t *testing.T) {
	isolate(t)

	out, err := run(t, runStatus)
	if err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	for _, want := range []string{"Valid:", "Token:", "not set", "Store: file", "not created yet"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunStatus_WithToken(t *testing.T) {
	home := isolate(t)
	t.Setenv("MODCLAW_DISCORD_TOKEN", "abcd1234efgh5678")
	t.Setenv("MODCLAW_SUGGESTIONS_CHANNEL", "123")
	if err := os.MkdirAll(filepath.Join(home, ".modclaw", "data"), 0755); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, runStatus)
	if err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if !strings.Contains(out, "abcd...5678") {
		t.Errorf("token not masked:\n%s", out)
	}
	if strings.Contains(out, "abcd1234efgh5678") {
		t.Error("full token printed")
	}
	if !strings.Contains(out, "Scheduled jobs: 0") {
		t.Errorf("jobs line missing:\n%s", out)
	}
}

func TestRunGateway_InvalidConfig(t *testing.T) {
	isolate(t)
	_, err := run(t, runGateway)
	if err == nil || !strings.Contains(err.Error(), "discord token is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunCounterReset(t *testing.T) {
	home := isolate(t)
	st := openTestStore(t, home)
	c, err := counter.New(st, counter.NamespaceHelp, counter.Rule{Threshold: 10, Message: "x"})
	if err != nil {
		t.Fatal(err)
	}
	for _, ch := range []string{"a", "a", "b"} {
		if _, err := c.OnMessage(ch); err != nil {
			t.Fatal(err)
		}
	}
	_ = st.Close()

	counterKindFlag = "help"
	t.Cleanup(func() { counterKindFlag = "suggestions" })

	out, err := run(t, runCounterReset, "a")
	if err != nil {
		t.Fatalf("reset a: %v", err)
	}
	if !strings.Contains(out, "for a") {
		t.Errorf("output = %q", out)
	}

	st = openTestStore(t, home)
	c, _ = counter.New(st, counter.NamespaceHelp, counter.Rule{Threshold: 10})
	if n, _ := c.Get("a"); n != 0 {
		t.Errorf("a = %d, want 0", n)
	}
	if n, _ := c.Get("b"); n != 1 {
		t.Errorf("b = %d, want 1", n)
	}
	_ = st.Close()

	out, err = run(t, runCounterReset)
	if err != nil {
		t.Fatalf("reset all: %v", err)
	}
	if !strings.Contains(out, "Reset 2 help counters") {
		t.Errorf("output = %q", out)
	}
}

func TestRunCounterReset_UnknownKind(t *testing.T) {
	isolate(t)
	counterKindFlag = "votes"
	t.Cleanup(func() { counterKindFlag = "suggestions" })
	if _, err := run(t, runCounterReset); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestRunStrikeClear(t *testing.T) {
	home := isolate(t)
	st := openTestStore(t, home)
	cfg := config.DefaultConfig()
	eng, err := strike.New(st, strike.Options{Limits: cfg.Strikes.Limits, Warnings: cfg.Strikes.Warnings, Escalation: cfg.Strikes.Escalation})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := eng.Add("u1", strike.Minor, strike.Issuer{ID: "admin", Name: "ana"}, "spam"); err != nil {
			t.Fatal(err)
		}
	}
	_ = st.Close()

	out, err := run(t, runStrikeClear, "u1")
	if err != nil {
		t.Fatalf("runStrikeClear: %v", err)
	}
	if !strings.Contains(out, "Cleared 2 strikes for u1") {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, runStrikeClear, "u1")
	if err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if !strings.Contains(out, "No strikes recorded") {
		t.Errorf("output = %q", out)
	}
}

func TestRunTicketTranscript(t *testing.T) {
	home := isolate(t)
	st := openTestStore(t, home)
	eng := ticket.New(st, ticket.Options{DefaultReason: "Sin motivo"})
	created, err := eng.Create(ticket.Actor{ID: "u1", Name: "bob"}, "ayuda")
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	if _, err := run(t, runTicketTranscript, "abc"); err == nil {
		t.Error("expected error for malformed id")
	}
	if _, err := run(t, runTicketTranscript, "99"); err == nil {
		t.Error("expected error for unknown ticket")
	}
	_, err = run(t, runTicketTranscript, "#"+created.Ticket.ID)
	if err == nil || !strings.Contains(err.Error(), "no transcript") {
		t.Errorf("open ticket err = %v", err)
	}
}

func TestRunTicketList(t *testing.T) {
	home := isolate(t)
	st := openTestStore(t, home)
	eng := ticket.New(st, ticket.Options{DefaultReason: "Sin motivo"})
	first, _ := eng.Create(ticket.Actor{ID: "u1", Name: "bob"}, "ayuda con el rol")
	eng.BindChannel(first.Ticket.ID, "c-ticket")
	second, _ := eng.Create(ticket.Actor{ID: "u2", Name: "carla"}, "")
	if _, err := eng.Abort(second.Ticket.ID); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	out, err := run(t, runTicketList)
	if err != nil {
		t.Fatalf("runTicketList: %v", err)
	}
	if !strings.Contains(out, "#0001") || !strings.Contains(out, "c-ticket") || !strings.Contains(out, "#0002") {
		t.Errorf("output = %q", out)
	}

	listStatusFlag = string(ticket.StatusAborted)
	t.Cleanup(func() { listStatusFlag = "" })
	out, _ = run(t, runTicketList)
	if strings.Contains(out, "#0001") || !strings.Contains(out, "#0002  aborted") {
		t.Errorf("filtered output = %q", out)
	}
}

func TestRunSuggestList(t *testing.T) {
	home := isolate(t)

	out, err := run(t, runSuggestList)
	if err != nil {
		t.Fatalf("runSuggestList: %v", err)
	}
	if !strings.Contains(out, "No suggestions") {
		t.Errorf("empty output = %q", out)
	}

	st := openTestStore(t, home)
	eng := suggestion.New(st, suggestion.Options{})
	res, err := eng.Create(suggestion.Author{ID: "u1", Name: "bob"}, "Más eventos", "sugg")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.AttachMessage(res.Suggestion.ID, "sugg", "m1"); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	out, err = run(t, runSuggestList)
	if err != nil {
		t.Fatalf("runSuggestList: %v", err)
	}
	if !strings.Contains(out, res.Suggestion.ID) || !strings.Contains(out, "Más eventos") || !strings.Contains(out, "pending") {
		t.Errorf("output = %q", out)
	}
}

func TestRunJobs(t *testing.T) {
	home := isolate(t)

	out, err := run(t, runJobsList)
	if err != nil {
		t.Fatalf("runJobsList: %v", err)
	}
	if !strings.Contains(out, "No scheduled jobs") {
		t.Errorf("empty output = %q", out)
	}

	svc := cron.NewService(filepath.Join(home, ".modclaw", "data", "cron", "jobs.json"))
	job, err := svc.AddJob("announcement:rules", cron.Every(6*time.Hour), cron.Payload{
		Directive: bus.Directive{Kind: bus.DirectiveSendMessage, ChannelID: "general"},
	})
	if err != nil {
		t.Fatal(err)
	}

	out, _ = run(t, runJobsList)
	if !strings.Contains(out, "announcement:rules") || !strings.Contains(out, "every 6h0m0s") {
		t.Errorf("list output = %q", out)
	}

	out, err = run(t, func(cmd *cobra.Command, args []string) error { return runJobsToggle(cmd, args[0], false) }, job.ID)
	if err != nil || !strings.Contains(out, "Disabled job") {
		t.Fatalf("disable = %q, %v", out, err)
	}
	jobs, _ := cron.NewService(filepath.Join(home, ".modclaw", "data", "cron", "jobs.json")).LoadJobs()
	if len(jobs) != 1 || jobs[0].Enabled {
		t.Errorf("jobs after disable = %+v", jobs)
	}

	if _, err := run(t, runJobsRemove, "missing"); err == nil {
		t.Error("expected error for unknown job")
	}
	if out, err := run(t, runJobsRemove, job.ID); err != nil || !strings.Contains(out, "Removed job") {
		t.Fatalf("remove = %q, %v", out, err)
	}
	jobs, _ = cron.NewService(filepath.Join(home, ".modclaw", "data", "cron", "jobs.json")).LoadJobs()
	if len(jobs) != 0 {
		t.Errorf("jobs after remove = %+v", jobs)
	}
}
