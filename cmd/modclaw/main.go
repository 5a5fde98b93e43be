package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/config"
	"github.com/stellarlinkco/modclaw/internal/counter"
	"github.com/stellarlinkco/modclaw/internal/cron"
	"github.com/stellarlinkco/modclaw/internal/dispatch"
	"github.com/stellarlinkco/modclaw/internal/gateway"
	"github.com/stellarlinkco/modclaw/internal/store"
	"github.com/stellarlinkco/modclaw/internal/templates"
	"github.com/stellarlinkco/modclaw/internal/ticket"
)

var rootCmd = &cobra.Command{
	Use:   "modclaw",
	Short: "modclaw - Discord moderation and community bot",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Connect to Discord and start handling events",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show modclaw status",
	RunE:  runStatus,
}

var counterCmd = &cobra.Command{
	Use:   "counter",
	Short: "Inspect and reset message counters",
}

var counterResetCmd = &cobra.Command{
	Use:   "reset [channel]",
	Short: "Reset one channel's counter, or every counter of a kind",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCounterReset,
}

var strikeCmd = &cobra.Command{
	Use:   "strike",
	Short: "Manage strike records",
}

var strikeClearCmd = &cobra.Command{
	Use:   "clear <user>",
	Short: "Delete every strike of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runStrikeClear,
}

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Inspect support tickets",
}

var ticketTranscriptCmd = &cobra.Command{
	Use:   "transcript <id>",
	Short: "Print the stored transcript of a closed ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketTranscript,
}

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets by number",
	Args:  cobra.NoArgs,
	RunE:  runTicketList,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Inspect community suggestions",
}

var suggestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suggestions, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runSuggestList,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage scheduled jobs (stop the gateway first)",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Resume a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runJobsToggle(cmd, args[0], true) },
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Pause a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runJobsToggle(cmd, args[0], false) },
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRemove,
}

var (
	counterKindFlag string
	listStatusFlag  string
)

// counterNamespaces maps --kind values to store namespaces.
var counterNamespaces = map[string]string{
	"suggestions": counter.NamespaceSuggestions,
	"help":        counter.NamespaceHelp,
	"create":      counter.NamespaceSuggestCreate,
}

func init() {
	counterResetCmd.Flags().StringVarP(&counterKindFlag, "kind", "k", "suggestions", "counter kind: suggestions, help or create")
	counterCmd.AddCommand(counterResetCmd)
	strikeCmd.AddCommand(strikeClearCmd)
	for _, c := range []*cobra.Command{ticketListCmd, suggestListCmd} {
		c.Flags().StringVarP(&listStatusFlag, "status", "s", "", "only show entries with this status")
	}
	ticketCmd.AddCommand(ticketTranscriptCmd, ticketListCmd)
	suggestCmd.AddCommand(suggestListCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsEnableCmd, jobsDisableCmd, jobsRemoveCmd)
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, counterCmd, strikeCmd, ticketCmd, suggestCmd, jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config (run 'modclaw onboard' and edit %s):\n%w", config.ConfigPath(), err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tplDir := filepath.Join(cfg.Workspace, "templates")
	for name, body := range map[string]string{
		templates.Welcome: cfg.Messages.Welcome,
		templates.Goodbye: cfg.Messages.Goodbye,
	} {
		dir := filepath.Join(tplDir, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
		writeIfNotExists(out, filepath.Join(dir, "TEMPLATE.md"), templateFile(name, body))
	}

	fmt.Fprintf(out, "Workspace ready: %s\n", cfg.Workspace)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set the bot token, guild and channels\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set MODCLAW_DISCORD_TOKEN, MODCLAW_GUILD_ID and MODCLAW_SUGGESTIONS_CHANNEL")
	fmt.Fprintln(out, "  3. Run 'modclaw gateway'")

	return nil
}

func templateFile(name, body string) string {
	return fmt.Sprintf("---\nname: %s\ndescription: Texto editable. Usa {mention}, {name} y {server}.\n---\n%s\n", name, body)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ok := color.New(color.FgGreen).Sprint
	warn := color.New(color.FgYellow).Sprint
	bad := color.New(color.FgRed).Sprint

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: %s (%v)\n", bad("error"), err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Valid: %s\n", bad("no"))
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(out, "  - %s\n", line)
		}
	} else {
		fmt.Fprintf(out, "Valid: %s\n", ok("yes"))
	}

	fmt.Fprintf(out, "Token: %s\n", maskToken(cfg.Discord.Token, ok, bad))
	fmt.Fprintf(out, "Guild: %s\n", orUnset(cfg.Discord.GuildID, warn))
	fmt.Fprintf(out, "Suggestions channel: %s\n", orUnset(cfg.Channels.Suggestions, bad))
	fmt.Fprintf(out, "Results channel: %s\n", orUnset(cfg.Channels.SuggestionResults, warn))
	fmt.Fprintf(out, "Welcome channel: %s\n", orUnset(cfg.Channels.Welcome, warn))
	if cfg.Channels.Transcripts != "" {
		fmt.Fprintf(out, "Transcript channel: %s\n", cfg.Channels.Transcripts)
	} else {
		fmt.Fprintf(out, "Transcript channel: %s\n", warn("#"+cfg.Channels.TranscriptChannelName+" (by name)"))
	}
	fmt.Fprintf(out, "Admin roles: %s\n", strings.Join(cfg.Permissions.AdminRoles, ", "))
	fmt.Fprintf(out, "Store: %s (%s)\n", cfg.Store.Backend, cfg.DataDir())

	if _, err := os.Stat(cfg.DataDir()); err != nil {
		fmt.Fprintf(out, "Data: %s\n", warn("not created yet"))
		return nil
	}
	svc := cron.NewService(cfg.JobsPath())
	jobs, err := svc.LoadJobs()
	if err != nil {
		fmt.Fprintf(out, "Scheduled jobs: %s (%v)\n", bad("error"), err)
		return nil
	}
	pending := 0
	for _, j := range jobs {
		if j.Enabled {
			pending++
		}
	}
	fmt.Fprintf(out, "Scheduled jobs: %d (%d enabled)\n", len(jobs), pending)
	return nil
}

func maskToken(token string, ok, bad func(...interface{}) string) string {
	switch {
	case token == "":
		return bad("not set")
	case len(token) > 8:
		return ok(token[:4] + "..." + token[len(token)-4:])
	default:
		return ok("set")
	}
}

func orUnset(v string, style func(...interface{}) string) string {
	if v == "" {
		return style("not set")
	}
	return v
}

// openEngines opens the configured store for an offline command. The
// gateway should be stopped first when the file backend is in use.
func openEngines() (store.Store, dispatch.Engines, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, dispatch.Engines{}, fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(cfg.Store.Backend, cfg.DataDir(), nil)
	if err != nil {
		return nil, dispatch.Engines{}, fmt.Errorf("open store: %w", err)
	}
	eng, err := gateway.NewEngines(cfg, st, templates.Set{}, nil)
	if err != nil {
		_ = st.Close()
		return nil, dispatch.Engines{}, err
	}
	return st, eng, nil
}

func runCounterReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ns, ok := counterNamespaces[strings.ToLower(counterKindFlag)]
	if !ok {
		return fmt.Errorf("unknown counter kind %q (suggestions, help or create)", counterKindFlag)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(cfg.Store.Backend, cfg.DataDir(), nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// The threshold plays no part in a reset.
	c, err := counter.New(st, ns, counter.Rule{Threshold: 1})
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if err := c.Reset(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Reset %s counter for %s\n", counterKindFlag, args[0])
		return nil
	}
	keys, err := c.ResetAll()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Reset %d %s counters\n", len(keys), counterKindFlag)
	return nil
}

func runStrikeClear(cmd *cobra.Command, args []string) error {
	st, eng, err := openEngines()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := eng.Strikes.Clear(args[0])
	if errors.Is(err, apperr.ErrNotFound) {
		fmt.Fprintf(cmd.OutOrStdout(), "No strikes recorded for %s\n", args[0])
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d strikes for %s\n", n, args[0])
	return nil
}

func runTicketTranscript(cmd *cobra.Command, args []string) error {
	id, err := ticket.ParseID(args[0])
	if err != nil {
		return err
	}
	st, eng, err := openEngines()
	if err != nil {
		return err
	}
	defer st.Close()

	t, err := eng.Tickets.Get(id)
	if err != nil {
		return err
	}
	if t.Transcript == nil {
		return fmt.Errorf("ticket #%s is %s and has no transcript yet", t.ID, t.Status)
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Transcript.Text)
	return nil
}

func runTicketList(cmd *cobra.Command, args []string) error {
	st, eng, err := openEngines()
	if err != nil {
		return err
	}
	defer st.Close()

	tickets, err := eng.Tickets.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	shown := 0
	for _, t := range tickets {
		if listStatusFlag != "" && string(t.Status) != listStatusFlag {
			continue
		}
		shown++
		channel := t.ChannelID
		if channel == "" {
			channel = "-"
		}
		fmt.Fprintf(out, "#%s  %-7s  %-20s  %-20s  %s\n", t.ID, t.Status, channel, t.CreatorName, t.Reason)
	}
	if shown == 0 {
		fmt.Fprintln(out, "No tickets")
	}
	return nil
}

func runSuggestList(cmd *cobra.Command, args []string) error {
	st, eng, err := openEngines()
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := eng.Suggestions.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	shown := 0
	for _, s := range list {
		if listStatusFlag != "" && string(s.Status) != listStatusFlag {
			continue
		}
		shown++
		votes := s.Votes
		if s.FinalVotes != nil {
			votes = *s.FinalVotes
		}
		fmt.Fprintf(out, "%s  %-8s  +%d/-%d  %-16s  %s\n", s.ID, s.Status, votes.Up, votes.Down, s.AuthorName, s.Text)
	}
	if shown == 0 {
		fmt.Fprintln(out, "No suggestions")
	}
	return nil
}

func loadJobs() (*cron.Service, []cron.CronJob, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	svc := cron.NewService(cfg.JobsPath())
	jobs, err := svc.LoadJobs()
	if err != nil {
		return nil, nil, err
	}
	return svc, jobs, nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	_, jobs, err := loadJobs()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No scheduled jobs")
		return nil
	}
	on := color.New(color.FgGreen).Sprint
	off := color.New(color.FgYellow).Sprint
	for _, j := range jobs {
		state := on("enabled")
		if !j.Enabled {
			state = off("disabled")
		}
		fmt.Fprintf(out, "%s  %s  %-24s  %s", j.ID, state, j.Name, describeSchedule(j.Schedule))
		if j.State.LastStatus != "" {
			fmt.Fprintf(out, "  last: %s", j.State.LastStatus)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func describeSchedule(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindCron:
		return "cron " + s.Expr
	case cron.KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case cron.KindAt:
		return "at " + time.UnixMilli(s.AtMs).Format(time.RFC3339)
	}
	return s.Kind
}

func runJobsToggle(cmd *cobra.Command, id string, enabled bool) error {
	svc, _, err := loadJobs()
	if err != nil {
		return err
	}
	job, err := svc.EnableJob(id, enabled)
	if err != nil {
		return err
	}
	verb := "Disabled"
	if job.Enabled {
		verb = "Enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s job %s (%s)\n", verb, job.ID, job.Name)
	return nil
}

func runJobsRemove(cmd *cobra.Command, args []string) error {
	svc, _, err := loadJobs()
	if err != nil {
		return err
	}
	if !svc.RemoveJob(args[0]) {
		return fmt.Errorf("job %s: %w", args[0], apperr.ErrNotFound)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
	return nil
}

func writeIfNotExists(out io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Fprintf(out, "  Created: %s\n", path)
	}
}
