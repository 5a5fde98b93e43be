package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"unicode/utf8"

	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/channel"
	"github.com/stellarlinkco/modclaw/internal/config"
	"github.com/stellarlinkco/modclaw/internal/counter"
	"github.com/stellarlinkco/modclaw/internal/cron"
	"github.com/stellarlinkco/modclaw/internal/dispatch"
	"github.com/stellarlinkco/modclaw/internal/permission"
	"github.com/stellarlinkco/modclaw/internal/store"
	"github.com/stellarlinkco/modclaw/internal/strike"
	"github.com/stellarlinkco/modclaw/internal/suggestion"
	"github.com/stellarlinkco/modclaw/internal/templates"
	"github.com/stellarlinkco/modclaw/internal/ticket"
)

// Platform is the chat connection: it feeds the bus and serves the
// dispatcher's gateway calls.
type Platform interface {
	channel.Channel
	dispatch.Gateway
}

// PlatformFactory creates a Platform (allows mocking in tests)
type PlatformFactory func(cfg config.DiscordConfig, b *bus.MessageBus) (Platform, error)

// DefaultPlatformFactory connects to Discord.
func DefaultPlatformFactory(cfg config.DiscordConfig, b *bus.MessageBus) (Platform, error) {
	ch, err := channel.NewDiscordChannel(cfg, b)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Options for creating a Gateway
type Options struct {
	PlatformFactory PlatformFactory
	SignalChan      chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      store.Store
	platform   Platform
	cron       *cron.Service
	exec       *dispatch.Executor
	dispatcher *dispatch.Dispatcher
	engines    dispatch.Engines
	signalChan chan os.Signal // for testing

	stopLoop context.CancelFunc
	loopDone sync.WaitGroup
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	st, err := store.Open(cfg.Store.Backend, cfg.DataDir(), nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st

	factory := opts.PlatformFactory
	if factory == nil {
		factory = DefaultPlatformFactory
	}
	platform, err := factory(cfg.Discord, g.bus)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create platform: %w", err)
	}
	g.platform = platform

	tmpl, err := templates.LoadTemplates(filepath.Join(cfg.Workspace, "templates"))
	if err != nil {
		log.Printf("[gateway] templates load warning: %v", err)
	}

	g.engines, err = NewEngines(cfg, st, tmpl, platform)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	g.cron = cron.NewService(cfg.JobsPath())
	g.exec = dispatch.NewExecutor(platform, g.cron)
	g.cron.OnJob = func(job cron.CronJob) (string, error) {
		d, err := g.exec.Execute(context.Background(), job.Payload.Directive)
		if err != nil {
			return "", err
		}
		return d.MessageID, nil
	}

	g.dispatcher = dispatch.New(g.exec, g.engines, dispatch.Options{
		SuggestionsChannel: cfg.Channels.Suggestions,
		WelcomeChannel:     cfg.Channels.Welcome,
		ServerName:         cfg.Messages.ServerName,
		WelcomeMessage:     tmpl.Text(templates.Welcome, cfg.Messages.Welcome),
		GoodbyeMessage:     tmpl.Text(templates.Goodbye, cfg.Messages.Goodbye),
		WarningTTL:         cfg.Tickets.WarningTTLDuration(),
		Policy:             permission.NewPolicy(cfg.Permissions.AdminRoles),
	})

	return g, nil
}

// NewEngines builds the state owners over st. history may be nil when
// tickets are never closed, as in the CLI.
func NewEngines(cfg *config.Config, st store.Store, tmpl templates.Set, history ticket.HistoryFetcher) (dispatch.Engines, error) {
	var eng dispatch.Engines
	var err error

	eng.SuggestionCounter, err = counter.New(st, counter.NamespaceSuggestions, counter.Rule{
		Threshold: cfg.Reminders.SuggestionChannel.Threshold,
		Message:   tmpl.Text(templates.SuggestionReminder, cfg.Reminders.SuggestionChannel.Message),
	})
	if err != nil {
		return eng, fmt.Errorf("suggestions counter: %w", err)
	}
	eng.HelpCounter, err = counter.New(st, counter.NamespaceHelp, counter.Rule{
		Threshold: cfg.Reminders.Help.Threshold,
		Message:   tmpl.Text(templates.HelpReminder, cfg.Reminders.Help.Message),
	})
	if err != nil {
		return eng, fmt.Errorf("help counter: %w", err)
	}
	createCounter, err := counter.New(st, counter.NamespaceSuggestCreate, counter.Rule{
		Threshold: cfg.Reminders.SuggestCreate.Threshold,
		Message:   tmpl.Text(templates.SuggestCreateReminder, cfg.Reminders.SuggestCreate.Message),
	})
	if err != nil {
		return eng, fmt.Errorf("suggest create counter: %w", err)
	}

	eng.Strikes, err = strike.New(st, strike.Options{
		Limits:     cfg.Strikes.Limits,
		Warnings:   cfg.Strikes.Warnings,
		Escalation: cfg.Strikes.Escalation,
	})
	if err != nil {
		return eng, fmt.Errorf("strike engine: %w", err)
	}

	eng.Suggestions = suggestion.New(st, suggestion.Options{
		ResultsChannel:  cfg.Channels.SuggestionResults,
		ReminderChannel: cfg.Channels.Suggestions,
		CreateCounter:   createCounter,
	})

	eng.Tickets = ticket.New(st, ticket.Options{
		ChannelPrefix:     cfg.Tickets.ChannelPrefix,
		DefaultReason:     cfg.Tickets.DefaultReason,
		TranscriptChannel: cfg.Channels.Transcripts,
		CloseDelay:        cfg.Tickets.CloseDelayDuration(),
		Policy:            permission.NewPolicy(cfg.Permissions.AdminRoles),
		History:           history,
	})
	return eng, nil
}

// ensureAnnouncements keeps one scheduler job per configured announcement.
func (g *Gateway) ensureAnnouncements() error {
	for _, a := range g.cfg.Announcements {
		schedule := cron.Cron(a.Schedule)
		every, err := a.Interval()
		if err != nil {
			return err
		}
		if every > 0 {
			schedule = cron.Every(every)
		}
		_, err = g.cron.EnsureJob("announcement:"+a.Name, schedule, cron.Payload{
			Directive: bus.Directive{
				Kind:      bus.DirectiveSendMessage,
				ChannelID: a.ChannelID,
				Message:   bus.OutboundMessage{Content: a.Message},
			},
		})
		if err != nil {
			return fmt.Errorf("announcement %s: %w", a.Name, err)
		}
	}
	return nil
}

// resolveTranscriptChannel falls back to a channel found by name when no
// transcript channel ID is configured.
func (g *Gateway) resolveTranscriptChannel(ctx context.Context) {
	if g.engines.Tickets == nil || g.engines.Tickets.TranscriptChannel() != "" {
		return
	}
	name := g.cfg.Channels.TranscriptChannelName
	if name == "" {
		return
	}
	var id string
	var found bool
	err := g.exec.Call(ctx, "find_channel", func(gw dispatch.Gateway) error {
		var err error
		id, found, err = gw.FindChannelByName(ctx, name)
		return err
	})
	if err != nil {
		log.Printf("[gateway] transcript channel lookup warning: %v", err)
		return
	}
	if !found {
		log.Printf("[gateway] no transcript channel named %q; transcripts are kept in the store only", name)
		return
	}
	g.engines.Tickets.SetTranscriptChannel(id)
	log.Printf("[gateway] transcript channel %s (#%s)", id, name)
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.platform.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", g.platform.Name(), err)
	}
	log.Printf("[gateway] %s started", g.platform.Name())

	g.resolveTranscriptChannel(ctx)

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureAnnouncements(); err != nil {
		log.Printf("[gateway] ensure announcements warning: %v", err)
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	g.stopLoop = stopLoop
	g.loopDone.Add(1)
	go func() {
		defer g.loopDone.Done()
		g.processLoop(loopCtx)
	}()

	log.Printf("[gateway] running (guild %s, store %s)", g.cfg.Discord.GuildID, g.cfg.Store.Backend)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// processLoop handles one event to completion before taking the next.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case ev := <-g.bus.Inbound:
			log.Printf("[gateway] %s in %s from %s: %s", ev.Kind, ev.ChannelID, ev.Author.ID, truncate(describe(ev), 80))
			// An event already taken runs to completion during shutdown.
			if err := g.dispatcher.Handle(context.WithoutCancel(ctx), ev); err != nil {
				log.Printf("[gateway] handle %s error: %v", ev.Kind, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func describe(ev bus.Event) string {
	switch {
	case ev.Command != nil:
		return "/" + ev.Command.Path()
	case ev.Emoji != "":
		return ev.Emoji + " on " + ev.MessageID
	}
	return strings.TrimSpace(ev.Content)
}

// Shutdown stops the scheduler, lets the event in progress finish, then
// disconnects and closes the store.
func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	if g.stopLoop != nil {
		g.stopLoop()
	}
	g.loopDone.Wait()
	if err := g.platform.Stop(); err != nil {
		log.Printf("[gateway] stop %s warning: %v", g.platform.Name(), err)
	}
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
