// Package dispatch classifies inbound events, applies channel restriction
// and permission policy, routes to the engines and executes the directives
// they return.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/counter"
	"github.com/stellarlinkco/modclaw/internal/permission"
	"github.com/stellarlinkco/modclaw/internal/render"
	"github.com/stellarlinkco/modclaw/internal/strike"
	"github.com/stellarlinkco/modclaw/internal/suggestion"
	"github.com/stellarlinkco/modclaw/internal/templates"
	"github.com/stellarlinkco/modclaw/internal/ticket"
)

// Engines are the state owners the dispatcher routes to.
type Engines struct {
	SuggestionCounter *counter.Engine
	HelpCounter       *counter.Engine
	Strikes           *strike.Engine
	Suggestions       *suggestion.Engine
	Tickets           *ticket.Engine
}

type Options struct {
	SuggestionsChannel string
	WelcomeChannel     string
	ServerName         string
	WelcomeMessage     string
	GoodbyeMessage     string
	// WarningTTL is how long restriction warnings stay visible.
	WarningTTL time.Duration
	Policy     *permission.Policy
}

type Dispatcher struct {
	eng  Engines
	opts Options
	exec *Executor
}

func New(exec *Executor, eng Engines, opts Options) *Dispatcher {
	if opts.Policy == nil {
		opts.Policy = permission.NewPolicy(nil)
	}
	return &Dispatcher{eng: eng, opts: opts, exec: exec}
}

// Handle processes one event to completion. Failures already reported to
// the acting member are logged and not returned.
func (d *Dispatcher) Handle(ctx context.Context, ev bus.Event) error {
	switch ev.Kind {
	case bus.EventMessage:
		return d.onMessage(ctx, ev)
	case bus.EventInteraction:
		return d.onInteraction(ctx, ev)
	case bus.EventReactionAdd:
		return d.onReaction(ev, 1)
	case bus.EventReactionRemove:
		return d.onReaction(ev, -1)
	case bus.EventMemberJoin:
		return d.greet(ctx, ev.Author, d.opts.WelcomeMessage)
	case bus.EventMemberLeave:
		return d.greet(ctx, ev.Author, d.opts.GoodbyeMessage)
	}
	log.Printf("[dispatch] ignoring event kind %q", ev.Kind)
	return nil
}

func actorOf(m bus.Member) ticket.Actor {
	return ticket.Actor{ID: m.ID, Name: m.Name(), Roles: m.Roles()}
}

func (d *Dispatcher) allowed(m bus.Member, action permission.Action) bool {
	return d.opts.Policy.IsAuthorized(m.Roles(), action)
}

func (d *Dispatcher) onMessage(ctx context.Context, ev bus.Event) error {
	if ev.Author.Bot {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(ev.Content)) {
	case "test bienvenida", "/test bienvenida":
		return d.testGreeting(ctx, ev, d.opts.WelcomeMessage, render.WelcomeTestSent)
	case "test despedida", "/test despedida":
		return d.testGreeting(ctx, ev, d.opts.GoodbyeMessage, render.GoodbyeTestSent)
	}

	isCommand := strings.HasPrefix(ev.Content, "/")

	if d.opts.SuggestionsChannel != "" && ev.ChannelID == d.opts.SuggestionsChannel {
		if !isCommand && !d.allowed(ev.Author, permission.RestrictedPost) {
			log.Printf("[dispatch] removing text from %s in suggestions channel", ev.Author.Name())
			return d.reject(ctx, ev, render.SuggestionsChannelWarning(ev.Author.ID))
		}
		return d.count(ctx, d.eng.SuggestionCounter, ev.ChannelID)
	}

	if d.eng.Tickets != nil {
		isTicket, ok, err := d.eng.Tickets.CanPost(ev.ChannelID, actorOf(ev.Author))
		if err != nil {
			return fmt.Errorf("ticket policy for %s: %w", ev.ChannelID, err)
		}
		if isTicket {
			if !ok {
				log.Printf("[dispatch] removing message from %s in ticket channel %s", ev.Author.Name(), ev.ChannelID)
				return d.reject(ctx, ev, render.TicketChannelWarning(ev.Author.ID))
			}
			return nil
		}
	}

	if isCommand {
		return nil
	}
	return d.count(ctx, d.eng.HelpCounter, ev.ChannelID)
}

func (d *Dispatcher) count(ctx context.Context, c *counter.Engine, channelID string) error {
	if c == nil {
		return nil
	}
	res, err := c.OnMessage(channelID)
	if err != nil {
		return fmt.Errorf("count message in %s: %w", channelID, err)
	}
	if res.Fired {
		log.Printf("[dispatch] %s reminder fired in %s", c.Namespace(), channelID)
	}
	return d.exec.ExecuteAll(ctx, res.Directives)
}

// reject deletes the offending message and posts a warning that removes
// itself after WarningTTL.
func (d *Dispatcher) reject(ctx context.Context, ev bus.Event, warning *bus.Embed) error {
	if _, err := d.exec.Execute(ctx, bus.Directive{
		Kind:      bus.DirectiveDeleteMessage,
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
	}); err != nil {
		return err
	}
	delivery, err := d.exec.Execute(ctx, bus.Directive{
		Kind:      bus.DirectiveSendMessage,
		ChannelID: ev.ChannelID,
		Message:   bus.OutboundMessage{Embed: warning},
	})
	if err != nil {
		return err
	}
	if delivery.MessageID == "" || d.opts.WarningTTL <= 0 {
		return nil
	}
	_, err = d.exec.Execute(ctx, bus.Directive{
		Kind:      bus.DirectiveDeleteMessage,
		ChannelID: ev.ChannelID,
		MessageID: delivery.MessageID,
		Delay:     d.opts.WarningTTL,
	})
	return err
}

func (d *Dispatcher) greeting(text string, m bus.Member) string {
	return templates.Expand(text, m.Mention(), m.Name(), d.opts.ServerName)
}

func (d *Dispatcher) greet(ctx context.Context, m bus.Member, text string) error {
	if d.opts.WelcomeChannel == "" {
		log.Printf("[dispatch] no welcome channel configured, skipping greeting for %s", m.Name())
		return nil
	}
	_, err := d.exec.Execute(ctx, bus.Directive{
		Kind:      bus.DirectiveSendMessage,
		ChannelID: d.opts.WelcomeChannel,
		Message:   bus.OutboundMessage{Content: d.greeting(text, m)},
	})
	return err
}

func (d *Dispatcher) testGreeting(ctx context.Context, ev bus.Event, text, confirm string) error {
	if d.opts.WelcomeChannel == "" {
		log.Printf("[dispatch] greeting test from %s ignored: no welcome channel", ev.Author.Name())
		return nil
	}
	if err := d.greet(ctx, ev.Author, text); err != nil {
		return err
	}
	_, err := d.exec.Execute(ctx, bus.Directive{
		Kind:      bus.DirectiveSendMessage,
		ChannelID: ev.ChannelID,
		Message:   bus.OutboundMessage{Content: confirm},
	})
	return err
}

func (d *Dispatcher) onReaction(ev bus.Event, delta int) error {
	if ev.Author.Bot || d.eng.Suggestions == nil {
		return nil
	}
	changed, err := d.eng.Suggestions.RecordVote(ev.MessageID, ev.Emoji, delta)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record vote on %s: %w", ev.MessageID, err)
	}
	if changed {
		log.Printf("[dispatch] vote %s %+d on %s", ev.Emoji, delta, ev.MessageID)
	}
	return nil
}
