package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/permission"
	"github.com/stellarlinkco/modclaw/internal/render"
	"github.com/stellarlinkco/modclaw/internal/strike"
	"github.com/stellarlinkco/modclaw/internal/suggestion"
)

func (d *Dispatcher) onInteraction(ctx context.Context, ev bus.Event) error {
	if ev.Command == nil || ev.Interaction == nil {
		return fmt.Errorf("interaction %s without command: %w", ev.MessageID, apperr.ErrInvalidInput)
	}
	log.Printf("[dispatch] /%s from %s in %s", ev.Command.Path(), ev.Author.Name(), ev.ChannelID)

	reply, err := d.route(ctx, ev)
	if err != nil {
		log.Printf("[dispatch] /%s by %s failed: %v", ev.Command.Path(), ev.Author.Name(), err)
		reply = render.ErrorReply(err)
	}
	_, err = d.exec.Execute(ctx, bus.Directive{
		Kind:        bus.DirectiveReply,
		Interaction: ev.Interaction,
		Message:     reply,
	})
	return err
}

func (d *Dispatcher) route(ctx context.Context, ev bus.Event) (bus.OutboundMessage, error) {
	switch ev.Command.Name {
	case bus.CmdStrike:
		return d.strikeCommand(ctx, ev)
	case bus.CmdAccept:
		return d.acceptApplication(ctx, ev)
	case bus.CmdDeny:
		return d.denyApplication(ctx, ev)
	case bus.CmdSuggest:
		return d.suggestCommand(ctx, ev)
	case bus.CmdTicket:
		return d.ticketCommand(ctx, ev)
	case bus.CmdTest:
		return d.testCommand(ctx, ev)
	}
	return render.Ephemeral(render.UnknownCommand), nil
}

func (d *Dispatcher) authorize(m bus.Member, action permission.Action) error {
	if !d.allowed(m, action) {
		return fmt.Errorf("%s may not %s: %w", m.ID, action, apperr.ErrUnauthorized)
	}
	return nil
}

func required(cmd *bus.Command, name string) (string, error) {
	v := cmd.Option(name)
	if v == "" {
		return "", fmt.Errorf("missing option %s: %w", name, apperr.ErrInvalidInput)
	}
	return v, nil
}

func public(e *bus.Embed) bus.OutboundMessage {
	return bus.OutboundMessage{Embed: e}
}

func (d *Dispatcher) strikeCommand(ctx context.Context, ev bus.Event) (bus.OutboundMessage, error) {
	if err := d.authorize(ev.Author, permission.StrikeManage); err != nil {
		return bus.OutboundMessage{}, err
	}
	cmd := ev.Command
	action := cmd.Subcommand
	if action == "" {
		action = cmd.Option(bus.OptAction)
	}
	userID, err := required(cmd, bus.OptUser)
	if err != nil {
		return bus.OutboundMessage{}, err
	}

	switch action {
	case bus.SubStrikeAdd:
		tipo, err := required(cmd, bus.OptSeverity)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		sev, err := strike.ParseSeverity(tipo)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		reason, err := required(cmd, bus.OptReason)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		res, err := d.eng.Strikes.Add(userID, sev, strike.Issuer{ID: ev.Author.ID, Name: ev.Author.Name()}, reason)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		log.Printf("[dispatch] strike %s added to %s by %s (count %d)", sev, userID, ev.Author.Name(), res.Count)
		if res.Escalated {
			log.Printf("[dispatch] %s reached the %s limit", userID, sev)
		}
		// The strike is recorded even if escalation fails; the failure is
		// still reported to the issuer.
		if err := d.exec.ExecuteAll(ctx, res.Directives); err != nil {
			return bus.OutboundMessage{}, fmt.Errorf("escalate %s: %w", userID, err)
		}
		return public(render.StrikeAdded(userID, ev.Author.ID, res)), nil

	case bus.SubStrikeCheck:
		snap, err := d.eng.Strikes.Check(userID)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		return public(render.StrikeCheck(userID, snap)), nil

	case bus.SubStrikeRemove:
		var sev strike.Severity
		if tipo := cmd.Option(bus.OptSeverity); tipo != "" {
			if sev, err = strike.ParseSeverity(tipo); err != nil {
				return bus.OutboundMessage{}, err
			}
		}
		res, err := d.eng.Strikes.Remove(userID, sev)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		log.Printf("[dispatch] strike removed from %s by %s", userID, ev.Author.Name())
		return public(render.StrikeRemoved(userID, ev.Author.ID, res)), nil
	}
	return bus.OutboundMessage{}, fmt.Errorf("strike action %q: %w", action, apperr.ErrInvalidInput)
}

func (d *Dispatcher) acceptApplication(ctx context.Context, ev bus.Event) (bus.OutboundMessage, error) {
	if err := d.authorize(ev.Author, permission.ApplicationReview); err != nil {
		return bus.OutboundMessage{}, err
	}
	userID, err := required(ev.Command, bus.OptUser)
	if err != nil {
		return bus.OutboundMessage{}, err
	}
	roleID, err := required(ev.Command, bus.OptRole)
	if err != nil {
		return bus.OutboundMessage{}, err
	}
	if _, err := d.exec.Execute(ctx, bus.Directive{Kind: bus.DirectiveAssignRole, UserID: userID, RoleID: roleID}); err != nil {
		return bus.OutboundMessage{}, err
	}
	log.Printf("[dispatch] application accepted: %s got role %s from %s", userID, roleID, ev.Author.Name())
	return public(render.ApplicationAccepted(userID, roleID, ev.Author.ID)), nil
}

// denyApplication notifies the member privately, then bans. A closed DM
// channel does not stop the ban.
func (d *Dispatcher) denyApplication(ctx context.Context, ev bus.Event) (bus.OutboundMessage, error) {
	if err := d.authorize(ev.Author, permission.ApplicationReview); err != nil {
		return bus.OutboundMessage{}, err
	}
	userID, err := required(ev.Command, bus.OptUser)
	if err != nil {
		return bus.OutboundMessage{}, err
	}

	dmSent := true
	if _, err := d.exec.Execute(ctx, bus.Directive{
		Kind:    bus.DirectiveDirectMessage,
		UserID:  userID,
		Message: bus.OutboundMessage{Embed: render.ApplicationDeniedDM(userID)},
	}); err != nil {
		dmSent = false
		log.Printf("[dispatch] could not DM %s before ban: %v", userID, err)
	}

	if _, err := d.exec.Execute(ctx, bus.Directive{
		Kind:   bus.DirectiveBan,
		UserID: userID,
		Reason: fmt.Sprintf("Solicitud denegada por %s", ev.Author.Name()),
	}); err != nil {
		return bus.OutboundMessage{}, err
	}
	log.Printf("[dispatch] application denied: %s banned by %s", userID, ev.Author.Name())
	return public(render.ApplicationDenied(userID, ev.Author.ID, dmSent)), nil
}

func (d *Dispatcher) suggestCommand(ctx context.Context, ev bus.Event) (bus.OutboundMessage, error) {
	switch ev.Command.Subcommand {
	case bus.SubSuggestCreate:
		return d.createSuggestion(ctx, ev)
	case bus.SubSuggestAccept, bus.SubSuggestDeny:
		return d.reviewSuggestion(ctx, ev)
	}
	return render.Ephemeral(render.UnknownCommand), nil
}

func (d *Dispatcher) createSuggestion(ctx context.Context, ev bus.Event) (bus.OutboundMessage, error) {
	text, err := required(ev.Command, bus.OptSuggestion)
	if err != nil {
		return bus.OutboundMessage{}, err
	}
	res, err := d.eng.Suggestions.Create(suggestion.Author{
		ID:        ev.Author.ID,
		Name:      ev.Author.Name(),
		AvatarURL: ev.Author.AvatarURL,
	}, text, ev.ChannelID)
	if err != nil {
		return bus.OutboundMessage{}, err
	}

	delivery, err := d.exec.Execute(ctx, res.Post)
	if err != nil {
		d.discardSuggestion(res.Suggestion.ID)
		return bus.OutboundMessage{}, err
	}
	if err := d.eng.Suggestions.AttachMessage(res.Suggestion.ID, delivery.ChannelID, delivery.MessageID); err != nil {
		// Nobody should vote on a post the engine does not know about.
		if _, derr := d.exec.Execute(ctx, bus.Directive{
			Kind:      bus.DirectiveDeleteMessage,
			ChannelID: delivery.ChannelID,
			MessageID: delivery.MessageID,
		}); derr != nil {
			log.Printf("[dispatch] remove unrecorded suggestion post %s: %v", delivery.MessageID, derr)
		}
		d.discardSuggestion(res.Suggestion.ID)
		return bus.OutboundMessage{}, err
	}
	reminders, err := d.eng.Suggestions.CountCreation(ev.ChannelID)
	if err != nil {
		log.Printf("[dispatch] suggestion %s: %v", res.Suggestion.ID, err)
	}
	if err := d.exec.ExecuteAll(ctx, reminders); err != nil {
		log.Printf("[dispatch] suggestion reminder: %v", err)
	}
	log.Printf("[dispatch] suggestion %s created by %s", res.Suggestion.ID, ev.Author.Name())
	return render.Ephemeral(render.SuggestionSubmitted), nil
}

func (d *Dispatcher) reviewSuggestion(ctx context.Context, ev bus.Event) (bus.OutboundMessage, error) {
	if err := d.authorize(ev.Author, permission.SuggestionModerate); err != nil {
		return bus.OutboundMessage{}, err
	}
	ref, err := required(ev.Command, bus.OptMessageID)
	if err != nil {
		return bus.OutboundMessage{}, err
	}
	s, err := d.eng.Suggestions.Get(ref)
	if err != nil {
		return bus.OutboundMessage{}, err
	}

	// The live reactions are the final tally; the recorded votes are used
	// only when the message can no longer be read.
	var tally *suggestion.Votes
	if s.MessageID != "" && s.Status == suggestion.StatusPending {
		var counts map[string]int
		err := d.exec.Call(ctx, "count_reactions", func(gw Gateway) error {
			var err error
			counts, err = gw.CountReactions(ctx, s.ChannelID, s.MessageID)
			return err
		})
		if err != nil {
			log.Printf("[dispatch] reactions for suggestion %s unavailable, using recorded votes: %v", s.ID, err)
		} else {
			tally = &suggestion.Votes{Up: counts[suggestion.UpvoteEmoji], Down: counts[suggestion.DownvoteEmoji]}
		}
	}

	accept := ev.Command.Subcommand == bus.SubSuggestAccept
	var res suggestion.ReviewResult
	if accept {
		res, err = d.eng.Suggestions.Accept(s.ID, ev.Author.ID, tally)
	} else {
		res, err = d.eng.Suggestions.Deny(s.ID, ev.Author.ID, tally)
	}
	if err != nil {
		return bus.OutboundMessage{}, err
	}
	log.Printf("[dispatch] suggestion %s %s by %s", s.ID, res.Suggestion.Status, ev.Author.Name())
	if err := d.exec.ExecuteAll(ctx, res.Directives); err != nil {
		return bus.OutboundMessage{}, err
	}
	if accept {
		return render.Ephemeral(render.SuggestionAccepted), nil
	}
	return render.Ephemeral(render.SuggestionDenied), nil
}

func (d *Dispatcher) ticketCommand(ctx context.Context, ev bus.Event) (bus.OutboundMessage, error) {
	actor := actorOf(ev.Author)
	switch ev.Command.Subcommand {
	case bus.SubTicketCreate:
		created, err := d.eng.Tickets.Create(actor, ev.Command.Option(bus.OptReason))
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		delivery, err := d.exec.Execute(ctx, created.Channel)
		if err != nil {
			d.abortTicket(ctx, created.Ticket.ID, "")
			return bus.OutboundMessage{}, fmt.Errorf("ticket %s channel: %w", created.Ticket.ID, err)
		}
		bound, err := d.eng.Tickets.BindChannel(created.Ticket.ID, delivery.ChannelID)
		if err != nil {
			d.abortTicket(ctx, created.Ticket.ID, delivery.ChannelID)
			return bus.OutboundMessage{}, err
		}
		if err := d.exec.ExecuteAll(ctx, bound.Directives); err != nil {
			log.Printf("[dispatch] ticket %s welcome: %v", bound.Ticket.ID, err)
		}
		log.Printf("[dispatch] ticket #%s created by %s in %s", bound.Ticket.ID, ev.Author.Name(), delivery.ChannelID)
		return render.Ephemeral(render.TicketCreated(bound.Ticket)), nil

	case bus.SubTicketClose:
		if err := d.authorize(ev.Author, permission.TicketManage); err != nil {
			return bus.OutboundMessage{}, err
		}
		t, found, err := d.eng.Tickets.ByChannel(ev.ChannelID)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		if !found {
			return render.Ephemeral(render.NotATicketChannel), nil
		}
		res, err := d.eng.Tickets.Close(ctx, t.ID, actor)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		log.Printf("[dispatch] ticket #%s closed by %s (%d transcript lines)", t.ID, ev.Author.Name(), len(res.Ticket.Transcript.Lines))
		if err := d.exec.ExecuteAll(ctx, res.Directives); err != nil {
			return bus.OutboundMessage{}, err
		}
		return render.Ephemeral(render.TicketClosing), nil

	case bus.SubTicketAdd:
		if err := d.authorize(ev.Author, permission.TicketManage); err != nil {
			return bus.OutboundMessage{}, err
		}
		userID, err := required(ev.Command, bus.OptUser)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		t, found, err := d.eng.Tickets.ByChannel(ev.ChannelID)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		if !found {
			return render.Ephemeral(render.NotATicketChannel), nil
		}
		res, err := d.eng.Tickets.AddParticipant(t.ID, actor, userID)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		if err := d.exec.ExecuteAll(ctx, res.Directives); err != nil {
			return bus.OutboundMessage{}, err
		}
		log.Printf("[dispatch] %s added to ticket #%s by %s", userID, t.ID, ev.Author.Name())
		return public(render.TicketParticipantAdded(userID, ev.Author.ID)), nil
	}
	return render.Ephemeral(render.UnknownCommand), nil
}

func (d *Dispatcher) discardSuggestion(id string) {
	if err := d.eng.Suggestions.Discard(id); err != nil {
		log.Printf("[dispatch] discard unposted suggestion %s: %v", id, err)
	}
}

// abortTicket retires a ticket whose channel setup failed and removes the
// channel if one was created.
func (d *Dispatcher) abortTicket(ctx context.Context, id, channelID string) {
	if _, err := d.eng.Tickets.Abort(id); err != nil {
		log.Printf("[dispatch] abort ticket %s: %v", id, err)
	} else {
		log.Printf("[dispatch] ticket #%s aborted", id)
	}
	if channelID == "" {
		return
	}
	if _, err := d.exec.Execute(ctx, bus.Directive{
		Kind:      bus.DirectiveDeleteChannel,
		ChannelID: channelID,
		Reason:    fmt.Sprintf("Ticket #%s no se pudo registrar", id),
	}); err != nil {
		log.Printf("[dispatch] remove channel %s of aborted ticket %s: %v", channelID, id, err)
	}
}

func (d *Dispatcher) testCommand(ctx context.Context, ev bus.Event) (bus.OutboundMessage, error) {
	var text, confirm string
	switch ev.Command.Subcommand {
	case bus.SubTestWelcome:
		text, confirm = d.opts.WelcomeMessage, render.WelcomeTestSent
	case bus.SubTestGoodbye:
		text, confirm = d.opts.GoodbyeMessage, render.GoodbyeTestSent
	default:
		return render.Ephemeral(render.UnknownCommand), nil
	}
	if d.opts.WelcomeChannel == "" {
		return render.Ephemeral(render.NoWelcomeChannel), nil
	}
	if err := d.greet(ctx, ev.Author, text); err != nil {
		return bus.OutboundMessage{}, err
	}
	return render.Ephemeral(confirm), nil
}
