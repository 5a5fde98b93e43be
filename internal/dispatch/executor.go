package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/cron"
)

// Gateway is the chat platform as the dispatcher drives it. Implementations
// translate each call into one platform request.
type Gateway interface {
	SendMessage(ctx context.Context, channelID string, msg bus.OutboundMessage) (bus.Delivery, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg bus.OutboundMessage) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	Respond(ctx context.Context, in *bus.Interaction, msg bus.OutboundMessage) error
	SendDirectMessage(ctx context.Context, userID string, msg bus.OutboundMessage) error
	CreateChannel(ctx context.Context, spec bus.ChannelSpec) (bus.Delivery, error)
	SetChannelPermissions(ctx context.Context, channelID string, overrides []bus.PermissionOverride) error
	DeleteChannel(ctx context.Context, channelID, reason string) error
	BanUser(ctx context.Context, userID, reason string) error
	AssignRole(ctx context.Context, userID, roleID string) error
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	// CountReactions returns reaction counts per emoji, not counting the
	// bot's own reactions.
	CountReactions(ctx context.Context, channelID, messageID string) (map[string]int, error)
	FetchMessageHistory(ctx context.Context, channelID string) ([]bus.HistoryMessage, error)
	FindChannelByName(ctx context.Context, name string) (string, bool, error)
}

// Scheduler runs a directive later. *cron.Service implements it.
type Scheduler interface {
	ScheduleDirective(d bus.Directive) (*cron.CronJob, error)
}

const defaultRetryDelay = 500 * time.Millisecond

// Executor turns directives into gateway calls. Every call is retried once;
// a directive with a Delay is handed to the scheduler instead.
type Executor struct {
	gw         Gateway
	sched      Scheduler
	retryDelay time.Duration
}

func NewExecutor(gw Gateway, sched Scheduler) *Executor {
	return &Executor{gw: gw, sched: sched, retryDelay: defaultRetryDelay}
}

// SetRetryDelay changes the pause before the single retry.
func (x *Executor) SetRetryDelay(d time.Duration) {
	x.retryDelay = d
}

func (x *Executor) Execute(ctx context.Context, d bus.Directive) (bus.Delivery, error) {
	if d.Delay > 0 && x.sched != nil {
		job, err := x.sched.ScheduleDirective(d)
		if err != nil {
			return bus.Delivery{}, fmt.Errorf("schedule %s: %w", d.Kind, err)
		}
		log.Printf("[dispatch] scheduled %s on %s in %s (job %s)", d.Kind, d.ChannelID, d.Delay, job.ID)
		return bus.Delivery{}, nil
	}

	var delivery bus.Delivery
	err := x.retry(ctx, string(d.Kind), func() error {
		var err error
		delivery, err = x.do(ctx, d)
		return err
	})
	if err != nil {
		return bus.Delivery{}, err
	}

	// Reactions follow a delivered message. They are retried on their own so
	// a failed reaction never re-sends the message.
	if d.Kind == bus.DirectiveSendMessage && delivery.MessageID != "" {
		for _, emoji := range d.Reactions {
			if err := x.react(ctx, delivery.ChannelID, delivery.MessageID, emoji); err != nil {
				log.Printf("[dispatch] reaction %s on %s: %v", emoji, delivery.MessageID, err)
			}
		}
	}
	return delivery, nil
}

// ExecuteAll runs directives in order and stops at the first failure.
func (x *Executor) ExecuteAll(ctx context.Context, ds []bus.Directive) error {
	for _, d := range ds {
		if _, err := x.Execute(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (x *Executor) react(ctx context.Context, channelID, messageID, emoji string) error {
	return x.retry(ctx, "add_reaction", func() error {
		return x.gw.AddReaction(ctx, channelID, messageID, emoji)
	})
}

// Call runs a gateway request that is not a directive under the same retry
// rule.
func (x *Executor) Call(ctx context.Context, name string, fn func(Gateway) error) error {
	return x.retry(ctx, name, func() error { return fn(x.gw) })
}

func (x *Executor) retry(ctx context.Context, name string, fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, apperr.ErrInvalidInput) {
		return err
	}
	log.Printf("[dispatch] %s failed, retrying: %v", name, err)

	if x.retryDelay > 0 {
		t := time.NewTimer(x.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w: %w", name, apperr.ErrGatewayUnavailable, ctx.Err())
		case <-t.C:
		}
	}

	if err = fn(); err != nil {
		log.Printf("[dispatch] %s failed after retry: %v", name, err)
		return fmt.Errorf("%s: %w: %w", name, apperr.ErrGatewayUnavailable, err)
	}
	return nil
}

func (x *Executor) do(ctx context.Context, d bus.Directive) (bus.Delivery, error) {
	switch d.Kind {
	case bus.DirectiveReply:
		if d.Interaction == nil {
			return bus.Delivery{}, fmt.Errorf("reply without interaction: %w", apperr.ErrInvalidInput)
		}
		return bus.Delivery{}, x.gw.Respond(ctx, d.Interaction, d.Message)
	case bus.DirectiveSendMessage:
		return x.gw.SendMessage(ctx, d.ChannelID, d.Message)
	case bus.DirectiveEditMessage:
		return bus.Delivery{ChannelID: d.ChannelID, MessageID: d.MessageID}, x.gw.EditMessage(ctx, d.ChannelID, d.MessageID, d.Message)
	case bus.DirectiveDeleteMessage:
		return bus.Delivery{}, x.gw.DeleteMessage(ctx, d.ChannelID, d.MessageID)
	case bus.DirectiveDirectMessage:
		return bus.Delivery{}, x.gw.SendDirectMessage(ctx, d.UserID, d.Message)
	case bus.DirectiveCreateChannel:
		if d.Channel == nil {
			return bus.Delivery{}, fmt.Errorf("create_channel without spec: %w", apperr.ErrInvalidInput)
		}
		return x.gw.CreateChannel(ctx, *d.Channel)
	case bus.DirectiveSetPermissions:
		return bus.Delivery{}, x.gw.SetChannelPermissions(ctx, d.ChannelID, d.Overrides)
	case bus.DirectiveDeleteChannel:
		return bus.Delivery{}, x.gw.DeleteChannel(ctx, d.ChannelID, d.Reason)
	case bus.DirectiveBan:
		return bus.Delivery{}, x.gw.BanUser(ctx, d.UserID, d.Reason)
	case bus.DirectiveAssignRole:
		return bus.Delivery{}, x.gw.AssignRole(ctx, d.UserID, d.RoleID)
	}
	return bus.Delivery{}, fmt.Errorf("directive kind %q: %w", d.Kind, apperr.ErrInvalidInput)
}
