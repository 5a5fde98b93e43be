package channel

import (
	"context"

	"github.com/stellarlinkco/modclaw/internal/bus"
)

// Channel is a chat platform connection that feeds the message bus.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
}

// NewBaseChannel builds the shared part of a channel. allowFrom lists the
// guilds events are accepted from; empty accepts all.
func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allow := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		if id != "" {
			allow[id] = true
		}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allow}
}

func (b *BaseChannel) Name() string {
	return b.name
}

func (b *BaseChannel) IsAllowed(guildID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	return b.allowFrom[guildID]
}
