package bus

import "context"

// MessageBus carries inbound events from the platform adapter to the single
// processing loop. Publish never blocks past ctx cancellation.
type MessageBus struct {
	Inbound chan Event
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound: make(chan Event, bufSize),
	}
}

func (b *MessageBus) Publish(ctx context.Context, ev Event) bool {
	select {
	case b.Inbound <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
