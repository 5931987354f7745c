package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

// MessageBus connects channels and the pipeline. Publishing blocks while a
// buffer is full; Close releases blocked publishers and drops later messages.
type MessageBus struct {
	inbound   chan InboundMessage
	outbound  chan OutboundMessage
	done      chan struct{}
	closeOnce sync.Once
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultBufferSize),
		outbound: make(chan OutboundMessage, defaultBufferSize),
		done:     make(chan struct{}),
	}
}

// PublishInbound reports whether msg was queued.
func (mb *MessageBus) PublishInbound(msg InboundMessage) bool {
	select {
	case <-mb.done:
		return false
	default:
	}
	select {
	case mb.inbound <- msg:
		return true
	case <-mb.done:
		return false
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-mb.done:
		return InboundMessage{}, false
	}
}

// PublishOutbound reports whether msg was queued.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	select {
	case <-mb.done:
		return false
	default:
	}
	select {
	case mb.outbound <- msg:
		return true
	case <-mb.done:
		return false
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	case <-mb.done:
		return OutboundMessage{}, false
	}
}

// Close is idempotent. The data channels stay open so a racing publisher
// never panics.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() { close(mb.done) })
}
