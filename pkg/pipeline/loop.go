// BiliLink - Bilibili link preview bot for OneBot chats
// Built on PicoClaw: https://github.com/sipeed/picoclaw
// License: MIT
//
// Copyright (c) 2026 BiliLink contributors

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zhufengning/bililink/pkg/bilibili"
	"github.com/zhufengning/bililink/pkg/bus"
	"github.com/zhufengning/bililink/pkg/dedup"
	"github.com/zhufengning/bililink/pkg/extract"
	"github.com/zhufengning/bililink/pkg/gate"
	"github.com/zhufengning/bililink/pkg/logger"
	"github.com/zhufengning/bililink/pkg/present"
	"github.com/zhufengning/bililink/pkg/utils"
)

// MetadataCard and MetadataMessageID are the inbound metadata keys channels
// use to pass a leading share card and the platform message id.
const (
	MetadataCard      = "card"
	MetadataMessageID = "message_id"
)

// ErrGate marks failures of the feature gate lookup, as opposed to
// resolution failures.
var ErrGate = errors.New("gate check failed")

type Options struct {
	Present    present.Options
	QuoteReply bool
	// Now is the clock used for dedup decisions; nil means time.Now.
	Now func() time.Time
}

type Loop struct {
	bus      *bus.MessageBus
	gate     gate.Gate
	resolver bilibili.Resolver
	ledger   *dedup.Ledger
	opts     Options
	now      func() time.Time
	inflight singleflight.Group
	wg       sync.WaitGroup
}

func NewLoop(msgBus *bus.MessageBus, g gate.Gate, resolver bilibili.Resolver, ledger *dedup.Ledger, opts Options) *Loop {
	if g == nil {
		g = gate.Static(true)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Loop{
		bus:      msgBus,
		gate:     g,
		resolver: resolver,
		ledger:   ledger,
		opts:     opts,
		now:      now,
	}
}

// Run consumes inbound messages until ctx is cancelled, handling each one in
// its own goroutine. It waits for in-flight messages before returning.
func (l *Loop) Run(ctx context.Context) error {
	defer l.wg.Wait()

	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}

		l.wg.Add(1)
		go func(msg bus.InboundMessage) {
			defer l.wg.Done()
			if _, err := l.Process(ctx, msg); err != nil {
				logProcessError(msg, err)
			}
		}(msg)
	}
}

// Process runs one message through the gate, extraction, resolution and
// dedup, publishing at most one outbound message. It reports whether a
// message was published.
func (l *Loop) Process(ctx context.Context, msg bus.InboundMessage) (bool, error) {
	allowed, err := l.gate.Allowed(ctx, msg.ChatID)
	if err != nil {
		return false, fmt.Errorf("%w for %s: %w", ErrGate, msg.ChatID, err)
	}
	if !allowed {
		return false, nil
	}

	candidate, ok := extract.Extract(MessageFrom(msg))
	if !ok {
		return false, nil
	}
	canonical := extract.Normalize(candidate)

	logger.DebugCF("pipeline", "Reference found", map[string]interface{}{
		"chat_id":   msg.ChatID,
		"kind":      candidate.Kind.String(),
		"canonical": canonical,
	})

	rec, err := l.resolve(ctx, canonical)
	if err != nil {
		return false, err
	}

	key := rec.DedupKey()
	if !l.ledger.ShouldEmit(key, l.now()) {
		logger.DebugCF("pipeline", "Duplicate suppressed", map[string]interface{}{
			"chat_id": msg.ChatID,
			"key":     key,
		})
		return false, nil
	}

	emission := present.Render(rec, l.opts.Present)
	out := bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: emission.String(),
		Parts:   emission.Parts,
	}
	if l.opts.QuoteReply {
		out.ReplyTo = msg.Metadata[MetadataMessageID]
	}
	if !l.bus.PublishOutbound(out) {
		return false, nil
	}

	logger.InfoCF("pipeline", fmt.Sprintf("Parsed bilibili share %s", key), map[string]interface{}{
		"channel": msg.Channel,
		"chat_id": msg.ChatID,
		"kind":    rec.Kind.String(),
		"key":     key,
	})
	return true, nil
}

func (l *Loop) resolve(ctx context.Context, canonical string) (bilibili.Record, error) {
	v, err, shared := l.inflight.Do(canonical, func() (interface{}, error) {
		return bilibili.Dispatch(ctx, l.resolver, canonical)
	})
	if shared {
		logger.DebugCF("pipeline", "Resolution shared", map[string]interface{}{"canonical": canonical})
	}
	if err != nil {
		return bilibili.Record{}, err
	}
	return v.(bilibili.Record), nil
}

// MessageFrom builds the extractor input from an inbound bus message.
func MessageFrom(msg bus.InboundMessage) extract.Message {
	m := extract.Message{Text: msg.Content}
	if card := msg.Metadata[MetadataCard]; card != "" {
		m.Card = []byte(card)
	}
	return m
}

func logProcessError(msg bus.InboundMessage, err error) {
	fields := map[string]interface{}{
		"channel": msg.Channel,
		"chat_id": msg.ChatID,
		"content": utils.Truncate(msg.Content, 80),
		"error":   err.Error(),
	}
	switch {
	case errors.Is(err, ErrGate):
		logger.ErrorCF("pipeline", "Gate check failed", fields)
	case errors.Is(err, bilibili.ErrUnresolved), errors.Is(err, bilibili.ErrUnsupportedURL):
		logger.DebugCF("pipeline", "Reference not resolvable", fields)
	default:
		logger.WarnCF("pipeline", "Failed to resolve reference", fields)
	}
}
