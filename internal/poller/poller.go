package poller

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// CartInvalidator is the slice of the coordinator the bridge needs.
type CartInvalidator interface {
	InvalidateExternal(ctx context.Context, ownerID string)
}

// messageReader abstracts *kafka.Reader so the loop is testable without
// a broker.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// cartEvent is the advisory payload on the cart-events topic. Only the
// owner matters; the body is never applied as cart state.
type cartEvent struct {
	OwnerID string `json:"owner_id"`
	Event   string `json:"event"`
}

const originHeader = "origin"

// Poller consumes cart-changed events published by peer sessions and
// turns each one into a cache invalidation hint. Events originated by
// this instance are skipped; the local coordinator already holds the
// freshest state for its own writes.
type Poller struct {
	svc        CartInvalidator
	reader     messageReader
	instanceID string
	log        *zap.Logger
}

func NewPoller(svc CartInvalidator, instanceID string, log *zap.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "cart-events",
		GroupID:  "cartsync-" + instanceID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{svc: svc, reader: reader, instanceID: instanceID, log: log}
}

// newPollerWithReader is the test seam.
func newPollerWithReader(svc CartInvalidator, reader messageReader, instanceID string, log *zap.Logger) *Poller {
	return &Poller{svc: svc, reader: reader, instanceID: instanceID, log: log}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.consumeOne(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Error("error closing reader", zap.Error(err))
	}
}

func (p *Poller) consumeOne(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.Error("error reading message", zap.Error(err))
		}
		return
	}

	for _, h := range m.Headers {
		if h.Key == originHeader && string(h.Value) == p.instanceID {
			return
		}
	}

	var event cartEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		p.log.Error("error parsing message", zap.Error(err))
		return
	}
	if event.OwnerID == "" {
		p.log.Warn("missing or invalid owner_id in cart event")
		return
	}

	p.svc.InvalidateExternal(ctx, event.OwnerID)
}
