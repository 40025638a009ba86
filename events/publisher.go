package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/natsclient"
)

// Publisher emits domain events over NATS. A nil NATS client turns every
// publish into a no-op, which keeps pure-logic tests free of transport.
// Taps receive every event in-process regardless of transport.
type Publisher struct {
	natsClient *natsclient.Client
	logger     *slog.Logger

	mu   sync.RWMutex
	taps []func(Event)
}

// NewPublisher creates an event publisher.
func NewPublisher(natsClient *natsclient.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{natsClient: natsClient, logger: logger}
}

// Tap registers an in-process receiver for every emitted event. Taps must
// not block; slow consumers buffer on their own side.
func (p *Publisher) Tap(fn func(Event)) {
	p.mu.Lock()
	p.taps = append(p.taps, fn)
	p.mu.Unlock()
}

// Emit publishes an event on its kind subject. Publish failures are logged,
// not returned: event emission is best-effort and never blocks a mutation
// that already persisted.
func (p *Publisher) Emit(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	p.mu.RLock()
	taps := p.taps
	p.mu.RUnlock()
	for _, fn := range taps {
		fn(ev)
	}

	if p.natsClient == nil {
		return
	}
	data, err := json.Marshal(&ev)
	if err != nil {
		p.logger.Warn("Failed to marshal event", "kind", ev.Kind, "error", err)
		return
	}
	if err := p.natsClient.Publish(ctx, Subject(ev.Kind), data); err != nil {
		p.logger.Warn("Failed to publish event", "kind", ev.Kind, "error", err)
	}
}
