// Package sse fans governance events out to Server-Sent Events streams.
// Each subscriber holds a bounded queue; when a slow consumer falls behind,
// the oldest event is dropped and counted rather than blocking the
// producer.
package sse

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/steward/events"
)

// queueSize bounds each subscriber's pending events.
const queueSize = 256

// Filter narrows which events a subscriber receives. Zero value matches
// everything.
type Filter struct {
	// Agent matches events for one agent, case-insensitive.
	Agent string
	// Kinds matches event kinds, empty = all.
	Kinds map[string]bool
	// Topics matches event topics, empty = all.
	Topics map[string]bool
	// TaskID matches events for one task.
	TaskID string
}

// Match reports whether the event passes the filter.
func (f Filter) Match(ev events.Event) bool {
	if f.Agent != "" && !strings.EqualFold(ev.Agent, f.Agent) {
		return false
	}
	if len(f.Kinds) > 0 && !f.Kinds[ev.Kind] {
		return false
	}
	if len(f.Topics) > 0 && !f.Topics[ev.Topic] {
		return false
	}
	if f.TaskID != "" && ev.TaskID != f.TaskID {
		return false
	}
	return true
}

type subscriber struct {
	ch      chan events.Event
	filter  Filter
	dropped atomic.Int64
}

// Broker fans events out to SSE subscribers.
type Broker struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]bool

	delivered atomic.Int64
	dropped   atomic.Int64

	natsSub *nats.Subscription
}

// NewBroker creates an event broker. Attach it to a Publisher via
// publisher.Tap(broker.Publish).
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{logger: logger, subs: make(map[*subscriber]bool)}
}

// AttachNATS additionally feeds the broker from the event subjects, for
// deployments where producers run in other processes. Events already seen
// via the in-process tap should not be double-fed; attach one source only.
func (b *Broker) AttachNATS(nc *nats.Conn) error {
	sub, err := nc.Subscribe(events.SubjectWildcard, func(msg *nats.Msg) {
		var ev events.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn("Failed to decode event from NATS", "subject", msg.Subject, "error", err)
			return
		}
		b.Publish(ev)
	})
	if err != nil {
		return err
	}
	b.natsSub = sub
	return nil
}

// Close drains the NATS subscription, if any.
func (b *Broker) Close() {
	if b.natsSub != nil {
		_ = b.natsSub.Drain()
	}
}

// Publish fans an event out to every matching subscriber. A full queue
// drops the subscriber's oldest pending event.
func (b *Broker) Publish(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
			b.delivered.Add(1)
		default:
			select {
			case <-sub.ch:
				sub.dropped.Add(1)
				b.dropped.Add(1)
			default:
			}
			select {
			case sub.ch <- ev:
				b.delivered.Add(1)
			default:
				sub.dropped.Add(1)
				b.dropped.Add(1)
			}
		}
	}
}

func (b *Broker) subscribe(filter Filter) *subscriber {
	sub := &subscriber{ch: make(chan events.Event, queueSize), filter: filter}
	b.mu.Lock()
	b.subs[sub] = true
	b.mu.Unlock()
	return sub
}

func (b *Broker) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	if n := sub.dropped.Load(); n > 0 {
		b.logger.Debug("SSE subscriber dropped events", "dropped", n)
	}
}

// Stats reports broker counters.
func (b *Broker) Stats() map[string]any {
	b.mu.Lock()
	subs := len(b.subs)
	b.mu.Unlock()
	return map[string]any{
		"subscribers": subs,
		"delivered":   b.delivered.Load(),
		"dropped":     b.dropped.Load(),
	}
}
