// Package webhook implements the durable outbound delivery engine: events
// are enqueued with idempotency keys, delivered with bounded concurrency
// and exponential backoff, and parked in the dead letter queue when the
// attempt budget runs out.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/store"
)

// pollInterval is how often the dispatcher scans for due events.
const pollInterval = time.Second

// maxReplayDepth bounds replay-of-replay chains.
const maxReplayDepth = 5

// Engine owns the webhook delivery loop.
type Engine struct {
	store     *store.Store
	cfg       config.WebhookConfig
	client    *http.Client
	publisher *events.Publisher
	logger    *slog.Logger
	metrics   *Metrics

	// sem bounds in-flight deliveries to cfg.MaxConcurrent.
	sem chan struct{}
}

// NewEngine wires the delivery engine.
func NewEngine(st *store.Store, cfg config.WebhookConfig, publisher *events.Publisher,
	metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Engine{
		store:     st,
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.DeliverTimeout},
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// EnqueueInput is the intake schema for outbound events.
type EnqueueInput struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Provider       string            `json:"provider"`
	EventType      string            `json:"event_type"`
	Payload        []byte            `json:"payload"`
	TargetURL      string            `json:"target_url"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Enqueue inserts an event for delivery. A repeated idempotency key returns
// the original event with duplicate=true and enqueues nothing.
func (e *Engine) Enqueue(ctx context.Context, in EnqueueInput) (*store.WebhookEvent, bool, error) {
	if strings.TrimSpace(in.IdempotencyKey) == "" {
		return nil, false, fmt.Errorf("idempotency_key is required")
	}
	if strings.TrimSpace(in.TargetURL) == "" {
		return nil, false, fmt.Errorf("target_url is required")
	}
	if !strings.HasPrefix(in.TargetURL, "http://") && !strings.HasPrefix(in.TargetURL, "https://") {
		return nil, false, fmt.Errorf("target_url must be an http(s) URL")
	}
	if in.EventType == "" {
		return nil, false, fmt.Errorf("event_type is required")
	}

	now := time.Now().UTC()
	ev := &store.WebhookEvent{
		IdempotencyKey: in.IdempotencyKey,
		Provider:       in.Provider,
		EventType:      in.EventType,
		Payload:        in.Payload,
		TargetURL:      in.TargetURL,
		Status:         store.WebhookStatusPending,
		MaxAttempts:    e.cfg.MaxAttempts,
		ExpiresAt:      now.Add(e.cfg.Retention),
		Metadata:       in.Metadata,
	}
	stored, err := e.store.CreateWebhookEvent(ctx, ev)
	if errors.Is(err, store.ErrAlreadyExists) {
		return stored, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	e.metrics.Enqueued.WithLabelValues(ev.Provider).Inc()
	return stored, false, nil
}

// Run drives the dispatcher until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.dispatchDue(ctx)
		}
	}
}

// dispatchDue claims due events up to the free concurrency slots and
// delivers each on its own goroutine.
func (e *Engine) dispatchDue(ctx context.Context) {
	free := cap(e.sem) - len(e.sem)
	if free <= 0 {
		return
	}
	due, err := e.store.ListDueWebhookEvents(ctx, time.Now().UTC(), free)
	if err != nil {
		e.logger.Warn("Failed to list due webhook events", "error", err)
		return
	}
	e.metrics.QueueDepth.Set(float64(len(due)))

	for _, ev := range due {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		ev.Status = store.WebhookStatusDelivering
		if err := e.store.PutWebhookEvent(ctx, ev); err != nil {
			e.logger.Warn("Failed to claim webhook event", "event", ev.ID, "error", err)
			<-e.sem
			continue
		}

		go func(ev *store.WebhookEvent) {
			defer func() { <-e.sem }()
			e.deliver(ctx, ev)
		}(ev)
	}
}

// deliver attempts one POST and settles the event's next state.
func (e *Engine) deliver(ctx context.Context, ev *store.WebhookEvent) {
	now := time.Now().UTC()
	ev.Attempts++
	ev.LastAttemptAt = &now

	statusCode, err := e.post(ctx, ev)
	ev.LastStatusCode = statusCode

	if err == nil {
		ev.Status = store.WebhookStatusDelivered
		ev.DeliveredAt = &now
		ev.NextRetryAt = nil
		ev.LastError = ""
		e.metrics.Deliveries.WithLabelValues(ev.Provider, "delivered").Inc()
		if putErr := e.store.PutWebhookEvent(ctx, ev); putErr != nil {
			e.logger.Warn("Failed to persist delivered webhook", "event", ev.ID, "error", putErr)
		}
		e.logger.Debug("Webhook delivered", "event", ev.ID, "attempts", ev.Attempts)
		return
	}

	ev.LastError = err.Error()
	if ev.Attempts >= ev.MaxAttempts {
		ev.Status = store.WebhookStatusDeadLetter
		ev.NextRetryAt = nil
		e.metrics.Deliveries.WithLabelValues(ev.Provider, "dead_letter").Inc()
		if putErr := e.store.PutWebhookEvent(ctx, ev); putErr != nil {
			e.logger.Warn("Failed to persist dead-lettered webhook", "event", ev.ID, "error", putErr)
		}
		e.logger.Warn("Webhook dead-lettered", "event", ev.ID, "attempts", ev.Attempts, "error", err)
		e.publisher.Emit(ctx, events.Event{
			Kind:  events.KindWebhookDLQ,
			Topic: ev.Provider,
			Data:  map[string]any{"event_id": ev.ID, "event_type": ev.EventType, "error": ev.LastError},
		})
		return
	}

	next := now.Add(e.nextDelay(ev.Attempts))
	ev.Status = store.WebhookStatusRetrying
	ev.NextRetryAt = &next
	e.metrics.Deliveries.WithLabelValues(ev.Provider, "retry").Inc()
	if putErr := e.store.PutWebhookEvent(ctx, ev); putErr != nil {
		e.logger.Warn("Failed to persist retrying webhook", "event", ev.ID, "error", putErr)
	}
	e.logger.Debug("Webhook retry scheduled", "event", ev.ID, "attempt", ev.Attempts, "next", next)
}

// post performs the HTTP delivery. Any non-2xx response is a failure.
func (e *Engine) post(ctx context.Context, ev *store.WebhookEvent) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DeliverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ev.TargetURL, bytes.NewReader(ev.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", ev.ID)
	req.Header.Set("X-Idempotency-Key", ev.IdempotencyKey)
	req.Header.Set("X-Webhook-Event", ev.EventType)
	req.Header.Set("X-Webhook-Provider", ev.Provider)
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(ev.Attempts))
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("target returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// nextDelay computes the backoff for the given completed attempt count,
// with randomized jitter.
func (e *Engine) nextDelay(attempts int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.cfg.InitialBackoff
	eb.MaxInterval = e.cfg.MaxBackoff
	eb.Multiplier = e.cfg.Multiplier
	eb.RandomizationFactor = 0.2
	eb.MaxElapsedTime = 0
	eb.Reset()

	delay := eb.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = eb.NextBackOff()
	}
	if delay == backoff.Stop || delay > e.cfg.MaxBackoff {
		delay = e.cfg.MaxBackoff
	}
	return delay
}

// Replay clones a settled event into a fresh pending delivery. The clone
// gets its own idempotency key and records its parent; chains are capped.
func (e *Engine) Replay(ctx context.Context, id string) (*store.WebhookEvent, error) {
	orig, err := e.store.GetWebhookEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != store.WebhookStatusDelivered && orig.Status != store.WebhookStatusDeadLetter {
		return nil, fmt.Errorf("event %s is %s, only delivered or dead_letter events replay", id, orig.Status)
	}

	depth := replayDepth(orig) + 1
	if depth > maxReplayDepth {
		return nil, fmt.Errorf("replay depth %d exceeds the cap of %d", depth, maxReplayDepth)
	}

	meta := make(map[string]string, len(orig.Metadata)+2)
	for k, v := range orig.Metadata {
		meta[k] = v
	}
	meta["replayed_from"] = orig.ID
	meta["replay_depth"] = fmt.Sprintf("%d", depth)

	clone := &store.WebhookEvent{
		IdempotencyKey: orig.IdempotencyKey + ".replay." + uuid.New().String()[:8],
		Provider:       orig.Provider,
		EventType:      orig.EventType,
		Payload:        orig.Payload,
		TargetURL:      orig.TargetURL,
		Status:         store.WebhookStatusPending,
		MaxAttempts:    e.cfg.MaxAttempts,
		ExpiresAt:      time.Now().UTC().Add(e.cfg.Retention),
		Metadata:       meta,
	}
	stored, err := e.store.CreateWebhookEvent(ctx, clone)
	if errors.Is(err, store.ErrAlreadyExists) {
		return stored, nil
	}
	if err != nil {
		return nil, err
	}
	e.metrics.Enqueued.WithLabelValues(clone.Provider).Inc()
	return stored, nil
}

func replayDepth(ev *store.WebhookEvent) int {
	if ev.Metadata == nil {
		return 0
	}
	var depth int
	_, _ = fmt.Sscanf(ev.Metadata["replay_depth"], "%d", &depth)
	return depth
}

// Cleanup removes delivered events past their retention window. Returns
// how many were removed. Dead-lettered events are kept for inspection and
// replay; only an operator decision clears the DLQ.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	all, err := e.store.ListWebhookEvents(ctx, "", 0)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, ev := range all {
		if !cleanupEligible(ev, now) {
			continue
		}
		if err := e.store.DeleteWebhookEvent(ctx, ev); err != nil {
			e.logger.Warn("Failed to remove expired webhook event", "event", ev.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// cleanupEligible reports whether an event may be purged: delivered and
// past its retention expiry.
func cleanupEligible(ev *store.WebhookEvent, now time.Time) bool {
	if ev.Status != store.WebhookStatusDelivered {
		return false
	}
	return !ev.ExpiresAt.IsZero() && !ev.ExpiresAt.After(now)
}

// Stats counts events per status.
func (e *Engine) Stats(ctx context.Context) (map[store.WebhookStatus]int, error) {
	all, err := e.store.ListWebhookEvents(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	stats := map[store.WebhookStatus]int{
		store.WebhookStatusPending:    0,
		store.WebhookStatusDelivering: 0,
		store.WebhookStatusDelivered:  0,
		store.WebhookStatusRetrying:   0,
		store.WebhookStatusDeadLetter: 0,
	}
	for _, ev := range all {
		stats[ev.Status]++
	}
	return stats, nil
}
