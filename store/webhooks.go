package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// WebhookStatus is the delivery lifecycle state of a webhook event.
type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "pending"
	WebhookStatusDelivering WebhookStatus = "delivering"
	WebhookStatusDelivered  WebhookStatus = "delivered"
	WebhookStatusRetrying   WebhookStatus = "retrying"
	WebhookStatusDeadLetter WebhookStatus = "dead_letter"
)

// WebhookEvent is a durably queued outbound delivery.
type WebhookEvent struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Provider       string            `json:"provider"`
	EventType      string            `json:"event_type"`
	Payload        json.RawMessage   `json:"payload"`
	TargetURL      string            `json:"target_url"`
	Status         WebhookStatus     `json:"status"`
	Attempts       int               `json:"attempts"`
	MaxAttempts    int               `json:"max_attempts"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	LastAttemptAt  *time.Time        `json:"last_attempt_at,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	LastStatusCode int               `json:"last_status_code,omitempty"`
	DeliveredAt    *time.Time        `json:"delivered_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// idemRef maps an idempotency key to an event id.
type idemRef struct {
	EventID string `json:"event_id"`
}

// CreateWebhookEvent inserts a new event keyed by its idempotency key.
// A collision returns the existing event and ErrAlreadyExists.
func (s *Store) CreateWebhookEvent(ctx context.Context, ev *WebhookEvent) (*WebhookEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.CreatedAt = time.Now().UTC()

	if err := s.createEntity(ctx, BucketWebhookIdemKeys, idemKeyKV(ev.IdempotencyKey), idemRef{EventID: ev.ID}); err != nil {
		if err == ErrAlreadyExists {
			existing, lookupErr := s.GetWebhookEventByIdemKey(ctx, ev.IdempotencyKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return existing, ErrAlreadyExists
		}
		return nil, err
	}

	if err := s.putEntity(ctx, BucketWebhookEvents, ev.ID, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// GetWebhookEvent retrieves an event by id.
func (s *Store) GetWebhookEvent(ctx context.Context, id string) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := s.getEntity(ctx, BucketWebhookEvents, id, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetWebhookEventByIdemKey retrieves an event through its idempotency key.
func (s *Store) GetWebhookEventByIdemKey(ctx context.Context, key string) (*WebhookEvent, error) {
	var ref idemRef
	if err := s.getEntity(ctx, BucketWebhookIdemKeys, idemKeyKV(key), &ref); err != nil {
		return nil, err
	}
	return s.GetWebhookEvent(ctx, ref.EventID)
}

// PutWebhookEvent writes back a mutated event.
func (s *Store) PutWebhookEvent(ctx context.Context, ev *WebhookEvent) error {
	return s.putEntity(ctx, BucketWebhookEvents, ev.ID, ev)
}

// DeleteWebhookEvent removes an event row (retention cleanup only).
func (s *Store) DeleteWebhookEvent(ctx context.Context, ev *WebhookEvent) error {
	if ev.IdempotencyKey != "" {
		_ = s.deleteEntity(ctx, BucketWebhookIdemKeys, idemKeyKV(ev.IdempotencyKey))
	}
	return s.deleteEntity(ctx, BucketWebhookEvents, ev.ID)
}

// ListWebhookEvents returns events filtered by status ("" = all), newest first.
func (s *Store) ListWebhookEvents(ctx context.Context, status WebhookStatus, limit int) ([]*WebhookEvent, error) {
	all, err := listEntities[WebhookEvent](ctx, s, BucketWebhookEvents)
	if err != nil {
		return nil, err
	}
	var out []*WebhookEvent
	for _, ev := range all {
		if status != "" && ev.Status != status {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListDueWebhookEvents returns retryable events whose next_retry_at <= now,
// backfilled with pending events, oldest first. The caller bounds concurrency.
func (s *Store) ListDueWebhookEvents(ctx context.Context, now time.Time, limit int) ([]*WebhookEvent, error) {
	all, err := listEntities[WebhookEvent](ctx, s, BucketWebhookEvents)
	if err != nil {
		return nil, err
	}
	var retryable, pending []*WebhookEvent
	for _, ev := range all {
		switch ev.Status {
		case WebhookStatusRetrying:
			if ev.NextRetryAt != nil && !ev.NextRetryAt.After(now) {
				retryable = append(retryable, ev)
			}
		case WebhookStatusPending:
			pending = append(pending, ev)
		}
	}
	sort.Slice(retryable, func(i, j int) bool { return retryable[i].CreatedAt.Before(retryable[j].CreatedAt) })
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	out := append(retryable, pending...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// idemKeyKV makes an idempotency key safe for use as a KV key.
func idemKeyKV(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
