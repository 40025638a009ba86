// Package store provides entity storage for Steward using NATS KV.
//
// Every table from the governance data model lives in its own KV bucket.
// Values are JSON-encoded entities keyed by id. The database is the source
// of truth; in-memory caches elsewhere are rebuildable from these buckets.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names, one per table.
const (
	BucketTasks              = "STEWARD_TASKS"
	BucketTaskComments       = "STEWARD_TASK_COMMENTS"
	BucketTaskHistory        = "STEWARD_TASK_HISTORY"
	BucketChatMessages       = "STEWARD_CHAT_MESSAGES"
	BucketInboxSubscriptions = "STEWARD_INBOX_SUBS"
	BucketReflections        = "STEWARD_REFLECTIONS"
	BucketInsights           = "STEWARD_INSIGHTS"
	BucketPromotionAudit     = "STEWARD_PROMOTION_AUDIT"
	BucketTriageAudit        = "STEWARD_TRIAGE_AUDIT"
	BucketWebhookEvents      = "STEWARD_WEBHOOK_EVENTS"
	BucketWebhookIdemKeys    = "STEWARD_WEBHOOK_IDEM"
	BucketPauseControls      = "STEWARD_PAUSE_CONTROLS"
	BucketAuditLedger        = "STEWARD_AUDIT_LEDGER"
	BucketMutationAlerts     = "STEWARD_MUTATION_ALERTS"
	BucketNoiseBudgetLog     = "STEWARD_NOISE_BUDGET_LOG"
	BucketSuppressionLedger  = "STEWARD_SUPPRESSION_LEDGER"
	BucketPresence           = "STEWARD_PRESENCE"
	BucketRoutingOverrides   = "STEWARD_ROUTING_OVERRIDES"
	BucketRoutingDecisions   = "STEWARD_ROUTING_DECISIONS"
	BucketRecurringTasks     = "STEWARD_RECURRING_TASKS"
	BucketCalendarEvents     = "STEWARD_CALENDAR_EVENTS"
	BucketCalendarBlocks     = "STEWARD_CALENDAR_BLOCKS"
	BucketReminders          = "STEWARD_REMINDERS"
	BucketReflectionTracking = "STEWARD_REFLECTION_TRACKING"
	BucketContinuityActions  = "STEWARD_CONTINUITY_ACTIONS"
	BucketEscalations        = "STEWARD_ESCALATIONS"
	BucketErrorLog           = "STEWARD_ERROR_LOG"
)

// Store provides entity storage operations backed by NATS KV.
type Store struct {
	buckets map[string]jetstream.KeyValue
}

// allBuckets lists every bucket the store manages.
var allBuckets = []string{
	BucketTasks,
	BucketTaskComments,
	BucketTaskHistory,
	BucketChatMessages,
	BucketInboxSubscriptions,
	BucketReflections,
	BucketInsights,
	BucketPromotionAudit,
	BucketTriageAudit,
	BucketWebhookEvents,
	BucketWebhookIdemKeys,
	BucketPauseControls,
	BucketAuditLedger,
	BucketMutationAlerts,
	BucketNoiseBudgetLog,
	BucketSuppressionLedger,
	BucketPresence,
	BucketRoutingOverrides,
	BucketRoutingDecisions,
	BucketRecurringTasks,
	BucketCalendarEvents,
	BucketCalendarBlocks,
	BucketReminders,
	BucketReflectionTracking,
	BucketContinuityActions,
	BucketEscalations,
	BucketErrorLog,
}

// NewStore creates a new Store with the given JetStream context.
// It creates the necessary KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	buckets := make(map[string]jetstream.KeyValue, len(allBuckets))
	for _, name := range allBuckets {
		kv, err := getOrCreateBucket(ctx, js, name)
		if err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", name, err)
		}
		buckets[name] = kv
	}
	return &Store{buckets: buckets}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Steward %s storage", strings.ToLower(strings.TrimPrefix(name, "STEWARD_"))),
		History:     5,
	})
}

func (s *Store) bucket(name string) jetstream.KeyValue {
	return s.buckets[name]
}

// putEntity JSON-encodes v and writes it to the bucket under key.
func (s *Store) putEntity(ctx context.Context, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s entity: %w", bucket, err)
	}
	if _, err := s.bucket(bucket).Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// createEntity writes v only when key does not already exist.
func (s *Store) createEntity(ctx context.Context, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s entity: %w", bucket, err)
	}
	if _, err := s.bucket(bucket).Create(ctx, key, data); err != nil {
		if isKeyExists(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create %s/%s: %w", bucket, key, err)
	}
	return nil
}

// getEntity loads and decodes the entity under key into out.
func (s *Store) getEntity(ctx context.Context, bucket, key string, out any) error {
	entry, err := s.bucket(bucket).Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", bucket, key, err)
	}
	return nil
}

// deleteEntity removes the entity under key.
func (s *Store) deleteEntity(ctx context.Context, bucket, key string) error {
	if err := s.bucket(bucket).Delete(ctx, key); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// keys returns all keys in the bucket, or nil when the bucket is empty.
func (s *Store) keys(ctx context.Context, bucket string) ([]string, error) {
	keys, err := s.bucket(bucket).Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s keys: %w", bucket, err)
	}
	return keys, nil
}

// listEntities loads every entity in the bucket. Entries that fail to load
// or decode are skipped; a corrupt row must not poison a whole scan.
func listEntities[T any](ctx context.Context, s *Store, bucket string) ([]*T, error) {
	keys, err := s.keys(ctx, bucket)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(keys))
	for _, key := range keys {
		entry, err := s.bucket(bucket).Get(ctx, key)
		if err != nil {
			continue
		}
		var v T
		if err := json.Unmarshal(entry.Value(), &v); err != nil {
			continue
		}
		out = append(out, &v)
	}
	return out, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if err == jetstream.ErrKeyNotFound || err == jetstream.ErrKeyDeleted {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "not found")
}

func isKeyExists(err error) bool {
	if err == nil {
		return false
	}
	if err == jetstream.ErrKeyExists {
		return true
	}
	return strings.Contains(err.Error(), "already exists")
}
