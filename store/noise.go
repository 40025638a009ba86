package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// NoiseBudgetSnapshot records one budget decision for a channel.
type NoiseBudgetSnapshot struct {
	ID            string    `json:"id"`
	Channel       string    `json:"channel"`
	WindowCount   int       `json:"window_count"`
	Budget        int       `json:"budget"`
	Decision      string    `json:"decision"` // pass, divert, bypass_critical, canary_divert
	Enforcing     bool      `json:"enforcing"`
	MessageDigest string    `json:"message_digest,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AppendNoiseBudgetLog persists a budget decision.
func (s *Store) AppendNoiseBudgetLog(ctx context.Context, n *NoiseBudgetSnapshot) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	key := fmt.Sprintf("%019d.%s", n.CreatedAt.UnixNano(), n.ID)
	return s.putEntity(ctx, BucketNoiseBudgetLog, key, n)
}

// ListNoiseBudgetLog returns budget decisions, newest first.
func (s *Store) ListNoiseBudgetLog(ctx context.Context, limit int) ([]*NoiseBudgetSnapshot, error) {
	out, err := listEntities[NoiseBudgetSnapshot](ctx, s, BucketNoiseBudgetLog)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SuppressionLedgerEntry records an automated message that was withheld.
type SuppressionLedgerEntry struct {
	ID        string    `json:"id"`
	AlertKey  string    `json:"alert_key"`
	Channel   string    `json:"channel,omitempty"`
	Reason    string    `json:"reason"` // duplicate, quiet_hours, noise_budget, cooldown
	Original  string    `json:"original,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendSuppression persists a suppression record.
func (s *Store) AppendSuppression(ctx context.Context, e *SuppressionLedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()
	key := fmt.Sprintf("%019d.%s", e.CreatedAt.UnixNano(), e.ID)
	return s.putEntity(ctx, BucketSuppressionLedger, key, e)
}

// ListSuppressions returns suppression records, newest first.
func (s *Store) ListSuppressions(ctx context.Context, limit int) ([]*SuppressionLedgerEntry, error) {
	out, err := listEntities[SuppressionLedgerEntry](ctx, s, BucketSuppressionLedger)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
