// Package audit maintains the append-only review-field ledger and the
// mutation alert subsystem that flags unauthorized approval activity.
package audit

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/store"
)

// Review-sensitive metadata keys. Every change to one of these produces
// exactly one ledger entry.
var reviewMetadataKeys = []string{
	"reviewer_approved",
	"reviewer_notes",
	"review_state",
	"review_decision",
}

// FieldDiff is one observed change to a review-sensitive field.
type FieldDiff struct {
	Field  string
	Before any
	After  any
}

// DiffReviewFields compares two task snapshots and returns the
// review-sensitive changes. The reviewer identity itself is review-sensitive.
func DiffReviewFields(before, after *store.Task) []FieldDiff {
	var diffs []FieldDiff

	if before.Reviewer != after.Reviewer {
		diffs = append(diffs, FieldDiff{Field: "reviewer", Before: before.Reviewer, After: after.Reviewer})
	}

	for _, key := range reviewMetadataKeys {
		var b, a any
		if before.Metadata != nil {
			b = before.Metadata[key]
		}
		if after.Metadata != nil {
			a = after.Metadata[key]
		}
		if !reflect.DeepEqual(b, a) {
			diffs = append(diffs, FieldDiff{Field: "metadata." + key, Before: b, After: a})
		}
	}

	return diffs
}

// Ledger appends review-field changes to the persistent audit trail.
type Ledger struct {
	store  *store.Store
	logger *slog.Logger
}

// NewLedger creates an audit ledger.
func NewLedger(st *store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: st, logger: logger}
}

// Record appends one entry per diff. Appends are totally ordered per task
// (the task engine holds the per-task critical section while recording).
func (l *Ledger) Record(ctx context.Context, taskID, actor, context_ string, diffs []FieldDiff) error {
	ts := time.Now().UTC()
	for i, d := range diffs {
		entry := &store.AuditEntry{
			TaskID:    taskID,
			Actor:     actor,
			Context:   context_,
			Field:     d.Field,
			Before:    d.Before,
			After:     d.After,
			Timestamp: ts.Add(time.Duration(i) * time.Microsecond),
		}
		if err := l.store.AppendAudit(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Alert kinds.
const (
	KindUnauthorizedApproval = "unauthorized_approval"
	KindApprovalFlip         = "approval_flip"
)

// Alerter records mutation alerts, debounced to one alert per (task, kind)
// per window.
type Alerter struct {
	store     *store.Store
	publisher *events.Publisher
	logger    *slog.Logger
	window    func() time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewAlerter creates a mutation alerter. The window func reads the live
// policy so reloads take effect without restart.
func NewAlerter(st *store.Store, publisher *events.Publisher, window func() time.Duration, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		store:     st,
		publisher: publisher,
		logger:    logger,
		window:    window,
		lastSeen:  make(map[string]time.Time),
	}
}

// Alert records a mutation alert unless one fired for (task, kind) inside
// the debounce window. Returns true when the alert actually fired.
func (a *Alerter) Alert(ctx context.Context, taskID, kind, actor, detail string) bool {
	now := time.Now().UTC()
	key := taskID + "." + kind

	a.mu.Lock()
	if last, ok := a.lastSeen[key]; ok && now.Sub(last) < a.window() {
		a.mu.Unlock()
		return false
	}
	a.lastSeen[key] = now
	a.mu.Unlock()

	alert := &store.MutationAlert{
		TaskID: taskID,
		Kind:   kind,
		Actor:  actor,
		Detail: detail,
	}
	if err := a.store.PutMutationAlert(ctx, alert); err != nil {
		a.logger.Warn("Failed to persist mutation alert", "task", taskID, "kind", kind, "error", err)
		return false
	}

	a.publisher.Emit(ctx, events.Event{
		Kind:   events.KindMutationAlert,
		TaskID: taskID,
		Agent:  actor,
		Data:   map[string]any{"alert_kind": kind, "detail": detail},
	})
	return true
}

// Prune drops debounce state and persisted alerts older than the retention
// cutoff. The scheduler runs this every 30 minutes.
func (a *Alerter) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)

	a.mu.Lock()
	for key, seen := range a.lastSeen {
		if seen.Before(cutoff) {
			delete(a.lastSeen, key)
		}
	}
	a.mu.Unlock()

	return a.store.PruneMutationAlerts(ctx, cutoff)
}
