package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AuditEntry records one change to a review-sensitive field. Append-only.
type AuditEntry struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Actor     string    `json:"actor,omitempty"`
	Context   string    `json:"context,omitempty"`
	Field     string    `json:"field"`
	Before    any       `json:"before,omitempty"`
	After     any       `json:"after,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendAudit persists an audit entry. The key embeds a nanosecond timestamp
// so per-task entries sort in append order.
func (s *Store) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	key := fmt.Sprintf("%s.%019d.%s", e.TaskID, e.Timestamp.UnixNano(), e.ID)
	return s.putEntity(ctx, BucketAuditLedger, key, e)
}

// ListAudit returns audit entries, optionally filtered by task, oldest first.
func (s *Store) ListAudit(ctx context.Context, taskID string, limit int) ([]*AuditEntry, error) {
	all, err := listEntities[AuditEntry](ctx, s, BucketAuditLedger)
	if err != nil {
		return nil, err
	}
	var out []*AuditEntry
	for _, e := range all {
		if taskID != "" && e.TaskID != taskID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// MutationAlert records an unauthorized or suspicious mutation attempt.
type MutationAlert struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"` // unauthorized_approval, approval_flip
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PutMutationAlert writes a debounce row keyed by (task, kind). One row per
// pair exists at a time; the debounce window is enforced by the caller.
func (s *Store) PutMutationAlert(ctx context.Context, a *MutationAlert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketMutationAlerts, mutationAlertKey(a.TaskID, a.Kind), a)
}

// GetMutationAlert returns the latest alert for (task, kind).
func (s *Store) GetMutationAlert(ctx context.Context, taskID, kind string) (*MutationAlert, error) {
	var a MutationAlert
	if err := s.getEntity(ctx, BucketMutationAlerts, mutationAlertKey(taskID, kind), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListMutationAlerts returns all alerts, newest first.
func (s *Store) ListMutationAlerts(ctx context.Context) ([]*MutationAlert, error) {
	out, err := listEntities[MutationAlert](ctx, s, BucketMutationAlerts)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// PruneMutationAlerts removes alerts older than the cutoff and returns the
// number removed.
func (s *Store) PruneMutationAlerts(ctx context.Context, cutoff time.Time) (int, error) {
	all, err := listEntities[MutationAlert](ctx, s, BucketMutationAlerts)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, a := range all {
		if a.CreatedAt.Before(cutoff) {
			if err := s.deleteEntity(ctx, BucketMutationAlerts, mutationAlertKey(a.TaskID, a.Kind)); err == nil {
				pruned++
			}
		}
	}
	return pruned, nil
}

func mutationAlertKey(taskID, kind string) string {
	return taskID + "." + kind
}

// ErrorLogEntry captures a server-side failure for diagnosis.
type ErrorLogEntry struct {
	ID        string    `json:"id"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Status    int       `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendErrorLog persists a server error record.
func (s *Store) AppendErrorLog(ctx context.Context, e *ErrorLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketErrorLog, fmt.Sprintf("%019d.%s", e.CreatedAt.UnixNano(), e.ID), e)
}

// ListErrorLog returns server error records, newest first.
func (s *Store) ListErrorLog(ctx context.Context, limit int) ([]*ErrorLogEntry, error) {
	out, err := listEntities[ErrorLogEntry](ctx, s, BucketErrorLog)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
