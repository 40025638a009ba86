package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// RoutingOverride redirects a class of work to a target agent or role for a
// bounded time window.
type RoutingOverride struct {
	ID         string    `json:"id"`
	TagPattern string    `json:"tag_pattern"`
	Target     string    `json:"target"`
	TargetRole string    `json:"target_role,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// PutRoutingOverride persists an override.
func (s *Store) PutRoutingOverride(ctx context.Context, o *RoutingOverride) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	return s.putEntity(ctx, BucketRoutingOverrides, o.ID, o)
}

// DeleteRoutingOverride removes an override.
func (s *Store) DeleteRoutingOverride(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, BucketRoutingOverrides, id)
}

// ListRoutingOverrides returns overrides, optionally only the live ones.
func (s *Store) ListRoutingOverrides(ctx context.Context, now time.Time, liveOnly bool) ([]*RoutingOverride, error) {
	all, err := listEntities[RoutingOverride](ctx, s, BucketRoutingOverrides)
	if err != nil {
		return nil, err
	}
	var out []*RoutingOverride
	for _, o := range all {
		if liveOnly && now.After(o.ExpiresAt) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SweepExpiredOverrides removes overrides past their expiry and returns the
// number removed.
func (s *Store) SweepExpiredOverrides(ctx context.Context, now time.Time) (int, error) {
	all, err := listEntities[RoutingOverride](ctx, s, BucketRoutingOverrides)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, o := range all {
		if now.After(o.ExpiresAt) {
			if err := s.deleteEntity(ctx, BucketRoutingOverrides, o.ID); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// RoutingDecision records an approval-queue verdict on a routed task.
type RoutingDecision struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Decision  string    `json:"decision"` // approve, reject
	Actor     string    `json:"actor,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PutRoutingDecision persists a decision, one per task.
func (s *Store) PutRoutingDecision(ctx context.Context, d *RoutingDecision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketRoutingDecisions, d.TaskID, d)
}

// GetRoutingDecision returns the decision for a task, if any.
func (s *Store) GetRoutingDecision(ctx context.Context, taskID string) (*RoutingDecision, error) {
	var d RoutingDecision
	if err := s.getEntity(ctx, BucketRoutingDecisions, taskID, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Escalation records a watchdog escalation event.
type Escalation struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Kind      string    `json:"kind"` // idle, mention, cadence
	Channel   string    `json:"channel,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendEscalation persists an escalation record.
func (s *Store) AppendEscalation(ctx context.Context, e *Escalation) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketEscalations, e.ID, e)
}

// ListEscalations returns escalations, newest first.
func (s *Store) ListEscalations(ctx context.Context, limit int) ([]*Escalation, error) {
	out, err := listEntities[Escalation](ctx, s, BucketEscalations)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ContinuityAction persists an auto-action a worker took, so a restart can
// resume without duplicating side effects. Board-health rollbacks read the
// before/after state from here.
type ContinuityAction struct {
	ID         string         `json:"id"`
	Worker     string         `json:"worker"`
	Kind       string         `json:"kind"` // auto_block, suggest_close, nudge, escalate
	TaskID     string         `json:"task_id,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	RolledBack bool           `json:"rolled_back,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AppendContinuityAction persists an action record.
func (s *Store) AppendContinuityAction(ctx context.Context, a *ContinuityAction) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return s.putEntity(ctx, BucketContinuityActions, a.ID, a)
}

// GetContinuityAction returns one action record.
func (s *Store) GetContinuityAction(ctx context.Context, id string) (*ContinuityAction, error) {
	var a ContinuityAction
	if err := s.getEntity(ctx, BucketContinuityActions, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PutContinuityAction writes back a mutated action record.
func (s *Store) PutContinuityAction(ctx context.Context, a *ContinuityAction) error {
	return s.putEntity(ctx, BucketContinuityActions, a.ID, a)
}

// ListContinuityActions returns action records, newest first.
func (s *Store) ListContinuityActions(ctx context.Context, worker string, limit int) ([]*ContinuityAction, error) {
	all, err := listEntities[ContinuityAction](ctx, s, BucketContinuityActions)
	if err != nil {
		return nil, err
	}
	var out []*ContinuityAction
	for _, a := range all {
		if worker != "" && a.Worker != worker {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
