package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/steward/audit"
	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/model"
	"github.com/c360studio/steward/prcheck"
	"github.com/c360studio/steward/store"
)

// Engine is the single entry point for task mutation. Every patch, whether
// it arrives over HTTP, from a watchdog or from the insight bridge, passes
// through Apply and its gate chain.
type Engine struct {
	store     *store.Store
	policy    *config.PolicyStore
	models    *model.Registry
	publisher *events.Publisher
	ledger    *audit.Ledger
	alerter   *audit.Alerter
	checker   prcheck.Checker
	focus     *FocusRegistry
	logger    *slog.Logger

	// locks serializes mutation per task id.
	locks sync.Map
}

// NewEngine wires the lifecycle engine.
func NewEngine(st *store.Store, policy *config.PolicyStore, models *model.Registry,
	publisher *events.Publisher, ledger *audit.Ledger, alerter *audit.Alerter,
	checker prcheck.Checker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		policy:    policy,
		models:    models,
		publisher: publisher,
		ledger:    ledger,
		alerter:   alerter,
		checker:   checker,
		focus:     NewFocusRegistry(),
		logger:    logger,
	}
}

// Focus exposes the deep-work registry to the watchdogs.
func (e *Engine) Focus() *FocusRegistry { return e.focus }

// Store exposes the backing store for read-only consumers.
func (e *Engine) Store() *store.Store { return e.store }

func (e *Engine) lockTask(id string) func() {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Apply runs the gate chain against a patch and, when admitted, persists
// the mutation, records audit entries and emits lifecycle events. A
// returned *GateError carries the HTTP status and gate id for the caller's
// failure envelope.
func (e *Engine) Apply(ctx context.Context, taskID string, p *Patch) (*store.Task, *Decision, error) {
	unlock := e.lockTask(taskID)
	defer unlock()

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	before := cloneTask(t)
	now := time.Now().UTC()
	merged := mergeMetadata(t.Metadata, p.Metadata)
	policy := e.policy.Get()

	doing, err := e.doingCountExcluding(ctx, effectiveAssignee(t, p), t)
	if err != nil {
		return nil, nil, err
	}
	owes, err := e.owesReflection(ctx, effectiveAssignee(t, p), policy, now)
	if err != nil {
		return nil, nil, err
	}

	in := GateInput{
		Task:           t,
		Patch:          p,
		Merged:         merged,
		Now:            now,
		Policy:         policy,
		Models:         e.models,
		DoingCount:     doing,
		OwesReflection: owes,
		TaskExists: func(id string) bool {
			_, err := e.store.GetTask(ctx, id)
			return err == nil
		},
	}
	if e.checker != nil {
		in.LookupPR = func(url string) (*prcheck.PR, error) {
			return e.checker.Lookup(ctx, url)
		}
	}

	dec, gerr := EvaluateGates(in)
	if gerr != nil {
		e.handleGateFailure(ctx, t, p, gerr, now)
		return nil, nil, gerr
	}

	e.applyPatch(t, p, merged)
	e.stampDefaults(t, dec, now)

	if err := e.store.PutTask(ctx, t); err != nil {
		return nil, nil, err
	}

	e.recordAudit(ctx, before, t, p)
	e.recordHistory(ctx, t, p, dec)
	e.postTransition(ctx, t, dec, policy)
	e.emitLifecycle(ctx, t, dec)

	return t, dec, nil
}

// handleGateFailure applies the side effects a rejection can carry: the
// closed-PR auto-block and the rejected-approval artifact plus alert.
func (e *Engine) handleGateFailure(ctx context.Context, t *store.Task, p *Patch, gerr *GateError, now time.Time) {
	if gerr.RecordRejectedApproval {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		artifacts := stringSlice(t.Metadata[MetaArtifacts])
		artifacts = append(artifacts, fmt.Sprintf("approval_rejected:%s:%s", p.Actor, now.Format(time.RFC3339)))
		t.Metadata[MetaArtifacts] = artifacts
		if err := e.store.PutTask(ctx, t); err != nil {
			e.logger.Warn("Failed to record rejected approval", "task", t.ShortID(), "error", err)
		}
		e.alerter.Alert(ctx, t.ID, audit.KindUnauthorizedApproval, p.Actor,
			fmt.Sprintf("approval attempt by %q, reviewer is %q", p.Actor, t.Reviewer))
	}

	if gerr.AutoBlock {
		t.Status = store.TaskStatusBlocked
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		t.Metadata[MetaAutoBlockReason] = "pr_closed_unmerged"
		if err := e.store.PutTask(ctx, t); err != nil {
			e.logger.Warn("Failed to auto-block task", "task", t.ShortID(), "error", err)
			return
		}
		_ = e.store.AddTaskHistory(ctx, &store.TaskHistoryEntry{
			TaskID:     t.ID,
			Actor:      "steward",
			FromStatus: store.TaskStatusValidating,
			ToStatus:   store.TaskStatusBlocked,
			Note:       "auto-blocked: PR closed without merging",
		})
		e.publisher.Emit(ctx, events.Event{
			Kind:   events.KindTaskBlocked,
			TaskID: t.ID,
			Agent:  t.Assignee,
			Data:   map[string]any{"reason": "pr_closed_unmerged"},
		})
	}
}

// applyPatch copies the admitted patch onto the task.
func (e *Engine) applyPatch(t *store.Task, p *Patch, merged map[string]any) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.Reviewer != nil {
		t.Reviewer = *p.Reviewer
	}
	if p.DoneCriteria != nil {
		t.DoneCriteria = p.DoneCriteria
	}
	if p.BlockedBy != nil {
		t.BlockedBy = p.BlockedBy
	}
	if p.Tags != nil {
		t.Tags = p.Tags
	}
	if merged != nil {
		t.Metadata = merged
	}
}

// stampDefaults writes the auto-computed metadata the decision carries.
func (e *Engine) stampDefaults(t *store.Task, dec *Decision, now time.Time) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}

	if dec.ModelResolution != nil {
		t.Metadata[MetaModelEffective] = dec.ModelResolution.Effective
		if dec.ModelResolution.Defaulted {
			t.Metadata[MetaModelDefaulted] = true
			t.Metadata[MetaModel] = dec.ModelResolution.Effective
		}
	}
	if dec.StampBranch != "" {
		t.Metadata[MetaBranch] = dec.StampBranch
	}

	if enteringStatus(dec, store.TaskStatusValidating) {
		t.Metadata[MetaEnteredValidating] = now.Format(time.RFC3339)
		if stringVal(t.Metadata[MetaReviewState]) == "" {
			t.Metadata[MetaReviewState] = ReviewStateQueued
		}
		t.Metadata[MetaReviewLastActivity] = now.Format(time.RFC3339)
	}

	if boolVal(t.Metadata[MetaReviewerApproved]) &&
		stringVal(t.Metadata[MetaReviewState]) != ReviewStateApproved {
		t.Metadata[MetaReviewState] = ReviewStateApproved
		t.Metadata[MetaReviewLastActivity] = now.Format(time.RFC3339)
	}

	if dec.Reopened {
		t.Metadata[MetaReopenedAt] = now.Format(time.RFC3339)
		t.Metadata[MetaReopenedFrom] = string(dec.From)
		delete(t.Metadata, MetaReopen)
	}
}

// recordAudit diffs review-sensitive fields and appends ledger entries.
// An approval flipping back off additionally raises a mutation alert.
func (e *Engine) recordAudit(ctx context.Context, before, after *store.Task, p *Patch) {
	diffs := audit.DiffReviewFields(before, after)
	if len(diffs) == 0 {
		return
	}
	if err := e.ledger.Record(ctx, after.ID, p.Actor, p.Context, diffs); err != nil {
		e.logger.Warn("Failed to record audit entries", "task", after.ShortID(), "error", err)
	}

	if before.MetaBool(MetaReviewerApproved) && !after.MetaBool(MetaReviewerApproved) {
		e.alerter.Alert(ctx, after.ID, audit.KindApprovalFlip, p.Actor, "reviewer_approved flipped back to false")
	}
}

func (e *Engine) recordHistory(ctx context.Context, t *store.Task, p *Patch, dec *Decision) {
	if !dec.Transition {
		return
	}
	note := ""
	if dec.Reopened {
		note = "reopened: " + stringVal(t.Metadata[MetaReopenReason])
	}
	if err := e.store.AddTaskHistory(ctx, &store.TaskHistoryEntry{
		TaskID:     t.ID,
		Actor:      p.Actor,
		FromStatus: dec.From,
		ToStatus:   dec.To,
		Note:       note,
	}); err != nil {
		e.logger.Warn("Failed to append task history", "task", t.ShortID(), "error", err)
	}
}

// postTransition applies the non-audit side effects of an admitted
// transition: the focus window and reflection-debt accounting.
func (e *Engine) postTransition(ctx context.Context, t *store.Task, dec *Decision, policy config.PolicyConfig) {
	if dec.OpenFocusWindow {
		e.focus.Open(t.Assignee, policy.FocusWindow)
	}

	if enteringStatus(dec, store.TaskStatusDone) && t.Assignee != "" {
		rt, err := e.store.GetReflectionTracking(ctx, t.Assignee)
		if err != nil {
			e.logger.Warn("Failed to read reflection tracking", "agent", t.Assignee, "error", err)
			return
		}
		rt.DoneSinceLast++
		if err := e.store.PutReflectionTracking(ctx, rt); err != nil {
			e.logger.Warn("Failed to update reflection tracking", "agent", t.Assignee, "error", err)
		}
	}
}

func (e *Engine) emitLifecycle(ctx context.Context, t *store.Task, dec *Decision) {
	e.publisher.Emit(ctx, events.Event{
		Kind:   events.KindTaskUpdated,
		TaskID: t.ID,
		Agent:  t.Assignee,
	})
	if !dec.Transition {
		return
	}
	e.publisher.Emit(ctx, events.Event{
		Kind:   events.KindStatusChanged,
		TaskID: t.ID,
		Agent:  t.Assignee,
		Data:   map[string]any{"from": dec.From, "to": dec.To},
	})
	if kind := statusEventKind(dec.To); kind != "" {
		e.publisher.Emit(ctx, events.Event{Kind: kind, TaskID: t.ID, Agent: t.Assignee})
	}
}

func statusEventKind(s store.TaskStatus) string {
	switch s {
	case store.TaskStatusDoing:
		return events.KindTaskDoing
	case store.TaskStatusBlocked:
		return events.KindTaskBlocked
	case store.TaskStatusValidating:
		return events.KindTaskValidating
	case store.TaskStatusDone:
		return events.KindTaskDone
	}
	return ""
}

// doingCountExcluding counts the assignee's doing tasks, excluding the task
// under mutation so a doing->doing metadata write does not trip the cap.
func (e *Engine) doingCountExcluding(ctx context.Context, assignee string, t *store.Task) (int, error) {
	if assignee == "" {
		return 0, nil
	}
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{Status: store.TaskStatusDoing, Assignee: assignee})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, other := range tasks {
		if other.ID != t.ID {
			count++
		}
	}
	return count, nil
}

// owesReflection reports whether the agent's reflection debt is blocking:
// enough done tasks since the last reflection, and the debt has aged past
// the grace window.
func (e *Engine) owesReflection(ctx context.Context, agent string, policy config.PolicyConfig, now time.Time) (bool, error) {
	if agent == "" {
		return false, nil
	}
	rt, err := e.store.GetReflectionTracking(ctx, agent)
	if err != nil {
		return false, err
	}
	if rt.DoneSinceLast < policy.ReflectionDebtTasks {
		return false, nil
	}
	if rt.LastReflectionAt.IsZero() {
		return true, nil
	}
	return now.Sub(rt.LastReflectionAt) > policy.ReflectionDebtAge, nil
}

// SettleReflectionDebt resets the agent's debt counter after a reflection.
func (e *Engine) SettleReflectionDebt(ctx context.Context, agent string, at time.Time) error {
	rt, err := e.store.GetReflectionTracking(ctx, agent)
	if err != nil {
		return err
	}
	rt.DoneSinceLast = 0
	rt.LastReflectionAt = at
	return e.store.PutReflectionTracking(ctx, rt)
}

func cloneTask(t *store.Task) *store.Task {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// mergeMetadata overlays the patch map on the current map. A nil patch
// value deletes the key; everything else replaces it.
func mergeMetadata(current, patch map[string]any) map[string]any {
	if patch == nil {
		if current == nil {
			return nil
		}
		out := make(map[string]any, len(current))
		for k, v := range current {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
