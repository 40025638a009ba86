// Package routing assigns work to agents: load-aware assignee suggestion,
// time-boxed routing overrides, and an approval queue guarding protected
// domains.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/store"
	"github.com/c360studio/steward/task"
)

// Router owns routing decisions.
type Router struct {
	store     *store.Store
	engine    *task.Engine
	publisher *events.Publisher
	logger    *slog.Logger

	// protected are doublestar patterns; tasks matching one need an
	// explicit approval before they are routed.
	protected []string
}

// New wires the router. protected patterns match against task tags and the
// changed-file paths in the review packet.
func New(st *store.Store, engine *task.Engine, publisher *events.Publisher,
	protected []string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:     st,
		engine:    engine,
		publisher: publisher,
		protected: protected,
		logger:    logger,
	}
}

// Protected reports whether the task touches a protected domain, and the
// matching pattern.
func (r *Router) Protected(t *store.Task) (bool, string) {
	subjects := make([]string, 0, len(t.Tags))
	subjects = append(subjects, t.Tags...)
	if t.Metadata != nil {
		if bundle, ok := t.Metadata[task.MetaQABundle].(map[string]any); ok {
			if packet, ok := bundle["review_packet"].(map[string]any); ok {
				if files, ok := packet["changed_files"].([]any); ok {
					for _, f := range files {
						if s, ok := f.(string); ok {
							subjects = append(subjects, s)
						}
					}
				}
			}
		}
	}

	for _, pattern := range r.protected {
		for _, subject := range subjects {
			if ok, err := doublestar.Match(pattern, subject); err == nil && ok {
				return true, pattern
			}
		}
	}
	return false, ""
}

// Suggestion is the router's assignee recommendation.
type Suggestion struct {
	Assignee string `json:"assignee"`
	// Override is the id of the routing override that decided, if any.
	Override string `json:"override,omitempty"`
	// Load is the suggested assignee's current doing count.
	Load int `json:"load"`
	// Reason explains the pick.
	Reason string `json:"reason"`
}

// SuggestAssignee picks an assignee for a task. Live overrides matching a
// task tag win; otherwise the least-loaded recently-active agent is chosen,
// excluding the reviewer and paused agents.
func (r *Router) SuggestAssignee(ctx context.Context, t *store.Task) (*Suggestion, error) {
	now := time.Now().UTC()

	overrides, err := r.store.ListRoutingOverrides(ctx, now, true)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		for _, tag := range t.Tags {
			if ok, err := doublestar.Match(o.TagPattern, tag); err == nil && ok {
				load, _ := r.store.CountDoing(ctx, o.Target)
				return &Suggestion{
					Assignee: o.Target,
					Override: o.ID,
					Load:     load,
					Reason:   fmt.Sprintf("override %s matches tag %q", o.ID[:8], tag),
				}, nil
			}
		}
	}

	rows, err := r.store.ListPresence(ctx)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		agent string
		load  int
		seen  time.Time
	}
	var candidates []candidate
	for _, row := range rows {
		if strings.EqualFold(row.Agent, t.Reviewer) {
			continue
		}
		if paused, err := r.store.IsPaused(ctx, row.Agent, now); err == nil && paused {
			continue
		}
		load, err := r.store.CountDoing(ctx, row.Agent)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{agent: row.Agent, load: load, seen: row.LastActivity})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no routable agents")
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].load != candidates[j].load {
			return candidates[i].load < candidates[j].load
		}
		return candidates[i].seen.After(candidates[j].seen)
	})
	best := candidates[0]
	return &Suggestion{
		Assignee: best.agent,
		Load:     best.load,
		Reason:   fmt.Sprintf("least loaded of %d active agents", len(candidates)),
	}, nil
}

// Route assigns the task to the suggested agent. Protected tasks must hold
// an approval first; without one Route records nothing and returns
// ErrApprovalRequired.
func (r *Router) Route(ctx context.Context, taskID, actor string) (*store.Task, *Suggestion, error) {
	t, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}

	if protected, pattern := r.Protected(t); protected {
		decision, err := r.store.GetRoutingDecision(ctx, t.ID)
		if err == store.ErrNotFound || (err == nil && decision.Decision != "approve") {
			return nil, nil, &ApprovalRequiredError{TaskID: t.ID, Pattern: pattern}
		}
		if err != nil {
			return nil, nil, err
		}
	}

	suggestion, err := r.SuggestAssignee(ctx, t)
	if err != nil {
		return nil, nil, err
	}

	updated, _, err := r.engine.Apply(ctx, t.ID, &task.Patch{
		Assignee: &suggestion.Assignee,
		Actor:    actor,
		Context:  "routing",
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, suggestion, nil
}

// ApprovalRequiredError signals a protected task awaiting approval.
type ApprovalRequiredError struct {
	TaskID  string
	Pattern string
}

// Error implements error.
func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("task %s touches protected domain %q and needs routing approval", e.TaskID, e.Pattern)
}

// Decide records an approval-queue verdict on a protected task. Approvals
// stamp the task so later routing passes.
func (r *Router) Decide(ctx context.Context, taskID, actor, decision, reason string) (*store.RoutingDecision, error) {
	if decision != "approve" && decision != "reject" {
		return nil, fmt.Errorf("unknown decision %q, want approve or reject", decision)
	}
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	t, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	d := &store.RoutingDecision{TaskID: t.ID, Decision: decision, Actor: actor, Reason: reason}
	if err := r.store.PutRoutingDecision(ctx, d); err != nil {
		return nil, err
	}

	if decision == "approve" {
		if _, _, err := r.engine.Apply(ctx, t.ID, &task.Patch{
			Metadata: map[string]any{task.MetaRoutingApproval: actor},
			Actor:    actor,
			Context:  "routing_approval",
		}); err != nil {
			r.logger.Warn("Failed to stamp routing approval", "task", t.ShortID(), "error", err)
		}
	}
	return d, nil
}

// Queue lists protected tasks with no approval yet.
func (r *Router) Queue(ctx context.Context) ([]*store.Task, error) {
	tasks, err := r.store.ListTasks(ctx, store.TaskFilter{Status: store.TaskStatusTodo})
	if err != nil {
		return nil, err
	}
	var out []*store.Task
	for _, t := range tasks {
		if protected, _ := r.Protected(t); !protected {
			continue
		}
		if d, err := r.store.GetRoutingDecision(ctx, t.ID); err == nil && d.Decision == "approve" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// SweepOverrides drops expired overrides. The scheduler runs this
// periodically.
func (r *Router) SweepOverrides(ctx context.Context) (int, error) {
	removed, err := r.store.SweepExpiredOverrides(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.logger.Info("Swept expired routing overrides", "removed", removed)
	}
	return removed, nil
}

// ValidateOverride checks an override before persisting it.
func ValidateOverride(o *store.RoutingOverride) error {
	if strings.TrimSpace(o.TagPattern) == "" {
		return fmt.Errorf("tag_pattern is required")
	}
	if !doublestar.ValidatePattern(o.TagPattern) {
		return fmt.Errorf("tag_pattern %q is not a valid glob", o.TagPattern)
	}
	if strings.TrimSpace(o.Target) == "" {
		return fmt.Errorf("target is required")
	}
	if o.ExpiresAt.IsZero() {
		return fmt.Errorf("expires_at is required, overrides are time-boxed")
	}
	if !o.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("expires_at is in the past")
	}
	return nil
}
