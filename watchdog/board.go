package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/steward/store"
	"github.com/c360studio/steward/task"
)

// BoardWorker keeps the board honest: doing tasks that sit untouched long
// enough get auto-blocked (reversibly), stale reviews nudge the reviewer,
// and long-blocked tasks get a close suggestion.
type BoardWorker struct {
	deps *Deps
}

// NewBoardWorker creates the board-health watchdog.
func NewBoardWorker(deps *Deps) *BoardWorker {
	return &BoardWorker{deps: deps}
}

// Name implements Worker.
func (w *BoardWorker) Name() string { return "board" }

// Interval implements Worker.
func (w *BoardWorker) Interval() time.Duration { return 30 * time.Minute }

// Tick implements Worker.
func (w *BoardWorker) Tick(ctx context.Context, opts TickOptions) (*TickReport, error) {
	opts.normalize()
	if r := w.deps.quietTick(w.Name(), opts); r != nil {
		return r, nil
	}
	report := &TickReport{Worker: w.Name(), At: opts.Now}

	if err := w.sweepStaleDoing(ctx, opts, report); err != nil {
		return nil, err
	}
	if report.Capped {
		return report, nil
	}
	if err := w.sweepStaleValidating(ctx, opts, report); err != nil {
		return nil, err
	}
	if report.Capped {
		return report, nil
	}
	if err := w.sweepLongBlocked(ctx, opts, report); err != nil {
		return nil, err
	}
	return report, nil
}

// sweepStaleDoing auto-blocks doing tasks untouched past the stale
// threshold. The before/after state lands in a continuity record so the
// block can be rolled back.
func (w *BoardWorker) sweepStaleDoing(ctx context.Context, opts TickOptions, report *TickReport) error {
	cfg := w.deps.Policy.Get().Watchdog
	doing, err := w.deps.Store.ListTasks(ctx, store.TaskFilter{Status: store.TaskStatusDoing})
	if err != nil {
		return err
	}
	for _, t := range doing {
		if len(report.Actions) >= cfg.MaxActionsPerTick {
			report.Capped = true
			return nil
		}
		if opts.Now.Sub(t.UpdatedAt) < minutes(cfg.BoardStaleDoingMin) {
			continue
		}
		if alreadyAutoActioned(ctx, w.deps, w.Name(), "auto_block", t.ID) {
			continue
		}

		action := Action{
			Kind:   "auto_block",
			Agent:  t.Assignee,
			TaskID: t.ID,
			Detail: fmt.Sprintf("auto-blocked %q after %s without movement", t.Title,
				opts.Now.Sub(t.UpdatedAt).Round(time.Minute)),
		}
		if !opts.DryRun {
			if err := w.autoBlock(ctx, t, opts); err != nil {
				w.deps.Logger.Warn("Board auto-block failed", "task", t.ShortID(), "error", err)
				continue
			}
			action.Applied = true
		}
		report.Actions = append(report.Actions, action)
	}
	return nil
}

func (w *BoardWorker) autoBlock(ctx context.Context, t *store.Task, opts TickOptions) error {
	blocked := store.TaskStatusBlocked
	_, _, err := w.deps.Engine.Apply(ctx, t.ID, &task.Patch{
		Status: &blocked,
		Metadata: map[string]any{
			task.MetaAutoBlockReason: "stale_doing",
		},
		Actor:   "steward",
		Context: "watchdog:board",
	})
	if err != nil {
		return err
	}

	record := &store.ContinuityAction{
		Worker: w.Name(),
		Kind:   "auto_block",
		TaskID: t.ID,
		Agent:  t.Assignee,
		Before: map[string]any{"status": string(t.Status)},
		After:  map[string]any{"status": string(store.TaskStatusBlocked), "reason": "stale_doing"},
	}
	if err := w.deps.Store.AppendContinuityAction(ctx, record); err != nil {
		return err
	}
	w.deps.nudge(ctx, agentChannel(t.Assignee),
		fmt.Sprintf("@%s %q was auto-blocked for inactivity. Unblock with a status update, or roll back action %s.",
			t.Assignee, t.Title, record.ID[:8]), false, opts.Force)
	return nil
}

// sweepStaleValidating nudges reviewers whose queue has gone quiet.
func (w *BoardWorker) sweepStaleValidating(ctx context.Context, opts TickOptions, report *TickReport) error {
	cfg := w.deps.Policy.Get().Watchdog
	validating, err := w.deps.Store.ListTasks(ctx, store.TaskFilter{Status: store.TaskStatusValidating})
	if err != nil {
		return err
	}
	for _, t := range validating {
		if len(report.Actions) >= cfg.MaxActionsPerTick {
			report.Capped = true
			return nil
		}
		lastActivity := reviewActivity(t)
		if lastActivity.IsZero() || opts.Now.Sub(lastActivity) < minutes(cfg.BoardStaleDoingMin) {
			continue
		}
		if t.Reviewer == "" || w.deps.skipAgent(ctx, t.Reviewer, opts.Now) {
			continue
		}

		action := Action{
			Kind:   "review_stale",
			Agent:  t.Reviewer,
			TaskID: t.ID,
			Detail: fmt.Sprintf("@%s review of %q has been idle %s",
				t.Reviewer, t.Title, opts.Now.Sub(lastActivity).Round(time.Minute)),
		}
		if !opts.DryRun {
			w.deps.nudge(ctx, agentChannel(t.Reviewer), action.Detail, false, opts.Force)
			action.Applied = true
		}
		report.Actions = append(report.Actions, action)
	}
	return nil
}

// sweepLongBlocked suggests closing tasks stuck in blocked far past the
// done-stale threshold. Suggestion only, never auto-applied.
func (w *BoardWorker) sweepLongBlocked(ctx context.Context, opts TickOptions, report *TickReport) error {
	cfg := w.deps.Policy.Get().Watchdog
	blocked, err := w.deps.Store.ListTasks(ctx, store.TaskFilter{Status: store.TaskStatusBlocked})
	if err != nil {
		return err
	}
	for _, t := range blocked {
		if len(report.Actions) >= cfg.MaxActionsPerTick {
			report.Capped = true
			return nil
		}
		if opts.Now.Sub(t.UpdatedAt) < minutes(cfg.BoardStaleDoneMin) {
			continue
		}
		if alreadyAutoActioned(ctx, w.deps, w.Name(), "suggest_close", t.ID) {
			continue
		}

		owner := t.Assignee
		if owner == "" {
			owner = t.Reviewer
		}
		action := Action{
			Kind:   "suggest_close",
			Agent:  owner,
			TaskID: t.ID,
			Detail: fmt.Sprintf("%q has been blocked for %s. Close it or pick it back up?",
				t.Title, opts.Now.Sub(t.UpdatedAt).Round(time.Hour)),
		}
		if !opts.DryRun {
			if err := w.deps.Store.AppendContinuityAction(ctx, &store.ContinuityAction{
				Worker: w.Name(),
				Kind:   "suggest_close",
				TaskID: t.ID,
				Agent:  owner,
			}); err != nil {
				return err
			}
			w.deps.nudge(ctx, agentChannel(owner), action.Detail, false, opts.Force)
			action.Applied = true
		}
		report.Actions = append(report.Actions, action)
	}
	return nil
}

// Rollback reverses a recorded auto-block within the rollback window.
func (w *BoardWorker) Rollback(ctx context.Context, actionID string, now time.Time) (*store.ContinuityAction, error) {
	record, err := w.deps.Store.GetContinuityAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if record.RolledBack {
		return nil, fmt.Errorf("action %s already rolled back", actionID)
	}
	if record.Kind != "auto_block" {
		return nil, fmt.Errorf("action kind %q is not reversible", record.Kind)
	}
	window := w.deps.Policy.Get().Watchdog.RollbackWindow
	if now.Sub(record.CreatedAt) > window {
		return nil, fmt.Errorf("rollback window of %s has passed", window)
	}

	prior, _ := record.Before["status"].(string)
	if prior == "" {
		return nil, fmt.Errorf("action %s carries no prior status", actionID)
	}
	status := store.TaskStatus(prior)
	_, _, err = w.deps.Engine.Apply(ctx, record.TaskID, &task.Patch{
		Status: &status,
		Metadata: map[string]any{
			task.MetaAutoBlockReason: nil,
		},
		Actor:   "steward",
		Context: "watchdog:rollback",
	})
	if err != nil {
		return nil, err
	}

	record.RolledBack = true
	if err := w.deps.Store.PutContinuityAction(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// alreadyAutoActioned reports whether a live (not rolled back) action of
// the given kind already exists for the task.
func alreadyAutoActioned(ctx context.Context, deps *Deps, worker, kind, taskID string) bool {
	actions, err := deps.Store.ListContinuityActions(ctx, worker, 0)
	if err != nil {
		return false
	}
	for _, a := range actions {
		if a.Kind == kind && a.TaskID == taskID && !a.RolledBack {
			return true
		}
	}
	return false
}

// reviewActivity returns the review clock for a validating task, falling
// back to the task's own updated_at.
func reviewActivity(t *store.Task) time.Time {
	if s := t.MetaString(task.MetaReviewLastActivity); s != "" {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
	}
	return t.UpdatedAt
}
