package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/store"
)

// idleVerdicts.
const (
	idleNone     = "none"
	idleWarn     = "warn"
	idleEscalate = "escalate"
)

// idleVerdict grades an agent's silence. Pure so the thresholds are
// testable.
func idleVerdict(lastActivity, now time.Time, cfg config.WatchdogConfig) string {
	if lastActivity.IsZero() {
		return idleNone
	}
	idle := now.Sub(lastActivity)
	switch {
	case idle >= minutes(cfg.IdleEscalateMin):
		return idleEscalate
	case idle >= minutes(cfg.IdleWarnMin):
		return idleWarn
	}
	return idleNone
}

// IdleWorker nudges agents who hold doing work but have gone quiet.
type IdleWorker struct {
	deps *Deps

	mu         sync.Mutex
	lastNudged map[string]time.Time
}

// NewIdleWorker creates the idle watchdog.
func NewIdleWorker(deps *Deps) *IdleWorker {
	return &IdleWorker{deps: deps, lastNudged: make(map[string]time.Time)}
}

// Name implements Worker.
func (w *IdleWorker) Name() string { return "idle" }

// Interval implements Worker.
func (w *IdleWorker) Interval() time.Duration { return time.Minute }

// Tick implements Worker.
func (w *IdleWorker) Tick(ctx context.Context, opts TickOptions) (*TickReport, error) {
	opts.normalize()
	if r := w.deps.quietTick(w.Name(), opts); r != nil {
		return r, nil
	}
	policy := w.deps.Policy.Get()
	cfg := policy.Watchdog
	report := &TickReport{Worker: w.Name(), At: opts.Now}

	rows, err := w.deps.Store.ListPresence(ctx)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if len(report.Actions) >= cfg.MaxActionsPerTick {
			report.Capped = true
			break
		}
		verdict := idleVerdict(row.LastActivity, opts.Now, cfg)
		if verdict == idleNone {
			continue
		}
		if w.deps.skipAgent(ctx, row.Agent, opts.Now) {
			continue
		}

		doing, err := w.deps.Store.ListTasks(ctx, store.TaskFilter{
			Status: store.TaskStatusDoing, Assignee: row.Agent,
		})
		if err != nil {
			return nil, err
		}
		if len(doing) == 0 {
			continue
		}
		if w.recentlyShipped(ctx, row.Agent, opts.Now, cfg) {
			continue
		}
		if !opts.Force && !w.cooldownElapsed(row.Agent, opts.Now, cfg) {
			continue
		}

		t := doing[0]
		action := Action{Kind: verdict, Agent: row.Agent, TaskID: t.ID}
		if verdict == idleEscalate {
			action.Detail = fmt.Sprintf("%s has been silent %s with %q in progress",
				row.Agent, opts.Now.Sub(row.LastActivity).Round(time.Minute), t.Title)
		} else {
			action.Detail = fmt.Sprintf("@%s still on %q? No activity for %s.",
				row.Agent, t.Title, opts.Now.Sub(row.LastActivity).Round(time.Minute))
		}

		if !opts.DryRun {
			w.markNudged(row.Agent, opts.Now)
			if verdict == idleEscalate {
				w.deps.escalate(ctx, row.Agent, "idle", agentChannel(row.Agent), action.Detail)
			} else {
				w.deps.nudge(ctx, agentChannel(row.Agent), action.Detail, false, opts.Force)
			}
			action.Applied = true
		}
		report.Actions = append(report.Actions, action)
	}
	return report, nil
}

// recentlyShipped grants a grace window after an agent ships something.
func (w *IdleWorker) recentlyShipped(ctx context.Context, agent string, now time.Time, cfg config.WatchdogConfig) bool {
	done, err := w.deps.Store.ListTasks(ctx, store.TaskFilter{
		Status: store.TaskStatusDone, Assignee: agent, Limit: 1,
	})
	if err != nil || len(done) == 0 {
		return false
	}
	return now.Sub(done[0].UpdatedAt) < minutes(cfg.PostShipGraceMin)
}

func (w *IdleWorker) cooldownElapsed(agent string, now time.Time, cfg config.WatchdogConfig) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.lastNudged[agent]
	return !ok || now.Sub(last) >= minutes(cfg.IdleCooldownMin)
}

func (w *IdleWorker) markNudged(agent string, now time.Time) {
	w.mu.Lock()
	w.lastNudged[agent] = now
	w.mu.Unlock()
}
