package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360studio/steward/store"
)

// CadenceWorker asks for a status update when a doing task itself goes
// stale, regardless of the agent's chat presence.
type CadenceWorker struct {
	deps *Deps

	mu        sync.Mutex
	lastAsked map[string]time.Time
}

// NewCadenceWorker creates the cadence watchdog.
func NewCadenceWorker(deps *Deps) *CadenceWorker {
	return &CadenceWorker{deps: deps, lastAsked: make(map[string]time.Time)}
}

// Name implements Worker.
func (w *CadenceWorker) Name() string { return "cadence" }

// Interval implements Worker.
func (w *CadenceWorker) Interval() time.Duration { return time.Minute }

// Tick implements Worker.
func (w *CadenceWorker) Tick(ctx context.Context, opts TickOptions) (*TickReport, error) {
	opts.normalize()
	if r := w.deps.quietTick(w.Name(), opts); r != nil {
		return r, nil
	}
	cfg := w.deps.Policy.Get().Watchdog
	report := &TickReport{Worker: w.Name(), At: opts.Now}

	doing, err := w.deps.Store.ListTasks(ctx, store.TaskFilter{Status: store.TaskStatusDoing})
	if err != nil {
		return nil, err
	}

	for _, t := range doing {
		if len(report.Actions) >= cfg.MaxActionsPerTick {
			report.Capped = true
			break
		}
		if t.Assignee == "" {
			continue
		}
		if opts.Now.Sub(t.UpdatedAt) < minutes(cfg.WorkingStaleMin) {
			continue
		}
		if w.deps.skipAgent(ctx, t.Assignee, opts.Now) {
			continue
		}
		if !opts.Force {
			w.mu.Lock()
			last, asked := w.lastAsked[t.ID]
			w.mu.Unlock()
			if asked && opts.Now.Sub(last) < minutes(cfg.CadenceCooldownMin) {
				continue
			}
		}

		action := Action{
			Kind:   "cadence",
			Agent:  t.Assignee,
			TaskID: t.ID,
			Detail: fmt.Sprintf("@%s %q has had no update for %s. Quick status?",
				t.Assignee, t.Title, opts.Now.Sub(t.UpdatedAt).Round(time.Minute)),
		}
		if !opts.DryRun {
			w.mu.Lock()
			w.lastAsked[t.ID] = opts.Now
			w.mu.Unlock()
			w.deps.nudge(ctx, agentChannel(t.Assignee), action.Detail, false, opts.Force)
			action.Applied = true
		}
		report.Actions = append(report.Actions, action)
	}
	return report, nil
}
