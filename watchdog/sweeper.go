package watchdog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/prcheck"
	"github.com/c360studio/steward/store"
	"github.com/c360studio/steward/task"
)

// sweepCooldown limits repeat drift reports per task.
const sweepCooldown = time.Hour

// SweeperWorker re-verifies PR evidence on validating tasks. Evidence that
// drifted since the review packet was cut gets a drift report and a nudge;
// the close gate itself stays the enforcement point.
type SweeperWorker struct {
	deps *Deps

	mu       sync.Mutex
	reported map[string]time.Time
}

// NewSweeperWorker creates the execution sweeper.
func NewSweeperWorker(deps *Deps) *SweeperWorker {
	return &SweeperWorker{deps: deps, reported: make(map[string]time.Time)}
}

// Name implements Worker.
func (w *SweeperWorker) Name() string { return "sweeper" }

// Interval implements Worker.
func (w *SweeperWorker) Interval() time.Duration { return 15 * time.Minute }

// Tick implements Worker.
func (w *SweeperWorker) Tick(ctx context.Context, opts TickOptions) (*TickReport, error) {
	opts.normalize()
	if r := w.deps.quietTick(w.Name(), opts); r != nil {
		return r, nil
	}
	cfg := w.deps.Policy.Get().Watchdog
	report := &TickReport{Worker: w.Name(), At: opts.Now}

	if w.deps.Checker == nil {
		return report, nil
	}

	validating, err := w.deps.Store.ListTasks(ctx, store.TaskFilter{Status: store.TaskStatusValidating})
	if err != nil {
		return nil, err
	}

	for _, t := range validating {
		if len(report.Actions) >= cfg.MaxActionsPerTick {
			report.Capped = true
			break
		}
		ev := task.ParseEvidence(t.Metadata)
		if ev.Packet == nil || ev.Packet.PRURL == "" {
			continue
		}
		if !opts.Force && !w.cooldownElapsed(t.ID, opts.Now) {
			continue
		}

		pr, err := w.deps.Checker.Lookup(ctx, ev.Packet.PRURL)
		if err != nil {
			w.deps.Logger.Warn("Sweeper PR lookup failed", "task", t.ShortID(), "error", err)
			continue
		}

		if stamp := mergeEvidence(t, ev, pr, opts.Now); stamp != nil {
			action := Action{
				Kind:   "merge-observed",
				Agent:  t.Assignee,
				TaskID: t.ID,
				Detail: fmt.Sprintf("PR for %q is merged, close evidence stamped", t.Title),
			}
			if !opts.DryRun {
				if _, _, err := w.deps.Engine.Apply(ctx, t.ID, &task.Patch{
					Metadata: stamp,
					Actor:    "steward",
					Context:  "sweeper",
				}); err != nil {
					w.deps.Logger.Warn("Failed to stamp merge evidence", "task", t.ShortID(), "error", err)
					continue
				}
				action.Applied = true
			}
			report.Actions = append(report.Actions, action)
			continue
		}

		drift := describeDrift(ev.Packet, pr)
		if drift == "" {
			continue
		}

		action := Action{
			Kind:   "drift",
			Agent:  t.Assignee,
			TaskID: t.ID,
			Detail: fmt.Sprintf("%q evidence drifted: %s", t.Title, drift),
		}
		if !opts.DryRun {
			w.markReported(t.ID, opts.Now)
			w.deps.Publisher.Emit(ctx, events.Event{
				Kind:   events.KindDriftReport,
				TaskID: t.ID,
				Agent:  t.Assignee,
				Data: map[string]any{
					"pr_url":   ev.Packet.PRURL,
					"pr_state": string(pr.State),
					"detail":   drift,
				},
			})
			w.deps.nudge(ctx, agentChannel(t.Assignee),
				fmt.Sprintf("@%s %s. Refresh the review packet before closing.", t.Assignee, action.Detail), false, opts.Force)
			action.Applied = true
		}
		report.Actions = append(report.Actions, action)
	}
	return report, nil
}

// mergeEvidence builds the close metadata stamped when a merged PR is
// observed on a validating task: the integrity record plus the PR URL in
// artifacts so the close gate finds both. Nil when the PR is not merged
// or the task already carries the stamp.
func mergeEvidence(t *store.Task, ev task.Evidence, pr *prcheck.PR, now time.Time) map[string]any {
	if pr == nil || pr.State != prcheck.StateMerged {
		return nil
	}
	if _, stamped := t.Metadata[task.MetaPRIntegrity]; stamped {
		return nil
	}
	stamp := map[string]any{
		task.MetaPRIntegrity: map[string]any{
			"state":       "merged",
			"head_sha":    pr.HeadSHA,
			"observed_at": now.Format(time.RFC3339),
		},
	}
	hasURL := false
	for _, a := range ev.Artifacts {
		if a == ev.Packet.PRURL {
			hasURL = true
			break
		}
	}
	if !hasURL {
		stamp[task.MetaArtifacts] = append(append([]string(nil), ev.Artifacts...), ev.Packet.PRURL)
	}
	return stamp
}

// describeDrift compares live PR state with the review packet. Unknown
// lookups never count as drift.
func describeDrift(packet *task.ReviewPacket, pr *prcheck.PR) string {
	if pr.State == prcheck.StateUnknown {
		return ""
	}
	if pr.State == prcheck.StateClosed {
		return "PR was closed without merging"
	}
	if pr.HeadSHA != "" && !shaMatches(pr.HeadSHA, packet.Commit) {
		return fmt.Sprintf("PR head moved from %s to %s", shortSHA(packet.Commit), shortSHA(pr.HeadSHA))
	}
	if len(pr.ChangedFiles) > 0 {
		reviewed := make(map[string]bool, len(packet.ChangedFiles))
		for _, f := range packet.ChangedFiles {
			reviewed[f] = true
		}
		for _, f := range pr.ChangedFiles {
			if !reviewed[f] {
				return fmt.Sprintf("PR now touches %s, which the packet never covered", f)
			}
		}
	}
	return ""
}

// shaMatches tolerates abbreviated SHAs on either side.
func shaMatches(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func shortSHA(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func (w *SweeperWorker) cooldownElapsed(taskID string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.reported[taskID]
	return !ok || now.Sub(last) >= sweepCooldown
}

func (w *SweeperWorker) markReported(taskID string, now time.Time) {
	w.mu.Lock()
	w.reported[taskID] = now
	w.mu.Unlock()
}
