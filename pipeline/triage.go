package pipeline

import (
	"context"
	"fmt"

	"github.com/c360studio/steward/store"
	"github.com/c360studio/steward/task"
)

// Triage applies a human decision to a pending insight. approve promotes
// it into a task; dismiss closes it.
func (p *Pipeline) Triage(ctx context.Context, insightID, actor, decision, reason string) (*store.Insight, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	insight, err := p.store.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if insight.Status != store.InsightStatusPendingTriage && insight.Status != store.InsightStatusOpen {
		return nil, fmt.Errorf("insight %s is %s, not triageable", insight.ID, insight.Status)
	}

	switch decision {
	case "approve":
		if err := p.promote(ctx, insight, actor, "approve"); err != nil {
			return nil, err
		}
	case "dismiss":
		insight.Status = store.InsightStatusClosed
		if err := p.store.PutInsight(ctx, insight); err != nil {
			return nil, err
		}
		if err := p.store.AddTriageDecision(ctx, &store.TriageDecision{
			InsightID: insight.ID,
			Action:    "dismiss",
			Actor:     actor,
			Reason:    reason,
		}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown decision %q, want approve or dismiss", decision)
	}
	return insight, nil
}

// ReconcileReport summarizes a reconcile pass.
type ReconcileReport struct {
	DryRun bool `json:"dry_run"`
	// Closed lists insights whose bridge task completed.
	Closed []string `json:"closed,omitempty"`
	// Reverted lists insights whose bridge task disappeared; they reopen.
	Reverted []string `json:"reverted,omitempty"`
	Examined int      `json:"examined"`
}

// Reconcile walks task_created insights and converges them with their
// bridge tasks: done task closes the insight, a missing task reopens it.
// With dryRun the report is computed without writing anything.
func (p *Pipeline) Reconcile(ctx context.Context, actor string, dryRun bool) (*ReconcileReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	insights, err := p.store.ListInsights(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{DryRun: dryRun}
	for _, insight := range insights {
		if insight.Status != store.InsightStatusTaskCreated {
			continue
		}
		report.Examined++

		t, err := p.store.GetTask(ctx, insight.TaskID)
		if err == store.ErrNotFound {
			report.Reverted = append(report.Reverted, insight.ID)
			if dryRun {
				continue
			}
			insight.Status = store.InsightStatusOpen
			insight.TaskID = ""
			if err := p.store.PutInsight(ctx, insight); err != nil {
				return report, err
			}
			_ = p.store.AddTriageDecision(ctx, &store.TriageDecision{
				InsightID: insight.ID,
				Action:    "reconcile",
				Actor:     actor,
				Reason:    "bridge task missing, insight reopened",
			})
			continue
		}
		if err != nil {
			return report, err
		}

		if t.Status != store.TaskStatusDone {
			continue
		}
		report.Closed = append(report.Closed, insight.ID)
		if dryRun {
			continue
		}
		insight.Status = store.InsightStatusClosed
		if err := p.store.PutInsight(ctx, insight); err != nil {
			return report, err
		}
		if _, _, err := p.engine.Apply(ctx, t.ID, &task.Patch{
			Metadata: map[string]any{task.MetaReconciled: true},
			Actor:    actor,
			Context:  "reconcile",
		}); err != nil {
			p.logger.Warn("Failed to stamp reconciled task", "task", t.ShortID(), "error", err)
		}
		_ = p.store.AddTriageDecision(ctx, &store.TriageDecision{
			InsightID: insight.ID,
			Action:    "reconcile",
			Actor:     actor,
			TaskID:    t.ID,
			Reason:    "bridge task done, insight closed",
		})
	}
	return report, nil
}

// Orphans returns task_created insights whose bridge task no longer
// resolves.
func (p *Pipeline) Orphans(ctx context.Context) ([]*store.Insight, error) {
	insights, err := p.store.ListInsights(ctx)
	if err != nil {
		return nil, err
	}
	var out []*store.Insight
	for _, insight := range insights {
		if insight.Status != store.InsightStatusTaskCreated {
			continue
		}
		if _, err := p.store.GetTask(ctx, insight.TaskID); err == store.ErrNotFound {
			out = append(out, insight)
		} else if err != nil {
			return nil, err
		}
	}
	return out, nil
}
