package watchdog

import (
	"context"
	"time"
)

// ReminderWorker delivers due reminders and marks them done. Delivery goes
// through the chat noise gate like every other automated message; a diverted
// reminder still lands via the digest, so it counts as delivered.
type ReminderWorker struct {
	deps *Deps
}

// NewReminderWorker creates the reminder watchdog.
func NewReminderWorker(deps *Deps) *ReminderWorker {
	return &ReminderWorker{deps: deps}
}

// Name implements Worker.
func (w *ReminderWorker) Name() string { return "reminder" }

// Interval implements Worker.
func (w *ReminderWorker) Interval() time.Duration { return time.Minute }

// Tick implements Worker.
func (w *ReminderWorker) Tick(ctx context.Context, opts TickOptions) (*TickReport, error) {
	opts.normalize()
	cfg := w.deps.Policy.Get().Watchdog
	report := &TickReport{Worker: w.Name(), At: opts.Now}

	due, err := w.deps.Store.ListDueReminders(ctx, opts.Now)
	if err != nil {
		return nil, err
	}

	for _, r := range due {
		if len(report.Actions) >= cfg.MaxActionsPerTick {
			report.Capped = true
			break
		}
		channel := r.Channel
		if channel == "" && r.Agent != "" {
			channel = agentChannel(r.Agent)
		}
		if channel == "" {
			channel = "general"
		}

		action := Action{
			Kind:   "reminder",
			Agent:  r.Agent,
			Detail: r.Message,
		}
		if !opts.DryRun {
			w.deps.nudge(ctx, channel, "Reminder: "+r.Message, false, opts.Force)
			delivered := opts.Now
			r.DeliveredAt = &delivered
			if err := w.deps.Store.PutReminder(ctx, r); err != nil {
				w.deps.Logger.Warn("Failed to mark reminder delivered", "reminder", r.ID, "error", err)
				continue
			}
			action.Applied = true
		}
		report.Actions = append(report.Actions, action)
	}
	return report, nil
}
