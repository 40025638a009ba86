// Package watchdog hosts the periodic governance workers: idle nudging,
// cadence checks, mention rescue, board health with reversible actions,
// the execution sweeper and the reminder engine. Workers run on a
// cooperative scheduler and cap their actions per tick.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360studio/steward/chat"
	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/prcheck"
	"github.com/c360studio/steward/store"
	"github.com/c360studio/steward/task"
)

// Deps bundles what every worker needs.
type Deps struct {
	Store     *store.Store
	Engine    *task.Engine
	Policy    *config.PolicyStore
	Chat      *chat.Service
	Publisher *events.Publisher
	Checker   prcheck.Checker
	Logger    *slog.Logger
}

// TickOptions tunes a single tick. Admin endpoints use Force to bypass
// cooldowns and Now to replay a moment in time.
type TickOptions struct {
	Now    time.Time
	DryRun bool
	Force  bool
}

func (o *TickOptions) normalize() {
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
}

// Action is one thing a worker did (or would do, under dry run).
type Action struct {
	Kind    string `json:"kind"`
	Agent   string `json:"agent,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Applied bool   `json:"applied"`
}

// TickReport summarizes a tick.
type TickReport struct {
	Worker  string    `json:"worker"`
	At      time.Time `json:"at"`
	Actions []Action  `json:"actions,omitempty"`
	// Capped is true when the per-tick action cap stopped the scan early.
	Capped bool `json:"capped,omitempty"`
	// Suppressed is true when the whole tick was withheld, with Reason
	// naming the cause.
	Suppressed bool   `json:"suppressed,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Worker is a periodic governance job.
type Worker interface {
	Name() string
	Interval() time.Duration
	Tick(ctx context.Context, opts TickOptions) (*TickReport, error)
}

// skipAgent reports whether nudge-like attention should leave the agent
// alone right now: paused, inside a calendar block, or deep in a focus
// window.
func (d *Deps) skipAgent(ctx context.Context, agent string, now time.Time) bool {
	if paused, err := d.Store.IsPaused(ctx, agent, now); err == nil && paused {
		return true
	}
	if _, err := d.Store.ActiveBlock(ctx, agent, now); err == nil {
		return true
	}
	if d.Engine.Focus().Active(agent, now) {
		return true
	}
	return false
}

// quietTick short-circuits a nudging worker while quiet hours are in
// effect. Forced ticks run anyway.
func (d *Deps) quietTick(worker string, opts TickOptions) *TickReport {
	if opts.Force || !d.Policy.Get().QuietHours.InEffect(opts.Now) {
		return nil
	}
	return &TickReport{Worker: worker, At: opts.Now, Suppressed: true, Reason: "quiet-hours"}
}

// nudge posts an automated message. The noise gate decides whether it
// actually lands; force pushes it through quiet hours.
func (d *Deps) nudge(ctx context.Context, channel, body string, critical, force bool) bool {
	result, err := d.Chat.Post(ctx, chat.PostInput{
		Channel:   channel,
		Author:    "steward",
		Body:      body,
		Automated: true,
		Critical:  critical,
		Force:     force,
	})
	if err != nil {
		d.Logger.Warn("Failed to post nudge", "channel", channel, "error", err)
		return false
	}
	return !result.Suppressed
}

// escalate records an escalation and announces it as critical.
func (d *Deps) escalate(ctx context.Context, agent, kind, channel, detail string) {
	if err := d.Store.AppendEscalation(ctx, &store.Escalation{
		Agent:   agent,
		Kind:    kind,
		Channel: channel,
		Detail:  detail,
	}); err != nil {
		d.Logger.Warn("Failed to record escalation", "agent", agent, "error", err)
	}
	d.Publisher.Emit(ctx, events.Event{
		Kind:  events.KindEscalation,
		Agent: agent,
		Topic: channel,
		Data:  map[string]any{"escalation_kind": kind, "detail": detail},
	})
	d.nudge(ctx, channel, detail, true, false)
}

// agentChannel is where direct nudges to an agent land.
func agentChannel(agent string) string {
	return "agent-" + agent
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
