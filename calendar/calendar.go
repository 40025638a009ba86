// Package calendar owns scheduled state: events, focus blocks, reminders
// and recurring task definitions. The materializer turns due recurring
// definitions into real tasks through the lifecycle engine.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/c360studio/steward/store"
	"github.com/c360studio/steward/task"
)

// Service manages calendar state and recurring task materialization.
type Service struct {
	store  *store.Store
	engine *task.Engine
	logger *slog.Logger
}

// NewService wires the calendar service.
func NewService(st *store.Store, engine *task.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, engine: engine, logger: logger}
}

// ValidateCronSpec parses a standard 5-field cron expression.
func ValidateCronSpec(spec string) (cron.Schedule, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("cron_spec is required")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron_spec %q: %w", spec, err)
	}
	return sched, nil
}

// CreateRecurring validates and persists a recurring task definition,
// stamping the first fire time.
func (s *Service) CreateRecurring(ctx context.Context, def *store.RecurringTaskDef) error {
	sched, err := ValidateCronSpec(def.CronSpec)
	if err != nil {
		return err
	}
	if strings.TrimSpace(def.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(def.Reviewer) == "" {
		return fmt.Errorf("reviewer is required")
	}
	if len(def.DoneCriteria) == 0 {
		return fmt.Errorf("done_criteria is required")
	}
	if def.Type == "" {
		def.Type = store.TaskTypeChore
	}
	if def.Priority == "" {
		def.Priority = store.PriorityP2
	}
	def.Enabled = true
	next := sched.Next(time.Now().UTC())
	def.NextFireAt = &next
	return s.store.PutRecurringTask(ctx, def)
}

// MaterializeDue fires every enabled definition whose next fire time has
// passed and advances its schedule. Returns the tasks created.
func (s *Service) MaterializeDue(ctx context.Context, now time.Time) ([]*store.Task, error) {
	defs, err := s.store.ListRecurringTasks(ctx)
	if err != nil {
		return nil, err
	}

	var created []*store.Task
	for _, def := range defs {
		if !def.Enabled || def.NextFireAt == nil || def.NextFireAt.After(now) {
			continue
		}
		sched, err := ValidateCronSpec(def.CronSpec)
		if err != nil {
			s.logger.Warn("Recurring definition has invalid cron spec, disabling",
				"definition", def.ID, "error", err)
			def.Enabled = false
			_ = s.store.PutRecurringTask(ctx, def)
			continue
		}

		t, err := s.engine.Create(ctx, task.CreateInput{
			Title:        def.Title,
			Description:  def.Description,
			Type:         def.Type,
			Priority:     def.Priority,
			Assignee:     def.Assignee,
			Reviewer:     def.Reviewer,
			DoneCriteria: append([]string(nil), def.DoneCriteria...),
			Tags:         append([]string(nil), def.Tags...),
			CreatedBy:    "steward",
			Metadata:     map[string]any{"recurring_def": def.ID},
		})
		if err != nil {
			s.logger.Warn("Failed to materialize recurring task",
				"definition", def.ID, "title", def.Title, "error", err)
			continue
		}
		created = append(created, t)

		fired := now
		def.LastFiredAt = &fired
		next := sched.Next(now)
		def.NextFireAt = &next
		if err := s.store.PutRecurringTask(ctx, def); err != nil {
			s.logger.Warn("Failed to advance recurring schedule", "definition", def.ID, "error", err)
		}
	}
	return created, nil
}

// Run materializes due definitions on a fixed cadence until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			created, err := s.MaterializeDue(ctx, time.Now().UTC())
			if err != nil {
				s.logger.Error("Recurring materialization failed", "error", err)
				continue
			}
			for _, t := range created {
				s.logger.Info("Materialized recurring task", "task", t.ShortID(), "title", t.Title)
			}
		}
	}
}

// SetRecurringEnabled flips a definition on or off. Re-enabling recomputes
// the next fire time so a long-disabled definition doesn't fire for every
// missed slot.
func (s *Service) SetRecurringEnabled(ctx context.Context, id string, enabled bool) (*store.RecurringTaskDef, error) {
	defs, err := s.store.ListRecurringTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if def.ID != id {
			continue
		}
		def.Enabled = enabled
		if enabled {
			sched, err := ValidateCronSpec(def.CronSpec)
			if err != nil {
				return nil, err
			}
			next := sched.Next(time.Now().UTC())
			def.NextFireAt = &next
		}
		if err := s.store.PutRecurringTask(ctx, def); err != nil {
			return nil, err
		}
		return def, nil
	}
	return nil, store.ErrNotFound
}

// CreateBlock validates and persists a focus block.
func (s *Service) CreateBlock(ctx context.Context, b *store.CalendarBlock) error {
	if b.Agent == "" {
		return fmt.Errorf("agent is required")
	}
	if b.StartsAt.IsZero() || b.EndsAt.IsZero() {
		return fmt.Errorf("starts_at and ends_at are required")
	}
	if !b.EndsAt.After(b.StartsAt) {
		return fmt.Errorf("ends_at must be after starts_at")
	}
	return s.store.PutCalendarBlock(ctx, b)
}

// CreateReminder validates and persists a reminder.
func (s *Service) CreateReminder(ctx context.Context, r *store.Reminder) error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if r.DueAt.IsZero() {
		return fmt.Errorf("due_at is required")
	}
	if r.Agent == "" && r.Channel == "" {
		return fmt.Errorf("an agent or a channel is required")
	}
	return s.store.PutReminder(ctx, r)
}
