package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CalendarEvent is a scheduled event that may carry a reminder.
type CalendarEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Agent     string    `json:"agent,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PutCalendarEvent persists a calendar event.
func (s *Store) PutCalendarEvent(ctx context.Context, e *CalendarEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.putEntity(ctx, BucketCalendarEvents, e.ID, e)
}

// ListCalendarEvents returns all calendar events ordered by start time.
func (s *Store) ListCalendarEvents(ctx context.Context) ([]*CalendarEvent, error) {
	out, err := listEntities[CalendarEvent](ctx, s, BucketCalendarEvents)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// CalendarBlock reserves focus time for an agent; nudges avoid blocks.
type CalendarBlock struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Reason    string    `json:"reason,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at"`
}

// PutCalendarBlock persists a block.
func (s *Store) PutCalendarBlock(ctx context.Context, b *CalendarBlock) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return s.putEntity(ctx, BucketCalendarBlocks, b.ID, b)
}

// ListCalendarBlocks returns all blocks ordered by start time.
func (s *Store) ListCalendarBlocks(ctx context.Context) ([]*CalendarBlock, error) {
	out, err := listEntities[CalendarBlock](ctx, s, BucketCalendarBlocks)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// ActiveBlock returns the block covering now for the agent, or ErrNotFound.
func (s *Store) ActiveBlock(ctx context.Context, agent string, now time.Time) (*CalendarBlock, error) {
	blocks, err := listEntities[CalendarBlock](ctx, s, BucketCalendarBlocks)
	if err != nil {
		return nil, err
	}
	for _, b := range blocks {
		if b.Agent == agent && !now.Before(b.StartsAt) && now.Before(b.EndsAt) {
			return b, nil
		}
	}
	return nil, ErrNotFound
}

// Reminder is a pending notification tied to a moment in time.
type Reminder struct {
	ID          string     `json:"id"`
	Agent       string     `json:"agent,omitempty"`
	Channel     string     `json:"channel,omitempty"`
	Message     string     `json:"message"`
	DueAt       time.Time  `json:"due_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PutReminder persists a reminder.
func (s *Store) PutReminder(ctx context.Context, r *Reminder) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return s.putEntity(ctx, BucketReminders, r.ID, r)
}

// ListReminders returns all reminders ordered by due time.
func (s *Store) ListReminders(ctx context.Context) ([]*Reminder, error) {
	out, err := listEntities[Reminder](ctx, s, BucketReminders)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

// ListDueReminders returns undelivered reminders with due_at <= now.
func (s *Store) ListDueReminders(ctx context.Context, now time.Time) ([]*Reminder, error) {
	all, err := listEntities[Reminder](ctx, s, BucketReminders)
	if err != nil {
		return nil, err
	}
	var out []*Reminder
	for _, r := range all {
		if r.DeliveredAt == nil && !r.DueAt.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

// RecurringTaskDef materializes a task on a cron schedule.
type RecurringTaskDef struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Type         TaskType   `json:"type"`
	Priority     Priority   `json:"priority"`
	Assignee     string     `json:"assignee,omitempty"`
	Reviewer     string     `json:"reviewer"`
	DoneCriteria []string   `json:"done_criteria"`
	Tags         []string   `json:"tags,omitempty"`
	CronSpec     string     `json:"cron_spec"`
	LastFiredAt  *time.Time `json:"last_fired_at,omitempty"`
	NextFireAt   *time.Time `json:"next_fire_at,omitempty"`
	Enabled      bool       `json:"enabled"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PutRecurringTask persists a recurring task definition.
func (s *Store) PutRecurringTask(ctx context.Context, def *RecurringTaskDef) error {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	return s.putEntity(ctx, BucketRecurringTasks, def.ID, def)
}

// ListRecurringTasks returns all recurring task definitions.
func (s *Store) ListRecurringTasks(ctx context.Context) ([]*RecurringTaskDef, error) {
	out, err := listEntities[RecurringTaskDef](ctx, s, BucketRecurringTasks)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
