package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusDoing      TaskStatus = "doing"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusValidating TaskStatus = "validating"
	TaskStatusDone       TaskStatus = "done"
)

// ValidTaskStatus reports whether s is a known status.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusTodo, TaskStatusDoing, TaskStatusBlocked, TaskStatusValidating, TaskStatusDone:
		return true
	}
	return false
}

// TaskType classifies the work a task represents.
type TaskType string

const (
	TaskTypeBug     TaskType = "bug"
	TaskTypeFeature TaskType = "feature"
	TaskTypeProcess TaskType = "process"
	TaskTypeDocs    TaskType = "docs"
	TaskTypeChore   TaskType = "chore"
)

// ValidTaskType reports whether t is a known type.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeBug, TaskTypeFeature, TaskTypeProcess, TaskTypeDocs, TaskTypeChore:
		return true
	}
	return false
}

// Priority is the task urgency band.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// Task is the central governed entity. Metadata carries the lifecycle
// evidence (qa_bundle, review_handoff, pr_integrity, reopen fields and
// friends) as a free-form extension map; the task engine parses it into
// typed evidence at ingress.
type Task struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Type         TaskType       `json:"type"`
	Status       TaskStatus     `json:"status"`
	Priority     Priority       `json:"priority"`
	Assignee     string         `json:"assignee,omitempty"`
	Reviewer     string         `json:"reviewer"`
	DoneCriteria []string       `json:"done_criteria"`
	CreatedBy    string         `json:"created_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	BlockedBy    []string       `json:"blocked_by,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	TeamID       string         `json:"team_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ShortID returns the 8-character prefix used in branch names and logs.
func (t *Task) ShortID() string {
	if len(t.ID) <= 8 {
		return t.ID
	}
	return t.ID[:8]
}

// MetaString returns metadata[key] as a string, or "" when absent.
func (t *Task) MetaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	if v, ok := t.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool returns metadata[key] as a bool, or false when absent.
func (t *Task) MetaBool(key string) bool {
	if t.Metadata == nil {
		return false
	}
	if v, ok := t.Metadata[key].(bool); ok {
		return v
	}
	return false
}

// NewTaskID generates a new task identifier.
func NewTaskID() string {
	return uuid.New().String()
}

// CreateTask persists a new task. The caller is responsible for validation;
// id, created_at and updated_at are stamped here.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = NewTaskID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	return s.createEntity(ctx, BucketTasks, t.ID, t)
}

// GetTask retrieves a task by exact id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	if err := s.getEntity(ctx, BucketTasks, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// PutTask writes back a mutated task, advancing updated_at monotonically.
func (s *Store) PutTask(ctx context.Context, t *Task) error {
	now := time.Now().UTC()
	if !now.After(t.UpdatedAt) {
		now = t.UpdatedAt.Add(time.Millisecond)
	}
	t.UpdatedAt = now
	return s.putEntity(ctx, BucketTasks, t.ID, t)
}

// DeleteTask removes a task. Production deployments soft-close via done;
// hard deletion exists for test fixtures and operator cleanup.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, BucketTasks, id)
}

// TaskFilter narrows ListTasks scans.
type TaskFilter struct {
	Status   TaskStatus
	Assignee string
	Reviewer string
	TeamID   string
	Limit    int
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	tasks, err := listEntities[Task](ctx, s, BucketTasks)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Assignee != "" && !strings.EqualFold(t.Assignee, filter.Assignee) {
			continue
		}
		if filter.Reviewer != "" && !strings.EqualFold(t.Reviewer, filter.Reviewer) {
			continue
		}
		if filter.TeamID != "" && t.TeamID != filter.TeamID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// PrefixMatch is the result of resolving a short task id prefix.
type PrefixMatch struct {
	// Exact is the single matching task, nil when ambiguous or not found.
	Exact *Task
	// Candidates lists matching ids when the prefix is ambiguous.
	Candidates []string
}

// ResolveTaskPrefix resolves a short id prefix to a task. An exact-id hit
// wins immediately; otherwise all tasks whose id starts with the prefix
// are candidates.
func (s *Store) ResolveTaskPrefix(ctx context.Context, prefix string) (*PrefixMatch, error) {
	if t, err := s.GetTask(ctx, prefix); err == nil {
		return &PrefixMatch{Exact: t}, nil
	}

	keys, err := s.keys(ctx, BucketTasks)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matches = append(matches, key)
		}
	}
	switch len(matches) {
	case 0:
		return &PrefixMatch{}, nil
	case 1:
		t, err := s.GetTask(ctx, matches[0])
		if err != nil {
			return nil, err
		}
		return &PrefixMatch{Exact: t}, nil
	default:
		sort.Strings(matches)
		return &PrefixMatch{Candidates: matches}, nil
	}
}

// CountDoing returns the number of in-flight doing tasks for the assignee.
func (s *Store) CountDoing(ctx context.Context, assignee string) (int, error) {
	tasks, err := s.ListTasks(ctx, TaskFilter{Status: TaskStatusDoing, Assignee: assignee})
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// ---------------------------------------------------------------------------
// Comments
// ---------------------------------------------------------------------------

// TaskComment is a free-form note attached to a task.
type TaskComment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// AddTaskComment persists a comment.
func (s *Store) AddTaskComment(ctx context.Context, c *TaskComment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketTaskComments, c.TaskID+"."+c.ID, c)
}

// ListTaskComments returns comments for a task, oldest first.
func (s *Store) ListTaskComments(ctx context.Context, taskID string) ([]*TaskComment, error) {
	all, err := listEntities[TaskComment](ctx, s, BucketTaskComments)
	if err != nil {
		return nil, err
	}
	var out []*TaskComment
	for _, c := range all {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// TaskHistoryEntry records a status transition or significant mutation.
type TaskHistoryEntry struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	Actor      string     `json:"actor,omitempty"`
	FromStatus TaskStatus `json:"from_status,omitempty"`
	ToStatus   TaskStatus `json:"to_status,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AddTaskHistory persists a history entry.
func (s *Store) AddTaskHistory(ctx context.Context, h *TaskHistoryEntry) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	h.CreatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketTaskHistory, h.TaskID+"."+h.ID, h)
}

// ListTaskHistory returns history entries for a task, oldest first.
func (s *Store) ListTaskHistory(ctx context.Context, taskID string) ([]*TaskHistoryEntry, error) {
	all, err := listEntities[TaskHistoryEntry](ctx, s, BucketTaskHistory)
	if err != nil {
		return nil, err
	}
	var out []*TaskHistoryEntry
	for _, h := range all {
		if h.TaskID == taskID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
