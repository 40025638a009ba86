package task

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/store"
)

// CreateInput is the intake schema for new tasks.
type CreateInput struct {
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Type         store.TaskType `json:"type,omitempty"`
	Priority     store.Priority `json:"priority,omitempty"`
	Assignee     string         `json:"assignee,omitempty"`
	Reviewer     string         `json:"reviewer"`
	DoneCriteria []string       `json:"done_criteria"`
	BlockedBy    []string       `json:"blocked_by,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	TeamID       string         `json:"team_id,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	Template     string         `json:"template,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Template pre-fills intake fields for a common task shape.
type Template struct {
	Type         store.TaskType
	Priority     store.Priority
	DoneCriteria []string
	Tags         []string
}

var templates = map[string]Template{
	"bug": {
		Type:     store.TaskTypeBug,
		Priority: store.PriorityP1,
		DoneCriteria: []string{
			"root cause identified and documented",
			"fix merged with a regression test",
		},
		Tags: []string{"bug"},
	},
	"feature": {
		Type:     store.TaskTypeFeature,
		Priority: store.PriorityP2,
		DoneCriteria: []string{
			"implementation merged behind review",
			"docs updated",
		},
	},
	"chore": {
		Type:         store.TaskTypeChore,
		Priority:     store.PriorityP3,
		DoneCriteria: []string{"cleanup verified"},
	},
	"docs": {
		Type:         store.TaskTypeDocs,
		Priority:     store.PriorityP2,
		DoneCriteria: []string{"documentation reviewed and published"},
		Tags:         []string{"docs"},
	},
}

// TemplateNames returns the known template names, sorted.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyTemplate fills empty intake fields from the named template.
func applyTemplate(in *CreateInput) error {
	if in.Template == "" {
		return nil
	}
	tpl, ok := templates[strings.ToLower(in.Template)]
	if !ok {
		return fmt.Errorf("unknown template %q, known: %s", in.Template, strings.Join(TemplateNames(), ", "))
	}
	if in.Type == "" {
		in.Type = tpl.Type
	}
	if in.Priority == "" {
		in.Priority = tpl.Priority
	}
	if len(in.DoneCriteria) == 0 {
		in.DoneCriteria = append([]string(nil), tpl.DoneCriteria...)
	}
	in.Tags = append(in.Tags, tpl.Tags...)
	return nil
}

// validateIntake enforces the definition of ready: title, a reviewer
// distinct from the assignee, and at least one done criterion. Features
// need two; a one-line definition of done is not a feature plan.
func validateIntake(in *CreateInput) *GateError {
	var fields []string
	if strings.TrimSpace(in.Title) == "" {
		fields = append(fields, "title")
	}
	if strings.TrimSpace(in.Reviewer) == "" {
		fields = append(fields, "reviewer")
	}
	if len(in.DoneCriteria) == 0 {
		fields = append(fields, "done_criteria")
	}
	if len(fields) > 0 {
		return &GateError{
			Gate:   "intake",
			Status: 422,
			Msg:    "task is not ready: missing " + strings.Join(fields, ", "),
			Hint:   "every task needs a title, a reviewer and done criteria",
			Fields: fields,
		}
	}
	if in.Assignee != "" && strings.EqualFold(in.Assignee, in.Reviewer) {
		return &GateError{
			Gate:   "intake",
			Status: 422,
			Msg:    "reviewer must be distinct from the assignee",
			Fields: []string{"reviewer"},
		}
	}
	if in.Type != "" && !store.ValidTaskType(in.Type) {
		return &GateError{Gate: "intake", Status: 400, Msg: fmt.Sprintf("unknown type %q", in.Type), Fields: []string{"type"}}
	}
	if in.Priority != "" && !store.ValidPriority(in.Priority) {
		return &GateError{Gate: "intake", Status: 400, Msg: fmt.Sprintf("unknown priority %q", in.Priority), Fields: []string{"priority"}}
	}
	if in.Type == store.TaskTypeFeature && len(in.DoneCriteria) < 2 {
		return &GateError{
			Gate:   "intake",
			Status: 422,
			Msg:    "feature tasks need at least two done criteria",
			Hint:   "split the definition of done into verifiable steps",
			Fields: []string{"done_criteria"},
		}
	}
	return nil
}

// Create validates intake and persists a new todo task.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*store.Task, error) {
	if err := applyTemplate(&in); err != nil {
		return nil, &GateError{Gate: "intake", Status: 400, Msg: err.Error(), Fields: []string{"template"}}
	}
	if gerr := validateIntake(&in); gerr != nil {
		return nil, gerr
	}
	if in.Type == "" {
		in.Type = store.TaskTypeChore
	}
	if in.Priority == "" {
		in.Priority = store.PriorityP2
	}

	t := &store.Task{
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		Type:         in.Type,
		Status:       store.TaskStatusTodo,
		Priority:     in.Priority,
		Assignee:     in.Assignee,
		Reviewer:     in.Reviewer,
		DoneCriteria: in.DoneCriteria,
		BlockedBy:    in.BlockedBy,
		Tags:         dedupeTags(in.Tags),
		TeamID:       in.TeamID,
		CreatedBy:    in.CreatedBy,
		Metadata:     in.Metadata,
	}
	if err := e.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}

	_ = e.store.AddTaskHistory(ctx, &store.TaskHistoryEntry{
		TaskID:   t.ID,
		Actor:    in.CreatedBy,
		ToStatus: store.TaskStatusTodo,
		Note:     "created",
	})
	e.publisher.Emit(ctx, events.Event{
		Kind:   events.KindTaskCreated,
		TaskID: t.ID,
		Agent:  t.Assignee,
		Data:   map[string]any{"title": t.Title, "priority": t.Priority},
	})
	return t, nil
}

// CreateBatch creates several tasks atomically from the caller's point of
// view: all inputs are validated before any task is persisted.
func (e *Engine) CreateBatch(ctx context.Context, ins []CreateInput) ([]*store.Task, error) {
	for i := range ins {
		if err := applyTemplate(&ins[i]); err != nil {
			return nil, &GateError{Gate: "intake", Status: 400, Msg: fmt.Sprintf("task %d: %v", i, err)}
		}
		if gerr := validateIntake(&ins[i]); gerr != nil {
			gerr.Msg = fmt.Sprintf("task %d: %s", i, gerr.Msg)
			return nil, gerr
		}
	}
	out := make([]*store.Task, 0, len(ins))
	for _, in := range ins {
		t, err := e.Create(ctx, in)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// priorityRank orders P0 highest.
var priorityRank = map[store.Priority]int{
	store.PriorityP0: 0,
	store.PriorityP1: 1,
	store.PriorityP2: 2,
	store.PriorityP3: 3,
}

// Next returns the agent's next ready todo task: highest priority first,
// oldest within a band, skipping tasks with unresolved blockers. Tasks
// assigned to the agent win over unassigned ones.
func (e *Engine) Next(ctx context.Context, agent string) (*store.Task, error) {
	todos, err := e.store.ListTasks(ctx, store.TaskFilter{Status: store.TaskStatusTodo})
	if err != nil {
		return nil, err
	}

	var ready []*store.Task
	for _, t := range todos {
		if t.Assignee != "" && !strings.EqualFold(t.Assignee, agent) {
			continue
		}
		blocked, err := e.hasOpenBlockers(ctx, t)
		if err != nil {
			return nil, err
		}
		if !blocked {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return nil, store.ErrNotFound
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if (a.Assignee != "") != (b.Assignee != "") {
			return a.Assignee != ""
		}
		if priorityRank[a.Priority] != priorityRank[b.Priority] {
			return priorityRank[a.Priority] < priorityRank[b.Priority]
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return ready[0], nil
}

// Claim moves the agent's next ready task to doing through the gate chain.
func (e *Engine) Claim(ctx context.Context, agent string) (*store.Task, *Decision, error) {
	next, err := e.Next(ctx, agent)
	if err != nil {
		return nil, nil, err
	}
	doing := store.TaskStatusDoing
	p := &Patch{Status: &doing, Actor: agent, Context: "claim"}
	if next.Assignee == "" {
		p.Assignee = &agent
	}
	return e.Apply(ctx, next.ID, p)
}

// hasOpenBlockers reports whether any blocked_by reference is not done.
// Dangling references do not block.
func (e *Engine) hasOpenBlockers(ctx context.Context, t *store.Task) (bool, error) {
	for _, dep := range t.BlockedBy {
		blocker, err := e.store.GetTask(ctx, dep)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return false, err
		}
		if blocker.Status != store.TaskStatusDone {
			return true, nil
		}
	}
	return false, nil
}

func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		key := strings.ToLower(strings.TrimSpace(tag))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}
