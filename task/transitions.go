package task

import "github.com/c360studio/steward/store"

// transitionWhitelist enumerates the legal status transitions. done is
// terminal; anything else requires an explicit reopen.
var transitionWhitelist = map[store.TaskStatus][]store.TaskStatus{
	store.TaskStatusTodo:       {store.TaskStatusDoing},
	store.TaskStatusDoing:      {store.TaskStatusBlocked, store.TaskStatusValidating},
	store.TaskStatusBlocked:    {store.TaskStatusDoing, store.TaskStatusTodo},
	store.TaskStatusValidating: {store.TaskStatusDone, store.TaskStatusDoing},
	store.TaskStatusDone:       {},
}

// TransitionAllowed reports whether from->to is whitelisted. Same-status
// writes are allowed (validating->validating additionally requires a
// review delta note, enforced by the gate chain).
func TransitionAllowed(from, to store.TaskStatus) bool {
	if from == to {
		return from != store.TaskStatusDone
	}
	for _, next := range transitionWhitelist[from] {
		if next == to {
			return true
		}
	}
	return false
}
