package task

import (
	"sync"
	"time"
)

// FocusRegistry tracks per-agent deep-work windows. A window opens when an
// agent moves a task to doing; watchdogs skip nudging agents inside an open
// window. State is in-memory only and resets on restart.
type FocusRegistry struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewFocusRegistry creates an empty registry.
func NewFocusRegistry() *FocusRegistry {
	return &FocusRegistry{expires: make(map[string]time.Time)}
}

// Open starts or extends the agent's window to now+d.
func (f *FocusRegistry) Open(agent string, d time.Duration) {
	if agent == "" || d <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(f.expires[agent]) {
		f.expires[agent] = until
	}
}

// Active reports whether the agent is inside an open window.
func (f *FocusRegistry) Active(agent string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.expires[agent]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(f.expires, agent)
		return false
	}
	return true
}

// Close ends the agent's window early.
func (f *FocusRegistry) Close(agent string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.expires, agent)
}
