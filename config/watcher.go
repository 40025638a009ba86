package config

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// PolicyStore holds the live governance policy. Readers always see a
// consistent snapshot; writers swap the whole policy atomically.
type PolicyStore struct {
	current  atomic.Pointer[PolicyConfig]
	defaults PolicyConfig
}

// NewPolicyStore creates a policy store seeded with the given policy.
func NewPolicyStore(initial PolicyConfig) *PolicyStore {
	s := &PolicyStore{defaults: DefaultPolicy()}
	s.current.Store(&initial)
	return s
}

// Get returns the current policy snapshot. The returned value must not be
// mutated by callers.
func (s *PolicyStore) Get() PolicyConfig {
	return *s.current.Load()
}

// Set replaces the current policy after validation.
func (s *PolicyStore) Set(p PolicyConfig) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.current.Store(&p)
	return nil
}

// Reset restores the built-in default policy and returns it.
func (s *PolicyStore) Reset() PolicyConfig {
	p := s.defaults
	s.current.Store(&p)
	return p
}

// Watch reloads the policy section whenever the config file at path changes.
// It blocks until ctx is cancelled. Parse or validation failures keep the
// previous snapshot.
func (s *PolicyStore) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logger.Info("Watching config for policy changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadFromFile(path)
			if err != nil {
				logger.Warn("Config reload failed, keeping previous policy", "error", err)
				continue
			}
			if err := s.Set(cfg.Policy); err != nil {
				logger.Warn("Reloaded policy invalid, keeping previous", "error", err)
				continue
			}
			logger.Info("Policy reloaded", "path", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", "error", err)
		}
	}
}
