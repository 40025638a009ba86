// Package model provides the model alias registry consulted when a task
// enters doing. Task patches carry a model alias; the registry resolves it
// to the effective model identifier and rejects unknown aliases.
package model

import (
	"sort"
	"sync"
)

// Registry maps model aliases to effective model identifiers.
type Registry struct {
	mu       sync.RWMutex
	aliases  map[string]string
	defaults string
}

// NewRegistry creates a registry with the given alias map and default alias.
func NewRegistry(aliases map[string]string, defaultAlias string) *Registry {
	return &Registry{
		aliases:  aliases,
		defaults: defaultAlias,
	}
}

// NewDefaultRegistry creates a registry with sensible defaults.
// Used when no configuration is provided.
func NewDefaultRegistry() *Registry {
	return &Registry{
		aliases: map[string]string{
			"claude-opus":   "claude-opus-4-5-20251101",
			"claude-sonnet": "claude-sonnet-4-20250514",
			"claude-haiku":  "claude-haiku-3-5-20241022",
			"qwen":          "qwen2.5-coder:14b",
			"llama3.2":      "llama3.2",
			"codellama":     "codellama",
		},
		defaults: "claude-sonnet",
	}
}

// Resolution is the outcome of resolving a requested model alias.
type Resolution struct {
	// Alias is the requested alias, or the default alias when none was given.
	Alias string
	// Effective is the concrete model identifier stored on the task.
	Effective string
	// Defaulted is true when the request carried no model and the registry
	// supplied the default.
	Defaulted bool
}

// Resolve maps a requested alias to its effective model. An empty alias
// resolves to the default with Defaulted set. Unknown aliases return ok=false.
func (r *Registry) Resolve(alias string) (Resolution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if alias == "" {
		effective, ok := r.aliases[r.defaults]
		if !ok {
			effective = r.defaults
		}
		return Resolution{Alias: r.defaults, Effective: effective, Defaulted: true}, true
	}

	effective, ok := r.aliases[alias]
	if !ok {
		return Resolution{}, false
	}
	return Resolution{Alias: alias, Effective: effective}, true
}

// Known reports whether the alias is registered.
func (r *Registry) Known(alias string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.aliases[alias]
	return ok
}

// Aliases returns the registered alias names, sorted.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.aliases))
	for alias := range r.aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}
