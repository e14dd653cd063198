// Package registry maps implementation ids to filter factories.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/types"
)

// Registry is a thread-safe implementation registry. Lookups are exact
// first, then case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]runtime.Factory
	aliases   map[string]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		factories: make(map[string]runtime.Factory),
		aliases:   make(map[string]string),
	}
}

// Register adds a factory under id. Returns an error if id is already
// registered as an implementation or alias.
func (r *Registry) Register(id string, f runtime.Factory) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("implementation id must not be empty")
	}
	if f == nil {
		return fmt.Errorf("implementation %q: nil factory", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken(id) {
		return fmt.Errorf("implementation already registered: %q", id)
	}
	r.factories[id] = f
	return nil
}

// Alias makes alias resolve to the registered implementation id.
func (r *Registry) Alias(alias, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[id]; !ok {
		return fmt.Errorf("alias %q: unknown implementation %q", alias, id)
	}
	if r.taken(alias) {
		return fmt.Errorf("implementation already registered: %q", alias)
	}
	r.aliases[alias] = id
	return nil
}

func (r *Registry) taken(name string) bool {
	if _, ok := r.factories[name]; ok {
		return true
	}
	_, ok := r.aliases[name]
	return ok
}

// Resolve returns the canonical id and factory for id or one of its aliases.
// An unknown id is a configuration error naming the known implementations.
func (r *Registry) Resolve(id string) (string, runtime.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if canonical, f, ok := r.lookup(id); ok {
		return canonical, f, nil
	}
	for name := range r.factories {
		if strings.EqualFold(name, id) {
			return name, r.factories[name], nil
		}
	}
	for alias, target := range r.aliases {
		if strings.EqualFold(alias, id) {
			return target, r.factories[target], nil
		}
	}
	return "", nil, types.ConfigError("unknown implementation %q (known: %s)", id, strings.Join(r.namesLocked(), ", "))
}

func (r *Registry) lookup(id string) (string, runtime.Factory, bool) {
	if f, ok := r.factories[id]; ok {
		return id, f, true
	}
	if target, ok := r.aliases[id]; ok {
		return target, r.factories[target], true
	}
	return "", nil, false
}

// Get returns the factory for id, or nil if not found.
func (r *Registry) Get(id string) runtime.Factory {
	_, f, err := r.Resolve(id)
	if err != nil {
		return nil
	}
	return f
}

// Names returns the registered implementation ids, sorted alphabetically.
// Aliases are not included.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aliases returns the aliases pointing at id, sorted.
func (r *Registry) Aliases(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for alias, target := range r.aliases {
		if target == id {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}
