package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownProvider is returned by Registry.Get for unregistered names.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry holds the Completers available to the engine, keyed by name.
// Registration happens at startup; lookups are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	completers map[string]Completer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{completers: make(map[string]Completer)}
}

// Register adds c under its Name. Registering the same name twice is an
// error: provider identity is load-bearing for cache keys.
func (r *Registry) Register(c Completer) error {
	if c == nil {
		return fmt.Errorf("completer is required")
	}
	name := c.Name()
	if name == "" {
		return fmt.Errorf("completer has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.completers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.completers[name] = c
	return nil
}

// Get returns the Completer registered under name.
func (r *Registry) Get(name string) (Completer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.completers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return c, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.completers))
	for name := range r.completers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
