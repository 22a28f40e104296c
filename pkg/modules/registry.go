package modules

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps kind names to modules. The set of kinds is closed at
// construction; new kinds are added by implementing Module, not by
// runtime dispatch on arbitrary strings.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Module),
	}
}

// DefaultRegistry returns a registry with all built-in assertion kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, m := range []Module{
		&PackageModule{},
		&FileModule{},
		&CopyModule{},
		&TemplateModule{},
		&ServiceModule{},
		&CommandModule{},
		&ShellModule{},
		&GitModule{},
	} {
		if err := r.Register(m); err != nil {
			// Built-in kinds are unique by construction.
			panic(err)
		}
	}
	return r
}

// Register adds a module to the registry.
func (r *Registry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[m.Kind()]; exists {
		return fmt.Errorf("module kind %q already registered", m.Kind())
	}
	r.modules[m.Kind()] = m
	return nil
}

// Get returns the module for a kind.
func (r *Registry) Get(kind string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[kind]
	if !ok {
		return nil, fmt.Errorf("unknown module kind: %s", kind)
	}
	return m, nil
}

// Kinds returns all registered kind names sorted alphabetically.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.modules))
	for kind := range r.modules {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}
