package tool

import (
	"fmt"
	"sort"
	"sync"
)

// ToolSet is a namespaced group of tools.
type ToolSet struct {
	namespace string
	tools     map[string]*Tool
}

func NewToolSet(namespace string) *ToolSet {
	return &ToolSet{namespace: namespace, tools: make(map[string]*Tool)}
}

func (s *ToolSet) Namespace() string { return s.namespace }

func (s *ToolSet) Register(t *Tool) error {
	if t == nil {
		return fmt.Errorf("toolset %s: nil tool", s.namespace)
	}
	if _, exists := s.tools[t.Name()]; exists {
		return fmt.Errorf("toolset %s: tool %s already registered", s.namespace, t.Name())
	}
	s.tools[t.Name()] = t
	return nil
}

func (s *ToolSet) Get(name string) (*Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

func (s *ToolSet) Has(name string) bool {
	_, ok := s.tools[name]
	return ok
}

func (s *ToolSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}

func (s *ToolSet) Names() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas lists tool schemas sorted by name so prompts stay stable.
func (s *ToolSet) Schemas() []Schema {
	names := s.Names()
	out := make([]Schema, 0, len(names))
	for _, name := range names {
		out = append(out, s.tools[name].Schema())
	}
	return out
}

// Scope carries request values a toolset factory may bind into its tools.
type Scope struct {
	ProjectID string
}

type Factory func(scope Scope) (*ToolSet, error)

// Registry maps namespaces to toolset factories. It is built once at start-up
// and handed to whoever needs to load toolsets.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(namespace string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("toolset %s: nil factory", namespace)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[namespace]; exists {
		return fmt.Errorf("toolset %s already registered", namespace)
	}
	r.factories[namespace] = factory
	return nil
}

// Load builds a fresh toolset for namespace. Unknown namespaces yield an empty set.
func (r *Registry) Load(namespace string, scope Scope) (*ToolSet, error) {
	r.mu.RLock()
	factory, ok := r.factories[namespace]
	r.mu.RUnlock()
	if !ok {
		return NewToolSet(namespace), nil
	}
	set, err := factory(scope)
	if err != nil {
		return nil, fmt.Errorf("load toolset %s: %w", namespace, err)
	}
	return set, nil
}

func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for ns := range r.factories {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}
