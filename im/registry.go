package im

import (
	"fmt"
	"sync"
)

// Extension is anything loadable through a Registry. Namespaces returns the
// set of XML namespaces the extension wants advertised in service discovery
// once it is loaded; most extensions return a single element.
type Extension interface {
	Namespaces() []string
}

// Factory builds a fresh instance of an extension, given the Session it is
// attached to and a loader for resolving declared dependencies. Factories
// are called at most once per tag per Session; the Registry caches the
// result as a singleton.
type Factory func(s *Session, load func(tag string) (Extension, error)) (Extension, error)

type registration struct {
	deps []string
	new  Factory
}

// Registry resolves named extensions to singleton instances, recursively
// constructing declared dependencies and rejecting dependency cycles. It
// has no teacher equivalent — the teacher wires its mux handlers by hand at
// Dial time — and is modeled directly on spec.md §4.3's load_extension
// contract.
type Registry struct {
	mu          sync.Mutex
	factories   map[string]registration
	instances   map[string]Extension
	loading     map[string]bool
	constructed []string // load order, for Namespaces()
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]registration),
		instances: make(map[string]Extension),
		loading:   make(map[string]bool),
	}
}

// Register declares tag's constructor and its dependencies on other tags.
// A cycle among dependencies already registered is detected immediately and
// Register panics, since a dependency cycle is always a programmer error,
// never a runtime condition to recover from.
func (r *Registry) Register(tag string, deps []string, f Factory) {
	if f == nil {
		panic("im: nil extension factory for " + tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[tag]; ok {
		panic("im: duplicate extension registration for " + tag)
	}
	r.factories[tag] = registration{deps: deps, new: f}
	if err := checkCycle(tag, r.factories, nil); err != nil {
		delete(r.factories, tag)
		panic("im: " + err.Error())
	}
}

func checkCycle(tag string, factories map[string]registration, path []string) error {
	for _, p := range path {
		if p == tag {
			return fmt.Errorf("extension dependency cycle: %v -> %s", append(path, tag), tag)
		}
	}
	reg, ok := factories[tag]
	if !ok {
		return nil // dependency not yet registered; resolved lazily at Load time
	}
	path = append(path, tag)
	for _, dep := range reg.deps {
		if err := checkCycle(dep, factories, path); err != nil {
			return err
		}
	}
	return nil
}

// Load returns tag's singleton instance, constructing it (and, recursively,
// any unconstructed dependencies) if necessary.
func (r *Registry) Load(tag string, s *Session) (Extension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(tag, s)
}

func (r *Registry) load(tag string, s *Session) (Extension, error) {
	if e, ok := r.instances[tag]; ok {
		return e, nil
	}
	if r.loading[tag] {
		return nil, fmt.Errorf("im: extension dependency cycle at %s", tag)
	}
	reg, ok := r.factories[tag]
	if !ok {
		return nil, fmt.Errorf("im: no extension registered for %s", tag)
	}
	r.loading[tag] = true
	defer delete(r.loading, tag)

	e, err := reg.new(s, func(dep string) (Extension, error) { return r.load(dep, s) })
	if err != nil {
		return nil, fmt.Errorf("im: load extension %s: %w", tag, err)
	}
	r.instances[tag] = e
	r.constructed = append(r.constructed, tag)
	return e, nil
}

// Unload removes tag's singleton instance, if loaded. It does not unload
// tag's dependents; callers that unload an extension other things depend on
// are responsible for unloading those too.
func (r *Registry) Unload(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, tag)
	for i, t := range r.constructed {
		if t == tag {
			r.constructed = append(r.constructed[:i], r.constructed[i+1:]...)
			break
		}
	}
}

// Namespaces returns the union of every currently loaded extension's
// advertised namespaces, deduplicated, in load order.
func (r *Registry) Namespaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, tag := range r.constructed {
		e, ok := r.instances[tag]
		if !ok {
			continue
		}
		for _, ns := range e.Namespaces() {
			if !seen[ns] {
				seen[ns] = true
				out = append(out, ns)
			}
		}
	}
	return out
}
