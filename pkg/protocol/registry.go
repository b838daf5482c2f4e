package protocol

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps protocol names to factories. It is thread-safe.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Returns an error if the factory is nil,
// reports an empty protocol name, or the protocol already has a
// factory.
func (r *Registry) Register(f Factory) error {
	if f == nil {
		return ErrNilFactory
	}
	name := f.Protocol()
	if name == "" {
		return ErrEmptyProtocol
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrFactoryExists, name)
	}
	r.factories[name] = f
	return nil
}

// Get returns the factory for a protocol name.
func (r *Registry) Get(protocol string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, protocol)
	}
	return f, nil
}

// Protocols returns the registered protocol names, sorted.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
