// Package storage provides the in-memory repository of running
// imposters, keyed by bound port.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/imposterd/imposterd/pkg/imposter"
)

// ErrPortTaken is returned when adding an imposter whose port is
// already registered.
var ErrPortTaken = errors.New("an imposter is already registered on this port")

// Repository is a thread-safe collection of running imposters.
type Repository struct {
	mu        sync.RWMutex
	imposters map[int]*imposter.Imposter
}

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{imposters: make(map[int]*imposter.Imposter)}
}

// Add registers an imposter under its bound port.
func (r *Repository) Add(imp *imposter.Imposter) error {
	if imp == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	port := imp.Port()
	if _, exists := r.imposters[port]; exists {
		return fmt.Errorf("%w: %d", ErrPortTaken, port)
	}
	r.imposters[port] = imp
	return nil
}

// Get retrieves an imposter by port. Returns nil if not found.
func (r *Repository) Get(port int) *imposter.Imposter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.imposters[port]
}

// Delete removes an imposter by port. Returns true if removed.
func (r *Repository) Delete(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.imposters[port]; !exists {
		return false
	}
	delete(r.imposters, port)
	return true
}

// List returns all imposters ordered by port.
func (r *Repository) List() []*imposter.Imposter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*imposter.Imposter, 0, len(r.imposters))
	for _, imp := range r.imposters {
		out = append(out, imp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port() < out[j].Port() })
	return out
}

// Count returns the number of registered imposters.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.imposters)
}

// StopAll stops every imposter and empties the repository. The first
// stop failure is returned; later imposters are still stopped.
func (r *Repository) StopAll(ctx context.Context) error {
	r.mu.Lock()
	imposters := make([]*imposter.Imposter, 0, len(r.imposters))
	for _, imp := range r.imposters {
		imposters = append(imposters, imp)
	}
	r.imposters = make(map[int]*imposter.Imposter)
	r.mu.Unlock()

	var firstErr error
	for _, imp := range imposters {
		if err := imp.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
