package activity

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lotuspar/libblitz/internal/roster"
)

// ErrUnknownKind is returned when no factory is registered for a kind.
var ErrUnknownKind = errors.New("activity: unknown kind")

// Factory builds a fresh activity instance over the given roster.
type Factory func(r roster.Roster) Activity

// Registry stores activity factories by kind so the authority and its
// replicas can build the same activity from a kind name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds kind to factory, replacing any previous binding.
func (r *Registry) Register(kind string, factory Factory) {
	if kind == "" || factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Factory returns the factory registered for kind.
func (r *Registry) Factory(kind string) (Factory, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return factory, nil
}

// New builds an activity of the given kind.
func (r *Registry) New(kind string, members roster.Roster) (Activity, error) {
	factory, err := r.Factory(kind)
	if err != nil {
		return nil, err
	}
	return factory(members), nil
}

// Kinds lists the registered kinds in lexical order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
