package apubsub

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Factory opens a backend.
type Factory func(ctx context.Context, opts ...Option) (Backend, error)

// Registry maps engine tags to factories. Factories are validated once, at
// registration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under tag.
func (r *Registry) Register(tag string, f Factory) error {
	if tag == "" || f == nil {
		return fmt.Errorf("%w: tag %q", ErrInvalidFactory, tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[tag]; exists {
		return fmt.Errorf("%w: %s", ErrBackendAlreadyRegistered, tag)
	}
	r.factories[tag] = f
	return nil
}

// MustRegister is Register that panics, for wiring code.
func (r *Registry) MustRegister(tag string, f Factory) {
	if err := r.Register(tag, f); err != nil {
		panic(err)
	}
}

// Open builds the backend registered under tag.
func (r *Registry) Open(ctx context.Context, tag string, opts ...Option) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, tag)
	}
	return f(ctx, opts...)
}

// Tags lists registered tags in lexical order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for t := range r.factories {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}
