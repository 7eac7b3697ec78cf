package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/jobqueue/internal/domain"
)

// Handler executes one claimed job. A returned error marks the job Failed.
type Handler func(ctx context.Context, job domain.Job) error

// Registry maps payload kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.PayloadKind]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.PayloadKind]Handler)}
}

// Register adds h for kind. Registering a kind twice is an error.
func (r *Registry) Register(kind domain.PayloadKind, h Handler) error {
	if h == nil {
		return errors.New("handler must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[kind]; ok {
		return fmt.Errorf("handler for %s already registered", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Exists reports whether a handler is registered for kind.
func (r *Registry) Exists(kind domain.PayloadKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []domain.PayloadKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.PayloadKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dispatch runs the handler registered for the job's payload kind.
func (r *Registry) Dispatch(ctx context.Context, job domain.Job) error {
	if job.Payload == nil {
		return fmt.Errorf("job %d has no payload: %w", job.ID, domain.ErrNoHandler)
	}

	kind := job.Payload.Kind()
	r.mu.RLock()
	h, ok := r.handlers[kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", kind, domain.ErrNoHandler)
	}

	return h(ctx, job)
}
