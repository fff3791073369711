package weaver

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes one task and reports its Outcome. Implementations must
// not block past ctx's deadline and must not panic on malformed payloads;
// a decode failure should surface as a Failure outcome.
type Handler interface {
	Handle(ctx context.Context, envelope TaskEnvelope) (Outcome, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope TaskEnvelope) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, envelope TaskEnvelope) (Outcome, error) {
	return f(ctx, envelope)
}

// Registry maps task types to the Handler that executes them. A given task
// type may only be registered once; registering it again returns
// ErrDuplicateHandler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[TaskType]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[TaskType]Handler)}
}

// Register adds h as the handler for taskType.
func (r *Registry) Register(taskType TaskType, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, taskType)
	}
	r.handlers[taskType] = h
	return nil
}

// MustRegister is Register but panics on error, for use in init-time
// wiring where a duplicate registration is a programming mistake.
func (r *Registry) MustRegister(taskType TaskType, h Handler) {
	if err := r.Register(taskType, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler registered for taskType, or ErrUnknownHandler.
func (r *Registry) Lookup(taskType TaskType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, taskType)
	}
	return h, nil
}
