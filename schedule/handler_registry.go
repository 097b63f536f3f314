package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// JobHandler executes a specific job type. Domain packages implement
// this so the scheduling infrastructure stays decoupled from what the
// jobs actually do: handlers identify themselves by name and decode
// their own payloads from job.Payload.
type JobHandler interface {
	// Execute runs the job and returns any error encountered.
	// Handlers must check ctx.Done() periodically and exit cleanly
	// when cancelled.
	Execute(ctx context.Context, job *Job) error

	// Name returns the handler name jobs route by
	// (e.g. "report.generate").
	Name() string
}

// HandlerFunc adapts a function to the JobHandler interface.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, job *Job) error
}

func (h HandlerFunc) Execute(ctx context.Context, job *Job) error { return h.Fn(ctx, job) }
func (h HandlerFunc) Name() string                                { return h.HandlerName }

// HandlerRegistry manages job handlers by name.
// Thread-safe for concurrent registration and lookup.
type HandlerRegistry struct {
	handlers map[string]JobHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]JobHandler),
	}
}

// Register adds a handler under its name.
// Panics on duplicate registration; that is a wiring bug, not a
// runtime condition.
func (r *HandlerRegistry) Register(handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for name: %s", name))
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for a name, or nil if none is registered.
func (r *HandlerRegistry) Get(name string) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Has checks if a handler is registered for a name.
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names returns all registered handler names, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
