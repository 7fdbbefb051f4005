package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ProgressFunc reports completion percent for a running task. Values are
// clamped to [0, 100]; reports lower than a previous one are ignored.
type ProgressFunc func(taskID string, percent int)

// Handler performs the work of one task type. ctx is cancelled when the task
// is cancelled or the pool shuts down; handlers should check it between
// steps and return promptly.
type Handler interface {
	Handle(ctx context.Context, taskID string, params map[string]any, report ProgressFunc) (map[string]any, error)
}

type HandlerFunc func(ctx context.Context, taskID string, params map[string]any, report ProgressFunc) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, taskID string, params map[string]any, report ProgressFunc) (map[string]any, error) {
	return f(ctx, taskID, params, report)
}

var ErrDuplicateHandler = errors.New("handler already registered")

// Registry maps task types to handlers. It is built at startup and passed to
// the pool and the service.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(taskType string, h Handler) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if h == nil {
		return fmt.Errorf("nil handler for %q", taskType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[taskType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, taskType)
	}
	r.handlers[taskType] = h
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(taskType string, h Handler) {
	if err := r.Register(taskType, h); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
