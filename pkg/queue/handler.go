package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

type (
	// Handler executes one job. The returned error decides the outcome:
	// nil is success, *FatalError is fatal and anything else is retried.
	Handler interface {
		Handle(ctx context.Context, args json.RawMessage) error
	}

	// HandlerFunc adapts a plain function to Handler
	HandlerFunc func(ctx context.Context, args json.RawMessage) error

	// TypedHandlerFunc receives the job arguments decoded into T
	TypedHandlerFunc[T any] func(ctx context.Context, args T) error
)

func (f HandlerFunc) Handle(ctx context.Context, args json.RawMessage) error {
	return f(ctx, args)
}

// NewHandler builds a Handler that decodes args into T before calling fn.
// Arguments that do not decode are a fatal failure: no retry can fix them.
func NewHandler[T any](fn TypedHandlerFunc[T]) Handler {
	return HandlerFunc(func(ctx context.Context, args json.RawMessage) error {
		var v T
		if err := json.Unmarshal(args, &v); err != nil {
			return &FatalError{Reason: fmt.Sprintf("decode args into %T", v), Err: err}
		}
		return fn(ctx, v)
	})
}

// Registry maps hook names to handlers. It is seeded at startup and read by executors.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a hook name
func (r *Registry) Register(hookName string, h Handler) error {
	if hookName == "" {
		return ErrInvalidHookName
	}
	if h == nil {
		return ErrHandlerNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[hookName]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, hookName)
	}
	r.handlers[hookName] = h
	return nil
}

// RegisterFunc binds a function to a hook name
func (r *Registry) RegisterFunc(hookName string, fn HandlerFunc) error {
	if fn == nil {
		return ErrHandlerNil
	}
	return r.Register(hookName, fn)
}

// MustRegister is like Register but panics on error. Meant for process startup.
func (r *Registry) MustRegister(hookName string, h Handler) {
	if err := r.Register(hookName, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for a hook name
func (r *Registry) Lookup(hookName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[hookName]
	return h, ok
}

// HookNames returns the registered hook names in sorted order
func (r *Registry) HookNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered handlers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
