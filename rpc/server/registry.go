package server

import (
	"errors"
	"fmt"

	"github.com/gostdlib/base/concurrency/sync"
)

// ErrHandlerExists is returned when trying to register a method that already has a handler.
var ErrHandlerExists = errors.New("handler already registered")

// Registry maps method names to handlers.
type Registry struct {
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
}

// NewRegistry creates a new handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register registers h as the handler for method.
func (r *Registry) Register(method string, h HandlerFunc) error {
	if method == "" {
		return errors.New("method name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("nil handler for method %q", method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[method]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, method)
	}
	r.handlers[method] = h
	return nil
}

// Lookup finds the handler for method.
func (r *Registry) Lookup(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[method]
	return h, ok
}

// Methods returns the number of registered methods.
func (r *Registry) Methods() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
