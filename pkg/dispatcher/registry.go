package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Handler executes one method. A *Failure error is delivered to the caller
// verbatim; any other error is reported as a handler fault.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Failure is an expected, handler-declared failure outcome such as a
// missing file.
type Failure struct {
	Message string
}

func (f *Failure) Error() string { return f.Message }

// Fail builds a *Failure with a formatted message.
func Fail(format string, args ...any) error {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}

// MethodNotFoundError is returned by Lookup for an unregistered method.
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return "unknown method " + e.Method
}

// Registry maps method names to handlers. It is fixed after construction.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry copies handlers into a new Registry.
func NewRegistry(handlers map[string]Handler) *Registry {
	m := make(map[string]Handler, len(handlers))
	for name, h := range handlers {
		if h != nil {
			m[name] = h
		}
	}
	return &Registry{handlers: m}
}

// Lookup returns the handler for method.
func (r *Registry) Lookup(method string) (Handler, error) {
	if r != nil {
		if h, ok := r.handlers[method]; ok {
			return h, nil
		}
	}
	return nil, &MethodNotFoundError{Method: method}
}

// Methods lists registered method names in sorted order.
func (r *Registry) Methods() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
