package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes requests to handlers and converts every outcome,
// including panics, into a Response.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch routes a request to its handler and returns the response. It
// never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.RequestID))

	handler, err := d.registry.Lookup(req.Method)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %v (id=%s)", logPrefix, err, req.RequestID))
		return Failed(err.Error())
	}

	result, err := invoke(ctx, handler, req)
	if err != nil {
		var failure *Failure
		if errors.As(err, &failure) {
			slog.Info(fmt.Sprintf("%s - method=%s id=%s declined: %s", logPrefix, req.Method, req.RequestID, failure.Message))
			return Failed(failure.Message)
		}
		slog.Error(fmt.Sprintf("%s - method=%s id=%s failed: %v", logPrefix, req.Method, req.RequestID, err))
		return Failed(fmt.Sprintf("Request %s failed: %s", req.Method, err.Error()))
	}
	return OK(result)
}

// invoke runs handler inside a fault boundary.
func invoke(ctx context.Context, handler Handler, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic in %s: %v\n%s", logPrefix, req.Method, r, debug.Stack()))
			result = nil
			err = fmt.Errorf("%v", r)
		}
	}()
	return handler(ctx, req.Params)
}
