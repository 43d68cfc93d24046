package eventqueue

import (
	"context"
	"reflect"
)

// Handler is anything the queue can dispatch an Event to.
type Handler interface {
	Handle(ctx context.Context, e Event) error
}

// TypeDiscoverer is an optional capability a Handler can implement so
// Collection.AddAll can register it for every event type it accepts
// without runtime reflection over the handler's method set — callers
// (here, the handler itself) list the types explicitly.
type TypeDiscoverer interface {
	AcceptedEventTypes() []reflect.Type
}

// HandlerFunc adapts a plain function to Handler, mirroring the
// modular.NewFunctionalObserver convenience constructor.
type HandlerFunc func(ctx context.Context, e Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}
