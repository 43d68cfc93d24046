package eventqueue

import (
	"context"
	"reflect"
	"sync"
)

// FuncHandler adapts a plain function to Handler plus TypeDiscoverer: an ID
// plus a handler closure, with the caller declaring which event types the
// function accepts so Collection.AddAll can register it without reflecting
// over a method set.
type FuncHandler struct {
	id           string
	fn           func(ctx context.Context, e Event) error
	acceptedType reflect.Type
}

// NewFuncHandler creates a stateless FuncHandler accepting events assignable
// to eventType. id is used only for logs and failure events.
func NewFuncHandler(id string, eventType reflect.Type, fn func(ctx context.Context, e Event) error) *FuncHandler {
	return &FuncHandler{id: id, fn: fn, acceptedType: eventType}
}

// Handle implements Handler.
func (f *FuncHandler) Handle(ctx context.Context, e Event) error {
	return f.fn(ctx, e)
}

// AcceptedEventTypes implements TypeDiscoverer.
func (f *FuncHandler) AcceptedEventTypes() []reflect.Type {
	return []reflect.Type{f.acceptedType}
}

// ID returns the handler's id, for logs.
func (f *FuncHandler) ID() string { return f.id }

// StatefulFuncHandler is NewFuncHandler's state-carrying counterpart: calls
// are serialized under an internal lock, so a handler closure that closes
// over mutable state (a counter, a buffer) needs no locking of its own —
// it is never invoked concurrently with itself by a single dispatcher.
type StatefulFuncHandler struct {
	mu           sync.Mutex
	id           string
	fn           func(ctx context.Context, e Event) error
	acceptedType reflect.Type
}

// NewStatefulFuncHandler creates a StatefulFuncHandler whose calls are
// serialized.
func NewStatefulFuncHandler(id string, eventType reflect.Type, fn func(ctx context.Context, e Event) error) *StatefulFuncHandler {
	return &StatefulFuncHandler{id: id, fn: fn, acceptedType: eventType}
}

// Handle implements Handler.
func (f *StatefulFuncHandler) Handle(ctx context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fn(ctx, e)
}

// AcceptedEventTypes implements TypeDiscoverer.
func (f *StatefulFuncHandler) AcceptedEventTypes() []reflect.Type {
	return []reflect.Type{f.acceptedType}
}

// ID returns the handler's id, for logs.
func (f *StatefulFuncHandler) ID() string { return f.id }

var (
	shutdownEventType         = reflect.TypeOf((*ShutdownEvent)(nil))
	unhandledEventFailureType = reflect.TypeOf((*UnhandledEventFailure)(nil))
	criticalFailureEventType  = reflect.TypeOf((*CriticalFailure)(nil))
	criticalShutdownEventType = reflect.TypeOf((*CriticalShutdownEvent)(nil))
)

// NewShutdownHandler returns a FuncHandler pre-typed to *ShutdownEvent, for
// hosts that want a typed callback instead of a type switch inside a
// general-purpose handler.
func NewShutdownHandler(id string, fn func(ctx context.Context, e *ShutdownEvent) error) *FuncHandler {
	return NewFuncHandler(id, shutdownEventType, func(ctx context.Context, e Event) error {
		se, ok := e.(*ShutdownEvent)
		if !ok {
			return nil
		}
		return fn(ctx, se)
	})
}

// NewUnhandledEventFailureHandler returns a FuncHandler pre-typed to
// *UnhandledEventFailure.
func NewUnhandledEventFailureHandler(id string, fn func(ctx context.Context, e *UnhandledEventFailure) error) *FuncHandler {
	return NewFuncHandler(id, unhandledEventFailureType, func(ctx context.Context, e Event) error {
		fe, ok := e.(*UnhandledEventFailure)
		if !ok {
			return nil
		}
		return fn(ctx, fe)
	})
}

// NewCriticalFailureHandler returns a FuncHandler pre-typed to
// *CriticalFailure.
func NewCriticalFailureHandler(id string, fn func(ctx context.Context, e *CriticalFailure) error) *FuncHandler {
	return NewFuncHandler(id, criticalFailureEventType, func(ctx context.Context, e Event) error {
		fe, ok := e.(*CriticalFailure)
		if !ok {
			return nil
		}
		return fn(ctx, fe)
	})
}

// NewCriticalShutdownHandler returns a FuncHandler pre-typed to
// *CriticalShutdownEvent, for hosts using the critical-closing shutdown
// variant instead of the plain *ShutdownEvent.
func NewCriticalShutdownHandler(id string, fn func(ctx context.Context, e *CriticalShutdownEvent) error) *FuncHandler {
	return NewFuncHandler(id, criticalShutdownEventType, func(ctx context.Context, e Event) error {
		se, ok := e.(*CriticalShutdownEvent)
		if !ok {
			return nil
		}
		return fn(ctx, se)
	})
}
