package eventqueue

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"weak"
)

// Tri is the tri-state result of comparing a HandlerRef's target identity
// against a candidate handler. A weak ref whose target has been collected
// can neither confirm nor deny identity, so it reports TriUnknown rather
// than TriYes/TriNo.
type Tri int

const (
	TriNo Tri = iota
	TriYes
	TriUnknown
)

// refTarget abstracts over strong ownership and weak back-reference so Ref
// can treat both uniformly.
type refTarget interface {
	// resolve returns the live handler and true, or (nil, false) if the
	// target has been collected (only possible for a weak target).
	resolve() (Handler, bool)
}

type strongTarget struct {
	h Handler
}

func (s strongTarget) resolve() (Handler, bool) { return s.h, true }

// weakTarget closes over a concrete weak.Pointer[T] without needing Ref or
// refTarget themselves to be generic: the generic instantiation happens
// once, inside Weak, and only the resulting closure escapes.
type weakTarget struct {
	resolve_ func() (Handler, bool)
}

func (w weakTarget) resolve() (Handler, bool) { return w.resolve_() }

// Ref is a HandlerRef: a strong or weak reference to a Handler plus the
// event type it declared support for at registration time.
type Ref struct {
	eventType reflect.Type
	target    refTarget
	id        uintptr // identity token, for dead-ref compaction and logging
}

// Strong creates a HandlerRef that owns h for the duration of its
// registration.
func Strong(h Handler, eventType reflect.Type) Ref {
	return Ref{
		eventType: eventType,
		target:    strongTarget{h: h},
		id:        handlerIdentity(h),
	}
}

// Weak creates a HandlerRef holding a weak back-reference to h. h is a
// pointer to a type implementing Handler; ErrNullArgument is returned for a
// nil h, and an error is returned if *T's pointer does not implement
// Handler. Once h becomes unreachable and is collected, the ref reports
// itself dead: Deliver returns (false, nil) and SameTarget returns
// TriUnknown.
func Weak[T any](h *T, eventType reflect.Type) (Ref, error) {
	if h == nil {
		return Ref{}, ErrNullArgument
	}
	hi, ok := any(h).(Handler)
	if !ok {
		return Ref{}, fmt.Errorf("eventqueue: %T does not implement Handler", h)
	}

	wp := weak.Make(h)
	resolve := func() (Handler, bool) {
		live := wp.Value()
		if live == nil {
			return nil, false
		}
		return any(live).(Handler), true
	}

	return Ref{
		eventType: eventType,
		target:    weakTarget{resolve_: resolve},
		id:        handlerIdentity(hi),
	}, nil
}

// handlerIdentity returns a stable token for a Handler's dynamic value,
// used to match dead refs during compaction and as a handler label in
// failure events. Non-pointer handlers (such as HandlerFunc) all get 0.
func handlerIdentity(h Handler) uintptr {
	v := reflect.ValueOf(h)
	if v.Kind() == reflect.Ptr {
		return v.Pointer()
	}
	return 0
}

// Matches reports whether e's runtime type is assignable to the ref's
// declared event type.
func (r Ref) Matches(e Event) bool {
	if r.eventType == nil || e == nil {
		return false
	}
	return reflect.TypeOf(e).AssignableTo(r.eventType)
}

// SameTarget compares r's target against h by reference identity. Strong
// refs answer TriYes/TriNo definitively; a weak ref whose target has been
// collected answers TriUnknown, since it can no longer confirm or deny.
// Handlers whose dynamic type is not comparable (such as HandlerFunc) have
// no identity to compare and always answer TriNo.
func (r Ref) SameTarget(h Handler) Tri {
	live, ok := r.target.resolve()
	if !ok {
		return TriUnknown
	}
	lt := reflect.TypeOf(live)
	if lt != reflect.TypeOf(h) || !lt.Comparable() {
		return TriNo
	}
	if live == h {
		return TriYes
	}
	return TriNo
}

// IsDead reports whether this ref's weak target has been collected. Strong
// refs are never dead.
func (r Ref) IsDead() bool {
	_, ok := r.target.resolve()
	return !ok
}

// Deliver invokes h.Handle(ctx, e) if the target is live, recovering any
// panic into an error so a misbehaving handler cannot unwind the
// dispatching goroutine. It reports whether a live target was found.
func (r Ref) Deliver(ctx context.Context, e Event) (delivered bool, err error) {
	h, ok := r.target.resolve()
	if !ok {
		return false, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("eventqueue: handler panicked: %v", rec)
		}
	}()

	delivered = true
	err = h.Handle(ctx, e)
	return delivered, err
}

// EventType returns the event type this ref was registered against.
func (r Ref) EventType() reflect.Type {
	return r.eventType
}

// ID returns a stable label for this ref's handler, usable in logs and
// failure events even after a weak target has been collected.
func (r Ref) ID() string {
	return strconv.FormatUint(uint64(r.id), 16)
}
