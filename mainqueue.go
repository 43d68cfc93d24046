package eventqueue

import (
	"context"
	"fmt"
)

// isCritical reports whether e carries the critical capability tag.
func isCritical(e Event) bool {
	c, ok := e.(Critical)
	return ok && c.IsCritical()
}

// MainQueue wraps a Queue and layers critical-event handling over it.
// Regular events (never tagged Critical) flow through the inner Queue as
// usual; critical events bypass storage entirely and are dispatched
// synchronously on the calling goroutine.
type MainQueue struct {
	inner  *Queue
	logger Logger
}

// NewMainQueue creates a MainQueue wrapping a fresh, Open inner Queue.
func NewMainQueue(logger Logger) *MainQueue {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MainQueue{inner: NewQueue(logger), logger: logger}
}

// Inner returns the wrapped Queue, for callers that need to drive
// HandleNext or inspect its suspenders directly.
func (m *MainQueue) Inner() *Queue { return m.inner }

// Subscribers returns the inner queue's SubscriberCollection. Critical and
// regular events dispatch against the same collection.
func (m *MainQueue) Subscribers() *Collection { return m.inner.Subscribers() }

// EnqueueRegular rejects e with ErrInvalidEventCategory if it is tagged
// critical; otherwise it delegates to the inner queue's Enqueue.
func (m *MainQueue) EnqueueRegular(e Event, sourceSite string) (bool, error) {
	if e == nil {
		return false, ErrNullArgument
	}
	if isCritical(e) {
		return false, ErrInvalidEventCategory
	}
	if m.inner.State() == StateClosed {
		return false, ErrQueueClosed
	}
	return m.inner.Enqueue(e, sourceSite), nil
}

// HandleCritical rejects e with ErrInvalidEventCategory if it is not
// tagged critical. Otherwise it suspends the inner queue's delivery
// suspender for the duration (released on every exit path via
// SuspendScoped, including a handler panic recovered inside Ref.Deliver)
// and dispatches e directly against the inner queue's subscriber
// collection, synchronously on the calling goroutine. Failures are routed
// as CriticalFailure events and handled inline rather than re-enqueued.
func (m *MainQueue) HandleCritical(ctx context.Context, e Event) error {
	if e == nil {
		return ErrNullArgument
	}
	if !isCritical(e) {
		return ErrInvalidEventCategory
	}
	if m.inner.State() == StateClosed {
		return ErrQueueClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	guard := m.inner.delivery.SuspendScoped()
	defer guard.Release()

	Stamp(e, "eventqueue.MainQueue.HandleCritical")

	if sd, ok := e.(Shutdown); ok && sd.IsShutdown() {
		return m.handleCriticalShutdown(ctx, e, guard)
	}

	result := m.inner.DispatchNow(ctx, e)
	m.reportCriticalFailures(ctx, e, result.Failures)
	return nil
}

// handleCriticalShutdown drives the same Closing/Drained/Closed
// transitions HandleNext would for a regular ShutdownEvent. Every event
// reaching it is a critical shutdown event (CriticalShutdownEvent, or a
// host type embedding it), so it leaves the inner queue's delivery
// suspender held suspended for regular events for the remainder of the
// process by not releasing guard.
func (m *MainQueue) handleCriticalShutdown(ctx context.Context, e Event, guard *scopedSuspension) error {
	m.inner.transitionTo(StateClosing)
	m.inner.handlingShutdown.Store(true)
	m.inner.intake.Suspend()

	result := m.inner.DispatchNow(ctx, e)
	m.reportCriticalFailures(ctx, e, result.Failures)

	m.inner.handlingShutdown.Store(false)
	m.inner.checkDrained()

	guard.neverRelease()

	return nil
}

// reportCriticalFailures turns dispatch failures from a critical
// HandleCritical call into CriticalFailure events and handles each of
// those inline too (recursively, but the recursion terminates: a
// CriticalFailure raised by a CriticalFailure handler is swallowed rather
// than re-dispatched, mirroring the regular queue's anti-cascade rule).
func (m *MainQueue) reportCriticalFailures(ctx context.Context, source Event, failures []Failure) {
	if len(failures) == 0 {
		return
	}

	_, sourceIsCriticalFailure := source.(*CriticalFailure)

	for _, f := range failures {
		if sourceIsCriticalFailure {
			m.logger.Error("handler failed while processing CriticalFailure; swallowing",
				"handler", f.HandlerID, "error", f.Err)
			continue
		}

		failureEvent := &CriticalFailure{
			HandlerID:        f.HandlerID,
			SourceEventType:  fmt.Sprintf("%T", source),
			ExceptionType:    fmt.Sprintf("%T", f.Err),
			ExceptionMessage: f.Err.Error(),
			FormattedText:    FormatFailure(f.Err),
		}
		Stamp(failureEvent, "eventqueue.MainQueue.reportCriticalFailures")

		result := m.inner.DispatchNow(ctx, failureEvent)
		m.reportCriticalFailures(ctx, failureEvent, result.Failures)
	}
}

// RequestShutdown enqueues a regular ShutdownEvent through the inner
// queue. Multiple calls have the effect of exactly one: storage's
// uniqueness policy rejects every pending push after the first, so later
// calls are no-ops.
func (m *MainQueue) RequestShutdown() bool {
	return m.inner.Enqueue(&ShutdownEvent{}, "eventqueue.MainQueue.RequestShutdown")
}

// IsShutDown reports whether the inner queue has fully closed.
func (m *MainQueue) IsShutDown() bool {
	return m.inner.IsShutDown()
}
