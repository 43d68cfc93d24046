package eventqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// queueState is the EventQueue state machine's current phase. Transitions
// are monotonic: Open -> Closing -> Drained -> Closed, never backwards.
type queueState int32

const (
	StateOpen queueState = iota
	StateClosing
	StateDrained
	StateClosed
)

func (s queueState) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateDrained:
		return "Drained"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// HandleResult is the outcome of one HandleNext call.
type HandleResult int

const (
	Idle HandleResult = iota
	Delivered
	ShuttingDown
	Closed
)

func (r HandleResult) String() string {
	switch r {
	case Idle:
		return "Idle"
	case Delivered:
		return "Delivered"
	case ShuttingDown:
		return "ShuttingDown"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// dispatchCtxKey marks a context as already inside a HandleNext dispatch,
// so a handler that calls HandleNext again with a context derived from the
// one it was given is detected and turned away with Idle rather than
// recursing. Go has no portable notion of "the calling thread" to key this
// off of directly, so the flag travels as a context value instead.
type dispatchCtxKey struct{}

// Queue is the core EventQueue state machine: EventStorage + Collection +
// two Suspenders (intake, delivery) + a shutdown-aware state machine.
type Queue struct {
	storage     *Storage
	subscribers *Collection
	intake      *Suspender
	delivery    *Suspender

	state            atomic.Int32
	inFlight         atomic.Int32
	handlingShutdown atomic.Bool

	// deliveryMu serializes every actual Collection.Dispatch call, whether
	// driven by HandleNext or by MainQueue's inline critical path, so a
	// critical dispatch and a regular dispatch never run concurrently.
	deliveryMu sync.Mutex

	logger Logger
}

// NewQueue creates an Open Queue. A nil logger discards every log line.
func NewQueue(logger Logger) *Queue {
	if logger == nil {
		logger = noopLogger{}
	}
	q := &Queue{
		storage:     NewStorage(nil),
		subscribers: NewCollection(),
		logger:      logger,
	}
	q.intake = NewSuspender(nil, nil)
	q.delivery = NewSuspender(nil, nil)
	q.state.Store(int32(StateOpen))
	return q
}

// Enqueue stamps e's source site (exactly once) and pushes it to storage,
// unless the queue is Closed, the intake suspender is suspended (outside
// of the brief window where the ShutdownEvent's own handlers are still
// running), or e is nil.
func (q *Queue) Enqueue(e Event, sourceSite string) bool {
	if e == nil {
		return false
	}

	if queueState(q.state.Load()) == StateClosed {
		return false
	}

	if q.intake.IsSuspended() && !q.handlingShutdown.Load() {
		return false
	}

	Stamp(e, sourceSite)
	return q.storage.TryPush(e)
}

// HandleNext performs one step: pop the head event (if any) and dispatch
// it. It never waits for new events to arrive.
func (q *Queue) HandleNext(ctx context.Context) HandleResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if reentrant, _ := ctx.Value(dispatchCtxKey{}).(bool); reentrant {
		return Idle
	}

	if queueState(q.state.Load()) == StateClosed {
		return Closed
	}

	if q.delivery.IsSuspended() {
		return Idle
	}

	q.inFlight.Add(1)
	defer q.inFlight.Add(-1)

	e, ok := q.storage.TryPop()
	if !ok {
		return Idle
	}

	dispatchCtx := context.WithValue(ctx, dispatchCtxKey{}, true)

	if sd, isShutdown := e.(Shutdown); isShutdown && sd.IsShutdown() {
		result := q.handleShutdown(dispatchCtx, e)
		q.checkDrained()
		return result
	}

	q.dispatchAndReport(dispatchCtx, e)
	q.checkDrained()
	return Delivered
}

// handleShutdown drives the Open->Closing transition for a ShutdownEvent
// and dispatches it. The Closing->Drained->Closed half of that transition
// is left to checkDrained, since storage may still hold events enqueued
// behind the ShutdownEvent that have yet to drain through a later
// HandleNext call.
func (q *Queue) handleShutdown(ctx context.Context, e Event) HandleResult {
	q.transitionTo(StateClosing)

	// Intake is suspended the instant shutdown handling starts, and never
	// resumed: a one-shot, permanent increment. handlingShutdown keeps
	// Enqueue open just long enough for this event's own handlers to emit
	// further events. While it is set, Enqueue accepts events from any
	// caller, not only from those handlers; once it is cleared, no caller
	// can push a new event onto the queue.
	q.handlingShutdown.Store(true)
	q.intake.Suspend()

	q.dispatchAndReport(ctx, e)

	q.handlingShutdown.Store(false)

	return ShuttingDown
}

// checkDrained transitions Closing -> Drained -> Closed once storage is
// empty. It runs after every HandleNext step, not just the one that
// dispatched the ShutdownEvent itself, since events queued behind the
// ShutdownEvent drain via later, ordinary HandleNext calls.
func (q *Queue) checkDrained() {
	if queueState(q.state.Load()) != StateClosing {
		return
	}
	if !q.storage.IsEmpty() {
		return
	}
	q.transitionTo(StateDrained)
	q.subscribers.Close()
	q.transitionTo(StateClosed)
}

// transitionTo advances the state machine to target, unless it has
// already reached target or a later state.
func (q *Queue) transitionTo(target queueState) {
	for {
		cur := queueState(q.state.Load())
		if cur >= target {
			return
		}
		if q.state.CompareAndSwap(int32(cur), int32(target)) {
			return
		}
	}
}

// dispatchAndReport dispatches e and turns any handler failures into
// UnhandledEventFailure events.
func (q *Queue) dispatchAndReport(ctx context.Context, e Event) {
	result := q.DispatchNow(ctx, e)
	for _, f := range result.Failures {
		q.reportFailure(e, f)
	}
}

// DispatchNow dispatches e directly against the subscriber collection on
// the calling goroutine, under the same delivery mutex HandleNext uses.
// MainQueue.HandleCritical calls this so a critical dispatch never
// overlaps with a regular one.
func (q *Queue) DispatchNow(ctx context.Context, e Event) DispatchResult {
	q.deliveryMu.Lock()
	defer q.deliveryMu.Unlock()
	return q.subscribers.Dispatch(ctx, e)
}

func (q *Queue) reportFailure(source Event, f Failure) {
	if _, isFailureEvent := source.(*UnhandledEventFailure); isFailureEvent {
		// A handler of the failure event itself failed: swallow it here to
		// prevent an infinite failure-reporting cascade.
		q.logger.Error("handler failed while processing UnhandledEventFailure; swallowing",
			"handler", f.HandlerID, "error", f.Err)
		return
	}

	failureEvent := &UnhandledEventFailure{
		HandlerID:        f.HandlerID,
		SourceEventType:  fmt.Sprintf("%T", source),
		ExceptionType:    fmt.Sprintf("%T", f.Err),
		ExceptionMessage: f.Err.Error(),
		FormattedText:    FormatFailure(f.Err),
	}

	if !q.Enqueue(failureEvent, "eventqueue.Queue.reportFailure") {
		q.logger.Warn("dropped UnhandledEventFailure: queue not accepting enqueues",
			"handler", f.HandlerID)
	}
}

// Subscribers returns the queue's SubscriberCollection.
func (q *Queue) Subscribers() *Collection { return q.subscribers }

// IntakeSuspender returns the Suspender gating Enqueue.
func (q *Queue) IntakeSuspender() *Suspender { return q.intake }

// DeliverySuspender returns the Suspender gating HandleNext.
func (q *Queue) DeliverySuspender() *Suspender { return q.delivery }

// State returns the queue's current phase, for diagnostics.
func (q *Queue) State() queueState { return queueState(q.state.Load()) }

// IsShutDown reports whether the queue has reached Closed with no
// in-flight HandleNext call still running.
func (q *Queue) IsShutDown() bool {
	return queueState(q.state.Load()) == StateClosed && q.inFlight.Load() == 0
}
