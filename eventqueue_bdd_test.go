package eventqueue

import (
	"context"
	"reflect"
	"testing"

	"github.com/cucumber/godog"
	"github.com/stretchr/testify/assert"
)

// bddCtx carries state across godog steps for one scenario. A fresh bddCtx
// is created per scenario by the ScenarioInitializer.
type bddCtx struct {
	t *testing.T

	q  *Queue
	mq *MainQueue

	observed                []string
	lastResult              HandleResult
	lastErr                 error
	suspendedDuringCritical bool

	weakTarget *recordingHandler

	failure *UnhandledEventFailure
}

func (b *bddCtx) aHandlerSubscribedToTestEvents() error {
	b.q = NewQueue(nil)
	h := HandlerFunc(func(ctx context.Context, e Event) error {
		b.observed = append(b.observed, e.(*fakeEvent).tag)
		return nil
	})
	b.q.Subscribers().Add(Strong(h, reflect.TypeOf(&fakeEvent{})))
	return nil
}

func (b *bddCtx) iEnqueue3TestEvents() error {
	for _, tag := range []string{"e1", "e2", "e3"} {
		b.q.Enqueue(&fakeEvent{tag: tag}, "bdd")
	}
	return nil
}

func (b *bddCtx) iCallHandleNextNTimes(n int) error {
	for i := 0; i < n; i++ {
		b.lastResult = b.q.HandleNext(context.Background())
	}
	return nil
}

func (b *bddCtx) theHandlerObservedTheEventsInEnqueueOrder() error {
	assert.Equal(b.t, []string{"e1", "e2", "e3"}, b.observed)
	return nil
}

func (b *bddCtx) aFurtherHandleNextCallReturnsIdle() error {
	result := b.q.HandleNext(context.Background())
	assert.Equal(b.t, Idle, result)
	return nil
}

func (b *bddCtx) aHandlerSubscribedWeaklyToTestEventsOutOfScope() error {
	b.q = NewQueue(nil)
	b.weakTarget = &recordingHandler{}
	ref, err := Weak(b.weakTarget, reflect.TypeOf(&fakeEvent{}))
	if err != nil {
		return err
	}
	b.q.Subscribers().Add(ref)
	b.weakTarget = nil
	return nil
}

func (b *bddCtx) theGarbageCollectorRuns() error {
	for i := 0; i < 5; i++ {
		forceGC()
	}
	return nil
}

func (b *bddCtx) iEnqueueATestEvent() error {
	b.q.Enqueue(&fakeEvent{tag: "e"}, "bdd")
	return nil
}

func (b *bddCtx) iCallHandleNextOnce() error {
	b.lastResult = b.q.HandleNext(context.Background())
	return nil
}

func (b *bddCtx) handleNextReturnsDeliveredWith0LiveDeliveries() error {
	assert.Equal(b.t, Delivered, b.lastResult)
	return nil
}

func (b *bddCtx) theCollectionHoldsNoRefsForThatHandlersEventType() error {
	assert.Equal(b.t, 0, b.q.Subscribers().Len())
	return nil
}

func (b *bddCtx) aHandlerSubscribedToBothTestEventsAndCriticalTestEvents() error {
	b.mq = NewMainQueue(nil)
	h := HandlerFunc(func(ctx context.Context, e Event) error {
		switch ev := e.(type) {
		case *fakeEvent:
			b.observed = append(b.observed, ev.tag)
		case *criticalFakeEvent:
			b.observed = append(b.observed, ev.tag)
		}
		return nil
	})
	b.mq.Subscribers().Add(Strong(h, reflect.TypeOf(&fakeEvent{})))
	b.mq.Subscribers().Add(Strong(h, reflect.TypeOf(&criticalFakeEvent{})))
	return nil
}

func (b *bddCtx) aRegularTestEventIsEnqueued() error {
	_, err := b.mq.EnqueueRegular(&fakeEvent{tag: "regular"}, "bdd")
	return err
}

func (b *bddCtx) iCallHandleCriticalWithACriticalTestEvent() error {
	b.suspendedDuringCritical = false
	h := HandlerFunc(func(ctx context.Context, e Event) error {
		b.suspendedDuringCritical = b.mq.Inner().DeliverySuspender().IsSuspended()
		return nil
	})
	// The delivery suspender is held for the whole HandleCritical call, so
	// it does not matter where this probe handler falls in dispatch order.
	b.mq.Subscribers().Add(Strong(h, reflect.TypeOf(&criticalFakeEvent{})))
	b.lastErr = b.mq.HandleCritical(context.Background(), &criticalFakeEvent{tag: "critical"})
	return nil
}

func (b *bddCtx) theDeliverySuspenderReportsSuspendedDuringThatCall() error {
	assert.True(b.t, b.suspendedDuringCritical)
	return nil
}

func (b *bddCtx) theHandlersCallOrderIsCriticalEventThenRegularEventOnceHandleNextRuns() error {
	b.mq.Inner().HandleNext(context.Background())
	assert.Equal(b.t, []string{"critical", "regular"}, b.observed)
	return nil
}

func (b *bddCtx) iCallEnqueueRegularWithACriticalEvent() error {
	if b.mq == nil {
		b.mq = NewMainQueue(nil)
	}
	_, b.lastErr = b.mq.EnqueueRegular(&criticalFakeEvent{}, "bdd")
	return nil
}

func (b *bddCtx) iCallHandleCriticalWithARegularEvent() error {
	b.lastErr = b.mq.HandleCritical(context.Background(), &fakeEvent{})
	return nil
}

func (b *bddCtx) itRaisesInvalidEventCategory() error {
	assert.ErrorIs(b.t, b.lastErr, ErrInvalidEventCategory)
	return nil
}

func (b *bddCtx) aHandlerSubscribedToTestEventsAndShutdownEvents() error {
	b.q = NewQueue(nil)
	h := HandlerFunc(func(ctx context.Context, e Event) error {
		switch ev := e.(type) {
		case *fakeEvent:
			b.observed = append(b.observed, ev.tag)
		case *ShutdownEvent:
			b.observed = append(b.observed, "shutdown")
		}
		return nil
	})
	b.q.Subscribers().Add(Strong(h, reflect.TypeOf(&fakeEvent{})))
	b.q.Subscribers().Add(Strong(h, reflect.TypeOf(&ShutdownEvent{})))
	return nil
}

func (b *bddCtx) aTestEventIsEnqueued() error {
	b.q.Enqueue(&fakeEvent{tag: "e1"}, "bdd")
	return nil
}

func (b *bddCtx) aShutdownEventIsEnqueued() error {
	b.q.Enqueue(&ShutdownEvent{}, "bdd")
	return nil
}

func (b *bddCtx) iRunHandleNextToCompletion() error {
	for b.q.State() != StateClosed {
		result := b.q.HandleNext(context.Background())
		if result == Idle {
			break
		}
	}
	return nil
}

func (b *bddCtx) theHandlerObservedTheTestEventAndThenTheShutdownEvent() error {
	assert.Equal(b.t, []string{"e1", "shutdown"}, b.observed)
	return nil
}

func (b *bddCtx) anyFurtherEnqueueReturnsFalse() error {
	assert.False(b.t, b.q.Enqueue(&fakeEvent{tag: "too-late"}, "bdd"))
	return nil
}

func (b *bddCtx) theSubscriberCollectionIsEmpty() error {
	assert.Equal(b.t, 0, b.q.Subscribers().Len())
	return nil
}

func (b *bddCtx) isShutDownReportsTrue() error {
	assert.True(b.t, b.q.IsShutDown())
	return nil
}

func (b *bddCtx) aFailingHandlerAndARecordingHandlerBothSubscribedToTestEvents() error {
	b.q = NewQueue(nil)
	b.q.Subscribers().Add(Strong(HandlerFunc(func(ctx context.Context, e Event) error {
		return errBoom
	}), reflect.TypeOf(&fakeEvent{})))
	b.q.Subscribers().Add(Strong(HandlerFunc(func(ctx context.Context, e Event) error {
		b.observed = append(b.observed, "recorded")
		return nil
	}), reflect.TypeOf(&fakeEvent{})))
	b.q.Subscribers().Add(Strong(HandlerFunc(func(ctx context.Context, e Event) error {
		b.failure = e.(*UnhandledEventFailure)
		return nil
	}), reflect.TypeOf(&UnhandledEventFailure{})))
	return nil
}

func (b *bddCtx) handleNextReturnsDelivered() error {
	assert.Equal(b.t, Delivered, b.lastResult)
	return nil
}

func (b *bddCtx) theRecordingHandlerReceivedTheEvent() error {
	assert.Contains(b.t, b.observed, "recorded")
	return nil
}

func (b *bddCtx) iCallHandleNextAgain() error {
	b.lastResult = b.q.HandleNext(context.Background())
	return nil
}

func (b *bddCtx) anUnhandledEventFailureEventCarryingTheFailingHandlersExceptionTextIsDelivered() error {
	assert.NotNil(b.t, b.failure)
	if b.failure != nil {
		assert.Contains(b.t, b.failure.ExceptionMessage, "boom")
	}
	return nil
}

func TestEventQueueBoundaryScenarios(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			b := &bddCtx{t: t}

			sc.Given(`^a handler subscribed to test events$`, b.aHandlerSubscribedToTestEvents)
			sc.When(`^I enqueue 3 test events$`, b.iEnqueue3TestEvents)
			sc.Step(`^I call handleNext (\d+) times$`, b.iCallHandleNextNTimes)
			sc.Then(`^the handler observed the events in enqueue order$`, b.theHandlerObservedTheEventsInEnqueueOrder)
			sc.Then(`^a further handleNext call returns "Idle"$`, b.aFurtherHandleNextCallReturnsIdle)

			sc.Given(`^a handler subscribed weakly to test events, out of scope$`, b.aHandlerSubscribedWeaklyToTestEventsOutOfScope)
			sc.When(`^the garbage collector runs$`, b.theGarbageCollectorRuns)
			sc.When(`^I enqueue a test event$`, b.iEnqueueATestEvent)
			sc.When(`^I call handleNext once$`, b.iCallHandleNextOnce)
			sc.Then(`^handleNext returns "Delivered" with 0 live deliveries$`, b.handleNextReturnsDeliveredWith0LiveDeliveries)
			sc.Then(`^the collection holds no refs for that handler's event type$`, b.theCollectionHoldsNoRefsForThatHandlersEventType)

			sc.Given(`^a handler subscribed to both test events and critical test events$`, b.aHandlerSubscribedToBothTestEventsAndCriticalTestEvents)
			sc.Given(`^a regular test event is enqueued$`, b.aRegularTestEventIsEnqueued)
			sc.When(`^I call handleCritical with a critical test event$`, b.iCallHandleCriticalWithACriticalTestEvent)
			sc.Then(`^the delivery suspender reports suspended during that call$`, b.theDeliverySuspenderReportsSuspendedDuringThatCall)
			sc.Then(`^the handler's call order is critical event then regular event once handleNext runs$`, b.theHandlersCallOrderIsCriticalEventThenRegularEventOnceHandleNextRuns)

			sc.When(`^I call enqueueRegular with a critical event$`, b.iCallEnqueueRegularWithACriticalEvent)
			sc.When(`^I call handleCritical with a regular event$`, b.iCallHandleCriticalWithARegularEvent)
			sc.Then(`^it raises InvalidEventCategory$`, b.itRaisesInvalidEventCategory)

			sc.Given(`^a handler subscribed to test events and shutdown events$`, b.aHandlerSubscribedToTestEventsAndShutdownEvents)
			sc.Given(`^a test event is enqueued$`, b.aTestEventIsEnqueued)
			sc.Given(`^a shutdown event is enqueued$`, b.aShutdownEventIsEnqueued)
			sc.When(`^I run handleNext to completion$`, b.iRunHandleNextToCompletion)
			sc.Then(`^the handler observed the test event and then the shutdown event$`, b.theHandlerObservedTheTestEventAndThenTheShutdownEvent)
			sc.Then(`^any further enqueue returns false$`, b.anyFurtherEnqueueReturnsFalse)
			sc.Then(`^the subscriber collection is empty$`, b.theSubscriberCollectionIsEmpty)
			sc.Then(`^isShutDown reports true$`, b.isShutDownReportsTrue)

			sc.Given(`^a failing handler and a recording handler both subscribed to test events$`, b.aFailingHandlerAndARecordingHandlerBothSubscribedToTestEvents)
			sc.Then(`^handleNext returns "Delivered"$`, b.handleNextReturnsDelivered)
			sc.Then(`^the recording handler received the event$`, b.theRecordingHandlerReceivedTheEvent)
			sc.When(`^I call handleNext again$`, b.iCallHandleNextAgain)
			sc.Then(`^an UnhandledEventFailure event carrying the failing handler's exception text is delivered$`, b.anUnhandledEventFailureEventCarryingTheFailingHandlersExceptionTextIsDelivered)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/eventqueue.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
