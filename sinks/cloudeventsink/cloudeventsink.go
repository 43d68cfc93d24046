// Package cloudeventsink adapts the queue's failure events to CloudEvents
// envelopes for export to an external sink (log shipper, message bus, SIEM).
// It sits strictly at the serialization boundary: the core Event type is
// never replaced by a CloudEvents envelope, only translated to one on the
// way out.
package cloudeventsink

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/modularevents/eventqueue"
)

// Publisher is anything that can accept an outbound CloudEvents envelope.
// A host implements this over whatever transport it actually has (HTTP
// binding, Kafka producer, plain io.Writer); the sink has no transport
// opinion of its own.
type Publisher interface {
	Publish(ctx context.Context, event cloudevents.Event) error
}

// Sink translates UnhandledEventFailure and CriticalFailure events into
// CloudEvents envelopes and hands them to a Publisher.
type Sink struct {
	source    string
	publisher Publisher
}

// New creates a Sink. source fills the CloudEvents "source" attribute
// (typically the host process or service name).
func New(source string, publisher Publisher) *Sink {
	return &Sink{source: source, publisher: publisher}
}

// Attach registers the sink on q as a strong UnhandledEventFailure handler.
// It does not register anything for CriticalFailure; see
// HandleCriticalFailure for that.
func (s *Sink) Attach(q *eventqueue.Queue) error {
	h := eventqueue.NewUnhandledEventFailureHandler("cloudeventsink", func(ctx context.Context, e *eventqueue.UnhandledEventFailure) error {
		return s.publishFailure(ctx, "com.eventqueue.unhandled_failure", e.SourceEventType, e.HandlerID, e.ExceptionType, e.ExceptionMessage, e.FormattedText)
	})
	_, err := q.Subscribers().AddAll(h)
	return err
}

// HandleCriticalFailure adapts a *eventqueue.CriticalFailure directly; wire
// it onto a MainQueue's subscriber collection the same way Attach wires
// UnhandledEventFailure onto a regular Queue.
func (s *Sink) HandleCriticalFailure(ctx context.Context, e *eventqueue.CriticalFailure) error {
	return s.publishFailure(ctx, "com.eventqueue.critical_failure", e.SourceEventType, e.HandlerID, e.ExceptionType, e.ExceptionMessage, e.FormattedText)
}

func (s *Sink) publishFailure(ctx context.Context, eventType, sourceEventType, handlerID, exceptionType, exceptionMessage, formatted string) error {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(s.source)
	ce.SetType(eventType)
	ce.SetTime(time.Now())
	ce.SetSpecVersion(cloudevents.VersionV1)

	_ = ce.SetData(cloudevents.ApplicationJSON, map[string]string{
		"sourceEventType":  sourceEventType,
		"handlerId":        handlerID,
		"exceptionType":    exceptionType,
		"exceptionMessage": exceptionMessage,
		"formatted":        formatted,
	})

	return s.publisher.Publish(ctx, ce)
}
