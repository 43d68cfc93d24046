// Package metricsink exports per-event-type delivery and failure counters
// to Prometheus, as a read-only observer bolted onto a Queue. It never
// participates in dispatch decisions.
package metricsink

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/modularevents/eventqueue"
)

// Sink implements prometheus.Collector over a Queue's delivery and failure
// counts. Construct one per Queue, register it with a prometheus.Registerer,
// and call Attach once to start counting.
type Sink struct {
	mu        sync.Mutex
	delivered map[string]uint64
	failed    map[string]uint64

	deliveredDesc *prometheus.Desc
	failedDesc    *prometheus.Desc
}

// New creates a Sink. namespace prefixes every metric name; it defaults to
// "eventqueue" when empty.
func New(namespace string) *Sink {
	if namespace == "" {
		namespace = "eventqueue"
	}
	return &Sink{
		delivered: make(map[string]uint64),
		failed:    make(map[string]uint64),
		deliveredDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_delivered_total", namespace),
			"Total events delivered to at least one handler, by event type",
			[]string{"event_type"}, nil,
		),
		failedDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_handler_failures_total", namespace),
			"Total handler failures observed via UnhandledEventFailure, by source event type",
			[]string{"event_type"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (s *Sink) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.deliveredDesc
	ch <- s.failedDesc
}

// Collect implements prometheus.Collector.
func (s *Sink) Collect(ch chan<- prometheus.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for eventType, n := range s.delivered {
		ch <- prometheus.MustNewConstMetric(s.deliveredDesc, prometheus.CounterValue, float64(n), eventType)
	}
	for eventType, n := range s.failed {
		ch <- prometheus.MustNewConstMetric(s.failedDesc, prometheus.CounterValue, float64(n), eventType)
	}
}

// recordDelivery counts one delivery of eventType; the generic tap
// registered in Attach calls it for every event type.
func (s *Sink) recordDelivery(eventType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[eventType]++
}

func (s *Sink) recordFailure(sourceEventType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[sourceEventType]++
}

// Attach registers the sink's handlers on q's subscriber collection: a
// catch-all tap on Event itself for delivery counts, and an
// UnhandledEventFailure handler for failure counts. Both wrap s itself
// rather than holding a reference to q, so Attach may be called on
// multiple queues from one Sink.
func (s *Sink) Attach(q *eventqueue.Queue) error {
	eventIface := reflect.TypeOf((*eventqueue.Event)(nil)).Elem()
	deliveryTap := eventqueue.NewFuncHandler("metricsink.delivered", eventIface, func(ctx context.Context, e eventqueue.Event) error {
		s.recordDelivery(fmt.Sprintf("%T", e))
		return nil
	})
	if !q.Subscribers().Add(eventqueue.Strong(deliveryTap, eventIface)) {
		return fmt.Errorf("metricsink: delivery tap already registered")
	}

	failureHandler := eventqueue.NewUnhandledEventFailureHandler("metricsink.failures", func(ctx context.Context, e *eventqueue.UnhandledEventFailure) error {
		s.recordFailure(e.SourceEventType)
		return nil
	})
	if _, err := q.Subscribers().AddAll(failureHandler); err != nil {
		return fmt.Errorf("metricsink: registering failure handler: %w", err)
	}

	return nil
}
