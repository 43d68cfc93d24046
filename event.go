package eventqueue

import "sync/atomic"

// Event is the opaque value object that flows through the queue. It carries
// no behavior beyond the mutable source-site string every enqueue stamps
// exactly once.
type Event interface {
	// SourceSite returns the enqueue source site, or "" if the event has
	// not been enqueued yet.
	SourceSite() string
}

// sourceSiteStamper is satisfied by any Event that embeds Base. It is kept
// unexported: hosts stamp source sites only through Stamp, never directly.
type sourceSiteStamper interface {
	tryStampSourceSite(site string) bool
}

// Stamp records site as e's enqueue source site if, and only if, e has not
// already been stamped. It reports whether the stamp took effect. Events
// that do not embed Base are left untouched and Stamp returns false.
func Stamp(e Event, site string) bool {
	s, ok := e.(sourceSiteStamper)
	if !ok {
		return false
	}
	return s.tryStampSourceSite(site)
}

// Base gives an Event type the source-site bookkeeping the queue requires.
// Host event types embed Base by value.
type Base struct {
	site atomic.Pointer[string]
}

// SourceSite implements Event.
func (b *Base) SourceSite() string {
	if p := b.site.Load(); p != nil {
		return *p
	}
	return ""
}

func (b *Base) tryStampSourceSite(site string) bool {
	return b.site.CompareAndSwap(nil, &site)
}

// Critical is the capability tag a MainQueue uses to route an event to
// handleCritical instead of the regular queue. It is a marker interface,
// not a type hierarchy, per the design notes: a dispatch decision only
// needs the bit "is critical?".
type Critical interface {
	Event
	IsCritical() bool
}

// CriticalBase embeds Base and marks the event critical. Host critical
// event types embed CriticalBase instead of Base.
type CriticalBase struct {
	Base
}

// IsCritical implements Critical.
func (CriticalBase) IsCritical() bool { return true }

// Shutdown is the capability tag that drives the queue's Closing/Drained/
// Closed transitions. Any event embedding ShutdownEvent (or otherwise
// implementing this interface) triggers shutdown handling.
type Shutdown interface {
	Event
	IsShutdown() bool
}

// ShutdownEvent is the standard shutdown event. Hosts may embed it directly,
// or embed CriticalShutdownEvent for the critical-closing variant below.
type ShutdownEvent struct {
	Base
}

// IsShutdown implements Shutdown.
func (ShutdownEvent) IsShutdown() bool { return true }

// CriticalShutdownEvent is the optional "critical closing event" variant:
// a shutdown event that is also critical, so MainQueue.HandleCritical
// drives it inline and leaves the inner queue's delivery suspender
// disabled for regular events for the remainder of the process.
type CriticalShutdownEvent struct {
	CriticalBase
}

// IsShutdown implements Shutdown.
func (CriticalShutdownEvent) IsShutdown() bool { return true }

// UnhandledEventFailure is the standard event describing an exception a
// handler raised while processing some other event. The queue re-enqueues
// one of these instead of propagating the error to whatever drove
// dispatch; MainQueue.HandleCritical dispatches a CriticalFailure inline
// instead.
type UnhandledEventFailure struct {
	Base

	// HandlerID identifies which handler raised the failure, where known.
	HandlerID string
	// SourceEventType is the Go type name of the event being handled when
	// the failure occurred.
	SourceEventType string
	// ExceptionType is the Go type name of the underlying error.
	ExceptionType string
	// ExceptionMessage is err.Error() of the underlying error.
	ExceptionMessage string
	// FormattedText is the full recursive, indented dump produced by
	// FormatFailure.
	FormattedText string
}

// CriticalFailure carries the same data as UnhandledEventFailure but is
// tagged critical, so MainQueue.HandleCritical dispatches it inline
// instead of queueing it.
type CriticalFailure struct {
	CriticalBase

	HandlerID        string
	SourceEventType  string
	ExceptionType    string
	ExceptionMessage string
	FormattedText    string
}
