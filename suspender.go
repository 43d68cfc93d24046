package eventqueue

import "sync"

// Suspender is a reference-counted enable/disable gate. Any number of
// independent callers can suspend it without coordinating with each other;
// the pair is not strictly balanced, so extra Resume calls are silently
// absorbed with the count floored at zero.
type Suspender struct {
	mu        sync.Mutex
	count     int
	onSuspend func()
	onResume  func()
}

// NewSuspender creates a Suspender with optional suspend/resume notifiers.
// Either may be nil.
func NewSuspender(onSuspend, onResume func()) *Suspender {
	return &Suspender{onSuspend: onSuspend, onResume: onResume}
}

// Suspend increments the refcount. If this call transitions the count from
// 0 to 1, the suspend notifier runs on the calling goroutine after the
// increment commits, outside the internal lock so re-entrant Suspend/Resume
// calls from the notifier are safe.
func (s *Suspender) Suspend() {
	s.mu.Lock()
	s.count++
	transitioned := s.count == 1
	notify := s.onSuspend
	s.mu.Unlock()

	if transitioned && notify != nil {
		notify()
	}
}

// Resume decrements the refcount, floored at zero. If this call transitions
// the count from 1 to 0, the resume notifier runs on the calling goroutine
// outside the internal lock.
func (s *Suspender) Resume() {
	s.mu.Lock()
	if s.count == 0 {
		s.mu.Unlock()
		return
	}
	s.count--
	transitioned := s.count == 0
	notify := s.onResume
	s.mu.Unlock()

	if transitioned && notify != nil {
		notify()
	}
}

// IsEnabled reports whether the refcount is zero.
func (s *Suspender) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count == 0
}

// IsSuspended is the negation of IsEnabled.
func (s *Suspender) IsSuspended() bool {
	return !s.IsEnabled()
}

// scopedSuspension is the guard object returned by SuspendScoped; its
// Release method is idempotent so it is safe to call from both a deferred
// call and an explicit early-exit path.
type scopedSuspension struct {
	once sync.Once
	s    *Suspender
}

// Release resumes the suspension exactly once, however many times it is
// called. Safe to call from a deferred statement on every exit path
// (normal return, error return, or panic) around a scoped suspension such
// as HandleCritical's delivery suspend.
func (g *scopedSuspension) Release() {
	g.once.Do(func() {
		g.s.Resume()
	})
}

// SuspendScoped suspends s and returns a guard whose Release resumes it
// exactly once. Callers should `defer guard.Release()` immediately.
func (s *Suspender) SuspendScoped() *scopedSuspension {
	s.Suspend()
	return &scopedSuspension{s: s}
}

// neverRelease marks the guard as already released without resuming the
// underlying Suspender, so a later Release (including a deferred one) is a
// no-op. MainQueue.handleCriticalShutdown uses this for the optional
// critical-closing extension, which leaves delivery suspended permanently
// once a CriticalShutdownEvent has closed the queue.
func (g *scopedSuspension) neverRelease() {
	g.once.Do(func() {})
}
