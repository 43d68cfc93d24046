package eventqueue

import "runtime"

// forceGC nudges the garbage collector, for tests exercising weak
// references. GC is not guaranteed to run synchronously even after this
// call, so callers that depend on collection having happened should loop
// on the observable effect (e.g. ref.IsDead()) rather than a single call.
func forceGC() {
	runtime.GC()
}
