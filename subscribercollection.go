package eventqueue

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Failure pairs a dispatch error with the identity of the ref that raised
// it, as returned by Collection.Dispatch.
type Failure struct {
	HandlerID string
	Err       error
}

// DispatchResult is the outcome of one Collection.Dispatch call.
type DispatchResult struct {
	Delivered int
	Failures  []Failure
}

// typeBucket groups every Ref registered against the same declared event
// type, in insertion order.
type typeBucket struct {
	eventType reflect.Type
	firstSeen int
	refs      []Ref
}

// Collection is the thread-safe set of HandlerRefs keyed by declared event
// type. Dispatch iterates a snapshot taken under lock, so additions
// observed mid-dispatch are not visible to that dispatch; removals and
// dead-ref compaction are applied to the live collection afterward.
type Collection struct {
	mu      sync.Mutex
	buckets map[reflect.Type]*typeBucket
	order   []reflect.Type
	seq     int
	closed  bool
}

// NewCollection creates an empty Collection.
func NewCollection() *Collection {
	return &Collection{buckets: make(map[reflect.Type]*typeBucket)}
}

// Close marks the collection closed: every further Add returns false.
// Existing refs are cleared, run once the owning queue finishes draining
// into Closed.
func (c *Collection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.buckets = make(map[reflect.Type]*typeBucket)
	c.order = nil
}

// Add registers ref. It is a no-op (returns false) if the collection is
// closed, or if a live ref already wraps the same handler for the same
// event type.
func (c *Collection) Add(ref Ref) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || ref.eventType == nil {
		return false
	}

	if h, ok := ref.target.resolve(); ok {
		if b, exists := c.buckets[ref.eventType]; exists {
			for _, existing := range b.refs {
				if existing.SameTarget(h) == TriYes {
					return false
				}
			}
		}
	}

	b, exists := c.buckets[ref.eventType]
	if !exists {
		c.seq++
		b = &typeBucket{eventType: ref.eventType, firstSeen: c.seq}
		c.buckets[ref.eventType] = b
		c.order = append(c.order, ref.eventType)
	}
	b.refs = append(b.refs, ref)
	return true
}

// AddAll registers h, retained strongly, against every event type it
// declares via TypeDiscoverer.AcceptedEventTypes. It is the only
// polymorphic-discovery operation the collection performs, and requires h
// to implement TypeDiscoverer explicitly rather than relying on reflection
// over its method set.
func (c *Collection) AddAll(h Handler) (added int, err error) {
	td, ok := h.(TypeDiscoverer)
	if !ok {
		return 0, fmt.Errorf("eventqueue: %T does not implement TypeDiscoverer", h)
	}
	for _, t := range td.AcceptedEventTypes() {
		if c.Add(Strong(h, t)) {
			added++
		}
	}
	return added, nil
}

// AddAllWeak registers h, retained weakly, against every event type it
// declares via TypeDiscoverer.AcceptedEventTypes. It is a package function
// rather than a Collection method because Go methods cannot be generic;
// the type parameter is what lets Weak construct a weak.Pointer[T] without
// reflection.
func AddAllWeak[T any](c *Collection, h *T) (added int, err error) {
	hi, ok := any(h).(Handler)
	if !ok {
		return 0, fmt.Errorf("eventqueue: %T does not implement Handler", h)
	}
	td, ok := any(h).(TypeDiscoverer)
	if !ok {
		return 0, fmt.Errorf("eventqueue: %T does not implement TypeDiscoverer", h)
	}
	_ = hi
	for _, t := range td.AcceptedEventTypes() {
		ref, werr := Weak(h, t)
		if werr != nil {
			continue
		}
		if c.Add(ref) {
			added++
		}
	}
	return added, nil
}

// Remove removes every ref whose SameTarget against h is TriYes or
// TriUnknown (weak refs whose target has already been collected are swept
// alongside an explicit removal), and reports whether anything changed.
func (c *Collection) Remove(h Handler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	removedAny := false
	for _, t := range c.order {
		b := c.buckets[t]
		kept := b.refs[:0]
		for _, ref := range b.refs {
			switch ref.SameTarget(h) {
			case TriYes, TriUnknown:
				removedAny = true
			default:
				kept = append(kept, ref)
			}
		}
		b.refs = kept
	}
	return removedAny
}

// Dispatch delivers e to every ref whose Matches(e) is true, in insertion
// order within each matching type bucket, visiting the bucket registered
// against e's exact runtime type before buckets registered against a more
// general (e.g. interface) type, in that bucket's first-registration
// order. A handler's error or panic is captured as a Failure and does not
// stop delivery to the remaining refs. Dead weak refs observed during
// delivery are compacted out of the live collection before Dispatch
// returns.
func (c *Collection) Dispatch(ctx context.Context, e Event) DispatchResult {
	type matched struct {
		bucket *typeBucket
		refs   []Ref
	}

	exactType := reflect.TypeOf(e)

	c.mu.Lock()
	var matches []matched
	for _, t := range c.order {
		b := c.buckets[t]
		if len(b.refs) == 0 || !exactType.AssignableTo(t) {
			continue
		}
		snap := make([]Ref, len(b.refs))
		copy(snap, b.refs)
		matches = append(matches, matched{bucket: b, refs: snap})
	}
	c.mu.Unlock()

	sort.SliceStable(matches, func(i, j int) bool {
		iExact := matches[i].bucket.eventType == exactType
		jExact := matches[j].bucket.eventType == exactType
		if iExact != jExact {
			return iExact
		}
		return matches[i].bucket.firstSeen < matches[j].bucket.firstSeen
	})

	var result DispatchResult
	var dead []Ref
	for _, m := range matches {
		for _, ref := range m.refs {
			delivered, err := ref.Deliver(ctx, e)
			if err != nil {
				result.Failures = append(result.Failures, Failure{HandlerID: ref.ID(), Err: err})
				result.Delivered++
				continue
			}
			if delivered {
				result.Delivered++
			} else {
				dead = append(dead, ref)
			}
		}
	}

	if len(dead) > 0 {
		c.compact(dead)
	}

	return result
}

// compact removes the given dead refs (identified by event type + identity
// token) from the live collection.
func (c *Collection) compact(dead []Ref) {
	byType := make(map[reflect.Type]map[uintptr]bool)
	for _, r := range dead {
		ids, ok := byType[r.eventType]
		if !ok {
			ids = make(map[uintptr]bool)
			byType[r.eventType] = ids
		}
		ids[r.id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for t, ids := range byType {
		b, ok := c.buckets[t]
		if !ok {
			continue
		}
		kept := b.refs[:0]
		for _, ref := range b.refs {
			if ids[ref.id] {
				continue
			}
			kept = append(kept, ref)
		}
		b.refs = kept
	}
}

// Len reports the total number of registered refs across every event type,
// for diagnostics and tests. Weak refs whose target was collected are
// counted until a Dispatch or Remove compacts them out.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.order {
		n += len(c.buckets[t].refs)
	}
	return n
}
