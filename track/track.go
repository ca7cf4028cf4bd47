// Package track keeps the process-local record of outstanding Retell calls,
// keyed by backlog task id. Its guarantee is "at most one outstanding call
// per task id, per process, at any instant", not exactly-once ever.
//
// The tracker is mutated from two paths at once: the poll cycle tracks new
// dispatches and snapshots in-flight ids, while completion signals resolve
// entries whenever they arrive. Every operation is therefore a single
// critical section; callers must not assume atomicity across two calls.
package track

import (
	"sort"
	"sync"
	"time"

	ardent "github.com/IvanSScrobot/ardent-ms-call-retell"
)

// Entry records one dispatched-but-unconfirmed call.
type Entry struct {
	// TaskID is the backlog task the call was dispatched for.
	TaskID int64

	// CallRef is the operation reference returned by the gateway.
	CallRef string

	// Subject is a short human-readable summary for logs.
	Subject string

	// CreatedAt is when the dispatch was accepted. Zero means "now" at
	// Track time.
	CreatedAt time.Time
}

// Tracker is a synchronized map of outstanding calls. The zero value is not
// usable; create one with New. Entries live only in process memory: after a
// restart the map is rebuilt from zero and the backlog store's dispatched
// flag remains the durable source of truth.
type Tracker struct {
	mu      sync.Mutex
	entries map[int64]Entry
	now     func() time.Time
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		entries: make(map[int64]Entry),
		now:     time.Now,
	}
}

// Track records an outstanding call for e.TaskID. If the task already has
// an outstanding call it returns ardent.ErrAlreadyTracked and leaves the
// existing entry untouched; the caller must treat that as "do not dispatch
// again", not as a failure.
func (t *Tracker) Track(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[e.TaskID]; exists {
		return ardent.ErrAlreadyTracked
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}
	t.entries[e.TaskID] = e
	return nil
}

// Resolve removes and returns the entry for taskID. Resolving an absent id
// is a no-op: completion signals may arrive after a sweep already evicted
// the entry, or twice.
func (t *Tracker) Resolve(taskID int64) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[taskID]
	if ok {
		delete(t.entries, taskID)
	}
	return e, ok
}

// ResolveRef removes and returns the entry whose CallRef matches ref.
// Completion events from Retell carry the call id, not the task id.
func (t *Tracker) ResolveRef(ref string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.entries {
		if e.CallRef == ref {
			delete(t.entries, id)
			return e, true
		}
	}
	return Entry{}, false
}

// Sweep removes and returns every entry older than maxAge. This is the sole
// defense against a lost completion signal: once evicted, the task id drops
// out of the exclusion set and the next cycle may legitimately re-claim it,
// accepting a possible duplicate call in exchange for forward progress.
func (t *Tracker) Sweep(maxAge time.Duration) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	var evicted []Entry
	for id, e := range t.entries {
		if e.CreatedAt.Before(cutoff) {
			evicted = append(evicted, e)
			delete(t.entries, id)
		}
	}
	return evicted
}

// InFlightIDs returns a sorted snapshot of the task ids with outstanding
// calls, for use as the claim exclusion set. The snapshot is already stale
// the moment it is returned; the dequeue protocol tolerates that.
func (t *Tracker) InFlightIDs() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int64, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of outstanding calls.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
