// Package fleet discovers the worker fleet and derives this process's
// partition position from it.
//
// Fleet membership is the only external coordination signal the worker
// needs: no central scheduler assigns partitions. Every pod lists the same
// healthy members, sorts them the same way, and locates itself, so all
// pods observing the same underlying set converge on the same
// (index, total) split.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	ardent "github.com/IvanSScrobot/ardent-ms-call-retell"
)

// Member is one fleet member as reported by a Source.
type Member struct {
	Identity string
	Healthy  bool
}

// Source lists the current fleet members. Implementations must report a
// deterministic set for a fixed underlying fleet; ordering is normalized by
// the Tracker.
type Source interface {
	ListMembers(ctx context.Context) ([]Member, error)
}

// Snapshot is a point-in-time ordered view of healthy member identities.
type Snapshot struct {
	Identities []string
	AsOf       time.Time
}

// ShardInfo is this process's position in the fleet.
type ShardInfo struct {
	// Index is 1-based.
	Index int
	// Total is the number of healthy members, always >= 1 when Index is set.
	Total int
	// Stale is set when the info was served from an expired cache because
	// a fresh membership list could not be obtained.
	Stale bool
}

// Tracker caches fleet membership with a TTL and watches for size changes.
type Tracker struct {
	source Source
	self   string
	ttl    time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	snap *Snapshot
	info ShardInfo
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithCacheTTL sets how long a snapshot is served without refreshing.
func WithCacheTTL(ttl time.Duration) TrackerOption {
	return func(t *Tracker) { t.ttl = ttl }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a Tracker for the member identified by self.
func NewTracker(source Source, self string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		source: source,
		self:   self,
		ttl:    30 * time.Second,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Info returns this process's current shard position. A cached value
// younger than the TTL is served as-is. On refresh failure or when the own
// identity is missing from a fresh snapshot, a cached value (if any) is
// served marked Stale with a warning; otherwise the error propagates and
// the caller skips its cycle.
func (t *Tracker) Info(ctx context.Context) (ShardInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap != nil && time.Since(t.snap.AsOf) < t.ttl {
		return t.info, nil
	}
	return t.refreshLocked(ctx)
}

// Refresh forces a membership list regardless of cache age.
func (t *Tracker) Refresh(ctx context.Context) (ShardInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshLocked(ctx)
}

// refreshLocked lists members and recomputes the shard info. Callers hold mu.
func (t *Tracker) refreshLocked(ctx context.Context) (ShardInfo, error) {
	members, err := t.source.ListMembers(ctx)
	if err != nil {
		if t.snap != nil {
			t.logger.Warn("fleet: membership refresh failed, serving cached snapshot",
				slog.String("error", err.Error()),
				slog.Time("as_of", t.snap.AsOf),
			)
			stale := t.info
			stale.Stale = true
			return stale, nil
		}
		return ShardInfo{}, fmt.Errorf("%w: %w", ardent.ErrMembershipUnavailable, err)
	}

	identities := make([]string, 0, len(members))
	for _, m := range members {
		if m.Healthy {
			identities = append(identities, m.Identity)
		}
	}
	// Lexicographic order makes every pod compute the same positions.
	sort.Strings(identities)

	index := 0
	for i, id := range identities {
		if id == t.self {
			index = i + 1
			break
		}
	}
	if index == 0 {
		if t.snap != nil {
			t.logger.Warn("fleet: own identity missing from fresh snapshot, serving cached snapshot",
				slog.String("self", t.self),
				slog.Int("members", len(identities)),
			)
			stale := t.info
			stale.Stale = true
			return stale, nil
		}
		return ShardInfo{}, fmt.Errorf("%w: %q not in %d healthy members", ardent.ErrSelfNotFound, t.self, len(identities))
	}

	t.snap = &Snapshot{Identities: identities, AsOf: time.Now()}
	t.info = ShardInfo{Index: index, Total: len(identities)}
	return t.info, nil
}

// StartMonitoring runs an immediate membership check and then one per
// interval, invoking onChange(oldTotal, newTotal) exactly once per observed
// change of the fleet size. Repeated identical sizes do not re-trigger.
// The returned stop function cancels the monitor and is safe to call more
// than once.
func (t *Tracker) StartMonitoring(interval time.Duration, onChange func(oldTotal, newTotal int)) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		lastTotal := t.observe(-1, onChange)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				lastTotal = t.observe(lastTotal, onChange)
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

// observe refreshes membership and fires onChange when the total moved.
// lastTotal of -1 means "no successful observation yet"; the first success
// establishes the baseline without firing.
func (t *Tracker) observe(lastTotal int, onChange func(oldTotal, newTotal int)) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := t.Refresh(ctx)
	if err != nil {
		t.logger.Warn("fleet: monitor check failed", slog.String("error", err.Error()))
		return lastTotal
	}
	if info.Stale {
		return lastTotal
	}
	if lastTotal >= 0 && info.Total != lastTotal {
		t.logger.Info("fleet: size changed",
			slog.Int("old_total", lastTotal),
			slog.Int("new_total", info.Total),
		)
		onChange(lastTotal, info.Total)
	}
	return info.Total
}
