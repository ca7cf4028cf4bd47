// Package poller runs the recurring claim-and-dispatch cycle that drains
// this process's slice of the call backlog.
//
// Each tick claims at most one task owned by the current partition
// position, submits it to the telephony gateway, and records the
// outstanding call in the correlation tracker. Cycles never overlap: a
// tick that arrives while the previous cycle is still running is skipped,
// not queued.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ardent "github.com/IvanSScrobot/ardent-ms-call-retell"
	"github.com/IvanSScrobot/ardent-ms-call-retell/backlog"
	"github.com/IvanSScrobot/ardent-ms-call-retell/fleet"
	"github.com/IvanSScrobot/ardent-ms-call-retell/gateway"
	"github.com/IvanSScrobot/ardent-ms-call-retell/metrics"
	"github.com/IvanSScrobot/ardent-ms-call-retell/retry"
	"github.com/IvanSScrobot/ardent-ms-call-retell/track"
)

// Loop drives the poll cycle. Create one with New and run it with Start;
// a Loop is not reusable after Stop.
type Loop struct {
	fleet   *fleet.Tracker
	store   backlog.Store
	tracker *track.Tracker
	gateway gateway.Gateway
	logger  *slog.Logger
	metrics *metrics.Set

	interval        time.Duration
	monitorInterval time.Duration
	sweepInterval   time.Duration
	staleAfter      time.Duration
	dispatch        retry.Policy

	busy    atomic.Bool
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	stopMon func()
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the poll tick period.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) { l.interval = d }
}

// WithMonitorInterval sets how often fleet membership is re-checked.
func WithMonitorInterval(d time.Duration) Option {
	return func(l *Loop) { l.monitorInterval = d }
}

// WithSweep sets how often the correlation tracker is swept and how old an
// unconfirmed call must be before it is evicted.
func WithSweep(interval, staleAfter time.Duration) Option {
	return func(l *Loop) {
		l.sweepInterval = interval
		l.staleAfter = staleAfter
	}
}

// WithDispatchPolicy sets the retry policy for gateway submission and the
// durable dispatched mark.
func WithDispatchPolicy(p retry.Policy) Option {
	return func(l *Loop) { l.dispatch = p }
}

// WithLogger sets the structured logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loop) { l.logger = lg }
}

// WithMetrics sets the collector set.
func WithMetrics(m *metrics.Set) Option {
	return func(l *Loop) { l.metrics = m }
}

// New creates a Loop over the given fleet tracker, backlog store,
// correlation tracker, and telephony gateway.
func New(ft *fleet.Tracker, store backlog.Store, tracker *track.Tracker, gw gateway.Gateway, opts ...Option) *Loop {
	l := &Loop{
		fleet:           ft,
		store:           store,
		tracker:         tracker,
		gateway:         gw,
		logger:          slog.Default(),
		interval:        5 * time.Second,
		monitorInterval: 15 * time.Second,
		sweepInterval:   time.Minute,
		staleAfter:      30 * time.Minute,
		dispatch:        retry.Policy{MaxAttempts: 4},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start launches the tick loop, the sweep loop, and the fleet monitor.
// Calling Start twice is an error.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errors.New("poller: already started")
	}
	l.running = true
	l.stopCh = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.stopMon = l.fleet.StartMonitoring(l.monitorInterval, func(oldTotal, newTotal int) {
		l.logger.Info("poller: partition layout changed",
			slog.Int("old_total", oldTotal),
			slog.Int("new_total", newTotal),
		)
		if l.metrics != nil {
			l.metrics.FleetSize.Set(float64(newTotal))
			l.metrics.FleetTransitions.Inc()
		}
	})

	l.wg.Add(2)
	go l.tickLoop(ctx)
	go l.sweepLoop(ctx)

	l.logger.Info("poller: started",
		slog.Duration("interval", l.interval),
		slog.Duration("sweep_interval", l.sweepInterval),
		slog.Duration("stale_after", l.staleAfter),
	)
	return nil
}

// Stop cancels in-flight work and waits for the loops to drain, up to the
// deadline carried by ctx.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	close(l.stopCh)
	l.stopMon()
	l.cancel()
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.logger.Info("poller: stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) tickLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// First cycle fires immediately so a fresh pod starts draining without
	// waiting out a full interval.
	l.tick(ctx)
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick runs one cycle unless the previous one is still in flight.
func (l *Loop) tick(ctx context.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		l.logger.Debug("poller: previous cycle still running, skipping tick")
		if l.metrics != nil {
			l.metrics.CyclesSkipped.Inc()
		}
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.busy.Store(false)
		l.runCycle(ctx)
	}()
}

// runCycle claims at most one owned task and dispatches it.
func (l *Loop) runCycle(ctx context.Context) {
	if l.metrics != nil {
		l.metrics.CyclesTotal.Inc()
	}

	info, err := l.fleet.Info(ctx)
	if err != nil {
		// No usable partition position; claiming with a guessed one could
		// double-dial another pod's slice. Sit this cycle out.
		l.logger.Warn("poller: no shard position, skipping cycle",
			slog.String("error", err.Error()),
		)
		return
	}
	if info.Stale {
		l.logger.Warn("poller: operating on stale membership snapshot",
			slog.Int("index", info.Index),
			slog.Int("total", info.Total),
		)
		if l.metrics != nil {
			l.metrics.MembershipStale.Inc()
		}
	}
	if l.metrics != nil {
		l.metrics.FleetSize.Set(float64(info.Total))
	}

	task, err := l.store.ClaimNext(ctx, info.Index, info.Total, l.tracker.InFlightIDs())
	if err != nil {
		// A failed claim transaction rolled back; the task (if any) is
		// untouched and a later cycle will pick it up.
		l.logger.Error("poller: claim failed", slog.String("error", err.Error()))
		if l.metrics != nil {
			l.metrics.ClaimFailures.Inc()
		}
		return
	}
	if task == nil {
		return
	}
	if l.metrics != nil {
		l.metrics.ClaimsTotal.Inc()
	}

	l.dispatchTask(ctx, task)
}

// dispatchTask submits one claimed task to the gateway and records the
// outcome.
func (l *Loop) dispatchTask(ctx context.Context, task *backlog.Task) {
	log := l.logger.With(
		slog.Int64("task_id", task.ID),
		slog.String("subject", task.Subject),
	)

	ref, err := retry.Do(ctx, l.dispatch, func(ctx context.Context) (gateway.CallRef, error) {
		return l.gateway.Submit(ctx, task)
	})
	if err != nil {
		if retry.IsPermanent(err) {
			// The gateway rejected the task itself; retrying the same
			// payload can never succeed. Park it durably.
			log.Error("poller: dispatch rejected permanently", slog.String("error", err.Error()))
			l.result(metrics.ResultPermanentFailure)
			if markErr := l.store.MarkFailed(ctx, task.ID, err.Error()); markErr != nil {
				log.Error("poller: failed to park rejected task", slog.String("error", markErr.Error()))
			}
			return
		}
		// Transient exhaustion: the task stays pending and eligible for a
		// later cycle, possibly on another pod after a repartition.
		log.Warn("poller: dispatch attempts exhausted", slog.String("error", err.Error()))
		l.result(metrics.ResultTransientFailure)
		return
	}

	trackErr := l.tracker.Track(track.Entry{
		TaskID:  task.ID,
		CallRef: string(ref),
		Subject: task.Subject,
	})
	if errors.Is(trackErr, ardent.ErrAlreadyTracked) {
		// Lost the local race with another dispatch path. The call was
		// placed; keep the older entry and do not double-mark.
		log.Warn("poller: task already tracked after dispatch", slog.String("call_ref", string(ref)))
		l.result(metrics.ResultDuplicate)
		return
	}

	if _, err := retry.Do(ctx, l.dispatch, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.store.MarkDispatched(ctx, task.ID)
	}); err != nil {
		// The call is live but the durable flag is missing, so the row
		// looks claimable to the rest of the fleet. The tracker entry
		// still shields this process; a duplicate elsewhere is possible
		// and resolved by the completion path's idempotent writes.
		log.Error("poller: dispatched mark failed", slog.String("error", err.Error()))
	}

	log.Info("poller: call dispatched", slog.String("call_ref", string(ref)))
	l.result(metrics.ResultAccepted)
	if l.metrics != nil {
		l.metrics.CallsInFlight.Set(float64(l.tracker.Len()))
	}
}

func (l *Loop) result(label string) {
	if l.metrics != nil {
		l.metrics.DispatchesTotal.WithLabelValues(label).Inc()
	}
}

func (l *Loop) sweepLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

// sweep evicts correlation entries whose completion signal never arrived
// and restores the underlying tasks to claimable state.
func (l *Loop) sweep(ctx context.Context) {
	evicted := l.tracker.Sweep(l.staleAfter)
	for _, e := range evicted {
		l.logger.Warn("poller: evicting unconfirmed call",
			slog.Int64("task_id", e.TaskID),
			slog.String("call_ref", e.CallRef),
			slog.Time("dispatched_at", e.CreatedAt),
		)
		if l.metrics != nil {
			l.metrics.SweepEvictions.Inc()
		}
		if err := l.store.Release(ctx, e.TaskID); err != nil {
			l.logger.Error("poller: release after sweep failed",
				slog.Int64("task_id", e.TaskID),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(evicted) > 0 && l.metrics != nil {
		l.metrics.CallsInFlight.Set(float64(l.tracker.Len()))
	}
}
