// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set holds every collector the worker records into.
type Set struct {
	CyclesTotal       prometheus.Counter
	CyclesSkipped     prometheus.Counter
	ClaimsTotal       prometheus.Counter
	ClaimFailures     prometheus.Counter
	DispatchesTotal   *prometheus.CounterVec
	CompletionsTotal  *prometheus.CounterVec
	SweepEvictions    prometheus.Counter
	CallsInFlight     prometheus.Gauge
	FleetSize         prometheus.Gauge
	FleetTransitions  prometheus.Counter
	MembershipStale   prometheus.Counter
}

// New registers and returns the collector set. Pass a fresh registry in
// tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ardent_poll_cycles_total",
			Help: "Poll cycles started.",
		}),
		CyclesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ardent_poll_cycles_skipped_total",
			Help: "Ticks skipped because the previous cycle was still running.",
		}),
		ClaimsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ardent_claims_total",
			Help: "Tasks successfully claimed from the backlog.",
		}),
		ClaimFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ardent_claim_failures_total",
			Help: "Claim transactions that rolled back; the cycle claimed nothing.",
		}),
		DispatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ardent_dispatches_total",
			Help: "Dispatch attempts by result.",
		}, []string{"result"}),
		CompletionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ardent_completions_total",
			Help: "Completion signals processed by outcome.",
		}, []string{"outcome"}),
		SweepEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ardent_sweep_evictions_total",
			Help: "Correlation entries evicted because no completion signal arrived.",
		}),
		CallsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ardent_calls_in_flight",
			Help: "Outstanding calls tracked by this process.",
		}),
		FleetSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ardent_fleet_size",
			Help: "Healthy fleet members in the last membership snapshot.",
		}),
		FleetTransitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ardent_fleet_transitions_total",
			Help: "Observed fleet size changes.",
		}),
		MembershipStale: factory.NewCounter(prometheus.CounterOpts{
			Name: "ardent_membership_stale_total",
			Help: "Cycles served from a stale membership snapshot.",
		}),
	}
}

// Dispatch result label values.
const (
	ResultAccepted         = "accepted"
	ResultTransientFailure = "transient_failure"
	ResultPermanentFailure = "permanent_failure"
	ResultDuplicate        = "duplicate"
)
