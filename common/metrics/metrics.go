// Package metrics exposes Prometheus instrumentation for the
// thread-group coordination core: live group counts, membership churn,
// election outcomes, broadcast rendezvous, constraint-change attempt
// outcomes, and barrier phase latency.
//
// All metrics are registered against prometheus.DefaultRegisterer at
// package init so that any process importing this package (the core
// packages themselves, or cmd/burner) has them in the default registry;
// this package serves no HTTP /metrics endpoint itself. This mirrors how the teacher's ambient observability
// packages are import-for-side-effect singletons.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// GroupsLive is the current number of live groups in the registry.
	GroupsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "threadgroup",
		Name:      "groups_live",
		Help:      "Number of groups currently present in the registry.",
	})

	// MembershipChurn counts join/leave operations by outcome.
	MembershipChurn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threadgroup",
		Name:      "membership_churn_total",
		Help:      "Count of group join/leave operations.",
	}, []string{"op", "result"})

	// ElectionsWon counts successful leader elections.
	ElectionsWon = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "threadgroup",
		Name:      "elections_won_total",
		Help:      "Count of elections in which a caller became leader.",
	})

	// BroadcastRendezvous counts completed broadcast message handoffs.
	BroadcastRendezvous = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "threadgroup",
		Name:      "broadcast_rendezvous_total",
		Help:      "Count of broadcast slot message handoffs completed.",
	})

	// AttemptOutcomes counts per-member outcomes of constraint-change
	// protocol attempts (ok, failed_with_rollback, fatal): every member
	// of an attempt increments it once, so one attempt of an n-member
	// group adds n.
	AttemptOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threadgroup",
		Name:      "constraint_change_attempts_total",
		Help:      "Count of per-member constraint-change protocol outcomes, by outcome.",
	}, []string{"outcome"})

	// BarrierPhaseLatency measures, per synchronization point label
	// (s1/s2/s3), how long a caller spent inside barrier.Wait.
	BarrierPhaseLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "threadgroup",
		Name:      "barrier_phase_latency_seconds",
		Help:      "Latency of a single barrier.Wait call, by synchronization point.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"point"})
)

func init() {
	prometheus.MustRegister(
		GroupsLive,
		MembershipChurn,
		ElectionsWon,
		BroadcastRendezvous,
		AttemptOutcomes,
		BarrierPhaseLatency,
	)
}
