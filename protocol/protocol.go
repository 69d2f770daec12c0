// Package protocol implements the Collective Constraint-Change Protocol
// described in spec.md §4.4: a group-wide change of scheduling
// constraint, committed locally by every member and rolled back in two
// levels (prior constraint, then DEFAULT_APERIODIC) if any member's
// local commit or first-level rollback fails.
//
// The phase table (P0-P7) and synchronization points (S1-S3) are
// unchanged from spec.md; this package only gives the protocol-global
// mutex an explicit constructor, per SPEC_FULL.md's design note
// ("protocol.GlobalMutex, analogous to the registry singleton").
package protocol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nautilus-aerokernel/threadgroup/common/errkind"
	"github.com/nautilus-aerokernel/threadgroup/common/logging"
	"github.com/nautilus-aerokernel/threadgroup/common/metrics"
	"github.com/nautilus-aerokernel/threadgroup/common/tracing"
	"github.com/nautilus-aerokernel/threadgroup/group"
	"github.com/nautilus-aerokernel/threadgroup/scheduler"
)

var logger = logging.GetLogger("protocol")

// Protocol owns the process-wide mutex that serializes constraint-change
// attempts against a single group (spec.md invariant: at most one
// attempt in flight per group). Distinct groups use distinct Protocols,
// or share GlobalMutex if the caller wants the coarser, teacher-style
// single process-wide lock (see cmd/burner's double-group scenario,
// which deliberately exercises both).
type Protocol struct {
	mu sync.Mutex
}

// New constructs a Protocol with its mutex unlocked.
func New() *Protocol {
	return &Protocol{}
}

// GlobalMutex is the default process-wide Protocol singleton, analogous
// to registry.New()'s explicit-singleton pattern: constructed once here
// rather than hidden behind a package-level unexported var, so the
// burner harness's double-group scenario can reason about it directly.
var GlobalMutex = New()

// FatalError is the unrecoverable outcome spec.md §4.4/§7 names: deep
// recovery (installing DEFAULT_APERIODIC after a failed rollback to
// prior) itself failed. It is always delivered as a panic value, never
// a returned error, matching spec.md's classification of this condition
// as fatal rather than user-visible.
type FatalError struct {
	Thread scheduler.ThreadID
	Reason error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("protocol: deep recovery failed for thread %d: %v", e.Thread, e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Reason }

// attempt is the opaque per-round state the leader publishes through
// group.AttachState and every member reads back through group.GetState.
// Its three atomics are the CAS failure flags and member countdown named
// in spec.md §4.4. Priors are not stored here: each member keeps its own
// prior in a local variable, so a member never needs another's prior.
type attempt struct {
	target            scheduler.Constraints
	changingFail      atomic.Bool
	rollBackToOldFail atomic.Bool
	changingCount     atomic.Int64
}

// ChangeConstraints runs one member's side of a single collective
// constraint-change round. Every member of g (the leader included) must
// call this concurrently with the same target and groupSize, and with
// exactly one caller passing isLeader=true; callers coordinate that
// choice the same way they coordinate Election (typically: whoever just
// won g.Election calls with isLeader=true).
//
// It returns nil on a fully committed change, an *errkind.Error of kind
// FailedWithRollback if any member's local commit failed (all members
// are left on prior, or on DEFAULT_APERIODIC if rollback-to-prior itself
// failed anywhere), and panics with *FatalError if deep recovery itself
// failed for this member — an unrecoverable condition per spec.md §7.
func (p *Protocol) ChangeConstraints(
	ctx context.Context,
	g *group.Group,
	sched scheduler.Backend,
	tid scheduler.ThreadID,
	groupSize int,
	isLeader bool,
	target scheduler.Constraints,
) error {
	prior, err := sched.GetConstraints(ctx, tid)
	if err != nil {
		return err
	}

	// P0 Publish (leader only): acquire the group's protocol mutex and
	// install the shared attempt state before anyone can observe it.
	if isLeader {
		p.mu.Lock()
		at := &attempt{target: target}
		at.changingCount.Store(int64(groupSize))
		g.AttachState(at)
		logger.Debug("published attempt", "group", g.Name(), "target", target.String())
	}

	// P1 Sync (S1): every member waits here until the leader's publish
	// (if this caller isn't the leader) is guaranteed visible.
	p.timedWait(g, "s1")

	at, ok := g.GetState().(*attempt)
	if !ok || at == nil {
		panic(fmt.Sprintf("protocol: no attempt state published for group %q at S1", g.Name()))
	}

	// P2 Local commit.
	if commitErr := sched.ChangeConstraints(ctx, tid, at.target); commitErr != nil {
		at.changingFail.Store(true)
		logger.Debug("local commit failed", "group", g.Name(), "thread", tid, "err", commitErr)
	}

	// P3 Sync (S2): every member observes the same, final changingFail.
	p.timedWait(g, "s2")

	failed := at.changingFail.Load()
	var outcome error
	if failed {
		// P4 Recover: roll back to this member's own prior constraint.
		if rbErr := sched.ChangeConstraints(ctx, tid, prior); rbErr != nil {
			at.rollBackToOldFail.Store(true)
			logger.Debug("rollback to prior failed", "group", g.Name(), "thread", tid, "err", rbErr)
		}

		// P5 Sync (S3): only reached on the failure path, by every
		// member identically, since failed is the same shared flag
		// already resolved as of S2.
		p.timedWait(g, "s3")

		if at.rollBackToOldFail.Load() {
			// P6 Deep recover: must not fail.
			if deepErr := sched.ChangeConstraints(ctx, tid, scheduler.DefaultAperiodic()); deepErr != nil {
				metrics.AttemptOutcomes.WithLabelValues("fatal").Inc()
				panic(&FatalError{Thread: tid, Reason: deepErr})
			}
		}

		metrics.AttemptOutcomes.WithLabelValues("failed_with_rollback").Inc()
		outcome = errkind.New(errkind.FailedWithRollback, g.Name())
	} else {
		metrics.AttemptOutcomes.WithLabelValues("ok").Inc()
	}

	// P7 Finalize: whichever member's decrement observes zero tears down
	// the attempt and releases the mutex the leader acquired at P0 — Go's
	// sync.Mutex does not track ownership, so an unlock from a different
	// goroutine than the one that locked it is well-defined.
	if at.changingCount.Add(-1) == 0 {
		g.DetachState()
		p.mu.Unlock()
		logger.Debug("attempt finalized", "group", g.Name(), "outcome", outcomeLabel(failed))
	}

	return outcome
}

func outcomeLabel(failed bool) string {
	if failed {
		return "failed_with_rollback"
	}
	return "ok"
}

// timedWait wraps a barrier synchronization point with a trace span and
// a latency observation labeled by point ("s1"/"s2"/"s3"), so a burner
// run can be visualized phase by phase.
func (p *Protocol) timedWait(g *group.Group, point string) {
	span := tracing.StartSpan("protocol." + point)
	defer span.Finish()

	start := time.Now()
	g.BarrierWait()
	metrics.BarrierPhaseLatency.WithLabelValues(point).Observe(time.Since(start).Seconds())
}
