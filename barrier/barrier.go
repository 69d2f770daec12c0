// Package barrier implements the sense-reversing, dynamically
// join/leave-able collective barrier that every collective operation in
// the thread-group core — including both phases of the constraint-
// change protocol — is layered on top of.
//
// Per the design note in SPEC_FULL.md ("sense-reversing reset via
// counter climb"), this is expressed as a standard generation-counted
// barrier guarded by a mutex and condition variable rather than the
// source's literal "remaining climbs back up to init_count" idiom: the
// observable state machine (ACCUMULATING -> RELEASING -> RESETTING ->
// ACCUMULATING) and every edge case in spec.md §4.1 are preserved, but
// the Go version has no window where a fast thread could race back into
// a phase that has not actually reset, because the generation bump and
// the reset of remaining happen atomically under the same lock that
// guards the wait/broadcast.
package barrier

import (
	"sync"

	"github.com/nautilus-aerokernel/threadgroup/common/logging"
)

var logger = logging.GetLogger("barrier")

// Result distinguishes the releaser of a phase from everyone else.
type Result int

const (
	// Normal is returned to every arriver except the one that completes
	// the phase.
	Normal Result = iota
	// Last is returned to the arriver (or leaver) whose arrival
	// completed the phase.
	Last
)

// BadStateError is the implementation-detected-bug condition spec.md
// classifies as fatal rather than a user-visible error kind: remaining
// went negative, which can only happen from a logic bug in this package
// or a caller that bypassed Join/Leave bookkeeping.
type BadStateError struct {
	Remaining int
}

func (e *BadStateError) Error() string {
	return "barrier: remaining count went negative (bad state)"
}

// Barrier is a dynamically-sized, reusable phase barrier.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	initCount  int
	remaining  int
	generation uint64
}

// New constructs an empty Barrier with no enrolled members.
func New() *Barrier {
	b := &Barrier{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// InitCount returns the number of currently enrolled members. Exposed
// for invariant checks (spec.md §8, invariant 8: barrier.init_count
// equals the number of currently joined members, modulo in-flight
// join/leave).
func (b *Barrier) InitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initCount
}

// Join enrolls a new member. Safe to call concurrently with Wait of
// other members; the new member participates starting at the next
// uncompleted phase, because it is only visible at a quiescent boundary
// (both counters are mutated under the same lock Wait holds while
// checking for phase completion).
func (b *Barrier) Join() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.initCount++
	b.remaining++

	logger.Debug("join", "init_count", b.initCount, "remaining", b.remaining)
}

// Leave withdraws a member. Leavers never block: if the withdrawal
// causes remaining to reach zero, that is treated as an arrival and the
// phase completes exactly as if the leaver had called Wait and been the
// last to arrive.
func (b *Barrier) Leave() Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.initCount--
	b.remaining--

	if b.remaining < 0 {
		panic(&BadStateError{Remaining: b.remaining})
	}

	if b.remaining == 0 {
		b.completePhaseLocked()
		return Last
	}

	return Normal
}

// Wait blocks the caller until every currently enrolled member (per
// Barrier.InitCount at the moment the phase started) has called Wait or
// Leave. The one arrival that brings remaining to zero is the releaser
// and returns Last without blocking; everyone else blocks until the
// phase completes, then returns Normal.
func (b *Barrier) Wait() Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.generation
	b.remaining--

	if b.remaining < 0 {
		panic(&BadStateError{Remaining: b.remaining})
	}

	if b.remaining == 0 {
		b.completePhaseLocked()
		return Last
	}

	for gen == b.generation {
		b.cond.Wait()
	}
	return Normal
}

// completePhaseLocked resets remaining for the next phase and bumps the
// generation, waking every blocked waiter. Must be called with b.mu
// held, and only when b.remaining has just reached zero.
func (b *Barrier) completePhaseLocked() {
	b.remaining = b.initCount
	b.generation++
	logger.Debug("phase complete", "init_count", b.initCount, "generation", b.generation)
	b.cond.Broadcast()
}
