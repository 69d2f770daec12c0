package scheduler

import (
	"context"
	"fmt"
	"sync"
)

// ThreadID identifies a thread to the scheduler, independent of any
// group-local id the thread-group core assigns it.
type ThreadID uint64

// Backend is the local scheduler's contract, as consumed by the
// thread-group coordination core:
//
//	thread_change_constraints(c) -> ok | error
//	thread_get_constraints(t) -> c
//
// ChangeConstraints atomically updates t's scheduling constraint; a
// non-nil error means the new constraint was rejected with no
// observable state change. GetConstraints snapshots t's current
// constraint.
type Backend interface {
	ChangeConstraints(ctx context.Context, t ThreadID, c Constraints) error
	GetConstraints(ctx context.Context, t ThreadID) (Constraints, error)
}

// errRejected is returned by InMemory when a constraint change is
// refused by a configured RejectFunc.
type errRejected struct {
	thread ThreadID
}

func (e *errRejected) Error() string {
	return fmt.Sprintf("scheduler: thread %d rejected constraint change", e.thread)
}

// RejectFunc decides whether a given ChangeConstraints call for thread t
// proposing constraints c should be rejected. It is consulted before the
// in-memory state is mutated, so a rejection leaves prior state intact
// exactly as the real contract requires.
type RejectFunc func(t ThreadID, c Constraints) bool

// InMemory is a reference Backend: a plain map of ThreadID to
// Constraints guarded by a mutex, optionally wired to a RejectFunc for
// fault injection in tests and in the burner harness. It stands in for
// the real local scheduler, which spec.md names as an out-of-scope
// collaborator.
type InMemory struct {
	mu     sync.Mutex
	byT    map[ThreadID]Constraints
	reject RejectFunc
}

// NewInMemory constructs an InMemory scheduler backend. reject may be
// nil, in which case no constraint change is ever rejected.
func NewInMemory(reject RejectFunc) *InMemory {
	return &InMemory{
		byT:    make(map[ThreadID]Constraints),
		reject: reject,
	}
}

// ChangeConstraints implements Backend.
func (s *InMemory) ChangeConstraints(_ context.Context, t ThreadID, c Constraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reject != nil && s.reject(t, c) {
		return &errRejected{thread: t}
	}
	s.byT[t] = c
	return nil
}

// GetConstraints implements Backend.
func (s *InMemory) GetConstraints(_ context.Context, t ThreadID) (Constraints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byT[t]
	if !ok {
		// A thread with no prior ChangeConstraints call defaults to the
		// system default aperiodic constraint, mirroring a freshly
		// created kernel thread's initial scheduling state.
		return DefaultAperiodic(), nil
	}
	return c, nil
}

// SetRejectFunc reconfigures fault injection; used by tests to flip
// behavior mid-scenario (e.g. "reject only the second caller").
func (s *InMemory) SetRejectFunc(reject RejectFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}
