package protocol

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nautilus-aerokernel/threadgroup/common/errkind"
	"github.com/nautilus-aerokernel/threadgroup/group"
	"github.com/nautilus-aerokernel/threadgroup/scheduler"
	"github.com/nautilus-aerokernel/threadgroup/threadrt"
)

// newAttemptGroup builds a fresh group with n joined members, each bound
// to its own simulated CPU, and returns the group alongside the
// scheduler.ThreadID each member sees itself as (its threadrt.ThreadID,
// reinterpreted — the two ThreadID types are deliberately distinct so
// that a scheduler.Backend never depends on threadrt's allocator).
func newAttemptGroup(t *testing.T, n int) (*group.Group, []scheduler.ThreadID, []int, func()) {
	t.Helper()
	g, err := group.New(group.DefaultConfig(), nil, 0, "ccp")
	require.NoError(t, err)

	localIDs := make([]int, n)
	tids := make([]scheduler.ThreadID, n)
	handles := make([]*threadrt.Handle, n)
	for i := 0; i < n; i++ {
		i := i
		handles[i] = threadrt.Spawn(context.Background(), i, func(ctx context.Context) {
			localID, err := g.Join(ctx)
			require.NoError(t, err)
			localIDs[i] = localID
			tid, _ := threadrt.Current(ctx)
			tids[i] = scheduler.ThreadID(tid)
		})
	}
	for _, h := range handles {
		h.Join()
	}
	return g, tids, localIDs, func() {}
}

// runRound drives one ChangeConstraints round across every member
// concurrently, with member 0 acting as leader, and returns each
// member's outcome in member order.
func runRound(p *Protocol, g *group.Group, sched scheduler.Backend, tids []scheduler.ThreadID, target scheduler.Constraints) []error {
	n := len(tids)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			errs[i] = p.ChangeConstraints(context.Background(), g, sched, tids[i], n, i == 0, target)
		}()
	}
	wg.Wait()
	return errs
}

// TestHappyPathChange reproduces spec.md §8 scenario 1: four threads
// collectively change to a PERIODIC constraint with no faults; every
// member ends up on target and the protocol mutex is released for reuse.
func TestHappyPathChange(t *testing.T) {
	g, tids, _, _ := newAttemptGroup(t, 4)
	sched := scheduler.NewInMemory(nil)
	p := New()

	target := scheduler.NewPeriodic(0, 100, 10, 0)
	errs := runRound(p, g, sched, tids, target)
	for i, err := range errs {
		require.NoError(t, err, "member %d", i)
	}

	for _, tid := range tids {
		c, err := sched.GetConstraints(context.Background(), tid)
		require.NoError(t, err)
		require.Equal(t, scheduler.Periodic, c.Kind)
	}

	// The mutex was released at P7; a second round must not deadlock.
	errs2 := runRound(p, g, sched, tids, scheduler.NewAperiodic(5))
	for i, err := range errs2 {
		require.NoError(t, err, "member %d, second round", i)
	}
}

// TestRollbackToPrior reproduces spec.md §8 scenario 2: one member's
// local commit is rejected, so every member rolls back to its own prior
// constraint and the round reports FailedWithRollback.
func TestRollbackToPrior(t *testing.T) {
	g, tids, _, _ := newAttemptGroup(t, 4)
	sched := scheduler.NewInMemory(nil)
	p := New()

	priors := make([]scheduler.Constraints, len(tids))
	for i, tid := range tids {
		priors[i], _ = sched.GetConstraints(context.Background(), tid)
	}

	rejectTarget := tids[1]
	sched.SetRejectFunc(func(t scheduler.ThreadID, c scheduler.Constraints) bool {
		return t == rejectTarget && c.Kind == scheduler.Periodic
	})

	target := scheduler.NewPeriodic(0, 200, 20, 0)
	errs := runRound(p, g, sched, tids, target)
	for i, err := range errs {
		kind, ok := errkind.As(err)
		require.True(t, ok, "member %d", i)
		require.Equal(t, errkind.FailedWithRollback, kind)
	}

	for i, tid := range tids {
		c, err := sched.GetConstraints(context.Background(), tid)
		require.NoError(t, err)
		require.Equal(t, priors[i], c, "member %d restored to its own prior", i)
	}
}

// TestDeepRollback reproduces spec.md §8 scenario 3: member 0's
// rollback-to-prior commit is itself rejected (in addition to the
// original commit failing), forcing deep recovery — every member ends
// up on DEFAULT_APERIODIC, not merely its own prior.
func TestDeepRollback(t *testing.T) {
	g, tids, _, _ := newAttemptGroup(t, 4)
	sched := scheduler.NewInMemory(nil)
	p := New()

	// Give every member a non-default prior first, so that rolling back
	// to "prior" is distinguishable from deep recovery's DEFAULT_APERIODIC.
	warmErrs := runRound(p, g, sched, tids, scheduler.NewAperiodic(7))
	for i, err := range warmErrs {
		require.NoError(t, err, "warm-up round, member %d", i)
	}

	target := scheduler.NewPeriodic(0, 300, 30, 0)
	failTarget := tids[1]
	rollbackFailTarget := tids[0]
	sched.SetRejectFunc(func(t scheduler.ThreadID, c scheduler.Constraints) bool {
		if t == failTarget && c.Kind == scheduler.Periodic {
			return true
		}
		if t == rollbackFailTarget && c.Kind == scheduler.Aperiodic && c.Aperiodic.Priority != scheduler.DefaultPriority {
			return true
		}
		return false
	})

	errs := runRound(p, g, sched, tids, target)
	for i, err := range errs {
		kind, ok := errkind.As(err)
		require.True(t, ok, "member %d", i)
		require.Equal(t, errkind.FailedWithRollback, kind)
	}

	for i, tid := range tids {
		c, err := sched.GetConstraints(context.Background(), tid)
		require.NoError(t, err)
		require.Equal(t, scheduler.DefaultAperiodic(), c, "member %d forced to DEFAULT_APERIODIC", i)
	}
}
