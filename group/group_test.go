package group

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nautilus-aerokernel/threadgroup/barrier"
	"github.com/nautilus-aerokernel/threadgroup/threadrt"
)

func newTestGroup(t *testing.T, name string) *Group {
	t.Helper()
	g, err := New(DefaultConfig(), nil, 0, name)
	require.NoError(t, err, "New()")
	return g
}

// spawnMember runs fn bound to cpu via threadrt.Spawn and returns its
// Handle so the caller can Join it.
func spawnMember(cpu int, fn func(ctx context.Context)) *threadrt.Handle {
	return threadrt.Spawn(context.Background(), cpu, fn)
}

func TestJoinThenLeaveReturnsToOriginalSize(t *testing.T) {
	g := newTestGroup(t, "G")

	h := spawnMember(0, func(ctx context.Context) {
		localID, err := g.Join(ctx)
		require.NoError(t, err, "Join()")
		require.GreaterOrEqual(t, localID, 0)
		require.Equal(t, 1, g.Size())

		require.NoError(t, g.Leave(ctx), "Leave()")
	})
	h.Join()

	require.Equal(t, 0, g.Size(), "size returns to 0 after join then leave")
}

func TestLeaveByNonMemberFailsButDrainsBarrier(t *testing.T) {
	g := newTestGroup(t, "G")

	h := spawnMember(0, func(ctx context.Context) {
		_, err := g.Join(ctx)
		require.NoError(t, err)
	})
	h.Join()
	require.Equal(t, 1, g.Size())

	// A different (never-joined) thread calling Leave should get
	// NotMember. The barrier is still drained once (Barrier.Leave runs)
	// even though no roster entry was removed.
	h2 := spawnMember(0, func(ctx context.Context) {
		err := g.Leave(ctx)
		require.Error(t, err, "Leave() by non-member")
	})
	h2.Join()

	require.Equal(t, 1, g.Size(), "size unaffected by a failed Leave")
}

func TestGroupOfSizeOneBarrierCompletesImmediately(t *testing.T) {
	g := newTestGroup(t, "solo")

	h := spawnMember(0, func(ctx context.Context) {
		localID, err := g.Join(ctx)
		require.NoError(t, err)
		require.Equal(t, barrier.Last, g.BarrierWait())
		require.True(t, g.Election(localID))
	})
	h.Join()
}

func TestElectionUniquenessUnderRace(t *testing.T) {
	const n = 16
	g := newTestGroup(t, "election")

	ids := make([]int, n)
	var wg sync.WaitGroup
	handles := make([]*threadrt.Handle, n)
	for i := 0; i < n; i++ {
		i := i
		handles[i] = spawnMember(i, func(ctx context.Context) {
			localID, err := g.Join(ctx)
			require.NoError(t, err)
			ids[i] = localID
		})
	}
	for _, h := range handles {
		h.Join()
	}

	var results [n]bool
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			if g.Election(ids[i]) {
				results[i] = true
			}
		}()
	}
	wg.Wait()

	count := 0
	for _, won := range results {
		if won {
			count++
		}
	}
	require.Equal(t, 1, count, "exactly one election winner")

	for i := 0; i < n; i++ {
		if results[i] {
			require.True(t, g.CheckLeader(ids[i]))
		} else {
			require.False(t, g.CheckLeader(ids[i]))
		}
	}
}

func TestResetLeaderThenElectionBehavesLikeFreshGroup(t *testing.T) {
	g := newTestGroup(t, "reset")

	h := spawnMember(0, func(ctx context.Context) {
		localID, err := g.Join(ctx)
		require.NoError(t, err)
		require.True(t, g.Election(localID))
		require.False(t, g.Election(localID), "second election by the same member fails while held")

		g.ResetLeader()
		require.True(t, g.Election(localID), "election succeeds again after reset, as on a fresh group")
	})
	h.Join()
}

func TestAttachDetachStateLifecycle(t *testing.T) {
	g := newTestGroup(t, "state")

	require.Nil(t, g.GetState())

	type attempt struct{ target int }
	g.AttachState(&attempt{target: 42})

	got := g.GetState()
	require.NotNil(t, got)
	require.Equal(t, 42, got.(*attempt).target)

	old := g.DetachState()
	require.NotNil(t, old)
	require.Nil(t, g.GetState(), "state_ptr is nil after detach")
	_ = old
}

func TestBroadcastBestEffortFanout(t *testing.T) {
	g := newTestGroup(t, "broadcast")
	const receivers = 3
	const senderID = 0

	var wg sync.WaitGroup
	wg.Add(receivers)
	results := make([]string, receivers)
	for i := 1; i <= receivers; i++ {
		i := i
		go func() {
			defer wg.Done()
			msg, ok := g.Broadcast(nil, i, senderID, receivers)
			if ok && msg != nil {
				results[i-1] = msg.(string)
			}
		}()
	}

	_, sent := g.Broadcast("hello", senderID, senderID, receivers)
	require.True(t, sent)

	wg.Wait()

	someReceived := false
	for _, r := range results {
		if r == "hello" {
			someReceived = true
		}
	}
	require.True(t, someReceived, "at least one receiver observed the broadcast")
}

func TestTerminateBroadcastUnblocksWaiters(t *testing.T) {
	g := newTestGroup(t, "terminate")

	done := make(chan bool, 1)
	go func() {
		_, ok := g.Broadcast(nil, 1, 0, 1)
		done <- ok
	}()

	g.TerminateBroadcast()

	ok := <-done
	require.False(t, ok, "receiver short-circuits once terminate is set")
}
