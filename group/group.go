// Package group implements the per-group state described in spec.md
// §3/§4.3: the membership roster partitioned by CPU, the collective
// barrier, the leader slot, the broadcast slot, and the opaque
// attempt-state attachment the constraint-change protocol publishes.
package group

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nautilus-aerokernel/threadgroup/barrier"
	"github.com/nautilus-aerokernel/threadgroup/common/errkind"
	"github.com/nautilus-aerokernel/threadgroup/common/logging"
	"github.com/nautilus-aerokernel/threadgroup/common/metrics"
	"github.com/nautilus-aerokernel/threadgroup/common/pubsub"
	"github.com/nautilus-aerokernel/threadgroup/threadrt"
)

// unclaimedLeader is the sentinel value of leaderSlot before any
// election has committed, matching the source's group_leader = -1.
const unclaimedLeader = -1

// member binds a group-local id to the runtime thread handle that
// joined with it (spec.md's group_member_t).
type member struct {
	localID int
	thread  threadrt.ThreadID
}

// broadcastSlot is the single-slot message-passing rendezvous described
// in spec.md §4.3. No dedicated mutex guards it: coordination is by
// atomics plus the surrounding barrier phases, per spec.md §5.
type broadcastSlot struct {
	message       atomic.Pointer[any]
	flag          atomic.Bool
	receiverCount atomic.Int32
	terminate     atomic.Bool
}

// Group is a named collection of threads supporting collective
// operations: barrier synchronization, leader election, broadcast, and
// (via the protocol package) collective scheduling-constraint change.
type Group struct {
	name string
	id   uint64
	cfg  Config

	mu          sync.Mutex // protects membersByCPU, size and nextLocalID edits
	membersByCPU [][]member
	size        int
	nextLocalID int

	barrier *barrier.Barrier

	leaderSlot atomic.Int64

	broadcast broadcastSlot

	// statePtr publishes the constraint-change protocol's per-attempt
	// shared state; non-nil only between AttachState and DetachState
	// within a single attempt, per spec.md's state_ptr invariant.
	statePtr atomic.Pointer[any]

	logger *logging.Logger
	events *pubsub.Broker
}

// New constructs a Group named name, with group_id assigned by the
// caller (the registry owns id allocation — spec.md §4.2). It rejects
// names exceeding cfg.MaxGroupName.
func New(cfg Config, events *pubsub.Broker, id uint64, name string) (*Group, error) {
	if len(name) == 0 || len(name) > cfg.MaxGroupName {
		return nil, errkind.Newf(errkind.AllocFail, "group name %q exceeds MAX_GROUP_NAME=%d", name, cfg.MaxGroupName)
	}

	g := &Group{
		name:         name,
		id:           id,
		cfg:          cfg,
		membersByCPU: make([][]member, cfg.MaxCPUCount),
		barrier:      barrier.New(),
		logger:       logging.GetLogger("group").Sub("name", name, "id", id),
		events:       events,
	}
	g.leaderSlot.Store(unclaimedLeader)

	g.publish("created", "name", name, "id", id)
	return g, nil
}

func (g *Group) publish(kind string, fields ...interface{}) {
	if g.events == nil {
		return
	}
	g.events.Publish(pubsub.Event{Kind: kind, Fields: append([]interface{}{"group", g.name}, fields...)})
}

// Name returns the group's immutable name.
func (g *Group) Name() string { return g.name }

// ID returns the group's monotonic group_id.
func (g *Group) ID() uint64 { return g.id }

// Size returns the count of currently joined threads.
func (g *Group) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.size
}

// Join enrolls the calling thread (identified via ctx, set up by
// threadrt.Spawn) into the group, returning its group-local id.
func (g *Group) Join(ctx context.Context) (int, error) {
	cpu, ok := threadrt.CPU(ctx)
	if !ok {
		cpu = 0
	}
	if cpu < 0 || cpu >= g.cfg.MaxCPUCount {
		return 0, errkind.Newf(errkind.AllocFail, "cpu %d exceeds MAX_CPU_COUNT=%d", cpu, g.cfg.MaxCPUCount)
	}
	tid, _ := threadrt.Current(ctx)

	g.barrier.Join()

	g.mu.Lock()
	localID := g.nextLocalID
	g.nextLocalID++
	g.size++
	g.membersByCPU[cpu] = append(g.membersByCPU[cpu], member{localID: localID, thread: tid})
	g.mu.Unlock()

	metrics.MembershipChurn.WithLabelValues("join", "ok").Inc()
	g.logger.Debug("join", "local_id", localID, "cpu", cpu, "size", g.Size())
	g.publish("joined", "local_id", localID, "cpu", cpu)

	return localID, nil
}

// Leave withdraws the calling thread's member record. If the thread is
// not found, it still drains the barrier (to preserve the counter
// invariants) and returns a NotMember error.
func (g *Group) Leave(ctx context.Context) error {
	cpu, ok := threadrt.CPU(ctx)
	if !ok {
		cpu = 0
	}
	tid, _ := threadrt.Current(ctx)

	g.mu.Lock()
	roster := g.membersByCPU[cpu]
	idx := -1
	for i, m := range roster {
		if m.thread == tid {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		g.barrier.Leave()
		metrics.MembershipChurn.WithLabelValues("leave", "not_member").Inc()
		g.logger.Debug("leave: not a member", "cpu", cpu)
		return errkind.New(errkind.NotMember, g.name)
	}

	g.membersByCPU[cpu] = append(roster[:idx], roster[idx+1:]...)
	g.size--
	newSize := g.size
	g.mu.Unlock()

	g.barrier.Leave()

	metrics.MembershipChurn.WithLabelValues("leave", "ok").Inc()
	g.logger.Debug("leave", "cpu", cpu, "size", newSize)
	g.publish("left", "cpu", cpu)

	return nil
}

// BarrierWait forwards to the collective barrier.
func (g *Group) BarrierWait() barrier.Result {
	return g.barrier.Wait()
}

// Barrier returns the group's collective barrier instance.
func (g *Group) Barrier() *barrier.Barrier { return g.barrier }

// Election attempts to claim leadership: compare-and-set
// leaderSlot UNCLAIMED -> myLocalID. It returns true exactly to the
// caller whose swap succeeded. Election is not itself a synchronization
// point; pair it with BarrierWait if global agreement on completion is
// required.
func (g *Group) Election(myLocalID int) bool {
	won := g.leaderSlot.CompareAndSwap(unclaimedLeader, int64(myLocalID))
	if won {
		metrics.ElectionsWon.Inc()
		g.logger.Debug("election won", "local_id", myLocalID)
		g.publish("elected", "local_id", myLocalID)
	}
	return won
}

// CheckLeader reports whether myLocalID currently holds leadership.
func (g *Group) CheckLeader(myLocalID int) bool {
	return g.leaderSlot.Load() == int64(myLocalID)
}

// ResetLeader unconditionally clears the leader slot.
func (g *Group) ResetLeader() {
	g.leaderSlot.Store(unclaimedLeader)
	g.logger.Debug("leader reset")
}

// AttachState publishes p as the group's opaque attempt-state pointer.
// The caller (the protocol package's leader path) is responsible for
// ordering: this must happen before any barrier phase that other
// members use to observe it.
func (g *Group) AttachState(p any) {
	g.statePtr.Store(&p)
}

// DetachState clears the attempt-state pointer, returning its previous
// value. The caller (whichever member last decrements changing_count)
// is responsible for calling this exactly once per attempt.
func (g *Group) DetachState() any {
	old := g.statePtr.Swap(nil)
	if old == nil {
		return nil
	}
	return *old
}

// GetState returns the currently published attempt-state pointer, or
// nil if none is attached.
func (g *Group) GetState() any {
	p := g.statePtr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// ResetBroadcastTerminate clears the broadcast slot's terminate switch,
// e.g. before reusing a group for a fresh round of broadcasts.
func (g *Group) ResetBroadcastTerminate() {
	g.broadcast.terminate.Store(false)
}

// TerminateBroadcast flips the terminate switch, causing both sender
// and receiver paths currently spinning in Broadcast to return without
// completing. It does not unblock waiters inside the barrier.
func (g *Group) TerminateBroadcast() {
	g.broadcast.terminate.Store(true)
}

// Broadcast implements the single-slot rendezvous of spec.md §4.3:
// the sender (myLocalID == senderLocalID) busy-waits while a previous
// message hasn't drained, then publishes msg; receivers busy-wait for a
// message, read it, and the receiver whose atomic decrement reaches zero
// clears the slot. receiverCount is the number of receivers expected to
// drain this message (group size minus the sender). Broadcast is
// best-effort: a late arrival can skip a message entirely, by design
// (SPEC_FULL.md, open question on broadcast semantics).
func (g *Group) Broadcast(msg any, myLocalID, senderLocalID int, receiverCount int) (any, bool) {
	if myLocalID == senderLocalID {
		for g.broadcast.flag.Load() {
			if g.broadcast.terminate.Load() {
				return nil, false
			}
		}
		g.broadcast.receiverCount.Store(int32(receiverCount))
		var boxed any = msg
		g.broadcast.message.Store(&boxed)
		g.broadcast.flag.Store(true)
		g.logger.Debug("broadcast sent", "sender", senderLocalID)
		return nil, true
	}

	for !g.broadcast.flag.Load() {
		if g.broadcast.terminate.Load() {
			return nil, false
		}
	}
	p := g.broadcast.message.Load()
	var received any
	if p != nil {
		received = *p
	}
	if g.broadcast.receiverCount.Add(-1) == 0 {
		g.broadcast.message.Store(nil)
		g.broadcast.flag.Store(false)
	}
	metrics.BroadcastRendezvous.Inc()
	g.logger.Debug("broadcast received", "receiver", myLocalID)
	return received, true
}
