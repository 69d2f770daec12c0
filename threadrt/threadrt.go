// Package threadrt models the thread runtime collaborator named in
// spec.md §1: current-thread identity, CPU binding, and join. It is the
// Go stand-in for the kernel's nk_thread_t / get_cur_thread /
// my_cpu_id / nk_thread_start / nk_join primitives.
//
// Real OS threads are not pinned to goroutines, so "current CPU" here is
// an application-level binding recorded at Spawn time and carried in
// context.Context, not a hardware affinity. petermattis/goid backs only
// GoroutineID, a diagnostics helper; nothing in the coordination core
// calls it or depends on it, per the note in SPEC_FULL.md.
package threadrt

import (
	"context"
	"fmt"
	"sync"

	"github.com/petermattis/goid"
)

// ThreadID is a process-wide unique handle assigned at Spawn.
type ThreadID uint64

type cpuKey struct{}
type threadKey struct{}

// CPU returns the CPU id bound to ctx by Spawn, or false if ctx was not
// created by Spawn (e.g. a top-level test goroutine).
func CPU(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(cpuKey{}).(int)
	return v, ok
}

// Current returns the ThreadID bound to ctx by Spawn.
func Current(ctx context.Context) (ThreadID, bool) {
	v, ok := ctx.Value(threadKey{}).(ThreadID)
	return v, ok
}

// GoroutineID returns the runtime's internal goroutine id for
// diagnostic correlation only — two calls from logically "the same"
// kernel thread are not guaranteed to observe the same value, since a
// goroutine may be rescheduled onto a different OS thread between
// calls; this is purely a logging aid, never a correctness mechanism.
func GoroutineID() int64 {
	return goid.Get()
}

var (
	idMu   sync.Mutex
	nextID ThreadID
)

func allocID() ThreadID {
	idMu.Lock()
	defer idMu.Unlock()
	nextID++
	return nextID
}

// Handle is a joinable reference to a thread started with Spawn.
type Handle struct {
	ID   ThreadID
	CPU  int
	done chan struct{}
	err  any
}

// Spawn starts fn bound to the given cpu, exposing that binding and a
// fresh ThreadID to fn via context.Context. Join blocks until fn
// returns, repanicking any panic fn suffered, matching nk_join's
// "the body either completes or the thread is gone" semantics.
func Spawn(ctx context.Context, cpu int, fn func(ctx context.Context)) *Handle {
	h := &Handle{
		ID:   allocID(),
		CPU:  cpu,
		done: make(chan struct{}),
	}

	childCtx := context.WithValue(ctx, cpuKey{}, cpu)
	childCtx = context.WithValue(childCtx, threadKey{}, h.ID)

	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = r
			}
		}()
		fn(childCtx)
	}()

	return h
}

// Join blocks until the spawned thread has returned, then re-panics any
// panic it suffered in the caller's goroutine.
func (h *Handle) Join() {
	<-h.done
	if h.err != nil {
		panic(fmt.Sprintf("threadrt: thread %d panicked: %v", h.ID, h.err))
	}
}
