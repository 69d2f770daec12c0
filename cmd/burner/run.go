package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/snappy"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/nautilus-aerokernel/threadgroup/common/errkind"
	"github.com/nautilus-aerokernel/threadgroup/common/logging"
	"github.com/nautilus-aerokernel/threadgroup/group"
	"github.com/nautilus-aerokernel/threadgroup/manager"
	"github.com/nautilus-aerokernel/threadgroup/protocol"
	"github.com/nautilus-aerokernel/threadgroup/scheduler"
	"github.com/nautilus-aerokernel/threadgroup/threadrt"
)

var runLogger = logging.GetLogger("burner.run")

type runOptions struct {
	groups      int
	members     int
	rounds      int
	escalate    bool
	faultRate   float64
	seed        int64
	traceOut    string
	doubleGroup bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stress N groups of M members through repeated constraint-change rounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBurn(opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.groups, "groups", 1, "number of groups to run concurrently")
	flags.IntVar(&opts.members, "members", 4, "members per group")
	flags.IntVar(&opts.rounds, "rounds", 5, "constraint-change rounds per group")
	flags.BoolVar(&opts.escalate, "escalate", true, "grow member count round over round, like the original group_test()'s Round: 1..N loop")
	flags.Float64Var(&opts.faultRate, "fault-rate", 0, "probability [0,1) that a given member's local commit is rejected")
	flags.Int64Var(&opts.seed, "seed", 1, "PRNG seed for fault injection")
	flags.StringVar(&opts.traceOut, "trace-out", "", "path to write a snappy-compressed phase-latency trace to (optional)")
	flags.BoolVar(&opts.doubleGroup, "double-group", false, "make every group started by --groups share protocol.GlobalMutex instead of a per-group Protocol, exercising invariant 7 at the global-mutex granularity (no extra groups are started)")

	return cmd
}

// runBurn drives opts.groups independent groups, each through
// opts.rounds constraint-change rounds, optionally escalating the
// member count round over round per the original group_test() harness
// (SPEC_FULL.md, Supplemented Features).
func runBurn(opts *runOptions) error {
	rng := rand.New(rand.NewSource(opts.seed))

	var traceFile *os.File
	if opts.traceOut != "" {
		f, err := os.Create(opts.traceOut)
		if err != nil {
			return fmt.Errorf("burner: opening trace-out: %w", err)
		}
		traceFile = f
		defer traceFile.Close()
	}

	// One Manager, shared across every simulated group, mirrors how a
	// real process owns a single registry (manager.New wraps
	// registry.New(), spec.md §4.2) that every nk_thread_group_create
	// call goes through.
	m := manager.New(group.DefaultConfig())

	var combined error
	var mu sync.Mutex
	var wg sync.WaitGroup

	for gi := 0; gi < opts.groups; gi++ {
		gi := gi
		wg.Add(1)
		go func() {
			defer wg.Done()

			p := protocol.New()
			if opts.doubleGroup {
				// Deliberately share the global mutex rather than a
				// per-group one, so two groups' attempts serialize
				// against each other too.
				p = protocol.GlobalMutex
			}

			if err := burnOneGroup(m, fmt.Sprintf("g%d", gi), opts, rng, p, traceFile); err != nil {
				mu.Lock()
				combined = multierror.Append(combined, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if combined != nil {
		return combined
	}
	runLogger.Info("burn complete", "groups", opts.groups, "rounds", opts.rounds)
	return nil
}

func burnOneGroup(m *manager.Manager, name string, opts *runOptions, rng *rand.Rand, p *protocol.Protocol, traceFile *os.File) error {
	g, err := m.Create(name)
	if err != nil {
		return err
	}

	members := opts.members
	sched := scheduler.NewInMemory(func(t scheduler.ThreadID, c scheduler.Constraints) bool {
		return rng.Float64() < opts.faultRate
	})

	var combined error
	for round := 0; round < opts.rounds; round++ {
		n := members
		if opts.escalate {
			n = round + 1
			if n > members {
				n = members
			}
		}

		tids := joinMembers(g, n)
		target := scheduler.NewPeriodic(0, uint64(100+round), 10, 0)

		start := time.Now()
		errs := attemptRound(p, g, sched, tids, target)
		elapsed := time.Since(start)

		if traceFile != nil {
			writeTraceLine(traceFile, fmt.Sprintf("group=%s round=%d members=%d elapsed_us=%d", name, round, n, elapsed.Microseconds()))
		}

		if firstRollback(errs) != nil {
			// Retrying an identical attempt after a rollback is
			// explicitly permitted (spec.md §8). The retry must re-run
			// every member of the round together, not just the member(s)
			// that failed: all n members share one barrier.Barrier sized
			// for this round's full membership (barrier/barrier.go), so
			// a lone retrying goroutine would decrement remaining by one
			// and then block forever waiting for peers that are never
			// going to call Wait on that phase again.
			retryErr := backoff.Retry(func() error {
				roundErrs := attemptRound(p, g, sched, tids, target)
				return firstRollback(roundErrs)
			}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2))
			if retryErr != nil {
				combined = multierror.Append(combined, fmt.Errorf("group %s round %d: %w", name, round, retryErr))
			}
		} else {
			for i, rerr := range errs {
				if rerr != nil {
					combined = multierror.Append(combined, fmt.Errorf("group %s round %d member %d: %w", name, round, i, rerr))
				}
			}
		}

		leaveAll(g, n)
	}

	if err := m.Delete(g); err != nil {
		combined = multierror.Append(combined, fmt.Errorf("group %s: %w", name, err))
	}

	return combined
}

// writeTraceLine appends one snappy-compressed, base64-framed record to
// traceFile, newline-terminated. Snappy's block format gives no
// guarantee against embedded '\n' bytes, so the raw compressed block is
// never written directly: base64 confines each record to the printable,
// newline-free alphabet tail.TailFile's line reader (watch.go) expects,
// while still compressing the payload.
func writeTraceLine(traceFile *os.File, payload string) {
	compressed := snappy.Encode(nil, []byte(payload))
	line := base64.StdEncoding.EncodeToString(compressed) + "\n"
	if _, err := traceFile.WriteString(line); err != nil {
		runLogger.Warn("trace-out write failed", "err", err)
	}
}

// firstRollback returns the first FailedWithRollback error in errs, or
// nil if none of them are (a non-rollback error is not retried: it
// indicates a scheduler-contract violation, not the permitted
// identical-attempt-after-rollback case spec.md §8 describes).
func firstRollback(errs []error) error {
	for _, err := range errs {
		if kind, ok := errkind.As(err); ok && kind == errkind.FailedWithRollback {
			return err
		}
	}
	return nil
}

func joinMembers(g *group.Group, n int) []scheduler.ThreadID {
	tids := make([]scheduler.ThreadID, n)
	handles := make([]*threadrt.Handle, n)
	for i := 0; i < n; i++ {
		i := i
		handles[i] = threadrt.Spawn(context.Background(), i, func(ctx context.Context) {
			if _, err := g.Join(ctx); err != nil {
				return
			}
			tid, _ := threadrt.Current(ctx)
			tids[i] = scheduler.ThreadID(tid)
		})
	}
	for _, h := range handles {
		h.Join()
	}
	return tids
}

func leaveAll(g *group.Group, n int) {
	handles := make([]*threadrt.Handle, n)
	for i := 0; i < n; i++ {
		handles[i] = threadrt.Spawn(context.Background(), i, func(ctx context.Context) {
			_ = g.Leave(ctx)
		})
	}
	for _, h := range handles {
		h.Join()
	}
}

func attemptRound(p *protocol.Protocol, g *group.Group, sched scheduler.Backend, tids []scheduler.ThreadID, target scheduler.Constraints) []error {
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
