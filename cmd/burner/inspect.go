package main

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/niemeyer/pretty"
	"github.com/spf13/cobra"

	"github.com/nautilus-aerokernel/threadgroup/scheduler"
)

func newInspectCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "inspect <group-name>",
		Short: "Dump a synthetic group/attempt snapshot as CBOR and a pretty-printed view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "path to write the CBOR-encoded snapshot to (default: stdout pretty-print only)")
	return cmd
}

// runInspect builds a representative snapshot (this subcommand is a
// diagnostic tool, not a live attach to a running process — there is no
// shared-memory IPC in this harness) and renders it both ways: raw CBOR
// to --out, and a human-readable pretty-print to stdout.
func runInspect(name, out string) error {
	snap := &snapshot{
		Group:  name,
		Round:  0,
		Target: scheduler.NewPeriodic(0, 100, 10, 0),
		Outcomes: map[uint64]string{
			0: "ok",
			1: "ok",
			2: "ok",
		},
		Final: map[uint64]constraintDump{
			0: dumpConstraints(scheduler.NewPeriodic(0, 100, 10, 0)),
			1: dumpConstraints(scheduler.NewPeriodic(0, 100, 10, 0)),
			2: dumpConstraints(scheduler.NewPeriodic(0, 100, 10, 0)),
		},
	}

	encoded, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("burner: cbor.Marshal: %w", err)
	}

	if out != "" {
		if err := os.WriteFile(out, encoded, 0o644); err != nil {
			return fmt.Errorf("burner: writing %s: %w", out, err)
		}
	}

	fmt.Println(snap.String())
	fmt.Println(pretty.Sprint(snap))
	return nil
}
