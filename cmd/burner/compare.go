package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"
	difflib "github.com/ianbruene/go-difflib/difflib"
	"github.com/spf13/cobra"
)

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <snapshot-a.cbor> <snapshot-b.cbor>",
		Short: "Diff two CBOR-encoded constraint snapshots produced by inspect --out",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(args[0], args[1])
		},
	}
	return cmd
}

func runCompare(pathA, pathB string) error {
	a, err := loadSnapshot(pathA)
	if err != nil {
		return err
	}
	b, err := loadSnapshot(pathB)
	if err != nil {
		return err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a.String() + "\n" + dumpOutcomes(a)),
		B:        difflib.SplitLines(b.String() + "\n" + dumpOutcomes(b)),
		FromFile: pathA,
		ToFile:   pathB,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Errorf("burner: computing diff: %w", err)
	}
	if text == "" {
		fmt.Println("no differences")
		return nil
	}
	fmt.Print(text)
	return nil
}

func loadSnapshot(path string) (*snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("burner: reading %s: %w", path, err)
	}
	var snap snapshot
	if err := cbor.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("burner: decoding %s: %w", path, err)
	}
	return &snap, nil
}

func dumpOutcomes(s *snapshot) string {
	var b strings.Builder
	for tid, outcome := range s.Outcomes {
		fmt.Fprintf(&b, "thread %d: %s (%s)\n", tid, outcome, s.Final[tid].Summary)
	}
	return b.String()
}
