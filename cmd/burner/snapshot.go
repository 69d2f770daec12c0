package main

import (
	"fmt"

	"github.com/nautilus-aerokernel/threadgroup/scheduler"
)

// snapshot is a point-in-time dump of one group's constraint-change
// attempt outcome, the unit cmd/burner's inspect/compare subcommands
// operate on. It is deliberately small and CBOR-friendly: no pointers,
// no interfaces.
type snapshot struct {
	Group    string                    `cbor:"group"`
	Round    int                       `cbor:"round"`
	Target   scheduler.Constraints     `cbor:"target"`
	Outcomes map[uint64]string         `cbor:"outcomes"` // thread id -> "ok"|"failed_with_rollback"|"fatal"
	Final    map[uint64]constraintDump `cbor:"final"`
}

// constraintDump flattens scheduler.Constraints into CBOR-stable fields;
// scheduler.Constraints already marshals fine on its own, but flattening
// keeps the dump readable when pretty-printed without a custom encoder.
type constraintDump struct {
	Kind    string `cbor:"kind"`
	Summary string `cbor:"summary"`
}

func dumpConstraints(c scheduler.Constraints) constraintDump {
	return constraintDump{Kind: c.Kind.String(), Summary: c.String()}
}

func (s *snapshot) String() string {
	return fmt.Sprintf("snapshot{group=%s round=%d target=%s members=%d}", s.Group, s.Round, s.Target, len(s.Outcomes))
}
