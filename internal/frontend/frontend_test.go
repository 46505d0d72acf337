package frontend

import (
	"errors"
	"testing"

	"github.com/quantarax/collectivec/internal/collective"
	"github.com/quantarax/collectivec/internal/config"
	"github.com/quantarax/collectivec/internal/ir"
	"github.com/quantarax/collectivec/internal/topology"
)

func newTestProgram(t *testing.T, coll collective.Collective, n int) *Program {
	t.Helper()
	p, err := New("test", coll, topology.FullyConnected{N: n}, config.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSplitGroup_RoundTripsWithoutHoles(t *testing.T) {
	p := newTestProgram(t, collective.AllGather{NumRanks: 2}, 2)
	whole := p.Output(0, 0, 2)

	parts, err := whole.Split(2)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}

	grouped, err := parts[0].Group(parts[1])
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if grouped.hasMissing() {
		t.Fatalf("expected no holes after grouping complementary splits")
	}
	if grouped.ref.Size != 2 {
		t.Fatalf("expected grouped size 2, got %d", grouped.ref.Size)
	}
}

func TestGroup_LeavesHoleWhenUncovered(t *testing.T) {
	p := newTestProgram(t, collective.AllGather{NumRanks: 3}, 3)
	whole := p.Output(0, 0, 3)
	parts, _ := whole.Split(3)

	// Group only the first and last third, leaving the middle slot a hole.
	grouped, err := parts[0].Group(parts[2])
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if !grouped.hasMissing() {
		t.Fatalf("expected a hole in the middle slot")
	}
}

func TestSend_RejectsRefWithUnfilledHoles(t *testing.T) {
	p := newTestProgram(t, collective.AllGather{NumRanks: 3}, 3)
	whole := p.Output(0, 0, 3)
	parts, _ := whole.Split(3)
	grouped, _ := parts[0].Group(parts[2])

	_, err := grouped.Send(1, ir.Output(), 0, 0, 0, 0)
	if !errors.Is(err, ir.ErrMissingSet) {
		t.Fatalf("expected ErrMissingSet, got %v", err)
	}
}

func TestSend_RejectsUnlinkedRanks(t *testing.T) {
	p := newTestProgram(t, collective.AllGather{NumRanks: 2}, 2)
	p.topo = ring{n: 2} // disconnect rank 0 from rank 1 deliberately
	in := p.Input(0, 0, 1)

	_, err := in.Send(1, ir.Output(), 0, 0, 0, 0)
	if !errors.Is(err, ir.ErrNoLink) {
		t.Fatalf("expected ErrNoLink, got %v", err)
	}
}

// ring is a minimal unlinked topology stand-in used only to exercise the
// no-link rejection path above.
type ring struct{ n int }

func (r ring) Link(src, dst int) bool { return false }
func (r ring) NumNodes() int          { return r.n }

func TestEnterExit_RejectsNestedRegion(t *testing.T) {
	p1 := newTestProgram(t, collective.AllGather{NumRanks: 2}, 2)
	p2 := newTestProgram(t, collective.AllGather{NumRanks: 2}, 2)

	if err := Enter(p1); err != nil {
		t.Fatalf("Enter p1: %v", err)
	}
	defer Exit()

	if err := Enter(p2); !errors.Is(err, ir.ErrNestedProgram) {
		t.Fatalf("expected ErrNestedProgram, got %v", err)
	}
}

func TestCurrent_ErrorsWithNoActiveRegion(t *testing.T) {
	if _, err := Current(); !errors.Is(err, ir.ErrNoActiveProgram) {
		t.Fatalf("expected ErrNoActiveProgram, got %v", err)
	}
}

func TestBuild_ReleasesRegionEvenOnError(t *testing.T) {
	p := newTestProgram(t, collective.AllGather{NumRanks: 2}, 2)
	wantErr := errors.New("boom")

	err := Build(p, func(*Program) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected Build to propagate the script error, got %v", err)
	}
	if _, err := Current(); !errors.Is(err, ir.ErrNoActiveProgram) {
		t.Fatalf("expected region released after Build returns, got %v", err)
	}
}

// TestCompile_AllGatherTwoRanks is scenario S1 from spec.md §8: rank 0 and
// rank 1 each send their one input chunk to the other's output slot, and
// the collective's oracle confirms both outputs hold both origins.
func TestCompile_AllGatherTwoRanks(t *testing.T) {
	p := newTestProgram(t, collective.AllGather{NumRanks: 2}, 2)

	err := Build(p, func(p *Program) error {
		for rank := 0; rank < 2; rank++ {
			in := p.Input(rank, 0, 1)
			if _, err := in.Send(rank, ir.Output(), rank, 0, 0, 0); err != nil {
				return err
			}
			other := 1 - rank
			if _, err := in.Send(other, ir.Output(), rank, 0, 0, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := p.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !result.CheckOK {
		t.Fatalf("expected the allgather oracle to accept the exchange")
	}
	if result.BuildID == "" {
		t.Fatalf("expected a non-empty BuildID")
	}
	if len(result.Program.Gpus) != 2 {
		t.Fatalf("expected 2 gpus in the descriptor, got %d", len(result.Program.Gpus))
	}
}

// TestCompile_MissingExchangeFailsOracle mirrors S1 but only sends the local
// copy, leaving each rank's output missing its peer's chunk: the pipeline
// still compiles (the oracle is non-fatal, per SPEC_FULL.md §7), but
// CheckOK reports the failure.
func TestCompile_MissingExchangeFailsOracle(t *testing.T) {
	p := newTestProgram(t, collective.AllGather{NumRanks: 2}, 2)

	err := Build(p, func(p *Program) error {
		for rank := 0; rank < 2; rank++ {
			in := p.Input(rank, 0, 1)
			if _, err := in.Send(rank, ir.Output(), rank, 0, 0, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result, err := p.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.CheckOK {
		t.Fatalf("expected the oracle to reject an incomplete exchange")
	}
}
