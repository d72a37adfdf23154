package symmetry

import (
	"testing"

	"github.com/nrgchain/nrg/invariant"
)

func TestNewU1RejectsUnsupportedChannels(t *testing.T) {
	t.Parallel()
	if _, err := NewU1(4); err == nil {
		t.Fatalf("expected error for unsupported channel count")
	}
}

func TestU1AncestorCandidates(t *testing.T) {
	t.Parallel()
	s, err := NewU1(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	prev := []invariant.Invariant{
		invariant.New(s.Schema, 0),
		invariant.New(s.Schema, 1),
	}
	child := invariant.New(s.Schema, 1)
	cands := s.AncestorCandidates(child, prev)
	if len(cands) == 0 {
		t.Fatalf("expected at least one ancestor candidate for Q=1")
	}
	for _, c := range cands {
		if !s.Allowed(c.Ancestor, c.Local.Label, child) {
			t.Fatalf("candidate %+v fails its own Allowed check", c)
		}
	}
}

func TestQSZLocalStatesCoverFourFockStates(t *testing.T) {
	t.Parallel()
	s, err := NewQSZ(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(s.LocalStates) != 4 {
		t.Fatalf("got %d local states, want 4", len(s.LocalStates))
	}
}

func TestQSRecalcFactorSinglettoDoubletIsPositive(t *testing.T) {
	t.Parallel()
	s, err := NewQS(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	vac := invariant.New(s.Schema, 0, 0)
	doublet := invariant.New(s.Schema, 1, 1)
	op := invariant.New(s.Schema, 1, 1)
	f := s.RecalcFactor(vac, op, doublet)
	if real(f) <= 0 {
		t.Fatalf("factor = %v, want positive real part", f)
	}
}

func TestQSMultiplicityOfDoubletIsTwo(t *testing.T) {
	t.Parallel()
	s, err := NewQS(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	doublet := invariant.New(s.Schema, 1, 1)
	if m := s.Multiplicity(doublet); m != 2 {
		t.Fatalf("multiplicity = %d, want 2", m)
	}
}

func TestNewQSZRejectsThreeChannels(t *testing.T) {
	t.Parallel()
	if _, err := NewQSZ(3); err == nil {
		t.Fatalf("expected error: QSZ tables only cover 1-2 channels")
	}
}
