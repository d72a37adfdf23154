package matrixbuilder

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/chain"
	"github.com/nrgchain/nrg/diagstate"
	"github.com/nrgchain/nrg/operator"
	"github.com/nrgchain/nrg/spectrum"
	"github.com/nrgchain/nrg/symmetry"
)

func TestBuildDiagonalInheritsAncestorEnergies(t *testing.T) {
	t.Parallel()
	sym, err := symmetry.NewU1(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	prev := diagstate.New()
	anc := sym.Singlet
	vecs := mat.NewCDense(2, 2, nil)
	sp, err := spectrum.New([]float64{0, 1}, vecs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sp.SubtractGroundState(0)
	if err := sp.Truncate(2); err != nil {
		t.Fatalf("%+v", err)
	}
	prev.Insert(anc, sp)
	if err := prev.SnapshotDims(anc, false); err != nil {
		t.Fatalf("%+v", err)
	}

	coeffs := chain.New(4, 1)
	hop := operator.NewHopping(1, 1)

	h, blocks, err := Build(sym, coeffs, 0, hop, prev, anc, 1.0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if h == nil {
		t.Fatalf("expected a non-nil matrix for an existing ancestor")
	}
	if len(blocks) != 1 || blocks[0].Width != 2 {
		t.Fatalf("%+v", blocks)
	}
	if h.At(0, 0) != complex(0, 0) || h.At(1, 1) != complex(1, 0) {
		t.Fatalf("diagonal = (%v,%v), want (0,1)", h.At(0, 0), h.At(1, 1))
	}
}

func TestBuildReturnsNilForNonexistentSubspace(t *testing.T) {
	t.Parallel()
	sym, err := symmetry.NewU1(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	prev := diagstate.New()
	coeffs := chain.New(4, 1)
	hop := operator.NewHopping(1, 1)

	farAway := sym.LocalStates[len(sym.LocalStates)-1].Label
	h, blocks, err := Build(sym, coeffs, 0, hop, prev, farAway, 1.0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if h != nil || blocks != nil {
		t.Fatalf("expected nil matrix for a subspace with no ancestors")
	}
}
