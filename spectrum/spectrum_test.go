package spectrum

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/invariant"
)

var schema = invariant.Schema{Names: []string{"Q"}, Kinds: []invariant.Kind{invariant.Additive}}

func TestNewRejectsDescending(t *testing.T) {
	t.Parallel()
	vecs := mat.NewCDense(2, 2, nil)
	if _, err := New([]float64{1, 0}, vecs); err == nil {
		t.Fatalf("expected error for descending eigenvalues")
	}
}

func TestSplitSumsToDim(t *testing.T) {
	t.Parallel()
	vecs := mat.NewCDense(3, 5, nil)
	s, err := New([]float64{0, 1, 2}, vecs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ancestors := []invariant.Invariant{
		invariant.New(schema, 0),
		invariant.New(schema, 1),
	}
	if err := s.Split(ancestors, []int{2, 3}); err != nil {
		t.Fatalf("%+v", err)
	}
	blocks := s.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("%d blocks, expected 2", len(blocks))
	}
	if blocks[0].Offset != 0 || blocks[0].Width != 2 {
		t.Fatalf("%+v", blocks[0])
	}
	if blocks[1].Offset != 2 || blocks[1].Width != 3 {
		t.Fatalf("%+v", blocks[1])
	}
}

func TestSplitRejectsMismatchedWidths(t *testing.T) {
	t.Parallel()
	vecs := mat.NewCDense(3, 5, nil)
	s, err := New([]float64{0, 1, 2}, vecs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ancestors := []invariant.Invariant{invariant.New(schema, 0)}
	if err := s.Split(ancestors, []int{2}); err == nil {
		t.Fatalf("expected error: widths sum to 2, dim is 5")
	}
}

func TestCheckGroundStateFloor(t *testing.T) {
	t.Parallel()
	if err := CheckGroundStateFloor(1e-15, 1e-14); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := CheckGroundStateFloor(1e-10, 1e-14); err == nil {
		t.Fatalf("expected tolerance violation")
	}
}
