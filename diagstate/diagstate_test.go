package diagstate

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/invariant"
	"github.com/nrgchain/nrg/spectrum"
)

var schema = invariant.Schema{Names: []string{"Q"}, Kinds: []invariant.Kind{invariant.Additive}}

func mustSpectrum(t *testing.T, v []float64, dim int) *spectrum.Spectrum {
	t.Helper()
	vecs := mat.NewCDense(len(v), dim, nil)
	s, err := spectrum.New(v, vecs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return s
}

func TestInsertAndGet(t *testing.T) {
	t.Parallel()
	d := New()
	i0 := invariant.New(schema, 0)
	s := mustSpectrum(t, []float64{0, 1}, 2)
	d.Insert(i0, s)
	if got := d.Get(i0); got != s {
		t.Fatalf("got %v, want %v", got, s)
	}
	if d.Len() != 1 {
		t.Fatalf("len = %d, want 1", d.Len())
	}
}

func TestInvariantsSortedAscending(t *testing.T) {
	t.Parallel()
	d := New()
	d.Insert(invariant.New(schema, 2), mustSpectrum(t, []float64{0}, 1))
	d.Insert(invariant.New(schema, -1), mustSpectrum(t, []float64{0}, 1))
	d.Insert(invariant.New(schema, 0), mustSpectrum(t, []float64{0}, 1))

	invs := d.Invariants()
	if len(invs) != 3 {
		t.Fatalf("got %d invariants, want 3", len(invs))
	}
	for i := 1; i < len(invs); i++ {
		if invs[i-1].Compare(invs[i]) >= 0 {
			t.Fatalf("invariants not ascending: %v", invs)
		}
	}
}

func TestGlobalGroundState(t *testing.T) {
	t.Parallel()
	d := New()
	d.Insert(invariant.New(schema, 0), mustSpectrum(t, []float64{2, 5}, 2))
	d.Insert(invariant.New(schema, 1), mustSpectrum(t, []float64{-3, 4}, 2))

	egs, err := d.GlobalGroundState()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if egs != -3 {
		t.Fatalf("egs = %g, want -3", egs)
	}
}

func TestGlobalGroundStateEmptyErrors(t *testing.T) {
	t.Parallel()
	d := New()
	if _, err := d.GlobalGroundState(); err == nil {
		t.Fatalf("expected error on empty state")
	}
}

func TestSnapshotDimsThenDropEigenvectors(t *testing.T) {
	t.Parallel()
	d := New()
	i0 := invariant.New(schema, 0)
	s := mustSpectrum(t, []float64{0, 1, 2}, 3)
	if err := s.Truncate(2); err != nil {
		t.Fatalf("%+v", err)
	}
	d.Insert(i0, s)

	if err := d.SnapshotDims(i0, true); err != nil {
		t.Fatalf("%+v", err)
	}
	dims := d.Dims(i0)
	if dims == nil {
		t.Fatalf("expected dims snapshot")
	}
	if dims.Kept != 2 || dims.Total != 3 || !dims.Last {
		t.Fatalf("%+v", dims)
	}

	d.DropEigenvectors()
	if s.Vecs != nil {
		t.Fatalf("expected eigenvectors dropped")
	}
	// the snapshot survives the drop
	if dims.Total != 3 {
		t.Fatalf("snapshot mutated after drop: %+v", dims)
	}
}

func TestSnapshotDimsMissingInvariantErrors(t *testing.T) {
	t.Parallel()
	d := New()
	if err := d.SnapshotDims(invariant.New(schema, 9), false); err == nil {
		t.Fatalf("expected error for missing invariant")
	}
}
