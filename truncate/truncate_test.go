package truncate

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/diagstate"
	"github.com/nrgchain/nrg/invariant"
	"github.com/nrgchain/nrg/spectrum"
)

var schema = invariant.Schema{Names: []string{"Q"}, Kinds: []invariant.Kind{invariant.Additive}}

func buildState(t *testing.T, byInv map[int32][]float64) *diagstate.DiagState {
	t.Helper()
	d := diagstate.New()
	for q, vals := range byInv {
		vecs := mat.NewCDense(len(vals), len(vals), nil)
		sp, err := spectrum.New(vals, vecs)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		sp.SubtractGroundState(0)
		d.Insert(invariant.New(schema, q), sp)
	}
	return d
}

func TestPrepareRespectsNkeep(t *testing.T) {
	t.Parallel()
	d := buildState(t, map[int32][]float64{
		0: {0, 1, 2, 3},
		1: {0.5, 1.5, 2.5},
	})
	r, err := Prepare(d, Params{Nkeep: 3, NkeepMin: 1, EpsSg: 1e-9, NsgMax: 0, Unscale: 1})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	total := 0
	for _, k := range r.Kept {
		total += k
	}
	if total != 3 {
		t.Fatalf("total kept = %d, want 3", total)
	}
}

func TestPrepareSafeguardExtendsPastDegenerateGap(t *testing.T) {
	t.Parallel()
	d := buildState(t, map[int32][]float64{
		0: {0, 1, 1 + 1e-13, 5},
	})
	r, err := Prepare(d, Params{Nkeep: 2, NkeepMin: 1, EpsSg: 1e-9, NsgMax: 2, Unscale: 1})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if r.Kept[invariant.New(schema, 0)] < 3 {
		t.Fatalf("safeguard should have pulled in the near-degenerate third state: %+v", r.Kept)
	}
}

func TestPrepareRejectsNonzeroMinimum(t *testing.T) {
	t.Parallel()
	d := diagstate.New()
	vecs := mat.NewCDense(2, 2, nil)
	sp, err := spectrum.New([]float64{1, 2}, vecs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sp.SubtractGroundState(0) // leaves min = 1, not 0
	d.Insert(invariant.New(schema, 0), sp)

	if _, err := Prepare(d, Params{Nkeep: 2, NkeepMin: 1, EpsSg: 1e-9, Unscale: 1}); err == nil {
		t.Fatalf("expected error: minimum v_zero is not 0")
	}
}

func TestPrepareKeepAllOnLastStep(t *testing.T) {
	t.Parallel()
	d := buildState(t, map[int32][]float64{0: {0, 1, 2, 3, 4}})
	r, err := Prepare(d, Params{Nkeep: 1, NkeepMin: 1, EpsSg: 1e-9, Unscale: 1, IsLastStep: true, KeepAllLast: true})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if r.Kept[invariant.New(schema, 0)] != 5 {
		t.Fatalf("expected all 5 states kept on last step, got %d", r.Kept[invariant.New(schema, 0)])
	}
}
