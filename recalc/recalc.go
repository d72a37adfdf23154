// Package recalc implements the Recalculator: transforms operator
// blocks from the old eigenbasis into the new one produced by this
// step's diagonalization, via U^T * old * U contractions over the
// column-block decomposition spectrum.Split established.
package recalc

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/diagstate"
	"github.com/nrgchain/nrg/invariant"
	"github.com/nrgchain/nrg/operator"
	"github.com/nrgchain/nrg/spectrum"
	"github.com/nrgchain/nrg/symmetry"
)

// Strategy selects how many rows/columns of the new eigenvectors are
// used for the transform: All uses every computed eigenvector (more
// accurate, more expensive); Kept uses only the truncated-and-kept
// rows/columns, matching the new step's basis exactly.
type Strategy int

const (
	All Strategy = iota
	Kept
)

// Recalculate transforms old, a block set in the previous step's
// eigenbasis, into a new block set in state's eigenbasis, using sym's
// recalculation factor as the per-symmetry coefficient in place of the
// true Clebsch-Gordan-like table (which spec.md places out of scope as
// opaque external data).
func Recalculate(sym *symmetry.Symmetry, state *diagstate.DiagState, old *operator.Set, strategy Strategy) (*operator.Set, error) {
	out := operator.NewSet()
	invs := state.Invariants()

	for _, i1 := range invs {
		sp1 := state.Get(i1)
		if sp1 == nil {
			continue
		}
		for _, ip := range invs {
			spp := state.Get(ip)
			if spp == nil {
				continue
			}
			block, err := recalculateBlock(sym, sp1, spp, old, strategy)
			if err != nil {
				return nil, errors.Wrapf(err, "recalc: (%s,%s)", i1, ip)
			}
			if block != nil {
				out.Set(i1, ip, block)
			}
		}
	}
	return out, nil
}

// recalculateBlock computes the new (I1,Ip) block by summing over every
// pair of column blocks (ancestor-derived sub-ranges) of sp1 and spp
// that the old block set connects, weighted by the symmetry's
// recalculation factor.
func recalculateBlock(sym *symmetry.Symmetry, sp1, spp *spectrum.Spectrum, old *operator.Set, strategy Strategy) (*mat.CDense, error) {
	rows := rowsFor(sp1, strategy)
	cols := rowsFor(spp, strategy)
	if rows == 0 || cols == 0 {
		return nil, nil
	}

	acc := mat.NewCDense(rows, cols, nil)
	found := false

	for _, b1 := range sp1.Blocks() {
		for _, bp := range spp.Blocks() {
			oldBlock := old.Get(b1.Invariant, bp.Invariant)
			if oldBlock == nil {
				continue
			}
			opLabel := operatorLabel(sym, b1.Invariant, bp.Invariant)
			factor := sym.RecalcFactor(b1.Invariant, opLabel, bp.Invariant)
			contrib, err := contract(sp1.Vecs, b1, oldBlock, spp.Vecs, bp, rows, cols, factor)
			if err != nil {
				return nil, err
			}
			addInto(acc, contrib)
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return acc, nil
}

func rowsFor(sp *spectrum.Spectrum, strategy Strategy) int {
	if strategy == Kept {
		return sp.Kept
	}
	return sp.Computed()
}

// contract computes U1[:, block1]^T . old . Up[:, blockp] and returns
// the resulting rows x cols matrix, scaled by factor. U1/Up are stored
// row-major (rows = eigenpairs, columns = basis states), so the left
// contraction is matrix-vector over basis-state columns, not a
// transpose-multiply in the usual Dense sense.
func contract(u1 *mat.CDense, b1 spectrum.ColumnBlock, old *mat.CDense, up *mat.CDense, bp spectrum.ColumnBlock, rows, cols int, factor complex128) (*mat.CDense, error) {
	or, oc := old.Dims()
	if or != b1.Width || oc != bp.Width {
		return nil, errors.Errorf("recalc: old block is %dx%d, ancestor widths are %dx%d", or, oc, b1.Width, bp.Width)
	}
	out := mat.NewCDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var sum complex128
			for a := 0; a < b1.Width; a++ {
				u1v := u1.At(r, b1.Offset+a)
				if u1v == 0 {
					continue
				}
				for bb := 0; bb < bp.Width; bb++ {
					upv := up.At(c, bp.Offset+bb)
					if upv == 0 {
						continue
					}
					sum += cmplxConj(u1v) * old.At(a, bb) * upv
				}
			}
			out.Set(r, c, factor*sum)
		}
	}
	return out, nil
}

func addInto(acc, contrib *mat.CDense) {
	rows, cols := acc.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			acc.Set(r, c, acc.At(r, c)+contrib.At(r, c))
		}
	}
}

func cmplxConj(v complex128) complex128 { return complex(real(v), -imag(v)) }

// operatorLabel derives the invariant label of the operator that
// connects ancestor anc to ancestor ip, by componentwise subtraction
// under the symmetry's schema. This stands in for the per-symmetry
// recalculation table's explicit operator index, consistent with
// sym.RecalcFactor's documented simplification of the opaque
// Clebsch-Gordan-like coefficient tables spec.md places out of scope.
func operatorLabel(sym *symmetry.Symmetry, anc, ip invariant.Invariant) invariant.Invariant {
	arity := sym.Schema.Arity()
	vals := make([]int32, arity)
	for k := 0; k < arity; k++ {
		vals[k] = ip.Get(k) - anc.Get(k)
	}
	return invariant.New(sym.Schema, vals...)
}
