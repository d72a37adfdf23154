// Package spectrum holds the per-subspace eigenvalues, eigenvectors,
// and truncation/block-decomposition state that spec.md calls the
// "Subspace spectrum".
package spectrum

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/invariant"
)

// ColumnBlock is one contiguous run of eigenvector columns that
// originated from a single ancestor invariant subspace. Keeping
// column blocks contiguous lets the Recalculator invoke dense GEMM on
// whole tiles rather than gathering scattered columns (spec.md §9,
// "Shared-memory matrices").
type ColumnBlock struct {
	Invariant invariant.Invariant
	Offset    int
	Width     int
}

// Spectrum is the eigen-decomposition of one invariant subspace's
// block Hamiltonian, plus the bookkeeping that survives truncation.
type Spectrum struct {
	// VOrig holds the original (unshifted) eigenvalues, ascending.
	VOrig []float64
	// Vecs holds the eigenvectors as rows (rows = eigenpairs, columns =
	// basis size), matching spec.md §3.
	Vecs *mat.CDense
	// VZero holds VOrig shifted by the current step's ground-state energy.
	VZero []float64
	// AbsE, AbsEG, AbsEN are the absolute energies on the three scales
	// spec.md §3 names: unrescaled, referenced to the global ground
	// state, and referenced to the ground state of shell N.
	AbsE, AbsEG, AbsEN []float64
	// Kept is the number of eigenpairs retained after truncation;
	// kept <= Computed() <= basis size.
	Kept int

	blocks []ColumnBlock
}

// New builds a Spectrum from ascending eigenvalues and a row-eigenvector
// matrix. Kept starts out equal to the number of eigenpairs (no
// truncation has happened yet).
func New(vOrig []float64, vecs *mat.CDense) (*Spectrum, error) {
	rows, _ := vecs.Dims()
	if rows != len(vOrig) {
		return nil, errors.Errorf("spectrum: %d eigenvalues but %d eigenvector rows", len(vOrig), rows)
	}
	for i := 1; i < len(vOrig); i++ {
		if vOrig[i] < vOrig[i-1]-1e-12 {
			return nil, errors.Errorf("spectrum: eigenvalues not ascending at index %d (%g < %g)", i, vOrig[i], vOrig[i-1])
		}
	}
	return &Spectrum{VOrig: vOrig, Vecs: vecs, Kept: len(vOrig)}, nil
}

// Computed returns the number of eigenpairs actually diagonalized
// (rows of Vecs).
func (s *Spectrum) Computed() int {
	if s.Vecs == nil {
		return len(s.VOrig)
	}
	rows, _ := s.Vecs.Dims()
	return rows
}

// Dim returns the basis-size dimension of the subspace (columns of Vecs).
func (s *Spectrum) Dim() int {
	if s.Vecs == nil {
		return 0
	}
	_, cols := s.Vecs.Dims()
	return cols
}

// SubtractGroundState sets VZero := VOrig - egs. It only shifts; the
// check that the shell's minimum v_zero is zero within tolerance is
// done separately, by CheckGroundStateFloor. It is called once per
// shell, after the global Egs over all subspaces in the shell is known.
func (s *Spectrum) SubtractGroundState(egs float64) {
	s.VZero = make([]float64, len(s.VOrig))
	for i, v := range s.VOrig {
		s.VZero[i] = v - egs
	}
}

// CheckGroundStateFloor verifies spec.md §8 invariant 1: after
// subtraction, the minimum v_zero across all subspaces in a shell must
// equal 0 within tolerance.
func CheckGroundStateFloor(minVZero, tol float64) error {
	if math.Abs(minVZero) > tol {
		return errors.Errorf("spectrum: min v_zero = %g exceeds tolerance %g after ground-state subtraction", minVZero, tol)
	}
	return nil
}

// SetAbsoluteEnergies fills AbsE/AbsEG/AbsEN from the current step's
// energy scale and the two reference ground-state energies (the
// shell's own Egs, and the accumulated global ground-state energy).
func (s *Spectrum) SetAbsoluteEnergies(scale, shellEgs, globalEgs float64) {
	n := len(s.VOrig)
	s.AbsE = make([]float64, n)
	s.AbsEG = make([]float64, n)
	s.AbsEN = make([]float64, n)
	for i, v := range s.VOrig {
		s.AbsE[i] = v * scale
		s.AbsEG[i] = (v - shellEgs) * scale
		s.AbsEN[i] = (v-shellEgs)*scale + globalEgs
	}
}

// Split partitions the eigenvector columns into contiguous blocks, one
// per ancestor invariant, given the widths of each ancestor block in
// the order they were laid out by MatrixBuilder. It is an error unless
// the widths sum to Dim().
func (s *Spectrum) Split(ancestors []invariant.Invariant, widths []int) error {
	if len(ancestors) != len(widths) {
		return errors.Errorf("spectrum: %d ancestors but %d widths", len(ancestors), len(widths))
	}
	total := 0
	blocks := make([]ColumnBlock, 0, len(widths))
	for i, w := range widths {
		if w == 0 {
			continue
		}
		blocks = append(blocks, ColumnBlock{Invariant: ancestors[i], Offset: total, Width: w})
		total += w
	}
	if total != s.Dim() {
		return errors.Errorf("spectrum: column block widths sum to %d, want %d", total, s.Dim())
	}
	s.blocks = blocks
	return nil
}

// Blocks returns the column blocks established by Split.
func (s *Spectrum) Blocks() []ColumnBlock { return s.blocks }

// Truncate records the kept-state count. The eigenvector storage is
// left untouched (every computed row stays; DropEigenvectors later
// releases the whole matrix), matching
// spec.md §3's lifecycle note that truncation is "prepared" before it
// is "performed".
func (s *Spectrum) Truncate(kept int) error {
	if kept < 0 || kept > s.Computed() {
		return errors.Errorf("spectrum: kept=%d out of range [0,%d]", kept, s.Computed())
	}
	s.Kept = kept
	return nil
}

// DropEigenvectors releases the eigenvector matrix after it has been
// persisted and the column-block snapshot taken, to save memory
// (spec.md §3's lifecycle note).
func (s *Spectrum) DropEigenvectors() { s.Vecs = nil }
