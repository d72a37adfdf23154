// Package diagstate holds the per-step Shell state of spec.md §3: a
// mapping from invariant label to that subspace's Spectrum, plus the
// SubspaceDims snapshot that survives after eigenvectors are dropped.
package diagstate

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/nrgchain/nrg/invariant"
	"github.com/nrgchain/nrg/spectrum"
)

// SubspaceDims is the persistent per-(step,invariant) record spec.md §3
// says "survives after the step ends and feeds DM construction": kept
// and total counts, the column-block layout, whether this is the last
// step, and the eigenvalues at the three absolute-energy scales.
type SubspaceDims struct {
	Kept         int
	Total        int
	BlockOffsets []spectrum.ColumnBlock
	Last         bool
	VOrig        []float64
	VZero        []float64
	AbsE         []float64
	AbsEG        []float64
	AbsEN        []float64
}

// DiagState is the mapping invariant -> Spectrum for one step. Per
// spec.md §5, it is built up concurrently during the diagonalization
// phase (hence the mutex-guarded Insert) and is read-only afterward.
type DiagState struct {
	mu       sync.Mutex
	spectra  map[invariant.Invariant]*spectrum.Spectrum
	dims     map[invariant.Invariant]*SubspaceDims
}

// New returns an empty DiagState.
func New() *DiagState {
	return &DiagState{
		spectra: make(map[invariant.Invariant]*spectrum.Spectrum),
		dims:    make(map[invariant.Invariant]*SubspaceDims),
	}
}

// Insert records the spectrum for invariant i. It is safe to call
// concurrently from diagonalizer worker goroutines; the critical
// section is the single map write, matching spec.md §5's "short
// critical section" requirement.
func (d *DiagState) Insert(i invariant.Invariant, s *spectrum.Spectrum) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spectra[i] = s
}

// Get returns the spectrum for i, or nil if absent.
func (d *DiagState) Get(i invariant.Invariant) *spectrum.Spectrum {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spectra[i]
}

// Invariants returns the set of invariants with a stored spectrum, in
// deterministic ascending order (spec.md §5's ordering guarantee).
func (d *DiagState) Invariants() []invariant.Invariant {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]invariant.Invariant, 0, len(d.spectra))
	for i := range d.spectra {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Compare(out[b]) < 0 })
	return out
}

// Len returns the number of subspaces in the state.
func (d *DiagState) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.spectra)
}

// GlobalGroundState returns the minimum eigenvalue over all subspaces,
// used to compute Egs for this shell.
func (d *DiagState) GlobalGroundState() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.spectra) == 0 {
		return 0, errors.Errorf("diagstate: no subspaces")
	}
	first := true
	var egs float64
	for _, s := range d.spectra {
		if len(s.VOrig) == 0 {
			continue
		}
		if first || s.VOrig[0] < egs {
			egs = s.VOrig[0]
			first = false
		}
	}
	return egs, nil
}

// SnapshotDims copies, for invariant i, the per-step SubspaceDims
// record that will survive after the spectrum's eigenvectors are
// dropped. last marks whether this is the final chain step.
func (d *DiagState) SnapshotDims(i invariant.Invariant, last bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.spectra[i]
	if !ok {
		return errors.Errorf("diagstate: no spectrum for %s", i)
	}
	d.dims[i] = &SubspaceDims{
		Kept:         s.Kept,
		Total:        s.Computed(),
		BlockOffsets: append([]spectrum.ColumnBlock(nil), s.Blocks()...),
		Last:         last,
		VOrig:        append([]float64(nil), s.VOrig...),
		VZero:        append([]float64(nil), s.VZero...),
		AbsE:         append([]float64(nil), s.AbsE...),
		AbsEG:        append([]float64(nil), s.AbsEG...),
		AbsEN:        append([]float64(nil), s.AbsEN...),
	}
	return nil
}

// Dims returns the SubspaceDims snapshot for invariant i, or nil.
func (d *DiagState) Dims(i invariant.Invariant) *SubspaceDims {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dims[i]
}

// DropEigenvectors releases every subspace's eigenvector storage,
// keeping only the SubspaceDims snapshots (spec.md §3's lifecycle note).
func (d *DiagState) DropEigenvectors() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.spectra {
		s.DropEigenvectors()
	}
}
