// Package spectral implements the SpectralEngine: per-step
// accumulation of binned spectral weight for the FT, DMNRG, CFS, and
// FDM algorithms, plus Matsubara-frequency grid generation.
package spectral

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/invariant"
	"github.com/nrgchain/nrg/operator"
)

// Sign distinguishes bosonic (even) from fermionic (odd) spectral
// functions, which differ in how FT/DMNRG/CFS combine their two
// frequency branches.
type Sign int

const (
	Boson   Sign = 1
	Fermion Sign = -1
)

// LogBins accumulates real spectral weight into two one-sided,
// log-spaced arrays (positive and negative frequency), the binning
// scheme spec.md §4.5 specifies for every accumulator kind.
type LogBins struct {
	nbins    int
	logMin   float64
	logMax   float64
	Pos, Neg []float64
}

// NewLogBins returns an empty bin set covering |omega| in [min, max]
// with nbins log-spaced bins per side.
func NewLogBins(nbins int, min, max float64) (*LogBins, error) {
	if min <= 0 || max <= min {
		return nil, errors.Errorf("spectral: invalid bin range [%g,%g]", min, max)
	}
	return &LogBins{
		nbins:  nbins,
		logMin: math.Log(min),
		logMax: math.Log(max),
		Pos:    make([]float64, nbins),
		Neg:    make([]float64, nbins),
	}, nil
}

// Add deposits weight at frequency omega into the appropriate
// one-sided array, clamping to the outermost bin outside [min,max]
// rather than discarding the contribution.
func (b *LogBins) Add(omega float64, weight float64) {
	if omega == 0 || weight == 0 {
		return
	}
	arr := b.Pos
	a := omega
	if omega < 0 {
		arr = b.Neg
		a = -omega
	}
	idx := b.index(a)
	arr[idx] += weight
}

func (b *LogBins) index(absOmega float64) int {
	lg := math.Log(absOmega)
	frac := (lg - b.logMin) / (b.logMax - b.logMin)
	idx := int(frac * float64(b.nbins))
	if idx < 0 {
		idx = 0
	}
	if idx >= b.nbins {
		idx = b.nbins - 1
	}
	return idx
}

// pairKey orders (Ii, Ij) lexicographically, the deterministic
// subspace-pair iteration order spec.md §4.5 requires so accumulation
// is independent of map iteration order.
func pairKey(a, b invariant.Invariant) (invariant.Invariant, invariant.Invariant) {
	if a.Compare(b) <= 0 {
		return a, b
	}
	return b, a
}

// Pairs returns every (Ip, I1) pair with both operator blocks present
// in op1 and op2, in deterministic lexicographic order.
func Pairs(op1, op2 *operator.Set) []operator.Key {
	seen := make(map[operator.Key]bool)
	var out []operator.Key
	for _, k := range op1.Keys() {
		if op2.Get(k.I1, k.I2) == nil {
			continue
		}
		a, b := pairKey(k.I1, k.I2)
		kk := operator.Key{I1: a, I2: b}
		if seen[kk] {
			continue
		}
		seen[kk] = true
		out = append(out, kk)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].I1.Compare(out[j].I1); c != 0 {
			return c < 0
		}
		return out[i].I2.Compare(out[j].I2) < 0
	})
	return out
}

// FT accumulates the conventional finite-temperature spectral function:
// a delta at energy scale*(E1-Ep) with weight
// (factor/Z)*conj(op1[r1,rp])*op2[r1,rp]*exp(-Ep*scT)*sign, summed over
// every matrix element of the (Ip,I1) block pair.
type FT struct {
	Bins   *LogBins
	Z      float64
	Factor float64
	Sign   Sign
}

// Accumulate adds one (Ip, I1) block pair's contribution.
func (f *FT) Accumulate(scale, scT float64, absEp, absE1 []float64, op1, op2 *mat.CDense) error {
	if f.Z <= 0 {
		return errors.Errorf("spectral: FT accumulator has non-positive Z=%g", f.Z)
	}
	rows, cols := op1.Dims()
	r2, c2 := op2.Dims()
	if rows != r2 || cols != c2 {
		return errors.Errorf("spectral: op1/op2 shape mismatch (%d,%d) vs (%d,%d)", rows, cols, r2, c2)
	}
	for r1 := 0; r1 < rows; r1++ {
		if r1 >= len(absE1) {
			break
		}
		for rp := 0; rp < cols; rp++ {
			if rp >= len(absEp) {
				break
			}
			weight := (f.Factor / f.Z) * real(cmplxConj(op1.At(r1, rp))*op2.At(r1, rp)) * math.Exp(-absEp[rp]*scT) * float64(f.Sign)
			omega := scale * (absE1[r1] - absEp[rp])
			f.Bins.Add(omega, weight)
		}
	}
	return nil
}

// DMNRG accumulates as FT but weighted by a loaded reduced density
// matrix diagonal rather than a grand-canonical Z; RhoIp supplies
// rho[Ip] evaluated on the same row index as absEp.
type DMNRG struct {
	Bins   *LogBins
	Factor float64
	Sign   Sign
}

// Accumulate adds one (Ip, I1) block pair's DMNRG contribution.
func (d *DMNRG) Accumulate(scale float64, rhoIp []float64, absEp, absE1 []float64, op1, op2 *mat.CDense) error {
	rows, cols := op1.Dims()
	for r1 := 0; r1 < rows && r1 < len(absE1); r1++ {
		for rp := 0; rp < cols && rp < len(absEp) && rp < len(rhoIp); rp++ {
			weight := d.Factor * real(cmplxConj(op1.At(r1, rp))*op2.At(r1, rp)) * rhoIp[rp] * float64(d.Sign)
			omega := scale * (absE1[r1] - absEp[rp])
			d.Bins.Add(omega, weight)
		}
	}
	return nil
}

// CFS accumulates the complete-Fock-space spectral function across its
// two branches ("less than": discarded-at-I1 x kept-at-Ip; "greater
// than": kept-at-I1 x discarded-at-Ip), merged into one bin set.
type CFS struct {
	Bins   *LogBins
	Factor float64
	Sign   Sign
}

// AccumulateLess adds the "less than" branch: discarded-at-I1 rows
// carrying the excitation energy, kept-at-Ip columns contracted
// against rho[Ip].
func (c *CFS) AccumulateLess(scale float64, rhoIp []float64, absEpKept, absE1Discarded []float64, op1, op2 *mat.CDense) {
	rows, cols := op1.Dims()
	for r1 := 0; r1 < rows && r1 < len(absE1Discarded); r1++ {
		for rp := 0; rp < cols && rp < len(absEpKept) && rp < len(rhoIp); rp++ {
			weight := c.Factor * real(cmplxConj(op1.At(r1, rp))*op2.At(r1, rp)) * rhoIp[rp]
			omega := scale * (absE1Discarded[r1] - absEpKept[rp])
			c.Bins.Add(omega, weight)
		}
	}
}

// AccumulateGreater adds the symmetric "greater than" branch: kept-at-I1
// rows contracted against rho[I1], discarded-at-Ip columns.
func (c *CFS) AccumulateGreater(scale float64, rhoI1 []float64, absEpDiscarded, absE1Kept []float64, op1, op2 *mat.CDense) {
	rows, cols := op1.Dims()
	for r1 := 0; r1 < rows && r1 < len(absE1Kept) && r1 < len(rhoI1); r1++ {
		for rp := 0; rp < cols && rp < len(absEpDiscarded); rp++ {
			weight := c.Factor * real(cmplxConj(op1.At(r1, rp))*op2.At(r1, rp)) * rhoI1[r1] * float64(c.Sign)
			omega := scale * (absE1Kept[r1] - absEpDiscarded[rp])
			c.Bins.Add(omega, weight)
		}
	}
}

// FDM has the same structure as CFS but uses the full-density-matrix
// weight rhoFDM and an additional global per-step weight wn, computed
// in extended precision upstream (package densitymatrix) and passed in
// here already reduced to float64 for bin accumulation.
type FDM struct {
	CFS
	Wn float64
}

// AccumulateLess scales CFS's "less than" branch by Wn.
func (f *FDM) AccumulateLess(scale float64, rhoFDMIp []float64, absEpKept, absE1Discarded []float64, op1, op2 *mat.CDense) {
	f.CFS.Factor *= f.Wn
	f.CFS.AccumulateLess(scale, rhoFDMIp, absEpKept, absE1Discarded, op1, op2)
	f.CFS.Factor /= f.Wn
}

// AccumulateGreater scales CFS's "greater than" branch by Wn.
func (f *FDM) AccumulateGreater(scale float64, rhoFDMI1 []float64, absEpDiscarded, absE1Kept []float64, op1, op2 *mat.CDense) {
	f.CFS.Factor *= f.Wn
	f.CFS.AccumulateGreater(scale, rhoFDMI1, absEpDiscarded, absE1Kept, op1, op2)
	f.CFS.Factor /= f.Wn
}

// MatsubaraGrid returns the first n Matsubara frequencies
// omega_n = (2n+delta)*pi*T, delta=0 for bosonic, 1 for fermionic,
// matching the original implementation's matsubara.h grid (spec.md §6's
// finitemats/cfsmats/fdmmats spectrum kinds).
func MatsubaraGrid(n int, temperature float64, sign Sign) []float64 {
	delta := 0.0
	if sign == Fermion {
		delta = 1.0
	}
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		out[k] = (2*float64(k) + delta) * math.Pi * temperature
	}
	return out
}

func cmplxConj(v complex128) complex128 { return complex(real(v), -imag(v)) }
