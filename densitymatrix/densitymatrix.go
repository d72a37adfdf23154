// Package densitymatrix implements the DensityMatrixEngine: the
// backward pass that builds the reduced density matrix rho[N] at every
// shell, and the full-density-matrix (FDM) weights wn[N], using
// extended-precision accumulation for the partition-sum quantities that
// are sensitive to catastrophic cancellation (spec.md §4.6/§9).
package densitymatrix

import (
	"math"
	"math/big"

	"github.com/pkg/errors"

	"github.com/nrgchain/nrg/diagstate"
	"github.com/nrgchain/nrg/invariant"
	"github.com/nrgchain/nrg/symmetry"
)

// precisionBits is the math/big.Float mantissa precision used for every
// extended-precision accumulator below. No bignum-float library appears
// anywhere in the example pack (math/big.Int backs matrix exponentiation
// in agbruneau-Fibonacci/matrix.go, the closest the ecosystem gets), so
// this package is a documented, justified standard-library exception
// rather than an ecosystem dependency.
const precisionBits = 400

// Rho is the reduced density matrix for one shell: a diagonal weight
// per eigenstate of each invariant subspace.
type Rho struct {
	Diag map[invariant.Invariant][]float64
}

// Thermal builds the pure grand-canonical weight over every eigenstate
// of a shell, kept and discarded alike: rho[I] := diag_exp(v_zero[I];
// scT) / Z. It is the formula spec.md §4.6 uses to seed the last
// stored shell's reduced density matrix, and, generalized to any
// shell, to weight that shell's own discarded eigenstates during the
// backward walk (the caller is responsible for overwriting the kept
// rows with the pulled-back weight from the next shell).
func Thermal(sym *symmetry.Symmetry, state *diagstate.DiagState, scT float64) (*Rho, error) {
	invs := state.Invariants()
	if len(invs) == 0 {
		return nil, errors.Errorf("densitymatrix: empty diag state")
	}

	zN := new(big.Float).SetPrec(precisionBits)
	perInv := make(map[invariant.Invariant][]float64, len(invs))
	for _, i := range invs {
		sp := state.Get(i)
		if sp == nil {
			continue
		}
		weights := make([]float64, len(sp.VZero))
		mult := big.NewFloat(float64(sym.Multiplicity(i))).SetPrec(precisionBits)
		sub := new(big.Float).SetPrec(precisionBits)
		for k, v := range sp.VZero {
			w := math.Exp(-v * scT)
			weights[k] = w
			sub.Add(sub, big.NewFloat(w).SetPrec(precisionBits))
		}
		sub.Mul(sub, mult)
		zN.Add(zN, sub)
		perInv[i] = weights
	}
	zf, _ := zN.Float64()
	if zf <= 0 {
		return nil, errors.Errorf("densitymatrix: Z_N = %g is non-positive", zf)
	}

	diag := make(map[invariant.Invariant][]float64, len(perInv))
	for i, weights := range perInv {
		row := make([]float64, len(weights))
		for k, w := range weights {
			row[k] = w / zf
		}
		diag[i] = row
	}
	return &Rho{Diag: diag}, nil
}

// Last builds rho[N] at the final stored shell, where every eigenstate
// is thermally weighted since there is no later shell to pull
// kept-state weight from.
func Last(sym *symmetry.Symmetry, state *diagstate.DiagState, scT float64) (*Rho, error) {
	return Thermal(sym, state, scT)
}

// FDMWeights holds the per-shell extended-precision partition sums
// ZnDG, ZnDN and the normalized weights wn spec.md §4.6 step 3 defines,
// plus the checked invariant that they sum to 1.
type FDMWeights struct {
	ZnDG []*big.Float
	ZnDN []*big.Float
	ZZG  *big.Float
	Wn   []float64
}

// ShellAbsEnergies is one subspace's share of a shell's input to
// Compute: that subspace's absolute energies absE_G and absE_N and its
// multiplicity. Compute takes one slice of these per shell.
type ShellAbsEnergies struct {
	AbsEG []float64
	AbsEN []float64
	Mult  int
}

// Compute builds ZnDG, ZnDN, ZZG, and wn across the whole chain, given
// one ShellAbsEnergies slice per shell (indexed 0..Nlen-1, in chain
// order), combs (the number of local states adjoined per site) and the
// temperature T.
func Compute(shells [][]ShellAbsEnergies, combs int, temperature float64) (*FDMWeights, error) {
	nlen := len(shells)
	if nlen == 0 {
		return nil, errors.Errorf("densitymatrix: no shells supplied")
	}
	znDG := make([]*big.Float, nlen)
	znDN := make([]*big.Float, nlen)
	for n := 0; n < nlen; n++ {
		dg := new(big.Float).SetPrec(precisionBits)
		dn := new(big.Float).SetPrec(precisionBits)
		for _, sub := range shells[n] {
			mult := big.NewFloat(float64(sub.Mult)).SetPrec(precisionBits)

			sg := new(big.Float).SetPrec(precisionBits)
			for _, e := range sub.AbsEG {
				sg.Add(sg, big.NewFloat(math.Exp(-e/temperature)).SetPrec(precisionBits))
			}
			sg.Mul(sg, mult)
			dg.Add(dg, sg)

			sn := new(big.Float).SetPrec(precisionBits)
			for _, e := range sub.AbsEN {
				sn.Add(sn, big.NewFloat(math.Exp(-e/temperature)).SetPrec(precisionBits))
			}
			sn.Mul(sn, mult)
			dn.Add(dn, sn)
		}
		znDG[n] = dg
		znDN[n] = dn
	}

	zzg := new(big.Float).SetPrec(precisionBits)
	for n := 0; n < nlen; n++ {
		weight := new(big.Float).SetPrec(precisionBits).SetInt(
			new(big.Int).Exp(big.NewInt(int64(combs)), big.NewInt(int64(nlen-n-1)), nil))
		term := new(big.Float).SetPrec(precisionBits).Mul(znDG[n], weight)
		zzg.Add(zzg, term)
	}
	if zzg.Sign() <= 0 {
		return nil, errors.Errorf("densitymatrix: ZZG is non-positive")
	}

	wn := make([]float64, nlen)
	wnSum := 0.0
	for n := 0; n < nlen; n++ {
		weight := new(big.Float).SetPrec(precisionBits).SetInt(
			new(big.Int).Exp(big.NewInt(int64(combs)), big.NewInt(int64(nlen-n-1)), nil))
		num := new(big.Float).SetPrec(precisionBits).Mul(weight, znDG[n])
		ratio := new(big.Float).SetPrec(precisionBits).Quo(num, zzg)
		f, _ := ratio.Float64()
		wn[n] = f
		wnSum += f
	}
	if math.Abs(wnSum-1) > 1e-12 {
		return nil, errors.Errorf("densitymatrix: sum(wn) = %g, expected 1 within 1e-12", wnSum)
	}

	return &FDMWeights{ZnDG: znDG, ZnDN: znDN, ZZG: zzg, Wn: wn}, nil
}
