// Package stats implements the Stats/Thermo component: partition
// functions and thermodynamic quantities in double precision, plus the
// FDM thermodynamic quantities whose <E^2>-<E>^2 intermediate is
// accumulated in math/big.Float to survive cancellation.
package stats

import (
	"math"
	"math/big"

	"github.com/pkg/errors"
)

const precisionBits = 400

// Sample is one eigenstate's contribution to the thermodynamic sums:
// its absolute energy and a weight, usually the degeneracy of its
// invariant subspace but for ComputeFDM the degeneracy already folded
// together with that eigenstate's wn factor (spec.md §4.6), hence
// float64 rather than a plain integer count.
type Sample struct {
	Energy float64
	Mult   float64
}

// Thermo holds the double-precision grand-canonical quantities spec.md
// §4.8/§3 names: partition function, mean energy, mean square energy,
// heat capacity, free energy, entropy.
type Thermo struct {
	Z    float64
	E    float64
	E2   float64
	C    float64
	F    float64
	S    float64
}

// Compute evaluates Z, <E>, <E^2>, C, F, S at temperature T from a flat
// list of (energy, multiplicity) samples (e.g. every eigenstate's
// absE_G across every subspace of a shell).
func Compute(samples []Sample, temperature float64) (*Thermo, error) {
	if temperature <= 0 {
		return nil, errors.Errorf("stats: temperature must be positive, got %g", temperature)
	}
	var z, ez, e2z float64
	for _, s := range samples {
		w := s.Mult * math.Exp(-s.Energy/temperature)
		z += w
		ez += w * s.Energy
		e2z += w * s.Energy * s.Energy
	}
	if z <= 0 {
		return nil, errors.Errorf("stats: Z=%g is non-positive", z)
	}
	e := ez / z
	e2 := e2z / z
	c := (e2 - e*e) / (temperature * temperature)
	f := -temperature * math.Log(z)
	s := (e - f) / temperature
	return &Thermo{Z: z, E: e, E2: e2, C: c, F: f, S: s}, nil
}

// FDMThermo holds the FDM-weighted thermodynamic quantities, with the
// <E^2>-<E>^2 subtraction carried out in extended precision to avoid
// cancellation when C is evaluated near T=0 (spec.md §9).
type FDMThermo struct {
	Z  float64
	E  float64
	E2 float64
	C  float64
	F  float64
	S  float64
}

// ComputeFDM evaluates the FDM thermodynamic quantities from samples
// already weighted by the per-shell wn factors (spec.md §4.6): each
// sample's Mult is expected to already fold in wn, so the sums here are
// plain accumulation, matching how densitymatrix.Compute hands off its
// extended-precision wn weights.
func ComputeFDM(samples []Sample, temperature float64) (*FDMThermo, error) {
	if temperature <= 0 {
		return nil, errors.Errorf("stats: temperature must be positive, got %g", temperature)
	}
	z := new(big.Float).SetPrec(precisionBits)
	ez := new(big.Float).SetPrec(precisionBits)
	e2z := new(big.Float).SetPrec(precisionBits)
	for _, s := range samples {
		w := new(big.Float).SetPrec(precisionBits).SetFloat64(s.Mult * math.Exp(-s.Energy/temperature))
		z.Add(z, w)
		term := new(big.Float).SetPrec(precisionBits).Mul(w, big.NewFloat(s.Energy))
		ez.Add(ez, term)
		term2 := new(big.Float).SetPrec(precisionBits).Mul(term, big.NewFloat(s.Energy))
		e2z.Add(e2z, term2)
	}
	zf, _ := z.Float64()
	if zf <= 0 {
		return nil, errors.Errorf("stats: FDM Z=%g is non-positive", zf)
	}

	e := new(big.Float).SetPrec(precisionBits).Quo(ez, z)
	e2 := new(big.Float).SetPrec(precisionBits).Quo(e2z, z)
	eSq := new(big.Float).SetPrec(precisionBits).Mul(e, e)
	variance := new(big.Float).SetPrec(precisionBits).Sub(e2, eSq)

	ef, _ := e.Float64()
	e2f, _ := e2.Float64()
	varf, _ := variance.Float64()

	c := varf / (temperature * temperature)
	f := -temperature * math.Log(zf)
	s := (ef - f) / temperature
	return &FDMThermo{Z: zf, E: ef, E2: e2f, C: c, F: f, S: s}, nil
}
