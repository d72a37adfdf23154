// Package truncate implements the Truncator: selects how many
// eigenstates of each subspace survive to the next chain step,
// honoring a degeneracy safeguard so the cut never falls inside a
// near-degenerate cluster.
package truncate

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nrgchain/nrg/diagstate"
	"github.com/nrgchain/nrg/invariant"
)

// nearEqualTol is the relative tolerance used in place of exact
// floating-point equality wherever the algorithm needs to compare two
// eigenvalues for "the same energy", mirroring the teacher's preference
// for explicit tolerances (grounded on the original implementation's
// numerics.h near-equality helpers) rather than a bit-exact compare.
const nearEqualTol = 1e-12

func nearEqual(a, b float64) bool {
	scale := 1.0
	if absf(a) > scale {
		scale = absf(a)
	}
	if absf(b) > scale {
		scale = absf(b)
	}
	return absf(a-b) <= nearEqualTol*scale
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Params bundles the Truncator's configuration inputs.
type Params struct {
	Nkeep       int
	EmaxCfg     float64
	NkeepMin    int
	EpsSg       float64
	NsgMax      int
	Unscale     float64
	IsLastStep  bool
	KeepAllLast bool
}

// Result is the outcome of Prepare: the global cutoff energy and, per
// invariant, how many of its ascending eigenvalues are kept.
type Result struct {
	Emax float64
	Kept map[invariant.Invariant]int
}

// entry is one eigenvalue tagged with which subspace it came from, used
// to rebuild the per-subspace kept count after a global sort.
type entry struct {
	value float64
	inv   invariant.Invariant
	index int
}

// Prepare runs the Truncator algorithm of spec.md §4.3 against the
// shifted eigenvalues (v_zero) of every subspace in state.
func Prepare(state *diagstate.DiagState, p Params) (*Result, error) {
	invs := state.Invariants()
	if len(invs) == 0 {
		return nil, errors.Errorf("truncate: empty diag state")
	}

	var all []entry
	for _, i := range invs {
		sp := state.Get(i)
		if sp == nil {
			continue
		}
		for k, v := range sp.VZero {
			all = append(all, entry{value: v, inv: i, index: k})
		}
	}
	if len(all) == 0 {
		return nil, errors.Errorf("truncate: no eigenvalues to truncate")
	}
	sort.Slice(all, func(a, b int) bool { return all[a].value < all[b].value })

	if !nearEqual(all[0].value, 0) {
		return nil, errors.Errorf("truncate: minimum v_zero = %g, expected 0 after ground-state subtraction", all[0].value)
	}

	nrkeep := p.Nkeep
	if p.EmaxCfg > 0 {
		cut := p.EmaxCfg * p.Unscale
		count := 0
		for _, e := range all {
			if e.value <= cut {
				count++
			}
		}
		nrkeep = count + 1
		if nrkeep < p.NkeepMin {
			nrkeep = p.NkeepMin
		}
		if nrkeep > p.Nkeep {
			nrkeep = p.Nkeep
		}
	}
	if nrkeep < 1 {
		nrkeep = 1
	}
	if nrkeep > len(all) {
		nrkeep = len(all)
	}

	// Safeguard: never cut inside a near-degenerate cluster.
	extra := 0
	for nrkeep < len(all) && extra < p.NsgMax {
		gap := all[nrkeep].value - all[nrkeep-1].value
		if gap > p.EpsSg {
			break
		}
		nrkeep++
		extra++
	}

	emax := all[nrkeep-1].value

	kept := make(map[invariant.Invariant]int, len(invs))
	for _, i := range invs {
		kept[i] = 0
	}
	for idx, e := range all {
		if idx >= nrkeep {
			break
		}
		kept[e.inv]++
	}

	if p.IsLastStep && p.KeepAllLast {
		for _, i := range invs {
			sp := state.Get(i)
			if sp != nil {
				kept[i] = sp.Computed()
			}
		}
		return &Result{Emax: emax, Kept: kept}, nil
	}

	if err := checkInsufficientStates(state, invs, kept, emax); err != nil {
		return nil, err
	}

	return &Result{Emax: emax, Kept: kept}, nil
}

// checkInsufficientStates implements spec.md §4.3 step 5: a subspace
// whose every computed eigenpair is kept, whose top eigenvalue falls
// short of the global cutoff, and whose basis dimension exceeds what
// was computed signals that more eigenpairs are needed before the cut
// can be trusted.
func checkInsufficientStates(state *diagstate.DiagState, invs []invariant.Invariant, kept map[invariant.Invariant]int, emax float64) error {
	for _, i := range invs {
		sp := state.Get(i)
		if sp == nil {
			continue
		}
		computed := sp.Computed()
		if kept[i] != computed {
			continue
		}
		if computed == 0 || computed >= sp.Dim() {
			continue
		}
		top := sp.VZero[computed-1]
		if !nearEqual(top, emax) {
			return errors.Errorf("truncate: insufficient states in subspace %s: computed=%d dim=%d top=%g emax=%g", i, computed, sp.Dim(), top, emax)
		}
	}
	return nil
}

// Apply records the prepared kept counts onto each subspace's Spectrum.
func Apply(state *diagstate.DiagState, r *Result) error {
	for i, kept := range r.Kept {
		sp := state.Get(i)
		if sp == nil {
			continue
		}
		if err := sp.Truncate(kept); err != nil {
			return errors.Wrapf(err, "truncate: invariant %s", i)
		}
	}
	return nil
}
