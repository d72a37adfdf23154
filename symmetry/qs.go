package symmetry

import "github.com/nrgchain/nrg/invariant"

// NewQS returns the charge-and-total-spin symmetry: an additive charge
// component Q and an SU(2) twice-spin component SS, matching the
// teacher's higher-symmetry variants (sym-ISOSZ.cc's isospin component
// uses the same SU2 composition rule QS applies to spin). The local
// basis is the single-channel spin-1/2 orbital's three multiplets:
// empty and doubly-occupied singlets, and the singly-occupied doublet.
func NewQS(channels int) (*Symmetry, error) {
	schema := invariant.Schema{
		Names: []string{"Q", "SS"},
		Kinds: []invariant.Kind{invariant.Additive, invariant.SU2},
	}
	s := &Symmetry{
		Name:              "QS",
		Schema:            schema,
		Flavors:           1,
		SupportedChannels: []int{1, 2, 3},
		Singlet:           invariant.New(schema, 0, 0),
	}
	s.multiplicity = func(i invariant.Invariant) int { return invariant.Multiplicity(schema, i) }
	s.allowed = func(anc, op, i invariant.Invariant) bool { return invariant.Allowed(schema, anc, op, i) }
	s.LocalStates = []LocalState{
		{Label: invariant.New(schema, 0, 0), Flavor: -1}, // vacuum, singlet
		{Label: invariant.New(schema, 1, 1), Flavor: 0},  // singly occupied, doublet
		{Label: invariant.New(schema, 2, 0), Flavor: -1}, // doubly occupied, singlet
	}
	if err := validateChannels(s.Name, channels, s.SupportedChannels); err != nil {
		return nil, err
	}
	return s, nil
}
