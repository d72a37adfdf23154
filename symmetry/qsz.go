package symmetry

import "github.com/nrgchain/nrg/invariant"

// NewQSZ returns the charge-and-z-spin symmetry: two additive
// components, Q and twice-Sz, matching the teacher's SymmetryQSZ
// (sym-QSZ.cc). Both components are Additive since Sz, unlike total
// spin, adds without a triangle constraint.
func NewQSZ(channels int) (*Symmetry, error) {
	schema := invariant.Schema{
		Names: []string{"Q", "SZ"},
		Kinds: []invariant.Kind{invariant.Additive, invariant.Additive},
	}
	s := &Symmetry{
		Name:              "QSZ",
		Schema:            schema,
		Flavors:           2,
		SupportedChannels: []int{1, 2},
		Singlet:           invariant.New(schema, 0, 0),
	}
	s.multiplicity = func(i invariant.Invariant) int { return invariant.Multiplicity(schema, i) }
	s.allowed = func(anc, op, i invariant.Invariant) bool { return invariant.Allowed(schema, anc, op, i) }
	s.LocalStates = []LocalState{
		{Label: invariant.New(schema, 0, 0), Flavor: -1},  // vacuum
		{Label: invariant.New(schema, 1, 1), Flavor: 0},   // singly occupied, up
		{Label: invariant.New(schema, 1, -1), Flavor: 1},  // singly occupied, down
		{Label: invariant.New(schema, 2, 0), Flavor: -1},  // doubly occupied
	}
	if err := validateChannels(s.Name, channels, s.SupportedChannels); err != nil {
		return nil, err
	}
	return s, nil
}
