package symmetry

import "github.com/nrgchain/nrg/invariant"

// NewU1 returns the U(1) charge symmetry: one additive component Q,
// matching the teacher's SymmetryU1 (sym-U1.cc). Channels selects which
// of the precomputed single/two/three-channel coefficient tables this
// run will draw on; NewU1 itself carries no channel-specific data, only
// the schema and local-state basis.
func NewU1(channels int) (*Symmetry, error) {
	schema := invariant.Schema{Names: []string{"Q"}, Kinds: []invariant.Kind{invariant.Additive}}
	s := &Symmetry{
		Name:              "U1",
		Schema:            schema,
		Flavors:           2,
		SupportedChannels: []int{1, 2, 3},
		Singlet:           invariant.New(schema, 0),
	}
	s.multiplicity = func(i invariant.Invariant) int { return invariant.Multiplicity(schema, i) }
	s.allowed = func(anc, op, i invariant.Invariant) bool { return invariant.Allowed(schema, anc, op, i) }
	s.LocalStates = []LocalState{
		{Label: invariant.New(schema, 0), Flavor: -1}, // vacuum
		{Label: invariant.New(schema, 1), Flavor: 0},  // singly occupied, spin up
		{Label: invariant.New(schema, 1), Flavor: 1},  // singly occupied, spin down
		{Label: invariant.New(schema, 2), Flavor: -1}, // doubly occupied
	}
	if err := validateChannels(s.Name, channels, s.SupportedChannels); err != nil {
		return nil, err
	}
	return s, nil
}
