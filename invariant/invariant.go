// Package invariant encodes symmetry quantum number labels (charge,
// spin, parity, ...) as small fixed-arity value types, and the
// composition/ordering rules shared by every symmetry in package
// symmetry.
package invariant

import (
	"fmt"
	"strings"
)

// MaxComponents bounds the arity of any invariant label supported by
// this package. Every symmetry shipped in package symmetry needs at
// most four components (e.g. charge, twice-spin, parity, isospin).
const MaxComponents = 4

// Kind describes how two invariant components combine when an operator
// acting on a state carries quantum number Iop: the parent label anc
// and the operator label Iop compose to the child label I.
type Kind int

const (
	// Additive components simply add: I = anc + Iop.
	Additive Kind = iota
	// Multiplicative components take values in {-1,+1} and multiply: I = anc * Iop.
	Multiplicative
	// SU2 components are twice-spin quantum numbers; composition follows
	// the SU(2) addition-of-angular-momenta rule (triangle inequality,
	// parity match) rather than simple addition.
	SU2
)

// Schema is the ordered list of component names and kinds that defines
// one symmetry's invariant label layout. It is constructed once per
// symmetry and is immutable thereafter.
type Schema struct {
	Names []string
	Kinds []Kind
}

// Arity returns the number of components in the schema.
func (s Schema) Arity() int { return len(s.Names) }

// Invariant is a fixed-arity tuple of small integers. It is a
// comparable value type so it can be used directly as a map key.
type Invariant struct {
	n int
	c [MaxComponents]int32
}

// New builds an Invariant from a schema and its component values, in
// schema order.
func New(schema Schema, vals ...int32) Invariant {
	if len(vals) != schema.Arity() {
		panic(fmt.Sprintf("invariant: got %d values, schema wants %d", len(vals), schema.Arity()))
	}
	var inv Invariant
	inv.n = len(vals)
	copy(inv.c[:], vals)
	return inv
}

// Get returns the i-th component.
func (a Invariant) Get(i int) int32 { return a.c[i] }

// Len returns the arity of a.
func (a Invariant) Len() int { return a.n }

// Compare orders two invariants lexicographically on their components.
// It defines the deterministic subspace-pair iteration order required
// by spec.md's SpectralEngine ordering guarantee.
func (a Invariant) Compare(b Invariant) int {
	n := a.n
	if b.n < n {
		n = b.n
	}
	for i := 0; i < n; i++ {
		if a.c[i] != b.c[i] {
			if a.c[i] < b.c[i] {
				return -1
			}
			return 1
		}
	}
	if a.n != b.n {
		if a.n < b.n {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether a sorts before b, for use as a sort.Slice-style
// less function.
func Less(a, b Invariant) bool { return a.Compare(b) < 0 }

// String renders an invariant as "(v0,v1,...)".
func (a Invariant) String() string {
	parts := make([]string, a.n)
	for i := 0; i < a.n; i++ {
		parts[i] = fmt.Sprintf("%d", a.c[i])
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Compose combines a parent label anc with an operator label op to
// produce the child label, applying each component's composition rule
// from the schema. Multiplicative components are combined by
// multiplication in {-1,+1}; additive and SU2 components by addition
// (SU2's triangle-inequality constraint is checked separately by
// Allowed, since composition alone is not single-valued for SU2).
func Compose(schema Schema, anc, op Invariant) Invariant {
	var out Invariant
	out.n = schema.Arity()
	for i := 0; i < out.n; i++ {
		switch schema.Kinds[i] {
		case Multiplicative:
			out.c[i] = anc.c[i] * op.c[i]
		default:
			out.c[i] = anc.c[i] + op.c[i]
		}
	}
	return out
}

// Allowed reports whether combining the ancestor label anc with an
// operator carrying quantum number op can produce the child label I,
// honoring each component's composition rule — exact match for
// Additive/Multiplicative components, and the SU(2) triangle
// inequality (|anc-op| <= I <= anc+op, same parity) for SU2 components.
// This implements spec.md's symmetry-specific triangle_allowed
// predicate generically over a component schema.
func Allowed(schema Schema, anc, op, i Invariant) bool {
	for k := 0; k < schema.Arity(); k++ {
		switch schema.Kinds[k] {
		case Multiplicative:
			if i.c[k] != anc.c[k]*op.c[k] {
				return false
			}
		case Additive:
			if i.c[k] != anc.c[k]+op.c[k] {
				return false
			}
		case SU2:
			lo := abs32(anc.c[k] - op.c[k])
			hi := anc.c[k] + op.c[k]
			if i.c[k] < lo || i.c[k] > hi {
				return false
			}
			if mod2(i.c[k]+anc.c[k]+op.c[k]) != 0 {
				return false
			}
		}
	}
	return true
}

// Multiplicity returns the symmetry-specific degeneracy of label i:
// the product, over SU2 components, of (2j+1) where j is stored as
// twice-spin; Additive/Multiplicative components contribute 1.
func Multiplicity(schema Schema, i Invariant) int {
	m := 1
	for k := 0; k < schema.Arity(); k++ {
		if schema.Kinds[k] == SU2 {
			m *= int(i.c[k]) + 1
		}
	}
	return m
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

func mod2(x int32) int32 {
	m := x % 2
	if m < 0 {
		m += 2
	}
	return m
}
