package invariant

import (
	"fmt"
	"testing"
)

var qsSchema = Schema{Names: []string{"Q", "SS"}, Kinds: []Kind{Additive, SU2}}

func TestComposeAdditive(t *testing.T) {
	t.Parallel()
	tests := []struct {
		anc Invariant
		op  Invariant
		c   Invariant
	}{
		{
			anc: New(qsSchema, 1, 1),
			op:  New(qsSchema, 1, 0),
			c:   New(qsSchema, 2, 1),
		},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%s", test.anc), func(t *testing.T) {
			t.Parallel()
			got := Compose(qsSchema, test.anc, test.op)
			if got.Compare(test.c) != 0 {
				t.Fatalf("%s, expected %s", got, test.c)
			}
		})
	}
}

func TestAllowedSU2TriangleAndParity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		anc     Invariant
		op      Invariant
		i       Invariant
		allowed bool
	}{
		// SS=1 (spin-1/2) combined with SS=1 operator can give SS in {0,2}.
		{anc: New(qsSchema, 0, 1), op: New(qsSchema, 0, 1), i: New(qsSchema, 0, 0), allowed: true},
		{anc: New(qsSchema, 0, 1), op: New(qsSchema, 0, 1), i: New(qsSchema, 0, 2), allowed: true},
		{anc: New(qsSchema, 0, 1), op: New(qsSchema, 0, 1), i: New(qsSchema, 0, 1), allowed: false}, // wrong parity
		{anc: New(qsSchema, 0, 1), op: New(qsSchema, 0, 1), i: New(qsSchema, 0, 4), allowed: false}, // outside triangle
		// Charge component must match exactly regardless of spin outcome.
		{anc: New(qsSchema, 1, 1), op: New(qsSchema, 1, 1), i: New(qsSchema, 3, 0), allowed: false},
		{anc: New(qsSchema, 1, 1), op: New(qsSchema, 1, 1), i: New(qsSchema, 2, 0), allowed: true},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%s+%s->%s", test.anc, test.op, test.i), func(t *testing.T) {
			t.Parallel()
			got := Allowed(qsSchema, test.anc, test.op, test.i)
			if got != test.allowed {
				t.Fatalf("%v, expected %v", got, test.allowed)
			}
		})
	}
}

func TestMultiplicity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		i    Invariant
		want int
	}{
		{i: New(qsSchema, 0, 0), want: 1},
		{i: New(qsSchema, 0, 1), want: 2},
		{i: New(qsSchema, 0, 3), want: 4},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%s", test.i), func(t *testing.T) {
			t.Parallel()
			got := Multiplicity(qsSchema, test.i)
			if got != test.want {
				t.Fatalf("%d, expected %d", got, test.want)
			}
		})
	}
}

func TestCompareOrdering(t *testing.T) {
	t.Parallel()
	a := New(qsSchema, 0, 1)
	b := New(qsSchema, 0, 3)
	c := New(qsSchema, 1, 0)
	if !Less(a, b) {
		t.Fatalf("expected %s < %s", a, b)
	}
	if !Less(b, c) {
		t.Fatalf("expected %s < %s", b, c)
	}
}
