package chain

import "testing"

func TestSetAndGet(t *testing.T) {
	t.Parallel()
	c := New(3, 2)
	if err := c.SetXi(1, 0, complex(0.5, 0)); err != nil {
		t.Fatalf("%+v", err)
	}
	if got := c.Xi(1, 0); got != complex(0.5, 0) {
		t.Fatalf("%v, expected 0.5", got)
	}
}

func TestOutOfRangeReadsZero(t *testing.T) {
	t.Parallel()
	c := New(2, 1)
	if got := c.Zeta(5, 0); got != 0 {
		t.Fatalf("%v, expected 0", got)
	}
	if got := c.Zeta(-1, 0); got != 0 {
		t.Fatalf("%v, expected 0", got)
	}
}

func TestSetOutOfRangeErrors(t *testing.T) {
	t.Parallel()
	c := New(2, 1)
	if err := c.SetXi(5, 0, 1); err == nil {
		t.Fatalf("expected error")
	}
}
