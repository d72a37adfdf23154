// Package chain holds the Wilson chain coefficients produced by the
// (external) symbolic discretization front-end: the on-site and
// hopping energies that the MatrixBuilder needs at every step.
package chain

import "github.com/pkg/errors"

// Coefficients is a bounded, read-only, random-access table of
// per-site, per-channel chain coefficients. It is immutable after
// construction and safe for concurrent reads from every diagonalizer
// worker, matching spec.md's "Shared-resource policy".
type Coefficients struct {
	channels int
	sites    int

	zeta      [][]complex128
	xi        [][]complex128
	kappa     [][]complex128
	zetaUp    [][]complex128
	zetaDown  [][]complex128
	xiUp      [][]complex128
	xiDown    [][]complex128
	xiUpDown  [][]complex128
	xiDownUp  [][]complex128
	delta     [][]complex128
}

// New builds a Coefficients table with sites*channels zero entries for
// every coefficient kind; callers fill it in with the Set* methods.
func New(sites, channels int) *Coefficients {
	c := &Coefficients{sites: sites, channels: channels}
	alloc := func() [][]complex128 {
		t := make([][]complex128, sites)
		for i := range t {
			t[i] = make([]complex128, channels)
		}
		return t
	}
	c.zeta = alloc()
	c.xi = alloc()
	c.kappa = alloc()
	c.zetaUp = alloc()
	c.zetaDown = alloc()
	c.xiUp = alloc()
	c.xiDown = alloc()
	c.xiUpDown = alloc()
	c.xiDownUp = alloc()
	c.delta = alloc()
	return c
}

func (c *Coefficients) Sites() int    { return c.sites }
func (c *Coefficients) Channels() int { return c.channels }

func (c *Coefficients) inRange(site, ch int) bool {
	return site >= 0 && site < c.sites && ch >= 0 && ch < c.channels
}

func at(t [][]complex128, inRange bool, site, ch int) complex128 {
	if !inRange {
		return 0
	}
	return t[site][ch]
}

func set(t [][]complex128, site, ch int, v complex128) error {
	if site < 0 || site >= len(t) || ch < 0 || ch >= len(t[site]) {
		return errors.Errorf("chain: index (%d,%d) out of range", site, ch)
	}
	t[site][ch] = v
	return nil
}

// Zeta returns the on-site energy at (site, channel), or 0 if out of range.
func (c *Coefficients) Zeta(site, ch int) complex128 { return at(c.zeta, c.inRange(site, ch), site, ch) }

// Xi returns the hopping amplitude at (site, channel).
func (c *Coefficients) Xi(site, ch int) complex128 { return at(c.xi, c.inRange(site, ch), site, ch) }

// Kappa returns the anomalous (pairing) amplitude at (site, channel).
func (c *Coefficients) Kappa(site, ch int) complex128 { return at(c.kappa, c.inRange(site, ch), site, ch) }

// ZetaUp/ZetaDown are the spin-polarized on-site energies.
func (c *Coefficients) ZetaUp(site, ch int) complex128   { return at(c.zetaUp, c.inRange(site, ch), site, ch) }
func (c *Coefficients) ZetaDown(site, ch int) complex128 { return at(c.zetaDown, c.inRange(site, ch), site, ch) }

// XiUp/XiDown are the spin-polarized hopping amplitudes.
func (c *Coefficients) XiUp(site, ch int) complex128   { return at(c.xiUp, c.inRange(site, ch), site, ch) }
func (c *Coefficients) XiDown(site, ch int) complex128 { return at(c.xiDown, c.inRange(site, ch), site, ch) }

// XiUpDown/XiDownUp are the spin-flip hopping amplitudes used by
// isospin-breaking chains (see sym-U1.cc's OFFDIAG_UPDO/OFFDIAG_DOUP).
func (c *Coefficients) XiUpDown(site, ch int) complex128 { return at(c.xiUpDown, c.inRange(site, ch), site, ch) }
func (c *Coefficients) XiDownUp(site, ch int) complex128 { return at(c.xiDownUp, c.inRange(site, ch), site, ch) }

// Delta returns the isospin-breaking coefficient at (site, channel).
func (c *Coefficients) Delta(site, ch int) complex128 { return at(c.delta, c.inRange(site, ch), site, ch) }

func (c *Coefficients) SetZeta(site, ch int, v complex128) error     { return set(c.zeta, site, ch, v) }
func (c *Coefficients) SetXi(site, ch int, v complex128) error       { return set(c.xi, site, ch, v) }
func (c *Coefficients) SetKappa(site, ch int, v complex128) error    { return set(c.kappa, site, ch, v) }
func (c *Coefficients) SetZetaUp(site, ch int, v complex128) error   { return set(c.zetaUp, site, ch, v) }
func (c *Coefficients) SetZetaDown(site, ch int, v complex128) error { return set(c.zetaDown, site, ch, v) }
func (c *Coefficients) SetXiUp(site, ch int, v complex128) error     { return set(c.xiUp, site, ch, v) }
func (c *Coefficients) SetXiDown(site, ch int, v complex128) error   { return set(c.xiDown, site, ch, v) }
func (c *Coefficients) SetXiUpDown(site, ch int, v complex128) error { return set(c.xiUpDown, site, ch, v) }
func (c *Coefficients) SetXiDownUp(site, ch int, v complex128) error { return set(c.xiDownUp, site, ch, v) }
func (c *Coefficients) SetDelta(site, ch int, v complex128) error    { return set(c.delta, site, ch, v) }
