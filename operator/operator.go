// Package operator holds the sparse-by-invariant-pair, dense-by-block
// matrices that represent operators and density matrices: the
// OperatorBlocks component of spec.md.
package operator

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/invariant"
)

// Key indexes one block of an operator by the invariant labels of the
// bra and ket subspaces it connects.
type Key struct {
	I1, I2 invariant.Invariant
}

// Set is a sparse map from invariant pair to a dense block of size
// dim(I1) x dim(I2). Zero-valued (all-block-missing) is a valid empty
// Set.
type Set struct {
	blocks map[Key]*mat.CDense
}

// NewSet returns an empty block set.
func NewSet() *Set {
	return &Set{blocks: make(map[Key]*mat.CDense)}
}

// Get returns the block for (i1, i2), or nil if absent.
func (s *Set) Get(i1, i2 invariant.Invariant) *mat.CDense {
	return s.blocks[Key{i1, i2}]
}

// Set stores the block for (i1, i2), replacing any existing block.
func (s *Set) Set(i1, i2 invariant.Invariant, m *mat.CDense) {
	if s.blocks == nil {
		s.blocks = make(map[Key]*mat.CDense)
	}
	s.blocks[Key{i1, i2}] = m
}

// Delete removes the block for (i1, i2) if present.
func (s *Set) Delete(i1, i2 invariant.Invariant) {
	delete(s.blocks, Key{i1, i2})
}

// Len returns the number of stored blocks.
func (s *Set) Len() int { return len(s.blocks) }

// Keys returns the set's keys in deterministic lexicographic order on
// (I1, I2), the ordering spec.md's SpectralEngine iteration guarantee
// requires.
func (s *Set) Keys() []Key {
	keys := make([]Key, 0, len(s.blocks))
	for k := range s.blocks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if c := keys[a].I1.Compare(keys[b].I1); c != 0 {
			return c < 0
		}
		return keys[a].I2.Compare(keys[b].I2) < 0
	})
	return keys
}

// Named is a mapping from operator name to its block set, modeling the
// singlet/doublet/triplet/quadruplet named sets of spec.md §3.
type Named map[string]*Set

// Hopping is the channel x flavor array of block sets for the hopping
// operators f_{channel,flavor} of spec.md §3.
type Hopping [][]*Set

// NewHopping allocates a channels x flavors array of empty block sets.
func NewHopping(channels, flavors int) Hopping {
	h := make(Hopping, channels)
	for c := range h {
		h[c] = make([]*Set, flavors)
		for f := range h[c] {
			h[c][f] = NewSet()
		}
	}
	return h
}

func (h Hopping) Channels() int { return len(h) }
func (h Hopping) Flavors() int {
	if len(h) == 0 {
		return 0
	}
	return len(h[0])
}

// Trim returns a copy of m restricted to the first rows x cols entries,
// used when projecting an "all"-strategy recalculation down to the
// "kept" rows/columns for the next step (spec.md §4.4).
func Trim(m *mat.CDense, rows, cols int) (*mat.CDense, error) {
	r, c := m.Dims()
	if rows > r || cols > c {
		return nil, errors.Errorf("operator: trim (%d,%d) exceeds block size (%d,%d)", rows, cols, r, c)
	}
	out := mat.NewCDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	return out, nil
}
