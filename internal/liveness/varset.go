package liveness

import (
	"github.com/google/btree"

	"github.com/lukaszcz/javalette/internal/ir"
)

// distEntry is one (variable, nearest-use-distance) pair ordered by
// the variable's stable arena id, so a VarSet both de-duplicates by
// identity and yields a stable iteration order "for free".
type distEntry struct {
	v    *ir.Variable
	dist int
}

func lessEntry(a, b distEntry) bool { return a.v.ID < b.v.ID }

// VarSet is an ordered variable -> nearest-use-distance map, backed by
// a B-tree so repeated merges stay bounded.
type VarSet struct {
	t *btree.BTreeG[distEntry]
}

// NewVarSet creates an empty ordered set.
func NewVarSet() *VarSet {
	return &VarSet{t: btree.NewG(32, lessEntry)}
}

// Get returns the recorded distance for v and whether v is present.
func (s *VarSet) Get(v *ir.Variable) (int, bool) {
	e, ok := s.t.Get(distEntry{v: v})
	return e.dist, ok
}

// Set inserts or overwrites v's distance.
func (s *VarSet) Set(v *ir.Variable, dist int) {
	s.t.ReplaceOrInsert(distEntry{v: v, dist: dist})
}

// SetMin inserts v with dist, or lowers its existing distance to dist
// if dist is smaller ("nearest" use wins when merging several
// predecessors/successors).
func (s *VarSet) SetMin(v *ir.Variable, dist int) {
	if cur, ok := s.Get(v); ok && cur <= dist {
		return
	}
	s.Set(v, dist)
}

// Delete removes v, reporting whether it was present.
func (s *VarSet) Delete(v *ir.Variable) bool {
	_, ok := s.t.Delete(distEntry{v: v})
	return ok
}

// Has reports whether v is present.
func (s *VarSet) Has(v *ir.Variable) bool {
	_, ok := s.t.Get(distEntry{v: v})
	return ok
}

// Len returns the number of entries.
func (s *VarSet) Len() int { return s.t.Len() }

// Range calls fn for every (variable, distance) pair in ascending
// variable-id order, stopping early if fn returns false.
func (s *VarSet) Range(fn func(v *ir.Variable, dist int) bool) {
	s.t.Ascend(func(e distEntry) bool { return fn(e.v, e.dist) })
}

// Clone returns an independent copy of s.
func (s *VarSet) Clone() *VarSet {
	return &VarSet{t: s.t.Clone()}
}

// Equal reports whether s and other hold the same variables with the
// same distances; used to detect the liveness fixpoint.
func (s *VarSet) Equal(other *VarSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	eq := true
	s.Range(func(v *ir.Variable, dist int) bool {
		od, ok := other.Get(v)
		if !ok || od != dist {
			eq = false
			return false
		}
		return true
	})
	return eq
}
