package loctrack

import "github.com/lukaszcz/javalette/internal/ir"

// SaveLive is called at the end of every generated basic block, by the
// backend ahead of the branch it emits or by the driver for a block that
// falls through: for every variable live across the edge, it refreshes
// permanent locations, then reconciles each variable's single
// remaining location with every successor's VarsAtStart entry.
func (t *Tracker) SaveLive(b *ir.BasicBlock, successors []*ir.BasicBlock) {
	for _, v := range b.LiveAtEnd {
		t.UpdatePermanentLocations(v)
		if t.caps.FPUStack {
			t.demoteFPU(v)
		}
		// An immediate is not a transferable residency: another
		// predecessor may reach the same successor with a different
		// value, and there is no "move into a constant" to reconcile
		// with. Park the value in a real location first.
		if cur, ok := currentLoc(v); ok && cur.IsConst() {
			t.MoveToMem(v)
		}
		t.EnsureUnique(v)
		cur, ok := currentLoc(v)
		if !ok {
			continue
		}
		for _, s := range successors {
			info, tracked := s.VarsAtStart[v]
			if !tracked {
				continue
			}
			if info.Location == nil {
				// Propagation: the first generated predecessor chooses
				// the successor's entry layout.
				hint := cur
				info.Location = &hint
				continue
			}
			if info.Location.SameResidency(cur) {
				continue
			}
			// The successor's layout is already fixed (it may even be
			// generated); this path must deliver v there.
			t.SaveVarToLoc(v, *info.Location)
		}
	}
}

// demoteFPU keeps a live-out variable from depending on an x87
// position across a block boundary: the physical stack state differs
// per incoming path, so the value is parked in memory and its FPU
// residencies dropped. The stale stack entry is left in place; it gets
// popped when it surfaces during later room-making or a call spill.
func (t *Tracker) demoteFPU(v *ir.Variable) {
	hasFPU, hasOther := false, false
	for _, l := range v.Locs {
		if l.Dirty {
			continue
		}
		if l.Kind == ir.LocFPRegister {
			hasFPU = true
		} else {
			hasOther = true
		}
	}
	if !hasFPU {
		return
	}
	if !hasOther {
		t.SaveVarToLoc(v, ir.StackLoc(t.slots.Alloc(v.Size)))
	}
	kept := v.Locs[:0]
	for _, l := range v.Locs {
		if l.Kind == ir.LocFPRegister && !l.Dirty {
			if res := t.residentsOf(l); res != nil {
				removeResident(res, v)
			}
			continue
		}
		kept = append(kept, l)
	}
	v.Locs = kept
}

// currentLoc returns v's authoritative location, preferring a real
// residency (register > stack) over an immediate.
func currentLoc(v *ir.Variable) (ir.Location, bool) {
	rank := func(l ir.Location) int {
		switch l.Kind {
		case ir.LocRegister, ir.LocFPRegister:
			return 3
		case ir.LocStack:
			return 2
		default:
			return 1
		}
	}
	best := -1
	for i, l := range v.Locs {
		if l.Dirty {
			continue
		}
		if best < 0 || rank(l) > rank(v.Locs[best]) {
			best = i
		}
	}
	if best < 0 {
		return ir.Location{}, false
	}
	return v.Locs[best], true
}
