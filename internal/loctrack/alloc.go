package loctrack

import "github.com/lukaszcz/javalette/internal/ir"

// NearestUseDistance is supplied by the codegen driver: the number of
// remaining quadruples in the block until v's next use; if v is not used
// again locally, the distance to the block end when v is live out, else
// a large sentinel. Successors' recorded distances are not added.
type NearestUseDistance func(v *ir.Variable) int

// noForbidden is the sentinel "no forbidden location" value: Kind -1
// never matches any real LocKind, so SameResidency against it is
// always false.
var noForbidden = ir.Location{Kind: -1}

// SaveVar ensures v has at least one non-dirty, allowed location:
// prefer refreshing an existing permanent location of the right kind,
// otherwise choose register-vs-memory by comparing
// available register count n against the nearest-use distance d:
// register if 4+n²/2 >= d, else a new stack slot. FPU registers are
// never chosen here on an x87-style backend (they are a stack, filled
// only by the backend's own load sequencing).
func (t *Tracker) SaveVar(v *ir.Variable) {
	t.SaveVarNotToLoc(v, noForbidden)
}

// SaveVarNotToLoc is SaveVar but never chooses forbidden as the
// destination; FlushLoc uses it to relocate a resident being evicted
// from forbidden.
func (t *Tracker) SaveVarNotToLoc(v *ir.Variable, forbidden ir.Location) {
	for _, l := range v.Locs {
		if !l.Dirty && !l.SameResidency(forbidden) {
			return // already saved somewhere allowed
		}
	}
	for _, l := range v.Locs {
		if l.Permanent && !l.SameResidency(forbidden) {
			t.SaveVarToLoc(v, l)
			return
		}
	}

	// A register chosen below may evict its residents, whose saves may
	// in turn want a register; if such a cascade circles back to a
	// variable whose save is already in progress, that variable goes
	// straight to memory to cut the cycle.
	if t.saving[v] {
		t.SaveVarToLoc(v, ir.StackLoc(t.slots.Alloc(v.Size)))
		return
	}
	t.saving[v] = true
	defer delete(t.saving, v)

	// Doubles never land in general-purpose registers; on an x87-style
	// FPU they are never saved into FPU registers either (the stack is
	// managed by the backend's own load sequencing), so they go to
	// memory directly.
	if v.Category == ir.CatDouble {
		if !t.caps.FPUStack {
			n := t.freeFPURegCount(forbidden)
			d := t.distanceHint(v)
			if 4+(n*n)/2 >= d {
				if reg, ok := t.allocFPUReg(forbidden, v); ok {
					t.SaveVarToLoc(v, ir.FPRegisterLoc(reg))
					return
				}
			}
		}
		slot := t.slots.Alloc(v.Size)
		t.SaveVarToLoc(v, ir.StackLoc(slot))
		return
	}

	n := t.freeRegCount(forbidden)
	d := t.distanceHint(v)
	if 4+(n*n)/2 >= d {
		reg, ok := t.allocReg(forbidden, v)
		if ok {
			t.SaveVarToLoc(v, ir.RegisterLoc(reg))
			return
		}
	}
	slot := t.slots.Alloc(v.Size)
	t.SaveVarToLoc(v, ir.StackLoc(slot))
}

// distanceHint asks the driver's per-instruction nearest-use lookup
// (SetDistanceHint) for v's distance, falling back to a large sentinel
// when none is wired so an unknown variable is treated as cheap to spill.
func (t *Tracker) distanceHint(v *ir.Variable) int {
	if t.distHint != nil {
		return t.distHint(v)
	}
	return 1 << 20
}

// SetDistanceHint wires the driver's per-instruction nearest-use
// lookup into the tracker for SaveVar's register-vs-memory decision.
func (t *Tracker) SetDistanceHint(fn NearestUseDistance) { t.distHint = fn }

func (t *Tracker) freeRegCount(forbidden ir.Location) int {
	n := 0
	for i, r := range t.regs {
		if r.reserved {
			continue
		}
		if forbidden.Kind == ir.LocRegister && forbidden.Reg == i {
			continue
		}
		if len(r.residents) == 0 {
			n++
		}
	}
	return n
}

func (t *Tracker) freeFPURegCount(forbidden ir.Location) int {
	n := 0
	for i, r := range t.fpuRegs {
		if r.reserved {
			continue
		}
		if forbidden.Kind == ir.LocFPRegister && forbidden.Reg == i {
			continue
		}
		if len(r.residents) == 0 {
			n++
		}
	}
	return n
}

// allocFPUReg is allocReg over the flat FPU register file (never used
// on an x87-style backend, where the FPU is a stack).
func (t *Tracker) allocFPUReg(forbidden ir.Location, current *ir.Variable) (int, bool) {
	for i, r := range t.fpuRegs {
		if r.reserved || len(r.residents) != 0 {
			continue
		}
		if forbidden.Kind == ir.LocFPRegister && forbidden.Reg == i {
			continue
		}
		return i, true
	}

	best := -1
	bestScore := -1
	for i, r := range t.fpuRegs {
		if r.reserved || len(r.residents) == 0 {
			continue
		}
		if forbidden.Kind == ir.LocFPRegister && forbidden.Reg == i {
			continue
		}
		victim := t.worstResident(r.residents, current)
		if victim == nil {
			continue
		}
		score := t.distanceHint(victim)
		if hasCheapAlternate(victim, ir.FPRegisterLoc(i)) {
			score += 1 << 16
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	t.FlushLoc(ir.FPRegisterLoc(best))
	return best, true
}

// allocReg picks a free register if one exists, otherwise runs the
// Belady eviction policy: evict the allowed register whose
// resident has the farthest nearest-use distance, preferring to evict
// variables that have another non-stack residence (cheap) over those
// that would require a store. current is never evicted if that would
// remove its last residence.
func (t *Tracker) allocReg(forbidden ir.Location, current *ir.Variable) (int, bool) {
	for i, r := range t.regs {
		if r.reserved || len(r.residents) != 0 {
			continue
		}
		if forbidden.Kind == ir.LocRegister && forbidden.Reg == i {
			continue
		}
		return i, true
	}

	best := -1
	bestScore := -1
	for i, r := range t.regs {
		if r.reserved || len(r.residents) == 0 {
			continue
		}
		if forbidden.Kind == ir.LocRegister && forbidden.Reg == i {
			continue
		}
		victim := t.worstResident(r.residents, current)
		if victim == nil {
			continue
		}
		score := t.distanceHint(victim)
		if hasCheapAlternate(victim, ir.RegisterLoc(i)) {
			score += 1 << 16 // prefer evicting variables that are cheap to lose
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	t.FlushLoc(ir.RegisterLoc(best))
	return best, true
}

// worstResident returns the resident of a register with the farthest
// nearest-use distance, skipping current if evicting it would remove
// its only residence.
func (t *Tracker) worstResident(residents []*ir.Variable, current *ir.Variable) *ir.Variable {
	var worst *ir.Variable
	worstDist := -1
	for _, v := range residents {
		if v == current && len(v.NonDirtyLocs()) <= 1 {
			continue
		}
		d := t.distanceHint(v)
		if d > worstDist {
			worstDist = d
			worst = v
		}
	}
	return worst
}

func hasCheapAlternate(v *ir.Variable, excluding ir.Location) bool {
	for _, l := range v.Locs {
		if l.Dirty || l.SameResidency(excluding) {
			continue
		}
		return true
	}
	return false
}

// AllocRegFor exposes the Belady allocation path to backends: it
// returns a general-purpose register index v may be moved into,
// flushing a victim if no register is free. current is protected the
// same way allocReg protects it.
func (t *Tracker) AllocRegFor(current *ir.Variable) (int, bool) {
	return t.allocReg(noForbidden, current)
}

// AllocRegAvoiding is AllocRegFor with one register excluded.
func (t *Tracker) AllocRegAvoiding(forbidden ir.Location, current *ir.Variable) (int, bool) {
	return t.allocReg(forbidden, current)
}

// MoveToReg ensures v has a non-dirty register location, allocating one
// if necessary. Doubles and array aggregates never ride in
// general-purpose registers, so they are left alone.
func (t *Tracker) MoveToReg(v *ir.Variable) {
	if v.Category == ir.CatDouble || v.Category == ir.CatArray {
		return
	}
	for _, l := range v.Locs {
		if !l.Dirty && l.Kind == ir.LocRegister {
			return
		}
	}
	reg, ok := t.allocReg(noForbidden, v)
	if !ok {
		return
	}
	t.SaveVarToLoc(v, ir.RegisterLoc(reg))
}

// MoveToMem ensures v has a non-dirty stack location, allocating one if
// necessary.
func (t *Tracker) MoveToMem(v *ir.Variable) {
	for _, l := range v.Locs {
		if !l.Dirty && l.Kind == ir.LocStack {
			return
		}
	}
	slot := t.slots.Alloc(v.Size)
	t.SaveVarToLoc(v, ir.StackLoc(slot))
}

// EnsureUnique collapses v.Locs to the single location with the fewest
// co-residents (ties toward non-stack), evicting every other variable
// from it; v's permanent locations are kept as well. Idempotent: a
// second call with only one location left does nothing.
func (t *Tracker) EnsureUnique(v *ir.Variable) {
	best := -1
	bestCost := 1 << 30
	for i, l := range v.Locs {
		if l.Dirty {
			continue
		}
		residents := t.residentsOf(l)
		cost := 0
		if residents != nil {
			cost = len(*residents)
		}
		if l.Kind == ir.LocStack {
			cost += 1 // tie-break toward non-stack
		}
		if l.IsConst() {
			cost += 1 << 10 // a real residency always beats an immediate
		}
		if cost < bestCost {
			bestCost = cost
			best = i
		}
	}
	if best < 0 {
		return
	}
	keep := v.Locs[best]

	// Evict every co-resident from the kept location so it belongs to v
	// alone. Each evictee is relocated first; its save must neither pick
	// the kept location (forbidden) nor flush it away through a deeper
	// eviction cascade (reserved).
	if keep.Kind == ir.LocRegister {
		t.ReserveReg(keep.Reg)
	}
	if residents := t.residentsOf(keep); residents != nil {
		for _, other := range append([]*ir.Variable(nil), *residents...) {
			if other == v {
				continue
			}
			if t.shouldSave(other, keep) {
				t.SaveVarNotToLoc(other, keep)
			}
			removeResident(residents, other)
			for i := range other.Locs {
				if other.Locs[i].SameResidency(keep) {
					other.Locs = append(other.Locs[:i], other.Locs[i+1:]...)
					break
				}
			}
			t.checkInvariants(other)
		}
	}
	if keep.Kind == ir.LocRegister {
		t.ReleaseReg(keep.Reg)
	}

	// Drop v's other residencies. Only v's own entries are touched:
	// variables still resident at the abandoned locations keep them.
	kept := make([]ir.Location, 0, len(v.Locs))
	for _, l := range v.Locs {
		if l.SameResidency(keep) || l.Permanent {
			kept = append(kept, l)
			continue
		}
		if residents := t.residentsOf(l); residents != nil {
			removeResident(residents, v)
		}
	}
	v.Locs = kept
	t.checkInvariants(v)
}

// UpdatePermanentLocations refreshes every dirty permanent location of
// v back to authoritative, emitting a store for each.
func (t *Tracker) UpdatePermanentLocations(v *ir.Variable) {
	for _, l := range v.Locs {
		if l.Permanent && l.Dirty {
			t.SaveVarToLoc(v, l)
		}
	}
}

// ReserveReg denies register r to allocation for the current
// instruction, e.g. while it holds a branch operand or a value the
// tracker does not know about yet.
func (t *Tracker) ReserveReg(r int) { t.regs[r].reserved = true }

// ReleaseReg undoes ReserveReg.
func (t *Tracker) ReleaseReg(r int) { t.regs[r].reserved = false }

// Residents returns the variables currently non-dirty-resident in l,
// for backend/driver introspection (e.g. choosing a spill candidate
// outside the tracker's own Belady pass).
func (t *Tracker) Residents(l ir.Location) []*ir.Variable {
	if residents := t.residentsOf(l); residents != nil {
		return *residents
	}
	return nil
}

// Caps exposes the backend capability set the tracker was built with.
func (t *Tracker) Caps() Capabilities { return t.caps }
