// Package loctrack implements the location tracker: the per-variable
// multi-location bookkeeping layer between the code generator driver
// and a target backend. It maintains, for every live variable, the set
// of physical residences backing it, enforces the permanent/dirty
// invariants, and drives spills via a Belady-style heuristic.
package loctrack

import (
	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
)

// Emitter is the narrow slice of the target backend the tracker
// itself is allowed to call: primitives that move data without
// touching tracker bookkeeping. Everything
// else about lowering a quadruple belongs to the codegen driver and
// the backend's GenCode/GenCall, not to the tracker.
type Emitter interface {
	GenMov(dest ir.Location, v *ir.Variable)
	GenSwap(l1, l2 ir.Location)
	GenFPULoad(v *ir.Variable)
	GenFPUStore(l ir.Location)
	GenFPUPop(wasFree bool)
	FPURegFree(r int)
}

// Capabilities describes a backend's scalar capabilities: register
// counts, operand sizes, and the x87-vs-flat FPU model.
type Capabilities struct {
	FPUStack   bool
	FastSwap   bool
	RegNum     int
	FPURegNum  int
	IntSize    int
	DoubleSize int
	PtrSize    int
	SPSize     int
}

// regEntry is one physical general-purpose or FPU register's resident
// set.
type regEntry struct {
	residents []*ir.Variable
	reserved  bool // denied to allocation for the current instruction
}

// Tracker is the per-function bookkeeping layer: which variables
// currently reside where, and what it costs to move them.
type Tracker struct {
	caps Capabilities
	emit Emitter

	regs    []regEntry
	fpuRegs []regEntry // index 0 is always the physical stack top

	slots *slotList

	fpuDepth int // physically occupied x87 positions (FPUStack only)

	// saving marks variables with a save in progress, so cascading
	// evictions cannot re-enter the same variable's save.
	saving map[*ir.Variable]bool

	distHint NearestUseDistance
}

// New creates a tracker for one function's code generation.
func New(caps Capabilities, emit Emitter) *Tracker {
	t := &Tracker{
		caps:    caps,
		emit:    emit,
		regs:    make([]regEntry, caps.RegNum),
		fpuRegs: make([]regEntry, caps.FPURegNum),
		slots:   newSlotList(),
		saving:  map[*ir.Variable]bool{},
	}
	return t
}

// Slots exposes the stack slot list for the backend's frame-size
// computation (end_func needs the high-water mark).
func (t *Tracker) Slots() *slotList { return t.slots }

func (t *Tracker) residentsOf(l ir.Location) *[]*ir.Variable {
	switch l.Kind {
	case ir.LocRegister:
		return &t.regs[l.Reg].residents
	case ir.LocFPRegister:
		return &t.fpuRegs[l.Reg].residents
	case ir.LocStack:
		return &l.Slot.Residents
	default:
		return nil
	}
}

func addResident(list *[]*ir.Variable, v *ir.Variable) {
	for _, x := range *list {
		if x == v {
			return
		}
	}
	*list = append(*list, v)
}

func removeResident(list *[]*ir.Variable, v *ir.Variable) {
	out := (*list)[:0]
	for _, x := range *list {
		if x != v {
			out = append(out, x)
		}
	}
	*list = out
}

// checkInvariants asserts the residency bookkeeping for one variable:
// every non-dirty location of v must list v among its residents.
func (t *Tracker) checkInvariants(v *ir.Variable) {
	for _, l := range v.Locs {
		if l.Dirty || l.IsConst() {
			continue
		}
		residents := t.residentsOf(l)
		if residents == nil {
			continue
		}
		found := false
		for _, r := range *residents {
			if r == v {
				found = true
				break
			}
		}
		diag.Assert(found, "loc-residents", "variable %s has non-dirty location not reflected in residents", v.Name)
	}
}

// UpdateVarLoc asserts that v now resides at l. If l is
// permanent it must already be present in v.Locs (its dirty bit is
// simply cleared); otherwise, if no equivalent entry already exists,
// it is inserted and v is added to l's resident set. Idempotent.
func (t *Tracker) UpdateVarLoc(v *ir.Variable, l ir.Location) {
	if existing, ok := v.HasLoc(l); ok {
		if existing.Dirty {
			for i := range v.Locs {
				if v.Locs[i].SameResidency(l) {
					v.Locs[i].Dirty = false
				}
			}
			if res := t.residentsOf(l); res != nil {
				addResident(res, v)
			}
		}
		t.checkInvariants(v)
		return
	}
	l.Dirty = false
	v.Locs = append(v.Locs, l)
	if res := t.residentsOf(l); res != nil {
		addResident(res, v)
	}
	t.checkInvariants(v)
}

// DiscardVar removes every non-permanent location from v, marks every
// permanent location dirty, and releases any FPU register that becomes
// empty as a result. On an x87-style FPU only
// the stack top can be released physically; a freed top is popped and
// every remaining FPU index rotated up by one to mirror the hardware.
func (t *Tracker) DiscardVar(v *ir.Variable) {
	popTop := false
	kept := v.Locs[:0]
	for _, l := range v.Locs {
		if l.Permanent {
			l.Dirty = true
			if res := t.residentsOf(l); res != nil {
				removeResident(res, v)
			}
			kept = append(kept, l)
			continue
		}
		if res := t.residentsOf(l); res != nil {
			removeResident(res, v)
			if l.Kind == ir.LocFPRegister && len(*res) == 0 {
				t.emit.FPURegFree(l.Reg)
				if t.caps.FPUStack && l.Reg == 0 {
					popTop = true
				}
			}
		}
	}
	v.Locs = kept
	if popTop {
		t.rotateFPU(-1)
		t.fpuDepth--
	}
	t.checkInvariants(v)
}

// BindPermanent attaches l to v as a fresh permanent, non-dirty
// location: a parameter's home slot or an array's backing storage. A
// permanent location belongs to exactly one variable; the caller
// guarantees no other variable uses l.
func (t *Tracker) BindPermanent(v *ir.Variable, l ir.Location) {
	l.Permanent = true
	l.Dirty = false
	v.Locs = append(v.Locs, l)
	if res := t.residentsOf(l); res != nil {
		addResident(res, v)
	}
	t.checkInvariants(v)
}

// FlushLoc evicts l's residents elsewhere if their value would
// otherwise be lost, then clears l's resident set. It never physically
// releases an FPU register.
func (t *Tracker) FlushLoc(l ir.Location) {
	residents := t.residentsOf(l)
	if residents == nil {
		return
	}
	for _, v := range append([]*ir.Variable(nil), *residents...) {
		if t.shouldSave(v, l) {
			t.SaveVarNotToLoc(v, l)
		}
		for i := range v.Locs {
			if v.Locs[i].SameResidency(l) {
				v.Locs = append(v.Locs[:i], v.Locs[i+1:]...)
				break
			}
		}
	}
	*residents = nil
}

// shouldSave reports whether losing l as one of v's residencies would
// leave v without any non-dirty location.
func (t *Tracker) shouldSave(v *ir.Variable, l ir.Location) bool {
	count := 0
	for _, have := range v.Locs {
		if !have.Dirty && !have.SameResidency(l) {
			count++
		}
	}
	return count == 0
}

// SaveVarToLoc forces v into l: a no-op if l already holds v,
// otherwise l is flushed, a move is emitted, and bookkeeping updated.
func (t *Tracker) SaveVarToLoc(v *ir.Variable, l ir.Location) {
	if existing, ok := v.HasLoc(l); ok && !existing.Dirty {
		return
	}
	t.FlushLoc(l)
	if l.Kind == ir.LocFPRegister {
		t.emit.GenFPULoad(v)
	} else {
		t.emit.GenMov(l, v)
	}
	t.UpdateVarLoc(v, l)
}

// CopyToVar implements COPY's bookkeeping effect: discard v, then alias every location of src (sharing
// residencies) or attach an immediate constant location. No move is
// emitted; later spills/saves resolve the aliasing.
func (t *Tracker) CopyToVar(v *ir.Variable, src ir.Operand) {
	t.DiscardVar(v)
	switch src.Kind {
	case ir.OperandVar:
		for _, l := range src.Var.Locs {
			if l.Dirty {
				continue
			}
			shared := l
			shared.Permanent = false
			v.Locs = append(v.Locs, shared)
			if res := t.residentsOf(shared); res != nil {
				addResident(res, v)
			}
		}
	case ir.OperandInt:
		v.Locs = append(v.Locs, ir.IntConstLoc(src.Int))
	case ir.OperandDouble:
		v.Locs = append(v.Locs, ir.DoubleConstLoc(src.Double))
	}
	t.checkInvariants(v)
}
