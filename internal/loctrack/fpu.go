package loctrack

import "github.com/lukaszcz/javalette/internal/ir"

// rotateFPU renumbers every FPU-register location in every resident of
// every FPU register by delta positions modulo FPURegNum, keeping
// location lists mirroring the physical stack position after a
// physical rotation.
func (t *Tracker) rotateFPU(delta int) {
	n := len(t.fpuRegs)
	if n == 0 {
		return
	}
	newRegs := make([]regEntry, n)
	for i, r := range t.fpuRegs {
		newIdx := ((i+delta)%n + n) % n
		newRegs[newIdx] = r
		for _, v := range r.residents {
			for j := range v.Locs {
				if v.Locs[j].Kind == ir.LocFPRegister && v.Locs[j].Reg == i {
					v.Locs[j].Reg = newIdx
				}
			}
		}
	}
	t.fpuRegs = newRegs
}

// RotateFPULeft ("rol_fpu") rotates the physical FPU stack left by one
// position.
func (t *Tracker) RotateFPULeft() { t.rotateFPU(-1) }

// RotateFPURight ("ror_fpu") rotates the physical FPU stack right by
// one position. RotateFPURight then RotateFPULeft is the identity.
func (t *Tracker) RotateFPURight() { t.rotateFPU(1) }

// FPUTop returns the FPU register index currently at the physical
// stack top (always 0 on an x87-style FPU).
func (t *Tracker) FPUTop() int { return 0 }

// FPUDepth returns the number of physically occupied FPU stack
// positions on an x87-style backend. The backend consults it before
// pushing to decide whether room must be made first.
func (t *Tracker) FPUDepth() int { return t.fpuDepth }

// NoteFPUPush records a physical push the backend performed directly
// (an anonymous temporary, e.g. a constant loaded for one
// instruction): every existing FPU index shifts down by one and the
// depth grows. No residency is attached to the new top.
func (t *Tracker) NoteFPUPush() {
	t.rotateFPU(1)
	t.fpuDepth++
}

// DropFPUTop records a physical pop the backend already emitted (an
// fstp to memory, or consuming the top as an instruction operand):
// the top's residencies are stripped, indices rotate back up, and the
// depth shrinks. Nothing is emitted.
func (t *Tracker) DropFPUTop() {
	t.clearFPUTop()
	t.rotateFPU(-1)
	t.fpuDepth--
}

// ClearFPUTopResidents strips every residency from the FPU stack top
// without a physical pop: the top still physically holds a value, but
// one no variable owns any more (the backend just overwrote it with an
// arithmetic result it will register separately).
func (t *Tracker) ClearFPUTopResidents() { t.clearFPUTop() }

func (t *Tracker) clearFPUTop() {
	top := ir.FPRegisterLoc(0)
	for _, v := range append([]*ir.Variable(nil), t.fpuRegs[0].residents...) {
		for i := range v.Locs {
			if v.Locs[i].SameResidency(top) {
				v.Locs = append(v.Locs[:i], v.Locs[i+1:]...)
				break
			}
		}
	}
	t.fpuRegs[0].residents = nil
}

// SwapFPU renumbers the residencies of FPU registers i and j after the
// backend emitted a physical exchange (fxch). Bookkeeping only: the
// backend drives the emission, the tracker mirrors it.
func (t *Tracker) SwapFPU(i, j int) {
	if i == j {
		return
	}
	t.fpuRegs[i], t.fpuRegs[j] = t.fpuRegs[j], t.fpuRegs[i]
	renumber := func(residents []*ir.Variable, from, to int) {
		for _, v := range residents {
			for k := range v.Locs {
				if v.Locs[k].Kind == ir.LocFPRegister && v.Locs[k].Reg == from {
					v.Locs[k].Reg = to
				}
			}
		}
	}
	renumber(t.fpuRegs[i].residents, j, i)
	renumber(t.fpuRegs[j].residents, i, j)
}

// FPULoad materializes v at the FPU stack top via the backend's load
// primitive, then records the bookkeeping location. The load is
// emitted before the index rotation so the backend renders v's source
// with pre-push register numbering; the caller is responsible for
// ensuring physical room exists (FPUDepth < FPURegNum).
func (t *Tracker) FPULoad(v *ir.Variable) {
	t.emit.GenFPULoad(v)
	t.NoteFPUPush()
	t.UpdateVarLoc(v, ir.FPRegisterLoc(0))
}

// FPUPop discards whatever is at the FPU stack top without touching
// any other variable's FPU-index mapping: the tracker first
// strips the top's own bookkeeping, then emits the pop, then the
// physical stack rotates up by one.
func (t *Tracker) FPUPop(wasFree bool) {
	t.clearFPUTop()
	t.emit.GenFPUPop(wasFree)
	t.rotateFPU(-1)
	t.fpuDepth--
}
