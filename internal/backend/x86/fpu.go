package x86

import (
	"fmt"

	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/outbuf"
)

// finit is emitted lazily the first time a function touches the FPU.
func (b *Backend) needFPU() {
	if !b.finitDone {
		b.ins("finit")
		b.finitDone = true
	}
}

// fpuLoadConst pushes a double constant, preferring the dedicated
// x87 load instructions for 0.0 and 1.0 over a pool reference.
func (b *Backend) fpuLoadConst(val float64) {
	b.needFPU()
	switch val {
	case 0:
		b.ins("fldz")
	case 1:
		b.ins("fld1")
	default:
		b.ins("fld qword [%s]", b.doubleLabel(val))
	}
}

// GenFPULoad pushes v onto the x87 stack from its best current
// location. Called by the tracker before it rotates its indices, so an
// FPU-register source is rendered with pre-push numbering. Emission
// only; the tracker owns the bookkeeping.
func (b *Backend) GenFPULoad(v *ir.Variable) {
	b.needFPU()
	src, ok := bestSrc(v)
	if !ok {
		diag.Fail("x86-fld", "FPU load of variable %q with no readable location", v.Name)
	}
	switch src.Kind {
	case ir.LocFPRegister:
		b.ins("fld st%d", src.Reg)
	case ir.LocStack:
		b.ins("fld qword [%s]", outbuf.FPToken(slotDisp(src.Slot)))
	case ir.LocDoubleConst:
		b.fpuLoadConst(src.DoubleVal)
	case ir.LocIntConst:
		b.fpuLoadConst(float64(src.IntVal))
	default:
		diag.Fail("x86-fld", "unsupported FPU load source kind %d", src.Kind)
	}
}

// GenFPUStore stores the stack top without popping.
func (b *Backend) GenFPUStore(l ir.Location) {
	switch l.Kind {
	case ir.LocStack:
		b.ins("fst qword [%s]", outbuf.FPToken(slotDisp(l.Slot)))
	case ir.LocFPRegister:
		b.ins("fst st%d", l.Reg)
	default:
		diag.Fail("x86-fst", "unsupported FPU store destination kind %d", l.Kind)
	}
}

// GenFPUPop discards the stack top: a plain pop when it held a value,
// a tag-only release when it was already free.
func (b *Backend) GenFPUPop(wasFree bool) {
	if wasFree {
		b.ins("ffree st0")
		b.ins("fincstp")
		return
	}
	b.ins("fstp st0")
}

// FPURegFree physically releases an FPU register that lost its last
// resident. Only the stack top can be popped on x87; a freed inner
// position stays occupied until pops above it surface it.
func (b *Backend) FPURegFree(r int) {
	if r == 0 {
		b.ins("fstp st0")
	}
}

// makeFPURoom guarantees one free x87 position, spilling a victim when
// the stack is physically full: the first resident of the deepest
// occupied position is exchanged to the top, stored to memory, and
// popped. Next-use distance plays no part in the choice.
func (b *Backend) makeFPURoom() {
	t := b.t
	if t.FPUDepth() < fpuRegNum {
		return
	}
	victim := 0
	victimVar := (*ir.Variable)(nil)
	for i := fpuRegNum - 1; i >= 0; i-- {
		res := t.Residents(ir.FPRegisterLoc(i))
		if len(res) > 0 {
			victim = i
			victimVar = res[0]
			break
		}
	}
	if victim != 0 {
		b.ins("fxch st%d", victim)
		t.SwapFPU(0, victim)
	}
	if victimVar != nil {
		slot := t.Slots().Alloc(victimVar.Size)
		b.ins("fstp qword [%s]", outbuf.FPToken(slotDisp(slot)))
		t.UpdateVarLoc(victimVar, ir.StackLoc(slot))
		t.DropFPUTop()
		return
	}
	b.ins("fstp st0")
	t.DropFPUTop()
}

// pushFPUOperand pushes o's value onto the x87 stack: variables go
// through the tracker's load path (so the copy is registered at the
// top), constants are pushed anonymously with only the physical depth
// noted.
func (b *Backend) pushFPUOperand(o ir.Operand) {
	b.makeFPURoom()
	switch o.Kind {
	case ir.OperandVar:
		b.t.FPULoad(o.Var)
	case ir.OperandDouble:
		b.fpuLoadConst(o.Double)
		b.t.NoteFPUPush()
	case ir.OperandInt:
		b.fpuLoadConst(float64(o.Int))
		b.t.NoteFPUPush()
	default:
		diag.Fail("x86-fpush", "unsupported FPU operand kind %d", o.Kind)
	}
}

// fpuSrcText renders o as an x87 arithmetic source operand: an FPU
// position, a memory reference, or a pooled constant.
func (b *Backend) fpuSrcText(o ir.Operand) string {
	switch o.Kind {
	case ir.OperandVar:
		src := b.FindBestSrcLoc(o.Var)
		switch src.Kind {
		case ir.LocFPRegister:
			return fmt.Sprintf("st0, st%d", src.Reg)
		case ir.LocStack:
			return fmt.Sprintf("qword [%s]", outbuf.FPToken(slotDisp(src.Slot)))
		case ir.LocDoubleConst:
			return fmt.Sprintf("qword [%s]", b.doubleLabel(src.DoubleVal))
		}
	case ir.OperandDouble:
		return fmt.Sprintf("qword [%s]", b.doubleLabel(o.Double))
	case ir.OperandInt:
		return fmt.Sprintf("qword [%s]", b.doubleLabel(float64(o.Int)))
	}
	diag.Fail("x86-fsrc", "unsupported FPU source operand")
	return ""
}

// genDoubleArith lowers a double ADD/SUB/MUL/DIV: push arg1, fold in
// arg2, then hand the top to the result variable.
func (b *Backend) genDoubleArith(q *ir.Quadruple) {
	t := b.t
	b.needFPU()
	b.pushFPUOperand(q.Arg1)

	mn := map[ir.Op]string{
		ir.OpAdd: "fadd",
		ir.OpSub: "fsub",
		ir.OpMul: "fmul",
		ir.OpDiv: "fdiv",
	}[q.Op]
	b.ins("%s %s", mn, b.fpuSrcText(q.Arg2))

	// The pushed copy of arg1 was consumed by the arithmetic; st0 now
	// belongs to the result.
	t.ClearFPUTopResidents()
	res := q.Result.Var
	t.DiscardVar(res)
	t.UpdateVarLoc(res, ir.FPRegisterLoc(0))
}

// genDoubleCompare lowers an IF_* over doubles: arg1 is pushed, the
// compare runs against arg2, the pushed copy is dropped, live-out
// variables are reconciled, and finally the branch is emitted. x87
// flags map onto the unsigned integer conditions.
func (b *Backend) genDoubleCompare(q *ir.Quadruple) {
	t := b.t
	b.needFPU()
	b.pushFPUOperand(q.Arg1)

	useFcomi := false
	if b.opts.PentiumPro {
		if q.Arg2.Kind == ir.OperandVar {
			if src, ok := bestSrc(q.Arg2.Var); ok && src.Kind == ir.LocFPRegister {
				b.ins("fcomi st0, st%d", src.Reg)
				useFcomi = true
			}
		}
	}
	if !useFcomi {
		b.ins("fcom %s", b.fpuSrcText(q.Arg2))
		t.ReserveReg(regEAX)
		t.FlushLoc(ir.RegisterLoc(regEAX))
		b.ins("fstsw ax")
		b.ins("sahf")
		t.ReleaseReg(regEAX)
	}

	// fstp does not touch eflags, so the pushed copy can be dropped
	// between the compare and the jump.
	b.ins("fstp st0")
	t.DropFPUTop()

	b.saveLiveForBranch(q)
	b.ins("%s %s", doubleJcc(q.Op), blockLabel(q.Result.Label))
}

// doubleJcc maps a relational opcode to the branch used after an x87
// compare of arg1 (on top) against arg2: C0/C3 land in CF/ZF, so the
// unsigned conditions apply.
func doubleJcc(op ir.Op) string {
	switch op {
	case ir.OpIfEq:
		return "je"
	case ir.OpIfNe:
		return "jne"
	case ir.OpIfLt:
		return "jb"
	case ir.OpIfGt:
		return "ja"
	case ir.OpIfLe:
		return "jbe"
	case ir.OpIfGe:
		return "jae"
	default:
		diag.Fail("x86-jcc", "not a relational opcode: %v", op)
		return ""
	}
}

// spillFPU empties the physical x87 stack, saving any live resident to
// memory first. Calls require this: the callee owns the whole stack.
func (b *Backend) spillFPU() {
	t := b.t
	for t.FPUDepth() > 0 {
		res := t.Residents(ir.FPRegisterLoc(0))
		if len(res) > 0 {
			for _, v := range append([]*ir.Variable(nil), res...) {
				t.SaveVarNotToLoc(v, ir.FPRegisterLoc(0))
			}
			t.FPUPop(false)
			continue
		}
		t.FPUPop(false)
	}
}
