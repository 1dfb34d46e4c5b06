package x86

import (
	"fmt"

	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/loctrack"
	"github.com/lukaszcz/javalette/internal/outbuf"
)

// GenCode lowers one quadruple. COPY, PARAM and CALL never reach the
// backend (the driver intercepts them); everything else lands here.
func (b *Backend) GenCode(t *loctrack.Tracker, q *ir.Quadruple) {
	b.t = t
	switch q.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul:
		if isDoubleQuad(q) {
			b.genDoubleArith(q)
		} else {
			b.genIntArith(q)
		}
	case ir.OpDiv:
		if isDoubleQuad(q) {
			b.genDoubleArith(q)
		} else {
			b.genIntDivMod(q)
		}
	case ir.OpMod:
		b.genIntDivMod(q)
	case ir.OpReadPtr:
		b.genReadPtr(q)
	case ir.OpWritePtr:
		b.genWritePtr(q)
	case ir.OpGetAddr:
		b.genGetAddr(q)
	case ir.OpGoto:
		b.saveLiveForBranch(q)
		b.ins("jmp %s", blockLabel(q.Arg1.Label))
	case ir.OpReturn:
		b.genReturn(q)
	default:
		if q.Op.IsRelational() {
			if operandIsDouble(q.Arg1) || operandIsDouble(q.Arg2) {
				b.genDoubleCompare(q)
			} else {
				b.genIntCompare(q)
			}
			break
		}
		diag.Fail("x86-op", "unsupported opcode %v", q.Op)
	}
	b.discardDeadArgs(q)
}

func isDoubleQuad(q *ir.Quadruple) bool {
	return q.Result.Kind == ir.OperandVar && q.Result.Var.Category == ir.CatDouble
}

func operandIsDouble(o ir.Operand) bool {
	if o.Kind == ir.OperandDouble {
		return true
	}
	return o.Kind == ir.OperandVar && o.Var.Category == ir.CatDouble
}

// discardDeadArgs drops tracking for any variable operand whose
// recorded liveness says it dies at this quadruple, freeing its
// registers and slots immediately.
func (b *Backend) discardDeadArgs(q *ir.Quadruple) {
	if q.Arg1.Kind == ir.OperandVar && !q.Arg1Live {
		b.t.DiscardVar(q.Arg1.Var)
	}
	if q.Arg2.Kind == ir.OperandVar && !q.Arg2Live {
		b.t.DiscardVar(q.Arg2.Var)
	}
	if q.Op == ir.OpWritePtr && q.Result.Kind == ir.OperandVar && !q.ResultLive {
		b.t.DiscardVar(q.Result.Var)
	}
}

// intSrcText renders an integer operand: an immediate, a register, or
// a frame reference.
func (b *Backend) intSrcText(o ir.Operand) string {
	switch o.Kind {
	case ir.OperandInt:
		return b.locText(ir.IntConstLoc(o.Int))
	case ir.OperandVar:
		return b.locText(b.FindBestSrcLoc(o.Var))
	default:
		diag.Fail("x86-src", "unsupported integer operand kind %d", o.Kind)
		return ""
	}
}

// reserveOperandRegs marks every register currently backing one of q's
// variable operands as untouchable for the duration of the lowering
// (operands count as live while their quadruple is lowered) and
// returns the release function.
func (b *Backend) reserveOperandRegs(q *ir.Quadruple) func() {
	var held []int
	hold := func(o ir.Operand) {
		if o.Kind != ir.OperandVar {
			return
		}
		for _, l := range o.Var.Locs {
			if !l.Dirty && l.Kind == ir.LocRegister {
				b.t.ReserveReg(l.Reg)
				held = append(held, l.Reg)
			}
		}
	}
	hold(q.Arg1)
	hold(q.Arg2)
	if q.Op == ir.OpWritePtr {
		hold(q.Result)
	}
	return func() {
		for _, r := range held {
			b.t.ReleaseReg(r)
		}
	}
}

// destReg picks the register that will receive a freshly computed
// integer value, flushing a victim when none is free.
func (b *Backend) destReg(current *ir.Variable) int {
	r, ok := b.t.AllocRegFor(current)
	if ok {
		return r
	}
	// Every register is reserved or protected; fall back to flushing
	// the first unreserved one.
	for i := 0; i < regNum; i++ {
		l := ir.RegisterLoc(i)
		b.t.FlushLoc(l)
		if len(b.t.Residents(l)) == 0 {
			return i
		}
	}
	diag.Fail("x86-reg", "no general-purpose register available")
	return 0
}

// genIntArith lowers integer ADD/SUB/MUL into two-operand register
// forms: the first operand is moved into the destination register,
// then the operation folds in the second.
func (b *Backend) genIntArith(q *ir.Quadruple) {
	t := b.t
	release := b.reserveOperandRegs(q)

	aText := b.intSrcText(q.Arg1)
	bText := b.intSrcText(q.Arg2)

	r := b.destReg(nil)
	if aText != regNames[r] {
		b.ins("mov %s, %s", regNames[r], aText)
	}

	switch q.Op {
	case ir.OpAdd:
		b.ins("add %s, %s", regNames[r], bText)
	case ir.OpSub:
		b.ins("sub %s, %s", regNames[r], bText)
	case ir.OpMul:
		if q.Arg2.Kind == ir.OperandInt {
			b.ins("imul %s, %s, %d", regNames[r], regNames[r], q.Arg2.Int)
		} else {
			b.ins("imul %s, %s", regNames[r], bText)
		}
	}
	release()

	res := q.Result.Var
	t.DiscardVar(res)
	t.UpdateVarLoc(res, ir.RegisterLoc(r))
}

// genIntDivMod lowers integer DIV/MOD. The general form uses the
// two-register divide with eax as dividend and edx holding the
// remainder; a constant divisor whose magnitude is a power of two
// greater than one becomes the bias-corrected shift sequence, with the
// quotient negated when the divisor is negative. Any other constant
// divisor, negative or not, goes through idiv via a scratch register.
func (b *Backend) genIntDivMod(q *ir.Quadruple) {
	if q.Arg2.Kind == ir.OperandInt {
		c := q.Arg2.Int
		mag := c
		if mag < 0 {
			mag = -mag
		}
		if k := log2(mag); k >= 0 && mag > 1 {
			b.genDivModPow2(q, c, mag, k)
			return
		}
	}
	t := b.t
	release := b.reserveOperandRegs(q)

	aText := b.intSrcText(q.Arg1)

	// Reserve before flushing so a resident displaced from one of the
	// two cannot be relocated into the other.
	t.ReserveReg(regEAX)
	t.ReserveReg(regEDX)
	t.FlushLoc(ir.RegisterLoc(regEAX))
	t.FlushLoc(ir.RegisterLoc(regEDX))

	if aText != regNames[regEAX] {
		b.ins("mov %s, %s", regNames[regEAX], aText)
	}
	b.ins("cdq")

	// idiv takes no immediate operand.
	divText := b.intSrcText(q.Arg2)
	if q.Arg2.Kind == ir.OperandInt {
		scratch := b.destReg(nil)
		b.ins("mov %s, %d", regNames[scratch], q.Arg2.Int)
		divText = regNames[scratch]
	}
	b.ins("idiv %s", divText)

	t.ReleaseReg(regEAX)
	t.ReleaseReg(regEDX)
	release()

	res := q.Result.Var
	t.DiscardVar(res)
	if q.Op == ir.OpDiv {
		t.UpdateVarLoc(res, ir.RegisterLoc(regEAX))
	} else {
		t.UpdateVarLoc(res, ir.RegisterLoc(regEDX))
	}
}

// genDivModPow2 divides by ±2^k without idiv: the dividend is biased
// by (2^k - 1) when negative so the arithmetic shift rounds toward
// zero, and a negative divisor negates the quotient afterward.
func (b *Backend) genDivModPow2(q *ir.Quadruple, c, mag int64, k int) {
	t := b.t
	release := b.reserveOperandRegs(q)

	aText := b.intSrcText(q.Arg1)
	r := b.destReg(nil)
	if aText != regNames[r] {
		b.ins("mov %s, %s", regNames[r], aText)
	}
	t.ReserveReg(r)
	rt := b.destReg(nil)
	t.ReleaseReg(r)

	b.ins("mov %s, %s", regNames[rt], regNames[r])
	b.ins("sar %s, 31", regNames[rt])
	b.ins("and %s, %d", regNames[rt], mag-1)
	b.ins("add %s, %s", regNames[r], regNames[rt])
	if q.Op == ir.OpDiv {
		b.ins("sar %s, %d", regNames[r], k)
		if c < 0 {
			b.ins("neg %s", regNames[r])
		}
	} else {
		// x mod 2^k = x - (x div 2^k)*2^k; the biased value already in
		// r makes that a mask-and-subtract. The remainder follows the
		// dividend's sign, so a negative divisor changes nothing.
		b.ins("and %s, %d", regNames[r], ^(mag - 1))
		b.ins("neg %s", regNames[r])
		b.ins("add %s, %s", regNames[r], b.intSrcText(q.Arg1))
	}
	release()

	res := q.Result.Var
	t.DiscardVar(res)
	t.UpdateVarLoc(res, ir.RegisterLoc(r))
}

func log2(n int64) int {
	if n <= 0 || n&(n-1) != 0 {
		return -1
	}
	k := 0
	for n > 1 {
		n >>= 1
		k++
	}
	return k
}

// genIntCompare lowers an integer IF_*: cmp, reconcile live-out
// variables (moves do not disturb eflags), then the conditional jump.
// An immediate first operand swaps the compare and mirrors the
// condition.
func (b *Backend) genIntCompare(q *ir.Quadruple) {
	release := b.reserveOperandRegs(q)
	aText := b.intSrcText(q.Arg1)
	bText := b.intSrcText(q.Arg2)

	op := q.Op
	if q.Arg1.Kind == ir.OperandInt && q.Arg2.Kind == ir.OperandVar {
		aText, bText = bText, aText
		op = mirrorRel(op)
	} else if q.Arg1.Kind == ir.OperandInt {
		// Both constant: materialize the first.
		r := b.destReg(nil)
		b.ins("mov %s, %s", regNames[r], aText)
		aText = regNames[r]
	}
	if isMemRef(aText) && isMemRef(bText) {
		r := b.destReg(nil)
		b.ins("mov %s, %s", regNames[r], aText)
		aText = regNames[r]
	}
	b.ins("cmp %s, %s", aText, bText)
	release()

	b.saveLiveForBranch(q)
	b.ins("%s %s", intJcc(op), blockLabel(q.Result.Label))
}

func isMemRef(s string) bool {
	return len(s) > 0 && (s[0] == 'd' || s[0] == 'q') // dword/qword [..]
}

func mirrorRel(op ir.Op) ir.Op {
	switch op {
	case ir.OpIfLt:
		return ir.OpIfGt
	case ir.OpIfGt:
		return ir.OpIfLt
	case ir.OpIfLe:
		return ir.OpIfGe
	case ir.OpIfGe:
		return ir.OpIfLe
	default:
		return op
	}
}

func intJcc(op ir.Op) string {
	switch op {
	case ir.OpIfEq:
		return "je"
	case ir.OpIfNe:
		return "jne"
	case ir.OpIfLt:
		return "jl"
	case ir.OpIfGt:
		return "jg"
	case ir.OpIfLe:
		return "jle"
	case ir.OpIfGe:
		return "jge"
	default:
		diag.Fail("x86-jcc", "not a relational opcode: %v", op)
		return ""
	}
}

// saveLiveForBranch reconciles every live-out
// variable with the successors' expected layouts before the branch
// instruction is emitted. The x87 stack is drained first so every
// outgoing path leaves the block with the same physical FPU state;
// only mov/fst sequences follow, none of which touch eflags.
func (b *Backend) saveLiveForBranch(q *ir.Quadruple) {
	b.spillFPU()
	blk := q.Block()
	if blk == nil {
		return
	}
	var succ []*ir.BasicBlock
	if blk.Child1 != nil {
		succ = append(succ, blk.Child1)
	}
	if blk.Child2 != nil && blk.Child2 != blk.Child1 {
		succ = append(succ, blk.Child2)
	}
	b.t.SaveLive(blk, succ)
}

// genReturn places the return value (eax for integers, st0 for
// doubles), drains any stale x87 contents, and emits the deferred
// epilogue token.
func (b *Backend) genReturn(q *ir.Quadruple) {
	t := b.t
	b.saveLiveForBranch(q)

	if q.Arg1.Kind != ir.OperandNone && operandIsDouble(q.Arg1) {
		// Park the value in memory first so draining the stack cannot
		// lose it, then reload it as the single remaining entry.
		var src ir.Operand = q.Arg1
		if src.Kind == ir.OperandVar {
			t.SaveVarNotToLoc(src.Var, ir.FPRegisterLoc(0))
		}
		b.spillFPU()
		b.pushFPUOperand(src)
		b.ins(outbuf.EpilogueToken)
		t.DropFPUTop()
		return
	}

	b.spillFPU()
	if q.Arg1.Kind != ir.OperandNone {
		text := b.intSrcText(q.Arg1)
		if text != regNames[regEAX] {
			b.ins("mov %s, %s", regNames[regEAX], text)
		}
	}
	b.ins(outbuf.EpilogueToken)
}

// ptrReg materializes a pointer operand in a register.
func (b *Backend) ptrReg(o ir.Operand) int {
	v := o.Var
	for _, l := range v.Locs {
		if !l.Dirty && l.Kind == ir.LocRegister {
			return l.Reg
		}
	}
	r := b.destReg(v)
	b.ins("mov %s, %s", regNames[r], b.locText(b.FindBestSrcLoc(v)))
	b.t.UpdateVarLoc(v, ir.RegisterLoc(r))
	return r
}

// genGetAddr computes the address of an array element. A local array
// lives in the frame, so the address is one lea off ebp; an array
// parameter holds a pointer that is indexed indirectly.
func (b *Backend) genGetAddr(q *ir.Quadruple) {
	t := b.t
	release := b.reserveOperandRegs(q)

	arr := q.Arg1.Var
	elemSize := 4
	if arr.ArrayElemCat == ir.CatDouble {
		elemSize = 8
	}

	var idxText string
	idxReg := -1
	switch q.Arg2.Kind {
	case ir.OperandInt:
		idxText = ""
	case ir.OperandVar:
		idxReg = b.ptrReg(q.Arg2) // the index must be in a register for scaling
		idxText = regNames[idxReg]
		t.ReserveReg(idxReg)
	default:
		diag.Fail("x86-addr", "unsupported array index operand")
	}

	if arr.IsParam {
		base := b.ptrReg(q.Arg1)
		t.ReserveReg(base)
		r := b.destReg(nil)
		t.ReleaseReg(base)
		if idxText == "" {
			b.ins("lea %s, [%s+%d]", regNames[r], regNames[base], q.Arg2.Int*int64(elemSize))
		} else {
			b.ins("lea %s, [%s+%s*%d]", regNames[r], regNames[base], idxText, elemSize)
		}
		b.finishGetAddr(q, r, release, idxReg)
		return
	}
	slot := arrayHomeSlot(arr)
	tok := outbuf.FPToken(slotDisp(slot))
	r := b.destReg(nil)
	if idxText == "" {
		b.ins("lea %s, [%s+%d]", regNames[r], tok, q.Arg2.Int*int64(elemSize))
	} else {
		b.ins("lea %s, [%s+%s*%d]", regNames[r], tok, idxText, elemSize)
	}
	b.finishGetAddr(q, r, release, idxReg)
}

func (b *Backend) finishGetAddr(q *ir.Quadruple, r int, release func(), idxReg int) {
	t := b.t
	if idxReg >= 0 {
		t.ReleaseReg(idxReg)
	}
	release()

	res := q.Result.Var
	t.DiscardVar(res)
	t.UpdateVarLoc(res, ir.RegisterLoc(r))
}

func arrayHomeSlot(arr *ir.Variable) *ir.StackSlot {
	for _, l := range arr.Locs {
		if l.Kind == ir.LocStack && l.Permanent {
			return l.Slot
		}
	}
	diag.Fail("x86-arr", "array %q has no backing slot", arr.Name)
	return nil
}

// genReadPtr loads through a pointer: result := [ptr].
func (b *Backend) genReadPtr(q *ir.Quadruple) {
	t := b.t
	release := b.reserveOperandRegs(q)
	pr := b.ptrReg(q.Arg1)
	res := q.Result.Var

	if res.Category == ir.CatDouble {
		b.makeFPURoom()
		b.needFPU()
		b.ins("fld qword [%s]", regNames[pr])
		release()
		t.DiscardVar(res)
		t.NoteFPUPush()
		t.UpdateVarLoc(res, ir.FPRegisterLoc(0))
		return
	}

	t.ReserveReg(pr)
	r := b.destReg(nil)
	t.ReleaseReg(pr)
	b.ins("mov %s, dword [%s]", regNames[r], regNames[pr])
	release()
	t.DiscardVar(res)
	t.FlushLoc(ir.RegisterLoc(r))
	t.UpdateVarLoc(res, ir.RegisterLoc(r))
}

// genWritePtr stores through a pointer: [ptr + off] := value. The base
// pointer travels in Result.
func (b *Backend) genWritePtr(q *ir.Quadruple) {
	release := b.reserveOperandRegs(q)
	pr := b.ptrReg(q.Result)

	off := int64(0)
	if q.Arg1.Kind == ir.OperandInt {
		off = q.Arg1.Int
	}
	ref := refWithOffset(regNames[pr], off)

	if operandIsDouble(q.Arg2) {
		b.pushFPUOperand(q.Arg2)
		b.ins("fstp qword [%s]", ref)
		b.t.DropFPUTop()
		release()
		return
	}
	switch q.Arg2.Kind {
	case ir.OperandInt:
		b.ins("mov dword [%s], %d", ref, q.Arg2.Int)
	case ir.OperandVar:
		text := b.intSrcText(q.Arg2)
		if isMemRef(text) {
			b.t.ReserveReg(pr)
			r := b.destReg(nil)
			b.t.ReleaseReg(pr)
			b.ins("mov %s, %s", regNames[r], text)
			text = regNames[r]
		}
		b.ins("mov dword [%s], %s", ref, text)
	default:
		diag.Fail("x86-wptr", "unsupported store value operand")
	}
	release()
}

func refWithOffset(base string, off int64) string {
	if off == 0 {
		return base
	}
	return fmt.Sprintf("%s%+d", base, off)
}
