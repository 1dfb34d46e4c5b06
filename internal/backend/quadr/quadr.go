// Package quadr is the portable quadruple-text-dump backend: it
// exercises the same location-tracking pipeline as a real
// backend (registers, stack slots, FPU-less floating registers) but
// every gen_* hook renders one line of human-readable three-address
// text instead of machine code.
package quadr

import (
	"fmt"
	"io"
	"strings"

	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/loctrack"
)

const (
	intRegNum    = 6
	doubleRegNum = 6
)

// Backend implements codegen.Backend by accumulating text lines.
type Backend struct {
	lines []string
	caps  loctrack.Capabilities
	t     *loctrack.Tracker // set by StartFunc, used by the FindBest*Loc queries
}

// New creates a quadr backend with a flat (non-x87) register model: the
// text format has no use for a stack-style FPU, so FPURegNum registers
// are addressed directly like general-purpose ones.
func New() *Backend {
	return &Backend{
		caps: loctrack.Capabilities{
			RegNum:     intRegNum,
			FPURegNum:  doubleRegNum,
			FPUStack:   false,
			FastSwap:   true,
			IntSize:    4,
			DoubleSize: 8,
			PtrSize:    4,
			SPSize:     4,
		},
	}
}

func (b *Backend) Caps() loctrack.Capabilities { return b.caps }

func (b *Backend) line(format string, args ...interface{}) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *Backend) Init() {}

// Final writes every accumulated line to w, one per line.
func (b *Backend) Final(w io.Writer) {
	io.WriteString(w, strings.Join(b.lines, "\n"))
	if len(b.lines) > 0 {
		io.WriteString(w, "\n")
	}
}

// StartFunc emits the "function NAME : t1 -> ... :" header
// and seeds parameter locations: the first RegNum/FPURegNum of each
// kind land in registers, the rest spill straight to stack slots.
func (b *Backend) StartFunc(fn *ir.Function, t *loctrack.Tracker) {
	b.t = t
	b.line("function %s : %s :", fn.Name, signature(fn))

	intIdx, dblIdx := 0, 0
	for _, p := range fn.Params() {
		if p.Category == ir.CatDouble {
			if dblIdx < doubleRegNum {
				t.UpdateVarLoc(p, ir.FPRegisterLoc(dblIdx))
				dblIdx++
				continue
			}
		} else {
			if intIdx < intRegNum {
				t.UpdateVarLoc(p, ir.RegisterLoc(intIdx))
				intIdx++
				continue
			}
		}
		slot := t.Slots().Alloc(p.Size)
		t.UpdateVarLoc(p, ir.StackLoc(slot))
	}
}

func (b *Backend) EndFunc(fn *ir.Function, t *loctrack.Tracker, stackSize int) {
	b.line("function end")
}

func signature(fn *ir.Function) string {
	parts := make([]string, 0, len(fn.Params())+1)
	for _, p := range fn.Params() {
		parts = append(parts, p.Typ.String())
	}
	parts = append(parts, fn.RetType.String())
	return strings.Join(parts, " -> ")
}

// GenLabel emits a "bN:" label line for a block.
func (b *Backend) GenLabel(blk *ir.BasicBlock) {
	b.line("b%d:", blk.ID)
}

// GenCode renders one quadruple's instruction form. Variable
// operands are always resolved to their current location text via
// FindBestSrcLoc/FindBestDestLoc, which also ensures the tracker has
// somewhere for the value to live.
func (b *Backend) GenCode(t *loctrack.Tracker, q *ir.Quadruple) {
	switch q.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod:
		a1, a2 := b.operandText(t, q.Arg1), b.operandText(t, q.Arg2)
		dst := b.bindDest(t, q.Result.Var)
		b.line("%s := %s %s %s", dst, a1, opSymbol(q.Op), a2)
	case ir.OpReadPtr:
		a1, a2 := b.operandText(t, q.Arg1), b.operandText(t, q.Arg2)
		dst := b.bindDest(t, q.Result.Var)
		b.line("%s := %s[%s]", dst, a1, a2)
	case ir.OpWritePtr:
		b.line("%s[%s] := %s", b.operandText(t, q.Result), b.operandText(t, q.Arg1), b.operandText(t, q.Arg2))
	case ir.OpGetAddr:
		a1, a2 := b.operandText(t, q.Arg1), b.operandText(t, q.Arg2)
		dst := b.bindDest(t, q.Result.Var)
		b.line("%s := &%s[%s]", dst, a1, a2)
	case ir.OpReturn:
		b.emitSaveLiveForBranch(t, q)
		if q.Arg1.Kind == ir.OperandNone {
			b.line("return")
		} else {
			b.line("return %s", b.operandText(t, q.Arg1))
		}
	case ir.OpGoto:
		b.emitSaveLiveForBranch(t, q)
		b.line("goto b%d", q.Arg1.Label.ID)
	default:
		if q.Op.IsRelational() {
			b.emitSaveLiveForBranch(t, q)
			b.line("if %s %s %s goto b%d", b.operandText(t, q.Arg1), q.Op.RelString(), b.operandText(t, q.Arg2), q.Result.Label.ID)
		}
	}
	if !q.Arg1Live {
		b.discardVar(t, q.Arg1)
	}
	if !q.Arg2Live {
		b.discardVar(t, q.Arg2)
	}
}

// emitSaveLiveForBranch reconciles live-out variables before the
// branch line is rendered, as every backend must. The quadr backend
// has no register to reserve for the branch instruction, so this is
// just the call.
func (b *Backend) emitSaveLiveForBranch(t *loctrack.Tracker, q *ir.Quadruple) {
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
	t.SaveLive(blk, succ)
}

func (b *Backend) discardVar(t *loctrack.Tracker, o ir.Operand) {
	if o.Kind == ir.OperandVar {
		t.DiscardVar(o.Var)
	}
}

// GenCall renders "param x" lines followed by "call fn",
// binding the return value's location afterward.
func (b *Backend) GenCall(t *loctrack.Tracker, callee *ir.Function, args []ir.Operand, ret *ir.Variable) {
	for _, a := range args {
		b.line("param %s", b.operandText(t, a))
	}
	b.line("call %s", callee.Name)
	if ret != nil {
		t.DiscardVar(ret)
		t.UpdateVarLoc(ret, b.FindBestDestLoc(ret))
	}
}

// GenPrintString renders the "print x" form for the printString
// builtin, the one call whose argument is a string literal rather
// than an IR variable.
func (b *Backend) GenPrintString(s string) {
	b.line("print %q", s)
}

// bindDest drops v's stale residencies (the instruction about to be
// rendered overwrites the value), picks a destination, records it, and
// returns its text.
func (b *Backend) bindDest(t *loctrack.Tracker, v *ir.Variable) string {
	t.DiscardVar(v)
	l := b.FindBestDestLoc(v)
	t.UpdateVarLoc(v, l)
	return locText(l)
}

func (b *Backend) operandText(t *loctrack.Tracker, o ir.Operand) string {
	switch o.Kind {
	case ir.OperandVar:
		return locText(b.FindBestSrcLoc(o.Var))
	case ir.OperandInt:
		return fmt.Sprintf("%d", o.Int)
	case ir.OperandDouble:
		return fmt.Sprintf("%g", o.Double)
	case ir.OperandLabel:
		return fmt.Sprintf("b%d", o.Label.ID)
	case ir.OperandFunc:
		return o.Func.Name
	case ir.OperandStr:
		return fmt.Sprintf("%q", o.Str)
	default:
		return ""
	}
}

func locText(l ir.Location) string {
	switch l.Kind {
	case ir.LocRegister:
		return fmt.Sprintf("$.i%d", l.Reg)
	case ir.LocFPRegister:
		return fmt.Sprintf("$.d%d", l.Reg)
	case ir.LocStack:
		return fmt.Sprintf("{@FP@%d@}", l.Slot.Offset)
	case ir.LocIntConst:
		return fmt.Sprintf("%d", l.IntVal)
	case ir.LocDoubleConst:
		return fmt.Sprintf("%g", l.DoubleVal)
	default:
		return "?"
	}
}

func opSymbol(op ir.Op) string {
	switch op {
	case ir.OpAdd:
		return "+"
	case ir.OpSub:
		return "-"
	case ir.OpMul:
		return "*"
	case ir.OpDiv:
		return "/"
	case ir.OpMod:
		return "%"
	default:
		return "?"
	}
}

// FindBestSrcLoc returns v's current non-dirty location, saving v
// somewhere first if it has none.
func (b *Backend) FindBestSrcLoc(v *ir.Variable) ir.Location {
	if l, ok := bestNonDirty(v); ok {
		return l
	}
	b.t.SaveVar(v)
	l, _ := bestNonDirty(v)
	return l
}

// FindBestDestLoc picks a location to hold a value this quadruple is
// about to compute. It never emits a move (the instruction text itself
// is the store): a free register of the right kind is preferred, and a
// fresh stack slot otherwise. The caller is responsible for recording
// the residency with UpdateVarLoc once the line has been rendered.
func (b *Backend) FindBestDestLoc(v *ir.Variable) ir.Location {
	if l, ok := bestNonDirty(v); ok {
		return l
	}
	if v.Category == ir.CatDouble {
		for i := 0; i < doubleRegNum; i++ {
			if len(b.t.Residents(ir.FPRegisterLoc(i))) == 0 {
				return ir.FPRegisterLoc(i)
			}
		}
	} else {
		for i := 0; i < intRegNum; i++ {
			if len(b.t.Residents(ir.RegisterLoc(i))) == 0 {
				return ir.RegisterLoc(i)
			}
		}
	}
	return ir.StackLoc(b.t.Slots().Alloc(v.Size))
}

func bestNonDirty(v *ir.Variable) (ir.Location, bool) {
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

func rank(l ir.Location) int {
	switch l.Kind {
	case ir.LocRegister, ir.LocFPRegister:
		return 2
	case ir.LocStack:
		return 1
	default:
		return 0
	}
}

// AllocReg/AllocFPUReg always report that no register is available
// (0, false); register choice is left to the tracker's own Belady
// allocator.
func (b *Backend) AllocReg() (int, bool)    { return 0, false }
func (b *Backend) AllocFPUReg() (int, bool) { return 0, false }

// GenMov, GenSwap and the FPU primitives implement loctrack.Emitter;
// the tracker drives them, so they must not touch its bookkeeping.
func (b *Backend) GenMov(dest ir.Location, v *ir.Variable) {
	b.line("%s := %s  ; mov", locText(dest), v.Name)
}

func (b *Backend) GenSwap(l1, l2 ir.Location) {
	b.line("swap %s, %s", locText(l1), locText(l2))
}

func (b *Backend) GenFPULoad(v *ir.Variable) {
	b.line("fld %s  ; %s", v.Name, v.Name)
}

func (b *Backend) GenFPUStore(l ir.Location) {
	b.line("fst %s", locText(l))
}

func (b *Backend) GenFPUPop(wasFree bool) {
	b.line("fpop")
}

func (b *Backend) FPURegFree(r int) {}
