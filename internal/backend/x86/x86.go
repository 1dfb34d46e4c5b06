// Package x86 is the 32-bit x86 code generator backend: NASM-syntax
// assembly with an x87-style FPU stack, a caller-cleans stack calling
// convention, per-function double-constant pools, and deferred stack-
// frame patching through the output buffer's opaque tokens.
package x86

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/loctrack"
	"github.com/lukaszcz/javalette/internal/outbuf"
	"github.com/lukaszcz/javalette/internal/peephole"
)

const (
	regNum    = 6
	fpuRegNum = 8

	// idiv fixes the dividend to eax and the remainder to edx.
	regEAX = 0
	regEDX = 3
)

var regNames = [regNum]string{"eax", "ebx", "ecx", "edx", "esi", "edi"}

// Options configures one backend instance.
type Options struct {
	// PentiumPro enables fcomi-based double comparisons instead of the
	// fcom/fstsw/sahf sequence.
	PentiumPro bool

	// ArgsInRegNum is how many leading integer arguments of a call to a
	// user-defined function travel in registers instead of the stack
	// (0 below -O2, 4 at -O2). Builtins always take stack arguments;
	// the runtime is assembled once and does not know the flag.
	ArgsInRegNum int

	// PeepholeRules, when non-nil, is applied to the finished buffer
	// before it is written out.
	PeepholeRules []peephole.Rule
}

// Backend implements codegen.Backend for i386.
type Backend struct {
	opts Options
	buf  *outbuf.Buffer
	t    *loctrack.Tracker
	fn   *ir.Function

	funcStart int
	finitDone bool

	doubles []dblConst
	dblIdx  map[uint64]string
	strs    []strConst
	strIdx  map[string]string
}

type dblConst struct {
	label string
	val   float64
}

type strConst struct {
	label string
	val   string
}

// New creates an i386 backend.
func New(opts Options) *Backend {
	return &Backend{
		opts:   opts,
		buf:    outbuf.New(),
		strIdx: map[string]string{},
	}
}

// Caps describes the i386 register model: six allocatable general-
// purpose registers (ebp and esp are structural) and the eight-deep
// x87 stack.
func (b *Backend) Caps() loctrack.Capabilities {
	return loctrack.Capabilities{
		RegNum:     regNum,
		FPURegNum:  fpuRegNum,
		FPUStack:   true,
		FastSwap:   true,
		IntSize:    4,
		DoubleSize: 8,
		PtrSize:    4,
		SPSize:     4,
	}
}

// Buffer exposes the output buffer for tests.
func (b *Backend) Buffer() *outbuf.Buffer { return b.buf }

func (b *Backend) ins(format string, args ...interface{}) {
	b.buf.Printf("\t"+format, args...)
}

func (b *Backend) raw(format string, args ...interface{}) {
	b.buf.Printf(format, args...)
}

func (b *Backend) Init() {
	b.raw("section .text")
	b.raw("")
	b.raw("extern printInt, printDouble, printString, readInt, readDouble, runtimeError")
	b.raw("global jl_main")
}

// Final runs the peephole pass (when enabled), appends the pooled
// string literals, and writes everything to w.
func (b *Backend) Final(w io.Writer) {
	if b.opts.PeepholeRules != nil {
		b.buf.SetLines(peephole.Apply(b.buf.Lines(), b.opts.PeepholeRules, peephole.DefaultMaxIterations))
	}
	if len(b.strs) > 0 {
		b.raw("")
		b.raw("section .data")
		for _, s := range b.strs {
			b.raw("%s: db %s", s.label, nasmString(s.val))
		}
	}
	b.buf.WriteTo(w)
}

// StartFunc emits the function label and the deferred prologue token,
// then seeds parameter and local-array locations: stack parameters get
// permanent home slots at positive frame offsets, register parameters
// (integer, first ArgsInRegNum) start life in registers, and every
// local array is bound to permanent backing storage in the frame.
func (b *Backend) StartFunc(fn *ir.Function, t *loctrack.Tracker) {
	b.t = t
	b.fn = fn
	b.finitDone = false
	b.doubles = nil
	b.dblIdx = map[uint64]string{}

	b.raw("")
	b.funcStart = b.buf.Len()
	b.raw("%s:", funcLabel(fn))
	b.ins(outbuf.PrologueToken)

	intIdx := 0
	stackOff := 8 // first stack argument sits just above the saved ebp and return address
	for _, p := range fn.Params() {
		if p.Category != ir.CatDouble && intIdx < b.opts.ArgsInRegNum {
			t.UpdateVarLoc(p, ir.RegisterLoc(intIdx))
			intIdx++
			continue
		}
		slot := &ir.StackSlot{Offset: -stackOff, Size: p.Size}
		stackOff += p.Size
		t.BindPermanent(p, ir.StackLoc(slot))
	}

	for i := 0; i < fn.Vars.Len(); i++ {
		v := fn.Vars.At(i)
		if v.Category == ir.CatArray && !v.IsParam {
			slot := t.Slots().Alloc(v.Size)
			t.BindPermanent(v, ir.StackLoc(slot))
		}
	}
}

// EndFunc materializes the function's double-constant pool and patches
// the deferred frame tokens now that the final stack size is known.
func (b *Backend) EndFunc(fn *ir.Function, t *loctrack.Tracker, stackSize int) {
	if len(b.doubles) > 0 {
		b.raw("")
		b.raw("section .data")
		for _, d := range b.doubles {
			b.raw("%s: dq %s", d.label, formatDouble(d.val))
		}
		b.raw("section .text")
	}
	b.buf.FixStack(b.funcStart, alignFrame(stackSize), frame{})
}

func alignFrame(n int) int {
	return (n + 3) &^ 3
}

func funcLabel(fn *ir.Function) string {
	if fn.Category == ir.FuncBuiltin {
		if fn.BuiltinKind == ir.BuiltinError {
			return "runtimeError"
		}
		return fn.Name
	}
	return "jl_" + fn.Name
}

// GenLabel emits the block's NASM-local label.
func (b *Backend) GenLabel(blk *ir.BasicBlock) {
	b.raw(".b%d:", blk.ID)
}

func blockLabel(blk *ir.BasicBlock) string {
	return fmt.Sprintf(".b%d", blk.ID)
}

// frame implements outbuf.Framer for the standard ebp-based frame.
type frame struct{}

func (frame) Prologue(stackSize int) []string {
	out := []string{"\tpush ebp", "\tmov ebp, esp"}
	if stackSize > 0 {
		out = append(out, fmt.Sprintf("\tsub esp, %d", stackSize))
	}
	return out
}

func (frame) Epilogue(stackSize int) []string {
	return []string{"\tmov esp, ebp", "\tpop ebp", "\tret"}
}

func (frame) FrameRef(disp int) string {
	if disp < 0 {
		return fmt.Sprintf("ebp+%d", -disp)
	}
	return fmt.Sprintf("ebp-%d", disp)
}

// slotDisp maps a stack slot to its frame token displacement: local
// slots grow downward from ebp (the token names the slot's low end),
// parameter slots carry their final positive-offset displacement as a
// negative number.
func slotDisp(s *ir.StackSlot) int {
	if s.Offset < 0 {
		return s.Offset
	}
	return s.Offset + s.Size
}

func slotRef(s *ir.StackSlot) string {
	size := "dword"
	if s.Size == 8 {
		size = "qword"
	}
	return fmt.Sprintf("%s [%s]", size, outbuf.FPToken(slotDisp(s)))
}

// locText renders a location as a NASM operand.
func (b *Backend) locText(l ir.Location) string {
	switch l.Kind {
	case ir.LocRegister:
		return regNames[l.Reg]
	case ir.LocFPRegister:
		return fmt.Sprintf("st%d", l.Reg)
	case ir.LocStack:
		return slotRef(l.Slot)
	case ir.LocIntConst:
		return fmt.Sprintf("%d", l.IntVal)
	case ir.LocDoubleConst:
		return fmt.Sprintf("qword [%s]", b.doubleLabel(l.DoubleVal))
	default:
		diag.Fail("x86-loc", "unrenderable location kind %d", l.Kind)
		return ""
	}
}

// doubleLabel interns val in the function's constant pool.
func (b *Backend) doubleLabel(val float64) string {
	key := math.Float64bits(val)
	if lbl, ok := b.dblIdx[key]; ok {
		return lbl
	}
	lbl := fmt.Sprintf("LC_%s_%d", b.fn.Name, len(b.doubles))
	b.dblIdx[key] = lbl
	b.doubles = append(b.doubles, dblConst{label: lbl, val: val})
	return lbl
}

func (b *Backend) stringLabel(s string) string {
	if lbl, ok := b.strIdx[s]; ok {
		return lbl
	}
	lbl := fmt.Sprintf("LS_%d", len(b.strs))
	b.strIdx[s] = lbl
	b.strs = append(b.strs, strConst{label: lbl, val: s})
	return lbl
}

func formatDouble(v float64) string {
	s := fmt.Sprintf("%g", v)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// nasmString renders s as a NASM db operand list, NUL-terminated,
// splitting out non-printable bytes as numbers.
func nasmString(s string) string {
	var parts []string
	var run []byte
	flush := func() {
		if len(run) > 0 {
			parts = append(parts, `"`+string(run)+`"`)
			run = nil
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x7f && c != '"' {
			run = append(run, c)
			continue
		}
		flush()
		parts = append(parts, fmt.Sprintf("%d", c))
	}
	flush()
	parts = append(parts, "0")
	return strings.Join(parts, ", ")
}

// bestSrc returns v's preferred non-dirty location for reading:
// registers first, then FPU positions, immediates, and finally memory.
func bestSrc(v *ir.Variable) (ir.Location, bool) {
	rank := func(l ir.Location) int {
		switch l.Kind {
		case ir.LocRegister:
			return 4
		case ir.LocFPRegister:
			return 3
		case ir.LocIntConst, ir.LocDoubleConst:
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

// FindBestSrcLoc returns v's current best readable location, saving v
// somewhere first if it has none.
func (b *Backend) FindBestSrcLoc(v *ir.Variable) ir.Location {
	if l, ok := bestSrc(v); ok {
		return l
	}
	b.t.SaveVar(v)
	l, _ := bestSrc(v)
	return l
}

// FindBestDestLoc picks a location for a value about to be produced:
// an existing location, a free register of the right kind, or a fresh
// stack slot.
func (b *Backend) FindBestDestLoc(v *ir.Variable) ir.Location {
	if l, ok := bestSrc(v); ok {
		return l
	}
	if v.Category != ir.CatDouble {
		if r, ok := b.AllocReg(); ok {
			return ir.RegisterLoc(r)
		}
	}
	return ir.StackLoc(b.t.Slots().Alloc(v.Size))
}

// AllocReg reports a currently free general-purpose register.
func (b *Backend) AllocReg() (int, bool) {
	for i := 0; i < regNum; i++ {
		if len(b.t.Residents(ir.RegisterLoc(i))) == 0 {
			return i, true
		}
	}
	return 0, false
}

// AllocFPUReg never succeeds: the x87 stack is filled only through the
// backend's own push sequencing.
func (b *Backend) AllocFPUReg() (int, bool) { return 0, false }

// GenMov implements loctrack.Emitter's move primitive: emission only,
// no tracker bookkeeping.
func (b *Backend) GenMov(dest ir.Location, v *ir.Variable) {
	src, ok := bestSrc(v)
	if !ok {
		diag.Fail("x86-mov", "move of variable %q with no readable location", v.Name)
	}
	switch dest.Kind {
	case ir.LocRegister:
		switch src.Kind {
		case ir.LocRegister:
			b.ins("mov %s, %s", regNames[dest.Reg], regNames[src.Reg])
		case ir.LocIntConst:
			b.ins("mov %s, %d", regNames[dest.Reg], src.IntVal)
		case ir.LocStack:
			b.ins("mov %s, %s", regNames[dest.Reg], slotRef(src.Slot))
		default:
			diag.Fail("x86-mov", "unsupported source for register move")
		}
	case ir.LocStack:
		if v.Category == ir.CatDouble {
			b.movDoubleToSlot(dest.Slot, src)
			return
		}
		switch src.Kind {
		case ir.LocRegister:
			b.ins("mov %s, %s", slotRef(dest.Slot), regNames[src.Reg])
		case ir.LocIntConst:
			b.ins("mov %s, %d", slotRef(dest.Slot), src.IntVal)
		case ir.LocStack:
			b.ins("push %s", slotRef(src.Slot))
			b.ins("pop %s", slotRef(dest.Slot))
		default:
			diag.Fail("x86-mov", "unsupported source for memory move")
		}
	default:
		diag.Fail("x86-mov", "unsupported move destination kind %d", dest.Kind)
	}
}

func (b *Backend) movDoubleToSlot(dest *ir.StackSlot, src ir.Location) {
	ref := fmt.Sprintf("qword [%s]", outbuf.FPToken(slotDisp(dest)))
	switch src.Kind {
	case ir.LocFPRegister:
		if src.Reg == 0 {
			b.ins("fst %s", ref)
			return
		}
		b.ins("fld st%d", src.Reg)
		b.ins("fstp %s", ref)
	case ir.LocDoubleConst:
		b.fpuLoadConst(src.DoubleVal)
		b.ins("fstp %s", ref)
	case ir.LocStack:
		b.ins("fld qword [%s]", outbuf.FPToken(slotDisp(src.Slot)))
		b.ins("fstp %s", ref)
	default:
		diag.Fail("x86-mov", "unsupported double move source kind %d", src.Kind)
	}
}

// GenSwap exchanges two locations in place.
func (b *Backend) GenSwap(l1, l2 ir.Location) {
	switch {
	case l1.Kind == ir.LocRegister && l2.Kind == ir.LocRegister:
		b.ins("xchg %s, %s", regNames[l1.Reg], regNames[l2.Reg])
	case l1.Kind == ir.LocFPRegister || l2.Kind == ir.LocFPRegister:
		other := l1
		if l1.Kind == ir.LocFPRegister && l1.Reg == 0 {
			other = l2
		}
		b.ins("fxch st%d", other.Reg)
	case l1.Kind == ir.LocRegister && l2.Kind == ir.LocStack:
		b.ins("xchg %s, %s", regNames[l1.Reg], slotRef(l2.Slot))
	case l1.Kind == ir.LocStack && l2.Kind == ir.LocRegister:
		b.ins("xchg %s, %s", regNames[l2.Reg], slotRef(l1.Slot))
	default:
		diag.Fail("x86-swap", "unsupported swap operands")
	}
}
