package x86

import (
	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/loctrack"
)

// spillRegsForCall forces every register-resident variable to have a
// memory copy and clears all register residencies: the callee owns
// every general-purpose register.
func (b *Backend) spillRegsForCall() {
	t := b.t
	for i := 0; i < regNum; i++ {
		l := ir.RegisterLoc(i)
		for _, v := range append([]*ir.Variable(nil), t.Residents(l)...) {
			t.MoveToMem(v)
		}
		t.FlushLoc(l)
	}
}

// GenCall lowers an accumulated PARAM list plus its CALL. Stack
// arguments are pushed right-to-left (doubles as raw 8-byte values),
// the leading integer arguments of a user-function call ride in
// registers when the optimization level allows it, and the caller pops
// the argument bytes. Integer results arrive in eax, double results on
// the x87 top.
func (b *Backend) GenCall(t *loctrack.Tracker, callee *ir.Function, args []ir.Operand, ret *ir.Variable) {
	b.t = t
	b.spillRegsForCall()
	b.spillFPU()

	argsInReg := b.opts.ArgsInRegNum
	if callee.Category == ir.FuncBuiltin {
		// The runtime is assembled once, against the stack convention.
		argsInReg = 0
	}

	var regArgs, stackArgs []ir.Operand
	for _, a := range args {
		if !operandIsDouble(a) && len(regArgs) < argsInReg {
			regArgs = append(regArgs, a)
			continue
		}
		stackArgs = append(stackArgs, a)
	}

	pushed := 0
	for i := len(stackArgs) - 1; i >= 0; i-- {
		a := stackArgs[i]
		if operandIsDouble(a) {
			b.ins("sub esp, 8")
			b.pushFPUOperand(a)
			b.ins("fstp qword [esp]")
			t.DropFPUTop()
			pushed += 8
			continue
		}
		b.ins("push %s", b.intSrcText(a))
		pushed += 4
	}
	for i, a := range regArgs {
		text := b.intSrcText(a)
		if text != regNames[i] {
			b.ins("mov %s, %s", regNames[i], text)
		}
	}

	b.ins("call %s", funcLabel(callee))
	if pushed > 0 {
		b.ins("add esp, %d", pushed)
	}

	if ret == nil {
		return
	}
	t.DiscardVar(ret)
	if ret.Category == ir.CatDouble {
		// The callee left the value on a freshly initialized x87 stack;
		// re-initializing now would destroy it.
		b.finitDone = true
		t.NoteFPUPush()
		t.UpdateVarLoc(ret, ir.FPRegisterLoc(0))
		return
	}
	t.UpdateVarLoc(ret, ir.RegisterLoc(regEAX))
}

// GenPrintString lowers the one call form whose argument is a string
// literal rather than an IR variable: the literal is interned in the
// module string pool and its address passed on the stack.
func (b *Backend) GenPrintString(s string) {
	b.spillRegsForCall()
	b.spillFPU()
	b.ins("push %s", b.stringLabel(s))
	b.ins("call printString")
	b.ins("add esp, 4")
}
