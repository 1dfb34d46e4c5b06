// Package codegen is the code generator driver: per block,
// it seeds the location tracker from predecessor hints, walks
// quadruples dispatching to a target backend, and reconciles variable
// locations at block boundaries. It owns the CodegenContext that
// replaces the original's module-level globals.
package codegen

import (
	"io"

	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/loctrack"
)

// Backend is the target backend contract: a capability set
// implemented once per real target (backend/quadr, backend/x86).
// Backend embeds loctrack.Emitter because the tracker itself must be
// able to call the move/swap/FPU primitives; those calls must not
// re-enter the tracker's own bookkeeping.
type Backend interface {
	loctrack.Emitter

	Init()
	Final(w io.Writer)
	StartFunc(fn *ir.Function, t *loctrack.Tracker)
	EndFunc(fn *ir.Function, t *loctrack.Tracker, stackSize int)

	GenCode(t *loctrack.Tracker, q *ir.Quadruple)
	GenCall(t *loctrack.Tracker, callee *ir.Function, args []ir.Operand, ret *ir.Variable)
	GenPrintString(s string)
	GenLabel(b *ir.BasicBlock)

	FindBestSrcLoc(v *ir.Variable) ir.Location
	FindBestDestLoc(v *ir.Variable) ir.Location
	AllocReg() (int, bool)
	AllocFPUReg() (int, bool)

	Caps() loctrack.Capabilities
}
