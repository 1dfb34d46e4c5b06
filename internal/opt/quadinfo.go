package opt

import "github.com/lukaszcz/javalette/internal/ir"

// writtenVar returns the variable q assigns to, or nil if q has no
// variable-valued write.
func writtenVar(q *ir.Quadruple) *ir.Variable {
	switch q.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod, ir.OpCopy, ir.OpReadPtr, ir.OpGetAddr:
		if q.Result.Kind == ir.OperandVar {
			return q.Result.Var
		}
	case ir.OpCall:
		if q.Result.Kind == ir.OperandVar {
			return q.Result.Var
		}
	}
	return nil
}

// readVars calls fn for every variable q reads, covering WRITE_PTR's
// base-in-Result special case.
func readVars(q *ir.Quadruple, fn func(*ir.Variable)) {
	visit := func(o ir.Operand) {
		if o.Kind == ir.OperandVar {
			fn(o.Var)
		}
	}
	switch q.Op {
	case ir.OpWritePtr:
		visit(q.Result)
		visit(q.Arg1)
		visit(q.Arg2)
	default:
		visit(q.Arg1)
		visit(q.Arg2)
	}
}

// replaceReads rewrites every read occurrence of from in q to to.
func replaceReads(q *ir.Quadruple, from, to *ir.Variable) {
	repl := func(o *ir.Operand) {
		if o.Kind == ir.OperandVar && o.Var == from {
			o.Var = to
		}
	}
	switch q.Op {
	case ir.OpWritePtr:
		repl(&q.Result)
		repl(&q.Arg1)
		repl(&q.Arg2)
	default:
		repl(&q.Arg1)
		repl(&q.Arg2)
	}
}
