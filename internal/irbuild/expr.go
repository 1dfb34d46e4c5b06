package irbuild

import (
	"github.com/lukaszcz/javalette/internal/ast"
	"github.com/lukaszcz/javalette/internal/ir"
)

// genExpr lowers e, emitting whatever quadruples are needed, and
// returns an operand holding its value.
func (b *builder) genExpr(e ast.Expr) ir.Operand {
	switch ex := e.(type) {
	case ast.IntLit:
		return ir.IntOperand(ex.Value)
	case ast.DoubleLit:
		return ir.DoubleOperand(ex.Value)
	case ast.BoolLit:
		if ex.Value {
			return ir.IntOperand(1)
		}
		return ir.IntOperand(0)
	case ast.StringLit:
		return ir.StrOperand(ex.Value)
	case ast.Ident:
		return ir.VarOperand(b.lookup(ex.Name))
	case ast.ArrayIndex:
		return b.genArrayRead(ex)
	case ast.Unary:
		return b.genUnary(ex)
	case ast.Binary:
		return b.genBinary(ex)
	case ast.Call:
		return b.genCall(ex)
	default:
		panic("irbuild: unhandled expression node")
	}
}

func (b *builder) genArrayRead(ex ast.ArrayIndex) ir.Operand {
	arr := b.lookup(identName(ex.Base))
	idx := b.genExpr(ex.Index)
	b.checkArrayIndex(arr, ex.Index)
	ptr := b.fresh(ast.Type{Kind: ast.Int}, ir.CatPtr)
	b.emit(&ir.Quadruple{Op: ir.OpGetAddr, Result: ir.VarOperand(ptr), Arg1: ir.VarOperand(arr), Arg2: idx})
	elemTyp := ast.Type{Kind: ast.Int}
	if arr != nil {
		elemTyp = elemTypeOf(arr)
	}
	res := b.fresh(elemTyp, elemCategory(arr))
	b.emit(&ir.Quadruple{Op: ir.OpReadPtr, Result: ir.VarOperand(res), Arg1: ir.VarOperand(ptr), Arg2: ir.NoneOperand()})
	return ir.VarOperand(res)
}

func elemCategory(arr *ir.Variable) ir.Category {
	if arr == nil {
		return ir.CatInt
	}
	return arr.ArrayElemCat
}

func elemTypeOf(arr *ir.Variable) ast.Type {
	if arr.Typ.Elem != nil {
		return *arr.Typ.Elem
	}
	return ast.Type{Kind: ast.Int}
}

func (b *builder) genUnary(ex ast.Unary) ir.Operand {
	switch ex.Op {
	case ast.Plus:
		return b.genExpr(ex.Expr)
	case ast.Neg:
		op := b.genExpr(ex.Expr)
		cat := ir.CatInt
		typ := ast.Type{Kind: ast.Int}
		if op.Kind == ir.OperandDouble || (op.Kind == ir.OperandVar && op.Var.Category == ir.CatDouble) {
			cat = ir.CatDouble
			typ = ast.Type{Kind: ast.Double}
		}
		res := b.fresh(typ, cat)
		zero := ir.IntOperand(0)
		if cat == ir.CatDouble {
			zero = ir.DoubleOperand(0)
		}
		b.emit(&ir.Quadruple{Op: ir.OpSub, Result: ir.VarOperand(res), Arg1: zero, Arg2: op})
		return ir.VarOperand(res)
	case ast.Not:
		// Lowered as a value via short-circuit materialization, same
		// path as any other boolean-valued expression.
		return b.genBoolAsValue(ex)
	default:
		panic("irbuild: unhandled unary op")
	}
}

func (b *builder) genBinary(ex ast.Binary) ir.Operand {
	switch ex.Op {
	case ast.Add, ast.Sub, ast.Mul, ast.Div, ast.Mod:
		l := b.genExpr(ex.Left)
		r := b.genExpr(ex.Right)
		cat := ir.CatInt
		typ := ast.Type{Kind: ast.Int}
		if operandIsDouble(l) || operandIsDouble(r) {
			cat = ir.CatDouble
			typ = ast.Type{Kind: ast.Double}
		}
		res := b.fresh(typ, cat)
		b.emit(&ir.Quadruple{Op: arithOp(ex.Op), Result: ir.VarOperand(res), Arg1: l, Arg2: r})
		return ir.VarOperand(res)
	default:
		// Relational/logical: materialize as a 0/1 value.
		return b.genBoolAsValue(ex)
	}
}

func operandIsDouble(o ir.Operand) bool {
	if o.Kind == ir.OperandDouble {
		return true
	}
	return o.Kind == ir.OperandVar && o.Var.Category == ir.CatDouble
}

func arithOp(op ast.BinOp) ir.Op {
	switch op {
	case ast.Add:
		return ir.OpAdd
	case ast.Sub:
		return ir.OpSub
	case ast.Mul:
		return ir.OpMul
	case ast.Div:
		return ir.OpDiv
	case ast.Mod:
		return ir.OpMod
	default:
		panic("irbuild: not an arithmetic op")
	}
}

// genBoolAsValue lowers a boolean-valued expression used in a
// non-condition context (assignment, argument, ...): two blocks write
// 1 or 0 into a fresh variable, and control joins immediately after.
func (b *builder) genBoolAsValue(e ast.Expr) ir.Operand {
	trueBlk := b.fn.NewDetachedBlock()
	falseBlk := b.fn.NewDetachedBlock()
	joinBlk := b.fn.NewDetachedBlock()

	res := b.fresh(ast.Type{Kind: ast.Bool}, ir.CatByte)

	b.genBoolExpr(e, trueBlk, falseBlk)

	b.startBlock(trueBlk)
	b.emit(&ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(res), Arg1: ir.IntOperand(1)})
	b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(joinBlk)})

	b.startBlock(falseBlk)
	b.emit(&ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(res), Arg1: ir.IntOperand(0)})
	b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(joinBlk)})

	b.startBlock(joinBlk)
	return ir.VarOperand(res)
}

// genBoolExpr lowers e as a branch condition with short-circuit
// semantics: AND jumps to falseBlk on the first false operand, OR
// jumps to trueBlk on the first true operand.
func (b *builder) genBoolExpr(e ast.Expr, trueBlk, falseBlk *ir.BasicBlock) {
	switch ex := e.(type) {
	case ast.BoolLit:
		target := falseBlk
		if ex.Value {
			target = trueBlk
		}
		b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(target)})

	case ast.Unary:
		if ex.Op == ast.Not {
			b.genBoolExpr(ex.Expr, falseBlk, trueBlk)
			return
		}
		b.genBoolExprFallback(ex, trueBlk, falseBlk)

	case ast.Binary:
		switch ex.Op {
		case ast.And:
			midBlk := b.fn.NewDetachedBlock()
			b.genBoolExpr(ex.Left, midBlk, falseBlk)
			b.startBlock(midBlk)
			b.genBoolExpr(ex.Right, trueBlk, falseBlk)
		case ast.Or:
			midBlk := b.fn.NewDetachedBlock()
			b.genBoolExpr(ex.Left, trueBlk, midBlk)
			b.startBlock(midBlk)
			b.genBoolExpr(ex.Right, trueBlk, falseBlk)
		case ast.Eq, ast.Neq, ast.Lt, ast.Gt, ast.Leq, ast.Geq:
			l := b.genExpr(ex.Left)
			r := b.genExpr(ex.Right)
			// The conditional terminates its block; the false edge is a
			// separate fallthrough block so the CFG sees both edges.
			b.emit(&ir.Quadruple{Op: relOp(ex.Op), Arg1: l, Arg2: r, Result: ir.LabelOperand(trueBlk)})
			b.startBlock(b.fn.NewDetachedBlock())
			b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(falseBlk)})
		default:
			b.genBoolExprFallback(ex, trueBlk, falseBlk)
		}

	default:
		b.genBoolExprFallback(e, trueBlk, falseBlk)
	}
}

// genBoolExprFallback handles a boolean-typed expression that is not
// itself a literal/relational/logical node (e.g. a call or a variable
// holding a previously materialized 0/1 byte): materialize its value
// and compare against zero.
func (b *builder) genBoolExprFallback(e ast.Expr, trueBlk, falseBlk *ir.BasicBlock) {
	op := b.genExpr(e)
	b.emit(&ir.Quadruple{Op: ir.OpIfNe, Arg1: op, Arg2: ir.IntOperand(0), Result: ir.LabelOperand(trueBlk)})
	b.startBlock(b.fn.NewDetachedBlock())
	b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(falseBlk)})
}

func relOp(op ast.BinOp) ir.Op {
	switch op {
	case ast.Eq:
		return ir.OpIfEq
	case ast.Neq:
		return ir.OpIfNe
	case ast.Lt:
		return ir.OpIfLt
	case ast.Gt:
		return ir.OpIfGt
	case ast.Leq:
		return ir.OpIfLe
	case ast.Geq:
		return ir.OpIfGe
	default:
		panic("irbuild: not a relational op")
	}
}

func (b *builder) genCall(ex ast.Call) ir.Operand {
	callee, ret := b.resolveCallee(ex.Name)

	args := make([]ir.Operand, 0, len(ex.Args))
	for _, a := range ex.Args {
		args = append(args, b.genExpr(a))
	}
	for _, a := range args {
		b.emit(&ir.Quadruple{Op: ir.OpParam, Arg1: a})
	}

	if ret.Kind == ast.Void {
		b.emit(&ir.Quadruple{Op: ir.OpCall, Arg1: ir.FuncOperand(callee)})
		return ir.NoneOperand()
	}
	res := b.fresh(ret, ir.CategoryOf(ret))
	b.emit(&ir.Quadruple{Op: ir.OpCall, Result: ir.VarOperand(res), Arg1: ir.FuncOperand(callee)})
	return ir.VarOperand(res)
}

func (b *builder) resolveCallee(name string) (*ir.Function, ast.Type) {
	if bi, ok := b.builtins[name]; ok {
		return bi, bi.RetType
	}
	if fn, ok := b.funcs[name]; ok {
		return fn, fn.RetType
	}
	panic("irbuild: call to undeclared function " + name)
}
