package irbuild

import (
	"github.com/lukaszcz/javalette/internal/ast"
	"github.com/lukaszcz/javalette/internal/ir"
)

func (b *builder) genStmt(s ast.Stmt) {
	switch st := s.(type) {
	case ast.Block:
		b.pushScope()
		for _, inner := range st.Stmts {
			b.genStmt(inner)
		}
		b.popScope()

	case ast.Decl:
		b.genDecl(st)

	case ast.Assign:
		b.genAssign(st.Target, st.Value)

	case ast.Incr:
		v := b.lookup(st.Name)
		b.emit(&ir.Quadruple{Op: ir.OpAdd, Result: ir.VarOperand(v), Arg1: ir.VarOperand(v), Arg2: ir.IntOperand(1)})

	case ast.Decr:
		v := b.lookup(st.Name)
		b.emit(&ir.Quadruple{Op: ir.OpSub, Result: ir.VarOperand(v), Arg1: ir.VarOperand(v), Arg2: ir.IntOperand(1)})

	case ast.If:
		b.genIf(st.Cond, st.Then, nil)

	case ast.IfElse:
		b.genIf(st.Cond, st.Then, st.Else)

	case ast.While:
		b.genWhile(st.Cond, st.Body)

	case ast.For:
		b.genFor(st)

	case ast.Return:
		if st.Value == nil {
			b.emit(&ir.Quadruple{Op: ir.OpReturn, Arg1: ir.NoneOperand()})
		} else {
			op := b.genExpr(st.Value)
			b.emit(&ir.Quadruple{Op: ir.OpReturn, Arg1: op})
		}
		// A RETURN always terminates its block; anything syntactically
		// following in the same source block is unreachable. Open a
		// fresh (unreferenced) block so further genStmt calls have
		// somewhere to write without corrupting the RETURN's block.
		b.startBlock(b.fn.NewDetachedBlock())

	case ast.ExprStmt:
		b.genExpr(st.Expr)

	case ast.Empty:
		// no-op

	default:
		panic("irbuild: unhandled statement node")
	}
}

func (b *builder) genDecl(d ast.Decl) {
	if d.Typ.Kind == ast.Array {
		n := evalConstInt(d.ArrayLen)
		v := b.fn.Vars.New(d.Name, d.Typ, ir.CatArray, 0)
		v.ArrayLen = n
		v.ArrayElemCat = ir.CategoryOf(*d.Typ.Elem)
		b.declare(d.Name, v)
		return
	}

	v := b.fn.Vars.New(d.Name, d.Typ, ir.CategoryOf(d.Typ), 0)
	b.declare(d.Name, v)
	if d.Init != nil {
		op := b.genExpr(d.Init)
		b.emit(&ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(v), Arg1: op})
	} else {
		b.emit(&ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(v), Arg1: zeroOperand(d.Typ)})
	}
}

func zeroOperand(t ast.Type) ir.Operand {
	if t.Kind == ast.Double {
		return ir.DoubleOperand(0)
	}
	return ir.IntOperand(0)
}

// evalConstInt folds a constant-int expression at build time; arrays
// in this language are fixed-size, so ArrayLen is always a literal or
// a trivially foldable constant expression.
func evalConstInt(e ast.Expr) int {
	switch v := e.(type) {
	case ast.IntLit:
		return int(v.Value)
	case ast.Unary:
		if v.Op == ast.Neg {
			return -evalConstInt(v.Expr)
		}
		return evalConstInt(v.Expr)
	case ast.Binary:
		l, r := evalConstInt(v.Left), evalConstInt(v.Right)
		switch v.Op {
		case ast.Add:
			return l + r
		case ast.Sub:
			return l - r
		case ast.Mul:
			return l * r
		}
	}
	return 0
}

// genAssign lowers `target = value` for both plain identifiers and
// array-index targets.
func (b *builder) genAssign(target, value ast.Expr) {
	switch t := target.(type) {
	case ast.Ident:
		v := b.lookup(t.Name)
		op := b.genExpr(value)
		b.emit(&ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(v), Arg1: op})
	case ast.ArrayIndex:
		arr := b.lookup(identName(t.Base))
		idx := b.genExpr(t.Index)
		b.checkArrayIndex(arr, t.Index)
		ptr := b.fresh(ast.Type{Kind: ast.Int}, ir.CatPtr)
		b.emit(&ir.Quadruple{Op: ir.OpGetAddr, Result: ir.VarOperand(ptr), Arg1: ir.VarOperand(arr), Arg2: idx})
		val := b.genExpr(value)
		b.emit(&ir.Quadruple{Op: ir.OpWritePtr, Result: ir.VarOperand(ptr), Arg1: ir.IntOperand(0), Arg2: val})
	default:
		panic("irbuild: invalid assignment target")
	}
}

func identName(e ast.Expr) string {
	if id, ok := e.(ast.Ident); ok {
		return id.Name
	}
	panic("irbuild: array base must be an identifier")
}

// checkArrayIndex warns about a compile-time-constant index that is
// negative or >= the array's fixed length; compilation continues (the
// out-of-range access is still emitted).
func (b *builder) checkArrayIndex(arr *ir.Variable, idx ast.Expr) {
	lit, ok := idx.(ast.IntLit)
	if !ok || arr == nil {
		return
	}
	if lit.Value < 0 || lit.Value >= int64(arr.ArrayLen) {
		b.bag.Warnf(lit.P, "array index %d out of range for array %s[%d]", lit.Value, arr.Name, arr.ArrayLen)
	}
}

func (b *builder) genIf(cond ast.Expr, then ast.Stmt, els ast.Stmt) {
	thenBlk := b.fn.NewDetachedBlock()
	joinBlk := b.fn.NewDetachedBlock()
	elseBlk := joinBlk
	if els != nil {
		elseBlk = b.fn.NewDetachedBlock()
	}

	b.genBoolExpr(cond, thenBlk, elseBlk)

	b.startBlock(thenBlk)
	b.genStmt(then)
	if b.cur.Terminator() == nil {
		b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(joinBlk)})
	}

	if els != nil {
		b.startBlock(elseBlk)
		b.genStmt(els)
		if b.cur.Terminator() == nil {
			b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(joinBlk)})
		}
	}

	b.startBlock(joinBlk)
}

func (b *builder) genWhile(cond ast.Expr, body ast.Stmt) {
	condBlk := b.fn.NewDetachedBlock()
	bodyBlk := b.fn.NewDetachedBlock()
	exitBlk := b.fn.NewDetachedBlock()

	b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(condBlk)})

	b.startBlock(condBlk)
	b.genBoolExpr(cond, bodyBlk, exitBlk)

	b.startBlock(bodyBlk)
	b.genStmt(body)
	if b.cur.Terminator() == nil {
		b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(condBlk)})
	}

	b.startBlock(exitBlk)
}

// genFor lowers `for (T x : arr) body` into an indexed while loop over
// arr's fixed length.
func (b *builder) genFor(f ast.For) {
	arr := b.lookup(identName(f.Array))

	b.pushScope()
	idxVar := b.fresh(ast.Type{Kind: ast.Int}, ir.CatInt)
	b.emit(&ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(idxVar), Arg1: ir.IntOperand(0)})
	elemVar := b.fn.Vars.New(f.VarName, f.ElemType, ir.CategoryOf(f.ElemType), 0)
	b.declare(f.VarName, elemVar)

	condBlk := b.fn.NewDetachedBlock()
	bodyBlk := b.fn.NewDetachedBlock()
	exitBlk := b.fn.NewDetachedBlock()

	b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(condBlk)})

	b.startBlock(condBlk)
	b.emit(&ir.Quadruple{Op: ir.OpIfLt, Arg1: ir.VarOperand(idxVar), Arg2: ir.IntOperand(int64(arr.ArrayLen)), Result: ir.LabelOperand(bodyBlk)})
	b.startBlock(b.fn.NewDetachedBlock())
	b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(exitBlk)})

	b.startBlock(bodyBlk)
	ptr := b.fresh(ast.Type{Kind: ast.Int}, ir.CatPtr)
	b.emit(&ir.Quadruple{Op: ir.OpGetAddr, Result: ir.VarOperand(ptr), Arg1: ir.VarOperand(arr), Arg2: ir.VarOperand(idxVar)})
	b.emit(&ir.Quadruple{Op: ir.OpReadPtr, Result: ir.VarOperand(elemVar), Arg1: ir.VarOperand(ptr), Arg2: ir.NoneOperand()})
	b.genStmt(f.Body)
	if b.cur.Terminator() == nil {
		b.emit(&ir.Quadruple{Op: ir.OpAdd, Result: ir.VarOperand(idxVar), Arg1: ir.VarOperand(idxVar), Arg2: ir.IntOperand(1)})
		b.emit(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(condBlk)})
	}

	b.startBlock(exitBlk)
	b.popScope()
}
