package irbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/parser"
)

func buildSource(t *testing.T, src string) (*ir.Module, *diag.Bag) {
	t.Helper()
	bag := diag.NewBag("test.jl")
	prog := parser.Parse(src, bag)
	require.False(t, bag.HasErrors(), "fixture must parse: %v", bag.Items())
	return Build(prog, bag), bag
}

func mainFunc(t *testing.T, mod *ir.Module) *ir.Function {
	t.Helper()
	for _, fn := range mod.Functions {
		if fn.Name == "main" {
			return fn
		}
	}
	t.Fatal("no main in module")
	return nil
}

func allQuadruples(fn *ir.Function) []*ir.Quadruple {
	var out []*ir.Quadruple
	for _, b := range fn.Blocks {
		out = append(out, b.Quadruples()...)
	}
	return out
}

func countOp(qs []*ir.Quadruple, op ir.Op) int {
	n := 0
	for _, q := range qs {
		if q.Op == op {
			n++
		}
	}
	return n
}

func TestArithmeticLowering(t *testing.T) {
	mod, _ := buildSource(t, `int main() { printInt(2 + 3 * 4); return 0; }`)
	qs := allQuadruples(mainFunc(t, mod))

	assert.Equal(t, 1, countOp(qs, ir.OpMul))
	assert.Equal(t, 1, countOp(qs, ir.OpAdd))
	assert.Equal(t, 1, countOp(qs, ir.OpParam))
	assert.Equal(t, 1, countOp(qs, ir.OpCall))

	// The multiply feeds the add: MUL result is ADD's second operand.
	var mul, add *ir.Quadruple
	for _, q := range qs {
		switch q.Op {
		case ir.OpMul:
			mul = q
		case ir.OpAdd:
			add = q
		}
	}
	require.NotNil(t, mul)
	require.NotNil(t, add)
	assert.Equal(t, mul.Result.Var, add.Arg2.Var)
}

func TestUnaryMinusBecomesZeroMinus(t *testing.T) {
	mod, _ := buildSource(t, `int main() { int x = 5; printInt(-x); return 0; }`)
	qs := allQuadruples(mainFunc(t, mod))
	var sub *ir.Quadruple
	for _, q := range qs {
		if q.Op == ir.OpSub {
			sub = q
		}
	}
	require.NotNil(t, sub)
	assert.Equal(t, ir.OperandInt, sub.Arg1.Kind)
	assert.Equal(t, int64(0), sub.Arg1.Int)
}

func TestShortCircuitAnd(t *testing.T) {
	mod, _ := buildSource(t, `
		int main() {
			int x = 1;
			if (x > 0 && x < 10) printString("in range");
			return 0;
		}
	`)
	fn := mainFunc(t, mod)
	qs := allQuadruples(fn)

	// Two relational branches, each in its own block: the second
	// comparison must not share a block with the first (it only runs
	// when the first succeeds).
	var rel []*ir.Quadruple
	for _, q := range qs {
		if q.Op.IsRelational() {
			rel = append(rel, q)
		}
	}
	require.Len(t, rel, 2)
	assert.NotEqual(t, rel[0].Block(), rel[1].Block())
}

func TestBoolAsValueMaterializes01(t *testing.T) {
	mod, _ := buildSource(t, `int main() { boolean b = 1 < 2; printInt(0); return 0; }`)
	qs := allQuadruples(mainFunc(t, mod))

	// The two arms copy 1 and 0 into the same fresh variable.
	var writes []*ir.Quadruple
	for _, q := range qs {
		if q.Op == ir.OpCopy && q.Arg1.Kind == ir.OperandInt && (q.Arg1.Int == 0 || q.Arg1.Int == 1) {
			writes = append(writes, q)
		}
	}
	require.GreaterOrEqual(t, len(writes), 2)
}

func TestArrayReadWrite(t *testing.T) {
	mod, bag := buildSource(t, `
		int main() {
			double a[3];
			a[0] = 1.5;
			printDouble(a[0]);
			return 0;
		}
	`)
	assert.False(t, bag.HasErrors())
	qs := allQuadruples(mainFunc(t, mod))

	assert.Equal(t, 2, countOp(qs, ir.OpGetAddr))
	assert.Equal(t, 1, countOp(qs, ir.OpWritePtr))
	assert.Equal(t, 1, countOp(qs, ir.OpReadPtr))

	for _, q := range qs {
		if q.Op == ir.OpGetAddr {
			assert.Equal(t, ir.CatPtr, q.Result.Var.Category)
			assert.Equal(t, ir.CatArray, q.Arg1.Var.Category)
		}
	}
}

func TestConstantIndexOutOfRangeWarns(t *testing.T) {
	_, bag := buildSource(t, `
		int main() {
			int a[2];
			a[5] = 1;
			return 0;
		}
	`)
	require.Len(t, bag.Items(), 1)
	d := bag.Items()[0]
	assert.Equal(t, diag.SeverityWarning, d.Severity)
	assert.False(t, bag.HasErrors(), "a bound warning must not stop compilation")
}

func TestCFGEdgesMatchTerminators(t *testing.T) {
	mod, _ := buildSource(t, `
		int main() {
			int i = 0;
			while (i < 3) { i++; }
			return 0;
		}
	`)
	fn := mainFunc(t, mod)
	for _, b := range fn.Blocks {
		term := b.Terminator()
		switch {
		case term == nil:
			assert.Nil(t, b.Child2)
		case term.Op == ir.OpReturn:
			assert.Nil(t, b.Child1)
			assert.Nil(t, b.Child2)
		case term.Op == ir.OpGoto:
			assert.Equal(t, term.Arg1.Label, b.Child1)
			assert.Nil(t, b.Child2)
		case term.Op.IsRelational():
			assert.Equal(t, term.Result.Label, b.Child1)
			assert.NotNil(t, b.Child2)
		}
	}
}

func TestVoidCallNoResult(t *testing.T) {
	mod, _ := buildSource(t, `
		void nothing() { return; }
		int main() { nothing(); return 0; }
	`)
	qs := allQuadruples(mainFunc(t, mod))
	for _, q := range qs {
		if q.Op == ir.OpCall {
			assert.Equal(t, ir.OperandNone, q.Result.Kind, "a void call carries no result")
		}
	}
}

func TestRecursiveCallResolvesToOneFunction(t *testing.T) {
	mod, _ := buildSource(t, `
		int fact(int n) { if (n < 2) return 1; return n * fact(n - 1); }
		int main() { printInt(fact(6)); return 0; }
	`)
	var fact *ir.Function
	for _, fn := range mod.Functions {
		if fn.Name == "fact" {
			fact = fn
		}
	}
	require.NotNil(t, fact)
	for _, q := range allQuadruples(fact) {
		if q.Op == ir.OpCall {
			assert.Same(t, fact, q.Arg1.Func, "recursive call binds to the enclosing function object")
		}
	}
	assert.Equal(t, 1, fact.NumParams)
}
