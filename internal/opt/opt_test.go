package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszcz/javalette/internal/ast"
	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/irbuild"
	"github.com/lukaszcz/javalette/internal/parser"
)

func optimizedMain(t *testing.T, src string) (*ir.Function, *diag.Bag) {
	t.Helper()
	bag := diag.NewBag("test.jl")
	prog := parser.Parse(src, bag)
	require.False(t, bag.HasErrors(), "fixture must parse: %v", bag.Items())
	mod := irbuild.Build(prog, bag)
	for _, fn := range mod.Functions {
		if fn.Name == "main" {
			Optimize(bag, fn)
			return fn, bag
		}
	}
	t.Fatal("no main")
	return nil, nil
}

func quads(fn *ir.Function) []*ir.Quadruple {
	var out []*ir.Quadruple
	for _, b := range fn.Blocks {
		out = append(out, b.Quadruples()...)
	}
	return out
}

func TestConstantFolding(t *testing.T) {
	fn, bag := optimizedMain(t, `int main() { printInt(2 + 3 * 4); return 0; }`)
	assert.False(t, bag.HasErrors())

	// Both arithmetic quadruples fold away; the param's variable is fed
	// by a single constant copy of 14.
	for _, q := range quads(fn) {
		assert.NotEqual(t, ir.OpMul, q.Op)
		assert.NotEqual(t, ir.OpAdd, q.Op)
	}
	found := false
	for _, q := range quads(fn) {
		if q.Op == ir.OpCopy && q.Arg1.Kind == ir.OperandInt && q.Arg1.Int == 14 {
			found = true
		}
	}
	assert.True(t, found, "expected a copy of the folded constant 14")
}

func TestDoubleConstantFolding(t *testing.T) {
	fn, _ := optimizedMain(t, `int main() { printDouble(1.5 + 2.5); return 0; }`)
	found := false
	for _, q := range quads(fn) {
		if q.Op == ir.OpCopy && q.Arg1.Kind == ir.OperandDouble && q.Arg1.Double == 4.0 {
			found = true
		}
	}
	assert.True(t, found, "expected a copy of the folded constant 4.0")
}

func TestDivisionByConstantZero(t *testing.T) {
	fn, bag := optimizedMain(t, `int main() { printInt(7 / 0); return 0; }`)
	require.True(t, bag.HasErrors(), "division by a constant zero is a source error")
	assert.Contains(t, bag.Items()[0].String(), "main")

	// The folded value becomes 1 so the downstream IR stays well-formed.
	found := false
	for _, q := range quads(fn) {
		if q.Op == ir.OpCopy && q.Arg1.Kind == ir.OperandInt && q.Arg1.Int == 1 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCommonSubexpressionElimination(t *testing.T) {
	fn, _ := optimizedMain(t, `
		int main() {
			int a = readInt();
			int b = readInt();
			printInt((a + b) * (a + b));
			return 0;
		}
	`)
	adds := 0
	for _, q := range quads(fn) {
		if q.Op == ir.OpAdd {
			adds++
		}
	}
	assert.Equal(t, 1, adds, "a+b computed once, reused by the multiply")
}

func TestCommutativeCanonicalization(t *testing.T) {
	fn, _ := optimizedMain(t, `
		int main() {
			int a = readInt();
			int b = readInt();
			printInt((a + b) + (b + a));
			return 0;
		}
	`)
	adds := 0
	for _, q := range quads(fn) {
		if q.Op == ir.OpAdd {
			adds++
		}
	}
	// a+b and b+a share one node; one more add combines the two uses.
	assert.Equal(t, 2, adds)
}

func TestTrivialCopyRemoved(t *testing.T) {
	v := newVar(1)
	qs := []*ir.Quadruple{
		{Op: ir.OpCopy, Result: ir.VarOperand(v), Arg1: ir.VarOperand(v)},
	}
	out := localPass2(qs)
	assert.Empty(t, out)
}

func TestDeadAssignmentRemoved(t *testing.T) {
	v := newVar(1)
	a := newVar(2)
	qs := []*ir.Quadruple{
		{Op: ir.OpCopy, Result: ir.VarOperand(v), Arg1: ir.IntOperand(1)},
		{Op: ir.OpCopy, Result: ir.VarOperand(v), Arg1: ir.IntOperand(2)},
		{Op: ir.OpAdd, Result: ir.VarOperand(a), Arg1: ir.VarOperand(v), Arg2: ir.IntOperand(0)},
	}
	out := localPass2(qs)
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].Arg1.Int, "the overwritten first copy is dropped")
}

func TestForwardCopyPropagation(t *testing.T) {
	v0, v1, r := newVar(1), newVar(2), newVar(3)
	qs := []*ir.Quadruple{
		{Op: ir.OpCopy, Result: ir.VarOperand(v0), Arg1: ir.VarOperand(v1)},
		{Op: ir.OpAdd, Result: ir.VarOperand(r), Arg1: ir.VarOperand(v0), Arg2: ir.IntOperand(1)},
	}
	out := forwardPropagateCopies(qs)
	assert.Same(t, v1, out[1].Arg1.Var, "use of v0 rewritten to v1 after v0 := v1")
}

func newVar(id int) *ir.Variable {
	return &ir.Variable{ID: id, Typ: ast.Type{Kind: ast.Int}, Category: ir.CatInt}
}
