package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszcz/javalette/internal/ast"
	"github.com/lukaszcz/javalette/internal/diag"
)

func parseOK(t *testing.T, src string) *ast.Program {
	t.Helper()
	bag := diag.NewBag("test.jl")
	prog := Parse(src, bag)
	for _, d := range bag.Items() {
		t.Logf("diagnostic: %s", d)
	}
	require.False(t, bag.HasErrors(), "expected a clean parse")
	return prog
}

func TestParseSimpleProgram(t *testing.T) {
	prog := parseOK(t, `
		int main() {
			printInt(2 + 3 * 4);
			return 0;
		}
	`)
	require.Len(t, prog.Functions, 1)
	fn := prog.Functions[0]
	assert.Equal(t, "main", fn.Name)
	assert.Equal(t, ast.Int, fn.RetType.Kind)
	require.Len(t, fn.Body, 2)

	call := fn.Body[0].(ast.ExprStmt).Expr.(ast.Call)
	assert.Equal(t, "printInt", call.Name)
	require.Len(t, call.Args, 1)

	// Precedence: 2 + (3 * 4).
	add := call.Args[0].(ast.Binary)
	assert.Equal(t, ast.Add, add.Op)
	mul := add.Right.(ast.Binary)
	assert.Equal(t, ast.Mul, mul.Op)
}

func TestParseCStyleFor(t *testing.T) {
	prog := parseOK(t, `
		int main() {
			int x = 0;
			for (int i = 0; i < 10; i++) x = x + i;
			printInt(x);
			return 0;
		}
	`)
	fn := prog.Functions[0]
	// The C-style for desugars into a block holding the declaration
	// and a while loop.
	blk := fn.Body[1].(ast.Block)
	require.Len(t, blk.Stmts, 2)
	_ = blk.Stmts[0].(ast.Decl)
	loop := blk.Stmts[1].(ast.While)
	cond := loop.Cond.(ast.Binary)
	assert.Equal(t, ast.Lt, cond.Op)
}

func TestParseArraysAndElementFor(t *testing.T) {
	prog := parseOK(t, `
		int main() {
			double a[3];
			a[0] = 1.5;
			double s = 0.0;
			for (double x : a) s = s + x;
			printDouble(s);
			return 0;
		}
	`)
	fn := prog.Functions[0]
	decl := fn.Body[0].(ast.Decl)
	assert.Equal(t, ast.Array, decl.Typ.Kind)
	assert.Equal(t, ast.Double, decl.Typ.Elem.Kind)

	asn := fn.Body[1].(ast.Assign)
	_ = asn.Target.(ast.ArrayIndex)

	each := fn.Body[3].(ast.For)
	assert.Equal(t, "x", each.VarName)
}

func TestParseShortCircuitPrecedence(t *testing.T) {
	prog := parseOK(t, `
		int main() {
			if (1 < 2 && 2 < 3 || false) printString("yes");
			return 0;
		}
	`)
	cond := prog.Functions[0].Body[0].(ast.If).Cond.(ast.Binary)
	// || binds loosest.
	assert.Equal(t, ast.Or, cond.Op)
	assert.Equal(t, ast.And, cond.Left.(ast.Binary).Op)
}

func TestUndeclaredVariableIsSourceError(t *testing.T) {
	bag := diag.NewBag("test.jl")
	Parse(`int main() { printInt(y); return 0; }`, bag)
	require.True(t, bag.HasErrors())
	assert.Contains(t, bag.Items()[0].String(), "undeclared variable y")
	assert.Contains(t, bag.Items()[0].String(), "test.jl:")
}

func TestErrorsAccumulate(t *testing.T) {
	bag := diag.NewBag("test.jl")
	Parse(`int main() { printInt(y); printInt(z); undeclared(1); return 0; }`, bag)
	require.True(t, bag.HasErrors())
	assert.GreaterOrEqual(t, len(bag.Items()), 3)
}

func TestMissingMain(t *testing.T) {
	bag := diag.NewBag("test.jl")
	Parse(`int helper() { return 1; }`, bag)
	assert.True(t, bag.HasErrors())
}

func TestCallArityChecked(t *testing.T) {
	bag := diag.NewBag("test.jl")
	Parse(`int main() { printInt(1, 2); return 0; }`, bag)
	require.True(t, bag.HasErrors())
	assert.Contains(t, bag.Items()[0].String(), "expects 1 argument")
}
