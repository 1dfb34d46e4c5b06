package codegen_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszcz/javalette/internal/backend/quadr"
	"github.com/lukaszcz/javalette/internal/codegen"
	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/irbuild"
	"github.com/lukaszcz/javalette/internal/parser"
)

func compile(t *testing.T, src string, level codegen.Level) (*ir.Module, string) {
	t.Helper()
	bag := diag.NewBag("test.jl")
	prog := parser.Parse(src, bag)
	require.False(t, bag.HasErrors(), "fixture must parse: %v", bag.Items())
	mod := irbuild.Build(prog, bag)

	var sb strings.Builder
	ctx := codegen.NewContext(quadr.New(), level, bag)
	ctx.Compile(mod, &sb)
	require.False(t, bag.HasErrors(), "unexpected diagnostics: %v", bag.Items())
	return mod, sb.String()
}

// TestLiveFlagsReflectPostInstructionLiveness recomputes block-local
// liveness independently and checks the flags the driver recorded on
// every generated quadruple.
func TestLiveFlagsReflectPostInstructionLiveness(t *testing.T) {
	mod, _ := compile(t, `
		int main() {
			int a = readInt();
			int b = a + 1;
			int c = a + b;
			printInt(c);
			return 0;
		}
	`, codegen.O0)

	for _, fn := range mod.Functions {
		if fn.Category == ir.FuncBuiltin {
			continue
		}
		for _, blk := range fn.Blocks {
			qs := blk.Quadruples()
			live := map[*ir.Variable]bool{}
			for _, v := range blk.LiveAtEnd {
				live[v] = true
			}
			for i := len(qs) - 1; i >= 0; i-- {
				q := qs[i]
				if q.Arg1.Kind == ir.OperandVar {
					assert.Equal(t, live[q.Arg1.Var], q.Arg1Live,
						"b%d[%d] %v arg1 liveness", blk.ID, i, q.Op)
				}
				if q.Arg2.Kind == ir.OperandVar {
					assert.Equal(t, live[q.Arg2.Var], q.Arg2Live,
						"b%d[%d] %v arg2 liveness", blk.ID, i, q.Op)
				}
				if w := writtenBy(q); w != nil {
					delete(live, w)
				}
				readsOf(q, func(v *ir.Variable) { live[v] = true })
			}
		}
	}
}

func writtenBy(q *ir.Quadruple) *ir.Variable {
	switch q.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod, ir.OpCopy, ir.OpReadPtr, ir.OpGetAddr, ir.OpCall:
		if q.Result.Kind == ir.OperandVar {
			return q.Result.Var
		}
	}
	return nil
}

func readsOf(q *ir.Quadruple, fn func(*ir.Variable)) {
	if q.Op == ir.OpWritePtr && q.Result.Kind == ir.OperandVar {
		fn(q.Result.Var)
	}
	if q.Arg1.Kind == ir.OperandVar {
		fn(q.Arg1.Var)
	}
	if q.Arg2.Kind == ir.OperandVar {
		fn(q.Arg2.Var)
	}
}

// TestSameVariableEverywhere: result and both operands are one
// variable; the lowering must not lose the operand value before the
// store.
func TestSameVariableEverywhere(t *testing.T) {
	_, out := compile(t, `
		int main() {
			int x = readInt();
			x = x + x;
			printInt(x);
			return 0;
		}
	`, codegen.O0)
	assert.Contains(t, out, "call printInt")
	assert.Contains(t, out, "+")
}

// TestAllLevelsProduceOutput runs a set of representative programs
// through every optimization level; whatever the level, the same
// functions and calls must come out the other end.
func TestAllLevelsProduceOutput(t *testing.T) {
	sources := map[string]string{
		"constant arithmetic": `int main() { printInt(2 + 3 * 4); return 0; }`,
		"counted loop":        `int main() { int x = 0; for (int i = 0; i < 10; i++) x = x + i; printInt(x); return 0; }`,
		"double array":        `int main() { double a[3]; a[0] = 1.5; a[1] = 2.5; a[2] = a[0] + a[1]; printDouble(a[2]); return 0; }`,
		"recursion": `int fact(int n) { if (n < 2) return 1; return n * fact(n - 1); }
		              int main() { printInt(fact(6)); return 0; }`,
		"branching": `int main() { int i = 0; while (i < 3) { if (i % 2 == 0) printString("even"); else printString("odd"); i++; } return 0; }`,
	}
	for name, src := range sources {
		for _, level := range []codegen.Level{codegen.O0, codegen.O1, codegen.O2} {
			_, out := compile(t, src, level)
			assert.Contains(t, out, "function main : int :", "%s at O%d", name, level)
			assert.Contains(t, out, "function end", "%s at O%d", name, level)
			assert.Contains(t, out, "print", "%s at O%d", name, level)
		}
	}
}

// TestEmptyEntryBlockStillFlows: trivial entry control flow (an
// unconditional constant condition) still compiles through the whole
// pipeline.
func TestEmptyEntryBlockStillFlows(t *testing.T) {
	_, out := compile(t, `
		int main() {
			if (true) printInt(1);
			return 0;
		}
	`, codegen.O0)
	assert.Contains(t, out, "call printInt")
	assert.Contains(t, out, "return 0")
}
