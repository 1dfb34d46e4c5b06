package quadr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszcz/javalette/internal/codegen"
	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/irbuild"
	"github.com/lukaszcz/javalette/internal/parser"
)

func compileQuadr(t *testing.T, src string, level codegen.Level) (string, *diag.Bag) {
	t.Helper()
	bag := diag.NewBag("test.jl")
	prog := parser.Parse(src, bag)
	require.False(t, bag.HasErrors(), "fixture must parse: %v", bag.Items())
	mod := irbuild.Build(prog, bag)

	var sb strings.Builder
	ctx := codegen.NewContext(New(), level, bag)
	ctx.Compile(mod, &sb)
	return sb.String(), bag
}

func TestSimpleProgramText(t *testing.T) {
	out, bag := compileQuadr(t, `int main() { printInt(2 + 3 * 4); return 0; }`, codegen.O0)
	assert.False(t, bag.HasErrors())

	assert.Contains(t, out, "function main : int :")
	assert.Contains(t, out, "function end")
	assert.Contains(t, out, "call printInt")
	assert.Contains(t, out, "return 0")
	assert.Contains(t, out, "b0:")
	// Unoptimized arithmetic reaches the backend as real instructions.
	assert.Contains(t, out, ":= 3 * 4")
}

func TestOptimizedConstantReachesParam(t *testing.T) {
	out, bag := compileQuadr(t, `int main() { printInt(2 + 3 * 4); return 0; }`, codegen.O2)
	assert.False(t, bag.HasErrors())
	assert.Contains(t, out, "param 14", "the folded constant flows into the call")
	assert.NotContains(t, out, "* 4")
}

func TestPrintStringForm(t *testing.T) {
	out, _ := compileQuadr(t, `int main() { printString("even"); return 0; }`, codegen.O0)
	assert.Contains(t, out, `print "even"`)
}

func TestSignatureRendering(t *testing.T) {
	out, _ := compileQuadr(t, `
		int add(int a, int b) { return a + b; }
		int main() { printInt(add(1, 2)); return 0; }
	`, codegen.O0)
	assert.Contains(t, out, "function add : int -> int -> int :")
	assert.Contains(t, out, "call add")
	assert.Contains(t, out, "param")
}

func TestRegistersPrintedInDollarForm(t *testing.T) {
	out, _ := compileQuadr(t, `
		int main() {
			int a = readInt();
			printInt(a + 1);
			return 0;
		}
	`, codegen.O0)
	assert.Contains(t, out, "$.i", "integer registers print as $.iN")
}

func TestBranchingProgram(t *testing.T) {
	out, bag := compileQuadr(t, `
		int main() {
			int i = 0;
			while (i < 3) {
				if (i % 2 == 0) printString("even"); else printString("odd");
				i++;
			}
			return 0;
		}
	`, codegen.O1)
	assert.False(t, bag.HasErrors())
	assert.Contains(t, out, "goto b")
	assert.Contains(t, out, "if ")
	assert.Contains(t, out, `print "even"`)
	assert.Contains(t, out, `print "odd"`)
}

func TestLevelsAgreeOnShape(t *testing.T) {
	src := `
		int fact(int n) { if (n < 2) return 1; return n * fact(n - 1); }
		int main() { printInt(fact(6)); return 0; }
	`
	for _, level := range []codegen.Level{codegen.O0, codegen.O1, codegen.O2} {
		out, bag := compileQuadr(t, src, level)
		require.False(t, bag.HasErrors())
		assert.Contains(t, out, "function fact : int -> int :")
		assert.Contains(t, out, "call fact")
		assert.Contains(t, out, "function main : int :")
	}
}
