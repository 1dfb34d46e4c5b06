package x86

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszcz/javalette/internal/codegen"
	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/irbuild"
	"github.com/lukaszcz/javalette/internal/parser"
	"github.com/lukaszcz/javalette/internal/peephole"
)

func compileX86(t *testing.T, src string, level codegen.Level, opts Options) string {
	t.Helper()
	bag := diag.NewBag("test.jl")
	prog := parser.Parse(src, bag)
	require.False(t, bag.HasErrors(), "fixture must parse: %v", bag.Items())
	mod := irbuild.Build(prog, bag)

	var sb strings.Builder
	ctx := codegen.NewContext(New(opts), level, bag)
	ctx.Compile(mod, &sb)
	require.False(t, bag.HasErrors(), "unexpected diagnostics: %v", bag.Items())
	return sb.String()
}

func TestSimpleProgram(t *testing.T) {
	out := compileX86(t, `int main() { printInt(2 + 3 * 4); return 0; }`, codegen.O0, Options{})

	assert.Contains(t, out, "jl_main:")
	assert.Contains(t, out, "push ebp")
	assert.Contains(t, out, "mov ebp, esp")
	assert.Contains(t, out, "call printInt")
	assert.Contains(t, out, "imul")
	assert.Contains(t, out, "ret")
	assert.Contains(t, out, "global jl_main")
	assert.Contains(t, out, "extern printInt")

	// All deferred tokens must be patched away.
	assert.NotContains(t, out, "@P@")
	assert.NotContains(t, out, "@E@")
	assert.NotContains(t, out, "@FP@")
}

func TestOptimizedConstantArgument(t *testing.T) {
	out := compileX86(t, `int main() { printInt(2 + 3 * 4); return 0; }`,
		codegen.O1, Options{PeepholeRules: peephole.DefaultRules()})
	assert.Contains(t, out, "push 14", "the folded constant is pushed directly")
	assert.NotContains(t, out, "imul")
}

func TestDoubleArithmeticAndPool(t *testing.T) {
	out := compileX86(t, `
		int main() {
			double a[3];
			a[0] = 1.5;
			a[1] = 2.5;
			a[2] = a[0] + a[1];
			printDouble(a[2]);
			return 0;
		}
	`, codegen.O0, Options{})

	assert.Contains(t, out, "finit", "lazy FPU initialization on first double use")
	assert.Contains(t, out, "fld")
	assert.Contains(t, out, "fstp")
	assert.Contains(t, out, "fadd")
	assert.Contains(t, out, "call printDouble")
	assert.Contains(t, out, "section .data")
	assert.Contains(t, out, "LC_main_0: dq 1.5")
	assert.Contains(t, out, "LC_main_1: dq 2.5")
	assert.Contains(t, out, "lea", "array element addresses computed off the frame pointer")
	assert.NotContains(t, out, "@FP@")
}

func TestDoubleCompareClassic(t *testing.T) {
	out := compileX86(t, `
		int main() {
			double x = readDouble();
			if (x < 1.0) printString("small");
			return 0;
		}
	`, codegen.O0, Options{})
	assert.Contains(t, out, "fcom")
	assert.Contains(t, out, "fstsw ax")
	assert.Contains(t, out, "sahf")
	assert.Contains(t, out, "jb .b")
}

func TestRecursionAndStackParams(t *testing.T) {
	out := compileX86(t, `
		int fact(int n) { if (n < 2) return 1; return n * fact(n - 1); }
		int main() { printInt(fact(6)); return 0; }
	`, codegen.O0, Options{})

	assert.Contains(t, out, "jl_fact:")
	assert.Contains(t, out, "call jl_fact")
	assert.Contains(t, out, "[ebp+8]", "the parameter's home is above the frame pointer")
}

func TestRegisterArgsAtO2(t *testing.T) {
	out := compileX86(t, `
		int add(int a, int b) { return a + b; }
		int main() { printInt(add(1, 2)); return 0; }
	`, codegen.O2, Options{ArgsInRegNum: 4, PeepholeRules: peephole.DefaultRules()})

	assert.Contains(t, out, "call jl_add")
	assert.Contains(t, out, "mov ebx, 2", "the second integer argument travels in a register at -O2")
}

func TestDivisionLowering(t *testing.T) {
	out := compileX86(t, `
		int main() {
			int a = readInt();
			printInt(a / 3);
			printInt(a % 3);
			return 0;
		}
	`, codegen.O0, Options{})
	assert.Contains(t, out, "cdq")
	assert.Contains(t, out, "idiv")
}

func TestPowerOfTwoDivisionAvoidsIdiv(t *testing.T) {
	out := compileX86(t, `
		int main() {
			int a = readInt();
			printInt(a / 8);
			return 0;
		}
	`, codegen.O0, Options{})
	assert.Contains(t, out, "sar")
	assert.NotContains(t, out, "idiv")
}

func TestStringPool(t *testing.T) {
	out := compileX86(t, `
		int main() {
			printString("even");
			printString("odd");
			printString("even");
			return 0;
		}
	`, codegen.O0, Options{})
	assert.Contains(t, out, `LS_0: db "even", 0`)
	assert.Contains(t, out, `LS_1: db "odd", 0`)
	assert.Equal(t, 1, strings.Count(out, `db "even"`), "equal literals share one pool entry")
	assert.Contains(t, out, "call printString")
}

func TestLoopProgram(t *testing.T) {
	out := compileX86(t, `
		int main() {
			int x = 0;
			int i = 0;
			while (i < 10) { x = x + i; i++; }
			printInt(x);
			return 0;
		}
	`, codegen.O1, Options{PeepholeRules: peephole.DefaultRules()})

	assert.Contains(t, out, "cmp")
	assert.Contains(t, out, "jl .b", "loop condition branches with a signed compare")
	assert.Contains(t, out, "jmp .b")
	assert.NotContains(t, out, "@FP@")
	assert.NotContains(t, out, "mov eax, eax", "peephole removes self-moves")
}

func TestBranchesReconcileBeforeJump(t *testing.T) {
	// A value live across an if/else join must be usable on both paths.
	out := compileX86(t, `
		int main() {
			int i = 0;
			while (i < 3) {
				if (i % 2 == 0) printString("even"); else printString("odd");
				i++;
			}
			return 0;
		}
	`, codegen.O1, Options{PeepholeRules: peephole.DefaultRules()})
	assert.Contains(t, out, "je .b")
	assert.Contains(t, out, "call printString")
	assert.NotContains(t, out, "@P@")
}

func TestNasmStringEscaping(t *testing.T) {
	assert.Equal(t, `"even", 0`, nasmString("even"))
	assert.Equal(t, `"line", 10, 0`, nasmString("line\n"))
	assert.Equal(t, `34, "quoted", 34, 0`, nasmString(`"quoted"`))
}

func TestFrameTokenMapping(t *testing.T) {
	f := frame{}
	assert.Equal(t, "ebp-8", f.FrameRef(8))
	assert.Equal(t, "ebp+8", f.FrameRef(-8))
	assert.Equal(t, []string{"\tpush ebp", "\tmov ebp, esp", "\tsub esp, 16"}, f.Prologue(16))
	assert.Equal(t, []string{"\tmov esp, ebp", "\tpop ebp", "\tret"}, f.Epilogue(16))
}
