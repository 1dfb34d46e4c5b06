package liveness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszcz/javalette/internal/ast"
	"github.com/lukaszcz/javalette/internal/cfg"
	"github.com/lukaszcz/javalette/internal/ir"
)

func intVar(fn *ir.Function, name string) *ir.Variable {
	return fn.Vars.New(name, ast.Type{Kind: ast.Int}, ir.CatInt, 4)
}

// TestLiveAcrossBlocks builds
//
//	b0: x := 1         b1: param x; call printInt; return
//
// and checks x flows live across the edge with the right distance.
func TestLiveAcrossBlocks(t *testing.T) {
	fn := ir.NewFunction("f", ast.Type{Kind: ast.Int})
	x := intVar(fn, "x")
	pi := ir.NewBuiltin("printInt", ir.BuiltinPrintInt, ast.Type{Kind: ast.Void})

	b0 := fn.AddBlock()
	b0.Append(&ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(x), Arg1: ir.IntOperand(1)})
	b1 := fn.AddBlock()
	b1.Append(&ir.Quadruple{Op: ir.OpParam, Arg1: ir.VarOperand(x)})
	b1.Append(&ir.Quadruple{Op: ir.OpCall, Arg1: ir.FuncOperand(pi)})
	b1.Append(&ir.Quadruple{Op: ir.OpReturn, Arg1: ir.IntOperand(0)})

	cfg.Build(fn)
	Analyze(fn)

	require.Len(t, b0.LiveAtEnd, 1)
	assert.Same(t, x, b0.LiveAtEnd[0])

	info, ok := b1.VarsAtStart[x]
	require.True(t, ok, "every live-in variable appears in VarsAtStart")
	assert.Equal(t, 0, info.NearestUseDistance, "x is used by b1's first instruction")
	assert.Nil(t, info.Location, "no predecessor has proposed a layout yet")

	assert.Empty(t, b1.LiveAtEnd)
	_, selfLive := b0.VarsAtStart[x]
	assert.False(t, selfLive, "x is defined before use in b0, so it is not live-in there")
}

// TestLoopFixpoint checks liveness converges over a cycle: a loop
// counter is live around the back edge.
func TestLoopFixpoint(t *testing.T) {
	fn := ir.NewFunction("f", ast.Type{Kind: ast.Int})
	i := intVar(fn, "i")

	// b0: i := 0
	// b1: if i >= 3 goto b3 (fallthrough b2)
	// b2: i := i + 1; goto b1
	// b3: return
	b0 := fn.AddBlock()
	b1 := fn.AddBlock()
	b2 := fn.AddBlock()
	b3 := fn.AddBlock()

	b0.Append(&ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(i), Arg1: ir.IntOperand(0)})
	b1.Append(&ir.Quadruple{Op: ir.OpIfGe, Arg1: ir.VarOperand(i), Arg2: ir.IntOperand(3), Result: ir.LabelOperand(b3)})
	b2.Append(&ir.Quadruple{Op: ir.OpAdd, Result: ir.VarOperand(i), Arg1: ir.VarOperand(i), Arg2: ir.IntOperand(1)})
	b2.Append(&ir.Quadruple{Op: ir.OpGoto, Arg1: ir.LabelOperand(b1)})
	b3.Append(&ir.Quadruple{Op: ir.OpReturn, Arg1: ir.NoneOperand()})

	cfg.Build(fn)
	Analyze(fn)

	require.Len(t, b0.LiveAtEnd, 1, "i live into the loop header")
	assert.Same(t, i, b0.LiveAtEnd[0])
	assert.Contains(t, b2.VarsAtStart, i, "i live around the back edge")
	require.Len(t, b2.LiveAtEnd, 1)
	assert.Empty(t, b3.VarsAtStart)
}

func TestVarSetSemantics(t *testing.T) {
	fn := ir.NewFunction("f", ast.Type{Kind: ast.Int})
	a := intVar(fn, "a")
	b := intVar(fn, "b")

	s := NewVarSet()
	s.Set(a, 5)
	s.SetMin(a, 9)
	d, _ := s.Get(a)
	assert.Equal(t, 5, d, "SetMin keeps the nearer use")
	s.SetMin(a, 2)
	d, _ = s.Get(a)
	assert.Equal(t, 2, d)

	s.Set(b, 1)
	assert.Equal(t, 2, s.Len())

	clone := s.Clone()
	clone.Delete(a)
	assert.True(t, s.Has(a), "clone is independent")
	assert.False(t, clone.Has(a))

	other := NewVarSet()
	other.Set(a, 2)
	other.Set(b, 1)
	assert.True(t, s.Equal(other))
	other.Set(b, 3)
	assert.False(t, s.Equal(other))
}
