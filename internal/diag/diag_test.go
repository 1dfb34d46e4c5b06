package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosticFormat(t *testing.T) {
	bag := NewBag("prog.jl")
	bag.Errorf(Pos{Line: 3, Col: 7}, "undeclared variable %s", "x")
	bag.Warnf(Pos{Line: 5, Col: 1}, "array index %d out of range", 9)

	items := bag.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "prog.jl:3:7: error: undeclared variable x", items[0].String())
	assert.Equal(t, "prog.jl:5:1: warning: array index 9 out of range", items[1].String())
}

func TestHasErrorsIgnoresWarnings(t *testing.T) {
	bag := NewBag("prog.jl")
	bag.Warnf(Pos{Line: 1, Col: 1}, "just a warning")
	assert.False(t, bag.HasErrors())
	bag.Errorf(Pos{Line: 2, Col: 2}, "a real error")
	assert.True(t, bag.HasErrors())
}

func TestArithmeticErrorCarriesFunction(t *testing.T) {
	bag := NewBag("prog.jl")
	bag.ArithmeticErrorf(Pos{Line: 4, Col: 2}, "main", "division or modulo by constant zero")
	require.True(t, bag.HasErrors())
	assert.Contains(t, bag.Items()[0].String(), "in function main")
}

func TestAssertAndRecover(t *testing.T) {
	err := func() (err error) {
		defer func() { err = Recover() }()
		Assert(true, "T1", "never fires")
		Assert(false, "T2", "bad state: %d", 42)
		return nil
	}()
	require.Error(t, err)
	var ie *InternalError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "T2", ie.ID)
	assert.Contains(t, err.Error(), "bad state: 42")
}
