package codegen

import (
	"io"

	"github.com/lukaszcz/javalette/internal/cfg"
	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/liveness"
	"github.com/lukaszcz/javalette/internal/loctrack"
	"github.com/lukaszcz/javalette/internal/opt"

	"github.com/lukaszcz/javalette/internal/diag"
)

// Level is the -O optimization level: 0 disables local
// optimization and peephole, 1 adds local optimization (peephole is
// wired in by the caller, not here), 2 raises ArgsInRegNum. Liveness
// analysis runs at every level; no further pass is enabled by 2.
type Level int

const (
	O0 Level = iota
	O1
	O2
)

// Context carries one compilation's codegen state, threaded
// explicitly through the driver and the backend hooks instead of
// living in package-level variables.
type Context struct {
	Backend      Backend
	Level        Level
	ArgsInRegNum int
	Bag          *diag.Bag
}

// NewContext resolves the -O2 "4 register args" open question: ArgsInRegNum rises from 0 to 4 only at
// O2.
func NewContext(b Backend, level Level, bag *diag.Bag) *Context {
	args := 0
	if level >= O2 {
		args = 4
	}
	return &Context{Backend: b, Level: level, ArgsInRegNum: args, Bag: bag}
}

// Compile runs the full per-function pipeline (local optimization at
// O1+, liveness, then the driver) over every user function of mod and
// finalizes the backend's output.
func (c *Context) Compile(mod *ir.Module, w io.Writer) {
	c.Backend.Init()
	for _, fn := range mod.Functions {
		if fn.Category == ir.FuncBuiltin {
			continue
		}
		c.compileFunction(fn)
	}
	c.Backend.Final(w)
}

func (c *Context) compileFunction(fn *ir.Function) {
	if c.Level >= O1 {
		opt.Optimize(c.Bag, fn)
		cfg.Build(fn)
		cfg.Elide(fn)
	}
	// Sizes are fixed only now: the optimizer may have created fresh
	// result temporaries.
	c.assignSizes(fn)
	liveness.Analyze(fn)

	t := loctrack.New(c.Backend.Caps(), c.Backend)
	c.Backend.StartFunc(fn, t)

	d := &driver{ctx: c, backend: c.Backend, tracker: t, fn: fn}
	for _, b := range fn.Blocks {
		d.genBlock(b)
	}

	c.Backend.EndFunc(fn, t, t.Slots().FrameSize())
}

// assignSizes fixes every variable's byte size once the backend is
// chosen; categories alone do not determine sizes.
func (c *Context) assignSizes(fn *ir.Function) {
	caps := c.Backend.Caps()
	for i := 0; i < fn.Vars.Len(); i++ {
		v := fn.Vars.At(i)
		switch v.Category {
		case ir.CatDouble:
			v.Size = caps.DoubleSize
		case ir.CatPtr:
			v.Size = caps.PtrSize
		case ir.CatArray:
			elem := caps.IntSize
			if v.ArrayElemCat == ir.CatDouble {
				elem = caps.DoubleSize
			}
			v.Size = v.ArrayLen * elem
		default:
			v.Size = caps.IntSize
		}
	}
}
