// Package irbuild lowers a validated ast.Program into the ir.Module
// the rest of the core operates on. It owns block/variable
// creation during lowering; everything downstream (CFG derivation,
// local optimization, liveness, codegen) runs on the result.
package irbuild

import (
	"github.com/lukaszcz/javalette/internal/ast"
	"github.com/lukaszcz/javalette/internal/cfg"
	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
)

// Build lowers prog into an ir.Module, recording diagnostics (array
// bound warnings; parsing/type errors are assumed already resolved by
// the front end) in bag. CFG successor edges are derived (cfg.Build)
// before Build returns, so callers receive a fully-linked block graph.
func Build(prog *ast.Program, bag *diag.Bag) *ir.Module {
	mod := &ir.Module{}

	b := &builder{bag: bag, funcSigs: map[string]*ast.Function{}, funcs: map[string]*ir.Function{}}
	b.registerBuiltins()

	// Pre-create a shell ir.Function per declared function so CALL
	// operands (including forward/recursive references) all resolve to
	// the same canonical object that later receives its real body.
	for i := range prog.Functions {
		af := &prog.Functions[i]
		b.funcSigs[af.Name] = af
		shell := ir.NewFunction(af.Name, af.RetType)
		shell.NumParams = len(af.Params)
		b.funcs[af.Name] = shell
	}

	for i := range prog.Functions {
		af := &prog.Functions[i]
		fn := b.funcs[af.Name]
		b.genFunctionBody(af, fn)
		cfg.Build(fn)
		mod.Functions = append(mod.Functions, fn)
	}
	return mod
}

type builder struct {
	bag      *diag.Bag
	funcSigs map[string]*ast.Function
	builtins map[string]*ir.Function

	funcs map[string]*ir.Function

	fn     *ir.Function
	cur    *ir.BasicBlock
	scopes []map[string]*ir.Variable
}

func (b *builder) registerBuiltins() {
	b.builtins = map[string]*ir.Function{
		"printInt":    ir.NewBuiltin("printInt", ir.BuiltinPrintInt, ast.Type{Kind: ast.Void}),
		"printDouble": ir.NewBuiltin("printDouble", ir.BuiltinPrintDouble, ast.Type{Kind: ast.Void}),
		"printString": ir.NewBuiltin("printString", ir.BuiltinPrintString, ast.Type{Kind: ast.Void}),
		"error":       ir.NewBuiltin("error", ir.BuiltinError, ast.Type{Kind: ast.Void}),
		"readInt":     ir.NewBuiltin("readInt", ir.BuiltinReadInt, ast.Type{Kind: ast.Int}),
		"readDouble":  ir.NewBuiltin("readDouble", ir.BuiltinReadDouble, ast.Type{Kind: ast.Double}),
	}
}

func (b *builder) genFunctionBody(af *ast.Function, fn *ir.Function) {
	b.fn = fn

	entry := fn.AddBlock()
	b.cur = entry

	b.pushScope()
	for _, p := range af.Params {
		v := fn.Vars.New(p.Name, p.Typ, ir.CategoryOf(p.Typ), 0)
		v.IsParam = true
		b.declare(p.Name, v)
	}
	for _, s := range af.Body {
		b.genStmt(s)
	}
	b.popScope()

	// Implicit fallthrough return: a void function whose last block
	// does not end in RETURN gets one synthesized.
	if b.cur.Terminator() == nil || b.cur.Terminator().Op != ir.OpReturn {
		if af.RetType.Kind == ast.Void {
			b.cur.Append(&ir.Quadruple{Op: ir.OpReturn, Arg1: ir.NoneOperand()})
		}
	}
}

func (b *builder) pushScope() {
	b.scopes = append(b.scopes, map[string]*ir.Variable{})
}

func (b *builder) popScope() {
	b.scopes = b.scopes[:len(b.scopes)-1]
}

func (b *builder) declare(name string, v *ir.Variable) {
	b.scopes[len(b.scopes)-1][name] = v
}

func (b *builder) lookup(name string) *ir.Variable {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if v, ok := b.scopes[i][name]; ok {
			return v
		}
	}
	return nil
}

// fresh allocates a new temporary variable of the given type/category.
func (b *builder) fresh(typ ast.Type, cat ir.Category) *ir.Variable {
	return b.fn.Vars.New("", typ, cat, 0)
}

// emit appends q to the current block.
func (b *builder) emit(q *ir.Quadruple) { b.cur.Append(q) }

// startBlock places blk as the function's next block and makes it
// current.
func (b *builder) startBlock(blk *ir.BasicBlock) {
	b.fn.Place(blk)
	b.cur = blk
}
