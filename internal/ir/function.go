package ir

import "github.com/lukaszcz/javalette/internal/ast"

// FuncCategory distinguishes user-defined functions from the fixed set
// of built-ins the runtime provides.
type FuncCategory int

const (
	FuncUser FuncCategory = iota
	FuncBuiltin
)

// Builtin enumerates the built-in functions every Javalette program may
// call without a matching user definition.
type Builtin int

const (
	NotBuiltin Builtin = iota
	BuiltinPrintInt
	BuiltinPrintDouble
	BuiltinPrintString
	BuiltinError
	BuiltinReadInt
	BuiltinReadDouble
)

// Function is one compiled function: its blocks, its variable arena
// (whose first NumParams entries are the parameters, in declaration
// order), and a category tag.
type Function struct {
	Name     string
	RetType  ast.Type
	NumParams int
	Blocks   []*BasicBlock
	Vars     *VarArena

	Category FuncCategory
	BuiltinKind Builtin

	// entryEpoch is bumped by traversal helpers that need a fresh
	// Visited epoch (CFG walks, liveness DFS order).
	entryEpoch int

	nextBlockID int
}

// NewFunction creates an empty user function ready to receive blocks.
func NewFunction(name string, ret ast.Type) *Function {
	return &Function{Name: name, RetType: ret, Vars: NewVarArena()}
}

// NewBuiltin creates a Function value standing in for a runtime
// built-in, so call sites can treat builtins and user functions
// uniformly.
func NewBuiltin(name string, kind Builtin, ret ast.Type) *Function {
	f := NewFunction(name, ret)
	f.Category = FuncBuiltin
	f.BuiltinKind = kind
	return f
}

// AddBlock allocates a fresh block, appends it to the function's block
// list immediately, and returns it. Use this for ordinary sequential
// control flow where creation order and fallthrough-adjacency order
// coincide.
func (f *Function) AddBlock() *BasicBlock {
	b := NewBasicBlock(f.nextBlockID)
	f.nextBlockID++
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewDetachedBlock allocates a block with a stable id but does not
// place it into the function's block list. Forward-referenced jump
// targets need
// an identity before the point where they become the fallthrough-
// adjacent block; Place inserts them at the right moment.
func (f *Function) NewDetachedBlock() *BasicBlock {
	b := NewBasicBlock(f.nextBlockID)
	f.nextBlockID++
	return b
}

// Place appends a previously detached block to the function's block
// list, establishing it as the fallthrough-adjacency successor of
// whatever block was last placed.
func (f *Function) Place(b *BasicBlock) {
	f.Blocks = append(f.Blocks, b)
}

// NextEpoch returns a traversal epoch value guaranteed not to equal any
// block's current Visited mark, for a fresh CFG walk.
func (f *Function) NextEpoch() int {
	f.entryEpoch++
	return f.entryEpoch
}

// Params returns the function's parameter variables, in declaration
// order.
func (f *Function) Params() []*Variable {
	out := make([]*Variable, f.NumParams)
	for i := 0; i < f.NumParams; i++ {
		out[i] = f.Vars.At(i)
	}
	return out
}

// Module is a whole compiled translation unit: its user functions, in
// source order. Built-ins are referenced from call operands but are not
// listed here.
type Module struct {
	Functions []*Function
}
