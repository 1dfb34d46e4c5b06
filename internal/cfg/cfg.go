// Package cfg derives each basic block's successor edges from its
// terminating quadruple. It runs once after IR
// construction and again is safe to re-run after the local optimizer
// rewrites a block in place, since optimization never changes a
// block's terminator opcode or target operand.
package cfg

import "github.com/lukaszcz/javalette/internal/ir"

// Build sets Child1/Child2 on every block of fn from its terminating
// quadruple and the block's fallthrough-adjacency successor (the next
// block in fn.Blocks, or nil for the last block).
func Build(fn *ir.Function) {
	for i, b := range fn.Blocks {
		var fallthrough_ *ir.BasicBlock
		if i+1 < len(fn.Blocks) {
			fallthrough_ = fn.Blocks[i+1]
		}
		term := b.Terminator()
		b.Child1, b.Child2 = nil, nil
		switch {
		case term == nil:
			// Empty block: falls through.
			b.Child1 = fallthrough_
		case term.Op == ir.OpReturn:
			// No children.
		case term.Op == ir.OpGoto:
			b.Child1 = term.Arg1.Label
		case term.Op.IsRelational():
			b.Child1 = term.Result.Label
			b.Child2 = fallthrough_
		default:
			b.Child1 = fallthrough_
		}
		if b.Child1 != nil {
			b.Child1.Marks |= ir.MarkReferenced
		}
		if b.Child2 != nil {
			b.Child2.Marks |= ir.MarkReferenced
		}
	}
}

// Successors returns the (up to two) successors of b as a slice, for
// callers that want uniform iteration.
func Successors(b *ir.BasicBlock) []*ir.BasicBlock {
	var out []*ir.BasicBlock
	if b.Child1 != nil {
		out = append(out, b.Child1)
	}
	if b.Child2 != nil && b.Child2 != b.Child1 {
		out = append(out, b.Child2)
	}
	return out
}

// Elide merges empty, unreferenced blocks forward into their single
// successor and drops them from fn.Blocks. Call after Build.
func Elide(fn *ir.Function) {
	kept := make([]*ir.BasicBlock, 0, len(fn.Blocks))
	redirect := make(map[*ir.BasicBlock]*ir.BasicBlock)
	for _, b := range fn.Blocks {
		if b.Empty() && b.Marks&ir.MarkReferenced == 0 && b.Child2 == nil {
			if b.Child1 != nil {
				redirect[b] = b.Child1
			}
			continue
		}
		kept = append(kept, b)
	}
	resolve := func(b *ir.BasicBlock) *ir.BasicBlock {
		seen := map[*ir.BasicBlock]bool{}
		for b != nil {
			next, ok := redirect[b]
			if !ok || seen[b] {
				return b
			}
			seen[b] = true
			b = next
		}
		return b
	}
	for _, b := range kept {
		if b.Child1 != nil {
			b.Child1 = resolve(b.Child1)
		}
		if b.Child2 != nil {
			b.Child2 = resolve(b.Child2)
		}
		if t := b.Terminator(); t != nil {
			if t.Op == ir.OpGoto {
				t.Arg1.Label = resolve(t.Arg1.Label)
			} else if t.Op.IsRelational() {
				t.Result.Label = resolve(t.Result.Label)
			}
		}
	}
	fn.Blocks = kept
}
