// Package liveness implements the global backward data-flow analysis:
// iterative fixpoint over the CFG producing, per block, a finalized
// live-at-end variable list and a vars-at-start map with nearest-use
// distances.
package liveness

import (
	"github.com/lukaszcz/javalette/internal/cfg"
	"github.com/lukaszcz/javalette/internal/ir"
)

const sentinelDistance = 1 << 20

// Analyze computes and finalizes liveness for every block of fn.
func Analyze(fn *ir.Function) {
	order := postorder(fn)

	in := make(map[*ir.BasicBlock]*VarSet, len(fn.Blocks))
	out := make(map[*ir.BasicBlock]*VarSet, len(fn.Blocks))
	def := make(map[*ir.BasicBlock]map[*ir.Variable]bool, len(fn.Blocks))
	use := make(map[*ir.BasicBlock]*VarSet, len(fn.Blocks))

	for _, b := range fn.Blocks {
		d, u := defUse(b)
		def[b] = d
		use[b] = u
		in[b] = NewVarSet()
		out[b] = NewVarSet()
	}

	changed := true
	for changed {
		changed = false
		// Walk the postorder backwards (reverse postorder: the entry
		// block first). The loop repeats until nothing changes, so
		// the order only affects how many sweeps that takes.
		for i := len(order) - 1; i >= 0; i-- {
			b := order[i]
			newOut := NewVarSet()
			for _, s := range cfg.Successors(b) {
				in[s].Range(func(v *ir.Variable, dist int) bool {
					newOut.SetMin(v, dist)
					return true
				})
			}
			newIn := use[b].Clone()
			newOut.Range(func(v *ir.Variable, dist int) bool {
				if def[b][v] {
					return true
				}
				newIn.SetMin(v, dist+b.InstrCount)
				return true
			})
			if !newIn.Equal(in[b]) || !newOut.Equal(out[b]) {
				changed = true
			}
			in[b] = newIn
			out[b] = newOut
		}
	}

	for _, b := range fn.Blocks {
		var liveAtEnd []*ir.Variable
		out[b].Range(func(v *ir.Variable, _ int) bool {
			liveAtEnd = append(liveAtEnd, v)
			return true
		})
		b.LiveAtEnd = liveAtEnd

		starts := make(map[*ir.Variable]*ir.StartInfo, in[b].Len())
		in[b].Range(func(v *ir.Variable, dist int) bool {
			starts[v] = &ir.StartInfo{NearestUseDistance: dist}
			return true
		})
		b.VarsAtStart = starts

		b.FlowDef, b.FlowUse, b.FlowIn, b.FlowOut = nil, nil, nil, nil
	}
}

// defUse computes a block's def set and use map: def is
// the set of variables assigned anywhere in the block; use maps a
// variable to the distance, in instructions, from block start to its
// first read when that read precedes any write to the same variable
// within the block.
func defUse(b *ir.BasicBlock) (map[*ir.Variable]bool, *VarSet) {
	def := map[*ir.Variable]bool{}
	use := NewVarSet()

	qs := b.Quadruples()
	b.InstrCount = len(qs)
	for i, q := range qs {
		readVarsOf(q, func(v *ir.Variable) {
			if !def[v] {
				use.SetMin(v, i)
			}
		})
		if v := writtenVarOf(q); v != nil {
			def[v] = true
		}
	}
	return def, use
}

func writtenVarOf(q *ir.Quadruple) *ir.Variable {
	switch q.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod, ir.OpCopy, ir.OpReadPtr, ir.OpGetAddr, ir.OpCall:
		if q.Result.Kind == ir.OperandVar {
			return q.Result.Var
		}
	}
	return nil
}

func readVarsOf(q *ir.Quadruple, fn func(*ir.Variable)) {
	visit := func(o ir.Operand) {
		if o.Kind == ir.OperandVar {
			fn(o.Var)
		}
	}
	if q.Op == ir.OpWritePtr {
		visit(q.Result)
	}
	visit(q.Arg1)
	visit(q.Arg2)
}

// postorder returns fn's reachable blocks in DFS postorder from the
// entry block, with any unreachable blocks appended afterward so every
// block still gets def/use computed.
func postorder(fn *ir.Function) []*ir.BasicBlock {
	var order []*ir.BasicBlock
	if len(fn.Blocks) == 0 {
		return order
	}
	epoch := fn.NextEpoch()
	var visit func(b *ir.BasicBlock)
	visit = func(b *ir.BasicBlock) {
		if b == nil || b.Visited == epoch {
			return
		}
		b.Visited = epoch
		for _, s := range cfg.Successors(b) {
			visit(s)
		}
		order = append(order, b)
	}
	visit(fn.Blocks[0])
	for _, b := range fn.Blocks {
		if b.Visited != epoch {
			order = append(order, b)
		}
	}
	return order
}
