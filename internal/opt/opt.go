package opt

import (
	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
)

// Optimize runs the local (per-block) optimizer over every block of
// fn: DAG-based CSE/constant-folding/copy-redirection, then a second
// linear pass of trivial-copy removal, dead-assignment removal, and
// copy propagation. It mutates fn's blocks in place.
func Optimize(bag *diag.Bag, fn *ir.Function) {
	for _, b := range fn.Blocks {
		optimizeBlock(bag, fn, b)
	}
}

func optimizeBlock(bag *diag.Bag, fn *ir.Function, b *ir.BasicBlock) {
	d := newDAG(bag, fn, fn.Name)
	var out []*ir.Quadruple

	flushAll := func() {
		for _, n := range d.nodes {
			d.flush(n, &out)
		}
	}

	for _, q := range b.Quadruples() {
		switch q.Op {
		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod:
			ln := d.operandNode(q.Arg1)
			rn := d.operandNode(q.Arg2)
			n := d.internalNode(q.Op, ln, rn, diag.Pos{})
			d.bind(q.Result.Var, n)
		case ir.OpCopy:
			src := d.operandNode(q.Arg1)
			d.bind(q.Result.Var, src)
		default:
			flushAll()
			out = append(out, q)
			d = newDAG(bag, fn, fn.Name)
		}
	}
	flushAll()

	out = localPass2(out)
	b.SetQuadruples(out)
}
