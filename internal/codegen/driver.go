package codegen

import (
	"github.com/lukaszcz/javalette/internal/cfg"
	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/loctrack"
)

// driver walks one function's blocks, seeding and draining the location
// tracker around each quadruple. It is created fresh per
// function by Context.compileFunction and discarded afterward; all of
// its state is block- or call-scoped.
type driver struct {
	ctx     *Context
	backend Backend
	tracker *loctrack.Tracker
	fn      *ir.Function

	pendingArgs []ir.Operand
}

// genBlock is the per-block driver loop: emit the label, seed live-in
// variables, compute the backward liveness flag bits and nearest-use
// distances, walk the quadruples dispatching to the backend, then
// reconcile live-out variables with successors and discard anything
// now dead.
func (d *driver) genBlock(b *ir.BasicBlock) {
	d.backend.GenLabel(b)
	d.seedBlock(b)

	qs := b.Quadruples()
	d.setLiveFlags(b, qs)

	ud := newUseDistances(b, qs)
	idx := 0
	d.tracker.SetDistanceHint(func(v *ir.Variable) int {
		return ud.distance(v, idx)
	})

	for i, q := range qs {
		idx = i
		d.genQuad(q)
	}

	// The backend itself calls SaveLive ahead of any branch it emits;
	// only a block that simply falls through still needs the
	// reconciliation done here.
	if term := b.Terminator(); term == nil ||
		(term.Op != ir.OpGoto && term.Op != ir.OpReturn && !term.Op.IsRelational()) {
		d.tracker.SaveLive(b, cfg.Successors(b))
	}

	// Live-across variables are discarded here and re-seeded by
	// each successor from its VarsAtStart entry, so no block inherits
	// residencies its other predecessors do not guarantee.
	for _, v := range b.LiveAtEnd {
		d.tracker.DiscardVar(v)
	}
	d.discardDead(b, qs)
}

// seedBlock registers every live-in variable with the tracker at its
// agreed entry location. A location
// propagated by a generated predecessor wins; a variable the tracker
// already holds (function parameters at the entry block) contributes
// its current location as the agreement; anything else is placed fresh
// with no move emitted (there is no value to move yet on this path).
func (d *driver) seedBlock(b *ir.BasicBlock) {
	for v, info := range b.VarsAtStart {
		if info.Location != nil {
			d.tracker.DiscardVar(v)
			d.tracker.UpdateVarLoc(v, *info.Location)
			continue
		}
		if locs := v.NonDirtyLocs(); len(locs) > 0 {
			hint := locs[0]
			info.Location = &hint
			continue
		}
		l := ir.StackLoc(d.tracker.Slots().Alloc(v.Size))
		d.tracker.UpdateVarLoc(v, l)
		info.Location = &l
	}
}

// genQuad dispatches one quadruple to the backend, special-casing the
// argument-accumulation/call pair and COPY, whose bookkeeping effect
// is entirely the tracker's; no code is emitted for it directly.
func (d *driver) genQuad(q *ir.Quadruple) {
	switch q.Op {
	case ir.OpCopy:
		d.tracker.CopyToVar(q.Result.Var, q.Arg1)
	case ir.OpParam:
		d.pendingArgs = append(d.pendingArgs, q.Arg1)
	case ir.OpCall:
		d.genCall(q)
	default:
		d.opportunisticLoad(q)
		d.backend.GenCode(d.tracker, q)
	}
}

// opportunisticLoad moves every non-result variable operand other than
// doubles and arrays that has no register copy into a register ahead of
// dispatch.
// When no register is free, MoveToReg evicts a Belady victim to make
// room; no register-versus-memory distance test is applied here.
func (d *driver) opportunisticLoad(q *ir.Quadruple) {
	q.VarOperands(func(role string, v *ir.Variable) {
		if role == "result" || v.Category == ir.CatDouble || v.Category == ir.CatArray {
			return
		}
		d.tracker.MoveToReg(v)
	})
}

// genCall drains the accumulated PARAM arguments and dispatches to the
// backend, special-casing a single string argument to the printString
// builtin since string
// literals never become IR variables.
func (d *driver) genCall(q *ir.Quadruple) {
	args := d.pendingArgs
	d.pendingArgs = nil

	callee := q.Arg1.Func
	if callee.Category == ir.FuncBuiltin && callee.BuiltinKind == ir.BuiltinPrintString &&
		len(args) == 1 && args[0].Kind == ir.OperandStr {
		d.backend.GenPrintString(args[0].Str)
		return
	}

	var ret *ir.Variable
	if q.Result.Kind == ir.OperandVar {
		ret = q.Result.Var
	}
	d.backend.GenCall(d.tracker, callee, args, ret)
}

// setLiveFlags fills Arg1Live/Arg2Live/ResultLive for every quadruple of
// the block via one backward scan seeded from LiveAtEnd: each flag records whether that occurrence's variable is
// still live immediately after the instruction executes.
func (d *driver) setLiveFlags(b *ir.BasicBlock, qs []*ir.Quadruple) {
	live := make(map[*ir.Variable]bool, len(b.LiveAtEnd))
	for _, v := range b.LiveAtEnd {
		live[v] = true
	}
	for i := len(qs) - 1; i >= 0; i-- {
		q := qs[i]
		if q.Result.Kind == ir.OperandVar {
			q.ResultLive = live[q.Result.Var]
		}
		if q.Arg1.Kind == ir.OperandVar {
			q.Arg1Live = live[q.Arg1.Var]
		}
		if q.Arg2.Kind == ir.OperandVar {
			q.Arg2Live = live[q.Arg2.Var]
		}
		if w := quadWrittenVar(q); w != nil {
			delete(live, w)
		}
		quadReadVars(q, func(v *ir.Variable) { live[v] = true })
	}
}

// discardDead releases tracker bookkeeping for every variable the block
// touched but that liveness proved dead on every outgoing edge: nothing downstream can read them, so their registers
// and stack slots are free immediately rather than waiting for the
// backend's own end-of-function sweep.
func (d *driver) discardDead(b *ir.BasicBlock, qs []*ir.Quadruple) {
	liveOut := make(map[*ir.Variable]bool, len(b.LiveAtEnd))
	for _, v := range b.LiveAtEnd {
		liveOut[v] = true
	}
	seen := map[*ir.Variable]bool{}
	for _, q := range qs {
		q.VarOperands(func(_ string, v *ir.Variable) {
			if !seen[v] && !liveOut[v] {
				seen[v] = true
				d.tracker.DiscardVar(v)
			}
		})
	}
}

func quadWrittenVar(q *ir.Quadruple) *ir.Variable {
	switch q.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod, ir.OpCopy, ir.OpReadPtr, ir.OpGetAddr, ir.OpCall:
		if q.Result.Kind == ir.OperandVar {
			return q.Result.Var
		}
	}
	return nil
}

func quadReadVars(q *ir.Quadruple, fn func(*ir.Variable)) {
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

// useDistances answers, for a variable and a position within one
// block's quadruple list, the instruction distance to its next read.
// A variable with no further local read falls back to a distance to
// block end if live out, or a large sentinel if it is simply dead
// (cheap to spill).
type useDistances struct {
	n         int
	reads     map[*ir.Variable][]int
	liveAtEnd map[*ir.Variable]bool
}

func newUseDistances(b *ir.BasicBlock, qs []*ir.Quadruple) *useDistances {
	ud := &useDistances{n: len(qs), reads: map[*ir.Variable][]int{}, liveAtEnd: map[*ir.Variable]bool{}}
	for i, q := range qs {
		quadReadVars(q, func(v *ir.Variable) {
			ud.reads[v] = append(ud.reads[v], i)
		})
	}
	for _, v := range b.LiveAtEnd {
		ud.liveAtEnd[v] = true
	}
	return ud
}

func (u *useDistances) distance(v *ir.Variable, from int) int {
	best := -1
	for _, pos := range u.reads[v] {
		if pos >= from && (best < 0 || pos < best) {
			best = pos
		}
	}
	if best >= 0 {
		return best - from
	}
	if u.liveAtEnd[v] {
		return u.n - from
	}
	return 1 << 20
}
