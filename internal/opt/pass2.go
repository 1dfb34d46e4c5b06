package opt

import "github.com/lukaszcz/javalette/internal/ir"

// localPass2 runs the second local pass over a flat,
// already-DAG-optimized quadruple sequence: trivial-copy removal,
// local dead-assignment removal, a conservative copy-back-propagation
// special case, and copy-forward-propagation.
func localPass2(qs []*ir.Quadruple) []*ir.Quadruple {
	qs = removeTrivialCopies(qs)
	qs = removeDeadAssignments(qs)
	qs = backPropagateCopies(qs)
	qs = forwardPropagateCopies(qs)
	return qs
}

// removeTrivialCopies drops `x := x`.
func removeTrivialCopies(qs []*ir.Quadruple) []*ir.Quadruple {
	out := qs[:0]
	for _, q := range qs {
		if q.Op == ir.OpCopy && q.Arg1.Kind == ir.OperandVar && q.Result.Kind == ir.OperandVar && q.Arg1.Var == q.Result.Var {
			continue
		}
		out = append(out, q)
	}
	return out
}

// removeDeadAssignments drops an assignment to v when v is reassigned
// later in the same block with no intervening read of v.
func removeDeadAssignments(qs []*ir.Quadruple) []*ir.Quadruple {
	dead := make([]bool, len(qs))
	for i, q := range qs {
		v := writtenVar(q)
		if v == nil {
			continue
		}
		for j := i + 1; j < len(qs); j++ {
			used := false
			readVars(qs[j], func(u *ir.Variable) {
				if u == v {
					used = true
				}
			})
			if used {
				break
			}
			if writtenVar(qs[j]) == v {
				dead[i] = true
				break
			}
		}
	}
	out := make([]*ir.Quadruple, 0, len(qs))
	for i, q := range qs {
		if !dead[i] {
			out = append(out, q)
		}
	}
	return out
}

// backPropagateCopies handles the common, safe case of copy
// back-propagation: a copy `v0 := v1` where v1's defining quadruple is
// unique within the block, occurs earlier with no intervening use or
// redefinition of v0 or v1, and v1 is not read again afterwards. In
// that case v1 is pure scaffolding for v0's value, so the defining
// quadruple is renamed to write v0 directly and the copy is dropped.
func backPropagateCopies(qs []*ir.Quadruple) []*ir.Quadruple {
	dead := make([]bool, len(qs))
	for i, q := range qs {
		if q.Op != ir.OpCopy || q.Arg1.Kind != ir.OperandVar || q.Result.Kind != ir.OperandVar {
			continue
		}
		v0, v1 := q.Result.Var, q.Arg1.Var
		if v0 == v1 {
			continue
		}
		defIdx := -1
		for j := i - 1; j >= 0; j-- {
			if dead[j] {
				continue
			}
			touchesV0 := false
			readVars(qs[j], func(u *ir.Variable) {
				if u == v0 {
					touchesV0 = true
				}
			})
			if writtenVar(qs[j]) == v0 || touchesV0 {
				break // v0 touched before reaching v1's def: unsafe
			}
			if writtenVar(qs[j]) == v1 {
				defIdx = j
				break
			}
			readVars(qs[j], func(u *ir.Variable) {
				if u == v1 {
					defIdx = -2 // v1 used by something else first: unsafe
				}
			})
			if defIdx == -2 {
				break
			}
		}
		if defIdx < 0 {
			continue
		}
		// v1 must not be read again after the copy either.
		usedLater := false
		for j := i + 1; j < len(qs); j++ {
			readVars(qs[j], func(u *ir.Variable) {
				if u == v1 {
					usedLater = true
				}
			})
		}
		if usedLater {
			continue
		}
		replaceWrittenVar(qs[defIdx], v0)
		dead[i] = true
	}
	out := make([]*ir.Quadruple, 0, len(qs))
	for i, q := range qs {
		if !dead[i] {
			out = append(out, q)
		}
	}
	return out
}

func replaceWrittenVar(q *ir.Quadruple, to *ir.Variable) {
	switch q.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod, ir.OpCopy, ir.OpReadPtr, ir.OpGetAddr, ir.OpCall:
		if q.Result.Kind == ir.OperandVar {
			q.Result.Var = to
		}
	}
}

// forwardPropagateCopies replaces, after `v0 := v1`, subsequent reads
// of v0 with v1 until either is reassigned.
func forwardPropagateCopies(qs []*ir.Quadruple) []*ir.Quadruple {
	for i, q := range qs {
		if q.Op != ir.OpCopy || q.Arg1.Kind != ir.OperandVar || q.Result.Kind != ir.OperandVar {
			continue
		}
		v0, v1 := q.Result.Var, q.Arg1.Var
		if v0 == v1 {
			continue
		}
		for j := i + 1; j < len(qs); j++ {
			if writtenVar(qs[j]) == v0 || writtenVar(qs[j]) == v1 {
				break
			}
			replaceReads(qs[j], v0, v1)
		}
	}
	return qs
}
