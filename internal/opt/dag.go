// Package opt implements the per-block local optimizer: a value-
// numbering DAG with constant folding and common-subexpression reuse,
// followed by a second linear pass that removes trivial and dead
// copies and propagates copies forward/backward.
package opt

import (
	"math"

	"github.com/lukaszcz/javalette/internal/ast"
	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
)

type nodeKind int

const (
	nodeLeafVar nodeKind = iota
	nodeLeafConst
	nodeInternal
)

type node struct {
	id   int
	kind nodeKind

	// leaf
	leafVar   *ir.Variable
	constOp   ir.Operand // IntOperand/DoubleOperand

	// internal
	op          ir.Op
	left, right *node

	varList   []*ir.Variable
	resultVar *ir.Variable
	flushed   bool
}

// dag holds one basic block's in-progress value-numbering graph.
type dag struct {
	bag      *diag.Bag
	fn       *ir.Function
	funcName string

	nodes    []*node
	byVar    map[*ir.Variable]*node
	byKey    map[int64]*node
	byConst  map[int64]*node // packed const key -> leaf
	nextID   int
}

func newDAG(bag *diag.Bag, fn *ir.Function, funcName string) *dag {
	return &dag{
		bag:      bag,
		fn:       fn,
		funcName: funcName,
		byVar:    map[*ir.Variable]*node{},
		byKey:    map[int64]*node{},
		byConst:  map[int64]*node{},
	}
}

func (d *dag) newNode() *node {
	n := &node{id: d.nextID}
	d.nextID++
	d.nodes = append(d.nodes, n)
	return n
}

// leafForVar returns (creating if necessary) the current leaf node for a
// live-in/not-yet-seen variable: its value is whatever the variable
// holds at block entry or at its most recent direct definition.
func (d *dag) leafForVar(v *ir.Variable) *node {
	if n, ok := d.byVar[v]; ok {
		return n
	}
	n := d.newNode()
	n.kind = nodeLeafVar
	n.leafVar = v
	n.varList = []*ir.Variable{v}
	d.byVar[v] = n
	return n
}

func constKey(o ir.Operand) int64 {
	if o.Kind == ir.OperandInt {
		return o.Int<<1 | 1
	}
	// Doubles key on their exact IEEE-754 bit pattern shifted clear of
	// the int tag bit, so equal doubles (and only equal doubles) share
	// a leaf.
	return int64(math.Float64bits(o.Double)) << 1
}

func (d *dag) leafForConst(o ir.Operand) *node {
	key := constKey(o)
	if n, ok := d.byConst[key]; ok {
		return n
	}
	n := d.newNode()
	n.kind = nodeLeafConst
	n.constOp = o
	d.byConst[key] = n
	return n
}

// operandNode resolves an arithmetic operand (var or const) to its
// current DAG node.
func (d *dag) operandNode(o ir.Operand) *node {
	if o.Kind == ir.OperandVar {
		return d.leafForVar(o.Var)
	}
	return d.leafForConst(o)
}

func packKey(op ir.Op, l, r int) int64 {
	return int64(op)<<48 | int64(l)<<24 | int64(r)
}

// internalNode finds or creates the canonical node for op applied to
// (l, r), canonicalizing commutative operand order by node id. Constant-constant pairs are folded immediately.
func (d *dag) internalNode(op ir.Op, l, r *node, pos diag.Pos) *node {
	if op.IsCommutative() && l.id > r.id {
		l, r = r, l
	}
	key := packKey(op, l.id, r.id)
	if n, ok := d.byKey[key]; ok {
		return n
	}
	if l.kind == nodeLeafConst && r.kind == nodeLeafConst {
		folded, ok := foldConst(op, l.constOp, r.constOp)
		if !ok {
			d.bag.ArithmeticErrorf(pos, d.funcName, "division or modulo by constant zero")
			folded = ir.IntOperand(1)
		}
		n := d.leafForConst(folded)
		d.byKey[key] = n
		return n
	}
	n := d.newNode()
	n.kind = nodeInternal
	n.op = op
	n.left, n.right = l, r
	d.byKey[key] = n
	return n
}

func foldConst(op ir.Op, l, r ir.Operand) (ir.Operand, bool) {
	if l.Kind == ir.OperandInt && r.Kind == ir.OperandInt {
		a, b := l.Int, r.Int
		switch op {
		case ir.OpAdd:
			return ir.IntOperand(a + b), true
		case ir.OpSub:
			return ir.IntOperand(a - b), true
		case ir.OpMul:
			return ir.IntOperand(a * b), true
		case ir.OpDiv:
			if b == 0 {
				return ir.Operand{}, false
			}
			return ir.IntOperand(a / b), true
		case ir.OpMod:
			if b == 0 {
				return ir.Operand{}, false
			}
			return ir.IntOperand(a % b), true
		}
	}
	af, bf := toFloat(l), toFloat(r)
	switch op {
	case ir.OpAdd:
		return ir.DoubleOperand(af + bf), true
	case ir.OpSub:
		return ir.DoubleOperand(af - bf), true
	case ir.OpMul:
		return ir.DoubleOperand(af * bf), true
	case ir.OpDiv:
		if bf == 0 {
			return ir.Operand{}, false
		}
		return ir.DoubleOperand(af / bf), true
	}
	return ir.Operand{}, false
}

func toFloat(o ir.Operand) float64 {
	if o.Kind == ir.OperandInt {
		return float64(o.Int)
	}
	return o.Double
}

// bind associates result with node n, removing result from whatever
// node it previously belonged to (a variable holds exactly one DAG
// value at a time).
func (d *dag) bind(result *ir.Variable, n *node) {
	if old, ok := d.byVar[result]; ok && old != n {
		old.varList = removeVar(old.varList, result)
	}
	d.byVar[result] = n
	n.varList = appendUnique(n.varList, result)
}

func removeVar(list []*ir.Variable, v *ir.Variable) []*ir.Variable {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func appendUnique(list []*ir.Variable, v *ir.Variable) []*ir.Variable {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// operand returns the flushed operand representing n's current value:
// the original live-in variable for a var leaf, the immediate for a
// const leaf, or the materialized result variable for an internal node
// (must already be flushed).
func (n *node) operand() ir.Operand {
	switch n.kind {
	case nodeLeafVar:
		return ir.VarOperand(n.leafVar)
	case nodeLeafConst:
		return n.constOp
	default:
		return ir.VarOperand(n.resultVar)
	}
}

// flush emits, into out, whatever quadruples are needed to materialize
// n's value and assign it to every variable in n.varList, recursing
// into children first (post-order) so operands are always already
// materialized.
func (d *dag) flush(n *node, out *[]*ir.Quadruple) {
	if n.flushed {
		return
	}
	n.flushed = true

	switch n.kind {
	case nodeLeafVar:
		for _, v := range n.varList {
			if v != n.leafVar {
				*out = append(*out, &ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(v), Arg1: ir.VarOperand(n.leafVar)})
			}
		}
	case nodeLeafConst:
		for _, v := range n.varList {
			*out = append(*out, &ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(v), Arg1: n.constOp})
		}
	case nodeInternal:
		d.flush(n.left, out)
		d.flush(n.right, out)
		cat := resultCategory(n.left, n.right)
		if len(n.varList) > 0 {
			n.resultVar = n.varList[0]
		} else {
			n.resultVar = d.fn.Vars.New("", catToDefaultType(cat), cat, 0)
		}
		*out = append(*out, &ir.Quadruple{Op: n.op, Result: ir.VarOperand(n.resultVar), Arg1: n.left.operand(), Arg2: n.right.operand()})
		for _, v := range n.varList {
			if v != n.resultVar {
				*out = append(*out, &ir.Quadruple{Op: ir.OpCopy, Result: ir.VarOperand(v), Arg1: ir.VarOperand(n.resultVar)})
			}
		}
	}
}

func resultCategory(l, r *node) ir.Category {
	if leafCat(l) == ir.CatDouble || leafCat(r) == ir.CatDouble {
		return ir.CatDouble
	}
	return ir.CatInt
}

func leafCat(n *node) ir.Category {
	switch n.kind {
	case nodeLeafVar:
		return n.leafVar.Category
	case nodeLeafConst:
		if n.constOp.Kind == ir.OperandDouble {
			return ir.CatDouble
		}
		return ir.CatInt
	default:
		if n.resultVar != nil {
			return n.resultVar.Category
		}
		return ir.CatInt
	}
}

func catToDefaultType(cat ir.Category) ast.Type {
	if cat == ir.CatDouble {
		return ast.Type{Kind: ast.Double}
	}
	return ast.Type{Kind: ast.Int}
}
