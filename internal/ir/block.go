package ir

// Mark bits are persistent (unlike Visited, which is an epoch-compared
// transient traversal mark).
type Mark uint8

const (
	MarkGenerated Mark = 1 << iota
	MarkReferenced
)

// StartInfo is one entry of a block's VarsAtStart map: the location a
// generated predecessor proposed for v (nil until one has) and the
// nearest-use distance liveness computed for v at block entry.
type StartInfo struct {
	Location            *Location
	NearestUseDistance int
}

// BasicBlock is a maximal straight-line quadruple sequence with a
// single entry and at most two CFG successors. For a conditional,
// Child1 is the taken target and Child2 is the fallthrough; for
// everything else only Child1 (if any) is set.
type BasicBlock struct {
	ID   int
	head *Quadruple
	tail *Quadruple

	Child1, Child2 *BasicBlock

	// Visited is compared against a traversal epoch, not reset between
	// traversals (cheaper than clearing a bool over every block).
	Visited int
	Marks   Mark

	// Flow* are reserved for liveness working sets; internal/liveness
	// keeps its sets in local maps and only resets these to nil.
	FlowDef map[*Variable]bool
	FlowUse map[*Variable]int
	FlowIn  map[*Variable]int
	FlowOut map[*Variable]int

	LiveAtEnd   []*Variable
	VarsAtStart map[*Variable]*StartInfo

	// InstrCount is set by liveness analysis (the block's quadruple
	// count) and is used for nearest-use-distance arithmetic.
	InstrCount int
}

// NewBasicBlock allocates an empty block with the given id.
func NewBasicBlock(id int) *BasicBlock {
	return &BasicBlock{ID: id}
}

// Head returns the first quadruple, or nil if the block is empty.
func (b *BasicBlock) Head() *Quadruple { return b.head }

// Tail returns the last quadruple, or nil if the block is empty.
func (b *BasicBlock) Tail() *Quadruple { return b.tail }

// Empty reports whether the block holds no quadruples.
func (b *BasicBlock) Empty() bool { return b.head == nil }

// Append adds q to the end of the block's quadruple list.
func (b *BasicBlock) Append(q *Quadruple) {
	q.block = b
	q.prev = b.tail
	q.next = nil
	if b.tail != nil {
		b.tail.next = q
	} else {
		b.head = q
	}
	b.tail = q
}

// Clear empties the block's quadruple list (used by the local optimizer
// to rewrite a block in place after DAG scheduling).
func (b *BasicBlock) Clear() {
	b.head = nil
	b.tail = nil
}

// Quadruples returns the block's quadruples as a slice, in order. The
// local optimizer and liveness analyzer work on slices for random
// access; the linked list remains authoritative for Append/Clear.
func (b *BasicBlock) Quadruples() []*Quadruple {
	out := make([]*Quadruple, 0, 8)
	for q := b.head; q != nil; q = q.next {
		out = append(out, q)
	}
	return out
}

// SetQuadruples replaces the block's contents with qs, relinking them.
func (b *BasicBlock) SetQuadruples(qs []*Quadruple) {
	b.Clear()
	for _, q := range qs {
		b.Append(q)
	}
}

// Terminator returns the block's last quadruple, or nil if empty.
func (b *BasicBlock) Terminator() *Quadruple { return b.tail }
