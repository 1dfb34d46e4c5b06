// Package ir is the quadruple intermediate representation: variables,
// locations, stack slots, quadruples, basic blocks and functions. It
// has no behavior beyond construction and the small helpers that keep
// the location-list invariants easy to state; the passes
// that populate and consume it live in sibling packages.
package ir

import "github.com/lukaszcz/javalette/internal/ast"

// Category is the IR-level value category, coarser than ast.Type: the
// code generator dispatches on Category, not on the source type.
type Category int

const (
	CatInt Category = iota
	CatDouble
	CatPtr
	CatArray
	CatStr
	CatByte
)

func (c Category) String() string {
	switch c {
	case CatInt:
		return "int"
	case CatDouble:
		return "double"
	case CatPtr:
		return "ptr"
	case CatArray:
		return "array"
	case CatStr:
		return "str"
	case CatByte:
		return "byte"
	default:
		return "?"
	}
}

// CategoryOf maps a source type to its IR category. Arrays carry
// category CatArray for the base-address variable and CatPtr for the
// temporaries GET_ADDR produces.
func CategoryOf(t ast.Type) Category {
	switch t.Kind {
	case ast.Int:
		return CatInt
	case ast.Double:
		return CatDouble
	case ast.Bool:
		return CatByte
	case ast.String:
		return CatStr
	case ast.Array:
		return CatArray
	default:
		return CatInt
	}
}

// LocKind tags the Location sum type.
type LocKind int

const (
	LocRegister LocKind = iota
	LocFPRegister
	LocStack
	LocIntConst
	LocDoubleConst
)

// Location is one residency of a variable: a physical register, an FPU
// stack position, a stack slot, or an immediate constant. Permanent and
// Dirty are meaningful only in the context of the owning Variable's
// location list: Permanent locations persist for the
// variable's remaining lifetime and are unique to it; Dirty is only
// ever set on a Permanent location and means the location does not
// currently hold the variable's value.
type Location struct {
	Kind      LocKind
	Reg       int        // valid for LocRegister / LocFPRegister
	Slot      *StackSlot // valid for LocStack
	IntVal    int64      // valid for LocIntConst
	DoubleVal float64    // valid for LocDoubleConst
	Permanent bool
	Dirty bool
}

// SameResidency reports whether l and other name the same physical
// residency, ignoring Permanent/Dirty. Used to test "not equivalent to
// any existing entry" in UpdateVarLoc and to intersect propagated
// locations at block boundaries.
func (l Location) SameResidency(other Location) bool {
	if l.Kind != other.Kind {
		return false
	}
	switch l.Kind {
	case LocRegister, LocFPRegister:
		return l.Reg == other.Reg
	case LocStack:
		return l.Slot == other.Slot
	case LocIntConst:
		return l.IntVal == other.IntVal
	case LocDoubleConst:
		return l.DoubleVal == other.DoubleVal
	default:
		return false
	}
}

// IsConst reports whether this is an Int or Double immediate.
func (l Location) IsConst() bool {
	return l.Kind == LocIntConst || l.Kind == LocDoubleConst
}

func RegisterLoc(r int) Location   { return Location{Kind: LocRegister, Reg: r} }
func FPRegisterLoc(r int) Location { return Location{Kind: LocFPRegister, Reg: r} }
func StackLoc(s *StackSlot) Location { return Location{Kind: LocStack, Slot: s} }
func IntConstLoc(v int64) Location  { return Location{Kind: LocIntConst, IntVal: v} }
func DoubleConstLoc(v float64) Location { return Location{Kind: LocDoubleConst, DoubleVal: v} }

// StackSlot is one addressable stack cell, byte offset from the frame
// pointer plus byte size. The location tracker (internal/loctrack)
// keeps free slots in an ordered set keyed by offset; Residents tracks
// which variables currently have a non-dirty Stack location pointing here.
type StackSlot struct {
	Offset    int
	Size      int
	Residents []*Variable

	next, prev *StackSlot // link fields; loctrack's slot list does not set them
}

// Variable is a compile-time value-carrying entity. Variables are
// allocated from a Function's arena and never destroyed before the
// function ends; Locs is the ordered list of current residences.
type Variable struct {
	ID       int
	Name     string
	Typ      ast.Type
	Category Category
	Size     int

	// Live is the transient "is this variable live right now" flag the
	// driver and backend flip while lowering a single quadruple.
	Live bool

	Locs []Location

	// IsParam marks one of the function's first N arena variables.
	IsParam bool

	// ArrayLen/ArrayElemCat are valid when Category == CatArray: the
	// fixed element count and per-element category, used to size the
	// backing stack slot and to scale GET_ADDR indices.
	ArrayLen     int
	ArrayElemCat Category
}

// HasLoc reports whether v already has a location with the same
// residency as l, returning it and true if so.
func (v *Variable) HasLoc(l Location) (Location, bool) {
	for _, have := range v.Locs {
		if have.SameResidency(l) {
			return have, true
		}
	}
	return Location{}, false
}

// NonDirtyLocs returns the subset of v.Locs that are authoritative
// (non-dirty), i.e. the locations from which v's value may be read
// directly.
func (v *Variable) NonDirtyLocs() []Location {
	var out []Location
	for _, l := range v.Locs {
		if !l.Dirty {
			out = append(out, l)
		}
	}
	return out
}

// VarArena owns the stable-address storage for one function's
// variables. It hands out variables from pre-sized blocks so existing
// *Variable pointers never move: growth adds a new block rather than
// reallocating.
type VarArena struct {
	blocks    [][]Variable
	blockSize int
	count     int
}

const defaultArenaBlockSize = 64

// NewVarArena creates an empty arena.
func NewVarArena() *VarArena {
	return &VarArena{blockSize: defaultArenaBlockSize}
}

// New allocates and returns a fresh *Variable with a stable address for
// the lifetime of the arena.
func (a *VarArena) New(name string, typ ast.Type, cat Category, size int) *Variable {
	blockIdx := a.count / a.blockSize
	for blockIdx >= len(a.blocks) {
		a.blocks = append(a.blocks, make([]Variable, a.blockSize))
	}
	slot := a.count % a.blockSize
	v := &a.blocks[blockIdx][slot]
	*v = Variable{ID: a.count, Name: name, Typ: typ, Category: cat, Size: size}
	a.count++
	return v
}

// Len returns the number of variables allocated so far.
func (a *VarArena) Len() int { return a.count }

// At returns the variable with the given arena index.
func (a *VarArena) At(id int) *Variable {
	return &a.blocks[id/a.blockSize][id%a.blockSize]
}
