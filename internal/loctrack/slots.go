package loctrack

import (
	"github.com/google/btree"

	"github.com/lukaszcz/javalette/internal/ir"
)

func lessSlot(a, b *ir.StackSlot) bool { return a.Offset < b.Offset }

// slotList owns one function's stack slots: every slot allocated, in a
// slice in offset order (the sentinel slot is not linked to them or
// through next/prev), plus the free slots in an ordered set keyed by offset
// so the lowest free slot is a Min() lookup away, never a scan. The
// free set shares the ordered-map package the liveness sets use.
type slotList struct {
	sentinel *ir.StackSlot
	all      []*ir.StackSlot
	frameTop int // next never-yet-used byte offset
	free     *btree.BTreeG[*ir.StackSlot]
}

func newSlotList() *slotList {
	return &slotList{
		sentinel: &ir.StackSlot{Offset: -1, Size: 0},
		free:     btree.NewG(8, lessSlot),
	}
}

// Alloc returns a free slot of at least size bytes, reusing the lowest
// free slot when it fits, else growing the frame. A freed slot that
// picked up residents again in the meantime is silently retired from
// the free set.
func (s *slotList) Alloc(size int) *ir.StackSlot {
	for {
		low, ok := s.free.Min()
		if !ok || low.Size < size {
			break
		}
		s.free.DeleteMin()
		if len(low.Residents) == 0 {
			return low
		}
	}
	slot := &ir.StackSlot{Offset: s.frameTop, Size: size}
	s.frameTop += size
	s.all = append(s.all, slot)
	return slot
}

// Free returns slot to the ordered free set for reuse by a future
// Alloc of matching or smaller size.
func (s *slotList) Free(slot *ir.StackSlot) {
	s.free.ReplaceOrInsert(slot)
}

// FrameSize returns the byte count the function's stack frame needs
// for local slots, the number the backend's deferred frame-size
// patching fills in.
func (s *slotList) FrameSize() int { return s.frameTop }
