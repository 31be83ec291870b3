package slot

import (
	"sync"

	"github.com/wstunnel/server/internal/egress"
)

// Table is a fixed-capacity array of pre-constructed slots, indexed
// [0, cap). It is the "arena + generation" idiom: every peer-addressed
// operation validates both idx range and the slot's current tag before
// touching state.
type Table struct {
	mu    sync.Mutex
	slots []*Slot
}

// NewTable builds a table of the given capacity. Each slot starts
// unused with tag == idx (an arbitrary but stable initial value, per
// spec §4.4).
func NewTable(cap int) *Table {
	slots := make([]*Slot, cap)
	for i := range slots {
		slots[i] = &Slot{idx: uint16(i), tag: uint16(i)}
	}
	return &Table{slots: slots}
}

// Cap returns the table's fixed capacity.
func (t *Table) Cap() int {
	return len(t.slots)
}

// Alloc marks slot idx in-use with the given tag. Returns nil if idx is
// out of range or the slot is already in use.
func (t *Table) Alloc(idx, tag uint16) *Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(idx) >= len(t.slots) {
		return nil
	}
	s := t.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse {
		return nil
	}
	s.inUse = true
	s.tag = tag
	return s
}

// Get returns slot idx iff it is range-valid, in use, and its current
// tag matches. Stale, closed, or misaddressed peer frames return nil.
func (t *Table) Get(idx, tag uint16) *Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(idx) >= len(t.slots) {
		return nil
	}
	s := t.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inUse || s.tag != tag {
		return nil
	}
	return s
}

// Free bumps slot idx's generation tag and releases its egress socket
// iff it is range-valid, in use, and the supplied tag matches; it
// reports whether the slot was actually freed. Out-of-range,
// not-in-use, or mismatched-tag calls are silently ignored (reporting
// false), per spec §4.4 — this is the normal consequence of races
// between a peer's close and a local free.
func (t *Table) Free(idx, tag uint16) bool {
	eg, ok := t.detach(idx, tag)
	if eg != nil {
		eg.Close()
	}
	return ok
}

// Cleanup frees every in-use slot. Called exactly once, when a tunnel
// is closing.
func (t *Table) Cleanup() {
	t.mu.Lock()
	type freed struct {
		idx, tag uint16
	}
	var toFree []freed
	for _, s := range t.slots {
		s.mu.Lock()
		if s.inUse {
			toFree = append(toFree, freed{s.idx, s.tag})
		}
		s.mu.Unlock()
	}
	t.mu.Unlock()

	for _, f := range toFree {
		t.Free(f.idx, f.tag)
	}
}

// detach clears inUse/egress under lock (so a racing Alloc can never
// observe the old generation as free before the tag bump is visible)
// and returns the detached egress socket, if any, plus whether the
// slot actually matched and was freed, for the caller to close outside
// the lock.
func (t *Table) detach(idx, tag uint16) (*egress.Socket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(idx) >= len(t.slots) {
		return nil, false
	}
	s := t.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inUse || s.tag != tag {
		return nil, false
	}
	s.tag++
	s.inUse = false
	eg := s.eg
	s.eg = nil
	return eg, true
}
