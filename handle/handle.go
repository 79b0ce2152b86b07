// Package handle implements the dense integer→entry table with free-list
// reuse described in spec.md §2 ("Handle table"), used by package bucket
// for its per-object inhibition scopes. Grounded on the teacher pack's original_source/libhurd-cap-server
// table.c, which keeps a growable array of entries plus a singly-linked
// free list threaded through unused slots.
package handle

// Handle is a dense, reusable integer identifier: an index into the
// table's backing slice combined with a generation counter so a stale
// handle from before a slot was recycled can be detected.
type Handle struct {
	idx uint32
	gen uint32
}

// Nil is never returned by Alloc.
var Nil = Handle{}

func (h Handle) IsNil() bool { return h == Nil }

type slot[V any] struct {
	val  V
	gen  uint32
	used bool
	next uint32 // free-list link when !used
}

// Table is a dense handle→value map with O(1) alloc/free/lookup.
type Table[V any] struct {
	slots   []slot[V]
	freeHd  uint32
	hasFree bool
	count   int
}

/// New returns an empty table.
func New[V any]() *Table[V] {
	return &Table[V]{}
}

/// Len returns the number of live entries.
func (t *Table[V]) Len() int { return t.count }

/// Alloc inserts val and returns a fresh handle for it, reusing a freed
/// slot (bumping its generation) when one is available.
func (t *Table[V]) Alloc(val V) Handle {
	t.count++
	if t.hasFree {
		idx := t.freeHd
		s := &t.slots[idx]
		t.freeHd = s.next
		t.hasFree = s.next != sentinelEnd
		s.val = val
		s.used = true
		return Handle{idx: idx, gen: s.gen}
	}
	idx := uint32(len(t.slots))
	t.slots = append(t.slots, slot[V]{val: val, gen: 1, used: true})
	return Handle{idx: idx, gen: 1}
}

const sentinelEnd = ^uint32(0)

/// Free releases h's slot for reuse. Freeing an already-free or unknown
/// handle is a no-op.
func (t *Table[V]) Free(h Handle) {
	if int(h.idx) >= len(t.slots) {
		return
	}
	s := &t.slots[h.idx]
	if !s.used || s.gen != h.gen {
		return
	}
	var zero V
	s.val = zero
	s.used = false
	s.gen++
	s.next = t.freeHd
	if !t.hasFree {
		s.next = sentinelEnd
	}
	t.freeHd = h.idx
	t.hasFree = true
	t.count--
}

/// Get returns the value for h and whether h currently names a live slot.
func (t *Table[V]) Get(h Handle) (V, bool) {
	var zero V
	if int(h.idx) >= len(t.slots) {
		return zero, false
	}
	s := &t.slots[h.idx]
	if !s.used || s.gen != h.gen {
		return zero, false
	}
	return s.val, true
}

/// Set overwrites the value at h if it is live. Reports whether it did.
func (t *Table[V]) Set(h Handle, val V) bool {
	if int(h.idx) >= len(t.slots) {
		return false
	}
	s := &t.slots[h.idx]
	if !s.used || s.gen != h.gen {
		return false
	}
	s.val = val
	return true
}

/// Each calls fn for every live entry in index order.
func (t *Table[V]) Each(fn func(Handle, V)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.used {
			fn(Handle{idx: uint32(i), gen: s.gen}, s.val)
		}
	}
}
