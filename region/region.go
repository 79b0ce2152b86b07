// Package region implements the per-process memory-region manager of
// spec.md §4.6: a range→map ordered index plus the fault-resolution
// loop that walks a Store until the faulting offset is cached, then
// returns that cached record. The loop does not itself map the record
// into the faulting task.
//
// Grounded on the teacher's vm/as.go Vmregion_t (Vmregion.Lookup /
// Vmregion.insert / Ptefor) and on original_source/libhurd-mm/vm.c and
// map.c for the vm_release trim/split semantics.
package region

import (
	"rm/defs"
	"rm/rbtree"
)

// Range is a half-open virtual address range [Start, Start+Size).
type Range struct {
	Start uint64
	Size  uint64
}

func (r Range) end() uint64 { return r.Start + r.Size }

func (r Range) overlaps(o Range) bool {
	return r.Start < o.end() && o.Start < r.end()
}

// Store is the abstract backing object of spec.md §3: it populates its
// memory cache on fault and exposes an ordered index of cached pages
// keyed by store offset.
type Store interface {
	Fault(region Range, storeOffset, faultAddr uint64, access defs.Policy) error
	FindCached(storeOffset, length uint64) (*CachedRange, bool)
}

// CachedRange is one populated extent of a Store's memory cache: spec.md
// §3's "memory record" {container, container_offset, store_range}.
type CachedRange struct {
	Container       []byte
	ContainerOffset uint64
	StoreRange      Range
}

// Map is one entry of the per-process range index: spec.md §3's Map
// record {vm_range, store, store_offset}.
type Map struct {
	VMRange     Range
	Store       Store
	StoreOffset uint64
}

func rangeCmp(a, b Range) int {
	switch {
	case a.overlaps(b):
		return 0
	case a.Start < b.Start:
		return -1
	default:
		return 1
	}
}

// Index is a process's range→map ordered index. Ranges never overlap
// (spec.md §3 invariant); insertion that would overlap an existing map
// is rejected by the caller before reaching Insert.
type Index struct {
	tree *rbtree.Tree[Range, *Map]
}

/// NewIndex returns an empty range index.
func NewIndex() *Index {
	return &Index{tree: rbtree.New[Range, *Map](rangeCmp, false)}
}

/// Lookup returns the Map covering addr, or nil if no range covers it.
func (idx *Index) Lookup(addr uint64) *Map {
	n := idx.tree.Find(Range{Start: addr, Size: 1})
	if n == nil {
		return nil
	}
	return n.Value()
}

/// Insert adds m to the index. Callers must ensure m.VMRange does not
/// overlap any existing entry; Insert does not itself check, mirroring
/// the teacher's Vmregion.insert which trusts its caller to have already
/// resolved overlaps via vm_release.
func (idx *Index) Insert(m *Map) {
	idx.tree.Insert(m.VMRange, m)
}

/// Remove deletes the map entry covering addr, if any.
func (idx *Index) Remove(addr uint64) {
	n := idx.tree.Find(Range{Start: addr, Size: 1})
	if n != nil {
		idx.tree.Detach(n)
	}
}

// Release implements vm_release(start, size): trims or splits overlapping
// maps in place. A trim at the head shifts StoreOffset forward; a trim
// inside the middle duplicates the map record into a head and tail part.
func (idx *Index) Release(start, size uint64) {
	released := Range{Start: start, Size: size}
	for {
		n := idx.tree.Find(released)
		if n == nil {
			return
		}
		m := n.Value()
		idx.tree.Detach(n)

		head, hasHead := trimHead(m, released)
		tail, hasTail := trimTail(m, released)
		if hasHead {
			idx.tree.Insert(head.VMRange, head)
		}
		if hasTail {
			idx.tree.Insert(tail.VMRange, tail)
		}
	}
}

func trimHead(m *Map, released Range) (*Map, bool) {
	if m.VMRange.Start >= released.Start {
		return nil, false
	}
	size := released.Start - m.VMRange.Start
	return &Map{
		VMRange:     Range{Start: m.VMRange.Start, Size: size},
		Store:       m.Store,
		StoreOffset: m.StoreOffset,
	}, true
}

func trimTail(m *Map, released Range) (*Map, bool) {
	if m.VMRange.end() <= released.end() {
		return nil, false
	}
	newStart := released.end()
	delta := newStart - m.VMRange.Start
	return &Map{
		VMRange:     Range{Start: newStart, Size: m.VMRange.end() - newStart},
		Store:       m.Store,
		StoreOffset: m.StoreOffset + delta,
	}, true
}

// Pager resolves a page fault by walking the owning Map's Store until the
// faulted offset becomes cached, per spec.md §4.6.
type Pager struct {
	idx *Index
}

/// NewPager wraps idx in a fault-resolution loop.
func NewPager(idx *Index) *Pager {
	return &Pager{idx: idx}
}

/// Resolve handles one fault at faultAddr with the given access policy,
/// returning the cache record that now covers it, or an error if no Map
/// covers faultAddr at all.
func (p *Pager) Resolve(faultAddr uint64, access defs.Policy) (*CachedRange, error) {
	m := p.idx.Lookup(faultAddr)
	if m == nil {
		return nil, defs.NO_ENTRY
	}
	storeOffset := m.StoreOffset + (faultAddr - m.VMRange.Start)

	for {
		if cr, ok := m.Store.FindCached(storeOffset, 1); ok {
			return cr, nil
		}
		if err := m.Store.Fault(m.VMRange, storeOffset, faultAddr, access); err != nil {
			return nil, err
		}
	}
}

// SpareReserve is the bootstrap "spare" region+memory pair spec.md §4.6
// requires: map insertion may itself need to allocate, so one Map and
// backing buffer are reserved up front to break that circularity.
type SpareReserve struct {
	Map    *Map
	Buffer []byte
}

/// NewSpareReserve allocates size bytes as the spare buffer, wrapped in a
/// placeholder Map so the region index always has a fallback record to
/// satisfy its own slab allocator during low-memory bootstrap.
func NewSpareReserve(size uint64) *SpareReserve {
	return &SpareReserve{
		Map:    &Map{VMRange: Range{Size: size}},
		Buffer: make([]byte, size),
	}
}
