// Package store provides concrete region.Store implementations: spec.md
// §3 defines Store only abstractly, so a complete repo needs at least one
// real backing implementation to exercise region's fault loop.
//
// AnonStore mirrors original_source/libhurd-mm/physmem-user.c's
// anonymous-store path (zero-fill on first fault); FolioStore mirrors
// store.c's container-backed path, paging directly from a folio.Allocator.
package store

import (
	"sync"

	"rm/defs"
	"rm/folio"
	"rm/region"
)

// AnonStore is a zero-fill anonymous backing store: every offset is
// cached lazily with a zeroed page on first fault.
type AnonStore struct {
	mu     sync.Mutex
	pages  map[uint64][]byte
	pageSz int
}

/// NewAnonStore returns an AnonStore that caches pageSz-byte pages.
func NewAnonStore(pageSz int) *AnonStore {
	return &AnonStore{pages: make(map[uint64][]byte), pageSz: pageSz}
}

func (s *AnonStore) pageOffset(off uint64) uint64 {
	p := uint64(s.pageSz)
	return (off / p) * p
}

/// Fault satisfies region.Store by allocating a zeroed page at
/// storeOffset's page boundary if one is not already cached.
func (s *AnonStore) Fault(_ region.Range, storeOffset, _ uint64, _ defs.Policy) error {
	key := s.pageOffset(storeOffset)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[key]; !ok {
		s.pages[key] = make([]byte, s.pageSz)
	}
	return nil
}

/// FindCached returns the cached page covering storeOffset, if any.
func (s *AnonStore) FindCached(storeOffset, _ uint64) (*region.CachedRange, bool) {
	key := s.pageOffset(storeOffset)
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.pages[key]
	if !ok {
		return nil, false
	}
	return &region.CachedRange{
		Container:       buf,
		ContainerOffset: 0,
		StoreRange:      region.Range{Start: key, Size: uint64(s.pageSz)},
	}, true
}

// FolioStore pages a region directly from a folio.Allocator: the store
// offset addresses an object oid within the backing folio.
type FolioStore struct {
	alloc *folio.Allocator
	base  defs.Oid_t
}

/// NewFolioStore backs a region by the object range starting at base
/// within alloc.
func NewFolioStore(alloc *folio.Allocator, base defs.Oid_t) *FolioStore {
	return &FolioStore{alloc: alloc, base: base}
}

func (s *FolioStore) oidFor(storeOffset uint64) defs.Oid_t {
	return s.base + 1 + defs.Oid_t(storeOffset/folio.FrameSize)
}

/// Fault pages the object covering storeOffset into memory, paging it in
/// from the volume via the allocator if it is not yet resident.
func (s *FolioStore) Fault(_ region.Range, storeOffset, _ uint64, access defs.Policy) error {
	_, err := s.alloc.ObjectFind(nil, s.oidFor(storeOffset), access)
	return err
}

/// FindCached reports whether the object covering storeOffset is already
/// resident, without performing I/O.
func (s *FolioStore) FindCached(storeOffset, _ uint64) (*region.CachedRange, bool) {
	fr := s.alloc.ObjectFindSoft(s.oidFor(storeOffset))
	if fr == nil {
		return nil, false
	}
	pageStart := (storeOffset / folio.FrameSize) * folio.FrameSize
	return &region.CachedRange{
		StoreRange: region.Range{Start: pageStart, Size: folio.FrameSize},
	}, true
}
