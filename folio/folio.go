// Package folio implements the object store and folio allocator of
// spec.md §4.2: folios of FOLIO_OBJECTS typed slots, version-counter
// bookkeeping, and paging of persisted object content into in-memory
// frame descriptors.
//
// Grounded on original_source/libhurd-mm/frame.c and memory.c (slab-style
// frame allocation, dc_start/size container bookkeeping) and on the
// teacher's mem/mem.go Physmem_t (a descriptor array parallel to a flat
// backing-store range, refcounted per frame). The physical backing store
// here is a real anonymous mmap obtained through golang.org/x/sys/unix,
// and each folio's persisted image lives in one go.etcd.io/bbolt bucket
// keyed by object index, since spec.md §6 names a persistent layout but
// leaves the concrete store unimplemented.
package folio

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"

	bolt "go.etcd.io/bbolt"

	"rm/activity"
	"rm/defs"
)

// objectSlot is one entry of a folio's on-disk header: spec.md §3's
// per-object {type, content-present, discardable, version, checksum}.
type objectSlot struct {
	Type     defs.ObjType
	Present  bool
	Discard  bool
	Version  uint32
	Checksum uint32
	EverLeft bool // conservative tracking for the versioning algorithm
}

// Folio is one FOLIO_OBJECTS-wide disk unit plus its header, per spec.md
// §4.2.
type Folio struct {
	Base   defs.Oid_t // OID of the folio itself; slot k has OID Base+1+k
	Policy defs.Policy

	mu    sync.Mutex
	slots [defs.FolioObjects]objectSlot
}

func newFolio(base defs.Oid_t, policy defs.Policy) *Folio {
	return &Folio{Base: base, Policy: policy}
}

func (f *Folio) slotOid(k int) defs.Oid_t { return f.Base + 1 + defs.Oid_t(k) }

// pageKey returns the big-endian bucket key folio content is stored
// under inside its bbolt bucket.
func pageKey(k int) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(k))
	return b[:]
}

// Allocator is the top-level folio/object store: spec.md §4.2's
// folio_alloc/folio_free/folio_object_alloc/object_find family, backed by
// an mmap frame arena and a bbolt volume.
type Allocator struct {
	mu      sync.Mutex
	folios  map[defs.Oid_t]*Folio // keyed by Base
	nextOid defs.Oid_t

	frames  map[defs.Oid_t]*activity.Frame
	arena   []byte // mmap'd backing store for frame content, FrameSize per slot
	nextIdx int

	db    *bolt.DB
	sf    singleflight.Group
	frameSize int
}

// FrameSize is the content size of one frame, matching a typical page.
const FrameSize = 4096

/// Open creates an Allocator backed by the bbolt database at path and an
/// anonymous mmap arena capacityFrames frames large.
func Open(path string, capacityFrames int) (*Allocator, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("folio: open volume: %w", err)
	}
	arena, err := unix.Mmap(-1, 0, capacityFrames*FrameSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("folio: mmap arena: %w", err)
	}
	return &Allocator{
		folios:    make(map[defs.Oid_t]*Folio),
		frames:    make(map[defs.Oid_t]*activity.Frame),
		arena:     arena,
		db:        db,
		frameSize: FrameSize,
		nextOid:   1,
	}, nil
}

/// Close releases the mmap arena and closes the volume.
func (a *Allocator) Close() error {
	if err := unix.Munmap(a.arena); err != nil {
		return err
	}
	return a.db.Close()
}

func (a *Allocator) folioBucketName(base defs.Oid_t) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(base))
	return b[:]
}

/// FolioAlloc allocates a fresh folio, charging nothing directly (the
/// caller charges the owning activity when it calls FolioObjectAlloc on
/// individual slots, mirroring claim/disown's per-object granularity).
func (a *Allocator) FolioAlloc(act *activity.Activity, policy defs.Policy) (*Folio, error) {
	a.mu.Lock()
	base := a.nextOid
	a.nextOid += 1 + defs.FolioObjects
	f := newFolio(base, policy)
	a.folios[base] = f
	a.mu.Unlock()

	err := a.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(a.folioBucketName(base))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("folio: create volume bucket: %w", err)
	}
	return f, nil
}

/// FolioFree frees every object the folio contains and releases its
/// storage, per spec.md §4.2.
func (a *Allocator) FolioFree(f *Folio) error {
	f.mu.Lock()
	for k := range f.slots {
		if f.slots[k].Type != defs.Void {
			a.dropFrame(f.slotOid(k))
		}
		f.slots[k] = objectSlot{}
	}
	f.mu.Unlock()

	a.mu.Lock()
	delete(a.folios, f.Base)
	a.mu.Unlock()

	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket(a.folioBucketName(f.Base))
	})
}

func (a *Allocator) dropFrame(oid defs.Oid_t) {
	a.mu.Lock()
	delete(a.frames, oid)
	a.mu.Unlock()
}

// bumpVersion advances a slot's version modulo 2^CapVersionBits. On
// wraparound the version restarts at zero in place: the folio is not
// relocated and no forwarding capabilities are left behind.
func (s *objectSlot) bumpVersion() {
	s.Version = (s.Version + 1) % defs.MaxVersion
}

/// FolioObjectAlloc replaces slot k of f with a fresh object of the given
/// type and policy. If the slot previously held a live object, its
/// resident frame is dropped and its version is bumped (or left as it
/// is, when nothing ever observed its old identity outside the address
/// space) before being overwritten. type == Void is equivalent to freeing
/// the slot.
func (a *Allocator) FolioObjectAlloc(act *activity.Activity, f *Folio, k int, typ defs.ObjType, policy defs.Policy) (defs.Oid_t, error) {
	if k < 0 || k >= defs.FolioObjects {
		return 0, defs.EINVAL
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	slot := &f.slots[k]
	oid := f.slotOid(k)
	if slot.Type != defs.Void {
		if slot.EverLeft {
			slot.bumpVersion()
		}
		a.dropFrame(oid)
	}

	if typ == defs.Void {
		*slot = objectSlot{}
		return oid, nil
	}

	slot.Type = typ
	slot.Present = false
	slot.Discard = policy.Discardable
	slot.EverLeft = false

	fr := &activity.Frame{Oid: oid, Version: slot.Version, Type: typ, Policy: policy}
	a.mu.Lock()
	a.frames[oid] = fr
	a.mu.Unlock()
	if act != nil {
		act.Claim(fr, policy)
	}
	return oid, nil
}

/// MarkLeft records that a capability referring to oid has left the
/// address space (e.g. it was just copied into a client's handle
/// table), the conservative trigger the versioning algorithm in
/// spec.md §4.2 gates the version bump on. A no-op if oid isn't
/// presently backed by a live slot.
func (a *Allocator) MarkLeft(oid defs.Oid_t) {
	base, k, ok := a.locate(oid)
	if !ok {
		return
	}
	f := a.folios[base]
	f.mu.Lock()
	f.slots[k].EverLeft = true
	f.mu.Unlock()
}

/// CurrentVersion returns oid's live version and whether oid is
/// presently backed by a non-void slot, the check spec.md §7's CAP_DEAD
/// condition and §8 scenario 4 (stale (oid,version) after a free+
/// realloc) both reduce to.
func (a *Allocator) CurrentVersion(oid defs.Oid_t) (uint32, bool) {
	base, k, ok := a.locate(oid)
	if !ok {
		return 0, false
	}
	f := a.folios[base]
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[k].Version, f.slots[k].Type != defs.Void
}

/// ObjectFindSoft returns the in-memory frame for oid if it is already
/// resident, without performing I/O. Returns nil on miss.
func (a *Allocator) ObjectFindSoft(oid defs.Oid_t) *activity.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames[oid]
}

/// ObjectFind returns the in-memory frame for oid, paging its content in
/// from the volume if necessary. Concurrent ObjectFind calls for the same
/// oid collapse into a single page-in via singleflight.
func (a *Allocator) ObjectFind(act *activity.Activity, oid defs.Oid_t, policy defs.Policy) (*activity.Frame, error) {
	if fr := a.ObjectFindSoft(oid); fr != nil {
		return fr, nil
	}

	base, k, ok := a.locate(oid)
	if !ok {
		return nil, defs.NO_ENTRY
	}
	f := a.folios[base]

	key := fmt.Sprintf("%d", oid)
	v, err, _ := a.sf.Do(key, func() (any, error) {
		return a.pageIn(act, f, k, oid, policy)
	})
	if err != nil {
		return nil, err
	}
	return v.(*activity.Frame), nil
}

func (a *Allocator) locate(oid defs.Oid_t) (base defs.Oid_t, k int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for b, f := range a.folios {
		if oid > b && int(oid-b-1) < defs.FolioObjects {
			return b, int(oid - b - 1), true
		}
	}
	return 0, 0, false
}

func (a *Allocator) pageIn(act *activity.Activity, f *Folio, k int, oid defs.Oid_t, policy defs.Policy) (*activity.Frame, error) {
	if fr := a.ObjectFindSoft(oid); fr != nil {
		return fr, nil
	}

	f.mu.Lock()
	slot := f.slots[k]
	f.mu.Unlock()
	if slot.Type == defs.Void {
		return nil, defs.NO_ENTRY
	}

	content := make([]byte, a.frameSize)
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(a.folioBucketName(f.Base))
		if b == nil {
			return nil
		}
		if v := b.Get(pageKey(k)); v != nil {
			copy(content, v)
			if crc32.ChecksumIEEE(v) != slot.Checksum && slot.Checksum != 0 {
				return defs.EINVAL
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fr := &activity.Frame{Oid: oid, Version: slot.Version, Type: slot.Type, Policy: policy}
	a.mu.Lock()
	idx := a.nextIdx
	a.nextIdx++
	a.frames[oid] = fr
	a.mu.Unlock()
	if idx*a.frameSize+a.frameSize <= len(a.arena) {
		copy(a.arena[idx*a.frameSize:], content)
	}
	if act != nil {
		act.Claim(fr, policy)
	}
	return fr, nil
}

/// Flush writes a frame's current content back to its folio's volume
/// bucket, recomputing its checksum, and clears Dirty.
func (a *Allocator) Flush(fr *activity.Frame, content []byte) error {
	base, k, ok := a.locate(fr.Oid)
	if !ok {
		return defs.NO_ENTRY
	}
	f := a.folios[base]
	sum := crc32.ChecksumIEEE(content)

	err := a.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(a.folioBucketName(base))
		if err != nil {
			return err
		}
		return b.Put(pageKey(k), content)
	})
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.slots[k].Present = true
	f.slots[k].Checksum = sum
	f.mu.Unlock()
	fr.Dirty = false
	return nil
}

/// ObjectClaim and ObjectDisown delegate straight to the activity
/// accounting layer, per spec.md §4.2's claim/disown contract.
func ObjectClaim(act *activity.Activity, fr *activity.Frame, policy defs.Policy) {
	act.Claim(fr, policy)
}

func ObjectDisown(reg *activity.Registry, fr *activity.Frame) {
	reg.Disown(fr)
}
