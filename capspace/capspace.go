// Package capspace implements the guarded-page-table address-space
// engine of spec.md §4.3: capability slots organized into a variable
// depth tree of cappages, folios, and leaf objects, walked by Lookup and
// grown by Build.
//
// Grounded on original_source/libhurd-mm/as-lookup.c and as-build.c for
// the exact guard/pivot algorithm, and on the teacher's vm/as.go page
// table walk (Pmap_walk / Page_insert), generalized from the teacher's
// fixed 4-level x86 table to a variable-depth tree whose per-level width
// is chosen by the policy in §4.3.1.
package capspace

import (
	"sync"

	"rm/defs"
	"rm/util"
)

// SlotType is a capability slot's content type, including weak (read-only
// forwarding) variants: spec.md §3's capability slot enumerates
// void/page/rpage/cappage/rcappage/folio/activity/activity_control/
// thread/messenger/rmessenger.
type SlotType uint8

const (
	Void SlotType = iota
	Page
	RPage
	Cappage
	RCappage
	FolioCap
	ActivityCap
	ActivityControl
	Thread
	Messenger
	RMessenger
)

/// Weak reports whether t is a read-only forwarding variant.
func (t SlotType) Weak() bool {
	switch t {
	case RPage, RCappage, RMessenger:
		return true
	default:
		return false
	}
}

/// Weaken returns the weak form of t. Weakening is idempotent: weakening
/// an already-weak type returns it unchanged.
func (t SlotType) Weaken() SlotType {
	switch t {
	case Page:
		return RPage
	case Cappage:
		return RCappage
	case Messenger:
		return RMessenger
	default:
		return t
	}
}

// CappageSlotsLog2 is the number of address bits a full-width cappage
// consumes; subpage widths are some value ≤ this, per §4.3.1.
const CappageSlotsLog2 = 8

// CAP_ADDR_TRANS_GUARD_SUBPAGE_BITS bounds a PTE's guard width.
const MaxGuardBits = 22

// PageSizeLog2 is the number of address bits a data page (leaf) consumes.
const PageSizeLog2 = 12

// Slot is one capability page-table entry: a typed reference plus the
// guard/subpage descriptor that governs how it participates in a lookup
// or build walk (spec.md §4.3's "capability PTE").
type Slot struct {
	Type    SlotType
	Oid     defs.Oid_t
	Version uint32

	Guard     uint64
	GuardBits uint
	SubBase   uint // subpage window start, in slot-index units
	SubWidth  uint // log2(slot count) of this cappage's subpage window

	cappage []Slot // non-nil only when Type is Cappage/RCappage
}

/// NewCappage allocates a cappage of 1<<widthLog2 slots, all void.
func NewCappage(widthLog2 uint) *Slot {
	return &Slot{
		Type:     Cappage,
		SubWidth: widthLog2,
		cappage:  make([]Slot, 1<<widthLog2),
	}
}

func (s *Slot) child(i uint) *Slot {
	if s.cappage == nil || int(i) >= len(s.cappage) {
		return nil
	}
	return &s.cappage[i]
}

// Mode selects what a Lookup call should resolve to, per spec.md §4.3.
type Mode int

const (
	WantCap Mode = iota
	WantSlot
	WantObject
)

var (
	errGuardMismatch = defs.INVALID
	errWeakened      = defs.NOT_PERMITTED
	errNotObject     = defs.INVALID
	errBadType       = defs.BAD_CAP_TYPE
)

// subpageBits returns how many address bits cursor's translation step
// consumes, per the dispatch table in spec.md §4.3 step 2.
func subpageBits(cursor *Slot) uint {
	switch cursor.Type {
	case Cappage, RCappage:
		return cursor.SubWidth
	case FolioCap:
		return defs.FolioObjectsLog2
	case Thread:
		return 6 // fixed small slot width for a thread's messenger/control slots
	case Messenger, RMessenger:
		return 2
	default:
		return 0
	}
}

// Space is an address space: a root capability slot plus the reader
// writer lock spec.md §5 requires (reader for Lookup, writer for Build).
type Space struct {
	mu   sync.RWMutex
	Root Slot
}

/// NewSpace returns an address space whose root is a single cappage.
func NewSpace(rootWidthLog2 uint) *Space {
	return &Space{Root: *NewCappage(rootWidthLog2)}
}

/// Lookup resolves addr against the space per spec.md §4.3's five-step
/// algorithm, honoring mode and an optional expectedType filter. It runs
/// under the address space's reader lock.
func (sp *Space) Lookup(addr defs.Addr_t, expectedType SlotType, hasExpected bool, mode Mode) (*Slot, bool, error) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	cursor := &sp.Root
	remaining := addr
	writable := true

	wantStrong := hasExpected && !expectedType.Weak()
	for remaining.Depth > 0 {
		if cursor.Type.Weak() {
			if wantStrong {
				return nil, false, errWeakened
			}
			writable = false
		}
		if remaining.Depth < cursor.GuardBits {
			return nil, false, errGuardMismatch
		}
		if cursor.GuardBits > 0 && remaining.Bits(cursor.GuardBits) != cursor.Guard {
			return nil, false, errGuardMismatch
		}
		remaining = remaining.Advance(cursor.GuardBits)

		bits := subpageBits(cursor)
		if bits == 0 || bits > remaining.Depth {
			return nil, false, errGuardMismatch
		}
		idx := remaining.Bits(bits)
		remaining = remaining.Advance(bits)

		next := cursor.child(idx - uint64(cursor.SubBase))
		if next == nil {
			return nil, false, errGuardMismatch
		}
		cursor = next
	}

	if cursor.Type == Void {
		return nil, false, defs.NO_ENTRY
	}
	if mode == WantObject && cursor.GuardBits != 0 {
		return nil, false, errNotObject
	}
	if hasExpected {
		if !typeCompatible(cursor.Type, expectedType) {
			return nil, false, errBadType
		}
	}
	if mode == WantObject && cursor.Type.Weak() {
		writable = false
	}
	return cursor, writable, nil
}

func typeCompatible(have, want SlotType) bool {
	if have == want {
		return true
	}
	return have.Weaken() == want || have == want.Weaken()
}

/// Build returns the slot at which addr should be reachable, growing the
/// tree with freshly pivoted cappages as needed. allocatePT supplies a
/// fresh cappage of the requested width when the walk must branch. It
/// runs under the address space's writer lock.
func (sp *Space) Build(addr defs.Addr_t, allocatePT func(widthLog2 uint) (*Slot, error), mayOverwrite bool, shootdown func(*Slot)) (*Slot, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	cursor := &sp.Root
	remaining := addr

	for {
		if cursor.GuardBits == remaining.Depth &&
			(remaining.Depth == 0 || remaining.Bits(remaining.Depth) == cursor.Guard) &&
			(cursor.Type == Void || mayOverwrite) {
			return cursor, nil
		}

		bits := subpageBits(cursor)
		if bits != 0 && remaining.Depth >= cursor.GuardBits+bits &&
			(cursor.GuardBits == 0 || remaining.Bits(cursor.GuardBits) == cursor.Guard) {
			remaining = remaining.Advance(cursor.GuardBits)
			idx := remaining.Bits(bits)
			remaining = remaining.Advance(bits)
			next := cursor.child(idx - uint64(cursor.SubBase))
			if next == nil {
				return nil, errGuardMismatch
			}
			cursor = next
			continue
		}

		if err := pivot(cursor, remaining, allocatePT); err != nil {
			return nil, err
		}
		if shootdown != nil {
			shootdown(cursor)
		}
	}
}

// pivot performs step 3 of spec.md §4.3's Build algorithm: split the
// current slot's guard at the point it diverges from the residual
// address, insert a fresh cappage there, and re-home the old contents.
func pivot(cursor *Slot, remaining defs.Addr_t, allocatePT func(uint) (*Slot, error)) error {
	common := commonPrefixBits(cursor.Guard, cursor.GuardBits, remaining)
	width := choosePTWidth(remaining.Depth - common)

	pt, err := allocatePT(width)
	if err != nil {
		return err
	}

	if cursor.GuardBits > common {
		old := *cursor
		old.GuardBits = cursor.GuardBits - common - width
		old.Guard = cursor.Guard & (1<<old.GuardBits - 1)
		leftGuard := cursor.Guard << (64 - cursor.GuardBits)
		idx := (leftGuard << common) >> (64 - width)
		pt.cappage[idx] = old
	}

	*cursor = Slot{
		Type:      Cappage,
		Guard:     remaining.Bits(common),
		GuardBits: common,
		SubWidth:  pt.SubWidth,
		cappage:   pt.cappage,
	}
	return nil
}

// commonPrefixBits returns the length of the longest common prefix
// between a slot's existing guard and the residual address it is being
// built against. Guard is stored right-aligned (its low guardBits bits
// hold the value, matching Addr_t.Bits' encoding), so it is left-justified
// before comparing against remaining.Prefix, which is already
// left-justified.
func commonPrefixBits(guard uint64, guardBits uint, remaining defs.Addr_t) uint {
	if guardBits == 0 {
		return 0
	}
	leftGuard := guard << (64 - guardBits)
	return util.CommonPrefixBits64(leftGuard, remaining.Prefix, util.Min(guardBits, remaining.Depth))
}

// choosePTWidth implements §4.3.1's width policy: consume every remaining
// bit when at most PageSizeLog2 remain, otherwise shrink so the remainder
// is a multiple of CappageSlotsLog2. It never widens to a folio: the
// FolioObjectsLog2 case below is unreachable, since every remainder of at
// most FolioObjectsLog2 bits already takes the first case.
func choosePTWidth(remainingBits uint) uint {
	switch {
	case remainingBits <= PageSizeLog2:
		return remainingBits
	case remainingBits <= defs.FolioObjectsLog2:
		return defs.FolioObjectsLog2
	default:
		if mod := remainingBits % CappageSlotsLog2; mod != 0 {
			return mod
		}
		return CappageSlotsLog2
	}
}
