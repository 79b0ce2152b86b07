package capspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rm/defs"
)

func TestLookupVoidFails(t *testing.T) {
	sp := NewSpace(8)
	addr := defs.MkAddr(0, 8)
	_, _, err := sp.Lookup(addr, Void, false, WantSlot)
	require.Error(t, err)
}

func TestBuildThenLookupRoundTrip(t *testing.T) {
	sp := NewSpace(8)
	addr := defs.MkAddr(0, 8)

	slot, err := sp.Build(addr, func(w uint) (*Slot, error) { return NewCappage(w), nil }, true, nil)
	require.NoError(t, err)
	slot.Type = Page
	slot.Oid = 42

	got, writable, err := sp.Lookup(addr, Void, false, WantSlot)
	require.NoError(t, err)
	require.True(t, writable)
	require.Equal(t, Page, got.Type)
	require.Equal(t, defs.Oid_t(42), got.Oid)
}

func TestWeakenAndWeak(t *testing.T) {
	require.True(t, Page.Weaken() == RPage)
	require.True(t, RPage.Weak())
	require.False(t, Page.Weak())
	require.Equal(t, RPage, RPage.Weaken())
}

func TestTypeCompatibleAcceptsWeakenedForms(t *testing.T) {
	require.True(t, typeCompatible(RPage, Page))
	require.True(t, typeCompatible(Page, RPage))
	require.False(t, typeCompatible(Page, Cappage))
}

func TestChoosePTWidthPrefersPageThenMultiple(t *testing.T) {
	require.Equal(t, uint(10), choosePTWidth(10))
	require.Equal(t, CappageSlotsLog2, choosePTWidth(2*CappageSlotsLog2))
	require.Equal(t, uint(3), choosePTWidth(19))
}

func newAllocator() func(uint) (*Slot, error) {
	return func(w uint) (*Slot, error) { return NewCappage(w), nil }
}

// TestBuildDeepAddressThenLookupRoundTrip exercises spec.md §8 scenario 1:
// build_as a depth-32 address into an empty space, then confirm it
// resolves while a neighboring address at the same depth does not.
func TestBuildDeepAddressThenLookupRoundTrip(t *testing.T) {
	sp := NewSpace(8)
	addr := defs.MkAddr(uint64(0xDEAD0000)<<32, 32)

	slot, err := sp.Build(addr, newAllocator(), true, nil)
	require.NoError(t, err)
	slot.Type = Page
	slot.Oid = 7

	got, writable, err := sp.Lookup(addr, Void, false, WantSlot)
	require.NoError(t, err)
	require.True(t, writable)
	require.Equal(t, Page, got.Type)
	require.Equal(t, defs.Oid_t(7), got.Oid)

	neighbor := defs.MkAddr(uint64(0xDEAD0001)<<32, 32)
	miss, _, err := sp.Lookup(neighbor, Void, false, WantSlot)
	require.Equal(t, defs.NO_ENTRY, err)
	require.Nil(t, miss)
}

// TestBuildSecondDeepAddressInsertsCappageAtDivergingByte exercises
// spec.md §8 scenario 2: from scenario 1's address space, build a second
// depth-32 address that shares a prefix with the first and diverges
// partway through, and confirm the original page is still reachable
// alongside the new one.
func TestBuildSecondDeepAddressInsertsCappageAtDivergingByte(t *testing.T) {
	sp := NewSpace(8)
	first := defs.MkAddr(uint64(0xDEAD0000)<<32, 32)
	slot1, err := sp.Build(first, newAllocator(), true, nil)
	require.NoError(t, err)
	slot1.Type = Page
	slot1.Oid = 7

	second := defs.MkAddr(uint64(0xDEADBEEF)<<32, 32)
	slot2, err := sp.Build(second, newAllocator(), true, nil)
	require.NoError(t, err)
	require.NotSame(t, slot1, slot2)
	slot2.Type = Page
	slot2.Oid = 9

	got1, _, err := sp.Lookup(first, Void, false, WantSlot)
	require.NoError(t, err)
	require.Equal(t, defs.Oid_t(7), got1.Oid)

	got2, _, err := sp.Lookup(second, Void, false, WantSlot)
	require.NoError(t, err)
	require.Equal(t, defs.Oid_t(9), got2.Oid)
}

// TestPivotRehomesOldSlotAtDivergingIndex directly exercises pivot's
// leftGuard/idx arithmetic (capspace.go's rehome branch), which a
// purely top-down Build from an empty space never reaches: every cappage
// pivot splits off of a Void slot whose own GuardBits starts at zero, so
// common is always zero and nothing is ever rehomed. A slot installed
// with a compressed guard (as CAP_COPY's CopyAddrTransGuard would) can
// still be split later, and that is the path this test drives.
func TestPivotRehomesOldSlotAtDivergingIndex(t *testing.T) {
	// Guard is stored right-aligned: 0xA5 (1010_0101) over 8 bits.
	cursor := &Slot{
		Type:      Page,
		Oid:       42,
		Guard:     0xA5,
		GuardBits: 8,
	}
	// remaining's top 3 bits (101) match the guard's; the 4th bit (guard's
	// 0 vs remaining's 1) is where the two diverge.
	remaining := defs.MkAddr(0xB0<<56, 8)

	err := pivot(cursor, remaining, newAllocator())
	require.NoError(t, err)

	require.Equal(t, Cappage, cursor.Type)
	require.Equal(t, uint(3), cursor.GuardBits)
	require.Equal(t, uint64(0x5), cursor.Guard) // remaining's top 3 bits, right-aligned

	width := cursor.SubWidth
	require.Equal(t, uint(5), width)

	rehomed := cursor.child(5)
	require.NotNil(t, rehomed)
	require.Equal(t, Page, rehomed.Type)
	require.Equal(t, defs.Oid_t(42), rehomed.Oid)
	require.Equal(t, uint(0), rehomed.GuardBits)
}
