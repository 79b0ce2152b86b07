package folio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rm/activity"
	"rm/defs"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "folio.db")
	a, err := Open(path, 8)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestFolioAllocAndObjectAllocRoundTrip(t *testing.T) {
	a := newTestAllocator(t)
	reg := activity.NewRegistry()
	act := reg.NewActivity(nil, "a")

	f, err := a.FolioAlloc(act, defs.Policy{})
	require.NoError(t, err)

	oid, err := a.FolioObjectAlloc(act, f, 3, defs.Page, defs.Policy{})
	require.NoError(t, err)
	require.Equal(t, f.Base+1+3, oid)

	fr := a.ObjectFindSoft(oid)
	require.NotNil(t, fr)
	require.Equal(t, defs.Page, fr.Type)
	require.Equal(t, act, fr.OwnerActivity())
}

func TestFolioObjectAllocBumpsVersionOnReplaceIfEverLeft(t *testing.T) {
	a := newTestAllocator(t)
	reg := activity.NewRegistry()
	act := reg.NewActivity(nil, "a")
	f, err := a.FolioAlloc(act, defs.Policy{})
	require.NoError(t, err)

	_, err = a.FolioObjectAlloc(act, f, 0, defs.Page, defs.Policy{})
	require.NoError(t, err)
	f.slots[0].EverLeft = true

	oid2, err := a.FolioObjectAlloc(act, f, 0, defs.Page, defs.Policy{})
	require.NoError(t, err)
	require.Equal(t, uint32(1), f.slots[0].Version)
	_ = oid2
}

func TestMarkLeftDrivesVersionBumpOnReplace(t *testing.T) {
	a := newTestAllocator(t)
	reg := activity.NewRegistry()
	act := reg.NewActivity(nil, "a")
	f, err := a.FolioAlloc(act, defs.Policy{})
	require.NoError(t, err)

	oid, err := a.FolioObjectAlloc(act, f, 0, defs.Page, defs.Policy{})
	require.NoError(t, err)

	v0, present := a.CurrentVersion(oid)
	require.True(t, present)
	require.Equal(t, uint32(0), v0)

	a.MarkLeft(oid)
	_, err = a.FolioObjectAlloc(act, f, 0, defs.Page, defs.Policy{})
	require.NoError(t, err)

	v1, present := a.CurrentVersion(oid)
	require.True(t, present)
	require.Equal(t, uint32(1), v1)
}

func TestFolioObjectAllocVoidFreesSlot(t *testing.T) {
	a := newTestAllocator(t)
	reg := activity.NewRegistry()
	act := reg.NewActivity(nil, "a")
	f, err := a.FolioAlloc(act, defs.Policy{})
	require.NoError(t, err)

	oid, err := a.FolioObjectAlloc(act, f, 1, defs.Page, defs.Policy{})
	require.NoError(t, err)
	require.NotNil(t, a.ObjectFindSoft(oid))

	_, err = a.FolioObjectAlloc(act, f, 1, defs.Void, defs.Policy{})
	require.NoError(t, err)
	require.Nil(t, a.ObjectFindSoft(oid))
}

func TestFolioObjectAllocOutOfRangeSlotFails(t *testing.T) {
	a := newTestAllocator(t)
	reg := activity.NewRegistry()
	act := reg.NewActivity(nil, "a")
	f, err := a.FolioAlloc(act, defs.Policy{})
	require.NoError(t, err)

	_, err = a.FolioObjectAlloc(act, f, defs.FolioObjects, defs.Page, defs.Policy{})
	require.Equal(t, defs.EINVAL, err)
}

func TestFolioFreeDropsAllResidentFrames(t *testing.T) {
	a := newTestAllocator(t)
	reg := activity.NewRegistry()
	act := reg.NewActivity(nil, "a")
	f, err := a.FolioAlloc(act, defs.Policy{})
	require.NoError(t, err)

	oid, err := a.FolioObjectAlloc(act, f, 0, defs.Page, defs.Policy{})
	require.NoError(t, err)
	require.NotNil(t, a.ObjectFindSoft(oid))

	require.NoError(t, a.FolioFree(f))
	require.Nil(t, a.ObjectFindSoft(oid))
}

func TestFlushThenObjectFindRepagesContent(t *testing.T) {
	a := newTestAllocator(t)
	reg := activity.NewRegistry()
	act := reg.NewActivity(nil, "a")
	f, err := a.FolioAlloc(act, defs.Policy{})
	require.NoError(t, err)

	oid, err := a.FolioObjectAlloc(act, f, 0, defs.Page, defs.Policy{})
	require.NoError(t, err)
	fr := a.ObjectFindSoft(oid)

	content := make([]byte, FrameSize)
	content[0] = 0xAB
	require.NoError(t, a.Flush(fr, content))

	a.dropFrame(oid)
	require.Nil(t, a.ObjectFindSoft(oid))

	fr2, err := a.ObjectFind(act, oid, defs.Policy{})
	require.NoError(t, err)
	require.Equal(t, oid, fr2.Oid)
}
