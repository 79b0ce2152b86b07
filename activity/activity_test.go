package activity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rm/defs"
)

func TestClaimMovesFrameAndCharges(t *testing.T) {
	reg := NewRegistry()
	parent := reg.NewActivity(nil, "parent")
	child := reg.NewActivity(parent, "child")

	f := &Frame{Type: defs.Page}
	child.Claim(f, defs.Policy{Priority: defs.DefaultLRUPriority})

	require.Equal(t, child, f.OwnerActivity())
	require.Equal(t, 1, child.FramesTotal)
	require.Equal(t, 1, parent.FramesTotal)
	require.Equal(t, 1, child.InactiveCleanList().Len())

	f.Age = 1
	other := reg.NewActivity(nil, "other")
	other.Claim(f, defs.Policy{Priority: defs.DefaultLRUPriority})

	require.Equal(t, 0, child.FramesTotal)
	require.Equal(t, 0, parent.FramesTotal)
	require.Equal(t, 1, other.FramesTotal)
	require.Equal(t, 1, other.ActiveList().Len())
	require.Equal(t, 0, child.InactiveCleanList().Len())
}

func TestClaimWithPriorityUsesOwnedTree(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewActivity(nil, "a")

	f1 := &Frame{Type: defs.Page}
	f2 := &Frame{Type: defs.Page}
	a.Claim(f1, defs.Policy{Priority: 5})
	a.Claim(f2, defs.Policy{Priority: 5})

	require.Equal(t, 2, a.owned.Len())
	require.Equal(t, 0, a.ActiveList().Len())
	require.Equal(t, 0, a.InactiveCleanList().Len())
}

func TestDisownPutsFrameOnGlobalList(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewActivity(nil, "a")
	f := &Frame{Type: defs.Page}
	a.Claim(f, defs.Policy{})

	reg.Disown(f)

	require.Nil(t, f.OwnerActivity())
	require.Equal(t, 0, a.FramesTotal)
	require.Equal(t, 1, reg.DisownedList().Len())
}

func TestFrameLockHolderDiscipline(t *testing.T) {
	f := &Frame{}
	require.True(t, f.Lock.TryLock(1))
	require.False(t, f.Lock.TryLock(2))
	require.Panics(t, func() { f.Lock.Unlock(2) })
	f.Lock.Unlock(1)
	require.True(t, f.Lock.TryLock(2))
}
