package rm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rm/activity"
	"rm/capspace"
	"rm/defs"
	"rm/folio"
	"rm/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rm.db")
	alloc, err := folio.Open(path, 16)
	require.NoError(t, err)
	t.Cleanup(func() { alloc.Close() })
	t.Cleanup(func() { os.Remove(path) })

	space := capspace.NewSpace(8)
	reg := activity.NewRegistry()
	return NewServer(space, alloc, reg, NewLogger(LevelDebug))
}

func TestGetRootSucceeds(t *testing.T) {
	s := newTestServer(t)
	reply := s.Handle(context.Background(), &wire.Message{Label: wire.GetRoot})
	require.Equal(t, defs.SUCCESS, reply.Err)
}

func TestCapRuboutOnVoidSlotFails(t *testing.T) {
	s := newTestServer(t)
	addr := defs.MkAddr(0, 8)
	reply := s.Handle(context.Background(), &wire.Message{Label: wire.CapRubout, Cap: addr})
	require.NotEqual(t, defs.SUCCESS, reply.Err)
}

func TestUnhandledLabelReturnsInvalid(t *testing.T) {
	s := newTestServer(t)
	reply := s.Handle(context.Background(), &wire.Message{Label: wire.ObjectName})
	require.Equal(t, defs.INVALID, reply.Err)
}

// buildSrcPage plants a ready-to-copy page capability at addr, backed by a
// freshly allocated folio object, and returns its oid plus the folio/slot
// index backing it (so a test can force a realloc later).
func buildSrcPage(t *testing.T, s *Server, addr defs.Addr_t) (defs.Oid_t, *folio.Folio, int) {
	t.Helper()
	act := s.Reg.NewActivity(nil, "t")
	f, err := s.Alloc.FolioAlloc(act, defs.Policy{})
	require.NoError(t, err)
	const slotIdx = 0
	oid, err := s.Alloc.FolioObjectAlloc(act, f, slotIdx, defs.Page, defs.Policy{})
	require.NoError(t, err)

	slot, err := s.Space.Build(addr, s.allocatePT, true, s.shootdown)
	require.NoError(t, err)
	slot.Type = capspace.Page
	slot.Oid = oid
	return oid, f, slotIdx
}

func TestCapCopyThenCapReadReflectsSourceType(t *testing.T) {
	s := newTestServer(t)
	const sender = defs.Tid_t(1)

	srcAddr := defs.MkAddr(uint64(1)<<56, 8)
	buildSrcPage(t, s, srcAddr)

	dstAddr := defs.MkAddr(uint64(2)<<56, 8)
	copyMsg := wire.NewCapCopyMessage(sender, wire.CapCopyArgs{
		DstAddr: dstAddr,
		SrcAddr: srcAddr,
	})
	reply := s.Handle(context.Background(), copyMsg)
	require.Equal(t, defs.SUCCESS, reply.Err)

	readMsg := &wire.Message{Label: wire.CapRead, Sender: sender, Cap: dstAddr}
	readReply := s.Handle(context.Background(), readMsg)
	require.Equal(t, defs.SUCCESS, readReply.Err)
	require.Equal(t, uint8(capspace.Page), readReply.Type)
}

func TestCapCopyThenStaleClientCapReadsCapDead(t *testing.T) {
	s := newTestServer(t)
	const sender = defs.Tid_t(1)

	srcAddr := defs.MkAddr(uint64(1)<<56, 8)
	_, f, slotIdx := buildSrcPage(t, s, srcAddr)

	dstAddr := defs.MkAddr(uint64(2)<<56, 8)
	copyMsg := wire.NewCapCopyMessage(sender, wire.CapCopyArgs{
		DstAddr: dstAddr,
		SrcAddr: srcAddr,
	})
	reply := s.Handle(context.Background(), copyMsg)
	require.Equal(t, defs.SUCCESS, reply.Err)

	readMsg := &wire.Message{Label: wire.CapRead, Sender: sender, Cap: dstAddr}
	readReply := s.Handle(context.Background(), readMsg)
	require.Equal(t, defs.SUCCESS, readReply.Err)

	// CAP_COPY already marked the source oid as having left (it now sits
	// in sender's handle table), so realloc'ing its folio slot in place
	// bumps its version, staling out every capability copied before the
	// bump.
	_, err := s.Alloc.FolioObjectAlloc(nil, f, slotIdx, defs.Page, defs.Policy{})
	require.NoError(t, err)

	staleReply := s.Handle(context.Background(), readMsg)
	require.Equal(t, defs.CAP_DEAD, staleReply.Err)
}
