package rm

import (
	"context"
	"sync"

	"rm/activity"
	"rm/bucket"
	"rm/capspace"
	"rm/defs"
	"rm/folio"
	"rm/handle"
	"rm/wire"
)

// Server is one resource-manager instance: the capability address space,
// the folio/object allocator, the activity accounting registry, and the
// RPC bucket dispatching against them, per spec.md's overall
// architecture (§2-§6).
type Server struct {
	Space *capspace.Space
	Alloc *folio.Allocator
	Reg   *activity.Registry
	Log   *Logger

	Root defs.Addr_t

	bucket *bucket.Bucket

	clientsMu sync.Mutex
	clients   map[defs.Tid_t]*Client

	objScopesMu sync.Mutex
	objScopes   map[defs.Oid_t]handle.Handle
}

/// NewServer wires a fresh Server around the given address space and
/// folio allocator.
func NewServer(space *capspace.Space, alloc *folio.Allocator, reg *activity.Registry, lg *Logger) *Server {
	return &Server{
		Space:     space,
		Alloc:     alloc,
		Reg:       reg,
		Log:       lg,
		clients:   make(map[defs.Tid_t]*Client),
		objScopes: make(map[defs.Oid_t]handle.Handle),
	}
}

/// NewBucket constructs a bucket.Bucket dispatching into this server's
/// Handle method, under the given worker-allocation policy, wired to
/// this server's class/object scope derivation.
func (s *Server) NewBucket(policy bucket.AllocPolicy) *bucket.Bucket {
	b := bucket.New(policy, s.Handle, s.scopeKey)
	s.bucket = b
	return b
}

/// Handle is the bucket.Handler entry point: it dispatches one RPC by
/// label to the matching operation, per spec.md §6's label table.
func (s *Server) Handle(ctx context.Context, msg *wire.Message) wire.Reply {
	switch msg.Label {
	case wire.CapCopy:
		return s.capCopy(msg)
	case wire.CapRubout:
		return s.capRubout(msg)
	case wire.CapRead:
		return s.capRead(msg)
	case wire.GetRoot:
		return s.getRoot(msg)
	case wire.ObjectDiscard:
		return s.objectDiscard(msg)
	default:
		s.Log.Warnf("unhandled RPC label %s from task %d", msg.Label, msg.Sender)
		return wire.Reply{Err: defs.INVALID}
	}
}

// scopeKey derives the per-class/per-object inhibition scope a message
// targets: the class is the RPC's own label (this server has no finer
// capability-class taxonomy than the wire label), and the object scope
// is keyed by the capability the message names, when it names one.
func (s *Server) scopeKey(msg *wire.Message) (string, handle.Handle, bool) {
	class := msg.Label.String()
	if msg.Cap.IsVoid() {
		return class, handle.Handle{}, false
	}
	slot, _, err := s.Space.Lookup(msg.Cap, capspace.Void, false, capspace.WantSlot)
	if err != nil || slot.Type == capspace.Void {
		return class, handle.Handle{}, false
	}
	h, ok := s.objectScopeFor(slot.Oid)
	return class, h, ok
}

func (s *Server) objectScopeFor(oid defs.Oid_t) (handle.Handle, bool) {
	s.objScopesMu.Lock()
	defer s.objScopesMu.Unlock()
	if h, ok := s.objScopes[oid]; ok {
		return h, true
	}
	if s.bucket == nil {
		return handle.Handle{}, false
	}
	h := s.bucket.NewObjectScope()
	s.objScopes[oid] = h
	return h, true
}

func (s *Server) clientFor(task defs.Tid_t) *Client {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	c, ok := s.clients[task]
	if !ok {
		c = newClient(task)
		s.clients[task] = c
	}
	return c
}

func (s *Server) clientIfExists(task defs.Tid_t) (*Client, bool) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	c, ok := s.clients[task]
	return c, ok
}

// checkDead reports CAP_DEAD when the client issuing the RPC has
// registered a capability to slot's object whose version has since
// moved on, or that it already knows to be dead, per spec.md §7's
// CAP_DEAD condition and §8 scenario 4.
func (s *Server) checkDead(task defs.Tid_t, slot *capspace.Slot) defs.Err_t {
	if slot.Type == capspace.Void {
		return defs.NO_ENTRY
	}
	cl, ok := s.clientIfExists(task)
	if !ok {
		return defs.SUCCESS
	}
	e, ok := cl.Entry(slot.Oid)
	if !ok {
		return defs.SUCCESS
	}
	if e.Dead {
		return defs.CAP_DEAD
	}
	cur, present := s.Alloc.CurrentVersion(slot.Oid)
	if !present || cur != e.Version {
		return defs.CAP_DEAD
	}
	return defs.SUCCESS
}

func (s *Server) objectPolicy(oid defs.Oid_t) defs.Policy {
	if fr := s.Alloc.ObjectFindSoft(oid); fr != nil {
		return fr.Policy
	}
	return defs.Policy{}
}

// allocatePT supplies capspace.Space.Build with a freshly allocated
// cappage of the requested width, as its pivot step needs.
func (s *Server) allocatePT(widthLog2 uint) (*capspace.Slot, error) {
	return capspace.NewCappage(widthLog2), nil
}

// shootdown is capspace.Space.Build's post-pivot hook (spec.md §4.3.2):
// this implementation keeps no translation cache to invalidate, so it
// only traces the event.
func (s *Server) shootdown(slot *capspace.Slot) {
	s.Log.Debugf("shootdown at slot type=%d oid=%d", slot.Type, slot.Oid)
}

/// capCopy implements CAP_COPY (spec.md §6): build the destination slot,
/// apply the guard/subpage/weaken translation overrides and the
/// discardable/priority policy overrides the flags select, and copy the
/// source capability into it.
func (s *Server) capCopy(msg *wire.Message) wire.Reply {
	args := msg.DecodeCapCopyArgs()

	srcSlot, writable, err := s.Space.Lookup(args.SrcAddr, capspace.Void, false, capspace.WantCap)
	if err != nil {
		return wire.Reply{Err: err.(defs.Err_t)}
	}
	if cerr := s.checkDead(msg.Sender, srcSlot); cerr != defs.SUCCESS {
		return wire.Reply{Err: cerr}
	}

	dstSlot, err := s.Space.Build(args.DstAddr, s.allocatePT, true, s.shootdown)
	if err != nil {
		return wire.Reply{Err: err.(defs.Err_t)}
	}

	next := *srcSlot
	switch {
	case args.Flags&wire.CopyAddrTransGuard != 0:
		next.Guard = args.Guard
		next.GuardBits = args.GuardBits
	case args.Flags&wire.CopySourceGuard != 0:
		next.Guard = srcSlot.Guard
		next.GuardBits = srcSlot.GuardBits
	}
	if args.Flags&wire.CopyAddrTransSubpage != 0 {
		next.SubBase = uint(args.Subpage >> 32)
		next.SubWidth = uint(args.Subpage & 0xFFFFFFFF)
	}
	if args.Flags&wire.Weaken != 0 || !writable {
		next.Type = next.Type.Weaken()
	}
	*dstSlot = next

	s.Alloc.MarkLeft(next.Oid)
	s.clientFor(msg.Sender).Register(next.Oid, next.Version)

	if args.Flags&(wire.DiscardableSet|wire.PrioritySet) != 0 {
		s.applyPolicyOverride(next.Oid, args)
	}

	return wire.Reply{Err: defs.SUCCESS}
}

func (s *Server) applyPolicyOverride(oid defs.Oid_t, args wire.CapCopyArgs) {
	fr := s.Alloc.ObjectFindSoft(oid)
	if fr == nil {
		return
	}
	policy := fr.Policy
	if args.Flags&wire.DiscardableSet != 0 {
		policy.Discardable = args.Discardable
	}
	if args.Flags&wire.PrioritySet != 0 {
		policy.Priority = args.Priority
	}
	act := fr.OwnerActivity()
	if act != nil {
		act.Claim(fr, policy)
	} else {
		fr.Policy = policy
	}
}

func (s *Server) capRubout(msg *wire.Message) wire.Reply {
	slot, _, err := s.Space.Lookup(msg.Cap, capspace.Void, false, capspace.WantSlot)
	if err != nil {
		return wire.Reply{Err: err.(defs.Err_t)}
	}
	if slot.Type == capspace.Void {
		return wire.Reply{Err: defs.NO_ENTRY}
	}
	oid := slot.Oid
	*slot = capspace.Slot{}
	if cl, ok := s.clientIfExists(msg.Sender); ok {
		cl.MarkDead(oid)
	}
	return wire.Reply{Err: defs.SUCCESS}
}

/// capRead implements CAP_READ (spec.md §6): resolve the capability,
/// reject with CAP_DEAD if it has been revoked, and return its type and
/// policy.
func (s *Server) capRead(msg *wire.Message) wire.Reply {
	slot, _, err := s.Space.Lookup(msg.Cap, capspace.Void, false, capspace.WantCap)
	if err != nil {
		return wire.Reply{Err: err.(defs.Err_t)}
	}
	if cerr := s.checkDead(msg.Sender, slot); cerr != defs.SUCCESS {
		return wire.Reply{Err: cerr}
	}
	policy := s.objectPolicy(slot.Oid)
	return wire.CapReadReply{
		Err:         defs.SUCCESS,
		Type:        uint8(slot.Type),
		Discardable: policy.Discardable,
		Priority:    policy.Priority,
	}.ToReply()
}

/// getRoot implements GET_ROOT (spec.md §6): return {err, cap} for this
/// server's root capability.
func (s *Server) getRoot(msg *wire.Message) wire.Reply {
	return wire.GetRootReply{Err: defs.SUCCESS, Cap: s.Root}.ToReply()
}

func (s *Server) objectDiscard(msg *wire.Message) wire.Reply {
	slot, _, err := s.Space.Lookup(msg.Cap, capspace.Void, false, capspace.WantObject)
	if err != nil {
		return wire.Reply{Err: err.(defs.Err_t)}
	}
	if cerr := s.checkDead(msg.Sender, slot); cerr != defs.SUCCESS {
		return wire.Reply{Err: cerr}
	}
	fr := s.Alloc.ObjectFindSoft(slot.Oid)
	if fr != nil {
		s.Reg.Disown(fr)
	}
	if cl, ok := s.clientIfExists(msg.Sender); ok {
		cl.MarkDead(slot.Oid)
	}
	return wire.Reply{Err: defs.SUCCESS}
}
