// Package wire defines the RPC wire format of spec.md §6: message
// labels, the flags bitmask CAP_COPY's flags field carries, and the
// fixed-shape message envelope every RPC is exchanged in.
package wire

import "rm/defs"

// Label identifies an RPC's meaning. Values are unexported-numbering
// free; only identity matters on the wire within this one binary.
type Label int

const (
	CapCopy Label = iota
	CapRubout
	CapRead
	ObjectDiscardedClear
	ObjectDiscard
	ObjectStatus
	ObjectReplyOnDestruction
	ObjectName
	Cancel
	GetRoot
)

func (l Label) String() string {
	switch l {
	case CapCopy:
		return "CAP_COPY"
	case CapRubout:
		return "CAP_RUBOUT"
	case CapRead:
		return "CAP_READ"
	case ObjectDiscardedClear:
		return "OBJECT_DISCARDED_CLEAR"
	case ObjectDiscard:
		return "OBJECT_DISCARD"
	case ObjectStatus:
		return "OBJECT_STATUS"
	case ObjectReplyOnDestruction:
		return "OBJECT_REPLY_ON_DESTRUCTION"
	case ObjectName:
		return "OBJECT_NAME"
	case Cancel:
		return "CANCEL"
	case GetRoot:
		return "GET_ROOT"
	default:
		return "UNKNOWN"
	}
}

// CopyFlags is CAP_COPY's flags bitmask, spec.md §6.
type CopyFlags uint8

const (
	CopyAddrTransSubpage CopyFlags = 1 << iota
	CopyAddrTransGuard
	CopySourceGuard
	Weaken
	DiscardableSet
	PrioritySet
)

// MaxWords is the largest untyped-word payload a message carries.
const MaxWords = 62

// Message is the fixed-shape RPC envelope of spec.md §6: a label, sender
// task id, at most one capability handle, and up to MaxWords untyped
// words.
type Message struct {
	Label      Label
	Sender     defs.Tid_t
	HasCap     bool
	Cap        defs.Addr_t
	Words      [MaxWords]uint64
	WordsValid int
}

// Word offsets CAP_COPY packs its payload into: the envelope has no
// structured payload of its own, so {dst_addr, src_addr, flags,
// properties} all ride in Words, with src_obj_cap riding in the
// envelope's one capability handle field.
const (
	capCopyDstPrefix = iota
	capCopySrcPrefix
	capCopyDstDepth
	capCopySrcDepth
	capCopyFlags
	capCopySubpage
	capCopyGuard
	capCopyGuardBits
	capCopyDiscardable
	capCopyPriority
	capCopyWords
)

/// CapCopyArgs unpacks a CAP_COPY message's payload:
/// {dst_addr, src_obj_cap, src_addr, flags, properties}. properties
/// splits into the addr-translation override (Subpage/Guard/GuardBits,
/// gated by the CopyAddrTrans*/CopySourceGuard flags) and the policy
/// override (Discardable/Priority, gated by the *Set flags).
type CapCopyArgs struct {
	DstAddr   defs.Addr_t
	SrcObjCap defs.Addr_t
	SrcAddr   defs.Addr_t
	Flags     CopyFlags

	Subpage   uint64 // subBase<<32 | subWidth, valid iff CopyAddrTransSubpage
	Guard     uint64
	GuardBits uint

	Discardable bool // valid iff DiscardableSet
	Priority    int8 // valid iff PrioritySet
}

/// DecodeCapCopyArgs unpacks msg's Words into a CapCopyArgs. msg.Cap
/// carries src_obj_cap, the one capability handle the envelope allows.
func (m *Message) DecodeCapCopyArgs() CapCopyArgs {
	return CapCopyArgs{
		DstAddr:     defs.Addr_t{Prefix: m.Words[capCopyDstPrefix], Depth: uint(m.Words[capCopyDstDepth])},
		SrcObjCap:   m.Cap,
		SrcAddr:     defs.Addr_t{Prefix: m.Words[capCopySrcPrefix], Depth: uint(m.Words[capCopySrcDepth])},
		Flags:       CopyFlags(m.Words[capCopyFlags]),
		Subpage:     m.Words[capCopySubpage],
		Guard:       m.Words[capCopyGuard],
		GuardBits:   uint(m.Words[capCopyGuardBits]),
		Discardable: m.Words[capCopyDiscardable] != 0,
		Priority:    int8(m.Words[capCopyPriority]),
	}
}

/// NewCapCopyMessage encodes args into a CAP_COPY message from sender,
/// the inverse of DecodeCapCopyArgs.
func NewCapCopyMessage(sender defs.Tid_t, args CapCopyArgs) *Message {
	msg := &Message{Label: CapCopy, Sender: sender, HasCap: true, Cap: args.SrcObjCap, WordsValid: capCopyWords}
	msg.Words[capCopyDstPrefix] = args.DstAddr.Prefix
	msg.Words[capCopyDstDepth] = uint64(args.DstAddr.Depth)
	msg.Words[capCopySrcPrefix] = args.SrcAddr.Prefix
	msg.Words[capCopySrcDepth] = uint64(args.SrcAddr.Depth)
	msg.Words[capCopyFlags] = uint64(args.Flags)
	msg.Words[capCopySubpage] = args.Subpage
	msg.Words[capCopyGuard] = args.Guard
	msg.Words[capCopyGuardBits] = uint64(args.GuardBits)
	if args.Discardable {
		msg.Words[capCopyDiscardable] = 1
	}
	msg.Words[capCopyPriority] = uint64(uint8(args.Priority))
	return msg
}

/// DecodeCancelTarget unpacks CANCEL's {thread_id} payload.
func (m *Message) DecodeCancelTarget() defs.Tid_t { return defs.Tid_t(m.Words[0]) }

/// NewCancelMessage builds a CANCEL message naming target's in-flight RPC.
func NewCancelMessage(sender, target defs.Tid_t) *Message {
	msg := &Message{Label: Cancel, Sender: sender, WordsValid: 1}
	msg.Words[0] = uint64(target)
	return msg
}

/// ObjectStatusReply is OBJECT_STATUS's reply payload: {err, status:
/// {dirty, referenced}}.
type ObjectStatusReply struct {
	Err        defs.Err_t
	Dirty      bool
	Referenced bool
}

/// ToReply flattens an ObjectStatusReply into the generic Reply envelope.
func (r ObjectStatusReply) ToReply() Reply {
	return Reply{Err: r.Err, Dirty: r.Dirty, Referenced: r.Referenced}
}

/// CapReadReply is CAP_READ's reply payload: {err, type, properties}.
type CapReadReply struct {
	Err         defs.Err_t
	Type        uint8
	Discardable bool
	Priority    int8
}

/// ToReply flattens a CapReadReply into the generic Reply envelope.
func (r CapReadReply) ToReply() Reply {
	return Reply{Err: r.Err, Type: r.Type, Discardable: r.Discardable, Priority: r.Priority}
}

/// GetRootReply is GET_ROOT's reply payload: {err, cap}.
type GetRootReply struct {
	Err defs.Err_t
	Cap defs.Addr_t
}

/// ToReply flattens a GetRootReply into the generic Reply envelope.
func (r GetRootReply) ToReply() Reply {
	return Reply{Err: r.Err, Cap: r.Cap}
}

// Reply is the generic reply envelope every RPC's response flattens
// into, the same way Message is one fixed envelope for every RPC's
// request: most labels (CAP_COPY, CAP_RUBOUT, OBJECT_DISCARDED_CLEAR,
// OBJECT_DISCARD, OBJECT_NAME, CANCEL) only ever populate Err.
// CAP_READ also populates Type/Discardable/Priority (see
// CapReadReply.ToReply), GET_ROOT populates Cap (see
// GetRootReply.ToReply), and OBJECT_STATUS populates
// Dirty/Referenced (see ObjectStatusReply.ToReply).
type Reply struct {
	Err defs.Err_t

	Cap defs.Addr_t

	Type        uint8
	Discardable bool
	Priority    int8

	Dirty      bool
	Referenced bool
}
