package defs

/// ObjType identifies what kind of object a folio slot or capability
/// designates. The capability-slot type adds weakened (r*) variants on
/// top of these in package capspace; the on-disk folio header and the
/// in-memory frame descriptor only ever need the unweakened content type.
type ObjType uint8

const (
	Void ObjType = iota
	Page
	Cappage
	Folio
	Activity
	ActivityControl
	Thread
	Messenger
)

func (t ObjType) String() string {
	switch t {
	case Void:
		return "void"
	case Page:
		return "page"
	case Cappage:
		return "cappage"
	case Folio:
		return "folio"
	case Activity:
		return "activity"
	case ActivityControl:
		return "activity_control"
	case Thread:
		return "thread"
	case Messenger:
		return "messenger"
	default:
		return "unknown"
	}
}

/// FolioObjects is FOLIO_OBJECTS: the number of typed object slots carved
/// out of one folio, not counting its header page.
const FolioObjects = 128

/// FolioObjectsLog2 is log2(FolioObjects), the number of address bits a
/// folio consumes during a capability lookup/build walk.
const FolioObjectsLog2 = 7

/// CapVersionBits bounds the width of an object's version counter; it
/// wraps modulo 1<<CapVersionBits on overflow (spec.md §4.2).
const CapVersionBits = 20

/// MaxVersion is the exclusive upper bound of a version counter.
const MaxVersion = 1 << CapVersionBits

/// Policy is the discardable/priority pair carried by capability slots,
/// folios, and frame descriptors (spec.md §3).
type Policy struct {
	Discardable bool
	Priority    int8 // signed 7-bit; valid range [-64, 63]
}

/// DefaultLRUPriority is the priority value meaning "ordinary LRU
/// management", as opposed to an explicit priority-tree entry (spec.md
/// §4.4 step 5).
const DefaultLRUPriority int8 = 0
