package rm

import (
	"sync"

	"rm/defs"
)

// objEntry is one entry of a Client's cap-id table: spec.md §3's
// "cap-id -> (obj-entry, refcnt, dead)".
type objEntry struct {
	Oid     defs.Oid_t
	Version uint32
	Refcnt  int
	Dead    bool
}

// Client is the per-task record spec.md §3 names: a task's capability
// handle table (byCapID) plus the reverse object lookup (byOid) the
// revocation path uses to flag every entry referring to a freed object.
// pending_rpcs is tracked by the bucket's per-client inhibitable scope,
// not duplicated here.
type Client struct {
	mu      sync.Mutex
	Task    defs.Tid_t
	byCapID map[uint64]*objEntry
	byOid   map[defs.Oid_t]*objEntry
	nextID  uint64
}

func newClient(task defs.Tid_t) *Client {
	return &Client{
		Task:    task,
		byCapID: make(map[uint64]*objEntry),
		byOid:   make(map[defs.Oid_t]*objEntry),
	}
}

/// Register records (or refcounts, if this client already holds a live
/// capability to oid) a capability to (oid, version), returning the
/// cap-id a client-side handle would carry.
func (c *Client) Register(oid defs.Oid_t, version uint32) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byOid[oid]; ok && !e.Dead {
		e.Refcnt++
		e.Version = version
		for id, ent := range c.byCapID {
			if ent == e {
				return id
			}
		}
	}

	e := &objEntry{Oid: oid, Version: version, Refcnt: 1}
	c.nextID++
	id := c.nextID
	c.byCapID[id] = e
	c.byOid[oid] = e
	return id
}

/// Entry returns the cap-id table entry for oid and whether this client
/// has ever registered a capability to it.
func (c *Client) Entry(oid defs.Oid_t) (objEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byOid[oid]
	if !ok {
		return objEntry{}, false
	}
	return *e, true
}

/// MarkDead flags this client's entry for oid dead, per the revocation
/// path of spec.md §7/§8 scenario 4.
func (c *Client) MarkDead(oid defs.Oid_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byOid[oid]; ok {
		e.Dead = true
	}
}
