// Package ager implements the periodic LRU-aging sweep of spec.md §4.4:
// one goroutine, ticking at AGE_PERIOD (8Hz), that samples referenced/
// dirty bits across an activity's frames, shifts each frame's age word,
// and migrates frames between the active/inactive-dirty/inactive-clean
// lists on active↔inactive transitions.
//
// Grounded on original_source/libhurd-mm/physmem-user.c's periodic
// pager/aging loop shape, supervised the way canonical-snapd supervises
// its background service goroutines with gopkg.in/tomb.v2, since the
// teacher pack in scope here does not show a comparable long-lived
// cancellable sweep goroutine.
package ager

import (
	"container/list"
	"time"

	"gopkg.in/tomb.v2"

	"rm/activity"
)

// AGE_PERIOD is the sweep tick interval: 8Hz.
const AGE_PERIOD = 125 * time.Millisecond

// BatchSize bounds how many descriptors one tick samples from each list,
// so a sweep never blocks the rest of the system for long.
const BatchSize = 64

// FullUnmapEvery is N from spec.md §4.4: every this-many iterations, the
// ager additionally unmaps everything to re-attribute dormant shared
// pages to whichever activity is actually using them.
const FullUnmapEvery = 40

// Hardware abstracts the simulated MMU access-bit sampling spec.md §4.4
// step 3 describes ("query and clear referenced+dirty bits"); a real
// implementation backs this with actual page-table accessed/dirty bits.
type Hardware interface {
	SampleAndClear(f *activity.Frame) (referenced, dirty bool)
	UnmapAll()
}

// Ager runs the sweep goroutine for one Registry's activities.
type Ager struct {
	t    tomb.Tomb
	hw   Hardware
	reg  *activity.Registry
	acts []*activity.Activity

	iteration int
}

/// New constructs an Ager over the given activities, backed by hw for
/// hardware bit sampling.
func New(reg *activity.Registry, acts []*activity.Activity, hw Hardware) *Ager {
	return &Ager{reg: reg, acts: acts, hw: hw}
}

/// Start launches the sweep goroutine.
func (a *Ager) Start() {
	a.t.Go(a.run)
}

/// Stop requests the sweep goroutine to exit and waits for it.
func (a *Ager) Stop() error {
	a.t.Kill(nil)
	return a.t.Wait()
}

func (a *Ager) run() error {
	ticker := time.NewTicker(AGE_PERIOD)
	defer ticker.Stop()
	for {
		select {
		case <-a.t.Dying():
			return nil
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *Ager) sweep() {
	a.iteration++
	for _, act := range a.acts {
		sweepList(a.reg, a.hw, act, act.ActiveList(), true)
		sweepList(a.reg, a.hw, act, act.InactiveDirtyList(), false)
		sweepList(a.reg, a.hw, act, act.InactiveCleanList(), false)
	}
	if a.iteration%FullUnmapEvery == 0 {
		a.hw.UnmapAll()
	}
}

// sweepList samples up to BatchSize frames from l, updating age and
// dirty bits and migrating frames whose active state changed. wasActive
// tells which list l is, since a frame must know its prior state to
// detect a transition.
//
// l's links are read only while reg's lru_lock is held, released before
// sampling a frame's referenced/dirty bits (which takes the frame's own
// Lock) and before any Claim call (which re-acquires lru_lock itself):
// this ager never holds both locks at once, so no ordering between them
// can be violated. reg.NewActivity's activities all share this same
// lru_lock, so this keeps the traversal safe against concurrent
// RPC-path Claim calls (spec.md §5).
func sweepList(reg *activity.Registry, hw Hardware, act *activity.Activity, l *list.List, wasActive bool) {
	reg.LockLRU()
	e := l.Front()
	reg.UnlockLRU()

	n := 0
	for e != nil && n < BatchSize {
		reg.LockLRU()
		next := e.Next()
		f := e.Value.(*activity.Frame)
		reg.UnlockLRU()

		n++
		e = next

		if !f.Lock.TryLock(0) {
			continue
		}
		referenced, dirty := hw.SampleAndClear(f)
		f.Dirty = f.Dirty || dirty
		f.Referenced = referenced
		age(f, referenced)
		nowActive := f.Active()
		f.Lock.Unlock(0)

		if wasActive != nowActive {
			act.Claim(f, f.Policy)
		}
	}
}

// age shifts a frame's age word left by one and ORs in the freshly
// sampled referenced bit, per spec.md §4.4 step 4.
func age(f *activity.Frame, referenced bool) {
	f.Age <<= 1
	if referenced {
		f.Age |= 1
	}
}
