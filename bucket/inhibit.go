package bucket

import (
	"context"
	"sync"

	"rm/defs"
)

// InhibitState is one of the four-state (bucket) or three-state
// (class/client/object) inhibition machines of spec.md §4.5.
type InhibitState int

const (
	Green InhibitState = iota
	Yellow
	Red
	Black
)

// inhibitable is the shared green→yellow→red→green state machine, plus
// the bucket-only black terminal state. Grounded on
// original_source/libhurd-cap-server/class-inhibit.c and obj-inhibit.c,
// which both implement the identical wait-for-green/serialize/cancel-
// pending/wait-for-drain sequence against their own per-scope lock and
// condition variable; here one small type serves bucket, class, client,
// and object alike instead of four near-duplicate C files.
type inhibitable struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   InhibitState
	pending int // count of in-flight RPCs in this scope
}

func newInhibitable() *inhibitable {
	in := &inhibitable{}
	in.cond = sync.NewCond(&in.mu)
	return in
}

/// enter registers one RPC as pending in this scope, blocking while the
/// scope is not green. Returns (false, SUCCESS) if the scope is black
/// (caller must reject the RPC), or (false, CANCELED) if ctx is done
/// before the scope clears, per spec.md §5's "an RPC on an inhibited
/// scope that is canceled unwinds ... and returns CANCELED".
func (in *inhibitable) enter(ctx context.Context) (bool, defs.Err_t) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			in.mu.Lock()
			in.cond.Broadcast()
			in.mu.Unlock()
		case <-done:
		}
	}()

	in.mu.Lock()
	defer in.mu.Unlock()
	for in.state == Yellow || in.state == Red {
		if ctx.Err() != nil {
			return false, defs.CANCELED
		}
		in.cond.Wait()
	}
	if ctx.Err() != nil {
		return false, defs.CANCELED
	}
	if in.state == Black {
		return false, defs.SUCCESS
	}
	in.pending++
	return true, defs.SUCCESS
}

/// leave retires one pending RPC. If the scope is draining (yellow) and
/// this was the last pending RPC, the scope transitions to red and
/// broadcasts.
func (in *inhibitable) leave() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending--
	if in.state == Yellow && in.pending == 0 {
		in.state = Red
		in.cond.Broadcast()
	}
}

/// inhibit waits for green, then transitions to yellow and blocks until
/// every pending RPC (besides the caller, which never counts itself) has
/// drained and the state reaches red, per spec.md §4.5's inhibit(X).
func (in *inhibitable) inhibit() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for in.state != Green {
		in.cond.Wait()
	}
	in.state = Yellow
	if in.pending == 0 {
		in.state = Red
		return
	}
	for in.state != Red {
		in.cond.Wait()
	}
}

/// resume transitions the scope back to green and wakes every waiter,
/// per spec.md §4.5's resume(X).
func (in *inhibitable) resume() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.state = Green
	in.cond.Broadcast()
}

/// end transitions the scope to black (bucket only) and wakes every
/// waiter, per spec.md §4.5's end(X).
func (in *inhibitable) end() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.state = Black
	in.cond.Broadcast()
}
