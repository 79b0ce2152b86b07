// Package bucket implements the RPC bucket and worker-pool scheduler of
// spec.md §4.5: a manager goroutine that hands each incoming message to
// a worker, per-sender uniqueness, a cancellation RPC, and the
// green/yellow/red/black inhibition machine at bucket/class/client/object
// scope.
//
// Grounded on original_source/libhurd-cap-server/bucket-manage-mt.c (the
// accept/dispatch/allocate-next-worker handshake), class-inhibit.c,
// client-inhibit.c, and obj-inhibit.c (the inhibition state machine,
// generalized into inhibitable in this package), and on the teacher's
// tinfo/tinfo.go per-thread Tnote_t (kill channel feeding a condition
// variable) for the cancellation-token shape. Worker goroutines are
// supervised by gopkg.in/tomb.v2; golang.org/x/time/rate throttles the
// background allocator goroutine the asynchronous policy runs in place
// of the teacher's raw spin/condvar retry.
package bucket

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
	"gopkg.in/tomb.v2"

	"rm/defs"
	"rm/handle"
	"rm/wire"
)

// AllocPolicy selects how the bucket creates new workers.
type AllocPolicy int

const (
	// Synchronous: the manager itself creates a worker inline when none
	// is free.
	Synchronous AllocPolicy = iota
	// Asynchronous: a dedicated allocator goroutine creates workers ahead
	// of demand, throttled by a rate limiter, for cases where the manager
	// creating a thread on its own stack could deadlock.
	Asynchronous
)

// Handler runs one RPC's body and produces its reply.
type Handler func(ctx context.Context, msg *wire.Message) wire.Reply

// ScopeKeyFunc derives the class name and per-object inhibition scope a
// message targets, beyond the bucket/client scope every message carries.
// hasObj false means the message names no specific object scope (e.g.
// GET_ROOT).
type ScopeKeyFunc func(msg *wire.Message) (class string, obj handle.Handle, hasObj bool)

// acceptResult is a worker's handshake reply to the manager: ACCEPTED
// (message processed, manager may move on), REJECTED (a scope the message
// targets was black; dispatch retries with another worker), or CANCELED
// (the RPC's context was done before a scope cleared). A sender that
// already has an RPC in flight is turned away with BUSY by dispatch
// before any worker sees the message.
type acceptResult int

const (
	accepted acceptResult = iota
	rejected
	canceled
)

// job is one unit of work handed to a worker: a message plus the
// per-RPC context CANCEL messages can cancel.
type job struct {
	ctx context.Context
	msg *wire.Message
}

// worker is one pool member: a goroutine waiting on its inbox channel.
type worker struct {
	inbox  chan *job
	result chan acceptResult
}

// inFlight records which worker is running a sender's current RPC and
// how to cancel it, so a CANCEL message can locate and unwind it.
type inFlight struct {
	w      *worker
	cancel context.CancelFunc
}

// Bucket is a set of capability classes dispatched against by one
// manager + worker pool, per spec.md §3's Bucket record.
type Bucket struct {
	t        tomb.Tomb
	state    *inhibitable
	policy   AllocPolicy
	handle   Handler
	scopeKey ScopeKeyFunc

	mu          sync.Mutex
	senders     map[defs.Tid_t]*inFlight
	freeWorkers []*worker
	limiter     *rate.Limiter
	spawned     chan *worker

	clients map[defs.Tid_t]*inhibitable
	classes map[string]*inhibitable
	objects *handle.Table[*inhibitable]
}

/// New constructs a Bucket dispatching accepted RPCs to fn under the
/// given worker-allocation policy. scopeKey may be nil, in which case
/// only bucket/client scope inhibition applies.
func New(policy AllocPolicy, fn Handler, scopeKey ScopeKeyFunc) *Bucket {
	b := &Bucket{
		state:    newInhibitable(),
		policy:   policy,
		handle:   fn,
		scopeKey: scopeKey,
		senders:  make(map[defs.Tid_t]*inFlight),
		clients:  make(map[defs.Tid_t]*inhibitable),
		classes:  make(map[string]*inhibitable),
		objects:  handle.New[*inhibitable](),
		limiter:  rate.NewLimiter(rate.Limit(1000), 1),
		spawned:  make(chan *worker, 1),
	}
	if policy == Asynchronous {
		b.t.Go(b.runAllocator)
	}
	return b
}

/// ClassFor returns (creating if needed) the inhibitable scope for a
/// named capability class.
func (b *Bucket) ClassFor(name string) *inhibitable {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.classes[name]
	if !ok {
		c = newInhibitable()
		b.classes[name] = c
	}
	return c
}

/// ClientFor returns (creating if needed) the inhibitable scope for a
/// client task id.
func (b *Bucket) ClientFor(task defs.Tid_t) *inhibitable {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[task]
	if !ok {
		c = newInhibitable()
		b.clients[task] = c
	}
	return c
}

/// NewObjectScope allocates a fresh per-object inhibition scope (used for
/// OBJECT_DISCARD and friends, which inhibit RPCs bound to one object
/// rather than a whole class or client) and returns its handle.
func (b *Bucket) NewObjectScope() handle.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects.Alloc(newInhibitable())
}

/// ObjectScope looks up a previously allocated per-object scope.
func (b *Bucket) ObjectScope(h handle.Handle) (*inhibitable, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects.Get(h)
}

/// Accept is the manager-side entry point: CANCEL bypasses bucket-scope
/// inhibition entirely ("the manager always accepts cancellation RPCs"),
/// everything else passes spec.md §4.5's per-sender uniqueness check,
/// then hands the message to a current worker (allocating one if
/// necessary) and runs the accept/reject handshake.
func (b *Bucket) Accept(ctx context.Context, msg *wire.Message) defs.Err_t {
	if msg.Label == wire.Cancel {
		return b.cancel(msg)
	}
	ok, cerr := b.state.enter(ctx)
	if cerr == defs.CANCELED {
		return defs.CANCELED
	}
	if !ok {
		return defs.NOT_PERMITTED // bucket is black
	}
	defer b.state.leave()
	return b.dispatch(ctx, msg)
}

// cancel locates the target thread's in-flight RPC (if any) and cancels
// its context; best-effort and idempotent, per spec.md §4.5's
// "cancellation RPC".
func (b *Bucket) cancel(msg *wire.Message) defs.Err_t {
	target := msg.DecodeCancelTarget()
	b.mu.Lock()
	inf, ok := b.senders[target]
	b.mu.Unlock()
	if ok {
		inf.cancel()
	}
	return defs.SUCCESS
}

func (b *Bucket) dispatch(ctx context.Context, msg *wire.Message) defs.Err_t {
	for {
		b.mu.Lock()
		if _, busy := b.senders[msg.Sender]; busy {
			b.mu.Unlock()
			return defs.BUSY
		}
		w := b.takeFreeWorkerLocked()
		rpcCtx, cancel := context.WithCancel(ctx)
		b.senders[msg.Sender] = &inFlight{w: w, cancel: cancel}
		b.mu.Unlock()

		w.inbox <- &job{ctx: rpcCtx, msg: msg}
		res := <-w.result

		b.mu.Lock()
		delete(b.senders, msg.Sender)
		b.mu.Unlock()
		cancel()

		switch res {
		case accepted:
			return defs.SUCCESS
		case canceled:
			return defs.CANCELED
		}
		// rejected: loop back and try again with a (possibly new) worker.
	}
}

// takeFreeWorkerLocked returns a ready worker, called with b.mu held. If
// none is free it creates one synchronously (Synchronous policy) or
// blocks for the background allocator to supply one (Asynchronous).
func (b *Bucket) takeFreeWorkerLocked() *worker {
	if n := len(b.freeWorkers); n > 0 {
		w := b.freeWorkers[n-1]
		b.freeWorkers = b.freeWorkers[:n-1]
		return w
	}
	if b.policy == Asynchronous {
		b.mu.Unlock()
		w := <-b.spawned
		b.mu.Lock()
		return w
	}
	return b.newWorker()
}

func (b *Bucket) newWorker() *worker {
	w := &worker{inbox: make(chan *job, 1), result: make(chan acceptResult, 1)}
	b.t.Go(func() error { return b.runWorker(w) })
	return w
}

// runAllocator is the Asynchronous policy's dedicated allocator
// goroutine: it keeps one spare worker ready in b.spawned, paced by
// limiter so worker creation never outruns the configured rate.
func (b *Bucket) runAllocator() error {
	for {
		if err := b.throttle(context.Background()); err != nil {
			return nil
		}
		select {
		case <-b.t.Dying():
			return nil
		case b.spawned <- b.newWorker():
		}
	}
}

// enterScopes enters the client scope for msg's sender and, if scopeKey
// is set, the class and object scopes it names, per spec.md §4.5's
// "workers test class/client/object state after acquiring the relevant
// lock". On rejection or cancellation it unwinds whatever it already
// entered.
func (b *Bucket) enterScopes(ctx context.Context, msg *wire.Message) ([]*inhibitable, bool, defs.Err_t) {
	var entered []*inhibitable

	cl := b.ClientFor(msg.Sender)
	ok, cerr := cl.enter(ctx)
	if cerr == defs.CANCELED {
		return entered, false, defs.CANCELED
	}
	if !ok {
		return entered, false, defs.SUCCESS
	}
	entered = append(entered, cl)

	if b.scopeKey == nil {
		return entered, true, defs.SUCCESS
	}

	class, objHandle, hasObj := b.scopeKey(msg)
	if class != "" {
		c := b.ClassFor(class)
		ok, cerr := c.enter(ctx)
		if cerr == defs.CANCELED {
			b.leaveScopes(entered)
			return entered, false, defs.CANCELED
		}
		if !ok {
			b.leaveScopes(entered)
			return entered, false, defs.SUCCESS
		}
		entered = append(entered, c)
	}
	if hasObj {
		if o, ok2 := b.ObjectScope(objHandle); ok2 {
			ok, cerr := o.enter(ctx)
			if cerr == defs.CANCELED {
				b.leaveScopes(entered)
				return entered, false, defs.CANCELED
			}
			if !ok {
				b.leaveScopes(entered)
				return entered, false, defs.SUCCESS
			}
			entered = append(entered, o)
		}
	}
	return entered, true, defs.SUCCESS
}

func (b *Bucket) leaveScopes(entered []*inhibitable) {
	for _, s := range entered {
		s.leave()
	}
}

func (b *Bucket) runWorker(w *worker) error {
	for {
		select {
		case <-b.t.Dying():
			return nil
		case j := <-w.inbox:
			scopes, ok, cerr := b.enterScopes(j.ctx, j.msg)
			if cerr == defs.CANCELED {
				w.result <- canceled
				b.mu.Lock()
				b.freeWorkers = append(b.freeWorkers, w)
				b.mu.Unlock()
				continue
			}
			if !ok {
				w.result <- rejected
				continue
			}
			b.handle(j.ctx, j.msg)
			b.leaveScopes(scopes)
			w.result <- accepted
			b.mu.Lock()
			b.freeWorkers = append(b.freeWorkers, w)
			b.mu.Unlock()
		}
	}
}

/// Inhibit inhibits the whole bucket's RPC dispatch, per spec.md §4.5.
func (b *Bucket) Inhibit() { b.state.inhibit() }

/// Resume resumes dispatch after Inhibit.
func (b *Bucket) Resume() { b.state.resume() }

/// End shuts the bucket down: cancels the allocator/workers and marks the
/// bucket black so further Accept calls are rejected, per spec.md §4.5's
/// shutdown order.
func (b *Bucket) End() error {
	b.state.end()
	b.t.Kill(nil)
	return b.t.Wait()
}

/// throttle blocks for the allocator goroutine's rate limiter, pacing
/// how fast the asynchronous policy creates standby workers.
func (b *Bucket) throttle(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}
