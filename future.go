package actorcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gokit/errors"
)

//***********************************
//  Future
//***********************************

// Future is a one-shot slot awaiting the response of a single request.
// Only the first resolution is accepted.
type Future struct {
	id       RequestID
	resolved AtomicBool
	done     chan struct{}
	result   Envelope
	err      error
}

func newFuture(id RequestID) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the request id the future awaits.
func (f *Future) ID() RequestID {
	return f.id
}

// Done returns a channel closed once the future is resolved or rejected.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Resolve resolves the future with giving response. It returns ErrFutureResolved
// if the future was resolved before.
func (f *Future) Resolve(env Envelope) error {
	if !f.resolved.TurnOn() {
		return errors.Wrap(ErrFutureResolved, "request %d already resolved", f.id)
	}

	f.result = env
	close(f.done)
	return nil
}

// Reject fails the future with giving error.
func (f *Future) Reject(err error) error {
	if !f.resolved.TurnOn() {
		return errors.Wrap(ErrFutureResolved, "request %d already resolved", f.id)
	}

	f.err = err
	close(f.done)
	return nil
}

// Wait suspends till the future is resolved, timeout elapses or ctx ends.
// A zero timeout waits on ctx alone.
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (Envelope, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-f.done:
		return f.result, f.err
	case <-expired:
		return Envelope{}, errors.Wrap(ErrRequestTimedOut, "request %d timed out after %s", f.id, timeout)
	case <-ctx.Done():
		if f.settled() {
			return f.result, f.err
		}
		return Envelope{}, errors.Wrap(ctx.Err(), "request %d cancelled", f.id)
	}
}

func (f *Future) settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

//***********************************
//  RequestTable
//***********************************

// RequestTable correlates outgoing requests of one address with their responses.
type RequestTable struct {
	owner     Address
	next      uint64
	onDiscard func(Envelope)

	tl      sync.Mutex
	closed  bool
	pending map[RequestID]*Future
}

// NewRequestTable returns a new RequestTable for giving owner. The discard
// function receives responses which match no pending request.
func NewRequestTable(owner Address, discard func(Envelope)) *RequestTable {
	return &RequestTable{
		owner:     owner,
		onDiscard: discard,
		pending:   map[RequestID]*Future{},
	}
}

// Open allocates a fresh request id and its future.
func (r *RequestTable) Open() (*Future, error) {
	id := RequestID(atomic.AddUint64(&r.next, 1))
	ft := newFuture(id)

	r.tl.Lock()
	defer r.tl.Unlock()
	if r.closed {
		return nil, errors.Wrap(ErrMailboxClosed, "requests of %s are closed", r.owner)
	}

	r.pending[id] = ft
	return ft, nil
}

// Release frees the slot of giving request id, after which a late response
// for it is discarded.
func (r *RequestTable) Release(id RequestID) {
	r.tl.Lock()
	delete(r.pending, id)
	r.tl.Unlock()
}

// Resolve hands a response to its pending request, returning false if the
// response was discarded as duplicate, late or unknown.
func (r *RequestTable) Resolve(env Envelope) bool {
	r.tl.Lock()
	ft, ok := r.pending[env.RequestID]
	delete(r.pending, env.RequestID)
	r.tl.Unlock()

	if ok && ft.Resolve(env) == nil {
		return true
	}

	if r.onDiscard != nil {
		r.onDiscard(env)
	}
	return false
}

// Pending returns the number of requests awaiting a response.
func (r *RequestTable) Pending() int {
	r.tl.Lock()
	defer r.tl.Unlock()
	return len(r.pending)
}

// Close rejects all pending requests with ErrMailboxClosed and refuses new ones.
func (r *RequestTable) Close() {
	r.tl.Lock()
	pending := r.pending
	r.pending = map[RequestID]*Future{}
	r.closed = true
	r.tl.Unlock()

	for _, ft := range pending {
		ft.Reject(errors.Wrap(ErrMailboxClosed, "requester %s terminated", r.owner))
	}
}
