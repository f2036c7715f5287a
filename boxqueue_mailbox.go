package actorcore

import (
	"context"
	"sync"

	"github.com/gokit/errors"
)

// DefaultMailboxCapacity is the capacity used when MailboxOptions sets none.
const DefaultMailboxCapacity = 100

var (
	_        Mailbox = &BoxQueue{}
	nodePool         = sync.Pool{New: func() interface{} {
		return new(node)
	}}
)

// Overflow defines the behaviour of a full mailbox towards new senders.
type Overflow int

// constants.
const (
	// Block suspends the sender till space frees, propagating backpressure.
	Block Overflow = iota

	// FailFast rejects the envelope with ErrMailboxFull.
	FailFast
)

// String implements the Stringer interface.
func (o Overflow) String() string {
	switch o {
	case Block:
		return "block"
	case FailFast:
		return "fail_fast"
	}
	return "unknown"
}

// MailboxOptions configures a mailbox at registration time.
type MailboxOptions struct {
	Capacity int
	Overflow Overflow
	Invoker  MailInvoker
}

func (m *MailboxOptions) ensure() {
	if m.Capacity <= 0 {
		m.Capacity = DefaultMailboxCapacity
	}
}

type node struct {
	value Envelope
	next  *node
}

// BoxQueue defines a bounded queue safe for concurrent pushes from many
// goroutines and pops from a single owner. A full BoxQueue either suspends
// senders or fails them depending on its Overflow.
type BoxQueue struct {
	owner    Address
	capped   int
	overflow Overflow
	invoker  MailInvoker
	closed   AtomicBool

	bm       sync.Mutex
	head     *node
	tail     *node
	total    int
	waiters  int
	space    chan struct{}
	readable chan struct{}
	done     chan struct{}
}

// NewBoxQueue returns a new BoxQueue owned by giving address.
func NewBoxQueue(owner Address, ops MailboxOptions) *BoxQueue {
	ops.ensure()
	return &BoxQueue{
		owner:    owner,
		capped:   ops.Capacity,
		overflow: ops.Overflow,
		invoker:  ops.Invoker,
		space:    make(chan struct{}),
		readable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push adds the envelope to the back of the queue.
//
// Push can be safely called from multiple goroutines. Under the Block overflow
// it suspends while the queue is full; cancelling ctx leaves the queue as it was.
func (bq *BoxQueue) Push(ctx context.Context, env Envelope) error {
	for {
		bq.bm.Lock()
		if bq.closed.IsTrue() {
			bq.bm.Unlock()
			return errors.Wrap(ErrMailboxClosed, "push to %s", bq.owner)
		}

		if bq.total < bq.capped {
			bq.append(env)
			bq.bm.Unlock()

			select {
			case bq.readable <- struct{}{}:
			default:
			}

			if bq.invoker != nil {
				bq.invoker.InvokedReceived(bq.owner, env)
			}
			return nil
		}

		if bq.overflow == FailFast {
			bq.bm.Unlock()
			if bq.invoker != nil {
				bq.invoker.InvokedFull(bq.owner)
				bq.invoker.InvokedDropped(bq.owner, env)
			}
			return errors.Wrap(ErrMailboxFull, "push to %s", bq.owner)
		}

		space := bq.space
		bq.waiters++
		bq.bm.Unlock()

		if bq.invoker != nil {
			bq.invoker.InvokedFull(bq.owner)
		}

		var err error
		select {
		case <-space:
		case <-bq.done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		bq.bm.Lock()
		bq.waiters--
		bq.bm.Unlock()

		if err != nil {
			return errors.Wrap(err, "push to %s cancelled", bq.owner)
		}
	}
}

// Pop removes the envelope at the front of the queue, suspending till one
// is available. It returns ErrMailboxClosed once the queue is closed and drained.
func (bq *BoxQueue) Pop(ctx context.Context) (Envelope, error) {
	for {
		bq.bm.Lock()
		if bq.head != nil {
			env := bq.shift()
			bq.bm.Unlock()

			if bq.invoker != nil {
				bq.invoker.InvokedDispatched(bq.owner, env)
			}
			return env, nil
		}

		if bq.closed.IsTrue() {
			bq.bm.Unlock()
			return Envelope{}, errors.Wrap(ErrMailboxClosed, "pop from %s", bq.owner)
		}
		bq.bm.Unlock()

		select {
		case <-bq.readable:
		case <-bq.done:
		case <-ctx.Done():
			return Envelope{}, errors.Wrap(ctx.Err(), "pop from %s cancelled", bq.owner)
		}
	}
}

// TryPop removes the envelope at the front of the queue without suspending.
func (bq *BoxQueue) TryPop() (Envelope, bool) {
	bq.bm.Lock()
	if bq.head == nil {
		bq.bm.Unlock()
		return Envelope{}, false
	}

	env := bq.shift()
	bq.bm.Unlock()

	if bq.invoker != nil {
		bq.invoker.InvokedDispatched(bq.owner, env)
	}
	return env, true
}

// Close moves the queue into its closing state. Suspended senders fail with
// ErrMailboxClosed, queued envelopes remain available to Pop.
func (bq *BoxQueue) Close() {
	bq.bm.Lock()
	defer bq.bm.Unlock()

	if !bq.closed.TurnOn() {
		return
	}
	close(bq.done)
}

// Closed returns true/false if the queue has begun closing.
func (bq *BoxQueue) Closed() bool {
	return bq.closed.IsTrue()
}

// Purge removes and returns all pending envelopes.
func (bq *BoxQueue) Purge() []Envelope {
	bq.bm.Lock()
	if bq.head == nil {
		bq.bm.Unlock()
		return nil
	}

	purged := make([]Envelope, 0, bq.total)
	for bq.head != nil {
		purged = append(purged, bq.shift())
	}
	bq.bm.Unlock()

	if bq.invoker != nil {
		for _, env := range purged {
			bq.invoker.InvokedDropped(bq.owner, env)
		}
	}
	return purged
}

// Cap returns the capacity of the queue.
func (bq *BoxQueue) Cap() int {
	return bq.capped
}

// Total returns total of items in mailbox.
func (bq *BoxQueue) Total() int {
	bq.bm.Lock()
	defer bq.bm.Unlock()
	return bq.total
}

// Empty returns true/false if the queue is empty.
func (bq *BoxQueue) Empty() bool {
	bq.bm.Lock()
	defer bq.bm.Unlock()
	return bq.head == nil
}

// append must be called with bm held.
func (bq *BoxQueue) append(env Envelope) {
	n := nodePool.Get().(*node)
	n.value = env

	bq.total++
	if bq.tail == nil {
		bq.head, bq.tail = n, n
		return
	}

	bq.tail.next = n
	bq.tail = n
}

// shift must be called with bm held and a non-empty queue.
func (bq *BoxQueue) shift() Envelope {
	head := bq.head
	env := head.value

	bq.head = head.next
	if bq.head == nil {
		bq.tail = nil
	}
	bq.total--

	head.next = nil
	head.value = Envelope{}
	nodePool.Put(head)

	if bq.waiters > 0 {
		close(bq.space)
		bq.space = make(chan struct{})
	}
	return env
}
