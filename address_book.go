package actorcore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gokit/errors"
)

type bookEntry struct {
	box      Postbox
	requests *RequestTable
	router   Router
	watchers *Watchers
}

// AddressBook maps addresses to their live postboxes. Reads are lock-free,
// entries are inserted on register and removed on deregister, and addresses
// are drawn from a monotonic counter so a removed address never resolves again.
type AddressBook struct {
	seq     uint64
	groups  uint32
	live    int64
	entries sync.Map
	logs    Logs
	events  *Eventer
}

// NewAddressBook returns a new instance of AddressBook. Events may be nil.
func NewAddressBook(logs Logs, events *Eventer) *AddressBook {
	if logs == nil {
		logs = DrainLog{}
	}
	return &AddressBook{logs: logs, events: events}
}

// AllocateGroup returns a fresh group number.
func (b *AddressBook) AllocateGroup() (GroupNo, error) {
	next := atomic.AddUint32(&b.groups, 1)
	if next > MaxGroupNo {
		return 0, errors.Wrap(ErrAddressSpaceExhausted, "no group number left")
	}
	return GroupNo(next), nil
}

// Register allocates a fresh address and an empty mailbox for an actor.
func (b *AddressBook) Register(group GroupNo, ops MailboxOptions) (Address, *BoxQueue, error) {
	addr, err := b.allocate(group)
	if err != nil {
		return NullAddress, nil, err
	}

	box := NewBoxQueue(addr, ops)
	b.insert(addr, &bookEntry{
		box:      box,
		requests: NewRequestTable(addr, b.discard(addr)),
		watchers: NewWatchers(),
	})
	return addr, box, nil
}

// RegisterPostbox registers a foreign postbox such as a bridge proxy under a
// fresh address. Responses addressed to it are pushed like any envelope.
func (b *AddressBook) RegisterPostbox(group GroupNo, box Postbox) (Address, error) {
	addr, err := b.allocate(group)
	if err != nil {
		return NullAddress, err
	}

	b.insert(addr, &bookEntry{box: box, watchers: NewWatchers()})
	return addr, nil
}

// registerRequester registers a postbox which also awaits responses.
func (b *AddressBook) registerRequester(group GroupNo, box Postbox) (Address, *RequestTable, error) {
	addr, err := b.allocate(group)
	if err != nil {
		return NullAddress, nil, err
	}

	requests := NewRequestTable(addr, b.discard(addr))
	b.insert(addr, &bookEntry{box: box, requests: requests, watchers: NewWatchers()})
	return addr, requests, nil
}

// registerGroup registers a group address whose deliveries go through router.
func (b *AddressBook) registerGroup(group GroupNo, router Router) (Address, error) {
	addr, err := b.allocate(group)
	if err != nil {
		return NullAddress, err
	}

	b.insert(addr, &bookEntry{
		box:      &groupBox{book: b, addr: addr, router: router},
		router:   router,
		watchers: NewWatchers(),
	})
	return addr, nil
}

// closeGroup makes sends to giving group address fail with ErrMailboxClosed.
func (b *AddressBook) closeGroup(addr Address) {
	ent, ok := b.lookup(addr)
	if !ok {
		return
	}
	if gb, ok := ent.box.(*groupBox); ok {
		gb.closed.On()
	}
}

// Resolve returns the postbox registered for giving address.
func (b *AddressBook) Resolve(addr Address) (Postbox, bool) {
	ent, ok := b.lookup(addr)
	if !ok {
		return nil, false
	}
	return ent.box, true
}

// Requests returns the request table of giving address if it awaits responses.
func (b *AddressBook) Requests(addr Address) (*RequestTable, bool) {
	ent, ok := b.lookup(addr)
	if !ok || ent.requests == nil {
		return nil, false
	}
	return ent.requests, true
}

// Alive returns true/false if giving address is registered and accepting envelopes.
func (b *AddressBook) Alive(addr Address) bool {
	ent, ok := b.lookup(addr)
	return ok && !ent.box.Closed()
}

// Members returns the members of giving group address.
func (b *AddressBook) Members(addr Address) ([]Address, bool) {
	ent, ok := b.lookup(addr)
	if !ok || ent.router == nil {
		return nil, false
	}
	return ent.router.Members(), true
}

// Deregister removes giving address. Watchers of the address are informed.
func (b *AddressBook) Deregister(addr Address) {
	value, ok := b.entries.LoadAndDelete(addr)
	if !ok {
		return
	}

	atomic.AddInt64(&b.live, -1)
	ent := value.(*bookEntry)
	ent.watchers.Inform(addr)

	LogMsg("deregistered address").
		String("addr", addr.String()).
		Write(DEBUG, b.logs)
}

// Watch calls fn once giving target deregisters, returning a function which
// cancels the watch. It fails with ErrAddressNotFound if target is not live.
func (b *AddressBook) Watch(target Address, fn func(Address)) (func(), error) {
	ent, ok := b.lookup(target)
	if !ok {
		return nil, errors.Wrap(ErrAddressNotFound, "watch %s", target)
	}

	cancel, ok := ent.watchers.AddWatcher(fn)
	if !ok {
		return nil, errors.Wrap(ErrAddressNotFound, "watch %s", target)
	}
	return cancel, nil
}

// Len returns the number of live addresses.
func (b *AddressBook) Len() int {
	return int(atomic.LoadInt64(&b.live))
}

// Deliver hands giving envelope to the postbox of the destination, routing
// through the group router for group addresses and resolving responses
// into the request table of their receiver.
func (b *AddressBook) Deliver(ctx context.Context, to Address, env Envelope) error {
	ent, ok := b.lookup(to)
	if !ok {
		return errors.Wrap(ErrAddressNotFound, "deliver to %s", to)
	}

	if env.Kind == KindResponse && ent.requests != nil {
		ent.requests.Resolve(env)
		return nil
	}

	return ent.box.Push(ctx, env)
}

func (b *AddressBook) route(ctx context.Context, group Address, router Router, env Envelope) error {
	dest := router.Route(env, b.Alive)
	switch dest.Kind {
	case RouteOne:
		return b.Deliver(ctx, dest.Addrs[0], env)
	case RouteMany:
		var first error
		for _, addr := range dest.Addrs {
			if err := b.Deliver(ctx, addr, env); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	return errors.Wrap(ErrNoAvailableMember, "deliver to group %s", group)
}

func (b *AddressBook) allocate(group GroupNo) (Address, error) {
	seq := atomic.AddUint64(&b.seq, 1)
	if seq > sequenceMask {
		return NullAddress, errors.Wrap(ErrAddressSpaceExhausted, "no address left in group %d", group)
	}
	return makeAddress(group, seq), nil
}

func (b *AddressBook) insert(addr Address, ent *bookEntry) {
	b.entries.Store(addr, ent)
	atomic.AddInt64(&b.live, 1)
}

func (b *AddressBook) lookup(addr Address) (*bookEntry, bool) {
	value, ok := b.entries.Load(addr)
	if !ok {
		return nil, false
	}
	return value.(*bookEntry), true
}

func (b *AddressBook) discard(addr Address) func(Envelope) {
	return func(env Envelope) {
		LogMsg("discarded response without pending request").
			String("addr", addr.String()).
			String("sender", env.Sender.String()).
			Int64("request_id", int64(env.RequestID)).
			Write(WARN, b.logs)

		if b.events != nil {
			b.events.Publish(ResponseDiscarded{Addr: addr, Envelope: env})
		}
	}
}

//***********************************
//  groupBox
//***********************************

// groupBox is the postbox of a group address; pushes are routed to members.
type groupBox struct {
	book   *AddressBook
	addr   Address
	router Router
	closed AtomicBool
}

func (g *groupBox) Push(ctx context.Context, env Envelope) error {
	if g.closed.IsTrue() {
		return errors.Wrap(ErrMailboxClosed, "group %s is closed", g.addr)
	}
	return g.book.route(ctx, g.addr, g.router, env)
}

func (g *groupBox) Closed() bool {
	return g.closed.IsTrue()
}
