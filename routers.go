package actorcore

import (
	"math/rand"
	"sync"
	"time"
)

//***********************************************************
// Destination
//***********************************************************

// DestinationKind tags the outcome of a routing decision.
type DestinationKind uint8

// constants of destination kinds.
const (
	RouteNone DestinationKind = iota
	RouteOne
	RouteMany
)

// Destination is the result of Router.Route.
type Destination struct {
	Kind  DestinationKind
	Addrs []Address
}

// None returns a Destination with no receiver.
func None() Destination {
	return Destination{Kind: RouteNone}
}

// One returns a Destination with a single receiver.
func One(addr Address) Destination {
	return Destination{Kind: RouteOne, Addrs: []Address{addr}}
}

// Many returns a Destination fanning out to all provided receivers.
func Many(addrs []Address) Destination {
	if len(addrs) == 0 {
		return None()
	}
	return Destination{Kind: RouteMany, Addrs: addrs}
}

//***********************************************************
// Router
//***********************************************************

// Router decides which members of a group receive an envelope sent to the
// group's address. Membership is changed only by the owning Supervisor.
type Router interface {
	Add(Address)
	Remove(Address)
	Members() []Address

	// Route selects receivers among members for which alive returns true.
	Route(env Envelope, alive func(Address) bool) Destination
}

//***********************************************************
// RoundRobinRouter
//***********************************************************

var _ Router = &RoundRobinRouter{}

// RoundRobinRouter implements a router which delivers messages to live
// members in turn, skipping members whose mailbox is closed.
type RoundRobinRouter struct {
	rl     sync.Mutex
	cursor int
	set    *AddressSet
}

// NewRoundRobinRouter returns a new instance of a RoundRobinRouter.
func NewRoundRobinRouter() *RoundRobinRouter {
	return &RoundRobinRouter{set: NewAddressSet()}
}

// Add adds giving address as the last member of the cycle.
func (rr *RoundRobinRouter) Add(addr Address) {
	rr.rl.Lock()
	rr.set.Add(addr)
	rr.rl.Unlock()
}

// Remove removes giving address, keeping the cursor on the member which
// would have been next.
func (rr *RoundRobinRouter) Remove(addr Address) {
	rr.rl.Lock()
	defer rr.rl.Unlock()

	index, ok := rr.set.Remove(addr)
	if !ok {
		return
	}

	if index < rr.cursor {
		rr.cursor--
	}
	if rr.cursor >= rr.set.Len() {
		rr.cursor = 0
	}
}

// Members returns current members in cycle order.
func (rr *RoundRobinRouter) Members() []Address {
	rr.rl.Lock()
	defer rr.rl.Unlock()
	return rr.set.Items()
}

// Route implements the Router interface.
func (rr *RoundRobinRouter) Route(_ Envelope, alive func(Address) bool) Destination {
	rr.rl.Lock()
	defer rr.rl.Unlock()

	total := rr.set.Len()
	for i := 0; i < total; i++ {
		index := (rr.cursor + i) % total
		addr := rr.set.At(index)
		if alive(addr) {
			rr.cursor = (index + 1) % total
			return One(addr)
		}
	}
	return None()
}

//***********************************************************
// BroadcastRouter
//***********************************************************

var _ Router = &BroadcastRouter{}

// BroadcastRouter implements a router which delivers messages in a fan-out
// manner to every live member.
type BroadcastRouter struct {
	rl  sync.RWMutex
	set *AddressSet
}

// NewBroadcastRouter returns a new instance of a BroadcastRouter.
func NewBroadcastRouter() *BroadcastRouter {
	return &BroadcastRouter{set: NewAddressSet()}
}

// Add adds giving address as member.
func (br *BroadcastRouter) Add(addr Address) {
	br.rl.Lock()
	br.set.Add(addr)
	br.rl.Unlock()
}

// Remove removes giving address from members.
func (br *BroadcastRouter) Remove(addr Address) {
	br.rl.Lock()
	br.set.Remove(addr)
	br.rl.Unlock()
}

// Members returns current members.
func (br *BroadcastRouter) Members() []Address {
	br.rl.RLock()
	defer br.rl.RUnlock()
	return br.set.Items()
}

// Route implements the Router interface.
func (br *BroadcastRouter) Route(_ Envelope, alive func(Address) bool) Destination {
	br.rl.RLock()
	defer br.rl.RUnlock()

	addrs := make([]Address, 0, br.set.Len())
	for i := 0; i < br.set.Len(); i++ {
		if addr := br.set.At(i); alive(addr) {
			addrs = append(addrs, addr)
		}
	}
	return Many(addrs)
}

//***********************************************************
// RandomRouter
//***********************************************************

var _ Router = &RandomRouter{}

// RandomRouter implements a router which delivers messages to a
// randomly picked live member.
type RandomRouter struct {
	rl     sync.Mutex
	random *rand.Rand
	set    *AddressSet
}

// NewRandomRouter returns a new instance of a RandomRouter.
func NewRandomRouter() *RandomRouter {
	return &RandomRouter{
		set:    NewAddressSet(),
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Add adds giving address as member.
func (rr *RandomRouter) Add(addr Address) {
	rr.rl.Lock()
	rr.set.Add(addr)
	rr.rl.Unlock()
}

// Remove removes giving address from members.
func (rr *RandomRouter) Remove(addr Address) {
	rr.rl.Lock()
	rr.set.Remove(addr)
	rr.rl.Unlock()
}

// Members returns current members.
func (rr *RandomRouter) Members() []Address {
	rr.rl.Lock()
	defer rr.rl.Unlock()
	return rr.set.Items()
}

// Route implements the Router interface.
func (rr *RandomRouter) Route(_ Envelope, alive func(Address) bool) Destination {
	rr.rl.Lock()
	defer rr.rl.Unlock()

	live := make([]Address, 0, rr.set.Len())
	for i := 0; i < rr.set.Len(); i++ {
		if addr := rr.set.At(i); alive(addr) {
			live = append(live, addr)
		}
	}

	if len(live) == 0 {
		return None()
	}
	return One(live[rr.random.Intn(len(live))])
}

//***********************************************************
// KeyRouter
//***********************************************************

// KeyFunc derives the routing key of an envelope. Envelopes without a key
// return false.
type KeyFunc func(Envelope) (string, bool)

// Keyed is implemented by messages which carry their own routing key.
type Keyed interface {
	RoutingKey() string
}

// MessageKey is a KeyFunc using the RoutingKey of Keyed messages.
func MessageKey(env Envelope) (string, bool) {
	if kd, ok := env.Data.(Keyed); ok {
		return kd.RoutingKey(), true
	}
	return "", false
}

// HeaderKey returns a KeyFunc using the value of giving header field.
func HeaderKey(name string) KeyFunc {
	return func(env Envelope) (string, bool) {
		if !env.Header.Has(name) {
			return "", false
		}
		return env.Header.Get(name), true
	}
}

var _ Router = &KeyRouter{}

// KeyRouter implements a router which delivers messages with the same key to
// the same member while it lives, using consistent hashing. When that member
// is lost its keys move to the next member on the ring.
type KeyRouter struct {
	key      KeyFunc
	fallback Router

	rl  sync.RWMutex
	set *HashedSet
}

// NewKeyRouter returns a new instance of a KeyRouter. Envelopes without a key
// are routed by fallback, a RoundRobinRouter if nil.
func NewKeyRouter(key KeyFunc, fallback Router) *KeyRouter {
	if key == nil {
		key = MessageKey
	}
	if fallback == nil {
		fallback = NewRoundRobinRouter()
	}
	return &KeyRouter{
		key:      key,
		fallback: fallback,
		set:      NewHashedSet(),
	}
}

// Add adds giving address to the ring.
func (kr *KeyRouter) Add(addr Address) {
	kr.rl.Lock()
	kr.set.Add(addr)
	kr.rl.Unlock()
	kr.fallback.Add(addr)
}

// Remove removes giving address from the ring.
func (kr *KeyRouter) Remove(addr Address) {
	kr.rl.Lock()
	kr.set.Remove(addr)
	kr.rl.Unlock()
	kr.fallback.Remove(addr)
}

// Members returns current members.
func (kr *KeyRouter) Members() []Address {
	return kr.fallback.Members()
}

// Route implements the Router interface.
func (kr *KeyRouter) Route(env Envelope, alive func(Address) bool) Destination {
	key, ok := kr.key(env)
	if !ok {
		return kr.fallback.Route(env, alive)
	}

	kr.rl.RLock()
	candidates := kr.set.Lookup(key)
	kr.rl.RUnlock()

	for _, addr := range candidates {
		if alive(addr) {
			return One(addr)
		}
	}
	return None()
}
