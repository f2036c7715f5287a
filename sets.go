package actorcore

import (
	"github.com/serialx/hashring"
)

//**************************************
// AddressSet
//**************************************

// AddressSet implements an ordered set of addresses. Removal keeps the order
// of remaining members so cursors over the set stay meaningful.
type AddressSet struct {
	items []Address
	index map[Address]int
}

// NewAddressSet returns a new instance of AddressSet.
func NewAddressSet() *AddressSet {
	return &AddressSet{
		index: map[Address]int{},
	}
}

// Add adds giving address to the end of the set.
func (p *AddressSet) Add(addr Address) bool {
	if p.Has(addr) {
		return false
	}

	p.index[addr] = len(p.items)
	p.items = append(p.items, addr)
	return true
}

// Remove removes giving address from set, returning the index it occupied.
func (p *AddressSet) Remove(addr Address) (int, bool) {
	index, ok := p.index[addr]
	if !ok {
		return -1, false
	}

	delete(p.index, addr)
	copy(p.items[index:], p.items[index+1:])
	p.items = p.items[:len(p.items)-1]

	for i := index; i < len(p.items); i++ {
		p.index[p.items[i]] = i
	}
	return index, true
}

// Has returns true/false if giving address is in set.
func (p *AddressSet) Has(addr Address) bool {
	_, ok := p.index[addr]
	return ok
}

// At returns the address at giving index.
func (p *AddressSet) At(i int) Address {
	return p.items[i]
}

// Len returns current total of addresses in set.
func (p *AddressSet) Len() int {
	return len(p.items)
}

// Items returns a copy of the addresses in order.
func (p *AddressSet) Items() []Address {
	items := make([]Address, len(p.items))
	copy(items, p.items)
	return items
}

//**************************************
// HashedSet
//**************************************

// HashedSet implements a giving set which is unique in that
// it has a hash ring underline which is encoded to return specific
// addresses for specific hash strings. It allows consistently retrieving
// same address for same key while that address remains in the set.
type HashedSet struct {
	set     map[string]Address
	hashing *hashring.HashRing
}

// NewHashedSet returns a new instance of HashedSet.
func NewHashedSet() *HashedSet {
	return &HashedSet{
		set:     map[string]Address{},
		hashing: hashring.New([]string{}),
	}
}

// Lookup returns all members ordered by their ring distance from giving key,
// the first being the owner of the key.
func (hs *HashedSet) Lookup(key string) []Address {
	if len(hs.set) == 0 {
		return nil
	}

	nodes, ok := hs.hashing.GetNodes(key, len(hs.set))
	if !ok && len(nodes) == 0 {
		return nil
	}

	addrs := make([]Address, 0, len(nodes))
	for _, n := range nodes {
		if addr, ok := hs.set[n]; ok {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// Add adds giving address into set.
func (hs *HashedSet) Add(addr Address) {
	n := addr.String()
	if _, ok := hs.set[n]; ok {
		return
	}

	hs.hashing = hs.hashing.AddNode(n)
	hs.set[n] = addr
}

// Remove removes giving address from set.
func (hs *HashedSet) Remove(addr Address) {
	n := addr.String()
	if _, ok := hs.set[n]; !ok {
		return
	}

	hs.hashing = hs.hashing.RemoveNode(n)
	delete(hs.set, n)
}

// Has returns true/false if giving address is in set.
func (hs *HashedSet) Has(addr Address) bool {
	_, ok := hs.set[addr.String()]
	return ok
}

// Len returns current total of addresses in set.
func (hs *HashedSet) Len() int {
	return len(hs.set)
}
