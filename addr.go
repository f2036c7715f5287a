package actorcore

import (
	"strconv"
	"strings"

	"github.com/gokit/errors"
)

const (
	groupShift   = 48
	sequenceMask = 1<<groupShift - 1

	// MaxGroupNo is the largest group number an AddressBook hands out.
	MaxGroupNo = 1<<16 - 1
)

// NullAddress is the zero Address, used as the sender of envelopes
// which have none.
const NullAddress Address = 0

// GroupNo identifies a supervised group. Group 0 is the system group
// which holds external callers and proxies.
type GroupNo uint16

// SystemGroup is the group number of addresses owned by the runtime itself.
const SystemGroup GroupNo = 0

// Address is an opaque identifier of one mailbox slot. The upper 16 bits carry
// the group number, the lower 48 bits carry a process-wide sequence which is
// never reused, so a stale Address can never resolve to a newer actor.
type Address uint64

func makeAddress(group GroupNo, seq uint64) Address {
	return Address(uint64(group)<<groupShift | seq&sequenceMask)
}

// IsNull returns true/false if address is the NullAddress.
func (a Address) IsNull() bool {
	return a == NullAddress
}

// Group returns the group number of the address.
func (a Address) Group() GroupNo {
	return GroupNo(uint64(a) >> groupShift)
}

// Sequence returns the unique sequence part of the address.
func (a Address) Sequence() uint64 {
	return uint64(a) & sequenceMask
}

// String returns the "group/sequence" form of the address.
func (a Address) String() string {
	if a.IsNull() {
		return "null"
	}

	var buf = make([]byte, 0, 24)
	buf = strconv.AppendUint(buf, uint64(a.Group()), 10)
	buf = append(buf, '/')
	buf = strconv.AppendUint(buf, a.Sequence(), 10)
	return string(buf)
}

// ParseAddress parses the output of Address.String back into an Address.
func ParseAddress(s string) (Address, error) {
	if s == "null" {
		return NullAddress, nil
	}

	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return NullAddress, errors.New("invalid address %q", s)
	}

	group, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return NullAddress, errors.Wrap(err, "invalid address group %q", s)
	}

	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return NullAddress, errors.Wrap(err, "invalid address sequence %q", s)
	}

	if seq > sequenceMask {
		return NullAddress, errors.New("address sequence out of range %q", s)
	}

	return makeAddress(GroupNo(group), seq), nil
}
