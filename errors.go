package actorcore

import (
	"fmt"

	"github.com/gokit/errors"
)

//***********************************
//  Delivery Errors
//***********************************

var (
	// ErrMailboxFull is returned by a fail-fast mailbox which has reached its capacity.
	ErrMailboxFull = errors.New("mailbox is full")

	// ErrMailboxClosed is returned when pushing into a mailbox which has begun closing,
	// or popping from a closed mailbox with nothing left to drain.
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrAddressNotFound is returned when an address has no live registration.
	ErrAddressNotFound = errors.New("address not found")

	// ErrNoAvailableMember is returned when a group router has no live member to deliver to.
	ErrNoAvailableMember = errors.New("group has no available member")

	// ErrRequestTimedOut is returned when a request received no response within its timeout.
	ErrRequestTimedOut = errors.New("request timed out")

	// ErrUnreachable is returned when a request destination was found closed at send time.
	ErrUnreachable = errors.New("destination is unreachable")
)

//***********************************
//  Runtime Errors
//***********************************

var (
	// ErrFutureResolved is returned when a future receives a second resolution.
	ErrFutureResolved = errors.New("future already resolved")

	// ErrAddressSpaceExhausted is returned when no further group numbers can be allocated.
	ErrAddressSpaceExhausted = errors.New("address space exhausted")

	// ErrSupervisorStopped is returned by operations on a supervisor which has stopped.
	ErrSupervisorStopped = errors.New("supervisor has stopped")

	// ErrRoleExists is returned when spawning a role which is already supervised.
	ErrRoleExists = errors.New("role already exists")

	// ErrRoleNotFound is returned for operations against an unknown role.
	ErrRoleNotFound = errors.New("role not found")

	// ErrTopologyStopped is returned by a topology which has been shut down.
	ErrTopologyStopped = errors.New("topology has stopped")
)

//***********************************
//  FaultError
//***********************************

// FaultError describes the Faulted exit of an actor or supervisor.
type FaultError struct {
	Addr  Address
	Role  string
	Cause error
}

// Faulted returns a new *FaultError for giving role and address.
func Faulted(role string, addr Address, cause error) *FaultError {
	return &FaultError{Role: role, Addr: addr, Cause: cause}
}

// Error implements the error interface.
func (f *FaultError) Error() string {
	return fmt.Sprintf("actor %q at %s faulted: %s", f.Role, f.Addr, f.Cause)
}

// IsFaulted returns true/false if giving error is or wraps a *FaultError.
func IsFaulted(err error) bool {
	if err == nil {
		return false
	}
	_, ok := errors.UnwrapDeep(err).(*FaultError)
	return ok
}

// panicCause converts a recovered panic value into an error.
func panicCause(v interface{}) error {
	if err, ok := v.(error); ok {
		return errors.Wrap(err, "panic recovered")
	}
	return errors.New("panic recovered: %#v", v)
}
