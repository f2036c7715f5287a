package actorcore

import (
	"context"
	"fmt"

	"github.com/gokit/xid"
)

//***************************************************************************
// Header
//***************************************************************************

// Header defines a map type to hold meta information associated with a Envelope.
type Header map[string]string

// Get returns the associated value from the map within the map.
func (m Header) Get(n string) string {
	return m[n]
}

// Map returns a map with contents of header.
func (m Header) Map() map[string]string {
	mv := make(map[string]string, len(m))
	for k, v := range m {
		mv[k] = v
	}
	return mv
}

// Len returns the length of records within the meta.
func (m Header) Len() int {
	return len(m)
}

// Has returns true/false value if key is present.
func (m Header) Has(n string) bool {
	_, ok := m[n]
	return ok
}

//***************************************************************************
// Envelope
//***************************************************************************

// Kind tags an Envelope as a plain message, a request awaiting a response,
// or the response to one.
type Kind uint8

// constants of envelope kinds.
const (
	KindRegular Kind = iota
	KindRequest
	KindResponse
)

// String implements the Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	}
	return "unknown"
}

// RequestID correlates a request with its single response.
type RequestID uint64

// Envelope defines a message to be delivered to a giving
// target destination from another giving source with headers
// and data specific to giving message.
type Envelope struct {
	Header
	Kind      Kind
	RequestID RequestID
	Sender    Address
	TraceID   xid.ID
	Data      interface{}
}

// CreateEnvelope returns a new regular envelope with a fresh trace id.
func CreateEnvelope(sender Address, header Header, data interface{}) Envelope {
	return Envelope{
		Kind:    KindRegular,
		Data:    data,
		TraceID: xid.New(),
		Header:  header,
		Sender:  sender,
	}
}

// IsRequest returns true/false if envelope expects a response.
func (e Envelope) IsRequest() bool {
	return e.Kind == KindRequest
}

// IsResponse returns true/false if envelope answers a request.
func (e Envelope) IsResponse() bool {
	return e.Kind == KindResponse
}

//***************************************************************************
// Message kinds
//***************************************************************************

// Kinded is implemented by messages which provide their own stable
// kind discriminant for dispatch and wire encoding.
type Kinded interface {
	MessageKind() string
}

// KindOf returns the dispatch kind of giving message: the MessageKind of
// a Kinded value or its Go type name otherwise.
func KindOf(data interface{}) string {
	if kd, ok := data.(Kinded); ok {
		return kd.MessageKind()
	}
	return fmt.Sprintf("%T", data)
}

//***********************************
//  Behaviour
//***********************************

// Behaviour defines the message handling of an actor. An error returned from
// Receive ends the actor with a Faulted exit.
type Behaviour interface {
	Receive(*Context, Envelope) error
}

// BehaviourFunc implements Behaviour with a function.
type BehaviourFunc func(*Context, Envelope) error

// Receive calls the underline function.
func (fn BehaviourFunc) Receive(ctx *Context, env Envelope) error {
	return fn(ctx, env)
}

// Runner is implemented by behaviours which own their receive loop through
// Context.Recv. Returning nil ends the actor with a Completed exit.
type Runner interface {
	Run(*Context) error
}

// PreStart is implemented by behaviours which initialise before running.
// An error fails the Starting phase as a fault.
type PreStart interface {
	PreStart(*Context) error
}

// PostStop is implemented by behaviours which must release resources once
// the actor has stopped consuming its mailbox.
type PostStop interface {
	PostStop(*Context)
}

// Factory produces a fresh Behaviour for every start of an actor.
type Factory func() (Behaviour, error)

//***********************************
//  Mailbox
//***********************************

// Postbox is the sending side of a mailbox. Bridge proxies implement
// it to appear as local mailboxes.
type Postbox interface {
	// Push delivers giving envelope, suspending under backpressure until
	// space is available, the postbox closes or the context ends.
	Push(context.Context, Envelope) error

	// Closed returns true/false if postbox has begun closing.
	Closed() bool
}

// Mailbox defines a bounded queue owned by a single reading actor.
type Mailbox interface {
	Postbox

	// Pop suspends till an envelope is available, returning ErrMailboxClosed
	// once the mailbox is closed and drained.
	Pop(context.Context) (Envelope, error)

	// Close moves the mailbox irreversibly into its closing state.
	Close()

	// Purge drops all queued envelopes and returns them in queue order.
	Purge() []Envelope

	// Cap returns maximum capacity of the mailbox.
	Cap() int

	// Total returns current total message count in mailbox.
	Total() int

	// Empty returns true/false if mailbox is empty.
	Empty() bool
}

//***********************************
//  Invokers
//***********************************

// MailInvoker defines an interface that exposes methods
// to signal status of a mailbox.
type MailInvoker interface {
	InvokedFull(Address)
	InvokedDropped(Address, Envelope)
	InvokedReceived(Address, Envelope)
	InvokedDispatched(Address, Envelope)
}

//***********************************
//  Actor System Message
//***********************************

// Terminate is delivered to children of a group with the Manually
// termination policy when the group stops them.
type Terminate struct{}

// MessageKind implements the Kinded interface.
func (Terminate) MessageKind() string {
	return "actorcore.Terminate"
}

// Terminated is delivered to watchers of an address once it deregisters.
type Terminated struct {
	Addr Address
}

// MessageKind implements the Kinded interface.
func (Terminated) MessageKind() string {
	return "actorcore.Terminated"
}
