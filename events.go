package actorcore

import (
	"sync"
	"time"

	"github.com/gokit/es"
)

// DefaultEventBuffer is the number of telemetry events an Eventer queues
// before it starts dropping.
const DefaultEventBuffer = 1024

//***********************************
//  Eventer
//***********************************

// Eventer decorates the gokit es event stream with a bounded queue drained
// by its own goroutine. Publishing never blocks: events beyond the buffer
// are counted and dropped, so subscribers cannot stall delivery.
type Eventer struct {
	stream  es.EventStream
	queue   chan interface{}
	done    chan struct{}
	dropped AtomicCounter
	closer  sync.Once
	waiter  sync.WaitGroup
}

// NewEventer returns a started instance of a Eventer.
func NewEventer(buffer int) *Eventer {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}

	ev := &Eventer{
		stream: es.New(),
		queue:  make(chan interface{}, buffer),
		done:   make(chan struct{}),
	}

	ev.waiter.Add(1)
	go ev.pump()
	return ev
}

// Publish queues a giving event for subscribers.
func (e *Eventer) Publish(m interface{}) {
	select {
	case <-e.done:
		return
	default:
	}

	select {
	case e.queue <- m:
	default:
		e.dropped.Inc()
	}
}

// Subscribe adds a giving subscription using the provided handler and predicate.
func (e *Eventer) Subscribe(handler es.EventHandler, predicate es.Predicate) es.Subscription {
	sub := e.stream.Subscribe(handler)
	if predicate != nil {
		return sub.WithPredicate(predicate)
	}
	return sub
}

// Dropped returns the number of events dropped due to a full queue.
func (e *Eventer) Dropped() int64 {
	return e.dropped.Get()
}

// Close stops the pump after delivering already queued events.
func (e *Eventer) Close() {
	e.closer.Do(func() {
		close(e.done)
	})
	e.waiter.Wait()
}

func (e *Eventer) pump() {
	defer e.waiter.Done()
	for {
		select {
		case m := <-e.queue:
			e.stream.Publish(m)
		case <-e.done:
			for {
				select {
				case m := <-e.queue:
					e.stream.Publish(m)
				default:
					return
				}
			}
		}
	}
}

//***********************************
//  Mailbox Events
//***********************************

// EnvelopeReceived is published when a mailbox accepts an envelope.
type EnvelopeReceived struct {
	Addr     Address
	Envelope Envelope
}

// EnvelopeDispatched is published when an envelope leaves a mailbox for its actor.
type EnvelopeDispatched struct {
	Addr     Address
	Envelope Envelope
}

// EnvelopeDropped is published when a mailbox rejects or purges an envelope.
type EnvelopeDropped struct {
	Addr     Address
	Envelope Envelope
}

// MailboxFull is published when a sender finds a mailbox at capacity.
type MailboxFull struct {
	Addr Address
}

//***********************************
//  Lifecycle Events
//***********************************

// ActorStarted is published once an actor finished Starting and joined its group.
type ActorStarted struct {
	Addr  Address
	Role  string
	Group string
	Time  time.Time
}

// ActorTerminated is published once an actor released its address.
type ActorTerminated struct {
	Addr  Address
	Role  string
	Group string
	Exit  ExitKind
	Cause error
	Time  time.Time
}

// RestartScheduled is published when a supervisor decides to restart a role.
type RestartScheduled struct {
	Role    string
	Group   string
	Attempt int
	Backoff time.Duration
	Time    time.Time
}

// SupervisorEscalated is published when a supervisor gives up on a role
// and reports itself faulted to its parent.
type SupervisorEscalated struct {
	Group string
	Role  string
	Cause error
	Time  time.Time
}

// TopologyFatal is published when the root supervisor escalates.
type TopologyFatal struct {
	Cause error
	Time  time.Time
}

//***********************************
//  Delivery Events
//***********************************

// ResponseDiscarded is published when a response matches no pending request.
type ResponseDiscarded struct {
	Addr     Address
	Envelope Envelope
}

// DeadLetter is published for envelopes which could not be handled.
type DeadLetter struct {
	Addr     Address
	Envelope Envelope
	Reason   string
}
