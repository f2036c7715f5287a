package actorcore

import (
	"context"
	"sync"
	"time"

	"github.com/gokit/errors"
	"github.com/gokit/es"
)

//***********************************
//  runtime
//***********************************

// runtime is shared by every supervisor and actor of one topology.
type runtime struct {
	book    *AddressBook
	events  *Eventer
	logs    Logs
	invoker MailInvoker
}

func (rt *runtime) deadLetter(addr Address, env Envelope, reason string) {
	rt.events.Publish(DeadLetter{Addr: addr, Envelope: env, Reason: reason})
}

//***********************************
//  deadLetterBox
//***********************************

// deadLetterBox is the postbox of the system address: nothing reads it,
// so everything pushed into it becomes a dead letter.
type deadLetterBox struct {
	rt     *runtime
	addr   Address
	closed AtomicBool
}

func (d *deadLetterBox) Push(_ context.Context, env Envelope) error {
	if d.closed.IsTrue() {
		return errors.Wrap(ErrMailboxClosed, "system address %s", d.addr)
	}

	d.rt.deadLetter(d.addr, env, "delivered to system address")
	LogMsg("dead letter").
		String("sender", env.Sender.String()).
		String("kind", KindOf(env.Data)).
		Write(DEBUG, d.rt.logs)
	return nil
}

func (d *deadLetterBox) Closed() bool {
	return d.closed.IsTrue()
}

//***********************************
//  Topology
//***********************************

// TopologyConfig configures a topology.
type TopologyConfig struct {
	Name string
	Root SupervisorConfig
	Logs Logs

	// EventBuffer bounds the telemetry queue.
	EventBuffer int

	// TraceMailboxes publishes envelope level mailbox events.
	TraceMailboxes bool

	// OnFatal is called once if the root supervisor escalates, before the
	// topology shuts itself down.
	OnFatal func(error)
}

func (t *TopologyConfig) ensure() {
	if t.Name == "" {
		t.Name = "actorcore"
	}
	if t.Root.Name == "" {
		t.Root.Name = t.Name
	}
	if t.Logs == nil {
		t.Logs = DrainLog{}
	}
	if t.EventBuffer <= 0 {
		t.EventBuffer = DefaultEventBuffer
	}
	t.Root.ensure()
}

// Topology is the process root: it owns the AddressBook, the root
// Supervisor and the telemetry stream.
type Topology struct {
	config TopologyConfig
	rt     *runtime
	root   *Supervisor
	system *Context
	dead   *deadLetterBox
	cancel context.CancelFunc

	fatalOnce sync.Once
	fatal     chan struct{}
	fatalErr  error

	stopped      AtomicBool
	shutdownOnce sync.Once
	shutdownDone chan struct{}
	shutdownErr  error
}

// NewTopology builds the supervision tree described by config. Nothing
// runs before Start.
func NewTopology(config TopologyConfig) (*Topology, error) {
	config.ensure()
	if err := config.Root.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid topology %q", config.Name)
	}

	events := NewEventer(config.EventBuffer)
	rt := &runtime{
		book:   NewAddressBook(config.Logs, events),
		events: events,
		logs:   config.Logs,
	}
	if config.TraceMailboxes {
		rt.invoker = EventMailInvoker{Events: events}
	}

	topo := &Topology{
		config:       config,
		rt:           rt,
		fatal:        make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}

	topo.dead = &deadLetterBox{rt: rt}
	addr, requests, err := rt.book.registerRequester(SystemGroup, topo.dead)
	if err != nil {
		events.Close()
		return nil, err
	}
	topo.dead.addr = addr

	root, err := newSupervisor(rt, "", config.Root, topo.onRootEscalation)
	if err != nil {
		events.Close()
		return nil, errors.Wrap(err, "failed to build topology %q", config.Name)
	}
	topo.root = root

	var sctx context.Context
	sctx, topo.cancel = context.WithCancel(context.Background())
	topo.system = &Context{
		self:     addr,
		role:     config.Name,
		sup:      root,
		rt:       rt,
		requests: requests,
		ctx:      sctx,
	}
	return topo, nil
}

// Start starts every configured actor, returning once all finished Starting.
// Actors failing to start are handled by their supervisor's policy.
func (t *Topology) Start(ctx context.Context) error {
	if t.stopped.IsTrue() {
		return t.stoppedErr()
	}

	LogMsg("starting topology").
		String("name", t.config.Name).
		Write(INFO, t.rt.logs)
	return t.root.start(ctx)
}

// Root returns the root supervisor.
func (t *Topology) Root() *Supervisor {
	return t.root
}

// Book returns the address book of the topology.
func (t *Topology) Book() *AddressBook {
	return t.rt.book
}

// Logs returns the logger of the topology.
func (t *Topology) Logs() Logs {
	return t.rt.logs
}

// Events returns the telemetry stream of the topology.
func (t *Topology) Events() *Eventer {
	return t.rt.events
}

// Context returns the context used by callers outside any actor. Its address
// belongs to the system group and awaits responses; other envelopes sent to
// it become dead letters.
func (t *Topology) Context() *Context {
	return t.system
}

// Send delivers data to giving address from the system address.
func (t *Topology) Send(ctx context.Context, to Address, data interface{}) error {
	if t.stopped.IsTrue() {
		return t.stoppedErr()
	}
	return t.system.Send(ctx, to, data)
}

// Request sends data as request from the system address and awaits its response.
func (t *Topology) Request(ctx context.Context, to Address, data interface{}, timeout time.Duration) (Envelope, error) {
	if t.stopped.IsTrue() {
		return Envelope{}, t.stoppedErr()
	}
	return t.system.Request(ctx, to, data, timeout)
}

// RequestAll sends data as request to all members of giving group.
func (t *Topology) RequestAll(ctx context.Context, to Address, data interface{}, timeout time.Duration) ([]Envelope, error) {
	if t.stopped.IsTrue() {
		return nil, t.stoppedErr()
	}
	return t.system.RequestAll(ctx, to, data, timeout)
}

// Subscribe observes telemetry events. Handlers run on the telemetry
// goroutine and must not block for long.
func (t *Topology) Subscribe(handler es.EventHandler, predicate es.Predicate) es.Subscription {
	return t.rt.events.Subscribe(handler, predicate)
}

// Fatal returns a channel closed once the root supervisor escalated. The
// topology starts shutting down right after.
func (t *Topology) Fatal() <-chan struct{} {
	return t.fatal
}

// Err returns the cause of a fatal escalation, if any.
func (t *Topology) Err() error {
	select {
	case <-t.fatal:
		return t.fatalErr
	default:
		return nil
	}
}

// Shutdown stops the supervision tree top-down and closes the telemetry
// stream. Concurrent callers wait for the same shutdown.
func (t *Topology) Shutdown(ctx context.Context) error {
	t.shutdownOnce.Do(func() {
		go func() {
			defer close(t.shutdownDone)
			t.shutdownErr = t.shutdown(ctx)
		}()
	})

	select {
	case <-t.shutdownDone:
		return t.shutdownErr
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "topology %q shutdown", t.config.Name)
	}
}

func (t *Topology) stoppedErr() error {
	return errors.Wrap(ErrTopologyStopped, "topology %q", t.config.Name)
}

func (t *Topology) shutdown(ctx context.Context) error {
	t.stopped.On()

	LogMsg("stopping topology").
		String("name", t.config.Name).
		Write(INFO, t.rt.logs)

	err := t.root.Stop(ctx)

	t.dead.closed.On()
	t.system.requests.Close()
	t.cancel()
	t.rt.book.Deregister(t.dead.addr)
	t.rt.events.Close()
	return err
}

func (t *Topology) onRootEscalation(_ *Supervisor, cause error) {
	t.fatalOnce.Do(func() {
		t.fatalErr = errors.Wrap(cause, "root supervisor of %q escalated", t.config.Name)

		LogMsg("topology fatal").
			String("name", t.config.Name).
			Err(cause).
			Write(PANIC, t.rt.logs)

		t.rt.events.Publish(TopologyFatal{Cause: t.fatalErr, Time: time.Now()})
		close(t.fatal)

		if t.config.OnFatal != nil {
			t.config.OnFatal(t.fatalErr)
		}

		go t.shutdownAfterFatal()
	})
}

func (t *Topology) shutdownAfterFatal() {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.Root.ShutdownTimeout)
	defer cancel()

	if err := t.Shutdown(ctx); err != nil {
		LogMsg("failed to stop topology after fatal escalation").
			String("name", t.config.Name).
			Err(err).
			Write(ERROR, t.rt.logs)
	}
}
