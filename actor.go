package actorcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gokit/errors"
)

// DefaultGrace is the time a stopping actor may spend draining its mailbox.
const DefaultGrace = time.Second

//***********************************
//  ActorState
//***********************************

// ActorState describes where an actor is in its lifecycle.
type ActorState uint32

// constants of actor states.
const (
	StateStarting ActorState = iota
	StateRunning
	StateRestarting
	StateTerminating
	StateTerminated
)

// String implements the Stringer interface.
func (s ActorState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

//***********************************
//  Exit
//***********************************

// ExitKind describes why an actor terminated.
type ExitKind uint8

// constants of exit kinds.
const (
	// ExitStopped marks a graceful stop.
	ExitStopped ExitKind = iota

	// ExitCompleted marks a Runner which returned without error.
	ExitCompleted

	// ExitFaulted marks a failure while starting or running.
	ExitFaulted
)

// String implements the Stringer interface.
func (e ExitKind) String() string {
	switch e {
	case ExitStopped:
		return "stopped"
	case ExitCompleted:
		return "completed"
	case ExitFaulted:
		return "faulted"
	}
	return "unknown"
}

// Exit is reported by an actor to its supervisor once it terminated.
type Exit struct {
	Addr      Address
	Role      string
	Kind      ExitKind
	Cause     error
	StartedAt time.Time
	Time      time.Time
}

//***********************************
//  ActorSpec
//***********************************

// ActorSpec describes a supervised role: how to build its behaviour and
// how its mailbox behaves.
type ActorSpec struct {
	Role    string
	Factory Factory
	Mailbox MailboxOptions

	// Grace bounds the drain of queued envelopes on stop.
	Grace time.Duration
}

func (a *ActorSpec) ensure() {
	a.Mailbox.ensure()
	if a.Grace <= 0 {
		a.Grace = DefaultGrace
	}
}

func (a ActorSpec) validate() error {
	if a.Role == "" {
		return errors.New("actor spec requires a role")
	}
	if a.Factory == nil {
		return errors.New("actor spec %q requires a factory", a.Role)
	}
	return nil
}

//***********************************
//  actor
//***********************************

// actor is one incarnation of a role, bound to one address for its lifetime.
type actor struct {
	spec     ActorSpec
	addr     Address
	box      *BoxQueue
	requests *RequestTable
	rt       *runtime
	sup      *Supervisor
	context  *Context

	state       uint32
	stopping    AtomicBool
	terminating AtomicBool

	// halted is owned by the supervisor control loop.
	halted bool

	ctx    context.Context
	cancel context.CancelFunc

	sl    sync.Mutex
	grace *time.Timer

	ready    chan struct{}
	startErr error
	done     chan struct{}
}

func newActor(rt *runtime, sup *Supervisor, spec ActorSpec) (*actor, error) {
	ops := spec.Mailbox
	if rt.invoker != nil {
		if ops.Invoker != nil {
			ops.Invoker = MailInvokers{ops.Invoker, rt.invoker}
		} else {
			ops.Invoker = rt.invoker
		}
	}

	addr, box, err := rt.book.Register(sup.group, ops)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register actor %q", spec.Role)
	}

	requests, _ := rt.book.Requests(addr)

	ac := &actor{
		spec:     spec,
		addr:     addr,
		box:      box,
		requests: requests,
		rt:       rt,
		sup:      sup,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	ac.ctx, ac.cancel = context.WithCancel(context.Background())
	ac.context = &Context{
		self:     addr,
		role:     spec.Role,
		sup:      sup,
		rt:       rt,
		requests: requests,
		actor:    ac,
		ctx:      ac.ctx,
	}
	return ac, nil
}

func (a *actor) State() ActorState {
	return ActorState(atomic.LoadUint32(&a.state))
}

func (a *actor) setState(s ActorState) {
	atomic.StoreUint32(&a.state, uint32(s))
}

func (a *actor) exited() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// stop closes the mailbox and forces termination once the grace elapses.
func (a *actor) stop() {
	if !a.stopping.TurnOn() {
		return
	}

	a.setState(StateTerminating)
	a.box.Close()

	a.sl.Lock()
	if a.grace != nil {
		a.grace.Stop()
	}
	a.grace = time.AfterFunc(a.spec.Grace, a.cancel)
	a.sl.Unlock()
}

// terminate asks the actor to stop according to the termination policy
// of its group.
func (a *actor) terminate() {
	if a.sup == nil || a.sup.config.Termination != Manually {
		a.stop()
		return
	}

	if a.stopping.IsTrue() || !a.terminating.TurnOn() {
		return
	}

	a.setState(StateTerminating)

	a.sl.Lock()
	a.grace = time.AfterFunc(a.spec.Grace, a.forceStop)
	a.sl.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.spec.Grace)
		defer cancel()

		env := CreateEnvelope(NullAddress, nil, Terminate{})
		if err := a.box.Push(ctx, env); err != nil {
			LogMsg("failed to deliver terminate").
				String("role", a.spec.Role).
				String("addr", a.addr.String()).
				Err(err).
				Write(DEBUG, a.rt.logs)
			a.forceStop()
		}
	}()
}

func (a *actor) forceStop() {
	a.stop()
	a.cancel()
}

// run drives the actor from Starting to Terminated. onStarted is called
// once Starting succeeded; onExit receives the final exit.
func (a *actor) run(onStarted func(*actor), onExit func(*actor, Exit)) {
	exit := Exit{Addr: a.addr, Role: a.spec.Role}

	behaviour, err := a.start()
	a.startErr = err

	if err != nil {
		close(a.ready)
		exit.Kind = ExitFaulted
		exit.Cause = Faulted(a.spec.Role, a.addr, err)
	} else {
		exit.StartedAt = time.Now()
		a.setState(StateRunning)
		onStarted(a)
		close(a.ready)

		exit.Kind, exit.Cause = a.running(behaviour)
	}

	a.finish(behaviour, exit.Kind)
	exit.Time = time.Now()
	close(a.done)
	onExit(a, exit)
}

func (a *actor) start() (behaviour Behaviour, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicCause(r)
		}
	}()

	behaviour, err = a.spec.Factory()
	if err != nil {
		return nil, errors.Wrap(err, "factory of %q failed", a.spec.Role)
	}

	if pre, ok := behaviour.(PreStart); ok {
		if err = pre.PreStart(a.context); err != nil {
			return nil, errors.Wrap(err, "pre-start of %q failed", a.spec.Role)
		}
	}
	return behaviour, nil
}

func (a *actor) running(behaviour Behaviour) (ExitKind, error) {
	if runner, ok := behaviour.(Runner); ok {
		err := a.protect(func() error {
			return runner.Run(a.context)
		})

		switch {
		case err == nil && (a.stopping.IsTrue() || a.terminating.IsTrue()):
			return ExitStopped, nil
		case err == nil:
			return ExitCompleted, nil
		case a.stopping.IsTrue() && errors.IsAny(err, ErrMailboxClosed, context.Canceled):
			return ExitStopped, nil
		}
		return ExitFaulted, Faulted(a.spec.Role, a.addr, err)
	}

	for {
		env, err := a.box.Pop(a.ctx)
		if err != nil {
			return ExitStopped, nil
		}

		if err := a.dispatch(behaviour, env); err != nil {
			return ExitFaulted, Faulted(a.spec.Role, a.addr, err)
		}
	}
}

func (a *actor) dispatch(behaviour Behaviour, env Envelope) error {
	a.context.handling(env)
	defer a.context.handled()

	return a.protect(func() error {
		return behaviour.Receive(a.context, env)
	})
}

func (a *actor) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicCause(r)
		}
	}()
	return fn()
}

// finish releases the address; envelopes left in the mailbox become dead letters.
func (a *actor) finish(behaviour Behaviour, kind ExitKind) {
	a.stopping.On()
	a.setState(StateTerminating)
	a.box.Close()

	for _, env := range a.box.Purge() {
		a.rt.deadLetter(a.addr, env, "actor terminated with "+kind.String())
	}

	a.sl.Lock()
	if a.grace != nil {
		a.grace.Stop()
	}
	a.sl.Unlock()
	a.cancel()

	if post, ok := behaviour.(PostStop); ok {
		a.protect(func() error {
			post.PostStop(a.context)
			return nil
		})
	}

	a.requests.Close()
	a.rt.book.Deregister(a.addr)
	a.setState(StateTerminated)
}
