package actorcore

import (
	"context"
	"time"

	"github.com/gokit/errors"
	"github.com/gokit/xid"
)

// Context is the handle an actor uses to reach anything outside itself.
// It is bound to one address and is only used from the actor's goroutine.
type Context struct {
	self     Address
	role     string
	sup      *Supervisor
	rt       *runtime
	requests *RequestTable
	actor    *actor
	ctx      context.Context

	current  Envelope
	inflight bool
}

// Self returns the address of the actor.
func (c *Context) Self() Address {
	return c.self
}

// Role returns the supervised role of the actor.
func (c *Context) Role() string {
	return c.role
}

// Group returns the group address of the owning supervisor.
func (c *Context) Group() Address {
	if c.sup == nil {
		return NullAddress
	}
	return c.sup.Addr()
}

// Supervisor returns the owning supervisor.
func (c *Context) Supervisor() *Supervisor {
	return c.sup
}

// Context returns a context.Context cancelled once the actor is forced to terminate.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Logs returns the logger of the topology.
func (c *Context) Logs() Logs {
	return c.rt.logs
}

// Current returns the envelope being handled, if any.
func (c *Context) Current() (Envelope, bool) {
	return c.current, c.inflight
}

// Send delivers data as a regular envelope to giving address.
func (c *Context) Send(ctx context.Context, to Address, data interface{}) error {
	return c.SendWithHeader(ctx, to, data, nil)
}

// SendWithHeader delivers data with header as a regular envelope to giving address.
func (c *Context) SendWithHeader(ctx context.Context, to Address, data interface{}, h Header) error {
	return c.rt.book.Deliver(ctx, to, c.envelope(data, h))
}

// Forward delivers an existing envelope unchanged to giving address, so a
// forwarded request is still answered to its original sender.
func (c *Context) Forward(ctx context.Context, to Address, env Envelope) error {
	return c.rt.book.Deliver(ctx, to, env)
}

// Request sends data as a request and suspends till its response arrives.
//
// It fails with ErrRequestTimedOut once timeout elapses, ErrUnreachable if the
// destination was closed at send time and ErrAddressNotFound if it never existed
// or is gone. A zero timeout waits on ctx alone.
func (c *Context) Request(ctx context.Context, to Address, data interface{}, timeout time.Duration) (Envelope, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ft, err := c.ask(ctx, to, data)
	if err != nil {
		return Envelope{}, c.requestErr(ctx, to, err)
	}
	defer c.requests.Release(ft.ID())

	res, err := ft.Wait(ctx, 0)
	if err != nil {
		return Envelope{}, c.requestErr(ctx, to, err)
	}
	return res, nil
}

// RequestAll sends data as a request to every live member of giving group,
// or to the address itself when it is not a group, and gathers the responses
// which arrive before timeout. It fails with ErrRequestTimedOut only if none did.
func (c *Context) RequestAll(ctx context.Context, to Address, data interface{}, timeout time.Duration) ([]Envelope, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	targets := []Address{to}
	if members, ok := c.rt.book.Members(to); ok {
		targets = targets[:0]
		for _, member := range members {
			if c.rt.book.Alive(member) {
				targets = append(targets, member)
			}
		}
		if len(targets) == 0 {
			return nil, errors.Wrap(ErrNoAvailableMember, "request all of %s", to)
		}
	}

	var failed error
	var futures = make([]*Future, 0, len(targets))
	for _, target := range targets {
		ft, err := c.ask(ctx, target, data)
		if err != nil {
			if failed == nil {
				failed = c.requestErr(ctx, target, err)
			}
			continue
		}
		futures = append(futures, ft)
	}

	defer func() {
		for _, ft := range futures {
			c.requests.Release(ft.ID())
		}
	}()

	if len(futures) == 0 {
		return nil, failed
	}

	var waitErr error
	responses := make([]Envelope, 0, len(futures))
	for _, ft := range futures {
		// once ctx ended only collect responses that already arrived.
		if waitErr != nil && !ft.settled() {
			continue
		}

		res, err := ft.Wait(ctx, 0)
		if err != nil {
			waitErr = err
			continue
		}
		responses = append(responses, res)
	}

	if len(responses) == 0 {
		return nil, c.requestErr(ctx, to, waitErr)
	}
	return responses, nil
}

// Respond answers giving request envelope with data.
func (c *Context) Respond(req Envelope, data interface{}) error {
	if !req.IsRequest() {
		return errors.New("envelope from %s is not a request", req.Sender)
	}
	if req.Sender.IsNull() {
		return errors.Wrap(ErrAddressNotFound, "request %d has no sender", req.RequestID)
	}

	env := c.envelope(data, nil)
	env.Kind = KindResponse
	env.RequestID = req.RequestID
	env.TraceID = req.TraceID
	return c.rt.book.Deliver(c.ctx, req.Sender, env)
}

// Recv suspends till the next envelope arrives. It is meant for behaviours
// implementing Runner and returns ErrMailboxClosed once the actor is stopping
// and its mailbox is drained.
func (c *Context) Recv(ctx context.Context) (Envelope, error) {
	if c.actor == nil {
		return Envelope{}, errors.New("context of %s has no mailbox", c.self)
	}

	c.handled()

	merged, cancel := mergeDone(ctx, c.ctx)
	defer cancel()

	env, err := c.actor.box.Pop(merged)
	if err != nil {
		return Envelope{}, err
	}

	c.handling(env)
	return env, nil
}

// Spawn adds a new role to the owning supervisor, returning its address once started.
func (c *Context) Spawn(spec ActorSpec) (Address, error) {
	if c.sup == nil {
		return NullAddress, errors.New("context of %s has no supervisor", c.self)
	}
	return c.sup.Spawn(c.ctx, spec)
}

// Watch delivers a Terminated message to this actor once target deregisters.
func (c *Context) Watch(target Address) error {
	_, err := c.rt.book.Watch(target, func(addr Address) {
		go func() {
			env := CreateEnvelope(NullAddress, nil, Terminated{Addr: addr})
			if err := c.rt.book.Deliver(c.ctx, c.self, env); err != nil {
				LogMsg("failed to deliver termination notice").
					String("watcher", c.self.String()).
					String("target", addr.String()).
					Err(err).
					Write(DEBUG, c.rt.logs)
			}
		}()
	})
	return err
}

// Stop begins termination of the actor after the current envelope.
func (c *Context) Stop() {
	if c.actor != nil {
		c.actor.stop()
	}
}

func (c *Context) ask(ctx context.Context, to Address, data interface{}) (*Future, error) {
	ft, err := c.requests.Open()
	if err != nil {
		return nil, err
	}

	env := c.envelope(data, nil)
	env.Kind = KindRequest
	env.RequestID = ft.ID()

	if err := c.rt.book.Deliver(ctx, to, env); err != nil {
		c.requests.Release(ft.ID())
		return nil, err
	}
	return ft, nil
}

func (c *Context) requestErr(ctx context.Context, to Address, err error) error {
	switch {
	case errors.IsAny(err, ErrMailboxClosed):
		return errors.Wrap(ErrUnreachable, "request to %s", to)
	case errors.IsAny(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded:
		return errors.Wrap(ErrRequestTimedOut, "request to %s", to)
	}
	return err
}

func (c *Context) envelope(data interface{}, h Header) Envelope {
	trace := xid.New()
	if c.inflight {
		trace = c.current.TraceID
	}

	return Envelope{
		Kind:    KindRegular,
		Header:  h,
		Sender:  c.self,
		TraceID: trace,
		Data:    data,
	}
}

func (c *Context) handling(env Envelope) {
	c.current = env
	c.inflight = true
}

func (c *Context) handled() {
	c.current = Envelope{}
	c.inflight = false
}

// mergeDone returns a context ending when either provided context ends.
func mergeDone(ctx context.Context, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	if other == nil || other == ctx {
		return merged, cancel
	}

	go func() {
		select {
		case <-other.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged, cancel
}
