package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/gokit/actorcore"
	"github.com/gokit/errors"
)

type pendingReply struct {
	addr     actorcore.Address
	id       actorcore.RequestID
	deadline time.Time
}

// proxy is the local postbox of a remote topic. Requests it forwards from
// the remote side are answered through it, so it keeps the reply route of
// every request it handed out.
type proxy struct {
	bridge  *Bridge
	topic   string
	addr    actorcore.Address
	breaker *actorcore.CircuitBreaker
	closed  actorcore.AtomicBool

	pl      sync.Mutex
	seq     actorcore.RequestID
	pending map[actorcore.RequestID]pendingReply
}

func newProxy(b *Bridge, topic string) *proxy {
	return &proxy{
		bridge:  b,
		topic:   topic,
		breaker: actorcore.NewCircuitBreaker(topic, b.ops.Circuit),
		pending: map[actorcore.RequestID]pendingReply{},
	}
}

// Push implements the actorcore.Postbox interface.
func (p *proxy) Push(ctx context.Context, env actorcore.Envelope) error {
	if p.closed.IsTrue() {
		return errors.Wrap(actorcore.ErrMailboxClosed, "proxy of topic %q", p.topic)
	}

	msg := Message{
		Kind:      env.Kind,
		RequestID: env.RequestID,
		Trace:     env.TraceID.String(),
		Header:    env.Header,
		Data:      env.Data,
	}

	switch env.Kind {
	case actorcore.KindRequest:
		msg.ReplyTopic = p.bridge.replyTopic
		msg.ReplyAddr = env.Sender
	case actorcore.KindResponse:
		reply, ok := p.takeReply(env.RequestID)
		if !ok {
			return errors.Wrap(actorcore.ErrAddressNotFound, "no pending request %d on topic %q", env.RequestID, p.topic)
		}
		msg.Target = reply.addr
		msg.RequestID = reply.id
	}

	data, err := p.bridge.codec.Marshal(msg)
	if err != nil {
		return err
	}

	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.bridge.transport.Publish(ctx, p.topic, data)
	}, func(_ context.Context, err error) error {
		if err == actorcore.ErrOpenedCircuit {
			return errors.Wrap(actorcore.ErrUnreachable, "circuit of topic %q is opened", p.topic)
		}
		return errors.Wrap(err, "failed to publish to topic %q", p.topic)
	})
}

// Closed implements the actorcore.Postbox interface.
func (p *proxy) Closed() bool {
	return p.closed.IsTrue()
}

// trackReply remembers where the response to a remote request goes,
// returning the local request id standing in for it.
func (p *proxy) trackReply(addr actorcore.Address, id actorcore.RequestID) actorcore.RequestID {
	now := time.Now()

	p.pl.Lock()
	defer p.pl.Unlock()

	for local, reply := range p.pending {
		if now.After(reply.deadline) {
			delete(p.pending, local)
		}
	}

	p.seq++
	p.pending[p.seq] = pendingReply{addr: addr, id: id, deadline: now.Add(p.bridge.ops.ReplyTTL)}
	return p.seq
}

func (p *proxy) takeReply(local actorcore.RequestID) (pendingReply, bool) {
	p.pl.Lock()
	defer p.pl.Unlock()

	reply, ok := p.pending[local]
	if ok {
		delete(p.pending, local)
	}
	return reply, ok
}

// pendingReplies counts reply routes not yet answered or pruned.
func (p *proxy) pendingReplies() int {
	p.pl.Lock()
	defer p.pl.Unlock()
	return len(p.pending)
}
