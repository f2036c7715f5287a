// Package bridge connects the address books of separate processes over a
// publish/subscribe transport. A local address is exported under a topic;
// another node imports that topic and gets a local proxy address whose
// deliveries are published to it. Requests carry a reply route so their
// responses come back into the requester's request table.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/gokit/actorcore"
	"github.com/gokit/errors"
	"github.com/gokit/xid"
)

// default values of Options.
const (
	DefaultReplyPrefix    = "actorcore.reply."
	DefaultDeliverTimeout = 5 * time.Second
	DefaultReplyTTL       = 30 * time.Second
)

var (
	// ErrBridgeClosed is returned by a closed bridge.
	ErrBridgeClosed = errors.New("bridge is closed")

	// ErrTopicExported is returned when a topic is exported twice.
	ErrTopicExported = errors.New("topic is already exported")
)

// Options configures a Bridge.
type Options struct {
	// Node names this process. Defaults to a fresh xid.
	Node string

	// ReplyPrefix prefixes the node name to form its reply topic.
	ReplyPrefix string

	// DeliverTimeout bounds local delivery of an inbound message.
	DeliverTimeout time.Duration

	// ReplyTTL bounds how long a proxy remembers the route of a
	// request it forwarded locally.
	ReplyTTL time.Duration

	// Circuit configures the breaker guarding each proxy.
	Circuit actorcore.Circuit

	Logs actorcore.Logs
}

func (o *Options) ensure() {
	if o.Node == "" {
		o.Node = xid.New().String()
	}
	if o.ReplyPrefix == "" {
		o.ReplyPrefix = DefaultReplyPrefix
	}
	if o.DeliverTimeout <= 0 {
		o.DeliverTimeout = DefaultDeliverTimeout
	}
	if o.ReplyTTL <= 0 {
		o.ReplyTTL = DefaultReplyTTL
	}
	if o.Circuit.MinCoolDown <= 0 {
		o.Circuit.MinCoolDown = time.Second
	}
	if o.Logs == nil {
		o.Logs = actorcore.DrainLog{}
	}
}

type export struct {
	addr   actorcore.Address
	sub    Subscription
	cancel func()
}

// Bridge exports local addresses to topics and imports remote topics as
// local proxy addresses.
type Bridge struct {
	book       *actorcore.AddressBook
	transport  Transport
	codec      Codec
	ops        Options
	group      actorcore.GroupNo
	replyTopic string
	reply      Subscription
	closed     actorcore.AtomicBool
	waiter     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	ml      sync.Mutex
	exports map[string]*export
	proxies map[string]*proxy
}

// New returns a Bridge over giving transport, subscribed to its reply
// topic. The transport stays owned by the caller.
func New(book *actorcore.AddressBook, transport Transport, codec Codec, ops Options) (*Bridge, error) {
	ops.ensure()

	group, err := book.AllocateGroup()
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		book:       book,
		transport:  transport,
		codec:      codec,
		ops:        ops,
		group:      group,
		replyTopic: ops.ReplyPrefix + ops.Node,
		exports:    map[string]*export{},
		proxies:    map[string]*proxy{},
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.reply, err = transport.Subscribe(b.replyTopic, b.inbound(b.replyTopic, actorcore.NullAddress))
	if err != nil {
		b.cancel()
		return nil, errors.Wrap(err, "failed to subscribe to reply topic %q", b.replyTopic)
	}
	return b, nil
}

// Node returns the node name of the bridge.
func (b *Bridge) Node() string {
	return b.ops.Node
}

// ReplyTopic returns the topic responses to this node are published to.
func (b *Bridge) ReplyTopic() string {
	return b.replyTopic
}

// Export delivers every message published to topic to giving local address.
// The export ends once the address deregisters.
func (b *Bridge) Export(addr actorcore.Address, topic string) error {
	if b.closed.IsTrue() {
		return errors.WrapOnly(ErrBridgeClosed)
	}

	b.ml.Lock()
	if _, ok := b.exports[topic]; ok {
		b.ml.Unlock()
		return errors.Wrap(ErrTopicExported, "topic %q", topic)
	}
	ex := &export{addr: addr}
	b.exports[topic] = ex
	b.ml.Unlock()

	sub, err := b.transport.Subscribe(topic, b.inbound(topic, addr))
	if err != nil {
		b.dropExport(topic, ex)
		return errors.Wrap(err, "failed to subscribe to topic %q", topic)
	}

	cancel, err := b.book.Watch(addr, func(actorcore.Address) {
		b.waiter.Add(1)
		go func() {
			defer b.waiter.Done()
			b.unexport(topic, ex)
		}()
	})
	if err != nil {
		b.dropExport(topic, ex)
		sub.Stop()
		return err
	}

	b.ml.Lock()
	ex.sub = sub
	ex.cancel = cancel
	_, live := b.exports[topic]
	b.ml.Unlock()

	// the address may have gone while subscribing.
	if !live {
		cancel()
		sub.Stop()
		return errors.Wrap(actorcore.ErrAddressNotFound, "export %s", addr)
	}

	actorcore.LogMsg("exported address").
		String("addr", addr.String()).
		String("topic", topic).
		String("node", b.ops.Node).
		Write(actorcore.INFO, b.ops.Logs)
	return nil
}

// Unexport ends the export of giving topic.
func (b *Bridge) Unexport(topic string) error {
	b.ml.Lock()
	ex, ok := b.exports[topic]
	b.ml.Unlock()
	if !ok {
		return errors.New("topic %q is not exported", topic)
	}
	return b.unexport(topic, ex)
}

// Import returns a local address whose deliveries are published to topic.
// Importing a topic twice returns the same address.
func (b *Bridge) Import(topic string) (actorcore.Address, error) {
	if b.closed.IsTrue() {
		return actorcore.NullAddress, errors.WrapOnly(ErrBridgeClosed)
	}

	b.ml.Lock()
	defer b.ml.Unlock()

	if px, ok := b.proxies[topic]; ok {
		return px.addr, nil
	}

	px := newProxy(b, topic)
	addr, err := b.book.RegisterPostbox(b.group, px)
	if err != nil {
		return actorcore.NullAddress, err
	}

	px.addr = addr
	b.proxies[topic] = px
	return addr, nil
}

// PendingReplies returns the number of remote requests whose responses
// are still awaited across all proxies. Routes older than ReplyTTL are
// pruned as new requests arrive.
func (b *Bridge) PendingReplies() int {
	b.ml.Lock()
	defer b.ml.Unlock()

	var total int
	for _, px := range b.proxies {
		total += px.pendingReplies()
	}
	return total
}

// Close stops every export and deregisters every proxy.
func (b *Bridge) Close() error {
	if !b.closed.TurnOn() {
		return nil
	}

	b.cancel()

	b.ml.Lock()
	exports := b.exports
	proxies := b.proxies
	b.exports = map[string]*export{}
	b.proxies = map[string]*proxy{}
	b.ml.Unlock()

	var first error
	for topic, ex := range exports {
		if err := b.stopExport(topic, ex); err != nil && first == nil {
			first = err
		}
	}

	for _, px := range proxies {
		px.closed.On()
		b.book.Deregister(px.addr)
	}

	if err := b.reply.Stop(); err != nil && first == nil {
		first = err
	}

	b.waiter.Wait()
	return first
}

func (b *Bridge) unexport(topic string, ex *export) error {
	if !b.dropExport(topic, ex) {
		return nil
	}
	return b.stopExport(topic, ex)
}

func (b *Bridge) dropExport(topic string, ex *export) bool {
	b.ml.Lock()
	defer b.ml.Unlock()
	if b.exports[topic] != ex {
		return false
	}
	delete(b.exports, topic)
	return true
}

func (b *Bridge) stopExport(topic string, ex *export) error {
	b.ml.Lock()
	sub, cancel := ex.sub, ex.cancel
	b.ml.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub == nil {
		return nil
	}

	actorcore.LogMsg("unexported address").
		String("addr", ex.addr.String()).
		String("topic", topic).
		Write(actorcore.INFO, b.ops.Logs)
	return sub.Stop()
}

// inbound returns the receiver of a subscribed topic. Messages without a
// target go to addr.
func (b *Bridge) inbound(topic string, addr actorcore.Address) Receiver {
	return func(data []byte) {
		msg, err := b.codec.Unmarshal(data)
		if err != nil {
			actorcore.LogMsg("failed to decode inbound message").
				String("topic", topic).
				Err(err).
				Write(actorcore.ERROR, b.ops.Logs)
			return
		}

		target := addr
		if !msg.Target.IsNull() {
			target = msg.Target
		}
		if target.IsNull() {
			actorcore.LogMsg("inbound message has no target").
				String("topic", topic).
				Write(actorcore.WARN, b.ops.Logs)
			return
		}

		env, err := b.envelope(msg)
		if err != nil {
			actorcore.LogMsg("failed to route reply of inbound request").
				String("topic", topic).
				String("reply_topic", msg.ReplyTopic).
				Err(err).
				Write(actorcore.ERROR, b.ops.Logs)
			return
		}

		ctx, cancel := context.WithTimeout(b.ctx, b.ops.DeliverTimeout)
		defer cancel()

		if err := b.book.Deliver(ctx, target, env); err != nil {
			actorcore.LogMsg("failed to deliver inbound message").
				String("topic", topic).
				String("target", target.String()).
				String("kind", msg.PayloadKind).
				Err(err).
				Write(actorcore.WARN, b.ops.Logs)
		}
	}
}

func (b *Bridge) envelope(msg Message) (actorcore.Envelope, error) {
	env := actorcore.Envelope{
		Kind:      msg.Kind,
		RequestID: msg.RequestID,
		Header:    actorcore.Header(msg.Header),
		Data:      msg.Data,
	}

	if msg.Trace != "" {
		if trace, err := xid.FromString(msg.Trace); err == nil {
			env.TraceID = trace
		}
	}

	if msg.Kind != actorcore.KindRequest {
		return env, nil
	}

	if msg.ReplyTopic == "" || msg.ReplyAddr.IsNull() {
		return env, errors.New("request %d has no reply route", msg.RequestID)
	}

	replies, err := b.Import(msg.ReplyTopic)
	if err != nil {
		return env, err
	}

	b.ml.Lock()
	px := b.proxies[msg.ReplyTopic]
	b.ml.Unlock()
	if px == nil {
		return env, errors.WrapOnly(ErrBridgeClosed)
	}

	env.Sender = replies
	env.RequestID = px.trackReply(msg.ReplyAddr, msg.RequestID)
	return env, nil
}
