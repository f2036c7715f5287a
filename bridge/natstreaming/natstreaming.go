// Package natstreaming implements bridge.Transport over NATS Streaming
// channels with manual acknowledgement.
package natstreaming

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gokit/actorcore"
	"github.com/gokit/actorcore/bridge"
	"github.com/gokit/actorcore/retries"
	"github.com/gokit/errors"
	"github.com/gokit/xid"
	"github.com/nats-io/go-nats"
	pubsub "github.com/nats-io/go-nats-streaming"
)

const (
	subIDFormat = "_actorcore_stan_%s_%d"
)

// Config provides a config struct for instantiating a Transport.
type Config struct {
	ClusterID string
	URL       string

	// DefaultConn, when set, is reused instead of dialing URL.
	DefaultConn *nats.Conn
	Options     []pubsub.Option

	// Durable gives every subscription a durable name so a restarted
	// node resumes where it stopped.
	Durable bool

	// AckWait is how long the server waits for an ack before redelivery.
	AckWait time.Duration

	ConnectAttempts int

	Log actorcore.Logs
}

func (c *Config) init() error {
	if c.ClusterID == "" {
		return errors.New("natstreaming.Config.ClusterID is required")
	}
	if c.URL == "" {
		c.URL = pubsub.DefaultNatsURL
	}
	if c.AckWait <= 0 {
		c.AckWait = pubsub.DefaultAckWait
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 3
	}
	if c.Log == nil {
		c.Log = actorcore.DrainLog{}
	}
	return nil
}

// Transport implements bridge.Transport over a NATS Streaming connection.
type Transport struct {
	id     xid.ID
	config Config

	c pubsub.Conn

	sl     sync.Mutex
	subs   map[string]*Subscription
	topics map[string]int
}

// NewTransport connects to the NATS Streaming cluster in config using a
// unique client id.
func NewTransport(ctx context.Context, config Config) (*Transport, error) {
	if err := config.init(); err != nil {
		return nil, err
	}

	var tr Transport
	tr.id = xid.New()
	tr.config = config
	tr.subs = map[string]*Subscription{}
	tr.topics = map[string]int{}

	var ops []pubsub.Option
	if config.DefaultConn != nil {
		ops = append(ops, pubsub.NatsConn(config.DefaultConn))
	} else {
		ops = append(ops, pubsub.NatsURL(config.URL))
	}
	ops = append(ops, config.Options...)

	err := retries.DoUntil(ctx, func() error {
		client, err := pubsub.Connect(config.ClusterID, tr.id.String(), ops...)
		if err != nil {
			return err
		}
		tr.c = client
		return nil
	}, config.ConnectAttempts, retries.RangedExponential(100*time.Millisecond, 2*time.Second))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create nats-streaming client")
	}

	return &tr, nil
}

// ID returns the client id used with the streaming server.
func (t *Transport) ID() string {
	return t.id.String()
}

// Close ends every subscription and the connection.
func (t *Transport) Close() error {
	t.sl.Lock()
	subs := t.subs
	t.subs = map[string]*Subscription{}
	t.sl.Unlock()

	for _, sub := range subs {
		sub.stopped.TurnOn()
	}

	return t.c.Close()
}

// Publish implements the bridge.Transport interface. It blocks until the
// server acknowledges the message or ctx ends.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	errs := make(chan error, 1)
	go func() {
		errs <- t.c.Publish(topic, data)
	}()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Publish to %q cancelled", topic)
	case err := <-errs:
		if err != nil {
			actorcore.LogMsg("failed to publish").
				String("topic", topic).
				Err(err).
				Write(actorcore.ERROR, t.config.Log)
			return errors.Wrap(err, "Failed to publish message to %q", topic)
		}
		return nil
	}
}

// Subscribe implements the bridge.Transport interface.
func (t *Transport) Subscribe(topic string, receiver bridge.Receiver) (bridge.Subscription, error) {
	return t.subscribe(topic, "", receiver)
}

// QueueSubscribe subscribes to topic as a member of group; each message is
// delivered to one member of the group.
func (t *Transport) QueueSubscribe(topic string, group string, receiver bridge.Receiver) (bridge.Subscription, error) {
	if group == "" {
		return nil, errors.New("queue group is required")
	}
	return t.subscribe(topic, group, receiver)
}

func (t *Transport) subscribe(topic string, group string, receiver bridge.Receiver) (*Subscription, error) {
	t.sl.Lock()
	last := t.topics[topic] + 1
	t.topics[topic] = last
	t.sl.Unlock()

	sub := &Subscription{
		id:        fmt.Sprintf(subIDFormat, topic, last),
		topic:     topic,
		group:     group,
		transport: t,
		receiver:  receiver,
		log:       t.config.Log,
	}

	ops := []pubsub.SubscriptionOption{
		pubsub.SetManualAckMode(),
		pubsub.AckWait(t.config.AckWait),
	}
	if t.config.Durable {
		ops = append(ops, pubsub.DurableName(sub.id))
	}

	var err error
	if group != "" {
		sub.sub, err = t.c.QueueSubscribe(topic, group, sub.handle, ops...)
	} else {
		sub.sub, err = t.c.Subscribe(topic, sub.handle, ops...)
	}
	if err != nil {
		return nil, errors.Wrap(err, "Failed to subscribe to %q", topic)
	}

	t.sl.Lock()
	t.subs[sub.id] = sub
	t.sl.Unlock()

	return sub, nil
}

func (t *Transport) remove(sub *Subscription) {
	t.sl.Lock()
	delete(t.subs, sub.id)
	t.sl.Unlock()
}

//*****************************************************************************
// Subscription
//*****************************************************************************

// Subscription implements bridge.Subscription for a NATS Streaming channel.
type Subscription struct {
	id        string
	topic     string
	group     string
	transport *Transport
	receiver  bridge.Receiver
	log       actorcore.Logs
	sub       pubsub.Subscription
	stopped   actorcore.AtomicBool
}

// ID returns the durable name of the subscription.
func (s *Subscription) ID() string {
	return s.id
}

// Topic implements the bridge.Subscription interface.
func (s *Subscription) Topic() string {
	return s.topic
}

// Stop ends the subscription. Durable subscriptions are closed rather
// than unsubscribed so the server keeps their position.
func (s *Subscription) Stop() error {
	if !s.stopped.TurnOn() {
		return nil
	}

	s.transport.remove(s)

	var err error
	if s.transport.config.Durable {
		err = s.sub.Close()
	} else {
		err = s.sub.Unsubscribe()
	}

	if err != nil {
		actorcore.LogMsg("failed to unsubscribe").
			String("topic", s.topic).
			Err(err).
			Write(actorcore.ERROR, s.log)
		return errors.WrapOnly(err)
	}
	return nil
}

func (s *Subscription) handle(msg *pubsub.Msg) {
	if s.stopped.IsTrue() {
		return
	}

	s.receiver(msg.Data)

	if err := msg.Ack(); err != nil {
		actorcore.LogMsg("failed to ack message").
			String("topic", s.topic).
			Err(err).
			Write(actorcore.WARN, s.log)
	}
}
