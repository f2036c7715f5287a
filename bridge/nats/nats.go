// Package nats implements bridge.Transport over NATS subjects.
package nats

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
	pubsub "github.com/nats-io/go-nats"
)

const (
	subIDFormat = "_actorcore_nats_%s_%d"
)

// Config provides a config struct for instantiating a Transport.
type Config struct {
	URL     string
	Options []pubsub.Option

	// ConnectAttempts bounds the attempts at connecting to URL.
	ConnectAttempts int

	Log actorcore.Logs
}

func (c *Config) init() {
	if c.URL == "" {
		c.URL = pubsub.DefaultURL
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 3
	}
	if c.Log == nil {
		c.Log = actorcore.DrainLog{}
	}
}

// Transport implements bridge.Transport over a single NATS connection.
type Transport struct {
	id     xid.ID
	config Config

	c *pubsub.Conn

	sl     sync.Mutex
	subs   map[string]*Subscription
	topics map[string]int
}

// NewTransport connects to the NATS server in config, retrying with
// exponential backoff till ctx ends or attempts are exhausted.
func NewTransport(ctx context.Context, config Config) (*Transport, error) {
	config.init()

	var tr Transport
	tr.id = xid.New()
	tr.config = config
	tr.subs = map[string]*Subscription{}
	tr.topics = map[string]int{}

	err := retries.DoUntil(ctx, func() error {
		client, err := pubsub.Connect(tr.config.URL, tr.config.Options...)
		if err != nil {
			return err
		}
		tr.c = client
		return nil
	}, config.ConnectAttempts, retries.RangedExponential(100*time.Millisecond, 2*time.Second))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create nats client")
	}

	return &tr, nil
}

// Close drains the connection, ending every subscription.
func (t *Transport) Close() error {
	t.sl.Lock()
	t.subs = map[string]*Subscription{}
	t.sl.Unlock()

	err := t.c.Drain()
	t.c.Close()
	return err
}

// Publish implements the bridge.Transport interface.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	if err := t.c.Publish(topic, data); err != nil {
		actorcore.LogMsg("failed to publish").
			String("topic", topic).
			Err(err).
			Write(actorcore.ERROR, t.config.Log)
		return errors.Wrap(err, "Failed to publish message to %q", topic)
	}

	if err := t.c.FlushWithContext(ctx); err != nil {
		return errors.Wrap(err, "Failed to flush message to %q", topic)
	}
	return nil
}

// Subscribe implements the bridge.Transport interface. Every subscription
// of a topic receives every message published to it.
func (t *Transport) Subscribe(topic string, receiver bridge.Receiver) (bridge.Subscription, error) {
	t.sl.Lock()
	last := t.topics[topic] + 1
	t.topics[topic] = last
	t.sl.Unlock()

	sub := &Subscription{
		id:        fmt.Sprintf(subIDFormat, topic, last),
		topic:     topic,
		transport: t,
		receiver:  receiver,
		log:       t.config.Log,
	}

	var err error
	sub.sub, err = t.c.Subscribe(topic, sub.handle)
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

// Subscription implements bridge.Subscription for a NATS subject.
type Subscription struct {
	id        string
	topic     string
	transport *Transport
	receiver  bridge.Receiver
	log       actorcore.Logs
	sub       *pubsub.Subscription
	stopped   actorcore.AtomicBool
}

// ID returns the giving id of the subscription.
func (s *Subscription) ID() string {
	return s.id
}

// Topic implements the bridge.Subscription interface.
func (s *Subscription) Topic() string {
	return s.topic
}

// Stop ends giving subscription and it's operation in listening to given topic.
func (s *Subscription) Stop() error {
	if !s.stopped.TurnOn() {
		return nil
	}

	s.transport.remove(s)
	if err := s.sub.Unsubscribe(); err != nil {
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
}
