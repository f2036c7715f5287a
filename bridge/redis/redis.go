// Package redis implements bridge.Transport over redis pub/sub channels.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gokit/actorcore"
	"github.com/gokit/actorcore/bridge"
	"github.com/gokit/actorcore/retries"
	"github.com/gokit/errors"
	pubsub "github.com/go-redis/redis"
)

const (
	subIDFormat = "_actorcore_redis_%s_%d"
)

// Config provides a config struct for instantiating a Transport.
type Config struct {
	Options pubsub.Options

	// ConnectAttempts bounds the attempts at pinging the server.
	ConnectAttempts int

	Log actorcore.Logs
}

func (c *Config) init() {
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 3
	}
	if c.Log == nil {
		c.Log = actorcore.DrainLog{}
	}
}

// Transport implements bridge.Transport over a redis client.
type Transport struct {
	config Config
	waiter sync.WaitGroup

	ctx      context.Context
	canceler func()

	c *pubsub.Client

	sl     sync.Mutex
	subs   map[string]*Subscription
	topics map[string]int
}

// NewTransport returns a Transport once the redis server answers a ping.
func NewTransport(ctx context.Context, config Config) (*Transport, error) {
	config.init()

	var tr Transport
	tr.config = config
	tr.subs = map[string]*Subscription{}
	tr.topics = map[string]int{}
	tr.c = pubsub.NewClient(&tr.config.Options)

	err := retries.DoUntil(ctx, func() error {
		return tr.c.Ping().Err()
	}, config.ConnectAttempts, retries.RangedExponential(100*time.Millisecond, 2*time.Second))
	if err != nil {
		tr.c.Close()
		return nil, errors.Wrap(err, "Failed to connect redis client")
	}

	tr.ctx, tr.canceler = context.WithCancel(context.Background())
	return &tr, nil
}

// Close ends every subscription and closes the client.
func (t *Transport) Close() error {
	t.canceler()
	t.waiter.Wait()
	return t.c.Close()
}

// Publish implements the bridge.Transport interface.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	status := t.c.WithContext(ctx).Publish(topic, data)
	if err := status.Err(); err != nil {
		actorcore.LogMsg("failed to publish").
			String("topic", topic).
			Err(err).
			Write(actorcore.ERROR, t.config.Log)
		return errors.Wrap(err, "Failed to publish message to %q", topic)
	}
	return nil
}

// Subscribe implements the bridge.Transport interface. It returns once
// the server confirmed the subscription.
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
	sub.ctx, sub.canceler = context.WithCancel(t.ctx)

	sub.sub = t.c.Subscribe(topic)
	if _, err := sub.sub.Receive(); err != nil {
		sub.canceler()
		sub.sub.Close()
		return nil, errors.Wrap(err, "Failed to subscribe to %q", topic)
	}

	t.sl.Lock()
	t.subs[sub.id] = sub
	t.sl.Unlock()

	sub.waiter.Add(1)
	t.waiter.Add(1)
	go func() {
		defer t.waiter.Done()
		sub.run()
	}()

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

// Subscription implements bridge.Subscription for a redis channel.
type Subscription struct {
	id        string
	topic     string
	canceler  func()
	waiter    sync.WaitGroup
	transport *Transport
	sub       *pubsub.PubSub
	ctx       context.Context
	log       actorcore.Logs
	receiver  bridge.Receiver
	err       error
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
	s.canceler()
	s.waiter.Wait()
	s.transport.remove(s)
	return s.err
}

func (s *Subscription) stopSub() {
	if err := s.sub.Unsubscribe(s.topic); err != nil {
		actorcore.LogMsg("failed to unsubscribe").
			String("topic", s.topic).
			Err(err).
			Write(actorcore.ERROR, s.log)
	}
	s.err = s.sub.Close()
}

func (s *Subscription) run() {
	defer s.waiter.Done()

	receiver := s.sub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			s.stopSub()
			return
		case msg, ok := <-receiver:
			if !ok {
				s.stopSub()
				return
			}
			s.receiver([]byte(msg.Payload))
		}
	}
}
