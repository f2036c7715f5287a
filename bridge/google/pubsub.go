// Package google implements bridge.Transport over Google Cloud Pub/Sub.
package google

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/gokit/actorcore"
	"github.com/gokit/actorcore/bridge"
	"github.com/gokit/errors"
	"github.com/gokit/xid"
	"google.golang.org/api/option"
)

const (
	subIDFormat = "actorcore-%s-%d"

	// nodeAttr carries the publishing transport id as a message attribute.
	nodeAttr = "actorcore_node"
)

// Config provides a config struct for instantiating a Transport.
type Config struct {
	ProjectID string

	// CreateMissingTopic creates topics that do not exist yet on first
	// publish or subscribe.
	CreateMissingTopic bool

	ClientOptions   []option.ClientOption
	PublishSettings *pubsub.PublishSettings

	// AckDeadline applies to subscriptions this transport creates.
	AckDeadline time.Duration

	// MaxOutstandingMessages bounds unacknowledged messages per
	// subscription.
	MaxOutstandingMessages int

	// Durable keeps subscriptions on the server after Stop.
	Durable bool

	Log actorcore.Logs
}

func (c *Config) init() error {
	if c.ProjectID == "" {
		return errors.New("google.Config.ProjectID is required")
	}
	if c.AckDeadline <= 0 {
		c.AckDeadline = 10 * time.Second
	}
	if c.Log == nil {
		c.Log = actorcore.DrainLog{}
	}
	return nil
}

// Transport implements bridge.Transport over a Pub/Sub client.
type Transport struct {
	id     xid.ID
	config Config

	ctx      context.Context
	canceler func()
	waiter   sync.WaitGroup

	c *pubsub.Client

	tl     sync.Mutex
	topics map[string]*pubsub.Topic

	sl    sync.Mutex
	subs  map[string]*Subscription
	count int
}

// NewTransport creates a Pub/Sub client for the project in config.
func NewTransport(ctx context.Context, config Config) (*Transport, error) {
	if err := config.init(); err != nil {
		return nil, err
	}

	var tr Transport
	tr.id = xid.New()
	tr.config = config
	tr.topics = map[string]*pubsub.Topic{}
	tr.subs = map[string]*Subscription{}
	tr.ctx, tr.canceler = context.WithCancel(context.Background())

	client, err := pubsub.NewClient(ctx, config.ProjectID, config.ClientOptions...)
	if err != nil {
		tr.canceler()
		return nil, errors.Wrap(err, "Failed to create google pubsub client")
	}

	tr.c = client
	return &tr, nil
}

// Close stops every subscription, flushes pending publishes and closes
// the client.
func (t *Transport) Close() error {
	t.sl.Lock()
	subs := t.subs
	t.subs = map[string]*Subscription{}
	t.sl.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	t.canceler()
	t.waiter.Wait()

	t.tl.Lock()
	for _, tx := range t.topics {
		tx.Stop()
	}
	t.topics = map[string]*pubsub.Topic{}
	t.tl.Unlock()

	return t.c.Close()
}

// Publish implements the bridge.Transport interface. It blocks until the
// server assigns the message an id or ctx ends.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	tx, err := t.topic(ctx, topic)
	if err != nil {
		return err
	}

	result := tx.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{nodeAttr: t.id.String()},
	})

	if _, err := result.Get(ctx); err != nil {
		actorcore.LogMsg("failed to publish").
			String("topic", topic).
			Err(err).
			Write(actorcore.ERROR, t.config.Log)
		return errors.Wrap(err, "Failed to publish message to %q", topic)
	}
	return nil
}

// Subscribe implements the bridge.Transport interface. Each call creates
// its own Pub/Sub subscription, so every subscriber sees every message.
func (t *Transport) Subscribe(topic string, receiver bridge.Receiver) (bridge.Subscription, error) {
	tx, err := t.topic(t.ctx, topic)
	if err != nil {
		return nil, err
	}

	t.sl.Lock()
	t.count++
	id := fmt.Sprintf(subIDFormat, t.id.String(), t.count)
	t.sl.Unlock()

	sx, err := t.c.CreateSubscription(t.ctx, id, pubsub.SubscriptionConfig{
		Topic:       tx,
		AckDeadline: t.config.AckDeadline,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create subscription %q for topic %q", id, topic)
	}

	if t.config.MaxOutstandingMessages > 0 {
		sx.ReceiveSettings.MaxOutstandingMessages = t.config.MaxOutstandingMessages
	}

	sub := &Subscription{
		id:        id,
		topic:     topic,
		transport: t,
		receiver:  receiver,
		sub:       sx,
		log:       t.config.Log,
		done:      make(chan struct{}),
	}
	sub.ctx, sub.canceler = context.WithCancel(t.ctx)

	t.sl.Lock()
	t.subs[id] = sub
	t.sl.Unlock()

	t.waiter.Add(1)
	go func() {
		defer t.waiter.Done()
		sub.run()
	}()

	return sub, nil
}

func (t *Transport) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	t.tl.Lock()
	defer t.tl.Unlock()

	if tx, ok := t.topics[name]; ok {
		return tx, nil
	}

	tx := t.c.Topic(name)
	exists, err := tx.Exists(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to get topic %q", name)
	}

	if !exists {
		if !t.config.CreateMissingTopic {
			return nil, errors.New("topic %q does not exists", name)
		}

		tx, err = t.c.CreateTopic(ctx, name)
		if err != nil {
			return nil, errors.Wrap(err, "Failed to create topic %q", name)
		}
	}

	if t.config.PublishSettings != nil {
		tx.PublishSettings = *t.config.PublishSettings
	}

	t.topics[name] = tx
	return tx, nil
}

func (t *Transport) remove(sub *Subscription) {
	t.sl.Lock()
	delete(t.subs, sub.id)
	t.sl.Unlock()
}

//*****************************************************************************
// Subscription
//*****************************************************************************

// Subscription implements bridge.Subscription for a Pub/Sub subscription.
type Subscription struct {
	id        string
	topic     string
	transport *Transport
	receiver  bridge.Receiver
	log       actorcore.Logs
	sub       *pubsub.Subscription

	ctx      context.Context
	canceler func()
	done     chan struct{}
	stopped  actorcore.AtomicBool
}

// ID returns the server side name of the subscription.
func (s *Subscription) ID() string {
	return s.id
}

// Topic implements the bridge.Subscription interface.
func (s *Subscription) Topic() string {
	return s.topic
}

// Stop implements the bridge.Subscription interface. Non durable
// subscriptions are deleted from the server.
func (s *Subscription) Stop() error {
	s.transport.remove(s)
	return s.stop()
}

func (s *Subscription) stop() error {
	if !s.stopped.TurnOn() {
		return nil
	}

	s.canceler()
	<-s.done

	if s.transport.config.Durable {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.sub.Delete(ctx); err != nil {
		actorcore.LogMsg("failed to delete subscription").
			String("topic", s.topic).
			String("subscription", s.id).
			Err(err).
			Write(actorcore.WARN, s.log)
		return errors.WrapOnly(err)
	}
	return nil
}

func (s *Subscription) run() {
	defer close(s.done)

	err := s.sub.Receive(s.ctx, func(ctx context.Context, message *pubsub.Message) {
		if s.stopped.IsTrue() {
			message.Nack()
			return
		}

		s.receiver(message.Data)
		message.Ack()
	})

	if err != nil && s.ctx.Err() == nil {
		actorcore.LogMsg("subscription ended").
			String("topic", s.topic).
			String("subscription", s.id).
			Err(err).
			Write(actorcore.ERROR, s.log)
	}
}
