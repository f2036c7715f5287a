// Package kafka implements bridge.Transport over kafka topics with
// segmentio/kafka-go.
package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/gokit/actorcore"
	"github.com/gokit/actorcore/bridge"
	"github.com/gokit/errors"
	segment "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// Config provides a config struct for instantiating a Transport.
type Config struct {
	Brokers        []string
	MinMessageSize uint64
	MaxMessageSize uint64

	// GroupID makes subscriptions of a topic share its messages as one
	// consumer group. Without it every subscription reads every message
	// of Partition.
	GroupID   string
	Partition int

	MessageDeliveryTimeout time.Duration
	Log                    actorcore.Logs
	Dialer                 *segment.Dialer
	Balancer               segment.Balancer

	// WriterConfigOverride is used as the base of every writer.
	WriterConfigOverride *segment.WriterConfig

	// ReaderConfigOverride is used as the base of every reader.
	ReaderConfigOverride *segment.ReaderConfig
}

func (c *Config) init() {
	if c.Log == nil {
		c.Log = actorcore.DrainLog{}
	}
	if c.Balancer == nil {
		c.Balancer = &segment.LeastBytes{}
	}
	if c.MinMessageSize == 0 {
		c.MinMessageSize = 1
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 10e6
	}
	if c.MessageDeliveryTimeout <= 0 {
		c.MessageDeliveryTimeout = 1 * time.Second
	}
}

// Transport implements bridge.Transport with one writer per published
// topic and one reader per subscription.
type Transport struct {
	config Config

	ctx      context.Context
	canceler func()

	pl   sync.Mutex
	pubs map[string]*segment.Writer

	sl   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewTransport returns a new instance of Transport.
func NewTransport(config Config) (*Transport, error) {
	config.init()

	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka transport requires at least one broker")
	}

	var tr Transport
	tr.config = config
	tr.pubs = map[string]*segment.Writer{}
	tr.subs = map[*Subscription]struct{}{}
	tr.ctx, tr.canceler = context.WithCancel(context.Background())
	return &tr, nil
}

// Close stops every subscription and closes every writer.
func (t *Transport) Close() error {
	t.canceler()

	t.sl.Lock()
	subs := t.subs
	t.subs = map[*Subscription]struct{}{}
	t.sl.Unlock()

	var group errgroup.Group
	for sub := range subs {
		sub := sub
		group.Go(sub.Stop)
	}

	t.pl.Lock()
	pubs := t.pubs
	t.pubs = map[string]*segment.Writer{}
	t.pl.Unlock()

	for _, writer := range pubs {
		writer := writer
		group.Go(writer.Close)
	}

	return group.Wait()
}

// Publish implements the bridge.Transport interface.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	writer := t.writer(topic)

	ctx, cancel := context.WithTimeout(ctx, t.config.MessageDeliveryTimeout)
	defer cancel()

	if err := writer.WriteMessages(ctx, segment.Message{Value: data}); err != nil {
		actorcore.LogMsg("failed to publish").
			String("topic", topic).
			Err(err).
			Write(actorcore.ERROR, t.config.Log)
		return errors.Wrap(err, "Failed to publish message to %q", topic)
	}
	return nil
}

func (t *Transport) writer(topic string) *segment.Writer {
	t.pl.Lock()
	defer t.pl.Unlock()

	if writer, ok := t.pubs[topic]; ok {
		return writer
	}

	var wconfig segment.WriterConfig
	if t.config.WriterConfigOverride != nil {
		wconfig = *t.config.WriterConfigOverride
	}

	wconfig.Topic = topic
	wconfig.Brokers = t.config.Brokers
	wconfig.Balancer = t.config.Balancer

	if t.config.Dialer != nil {
		wconfig.Dialer = t.config.Dialer
	}

	writer := segment.NewWriter(wconfig)
	t.pubs[topic] = writer
	return writer
}

// Subscribe implements the bridge.Transport interface.
func (t *Transport) Subscribe(topic string, receiver bridge.Receiver) (bridge.Subscription, error) {
	if topic == "" {
		return nil, errors.New("topic value can not be empty")
	}

	var rconfig segment.ReaderConfig
	if t.config.ReaderConfigOverride != nil {
		rconfig = *t.config.ReaderConfigOverride
	}

	rconfig.Topic = topic
	rconfig.Brokers = t.config.Brokers
	rconfig.MaxBytes = int(t.config.MaxMessageSize)
	rconfig.MinBytes = int(t.config.MinMessageSize)

	if t.config.Dialer != nil {
		rconfig.Dialer = t.config.Dialer
	}

	if t.config.GroupID != "" {
		rconfig.GroupID = t.config.GroupID
	} else {
		rconfig.Partition = t.config.Partition
	}

	sub := &Subscription{
		topic:     topic,
		grouped:   t.config.GroupID != "",
		transport: t,
		receiver:  receiver,
		log:       t.config.Log,
		reader:    segment.NewReader(rconfig),
	}
	sub.ctx, sub.canceler = context.WithCancel(t.ctx)

	t.sl.Lock()
	t.subs[sub] = struct{}{}
	t.sl.Unlock()

	sub.errg.Go(sub.readLoop)
	return sub, nil
}

func (t *Transport) remove(sub *Subscription) {
	t.sl.Lock()
	delete(t.subs, sub)
	t.sl.Unlock()
}

//*****************************************************************************
// Subscription
//*****************************************************************************

// Subscription implements bridge.Subscription with a kafka reader.
type Subscription struct {
	topic     string
	grouped   bool
	transport *Transport
	canceler  func()
	ctx       context.Context
	reader    *segment.Reader
	log       actorcore.Logs
	errg      errgroup.Group
	receiver  bridge.Receiver
	once      sync.Once
	err       error
}

// Topic implements the bridge.Subscription interface.
func (s *Subscription) Topic() string {
	return s.topic
}

// Stop ends giving subscription, returning the error which ended its
// read loop, if any.
func (s *Subscription) Stop() error {
	s.once.Do(func() {
		s.canceler()
		s.transport.remove(s)

		err := s.errg.Wait()
		if closeErr := s.reader.Close(); closeErr != nil {
			actorcore.LogMsg("failed to close kafka reader").
				String("topic", s.topic).
				Err(closeErr).
				Write(actorcore.ERROR, s.log)
		}

		if err != nil && !errors.IsAny(err, context.Canceled) {
			s.err = err
		}
	})
	return s.err
}

func (s *Subscription) readLoop() error {
	for {
		msg, err := s.fetch()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "Failed to read from topic %q", s.topic)
		}

		s.receiver(msg.Value)

		if !s.grouped {
			continue
		}

		if err := s.reader.CommitMessages(s.ctx, msg); err != nil && s.ctx.Err() == nil {
			actorcore.LogMsg("failed to commit message offset").
				String("topic", s.topic).
				Int64("offset", msg.Offset).
				Err(err).
				Write(actorcore.ERROR, s.log)
		}
	}
}

func (s *Subscription) fetch() (segment.Message, error) {
	if s.grouped {
		return s.reader.FetchMessage(s.ctx)
	}
	return s.reader.ReadMessage(s.ctx)
}
