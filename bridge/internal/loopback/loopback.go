// Package loopback implements an in-memory bridge.Transport shared by
// bridges of the same process. Publishes are delivered in order per
// subscription by its own goroutine.
package loopback

import (
	"context"
	"sync"

	"github.com/gokit/actorcore"
	"github.com/gokit/actorcore/bridge"
	"github.com/gokit/errors"
)

// ErrClosed is returned by a closed transport.
var ErrClosed = errors.New("loopback transport is closed")

// Transport implements bridge.Transport in memory.
type Transport struct {
	sl     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool

	failing actorcore.AtomicBool
}

// New returns a new instance of Transport.
func New() *Transport {
	return &Transport{subs: map[string]map[*subscription]struct{}{}}
}

// Fail makes every publish fail till Recover is called.
func (t *Transport) Fail() {
	t.failing.On()
}

// Recover undoes Fail.
func (t *Transport) Recover() {
	t.failing.Off()
}

// Publish implements the bridge.Transport interface.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	if t.failing.IsTrue() {
		return errors.New("loopback publish to %q failed", topic)
	}

	t.sl.RLock()
	defer t.sl.RUnlock()

	if t.closed {
		return errors.WrapOnly(ErrClosed)
	}

	for sub := range t.subs[topic] {
		select {
		case sub.pending <- data:
		case <-sub.done:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "publish to %q", topic)
		}
	}
	return nil
}

// Subscribe implements the bridge.Transport interface.
func (t *Transport) Subscribe(topic string, receiver bridge.Receiver) (bridge.Subscription, error) {
	t.sl.Lock()
	defer t.sl.Unlock()

	if t.closed {
		return nil, errors.WrapOnly(ErrClosed)
	}

	sub := &subscription{
		topic:     topic,
		transport: t,
		receiver:  receiver,
		pending:   make(chan []byte, 64),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	if t.subs[topic] == nil {
		t.subs[topic] = map[*subscription]struct{}{}
	}
	t.subs[topic][sub] = struct{}{}

	go sub.run()
	return sub, nil
}

// Close implements the bridge.Transport interface.
func (t *Transport) Close() error {
	t.sl.RLock()
	for _, set := range t.subs {
		for sub := range set {
			sub.end()
		}
	}
	t.sl.RUnlock()

	t.sl.Lock()
	if t.closed {
		t.sl.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subs
	t.subs = map[string]map[*subscription]struct{}{}
	t.sl.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.halt()
		}
	}
	return nil
}

func (t *Transport) remove(sub *subscription) {
	t.sl.Lock()
	delete(t.subs[sub.topic], sub)
	t.sl.Unlock()
}

type subscription struct {
	topic     string
	transport *Transport
	receiver  bridge.Receiver
	pending   chan []byte
	once      sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

func (s *subscription) Topic() string {
	return s.topic
}

func (s *subscription) Stop() error {
	s.end()
	s.transport.remove(s)
	<-s.stopped
	return nil
}

func (s *subscription) halt() {
	s.end()
	<-s.stopped
}

// end releases publishers blocked on this subscription.
func (s *subscription) end() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *subscription) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case data := <-s.pending:
			s.receiver(data)
		}
	}
}
