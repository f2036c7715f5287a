package actorcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/gokit/actorcore"
	"github.com/stretchr/testify/require"
)

func TestEventer(t *testing.T) {
	ev := actorcore.NewEventer(0)

	received := &events{}
	ev.Subscribe(received.handle, nil)

	evens := &events{}
	ev.Subscribe(evens.handle, func(m interface{}) bool {
		n, ok := m.(int)
		return ok && n%2 == 0
	})

	for i := 0; i < 10; i++ {
		ev.Publish(i)
	}

	t.Logf("When closing with queued events")
	ev.Close()
	require.Equal(t, 10, received.len())
	require.Equal(t, 5, evens.len())
	require.Equal(t, int64(0), ev.Dropped())

	t.Logf("When publishing after close")
	ev.Publish(11)
	require.Equal(t, 10, received.len())

	ev.Close()
}

func TestEventerDropsWhenFull(t *testing.T) {
	ev := actorcore.NewEventer(1)

	release := make(chan struct{})
	ev.Subscribe(func(m interface{}) {
		<-release
	}, nil)

	for i := 0; i < 10; i++ {
		ev.Publish(i)
	}

	require.Eventually(t, func() bool {
		return ev.Dropped() > 0
	}, time.Second, 5*time.Millisecond)

	close(release)
	ev.Close()
}

func TestEventMailInvoker(t *testing.T) {
	ev := actorcore.NewEventer(0)

	received := &events{}
	ev.Subscribe(received.handle, nil)

	box := actorcore.NewBoxQueue(actorcore.NullAddress, actorcore.MailboxOptions{
		Capacity: 1,
		Overflow: actorcore.FailFast,
		Invoker:  actorcore.EventMailInvoker{Events: ev},
	})

	require.NoError(t, box.Push(context.Background(), env))
	require.Error(t, box.Push(context.Background(), env2))
	_, ok := box.TryPop()
	require.True(t, ok)

	ev.Close()

	var kinds []string
	for _, item := range received.items() {
		kinds = append(kinds, actorcore.KindOf(item))
	}
	require.Equal(t, []string{
		"actorcore.EnvelopeReceived",
		"actorcore.MailboxFull",
		"actorcore.EnvelopeDropped",
		"actorcore.EnvelopeDispatched",
	}, kinds)
}
