// Package benches holds the test suite every bridge.Transport must pass.
package benches

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gokit/actorcore/bridge"
	"github.com/gokit/xid"
	"github.com/stretchr/testify/require"
)

//**************************************************************************
// Tests Transports
//**************************************************************************

// TransportTestSuite verifies the behaviour of a bridge.Transport.
func TransportTestSuite(t *testing.T, transport bridge.Transport) {
	UnorderedTransportTestSuite(t, transport)

	t.Run("Publish keeps order", func(t *testing.T) {
		testPublishingOrder(t, transport)
	})
}

// UnorderedTransportTestSuite verifies a bridge.Transport which does not
// promise delivery in publish order.
func UnorderedTransportTestSuite(t *testing.T, transport bridge.Transport) {
	t.Run("Publish Message Only", func(t *testing.T) {
		testPublishing(t, transport)
	})

	t.Run("Publish and Subscribe", func(t *testing.T) {
		testPublishingAndSubscription(t, transport)
	})

	t.Run("Stopped subscription receives nothing", func(t *testing.T) {
		testStoppedSubscription(t, transport)
	})
}

func topic(name string) string {
	return fmt.Sprintf("actorcore_%s_%s", name, xid.New().String())
}

func testPublishing(t *testing.T, transport bridge.Transport) {
	require.NoError(t, transport.Publish(context.Background(), topic("rats"), []byte("300")))
}

func testPublishingAndSubscription(t *testing.T, transport bridge.Transport) {
	rats := topic("rats")

	rec := make(chan []byte, 1)
	sub, err := transport.Subscribe(rats, func(data []byte) {
		rec <- data
	})
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, rats, sub.Topic())

	defer sub.Stop()

	require.NoError(t, transport.Publish(context.Background(), rats, []byte("300")))

	select {
	case msg := <-rec:
		require.Equal(t, "300", string(msg))
	case <-time.After(time.Second * 30):
		require.Fail(t, "Should have successfully received published message")
	}
}

func testPublishingOrder(t *testing.T, transport bridge.Transport) {
	rats := topic("ordered")

	rec := make(chan string, 10)
	sub, err := transport.Subscribe(rats, func(data []byte) {
		rec <- string(data)
	})
	require.NoError(t, err)
	defer sub.Stop()

	for i := 0; i < 10; i++ {
		require.NoError(t, transport.Publish(context.Background(), rats, []byte(fmt.Sprint(i))))
	}

	for i := 0; i < 10; i++ {
		select {
		case msg := <-rec:
			require.Equal(t, fmt.Sprint(i), msg)
		case <-time.After(time.Second * 30):
			require.Fail(t, "Should have received message %d", i)
		}
	}
}

func testStoppedSubscription(t *testing.T, transport bridge.Transport) {
	rats := topic("stopped")

	rec := make(chan []byte, 1)
	sub, err := transport.Subscribe(rats, func(data []byte) {
		rec <- data
	})
	require.NoError(t, err)
	require.NoError(t, sub.Stop())

	require.NoError(t, transport.Publish(context.Background(), rats, []byte("300")))

	select {
	case <-rec:
		require.Fail(t, "Should not have received message after stop")
	case <-time.After(time.Millisecond * 200):
	}
}

//**************************************************************************
// Benchmarks Transports
//**************************************************************************

// BenchmarkPublishSubscribe benchmarks round trips of published messages
// through a single subscription.
func BenchmarkPublishSubscribe(b *testing.B, transport bridge.Transport) {
	rats := topic("bench")

	rec := make(chan struct{}, 1)
	sub, err := transport.Subscribe(rats, func(_ []byte) {
		rec <- struct{}{}
	})
	require.NoError(b, err)
	defer sub.Stop()

	payload := []byte("300")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := transport.Publish(context.Background(), rats, payload); err != nil {
			b.Fatal(err)
		}
		<-rec
	}
}
