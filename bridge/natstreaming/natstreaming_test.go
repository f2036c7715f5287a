package natstreaming_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gokit/actorcore/bridge/internal/benches"
	"github.com/gokit/actorcore/bridge/natstreaming"
	"github.com/gokit/actorcore/internal"
	"github.com/gokit/xid"
	"github.com/stretchr/testify/require"
)

func config(t testing.TB) natstreaming.Config {
	url := os.Getenv("ACTORCORE_STAN_URL")
	if url == "" {
		t.Skip("ACTORCORE_STAN_URL is not set")
	}

	cluster := os.Getenv("ACTORCORE_STAN_CLUSTER")
	if cluster == "" {
		cluster = "test-cluster"
	}
	return natstreaming.Config{URL: url, ClusterID: cluster}
}

func TestConfigRequiresCluster(t *testing.T) {
	_, err := natstreaming.NewTransport(context.Background(), natstreaming.Config{})
	require.Error(t, err)
}

func TestNATSStreaming(t *testing.T) {
	cfg := config(t)
	cfg.Log = &internal.TLog{}

	transport, err := natstreaming.NewTransport(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, transport)

	defer transport.Close()

	benches.TransportTestSuite(t, transport)
}

func TestNATSStreamingQueueGroup(t *testing.T) {
	transport, err := natstreaming.NewTransport(context.Background(), config(t))
	require.NoError(t, err)
	defer transport.Close()

	topic := "actorcore_queue_" + xid.New().String()
	rec := make(chan []byte, 4)

	for i := 0; i < 2; i++ {
		sub, err := transport.QueueSubscribe(topic, "workers", func(data []byte) {
			rec <- data
		})
		require.NoError(t, err)
		defer sub.Stop()
	}

	require.NoError(t, transport.Publish(context.Background(), topic, []byte("job")))

	select {
	case data := <-rec:
		require.Equal(t, "job", string(data))
	case <-time.After(10 * time.Second):
		require.Fail(t, "queue group should receive the message")
	}

	t.Logf("When a message goes to a queue group it reaches one member")
	select {
	case <-rec:
		require.Fail(t, "only one member should receive the message")
	case <-time.After(200 * time.Millisecond):
	}
}

func BenchmarkNATSStreaming(b *testing.B) {
	transport, err := natstreaming.NewTransport(context.Background(), config(b))
	require.NoError(b, err)
	defer transport.Close()

	benches.BenchmarkPublishSubscribe(b, transport)
}
