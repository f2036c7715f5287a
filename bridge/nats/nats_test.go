package nats_test

import (
	"context"
	"os"
	"testing"

	"github.com/gokit/actorcore/bridge/internal/benches"
	"github.com/gokit/actorcore/bridge/nats"
	"github.com/gokit/actorcore/internal"
	"github.com/stretchr/testify/require"
)

func natsURL(t testing.TB) string {
	url := os.Getenv("ACTORCORE_NATS_URL")
	if url == "" {
		t.Skip("ACTORCORE_NATS_URL is not set")
	}
	return url
}

func TestNATS(t *testing.T) {
	transport, err := nats.NewTransport(context.Background(), nats.Config{
		URL: natsURL(t),
		Log: &internal.TLog{},
	})
	require.NoError(t, err)
	require.NotNil(t, transport)

	defer transport.Close()

	benches.TransportTestSuite(t, transport)
}

func BenchmarkNATS(b *testing.B) {
	transport, err := nats.NewTransport(context.Background(), nats.Config{URL: natsURL(b)})
	require.NoError(b, err)
	defer transport.Close()

	benches.BenchmarkPublishSubscribe(b, transport)
}
