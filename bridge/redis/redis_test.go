package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/gokit/actorcore/bridge/internal/benches"
	"github.com/gokit/actorcore/bridge/redis"
	"github.com/gokit/actorcore/internal"
	pubsub "github.com/go-redis/redis"
	"github.com/stretchr/testify/require"
)

func redisAddr(t testing.TB) string {
	addr := os.Getenv("ACTORCORE_REDIS_ADDR")
	if addr == "" {
		t.Skip("ACTORCORE_REDIS_ADDR is not set")
	}
	return addr
}

func TestRedis(t *testing.T) {
	transport, err := redis.NewTransport(context.Background(), redis.Config{
		Options: pubsub.Options{Addr: redisAddr(t)},
		Log:     &internal.TLog{},
	})
	require.NoError(t, err)
	require.NotNil(t, transport)

	defer transport.Close()

	benches.TransportTestSuite(t, transport)
}

func BenchmarkRedis(b *testing.B) {
	transport, err := redis.NewTransport(context.Background(), redis.Config{
		Options: pubsub.Options{Addr: redisAddr(b)},
	})
	require.NoError(b, err)
	defer transport.Close()

	benches.BenchmarkPublishSubscribe(b, transport)
}
