package kafka_test

import (
	"os"
	"strings"
	"testing"

	"github.com/gokit/actorcore/bridge/internal/benches"
	"github.com/gokit/actorcore/bridge/kafka"
	"github.com/gokit/actorcore/internal"
	"github.com/stretchr/testify/require"
)

func brokers(t testing.TB) []string {
	list := os.Getenv("ACTORCORE_KAFKA_BROKERS")
	if list == "" {
		t.Skip("ACTORCORE_KAFKA_BROKERS is not set")
	}
	return strings.Split(list, ",")
}

func TestKafkaRequiresBrokers(t *testing.T) {
	_, err := kafka.NewTransport(kafka.Config{})
	require.Error(t, err)
}

func TestKafka(t *testing.T) {
	transport, err := kafka.NewTransport(kafka.Config{
		Brokers: brokers(t),
		Log:     &internal.TLog{},
	})
	require.NoError(t, err)
	require.NotNil(t, transport)

	defer transport.Close()

	benches.TransportTestSuite(t, transport)
}
