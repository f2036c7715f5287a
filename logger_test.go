package actorcore_test

import (
	"errors"
	"testing"

	"github.com/gokit/actorcore"
	"github.com/stretchr/testify/assert"
)

func TestGetLogEvent(t *testing.T) {
	t.Run("basic fields", func(t *testing.T) {
		event := actorcore.LogMsg("My log")
		event.String("name", "thunder")
		event.Int("id", 234)
		assert.Equal(t, "{\"message\": \"My log\", \"name\": \"thunder\", \"id\": 234}", event.Message())
	})

	t.Run("with JSON fields", func(t *testing.T) {
		event := actorcore.LogMsg("My log")
		event.String("name", "thunder")
		event.Int("id", 234)
		event.ObjectJSON("data", map[string]interface{}{"id": 23})
		assert.Equal(t, "{\"message\": \"My log\", \"name\": \"thunder\", \"id\": 234, \"data\": {\"id\":23}}", event.Message())
	})

	t.Run("with Entry fields", func(t *testing.T) {
		event := actorcore.LogMsg("My log")
		event.String("name", "thunder")
		event.Int("id", 234)
		event.Object("data", func(event *actorcore.LogEvent) {
			event.Int("id", 23)
		})
		assert.Equal(t, "{\"message\": \"My log\", \"name\": \"thunder\", \"id\": 234, \"data\": {\"id\": 23}}", event.Message())
	})

	t.Run("with bytes fields", func(t *testing.T) {
		event := actorcore.LogMsg("My log")
		event.String("name", "thunder")
		event.Int("id", 234)
		event.Bytes("data", []byte("{\"id\": 23}"))
		assert.Equal(t, "{\"message\": \"My log\", \"name\": \"thunder\", \"id\": 234, \"data\": {\"id\": 23}}", event.Message())
	})

	t.Run("with error field", func(t *testing.T) {
		event := actorcore.LogMsg("My log")
		event.String("role", "worker")
		event.Err(errors.New("bad"))
		event.Err(nil)
		assert.Equal(t, "{\"message\": \"My log\", \"role\": \"worker\", \"error\": \"bad\"}", event.Message())
	})

	t.Run("using context fields", func(t *testing.T) {
		event := actorcore.LogMsgWithContext("My log", "data", nil)
		event.String("name", "thunder")
		event.Int("id", 234)
		assert.Equal(t, "{\"message\": \"My log\", \"data\": {\"name\": \"thunder\", \"id\": 234}}", event.Message())
	})

	t.Run("using context fields with hook", func(t *testing.T) {
		event := actorcore.LogMsgWithContext("My log", "data", func(event *actorcore.LogEvent) {
			event.Bool("w", true)
		})

		event.String("name", "thunder")
		event.Int("id", 234)
		assert.Equal(t, "{\"message\": \"My log\", \"w\": true, \"data\": {\"name\": \"thunder\", \"id\": 234}}", event.Message())
	})
}

func BenchmarkLogMsg(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		actorcore.LogMsg("restart scheduled").
			String("role", "worker").
			Int("attempt", i).
			Write(actorcore.WARN, actorcore.DrainLog{})
	}
}
