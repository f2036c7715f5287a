package actorcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/gokit/actorcore"
	"github.com/gokit/errors"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Name string
}

func (greeting) MessageKind() string {
	return "test.greeting"
}

func TestKindOf(t *testing.T) {
	require.Equal(t, "test.greeting", actorcore.KindOf(greeting{}))
	require.Equal(t, "string", actorcore.KindOf("hello"))
	require.Equal(t, "actorcore_test.order", actorcore.KindOf(order{}))
	require.Equal(t, "actorcore.Terminated", actorcore.KindOf(actorcore.Terminated{}))
}

func TestMux(t *testing.T) {
	terminated := &events{}

	mux := func() (actorcore.Behaviour, error) {
		return actorcore.NewMux().
			HandleOf("", func(ctx *actorcore.Context, e actorcore.Envelope) error {
				return ctx.Respond(e, "text")
			}).
			HandleOf(greeting{}, func(ctx *actorcore.Context, e actorcore.Envelope) error {
				return ctx.Respond(e, "hello "+e.Data.(greeting).Name)
			}), nil
	}

	topo := startTopology(t, actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name:   "root",
			Policy: actorcore.Never,
			Actors: []actorcore.ActorSpec{
				{Role: "mux", Factory: mux},
				{
					Role: "fallback",
					Factory: func() (actorcore.Behaviour, error) {
						return actorcore.NewMux().Fallback(func(ctx *actorcore.Context, e actorcore.Envelope) error {
							return ctx.Respond(e, "fallback")
						}), nil
					},
				},
			},
		},
	})
	defer shutdown(t, topo)

	topo.Subscribe(terminated.handle, func(m interface{}) bool {
		_, ok := m.(actorcore.ActorTerminated)
		return ok
	})

	addr := lookup(t, topo.Root(), "mux")

	res, err := topo.Request(context.Background(), addr, "plain", time.Second)
	require.NoError(t, err)
	require.Equal(t, "text", res.Data)

	res, err = topo.Request(context.Background(), addr, greeting{Name: "bob"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello bob", res.Data)

	res, err = topo.Request(context.Background(), lookup(t, topo.Root(), "fallback"), 42, time.Second)
	require.NoError(t, err)
	require.Equal(t, "fallback", res.Data)

	t.Logf("When a kind has no handler")
	require.NoError(t, topo.Send(context.Background(), addr, 42))

	require.Eventually(t, func() bool {
		return terminated.len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	event := terminated.items()[0].(actorcore.ActorTerminated)
	require.Equal(t, addr, event.Addr)
	require.Equal(t, "mux", event.Role)
	require.Equal(t, actorcore.ExitFaulted, event.Exit)
	require.True(t, actorcore.IsFaulted(event.Cause))
	require.True(t, errors.IsAny(errors.UnwrapDeep(event.Cause).(*actorcore.FaultError).Cause, actorcore.ErrUnhandledKind))
}
