package actorcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/gokit/actorcore"
	"github.com/gokit/errors"
	"github.com/stretchr/testify/require"
)

func TestRequestTable_Resolve(t *testing.T) {
	table := actorcore.NewRequestTable(actorcore.NullAddress, nil)

	ft, err := table.Open()
	require.NoError(t, err)
	require.Equal(t, 1, table.Pending())

	res := actorcore.CreateEnvelope(actorcore.NullAddress, nil, "pong")
	res.Kind = actorcore.KindResponse
	res.RequestID = ft.ID()

	require.True(t, table.Resolve(res))
	require.Equal(t, 0, table.Pending())

	got, err := ft.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", got.Data)
}

func TestRequestTable_DiscardsUnmatchedResponses(t *testing.T) {
	var discarded []actorcore.Envelope
	table := actorcore.NewRequestTable(actorcore.NullAddress, func(e actorcore.Envelope) {
		discarded = append(discarded, e)
	})

	ft, err := table.Open()
	require.NoError(t, err)

	res := actorcore.CreateEnvelope(actorcore.NullAddress, nil, "pong")
	res.Kind = actorcore.KindResponse
	res.RequestID = ft.ID()

	t.Logf("When a response arrives twice")
	require.True(t, table.Resolve(res))
	require.False(t, table.Resolve(res))
	require.Len(t, discarded, 1)

	t.Logf("When a response matches no request")
	res.RequestID = ft.ID() + 100
	require.False(t, table.Resolve(res))
	require.Len(t, discarded, 2)

	t.Logf("When a response arrives after release")
	late, err := table.Open()
	require.NoError(t, err)
	table.Release(late.ID())

	res.RequestID = late.ID()
	require.False(t, table.Resolve(res))
	require.Len(t, discarded, 3)
}

func TestRequestTable_Close(t *testing.T) {
	table := actorcore.NewRequestTable(actorcore.NullAddress, nil)

	ft, err := table.Open()
	require.NoError(t, err)

	table.Close()

	_, err = ft.Wait(context.Background(), time.Second)
	require.True(t, errors.IsAny(err, actorcore.ErrMailboxClosed))

	_, err = table.Open()
	require.True(t, errors.IsAny(err, actorcore.ErrMailboxClosed))
}

func TestFuture_WaitTimeout(t *testing.T) {
	table := actorcore.NewRequestTable(actorcore.NullAddress, nil)

	ft, err := table.Open()
	require.NoError(t, err)

	_, err = ft.Wait(context.Background(), 20*time.Millisecond)
	require.True(t, errors.IsAny(err, actorcore.ErrRequestTimedOut))

	require.NoError(t, ft.Reject(errors.New("gave up")))
	require.True(t, errors.IsAny(ft.Resolve(actorcore.Envelope{}), actorcore.ErrFutureResolved))

	select {
	case <-ft.Done():
	default:
		require.Fail(t, "Should have closed done channel")
	}
}

func BenchmarkRequestTable_OpenResolve(b *testing.B) {
	b.ReportAllocs()

	table := actorcore.NewRequestTable(actorcore.NullAddress, nil)
	res := actorcore.Envelope{Kind: actorcore.KindResponse}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ft, _ := table.Open()
		res.RequestID = ft.ID()
		table.Resolve(res)
	}
	b.StopTimer()
}
