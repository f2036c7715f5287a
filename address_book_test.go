package actorcore_test

import (
	"context"
	"testing"

	"github.com/gokit/actorcore"
	"github.com/gokit/errors"
	"github.com/stretchr/testify/require"
)

type capturedBox struct {
	received []actorcore.Envelope
	closed   bool
}

func (c *capturedBox) Push(_ context.Context, e actorcore.Envelope) error {
	c.received = append(c.received, e)
	return nil
}

func (c *capturedBox) Closed() bool {
	return c.closed
}

func TestAddressBook_DeliverAndDeregister(t *testing.T) {
	book := actorcore.NewAddressBook(nil, nil)
	group, err := book.AllocateGroup()
	require.NoError(t, err)

	addr, box, err := book.Register(group, actorcore.MailboxOptions{})
	require.NoError(t, err)
	require.True(t, book.Alive(addr))
	require.Equal(t, 1, book.Len())

	require.NoError(t, book.Deliver(context.Background(), addr, env))
	require.Equal(t, 1, box.Total())

	t.Logf("When the address deregisters")
	book.Deregister(addr)
	require.False(t, book.Alive(addr))

	err = book.Deliver(context.Background(), addr, env)
	require.True(t, errors.IsAny(err, actorcore.ErrAddressNotFound))

	_, ok := book.Resolve(addr)
	require.False(t, ok)

	t.Logf("When a fresh address registers in the same group")
	next, _, err := book.Register(group, actorcore.MailboxOptions{})
	require.NoError(t, err)
	require.NotEqual(t, addr, next)
	require.Equal(t, addr.Group(), next.Group())
}

func TestAddressBook_ClosedMailboxIsNotAlive(t *testing.T) {
	book := actorcore.NewAddressBook(nil, nil)

	addr, box, err := book.Register(actorcore.SystemGroup, actorcore.MailboxOptions{})
	require.NoError(t, err)

	box.Close()
	require.False(t, book.Alive(addr))

	err = book.Deliver(context.Background(), addr, env)
	require.True(t, errors.IsAny(err, actorcore.ErrMailboxClosed))
}

func TestAddressBook_ResponsesResolveRequests(t *testing.T) {
	book := actorcore.NewAddressBook(nil, nil)

	addr, box, err := book.Register(actorcore.SystemGroup, actorcore.MailboxOptions{})
	require.NoError(t, err)

	requests, ok := book.Requests(addr)
	require.True(t, ok)

	ft, err := requests.Open()
	require.NoError(t, err)

	res := actorcore.CreateEnvelope(actorcore.NullAddress, nil, "pong")
	res.Kind = actorcore.KindResponse
	res.RequestID = ft.ID()

	require.NoError(t, book.Deliver(context.Background(), addr, res))
	require.True(t, box.Empty())

	got, err := ft.Wait(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, "pong", got.Data)
}

func TestAddressBook_PostboxReceivesResponses(t *testing.T) {
	book := actorcore.NewAddressBook(nil, nil)

	box := &capturedBox{}
	addr, err := book.RegisterPostbox(actorcore.SystemGroup, box)
	require.NoError(t, err)

	_, ok := book.Requests(addr)
	require.False(t, ok)

	res := actorcore.CreateEnvelope(actorcore.NullAddress, nil, "pong")
	res.Kind = actorcore.KindResponse
	res.RequestID = 7

	require.NoError(t, book.Deliver(context.Background(), addr, res))
	require.Len(t, box.received, 1)
	require.Equal(t, actorcore.RequestID(7), box.received[0].RequestID)
}

func TestAddressBook_Watch(t *testing.T) {
	book := actorcore.NewAddressBook(nil, nil)

	addr, _, err := book.Register(actorcore.SystemGroup, actorcore.MailboxOptions{})
	require.NoError(t, err)

	var informed []actorcore.Address
	_, err = book.Watch(addr, func(a actorcore.Address) {
		informed = append(informed, a)
	})
	require.NoError(t, err)

	cancel, err := book.Watch(addr, func(a actorcore.Address) {
		require.Fail(t, "Should not inform cancelled watcher")
	})
	require.NoError(t, err)
	cancel()

	book.Deregister(addr)
	book.Deregister(addr)
	require.Equal(t, []actorcore.Address{addr}, informed)

	t.Logf("When watching an address which is gone")
	_, err = book.Watch(addr, func(actorcore.Address) {})
	require.True(t, errors.IsAny(err, actorcore.ErrAddressNotFound))
}

func TestAddressBook_AllocateGroup(t *testing.T) {
	book := actorcore.NewAddressBook(nil, nil)

	first, err := book.AllocateGroup()
	require.NoError(t, err)

	second, err := book.AllocateGroup()
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.NotEqual(t, actorcore.SystemGroup, first)
}

func BenchmarkAddressBook_Deliver(b *testing.B) {
	book := actorcore.NewAddressBook(nil, nil)
	addr, box, err := book.Register(actorcore.SystemGroup, actorcore.MailboxOptions{})
	require.NoError(b, err)

	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		book.Deliver(ctx, addr, env)
		box.TryPop()
	}
	b.StopTimer()
}
