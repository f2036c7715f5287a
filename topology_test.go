package actorcore_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gokit/actorcore"
	"github.com/gokit/actorcore/internal"
	"github.com/gokit/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

//**************************************************************************
// helpers
//**************************************************************************

func startTopology(t *testing.T, config actorcore.TopologyConfig) *actorcore.Topology {
	if config.Logs == nil {
		config.Logs = &internal.RecordLog{}
	}

	topo, err := actorcore.NewTopology(config)
	require.NoError(t, err)
	require.NoError(t, topo.Start(context.Background()))
	return topo
}

func shutdown(t *testing.T, topo *actorcore.Topology) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, topo.Shutdown(ctx))
}

func echo() actorcore.Factory {
	return func() (actorcore.Behaviour, error) {
		return actorcore.BehaviourFunc(func(ctx *actorcore.Context, e actorcore.Envelope) error {
			if e.IsRequest() {
				return ctx.Respond(e, fmt.Sprintf("pong:%v", e.Data))
			}
			return nil
		}), nil
	}
}

// flaky faults on "boom" and echoes requests otherwise.
func flaky() actorcore.Factory {
	return func() (actorcore.Behaviour, error) {
		return actorcore.BehaviourFunc(func(ctx *actorcore.Context, e actorcore.Envelope) error {
			if e.Data == "boom" {
				return errors.New("boom")
			}
			if e.IsRequest() {
				return ctx.Respond(e, e.Data)
			}
			return nil
		}), nil
	}
}

type failingStart struct {
	actorcore.DiscardBehaviour
	fail bool
}

func (f failingStart) PreStart(_ *actorcore.Context) error {
	if f.fail {
		return errors.New("not ready")
	}
	return nil
}

// events collects telemetry events of type matched by keep.
type events struct {
	el   sync.Mutex
	list []interface{}
}

func (e *events) handle(m interface{}) {
	e.el.Lock()
	e.list = append(e.list, m)
	e.el.Unlock()
}

func (e *events) items() []interface{} {
	e.el.Lock()
	defer e.el.Unlock()
	return append([]interface{}(nil), e.list...)
}

func (e *events) len() int {
	e.el.Lock()
	defer e.el.Unlock()
	return len(e.list)
}

func lookup(t *testing.T, sup *actorcore.Supervisor, role string) actorcore.Address {
	addr, ok := sup.Lookup(role)
	require.True(t, ok, "role %q should be live", role)
	return addr
}

// replaced waits till role is bound to a live address other than old.
func replaced(t *testing.T, topo *actorcore.Topology, sup *actorcore.Supervisor, role string, old actorcore.Address) actorcore.Address {
	var next actorcore.Address
	require.Eventually(t, func() bool {
		addr, ok := sup.Lookup(role)
		if !ok || addr == old || !topo.Book().Alive(addr) {
			return false
		}
		next = addr
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return next
}

//**************************************************************************
// messaging
//**************************************************************************

func TestTopologyRequestResponse(t *testing.T) {
	topo := startTopology(t, actorcore.TopologyConfig{
		Name: "app",
		Root: actorcore.SupervisorConfig{
			Name:   "root",
			Actors: []actorcore.ActorSpec{{Role: "echo", Factory: echo()}},
		},
	})
	defer shutdown(t, topo)

	addr := lookup(t, topo.Root(), "echo")
	require.Equal(t, []string{"echo"}, topo.Root().Roles())

	t.Logf("When requesting an actor address")
	res, err := topo.Request(context.Background(), addr, "ping", time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong:ping", res.Data)
	require.Equal(t, addr, res.Sender)
	require.True(t, res.IsResponse())

	t.Logf("When requesting the group address")
	res, err = topo.Request(context.Background(), topo.Root().Addr(), "group", time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong:group", res.Data)

	t.Logf("When requesting an unknown address")
	unknown, err := actorcore.ParseAddress("900/900000")
	require.NoError(t, err)

	_, err = topo.Request(context.Background(), unknown, "ping", time.Second)
	require.True(t, errors.IsAny(err, actorcore.ErrAddressNotFound))
	require.True(t, errors.IsAny(topo.Send(context.Background(), unknown, "ping"), actorcore.ErrAddressNotFound))
}

func TestTopologyRequestTimesOut(t *testing.T) {
	discarded := &events{}

	topo := startTopology(t, actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name: "root",
			Actors: []actorcore.ActorSpec{{
				Role: "slow",
				Factory: func() (actorcore.Behaviour, error) {
					return actorcore.BehaviourFunc(func(ctx *actorcore.Context, e actorcore.Envelope) error {
						time.Sleep(80 * time.Millisecond)
						return ctx.Respond(e, "late")
					}), nil
				},
			}},
		},
	})
	defer shutdown(t, topo)

	topo.Subscribe(discarded.handle, func(m interface{}) bool {
		_, ok := m.(actorcore.ResponseDiscarded)
		return ok
	})

	addr := lookup(t, topo.Root(), "slow")

	_, err := topo.Request(context.Background(), addr, "ping", 20*time.Millisecond)
	require.True(t, errors.IsAny(err, actorcore.ErrRequestTimedOut))

	t.Logf("When the late response arrives")
	require.Eventually(t, func() bool {
		return discarded.len() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTopologyRequestAll(t *testing.T) {
	topo := startTopology(t, actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name: "root",
			Groups: []actorcore.SupervisorConfig{{
				Name: "workers",
				Actors: []actorcore.ActorSpec{
					{Role: "w1", Factory: echo()},
					{Role: "w2", Factory: echo()},
					{Role: "w3", Factory: echo()},
				},
			}},
		},
	})
	defer shutdown(t, topo)

	workers, ok := topo.Root().Child("workers")
	require.True(t, ok)
	require.Equal(t, "root/workers", workers.Path())
	require.Len(t, workers.Members(), 3)

	responses, err := topo.RequestAll(context.Background(), workers.Addr(), "all", time.Second)
	require.NoError(t, err)
	require.Len(t, responses, 3)

	senders := map[actorcore.Address]bool{}
	for _, res := range responses {
		require.Equal(t, "pong:all", res.Data)
		senders[res.Sender] = true
	}
	require.Len(t, senders, 3)

	t.Logf("When requesting all of a single actor")
	responses, err = topo.RequestAll(context.Background(), lookup(t, workers, "w1"), "one", time.Second)
	require.NoError(t, err)
	require.Len(t, responses, 1)
}

func TestTopologyRequestAllKeepsArrivedResponses(t *testing.T) {
	var silent uint64
	quiet := func() (actorcore.Behaviour, error) {
		return actorcore.BehaviourFunc(func(ctx *actorcore.Context, e actorcore.Envelope) error {
			if uint64(ctx.Self()) == atomic.LoadUint64(&silent) {
				return nil
			}
			return ctx.Respond(e, "here")
		}), nil
	}

	topo := startTopology(t, actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name: "root",
			Groups: []actorcore.SupervisorConfig{{
				Name: "pool",
				Actors: []actorcore.ActorSpec{
					{Role: "p1", Factory: quiet},
					{Role: "p2", Factory: quiet},
				},
			}},
		},
	})
	defer shutdown(t, topo)

	pool, ok := topo.Root().Child("pool")
	require.True(t, ok)

	members := pool.Members()
	require.Len(t, members, 2)
	atomic.StoreUint64(&silent, uint64(members[0]))

	t.Logf("When the first member never responds")
	responses, err := topo.RequestAll(context.Background(), pool.Addr(), "roll call", 200*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Equal(t, members[1], responses[0].Sender)
	require.Equal(t, "here", responses[0].Data)

	t.Logf("When no member responds")
	atomic.StoreUint64(&silent, uint64(members[1]))
	_, err = topo.RequestAll(context.Background(), members[1], "roll call", 50*time.Millisecond)
	require.True(t, errors.IsAny(err, actorcore.ErrRequestTimedOut))
}

type numbered struct {
	N int
}

func TestTopologyFIFOPerSender(t *testing.T) {
	const sequence = 100

	var ml sync.Mutex
	last := map[actorcore.Address]int{}
	var received, disorder int

	sink := func() (actorcore.Behaviour, error) {
		return actorcore.BehaviourFunc(func(ctx *actorcore.Context, e actorcore.Envelope) error {
			msg := e.Data.(numbered)

			ml.Lock()
			defer ml.Unlock()

			prev, seen := last[e.Sender]
			if (!seen && msg.N != 0) || (seen && msg.N != prev+1) {
				disorder++
			}
			last[e.Sender] = msg.N
			received++
			return nil
		}), nil
	}

	source := func() (actorcore.Behaviour, error) {
		return actorcore.BehaviourFunc(func(ctx *actorcore.Context, e actorcore.Envelope) error {
			target := e.Data.(actorcore.Address)
			for n := 0; n < sequence; n++ {
				if err := ctx.Send(ctx.Context(), target, numbered{N: n}); err != nil {
					return err
				}
			}
			return nil
		}), nil
	}

	topo := startTopology(t, actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name: "root",
			Actors: []actorcore.ActorSpec{
				{Role: "sink", Factory: sink, Mailbox: actorcore.MailboxOptions{Capacity: 4}},
				{Role: "s1", Factory: source},
				{Role: "s2", Factory: source},
				{Role: "s3", Factory: source},
				{Role: "s4", Factory: source},
			},
		},
	})
	defer shutdown(t, topo)

	target := lookup(t, topo.Root(), "sink")

	t.Logf("When four actors send numbered sequences at once")
	for _, role := range []string{"s1", "s2", "s3", "s4"} {
		require.NoError(t, topo.Send(context.Background(), lookup(t, topo.Root(), role), target))
	}

	require.Eventually(t, func() bool {
		ml.Lock()
		defer ml.Unlock()
		return received == 4*sequence
	}, 5*time.Second, 5*time.Millisecond)

	ml.Lock()
	defer ml.Unlock()
	require.Equal(t, 0, disorder)
	require.Len(t, last, 4)
}

func TestTopologyBroadcastGroup(t *testing.T) {
	received := make(chan actorcore.Address, 3)
	counter := func() (actorcore.Behaviour, error) {
		return actorcore.BehaviourFunc(func(ctx *actorcore.Context, e actorcore.Envelope) error {
			received <- ctx.Self()
			return nil
		}), nil
	}

	topo := startTopology(t, actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name: "root",
			Groups: []actorcore.SupervisorConfig{{
				Name:   "audit",
				Router: actorcore.NewBroadcastRouter(),
				Actors: []actorcore.ActorSpec{
					{Role: "a1", Factory: counter},
					{Role: "a2", Factory: counter},
					{Role: "a3", Factory: counter},
				},
			}},
		},
	})
	defer shutdown(t, topo)

	audit, ok := topo.Root().Child("audit")
	require.True(t, ok)

	require.NoError(t, topo.Send(context.Background(), audit.Addr(), "event"))

	seen := map[actorcore.Address]bool{}
	for i := 0; i < 3; i++ {
		select {
		case addr := <-received:
			seen[addr] = true
		case <-time.After(2 * time.Second):
			require.Fail(t, "Should have delivered to every member")
		}
	}
	require.Len(t, seen, 3)
}

func TestTopologyDeadLetters(t *testing.T) {
	letters := &events{}

	release := make(chan struct{})
	topo := startTopology(t, actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name:   "root",
			Policy: actorcore.Never,
			Actors: []actorcore.ActorSpec{{
				Role: "stuck",
				Factory: func() (actorcore.Behaviour, error) {
					return actorcore.BehaviourFunc(func(ctx *actorcore.Context, e actorcore.Envelope) error {
						<-release
						return errors.New("gave up")
					}), nil
				},
			}},
		},
	})
	defer shutdown(t, topo)

	topo.Subscribe(letters.handle, func(m interface{}) bool {
		_, ok := m.(actorcore.DeadLetter)
		return ok
	})

	t.Logf("When sending to the system address")
	require.NoError(t, topo.Send(context.Background(), topo.Context().Self(), "lost"))
	require.Eventually(t, func() bool {
		return letters.len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	t.Logf("When an actor faults with queued envelopes")
	stuck := lookup(t, topo.Root(), "stuck")
	require.NoError(t, topo.Send(context.Background(), stuck, 1))
	require.NoError(t, topo.Send(context.Background(), stuck, 2))
	require.NoError(t, topo.Send(context.Background(), stuck, 3))
	close(release)

	require.Eventually(t, func() bool {
		return letters.len() == 3
	}, 2*time.Second, 5*time.Millisecond)

	for _, item := range letters.items()[1:] {
		letter := item.(actorcore.DeadLetter)
		require.Equal(t, stuck, letter.Addr)
	}
}

func TestContextWatch(t *testing.T) {
	terminated := make(chan actorcore.Address, 1)

	watcher := func() (actorcore.Behaviour, error) {
		return actorcore.BehaviourFunc(func(ctx *actorcore.Context, e actorcore.Envelope) error {
			switch data := e.Data.(type) {
			case actorcore.Address:
				if err := ctx.Watch(data); err != nil {
					return err
				}
				return ctx.Respond(e, true)
			case actorcore.Terminated:
				terminated <- data.Addr
			}
			return nil
		}), nil
	}

	topo := startTopology(t, actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name: "root",
			Actors: []actorcore.ActorSpec{
				{Role: "watcher", Factory: watcher},
				{Role: "target", Factory: echo()},
			},
		},
	})
	defer shutdown(t, topo)

	target := lookup(t, topo.Root(), "target")

	_, err := topo.Request(context.Background(), lookup(t, topo.Root(), "watcher"), target, time.Second)
	require.NoError(t, err)

	t.Logf("When the watched actor stops")
	require.NoError(t, topo.Root().StopChild(context.Background(), "target"))

	select {
	case addr := <-terminated:
		require.Equal(t, target, addr)
	case <-time.After(2 * time.Second):
		require.Fail(t, "Should have delivered termination notice")
	}

	_, ok := topo.Root().Lookup("target")
	require.False(t, ok)

	t.Logf("When the stopped role is respawned")
	next, err := topo.Root().Respawn(context.Background(), "target")
	require.NoError(t, err)
	require.NotEqual(t, target, next)
}

func TestContextSpawnFromPreStart(t *testing.T) {
	topo := startTopology(t, actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name: "root",
			Actors: []actorcore.ActorSpec{{
				Role: "parent",
				Factory: func() (actorcore.Behaviour, error) {
					return &spawner{}, nil
				},
			}},
		},
	})
	defer shutdown(t, topo)

	helper := lookup(t, topo.Root(), "helper")

	res, err := topo.Request(context.Background(), helper, "hi", time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong:hi", res.Data)

	_, err = topo.Root().Spawn(context.Background(), actorcore.ActorSpec{Role: "helper", Factory: echo()})
	require.True(t, errors.IsAny(err, actorcore.ErrRoleExists))
}

type spawner struct {
	actorcore.DiscardBehaviour
}

func (s *spawner) PreStart(ctx *actorcore.Context) error {
	_, err := ctx.Spawn(actorcore.ActorSpec{Role: "helper", Factory: echo()})
	return err
}

//**************************************************************************
// shutdown
//**************************************************************************

type draining struct {
	processed *int64
	stopped   chan struct{}
	ml        *sync.Mutex
}

func (d draining) Receive(_ *actorcore.Context, _ actorcore.Envelope) error {
	time.Sleep(5 * time.Millisecond)
	d.ml.Lock()
	*d.processed++
	d.ml.Unlock()
	return nil
}

func (d draining) PostStop(_ *actorcore.Context) {
	close(d.stopped)
}

func TestTopologyGracefulShutdown(t *testing.T) {
	var ml sync.Mutex
	var processed int64
	stopped := make(chan struct{})

	topo := startTopology(t, actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name: "root",
			Actors: []actorcore.ActorSpec{{
				Role: "drainer",
				Factory: func() (actorcore.Behaviour, error) {
					return draining{processed: &processed, stopped: stopped, ml: &ml}, nil
				},
			}},
		},
	})

	addr := lookup(t, topo.Root(), "drainer")
	for i := 0; i < 10; i++ {
		require.NoError(t, topo.Send(context.Background(), addr, i))
	}

	shutdown(t, topo)

	select {
	case <-stopped:
	default:
		require.Fail(t, "Should have called PostStop")
	}

	ml.Lock()
	require.Equal(t, int64(10), processed)
	ml.Unlock()

	t.Logf("When sending after shutdown")
	require.True(t, errors.IsAny(topo.Send(context.Background(), addr, "late"), actorcore.ErrTopologyStopped))
	_, err := topo.Request(context.Background(), addr, "late", time.Second)
	require.True(t, errors.IsAny(err, actorcore.ErrTopologyStopped))
	require.True(t, errors.IsAny(topo.Start(context.Background()), actorcore.ErrTopologyStopped))
	require.Equal(t, 0, topo.Book().Len())

	require.NoError(t, topo.Shutdown(context.Background()))
}

func TestNewTopologyValidation(t *testing.T) {
	_, err := actorcore.NewTopology(actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name: "root",
			Actors: []actorcore.ActorSpec{
				{Role: "a", Factory: echo()},
				{Role: "a", Factory: echo()},
			},
		},
	})
	require.True(t, errors.IsAny(err, actorcore.ErrRoleExists))

	_, err = actorcore.NewTopology(actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name:   "root",
			Actors: []actorcore.ActorSpec{{Role: "no-factory"}},
		},
	})
	require.Error(t, err)
}

func BenchmarkTopology_Request(b *testing.B) {
	topo, err := actorcore.NewTopology(actorcore.TopologyConfig{
		Root: actorcore.SupervisorConfig{
			Name:   "root",
			Actors: []actorcore.ActorSpec{{Role: "echo", Factory: echo()}},
		},
	})
	require.NoError(b, err)
	require.NoError(b, topo.Start(context.Background()))
	defer topo.Shutdown(context.Background())

	addr, _ := topo.Root().Lookup("echo")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := topo.Request(ctx, addr, "ping", time.Second); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
}
