package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
}

func TestInMemoryEventBus_DeliversByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var added, removed, all int
	require.NoError(t, bus.Subscribe(shared.EventMembershipAdded, func(shared.Event) error { added++; return nil }))
	require.NoError(t, bus.Subscribe(shared.EventMembershipRemoved, func(shared.Event) error { removed++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(shared.NewMembershipAddedEvent(1, 2, 1)))
	require.NoError(t, bus.Publish(shared.NewMembershipAddedEvent(1, 3, 2)))
	require.NoError(t, bus.Publish(shared.NewMembershipRemovedEvent(1, 2, 3)))

	assert.Equal(t, 2, added)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 3, all)
}

func TestDefaultInMemoryEventBusConfig(t *testing.T) {
	cfg := DefaultInMemoryEventBusConfig()
	assert.True(t, cfg.AsyncMode)
	assert.Equal(t, 10, cfg.WorkerPoolSize)

	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true})
	defer bus.Close()
	assert.Equal(t, 10, cap(bus.slots), "zero worker count falls back to the default")
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var reached bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("nope") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { reached = true; return nil }))

	err := bus.Publish(shared.NewMembershipAddedEvent(1, 2, 1))
	require.NoError(t, err)
	assert.True(t, reached)
}

func TestInMemoryEventBus_AsyncRespectsWorkerLimit(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var running, peak atomic.Int64
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	}))

	for i := range 8 {
		require.NoError(t, bus.Publish(shared.NewMembershipAddedEvent(1, int64(i), int64(i+1))))
	}
	require.NoError(t, bus.Close())

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled atomic.Int64
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := range 10 {
		require.NoError(t, bus.Publish(shared.NewMembershipAddedEvent(1, int64(i), int64(i+1))))
	}

	require.NoError(t, bus.Close())
	assert.Equal(t, int64(10), handled.Load())
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "close is idempotent")

	assert.ErrorIs(t, bus.Publish(shared.NewMembershipAddedEvent(1, 2, 1)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventMembershipAdded, nil))
}

func TestRedisEventBus_FanOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	newBus := func(instance string) *RedisEventBus {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		bus, err := NewRedisEventBus(RedisEventBusConfig{
			Client:         NewGoRedisPubSub(rdb),
			ChannelName:    "test:events",
			InstanceID:     instance,
			LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = bus.Close() })
		return bus
	}

	a := newBus("a")
	b := newBus("b")

	var (
		mu       sync.Mutex
		received []shared.Event
	)
	require.NoError(t, b.Subscribe(shared.EventMembershipAdded, func(e shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
		return nil
	}))

	require.NoError(t, a.Publish(shared.NewMembershipAddedEvent(4, 9, 2)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	got := received[0]
	assert.Equal(t, shared.EventMembershipAdded, got.EventType())
	assert.Equal(t, "4", got.AggregateID())
	assert.EqualValues(t, 9, got.Payload()["user_id"])
}

type nopRedis struct {
	published atomic.Int64
}

func (n *nopRedis) Publish(_ context.Context, _ string, _ interface{}) error {
	n.published.Add(1)
	return nil
}

// stalledRedis never answers a publish until the caller gives up.
type stalledRedis struct {
	nopRedis
}

func (s *stalledRedis) Publish(ctx context.Context, _ string, _ interface{}) error {
	s.published.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (n *nopRedis) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	return make(chan RedisMessage), nil
}

func TestRedisEventBus_SkipsOwnMessages(t *testing.T) {
	client := &nopRedis{}
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     "self",
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	defer bus.Close()

	var count int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { count++; return nil }))

	require.NoError(t, bus.Publish(shared.NewMembershipRemovedEvent(1, 2, 3)))
	assert.Equal(t, 1, count, "delivered locally on publish")
	assert.Equal(t, int64(1), client.published.Load())

	own, err := json.Marshal(wireEvent{Origin: "self", Type: shared.EventMembershipRemoved, Aggregate: "1"})
	require.NoError(t, err)
	bus.receive(string(own))
	assert.Equal(t, 1, count, "own message ignored")

	other, err := json.Marshal(wireEvent{Origin: "other", Type: shared.EventMembershipRemoved, Aggregate: "1"})
	require.NoError(t, err)
	bus.receive(string(other))
	assert.Equal(t, 2, count)

	bus.receive("{garbage")
	assert.Equal(t, 2, count)
}

func TestRedisEventBus_SlowRedisDoesNotStallPublish(t *testing.T) {
	client := &stalledRedis{}
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		PublishTimeout: 20 * time.Millisecond,
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	defer bus.Close()

	var delivered bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { delivered = true; return nil }))

	start := time.Now()
	err = bus.Publish(shared.NewMembershipAddedEvent(1, 2, 1))

	require.NoError(t, err, "forwarding failure is not fatal")
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, delivered)
	assert.Equal(t, int64(1), client.published.Load())
}

func TestRedisEventBus_ClosedRejectsPublish(t *testing.T) {
	client := &nopRedis{}
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: client})
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewMembershipAddedEvent(1, 2, 1)), ErrEventBusClosed)
	assert.Zero(t, client.published.Load())
}
