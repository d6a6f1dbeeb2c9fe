package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/annel0/starfleet/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMemoryBus_FilteredDelivery(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var all, saves collector
	_, err := bus.Subscribe(ctx, Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{Types: []string{EventSnapshotSaved}}, saves.handle)
	require.NoError(t, err)

	require.NoError(t, Emit(ctx, bus, "engine", EventSnapshotSaved, 5, SnapshotEvent{Key: "galaxy", Bytes: 42}))
	require.NoError(t, Emit(ctx, bus, "engine", EventTickOverrun, 5, TickOverrunEvent{Tick: 7}))

	require.NoError(t, bus.Close(), "Close дожидается доставки")
	assert.Equal(t, 2, all.len())
	require.Equal(t, 1, saves.len())

	var payload SnapshotEvent
	require.NoError(t, saves.events[0].Decode(&payload))
	assert.Equal(t, "galaxy", payload.Key)
	assert.Equal(t, 42, payload.Bytes)
	assert.NotEmpty(t, saves.events[0].ID)

	stats := bus.Metrics()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(3), stats.Consumed)
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(4)
	ctx := context.Background()

	var c collector
	sub, err := bus.Subscribe(ctx, Filter{Sources: []string{"engine"}}, c.handle)
	require.NoError(t, err)

	require.NoError(t, Emit(ctx, bus, "api", EventSystemAdded, 1, nil))
	require.NoError(t, Emit(ctx, bus, "engine", EventSystemAdded, 1, SystemAddedEvent{Name: "Sol"}))
	assert.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	require.NoError(t, Emit(ctx, bus, "engine", EventSystemAdded, 1, nil))
	require.NoError(t, bus.Close())
	assert.Equal(t, 1, c.len(), "После отписки события не доставляются")
}

func TestMemoryBus_OrderPerSubscriber(t *testing.T) {
	bus := NewMemoryBus(64)
	ctx := context.Background()

	var c collector
	_, err := bus.Subscribe(ctx, Filter{}, c.handle)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, Emit(ctx, bus, "engine", EventTickOverrun, 5, TickOverrunEvent{Tick: uint64(i)}))
	}
	require.NoError(t, bus.Close())

	require.Equal(t, 50, c.len())
	for i, ev := range c.events {
		var p TickOverrunEvent
		require.NoError(t, ev.Decode(&p))
		assert.Equal(t, uint64(i), p.Tick, "События приходят в порядке публикации")
	}
}

func TestMemoryBus_SlowSubscriberDrops(t *testing.T) {
	bus := NewMemoryBus(1)
	ctx := context.Background()

	release := make(chan struct{})
	var slow collector
	_, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		<-release
		slow.handle(ctx, ev)
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, Emit(ctx, bus, "engine", EventTickOverrun, 9, nil))
	}
	close(release)
	require.NoError(t, bus.Close())

	stats := bus.Metrics()
	assert.Equal(t, uint64(5), stats.Published)
	assert.Equal(t, stats.Consumed+stats.Dropped, uint64(5))
	assert.Positive(t, stats.Dropped, "Медленный подписчик теряет события, шина не блокируется")
	assert.Equal(t, int(stats.Consumed), slow.len())
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus(1)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := Emit(context.Background(), bus, "engine", EventTickOverrun, 9, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEmit_NilBus(t *testing.T) {
	assert.NoError(t, Emit(context.Background(), nil, "engine", EventTickOverrun, 0, nil))
}

func TestMetricsExporter(t *testing.T) {
	bus := NewMemoryBus(8)
	reg := prometheus.NewRegistry()
	exp := NewMetricsExporter(bus, reg)
	exp.interval = 10 * time.Millisecond
	exp.Start()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, Emit(ctx, bus, "engine", EventSnapshotSaved, 5, nil))
	}
	require.NoError(t, bus.Close())
	exp.Stop()

	assert.Equal(t, 3.0, testutil.ToFloat64(exp.published))
	assert.Equal(t, 0.0, testutil.ToFloat64(exp.dropped))
}

func TestOpen(t *testing.T) {
	bus, err := Open(config.EventBusConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, bus)

	bus, err = Open(config.EventBusConfig{Backend: "memory"})
	require.NoError(t, err)
	require.NotNil(t, bus)
	require.NoError(t, bus.Close())

	_, err = Open(config.EventBusConfig{Backend: "kafka"})
	assert.Error(t, err)
}

func TestStartLoggingListener(t *testing.T) {
	bus := NewMemoryBus(4)
	sub, err := StartLoggingListener(bus)
	require.NoError(t, err)
	require.NotNil(t, sub)

	require.NoError(t, Emit(context.Background(), bus, "engine", EventTickOverrun, 5, TickOverrunEvent{Tick: 1}))
	require.NoError(t, bus.Close())
	assert.Equal(t, uint64(1), bus.Metrics().Consumed)
}
