package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/annel0/starfleet/internal/codec"
	"github.com/annel0/starfleet/internal/eventbus"
	"github.com/annel0/starfleet/internal/galaxy"
	"github.com/annel0/starfleet/internal/geom"
	"github.com/annel0/starfleet/internal/metrics"
	"github.com/annel0/starfleet/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGalaxy(t *testing.T) *galaxy.Galaxy {
	t.Helper()
	g, err := galaxy.New(galaxy.Config{
		Bounds:       geom.R(0, 0, 1000, 1000),
		SystemBounds: geom.R(0, 0, 100, 100),
		MaxDepth:     16,
		BucketSize:   4,
	})
	require.NoError(t, err)
	_, err = g.AddSystem("Sol", geom.Pt(10, 10))
	require.NoError(t, err)
	_, err = g.AddSystem("Vega", geom.Pt(500, 500))
	require.NoError(t, err)
	_, err = g.Spawn("Sol", geom.Pt(1, 2))
	require.NoError(t, err)
	return g
}

func TestStep_RunsScheduleInOrder(t *testing.T) {
	g := newGalaxy(t)
	reg := prometheus.NewRegistry()
	em := metrics.NewEngineMetrics(reg)

	var order []string
	sched := NewSchedule().
		Add("first", func(_ context.Context, _ *galaxy.Galaxy, tick uint64) error {
			order = append(order, "first")
			return nil
		}).
		Add("broken", func(context.Context, *galaxy.Galaxy, uint64) error {
			return errors.New("boom")
		}).
		Add("last", func(_ context.Context, _ *galaxy.Galaxy, tick uint64) error {
			order = append(order, "last")
			return nil
		})
	assert.Equal(t, []string{"first", "broken", "last"}, sched.Names())

	e := New(g, sched, WithMetrics(em, nil))
	e.Step(context.Background())
	e.Step(context.Background())

	assert.Equal(t, uint64(2), e.TickCount())
	assert.Equal(t, []string{"first", "last", "first", "last"}, order, "Ошибка системы не прерывает тик")
	expected := `
# HELP starfleet_engine_system_errors_total Ошибки систем по имени.
# TYPE starfleet_engine_system_errors_total counter
starfleet_engine_system_errors_total{system="broken"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "starfleet_engine_system_errors_total"))
}

func TestStep_SystemsSeeLockedGalaxy(t *testing.T) {
	g := newGalaxy(t)
	sched := NewSchedule().Add("spawn", Spawner(1, 42)).Add("stats", StatsReporter(1))
	e := New(g, sched)

	for i := 0; i < 10; i++ {
		e.Step(context.Background())
	}
	assert.Equal(t, 11, g.Stats().Entities)
	require.NoError(t, g.Validate())
}

func TestStep_OverrunEmitsEvent(t *testing.T) {
	g := newGalaxy(t)
	bus := eventbus.NewMemoryBus(8)
	var mu sync.Mutex
	var got []eventbus.TickOverrunEvent
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.EventTickOverrun}},
		func(_ context.Context, ev *eventbus.Envelope) {
			var p eventbus.TickOverrunEvent
			if ev.Decode(&p) == nil {
				mu.Lock()
				got = append(got, p)
				mu.Unlock()
			}
		})
	require.NoError(t, err)

	sched := NewSchedule().Add("slow", func(context.Context, *galaxy.Galaxy, uint64) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	e := New(g, sched, WithTickInterval(time.Millisecond), WithEventBus(bus))
	e.Step(context.Background())
	require.NoError(t, bus.Close())

	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Tick)
	assert.Equal(t, time.Millisecond, got[0].Budget)
	assert.Greater(t, got[0].Duration, got[0].Budget)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	c, err := codec.ByName("bson")
	require.NoError(t, err)
	comp, err := codec.CompressorByName("zstd")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	em := metrics.NewEngineMetrics(reg)

	g := newGalaxy(t)
	e := New(g, nil, WithStore(store, "test"), WithCodec(c, comp), WithMetrics(em, nil))

	info, err := e.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", info.Key)
	assert.Equal(t, 2, info.Systems)
	assert.Equal(t, 1, info.Entities)
	assert.Equal(t, "bson", info.Codec)
	assert.Equal(t, "zstd", info.Compression)
	assert.Positive(t, info.Bytes)

	// изменения после сохранения теряются при загрузке
	_, err = g.AddSystem("Rigel", geom.Pt(900, 900))
	require.NoError(t, err)

	info, err = e.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Systems)

	restored := e.Galaxy()
	assert.NotSame(t, g, restored)
	_, ok := restored.System("Rigel")
	assert.False(t, ok)
	sol, ok := restored.System("Sol")
	require.True(t, ok)
	assert.Equal(t, 1, sol.Entities.Len())

	expected := `
# HELP starfleet_engine_snapshots_total Сохранения и загрузки снимков по результату.
# TYPE starfleet_engine_snapshots_total counter
starfleet_engine_snapshots_total{op="load",result="ok"} 1
starfleet_engine_snapshots_total{op="save",result="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "starfleet_engine_snapshots_total"))
}

func TestSaveLoad_Errors(t *testing.T) {
	ctx := context.Background()
	g := newGalaxy(t)

	t.Run("без хранилища", func(t *testing.T) {
		e := New(g, nil)
		_, err := e.Save(ctx)
		assert.ErrorIs(t, err, ErrNoStore)
		_, err = e.Load(ctx)
		assert.ErrorIs(t, err, ErrNoStore)
	})

	t.Run("нет снимка", func(t *testing.T) {
		e := New(g, nil, WithStore(storage.NewMemoryStore(), ""))
		_, err := e.Load(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Same(t, g, e.Galaxy(), "Галактика не меняется при ошибке")
	})

	t.Run("мусор в хранилище", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.Save(ctx, DefaultSnapshotKey, []byte("garbage")))
		e := New(g, nil, WithStore(store, ""))
		_, err := e.Load(ctx)
		assert.ErrorIs(t, err, codec.ErrBadFrame)
		assert.Same(t, g, e.Galaxy())
	})
}

func TestRun_TicksAndStops(t *testing.T) {
	g := newGalaxy(t)
	store := storage.NewMemoryStore()
	e := New(g, NewSchedule().Add("stats", StatsReporter(1000)),
		WithTickInterval(2*time.Millisecond),
		WithStore(store, ""),
		WithAutosave(3),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.TickCount() >= 3 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		keys, err := store.List(ctx)
		return err == nil && len(keys) == 1
	}, 2*time.Second, time.Millisecond, "Автосохранение каждые 3 тика")

	reply := make(chan error, 1)
	require.NoError(t, e.Send(ctx, Event{Kind: Save, Reply: reply}))
	require.NoError(t, <-reply)

	require.NoError(t, e.Stop(ctx))
	require.NoError(t, <-done)
	assert.False(t, e.Running())
	assert.ErrorIs(t, e.Stop(ctx), ErrStopped)
}

func TestRun_ContextCancel(t *testing.T) {
	e := New(newGalaxy(t), nil, WithTickInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	require.Eventually(t, e.Running, time.Second, time.Millisecond)

	assert.Error(t, e.Run(context.Background()), "Повторный запуск запрещён")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "Tick", Tick.String())
	assert.Equal(t, "Save", Save.String())
	assert.Equal(t, "Stop", Stop.String())
	assert.Equal(t, "Unknown", EventKind(42).String())
}
