// Package engine крутит цикл событий галактики: тики с расписанием систем,
// сохранение и загрузку снимков.
//
// Все события обрабатываются одной горутиной Run. Тик держит мьютекс
// галактики на всё время выполнения расписания.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/starfleet/internal/codec"
	"github.com/annel0/starfleet/internal/eventbus"
	"github.com/annel0/starfleet/internal/galaxy"
	"github.com/annel0/starfleet/internal/logging"
	"github.com/annel0/starfleet/internal/metrics"
	"github.com/annel0/starfleet/internal/quadtree"
	"github.com/annel0/starfleet/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTickInterval = 60 * time.Millisecond
	DefaultSnapshotKey  = "galaxy"

	eventSource = "engine"
)

var (
	ErrNoStore = errors.New("engine: no snapshot store configured")
	ErrStopped = errors.New("engine: stopped")
)

// EventKind тип события цикла
type EventKind int

const (
	Tick EventKind = iota
	Save
	Stop
)

func (k EventKind) String() string {
	switch k {
	case Tick:
		return "Tick"
	case Save:
		return "Save"
	case Stop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// Event событие цикла. Reply, если задан, получает результат Save.
type Event struct {
	Kind  EventKind
	Reply chan<- error
}

// Engine владеет галактикой и расписанием систем
type Engine struct {
	mu       sync.RWMutex
	galaxy   *galaxy.Galaxy
	schedule *Schedule
	events   chan Event
	tick     atomic.Uint64
	running  atomic.Bool

	interval    time.Duration
	autosave    uint64
	snapshotKey string
	codec       codec.Codec
	compressor  codec.Compressor
	store       storage.SnapshotStore
	bus         eventbus.EventBus
	metrics     *metrics.EngineMetrics
	index       *metrics.IndexMetrics
	tracer      trace.Tracer
}

// Option настраивает Engine
type Option func(*Engine)

// WithTickInterval период тика (по умолчанию 60 мс)
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithAutosave сохранять снимок каждые n тиков (0 - никогда)
func WithAutosave(n uint64) Option {
	return func(e *Engine) { e.autosave = n }
}

// WithStore хранилище снимков и ключ
func WithStore(store storage.SnapshotStore, key string) Option {
	return func(e *Engine) {
		e.store = store
		if key != "" {
			e.snapshotKey = key
		}
	}
}

// WithCodec формат и сжатие снимков (по умолчанию json + none)
func WithCodec(c codec.Codec, comp codec.Compressor) Option {
	return func(e *Engine) {
		if c != nil {
			e.codec = c
		}
		if comp != nil {
			e.compressor = comp
		}
	}
}

// WithEventBus шина для уведомлений о снимках и перегрузках
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithMetrics метрики движка и индексов (индексные передаются восстановленной галактике)
func WithMetrics(m *metrics.EngineMetrics, index *metrics.IndexMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
		e.index = index
	}
}

// New создаёт движок. schedule может быть nil.
func New(g *galaxy.Galaxy, schedule *Schedule, opts ...Option) *Engine {
	if schedule == nil {
		schedule = NewSchedule()
	}
	jsonCodec, _ := codec.ByName("json")
	none, _ := codec.CompressorByName("none")

	e := &Engine{
		galaxy:      g,
		schedule:    schedule,
		events:      make(chan Event, 64),
		interval:    DefaultTickInterval,
		snapshotKey: DefaultSnapshotKey,
		codec:       jsonCodec,
		compressor:  none,
		tracer:      otel.Tracer("github.com/annel0/starfleet/internal/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Galaxy текущая галактика (после Load - восстановленная)
func (e *Engine) Galaxy() *galaxy.Galaxy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.galaxy
}

// TickCount число выполненных тиков
func (e *Engine) TickCount() uint64 {
	return e.tick.Load()
}

// Running сообщает, крутится ли Run
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Send ставит событие в очередь цикла
func (e *Engine) Send(ctx context.Context, ev Event) error {
	select {
	case e.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run обрабатывает события до Stop или отмены ctx.
// Отдельная горутина раз в период ставит в очередь Tick; если очередь полна, тик пропускается.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine: already running")
	}
	defer e.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go e.ticker(ctx)
	logging.Info("🚀 Движок запущен: тик %v, систем в расписании %d", e.interval, e.schedule.Len())

	for {
		select {
		case <-ctx.Done():
			logging.Info("🛑 Движок остановлен: %v", ctx.Err())
			return ctx.Err()

		case ev := <-e.events:
			switch ev.Kind {
			case Tick:
				e.Step(ctx)
				if e.autosave > 0 && e.store != nil && e.TickCount()%e.autosave == 0 {
					if _, err := e.Save(ctx); err != nil {
						logging.Error("💾 Автосохранение не удалось: %v", err)
					}
				}
			case Save:
				_, err := e.Save(ctx)
				if ev.Reply != nil {
					ev.Reply <- err
				}
			case Stop:
				logging.Info("🛑 Движок остановлен событием Stop на тике %d", e.TickCount())
				if ev.Reply != nil {
					ev.Reply <- nil
				}
				return nil
			}
		}
	}
}

func (e *Engine) ticker(ctx context.Context) {
	t := time.NewTicker(e.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			select {
			case e.events <- Event{Kind: Tick}:
			default:
				logging.Debug("⏭️ Очередь событий полна, тик пропущен")
			}
		}
	}
}

// Step выполняет один тик: всё расписание под мьютексом галактики.
// Ошибки систем логируются и не прерывают тик.
func (e *Engine) Step(ctx context.Context) {
	tick := e.tick.Add(1)
	ctx, span := e.tracer.Start(ctx, "engine.tick", trace.WithAttributes(attribute.Int64("tick", int64(tick))))
	defer span.End()

	start := time.Now()
	g := e.Galaxy()

	g.Lock()
	for _, sys := range e.schedule.systems {
		if err := sys.Run(ctx, g, tick); err != nil {
			e.metrics.SystemFailed(sys.Name)
			span.RecordError(err, trace.WithAttributes(attribute.String("system", sys.Name)))
			if quadtree.IsInternal(err) {
				logging.Error("❌ Система %s, тик %d: нарушен инвариант индекса: %v", sys.Name, tick, err)
			} else {
				logging.Warn("⚠️ Система %s, тик %d: %v", sys.Name, tick, err)
			}
		}
	}
	g.Unlock()

	elapsed := time.Since(start)
	e.metrics.Tick(elapsed, e.interval)
	if elapsed > e.interval {
		span.SetAttributes(attribute.Bool("overrun", true))
		_ = eventbus.Emit(ctx, e.bus, eventSource, eventbus.EventTickOverrun, 3, eventbus.TickOverrunEvent{
			Tick:     tick,
			Duration: elapsed,
			Budget:   e.interval,
		})
	}
}

// Save сериализует галактику и пишет её в хранилище
func (e *Engine) Save(ctx context.Context) (eventbus.SnapshotEvent, error) {
	ctx, span := e.tracer.Start(ctx, "engine.save")
	defer span.End()

	info, err := e.save(ctx)
	e.metrics.Snapshot("save", info.Bytes, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return info, err
	}

	_ = eventbus.Emit(ctx, e.bus, eventSource, eventbus.EventSnapshotSaved, 5, info)
	logging.Debug("💾 Снимок %s сохранён: %d байт", info.Key, info.Bytes)
	return info, nil
}

func (e *Engine) save(ctx context.Context) (eventbus.SnapshotEvent, error) {
	info := e.describe()
	if e.store == nil {
		return info, ErrNoStore
	}

	g := e.Galaxy()
	g.Lock()
	snap := g.Snapshot()
	stats := g.Stats()
	g.Unlock()

	data, err := codec.Encode(snap, e.codec, e.compressor)
	if err != nil {
		return info, fmt.Errorf("engine: encode snapshot: %w", err)
	}
	if err := e.store.Save(ctx, e.snapshotKey, data); err != nil {
		return info, fmt.Errorf("engine: store snapshot: %w", err)
	}

	info.Bytes = len(data)
	info.Systems = stats.Systems
	info.Entities = stats.Entities
	return info, nil
}

// Load читает снимок из хранилища и заменяет галактику восстановленной.
// При ошибке текущая галактика остаётся на месте.
func (e *Engine) Load(ctx context.Context) (eventbus.SnapshotEvent, error) {
	ctx, span := e.tracer.Start(ctx, "engine.load")
	defer span.End()

	info, err := e.load(ctx)
	e.metrics.Snapshot("load", info.Bytes, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return info, err
	}

	_ = eventbus.Emit(ctx, e.bus, eventSource, eventbus.EventSnapshotLoaded, 5, info)
	logging.Info("📂 Снимок %s загружен: %d систем, %d сущностей", info.Key, info.Systems, info.Entities)
	return info, nil
}

func (e *Engine) load(ctx context.Context) (eventbus.SnapshotEvent, error) {
	info := e.describe()
	if e.store == nil {
		return info, ErrNoStore
	}

	data, err := e.store.Load(ctx, e.snapshotKey)
	if err != nil {
		return info, fmt.Errorf("engine: load snapshot %s: %w", e.snapshotKey, err)
	}
	info.Bytes = len(data)

	var snap galaxy.Snapshot
	if err := codec.Decode(data, &snap); err != nil {
		return info, fmt.Errorf("engine: decode snapshot: %w", err)
	}

	var opts []galaxy.Option
	if e.index != nil {
		opts = append(opts, galaxy.WithMetrics(e.index))
	}
	g, err := galaxy.Restore(&snap, opts...)
	if err != nil {
		return info, fmt.Errorf("engine: restore snapshot: %w", err)
	}

	stats := g.Stats()
	info.Systems = stats.Systems
	info.Entities = stats.Entities

	e.mu.Lock()
	e.galaxy = g
	e.mu.Unlock()
	return info, nil
}

func (e *Engine) describe() eventbus.SnapshotEvent {
	return eventbus.SnapshotEvent{
		Key:         e.snapshotKey,
		Codec:       e.codec.Name(),
		Compression: e.compressor.Name(),
		Tick:        e.TickCount(),
	}
}

// Stop просит цикл завершиться и ждёт подтверждения
func (e *Engine) Stop(ctx context.Context) error {
	if !e.Running() {
		return ErrStopped
	}
	reply := make(chan error, 1)
	if err := e.Send(ctx, Event{Kind: Stop, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
