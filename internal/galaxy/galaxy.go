// Package galaxy хранит состояние игры: звёздные системы в квадродереве
// галактики и сущности в квадродеревьях систем.
//
// Galaxy не захватывает мьютекс сам: владелец берёт Lock (или WithLock)
// на весь тик или запрос и вызывает методы под ним.
package galaxy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/starfleet/internal/config"
	"github.com/annel0/starfleet/internal/geom"
	"github.com/annel0/starfleet/internal/metrics"
	"github.com/annel0/starfleet/internal/quadtree"
	"github.com/google/uuid"
)

var (
	ErrDuplicateSystem = errors.New("galaxy: system already exists")
	ErrUnknownSystem   = errors.New("galaxy: unknown system")
	ErrEmptyName       = errors.New("galaxy: empty system name")
)

// Имена индексов в метриках
const (
	IndexStars    = "stars"
	IndexEntities = "entities"
)

// EntityID идентификатор сущности (uuid v4 в строковой форме)
type EntityID string

// NewEntityID выдаёт новый случайный идентификатор
func NewEntityID() EntityID {
	return EntityID(uuid.NewString())
}

// Entity сущность внутри системы
type Entity struct {
	ID       EntityID   `json:"id"`
	Position geom.Point `json:"position"`
}

// StarSystem звёздная система: позиция в галактике и индекс сущностей
// в собственных локальных координатах.
type StarSystem struct {
	Name     string
	Position geom.Point
	Entities *quadtree.QuadTree[EntityID]
}

// Config параметры галактики
type Config struct {
	Bounds       geom.Rect
	SystemBounds geom.Rect
	MaxDepth     int
	BucketSize   int
}

// ConfigFrom переводит секцию galaxy файла конфигурации
func ConfigFrom(c config.GalaxyConfig) Config {
	return Config{
		Bounds:       c.Bounds,
		SystemBounds: c.SystemBounds,
		MaxDepth:     c.MaxDepth,
		BucketSize:   c.BucketSize,
	}
}

func (c Config) treeOptions() []quadtree.Option {
	var opts []quadtree.Option
	if c.MaxDepth > 0 {
		opts = append(opts, quadtree.WithMaxDepth(c.MaxDepth))
	}
	if c.BucketSize > 0 {
		opts = append(opts, quadtree.WithBucketSize(c.BucketSize))
	}
	return opts
}

// Option настраивает Galaxy
type Option func(*Galaxy)

// WithMetrics подключает метрики индексов
func WithMetrics(m *metrics.IndexMetrics) Option {
	return func(g *Galaxy) { g.metrics = m }
}

// Galaxy контейнер систем. Значение в дереве stars - позиция системы в order.
type Galaxy struct {
	mu      sync.Mutex
	cfg     Config
	stars   *quadtree.QuadTree[int]
	order   []*StarSystem
	byName  map[string]int
	metrics *metrics.IndexMetrics
}

// New создаёт пустую галактику
func New(cfg Config, opts ...Option) (*Galaxy, error) {
	if !cfg.SystemBounds.Valid() {
		return nil, fmt.Errorf("galaxy: %w: system bounds %s", quadtree.ErrInvalidBounds, cfg.SystemBounds)
	}
	stars, err := quadtree.New[int](cfg.Bounds, cfg.treeOptions()...)
	if err != nil {
		return nil, fmt.Errorf("galaxy: %w", err)
	}

	g := &Galaxy{
		cfg:    cfg,
		stars:  stars,
		byName: make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Galaxy) Lock()   { g.mu.Lock() }
func (g *Galaxy) Unlock() { g.mu.Unlock() }

// WithLock выполняет fn под мьютексом галактики
func (g *Galaxy) WithLock(fn func(*Galaxy) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g)
}

// Config параметры, с которыми создана галактика
func (g *Galaxy) Config() Config {
	return g.cfg
}

// Len число систем
func (g *Galaxy) Len() int {
	return len(g.order)
}

// AddSystem добавляет систему в позицию pos.
// Позиция вне границ галактики возвращает ошибку quadtree.ErrOutOfBounds.
func (g *Galaxy) AddSystem(name string, pos geom.Point) (*StarSystem, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if _, exists := g.byName[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSystem, name)
	}

	entities, err := quadtree.New[EntityID](g.cfg.SystemBounds, g.cfg.treeOptions()...)
	if err != nil {
		return nil, fmt.Errorf("galaxy: system %s: %w", name, err)
	}

	idx := len(g.order)
	if _, err := g.stars.Insert(pos, idx); err != nil {
		g.metrics.Rejected(IndexStars, reason(err))
		return nil, fmt.Errorf("galaxy: system %s at %s: %w", name, pos, err)
	}
	g.metrics.Inserted(IndexStars, g.stars.Len())

	sys := &StarSystem{Name: name, Position: pos, Entities: entities}
	g.order = append(g.order, sys)
	g.byName[name] = idx
	return sys, nil
}

// System ищет систему по имени
func (g *Galaxy) System(name string) (*StarSystem, bool) {
	idx, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.order[idx], true
}

// Systems возвращает системы в порядке добавления
func (g *Galaxy) Systems() []*StarSystem {
	return append([]*StarSystem(nil), g.order...)
}

// SystemsNear возвращает системы на расстоянии не больше r от p, отсортированные по имени
func (g *Galaxy) SystemsNear(p geom.Point, r float64) []*StarSystem {
	found := g.stars.NeighborValues(p, r)
	g.metrics.Queried(IndexStars, len(found))

	out := make([]*StarSystem, 0, len(found))
	for _, it := range found {
		out = append(out, g.order[it.Value])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Spawn создаёт сущность с новым идентификатором в системе
func (g *Galaxy) Spawn(system string, pos geom.Point) (EntityID, error) {
	id := NewEntityID()
	if err := g.SpawnWithID(system, id, pos); err != nil {
		return "", err
	}
	return id, nil
}

// SpawnWithID размещает сущность с заданным идентификатором
func (g *Galaxy) SpawnWithID(system string, id EntityID, pos geom.Point) error {
	sys, ok := g.System(system)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSystem, system)
	}
	if _, err := sys.Entities.Insert(pos, id); err != nil {
		g.metrics.Rejected(IndexEntities, reason(err))
		return fmt.Errorf("galaxy: spawn %s in %s: %w", id, system, err)
	}
	g.metrics.Inserted(IndexEntities, sys.Entities.Len())
	return nil
}

// EntitiesNear возвращает сущности системы на расстоянии не больше r от p.
// Результат отсортирован по позиции, затем по идентификатору.
func (g *Galaxy) EntitiesNear(system string, p geom.Point, r float64) ([]Entity, error) {
	sys, ok := g.System(system)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSystem, system)
	}

	found := sys.Entities.NeighborValues(p, r)
	g.metrics.Queried(IndexEntities, len(found))

	out := make([]Entity, 0, len(found))
	for _, it := range found {
		out = append(out, Entity{ID: it.Value, Position: it.Point})
	}
	sortEntities(out)
	return out, nil
}

// Entities возвращает все сущности системы
func (g *Galaxy) Entities(system string) ([]Entity, error) {
	sys, ok := g.System(system)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSystem, system)
	}

	out := make([]Entity, 0, sys.Entities.Len())
	var err error
	sys.Entities.Walk(func(e quadtree.Entry) bool {
		var id EntityID
		id, err = sys.Entities.Get(e.Handle)
		if err != nil {
			return false
		}
		out = append(out, Entity{ID: id, Position: e.Point})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("galaxy: %s: %w", system, err)
	}
	sortEntities(out)
	return out, nil
}

func sortEntities(es []Entity) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Position != es[j].Position {
			return es[i].Position.Less(es[j].Position)
		}
		return es[i].ID < es[j].ID
	})
}

// Stats сводка по галактике
type Stats struct {
	Systems  int            `json:"systems"`
	Entities int            `json:"entities"`
	Stars    quadtree.Stats `json:"stars"`
}

// Stats собирает сводку
func (g *Galaxy) Stats() Stats {
	s := Stats{Systems: len(g.order), Stars: g.stars.Stats()}
	for _, sys := range g.order {
		s.Entities += sys.Entities.Len()
	}
	return s
}

// Validate проверяет все деревья галактики
func (g *Galaxy) Validate() error {
	if err := g.stars.Validate(); err != nil {
		return fmt.Errorf("galaxy: stars: %w", err)
	}
	for _, sys := range g.order {
		if err := sys.Entities.Validate(); err != nil {
			return fmt.Errorf("galaxy: system %s: %w", sys.Name, err)
		}
	}
	return nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, quadtree.ErrOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, quadtree.ErrCapacity):
		return "capacity"
	case errors.Is(err, quadtree.ErrInvariant):
		return "internal"
	default:
		return "other"
	}
}
