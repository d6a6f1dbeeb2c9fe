package galaxy

import (
	"fmt"

	"github.com/annel0/starfleet/internal/geom"
	"github.com/annel0/starfleet/internal/quadtree"
)

// SystemRecord система в снимке
type SystemRecord struct {
	Name     string                       `json:"name" yaml:"name" bson:"name"`
	Position geom.Point                   `json:"position" yaml:"position" bson:"position"`
	Entities *quadtree.Snapshot[EntityID] `json:"entities" yaml:"entities" bson:"entities"`
}

// Snapshot полное состояние галактики. Systems в порядке добавления,
// значения в Stars - индексы в Systems.
type Snapshot struct {
	Bounds       geom.Rect               `json:"bounds" yaml:"bounds" bson:"bounds"`
	SystemBounds geom.Rect               `json:"system_bounds" yaml:"system_bounds" bson:"system_bounds"`
	MaxDepth     int                     `json:"max_depth" yaml:"max_depth" bson:"max_depth"`
	BucketSize   int                     `json:"bucket_size" yaml:"bucket_size" bson:"bucket_size"`
	Systems      []SystemRecord          `json:"systems" yaml:"systems" bson:"systems"`
	Stars        *quadtree.Snapshot[int] `json:"stars" yaml:"stars" bson:"stars"`
}

// Snapshot снимает состояние галактики. Вызывается под Lock.
func (g *Galaxy) Snapshot() *Snapshot {
	s := &Snapshot{
		Bounds:       g.cfg.Bounds,
		SystemBounds: g.cfg.SystemBounds,
		MaxDepth:     g.stars.MaxDepth(),
		BucketSize:   g.stars.BucketSize(),
		Systems:      make([]SystemRecord, 0, len(g.order)),
		Stars:        g.stars.Snapshot(),
	}
	for _, sys := range g.order {
		s.Systems = append(s.Systems, SystemRecord{
			Name:     sys.Name,
			Position: sys.Position,
			Entities: sys.Entities.Snapshot(),
		})
	}
	return s
}

// Restore собирает галактику из снимка и проверяет, что дерево звёзд
// ссылается на каждую систему ровно один раз и в её позиции, а деревья
// сущностей покрывают SystemBounds.
func Restore(s *Snapshot, opts ...Option) (*Galaxy, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil galaxy snapshot", quadtree.ErrCorruptSnapshot)
	}

	stars, err := quadtree.Restore(s.Stars)
	if err != nil {
		return nil, fmt.Errorf("galaxy: stars: %w", err)
	}
	if stars.Bounds() != s.Bounds {
		return nil, fmt.Errorf("%w: stars bounds %s, galaxy bounds %s", quadtree.ErrCorruptSnapshot, stars.Bounds(), s.Bounds)
	}

	g := &Galaxy{
		cfg: Config{
			Bounds:       s.Bounds,
			SystemBounds: s.SystemBounds,
			MaxDepth:     s.MaxDepth,
			BucketSize:   s.BucketSize,
		},
		stars:  stars,
		order:  make([]*StarSystem, 0, len(s.Systems)),
		byName: make(map[string]int, len(s.Systems)),
	}
	for _, opt := range opts {
		opt(g)
	}

	for i, rec := range s.Systems {
		if rec.Name == "" {
			return nil, fmt.Errorf("%w: system %d has no name", quadtree.ErrCorruptSnapshot, i)
		}
		if _, dup := g.byName[rec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate system %s", quadtree.ErrCorruptSnapshot, rec.Name)
		}
		entities, err := quadtree.Restore(rec.Entities)
		if err != nil {
			return nil, fmt.Errorf("galaxy: system %s: %w", rec.Name, err)
		}
		if entities.Bounds() != s.SystemBounds {
			return nil, fmt.Errorf("%w: system %s bounds %s, system bounds %s",
				quadtree.ErrCorruptSnapshot, rec.Name, entities.Bounds(), s.SystemBounds)
		}
		g.order = append(g.order, &StarSystem{Name: rec.Name, Position: rec.Position, Entities: entities})
		g.byName[rec.Name] = i
	}

	if stars.Len() != len(g.order) {
		return nil, fmt.Errorf("%w: %d stars for %d systems", quadtree.ErrCorruptSnapshot, stars.Len(), len(g.order))
	}

	seen := make([]bool, len(g.order))
	var walkErr error
	stars.Walk(func(e quadtree.Entry) bool {
		idx, err := stars.Get(e.Handle)
		switch {
		case err != nil:
			walkErr = err
		case idx < 0 || idx >= len(g.order) || seen[idx]:
			walkErr = fmt.Errorf("%w: star at %s references system %d", quadtree.ErrCorruptSnapshot, e.Point, idx)
		case g.order[idx].Position != e.Point:
			walkErr = fmt.Errorf("%w: system %s at %s indexed at %s",
				quadtree.ErrCorruptSnapshot, g.order[idx].Name, g.order[idx].Position, e.Point)
		default:
			seen[idx] = true
		}
		return walkErr == nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return g, nil
}
