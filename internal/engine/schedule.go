package engine

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/annel0/starfleet/internal/galaxy"
	"github.com/annel0/starfleet/internal/geom"
	"github.com/annel0/starfleet/internal/logging"
)

// System функция тика; вызывается под мьютексом галактики
type System func(ctx context.Context, g *galaxy.Galaxy, tick uint64) error

// NamedSystem система с именем для логов и метрик
type NamedSystem struct {
	Name string
	Run  System
}

// Schedule упорядоченный список систем тика
type Schedule struct {
	systems []NamedSystem
}

func NewSchedule() *Schedule {
	return &Schedule{}
}

// Add добавляет систему в конец расписания
func (s *Schedule) Add(name string, fn System) *Schedule {
	s.systems = append(s.systems, NamedSystem{Name: name, Run: fn})
	return s
}

// Len число систем
func (s *Schedule) Len() int {
	return len(s.systems)
}

// Names имена систем в порядке выполнения
func (s *Schedule) Names() []string {
	out := make([]string, 0, len(s.systems))
	for _, sys := range s.systems {
		out = append(out, sys.Name)
	}
	return out
}

// StatsReporter пишет сводку галактики раз в every тиков
func StatsReporter(every uint64) System {
	return func(_ context.Context, g *galaxy.Galaxy, tick uint64) error {
		if every == 0 || tick%every != 0 {
			return nil
		}
		s := g.Stats()
		logging.Info("📊 Тик %d: %d систем, %d сущностей, %s", tick, s.Systems, s.Entities, s.Stars)
		return nil
	}
}

// Spawner раз в every тиков добавляет сущность в случайную систему.
// Ошибки вставки (например, переполнение листа) возвращаются как ошибка системы.
func Spawner(every uint64, seed int64) System {
	rng := rand.New(rand.NewSource(seed))
	return func(_ context.Context, g *galaxy.Galaxy, tick uint64) error {
		if every == 0 || tick%every != 0 || g.Len() == 0 {
			return nil
		}
		systems := g.Systems()
		sys := systems[rng.Intn(len(systems))]
		b := sys.Entities.Bounds()
		p := geom.Pt(b.Low.X+rng.Float64()*b.Len(), b.Low.Y+rng.Float64()*b.Height())
		if _, err := g.Spawn(sys.Name, p); err != nil {
			return fmt.Errorf("spawn in %s: %w", sys.Name, err)
		}
		return nil
	}
}
