// Package gen процедурно заполняет галактику системами и сущностями.
//
// Кандидаты в позиции систем выбираются генератором случайных чисел с
// сидом и принимаются, если плотность шума Перлина в точке не ниже порога.
// Один и тот же сид на пустой галактике даёт одинаковый результат.
package gen

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/annel0/starfleet/internal/config"
	"github.com/annel0/starfleet/internal/galaxy"
	"github.com/annel0/starfleet/internal/geom"
	"github.com/annel0/starfleet/internal/logging"
)

// ErrExhausted генератор исчерпал попытки раньше, чем разместил все системы
var ErrExhausted = errors.New("gen: placement attempts exhausted")

const (
	DefaultThreshold      = 0.5
	DefaultAttemptsFactor = 50
)

// Generator параметры генерации
type Generator struct {
	Seed              int64
	Systems           int
	EntitiesPerSystem int
	NamePrefix        string
	// Threshold минимальная плотность шума для системы (0 - принимать всё)
	Threshold float64
	// Scale масштаб шума в единицах галактики; 0 - десятая часть ширины
	Scale float64
	// MaxAttempts предел кандидатов; 0 - Systems*DefaultAttemptsFactor
	MaxAttempts int
}

// FromConfig генератор по секции galaxy конфигурации
func FromConfig(c config.GalaxyConfig) *Generator {
	return &Generator{
		Seed:              c.Seed,
		Systems:           c.Systems,
		EntitiesPerSystem: c.EntitiesPerSystem,
		NamePrefix:        c.NamePrefix,
		Threshold:         DefaultThreshold,
	}
}

// Result итог генерации
type Result struct {
	Systems  int `json:"systems"`
	Entities int `json:"entities"`
	Attempts int `json:"attempts"`
	Rejected int `json:"rejected"`
}

func (r Result) String() string {
	return fmt.Sprintf("%d systems, %d entities (%d attempts, %d rejected)", r.Systems, r.Entities, r.Attempts, r.Rejected)
}

// SystemName имя i-й системы
func (gen *Generator) SystemName(i int) string {
	prefix := gen.NamePrefix
	if prefix == "" {
		prefix = "SYS"
	}
	return fmt.Sprintf("%s-%03d", prefix, i)
}

// Populate добавляет в галактику системы и сущности. Вызывается под Lock галактики.
// Если попытки кончились раньше, возвращает частичный Result и ErrExhausted.
func (gen *Generator) Populate(g *galaxy.Galaxy) (Result, error) {
	var res Result
	cfg := g.Config()

	scale := gen.Scale
	if scale <= 0 {
		scale = cfg.Bounds.Len() / 10
	}
	noise := NewNoise(gen.Seed, scale)
	rng := rand.New(rand.NewSource(gen.Seed))

	maxAttempts := gen.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = gen.Systems * DefaultAttemptsFactor
	}

	next := g.Len()
	for res.Systems < gen.Systems && res.Attempts < maxAttempts {
		res.Attempts++
		p := randomPoint(rng, cfg.Bounds)
		if noise.Density(p.X, p.Y) < gen.Threshold {
			continue
		}

		name := gen.SystemName(next)
		if _, err := g.AddSystem(name, p); err != nil {
			if errors.Is(err, galaxy.ErrDuplicateSystem) {
				next++
			}
			res.Rejected++
			logging.Debug("gen: система %s отклонена: %v", name, err)
			continue
		}
		next++
		res.Systems++

		for j := 0; j < gen.EntitiesPerSystem; j++ {
			if err := g.SpawnWithID(name, galaxy.EntityID(fmt.Sprintf("%s/%04d", name, j)), randomPoint(rng, cfg.SystemBounds)); err != nil {
				res.Rejected++
				logging.Debug("gen: сущность %d в %s отклонена: %v", j, name, err)
				continue
			}
			res.Entities++
		}
	}

	logging.Info("🌌 Сгенерировано: %s", res)
	if res.Systems < gen.Systems {
		return res, fmt.Errorf("%w: placed %d of %d systems", ErrExhausted, res.Systems, gen.Systems)
	}
	return res, nil
}

func randomPoint(rng *rand.Rand, r geom.Rect) geom.Point {
	return geom.Pt(r.Low.X+rng.Float64()*r.Len(), r.Low.Y+rng.Float64()*r.Height())
}
