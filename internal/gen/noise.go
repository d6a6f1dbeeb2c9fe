package gen

import (
	"github.com/aquilax/go-perlin"
)

const (
	noiseAlpha   = 2.0 // сглаживание шума
	noiseBeta    = 2.0 // частота шума
	noiseOctaves = 3
)

// Noise поле плотности на основе шума Перлина; одинаковый сид даёт одинаковое поле
type Noise struct {
	p     *perlin.Perlin
	scale float64
}

// NewNoise создаёт поле. scale - расстояние, на котором шум меняется заметно.
func NewNoise(seed int64, scale float64) *Noise {
	if scale <= 0 {
		scale = 1
	}
	return &Noise{
		p:     perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, seed),
		scale: scale,
	}
}

// Density значение поля в точке (x, y), приведённое к диапазону от 0 до 1
func (n *Noise) Density(x, y float64) float64 {
	v := (n.p.Noise2D(x/n.scale, y/n.scale) + 1.0) / 2.0
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
