package geom

import (
	"math"
	"strconv"
)

// Point представляет позицию в звёздной системе или в галактике
type Point struct {
	X float64 `json:"x" yaml:"x" bson:"x"`
	Y float64 `json:"y" yaml:"y" bson:"y"`
}

// Pt короткий конструктор точки
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add складывает две точки покомпонентно
func (p Point) Add(other Point) Point {
	return Point{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub вычитает точку покомпонентно
func (p Point) Sub(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

// Mul умножает покомпонентно
func (p Point) Mul(other Point) Point {
	return Point{X: p.X * other.X, Y: p.Y * other.Y}
}

// Div делит покомпонентно
func (p Point) Div(other Point) Point {
	return Point{X: p.X / other.X, Y: p.Y / other.Y}
}

// Scale умножает точку на скаляр
func (p Point) Scale(k float64) Point {
	return Point{X: p.X * k, Y: p.Y * k}
}

// DistanceTo вычисляет евклидово расстояние до другой точки
func (p Point) DistanceTo(other Point) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Less задаёт лексикографический порядок (X, затем Y).
// Нужен только для стабильной сортировки результатов запросов.
func (p Point) Less(other Point) bool {
	if p.X != other.X {
		return p.X < other.X
	}
	return p.Y < other.Y
}

func (p Point) String() string {
	return "(" + strconv.FormatFloat(p.X, 'g', -1, 64) + ", " + strconv.FormatFloat(p.Y, 'g', -1, 64) + ")"
}
