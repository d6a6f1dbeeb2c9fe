package geom

import "math"

// Quadrant номер дочернего слота ветви дерева.
// Порядок слотов: NW, NE, SE, SW.
type Quadrant uint8

const (
	NW Quadrant = iota
	NE
	SE
	SW
)

// PlacementOrder фиксированный порядок проверки квадрантов при вставке.
// Точка на линии разреза попадает в первый подходящий квадрант из этого списка.
// Порядок влияет на сохранённые деревья и не должен меняться.
var PlacementOrder = [4]Quadrant{NW, SW, SE, NE}

func (q Quadrant) String() string {
	switch q {
	case NW:
		return "NW"
	case NE:
		return "NE"
	case SE:
		return "SE"
	case SW:
		return "SW"
	default:
		return "UNKNOWN"
	}
}

// Rect прямоугольник из нижнего левого и верхнего правого углов.
// Инвариант: Low.X <= High.X и Low.Y <= High.Y.
type Rect struct {
	Low  Point `json:"low" yaml:"low" bson:"low"`
	High Point `json:"high" yaml:"high" bson:"high"`
}

// NewRect создаёт прямоугольник без проверки инварианта.
// Для внешних данных используйте Valid.
func NewRect(low, high Point) Rect {
	return Rect{Low: low, High: high}
}

// R короткий конструктор прямоугольника по координатам
func R(x0, y0, x1, y1 float64) Rect {
	return NewRect(Pt(x0, y0), Pt(x1, y1))
}

// Square возвращает квадрат с центром center и полушириной half
func Square(center Point, half float64) Rect {
	d := Pt(half, half)
	return NewRect(center.Sub(d), center.Add(d))
}

// Valid проверяет инвариант углов и отсутствие NaN
func (r Rect) Valid() bool {
	for _, v := range [4]float64{r.Low.X, r.Low.Y, r.High.X, r.High.Y} {
		if math.IsNaN(v) {
			return false
		}
	}
	return r.Low.X <= r.High.X && r.Low.Y <= r.High.Y
}

// Area возвращает площадь
func (r Rect) Area() float64 {
	return r.Len() * r.Height()
}

// Len возвращает ширину
func (r Rect) Len() float64 {
	return r.High.X - r.Low.X
}

// Height возвращает высоту
func (r Rect) Height() float64 {
	return r.High.Y - r.Low.Y
}

// Center возвращает центр прямоугольника
func (r Rect) Center() Point {
	return Point{X: r.Low.X + r.Len()/2, Y: r.Low.Y + r.Height()/2}
}

// NW северо-западная четверть
func (r Rect) NW() Rect {
	c := r.Center()
	return Rect{Low: Point{X: r.Low.X, Y: c.Y}, High: Point{X: c.X, Y: r.High.Y}}
}

// NE северо-восточная четверть
func (r Rect) NE() Rect {
	return Rect{Low: r.Center(), High: r.High}
}

// SE юго-восточная четверть
func (r Rect) SE() Rect {
	c := r.Center()
	return Rect{Low: Point{X: c.X, Y: r.Low.Y}, High: Point{X: r.High.X, Y: c.Y}}
}

// SW юго-западная четверть
func (r Rect) SW() Rect {
	return Rect{Low: r.Low, High: r.Center()}
}

// Quadrant возвращает четверть по номеру слота
func (r Rect) Quadrant(q Quadrant) Rect {
	switch q {
	case NW:
		return r.NW()
	case NE:
		return r.NE()
	case SE:
		return r.SE()
	default:
		return r.SW()
	}
}

// Locate ищет четверть, содержащую точку, в порядке PlacementOrder.
// ok == false означает, что ни одна четверть точку не содержит.
func (r Rect) Locate(p Point) (Quadrant, Rect, bool) {
	for _, q := range PlacementOrder {
		sub := r.Quadrant(q)
		if sub.Contains(p) {
			return q, sub, true
		}
	}
	return 0, Rect{}, false
}

// Contains проверяет, лежит ли точка внутри (границы включительно)
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Low.X && p.Y >= r.Low.Y &&
		p.X <= r.High.X && p.Y <= r.High.Y
}

// ContainsRect проверяет, что other целиком лежит внутри r
func (r Rect) ContainsRect(other Rect) bool {
	return r.Contains(other.Low) && r.Contains(other.High)
}

// Intersects проверяет пересечение прямоугольников (касание считается пересечением)
func (r Rect) Intersects(other Rect) bool {
	return r.Low.X <= other.High.X && other.Low.X <= r.High.X &&
		r.Low.Y <= other.High.Y && other.Low.Y <= r.High.Y
}

// Clip возвращает пересечение r и bounds.
// Если пересечения нет, ok == false.
func (r Rect) Clip(bounds Rect) (Rect, bool) {
	out := Rect{
		Low:  Point{X: math.Max(r.Low.X, bounds.Low.X), Y: math.Max(r.Low.Y, bounds.Low.Y)},
		High: Point{X: math.Min(r.High.X, bounds.High.X), Y: math.Min(r.High.Y, bounds.High.Y)},
	}
	if !out.Valid() {
		return Rect{}, false
	}
	return out, true
}

func (r Rect) String() string {
	return r.Low.String() + " - " + r.High.String()
}
