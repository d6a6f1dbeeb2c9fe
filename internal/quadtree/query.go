package quadtree

import (
	"math"

	"github.com/annel0/starfleet/internal/geom"
)

// Neighbors возвращает все точки на расстоянии не больше radius от center.
//
// Порядок результата не определён; кому нужен стабильный порядок, сортирует сам.
// Запрос никогда не падает: при отсутствии совпадений возвращается пустой срез.
func (t *QuadTree[T]) Neighbors(center geom.Point, radius float64) []Neighbor {
	result := make([]Neighbor, 0)
	if math.IsNaN(radius) || radius < 0 {
		return result
	}

	// Квадрат поиска только грубо отсекает ветви, точность даёт проверка расстояния
	search, ok := geom.Square(center, radius).Clip(t.bounds)
	if !ok {
		return result
	}

	t.visit(search, func(e Entry) {
		if e.Point.DistanceTo(center) <= radius {
			result = append(result, e)
		}
	})
	return result
}

// NeighborValues как Neighbors, но сразу достаёт значения из арены
func (t *QuadTree[T]) NeighborValues(center geom.Point, radius float64) []Item[T] {
	found := t.Neighbors(center, radius)
	items := make([]Item[T], 0, len(found))
	for _, n := range found {
		// Дескрипторы в дереве всегда живые: удаления нет
		items = append(items, Item[T]{Point: n.Point, Handle: n.Handle, Value: t.values.MustGet(n.Handle)})
	}
	return items
}

// Within возвращает все точки внутри прямоугольника (границы включительно)
func (t *QuadTree[T]) Within(r geom.Rect) []Neighbor {
	result := make([]Neighbor, 0)
	search, ok := r.Clip(t.bounds)
	if !ok {
		return result
	}

	t.visit(search, func(e Entry) {
		if search.Contains(e.Point) {
			result = append(result, e)
		}
	})
	return result
}

// Walk обходит все записи дерева; fn возвращает false для остановки
func (t *QuadTree[T]) Walk(fn func(Entry) bool) {
	stack := []int32{root}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.nodes[idx]
		if n.kind == kindLeaf {
			for _, e := range n.entries {
				if !fn(e) {
					return
				}
			}
			continue
		}
		for _, c := range n.children {
			if c != none {
				stack = append(stack, c)
			}
		}
	}
}

// visit обходит листья, чьи области пересекают search.
// Обход на явном стеке, глубина рекурсии не растёт с глубиной дерева.
func (t *QuadTree[T]) visit(search geom.Rect, fn func(Entry)) {
	stack := make([]int32, 0, 64)
	stack = append(stack, root)

	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.nodes[idx]
		if !n.area.Intersects(search) {
			continue
		}

		if n.kind == kindLeaf {
			for _, e := range n.entries {
				fn(e)
			}
			continue
		}

		for _, c := range n.children {
			if c != none {
				stack = append(stack, c)
			}
		}
	}
}
