// Package quadtree реализует точечное квадродерево для позиций внутри
// фиксированного прямоугольника.
//
// Узлы дерева хранятся в срезе и адресуются индексом, полезная нагрузка лежит
// в арене (internal/arena). Вставка и запросы обходят дерево итеративно.
// Дерево не синхронизировано: один писатель, читатели только без писателя.
package quadtree

import (
	"fmt"
	"math"

	"github.com/annel0/starfleet/internal/arena"
	"github.com/annel0/starfleet/internal/geom"
)

const (
	// DefaultMaxDepth предельная глубина расщепления по умолчанию
	DefaultMaxDepth = 32
	// DefaultBucketSize ёмкость листа на предельной глубине по умолчанию
	DefaultBucketSize = 8

	none int32 = -1
	root int32 = 0
)

type nodeKind uint8

const (
	kindBranch nodeKind = iota
	kindLeaf
)

func (k nodeKind) String() string {
	if k == kindBranch {
		return "branch"
	}
	return "leaf"
}

var noChildren = [4]int32{none, none, none, none}

// Entry точка листа и дескриптор её значения в арене
type Entry struct {
	Point  geom.Point
	Handle arena.Handle
}

// Neighbor результат запроса
type Neighbor = Entry

// Item результат запроса вместе со значением
type Item[T any] struct {
	Point  geom.Point
	Handle arena.Handle
	Value  T
}

// node ветвь (area - её ограничивающий прямоугольник, children в порядке NW, NE, SE, SW)
// или лист (area - четверть родителя, entries - одна или несколько точек).
type node struct {
	kind     nodeKind
	area     geom.Rect
	depth    int
	children [4]int32
	entries  []Entry
}

// QuadTree квадродерево со значениями типа T
type QuadTree[T any] struct {
	bounds     geom.Rect
	nodes      []node
	values     *arena.Arena[T]
	maxDepth   int
	bucketSize int
}

type options struct {
	maxDepth   int
	bucketSize int
	capacity   int
}

// Option настраивает дерево при создании
type Option func(*options)

// WithMaxDepth задаёт предельную глубину расщепления
func WithMaxDepth(depth int) Option {
	return func(o *options) { o.maxDepth = depth }
}

// WithBucketSize задаёт ёмкость листа на предельной глубине
func WithBucketSize(size int) Option {
	return func(o *options) { o.bucketSize = size }
}

// WithCapacity подсказка по числу значений
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// New создаёт дерево с неизменяемым корневым прямоугольником bounds
func New[T any](bounds geom.Rect, opts ...Option) (*QuadTree[T], error) {
	o := options{maxDepth: DefaultMaxDepth, bucketSize: DefaultBucketSize}
	for _, opt := range opts {
		opt(&o)
	}
	if !bounds.Valid() || math.IsInf(bounds.Len(), 0) || math.IsInf(bounds.Height(), 0) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBounds, bounds)
	}
	if o.maxDepth < 1 {
		return nil, fmt.Errorf("quadtree: max depth must be positive, got %d", o.maxDepth)
	}
	if o.bucketSize < 1 {
		return nil, fmt.Errorf("quadtree: bucket size must be positive, got %d", o.bucketSize)
	}

	t := &QuadTree[T]{
		bounds:     bounds,
		nodes:      make([]node, 0, 1+o.capacity),
		values:     arena.New[T](o.capacity),
		maxDepth:   o.maxDepth,
		bucketSize: o.bucketSize,
	}
	t.nodes = append(t.nodes, node{kind: kindBranch, area: bounds, children: noChildren})
	return t, nil
}

// Bounds возвращает корневой прямоугольник
func (t *QuadTree[T]) Bounds() geom.Rect {
	return t.bounds
}

// Len количество сохранённых значений
func (t *QuadTree[T]) Len() int {
	return t.values.Len()
}

// MaxDepth предельная глубина расщепления
func (t *QuadTree[T]) MaxDepth() int {
	return t.maxDepth
}

// BucketSize ёмкость листа на предельной глубине
func (t *QuadTree[T]) BucketSize() int {
	return t.bucketSize
}

// Get возвращает значение по дескриптору
func (t *QuadTree[T]) Get(h arena.Handle) (T, error) {
	return t.values.Get(h)
}

// Insert сохраняет значение в точке p.
//
// Если точка вне корневого прямоугольника или вставка не удалась по другой
// причине, возвращается *RejectedError[T] с исходным значением, а арена
// остаётся без изменений.
func (t *QuadTree[T]) Insert(p geom.Point, value T) (arena.Handle, error) {
	if !t.bounds.Contains(p) {
		return arena.Handle{}, &RejectedError[T]{Value: value, Point: p, Err: ErrOutOfBounds}
	}

	h := t.values.Insert(value)
	if err := t.place(Entry{Point: p, Handle: h}); err != nil {
		t.values.Remove(h)
		return arena.Handle{}, &RejectedError[T]{Value: value, Point: p, Err: err}
	}
	return h, nil
}

// place спускает запись от корня до листа.
// Перед вызовом точка гарантированно лежит внутри корня.
// При ошибке дерево возвращается в исходную форму: расщеплённые листья
// восстанавливаются, добавленные узлы отбрасываются.
func (t *QuadTree[T]) place(e Entry) (err error) {
	mark := len(t.nodes)
	var splits []splitUndo
	defer func() {
		if err != nil {
			t.undo(mark, splits)
		}
	}()

	cur := root
	for {
		parent := t.nodes[cur]
		q, sub, ok := parent.area.Locate(e.Point)
		if !ok {
			return &InternalError{Point: e.Point, Area: parent.area, Depth: parent.depth}
		}

		child := parent.children[q]
		if child == none {
			idx, err := t.newNode(node{
				kind:     kindLeaf,
				area:     sub,
				depth:    parent.depth + 1,
				children: noChildren,
				entries:  []Entry{e},
			})
			if err != nil {
				return err
			}
			t.nodes[cur].children[q] = idx
			return nil
		}

		c := &t.nodes[child]
		if c.kind == kindBranch {
			cur = child
			continue
		}

		// Лист на предельной глубине или с той же точкой: расщепление не поможет,
		// точка уходит в ограниченный список листа.
		if c.depth >= t.maxDepth || c.holdsOnly(e.Point) {
			if len(c.entries) >= t.bucketSize {
				return fmt.Errorf("%w: %d entries at %s (depth %d)", ErrCapacity, len(c.entries), e.Point, c.depth)
			}
			c.entries = append(c.entries, e)
			return nil
		}

		splits = append(splits, splitUndo{idx: child, leaf: *c})
		if err := t.split(child); err != nil {
			return err
		}
		cur = child
	}
}

// splitUndo лист до расщепления
type splitUndo struct {
	idx  int32
	leaf node
}

// undo откатывает расщепления неудачной вставки в обратном порядке
func (t *QuadTree[T]) undo(mark int, splits []splitUndo) {
	for i := len(splits) - 1; i >= 0; i-- {
		t.nodes[splits[i].idx] = splits[i].leaf
	}
	clear(t.nodes[mark:])
	t.nodes = t.nodes[:mark]
}

// split превращает лист в ветвь на той же области и переносит
// его записи в соответствующую четверть новой ветви.
func (t *QuadTree[T]) split(idx int32) error {
	leaf := t.nodes[idx]
	q, sub, ok := leaf.area.Locate(leaf.entries[0].Point)
	if !ok {
		return &InternalError{Point: leaf.entries[0].Point, Area: leaf.area, Depth: leaf.depth}
	}

	moved, err := t.newNode(node{
		kind:     kindLeaf,
		area:     sub,
		depth:    leaf.depth + 1,
		children: noChildren,
		entries:  leaf.entries,
	})
	if err != nil {
		return err
	}

	b := &t.nodes[idx]
	b.kind = kindBranch
	b.entries = nil
	b.children = noChildren
	b.children[q] = moved
	return nil
}

func (t *QuadTree[T]) newNode(n node) (int32, error) {
	if len(t.nodes) >= math.MaxInt32 {
		return none, fmt.Errorf("%w: node index overflow", ErrCapacity)
	}
	t.nodes = append(t.nodes, n)
	return int32(len(t.nodes) - 1), nil
}

// holdsOnly сообщает, что все записи листа лежат ровно в точке p
func (n *node) holdsOnly(p geom.Point) bool {
	for _, e := range n.entries {
		if e.Point != p {
			return false
		}
	}
	return len(n.entries) > 0
}
