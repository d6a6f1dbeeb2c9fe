package quadtree

import (
	"fmt"

	"github.com/annel0/starfleet/internal/geom"
)

// Stats статистика формы дерева
type Stats struct {
	Values        int `json:"values"`
	Nodes         int `json:"nodes"`
	Branches      int `json:"branches"`
	Leaves        int `json:"leaves"`
	MaxDepth      int `json:"max_depth"`
	LargestBucket int `json:"largest_bucket"`
}

func (s Stats) String() string {
	return fmt.Sprintf("QuadTree Stats: %d values, %d nodes (%d branches, %d leaves), depth %d, largest bucket %d",
		s.Values, s.Nodes, s.Branches, s.Leaves, s.MaxDepth, s.LargestBucket)
}

// Stats собирает статистику по всем узлам
func (t *QuadTree[T]) Stats() Stats {
	s := Stats{Values: t.values.Len(), Nodes: len(t.nodes)}
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.depth > s.MaxDepth {
			s.MaxDepth = n.depth
		}
		if n.kind == kindBranch {
			s.Branches++
			continue
		}
		s.Leaves++
		if len(n.entries) > s.LargestBucket {
			s.LargestBucket = len(n.entries)
		}
	}
	return s
}

// Validate проверяет форму дерева: области детей совпадают с четвертями
// родителя, каждая точка лежит в областях всех предков, каждый узел
// достижим ровно один раз, каждый дескриптор живой. Лист с разными точками
// допустим только на предельной глубине.
func (t *QuadTree[T]) Validate() error {
	if len(t.nodes) == 0 || t.nodes[root].kind != kindBranch || t.nodes[root].area != t.bounds || t.nodes[root].depth != 0 {
		return fmt.Errorf("%w: root must be a depth 0 branch over %s", ErrInvariant, t.bounds)
	}

	type frame struct {
		idx       int32
		ancestors []geom.Rect
	}

	seen := make([]bool, len(t.nodes))
	entries := 0
	stack := []frame{{idx: root}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seen[f.idx] {
			return fmt.Errorf("%w: node %d reachable twice", ErrInvariant, f.idx)
		}
		seen[f.idx] = true

		n := &t.nodes[f.idx]
		chain := append(append([]geom.Rect(nil), f.ancestors...), n.area)

		if n.kind == kindLeaf {
			if len(n.entries) == 0 {
				return fmt.Errorf("%w: empty leaf %d", ErrInvariant, f.idx)
			}
			if n.depth > t.maxDepth || len(n.entries) > t.bucketSize {
				return fmt.Errorf("%w: leaf %d at depth %d holds %d entries (max depth %d, bucket %d)",
					ErrInvariant, f.idx, n.depth, len(n.entries), t.maxDepth, t.bucketSize)
			}
			// Несколько точек в листе выше предельной глубины допустимы только в одной точке
			if len(n.entries) > 1 && n.depth < t.maxDepth && !n.holdsOnly(n.entries[0].Point) {
				return fmt.Errorf("%w: leaf %d at depth %d holds distinct points", ErrInvariant, f.idx, n.depth)
			}
			for _, e := range n.entries {
				for _, area := range chain {
					if !area.Contains(e.Point) {
						return fmt.Errorf("%w: point %s outside ancestor %s", ErrInvariant, e.Point, area)
					}
				}
				if !t.values.Contains(e.Handle) {
					return fmt.Errorf("%w: dead handle %s at %s", ErrInvariant, e.Handle, e.Point)
				}
				entries++
			}
			continue
		}

		for q, c := range n.children {
			if c == none {
				continue
			}
			if int(c) <= 0 || int(c) >= len(t.nodes) {
				return fmt.Errorf("%w: child index %d out of range", ErrInvariant, c)
			}
			child := &t.nodes[c]
			if child.area != n.area.Quadrant(geom.Quadrant(q)) {
				return fmt.Errorf("%w: node %d area %s is not quadrant %s of %s",
					ErrInvariant, c, child.area, geom.Quadrant(q), n.area)
			}
			if child.depth != n.depth+1 {
				return fmt.Errorf("%w: node %d depth %d under depth %d", ErrInvariant, c, child.depth, n.depth)
			}
			stack = append(stack, frame{idx: c, ancestors: chain})
		}
	}

	for i, ok := range seen {
		if !ok {
			return fmt.Errorf("%w: node %d unreachable", ErrInvariant, i)
		}
	}
	if entries != t.values.Len() {
		return fmt.Errorf("%w: %d entries for %d values", ErrInvariant, entries, t.values.Len())
	}
	return nil
}
