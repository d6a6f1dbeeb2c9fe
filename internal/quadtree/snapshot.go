package quadtree

import (
	"fmt"

	"github.com/annel0/starfleet/internal/arena"
	"github.com/annel0/starfleet/internal/geom"
)

// EntryRecord запись листа в снимке; Value - позиция значения в Snapshot.Values
type EntryRecord struct {
	Point geom.Point `json:"point" yaml:"point" bson:"point"`
	Value int        `json:"value" yaml:"value" bson:"value"`
}

// NodeRecord узел в снимке. Children - индексы узлов в порядке NW, NE, SE, SW (-1 - пусто).
type NodeRecord struct {
	Kind     string        `json:"kind" yaml:"kind" bson:"kind"`
	Area     geom.Rect     `json:"area" yaml:"area" bson:"area"`
	Depth    int           `json:"depth" yaml:"depth" bson:"depth"`
	Children []int32       `json:"children,omitempty" yaml:"children,omitempty" bson:"children,omitempty"`
	Entries  []EntryRecord `json:"entries,omitempty" yaml:"entries,omitempty" bson:"entries,omitempty"`
}

// Snapshot полная структура дерева без адресов памяти и дескрипторов.
// Пригоден для любого структурного сериализатора (json, yaml, bson, ...).
type Snapshot[T any] struct {
	Bounds     geom.Rect    `json:"bounds" yaml:"bounds" bson:"bounds"`
	MaxDepth   int          `json:"max_depth" yaml:"max_depth" bson:"max_depth"`
	BucketSize int          `json:"bucket_size" yaml:"bucket_size" bson:"bucket_size"`
	Nodes      []NodeRecord `json:"nodes" yaml:"nodes" bson:"nodes"`
	Values     []T          `json:"values" yaml:"values" bson:"values"`
}

// Snapshot снимает текущее состояние дерева
func (t *QuadTree[T]) Snapshot() *Snapshot[T] {
	s := &Snapshot[T]{
		Bounds:     t.bounds,
		MaxDepth:   t.maxDepth,
		BucketSize: t.bucketSize,
		Nodes:      make([]NodeRecord, 0, len(t.nodes)),
		Values:     make([]T, 0, t.values.Len()),
	}

	for i := range t.nodes {
		n := &t.nodes[i]
		rec := NodeRecord{Kind: n.kind.String(), Area: n.area, Depth: n.depth}

		if n.kind == kindBranch {
			rec.Children = append([]int32(nil), n.children[:]...)
		} else {
			rec.Entries = make([]EntryRecord, 0, len(n.entries))
			for _, e := range n.entries {
				rec.Entries = append(rec.Entries, EntryRecord{Point: e.Point, Value: len(s.Values)})
				s.Values = append(s.Values, t.values.MustGet(e.Handle))
			}
		}
		s.Nodes = append(s.Nodes, rec)
	}
	return s
}

// Restore восстанавливает дерево из снимка.
// Дескрипторы выдаются заново, но каждая точка снова ведёт к своему значению.
func Restore[T any](s *Snapshot[T]) (*QuadTree[T], error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrCorruptSnapshot)
	}

	t, err := New[T](s.Bounds,
		WithMaxDepth(s.MaxDepth),
		WithBucketSize(s.BucketSize),
		WithCapacity(len(s.Values)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if len(s.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no root node", ErrCorruptSnapshot)
	}

	used := make([]bool, len(s.Values))
	t.nodes = t.nodes[:0]

	for i, rec := range s.Nodes {
		n := node{area: rec.Area, depth: rec.Depth, children: noChildren}

		switch rec.Kind {
		case kindBranch.String():
			n.kind = kindBranch
			if len(rec.Children) != 4 {
				return nil, fmt.Errorf("%w: branch %d has %d child slots", ErrCorruptSnapshot, i, len(rec.Children))
			}
			for q, c := range rec.Children {
				if c != none && (c <= root || int(c) >= len(s.Nodes)) {
					return nil, fmt.Errorf("%w: branch %d child %d out of range", ErrCorruptSnapshot, i, c)
				}
				n.children[q] = c
			}

		case kindLeaf.String():
			n.kind = kindLeaf
			if len(rec.Entries) == 0 || len(rec.Entries) > s.BucketSize {
				return nil, fmt.Errorf("%w: leaf %d holds %d entries", ErrCorruptSnapshot, i, len(rec.Entries))
			}
			n.entries = make([]Entry, 0, len(rec.Entries))
			for _, er := range rec.Entries {
				if er.Value < 0 || er.Value >= len(s.Values) || used[er.Value] {
					return nil, fmt.Errorf("%w: leaf %d references value %d", ErrCorruptSnapshot, i, er.Value)
				}
				used[er.Value] = true
				h := t.values.Insert(s.Values[er.Value])
				n.entries = append(n.entries, Entry{Point: er.Point, Handle: h})
			}

		default:
			return nil, fmt.Errorf("%w: node %d has unknown kind %q", ErrCorruptSnapshot, i, rec.Kind)
		}

		t.nodes = append(t.nodes, n)
	}

	for i, ok := range used {
		if !ok {
			return nil, fmt.Errorf("%w: value %d not referenced by any leaf", ErrCorruptSnapshot, i)
		}
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return t, nil
}

// Handles возвращает дескрипторы всех значений в порядке обхода узлов.
// Порядок совпадает с Snapshot.Values.
func (t *QuadTree[T]) Handles() []arena.Handle {
	out := make([]arena.Handle, 0, t.values.Len())
	for i := range t.nodes {
		for _, e := range t.nodes[i].entries {
			out = append(out, e.Handle)
		}
	}
	return out
}
