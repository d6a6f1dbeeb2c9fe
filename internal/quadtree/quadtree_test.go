package quadtree

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/annel0/starfleet/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree[T any](t *testing.T, bounds geom.Rect, opts ...Option) *QuadTree[T] {
	t.Helper()
	tree, err := New[T](bounds, opts...)
	require.NoError(t, err, "Дерево должно создаваться")
	return tree
}

func sortedPoints(ns []Neighbor) []geom.Point {
	out := make([]geom.Point, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Point)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func TestNew_InvalidBounds(t *testing.T) {
	_, err := New[int](geom.R(10, 10, 0, 0))
	assert.ErrorIs(t, err, ErrInvalidBounds)

	_, err = New[int](geom.R(0, 0, 1, 1), WithMaxDepth(0))
	assert.Error(t, err)

	_, err = New[int](geom.R(0, 0, 1, 1), WithBucketSize(0))
	assert.Error(t, err)
}

func TestQuadTree_ScenarioA(t *testing.T) {
	tree := newTestTree[int](t, geom.R(0, 0, 100, 100))

	for _, tc := range []struct {
		p geom.Point
		v int
	}{
		{geom.Pt(0, 1), 100},
		{geom.Pt(5, 1), 200},
		{geom.Pt(57, 57), 1231},
	} {
		_, err := tree.Insert(tc.p, tc.v)
		require.NoError(t, err, "Вставка %s должна пройти", tc.p)
	}

	got := sortedPoints(tree.Neighbors(geom.Pt(13, 10), 16))
	assert.Equal(t, []geom.Point{geom.Pt(0, 1), geom.Pt(5, 1)}, got)
	require.NoError(t, tree.Validate())
}

func TestQuadTree_ScenarioB_OutOfBounds(t *testing.T) {
	tree := newTestTree[int](t, geom.R(0, 0, 100, 100))
	_, err := tree.Insert(geom.Pt(10, 10), 1)
	require.NoError(t, err)

	before := tree.Len()
	beforeCap := tree.values.Cap()

	_, err = tree.Insert(geom.Pt(150, 150), 777)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	value, ok := Rejected[int](err)
	assert.True(t, ok, "Ошибка должна нести отклонённое значение")
	assert.Equal(t, 777, value, "Значение должно вернуться без изменений")
	assert.Equal(t, before, tree.Len(), "Размер арены не должен измениться")
	assert.Equal(t, beforeCap, tree.values.Cap(), "Арена не должна выделять слот под отклонённую точку")
}

func TestQuadTree_ScenarioC_MultiLevelSplit(t *testing.T) {
	tree := newTestTree[string](t, geom.R(0, 0, 1<<20, 1<<20))

	_, err := tree.Insert(geom.Pt(1, 1), "first")
	require.NoError(t, err)
	_, err = tree.Insert(geom.Pt(1, 2), "second")
	require.NoError(t, err)

	first := tree.NeighborValues(geom.Pt(1, 1), 0.5)
	require.Len(t, first, 1)
	assert.Equal(t, "first", first[0].Value)

	second := tree.NeighborValues(geom.Pt(1, 2), 0.5)
	require.Len(t, second, 1)
	assert.Equal(t, "second", second[0].Value)

	stats := tree.Stats()
	assert.Greater(t, stats.MaxDepth, 10, "Точки должны разделиться только глубоко в дереве")
	assert.Equal(t, 1, stats.LargestBucket)
	require.NoError(t, tree.Validate())
}

func TestQuadTree_DuplicatePoints(t *testing.T) {
	tree := newTestTree[int](t, geom.R(0, 0, 100, 100), WithBucketSize(3))
	p := geom.Pt(42, 42)

	for i := 0; i < 3; i++ {
		_, err := tree.Insert(p, i)
		require.NoError(t, err, "Совпадающие точки укладываются в лист до его ёмкости")
	}

	_, err := tree.Insert(p, 99)
	assert.ErrorIs(t, err, ErrCapacity, "Переполнение листа должно быть отчётом, а не бесконечной рекурсией")
	value, _ := Rejected[int](err)
	assert.Equal(t, 99, value)
	assert.Equal(t, 3, tree.Len())

	// Другая точка рядом всё ещё вставляется: лист расщепляется
	_, err = tree.Insert(geom.Pt(42, 43), 5)
	require.NoError(t, err)
	assert.Len(t, tree.Neighbors(p, 0), 3)
	require.NoError(t, tree.Validate())
}

func TestQuadTree_MaxDepthBucket(t *testing.T) {
	tree := newTestTree[int](t, geom.R(0, 0, 1024, 1024), WithMaxDepth(2), WithBucketSize(2))

	// Обе точки в одной четверти второго уровня
	_, err := tree.Insert(geom.Pt(1, 1), 1)
	require.NoError(t, err)
	_, err = tree.Insert(geom.Pt(2, 2), 2)
	require.NoError(t, err)
	_, err = tree.Insert(geom.Pt(3, 3), 3)
	assert.ErrorIs(t, err, ErrCapacity)

	stats := tree.Stats()
	assert.Equal(t, 2, stats.MaxDepth, "Глубина не должна превышать предел")
	assert.Equal(t, 2, stats.LargestBucket)
	assert.Len(t, tree.Neighbors(geom.Pt(0, 0), 5), 2)
}

func TestQuadTree_RejectedInsertKeepsShape(t *testing.T) {
	tree := newTestTree[int](t, geom.R(0, 0, 100, 100), WithMaxDepth(4), WithBucketSize(1))
	_, err := tree.Insert(geom.Pt(1, 1), 1)
	require.NoError(t, err)

	statsBefore := tree.Stats()
	nodesBefore := tree.Snapshot().Nodes

	// Спуск расщепляет лист до предельной глубины и упирается в полный список
	_, err = tree.Insert(geom.Pt(1.5, 1.5), 2)
	require.ErrorIs(t, err, ErrCapacity)

	assert.Equal(t, statsBefore, tree.Stats(), "Неудачная вставка не должна менять форму дерева")
	assert.Equal(t, nodesBefore, tree.Snapshot().Nodes)
	assert.Equal(t, 1, tree.Len())
	require.NoError(t, tree.Validate())

	// Дерево после отката продолжает работать
	_, err = tree.Insert(geom.Pt(90, 90), 3)
	require.NoError(t, err)
	assert.Equal(t, []geom.Point{geom.Pt(1, 1)}, sortedPoints(tree.Neighbors(geom.Pt(1, 1), 1)))
	require.NoError(t, tree.Validate())
}

func TestQuadTree_InternalErrorIsRecoverable(t *testing.T) {
	tree := newTestTree[int](t, geom.R(0, 0, 100, 100))

	// Портим область корня, чтобы спуск не нашёл четверть
	tree.nodes[root].area = geom.R(0, 0, 1, 1)

	_, err := tree.Insert(geom.Pt(50, 50), 7)
	require.Error(t, err)
	assert.True(t, IsInternal(err), "Нарушение инварианта должно распознаваться")

	var internal *InternalError
	assert.True(t, errors.As(err, &internal))
	value, ok := Rejected[int](err)
	assert.True(t, ok)
	assert.Equal(t, 7, value)
	assert.Equal(t, 0, tree.Len(), "Арена должна откатиться")
}

func TestQuadTree_BoundaryPlacement(t *testing.T) {
	tree := newTestTree[int](t, geom.R(0, 0, 100, 100))

	_, err := tree.Insert(geom.Pt(50, 50), 1)
	require.NoError(t, err)

	root := tree.nodes[0]
	assert.NotEqual(t, none, root.children[geom.NW], "Центр должен попасть в NW")
	assert.Equal(t, none, root.children[geom.NE])
	assert.Equal(t, none, root.children[geom.SE])
	assert.Equal(t, none, root.children[geom.SW])

	_, err = tree.Insert(geom.Pt(75, 50), 2)
	require.NoError(t, err)
	assert.NotEqual(t, none, tree.nodes[0].children[geom.SE], "Точка на горизонтали востока должна попасть в SE")
}

func TestQuadTree_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(20240601))
	bounds := geom.R(-500, -250, 500, 750)
	tree := newTestTree[int](t, bounds)

	var inserted []geom.Point
	for i := 0; i < 2000; i++ {
		p := geom.Pt(bounds.Low.X+rng.Float64()*bounds.Len(), bounds.Low.Y+rng.Float64()*bounds.Height())
		if i%50 == 0 && len(inserted) > 0 {
			p = inserted[rng.Intn(len(inserted))] // немного дубликатов
		}
		if i%97 == 0 {
			p = geom.Pt(bounds.High.X+1+rng.Float64()*10, p.Y) // точки вне границ
		}

		_, err := tree.Insert(p, i)
		if bounds.Contains(p) {
			if errors.Is(err, ErrCapacity) {
				continue
			}
			require.NoError(t, err, "Точка внутри границ должна вставляться")
			inserted = append(inserted, p)
		} else {
			assert.ErrorIs(t, err, ErrOutOfBounds, "Точка вне границ должна отклоняться")
		}
	}
	require.Equal(t, len(inserted), tree.Len())
	require.NoError(t, tree.Validate())

	for i := 0; i < 200; i++ {
		center := geom.Pt(bounds.Low.X-50+rng.Float64()*(bounds.Len()+100), bounds.Low.Y-50+rng.Float64()*(bounds.Height()+100))
		radius := rng.Float64() * 200

		var expected []geom.Point
		for _, p := range inserted {
			if p.DistanceTo(center) <= radius {
				expected = append(expected, p)
			}
		}
		sort.Slice(expected, func(i, j int) bool { return expected[i].Less(expected[j]) })

		got := sortedPoints(tree.Neighbors(center, radius))
		if len(expected) == 0 {
			assert.Empty(t, got)
			continue
		}
		assert.Equal(t, expected, got, "Запрос %s r=%.2f должен совпасть с полным перебором", center, radius)

		again := sortedPoints(tree.Neighbors(center, radius))
		assert.Equal(t, got, again, "Повторный запрос должен вернуть то же множество")
	}
}

func TestQuadTree_NeighborsEdgeCases(t *testing.T) {
	tree := newTestTree[int](t, geom.R(0, 0, 100, 100))
	_, err := tree.Insert(geom.Pt(10, 10), 1)
	require.NoError(t, err)

	assert.Empty(t, tree.Neighbors(geom.Pt(10, 10), -1), "Отрицательный радиус - пустой результат")
	assert.NotNil(t, tree.Neighbors(geom.Pt(90, 90), 1), "Пустой результат - не nil")
	assert.Len(t, tree.Neighbors(geom.Pt(10, 10), 0), 1, "Нулевой радиус находит точку в центре")
	assert.Len(t, tree.Neighbors(geom.Pt(-5, 10), 15), 1, "Центр вне границ допустим")
	assert.Empty(t, tree.Neighbors(geom.Pt(-500, -500), 10))
}

func TestQuadTree_WithinAndWalk(t *testing.T) {
	tree := newTestTree[int](t, geom.R(0, 0, 100, 100))
	points := []geom.Point{geom.Pt(10, 10), geom.Pt(20, 20), geom.Pt(80, 80), geom.Pt(50, 50)}
	for i, p := range points {
		_, err := tree.Insert(p, i)
		require.NoError(t, err)
	}

	got := sortedPoints(tree.Within(geom.R(0, 0, 50, 50)))
	assert.Equal(t, []geom.Point{geom.Pt(10, 10), geom.Pt(20, 20), geom.Pt(50, 50)}, got)

	count := 0
	tree.Walk(func(Entry) bool {
		count++
		return true
	})
	assert.Equal(t, len(points), count)
}
