package quadtree

import (
	"errors"
	"fmt"

	"github.com/annel0/starfleet/internal/geom"
)

var (
	// ErrOutOfBounds точка вне корневого прямоугольника дерева
	ErrOutOfBounds = errors.New("quadtree: point out of bounds")
	// ErrCapacity лист на предельной глубине (или с совпадающими точками) переполнен
	ErrCapacity = errors.New("quadtree: leaf capacity exceeded")
	// ErrInvariant нарушен внутренний инвариант дерева
	ErrInvariant = errors.New("quadtree: internal invariant violated")
	// ErrInvalidBounds некорректный корневой прямоугольник
	ErrInvalidBounds = errors.New("quadtree: invalid bounds")
	// ErrCorruptSnapshot снимок не описывает корректное дерево
	ErrCorruptSnapshot = errors.New("quadtree: corrupt snapshot")
)

// InternalError ошибка внутреннего инварианта.
// Означает баг (обычно граничный случай плавающей точки), а не штатную ситуацию:
// хост может залогировать её и продолжить работу.
type InternalError struct {
	Point geom.Point
	Area  geom.Rect
	Depth int
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("quadtree: no quadrant of %s contains %s at depth %d", e.Area, e.Point, e.Depth)
}

func (e *InternalError) Unwrap() error {
	return ErrInvariant
}

// IsInternal сообщает, что ошибка вызвана нарушением инварианта
func IsInternal(err error) bool {
	return errors.Is(err, ErrInvariant)
}

// RejectedError возвращается неудачной вставкой и отдаёт значение обратно вызывающему.
// Арена после такой ошибки не изменена.
type RejectedError[T any] struct {
	Value T
	Point geom.Point
	Err   error
}

func (e *RejectedError[T]) Error() string {
	return fmt.Sprintf("insert %s rejected: %v", e.Point, e.Err)
}

func (e *RejectedError[T]) Unwrap() error {
	return e.Err
}

// Rejected извлекает отклонённое значение из ошибки вставки
func Rejected[T any](err error) (T, bool) {
	var rej *RejectedError[T]
	if errors.As(err, &rej) {
		return rej.Value, true
	}
	var zero T
	return zero, false
}
