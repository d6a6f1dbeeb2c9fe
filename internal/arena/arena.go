// Package arena хранит значения в слотах и выдаёт на них дескрипторы с поколением.
//
// Дескриптор удалённого слота никогда не совпадает с дескриптором значения,
// вставленного позже в тот же слот: при каждом освобождении поколение слота растёт.
package arena

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHandle дескриптор указывает на несуществующий слот
	ErrInvalidHandle = errors.New("arena: invalid handle")
	// ErrStaleHandle слот существует, но поколение не совпадает (значение удалено)
	ErrStaleHandle = errors.New("arena: stale handle")
)

// Handle ссылка на значение в арене
type Handle struct {
	Index      uint32 `json:"index" yaml:"index" bson:"index"`
	Generation uint32 `json:"generation" yaml:"generation" bson:"generation"`
}

// IsZero сообщает, что дескриптор не был выдан ареной
func (h Handle) IsZero() bool {
	return h.Generation == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}

type slot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Arena растущий контейнер значений типа T.
// Не синхронизирована: конкурентный доступ обеспечивает владелец.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// New создаёт арену с подсказкой по ёмкости
func New[T any](capacity int) *Arena[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Arena[T]{
		slots: make([]slot[T], 0, capacity),
	}
}

// Insert кладёт значение в свободный слот и возвращает новый дескриптор
func (a *Arena[T]) Insert(value T) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		if uint64(len(a.slots)) >= uint64(^uint32(0)) {
			panic("arena: slot index overflow")
		}
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}

	s := &a.slots[idx]
	s.generation++
	if s.generation == 0 {
		// Поколение 0 зарезервировано под нулевой дескриптор
		s.generation = 1
	}
	s.value = value
	s.occupied = true
	a.live++

	return Handle{Index: idx, Generation: s.generation}
}

// Remove удаляет значение и возвращает его.
// Для устаревшего или чужого дескриптора возвращает false и не паникует.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	var zero T
	s, err := a.lookup(h)
	if err != nil {
		return zero, false
	}

	value := s.value
	s.value = zero
	s.occupied = false
	a.free = append(a.free, h.Index)
	a.live--

	return value, true
}

// Get возвращает значение по дескриптору или ошибку проверки поколения
func (a *Arena[T]) Get(h Handle) (T, error) {
	s, err := a.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.value, nil
}

// MustGet как Get, но паникует на недействительном дескрипторе
func (a *Arena[T]) MustGet(h Handle) T {
	v, err := a.Get(h)
	if err != nil {
		panic(err)
	}
	return v
}

// Set заменяет значение по живому дескриптору
func (a *Arena[T]) Set(h Handle, value T) error {
	s, err := a.lookup(h)
	if err != nil {
		return err
	}
	s.value = value
	return nil
}

// Contains сообщает, жив ли дескриптор
func (a *Arena[T]) Contains(h Handle) bool {
	_, err := a.lookup(h)
	return err == nil
}

// Len количество живых значений
func (a *Arena[T]) Len() int {
	return a.live
}

// Cap количество выделенных слотов (живых и свободных)
func (a *Arena[T]) Cap() int {
	return len(a.slots)
}

// Each обходит живые значения в порядке слотов; fn возвращает false для остановки
func (a *Arena[T]) Each(fn func(Handle, T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.occupied {
			continue
		}
		if !fn(Handle{Index: uint32(i), Generation: s.generation}, s.value) {
			return
		}
	}
}

func (a *Arena[T]) lookup(h Handle) (*slot[T], error) {
	if h.IsZero() || int(h.Index) >= len(a.slots) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	s := &a.slots[h.Index]
	if !s.occupied || s.generation != h.Generation {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return s, nil
}
