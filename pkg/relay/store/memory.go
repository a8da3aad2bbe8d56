package store

import "sync"

type MemoryStore[T any] struct {
	mu      sync.Mutex
	waiting map[int]T
	paired  map[int]struct{}
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{
		waiting: make(map[int]T),
		paired:  make(map[int]struct{}),
	}
}

func (s *MemoryStore[T]) Reserve(slot int, value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.waiting[slot]; ok {
		return false
	}
	if _, ok := s.paired[slot]; ok {
		return false
	}

	s.waiting[slot] = value
	return true
}

func (s *MemoryStore[T]) Claim(slot int) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.waiting[slot]
	if !ok {
		return value, false
	}

	delete(s.waiting, slot)
	s.paired[slot] = struct{}{}
	return value, true
}

func (s *MemoryStore[T]) Release(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.waiting, slot)
	delete(s.paired, slot)
}

func (s *MemoryStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.waiting) + len(s.paired)
}
