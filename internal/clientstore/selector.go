package clientstore

import "sync"

// Selector memoizes a projection by reference equality of its input
// (spec.md §4.7): re-running project is skipped only when the input is the
// identical value as the previous call, never across distinct-but-equal
// inputs.
type Selector[T comparable, R any] struct {
	mu      sync.Mutex
	project func(T) R
	has     bool
	lastIn  T
	lastOut R
}

// NewSelector creates a Selector around project.
func NewSelector[T comparable, R any](project func(T) R) *Selector[T, R] {
	return &Selector[T, R]{project: project}
}

// Select returns project(input), reusing the previous result when input is
// the same reference as the last call.
func (s *Selector[T, R]) Select(input T) R {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.has && input == s.lastIn {
		return s.lastOut
	}
	out := s.project(input)
	s.lastIn, s.lastOut, s.has = input, out, true
	return out
}

// Compose chains inner (T -> M) into outer (M -> R), each layer memoizing
// independently on its own input reference.
func Compose[T, M comparable, R any](outer *Selector[M, R], inner *Selector[T, M]) *Selector[T, R] {
	return NewSelector(func(in T) R {
		return outer.Select(inner.Select(in))
	})
}
