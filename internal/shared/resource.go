// Package shared provides the serialized state cell the scheduler engine builds on.
package shared

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Read when the resource holds no value.
var ErrNotFound = errors.New("shared resource not found")

// Resource holds zero or one value of T. All access goes through a mutex,
// so concurrent callers never observe a concurrent mutation.
//
// Zero value is an empty, ready-to-use resource.
type Resource[T any] struct {
	mu   sync.Mutex
	slot Slot[T]
}

// Slot is the view handed to Access/Do callbacks. It is only valid while the
// callback runs.
type Slot[T any] struct {
	value T
	set   bool
}

func (s *Slot[T]) Get() (T, bool) { return s.value, s.set }
func (s *Slot[T]) IsSet() bool    { return s.set }

func (s *Slot[T]) Set(v T) {
	s.value = v
	s.set = true
}

func (s *Slot[T]) Clear() {
	var zero T
	s.value = zero
	s.set = false
}

// New returns a resource holding v.
func New[T any](v T) *Resource[T] {
	return &Resource[T]{slot: Slot[T]{value: v, set: true}}
}

// Empty returns a resource with no value.
func Empty[T any]() *Resource[T] {
	return &Resource[T]{}
}

// Access runs fn with exclusive access to the slot and returns its result.
// fn must not call back into r.
func Access[T, R any](r *Resource[T], fn func(s *Slot[T]) R) R {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&r.slot)
}

// Do is Access without a result.
func (r *Resource[T]) Do(fn func(s *Slot[T])) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.slot)
}

// Override replaces the value unconditionally.
func (r *Resource[T]) Override(v T) {
	r.mu.Lock()
	r.slot.Set(v)
	r.mu.Unlock()
}

// Clear leaves the resource unset.
func (r *Resource[T]) Clear() {
	r.mu.Lock()
	r.slot.Clear()
	r.mu.Unlock()
}

// Read returns the value or ErrNotFound when unset.
func (r *Resource[T]) Read() (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.slot.set {
		var zero T
		return zero, ErrNotFound
	}
	return r.slot.value, nil
}

// ReadOr returns the value, or def when unset.
func (r *Resource[T]) ReadOr(def T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.slot.set {
		return def
	}
	return r.slot.value
}

// Load returns the value and whether it was set.
func (r *Resource[T]) Load() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot.value, r.slot.set
}
