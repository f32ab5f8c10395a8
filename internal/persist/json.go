package persist

import (
	"encoding/json"
	"sync"
)

// JSON is a mutex-guarded value that persists itself as JSON.
type JSON[T any] struct {
	mu sync.RWMutex
	v  T
}

func NewJSON[T any](initial T) *JSON[T] {
	return &JSON[T]{v: initial}
}

// Get returns a copy of the current value. Reference types inside T are shared.
func (j *JSON[T]) Get() T {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.v
}

func (j *JSON[T]) Set(v T) {
	j.mu.Lock()
	j.v = v
	j.mu.Unlock()
}

// Update runs fn with exclusive access to the value.
func (j *JSON[T]) Update(fn func(v *T)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.v)
}

// View runs fn with shared access to the value. fn must not modify it.
func (j *JSON[T]) View(fn func(v T)) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	fn(j.v)
}

func (j *JSON[T]) Encode() ([]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return json.Marshal(j.v)
}

// Decode replaces the value only if data parses completely.
func (j *JSON[T]) Decode(data []byte) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	j.mu.Lock()
	j.v = v
	j.mu.Unlock()
	return nil
}
