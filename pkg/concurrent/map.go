package concurrent

import "sync"

// Map is a mutex-guarded map safe for concurrent use.
type Map[K comparable, V any] struct {
	mu     sync.RWMutex
	values map[K]V
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		values: make(map[K]V),
	}
}

func (m *Map[K, V]) Load(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	val, ok := m.values[key]
	return val, ok
}

func (m *Map[K, V]) Store(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
}

// LoadOrCompute returns the value for key, calling compute to create and
// store it if absent. compute runs under the write lock, so at most one
// caller creates the value.
func (m *Map[K, V]) LoadOrCompute(key K, compute func() V) V {
	m.mu.RLock()
	val, ok := m.values[key]
	m.mu.RUnlock()
	if ok {
		return val
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if val, ok := m.values[key]; ok {
		return val
	}
	val = compute()
	m.values[key] = val
	return val
}

func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
}

func (m *Map[K, V]) Length() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.values)
}

func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, v := range m.values {
		if !f(k, v) {
			break
		}
	}
}
