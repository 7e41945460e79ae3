package identitymap

import (
	"container/list"
	"sync"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Stats are the hit and miss counters since creation.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Map is a thread-safe, bounded identity map: entities loaded by primary key
// are kept so cascading operations do not reload them. The least recently
// used entry is evicted at capacity.
type Map[K comparable, V any] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List
	mu       sync.Mutex
	hits     uint64
	misses   uint64
}

// New creates a map holding at most capacity entries. It panics on a
// non-positive capacity.
func New[K comparable, V any](capacity int) *Map[K, V] {
	if capacity <= 0 {
		panic("identity map capacity must be positive")
	}
	return &Map[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached value for key and marks it recently used.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.order.MoveToFront(elem)
		m.hits++
		return elem.Value.(*entry[K, V]).value, true
	}
	m.misses++
	var zero V
	return zero, false
}

// Put stores value under key, evicting the least recently used entry when
// the map is full.
func (m *Map[K, V]) Put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.order.MoveToFront(elem)
		elem.Value.(*entry[K, V]).value = value
		return
	}
	m.items[key] = m.order.PushFront(&entry[K, V]{key: key, value: value})
	if m.order.Len() > m.capacity {
		if oldest := m.order.Back(); oldest != nil {
			m.removeElement(oldest)
		}
	}
}

// Remove drops the given keys. Missing keys are ignored.
func (m *Map[K, V]) Remove(keys ...K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		if elem, ok := m.items[key]; ok {
			m.removeElement(elem)
		}
	}
}

// RemoveFunc drops every entry for which fn returns true.
func (m *Map[K, V]) RemoveFunc(fn func(key K, value V) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for elem := m.order.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*entry[K, V])
		if fn(e.key, e.value) {
			m.removeElement(elem)
		}
		elem = next
	}
}

// Flush empties the map.
func (m *Map[K, V]) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[K]*list.Element)
	m.order.Init()
}

func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Map[K, V]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Hits: m.hits, Misses: m.misses, Size: m.order.Len()}
}

// Must be called with lock held.
func (m *Map[K, V]) removeElement(elem *list.Element) {
	m.order.Remove(elem)
	delete(m.items, elem.Value.(*entry[K, V]).key)
}
