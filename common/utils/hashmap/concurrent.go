package hashmap

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// ConcurrentMap is a sharded, string-keyed hash map safe for concurrent use.
type ConcurrentMap[K comparable, V comparable] struct {
	backend cmap.ConcurrentMap[K, V]
}

func NewConcurrentMap[V comparable](shards int) *ConcurrentMap[string, V] {
	cmap.SHARD_COUNT = shards
	return &ConcurrentMap[string, V]{
		backend: cmap.New[V](),
	}
}

func (m *ConcurrentMap[K, V]) Delete(key K) {
	m.backend.Remove(key)
}

func (m *ConcurrentMap[K, V]) Load(key K) (ret V, ok bool) {
	var val interface{}
	val, ok = m.backend.Get(key)
	ret, _ = val.(V)
	return
}

func (m *ConcurrentMap[K, V]) LoadOrStore(key K, value V) (V, bool) {
	set := m.backend.SetIfAbsent(key, value)
	if set {
		return value, false
	} else {
		return m.Load(key)
	}
}

func (m *ConcurrentMap[K, V]) Range(cb func(K, V) bool) {
	next := true
	for item := range m.backend.IterBuffered() {
		if next {
			next = cb(K(item.Key), item.Val)
		}
		// iterate over all items to drain the channel
	}
}

func (m *ConcurrentMap[K, V]) Store(key K, val V) {
	m.backend.Set(key, val)
}

func (m *ConcurrentMap[K, V]) Len() int {
	return m.backend.Count()
}
