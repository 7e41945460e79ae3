package identitymap_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makinacorpus/apubsub-sub000/pkg/identitymap"
)

func TestMap_GetPut(t *testing.T) {
	m := identitymap.New[int64, string](3)

	m.Put(1, "a")
	m.Put(2, "b")

	v, ok := m.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = m.Get(42)
	assert.False(t, ok)

	m.Put(1, "updated")
	v, _ = m.Get(1)
	assert.Equal(t, "updated", v)
	assert.Equal(t, 2, m.Len())

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 2, stats.Size)
}

func TestMap_EvictsLeastRecentlyUsed(t *testing.T) {
	m := identitymap.New[string, int](2)

	m.Put("a", 1)
	m.Put("b", 2)
	_, _ = m.Get("a")
	m.Put("c", 3)

	_, ok := m.Get("b")
	assert.False(t, ok, "b was the least recently used entry")
	_, ok = m.Get("a")
	assert.True(t, ok)
	_, ok = m.Get("c")
	assert.True(t, ok)
}

func TestMap_Invalidation(t *testing.T) {
	t.Run("remove selected keys", func(t *testing.T) {
		m := identitymap.New[int64, string](10)
		for i := range int64(5) {
			m.Put(i, "x")
		}
		m.Remove(1, 3, 99)
		assert.Equal(t, 3, m.Len())
		_, ok := m.Get(3)
		assert.False(t, ok)
	})

	t.Run("remove by predicate", func(t *testing.T) {
		m := identitymap.New[int64, string](10)
		m.Put(1, "foo")
		m.Put(2, "bar")
		m.Put(3, "foo")
		m.RemoveFunc(func(_ int64, channel string) bool { return channel == "foo" })
		assert.Equal(t, 1, m.Len())
		_, ok := m.Get(2)
		assert.True(t, ok)
	})

	t.Run("flush", func(t *testing.T) {
		m := identitymap.New[int64, string](10)
		m.Put(1, "a")
		m.Put(2, "b")
		m.Flush()
		assert.Equal(t, 0, m.Len())
		m.Put(3, "c")
		assert.Equal(t, 1, m.Len())
	})
}

func TestMap_PanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { identitymap.New[int, int](0) })
}

func TestMap_Concurrent(t *testing.T) {
	m := identitymap.New[int, int](64)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 200 {
				m.Put(w*1000+i, i)
				m.Get(w*1000 + i/2)
				if i%50 == 0 {
					m.Remove(w*1000 + i)
				}
			}
		}(w)
	}
	wg.Wait()
	require.LessOrEqual(t, m.Len(), 64)
}
