package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerCache_SetAndGet(t *testing.T) {
	cache := NewMarkerCache()

	cache.Set("stu-1", "marker-1")

	h, ok := cache.Get("stu-1")
	require.True(t, ok, "expected to find stu-1")
	assert.Equal(t, "marker-1", h)
	assert.Equal(t, 1, cache.Len())
}

func TestMarkerCache_Get_NotFound(t *testing.T) {
	cache := NewMarkerCache()

	_, ok := cache.Get("nobody")
	assert.False(t, ok)
}

func TestMarkerCache_Delete(t *testing.T) {
	cache := NewMarkerCache()

	cache.Set("stu-1", "m1")
	cache.Set("stu-2", "m2")
	cache.Delete("stu-1")
	cache.Delete("nobody")

	_, ok := cache.Get("stu-1")
	assert.False(t, ok)
	_, ok = cache.Get("stu-2")
	assert.True(t, ok, "expected stu-2 to still exist")
}

func TestMarkerCache_Drain(t *testing.T) {
	cache := NewMarkerCache()

	cache.Set("stu-1", "m1")
	cache.Set("stu-2", "m2")

	drained := cache.Drain()
	assert.Equal(t, map[string]string{"stu-1": "m1", "stu-2": "m2"}, drained)
	assert.Zero(t, cache.Len())

	cache.Set("stu-3", "m3")
	_, ok := cache.Get("stu-3")
	assert.True(t, ok, "expected to find stu-3 after drain")
}

func TestMarkerCache_OverwriteExisting(t *testing.T) {
	cache := NewMarkerCache()

	cache.Set("stu-1", "m1")
	cache.Set("stu-1", "m100")

	h, ok := cache.Get("stu-1")
	require.True(t, ok)
	assert.Equal(t, "m100", h)
}

func TestMarkerCache_Concurrent(t *testing.T) {
	cache := NewMarkerCache()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("stu-%d", id%26)
			cache.Set(key, fmt.Sprintf("m%d", id))
			cache.Get(key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 26, cache.Len())

	for i := 0; i < 26; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			cache.Delete(fmt.Sprintf("stu-%d", id))
		}(i)
	}
	wg.Wait()
	assert.Zero(t, cache.Len())
}
