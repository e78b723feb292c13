package services

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T, maxSizes map[string]int) (*StockDataCache, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	c := NewStockDataCache(filepath.Join(t.TempDir(), "cache.json"), nil, maxSizes)
	c.now = clock.Now
	return c, clock
}

func TestCacheKeyIgnoresParamOrder(t *testing.T) {
	a := CacheKey("historical", "AAPL", map[string]string{"period": "1mo", "interval": "1d"})
	b := CacheKey("historical", "AAPL", map[string]string{"interval": "1d", "period": "1mo"})
	assert.Equal(t, a, b)

	// Different params produce different keys.
	c := CacheKey("historical", "AAPL", map[string]string{"interval": "5m", "period": "1mo"})
	assert.NotEqual(t, a, c)

	assert.Equal(t, "realtime|AAPL", CacheKey("realtime", "AAPL", nil))
}

func TestCacheGetExpiresByCategory(t *testing.T) {
	c, clock := testCache(t, nil)

	c.Set(CategoryRealtime, "AAPL", nil, "snapshot")
	c.Set(CategoryInfo, "AAPL", nil, "details")

	clock.Advance(61 * time.Second)

	// Past the 60s realtime TTL, inside the 30min info TTL.
	_, ok := c.Get(CategoryRealtime, "AAPL", nil)
	assert.False(t, ok)

	payload, ok := c.Get(CategoryInfo, "AAPL", nil)
	require.True(t, ok)
	assert.Equal(t, "details", payload)
}

func TestCacheSetReplacesEntry(t *testing.T) {
	c, _ := testCache(t, nil)

	c.Set(CategoryRealtime, "AAPL", nil, "old")
	c.Set(CategoryRealtime, "AAPL", nil, "new")

	payload, ok := c.Get(CategoryRealtime, "AAPL", nil)
	require.True(t, ok)
	assert.Equal(t, "new", payload)
	assert.Equal(t, 1, c.Stats().TotalEntries)
}

func TestCacheSizeBoundEvictsOldest(t *testing.T) {
	c, clock := testCache(t, map[string]int{CategoryRealtime: 3})

	c.Set(CategoryRealtime, "A", nil, 1)
	clock.Advance(time.Second)
	c.Set(CategoryRealtime, "B", nil, 2)
	clock.Advance(time.Second)
	c.Set(CategoryRealtime, "C", nil, 3)
	clock.Advance(time.Second)
	c.Set(CategoryRealtime, "D", nil, 4)

	_, ok := c.Get(CategoryRealtime, "A", nil)
	assert.False(t, ok, "oldest entry should be evicted")
	for _, id := range []string{"B", "C", "D"} {
		_, ok := c.Get(CategoryRealtime, id, nil)
		assert.True(t, ok, "entry %s should survive", id)
	}
}

func TestCacheInvalidateFilters(t *testing.T) {
	c, _ := testCache(t, nil)

	c.Set(CategoryRealtime, "AAPL", nil, 1)
	c.Set(CategoryInfo, "AAPL", nil, 2)
	c.Set(CategoryRealtime, "MSFT", nil, 3)

	// Identifier-only removes the ticker across categories.
	assert.Equal(t, 2, c.Invalidate("", "AAPL"))
	_, ok := c.Get(CategoryRealtime, "MSFT", nil)
	assert.True(t, ok)

	// Both filters empty is a no-op.
	assert.Equal(t, 0, c.Invalidate("", ""))
	assert.Equal(t, 1, c.Stats().TotalEntries)
}

func TestCacheClear(t *testing.T) {
	c, _ := testCache(t, nil)

	c.Set(CategoryRealtime, "AAPL", nil, 1)
	c.Set(CategoryInfo, "AAPL", nil, 2)

	assert.Equal(t, 1, c.Clear(CategoryRealtime))
	assert.Equal(t, 1, c.Stats().TotalEntries)

	assert.Equal(t, 1, c.Clear(""))
	assert.Equal(t, 0, c.Stats().TotalEntries)
}

func TestCachePersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	c := NewStockDataCache(path, nil, nil)
	c.Set(CategoryInfo, "AAPL", nil, "details")
	require.NoError(t, c.Flush())

	reloaded := NewStockDataCache(path, nil, nil)
	payload, ok := reloaded.Get(CategoryInfo, "AAPL", nil)
	require.True(t, ok)
	assert.Equal(t, "details", payload)
}

func TestCacheLoadDropsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	// Backdate the write past the 60s realtime TTL so the reload, which
	// runs on the real clock, sees it as expired.
	c := NewStockDataCache(path, nil, nil)
	c.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	c.Set(CategoryRealtime, "AAPL", nil, "stale")
	require.NoError(t, c.Flush())

	reloaded := NewStockDataCache(path, nil, nil)
	_, ok := reloaded.Get(CategoryRealtime, "AAPL", nil)
	assert.False(t, ok)
}

func TestCacheStats(t *testing.T) {
	c, clock := testCache(t, nil)

	c.Set(CategoryRealtime, "AAPL", nil, 1)
	clock.Advance(time.Second)
	c.Set(CategoryRealtime, "MSFT", nil, 2)
	c.Set(CategoryInfo, "AAPL", nil, 3)

	stats := c.Stats()
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 2, stats.ByCategory[CategoryRealtime])
	assert.Equal(t, 1, stats.ByCategory[CategoryInfo])
	assert.NotEmpty(t, stats.OldestEntry)
}
