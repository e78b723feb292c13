package services

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Cache categories. TTLs and size bounds are per category; unknown
// categories fall back to the defaults.
const (
	CategoryRealtime   = "realtime"
	CategoryDaily      = "daily"
	CategoryHistorical = "historical"
	CategoryInfo       = "info"
	CategoryBatch      = "batch"
	CategorySentiment  = "sentiment"
	CategoryEarnings   = "earnings"

	DefaultCacheTTL     = 5 * time.Minute
	DefaultCacheMaxSize = 100

	// Persist the cache snapshot every flushEvery writes rather than on
	// each mutation, to bound file I/O.
	flushEvery = 100
)

func defaultTTLTable() map[string]time.Duration {
	return map[string]time.Duration{
		CategoryRealtime:   60 * time.Second,
		CategoryDaily:      5 * time.Minute,
		CategoryHistorical: time.Hour,
		CategoryInfo:       30 * time.Minute,
		CategoryBatch:      2 * time.Minute,
		CategorySentiment:  2 * time.Hour,
		CategoryEarnings:   24 * time.Hour,
	}
}

func defaultSizeTable() map[string]int {
	return map[string]int{
		CategoryRealtime:   1000,
		CategoryDaily:      500,
		CategoryHistorical: 200,
		CategoryInfo:       300,
		CategoryBatch:      100,
		CategorySentiment:  100,
		CategoryEarnings:   50,
	}
}

type cacheEntry struct {
	Payload    interface{}
	Category   string
	Identifier string
	CreatedAt  time.Time
}

// CacheStats summarizes the cache contents.
type CacheStats struct {
	TotalEntries int            `json:"total_entries"`
	ByCategory   map[string]int `json:"by_category"`
	OldestEntry  string         `json:"oldest_entry,omitempty"`
	NewestEntry  string         `json:"newest_entry,omitempty"`
}

// Persisted snapshot layout. The file is a plain snapshot, not a log; a
// crash between mutation and flush loses only unflushed writes, all of which
// are re-derivable from the providers.
type persistedCacheFile struct {
	Cache       map[string]persistedCacheEntry `json:"cache"`
	LastUpdated string                         `json:"last_updated"`
}

type persistedCacheEntry struct {
	Data       json.RawMessage `json:"data"`
	Category   string          `json:"data_type"`
	Identifier string          `json:"identifier"`
	CreatedAt  time.Time       `json:"created_at"`
}

// StockDataCache is a passive keyed store mapping (category, identifier,
// params) to a payload with per-category TTL and size bounds. It never
// fetches; the orchestrator owns misses.
type StockDataCache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	ttls     map[string]time.Duration
	maxSizes map[string]int
	filePath string
	writes   int

	now func() time.Time
}

// NewStockDataCache creates a cache persisted to filePath and loads any
// existing snapshot, discarding entries whose TTL already elapsed. Passing
// nil tables selects the defaults.
func NewStockDataCache(filePath string, ttls map[string]time.Duration, maxSizes map[string]int) *StockDataCache {
	if ttls == nil {
		ttls = defaultTTLTable()
	}
	if maxSizes == nil {
		maxSizes = defaultSizeTable()
	}
	c := &StockDataCache{
		entries:  make(map[string]cacheEntry),
		ttls:     ttls,
		maxSizes: maxSizes,
		filePath: filePath,
		now:      time.Now,
	}
	if err := c.loadFromFile(); err != nil {
		log.Printf("Cache: starting fresh (%v)", err)
	}
	return c
}

// CacheKey builds the composite key from typed parts. Parameter order never
// affects the key: params are sorted by name.
func CacheKey(category, identifier string, params map[string]string) string {
	if len(params) == 0 {
		return category + "|" + identifier
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+params[name])
	}
	return category + "|" + identifier + "|" + strings.Join(parts, "&")
}

func (c *StockDataCache) ttl(category string) time.Duration {
	if ttl, ok := c.ttls[category]; ok {
		return ttl
	}
	return DefaultCacheTTL
}

func (c *StockDataCache) maxSize(category string) int {
	if size, ok := c.maxSizes[category]; ok {
		return size
	}
	return DefaultCacheMaxSize
}

// Get returns the payload for a live entry, or (nil, false). A stale entry
// found under the key is removed on the way out.
func (c *StockDataCache) Get(category, identifier string, params map[string]string) (interface{}, bool) {
	key := CacheKey(category, identifier, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.CreatedAt) >= c.ttl(entry.Category) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.Payload, true
}

// Set creates or replaces the entry, evicting the oldest entries of the
// category first when it is full.
func (c *StockDataCache) Set(category, identifier string, params map[string]string, payload interface{}) {
	key := CacheKey(category, identifier, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.enforceSizeLocked(category)
	c.entries[key] = cacheEntry{
		Payload:    payload,
		Category:   category,
		Identifier: identifier,
		CreatedAt:  c.now(),
	}

	c.writes++
	if c.writes%flushEvery == 0 {
		if err := c.saveLocked(); err != nil {
			log.Printf("Cache: error saving snapshot: %v", err)
		}
	}
}

// enforceSizeLocked evicts expired then oldest entries of category until one
// slot below the maximum is free.
func (c *StockDataCache) enforceSizeLocked(category string) {
	max := c.maxSize(category)
	ttl := c.ttl(category)
	now := c.now()

	type keyedAge struct {
		key       string
		createdAt time.Time
	}
	var live []keyedAge
	for key, entry := range c.entries {
		if entry.Category != category {
			continue
		}
		if now.Sub(entry.CreatedAt) >= ttl {
			delete(c.entries, key)
			continue
		}
		live = append(live, keyedAge{key, entry.CreatedAt})
	}
	if len(live) < max {
		return
	}

	sort.Slice(live, func(i, j int) bool { return live[i].createdAt.Before(live[j].createdAt) })
	evict := len(live) - max + 1
	for _, item := range live[:evict] {
		delete(c.entries, item.key)
	}
	log.Printf("Cache: evicted %d oldest %s entries", evict, category)
}

// Invalidate removes entries matching the given filters. Both filters empty
// is a no-op; use Clear for wholesale removal.
func (c *StockDataCache) Invalidate(category, identifier string) int {
	if category == "" && identifier == "" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if category != "" && entry.Category != category {
			continue
		}
		if identifier != "" && entry.Identifier != identifier {
			continue
		}
		delete(c.entries, key)
		removed++
	}
	log.Printf("Cache: invalidated %d entries (category=%q identifier=%q)", removed, category, identifier)
	return removed
}

// Clear removes every entry of the category, or everything when category is
// empty.
func (c *StockDataCache) Clear(category string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == "" {
		removed := len(c.entries)
		c.entries = make(map[string]cacheEntry)
		log.Printf("Cache: cleared all %d entries", removed)
		return removed
	}
	removed := 0
	for key, entry := range c.entries {
		if entry.Category == category {
			delete(c.entries, key)
			removed++
		}
	}
	log.Printf("Cache: cleared %d %s entries", removed, category)
	return removed
}

// Stats returns entry counts and age bounds.
func (c *StockDataCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		TotalEntries: len(c.entries),
		ByCategory:   make(map[string]int),
	}
	var oldest, newest time.Time
	for _, entry := range c.entries {
		stats.ByCategory[entry.Category]++
		if oldest.IsZero() || entry.CreatedAt.Before(oldest) {
			oldest = entry.CreatedAt
		}
		if newest.IsZero() || entry.CreatedAt.After(newest) {
			newest = entry.CreatedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestEntry = oldest.Format(time.RFC3339)
		stats.NewestEntry = newest.Format(time.RFC3339)
	}
	return stats
}

// Flush writes the snapshot file immediately.
func (c *StockDataCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *StockDataCache) saveLocked() error {
	if c.filePath == "" {
		return nil
	}
	out := persistedCacheFile{
		Cache:       make(map[string]persistedCacheEntry, len(c.entries)),
		LastUpdated: c.now().Format(time.RFC3339),
	}
	for key, entry := range c.entries {
		data, err := json.Marshal(entry.Payload)
		if err != nil {
			log.Printf("Cache: skipping unserializable entry %s: %v", key, err)
			continue
		}
		out.Cache[key] = persistedCacheEntry{
			Data:       data,
			Category:   entry.Category,
			Identifier: entry.Identifier,
			CreatedAt:  entry.CreatedAt,
		}
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	if err := os.WriteFile(c.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	log.Printf("Cache: saved %d entries to %s", len(out.Cache), c.filePath)
	return nil
}

func (c *StockDataCache) loadFromFile() error {
	if c.filePath == "" {
		return fmt.Errorf("no cache file configured")
	}
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		return fmt.Errorf("no cache file: %w", err)
	}
	var in persistedCacheFile
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("failed to parse cache file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	loaded := 0
	for key, entry := range in.Cache {
		if now.Sub(entry.CreatedAt) >= c.ttl(entry.Category) {
			continue
		}
		var payload interface{}
		if err := json.Unmarshal(entry.Data, &payload); err != nil {
			continue
		}
		c.entries[key] = cacheEntry{
			Payload:    payload,
			Category:   entry.Category,
			Identifier: entry.Identifier,
			CreatedAt:  entry.CreatedAt,
		}
		loaded++
	}
	log.Printf("Cache: loaded %d live entries from %s", loaded, c.filePath)
	return nil
}
