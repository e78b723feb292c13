package services

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxSummaryPerPage bounds the page size a caller can request.
const maxSummaryPerPage = 500

// Summary periods. Only the 1M window is ever fetched and stored (the
// canonical period); 1D and 1W are derived from it by date filtering, so a
// day costs at most one expensive canonical fetch per sector combination.
const (
	Period1D = "1D"
	Period1W = "1W"
	Period1M = "1M"

	canonicalPeriod = Period1M
)

// periodDays maps a period to the inclusive forward window [today,
// today+N] used when deriving it from the canonical result set.
var periodDays = map[string]int{
	Period1D: 0,
	Period1W: 7,
	Period1M: 30,
}

// EarningSummaryEntry is one row of the earnings summary dataset.
type EarningSummaryEntry struct {
	Ticker               string `json:"ticker"`
	CompanyName          string `json:"company_name"`
	Sector               string `json:"sector"`
	MarketCap            string `json:"market_cap"`
	EarningDate          string `json:"earning_date"`
	CurrentPrice         Field  `json:"current_price"`
	ActualEPS            Field  `json:"actual_eps"`
	ExpectedEPS          Field  `json:"expected_eps"`
	ActualRevenue        Field  `json:"actual_revenue"`
	ExpectedRevenue      Field  `json:"expected_revenue"`
	BeatExpectation      string `json:"beat_expectation"`
	PercentageDifference string `json:"percentage_difference"`
}

// SummaryPage is the pagination envelope every summary query returns,
// including empty and degraded results.
type SummaryPage struct {
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
	Total   int                   `json:"total"`
	Results []EarningSummaryEntry `json:"results"`
}

// FetchSummaryFunc fetches the FULL canonical-period result set for the
// given sector filter (empty = all sectors). Supplied by the orchestrator.
type FetchSummaryFunc func(sectors string) ([]EarningSummaryEntry, error)

// EarningSummaryCacheStatus reports cache freshness for the admin API.
type EarningSummaryCacheStatus struct {
	CacheDate        string `json:"cache_date,omitempty"`
	LastUpdated      string `json:"last_updated,omitempty"`
	IsValid          bool   `json:"is_valid"`
	CanonicalResults int    `json:"canonical_results"`
	SectorCacheCount int    `json:"sector_cache_count"`
}

type sectorCacheEntry struct {
	Results     []EarningSummaryEntry `json:"results"`
	LastUpdated string                `json:"last_updated"`
	Sectors     string                `json:"sectors"`
}

// Persisted snapshot layout for the period cache.
type persistedSummaryFile struct {
	LastUpdated string                      `json:"last_updated"`
	CacheDate   string                      `json:"cache_date"`
	Periods     map[string]sectorCacheEntry `json:"periods"`
	SectorCache map[string]sectorCacheEntry `json:"sector_cache"`
}

// EarningSummaryCache caches the earnings summary dataset keyed by calendar
// date. The whole entry (canonical set plus sector subindex) is valid only
// while the cache date equals today; the first access after a date rollover
// refetches, regardless of how recently the entry was written.
type EarningSummaryCache struct {
	mu          sync.RWMutex
	filePath    string
	cacheDate   string // "2006-01-02"; empty means no entry
	lastUpdated string
	canonical   []EarningSummaryEntry
	hasCanon    bool
	sectorCache map[string]sectorCacheEntry

	fetch FetchSummaryFunc

	// Per-sector-filter locks so concurrent misses for the same canonical
	// fetch collapse to one provider round trip.
	flightMu sync.Mutex
	flights  map[string]*sync.Mutex

	now func() time.Time
}

// NewEarningSummaryCache creates the cache, loading any persisted snapshot.
func NewEarningSummaryCache(filePath string, fetch FetchSummaryFunc) *EarningSummaryCache {
	c := &EarningSummaryCache{
		filePath:    filePath,
		sectorCache: make(map[string]sectorCacheEntry),
		fetch:       fetch,
		flights:     make(map[string]*sync.Mutex),
		now:         time.Now,
	}
	if err := c.loadFromFile(); err != nil {
		log.Printf("Earning summary cache: starting fresh (%v)", err)
	}
	return c
}

func (c *EarningSummaryCache) today() string {
	return DateOnly(c.now()).Format("2006-01-02")
}

func sectorKey(sectors string) string {
	return canonicalPeriod + "_" + sectors
}

// GetOrFetch returns the paginated summary for the requested period,
// fetching and caching the canonical dataset when the entry is missing or
// dated before today.
func (c *EarningSummaryCache) GetOrFetch(period, sectors string, page, perPage int) (SummaryPage, error) {
	if _, ok := periodDays[period]; !ok {
		return emptyPage(page, perPage), fmt.Errorf("unknown period %q (expected 1D, 1W or 1M): %w", period, ErrInvalidPeriod)
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > maxSummaryPerPage {
		perPage = maxSummaryPerPage
	}

	if results, ok := c.lookup(sectors); ok {
		return c.derive(results, period, page, perPage), nil
	}

	// Miss: serialize concurrent fetches of the same sector combination.
	flight := c.flightLock(sectors)
	flight.Lock()
	defer flight.Unlock()

	// Another request may have completed the fetch while we waited.
	if results, ok := c.lookup(sectors); ok {
		return c.derive(results, period, page, perPage), nil
	}

	log.Printf("Earning summary cache: miss for period %s sectors %q, fetching canonical %s dataset",
		period, sectors, canonicalPeriod)
	results, err := c.fetch(sectors)
	if err != nil {
		log.Printf("Earning summary cache: canonical fetch failed: %v", err)
		return emptyPage(page, perPage), err
	}
	c.store(sectors, results)

	return c.derive(results, period, page, perPage), nil
}

// lookup returns the stored canonical result set for the sector filter if
// the entry is valid for today.
func (c *EarningSummaryCache) lookup(sectors string) ([]EarningSummaryEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cacheDate != c.today() {
		return nil, false
	}
	if sectors != "" {
		entry, ok := c.sectorCache[sectorKey(sectors)]
		if !ok || entry.Results == nil {
			return nil, false
		}
		return entry.Results, true
	}
	if !c.hasCanon {
		return nil, false
	}
	return c.canonical, true
}

func (c *EarningSummaryCache) store(sectors string, results []EarningSummaryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := c.today()
	if c.cacheDate != today {
		// Date rollover invalidates the whole entry, sector subindex included.
		c.canonical = nil
		c.hasCanon = false
		c.sectorCache = make(map[string]sectorCacheEntry)
	}
	now := c.now().Format(time.RFC3339)
	c.cacheDate = today
	c.lastUpdated = now

	if sectors != "" {
		c.sectorCache[sectorKey(sectors)] = sectorCacheEntry{
			Results:     results,
			LastUpdated: now,
			Sectors:     sectors,
		}
	} else {
		c.canonical = results
		c.hasCanon = true
	}

	if err := c.saveLocked(); err != nil {
		log.Printf("Earning summary cache: error saving snapshot: %v", err)
	}
}

// derive filters the canonical result set down to the requested period and
// paginates. Records whose earning date cannot be parsed stay in the
// canonical set but never match a narrower window.
func (c *EarningSummaryCache) derive(results []EarningSummaryEntry, period string, page, perPage int) SummaryPage {
	filtered := results
	if period != canonicalPeriod {
		days := periodDays[period]
		start := DateOnly(c.now())
		end := start.AddDate(0, 0, days)

		filtered = make([]EarningSummaryEntry, 0, len(results))
		for _, entry := range results {
			d, err := ParseProviderDate(entry.EarningDate)
			if err != nil {
				continue
			}
			day := DateOnly(d)
			if day.Before(start) || day.After(end) {
				continue
			}
			filtered = append(filtered, entry)
		}
	}

	total := len(filtered)
	// A page whose offset is not even representable is past the end by
	// definition.
	if page-1 > 0 && perPage > math.MaxInt/(page-1) {
		return SummaryPage{Page: page, PerPage: perPage, Total: total, Results: []EarningSummaryEntry{}}
	}
	start := (page - 1) * perPage
	if start < 0 || start >= total {
		return SummaryPage{Page: page, PerPage: perPage, Total: total, Results: []EarningSummaryEntry{}}
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return SummaryPage{Page: page, PerPage: perPage, Total: total, Results: filtered[start:end]}
}

func emptyPage(page, perPage int) SummaryPage {
	return SummaryPage{Page: page, PerPage: perPage, Total: 0, Results: []EarningSummaryEntry{}}
}

func (c *EarningSummaryCache) flightLock(sectors string) *sync.Mutex {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	lock, ok := c.flights[sectors]
	if !ok {
		lock = &sync.Mutex{}
		c.flights[sectors] = lock
	}
	return lock
}

// InvalidateAll clears the canonical entry, every sector subindex entry and
// the cache date. Safe to call repeatedly.
func (c *EarningSummaryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.canonical = nil
	c.hasCanon = false
	c.sectorCache = make(map[string]sectorCacheEntry)
	c.cacheDate = ""
	c.lastUpdated = ""
	if err := c.saveLocked(); err != nil {
		log.Printf("Earning summary cache: error saving snapshot: %v", err)
	}
	log.Println("Earning summary cache cleared")
}

// PreWarm populates the canonical entry and one subindex entry per sector.
// Intended for the scheduler, not the request path; individual failures are
// logged and skipped.
func (c *EarningSummaryCache) PreWarm(sectors []string) {
	log.Println("Pre-warming earning summary cache...")
	if _, err := c.GetOrFetch(canonicalPeriod, "", 1, 1); err != nil {
		log.Printf("Error pre-warming canonical period: %v", err)
	}
	for _, sector := range sectors {
		if _, err := c.GetOrFetch(canonicalPeriod, sector, 1, 1); err != nil {
			log.Printf("Error pre-warming sector %s: %v", sector, err)
		}
	}
	log.Println("Earning summary cache pre-warming completed")
}

// Status reports freshness information.
func (c *EarningSummaryCache) Status() EarningSummaryCacheStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return EarningSummaryCacheStatus{
		CacheDate:        c.cacheDate,
		LastUpdated:      c.lastUpdated,
		IsValid:          c.cacheDate == c.today() && c.hasCanon,
		CanonicalResults: len(c.canonical),
		SectorCacheCount: len(c.sectorCache),
	}
}

func (c *EarningSummaryCache) saveLocked() error {
	if c.filePath == "" {
		return nil
	}
	out := persistedSummaryFile{
		LastUpdated: c.lastUpdated,
		CacheDate:   c.cacheDate,
		Periods:     make(map[string]sectorCacheEntry),
		SectorCache: c.sectorCache,
	}
	if c.hasCanon {
		out.Periods[canonicalPeriod] = sectorCacheEntry{
			Results:     c.canonical,
			LastUpdated: c.lastUpdated,
		}
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary cache: %w", err)
	}
	if err := os.WriteFile(c.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary cache: %w", err)
	}
	return nil
}

func (c *EarningSummaryCache) loadFromFile() error {
	if c.filePath == "" {
		return fmt.Errorf("no cache file configured")
	}
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		return fmt.Errorf("no cache file: %w", err)
	}
	var in persistedSummaryFile
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("failed to parse summary cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheDate = in.CacheDate
	c.lastUpdated = in.LastUpdated
	if entry, ok := in.Periods[canonicalPeriod]; ok && entry.Results != nil {
		c.canonical = entry.Results
		c.hasCanon = true
	}
	if in.SectorCache != nil {
		c.sectorCache = in.SectorCache
	}
	log.Printf("Earning summary cache: loaded snapshot dated %q from %s", c.cacheDate, c.filePath)
	return nil
}
