package services

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryEntryOn(ticker string, day time.Time) EarningSummaryEntry {
	return EarningSummaryEntry{
		Ticker:      ticker,
		EarningDate: day.Format("2006-01-02"),
	}
}

// testSummaryCache builds a cache on a fake clock whose fetch function
// serves a fixed canonical set and counts invocations.
func testSummaryCache(t *testing.T, canonical []EarningSummaryEntry) (*EarningSummaryCache, *fakeClock, *int) {
	t.Helper()
	clock := newFakeClock()
	calls := 0
	c := NewEarningSummaryCache(filepath.Join(t.TempDir(), "summary.json"), func(sectors string) ([]EarningSummaryEntry, error) {
		calls++
		return canonical, nil
	})
	c.now = clock.Now
	return c, clock, &calls
}

func TestSummaryDerivesNarrowPeriods(t *testing.T) {
	clock := newFakeClock()
	today := DateOnly(clock.Now())
	canonical := []EarningSummaryEntry{
		summaryEntryOn("TODAY", today),
		summaryEntryOn("DAY3", today.AddDate(0, 0, 3)),
		summaryEntryOn("DAY10", today.AddDate(0, 0, 10)),
		{Ticker: "NODATE", EarningDate: Unavailable},
	}
	c, _, _ := testSummaryCache(t, canonical)

	oneMonth, err := c.GetOrFetch(Period1M, "", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 4, oneMonth.Total, "canonical period keeps unparseable dates")

	oneWeek, err := c.GetOrFetch(Period1W, "", 1, 50)
	require.NoError(t, err)
	require.Equal(t, 2, oneWeek.Total)
	assert.Equal(t, "TODAY", oneWeek.Results[0].Ticker)
	assert.Equal(t, "DAY3", oneWeek.Results[1].Ticker)

	oneDay, err := c.GetOrFetch(Period1D, "", 1, 50)
	require.NoError(t, err)
	require.Equal(t, 1, oneDay.Total)
	assert.Equal(t, "TODAY", oneDay.Results[0].Ticker)
}

func TestSummaryDerivationNeverRefetches(t *testing.T) {
	clock := newFakeClock()
	today := DateOnly(clock.Now())
	c, _, calls := testSummaryCache(t, []EarningSummaryEntry{summaryEntryOn("AAPL", today)})

	for _, period := range []string{Period1M, Period1W, Period1D, Period1W} {
		_, err := c.GetOrFetch(period, "", 1, 10)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, *calls)
}

func TestSummaryInvalidPeriod(t *testing.T) {
	c, _, calls := testSummaryCache(t, nil)

	page, err := c.GetOrFetch("6M", "", 1, 10)
	require.ErrorIs(t, err, ErrInvalidPeriod)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Results)
	assert.Equal(t, 0, *calls, "invalid period never reaches the fetcher")
}

func TestSummaryPaginationBeyondEnd(t *testing.T) {
	clock := newFakeClock()
	today := DateOnly(clock.Now())
	var canonical []EarningSummaryEntry
	for i := 0; i < 5; i++ {
		canonical = append(canonical, summaryEntryOn(fmt.Sprintf("T%d", i), today))
	}
	c, _, _ := testSummaryCache(t, canonical)

	page, err := c.GetOrFetch(Period1M, "", 100, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Empty(t, page.Results)
	assert.Equal(t, 100, page.Page)

	// Last partial page.
	page, err = c.GetOrFetch(Period1M, "", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Results, 2)
}

func TestSummaryPaginationExtremeValues(t *testing.T) {
	clock := newFakeClock()
	today := DateOnly(clock.Now())
	var canonical []EarningSummaryEntry
	for i := 0; i < 5; i++ {
		canonical = append(canonical, summaryEntryOn(fmt.Sprintf("T%d", i), today))
	}
	c, _, _ := testSummaryCache(t, canonical)

	// A page whose offset would overflow the multiplication must answer an
	// empty page, not panic.
	page, err := c.GetOrFetch(Period1M, "", 922337203685477580, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Empty(t, page.Results)

	page, err = c.GetOrFetch(Period1M, "", math.MaxInt, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Empty(t, page.Results)

	// An oversized page size is clamped, not honored blindly.
	page, err = c.GetOrFetch(Period1M, "", 1, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, maxSummaryPerPage, page.PerPage)
	assert.Len(t, page.Results, 5)
}

func TestSummaryDateRolloverRefetches(t *testing.T) {
	today := DateOnly(newFakeClock().Now())
	c, cacheClock, calls := testSummaryCache(t, []EarningSummaryEntry{summaryEntryOn("AAPL", today)})

	_, err := c.GetOrFetch(Period1M, "", 1, 10)
	require.NoError(t, err)
	_, err = c.GetOrFetch(Period1M, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)

	// The entry is stale the moment the calendar date changes even though
	// barely any time passed.
	cacheClock.Advance(24 * time.Hour)
	_, err = c.GetOrFetch(Period1M, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
}

func TestSummarySectorSubindex(t *testing.T) {
	clock := newFakeClock()
	today := DateOnly(clock.Now())
	var gotSectors []string
	c := NewEarningSummaryCache("", func(sectors string) ([]EarningSummaryEntry, error) {
		gotSectors = append(gotSectors, sectors)
		return []EarningSummaryEntry{summaryEntryOn("NVDA", today)}, nil
	})
	c.now = clock.Now

	_, err := c.GetOrFetch(Period1M, "Technology", 1, 10)
	require.NoError(t, err)
	_, err = c.GetOrFetch(Period1M, "Technology", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Technology"}, gotSectors, "second hit serves from the subindex")

	// A different sector filter is its own entry; the unfiltered canonical
	// entry is separate again.
	_, err = c.GetOrFetch(Period1M, "Energy", 1, 10)
	require.NoError(t, err)
	_, err = c.GetOrFetch(Period1M, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Technology", "Energy", ""}, gotSectors)

	status := c.Status()
	assert.Equal(t, 2, status.SectorCacheCount)
	assert.True(t, status.IsValid)
}

func TestSummaryInvalidateAllIdempotent(t *testing.T) {
	clock := newFakeClock()
	today := DateOnly(clock.Now())
	c, _, calls := testSummaryCache(t, []EarningSummaryEntry{summaryEntryOn("AAPL", today)})

	_, err := c.GetOrFetch(Period1M, "", 1, 10)
	require.NoError(t, err)

	c.InvalidateAll()
	c.InvalidateAll()
	assert.False(t, c.Status().IsValid)

	_, err = c.GetOrFetch(Period1M, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
}

func TestSummarySingleFlight(t *testing.T) {
	clock := newFakeClock()
	today := DateOnly(clock.Now())

	var mu sync.Mutex
	calls := 0
	c := NewEarningSummaryCache("", func(sectors string) ([]EarningSummaryEntry, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return []EarningSummaryEntry{summaryEntryOn("AAPL", today)}, nil
	})
	c.now = clock.Now

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrFetch(Period1M, "", 1, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls, "concurrent misses collapse to one fetch")
}

func TestSummaryPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	today := DateOnly(time.Now())

	calls := 0
	fetch := func(sectors string) ([]EarningSummaryEntry, error) {
		calls++
		return []EarningSummaryEntry{summaryEntryOn("AAPL", today)}, nil
	}

	c := NewEarningSummaryCache(path, fetch)
	_, err := c.GetOrFetch(Period1M, "", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// A fresh process on the same day serves from the snapshot.
	reloaded := NewEarningSummaryCache(path, fetch)
	page, err := reloaded.GetOrFetch(Period1M, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, calls)
}
