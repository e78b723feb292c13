package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedScreenerBatch(today time.Time) map[string]map[string]string {
	day := func(offset int) string { return today.AddDate(0, 0, offset).Format("2006-01-02") }
	return map[string]map[string]string{
		"NVDA": {
			ScreenerFieldCompany:     "NVIDIA Corp",
			ScreenerFieldSector:      "Technology",
			ScreenerFieldPrice:       "189.50",
			ScreenerFieldPrevClose:   "185.00",
			ScreenerFieldMarketCap:   "2.5T",
			ScreenerFieldPE:          "45",
			ScreenerFieldEPS:         "4.21",
			ScreenerFieldEarningsDay: day(5),
		},
		"XOM": {
			ScreenerFieldCompany:     "Exxon Mobil",
			ScreenerFieldSector:      "Energy",
			ScreenerFieldPrice:       "112.00",
			ScreenerFieldEarningsDay: day(12),
		},
		"FAR": {
			ScreenerFieldCompany:     "Far Out Inc",
			ScreenerFieldSector:      "Technology",
			ScreenerFieldEarningsDay: day(45),
		},
		"PAST": {
			ScreenerFieldCompany:     "Yesterday Corp",
			ScreenerFieldSector:      "Technology",
			ScreenerFieldEarningsDay: day(-1),
		},
		"ODD": {
			ScreenerFieldCompany:     "Odd Dates Ltd",
			ScreenerFieldSector:      "Technology",
			ScreenerFieldEarningsDay: "soon",
		},
	}
}

func seedMarketData(t *testing.T) *MarketDataService {
	t.Helper()
	screener := &fakeScreener{batch: seedScreenerBatch(DateOnly(time.Now()))}
	m := NewMarketDataService(t.TempDir(), nil, screener, nil, nil)
	require.NoError(t, m.SetUniverse([]TrackedStock{
		{Ticker: "nvda"}, {Ticker: "XOM"}, {Ticker: "FAR"}, {Ticker: "PAST"}, {Ticker: "ODD"},
	}))
	require.NoError(t, m.PopulateMarketData(context.Background()))
	return m
}

func TestPopulateMarketData(t *testing.T) {
	m := seedMarketData(t)

	records, err := m.LoadMarketData()
	require.NoError(t, err)
	require.Len(t, records, 5)

	// Sorted by ticker, numbers parsed from the display strings.
	assert.Equal(t, "FAR", records[0].Ticker)
	var nvda *MarketDataRecord
	for i := range records {
		if records[i].Ticker == "NVDA" {
			nvda = &records[i]
		}
	}
	require.NotNil(t, nvda)
	assert.Equal(t, "NVIDIA Corp", nvda.CompanyName)
	require.NotNil(t, nvda.Price)
	assert.InDelta(t, 189.5, *nvda.Price, 1e-6)
	require.NotNil(t, nvda.MarketCap)
	assert.InDelta(t, 2.5e12, *nvda.MarketCap, 1)
}

func TestDueChecks(t *testing.T) {
	screener := &fakeScreener{batch: seedScreenerBatch(DateOnly(time.Now()))}
	m := NewMarketDataService(t.TempDir(), nil, screener, nil, nil)
	require.NoError(t, m.SetUniverse([]TrackedStock{{Ticker: "NVDA"}}))

	// Nothing has ever run: both jobs are due.
	assert.True(t, m.ShouldPopulateMarketData())
	assert.True(t, m.ShouldPopulateHistory())

	require.NoError(t, m.PopulateMarketData(context.Background()))

	// A fresh run holds the next one off for the full interval; the history
	// job is untouched.
	assert.False(t, m.ShouldPopulateMarketData())
	assert.True(t, m.ShouldPopulateHistory())
}

func TestPopulateMarketDataRequiresUniverse(t *testing.T) {
	m := NewMarketDataService(t.TempDir(), nil, &fakeScreener{}, nil, nil)
	assert.Error(t, m.PopulateMarketData(context.Background()))
}

func TestBuildEarningSummaryWindow(t *testing.T) {
	m := seedMarketData(t)

	entries, err := m.BuildEarningSummary("")
	require.NoError(t, err)

	byTicker := map[string]EarningSummaryEntry{}
	for _, e := range entries {
		byTicker[e.Ticker] = e
	}

	assert.Contains(t, byTicker, "NVDA", "earnings inside the 30-day window")
	assert.Contains(t, byTicker, "XOM")
	assert.Contains(t, byTicker, "ODD", "unparseable dates stay in the canonical set")
	assert.NotContains(t, byTicker, "FAR", "earnings beyond the window")
	assert.NotContains(t, byTicker, "PAST", "earnings in the past")

	nvda := byTicker["NVDA"]
	assert.Equal(t, "$2.50T", nvda.MarketCap)
	assert.Equal(t, ReportedField("$189.50"), nvda.CurrentPrice)
	assert.Equal(t, ReportedField("$4.21"), nvda.ExpectedEPS)

	// No reported actuals yet, so no verdict.
	assert.Equal(t, UnavailableField(), nvda.ActualEPS)
	assert.Equal(t, Unavailable, nvda.BeatExpectation)
	assert.Equal(t, Unavailable, nvda.PercentageDifference)
}

func TestBuildEarningSummarySectorFilter(t *testing.T) {
	m := seedMarketData(t)

	entries, err := m.BuildEarningSummary("Energy")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "XOM", entries[0].Ticker)

	// Comma-separated filters union, case-insensitively.
	entries, err = m.BuildEarningSummary("energy, technology")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestBuildEarningSummaryWithoutStore(t *testing.T) {
	m := NewMarketDataService(t.TempDir(), nil, &fakeScreener{}, nil, nil)
	_, err := m.BuildEarningSummary("")
	assert.Error(t, err)
}
