package services

import (
	"context"
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

const (
	stocksFileName     = "stocks.json"
	marketDataFileName = "marketdata.json"
	historyFileName    = "stockhistory.json"
	timestampsFileName = "cache_timestamps.json"

	timestampHistory    = "history"
	timestampMarketData = "market_data"

	screenerBatchSize = 50
)

// Default refresh budgets enforced by the due-checks. The scheduler polls
// far more often than these fire.
const (
	DefaultHistoryInterval    = 24 * time.Hour
	DefaultMarketDataInterval = 60 * time.Second
)

// TrackedStock is one row of the tracked universe file.
type TrackedStock struct {
	Ticker      string `json:"ticker"`
	CompanyName string `json:"company_name,omitempty"`
	Sector      string `json:"sector,omitempty"`
}

// MarketDataRecord is one ticker's screener-derived row in the market data
// store. Raw numeric values are kept so the summary builder can format and
// compare without reparsing display strings.
type MarketDataRecord struct {
	Ticker        string   `json:"ticker"`
	CompanyName   string   `json:"company_name"`
	Sector        string   `json:"sector"`
	Price         *float64 `json:"price"`
	PreviousClose *float64 `json:"previous_close"`
	MarketCap     *float64 `json:"market_cap"`
	PERatio       *float64 `json:"pe_ratio"`
	EPS           *float64 `json:"eps"`
	EarningDate   string   `json:"earning_date"`
	UpdatedAt     string   `json:"updated_at"`
}

// MarketDataService owns the tracked-universe datasets on disk and the two
// population jobs the scheduler drives. Both stores are plain JSON files
// under the data directory, guarded by one lock.
type MarketDataService struct {
	mu      sync.RWMutex
	dataDir string

	dataService *StockDataService
	screener    ScreenerSource
	archive     *MongoArchive   // optional
	stream      *RealtimeStream // optional

	historyInterval    time.Duration
	marketDataInterval time.Duration

	universe []TrackedStock
	now      func() time.Time
}

// NewMarketDataService loads the universe file eagerly; a missing file is
// an empty universe, not an error.
func NewMarketDataService(dataDir string, dataService *StockDataService, screener ScreenerSource,
	archive *MongoArchive, stream *RealtimeStream) *MarketDataService {
	m := &MarketDataService{
		dataDir:            dataDir,
		dataService:        dataService,
		screener:           screener,
		archive:            archive,
		stream:             stream,
		historyInterval:    DefaultHistoryInterval,
		marketDataInterval: DefaultMarketDataInterval,
		now:                time.Now,
	}
	if err := m.loadUniverse(); err != nil {
		log.Printf("Universe file not loaded: %v", err)
	}
	return m
}

func (m *MarketDataService) path(name string) string {
	return filepath.Join(m.dataDir, name)
}

func (m *MarketDataService) loadUniverse() error {
	raw, err := os.ReadFile(m.path(stocksFileName))
	if err != nil {
		return err
	}
	var stocks []TrackedStock
	if err := json.Unmarshal(raw, &stocks); err != nil {
		return fmt.Errorf("parse %s: %w", stocksFileName, err)
	}
	for i := range stocks {
		stocks[i].Ticker = strings.ToUpper(stocks[i].Ticker)
	}
	m.mu.Lock()
	m.universe = stocks
	m.mu.Unlock()
	log.Printf("Loaded %d tracked stocks", len(stocks))
	return nil
}

// Universe returns a copy of the tracked stocks.
func (m *MarketDataService) Universe() []TrackedStock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TrackedStock, len(m.universe))
	copy(out, m.universe)
	return out
}

// SetUniverse replaces the tracked stocks and persists them.
func (m *MarketDataService) SetUniverse(stocks []TrackedStock) error {
	for i := range stocks {
		stocks[i].Ticker = strings.ToUpper(strings.TrimSpace(stocks[i].Ticker))
	}
	m.mu.Lock()
	m.universe = stocks
	m.mu.Unlock()
	return m.writeJSON(stocksFileName, stocks)
}

// timestamps file: map of job name to RFC3339 time of last successful run.

func (m *MarketDataService) readTimestamps() map[string]time.Time {
	out := map[string]time.Time{}
	raw, err := os.ReadFile(m.path(timestampsFileName))
	if err != nil {
		return out
	}
	var stored map[string]string
	if json.Unmarshal(raw, &stored) != nil {
		return out
	}
	for name, value := range stored {
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			out[name] = t
		}
	}
	return out
}

func (m *MarketDataService) markRun(name string) {
	stamps := m.readTimestamps()
	stamps[name] = m.now()
	stored := make(map[string]string, len(stamps))
	for k, v := range stamps {
		stored[k] = v.Format(time.RFC3339)
	}
	if err := m.writeJSON(timestampsFileName, stored); err != nil {
		log.Printf("Saving timestamps failed: %v", err)
	}
}

func (m *MarketDataService) due(name string, interval time.Duration) bool {
	last, ok := m.readTimestamps()[name]
	if !ok {
		return true
	}
	return m.now().Sub(last) >= interval
}

// ShouldPopulateHistory reports whether the daily history refresh is due.
func (m *MarketDataService) ShouldPopulateHistory() bool {
	return m.due(timestampHistory, m.historyInterval)
}

// ShouldPopulateMarketData reports whether the market data refresh is due.
func (m *MarketDataService) ShouldPopulateMarketData() bool {
	return m.due(timestampMarketData, m.marketDataInterval)
}

// PopulateMarketData refreshes the market data store from the screener in
// batches. Partial batch failures keep whatever succeeded.
func (m *MarketDataService) PopulateMarketData(ctx context.Context) error {
	universe := m.Universe()
	if len(universe) == 0 {
		return fmt.Errorf("no tracked stocks")
	}
	if m.screener == nil {
		return fmt.Errorf("screener source not configured")
	}

	byTicker := make(map[string]TrackedStock, len(universe))
	tickers := make([]string, 0, len(universe))
	for _, s := range universe {
		byTicker[s.Ticker] = s
		tickers = append(tickers, s.Ticker)
	}

	records := make([]MarketDataRecord, 0, len(tickers))
	updatedAt := m.now().Format(time.RFC3339)
	var failed int
	for start := 0; start < len(tickers); start += screenerBatchSize {
		end := start + screenerBatchSize
		if end > len(tickers) {
			end = len(tickers)
		}
		batch, err := m.screener.GetBatch(ctx, tickers[start:end])
		if err != nil {
			log.Printf("Market data batch %d-%d failed: %v", start, end, err)
			failed++
			continue
		}
		for ticker, fields := range batch {
			rec := MarketDataRecord{
				Ticker:        ticker,
				CompanyName:   fields[ScreenerFieldCompany],
				Sector:        fields[ScreenerFieldSector],
				Price:         parseScreenerNumber(fields[ScreenerFieldPrice]),
				PreviousClose: parseScreenerNumber(fields[ScreenerFieldPrevClose]),
				MarketCap:     parseScreenerNumber(fields[ScreenerFieldMarketCap]),
				PERatio:       parseScreenerNumber(fields[ScreenerFieldPE]),
				EPS:           parseScreenerNumber(fields[ScreenerFieldEPS]),
				UpdatedAt:     updatedAt,
			}
			if rec.CompanyName == "" {
				rec.CompanyName = byTicker[ticker].CompanyName
			}
			if rec.Sector == "" {
				rec.Sector = byTicker[ticker].Sector
			}
			if raw := fields[ScreenerFieldEarningsDay]; raw != "" {
				if d, err := ParseProviderDate(raw); err == nil {
					rec.EarningDate = d.Format("2006-01-02")
				} else {
					rec.EarningDate = raw
				}
			}
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		return fmt.Errorf("market data refresh produced no records (%d batches failed)", failed)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Ticker < records[j].Ticker })

	if err := m.writeJSON(marketDataFileName, records); err != nil {
		return err
	}
	m.markRun(timestampMarketData)
	log.Printf("Market data refreshed: %d records", len(records))

	if m.stream != nil {
		m.stream.BroadcastMarketData(records)
	}
	return nil
}

// PopulateHistory refreshes the per-ticker detail records. This walks the
// universe through the orchestrator serially, so the rate limiter paces the
// whole run.
func (m *MarketDataService) PopulateHistory(ctx context.Context) error {
	universe := m.Universe()
	if len(universe) == 0 {
		return fmt.Errorf("no tracked stocks")
	}

	records := make([]*StockRecord, 0, len(universe))
	for _, stock := range universe {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		records = append(records, m.dataService.FetchRecord(ctx, KindDetails, stock.Ticker))
	}

	if err := m.writeJSON(historyFileName, records); err != nil {
		return err
	}
	m.markRun(timestampHistory)
	log.Printf("History refreshed: %d records", len(records))

	if m.archive != nil {
		if err := m.archive.ArchiveRecords(ctx, records); err != nil {
			log.Printf("Archiving history failed: %v", err)
		}
	}
	return nil
}

// LoadMarketData returns the persisted market data store.
func (m *MarketDataService) LoadMarketData() ([]MarketDataRecord, error) {
	var records []MarketDataRecord
	if err := m.readJSON(marketDataFileName, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// LoadHistory returns the persisted detail records.
func (m *MarketDataService) LoadHistory() ([]*StockRecord, error) {
	var records []*StockRecord
	if err := m.readJSON(historyFileName, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// BuildEarningSummary assembles the canonical earning summary dataset:
// tracked stocks whose next earning date falls within the next 30 days,
// optionally restricted to a comma-separated sector list. Records whose
// earning date cannot be parsed stay in the canonical set; the period
// cache drops them only when deriving narrower windows. This is the
// FetchSummaryFunc the period cache calls on a miss.
func (m *MarketDataService) BuildEarningSummary(sectors string) ([]EarningSummaryEntry, error) {
	records, err := m.LoadMarketData()
	if err != nil {
		return nil, fmt.Errorf("market data store unavailable: %w", err)
	}

	wanted := sectorFilter(sectors)
	today := DateOnly(m.now())
	windowEnd := today.AddDate(0, 0, periodDays[canonicalPeriod])
	details := m.historyByTicker()

	entries := make([]EarningSummaryEntry, 0, len(records))
	for _, rec := range records {
		if len(wanted) > 0 && !wanted[strings.ToLower(rec.Sector)] {
			continue
		}
		if rec.EarningDate == "" {
			continue
		}
		if d, err := ParseProviderDate(rec.EarningDate); err == nil {
			day := DateOnly(d)
			if day.Before(today) || day.After(windowEnd) {
				continue
			}
		}
		entries = append(entries, summaryEntry(rec, details[rec.Ticker]))
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EarningDate != entries[j].EarningDate {
			return entries[i].EarningDate < entries[j].EarningDate
		}
		return entries[i].Ticker < entries[j].Ticker
	})
	return entries, nil
}

func summaryEntry(rec MarketDataRecord, detail *StockRecord) EarningSummaryEntry {
	entry := EarningSummaryEntry{
		Ticker:               rec.Ticker,
		CompanyName:          rec.CompanyName,
		Sector:               rec.Sector,
		MarketCap:            Unavailable,
		EarningDate:          rec.EarningDate,
		CurrentPrice:         UnavailableField(),
		ActualEPS:            UnavailableField(),
		ExpectedEPS:          UnavailableField(),
		ActualRevenue:        UnavailableField(),
		ExpectedRevenue:      UnavailableField(),
		BeatExpectation:      Unavailable,
		PercentageDifference: Unavailable,
	}
	if entry.CompanyName == "" {
		entry.CompanyName = Unavailable
	}
	if entry.Sector == "" {
		entry.Sector = Unavailable
	}
	if rec.MarketCap != nil {
		entry.MarketCap = FmtMarketCap(rec.MarketCap)
	}
	if rec.Price != nil {
		entry.CurrentPrice = ReportedField(FmtCurrency(rec.Price))
	}
	if rec.EPS != nil {
		entry.ExpectedEPS = ReportedField(FmtCurrency(rec.EPS))
	}

	// Reported actuals only exist after the call; the screener feed does
	// not backfill them, so comparison fields stay unavailable until the
	// detail fetch fills the history store.
	if detail != nil {
		if detail.EPS.Provenance == ProvenanceReported {
			entry.ActualEPS = detail.EPS
		}
		if detail.Revenue.Provenance != ProvenanceUnavailable {
			entry.ActualRevenue = detail.Revenue
		}
	}

	if actual := parseScreenerNumber(entry.ActualEPS.Value); actual != nil {
		if expected := parseScreenerNumber(entry.ExpectedEPS.Value); expected != nil && *expected != 0 {
			diff := ((*actual - *expected) / abs(*expected)) * 100
			entry.PercentageDifference = FmtPercent(&diff)
			if *actual >= *expected {
				entry.BeatExpectation = "Beat"
			} else {
				entry.BeatExpectation = "Missed"
			}
		}
	}
	return entry
}

func (m *MarketDataService) historyByTicker() map[string]*StockRecord {
	out := map[string]*StockRecord{}
	records, err := m.LoadHistory()
	if err != nil {
		return out
	}
	for _, rec := range records {
		if rec != nil {
			out[rec.Ticker] = rec
		}
	}
	return out
}

func sectorFilter(sectors string) map[string]bool {
	out := map[string]bool{}
	for _, s := range strings.Split(sectors, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out[strings.ToLower(s)] = true
		}
	}
	return out
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (m *MarketDataService) writeJSON(name string, v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.WriteFile(m.path(name), raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (m *MarketDataService) readJSON(name string, v interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, err := os.ReadFile(m.path(name))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
