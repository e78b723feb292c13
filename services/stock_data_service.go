package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Record kinds accepted by FetchRecord. The kind picks the cache category
// (and with it the freshness window): snapshots live a minute, detail
// records half an hour.
const (
	KindSnapshot = "snapshot"
	KindDetails  = "details"
)

const (
	fetchMaxAttempts    = 3
	fetchRetryBaseDelay = 2 * time.Second
)

// StockRecord is the assembled record for one ticker. Every field is always
// present; fields no source could fill carry the N/A sentinel with
// provenance "unavailable", so downstream formatting never branches on
// missing keys.
type StockRecord struct {
	Ticker             string `json:"ticker"`
	CompanyName        string `json:"company_name"`
	Sector             string `json:"sector"`
	CurrentPrice       Field  `json:"current_price"`
	PreviousClose      Field  `json:"previous_close"`
	DayLow             Field  `json:"day_low"`
	DayHigh            Field  `json:"day_high"`
	TodayChangePercent Field  `json:"today_change_percent"`
	MarketCap          Field  `json:"market_cap"`
	Revenue            Field  `json:"revenue"`
	EPS                Field  `json:"eps"`
	PERatio            Field  `json:"pe_ratio"`
	EarningDate        string `json:"earning_date"`
	UpdatedAt          string `json:"updated_at"`
}

// DegradedRecord returns a record for ticker with every field unavailable.
func DegradedRecord(ticker string) *StockRecord {
	return &StockRecord{
		Ticker:             ticker,
		CompanyName:        Unavailable,
		Sector:             Unavailable,
		CurrentPrice:       UnavailableField(),
		PreviousClose:      UnavailableField(),
		DayLow:             UnavailableField(),
		DayHigh:            UnavailableField(),
		TodayChangePercent: UnavailableField(),
		MarketCap:          UnavailableField(),
		Revenue:            UnavailableField(),
		EPS:                UnavailableField(),
		PERatio:            UnavailableField(),
		EarningDate:        Unavailable,
	}
}

// StockDataService orchestrates fetches across the cache, the rate limiter
// and the provider chain. Provider errors are absorbed here: callers get a
// record (possibly degraded), never an upstream exception.
type StockDataService struct {
	cache    *StockDataCache
	limiter  *APIRateLimiter
	quote    QuoteSource
	screener ScreenerSource
	intraday IntradaySource

	// Providers that reported an auth failure stay disabled for the
	// process lifetime so a bad key cannot cause a retry storm.
	disabledMu       sync.Mutex
	screenerDisabled bool
	intradayDisabled bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStockDataService wires the orchestrator. Any source may be nil, in
// which case its link of the fallback chain is skipped.
func NewStockDataService(cache *StockDataCache, limiter *APIRateLimiter,
	quote QuoteSource, screener ScreenerSource, intraday IntradaySource) *StockDataService {
	return &StockDataService{
		cache:    cache,
		limiter:  limiter,
		quote:    quote,
		screener: screener,
		intraday: intraday,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func kindCategory(kind string) string {
	if kind == KindSnapshot {
		return CategoryRealtime
	}
	return CategoryInfo
}

// FetchRecord returns the record for one ticker, consulting the cache, then
// the rate-limited primary source, then the fallback chain. It never returns
// an error for provider failures; the worst case is a degraded record.
func (s *StockDataService) FetchRecord(ctx context.Context, kind, ticker string) *StockRecord {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	category := kindCategory(kind)

	if cached, ok := s.cache.Get(category, ticker, nil); ok {
		if record, ok := cached.(*StockRecord); ok {
			return record
		}
		// Entries rehydrated from the snapshot file come back as generic
		// JSON; treat them as a miss and refetch.
	}

	snapshot := s.fetchPrimary(ctx, ticker)
	record := s.assemble(ctx, ticker, snapshot)
	record.UpdatedAt = s.now().Format(time.RFC3339)

	s.cache.Set(category, ticker, nil, record)
	return record
}

// FetchRecords fetches many tickers. A failing ticker degrades its own
// record and never aborts the rest of the batch.
func (s *StockDataService) FetchRecords(ctx context.Context, kind string, tickers []string) []*StockRecord {
	records := make([]*StockRecord, 0, len(tickers))
	for _, ticker := range tickers {
		records = append(records, s.FetchRecord(ctx, kind, ticker))
	}
	return records
}

// fetchPrimary runs the rate-limited primary call with capped exponential
// retry on throttling. A nil return means the primary yielded nothing and
// the fallback chain owns the whole record.
func (s *StockDataService) fetchPrimary(ctx context.Context, ticker string) *QuoteSnapshot {
	if s.quote == nil {
		return nil
	}

	for attempt := 0; attempt < fetchMaxAttempts; attempt++ {
		if err := s.limiter.Acquire(ctx); err != nil {
			if IsCircuitOpen(err) {
				// Protective local state: skip the primary entirely, no retry.
				log.Printf("Fetch %s: primary skipped, %v", ticker, err)
				return nil
			}
			return nil // context cancelled
		}

		snapshot, err := s.quote.GetSnapshot(ctx, ticker)
		if err == nil {
			s.limiter.ReportSuccess()
			return snapshot
		}

		if errors.Is(err, ErrRateLimited) {
			s.limiter.ReportFailure()
			if attempt < fetchMaxAttempts-1 {
				delay := fetchRetryBaseDelay * time.Duration(1<<attempt)
				log.Printf("Fetch %s: throttled on attempt %d, retrying in %.1fs", ticker, attempt+1, delay.Seconds())
				if s.sleep(ctx, delay) != nil {
					return nil
				}
				continue
			}
			log.Printf("Fetch %s: giving up on primary after %d attempts", ticker, attempt+1)
			return nil
		}

		// NotFound and transport errors go straight to the fallback chain.
		// Timeouts count as failed calls but not as throttling.
		log.Printf("Fetch %s: primary source error: %v", ticker, err)
		return nil
	}
	return nil
}

// assemble builds the record from the primary snapshot and fills missing
// required fields from the secondary sources in fixed priority order:
// screener first, then intraday bars. Anything still missing becomes the
// unavailable sentinel.
func (s *StockDataService) assemble(ctx context.Context, ticker string, snapshot *QuoteSnapshot) *StockRecord {
	record := DegradedRecord(ticker)

	var price, prevClose, marketCap, revenue, eps, pe *float64
	if snapshot != nil {
		price, prevClose = snapshot.Price, snapshot.PreviousClose
		marketCap, revenue = snapshot.MarketCap, snapshot.Revenue
		eps, pe = snapshot.EPS, snapshot.PERatio
		if snapshot.CompanyName != "" {
			record.CompanyName = snapshot.CompanyName
		}
		if snapshot.Sector != "" {
			record.Sector = snapshot.Sector
		}
		if snapshot.DayLow != nil {
			record.DayLow = ReportedField(FmtCurrency(snapshot.DayLow))
		}
		if snapshot.DayHigh != nil {
			record.DayHigh = ReportedField(FmtCurrency(snapshot.DayHigh))
		}
		if snapshot.NextEarningsAt != nil {
			record.EarningDate = snapshot.NextEarningsAt.Format("2006-01-02")
		}
	}

	if price == nil || marketCap == nil || eps == nil || revenue == nil || record.EarningDate == Unavailable {
		s.fillFromScreener(ctx, ticker, record, &price, &prevClose, &marketCap, &eps, &pe)
	}
	if price == nil {
		s.fillPriceFromIntraday(ctx, ticker, &price)
	}

	if price != nil {
		record.CurrentPrice = ReportedField(FmtCurrency(price))
	}
	if prevClose != nil {
		record.PreviousClose = ReportedField(FmtCurrency(prevClose))
	}
	if marketCap != nil {
		record.MarketCap = ReportedField(FmtMarketCap(marketCap))
	}
	if revenue != nil {
		record.Revenue = ReportedField(FmtMarketCap(revenue))
	}
	if pe != nil {
		record.PERatio = ReportedField(fmtFloat(pe, 2))
	}
	if eps != nil {
		record.EPS = ReportedField(FmtCurrency(eps))
	} else if price != nil && pe != nil && *pe != 0 {
		// Derived, not reported: labeled so consumers can tell the
		// difference.
		estimated := *price / *pe
		record.EPS = EstimatedField(FmtCurrency(&estimated))
	}

	if pct := PercentChange(price, prevClose); pct != nil {
		record.TodayChangePercent = ReportedField(FmtPercent(pct))
	}

	return record
}

func (s *StockDataService) fillFromScreener(ctx context.Context, ticker string, record *StockRecord,
	price, prevClose, marketCap, eps, pe **float64) {
	if s.screener == nil || s.providerDisabled(&s.screenerDisabled) {
		return
	}

	batch, err := s.screener.GetBatch(ctx, []string{ticker})
	if err != nil {
		s.handleSecondaryError("screener", &s.screenerDisabled, err)
		return
	}
	fields, ok := batch[ticker]
	if !ok {
		return
	}

	if *price == nil {
		*price = parseScreenerNumber(fields[ScreenerFieldPrice])
	}
	if *prevClose == nil {
		*prevClose = parseScreenerNumber(fields[ScreenerFieldPrevClose])
	}
	if *marketCap == nil {
		*marketCap = parseScreenerNumber(fields[ScreenerFieldMarketCap])
	}
	if *eps == nil {
		*eps = parseScreenerNumber(fields[ScreenerFieldEPS])
	}
	if *pe == nil {
		*pe = parseScreenerNumber(fields[ScreenerFieldPE])
	}
	if record.CompanyName == Unavailable {
		if name := fields[ScreenerFieldCompany]; name != "" {
			record.CompanyName = name
		}
	}
	if record.Sector == Unavailable {
		if sector := fields[ScreenerFieldSector]; sector != "" {
			record.Sector = sector
		}
	}
	if record.EarningDate == Unavailable {
		if raw := fields[ScreenerFieldEarningsDay]; raw != "" {
			if d, err := ParseProviderDate(raw); err == nil {
				record.EarningDate = d.Format("2006-01-02")
			}
		}
	}
}

func (s *StockDataService) fillPriceFromIntraday(ctx context.Context, ticker string, price **float64) {
	if s.intraday == nil || s.providerDisabled(&s.intradayDisabled) {
		return
	}

	bars, err := s.intraday.GetBars(ctx, ticker, DateOnly(s.now()), "1min")
	if err != nil {
		s.handleSecondaryError("intraday", &s.intradayDisabled, err)
		return
	}
	if len(bars) == 0 {
		return
	}
	last := bars[len(bars)-1].Close
	*price = &last
}

func (s *StockDataService) providerDisabled(flag *bool) bool {
	s.disabledMu.Lock()
	defer s.disabledMu.Unlock()
	return *flag
}

// handleSecondaryError absorbs a fallback-source error. Auth failures
// disable the provider for the process lifetime, logged once.
func (s *StockDataService) handleSecondaryError(name string, flag *bool, err error) {
	if errors.Is(err, ErrAuth) {
		s.disabledMu.Lock()
		if !*flag {
			*flag = true
			log.Printf("Disabling %s source for process lifetime: %v", name, err)
		}
		s.disabledMu.Unlock()
		return
	}
	log.Printf("Fallback %s source error: %v", name, err)
}

// parseScreenerNumber parses the screener's formatted numbers: "$1,234.50",
// "2.5B", "3.17%", plain floats. Returns nil when the value is missing or
// malformed.
func parseScreenerNumber(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" || s == Unavailable || s == "-" {
		return nil
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")

	multiplier := 1.0
	if len(s) > 0 {
		switch s[len(s)-1] {
		case 'T':
			multiplier, s = 1e12, s[:len(s)-1]
		case 'B':
			multiplier, s = 1e9, s[:len(s)-1]
		case 'M':
			multiplier, s = 1e6, s[:len(s)-1]
		case 'K':
			multiplier, s = 1e3, s[:len(s)-1]
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f *= multiplier
	return &f
}

// Bars returns the minute bars for a ticker and date straight from the
// intraday source. Callers that want archived bars go through BarArchive.
func (s *StockDataService) Bars(ctx context.Context, ticker string, date time.Time, resolution string) ([]Bar, error) {
	if s.intraday == nil {
		return nil, fmt.Errorf("intraday source not configured")
	}
	if s.providerDisabled(&s.intradayDisabled) {
		return nil, fmt.Errorf("intraday source disabled: %w", ErrAuth)
	}
	bars, err := s.intraday.GetBars(ctx, strings.ToUpper(ticker), date, resolution)
	if err != nil {
		s.handleSecondaryError("intraday", &s.intradayDisabled, err)
		return nil, err
	}
	return bars, nil
}

// LimiterStatus exposes the shared limiter state for the admin API.
func (s *StockDataService) LimiterStatus() RateLimiterStatus {
	return s.limiter.Status()
}
