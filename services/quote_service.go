package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// QuoteSnapshot is the normalized answer of the primary quote source.
// Pointer fields are nil when the provider omitted the value; the
// orchestrator fills gaps from the fallback chain.
type QuoteSnapshot struct {
	Ticker          string
	CompanyName     string
	Sector          string
	Price           *float64
	PreviousClose   *float64
	DayHigh         *float64
	DayLow          *float64
	MarketCap       *float64
	Revenue         *float64
	EPS             *float64
	PERatio         *float64
	NextEarningsAt  *time.Time
}

// QuoteSource is the primary per-ticker snapshot capability.
type QuoteSource interface {
	GetSnapshot(ctx context.Context, ticker string) (*QuoteSnapshot, error)
}

// quoteAPIResponse mirrors the primary provider's snapshot payload.
type quoteAPIResponse struct {
	Ticker            string   `json:"ticker"`
	CompanyName       string   `json:"companyName"`
	Sector            string   `json:"sector"`
	Price             *float64 `json:"price"`
	PreviousClose     *float64 `json:"previousClose"`
	DayHigh           *float64 `json:"dayHigh"`
	DayLow            *float64 `json:"dayLow"`
	MarketCap         *float64 `json:"marketCap"`
	TotalRevenue      *float64 `json:"totalRevenue"`
	EPS               *float64 `json:"eps"`
	TrailingPE        *float64 `json:"trailingPE"`
	EarningsTimestamp *int64   `json:"earningsTimestamp"`
}

// HTTPQuoteSource talks to the primary quote provider over HTTP.
type HTTPQuoteSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPQuoteSource creates the primary quote client. Every call carries a
// bounded timeout; a timed-out call fails like any other failed call.
func NewHTTPQuoteSource(baseURL string) *HTTPQuoteSource {
	return &HTTPQuoteSource{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetSnapshot fetches the current snapshot for one ticker.
func (s *HTTPQuoteSource) GetSnapshot(ctx context.Context, ticker string) (*QuoteSnapshot, error) {
	url := fmt.Sprintf("%s/v1/quote/%s", s.baseURL, ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("quote API throttled %s: %w", ticker, ErrRateLimited)
	case http.StatusNotFound:
		return nil, fmt.Errorf("quote API has no data for %s: %w", ticker, ErrNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("quote API error (status %d): %s", resp.StatusCode, string(body))
	}

	var payload quoteAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}

	snapshot := &QuoteSnapshot{
		Ticker:        ticker,
		CompanyName:   payload.CompanyName,
		Sector:        payload.Sector,
		Price:         payload.Price,
		PreviousClose: payload.PreviousClose,
		DayHigh:       payload.DayHigh,
		DayLow:        payload.DayLow,
		MarketCap:     payload.MarketCap,
		Revenue:       payload.TotalRevenue,
		EPS:           payload.EPS,
		PERatio:       payload.TrailingPE,
	}
	if payload.EarningsTimestamp != nil {
		t := time.Unix(*payload.EarningsTimestamp, 0)
		snapshot.NextEarningsAt = &t
	}

	log.Printf("Quote API: fetched snapshot for %s", ticker)
	return snapshot, nil
}
