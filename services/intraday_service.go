package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Bar is one OHLCV minute bar.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// IntradaySource is the minute-bar historical capability. It is the last
// link in the fallback chain: when neither the quote nor the screener source
// yields a current price, the most recent bar close stands in for it.
type IntradaySource interface {
	GetBars(ctx context.Context, ticker string, date time.Time, resolution string) ([]Bar, error)
}

type intradayBarResponse struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// HTTPIntradaySource talks to the minute-bar provider.
type HTTPIntradaySource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPIntradaySource creates the intraday client.
func NewHTTPIntradaySource(baseURL, apiKey string) *HTTPIntradaySource {
	return &HTTPIntradaySource{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// GetBars fetches the ordered bar sequence for one ticker and date.
func (s *HTTPIntradaySource) GetBars(ctx context.Context, ticker string, date time.Time, resolution string) ([]Bar, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("intraday API key not configured: %w", ErrAuth)
	}
	if resolution == "" {
		resolution = "1min"
	}

	params := url.Values{}
	params.Set("startDate", date.Format("2006-01-02"))
	params.Set("endDate", date.Format("2006-01-02"))
	params.Set("resampleFreq", resolution)
	params.Set("token", s.apiKey)

	endpoint := fmt.Sprintf("%s/iex/%s/prices?%s", s.baseURL, ticker, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("intraday request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("intraday API throttled %s: %w", ticker, ErrRateLimited)
	case http.StatusNotFound:
		return nil, fmt.Errorf("intraday API has no bars for %s on %s: %w",
			ticker, date.Format("2006-01-02"), ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("intraday API rejected credentials (status %d): %w", resp.StatusCode, ErrAuth)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("intraday API error (status %d): %s", resp.StatusCode, string(body))
	}

	var rows []intradayBarResponse
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse intraday response: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("intraday API returned no bars for %s: %w", ticker, ErrNotFound)
	}

	bars := make([]Bar, 0, len(rows))
	for _, row := range rows {
		t, err := ParseProviderDate(row.Date)
		if err != nil {
			continue
		}
		bars = append(bars, Bar{
			Time:   t,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("intraday API returned no usable bars for %s: %w", ticker, ErrNotFound)
	}

	log.Printf("Intraday API: fetched %d bars for %s %s", len(bars), ticker, date.Format("2006-01-02"))
	return bars, nil
}
