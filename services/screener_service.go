package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Screener export column names. The export endpoint returns a CSV whose
// header row carries these names; rows are keyed back to tickers.
const (
	ScreenerFieldTicker      = "Ticker"
	ScreenerFieldCompany     = "Company"
	ScreenerFieldSector      = "Sector"
	ScreenerFieldMarketCap   = "Market Cap"
	ScreenerFieldPE          = "P/E"
	ScreenerFieldPrice       = "Price"
	ScreenerFieldPrevClose   = "Prev Close"
	ScreenerFieldEPS         = "EPS (ttm)"
	ScreenerFieldEarningsDay = "Earnings Date"
)

// ScreenerSource is the batch tabular capability: one call answers many
// tickers at once, which makes it the cheap fallback for missing fields and
// the workhorse of full-universe refreshes.
type ScreenerSource interface {
	GetBatch(ctx context.Context, tickers []string) (map[string]map[string]string, error)
}

// HTTPScreenerSource talks to the screener CSV export endpoint.
type HTTPScreenerSource struct {
	baseURL string
	authID  string
	client  *http.Client
}

// NewHTTPScreenerSource creates the screener client. An empty authID makes
// every call fail with ErrAuth; the orchestrator disables the provider for
// the process lifetime after the first such failure.
func NewHTTPScreenerSource(baseURL, authID string) *HTTPScreenerSource {
	return &HTTPScreenerSource{
		baseURL: baseURL,
		authID:  authID,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetBatch fetches the screener export rows for the given tickers, keyed by
// ticker then column name.
func (s *HTTPScreenerSource) GetBatch(ctx context.Context, tickers []string) (map[string]map[string]string, error) {
	if s.authID == "" {
		return nil, fmt.Errorf("screener auth id not configured: %w", ErrAuth)
	}
	if len(tickers) == 0 {
		return map[string]map[string]string{}, nil
	}

	params := url.Values{}
	params.Set("v", "152")
	params.Set("t", strings.Join(tickers, ","))
	params.Set("auth", s.authID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/export.ashx?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	log.Printf("Screener API: fetching batch for %d tickers", len(tickers))
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("screener request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("screener API throttled: %w", ErrRateLimited)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("screener API rejected credentials (status %d): %w", resp.StatusCode, ErrAuth)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("screener API error (status %d): %s", resp.StatusCode, string(body))
	}

	return parseScreenerCSV(resp.Body)
}

// parseScreenerCSV turns the export CSV into ticker-keyed field maps. Rows
// missing a ticker column are skipped; short rows keep whatever columns they
// have.
func parseScreenerCSV(r io.Reader) (map[string]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read screener CSV header: %w", err)
	}
	tickerCol := -1
	for i, name := range header {
		if strings.TrimSpace(name) == ScreenerFieldTicker {
			tickerCol = i
			break
		}
	}
	if tickerCol < 0 {
		return nil, fmt.Errorf("screener CSV missing %q column", ScreenerFieldTicker)
	}

	result := make(map[string]map[string]string)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read screener CSV row: %w", err)
		}
		if tickerCol >= len(row) {
			continue
		}
		ticker := strings.ToUpper(strings.TrimSpace(row[tickerCol]))
		if ticker == "" {
			continue
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i >= len(row) {
				break
			}
			value := strings.TrimSpace(row[i])
			if value == "" || value == "-" {
				continue
			}
			fields[strings.TrimSpace(name)] = value
		}
		result[ticker] = fields
	}

	log.Printf("Screener API: parsed %d rows", len(result))
	return result, nil
}
