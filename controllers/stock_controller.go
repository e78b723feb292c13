package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stock_backend_api/services"
)

// StockController handles per-ticker data requests
type StockController struct {
	dataService  *services.StockDataService
	marketData   *services.MarketDataService
	barArchive   *services.BarArchive
	mongoArchive *services.MongoArchive
}

// NewStockController creates a new stock controller
func NewStockController(dataService *services.StockDataService, marketData *services.MarketDataService,
	barArchive *services.BarArchive, mongoArchive *services.MongoArchive) *StockController {
	return &StockController{
		dataService:  dataService,
		marketData:   marketData,
		barArchive:   barArchive,
		mongoArchive: mongoArchive,
	}
}

// GetDetails returns the full detail record for a ticker
// GET /api/v1/stocks/:ticker/details
func (sc *StockController) GetDetails(c *gin.Context) {
	ticker := strings.ToUpper(c.Param("ticker"))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ticker is required"})
		return
	}

	record := sc.dataService.FetchRecord(c.Request.Context(), services.KindDetails, ticker)
	c.JSON(http.StatusOK, gin.H{"data": record})
}

// GetSnapshot returns the short-lived price snapshot for a ticker
// GET /api/v1/stocks/:ticker/snapshot
func (sc *StockController) GetSnapshot(c *gin.Context) {
	ticker := strings.ToUpper(c.Param("ticker"))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ticker is required"})
		return
	}

	record := sc.dataService.FetchRecord(c.Request.Context(), services.KindSnapshot, ticker)
	c.JSON(http.StatusOK, gin.H{"data": record})
}

// GetBars returns minute bars for a ticker. Past dates hit the local archive
// first; the current session always goes to the provider so the archive's
// partial-day snapshot never shadows fresh bars.
// GET /api/v1/stocks/:ticker/bars?date=2026-08-28&resolution=1min
func (sc *StockController) GetBars(c *gin.Context) {
	ticker := strings.ToUpper(c.Param("ticker"))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ticker is required"})
		return
	}

	date := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, use YYYY-MM-DD"})
			return
		}
		date = parsed
	}
	resolution := c.DefaultQuery("resolution", "1min")
	isToday := services.DateOnly(date).Equal(services.DateOnly(time.Now()))

	if !isToday && sc.barArchive != nil {
		if bars, err := sc.barArchive.LoadBars(c.Request.Context(), ticker, date); err == nil && len(bars) > 0 {
			c.JSON(http.StatusOK, gin.H{"data": bars, "source": "archive"})
			return
		}
	}

	bars, err := sc.dataService.Bars(c.Request.Context(), ticker, date, resolution)
	if err != nil {
		// A provider outage on the current session can still answer with
		// whatever was archived earlier today.
		if isToday && sc.barArchive != nil {
			if archived, archiveErr := sc.barArchive.LoadBars(c.Request.Context(), ticker, date); archiveErr == nil && len(archived) > 0 {
				c.JSON(http.StatusOK, gin.H{"data": archived, "source": "archive"})
				return
			}
		}
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No bars for that ticker and date"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Bar source unavailable"})
		return
	}

	if sc.barArchive != nil {
		// Archive failures never fail the read path.
		_ = sc.barArchive.SaveBars(c.Request.Context(), ticker, bars)
	}
	c.JSON(http.StatusOK, gin.H{"data": bars, "source": "provider"})
}

// GetHistory returns the persisted detail records for the tracked universe
// GET /api/v1/stocks/history
func (sc *StockController) GetHistory(c *gin.Context) {
	records, err := sc.marketData.LoadHistory()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "History not populated yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "count": len(records)})
}

// GetMarketData returns the persisted market data store
// GET /api/v1/stocks/marketdata
func (sc *StockController) GetMarketData(c *gin.Context) {
	records, err := sc.marketData.LoadMarketData()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Market data not populated yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "count": len(records)})
}

// GetArchivedRecord returns the Mongo-archived record for a ticker
// GET /api/v1/stocks/:ticker/archive
func (sc *StockController) GetArchivedRecord(c *gin.Context) {
	if sc.mongoArchive == nil || !sc.mongoArchive.IsConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Archive not configured"})
		return
	}

	ticker := strings.ToUpper(c.Param("ticker"))
	record, err := sc.mongoArchive.LoadRecord(c.Request.Context(), ticker)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No archived record"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Archive read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

// GetUniverse returns the tracked stock list
// GET /api/v1/stocks
func (sc *StockController) GetUniverse(c *gin.Context) {
	stocks := sc.marketData.Universe()
	c.JSON(http.StatusOK, gin.H{"data": stocks, "count": len(stocks)})
}
