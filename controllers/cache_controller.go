package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stock_backend_api/scheduler"
	"stock_backend_api/services"
)

// CacheController serves cache and limiter administration endpoints
type CacheController struct {
	cache       *services.StockDataCache
	dataService *services.StockDataService
	sched       *scheduler.Scheduler
}

// NewCacheController creates a new cache controller
func NewCacheController(cache *services.StockDataCache, dataService *services.StockDataService,
	sched *scheduler.Scheduler) *CacheController {
	return &CacheController{cache: cache, dataService: dataService, sched: sched}
}

// GetStats returns per-category entry counts and capacities
// GET /api/v1/cache/stats
func (cc *CacheController) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": cc.cache.Stats()})
}

// Invalidate removes entries by category and/or identifier
// POST /api/v1/cache/invalidate?category=realtime&identifier=AAPL
func (cc *CacheController) Invalidate(c *gin.Context) {
	category := c.Query("category")
	identifier := c.Query("identifier")
	if category == "" && identifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category or identifier is required"})
		return
	}

	removed := cc.cache.Invalidate(category, identifier)
	c.JSON(http.StatusOK, gin.H{"message": "Cache invalidated", "removed": removed})
}

// Clear wipes one category, or everything when no category is given
// POST /api/v1/cache/clear?category=daily
func (cc *CacheController) Clear(c *gin.Context) {
	category := c.Query("category")
	removed := cc.cache.Clear(category)
	c.JSON(http.StatusOK, gin.H{"message": "Cache cleared", "removed": removed})
}

// GetRateLimiterStatus returns the primary-provider limiter state
// GET /api/v1/ratelimiter/status
func (cc *CacheController) GetRateLimiterStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": cc.dataService.LimiterStatus()})
}

// GetSchedulerStatus returns the background refresher state
// GET /api/v1/scheduler/status
func (cc *CacheController) GetSchedulerStatus(c *gin.Context) {
	if cc.sched == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cc.sched.Status()})
}
