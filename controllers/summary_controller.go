package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stock_backend_api/services"
)

// SummaryController serves the earning summary endpoints
type SummaryController struct {
	summaryCache *services.EarningSummaryCache
}

// NewSummaryController creates a new summary controller
func NewSummaryController(summaryCache *services.EarningSummaryCache) *SummaryController {
	return &SummaryController{summaryCache: summaryCache}
}

// GetEarningSummary returns the paginated earning summary for a period
// GET /api/v1/summary/earnings?period=1M&sectors=Technology,Energy&page=1&per_page=20
func (sc *SummaryController) GetEarningSummary(c *gin.Context) {
	period := c.DefaultQuery("period", services.Period1M)
	sectors := c.Query("sectors")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	result, err := sc.summaryCache.GetOrFetch(period, sectors, page, perPage)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPeriod) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid period, use 1D, 1W or 1M"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Earning summary unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GetSummaryStatus returns the summary cache state
// GET /api/v1/summary/status
func (sc *SummaryController) GetSummaryStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": sc.summaryCache.Status()})
}

// InvalidateSummary wipes the summary cache
// POST /api/v1/summary/invalidate
func (sc *SummaryController) InvalidateSummary(c *gin.Context) {
	sc.summaryCache.InvalidateAll()
	c.JSON(http.StatusOK, gin.H{"message": "Earning summary cache invalidated"})
}
