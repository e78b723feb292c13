package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stock_backend_api/controllers"
	"stock_backend_api/middleware"
	"stock_backend_api/scheduler"
	"stock_backend_api/services"
)

// Deps carries the wired services the routes need.
type Deps struct {
	DB           *gorm.DB
	Cache        *services.StockDataCache
	DataService  *services.StockDataService
	MarketData   *services.MarketDataService
	SummaryCache *services.EarningSummaryCache
	BarArchive   *services.BarArchive
	MongoArchive *services.MongoArchive
	Stream       *services.RealtimeStream
	Scheduler    *scheduler.Scheduler
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	stockController := controllers.NewStockController(deps.DataService, deps.MarketData, deps.BarArchive, deps.MongoArchive)
	summaryController := controllers.NewSummaryController(deps.SummaryCache)
	cacheController := controllers.NewCacheController(deps.Cache, deps.DataService, deps.Scheduler)
	userController := controllers.NewUserController(deps.DB)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", userController.Register)
			auth.POST("/login", middleware.LoginRateLimitMiddleware(), userController.Login)
		}

		// Earning summary routes
		summary := api.Group("/summary")
		{
			summary.GET("/earnings", summaryController.GetEarningSummary)
			summary.GET("/status", summaryController.GetSummaryStatus)
			summary.POST("/invalidate", middleware.JWTAuthMiddleware(), middleware.AdminRoleMiddleware(),
				summaryController.InvalidateSummary)
		}

		// Stock routes
		stocks := api.Group("/stocks")
		{
			stocks.GET("", stockController.GetUniverse)
			stocks.GET("/history", stockController.GetHistory)
			stocks.GET("/marketdata", stockController.GetMarketData)
			stocks.GET("/:ticker/details", stockController.GetDetails)
			stocks.GET("/:ticker/snapshot", stockController.GetSnapshot)
			stocks.GET("/:ticker/bars", stockController.GetBars)
			stocks.GET("/:ticker/archive", stockController.GetArchivedRecord)
		}

		// Cache and limiter admin routes
		cache := api.Group("/cache")
		{
			cache.GET("/stats", cacheController.GetStats)
			cache.POST("/invalidate", middleware.JWTAuthMiddleware(), middleware.AdminRoleMiddleware(),
				cacheController.Invalidate)
			cache.POST("/clear", middleware.JWTAuthMiddleware(), middleware.AdminRoleMiddleware(),
				cacheController.Clear)
		}
		api.GET("/ratelimiter/status", cacheController.GetRateLimiterStatus)
		api.GET("/scheduler/status", cacheController.GetSchedulerStatus)

		// Authenticated user routes
		users := api.Group("/users", middleware.JWTAuthMiddleware())
		{
			users.GET("/me", userController.Me)
		}
		watchlist := api.Group("/watchlist", middleware.JWTAuthMiddleware())
		{
			watchlist.GET("", userController.GetWatchlist)
			watchlist.POST("", userController.AddToWatchlist)
			watchlist.DELETE("/:id", userController.RemoveFromWatchlist)
		}
	}

	// Realtime stream
	if deps.Stream != nil {
		router.GET("/api/v1/stream", func(c *gin.Context) {
			deps.Stream.HandleWebSocket(c.Writer, c.Request)
		})
	}
}
