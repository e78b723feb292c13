package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"stock_backend_api/config"
	"stock_backend_api/models"
	"stock_backend_api/routes"
	"stock_backend_api/scheduler"
	"stock_backend_api/services"
)

func main() {
	log.Println("==============================================")
	log.Println("  Stock Backend API - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so the platform can detect the
	// service is up; the database is initialized in background
	setupHealthEndpoints(router)

	// Wire the data plane. None of this needs the database.
	deps := buildDataPlane(cfg)

	// Create HTTP server with timeouts suited for container platforms
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server IMMEDIATELY so the platform knows we're listening
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database and setup routes in background. A failed database
	// leaves the service in limited mode: market data endpoints still work,
	// account endpoints answer 503.
	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (no accounts)")
		} else {
			log.Println("Running database migrations...")
			if err := db.AutoMigrate(&models.User{}, &models.Watchlist{}); err != nil {
				log.Printf("ERROR: Migration failed: %v", err)
			} else {
				log.Println("Database migrations completed successfully")
			}
			deps.DB = db
		}

		// Optional Mongo archive
		if cfg.MongoURI != "" {
			if err := deps.MongoArchive.Connect(context.Background()); err != nil {
				log.Printf("Mongo archive not available: %v", err)
			}
		}

		markReady()

		routes.SetupRoutes(router, deps)

		go deps.Scheduler.Start()

		log.Println("Application fully initialized")
	}()

	gracefulShutdown(server, deps)
}

// buildDataPlane constructs the caches, limiter, sources, orchestrator and
// scheduler with explicit wiring.
func buildDataPlane(cfg *config.Config) routes.Deps {
	limiter := services.NewAPIRateLimiter(cfg.CallsPerSecond, cfg.BreakerThreshold, cfg.BreakerCooldown)
	cache := services.NewStockDataCache(cfg.CacheFile, nil, nil)

	quote := services.NewHTTPQuoteSource(cfg.QuoteAPIURL)
	screener := services.NewHTTPScreenerSource(cfg.ScreenerURL, cfg.ScreenerAuthID)
	intraday := services.NewHTTPIntradaySource(cfg.IntradayAPIURL, cfg.IntradayAPIKey)

	dataService := services.NewStockDataService(cache, limiter, quote, screener, intraday)

	stream := services.NewRealtimeStream()
	mongoArchive := services.NewMongoArchive(cfg.MongoURI)

	barArchive, err := services.NewBarArchive(cfg.BarArchivePath)
	if err != nil {
		log.Printf("Bar archive not available: %v", err)
		barArchive = nil
	}

	marketData := services.NewMarketDataService(cfg.DataDir, dataService, screener, mongoArchive, stream)
	summaryCache := services.NewEarningSummaryCache(cfg.SummaryFile, marketData.BuildEarningSummary)

	sched := scheduler.NewScheduler(marketData, summaryCache, cfg.PrewarmHour)

	return routes.Deps{
		Cache:        cache,
		DataService:  dataService,
		MarketData:   marketData,
		SummaryCache: summaryCache,
		BarArchive:   barArchive,
		MongoArchive: mongoArchive,
		Stream:       stream,
		Scheduler:    sched,
	}
}

// ready tracks whether background initialization finished. Guarded for the
// /ready probe which reads it from request goroutines.
var (
	readyMu sync.RWMutex
	ready   bool
)

func markReady() {
	readyMu.Lock()
	ready = true
	readyMu.Unlock()
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Stock Backend API",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness probe - flips once background initialization completes
	router.GET("/ready", func(c *gin.Context) {
		readyMu.RLock()
		isReady := ready
		readyMu.RUnlock()

		if !isReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Still initializing",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "started"})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, deps routes.Deps) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	deps.Scheduler.Stop()
	deps.Stream.Shutdown()

	// Persist cache state before exit
	if err := deps.Cache.Flush(); err != nil {
		log.Printf("Cache flush failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if deps.BarArchive != nil {
		deps.BarArchive.Close()
	}
	if deps.MongoArchive != nil {
		deps.MongoArchive.Close(ctx)
	}
	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
