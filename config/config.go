package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string
	JWTSecret   string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	MongoURI string

	// Upstream providers
	QuoteAPIURL    string
	ScreenerURL    string
	ScreenerAuthID string
	IntradayAPIURL string
	IntradayAPIKey string

	// Rate limiter tuning for the primary provider
	CallsPerSecond   float64
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Storage locations
	DataDir        string
	CacheFile      string
	SummaryFile    string
	BarArchivePath string

	// Hour of day (0-23) for the daily summary pre-warm
	PrewarmHour int
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		JWTSecret:   getEnv("JWT_SECRET", "your-secret-key"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "stock_backend"),

		MongoURI: getEnv("MONGODB_URI", ""),

		QuoteAPIURL:    getEnv("QUOTE_API_URL", "https://query1.finance.yahoo.com"),
		ScreenerURL:    getEnv("SCREENER_URL", "https://elite.finviz.com"),
		ScreenerAuthID: getEnv("SCREENER_AUTH_ID", ""),
		IntradayAPIURL: getEnv("INTRADAY_API_URL", "https://api.tiingo.com"),
		IntradayAPIKey: getEnv("INTRADAY_API_KEY", ""),

		CallsPerSecond:   getEnvFloat("RATE_LIMIT_CPS", 0.5),
		BreakerThreshold: getEnvInt("BREAKER_THRESHOLD", 5),
		BreakerCooldown:  time.Duration(getEnvInt("BREAKER_COOLDOWN_SECONDS", 60)) * time.Second,

		DataDir:        getEnv("DATA_DIR", "data"),
		CacheFile:      getEnv("CACHE_FILE", "data/stock_cache.json"),
		SummaryFile:    getEnv("SUMMARY_CACHE_FILE", "data/earning_summary_cache.json"),
		BarArchivePath: getEnv("BAR_ARCHIVE_PATH", "data/bars.db"),

		PrewarmHour: getEnvInt("PREWARM_HOUR", 6),
	}

	AppConfig = config
	return config, nil
}

// InitDB initializes database connection
func InitDB() (*gorm.DB, error) {
	// Log connection info (masked for security)
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(AppConfig.DBHost),
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=require TimeZone=UTC",
		AppConfig.DBHost,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBPort,
	)

	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Failed to get underlying database: %v", err)
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		log.Printf("Database ping failed: %v", err)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s, using default %d", key, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Invalid value for %s, using default %g", key, defaultValue)
		return defaultValue
	}
	return f
}
