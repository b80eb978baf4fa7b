package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	JWTSecret string
	MongoURI  string

	// Upstream market data
	PriceAPIBaseURL     string
	RecommendAPIBaseURL string
	PriceAPITimeout     time.Duration

	// Notification channels
	FCMEndpoint     string
	FCMServerKey    string
	WhatsAppBaseURL string
	WhatsAppPhoneID string
	WhatsAppToken   string
	SMTPHost        string
	SMTPPort        string
	SMTPUser        string
	SMTPPassword    string
	SMTPFrom        string

	// Batch pipeline
	BatchWorkers         int
	BatchTimeout         time.Duration
	BatchIntervalMinutes int
	BatchAllowOverlap    bool

	// Stop-loss classification thresholds (percent distance to stop)
	LowVolatilityPct  float64
	HighVolatilityPct float64

	DefaultATRPeriod     int
	DefaultATRMultiplier float64
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

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "watchlist_db"),
		SQLitePath: getEnv("SQLITE_PATH", "data/watchlist.db"),

		JWTSecret: getEnv("JWT_SECRET", "your-secret-key"),
		MongoURI:  getEnv("MONGODB_URI", ""),

		PriceAPIBaseURL:     getEnv("PRICE_API_BASE_URL", "https://query1.finance.yahoo.com"),
		RecommendAPIBaseURL: getEnv("RECOMMEND_API_BASE_URL", "https://query1.finance.yahoo.com"),
		PriceAPITimeout:     getEnvDuration("PRICE_API_TIMEOUT", 30*time.Second),

		FCMEndpoint:     getEnv("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),
		FCMServerKey:    getEnv("FCM_SERVER_KEY", ""),
		WhatsAppBaseURL: getEnv("WHATSAPP_BASE_URL", "https://graph.facebook.com/v18.0"),
		WhatsAppPhoneID: getEnv("WHATSAPP_PHONE_ID", ""),
		WhatsAppToken:   getEnv("WHATSAPP_TOKEN", ""),
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUser:        getEnv("SMTP_USER", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:        getEnv("SMTP_FROM", "alerts@watchlist.app"),

		BatchWorkers:         getEnvInt("BATCH_WORKERS", 5),
		BatchTimeout:         getEnvDuration("BATCH_TIMEOUT", 2*time.Minute),
		BatchIntervalMinutes: getEnvInt("BATCH_INTERVAL_MINUTES", 15),
		BatchAllowOverlap:    getEnvBool("BATCH_ALLOW_OVERLAP", false),

		LowVolatilityPct:  getEnvFloat("LOW_VOLATILITY_PCT", 5.0),
		HighVolatilityPct: getEnvFloat("HIGH_VOLATILITY_PCT", 10.0),

		DefaultATRPeriod:     getEnvInt("DEFAULT_ATR_PERIOD", 14),
		DefaultATRMultiplier: getEnvFloat("DEFAULT_ATR_MULTIPLIER", 2.0),
	}

	AppConfig = config
	return config, nil
}

// InitDB initializes the database connection. Postgres when DB_HOST is set,
// otherwise a local SQLite file so the app runs without external services.
func InitDB() (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	if AppConfig.DBHost == "" {
		log.Printf("DB_HOST not set, using SQLite at %s", AppConfig.SQLitePath)
		if dir := filepath.Dir(AppConfig.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		db, err := gorm.Open(sqlite.Open(AppConfig.SQLitePath), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		DB = db
		return db, nil
	}

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

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
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
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
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
		log.Printf("Invalid value for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return d
}
