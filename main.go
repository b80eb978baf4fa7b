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

	"watchlist_backend/config"
	"watchlist_backend/models"
	"watchlist_backend/routes"
	"watchlist_backend/scheduler"
	"watchlist_backend/services/batch"
	"watchlist_backend/services/markethours"
	"watchlist_backend/services/notify"
	"watchlist_backend/services/pricecache"
	"watchlist_backend/services/pricedata"
	"watchlist_backend/services/recommend"
	"watchlist_backend/services/store"
	"watchlist_backend/services/stream"
	"watchlist_backend/services/volatility"
)

// dbInitialized tracks whether database has been successfully initialized.
// The /ready endpoint reads it from other goroutines.
var dbInitialized bool
var dbInitMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  Watchlist Backend API - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Health endpoints go up first so orchestrators can detect the service
	// before the database is ready
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database, services and routes in background
	var jobScheduler *scheduler.Scheduler
	hub := stream.NewHub()
	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := runMigrations(); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		gate, err := markethours.NewGate()
		if err != nil {
			log.Fatalf("Failed to load market calendars: %v", err)
		}

		prices := pricedata.NewProvider(cfg.PriceAPIBaseURL, cfg.PriceAPITimeout, cfg.BatchWorkers)
		priceCache := pricecache.NewMongoCache(cfg.MongoURI)
		if priceCache.IsConfigured() {
			prices.SetCache(priceCache)
		}

		recs := recommend.NewProvider(cfg.RecommendAPIBaseURL, cfg.PriceAPITimeout)
		dispatcher := buildDispatcher(cfg)
		dataStore := store.NewGormStore(db)

		orchestrator := batch.NewOrchestrator(
			dataStore, dataStore, prices, recs, dispatcher, gate,
			batch.Options{
				Workers:      cfg.BatchWorkers,
				Timeout:      cfg.BatchTimeout,
				AllowOverlap: cfg.BatchAllowOverlap,
				Thresholds: volatility.Thresholds{
					LowVolatilityPct:  cfg.LowVolatilityPct,
					HighVolatilityPct: cfg.HighVolatilityPct,
				},
			},
		)
		orchestrator.SetRecorder(dataStore)
		orchestrator.SetPublisher(hub)

		dbInitMutex.Lock()
		dbInitialized = true
		dbInitMutex.Unlock()

		routes.SetupRoutes(router, db, orchestrator, gate, hub)

		jobScheduler = scheduler.NewScheduler(db, orchestrator,
			time.Duration(cfg.BatchIntervalMinutes)*time.Minute)
		go jobScheduler.Start()

		log.Println("Application fully initialized with database")
	}()

	gracefulShutdown(server, jobScheduler, hub)
}

// buildDispatcher wires the notification channels that are configured.
// Unconfigured channels stay nil and report as skipped.
func buildDispatcher(cfg *config.Config) *notify.Dispatcher {
	var push notify.PushSender
	if cfg.FCMServerKey != "" {
		push = notify.NewFCMPushSender(cfg.FCMEndpoint, cfg.FCMServerKey)
	}

	var whatsapp notify.WhatsAppSender
	if cfg.WhatsAppPhoneID != "" && cfg.WhatsAppToken != "" {
		whatsapp = notify.NewWhatsAppCloudSender(cfg.WhatsAppBaseURL, cfg.WhatsAppPhoneID, cfg.WhatsAppToken)
	}

	var email notify.EmailSender
	if cfg.SMTPHost != "" {
		email = notify.NewSMTPEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	}

	return notify.NewDispatcher(push, whatsapp, email)
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	if err := models.MigrateUserModels(db); err != nil {
		return err
	}
	if err := models.MigrateWatchlistModels(db); err != nil {
		return err
	}
	return nil
}

// setupHealthEndpoints registers probes that work before full initialization
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Watchlist Backend API",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if service is ready to receive traffic
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		sqlDB, err := config.DB.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

// corsMiddleware returns a CORS middleware
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
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler, hub *stream.Hub) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	if jobScheduler != nil {
		jobScheduler.Stop()
	}
	if hub != nil {
		hub.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
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
