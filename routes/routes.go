package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"watchlist_backend/controllers"
	"watchlist_backend/middleware"
	"watchlist_backend/services/batch"
	"watchlist_backend/services/stream"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, orchestrator *batch.Orchestrator, gate batch.MarketGate, hub *stream.Hub) {
	authController := controllers.NewAuthController(db)
	watchlistController := controllers.NewWatchlistController(db)
	batchController := controllers.NewBatchController(orchestrator, gate)

	api := router.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", authController.Register)
			auth.POST("/login", middleware.LoginRateLimitMiddleware(), authController.Login)
			auth.GET("/me", middleware.JWTAuthMiddleware(), authController.Me)
		}

		// Market hours are public
		api.GET("/markets", batchController.GetMarketHours)

		// Everything below requires a session
		authed := api.Group("")
		authed.Use(middleware.JWTAuthMiddleware())
		{
			watchlist := authed.Group("/watchlist")
			{
				watchlist.GET("", watchlistController.GetWatchlist)
				watchlist.POST("", watchlistController.AddWatchedItem)
				watchlist.PUT("/:id", watchlistController.UpdateWatchedItem)
				watchlist.DELETE("/:id", watchlistController.RemoveWatchedItem)
			}

			authed.POST("/devices", watchlistController.RegisterDeviceToken)
			authed.GET("/alerts", watchlistController.GetAlertHistory)

			batchRoutes := authed.Group("/batch")
			{
				batchRoutes.POST("/run", batchController.TriggerRun)
				batchRoutes.GET("/status", batchController.GetStatus)
			}
		}
	}

	// Live alert stream
	router.GET("/ws/alerts", func(c *gin.Context) {
		hub.HandleWebSocket(c.Writer, c.Request)
	})
}
