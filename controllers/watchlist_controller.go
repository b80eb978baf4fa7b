package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"watchlist_backend/middleware"
	"watchlist_backend/models"
)

// WatchlistController handles watched item CRUD and device token registration
type WatchlistController struct {
	db *gorm.DB
}

// NewWatchlistController creates a new watchlist controller
func NewWatchlistController(db *gorm.DB) *WatchlistController {
	return &WatchlistController{db: db}
}

type watchedItemRequest struct {
	Symbol        string        `json:"symbol" binding:"required"`
	Region        models.Region `json:"region"`
	ATRPeriod     int           `json:"atr_period"`
	ATRMultiplier *float64      `json:"atr_multiplier"`
	AlertPrice    *float64      `json:"alert_price"`
	Owned         *bool         `json:"owned"`
}

func (r *watchedItemRequest) apply(item *models.WatchedItem) {
	item.Symbol = r.Symbol
	if r.Region != "" {
		item.Region = r.Region
	}
	if r.ATRPeriod > 0 {
		item.ATRPeriod = r.ATRPeriod
	}
	if r.ATRMultiplier != nil {
		item.ATRMultiplier = *r.ATRMultiplier
	}
	if r.AlertPrice != nil {
		item.AlertPrice = decimal.NewNullDecimal(decimal.NewFromFloat(*r.AlertPrice))
	}
	if r.Owned != nil {
		item.Owned = *r.Owned
	}
}

// GetWatchlist returns the authenticated user's watched items
// GET /api/v1/watchlist
func (wc *WatchlistController) GetWatchlist(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	query := wc.db.Where("user_id = ?", userID)
	if region := c.Query("region"); region != "" {
		query = query.Where("region = ?", region)
	}

	var items []models.WatchedItem
	if err := query.Order("symbol").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch watchlist"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}

// AddWatchedItem adds a symbol to the user's watchlist
// POST /api/v1/watchlist
func (wc *WatchlistController) AddWatchedItem(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var req watchedItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item := models.WatchedItem{
		UserID:        userID,
		ATRMultiplier: 2.0,
	}
	req.apply(&item)
	item.Normalize()
	if err := item.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var existing models.WatchedItem
	err := wc.db.Where("user_id = ? AND symbol = ? AND region = ?",
		userID, item.Symbol, item.Region).First(&existing).Error
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Symbol already on watchlist"})
		return
	}

	if err := wc.db.Create(&item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add symbol"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

// UpdateWatchedItem updates monitoring parameters for one watched item
// PUT /api/v1/watchlist/:id
func (wc *WatchlistController) UpdateWatchedItem(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item id"})
		return
	}

	var item models.WatchedItem
	if err := wc.db.Where("id = ? AND user_id = ?", id, userID).First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Watched item not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch item"})
		return
	}

	var req watchedItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req.apply(&item)
	item.Normalize()
	if err := item.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := wc.db.Save(&item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update item"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

// RemoveWatchedItem removes a symbol from the user's watchlist
// DELETE /api/v1/watchlist/:id
func (wc *WatchlistController) RemoveWatchedItem(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item id"})
		return
	}

	result := wc.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.WatchedItem{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove item"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Watched item not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Removed from watchlist"})
}

type deviceTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"required,oneof=ios android web"`
}

// RegisterDeviceToken registers a push notification token for the user
// POST /api/v1/devices
func (wc *WatchlistController) RegisterDeviceToken(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var req deviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Re-registering an existing token moves it to the current user
	token := models.DeviceToken{
		UserID:   userID,
		Token:    req.Token,
		Platform: req.Platform,
	}
	err := wc.db.Where("token = ?", req.Token).
		Assign(models.DeviceToken{UserID: userID, Platform: req.Platform}).
		FirstOrCreate(&token).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register device"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": token})
}

// GetAlertHistory returns the user's dispatched alerts, newest first
// GET /api/v1/alerts
func (wc *WatchlistController) GetAlertHistory(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var logs []models.AlertLog
	if err := wc.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs, "count": len(logs)})
}
