package controllers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchlistCRUD(t *testing.T) {
	router := setupRouter(setupTestDB(t))
	token := registerUser(t, router, "+14155550110")

	// Add
	w := doJSON(t, router, http.MethodPost, "/api/v1/watchlist", token, gin.H{
		"symbol":      "aapl",
		"region":      "US",
		"alert_price": 150.0,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	item := body["data"].(map[string]interface{})
	assert.Equal(t, "AAPL", item["symbol"]) // symbol is normalized
	itemID := int(item["id"].(float64))

	// Defaults applied
	assert.Equal(t, float64(14), item["atr_period"])
	assert.Equal(t, 2.0, item["atr_multiplier"])

	// Duplicate add conflicts
	w = doJSON(t, router, http.MethodPost, "/api/v1/watchlist", token, gin.H{
		"symbol": "AAPL",
		"region": "US",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// List
	w = doJSON(t, router, http.MethodGet, "/api/v1/watchlist", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])

	// Update
	w = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/v1/watchlist/%d", itemID), token, gin.H{
		"symbol":     "AAPL",
		"atr_period": 20,
		"owned":      true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	item = body["data"].(map[string]interface{})
	assert.Equal(t, float64(20), item["atr_period"])
	assert.Equal(t, true, item["owned"])

	// Delete
	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/watchlist/%d", itemID), token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/watchlist", token, nil)
	body = decodeBody(t, w)
	assert.Equal(t, float64(0), body["count"])
}

func TestWatchlistRejectsInvalidRegion(t *testing.T) {
	router := setupRouter(setupTestDB(t))
	token := registerUser(t, router, "+14155550111")

	w := doJSON(t, router, http.MethodPost, "/api/v1/watchlist", token, gin.H{
		"symbol": "TSLA",
		"region": "EU",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWatchlistIsScopedToUser(t *testing.T) {
	router := setupRouter(setupTestDB(t))
	tokenA := registerUser(t, router, "+14155550112")
	tokenB := registerUser(t, router, "+14155550113")

	w := doJSON(t, router, http.MethodPost, "/api/v1/watchlist", tokenA, gin.H{
		"symbol": "MSFT",
		"region": "US",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	itemID := int(body["data"].(map[string]interface{})["id"].(float64))

	// Other user sees an empty list and cannot touch the item
	w = doJSON(t, router, http.MethodGet, "/api/v1/watchlist", tokenB, nil)
	body = decodeBody(t, w)
	assert.Equal(t, float64(0), body["count"])

	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/watchlist/%d", itemID), tokenB, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterDeviceToken(t *testing.T) {
	router := setupRouter(setupTestDB(t))
	token := registerUser(t, router, "+14155550114")

	w := doJSON(t, router, http.MethodPost, "/api/v1/devices", token, gin.H{
		"token":    "fcm-token-1",
		"platform": "android",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Re-registering the same token is idempotent
	w = doJSON(t, router, http.MethodPost, "/api/v1/devices", token, gin.H{
		"token":    "fcm-token-1",
		"platform": "android",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/devices", token, gin.H{
		"token":    "fcm-token-1",
		"platform": "desktop",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlertHistoryEmpty(t *testing.T) {
	router := setupRouter(setupTestDB(t))
	token := registerUser(t, router, "+14155550115")

	w := doJSON(t, router, http.MethodGet, "/api/v1/alerts", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(0), body["count"])
}
