package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"watchlist_backend/config"
	"watchlist_backend/middleware"
	"watchlist_backend/models"
)

var testDBSeq int

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	config.AppConfig = &config.Config{JWTSecret: "test-secret"}

	testDBSeq++
	dsn := fmt.Sprintf("file:controllers_test_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateUserModels(db))
	require.NoError(t, models.MigrateWatchlistModels(db))
	return db
}

func setupRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	auth := NewAuthController(db)
	watchlist := NewWatchlistController(db)

	api := router.Group("/api/v1")
	api.POST("/auth/register", auth.Register)
	api.POST("/auth/login", auth.Login)

	authed := api.Group("")
	authed.Use(middleware.JWTAuthMiddleware())
	authed.GET("/auth/me", auth.Me)
	authed.GET("/watchlist", watchlist.GetWatchlist)
	authed.POST("/watchlist", watchlist.AddWatchedItem)
	authed.PUT("/watchlist/:id", watchlist.UpdateWatchedItem)
	authed.DELETE("/watchlist/:id", watchlist.RemoveWatchedItem)
	authed.POST("/devices", watchlist.RegisterDeviceToken)
	authed.GET("/alerts", watchlist.GetAlertHistory)

	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// registerUser creates an account and returns its session token
func registerUser(t *testing.T, router *gin.Engine, phone string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"phone": phone,
		"pin":   "1234",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	token, ok := body["token"].(string)
	require.True(t, ok)
	return token
}
