package controllers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	router := setupRouter(setupTestDB(t))

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"phone":     "+14155550100",
		"pin":       "1234",
		"email":     "user@example.com",
		"full_name": "Test User",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.NotEmpty(t, body["token"])

	w = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"phone": "+14155550100",
		"pin":   "1234",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.NotEmpty(t, body["token"])
}

func TestRegisterDuplicatePhone(t *testing.T) {
	router := setupRouter(setupTestDB(t))
	registerUser(t, router, "+14155550101")

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"phone": "+14155550101",
		"pin":   "9999",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegisterRejectsBadPhone(t *testing.T) {
	router := setupRouter(setupTestDB(t))

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"phone": "not-a-phone",
		"pin":   "1234",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginWrongPIN(t *testing.T) {
	router := setupRouter(setupTestDB(t))
	registerUser(t, router, "+14155550102")

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"phone": "+14155550102",
		"pin":   "0000",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeRequiresToken(t *testing.T) {
	router := setupRouter(setupTestDB(t))

	w := doJSON(t, router, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := registerUser(t, router, "+14155550103")
	w = doJSON(t, router, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	user, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "+14155550103", user["phone"])
}
