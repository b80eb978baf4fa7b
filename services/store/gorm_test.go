package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"watchlist_backend/models"
	"watchlist_backend/services/notify"
)

var testDBSeq int

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateUserModels(db))
	require.NoError(t, models.MigrateWatchlistModels(db))
	return db
}

func createUser(t *testing.T, db *gorm.DB, phone string, active bool) models.User {
	t.Helper()
	user := models.User{Phone: phone, Email: phone + "@example.com", IsActive: active}
	require.NoError(t, user.SetPIN("1234"))
	require.NoError(t, db.Create(&user).Error)
	return user
}

func TestListWatchedItemsSkipsInactiveUsers(t *testing.T) {
	db := setupDB(t)
	s := NewGormStore(db)

	active := createUser(t, db, "+14155550120", true)
	inactive := createUser(t, db, "+14155550121", false)

	require.NoError(t, db.Create(&models.WatchedItem{
		UserID: active.ID, Symbol: "AAPL", Region: models.RegionUS,
		ATRPeriod: 14, ATRMultiplier: 2.0,
	}).Error)
	require.NoError(t, db.Create(&models.WatchedItem{
		UserID: inactive.ID, Symbol: "TSLA", Region: models.RegionUS,
		ATRPeriod: 14, ATRMultiplier: 2.0,
	}).Error)

	items, err := s.ListWatchedItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "AAPL", items[0].Symbol)
}

func TestResolveTarget(t *testing.T) {
	db := setupDB(t)
	s := NewGormStore(db)

	user := createUser(t, db, "+14155550122", true)
	require.NoError(t, db.Create(&models.DeviceToken{
		UserID: user.ID, Token: "tok-1", Platform: "android",
	}).Error)
	require.NoError(t, db.Create(&models.DeviceToken{
		UserID: user.ID, Token: "tok-2", Platform: "ios",
	}).Error)

	target, err := s.ResolveTarget(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, target.UserID)
	assert.Equal(t, "+14155550122", target.Phone)
	assert.Equal(t, "+14155550122@example.com", target.Email)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, target.PushTokens)
}

func TestResolveTargetUnknownUser(t *testing.T) {
	s := NewGormStore(setupDB(t))

	_, err := s.ResolveTarget(context.Background(), 9999)
	assert.Error(t, err)
}

func TestRecordAlert(t *testing.T) {
	db := setupDB(t)
	s := NewGormStore(db)
	user := createUser(t, db, "+14155550123", true)

	alert := notify.Alert{
		Symbol:         "AAPL",
		Region:         models.RegionUS,
		CurrentPrice:   150,
		StopLoss:       146,
		StopLossPct:    2.67,
		Recommendation: "SELL",
	}
	s.RecordAlert(context.Background(), user.ID, alert, notify.Result{SuccessCount: 2, FailureCount: 1})

	var logs []models.AlertLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, user.ID, logs[0].UserID)
	assert.Equal(t, "SELL", logs[0].Recommendation)
	assert.Equal(t, 2, logs[0].SuccessCount)
	assert.Equal(t, 1, logs[0].FailureCount)
}
