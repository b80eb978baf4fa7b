// Package store backs the batch pipeline's persistence interfaces with gorm.
package store

import (
	"context"
	"log"

	"gorm.io/gorm"

	"watchlist_backend/models"
	"watchlist_backend/services/notify"
)

// GormStore implements the orchestrator's WatchlistStore, TargetResolver and
// AlertRecorder against the relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// ListWatchedItems returns every watched item belonging to an active user
func (s *GormStore) ListWatchedItems(ctx context.Context) ([]models.WatchedItem, error) {
	var items []models.WatchedItem
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = watched_items.user_id").
		Where("users.is_active = ?", true).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ResolveTarget collects a user's delivery addresses: registered device
// tokens, phone and email.
func (s *GormStore) ResolveTarget(ctx context.Context, userID uint) (notify.Target, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return notify.Target{}, err
	}

	var tokens []models.DeviceToken
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&tokens).Error; err != nil {
		return notify.Target{}, err
	}

	target := notify.Target{
		UserID: user.ID,
		Phone:  user.Phone,
		Email:  user.Email,
	}
	for _, t := range tokens {
		target.PushTokens = append(target.PushTokens, t.Token)
	}
	return target, nil
}

// RecordAlert persists one dispatched alert. Failures are logged and
// swallowed; auditing never fails a batch run.
func (s *GormStore) RecordAlert(ctx context.Context, userID uint, alert notify.Alert, result notify.Result) {
	entry := models.AlertLog{
		UserID:         userID,
		Symbol:         alert.Symbol,
		Region:         alert.Region,
		Recommendation: alert.Recommendation,
		CurrentPrice:   alert.CurrentPrice,
		StopLoss:       alert.StopLoss,
		StopLossPct:    alert.StopLossPct,
		SuccessCount:   result.SuccessCount,
		FailureCount:   result.FailureCount,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		log.Printf("Failed to record alert for %s: %v", alert.Symbol, err)
	}
}
