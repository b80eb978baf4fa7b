package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Region identifies the market jurisdiction of a watched symbol. It fixes the
// exchange calendar and the currency symbol used when rendering alerts.
type Region string

const (
	RegionUS    Region = "US"
	RegionIndia Region = "INDIA"
)

// ValidRegions returns the supported market regions
func ValidRegions() []Region {
	return []Region{RegionUS, RegionIndia}
}

// IsValidRegion checks if the region is supported
func IsValidRegion(region Region) bool {
	for _, valid := range ValidRegions() {
		if region == valid {
			return true
		}
	}
	return false
}

// CurrencySymbol returns the currency symbol for the region
func (r Region) CurrencySymbol() string {
	if r == RegionIndia {
		return "₹"
	}
	return "$"
}

// WatchedItem represents one symbol a user tracks. The monitoring pipeline
// reads these and never mutates them.
type WatchedItem struct {
	ID            uint                `gorm:"primaryKey" json:"id"`
	UserID        uint                `gorm:"index" json:"user_id"`
	User          User                `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Symbol        string              `gorm:"index;not null" json:"symbol"`
	Region        Region              `gorm:"index;default:'US'" json:"region"`
	ATRPeriod     int                 `gorm:"default:14" json:"atr_period"`
	ATRMultiplier float64             `gorm:"default:2.0" json:"atr_multiplier"`
	AlertPrice    decimal.NullDecimal `gorm:"type:decimal(15,4)" json:"alert_price"`
	Owned         bool                `gorm:"default:false" json:"owned"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Normalize uppercases the symbol and fills in defaults
func (w *WatchedItem) Normalize() {
	w.Symbol = strings.ToUpper(strings.TrimSpace(w.Symbol))
	if w.Region == "" {
		w.Region = RegionUS
	}
	if w.ATRPeriod == 0 {
		w.ATRPeriod = 14
	}
}

// Validate checks the watched item invariants
func (w *WatchedItem) Validate() error {
	if w.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !IsValidRegion(w.Region) {
		return fmt.Errorf("invalid region %q", w.Region)
	}
	if w.ATRPeriod < 1 {
		return fmt.Errorf("atr_period must be at least 1")
	}
	if w.ATRMultiplier < 0 {
		return fmt.Errorf("atr_multiplier must not be negative")
	}
	return nil
}

// AlertPriceValue returns the alert price as a float pointer, nil when unset
func (w *WatchedItem) AlertPriceValue() *float64 {
	if !w.AlertPrice.Valid {
		return nil
	}
	v, _ := w.AlertPrice.Decimal.Float64()
	return &v
}

// AlertLog records one dispatched alert for audit and duplicate inspection
type AlertLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"index" json:"user_id"`
	Symbol         string    `gorm:"index" json:"symbol"`
	Region         Region    `json:"region"`
	Recommendation string    `json:"recommendation"`
	CurrentPrice   float64   `json:"current_price"`
	StopLoss       float64   `json:"stop_loss"`
	StopLossPct    float64   `json:"stop_loss_pct"`
	SuccessCount   int       `json:"success_count"`
	FailureCount   int       `json:"failure_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// MigrateWatchlistModels runs database migrations for watchlist models
func MigrateWatchlistModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&WatchedItem{},
		&AlertLog{},
	)
}
