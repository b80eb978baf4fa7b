// Package markethours decides whether a market region is currently inside its
// trading session and when it next opens.
package markethours

import (
	"fmt"
	"time"

	"watchlist_backend/models"
)

// Calendar describes one exchange's trading schedule in its local time zone
type Calendar struct {
	Location    *time.Location
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
	TradingDays map[time.Weekday]bool
	Holidays    map[string]bool // "2006-01-02" dates in exchange-local time
}

// Gate answers open/next-open questions per region. It holds no mutable
// state, so the same inputs always produce the same answers.
type Gate struct {
	calendars map[models.Region]Calendar
}

func weekdays() map[time.Weekday]bool {
	return map[time.Weekday]bool{
		time.Monday:    true,
		time.Tuesday:   true,
		time.Wednesday: true,
		time.Thursday:  true,
		time.Friday:    true,
	}
}

// NewGate builds a gate with the NYSE and NSE session calendars
func NewGate() (*Gate, error) {
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load US market timezone: %w", err)
	}
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return nil, fmt.Errorf("failed to load India market timezone: %w", err)
	}

	return &Gate{
		calendars: map[models.Region]Calendar{
			models.RegionUS: {
				Location:  newYork,
				OpenHour:  9, OpenMinute: 30,
				CloseHour: 16, CloseMinute: 0,
				TradingDays: weekdays(),
				Holidays:    map[string]bool{},
			},
			models.RegionIndia: {
				Location:  kolkata,
				OpenHour:  9, OpenMinute: 15,
				CloseHour: 15, CloseMinute: 30,
				TradingDays: weekdays(),
				Holidays:    map[string]bool{},
			},
		},
	}, nil
}

// SetHolidays replaces the holiday list for a region. Dates are
// "2006-01-02" strings in the exchange's local time.
func (g *Gate) SetHolidays(region models.Region, dates []string) {
	cal, ok := g.calendars[region]
	if !ok {
		return
	}
	holidays := make(map[string]bool, len(dates))
	for _, d := range dates {
		holidays[d] = true
	}
	cal.Holidays = holidays
	g.calendars[region] = cal
}

// IsOpen reports whether the region's market is open at the given instant
func (g *Gate) IsOpen(region models.Region, now time.Time) bool {
	cal, ok := g.calendars[region]
	if !ok {
		return false
	}

	local := now.In(cal.Location)
	if !cal.tradingDay(local) {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	open := cal.OpenHour*60 + cal.OpenMinute
	close := cal.CloseHour*60 + cal.CloseMinute
	return minutes >= open && minutes < close
}

// NextOpen returns the nearest future instant at which IsOpen becomes true,
// advancing day-by-day past weekends and holidays.
func (g *Gate) NextOpen(region models.Region, now time.Time) time.Time {
	cal, ok := g.calendars[region]
	if !ok {
		return now
	}

	local := now.In(cal.Location)
	for i := 0; i < 370; i++ {
		day := local.AddDate(0, 0, i)
		if !cal.tradingDay(day) {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(),
			cal.OpenHour, cal.OpenMinute, 0, 0, cal.Location)
		if open.After(now) {
			return open
		}
	}
	// A year without a trading day means a misconfigured calendar
	return now
}

func (c Calendar) tradingDay(local time.Time) bool {
	if !c.TradingDays[local.Weekday()] {
		return false
	}
	return !c.Holidays[local.Format("2006-01-02")]
}
