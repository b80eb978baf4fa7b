package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"

	"watchlist_backend/models"
	"watchlist_backend/services/batch"
)

// Alert logs older than this are pruned by the weekly cleanup job
const alertLogRetention = 90 * 24 * time.Hour

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron         *gocron.Scheduler
	db           *gorm.DB
	orchestrator *batch.Orchestrator
	interval     time.Duration
}

// NewScheduler creates a new scheduler instance. interval is the gap between
// volatility monitoring batches.
func NewScheduler(db *gorm.DB, orchestrator *batch.Orchestrator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		cron:         gocron.NewScheduler(time.UTC),
		db:           db,
		orchestrator: orchestrator,
		interval:     interval,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Run the volatility monitoring batch periodically. The orchestrator
	// gates per region, so runs outside market hours skip cheaply.
	s.cron.Every(int(s.interval.Minutes())).Minutes().Do(func() {
		s.runMonitoringBatch()
	})

	// Cleanup old alert logs weekly on Sunday at 01:00
	s.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
		s.cleanupAlertLogs()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runMonitoringBatch triggers one scheduled (non-manual) batch run
func (s *Scheduler) runMonitoringBatch() {
	status, err := s.orchestrator.Run(context.Background(), false)
	if err != nil {
		if errors.Is(err, batch.ErrRunInProgress) {
			log.Println("Skipping scheduled batch: previous run still in progress")
			return
		}
		log.Printf("Scheduled batch failed: %v", err)
		return
	}
	log.Printf("Scheduled batch finished: evaluated=%d alerts=%d errors=%d",
		status.Evaluated, status.AlertsSent, status.Errors)
}

// cleanupAlertLogs prunes alert logs past the retention window
func (s *Scheduler) cleanupAlertLogs() {
	if s.db == nil {
		return
	}
	log.Println("Cleaning up old alert logs...")

	cutoff := time.Now().Add(-alertLogRetention)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.AlertLog{})
	if result.Error != nil {
		log.Printf("Error cleaning up alert logs: %v", result.Error)
		return
	}
	log.Printf("Deleted %d old alert logs", result.RowsAffected)
}
