package scheduler

// Package scheduler provides scheduled job management for the watchlist
// backend. It handles:
// - Periodic volatility monitoring batches during market hours
// - Periodic alert log cleanup
//
// The main scheduler is implemented in jobs.go
