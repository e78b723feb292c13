package scheduler

// Package scheduler provides scheduled job management for the backend.
// It handles:
// - Polling the market data and history due-checks
// - The daily earning summary invalidate-and-prewarm
//
// The main scheduler is implemented in jobs.go
