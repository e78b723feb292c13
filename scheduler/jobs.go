package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"stock_backend_api/services"
)

const pollInterval = 30 * time.Second

// PrewarmSectors are the sectors warmed into the summary cache right after
// the daily invalidation.
var PrewarmSectors = []string{
	"Technology",
	"Healthcare",
	"Financial Services",
	"Energy",
	"Consumer Cyclical",
}

// Status describes the scheduler for the admin API.
type Status struct {
	Running        bool   `json:"running"`
	PollInterval   string `json:"poll_interval"`
	PrewarmAt      string `json:"prewarm_at"`
	LastPollAt     string `json:"last_poll_at,omitempty"`
	LastPrewarmAt  string `json:"last_prewarm_at,omitempty"`
	PollsCompleted int64  `json:"polls_completed"`
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron       *gocron.Scheduler
	marketData *services.MarketDataService
	summary    *services.EarningSummaryCache

	prewarmHour int

	mu             sync.Mutex
	running        bool
	polling        bool
	lastPollAt     time.Time
	lastPrewarmAt  time.Time
	pollsCompleted int64
}

// NewScheduler creates a new scheduler instance
func NewScheduler(marketData *services.MarketDataService, summary *services.EarningSummaryCache,
	prewarmHour int) *Scheduler {
	return &Scheduler{
		cron:        gocron.NewScheduler(time.UTC),
		marketData:  marketData,
		summary:     summary,
		prewarmHour: prewarmHour,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log.Println("Starting scheduler...")

	// Poll the due-checks frequently; the checks themselves enforce the
	// real refresh intervals.
	s.cron.Every(pollInterval).Do(func() {
		s.pollOnce()
	})

	// Rebuild the earning summary cache once a day.
	prewarmAt := fmt.Sprintf("%02d:00", s.prewarmHour)
	s.cron.Every(1).Day().At(prewarmAt).Do(func() {
		s.dailyPrewarm()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// pollOnce runs both due-checks. Overlapping polls are skipped so a slow
// history run never stacks.
func (s *Scheduler) pollOnce() {
	s.mu.Lock()
	if s.polling {
		s.mu.Unlock()
		return
	}
	s.polling = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.polling = false
		s.lastPollAt = time.Now()
		s.pollsCompleted++
		s.mu.Unlock()
	}()

	ctx := context.Background()

	if s.marketData.ShouldPopulateMarketData() {
		if err := s.marketData.PopulateMarketData(ctx); err != nil {
			log.Printf("Market data refresh failed: %v", err)
		}
	}

	if s.marketData.ShouldPopulateHistory() {
		if err := s.marketData.PopulateHistory(ctx); err != nil {
			log.Printf("History refresh failed: %v", err)
		}
	}
}

// dailyPrewarm wipes the summary cache and rebuilds the common views.
func (s *Scheduler) dailyPrewarm() {
	log.Println("Running daily summary prewarm...")
	s.summary.InvalidateAll()
	s.summary.PreWarm(PrewarmSectors)

	s.mu.Lock()
	s.lastPrewarmAt = time.Now()
	s.mu.Unlock()
	log.Println("Daily summary prewarm complete")
}

// Status reports the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:        s.running,
		PollInterval:   pollInterval.String(),
		PrewarmAt:      fmt.Sprintf("%02d:00 UTC", s.prewarmHour),
		PollsCompleted: s.pollsCompleted,
	}
	if !s.lastPollAt.IsZero() {
		status.LastPollAt = s.lastPollAt.Format(time.RFC3339)
	}
	if !s.lastPrewarmAt.IsZero() {
		status.LastPrewarmAt = s.lastPrewarmAt.Format(time.RFC3339)
	}
	return status
}
