package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Refresher is the catalog surface the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshScheduler rebuilds the source catalog on a cron schedule so new
// partitions and tables show up without a manual refresh.
type RefreshScheduler struct {
	refresher Refresher
	schedule  string // cron schedule (e.g., "*/5 * * * *" = every 5 minutes)
	enabled   bool
	timeout   time.Duration
	cron      *cron.Cron
	running   bool
	lastRun   time.Time
	lastErr   error
	mu        sync.Mutex
	logger    zerolog.Logger
}

// RefreshSchedulerConfig holds configuration for the refresh scheduler
type RefreshSchedulerConfig struct {
	Refresher Refresher
	Schedule  string // cron schedule string (e.g., "*/5 * * * *")
	Enabled   bool
	Timeout   time.Duration // per-run budget, defaults to 5 minutes
	Logger    zerolog.Logger
}

// NewRefreshScheduler creates a new catalog refresh scheduler
func NewRefreshScheduler(cfg *RefreshSchedulerConfig) (*RefreshScheduler, error) {
	// Default schedule: every 5 minutes
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "*/5 * * * *"
	}

	// Validate cron schedule
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	s := &RefreshScheduler{
		refresher: cfg.Refresher,
		schedule:  schedule,
		enabled:   cfg.Enabled,
		timeout:   timeout,
		logger:    cfg.Logger.With().Str("component", "refresh-scheduler").Logger(),
	}

	s.logger.Info().
		Str("schedule", schedule).
		Bool("enabled", cfg.Enabled).
		Msg("Refresh scheduler initialized")

	return s, nil
}

// Start starts the refresh scheduler
func (s *RefreshScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Refresh scheduler already running")
		return nil
	}

	if !s.enabled {
		s.logger.Info().Msg("Background catalog refresh disabled - not starting")
		return nil
	}

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.runRefresh()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.getNextRun()).
		Msg("Refresh scheduler started")

	return nil
}

// Stop stops the refresh scheduler
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done() // Wait for a running refresh to complete
	}

	s.running = false
	s.logger.Info().Msg("Refresh scheduler stopped")
}

// runRefresh runs one catalog refresh cycle
func (s *RefreshScheduler) runRefresh() {
	startTime := time.Now()
	s.logger.Debug().Msg("Triggering scheduled catalog refresh")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.refresher.Refresh(ctx)

	s.mu.Lock()
	s.lastRun = startTime
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().
			Err(err).
			Dur("duration", time.Since(startTime)).
			Msg("Scheduled catalog refresh failed")
		return
	}

	s.logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("Scheduled catalog refresh completed")
}

// getNextRun returns the next scheduled run time
func (s *RefreshScheduler) getNextRun() time.Time {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now())
}

// Status returns scheduler status
func (s *RefreshScheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":  s.running,
		"enabled":  s.enabled,
		"schedule": s.schedule,
	}

	if s.running {
		status["next_run"] = s.getNextRun().Format(time.RFC3339)
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun.Format(time.RFC3339)
		status["last_run_ok"] = s.lastErr == nil
	}

	return status
}

// IsRunning returns whether the scheduler is running
func (s *RefreshScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetSchedule returns the cron schedule string
func (s *RefreshScheduler) GetSchedule() string {
	return s.schedule
}
