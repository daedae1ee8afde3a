package poll

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultInterval = 5 * time.Minute
	defaultCooldown = time.Minute
)

// Scheduler runs sync passes on a fixed interval. A failed pass shortens the
// wait to the cooldown so the same window is retried sooner; the loop itself
// never exits on errors.
type Scheduler struct {
	monitor  *Monitor
	interval time.Duration
	cooldown time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler. Zero durations fall back to the defaults
// (5 minutes between passes, 1 minute after a failure).
func NewScheduler(monitor *Monitor, interval, cooldown time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Scheduler{
		monitor:  monitor,
		interval: interval,
		cooldown: cooldown,
		logger:   logger,
	}
}

// Run executes passes until ctx is cancelled. The first pass starts
// immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval.String(), "cooldown", s.cooldown.String())

	for {
		wait := s.interval
		if err := s.monitor.Check(ctx); err != nil {
			s.logger.Error("order check failed", "error", err, "retry_in", s.cooldown.String())
			wait = s.cooldown
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", "error", ctx.Err())
			return
		case <-time.After(wait):
		}
	}
}
