package scheduler

import (
	"context"
	"log/slog"
	"time"

	"notice_ingest/internal/domain"
)

// Runner performs one ingestion pass over every active feed group.
type Runner interface {
	Run(ctx context.Context) (*domain.RunStats, error)
}

type Scheduler struct {
	runner      Runner
	interval    time.Duration
	passTimeout time.Duration
	logger      *slog.Logger
}

func NewScheduler(runner Runner, interval, passTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:      runner,
		interval:    interval,
		passTimeout: passTimeout,
		logger:      logger,
	}
}

// Start runs a pass at once and then on every tick until ctx is done.
// Passes never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "pass_timeout", s.passTimeout)

	s.runPass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	stats, err := s.runner.Run(passCtx)
	if err != nil {
		s.logger.Error("ingest pass failed", "error", err)
		return
	}
	if stats != nil && stats.Failed() > 0 {
		s.logger.Warn("ingest pass finished with failed feed groups",
			"run_id", stats.RunID,
			"failed", stats.Failed(),
			"groups", len(stats.Groups),
		)
	}
}
