package worker

import (
	"context"
	"log/slog"
	"time"
)

// DueStarter starts scheduled campaigns whose time has come
type DueStarter interface {
	StartDue(ctx context.Context) (int, error)
}

// Sweeper periodically starts due scheduled campaigns
type Sweeper struct {
	starter  DueStarter
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper that runs every interval
func NewSweeper(starter DueStarter, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		starter:  starter,
		interval: interval,
		timeout:  2 * time.Minute,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started", slog.Duration("interval", s.interval))

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started, err := s.starter.StartDue(ctx)
	if err != nil {
		s.logger.Error("failed to start due campaigns", slog.String("error", err.Error()))
		return
	}
	if started > 0 {
		s.logger.Info("started due campaigns", slog.Int("count", started))
	}
}
