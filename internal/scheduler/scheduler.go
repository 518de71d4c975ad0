// Package scheduler drives periodic re-checks of every tracked product.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mfukuda/fleawatch/internal/tracker"
)

// Checker runs one full batch check over the tracked products.
type Checker interface {
	CheckAll(ctx context.Context) (tracker.Summary, error)
}

// Scheduler triggers a batch check on a fixed interval until its context
// is cancelled.
type Scheduler struct {
	checker  Checker
	interval time.Duration
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(checker Checker, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{checker: checker, interval: interval, logger: logger}
}

// Run blocks, checking on each tick, until ctx is done. An overlapping run
// (a manual check still in flight) is skipped, not queued.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("check scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("check scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	sum, err := s.checker.CheckAll(ctx)
	if errors.Is(err, tracker.ErrCheckInProgress) {
		s.logger.Info("scheduled check skipped, run already in progress")
		return
	}
	if err != nil {
		s.logger.Error("scheduled check failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled check complete",
		zap.Int("checked", sum.Checked),
		zap.Int("updated", sum.Updated),
		zap.Int("deleted", sum.Deleted),
	)
}
