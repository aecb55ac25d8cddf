package syncer

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs SyncAll periodically
type Scheduler struct {
	orchestrator *Orchestrator
	interval     time.Duration
	once         bool
	logger       *slog.Logger
}

// NewScheduler creates a scheduler; with once set, Run performs a single pass
func NewScheduler(o *Orchestrator, interval time.Duration, once bool, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		orchestrator: o,
		interval:     interval,
		once:         once,
		logger:       logger.With("component", "scheduler"),
	}
}

// Run syncs immediately, then on every tick until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	s.pass(ctx)
	if s.once {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	if _, err := s.orchestrator.SyncAll(ctx); err != nil {
		s.logger.Error("sync pass failed", "error", err)
	}
}
