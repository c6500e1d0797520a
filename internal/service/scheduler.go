package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
)

// Scheduler drives the timer engine: it invokes Tick on a fixed interval until
// its context is cancelled. Sweeps are serial — a slow sweep delays the next
// tick rather than overlapping it.
type Scheduler struct {
	svc      *ApprovalService
	interval time.Duration
	clock    domain.Clock
	log      *logger.Logger
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(svc *ApprovalService, interval time.Duration, clock domain.Clock, log *logger.Logger) *Scheduler {
	return &Scheduler{svc: svc, interval: interval, clock: clock, log: log}
}

// Run blocks, sweeping pending requests every interval until ctx is cancelled.
// An initial sweep runs immediately so deadlines missed during downtime are
// processed on startup.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("Scheduler started")

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	stats, err := s.svc.Tick(ctx, s.clock.Now())
	if err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("Scheduler sweep failed")
		return
	}
	if stats.Interrupted {
		s.log.Warn().
			Int("scanned", stats.Scanned).
			Msg("Scheduler sweep interrupted by shutdown")
	}
}
