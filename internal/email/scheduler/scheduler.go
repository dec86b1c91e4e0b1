package scheduler

import (
	"context"
	"time"

	"mailguard-backend/internal/email/usecase"

	"github.com/rs/zerolog"
)

// SyncScheduler drives the periodic poll loop across all active connections.
// Push notifications cover Gmail between ticks; the poll is the safety net
// and the only mechanism for providers without push.
type SyncScheduler struct {
	syncUsecase usecase.SyncUsecase
	interval    time.Duration
	stopChan    chan struct{}
	log         zerolog.Logger
}

// NewSyncScheduler creates a new scheduler
func NewSyncScheduler(syncUsecase usecase.SyncUsecase, interval time.Duration, log zerolog.Logger) *SyncScheduler {
	return &SyncScheduler{
		syncUsecase: syncUsecase,
		interval:    interval,
		stopChan:    make(chan struct{}),
		log:         log,
	}
}

// Start begins the scheduler loop. A zero interval disables scheduling
// entirely; syncs then only run on demand or via push.
func (s *SyncScheduler) Start() {
	if s.interval <= 0 {
		s.log.Info().Msg("sync scheduler disabled")
		return
	}

	s.log.Info().Dur("interval", s.interval).Msg("starting sync scheduler")

	go func() {
		s.runOnce()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.stopChan:
				s.log.Info().Msg("sync scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler
func (s *SyncScheduler) Stop() {
	close(s.stopChan)
}

func (s *SyncScheduler) runOnce() {
	summaries, err := s.syncUsecase.SyncAll(context.Background())
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled sync pass failed")
		return
	}

	var newEmails, failed, skipped int
	for _, summary := range summaries {
		newEmails += summary.NewEmails
		failed += summary.Failed
		if summary.Skipped != "" {
			skipped++
		}
	}
	s.log.Info().
		Int("connections", len(summaries)).
		Int("new_emails", newEmails).
		Int("failed", failed).
		Int("skipped", skipped).
		Msg("scheduled sync pass completed")
}
