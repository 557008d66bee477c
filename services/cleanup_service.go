package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// CleanupService periodically runs the stores' retention sweeps. Every sweep
// is idempotent and best-effort; a failed run is logged and retried on the
// next tick, and no validation path depends on cleanup having happened.
type CleanupService struct {
	tokens   *TokenService
	sessions *RefreshSessionService
	denylist *BlacklistService

	interval time.Duration
	done     chan struct{}
}

// NewCleanupService creates the scheduler. Any service may be nil; its
// sweeps are skipped.
func NewCleanupService(tokens *TokenService, sessions *RefreshSessionService, denylist *BlacklistService, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupService{
		tokens:   tokens,
		sessions: sessions,
		denylist: denylist,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop. Call Stop to end it.
func (s *CleanupService) Start() {
	go s.loop()
}

// Stop ends the sweep loop.
func (s *CleanupService) Stop() {
	close(s.done)
}

func (s *CleanupService) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.done:
			return
		}
	}
}

// RunOnce performs one full sweep. Exposed for operational tooling and
// tests.
func (s *CleanupService) RunOnce(ctx context.Context) {
	if s.tokens != nil {
		if _, err := s.tokens.CleanupExpired(ctx); err != nil {
			log.Error().Err(err).Msg("Expired action token sweep failed")
		}
		if _, err := s.tokens.CleanupUsed(ctx); err != nil {
			log.Error().Err(err).Msg("Used action token sweep failed")
		}
	}
	if s.sessions != nil {
		if _, err := s.sessions.Cleanup(ctx); err != nil {
			log.Error().Err(err).Msg("Refresh session sweep failed")
		}
	}
	if s.denylist != nil {
		if _, err := s.denylist.Cleanup(ctx); err != nil {
			log.Error().Err(err).Msg("Revocation registry sweep failed")
		}
	}
}
