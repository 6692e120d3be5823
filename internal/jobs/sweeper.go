package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/devlink/internal/store"
)

const sweepTimeout = 30 * time.Second

// ExpirySweeper periodically settles due pending sessions to expired
// and marks unresponsive connected devices disconnected. It never
// deletes rows: retention of terminal records belongs to an external
// archival job.
type ExpirySweeper struct {
	store          store.SessionStore
	interval       time.Duration
	staleThreshold time.Duration
	done           chan struct{}
}

func NewExpirySweeper(sessionStore store.SessionStore, interval, staleThreshold time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		store:          sessionStore,
		interval:       interval,
		staleThreshold: staleThreshold,
		done:           make(chan struct{}),
	}
}

func (s *ExpirySweeper) Start() {
	go s.run()
	log.Info().
		Dur("interval", s.interval).
		Dur("staleThreshold", s.staleThreshold).
		Msg("expiry sweeper started")
}

func (s *ExpirySweeper) Stop() {
	close(s.done)
	log.Info().Msg("expiry sweeper stopped")
}

func (s *ExpirySweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *ExpirySweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce performs a single sweep. A failure on one target never stops
// the other; both are logged and swallowed here, since the sweeper has
// no caller to propagate to.
func (s *ExpirySweeper) RunOnce(ctx context.Context) {
	now := time.Now()

	if expired, err := s.store.ExpireDueSessions(ctx, now); err != nil {
		log.Error().Err(err).Msg("failed to expire due pairing sessions")
	} else if expired > 0 {
		log.Info().Int64("count", expired).Msg("expired pairing sessions")
	}

	if stale, err := s.store.DisconnectStale(ctx, now.Add(-s.staleThreshold)); err != nil {
		log.Error().Err(err).Msg("failed to disconnect stale devices")
	} else if stale > 0 {
		log.Info().Int64("count", stale).Msg("disconnected stale devices")
	}
}
