package media

import (
	"context"
	"fmt"
	"time"

	"mediaflow/internal/models"
)

const sweepBatch = 100

// RunSweeper republishes the landed trigger of PENDING records that have not
// moved for cfg.StaleAfter, every cfg.SweepInterval, until ctx is done. ERROR
// records are left alone.
func (s *Service) RunSweeper(ctx context.Context) error {
	s.log.Info().Dur("interval", s.cfg.SweepInterval).Msg("sweeper started")
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep runs one pass and returns how many triggers were republished.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	const op = "media.Sweep"

	stale, err := s.store.ListStale(ctx, models.StatusPending, s.cfg.StaleAfter, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n := 0
	for _, m := range stale {
		if err := s.pub.PublishLanded(ctx, models.UploadKey(m.ID, m.Name)); err != nil {
			s.log.Error().Err(err).Str("media_id", m.ID).Msg("failed to republish landed trigger")
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("republished stale uploads")
	}
	return n, nil
}
