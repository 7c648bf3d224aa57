package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"mediaflow/internal/metrics"
	"mediaflow/internal/models"
)

// Failure reasons attached to the failure metric.
const (
	reasonStatus       = "status_write"
	reasonFetch        = "fetch"
	reasonTransform    = "transform"
	reasonStore        = "store"
	reasonInconsistent = "inconsistent_state"
)

// ProcessUpload transforms the original stored under key. The record must be
// PENDING; any other status means another trigger owns it and the call is a no-op.
func (s *Service) ProcessUpload(ctx context.Context, key string) error {
	id := models.MediaIDFromKey(key)
	if id == "" {
		s.log.Info().Str("key", key).Msg("skipping storage key without media id")
		return nil
	}
	return s.process(ctx, metrics.ScopeProcess, id, models.StatusPending, nil)
}

// Resize re-transforms a COMPLETE record to width. Records in any other status
// are left untouched.
func (s *Service) Resize(ctx context.Context, id string, width int) error {
	const op = "media.Resize"

	if width < s.cfg.MinWidth || width > s.cfg.MaxWidth {
		return fmt.Errorf("%s: %w", op, &models.WidthError{Min: s.cfg.MinWidth, Max: s.cfg.MaxWidth})
	}
	return s.process(ctx, metrics.ScopeResize, id, models.StatusComplete, &width)
}

func (s *Service) process(ctx context.Context, scope, id string, expected models.Status, width *int) error {
	const op = "media.process"
	log := s.log.With().Str("media_id", id).Str("scope", scope).Logger()

	attrs, err := s.transition(ctx, id, expected, models.StatusProcessing, width)
	if errors.Is(err, models.ErrNotMatched) {
		log.Info().Str("expected", string(expected)).Msg("media not found or not in expected status, skipping")
		s.emit(func(r Recorder) { r.ProcessingSkipped(scope) })
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to set media status to PROCESSING")
		err = s.markError(ctx, id, fmt.Errorf("%s: %w", op, err), log)
		s.emit(func(r Recorder) { r.ProcessingFailed(scope, reasonStatus) })
		return err
	}
	log.Info().Msg("media status set to PROCESSING")

	if reason, err := s.pipeline(ctx, id, attrs, log); err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("failed to process media")
		err = s.markError(ctx, id, fmt.Errorf("%s: %w", op, err), log)
		s.emit(func(r Recorder) { r.ProcessingFailed(scope, reason) })
		return err
	}

	log.Info().Int("width", attrs.Width).Msg("media processed")
	s.emit(func(r Recorder) { r.ProcessingSucceeded(scope) })
	return nil
}

// pipeline runs fetch, transform, store and the final transition. On failure it
// reports which step failed.
func (s *Service) pipeline(ctx context.Context, id string, attrs *models.Attributes, log zerolog.Logger) (string, error) {
	data, err := s.blobs.Fetch(ctx, models.UploadKey(id, attrs.Name))
	if err != nil {
		return reasonFetch, err
	}
	log.Debug().Int("bytes", len(data)).Msg("fetched original")

	out, err := s.transformer.Transform(data, attrs.Width)
	if err != nil {
		return reasonTransform, err
	}

	if err := s.blobs.Put(ctx, models.ResizedKey(id, attrs.Name), out, resizedContentType); err != nil {
		return reasonStore, err
	}
	log.Debug().Int("bytes", len(out)).Msg("stored resized media")

	_, err = s.transition(ctx, id, models.StatusProcessing, models.StatusComplete, nil)
	if errors.Is(err, models.ErrNotMatched) {
		return reasonInconsistent, fmt.Errorf("%w: %v", models.ErrInconsistentState, err)
	}
	if err != nil {
		return reasonStatus, err
	}
	return "", nil
}
