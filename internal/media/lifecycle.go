package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"mediaflow/internal/models"
)

// transition moves the record from one status to another only if it is still in
// from. Edges outside the lifecycle table are refused before reaching the store.
// A lost race surfaces as models.ErrNotMatched.
func (s *Service) transition(ctx context.Context, id string, from, to models.Status, width *int) (*models.Attributes, error) {
	const op = "media.transition"

	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%s: %s -> %s: %w", op, from, to, models.ErrIllegalTransition)
	}
	attrs, err := s.store.CompareAndSetStatus(ctx, id, from, to, width)
	if err != nil {
		return nil, fmt.Errorf("%s: %s -> %s: %w", op, from, to, err)
	}
	return attrs, nil
}

// markError writes ERROR without checking the current status and returns cause.
// It runs detached from ctx cancellation so a cancelled trigger cannot leave the
// record in PROCESSING. A failed write is logged and joined to cause.
func (s *Service) markError(ctx context.Context, id string, cause error, log zerolog.Logger) error {
	if err := s.store.SetStatus(context.WithoutCancel(ctx), id, models.StatusError); err != nil {
		log.Error().Err(err).Msg("failed to set media status to ERROR")
		return errors.Join(cause, err)
	}
	log.Warn().Msg("media status set to ERROR")
	return cause
}
