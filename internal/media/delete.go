package media

import (
	"context"
	"errors"
	"fmt"

	"mediaflow/internal/models"
)

// Delete removes the record and then its blobs. A missing record is a no-op.
// The resized object is only removed when the record was COMPLETE, the only
// status in which it is known to exist.
func (s *Service) Delete(ctx context.Context, id string) error {
	const op = "media.Delete"
	log := s.log.With().Str("media_id", id).Logger()

	attrs, err := s.store.DeleteAndReturn(ctx, id)
	if isNotFound(err) {
		log.Info().Msg("media not found, nothing to delete")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to delete media record")
		return fmt.Errorf("%s: %w", op, err)
	}

	keys := []models.ObjectKey{models.UploadKey(id, attrs.Name)}
	if attrs.Status == models.StatusComplete {
		keys = append(keys, models.ResizedKey(id, attrs.Name))
	}

	var errs []error
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			log.Error().Err(err).Str("key", key.String()).Msg("failed to delete media object")
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info().Str("status", string(attrs.Status)).Msg("media deleted")
	return nil
}
