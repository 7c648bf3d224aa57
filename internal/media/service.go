// Package media implements the media lifecycle: upload intake, transformation
// and deletion, coordinated through conditional status transitions on the
// metadata record.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediaflow/internal/models"
)

// resizedContentType is the format every transformed object is stored in.
const resizedContentType = "image/jpeg"

type Service struct {
	store       MetadataStore
	blobs       BlobStore
	transformer Transformer
	pub         Publisher
	rec         Recorder
	cfg         models.MediaConfig
	log         zerolog.Logger

	newID func() string
}

func NewService(store MetadataStore, blobs BlobStore, tr Transformer, pub Publisher, rec Recorder, cfg models.MediaConfig, log zerolog.Logger) *Service {
	return &Service{
		store:       store,
		blobs:       blobs,
		transformer: tr,
		pub:         pub,
		rec:         rec,
		cfg:         cfg,
		log:         log.With().Str("component", "media").Logger(),
		newID:       uuid.NewString,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.Media, error) {
	const op = "media.Get"

	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// DownloadURL returns a presigned URL of the transformed object. It fails with
// models.ErrNotReady unless the record is COMPLETE.
func (s *Service) DownloadURL(ctx context.Context, id string) (string, error) {
	const op = "media.DownloadURL"

	m, err := s.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if m.Status != models.StatusComplete {
		return "", fmt.Errorf("%s: %s: %w", op, m.Status, models.ErrNotReady)
	}

	url, err := s.blobs.SignedURL(ctx, models.ResizedKey(m.ID, m.Name), s.cfg.SignedURLTTL)
	if err != nil {
		s.log.Error().Err(err).Str("media_id", id).Msg("failed to sign download url")
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return url, nil
}

// RequestResize enqueues a resize command for an existing record. The status
// change itself happens when the command is handled.
func (s *Service) RequestResize(ctx context.Context, id string, width int) error {
	const op = "media.RequestResize"

	if _, err := s.store.Get(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.pub.PublishResize(ctx, id, width); err != nil {
		s.log.Error().Err(err).Str("media_id", id).Msg("failed to publish resize event")
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RequestDelete enqueues a delete command for an existing record.
func (s *Service) RequestDelete(ctx context.Context, id string) error {
	const op = "media.RequestDelete"

	if _, err := s.store.Get(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.pub.PublishDelete(ctx, id); err != nil {
		s.log.Error().Err(err).Str("media_id", id).Msg("failed to publish delete event")
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// emit hands an outcome to the recorder. A failing recorder is logged and
// otherwise ignored.
func (s *Service) emit(f func(Recorder)) {
	if s.rec == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Err(fmt.Errorf("%v", r)).Msg("failed to record metric")
		}
	}()
	f(s.rec)
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
