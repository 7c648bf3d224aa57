package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"

	"mediaflow/internal/models"
)

var (
	ErrFileTooLarge     = errors.New("file exceeds the maximum size")
	ErrTooManyFiles     = errors.New("too many fields in the form, only single file uploads are supported")
	ErrMalformedRequest = errors.New("malformed multipart form data")
	ErrInvalidFileType  = errors.New("invalid file type, only images are supported")
	ErrNoFile           = errors.New("no file in the form")
	ErrEmptyFile        = errors.New("file is empty")
)

// imageTypes are the formats the transformer can decode.
var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
	"image/webp": true,
}

func decodable(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return imageTypes[mt]
}

// Upload streams the single file part of mr into storage and creates a PENDING
// record for it. The record is written only after the object is stored; every
// rejected upload is aborted so no object is left behind.
func (s *Service) Upload(ctx context.Context, mr *multipart.Reader, width int) (string, error) {
	const op = "media.Upload"

	part, err := mr.NextPart()
	if errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%s: %w", op, ErrNoFile)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w: %v", op, ErrMalformedRequest, err)
	}
	if part.FileName() == "" {
		return "", fmt.Errorf("%s: field %q: %w", op, part.FormName(), ErrMalformedRequest)
	}

	name := models.CleanName(part.FileName())
	if name == "" {
		return "", fmt.Errorf("%s: bad filename: %w", op, ErrMalformedRequest)
	}
	mimeType := part.Header.Get("Content-Type")
	if !decodable(mimeType) {
		return "", fmt.Errorf("%s: %q: %w", op, mimeType, ErrInvalidFileType)
	}

	id := s.newID()
	key := models.UploadKey(id, name)
	log := s.log.With().Str("media_id", id).Str("key", key.String()).Logger()

	up := s.blobs.BeginUpload(ctx, key, mimeType)
	reject := func(cause error) (string, error) {
		up.Abort(cause)
		log.Info().Err(cause).Msg("upload rejected")
		return "", fmt.Errorf("%s: %w", op, cause)
	}

	// One byte past the limit is enough to tell an oversized file.
	src := &partReader{r: io.LimitReader(part, s.cfg.MaxFileSize+1)}
	size, err := io.Copy(up, src)
	switch {
	case err != nil && src.err != nil:
		return reject(fmt.Errorf("%w: %v", ErrMalformedRequest, err))
	case err != nil:
		log.Error().Err(err).Msg("failed to stream upload")
		return reject(err)
	case size > s.cfg.MaxFileSize:
		return reject(ErrFileTooLarge)
	case size == 0:
		return reject(ErrEmptyFile)
	}

	next, err := mr.NextPart()
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		return reject(fmt.Errorf("%w: %v", ErrMalformedRequest, err))
	case next.FileName() != "":
		return reject(ErrTooManyFiles)
	default:
		return reject(fmt.Errorf("field %q: %w", next.FormName(), ErrMalformedRequest))
	}

	if err := up.Commit(); err != nil {
		log.Error().Err(err).Msg("failed to complete upload")
		return "", fmt.Errorf("%s: %w", op, err)
	}

	m := &models.Media{
		ID:       id,
		Name:     name,
		Size:     size,
		MimeType: mimeType,
		Width:    width,
		Status:   models.StatusPending,
	}
	if err := s.store.Create(ctx, m); err != nil {
		log.Error().Err(err).Msg("failed to create media record")
		return "", fmt.Errorf("%s: %w", op, err)
	}
	log.Info().Int64("size", size).Int("width", width).Msg("media uploaded")

	// The sweeper republishes stale PENDING records, so a lost trigger only delays processing.
	if err := s.pub.PublishLanded(ctx, key); err != nil {
		log.Warn().Err(err).Msg("failed to publish landed trigger")
	}
	return id, nil
}

// partReader remembers read failures so a broken request body can be told apart
// from a failing upload.
type partReader struct {
	r   io.Reader
	err error
}

func (p *partReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if err != nil && err != io.EOF {
		p.err = err
	}
	return n, err
}
