package media

import (
	"context"
	"time"

	"mediaflow/internal/blob"
	"mediaflow/internal/models"
)

// MetadataStore defines the metadata record operations.
type MetadataStore interface {
	Create(ctx context.Context, m *models.Media) error
	Get(ctx context.Context, id string) (*models.Media, error)
	CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, width *int) (*models.Attributes, error)
	SetStatus(ctx context.Context, id string, next models.Status) error
	DeleteAndReturn(ctx context.Context, id string) (*models.Attributes, error)
	ListStale(ctx context.Context, status models.Status, olderThan time.Duration, limit int) ([]*models.Media, error)
}

// BlobStore defines object storage operations.
type BlobStore interface {
	BeginUpload(ctx context.Context, key models.ObjectKey, contentType string) blob.Upload
	Fetch(ctx context.Context, key models.ObjectKey) ([]byte, error)
	Put(ctx context.Context, key models.ObjectKey, data []byte, contentType string) error
	Delete(ctx context.Context, key models.ObjectKey) error
	SignedURL(ctx context.Context, key models.ObjectKey, ttl time.Duration) (string, error)
}

// Transformer resizes raw image bytes to width and re-encodes them.
type Transformer interface {
	Transform(data []byte, width int) ([]byte, error)
}

// Publisher defines trigger publishing operations.
type Publisher interface {
	PublishLanded(ctx context.Context, key models.ObjectKey) error
	PublishDelete(ctx context.Context, id string) error
	PublishResize(ctx context.Context, id string, width int) error
}

// Recorder receives processing outcomes.
type Recorder interface {
	ProcessingSucceeded(scope string)
	ProcessingFailed(scope, reason string)
	ProcessingSkipped(scope string)
}
