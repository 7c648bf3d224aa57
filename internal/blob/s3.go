// Package blob stores media objects in S3 or an S3-compatible service such as MinIO.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"mediaflow/internal/models"
)

type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps every media object in a single bucket under {prefix}/{id}/{name}.
type S3Store struct {
	client   *s3.Client
	objects  objectAPI
	uploader uploader
	presign  *s3.PresignClient
	bucket   string
	log      zerolog.Logger
}

func NewS3Store(ctx context.Context, cfg models.S3Config, log zerolog.Logger) (*S3Store, error) {
	const op = "blob.NewS3Store"

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: load aws config: %w", op, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = cfg.PartSizeMB * 1024 * 1024
	})

	return &S3Store{
		client:   client,
		objects:  client,
		uploader: up,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
		log:      log.With().Str("component", "blob").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// EnsureBucket creates the bucket when it is not reachable.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	const op = "blob.EnsureBucket"

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	s.log.Info().Msg("creating bucket")
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// BeginUpload starts a streaming upload to key.
func (s *S3Store) BeginUpload(ctx context.Context, key models.ObjectKey, contentType string) Upload {
	return startPipeUpload(ctx, s.uploader, s.bucket, key.String(), contentType)
}

// Fetch reads the whole object.
func (s *S3Store) Fetch(ctx context.Context, key models.ObjectKey) ([]byte, error) {
	const op = "blob.Fetch"

	out, err := s.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key.String()),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %s: %w", op, key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %s: %w", op, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, key, err)
	}
	return data, nil
}

// Put writes data as a complete object.
func (s *S3Store) Put(ctx context.Context, key models.ObjectKey, data []byte, contentType string) error {
	const op = "blob.Put"

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key.String()),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%s: %s: %w", op, key, err)
	}
	return nil
}

// Delete removes the object. Deleting a missing object succeeds.
func (s *S3Store) Delete(ctx context.Context, key models.ObjectKey) error {
	const op = "blob.Delete"

	_, err := s.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key.String()),
	})
	if err != nil {
		return fmt.Errorf("%s: %s: %w", op, key, err)
	}
	return nil
}

// SignedURL returns a presigned GET URL valid for ttl.
func (s *S3Store) SignedURL(ctx context.Context, key models.ObjectKey, ttl time.Duration) (string, error) {
	const op = "blob.SignedURL"

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key.String()),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%s: %s: %w", op, key, err)
	}
	return req.URL, nil
}
