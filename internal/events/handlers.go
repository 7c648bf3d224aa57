package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"mediaflow/internal/models"
)

// LandedProcessor handles a freshly stored original.
type LandedProcessor interface {
	ProcessUpload(ctx context.Context, key string) error
}

// CommandProcessor handles management commands.
type CommandProcessor interface {
	Resize(ctx context.Context, id string, width int) error
	Delete(ctx context.Context, id string) error
}

// LandedHandler feeds every key of a storage-landed message to p.
func LandedHandler(p LandedProcessor, log zerolog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		keys, err := DecodeLandedKeys(msg.Value)
		if err != nil {
			return err
		}
		for _, key := range keys {
			log.Info().Str("key", key).Msg("storage-landed trigger received")
			if err := p.ProcessUpload(ctx, key); err != nil {
				return err
			}
		}
		return nil
	}
}

// ManagementHandler dispatches delete and resize envelopes to p. Unknown types
// and payloads without the fields a command needs are logged and skipped.
func ManagementHandler(p CommandProcessor, log zerolog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		env, err := DecodeEnvelope(msg.Value)
		if err != nil {
			return err
		}

		switch env.Type {
		case TypeDelete:
			var payload DeletePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if payload.MediaID == "" {
				log.Info().Msg("skipping delete event with no mediaId")
				return nil
			}
			return p.Delete(ctx, payload.MediaID)

		case TypeResize:
			var payload ResizePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if payload.MediaID == "" || payload.Width == 0 {
				log.Info().Msg("skipping resize event with missing mediaId or width")
				return nil
			}
			err := p.Resize(ctx, payload.MediaID, payload.Width)
			var werr *models.WidthError
			if errors.As(err, &werr) {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			return err

		default:
			log.Info().Str("type", env.Type).Msg("skipping unsupported event type")
			return nil
		}
	}
}
