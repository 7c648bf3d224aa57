package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"mediaflow/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes storage-landed triggers and management events. Messages are
// keyed by media id so events for one record stay ordered within a partition.
type Publisher struct {
	uploads    messageWriter
	management messageWriter
	log        zerolog.Logger
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewPublisher(cfg models.KafkaConfig, log zerolog.Logger) *Publisher {
	return &Publisher{
		uploads:    newWriter(cfg.Brokers, cfg.UploadsTopic),
		management: newWriter(cfg.Brokers, cfg.ManagementTopic),
		log:        log.With().Str("component", "publisher").Logger(),
	}
}

// PublishLanded announces that the original upload is stored under key.
func (p *Publisher) PublishLanded(ctx context.Context, key models.ObjectKey) error {
	const op = "events.PublishLanded"

	err := p.uploads.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key.MediaID),
		Value: []byte(key.String()),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.log.Debug().Str("media_id", key.MediaID).Str("key", key.String()).Msg("landed trigger published")
	return nil
}

func (p *Publisher) PublishDelete(ctx context.Context, id string) error {
	return p.publish(ctx, "events.PublishDelete", id, TypeDelete, DeletePayload{MediaID: id})
}

func (p *Publisher) PublishResize(ctx context.Context, id string, width int) error {
	return p.publish(ctx, "events.PublishResize", id, TypeResize, ResizePayload{MediaID: id, Width: width})
}

func (p *Publisher) publish(ctx context.Context, op, id, eventType string, payload any) error {
	value, err := encodeEnvelope(eventType, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = p.management.WriteMessages(ctx, kafka.Message{
		Key:   []byte(id),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(eventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.log.Debug().Str("media_id", id).Str("type", eventType).Msg("event published")
	return nil
}

func (p *Publisher) Close() error {
	return errors.Join(p.uploads.Close(), p.management.Close())
}

func itoa(n int) []byte {
	return []byte(strconv.Itoa(n))
}
