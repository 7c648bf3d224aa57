package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"mediaflow/internal/models"
)

// Dead-letter headers.
const (
	HeaderError         = "x-error"
	HeaderOriginalTopic = "x-original-topic"
	HeaderAttempts      = "x-attempts"
)

const maxDeadLetterBackoff = 30 * time.Second

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message. Returning an error wrapping ErrMalformed skips
// the retries and dead-letters the message right away.
type Handler func(ctx context.Context, msg kafka.Message) error

type DeadLetterRecorder interface {
	MessageDeadLettered(topic, reason string)
}

// Consumer reads one topic in a consumer group. A message is committed after it
// was handled, or after it was moved to the dead-letter topic.
type Consumer struct {
	topic       string
	reader      messageReader
	dlq         messageWriter
	handle      Handler
	maxAttempts int
	backoff     time.Duration
	rec         DeadLetterRecorder
	log         zerolog.Logger
}

func NewConsumer(cfg models.KafkaConfig, topic string, handle Handler, rec DeadLetterRecorder, log zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(topic, reader, newWriter(cfg.Brokers, topic+".dlq"), handle, cfg.MaxAttempts, cfg.RetryBackoff, rec, log)
}

func newConsumer(topic string, reader messageReader, dlq messageWriter, handle Handler, maxAttempts int, backoff time.Duration, rec DeadLetterRecorder, log zerolog.Logger) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Consumer{
		topic:       topic,
		reader:      reader,
		dlq:         dlq,
		handle:      handle,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		rec:         rec,
		log:         log.With().Str("component", "consumer").Str("topic", topic).Logger(),
	}
}

// Run consumes until ctx is cancelled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().Msg("consumer started")
	defer c.log.Info().Msg("consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.log.Error().Err(err).Msg("error fetching message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if !c.process(ctx, msg) {
			// Shutting down: the committed offset still points at msg.
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("error committing message")
		}
	}
}

// process reports whether msg may be committed. It is false only once ctx is done.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	log := c.log.With().Int("partition", msg.Partition).Int64("offset", msg.Offset).Logger()

	attempts := 0
	b := retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewExponential(c.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		err := c.handle(ctx, msg)
		if err == nil || errors.Is(err, ErrMalformed) {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempts).Msg("handler failed")
		return retry.RetryableError(err)
	})
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	reason := "exhausted"
	if errors.Is(err, ErrMalformed) {
		reason = "malformed"
	}
	log.Error().Err(err).Str("reason", reason).Int("attempts", attempts).Msg("dead-lettering message")

	// A later commit would move the offset past msg, so the dead letter has to
	// land before the loop may fetch again.
	cause := err
	dlb := retry.WithCappedDuration(maxDeadLetterBackoff, retry.NewExponential(c.backoff))
	err = retry.Do(ctx, dlb, func(ctx context.Context) error {
		if err := c.deadLetter(ctx, msg, cause, attempts); err != nil {
			log.Error().Err(err).Msg("error writing dead letter")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return false
	}
	if c.rec != nil {
		c.rec.MessageDeadLettered(c.topic, reason)
	}
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error, attempts int) error {
	const op = "events.deadLetter"

	headers := make([]kafka.Header, 0, len(msg.Headers)+3)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderError, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(c.topic)},
		kafka.Header{Key: HeaderAttempts, Value: itoa(attempts)},
	)

	err := c.dlq.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return errors.Join(c.reader.Close(), c.dlq.Close())
}
