package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/models"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader hands out queued messages and reports io.EOF once drained.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

type countingRecorder struct {
	reasons []string
}

func (c *countingRecorder) MessageDeadLettered(topic, reason string) {
	c.reasons = append(c.reasons, reason)
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestDecodeLandedKeys(t *testing.T) {
	keys, err := DecodeLandedKeys([]byte("uploads/abc123/photo.jpg\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"uploads/abc123/photo.jpg"}, keys)

	doc := `{"Records":[{"s3":{"object":{"key":"uploads/abc123/my+photo%281%29.jpg"}}}]}`
	keys, err = DecodeLandedKeys([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"uploads/abc123/my photo(1).jpg"}, keys)

	_, err = DecodeLandedKeys([]byte("  "))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeLandedKeys([]byte(`{"Records":[]}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeLandedKeys([]byte(`{"Records":`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPublisher(t *testing.T) {
	uploads, management := &fakeWriter{}, &fakeWriter{}
	p := &Publisher{uploads: uploads, management: management, log: zerolog.Nop()}
	ctx := context.Background()

	require.NoError(t, p.PublishLanded(ctx, models.UploadKey("abc", "cat.png")))
	require.Len(t, uploads.msgs, 1)
	assert.Equal(t, "abc", string(uploads.msgs[0].Key))
	assert.Equal(t, "uploads/abc/cat.png", string(uploads.msgs[0].Value))

	require.NoError(t, p.PublishResize(ctx, "abc", 640))
	require.NoError(t, p.PublishDelete(ctx, "abc"))
	require.Len(t, management.msgs, 2)

	env, err := DecodeEnvelope(management.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, TypeResize, env.Type)
	var resize ResizePayload
	require.NoError(t, json.Unmarshal(env.Payload, &resize))
	assert.Equal(t, ResizePayload{MediaID: "abc", Width: 640}, resize)
	assert.Equal(t, TypeResize, header(management.msgs[0], "type"))

	env, err = DecodeEnvelope(management.msgs[1].Value)
	require.NoError(t, err)
	assert.Equal(t, TypeDelete, env.Type)
	assert.JSONEq(t, `{"mediaId":"abc"}`, string(env.Payload))
}

func TestPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Publisher{uploads: &fakeWriter{err: boom}, management: &fakeWriter{}, log: zerolog.Nop()}

	err := p.PublishLanded(context.Background(), models.UploadKey("abc", "cat.png"))
	assert.ErrorIs(t, err, boom)
}

func runConsumer(t *testing.T, reader *fakeReader, dlq *fakeWriter, rec *countingRecorder, handle Handler) {
	t.Helper()
	c := newConsumer("media.uploads", reader, dlq, handle, 3, time.Millisecond, rec, zerolog.Nop())
	require.NoError(t, c.Run(context.Background()))
}

func TestConsumer_CommitsHandledMessage(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Value: []byte("a")}, {Value: []byte("b")}}}
	dlq := &fakeWriter{}

	var seen []string
	runConsumer(t, reader, dlq, &countingRecorder{}, func(ctx context.Context, msg kafka.Message) error {
		seen = append(seen, string(msg.Value))
		return nil
	})

	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Len(t, reader.committed, 2)
	assert.Empty(t, dlq.msgs)
}

func TestConsumer_RetriesTransientFailure(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Value: []byte("a")}}}
	dlq := &fakeWriter{}

	calls := 0
	runConsumer(t, reader, dlq, &countingRecorder{}, func(ctx context.Context, msg kafka.Message) error {
		calls++
		if calls == 1 {
			return errors.New("temporary")
		}
		return nil
	})

	assert.Equal(t, 2, calls)
	assert.Len(t, reader.committed, 1)
	assert.Empty(t, dlq.msgs)
}

func TestConsumer_DeadLettersAfterMaxAttempts(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Key: []byte("abc"), Value: []byte("uploads/abc/x.jpg")}}}
	dlq := &fakeWriter{}
	rec := &countingRecorder{}

	calls := 0
	runConsumer(t, reader, dlq, rec, func(ctx context.Context, msg kafka.Message) error {
		calls++
		return errors.New("storage unavailable")
	})

	assert.Equal(t, 3, calls)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "uploads/abc/x.jpg", string(dlq.msgs[0].Value))
	assert.Equal(t, "storage unavailable", header(dlq.msgs[0], HeaderError))
	assert.Equal(t, "media.uploads", header(dlq.msgs[0], HeaderOriginalTopic))
	assert.Equal(t, "3", header(dlq.msgs[0], HeaderAttempts))
	assert.Len(t, reader.committed, 1)
	assert.Equal(t, []string{"exhausted"}, rec.reasons)
}

func TestConsumer_MalformedSkipsRetries(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Value: []byte("{")}}}
	dlq := &fakeWriter{}
	rec := &countingRecorder{}

	calls := 0
	runConsumer(t, reader, dlq, rec, func(ctx context.Context, msg kafka.Message) error {
		calls++
		_, err := DecodeEnvelope(msg.Value)
		return err
	})

	assert.Equal(t, 1, calls)
	assert.Len(t, dlq.msgs, 1)
	assert.Len(t, reader.committed, 1)
	assert.Equal(t, []string{"malformed"}, rec.reasons)
}

// partitionReader tracks the committed offset the way a consumer group does:
// committing a message moves the group past every earlier one.
type partitionReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed int64
}

func (r *partitionReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *partitionReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		if m.Offset+1 > r.committed {
			r.committed = m.Offset + 1
		}
	}
	return nil
}

func (r *partitionReader) Close() error { return nil }

// flakyWriter fails the first failures writes. With cancel set it cancels the
// consumer context once it has failed that many times.
type flakyWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	cancel   context.CancelFunc
	msgs     []kafka.Message
}

func (w *flakyWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.failures {
		if w.calls == w.failures && w.cancel != nil {
			w.cancel()
		}
		return errors.New("dlq down")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *flakyWriter) Close() error { return nil }

func TestConsumer_DeadLetterWriteRetriedBeforeCommit(t *testing.T) {
	reader := &partitionReader{msgs: []kafka.Message{
		{Offset: 10, Value: []byte("bad")},
		{Offset: 11, Value: []byte("good")},
	}}
	dlq := &flakyWriter{failures: 2}
	rec := &countingRecorder{}

	var handled []string
	c := newConsumer("media.uploads", reader, dlq, func(ctx context.Context, msg kafka.Message) error {
		handled = append(handled, string(msg.Value))
		if string(msg.Value) == "bad" {
			return ErrMalformed
		}
		return nil
	}, 3, time.Millisecond, rec, zerolog.Nop())
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 3, dlq.calls)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "bad", string(dlq.msgs[0].Value))
	assert.Equal(t, []string{"malformed"}, rec.reasons)
	assert.Equal(t, []string{"bad", "good"}, handled)
	assert.Equal(t, int64(12), reader.committed)
}

func TestConsumer_ShutdownDuringDeadLetterKeepsOffset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &partitionReader{msgs: []kafka.Message{
		{Offset: 10, Value: []byte("bad")},
		{Offset: 11, Value: []byte("good")},
	}}
	dlq := &flakyWriter{failures: 2, cancel: cancel}

	var handled []string
	c := newConsumer("media.uploads", reader, dlq, func(ctx context.Context, msg kafka.Message) error {
		handled = append(handled, string(msg.Value))
		if string(msg.Value) == "bad" {
			return ErrMalformed
		}
		return nil
	}, 3, time.Millisecond, &countingRecorder{}, zerolog.Nop())
	require.NoError(t, c.Run(ctx))

	assert.Empty(t, dlq.msgs)
	assert.Equal(t, []string{"bad"}, handled)
	assert.Equal(t, int64(0), reader.committed)
	assert.Len(t, reader.msgs, 1)
}

type mockCommands struct {
	mock.Mock
}

func (m *mockCommands) Resize(ctx context.Context, id string, width int) error {
	return m.Called(ctx, id, width).Error(0)
}

func (m *mockCommands) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func TestManagementHandler(t *testing.T) {
	cmds := new(mockCommands)
	cmds.On("Resize", mock.Anything, "abc", 300).Return(nil).Once()
	cmds.On("Delete", mock.Anything, "abc").Return(nil).Once()
	h := ManagementHandler(cmds, zerolog.Nop())
	ctx := context.Background()

	resize, err := encodeEnvelope(TypeResize, ResizePayload{MediaID: "abc", Width: 300})
	require.NoError(t, err)
	require.NoError(t, h(ctx, kafka.Message{Value: resize}))

	del, err := encodeEnvelope(TypeDelete, DeletePayload{MediaID: "abc"})
	require.NoError(t, err)
	require.NoError(t, h(ctx, kafka.Message{Value: del}))

	// Skipped without touching the processor.
	require.NoError(t, h(ctx, kafka.Message{Value: []byte(`{"type":"media.v1.unknown","payload":{}}`)}))
	require.NoError(t, h(ctx, kafka.Message{Value: []byte(`{"type":"media.v1.resize","payload":{"mediaId":"abc"}}`)}))
	require.NoError(t, h(ctx, kafka.Message{Value: []byte(`{"type":"media.v1.delete","payload":{}}`)}))

	err = h(ctx, kafka.Message{Value: []byte(`not json`)})
	assert.ErrorIs(t, err, ErrMalformed)

	cmds.On("Resize", mock.Anything, "abc", 5000).Return(&models.WidthError{Min: 100, Max: 1024}).Once()
	wide, err := encodeEnvelope(TypeResize, ResizePayload{MediaID: "abc", Width: 5000})
	require.NoError(t, err)
	assert.ErrorIs(t, h(ctx, kafka.Message{Value: wide}), ErrMalformed)

	cmds.AssertExpectations(t)
}

type landedFunc func(ctx context.Context, key string) error

func (f landedFunc) ProcessUpload(ctx context.Context, key string) error { return f(ctx, key) }

func TestLandedHandler(t *testing.T) {
	var keys []string
	h := LandedHandler(landedFunc(func(ctx context.Context, key string) error {
		keys = append(keys, key)
		return nil
	}), zerolog.Nop())

	doc := `{"Records":[{"s3":{"object":{"key":"uploads/a/1.png"}}},{"s3":{"object":{"key":"uploads/b/2.png"}}}]}`
	require.NoError(t, h(context.Background(), kafka.Message{Value: []byte(doc)}))
	assert.Equal(t, []string{"uploads/a/1.png", "uploads/b/2.png"}, keys)

	boom := errors.New("boom")
	h = LandedHandler(landedFunc(func(ctx context.Context, key string) error { return boom }), zerolog.Nop())
	assert.ErrorIs(t, h(context.Background(), kafka.Message{Value: []byte("uploads/a/1.png")}), boom)
}
