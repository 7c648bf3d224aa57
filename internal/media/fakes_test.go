package media

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"mediaflow/internal/blob"
	"mediaflow/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*models.Media

	setStatusErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*models.Media)}
}

func (s *memStore) Create(ctx context.Context, m *models.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[m.ID]; ok {
		return models.ErrDuplicate
	}
	now := time.Now()
	cp := *m
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.records[m.ID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, width *int) (*models.Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[id]
	if !ok || m.Status != expected {
		return nil, models.ErrNotMatched
	}
	m.Status = next
	if width != nil {
		m.Width = *width
	}
	m.UpdatedAt = time.Now()
	return &models.Attributes{Name: m.Name, Width: m.Width, Status: m.Status}, nil
}

func (s *memStore) SetStatus(ctx context.Context, id string, next models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setStatusErr != nil {
		return s.setStatusErr
	}
	if m, ok := s.records[id]; ok {
		m.Status = next
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *memStore) DeleteAndReturn(ctx context.Context, id string) (*models.Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	delete(s.records, id)
	return &models.Attributes{Name: m.Name, Width: m.Width, Status: m.Status}, nil
}

func (s *memStore) ListStale(ctx context.Context, status models.Status, olderThan time.Duration, limit int) ([]*models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var list []*models.Media
	for _, m := range s.records {
		if m.Status == status && m.UpdatedAt.Before(cutoff) && len(list) < limit {
			cp := *m
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (s *memStore) status(id string) models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.records[id]; ok {
		return m.Status
	}
	return ""
}

func (s *memStore) put(m models.Media) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	s.records[m.ID] = &m
}

// memBlobs stores objects in memory. Streaming uploads become visible on Commit.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	begun   int
	aborted int
	puts    int

	putErr    error
	deleteErr error
	onPut     func()
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

type memUpload struct {
	b   *memBlobs
	key string
	buf bytes.Buffer
}

func (u *memUpload) Write(p []byte) (int, error) { return u.buf.Write(p) }

func (u *memUpload) Commit() error {
	u.b.mu.Lock()
	defer u.b.mu.Unlock()
	u.b.objects[u.key] = u.buf.Bytes()
	return nil
}

func (u *memUpload) Abort(cause error) {
	u.b.mu.Lock()
	defer u.b.mu.Unlock()
	u.b.aborted++
}

func (b *memBlobs) BeginUpload(ctx context.Context, key models.ObjectKey, contentType string) blob.Upload {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.begun++
	return &memUpload{b: b, key: key.String()}
}

func (b *memBlobs) Fetch(ctx context.Context, key models.ObjectKey) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key.String()]
	if !ok {
		return nil, models.ErrNotFound
	}
	return data, nil
}

func (b *memBlobs) Put(ctx context.Context, key models.ObjectKey, data []byte, contentType string) error {
	b.mu.Lock()
	if b.putErr != nil {
		b.mu.Unlock()
		return b.putErr
	}
	b.objects[key.String()] = data
	b.puts++
	hook := b.onPut
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (b *memBlobs) Delete(ctx context.Context, key models.ObjectKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, key.String())
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, key.String())
	return nil
}

func (b *memBlobs) SignedURL(ctx context.Context, key models.ObjectKey, ttl time.Duration) (string, error) {
	return "https://blobs.example/" + key.String() + "?ttl=" + ttl.String(), nil
}

func (b *memBlobs) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type transformFunc func(data []byte, width int) ([]byte, error)

func (f transformFunc) Transform(data []byte, width int) ([]byte, error) { return f(data, width) }

var okTransform = transformFunc(func(data []byte, width int) ([]byte, error) {
	return []byte("jpeg"), nil
})

type memPublisher struct {
	mu      sync.Mutex
	landed  []string
	deletes []string
	resizes map[string]int
	err     error
}

func (p *memPublisher) PublishLanded(ctx context.Context, key models.ObjectKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.landed = append(p.landed, key.String())
	return nil
}

func (p *memPublisher) PublishDelete(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.deletes = append(p.deletes, id)
	return nil
}

func (p *memPublisher) PublishResize(ctx context.Context, id string, width int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.resizes == nil {
		p.resizes = make(map[string]int)
	}
	p.resizes[id] = width
	return nil
}

type memRecorder struct {
	mu        sync.Mutex
	succeeded map[string]int
	failed    map[string]int
	skipped   map[string]int
	panics    bool
}

func newMemRecorder() *memRecorder {
	return &memRecorder{succeeded: map[string]int{}, failed: map[string]int{}, skipped: map[string]int{}}
}

func (r *memRecorder) ProcessingSucceeded(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics {
		panic("metrics backend unavailable")
	}
	r.succeeded[scope]++
}

func (r *memRecorder) ProcessingFailed(scope, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[scope+"/"+reason]++
}

func (r *memRecorder) ProcessingSkipped(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[scope]++
}

var errBoom = errors.New("boom")
