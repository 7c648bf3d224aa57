package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"mediaflow/internal/models"
)

const uniqueViolation = "23505"

// Storage is the PostgreSQL metadata store. Every status change is a single
// statement so the status predicate and the write are evaluated atomically.
type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewStorage(ctx context.Context, dsn string, log zerolog.Logger) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := RunMigrations(db, log); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

func (s *Storage) Create(ctx context.Context, m *models.Media) error {
	const op = "storage.Create"

	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO media (id, name, size, mimetype, width, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		m.ID, m.Name, m.Size, m.MimeType, m.Width, m.Status, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, models.ErrDuplicate)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	m.CreatedAt, m.UpdatedAt = now, now
	return nil
}

func (s *Storage) Get(ctx context.Context, id string) (*models.Media, error) {
	const op = "storage.Get"

	var m models.Media
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, size, mimetype, width, status, created_at, updated_at
		 FROM media WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Size, &m.MimeType, &m.Width, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &m, nil
}

// CompareAndSetStatus moves the record from expected to next in one statement.
// A nil width leaves the stored width untouched. When the record is missing or
// its status differs from expected, models.ErrNotMatched is returned.
func (s *Storage) CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, width *int) (*models.Attributes, error) {
	const op = "storage.CompareAndSetStatus"

	var attrs models.Attributes
	err := s.pool.QueryRow(ctx,
		`UPDATE media SET status = $3, width = COALESCE($4, width), updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING name, width, status`,
		id, expected, next, width).
		Scan(&attrs.Name, &attrs.Width, &attrs.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotMatched)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &attrs, nil
}

// SetStatus writes status without checking the current value.
func (s *Storage) SetStatus(ctx context.Context, id string, next models.Status) error {
	const op = "storage.SetStatus"

	_, err := s.pool.Exec(ctx,
		`UPDATE media SET status = $2, updated_at = now() WHERE id = $1`, id, next)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteAndReturn removes the record and returns what it held.
func (s *Storage) DeleteAndReturn(ctx context.Context, id string) (*models.Attributes, error) {
	const op = "storage.DeleteAndReturn"

	var attrs models.Attributes
	err := s.pool.QueryRow(ctx,
		`DELETE FROM media WHERE id = $1 RETURNING name, width, status`, id).
		Scan(&attrs.Name, &attrs.Width, &attrs.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &attrs, nil
}

// ListStale returns up to limit records in status that were last updated before
// now minus olderThan.
func (s *Storage) ListStale(ctx context.Context, status models.Status, olderThan time.Duration, limit int) ([]*models.Media, error) {
	const op = "storage.ListStale"

	cutoff := time.Now().Add(-olderThan)
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, size, mimetype, width, status, created_at, updated_at
		 FROM media WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at LIMIT $3`, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var list []*models.Media
	for rows.Next() {
		var m models.Media
		if err := rows.Scan(&m.ID, &m.Name, &m.Size, &m.MimeType, &m.Width, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		list = append(list, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}
