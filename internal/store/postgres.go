package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seanblong/sortseek/pkg/models"
)

// PostgresStore keeps document metadata in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new store connected to the given database URL.
func NewPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: p}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the connection pool so the pgvector index can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies necessary database migrations and schema setup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS documents (
  id              TEXT PRIMARY KEY,
  path            TEXT NOT NULL,
  filename        TEXT NOT NULL,
  file_type       TEXT NOT NULL DEFAULT '',
  file_size       BIGINT NOT NULL DEFAULT 0,
  modified_time   TIMESTAMP WITH TIME ZONE,
  file_hash       TEXT NOT NULL DEFAULT '',
  imported_at     TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
  last_indexed_at TIMESTAMP WITH TIME ZONE,
  is_indexed      BOOLEAN NOT NULL DEFAULT FALSE,
  content         TEXT NOT NULL DEFAULT '',
  summary         TEXT NOT NULL DEFAULT '',
  chunk_span      INT NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS documents_path_uidx ON documents (path);
CREATE INDEX IF NOT EXISTS documents_indexed_idx ON documents (is_indexed);

CREATE TABLE IF NOT EXISTS search_history (
  id            BIGSERIAL PRIMARY KEY,
  query         TEXT NOT NULL,
  results_count INT NOT NULL DEFAULT 0,
  created_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);
`
	_, err := s.pool.Exec(ctx, q)
	return err
}

const pgColumns = `id, path, filename, file_type, file_size, modified_time, file_hash,
	imported_at, last_indexed_at, is_indexed, content, summary, chunk_span`

func scanPG(row pgx.Row) (models.DocumentRecord, error) {
	var (
		d         models.DocumentRecord
		modified  *time.Time
		lastIndex *time.Time
	)
	err := row.Scan(&d.ID, &d.Path, &d.Filename, &d.FileType, &d.Size, &modified, &d.ContentHash,
		&d.ImportedAt, &lastIndex, &d.Indexed, &d.Content, &d.Summary, &d.ChunkSpan)
	if err != nil {
		return models.DocumentRecord{}, err
	}
	if modified != nil {
		d.ModifiedAt = *modified
	}
	if lastIndex != nil {
		d.LastIndexedAt = *lastIndex
	}
	return d, nil
}

func (s *PostgresStore) getOne(ctx context.Context, where string, arg any) (models.DocumentRecord, error) {
	d, err := scanPG(s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM documents WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DocumentRecord{}, fmt.Errorf("document %v: %w", arg, models.ErrNotFound)
	}
	return d, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (models.DocumentRecord, error) {
	return s.getOne(ctx, "id = $1", id)
}

func (s *PostgresStore) GetByPath(ctx context.Context, path string) (models.DocumentRecord, error) {
	return s.getOne(ctx, "path = $1", path)
}

func (s *PostgresStore) List(ctx context.Context, offset, limit int) ([]models.DocumentRecord, error) {
	offset, limit = clampPage(offset, limit)
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgColumns+` FROM documents ORDER BY imported_at, id OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentRecord
	for rows.Next() {
		d, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Save inserts or updates a record. imported_at is kept from the first insert.
func (s *PostgresStore) Save(ctx context.Context, d models.DocumentRecord) error {
	const q = `
		INSERT INTO documents (
			id, path, filename, file_type, file_size, modified_time, file_hash,
			imported_at, last_indexed_at, is_indexed, content, summary, chunk_span
		) VALUES ($1,$2,$3,$4,$5,$6,$7,COALESCE($8, now()),$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			path            = EXCLUDED.path,
			filename        = EXCLUDED.filename,
			file_type       = EXCLUDED.file_type,
			file_size       = EXCLUDED.file_size,
			modified_time   = EXCLUDED.modified_time,
			file_hash       = EXCLUDED.file_hash,
			last_indexed_at = EXCLUDED.last_indexed_at,
			is_indexed      = EXCLUDED.is_indexed,
			content         = EXCLUDED.content,
			summary         = EXCLUDED.summary,
			chunk_span      = EXCLUDED.chunk_span,
			imported_at     = documents.imported_at;`

	_, err := s.pool.Exec(ctx, q,
		d.ID, d.Path, d.Filename, d.FileType, d.Size, nullTime(d.ModifiedAt), d.ContentHash,
		nullTime(d.ImportedAt), nullTime(d.LastIndexedAt), d.Indexed, d.Content, d.Summary, d.ChunkSpan,
	)
	return pgConflict(err, d.Path)
}

func (s *PostgresStore) Touch(ctx context.Context, id string, size int64, modifiedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET file_size = $2, modified_time = $3 WHERE id = $1`, id, size, modifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Relocate(ctx context.Context, id, path, filename string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET path = $2, filename = $3 WHERE id = $1`, id, path, filename)
	if err != nil {
		return pgConflict(err, path)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) IsIndexed(ctx context.Context, path string) (bool, error) {
	var indexed bool
	err := s.pool.QueryRow(ctx, `SELECT is_indexed FROM documents WHERE path = $1`, path).Scan(&indexed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return indexed, err
}

func (s *PostgresStore) RecordSearch(ctx context.Context, query string, results int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_history (query, results_count) VALUES ($1, $2)`, query, results)
	return err
}

func (s *PostgresStore) RecentSearches(ctx context.Context, limit int) ([]models.SearchHistoryEntry, error) {
	_, limit = clampPage(0, limit)
	rows, err := s.pool.Query(ctx,
		`SELECT query, results_count, created_at FROM search_history ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchHistoryEntry
	for rows.Next() {
		var e models.SearchHistoryEntry
		if err := rows.Scan(&e.Query, &e.Results, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks the database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func pgConflict(err error, path string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", models.ErrConflict, path)
	}
	return err
}
