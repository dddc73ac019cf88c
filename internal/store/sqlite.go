package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/seanblong/sortseek/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps document metadata in a local SQLite file. Timestamps are
// stored as Unix microseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS documents (
  id              TEXT PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  filename        TEXT NOT NULL,
  file_type       TEXT NOT NULL DEFAULT '',
  file_size       INTEGER NOT NULL DEFAULT 0,
  modified_time   INTEGER NOT NULL DEFAULT 0,
  file_hash       TEXT NOT NULL DEFAULT '',
  imported_at     INTEGER NOT NULL,
  last_indexed_at INTEGER NOT NULL DEFAULT 0,
  is_indexed      INTEGER NOT NULL DEFAULT 0,
  content         TEXT NOT NULL DEFAULT '',
  summary         TEXT NOT NULL DEFAULT '',
  chunk_span      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS documents_indexed_idx ON documents (is_indexed);

CREATE TABLE IF NOT EXISTS search_history (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  query         TEXT NOT NULL,
  results_count INTEGER NOT NULL DEFAULT 0,
  created_at    INTEGER NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, q)
	return err
}

const sqliteColumns = `id, path, filename, file_type, file_size, modified_time, file_hash,
	imported_at, last_indexed_at, is_indexed, content, summary, chunk_span`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (models.DocumentRecord, error) {
	var (
		d                           models.DocumentRecord
		modified, imported, lastIdx int64
		indexed                     int
	)
	err := row.Scan(&d.ID, &d.Path, &d.Filename, &d.FileType, &d.Size, &modified, &d.ContentHash,
		&imported, &lastIdx, &indexed, &d.Content, &d.Summary, &d.ChunkSpan)
	if err != nil {
		return models.DocumentRecord{}, err
	}
	d.ModifiedAt = fromMicros(modified)
	d.ImportedAt = fromMicros(imported)
	d.LastIndexedAt = fromMicros(lastIdx)
	d.Indexed = indexed != 0
	return d, nil
}

func (s *SQLiteStore) getOne(ctx context.Context, where string, arg any) (models.DocumentRecord, error) {
	d, err := scanSQLite(s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM documents WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return models.DocumentRecord{}, fmt.Errorf("document %v: %w", arg, models.ErrNotFound)
	}
	return d, err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.DocumentRecord, error) {
	return s.getOne(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetByPath(ctx context.Context, path string) (models.DocumentRecord, error) {
	return s.getOne(ctx, "path = ?", path)
}

func (s *SQLiteStore) List(ctx context.Context, offset, limit int) ([]models.DocumentRecord, error) {
	offset, limit = clampPage(offset, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM documents ORDER BY imported_at, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentRecord
	for rows.Next() {
		d, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, d models.DocumentRecord) error {
	const q = `
		INSERT INTO documents (
			id, path, filename, file_type, file_size, modified_time, file_hash,
			imported_at, last_indexed_at, is_indexed, content, summary, chunk_span
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			path            = excluded.path,
			filename        = excluded.filename,
			file_type       = excluded.file_type,
			file_size       = excluded.file_size,
			modified_time   = excluded.modified_time,
			file_hash       = excluded.file_hash,
			last_indexed_at = excluded.last_indexed_at,
			is_indexed      = excluded.is_indexed,
			content         = excluded.content,
			summary         = excluded.summary,
			chunk_span      = excluded.chunk_span`

	imported := d.ImportedAt
	if imported.IsZero() {
		imported = time.Now()
	}
	_, err := s.db.ExecContext(ctx, q,
		d.ID, d.Path, d.Filename, d.FileType, d.Size, toMicros(d.ModifiedAt), d.ContentHash,
		toMicros(imported), toMicros(d.LastIndexedAt), boolInt(d.Indexed), d.Content, d.Summary, d.ChunkSpan,
	)
	return sqliteConflict(err, d.Path)
}

func (s *SQLiteStore) Touch(ctx context.Context, id string, size int64, modifiedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET file_size = ?, modified_time = ? WHERE id = ?`, size, toMicros(modifiedAt), id)
	return affected(res, err, id)
}

func (s *SQLiteStore) Relocate(ctx context.Context, id, path, filename string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET path = ?, filename = ? WHERE id = ?`, path, filename, id)
	return affected(res, sqliteConflict(err, path), id)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return affected(res, err, id)
}

func (s *SQLiteStore) IsIndexed(ctx context.Context, path string) (bool, error) {
	var indexed int
	err := s.db.QueryRowContext(ctx, `SELECT is_indexed FROM documents WHERE path = ?`, path).Scan(&indexed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return indexed != 0, err
}

func (s *SQLiteStore) RecordSearch(ctx context.Context, query string, results int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_history (query, results_count, created_at) VALUES (?, ?, ?)`,
		query, results, toMicros(time.Now()))
	return err
}

func (s *SQLiteStore) RecentSearches(ctx context.Context, limit int) ([]models.SearchHistoryEntry, error) {
	_, limit = clampPage(0, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT query, results_count, created_at FROM search_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchHistoryEntry
	for rows.Next() {
		var (
			e  models.SearchHistoryEntry
			at int64
		)
		if err := rows.Scan(&e.Query, &e.Results, &at); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMicros(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func affected(res sql.Result, err error, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func sqliteConflict(err error, path string) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", models.ErrConflict, path)
	}
	return err
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
