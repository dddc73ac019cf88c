package store

import (
	"context"
	"strings"
	"time"

	"github.com/seanblong/sortseek/pkg/models"
)

// DocumentStore is the metadata store for DocumentRecords. Lookups of a
// missing record return an error wrapping models.ErrNotFound; saving a record
// whose path belongs to another record returns models.ErrConflict.
type DocumentStore interface {
	Migrate(ctx context.Context) error
	Get(ctx context.Context, id string) (models.DocumentRecord, error)
	GetByPath(ctx context.Context, path string) (models.DocumentRecord, error)
	List(ctx context.Context, offset, limit int) ([]models.DocumentRecord, error)
	// Save inserts or replaces the record as one unit.
	Save(ctx context.Context, rec models.DocumentRecord) error
	// Touch refreshes size and modification time only.
	Touch(ctx context.Context, id string, size int64, modifiedAt time.Time) error
	// Relocate changes path and filename only.
	Relocate(ctx context.Context, id, path, filename string) error
	Delete(ctx context.Context, id string) error
	IsIndexed(ctx context.Context, path string) (bool, error)
	RecordSearch(ctx context.Context, query string, results int) error
	RecentSearches(ctx context.Context, limit int) ([]models.SearchHistoryEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open picks a backend from the DSN: postgres:// URLs use PostgreSQL, any
// other value is treated as a SQLite file path (an optional sqlite:// prefix
// is stripped).
func Open(ctx context.Context, dsn string) (DocumentStore, error) {
	if IsPostgres(dsn) {
		return NewPostgres(ctx, dsn)
	}
	return NewSQLite(strings.TrimPrefix(dsn, "sqlite://"))
}

// IsPostgres reports whether dsn addresses a PostgreSQL server.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

const defaultListLimit = 100

func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}
	return offset, limit
}
