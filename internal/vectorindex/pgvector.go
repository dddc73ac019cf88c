package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/sortseek/pkg/models"
)

// PGVector keeps entries in PostgreSQL using the pgvector extension.
type PGVector struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPGVector uses an existing pool, typically the metadata store's.
func NewPGVector(pool *pgxpool.Pool, dim int) *PGVector {
	return &PGVector{pool: pool, dim: dim}
}

// Migrate creates the extension, table and indexes.
func (p *PGVector) Migrate(ctx context.Context) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embeddings (
  key           TEXT PRIMARY KEY,
  document_id   TEXT NOT NULL,
  file_type     TEXT NOT NULL DEFAULT '',
  imported_at   TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
  source_path   TEXT NOT NULL,
  ordinal       INT NOT NULL,
  page          INT NOT NULL DEFAULT 0,
  content_hash  TEXT NOT NULL DEFAULT '',
  content       TEXT NOT NULL DEFAULT '',
  embedding     vector(%d) NOT NULL
);

CREATE INDEX IF NOT EXISTS embeddings_document_idx
  ON embeddings (document_id);
CREATE INDEX IF NOT EXISTS embeddings_file_type_idx
  ON embeddings (file_type);
CREATE INDEX IF NOT EXISTS embeddings_vec_idx
  ON embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := p.pool.Exec(ctx, fmt.Sprintf(q, p.dim))
	return err
}

func (p *PGVector) Upsert(ctx context.Context, entries ...models.EmbeddingEntry) error {
	const q = `
		INSERT INTO embeddings (
			key, document_id, file_type, imported_at, source_path, ordinal, page,
			content_hash, content, embedding
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (key) DO UPDATE SET
			document_id  = EXCLUDED.document_id,
			file_type    = EXCLUDED.file_type,
			imported_at  = EXCLUDED.imported_at,
			source_path  = EXCLUDED.source_path,
			ordinal      = EXCLUDED.ordinal,
			page         = EXCLUDED.page,
			content_hash = EXCLUDED.content_hash,
			content      = EXCLUDED.content,
			embedding    = EXCLUDED.embedding;`

	batch := &pgx.Batch{}
	for _, e := range entries {
		m := e.Metadata
		batch.Queue(q, e.Key, m.DocumentID, m.FileType, m.ImportedAt, m.SourcePath, m.Ordinal, m.Page,
			m.ContentHash, e.Content, pgvector.NewVector(e.Vector))
	}
	return p.pool.SendBatch(ctx, batch).Close()
}

func (p *PGVector) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM embeddings WHERE key = ANY($1)`, keys)
	return err
}

const entryColumns = `key, document_id, file_type, imported_at, source_path, ordinal, page,
	content_hash, content, embedding`

func scanEntry(row pgx.Row, extra ...any) (models.EmbeddingEntry, error) {
	var (
		e   models.EmbeddingEntry
		vec pgvector.Vector
	)
	m := &e.Metadata
	dest := append([]any{&e.Key, &m.DocumentID, &m.FileType, &m.ImportedAt, &m.SourcePath,
		&m.Ordinal, &m.Page, &m.ContentHash, &e.Content, &vec}, extra...)
	if err := row.Scan(dest...); err != nil {
		return models.EmbeddingEntry{}, err
	}
	e.Vector = vec.Slice()
	return e, nil
}

func (p *PGVector) Get(ctx context.Context, key string) (models.EmbeddingEntry, error) {
	e, err := scanEntry(p.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM embeddings WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EmbeddingEntry{}, fmt.Errorf("entry %s: %w", key, models.ErrNotFound)
	}
	return e, err
}

// Query filters in SQL, so every row inside LIMIT is a candidate, and
// re-checks each row with Filters.Match.
func (p *PGVector) Query(ctx context.Context, vec []float32, k int, f models.Filters) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	args := []any{pgvector.NewVector(vec)}
	ai := 2

	where := "TRUE"
	if f.FileType != "" {
		where += fmt.Sprintf(" AND file_type = $%d", ai)
		args = append(args, f.FileType)
		ai++
	}
	if f.Folder != "" {
		cond, fargs := folderPredicate(f.Folder, ai)
		where += " AND " + cond
		args = append(args, fargs...)
		ai += len(fargs)
	}
	if f.ImportedFrom != nil {
		where += fmt.Sprintf(" AND imported_at >= $%d", ai)
		args = append(args, *f.ImportedFrom)
		ai++
	}
	if f.ImportedTo != nil {
		where += fmt.Sprintf(" AND imported_at <= $%d", ai)
		args = append(args, *f.ImportedTo)
	}

	q := fmt.Sprintf(`
SELECT %s, 1.0 - (embedding <=> $1) AS score
FROM embeddings
WHERE %s
ORDER BY embedding <=> $1, key
LIMIT %d;`, entryColumns, where, k)

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var score float64
		e, err := scanEntry(rows, &score)
		if err != nil {
			return nil, err
		}
		if !f.Match(e.Metadata) {
			continue
		}
		hits = append(hits, Hit{Entry: e, Score: score})
	}
	return hits, rows.Err()
}

// relPath is source_path without its root, as a SQL expression.
const relPath = `regexp_replace(source_path, '^([A-Z]:)?/', '')`

// folderPredicate mirrors DocPath.HasPrefix in SQL: the folder's segments
// must lead the path's segments, and a rooted folder must share the path's
// root. Placeholders are numbered from n.
func folderPredicate(folder string, n int) (string, []any) {
	fp := models.ParsePath(folder)
	var (
		conds []string
		args  []any
	)
	if fp.Root != "" {
		conds = append(conds, fmt.Sprintf("source_path LIKE $%d ESCAPE '\\'", n))
		args = append(args, escapeLike(fp.Root)+"%")
		n++
	}
	if rel := strings.Join(fp.Segments, "/"); rel != "" {
		conds = append(conds, fmt.Sprintf("(%[1]s = $%[2]d OR %[1]s LIKE $%[3]d ESCAPE '\\')", relPath, n, n+1))
		args = append(args, rel, escapeLike(rel)+"/%")
	}
	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (p *PGVector) SetSourcePath(ctx context.Context, keys []string, path string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `UPDATE embeddings SET source_path = $2 WHERE key = ANY($1)`, keys, path)
	return err
}

func (p *PGVector) Entries(ctx context.Context, documentID string) ([]models.EmbeddingEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM embeddings`
	var args []any
	if documentID != "" {
		q += ` WHERE document_id = $1`
		args = append(args, documentID)
	}
	rows, err := p.pool.Query(ctx, q+` ORDER BY document_id, ordinal`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EmbeddingEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PGVector) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM embeddings`).Scan(&n)
	return n, err
}

// Close is a no-op; the pool belongs to the metadata store.
func (p *PGVector) Close() error { return nil }
