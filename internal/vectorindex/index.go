// Package vectorindex stores EmbeddingEntries and answers nearest-neighbour
// queries over them.
package vectorindex

import (
	"context"
	"strconv"
	"time"

	"github.com/seanblong/sortseek/pkg/models"
)

// Hit is one query result in index ranking order.
type Hit struct {
	Entry models.EmbeddingEntry
	Score float64
}

// Index is the vector index consumed by the indexer, search and suggest
// packages. Upsert overwrites by key; Delete ignores unknown keys.
type Index interface {
	Upsert(ctx context.Context, entries ...models.EmbeddingEntry) error
	Delete(ctx context.Context, keys ...string) error
	// Get returns an error wrapping models.ErrNotFound for unknown keys.
	Get(ctx context.Context, key string) (models.EmbeddingEntry, error)
	// Query returns at most k hits matching filters, highest score first.
	Query(ctx context.Context, vec []float32, k int, filters models.Filters) ([]Hit, error)
	// SetSourcePath rewrites source_path on the given entries without
	// touching their vectors. Unknown keys are skipped.
	SetSourcePath(ctx context.Context, keys []string, path string) error
	// Entries lists the entries owned by documentID, or every entry when
	// documentID is empty.
	Entries(ctx context.Context, documentID string) ([]models.EmbeddingEntry, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

const (
	metaDocumentID  = "document_id"
	metaFileType    = "file_type"
	metaImportedAt  = "imported_at"
	metaSourcePath  = "source_path"
	metaOrdinal     = "ordinal"
	metaPage        = "page"
	metaContentHash = "content_hash"
)

func encodeMetadata(m models.EntryMetadata) map[string]string {
	return map[string]string{
		metaDocumentID:  m.DocumentID,
		metaFileType:    m.FileType,
		metaImportedAt:  m.ImportedAt.UTC().Format(time.RFC3339Nano),
		metaSourcePath:  m.SourcePath,
		metaOrdinal:     strconv.Itoa(m.Ordinal),
		metaPage:        strconv.Itoa(m.Page),
		metaContentHash: m.ContentHash,
	}
}

func decodeMetadata(m map[string]string) models.EntryMetadata {
	out := models.EntryMetadata{
		DocumentID:  m[metaDocumentID],
		FileType:    m[metaFileType],
		SourcePath:  m[metaSourcePath],
		ContentHash: m[metaContentHash],
	}
	out.ImportedAt, _ = time.Parse(time.RFC3339Nano, m[metaImportedAt])
	out.Ordinal, _ = strconv.Atoi(m[metaOrdinal])
	out.Page, _ = strconv.Atoi(m[metaPage])
	return out
}
