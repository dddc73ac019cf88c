package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/philippgille/chromem-go"
	"github.com/seanblong/sortseek/pkg/models"
)

const collectionName = "sortseek"

// Chromem is an embedded, optionally persistent, vector index.
type Chromem struct {
	db  *chromem.DB
	col *chromem.Collection
	dim atomic.Int64
}

// NewChromem opens the index persisted under dir. An empty dir keeps the
// index in memory. dim is the embedding dimension.
func NewChromem(dir string, dim int) (*Chromem, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index: %w", err)
		}
	}
	// Vectors are always supplied, so the collection never embeds on its own.
	col, err := db.GetOrCreateCollection(collectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	c := &Chromem{db: db, col: col}
	c.dim.Store(int64(dim))
	return c, nil
}

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectorindex: entries must carry a vector")
}

func (c *Chromem) Upsert(ctx context.Context, entries ...models.EmbeddingEntry) error {
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("entry %s has no vector", e.Key)
		}
		doc := chromem.Document{
			ID:        e.Key,
			Content:   e.Content,
			Metadata:  encodeMetadata(e.Metadata),
			Embedding: e.Vector,
		}
		if err := c.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to add entry %s: %w", e.Key, err)
		}
		c.dim.Store(int64(len(e.Vector)))
	}
	return nil
}

func (c *Chromem) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	// where must stay nil; an empty filter matches every document.
	return c.col.Delete(ctx, nil, nil, keys...)
}

func (c *Chromem) Get(ctx context.Context, key string) (models.EmbeddingEntry, error) {
	doc, err := c.col.GetByID(ctx, key)
	if err != nil {
		return models.EmbeddingEntry{}, fmt.Errorf("entry %s: %w", key, models.ErrNotFound)
	}
	return models.EmbeddingEntry{
		Key:      doc.ID,
		Vector:   doc.Embedding,
		Content:  doc.Content,
		Metadata: decodeMetadata(doc.Metadata),
	}, nil
}

// Query pushes the file type filter into chromem and applies folder and time
// filters afterwards over the full candidate list.
func (c *Chromem) Query(ctx context.Context, vec []float32, k int, f models.Filters) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	var where map[string]string
	if f.FileType != "" {
		where = map[string]string{metaFileType: f.FileType}
	}
	n := k
	if f.Folder != "" || f.ImportedFrom != nil || f.ImportedTo != nil {
		n = math.MaxInt
	}

	res, err := c.query(ctx, vec, n, where)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	hits := make([]Hit, 0, min(k, len(res)))
	for _, r := range res {
		meta := decodeMetadata(r.Metadata)
		if !f.Match(meta) {
			continue
		}
		hits = append(hits, Hit{
			Entry: models.EmbeddingEntry{Key: r.ID, Vector: r.Embedding, Content: r.Content, Metadata: meta},
			Score: float64(r.Similarity),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

func (c *Chromem) SetSourcePath(ctx context.Context, keys []string, path string) error {
	for _, key := range keys {
		doc, err := c.col.GetByID(ctx, key)
		if err != nil {
			continue
		}
		doc.Metadata[metaSourcePath] = path
		if err := c.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to update entry %s: %w", key, err)
		}
	}
	return nil
}

// Entries enumerates the collection with a full-size query. Scores are
// irrelevant here, so any unit vector of the right dimension will do.
func (c *Chromem) Entries(ctx context.Context, documentID string) ([]models.EmbeddingEntry, error) {
	if c.col.Count() == 0 {
		return nil, nil
	}
	var where map[string]string
	if documentID != "" {
		where = map[string]string{metaDocumentID: documentID}
	}
	dim := c.dim.Load()
	if dim <= 0 {
		return nil, errors.New("vectorindex: embedding dimension unknown")
	}
	unit := make([]float32, dim)
	unit[0] = 1

	res, err := c.query(ctx, unit, math.MaxInt, where)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	out := make([]models.EmbeddingEntry, 0, len(res))
	for _, r := range res {
		out = append(out, models.EmbeddingEntry{
			Key:      r.ID,
			Vector:   r.Embedding,
			Content:  r.Content,
			Metadata: decodeMetadata(r.Metadata),
		})
	}
	return out, nil
}

// query asks chromem for up to n results. chromem rejects n above the
// collection size, and a concurrent Delete can shrink the collection between
// the count and the query, so a rejected query is retried with the new size.
func (c *Chromem) query(ctx context.Context, vec []float32, n int, where map[string]string) ([]chromem.Result, error) {
	for {
		size := min(n, c.col.Count())
		if size == 0 {
			return nil, nil
		}
		res, err := c.col.QueryEmbedding(ctx, vec, size, where, nil)
		if err != nil && c.col.Count() < size {
			n = size - 1
			continue
		}
		return res, err
	}
}

func (c *Chromem) Count(context.Context) (int, error) {
	return c.col.Count(), nil
}

// Close is a no-op; persistent collections are written on every change.
func (c *Chromem) Close() error { return nil }
