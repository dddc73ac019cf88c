package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/sortseek/internal/ai"
	"github.com/seanblong/sortseek/internal/extract"
	"github.com/seanblong/sortseek/internal/pathlock"
	"github.com/seanblong/sortseek/internal/store"
	"github.com/seanblong/sortseek/internal/tracker"
	"github.com/seanblong/sortseek/internal/vectorindex"
	"github.com/seanblong/sortseek/pkg/models"
	"golang.org/x/sync/errgroup"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// Options tunes an Indexer.
type Options struct {
	// Workers bounds concurrent reconciliations in ReconcileFolder.
	Workers int
	// Timeout caps extraction and vectorization of a single file.
	Timeout time.Duration
	// VerifyContent makes the tracker hash every file.
	VerifyContent bool
	// BatchSize is the number of chunks per EmbedBatch call.
	BatchSize int
}

// Indexer keeps the metadata store and the vector index in line with files
// on disk. It is the only writer of DocumentRecords and EmbeddingEntries.
type Indexer struct {
	Store      store.DocumentStore
	Index      vectorindex.Index
	Vectorizer ai.Vectorizer
	Extractor  extract.Extractor
	Tracker    *tracker.Tracker
	Locks      *pathlock.Locker
	Walker     FileSystemWalker

	workers   int
	timeout   time.Duration
	batchSize int
	now       func() time.Time
}

const (
	defaultBatchSize = 32
	// maxEmbedChars keeps single chunks inside provider input limits.
	maxEmbedChars = 8000
)

// New creates a new Indexer instance. locks may be shared with the
// suggestion engine; nil creates a private one.
func New(s store.DocumentStore, idx vectorindex.Index, v ai.Vectorizer, ex extract.Extractor, locks *pathlock.Locker, opts Options) *Indexer {
	if locks == nil {
		locks = pathlock.New()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > 8 {
			workers = 8 // Cap at 8 to avoid overwhelming the AI API
		}
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	tr := tracker.New(s)
	tr.VerifyContent = opts.VerifyContent

	return &Indexer{
		Store:      s,
		Index:      idx,
		Vectorizer: v,
		Extractor:  ex,
		Tracker:    tr,
		Locks:      locks,
		Walker:     &DefaultFileSystemWalker{},
		workers:    workers,
		timeout:    opts.Timeout,
		batchSize:  batch,
		now:        now,
	}
}

// now is truncated to the stores' microsecond precision.
func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// ChunkKey derives the vector-index key for a chunk.
func ChunkKey(documentID string, ordinal int) string {
	h := sha1.Sum([]byte(documentID + "#" + strconv.Itoa(ordinal)))
	return hex.EncodeToString(h[:])
}

// hashContent returns the SHA-1 hash of the given content as a hex string.
func hashContent(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// Reconcile brings one file's index state in line with its contents. At most
// one reconciliation per path runs at a time. Relative paths are resolved
// against the working directory.
func (ix *Indexer) Reconcile(ctx context.Context, path string, force bool) models.IndexOutcome {
	p := models.AbsPath(path)
	out := models.IndexOutcome{Path: p.String()}
	if err := ctx.Err(); err != nil {
		out.Status, out.Err = models.StatusCanceled, err
		return out
	}

	unlock := ix.Locks.Lock(p.String())
	defer unlock()

	ev, err := ix.Tracker.Evaluate(ctx, p.String(), force)
	if err != nil {
		return failed(out, err)
	}
	out.DocumentID = ev.Record.ID
	if ev.State == models.Fresh {
		out.Status = models.StatusSkipped
		log.Debug().Str("path", out.Path).Msg("unchanged, skipping")
		return out
	}

	actx := ctx
	if ix.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, ix.timeout)
		defer cancel()
	}

	sections, err := ix.Extractor.Extract(actx, p.String())
	if err != nil {
		return failed(out, err)
	}

	rec := ev.Record
	if rec.ID == "" {
		rec.ID = uuid.NewString()
		rec.ImportedAt = ix.now()
	}
	out.DocumentID = rec.ID

	chunks := make([]models.Chunk, 0, len(sections))
	for _, s := range sections {
		// Blank pages hold their ordinal but are never embedded.
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			DocumentID: rec.ID,
			Ordinal:    s.Ordinal,
			Page:       s.Page,
			Content:    s.Text,
			Key:        ChunkKey(rec.ID, s.Ordinal),
		})
	}

	entries, embedded, err := ix.buildEntries(actx, p, rec, chunks, force)
	if err != nil {
		return failed(out, err)
	}
	if len(entries) > 0 {
		if err := ix.Index.Upsert(ctx, entries...); err != nil {
			return failed(out, fmt.Errorf("upsert entries: %w", err))
		}
	}

	span := 0
	live := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		live[c.Ordinal] = true
		span = max(span, c.Ordinal+1)
	}
	var stale []string
	for o := 0; o < rec.ChunkSpan; o++ {
		if !live[o] {
			stale = append(stale, ChunkKey(rec.ID, o))
		}
	}
	if err := ix.Index.Delete(ctx, stale...); err != nil {
		return failed(out, fmt.Errorf("delete stale entries: %w", err))
	}

	rec.Path = p.String()
	rec.Filename = p.Base()
	rec.FileType = p.FileType()
	rec.Size = ev.Current.Size
	rec.ModifiedAt = ev.Current.ModifiedAt
	rec.ContentHash = ev.Current.Hash
	rec.LastIndexedAt = ix.now()
	rec.Indexed = true
	rec.Content = extract.Join(sections)
	rec.ChunkSpan = span
	if err := ix.Store.Save(ctx, rec); err != nil {
		return failed(out, fmt.Errorf("save record: %w", err))
	}

	out.Status = models.StatusIndexed
	out.Chunks = len(chunks)
	out.Embedded = embedded
	log.Info().Str("path", out.Path).
		Str("state", ev.State.String()).
		Int("chunks", len(chunks)).
		Int("embedded", embedded).
		Int("pruned", len(stale)).
		Msg("indexed document")
	return out
}

// buildEntries reuses stored vectors for chunks whose text is unchanged and
// vectorizes the rest. Entries that need no write are omitted.
func (ix *Indexer) buildEntries(ctx context.Context, p models.DocPath, rec models.DocumentRecord, chunks []models.Chunk, force bool) ([]models.EmbeddingEntry, int, error) {
	var (
		entries []models.EmbeddingEntry
		pending []int
		texts   []string
	)
	for _, c := range chunks {
		meta := models.EntryMetadata{
			DocumentID:  rec.ID,
			FileType:    p.FileType(),
			ImportedAt:  rec.ImportedAt,
			SourcePath:  p.String(),
			Ordinal:     c.Ordinal,
			Page:        c.Page,
			ContentHash: hashContent(c.Content),
		}
		e := models.EmbeddingEntry{Key: c.Key, Content: c.Content, Metadata: meta}

		if !force {
			prev, err := ix.Index.Get(ctx, c.Key)
			switch {
			case err == nil && prev.Metadata.ContentHash == meta.ContentHash:
				if sameMetadata(prev.Metadata, meta) {
					continue
				}
				e.Vector = prev.Vector
				entries = append(entries, e)
				continue
			case err != nil && !errors.Is(err, models.ErrNotFound):
				return nil, 0, fmt.Errorf("read entry %s: %w", c.Key, err)
			}
		}
		pending = append(pending, len(entries))
		texts = append(texts, embedText(c.Content))
		entries = append(entries, e)
	}

	for start := 0; start < len(texts); start += ix.batchSize {
		end := min(start+ix.batchSize, len(texts))
		vecs, err := ix.Vectorizer.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, 0, err
		}
		if len(vecs) != end-start {
			return nil, 0, fmt.Errorf("%w: got %d vectors for %d chunks", models.ErrVectorization, len(vecs), end-start)
		}
		for i, v := range vecs {
			entries[pending[start+i]].Vector = v
		}
	}
	return entries, len(texts), nil
}

func sameMetadata(a, b models.EntryMetadata) bool {
	return a.DocumentID == b.DocumentID &&
		a.FileType == b.FileType &&
		a.ImportedAt.Equal(b.ImportedAt) &&
		a.SourcePath == b.SourcePath &&
		a.Ordinal == b.Ordinal &&
		a.Page == b.Page
}

func embedText(s string) string {
	if len(s) <= maxEmbedChars {
		return s
	}
	// Drop a rune split by the cut.
	return strings.ToValidUTF8(s[:maxEmbedChars], "")
}

func failed(out models.IndexOutcome, err error) models.IndexOutcome {
	out.Status, out.Err = models.StatusFailed, err
	log.Warn().Err(err).Str("path", out.Path).Msg("reconcile failed")
	return out
}

// ReconcileFolder reconciles every supported file below roots. Roots may be
// files or folders. A failure never aborts sibling files. When ctx is
// cancelled, files already in flight finish and the rest are counted as
// canceled.
func (ix *Indexer) ReconcileFolder(ctx context.Context, roots []string, force bool) models.BatchResult {
	var (
		res models.BatchResult
		mu  sync.Mutex
	)
	add := func(o models.IndexOutcome) {
		mu.Lock()
		defer mu.Unlock()
		res.Add(o)
	}

	paths, walkFailures := ix.collect(ctx, roots)
	for _, f := range walkFailures {
		add(f)
	}
	log.Info().Int("files", len(paths)).Int("workers", ix.workers).Msg("starting folder reconciliation")

	g := new(errgroup.Group)
	g.SetLimit(ix.workers)
	for _, path := range paths {
		if ctx.Err() != nil {
			add(models.IndexOutcome{Path: path, Status: models.StatusCanceled, Err: ctx.Err()})
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				add(models.IndexOutcome{Path: path, Status: models.StatusCanceled, Err: ctx.Err()})
				return nil
			}
			// Once started, a file runs to completion so its entries are
			// never half-written.
			add(ix.Reconcile(context.WithoutCancel(ctx), path, force))
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(res.Failures, func(a, b models.Failure) int { return strings.Compare(a.Path, b.Path) })
	log.Info().
		Int("indexed", res.Indexed).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Int("canceled", res.Canceled).
		Msg("folder reconciliation finished")
	return res
}

// collect expands roots into a sorted, de-duplicated list of files.
func (ix *Indexer) collect(ctx context.Context, roots []string) ([]string, []models.IndexOutcome) {
	seen := make(map[string]bool)
	var (
		paths    []string
		failures []models.IndexOutcome
	)
	addPath := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, root := range roots {
		rp := models.AbsPath(root)
		info, err := os.Stat(rp.Native())
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = fmt.Errorf("%w: %s", models.ErrNotFound, rp)
			}
			failures = append(failures, models.IndexOutcome{Path: rp.String(), Status: models.StatusFailed, Err: err})
			continue
		}
		if !info.IsDir() {
			addPath(rp.String())
			continue
		}

		walkErr := ix.Walker.Walk(rp.Native(), &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				p := models.ParsePath(path)
				if de != nil && de.IsDir() {
					if path != rp.Native() && strings.HasPrefix(p.Base(), ".") {
						return godirwalk.SkipThis
					}
					return nil
				}
				if shouldSkip(p) {
					return nil
				}
				addPath(p.String())
				return nil
			},
			ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
				log.Warn().Err(err).Str("path", path).Msg("failed to walk")
				return godirwalk.SkipNode
			},
		})
		if walkErr != nil && ctx.Err() == nil {
			failures = append(failures, models.IndexOutcome{Path: rp.String(), Status: models.StatusFailed, Err: walkErr})
		}
	}
	slices.Sort(paths)
	return paths, failures
}

// shouldSkip returns true if the file should not be imported from a folder.
func shouldSkip(p models.DocPath) bool {
	name := p.Base()
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return true
	}
	return !extract.Supported(p.Ext())
}

// Remove deletes a document's record and every entry it owns.
func (ix *Indexer) Remove(ctx context.Context, id string) error {
	rec, err := ix.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	unlock := ix.Locks.Lock(rec.Path)
	defer unlock()

	if err := ix.pruneEntries(ctx, rec.ID, rec.ChunkSpan); err != nil {
		return err
	}
	if err := ix.Store.Delete(ctx, rec.ID); err != nil {
		return err
	}
	log.Info().Str("id", rec.ID).Str("path", rec.Path).Msg("removed document")
	return nil
}

// pruneEntries deletes entries by the known span plus anything the index
// still lists for the document.
func (ix *Indexer) pruneEntries(ctx context.Context, docID string, span int) error {
	keys := make([]string, 0, span)
	for o := 0; o < span; o++ {
		keys = append(keys, ChunkKey(docID, o))
	}
	entries, err := ix.Index.Entries(ctx, docID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	slices.Sort(keys)
	return ix.Index.Delete(ctx, slices.Compact(keys)...)
}

// Refresh force-reconciles a stored document.
func (ix *Indexer) Refresh(ctx context.Context, id string) (models.IndexOutcome, error) {
	rec, err := ix.Store.Get(ctx, id)
	if err != nil {
		return models.IndexOutcome{}, err
	}
	return ix.Reconcile(ctx, rec.Path, true), nil
}

// IsIndexed reports whether path has been indexed.
func (ix *Indexer) IsIndexed(ctx context.Context, path string) (bool, error) {
	return ix.Store.IsIndexed(ctx, models.AbsPath(path).String())
}

const sweepPage = 500

// Sweep reports entries without an owning record and indexed records whose
// file has vanished. It changes nothing; see Prune.
func (ix *Indexer) Sweep(ctx context.Context) ([]models.Inconsistency, error) {
	entries, err := ix.Index.Entries(ctx, "")
	if err != nil {
		return nil, err
	}
	byDoc := make(map[string][]models.EmbeddingEntry)
	for _, e := range entries {
		byDoc[e.Metadata.DocumentID] = append(byDoc[e.Metadata.DocumentID], e)
	}

	var out []models.Inconsistency
	for docID, es := range byDoc {
		_, err := ix.Store.Get(ctx, docID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			out = append(out, models.Inconsistency{
				Kind:       models.OrphanedEntries,
				DocumentID: docID,
				Path:       es[0].Metadata.SourcePath,
				Keys:       len(es),
			})
		case err != nil:
			return nil, err
		}
	}

	for offset := 0; ; offset += sweepPage {
		recs, err := ix.Store.List(ctx, offset, sweepPage)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if !r.Indexed {
				continue
			}
			if _, err := os.Stat(models.ParsePath(r.Path).Native()); errors.Is(err, os.ErrNotExist) {
				out = append(out, models.Inconsistency{Kind: models.MissingFile, DocumentID: r.ID, Path: r.Path})
			}
		}
		if len(recs) < sweepPage {
			break
		}
	}

	slices.SortFunc(out, func(a, b models.Inconsistency) int {
		if c := strings.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return strings.Compare(a.DocumentID, b.DocumentID)
	})
	for _, inc := range out {
		log.Warn().Str("kind", inc.Kind).Str("id", inc.DocumentID).Str("path", inc.Path).
			Err(models.ErrIndexInconsistency).Msg("sweep found inconsistency")
	}
	return out, nil
}

// Prune heals what Sweep reported and returns the number of issues fixed.
func (ix *Indexer) Prune(ctx context.Context, issues []models.Inconsistency) (int, error) {
	fixed := 0
	for _, inc := range issues {
		var err error
		switch inc.Kind {
		case models.OrphanedEntries:
			err = ix.pruneEntries(ctx, inc.DocumentID, 0)
		case models.MissingFile:
			err = ix.Remove(ctx, inc.DocumentID)
			if errors.Is(err, models.ErrNotFound) {
				err = nil
			}
		default:
			continue
		}
		if err != nil {
			return fixed, fmt.Errorf("prune %s %s: %w", inc.Kind, inc.DocumentID, err)
		}
		fixed++
	}
	return fixed, nil
}
