package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/sortseek/internal/ai"
	"github.com/seanblong/sortseek/internal/vectorindex"
	"github.com/seanblong/sortseek/pkg/models"
)

// ErrEmptyQuery is returned for blank query text.
var ErrEmptyQuery = errors.New("query text is required")

// Records is the part of the metadata store the search service reads.
type Records interface {
	Get(ctx context.Context, id string) (models.DocumentRecord, error)
	RecordSearch(ctx context.Context, query string, results int) error
}

// Options configures ranking.
type Options struct {
	// MinConfidence is the minimum similarity a result must reach.
	MinConfidence float64
	// CandidateMultiplier over-fetches from the index so filtering and the
	// threshold do not starve the result list.
	CandidateMultiplier int
	// Limit is the default number of results.
	Limit int
}

// MaxLimit caps the number of results a single search may request.
const MaxLimit = 100

func DefaultOptions() Options {
	return Options{MinConfidence: 0.35, CandidateMultiplier: 3, Limit: 10}
}

type Service struct {
	Vectorizer ai.Vectorizer
	Summarizer ai.Summarizer
	Index      vectorindex.Index
	Store      Records
	opts       Options
}

// NewService creates a new search service. summarizer may be nil, in which
// case Answer falls back to the best snippet.
func NewService(v ai.Vectorizer, summarizer ai.Summarizer, idx vectorindex.Index, st Records, opts Options) *Service {
	if opts.CandidateMultiplier <= 0 {
		opts.CandidateMultiplier = DefaultOptions().CandidateMultiplier
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultOptions().Limit
	}
	return &Service{Vectorizer: v, Summarizer: summarizer, Index: idx, Store: st, opts: opts}
}

// Search returns ranked results for q. A response without a best match is
// the "no strong matches" outcome, not an error. Errors are reserved for
// vectorization and index failures.
func (s *Service) Search(ctx context.Context, q string, filters models.Filters, limit int) (models.SearchResponse, error) {
	resp, _, err := s.search(ctx, q, filters, limit)
	if err != nil {
		return models.SearchResponse{}, err
	}
	if err := s.Store.RecordSearch(ctx, resp.Query, len(resp.Results())); err != nil {
		log.Warn().Err(err).Str("query", resp.Query).Msg("failed to record search")
	}
	return resp, nil
}

// search also returns the full chunk text of each result by key.
func (s *Service) search(ctx context.Context, q string, filters models.Filters, limit int) (models.SearchResponse, map[string]string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return models.SearchResponse{}, nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = s.opts.Limit
	}
	limit = min(limit, MaxLimit)

	vec, err := s.Vectorizer.Embed(ctx, q)
	if err != nil {
		return models.SearchResponse{}, nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.Index.Query(ctx, vec, limit*s.opts.CandidateMultiplier, filters)
	if err != nil {
		return models.SearchResponse{}, nil, fmt.Errorf("query index: %w", err)
	}

	docs := make(map[string]*models.DocumentRecord)
	contents := make(map[string]string, len(hits))
	candidates := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		meta := h.Entry.Metadata
		doc, seen := docs[meta.DocumentID]
		if !seen {
			rec, err := s.Store.Get(ctx, meta.DocumentID)
			switch {
			case errors.Is(err, models.ErrNotFound):
				log.Warn().Err(models.ErrIndexInconsistency).
					Str("key", h.Entry.Key).
					Str("id", meta.DocumentID).
					Msg("entry has no owning document")
			case err != nil:
				return models.SearchResponse{}, nil, err
			default:
				doc = &rec
			}
			docs[meta.DocumentID] = doc
		}
		if doc == nil {
			continue
		}
		contents[h.Entry.Key] = h.Entry.Content
		candidates = append(candidates, models.SearchResult{
			Key:      h.Entry.Key,
			Filename: doc.Filename,
			Path:     doc.Path,
			Ordinal:  meta.Ordinal,
			Page:     meta.Page,
			Snippet:  Snippet(h.Entry.Content, q),
			Score:    h.Score,
			Metadata: meta,
		})
	}

	resp := Rank(candidates, s.opts.MinConfidence)
	resp.Query = q
	if n := limit - 1; len(resp.Secondary) > n {
		resp.Secondary = resp.Secondary[:n]
	}
	log.Debug().Str("query", q).Int("candidates", len(hits)).Int("results", len(resp.Results())).Msg("search")
	return resp, contents, nil
}

// Rank drops candidates scoring below threshold, orders the rest by score
// descending and splits off the best match. Equal scores keep their input
// order.
func Rank(candidates []models.SearchResult, threshold float64) models.SearchResponse {
	kept := make([]models.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= threshold {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return models.SearchResponse{Secondary: []models.SearchResult{}, NoStrongMatches: true}
	}
	slices.SortStableFunc(kept, func(a, b models.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	best := kept[0]
	return models.SearchResponse{Best: &best, Secondary: kept[1:]}
}
