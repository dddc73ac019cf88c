// Package app assembles the stores, adapters and engines from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/sortseek/internal/ai"
	"github.com/seanblong/sortseek/internal/config"
	"github.com/seanblong/sortseek/internal/extract"
	"github.com/seanblong/sortseek/internal/indexer"
	"github.com/seanblong/sortseek/internal/pathlock"
	"github.com/seanblong/sortseek/internal/search"
	"github.com/seanblong/sortseek/internal/store"
	"github.com/seanblong/sortseek/internal/suggest"
	"github.com/seanblong/sortseek/internal/vectorindex"
)

// App holds every component shared by the binaries.
type App struct {
	Client  ai.Client
	Store   store.DocumentStore
	Index   vectorindex.Index
	Indexer *indexer.Indexer
	Search  *search.Service
	Suggest *suggest.Engine
}

// ClientConfig maps configuration onto the AI client settings.
func ClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	provider, err := ai.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return &ai.ClientConfig{
		APIKey:            cfg.APIKey,
		EmbedModel:        cfg.EmbedModel,
		SummaryModel:      cfg.SummaryModel,
		Dim:               cfg.Dim,
		ProjectID:         cfg.ProjectID,
		Provider:          provider,
		Location:          cfg.Location,
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, nil
}

// New opens the metadata store and vector index, runs migrations and wires
// the engines. The caller must Close the App.
func New(ctx context.Context, cfg config.Specification) (*App, error) {
	clientConfig, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create AI client: %w", err)
	}
	dim := client.Dim()
	if dim <= 0 {
		return nil, errors.New("embedding dimension must be set")
	}

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate metadata store: %w", err)
	}

	idx, err := openIndex(ctx, cfg, st, dim)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	locks := pathlock.New()
	ex := extract.New()
	a := &App{
		Client: client,
		Store:  st,
		Index:  idx,
		Indexer: indexer.New(st, idx, client, ex, locks, indexer.Options{
			Workers:       cfg.Workers,
			Timeout:       cfg.AdapterTimeout,
			VerifyContent: cfg.VerifyContent,
		}),
		Search: search.NewService(client, client, idx, st, search.Options{
			MinConfidence:       cfg.MinConfidence,
			CandidateMultiplier: cfg.CandidateMultiplier,
			Limit:               cfg.ResultLimit,
		}),
		Suggest: suggest.New(st, idx, client, ex, locks),
	}
	log.Info().
		Str("provider", client.Name()).
		Int("embedding_dim", dim).
		Str("vector_index", strings.ToLower(cfg.VectorIndex)).
		Bool("postgres", store.IsPostgres(cfg.Database)).
		Msg("components initialized")
	return a, nil
}

func openIndex(ctx context.Context, cfg config.Specification, st store.DocumentStore, dim int) (vectorindex.Index, error) {
	switch strings.ToLower(cfg.VectorIndex) {
	case "pgvector":
		pg, ok := st.(*store.PostgresStore)
		if !ok {
			return nil, errors.New("pgvector index requires a postgres:// database")
		}
		idx := vectorindex.NewPGVector(pg.Pool(), dim)
		if err := idx.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate vector index: %w", err)
		}
		return idx, nil
	default:
		idx, err := vectorindex.NewChromem(cfg.ChromemDir, dim)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
		return idx, nil
	}
}

// Close releases the index and the store.
func (a *App) Close() error {
	return errors.Join(a.Index.Close(), a.Store.Close())
}
