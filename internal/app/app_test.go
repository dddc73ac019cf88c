package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/sortseek/internal/ai"
	"github.com/seanblong/sortseek/internal/config"
	"github.com/seanblong/sortseek/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func testConfig(t *testing.T) config.Specification {
	dir := t.TempDir()
	return config.Specification{
		Provider:            "stub",
		Dim:                 64,
		Database:            "sqlite://" + filepath.Join(dir, "meta.db"),
		VectorIndex:         "chromem",
		ChromemDir:          filepath.Join(dir, "vectors"),
		MinConfidence:       -1,
		CandidateMultiplier: 3,
		ResultLimit:         5,
		Workers:             2,
	}
}

func TestClientConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provider = "Google"
	cfg.RequestsPerSecond = 2.5

	cc, err := ClientConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, ai.ProviderVertexAI, cc.Provider)
	assert.Equal(t, 64, cc.Dim)
	assert.Equal(t, 2.5, cc.RequestsPerSecond)

	cfg.Provider = "nope"
	_, err = ClientConfig(cfg)
	assert.Error(t, err)
}

func TestNew_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	docs := t.TempDir()
	path := filepath.Join(docs, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Garden planting schedule for tomatoes and basil."), 0o644))

	res := a.Indexer.ReconcileFolder(ctx, []string{docs}, false)
	assert.Equal(t, 1, res.Indexed)
	assert.Empty(t, res.Failures)

	resp, err := a.Search.Search(ctx, "tomatoes basil garden", models.Filters{}, 3)
	require.NoError(t, err)
	require.NotNil(t, resp.Best)
	assert.Equal(t, models.ParsePath(path).String(), resp.Best.Path)

	folder, err := a.Suggest.SuggestFolder(ctx, path)
	require.NoError(t, err)
	assert.NotEmpty(t, folder)

	history, err := a.Store.RecentSearches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "tomatoes basil garden", history[0].Query)
}

func TestNew_PGVectorNeedsPostgres(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorIndex = "pgvector"

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "postgres")
}
