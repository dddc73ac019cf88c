package ai

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"testing"

	"github.com/seanblong/sortseek/pkg/models"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"openai", ProviderOpenAI, false},
		{"OpenAI", ProviderOpenAI, false},
		{"google", ProviderVertexAI, false},
		{"vertexai", ProviderVertexAI, false},
		{"ollama", ProviderOllama, false},
		{"", ProviderStub, false},
		{" stub ", ProviderStub, false},
		{"anthropic-local", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProvider(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		config      *ClientConfig
		expectError bool
		expectName  string
	}{
		{name: "nil config", config: nil, expectError: true},
		{name: "unknown provider", config: &ClientConfig{Provider: "mystery"}, expectError: true},
		{name: "stub", config: &ClientConfig{Provider: ProviderStub, Dim: 16}, expectName: "stub"},
		{name: "openai", config: &ClientConfig{Provider: ProviderOpenAI, APIKey: "sk-test"}, expectName: "openai"},
		{name: "ollama", config: &ClientConfig{Provider: ProviderOllama}, expectName: "ollama"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(ctx, tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.Name() != tt.expectName {
				t.Errorf("Expected name %q, got %q", tt.expectName, c.Name())
			}
			if c.Dim() <= 0 {
				t.Errorf("Expected positive dimension, got %d", c.Dim())
			}
		})
	}
}

func TestNewOllamaClientDefaults(t *testing.T) {
	cfg := &ClientConfig{Provider: ProviderOllama}
	c, err := NewOllamaClient(cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.EmbedModel != "nomic-embed-text" {
		t.Errorf("Expected default embed model, got %q", cfg.EmbedModel)
	}
	if cfg.BaseURL != defaultOllamaURL {
		t.Errorf("Expected default base URL, got %q", cfg.BaseURL)
	}
	if c.Dim() != 768 {
		t.Errorf("Expected Dim 768, got %d", c.Dim())
	}
}

func TestStubClient_Embed(t *testing.T) {
	c := NewStubClient(64)
	ctx := context.Background()

	a, err := c.Embed(ctx, "quarterly budget report for finance")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("Expected 64 dimensions, got %d", len(a))
	}

	again, _ := c.Embed(ctx, "quarterly budget report for finance")
	for i := range a {
		if a[i] != again[i] {
			t.Fatal("Expected deterministic embeddings")
		}
	}

	related, _ := c.Embed(ctx, "finance budget")
	unrelated, _ := c.Embed(ctx, "hiking trail map")
	if cosine(a, related) <= cosine(a, unrelated) {
		t.Errorf("Expected shared words to score higher: related=%v unrelated=%v",
			cosine(a, related), cosine(a, unrelated))
	}

	blank, _ := c.Embed(ctx, "   ")
	if math.Abs(float64(norm(blank))-1) > 1e-5 {
		t.Errorf("Expected unit vector for blank text, got norm %v", norm(blank))
	}
}

func TestStubClient_EmbedBatchKeepsOrder(t *testing.T) {
	c := NewStubClient(32)
	ctx := context.Background()
	texts := []string{"alpha", "beta", "gamma"}

	vecs, err := c.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	for i, text := range texts {
		single, _ := c.Embed(ctx, text)
		if cosine(vecs[i], single) < 0.9999 {
			t.Errorf("Expected batch entry %d to match single embedding", i)
		}
	}
}

func TestStubClient_CancelledContext(t *testing.T) {
	c := NewStubClient(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Embed(ctx, "text")
	if !errors.Is(err, models.ErrVectorization) {
		t.Errorf("Expected vectorization error, got %v", err)
	}
}

func TestStubClient_SummarizeHasNoModel(t *testing.T) {
	c := NewStubClient(8)
	if _, err := c.Summarize(context.Background(), Prompt{User: "text"}); !errors.Is(err, ErrNoModel) {
		t.Errorf("Expected ErrNoModel, got %v", err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusTooManyRequests, models.ErrRateLimited},
		{http.StatusServiceUnavailable, models.ErrServiceUnavailable},
		{http.StatusBadGateway, models.ErrServiceUnavailable},
		{http.StatusBadRequest, models.ErrVectorization},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := classifyStatus(tt.code, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, models.ErrVectorization) {
				t.Errorf("Expected every status to be a vectorization error, got %v", err)
			}
		})
	}
}

func TestStubClientConcurrency(t *testing.T) {
	c := NewStubClient(16)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Embed(context.Background(), "concurrent text"); err != nil {
				t.Errorf("Embed failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestClientInterfaceCompliance(t *testing.T) {
	var _ Client = &StubClient{}
	var _ Client = &OpenAIClient{}
	var _ Client = &VertexAIClient{}
	var _ Client = &OllamaClient{}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func norm(v []float32) float32 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return float32(math.Sqrt(s))
}
