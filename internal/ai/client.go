package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/seanblong/sortseek/pkg/models"
)

// Vectorizer turns text into fixed-length embedding vectors.
type Vectorizer interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Summarizer completes a short instruction-style prompt.
type Summarizer interface {
	Summarize(ctx context.Context, p Prompt) (string, error)
}

// Client provides both embedding and summarization capabilities
type Client interface {
	Vectorizer
	Summarizer
	Name() string
}

// Prompt is a system instruction plus user content.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// ErrNoModel is returned by clients without a language model. Callers fall
// back to heuristics.
var ErrNoModel = errors.New("no language model configured")

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderOllama   Provider = "ollama"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey            string
	EmbedModel        string
	SummaryModel      string
	Dim               int
	ProjectID         string
	Provider          Provider
	Location          string
	BaseURL           string
	RequestsPerSecond float64
}

// ParseProvider maps configuration names onto a Provider.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return ProviderOpenAI, nil
	case "vertexai", "google":
		return ProviderVertexAI, nil
	case "ollama":
		return ProviderOllama, nil
	case "stub", "":
		return ProviderStub, nil
	default:
		return "", errors.New("unsupported provider: " + name)
	}
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderOllama:
		return NewOllamaClient(config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// classifyStatus maps a provider HTTP status onto the vectorization taxonomy.
func classifyStatus(code int, msg string) error {
	if msg == "" {
		msg = http.StatusText(code)
	}
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", models.ErrRateLimited, msg)
	case code >= 500:
		return fmt.Errorf("%w: %s", models.ErrServiceUnavailable, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", models.ErrVectorization, code, msg)
	}
}

// asVectorizationError wraps transport failures that were not classified.
func asVectorizationError(err error) error {
	if err == nil || errors.Is(err, models.ErrVectorization) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", models.ErrServiceUnavailable, err)
	}
	return fmt.Errorf("%w: %w", models.ErrVectorization, err)
}

// cleanCompletion flattens a model reply to a single line.
func cleanCompletion(s string) string {
	s = strings.TrimSpace(s)
	return strings.Join(strings.Fields(s), " ")
}
