package ai

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/seanblong/sortseek/pkg/models"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient talks to a local Ollama server through langchaingo.
type OllamaClient struct {
	config   *ClientConfig
	llm      llms.Model
	embedder embeddings.Embedder
}

func NewOllamaClient(config *ClientConfig) (*OllamaClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text"
	}
	if config.SummaryModel == "" {
		config.SummaryModel = "llama3.2"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaURL
	}
	// ollama.WithServerURL exits the process on a malformed URL.
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", config.BaseURL, err)
	}

	llm, err := ollama.New(ollama.WithModel(config.SummaryModel), ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("create ollama llm: %w", err)
	}
	embedLLM, err := ollama.New(ollama.WithModel(config.EmbedModel), ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedLLM, embeddings.WithBatchSize(16))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &OllamaClient{config: config, llm: llm, embedder: embedder}, nil
}

func (c *OllamaClient) Name() string { return string(ProviderOllama) }

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, ollamaError(err)
	}
	return v, nil
}

func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, ollamaError(err)
	}
	if len(vecs) != len(texts) {
		return nil, asVectorizationError(errors.New("embedding count mismatch"))
	}
	return vecs, nil
}

func (c *OllamaClient) Summarize(ctx context.Context, p Prompt) (string, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 120
	}
	resp, err := c.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, p.System),
			llms.TextParts(llms.ChatMessageTypeHuman, p.User),
		},
		llms.WithTemperature(float64(p.Temperature)),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices")
	}
	return cleanCompletion(resp.Choices[0].Content), nil
}

func (c *OllamaClient) Dim() int {
	return c.config.Dim
}

// ollamaError treats any failure of the local server as unavailability.
func ollamaError(err error) error {
	if errors.Is(err, context.Canceled) {
		return asVectorizationError(err)
	}
	return fmt.Errorf("%w: %w", models.ErrServiceUnavailable, err)
}
