package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// StubClient embeds locally by hashing word features into a fixed number of
// buckets. Texts that share words get similar vectors, which is enough for
// offline use and tests. It has no language model.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 384
	}
	return &StubClient{dim: dim}
}

func (s *StubClient) Name() string { return string(ProviderStub) }

// Embed implements the embedding functionality
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, asVectorizationError(err)
	}
	v := make([]float32, s.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		v[int(sum>>1)%s.dim] += sign
	}
	normalize(v)
	return v, nil
}

// EmbedBatch embeds each text in order.
func (s *StubClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Summarize always reports ErrNoModel.
func (s *StubClient) Summarize(ctx context.Context, p Prompt) (string, error) {
	return "", ErrNoModel
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		// A blank text still needs a valid direction for cosine similarity.
		v[0] = 1
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}
