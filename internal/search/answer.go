package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/sortseek/internal/ai"
	"github.com/seanblong/sortseek/pkg/models"
)

// Answer is a reply to a natural-language question with the results it was
// drawn from.
type Answer struct {
	Question string                `json:"question"`
	Text     string                `json:"answer"`
	Sources  []models.SearchResult `json:"sources"`
}

const (
	answerSources   = 3
	answerExcerpt   = 2000
	noAnswerMessage = "I couldn't find any relevant information in your documents."
)

const answerSystem = `You answer questions about the user's documents.
Use only the provided excerpts. If they do not contain the answer, say so briefly.
Mention the file name when you rely on an excerpt.`

// Answer searches for question and asks the summarizer to answer from the
// best matches. Without a model the best snippet is returned as the answer.
func (s *Service) Answer(ctx context.Context, question string, filters models.Filters) (Answer, error) {
	resp, contents, err := s.search(ctx, question, filters, answerSources)
	if err != nil {
		return Answer{}, err
	}
	out := Answer{Question: resp.Query, Sources: resp.Results()}
	if resp.Best == nil {
		out.Text = noAnswerMessage
		return out, nil
	}

	var b strings.Builder
	for i, r := range out.Sources {
		text := contents[r.Key]
		if len(text) > answerExcerpt {
			text = strings.ToValidUTF8(text[:answerExcerpt], "")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, r.Filename)
		if r.Page > 0 {
			fmt.Fprintf(&b, " (page %d)", r.Page)
		}
		b.WriteString(":\n")
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	if s.Summarizer != nil {
		reply, err := s.Summarizer.Summarize(ctx, ai.Prompt{
			System:      answerSystem,
			User:        "Question: " + resp.Query + "\n\nExcerpts:\n" + b.String(),
			MaxTokens:   400,
			Temperature: 0.2,
		})
		switch {
		case err == nil && strings.TrimSpace(reply) != "":
			out.Text = strings.TrimSpace(reply)
			return out, nil
		case err != nil && !errors.Is(err, ai.ErrNoModel):
			log.Warn().Err(err).Str("query", resp.Query).Msg("answer generation failed, using best snippet")
		}
	}
	out.Text = resp.Best.Snippet
	return out, nil
}
