package suggest

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/sortseek/internal/ai"
	"github.com/seanblong/sortseek/pkg/models"
)

const (
	DefaultMaxPages = 5
	pageTextLimit   = 3000
	summaryLen      = 300
	emptyPage       = "No text content found on this page."
)

// DocumentSummary holds per-page summaries of a document.
type DocumentSummary struct {
	Path       string               `json:"path"`
	Summaries  []models.PageSummary `json:"summaries"`
	TotalPages int                  `json:"total_pages"`
}

// SummarizeDocument extracts the file at path and summarizes up to maxPages
// pages or sections. Pages the model cannot summarize get an extractive
// summary instead.
func (e *Engine) SummarizeDocument(ctx context.Context, path string, maxPages int) (DocumentSummary, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	p := models.AbsPath(path)
	if err := checkSource(p.Native()); err != nil {
		return DocumentSummary{}, err
	}
	sections, err := e.Extractor.Extract(ctx, p.String())
	if err != nil {
		return DocumentSummary{}, err
	}

	out := DocumentSummary{Path: p.String(), TotalPages: len(sections)}
	for i, s := range sections {
		if i >= maxPages {
			break
		}
		if err := ctx.Err(); err != nil {
			return DocumentSummary{}, err
		}
		page := s.Page
		if page == 0 {
			page = s.Ordinal + 1
		}
		out.Summaries = append(out.Summaries, models.PageSummary{Page: page, Summary: e.summarize(ctx, s.Text, p.String())})
	}
	log.Info().Str("path", out.Path).Int("pages", len(out.Summaries)).Int("total", out.TotalPages).Msg("summarized document")
	return out, nil
}

func (e *Engine) summarize(ctx context.Context, text, path string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return emptyPage
	}
	text = truncate(text, pageTextLimit)
	if e.Summarizer != nil {
		reply, err := e.Summarizer.Summarize(ctx, ai.Prompt{
			System:      "You are a helpful assistant that creates concise summaries. Create a summary of no more than 300 characters.",
			User:        "Please summarize the following text:\n\n" + text,
			MaxTokens:   150,
			Temperature: suggestionTemp,
		})
		switch {
		case err == nil && strings.TrimSpace(reply) != "":
			return strings.TrimSpace(reply)
		case err != nil && !errors.Is(err, ai.ErrNoModel):
			log.Warn().Err(err).Str("path", path).Msg("summary failed, using fallback")
		}
	}
	return fallbackSummary(text, summaryLen)
}

// fallbackSummary keeps the first two sentences, capped at n characters.
func fallbackSummary(text string, n int) string {
	sentences := strings.Split(text, ".")
	if len(sentences) <= 2 {
		return truncate(text, n)
	}
	first := strings.TrimSpace(sentences[0]) + ". " + strings.TrimSpace(sentences[1]) + "."
	return capLen(first, n)
}
