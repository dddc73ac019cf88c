// Package extract turns PDF, DOCX and TXT files into ordered text sections.
package extract

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/seanblong/sortseek/pkg/models"
)

// Section is one ordered unit of extracted text. Ordinal is stable for a
// given position in the file: the page index for PDFs, the paragraph group
// index otherwise.
type Section struct {
	Ordinal int
	Page    int
	Text    string
}

// Extractor converts a file into ordered sections.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]Section, error)
}

// Supported reports whether the extension (with dot) can be extracted.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".txt":
		return true
	}
	return false
}

// FileExtractor reads files from the local filesystem.
type FileExtractor struct {
	// GroupSize is the soft character limit for a paragraph group.
	GroupSize int
}

const defaultGroupSize = 1500

func New() *FileExtractor {
	return &FileExtractor{GroupSize: defaultGroupSize}
}

// Extract dispatches on the file extension. Every PDF page yields a section,
// with empty Text when the page has none, so callers can count pages.
// Other formats never produce empty sections.
func (e *FileExtractor) Extract(ctx context.Context, path string) ([]Section, error) {
	p := models.ParsePath(path)
	if !Supported(p.Ext()) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, p.Ext())
	}
	if _, err := os.Stat(p.Native()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, path)
		}
		return nil, err
	}

	type result struct {
		sections []Section
		err      error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		switch p.Ext() {
		case ".pdf":
			r.sections, r.err = extractPDF(p.Native())
		case ".docx":
			r.sections, r.err = e.extractDOCX(p.Native())
		case ".txt":
			r.sections, r.err = e.extractText(p.Native())
		}
		done <- r
	}()

	// Parsers are not context-aware; abandon the goroutine on cancellation.
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("extract %s: %w", path, ctx.Err())
	case r := <-done:
		return r.sections, r.err
	}
}

func extractPDF(path string) (sections []Section, err error) {
	// ledongthuc/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			sections, err = nil, fmt.Errorf("%w: %v", models.ErrCorruptFile, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCorruptFile, err)
	}
	defer f.Close()

	n := reader.NumPage()
	for i := 1; i <= n; i++ {
		s := Section{Ordinal: i - 1, Page: i}
		if page := reader.Page(i); !page.V.IsNull() {
			text, err := page.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("%w: page %d: %v", models.ErrCorruptFile, i, err)
			}
			s.Text = normalizeSpace(text)
		}
		sections = append(sections, s)
	}
	return sections, nil
}

var (
	docxParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxRun       = regexp.MustCompile(`(?s)<w:t(?: [^>]*)?>(.*?)</w:t>`)
)

func (e *FileExtractor) extractDOCX(path string) ([]Section, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCorruptFile, err)
	}
	defer r.Close()

	var paragraphs []string
	for _, p := range docxParagraph.FindAllString(r.Editable().GetContent(), -1) {
		var b strings.Builder
		for _, m := range docxRun.FindAllStringSubmatch(p, -1) {
			b.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			paragraphs = append(paragraphs, s)
		}
	}
	return group(paragraphs, e.groupSize()), nil
}

func (e *FileExtractor) extractText(path string) ([]Section, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%w: not valid UTF-8 text", models.ErrCorruptFile)
	}
	text := strings.ReplaceAll(string(b), "\r\n", "\n")

	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if s := strings.TrimSpace(p); s != "" {
			paragraphs = append(paragraphs, s)
		}
	}
	return group(paragraphs, e.groupSize()), nil
}

func (e *FileExtractor) groupSize() int {
	if e.GroupSize <= 0 {
		return defaultGroupSize
	}
	return e.GroupSize
}

// group packs consecutive paragraphs into sections of roughly size characters.
// A paragraph longer than size becomes its own section.
func group(paragraphs []string, size int) []Section {
	var (
		out []Section
		cur []string
		n   int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, Section{Ordinal: len(out), Text: strings.Join(cur, "\n\n")})
		cur, n = nil, 0
	}
	for _, p := range paragraphs {
		if n > 0 && n+len(p) > size {
			flush()
		}
		cur = append(cur, p)
		n += len(p)
	}
	flush()
	return out
}

// Join concatenates the non-empty section texts into a document body.
func Join(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func normalizeSpace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
