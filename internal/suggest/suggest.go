// Package suggest proposes names and folders for indexed documents and
// applies renames and moves without re-indexing them.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/sortseek/internal/ai"
	"github.com/seanblong/sortseek/internal/extract"
	"github.com/seanblong/sortseek/internal/pathlock"
	"github.com/seanblong/sortseek/internal/vectorindex"
	"github.com/seanblong/sortseek/pkg/models"
)

// ErrInvalidName is returned for names and folders that cannot be applied.
var ErrInvalidName = errors.New("invalid name")

// Records is the part of the metadata store the engine needs.
type Records interface {
	GetByPath(ctx context.Context, path string) (models.DocumentRecord, error)
	Relocate(ctx context.Context, id, path, filename string) error
}

// Engine derives suggestions from stored document content and applies them.
type Engine struct {
	Store      Records
	Index      vectorindex.Index
	Summarizer ai.Summarizer
	Extractor  extract.Extractor
	// Locks must be shared with the indexer so a path is never renamed
	// while it is being reconciled.
	Locks *pathlock.Locker
}

// New creates a suggestion engine. locks nil creates a private one.
func New(st Records, idx vectorindex.Index, s ai.Summarizer, ex extract.Extractor, locks *pathlock.Locker) *Engine {
	if locks == nil {
		locks = pathlock.New()
	}
	return &Engine{Store: st, Index: idx, Summarizer: s, Extractor: ex, Locks: locks}
}

const (
	promptContent  = 2000
	maxNameLen     = 50
	maxFolderLen   = 30
	defaultName    = "document"
	defaultFolder  = "Documents"
	suggestionTemp = 0.3
)

const nameSystem = "You are a helpful assistant that suggests descriptive filenames. " +
	"Return only the filename without extension, keeping it under 50 characters."

const folderSystem = "You are a helpful assistant that suggests folder names for document organization. " +
	"Return only the folder name, keeping it under 30 characters. " +
	"Use common folder names like 'Work', 'Personal', 'Projects', 'Documents', etc."

// SuggestName proposes a file name (without extension) for an indexed
// document.
func (e *Engine) SuggestName(ctx context.Context, path string) (string, error) {
	rec, err := e.Store.GetByPath(ctx, models.AbsPath(path).String())
	if err != nil {
		return "", err
	}
	prompt := ai.Prompt{
		System: nameSystem,
		User: "Based on the following document content, suggest a clear and descriptive filename (without extension):\n\n" +
			truncate(rec.Content, promptContent) + "\n\nCurrent filename: " + rec.Filename,
		MaxTokens:   50,
		Temperature: suggestionTemp,
	}
	if s := e.complete(ctx, prompt, rec.Path); s != "" {
		return capLen(s, maxNameLen), nil
	}
	return fallbackName(rec.Content, rec.Filename), nil
}

// SuggestFolder proposes a folder name for an indexed document.
func (e *Engine) SuggestFolder(ctx context.Context, path string) (string, error) {
	rec, err := e.Store.GetByPath(ctx, models.AbsPath(path).String())
	if err != nil {
		return "", err
	}
	prompt := ai.Prompt{
		System: folderSystem,
		User: "Based on the following document content, suggest an appropriate folder name for organizing this document:\n\n" +
			truncate(rec.Content, promptContent) + "\n\nCurrent location: " + models.ParsePath(rec.Path).Dir().String(),
		MaxTokens:   30,
		Temperature: suggestionTemp,
	}
	if s := e.complete(ctx, prompt, rec.Path); s != "" {
		return capLen(s, maxFolderLen), nil
	}
	return fallbackFolder(rec.Content), nil
}

// complete returns the cleaned model reply, or "" when the caller should
// use its heuristic.
func (e *Engine) complete(ctx context.Context, p ai.Prompt, path string) string {
	if e.Summarizer == nil {
		return ""
	}
	reply, err := e.Summarizer.Summarize(ctx, p)
	if err != nil {
		if !errors.Is(err, ai.ErrNoModel) {
			log.Warn().Err(err).Str("path", path).Msg("suggestion failed, using fallback")
		}
		return ""
	}
	return strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(reply))
}

func capLen(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// fallbackName uses the first line of reasonable length, reduced to
// characters that are safe in file names.
func fallbackName(content, current string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if n := len([]rune(line)); n <= 5 || n >= maxNameLen {
			continue
		}
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
				return r
			}
			return -1
		}, line)
		if clean = strings.TrimSpace(clean); clean != "" {
			return clean
		}
	}
	if name := strings.TrimSuffix(current, filepath.Ext(current)); name != "" {
		return name
	}
	return defaultName
}

var folderKeywords = []struct {
	folder   string
	keywords []string
}{
	{"work", []string{"work", "business", "office", "professional", "job", "career"}},
	{"personal", []string{"personal", "family", "home", "private"}},
	{"projects", []string{"project", "development", "code", "software", "app"}},
	{"documents", []string{"document", "report", "paper", "article"}},
	{"finance", []string{"finance", "money", "budget", "expense", "financial"}},
	{"health", []string{"health", "medical", "doctor", "hospital", "medicine"}},
	{"education", []string{"education", "school", "study", "learning", "course"}},
}

// fallbackFolder matches keyword groups in order; the first hit wins.
func fallbackFolder(content string) string {
	lower := strings.ToLower(content)
	for _, fk := range folderKeywords {
		for _, kw := range fk.keywords {
			if strings.Contains(lower, kw) {
				return strings.ToUpper(fk.folder[:1]) + fk.folder[1:]
			}
		}
	}
	return defaultFolder
}

// ApplyRename renames the file at path to newName in the same folder. The
// original extension is kept unless newName already ends with it.
func (e *Engine) ApplyRename(ctx context.Context, path, newName string) (models.SuggestionOutcome, error) {
	src := models.AbsPath(path)
	newName = strings.TrimSpace(newName)
	if newName == "" || newName == "." || newName == ".." || strings.ContainsAny(newName, `/\`) {
		return models.SuggestionOutcome{}, fmt.Errorf("%w: %q", ErrInvalidName, newName)
	}
	if ext := filepath.Ext(src.Base()); !strings.EqualFold(filepath.Ext(newName), ext) {
		newName += ext
	}
	return e.relocate(ctx, src, src.WithBase(newName), nil)
}

// ApplyMove moves the file at path into folder, keeping its name. Relative
// folders are resolved against the file's current folder, which is created
// if missing.
func (e *Engine) ApplyMove(ctx context.Context, path, folder string) (models.SuggestionOutcome, error) {
	src := models.AbsPath(path)
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return models.SuggestionOutcome{}, fmt.Errorf("%w: empty folder", ErrInvalidName)
	}
	dir := models.ParsePath(folder)
	if !dir.IsAbs() {
		dir = src.Dir().Join(folder)
	}
	return e.relocate(ctx, src, dir.Join(src.Base()), &dir)
}

// relocate moves src to dst and then points the metadata store and every
// index entry of the document at dst. Any failure restores the previous
// state, so the file is either fully moved or left where it was.
func (e *Engine) relocate(ctx context.Context, src, dst models.DocPath, mkdir *models.DocPath) (models.SuggestionOutcome, error) {
	out := models.SuggestionOutcome{OldPath: src.String(), NewPath: dst.String(), NewName: dst.Base()}
	if src.String() == dst.String() {
		out.Success = true
		return out, nil
	}

	unlock := e.Locks.Lock(src.String(), dst.String())
	defer unlock()

	if err := checkSource(src.Native()); err != nil {
		return out, err
	}
	// A case-only rename on a case-insensitive filesystem finds the source
	// itself at dst.
	move := moveFile
	if sameFile(src.Native(), dst.Native()) {
		move = os.Rename
	} else if err := checkFree(dst.Native()); err != nil {
		return out, err
	}

	rec, err := e.Store.GetByPath(ctx, src.String())
	tracked := err == nil
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return out, err
	}

	undoDir := func() {}
	if mkdir != nil {
		if undoDir, err = ensureDir(mkdir.Native()); err != nil {
			return out, fmt.Errorf("create folder: %w", err)
		}
	}
	if err := move(src.Native(), dst.Native()); err != nil {
		undoDir()
		return out, err
	}
	rollback := func(cause error) (models.SuggestionOutcome, error) {
		if err := move(dst.Native(), src.Native()); err != nil {
			log.Error().Err(err).Str("path", dst.String()).Msg("failed to restore file")
		} else {
			undoDir()
		}
		return out, cause
	}

	if tracked {
		if err := e.Store.Relocate(ctx, rec.ID, dst.String(), dst.Base()); err != nil {
			return rollback(fmt.Errorf("update record: %w", err))
		}
		if err := e.retarget(ctx, rec.ID, dst.String()); err != nil {
			if rerr := e.Store.Relocate(ctx, rec.ID, rec.Path, rec.Filename); rerr != nil {
				log.Error().Err(rerr).Str("id", rec.ID).Msg("failed to restore record path")
			}
			if rerr := e.retarget(ctx, rec.ID, rec.Path); rerr != nil {
				log.Error().Err(rerr).Str("id", rec.ID).Msg("failed to restore entry paths")
			}
			return rollback(fmt.Errorf("update entries: %w", err))
		}
	}

	out.Success = true
	log.Info().Str("from", out.OldPath).Str("to", out.NewPath).Bool("tracked", tracked).Msg("relocated document")
	return out, nil
}

func (e *Engine) retarget(ctx context.Context, docID, path string) error {
	entries, err := e.Index.Entries(ctx, docID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	keys := make([]string, len(entries))
	for i, en := range entries {
		keys[i] = en.Key
	}
	return e.Index.SetSourcePath(ctx, keys, path)
}
