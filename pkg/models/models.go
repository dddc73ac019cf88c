package models

import "time"

// DocumentRecord is one imported file.
type DocumentRecord struct {
	ID            string    `json:"id"`
	Path          string    `json:"path"`
	Filename      string    `json:"filename"`
	FileType      string    `json:"file_type"`
	Size          int64     `json:"size"`
	ModifiedAt    time.Time `json:"modified_at"`
	ContentHash   string    `json:"content_hash"`
	ImportedAt    time.Time `json:"imported_at"`
	LastIndexedAt time.Time `json:"last_indexed_at,omitempty"`
	Indexed       bool      `json:"is_indexed"`
	Content       string    `json:"content,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	ChunkSpan     int       `json:"chunk_span"`
}

// Fingerprint returns the stored (size, mtime, hash) triple.
func (d DocumentRecord) Fingerprint() Fingerprint {
	return Fingerprint{Size: d.Size, ModifiedAt: d.ModifiedAt, Hash: d.ContentHash}
}

// Fingerprint is the triple used to detect file changes.
type Fingerprint struct {
	Size       int64
	ModifiedAt time.Time
	Hash       string
}

// SameStat reports whether size and modification time match. Times are
// compared at microsecond precision since both stores truncate to it.
func (f Fingerprint) SameStat(o Fingerprint) bool {
	return f.Size == o.Size &&
		f.ModifiedAt.Truncate(time.Microsecond).Equal(o.ModifiedAt.Truncate(time.Microsecond))
}

// Chunk is a sub-unit of a document's text.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Page       int    `json:"page,omitempty"`
	Content    string `json:"content"`
	Key        string `json:"key"`
}

// EntryMetadata is the metadata stored with each EmbeddingEntry.
type EntryMetadata struct {
	DocumentID  string    `json:"document_id"`
	FileType    string    `json:"file_type"`
	ImportedAt  time.Time `json:"imported_at"`
	SourcePath  string    `json:"source_path"`
	Ordinal     int       `json:"ordinal"`
	Page        int       `json:"page,omitempty"`
	ContentHash string    `json:"content_hash"`
}

// EmbeddingEntry is a vector-index record for one chunk.
type EmbeddingEntry struct {
	Key      string        `json:"key"`
	Vector   []float32     `json:"-"`
	Content  string        `json:"content"`
	Metadata EntryMetadata `json:"metadata"`
}

// SearchResult is an ephemeral, ranked hit.
type SearchResult struct {
	Key      string        `json:"key"`
	Filename string        `json:"filename"`
	Path     string        `json:"path"`
	Ordinal  int           `json:"ordinal"`
	Page     int           `json:"page,omitempty"`
	Snippet  string        `json:"snippet"`
	Score    float64       `json:"score"`
	Metadata EntryMetadata `json:"metadata"`
}

// SearchResponse separates the best match from the secondary results. An
// empty response is the "no strong matches" state.
type SearchResponse struct {
	Query           string         `json:"query"`
	Best            *SearchResult  `json:"best,omitempty"`
	Secondary       []SearchResult `json:"secondary"`
	NoStrongMatches bool           `json:"no_strong_matches"`
}

// Results returns best followed by secondary results.
func (r SearchResponse) Results() []SearchResult {
	if r.Best == nil {
		return nil
	}
	return append([]SearchResult{*r.Best}, r.Secondary...)
}

// Filters is an optional conjunction applied to a search.
type Filters struct {
	FileType     string     `json:"file_type,omitempty"`
	Folder       string     `json:"folder,omitempty"`
	ImportedFrom *time.Time `json:"imported_from,omitempty"`
	ImportedTo   *time.Time `json:"imported_to,omitempty"`
}

// Match reports whether the metadata satisfies every set filter. Time bounds
// are inclusive.
func (f Filters) Match(m EntryMetadata) bool {
	if f.FileType != "" && m.FileType != f.FileType {
		return false
	}
	if f.Folder != "" && !ParsePath(m.SourcePath).HasPrefix(ParsePath(f.Folder)) {
		return false
	}
	if f.ImportedFrom != nil && m.ImportedAt.Before(*f.ImportedFrom) {
		return false
	}
	if f.ImportedTo != nil && m.ImportedAt.After(*f.ImportedTo) {
		return false
	}
	return true
}

// SuggestionOutcome is returned by rename and move operations.
type SuggestionOutcome struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	NewName string `json:"new_name"`
	Success bool   `json:"success"`
}

// PageSummary is a summary of one page or section of a document.
type PageSummary struct {
	Page    int    `json:"page"`
	Summary string `json:"summary"`
}

// SearchHistoryEntry records one executed query.
type SearchHistoryEntry struct {
	Query     string    `json:"query"`
	Results   int       `json:"results_count"`
	CreatedAt time.Time `json:"created_at"`
}
