package models

// Freshness is the verdict of the change tracker.
type Freshness int

const (
	Fresh Freshness = iota
	Stale
	New
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case New:
		return "new"
	default:
		return "unknown"
	}
}

// IndexStatus is the result of reconciling one file.
type IndexStatus string

const (
	StatusIndexed  IndexStatus = "indexed"
	StatusSkipped  IndexStatus = "skipped"
	StatusFailed   IndexStatus = "failed"
	StatusCanceled IndexStatus = "canceled"
)

// IndexOutcome describes a single reconciliation.
type IndexOutcome struct {
	Path       string      `json:"path"`
	DocumentID string      `json:"document_id,omitempty"`
	Status     IndexStatus `json:"status"`
	Chunks     int         `json:"chunks,omitempty"`
	Embedded   int         `json:"embedded,omitempty"`
	Err        error       `json:"-"`
}

// Reason returns the failure message, if any.
func (o IndexOutcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Failure is a per-file error collected during a batch.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// BatchResult aggregates a folder reconciliation.
type BatchResult struct {
	Indexed  int       `json:"indexed"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Canceled int       `json:"canceled"`
	Failures []Failure `json:"failures"`
}

// Add folds one outcome into the batch.
func (b *BatchResult) Add(o IndexOutcome) {
	switch o.Status {
	case StatusIndexed:
		b.Indexed++
	case StatusSkipped:
		b.Skipped++
	case StatusCanceled:
		b.Canceled++
	case StatusFailed:
		b.Failed++
		b.Failures = append(b.Failures, Failure{Path: o.Path, Reason: o.Reason()})
	}
}

// Inconsistency is reported by the maintenance sweep.
type Inconsistency struct {
	Kind       string `json:"kind"`
	DocumentID string `json:"document_id"`
	Path       string `json:"path,omitempty"`
	Keys       int    `json:"keys,omitempty"`
}

const (
	// OrphanedEntries: entries exist for a document id with no record.
	OrphanedEntries = "orphaned_entries"
	// MissingFile: a record is marked indexed but the file is gone.
	MissingFile = "missing_file"
)
