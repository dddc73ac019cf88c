package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	ErrExtraction        = errors.New("extraction failed")
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrExtraction)
	ErrCorruptFile       = fmt.Errorf("%w: corrupt file", ErrExtraction)

	ErrVectorization      = errors.New("vectorization failed")
	ErrRateLimited        = fmt.Errorf("%w: rate limited", ErrVectorization)
	ErrServiceUnavailable = fmt.Errorf("%w: service unavailable", ErrVectorization)

	ErrConflict           = errors.New("destination already exists")
	ErrIndexInconsistency = errors.New("index inconsistency")
)
