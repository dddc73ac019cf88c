// Package tracker decides whether a file needs reindexing by comparing its
// current fingerprint with the stored one.
package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/sortseek/pkg/models"
)

// Records is the slice of the metadata store the tracker needs.
type Records interface {
	GetByPath(ctx context.Context, path string) (models.DocumentRecord, error)
	Touch(ctx context.Context, id string, size int64, modifiedAt time.Time) error
}

// Evaluation is the outcome of Evaluate. Current.Hash is set whenever the
// file contents were read, which is always the case for Stale and New.
type Evaluation struct {
	State   models.Freshness
	Current models.Fingerprint
	// Record is the stored record; zero when State is New.
	Record models.DocumentRecord
}

// Tracker evaluates files against the metadata store.
type Tracker struct {
	records Records
	// VerifyContent hashes even when size and mtime match, catching edits
	// that preserve both.
	VerifyContent bool
}

func New(records Records) *Tracker {
	return &Tracker{records: records}
}

// Evaluate returns Fresh, Stale or New for path. A missing file fails with
// models.ErrNotFound. With force set an existing record is always Stale.
func (t *Tracker) Evaluate(ctx context.Context, path string, force bool) (Evaluation, error) {
	p := models.ParsePath(path)
	info, err := os.Stat(p.Native())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Evaluation{}, fmt.Errorf("%w: %s", models.ErrNotFound, p)
		}
		return Evaluation{}, err
	}
	if info.IsDir() {
		return Evaluation{}, fmt.Errorf("%s is a directory", p)
	}
	cur := models.Fingerprint{Size: info.Size(), ModifiedAt: info.ModTime()}

	rec, err := t.records.GetByPath(ctx, p.String())
	switch {
	case errors.Is(err, models.ErrNotFound):
		if cur.Hash, err = HashFile(ctx, p.Native()); err != nil {
			return Evaluation{}, err
		}
		return Evaluation{State: models.New, Current: cur}, nil
	case err != nil:
		return Evaluation{}, err
	}

	ev := Evaluation{Current: cur, Record: rec}
	if !force && !t.VerifyContent && rec.Fingerprint().SameStat(cur) && rec.ContentHash != "" {
		ev.State = models.Fresh
		return ev, nil
	}

	if ev.Current.Hash, err = HashFile(ctx, p.Native()); err != nil {
		return Evaluation{}, err
	}
	switch {
	case force:
		ev.State = models.Stale
	case ev.Current.Hash != rec.ContentHash:
		ev.State = models.Stale
	default:
		ev.State = models.Fresh
		if !rec.Fingerprint().SameStat(cur) {
			// Metadata-only change such as a touch or a copy.
			if err := t.records.Touch(ctx, rec.ID, cur.Size, cur.ModifiedAt); err != nil {
				log.Warn().Err(err).Str("path", p.String()).Msg("failed to refresh fingerprint")
			}
		}
	}
	return ev, nil
}

// HashFile returns the hex SHA-256 of the file's raw bytes.
func HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", models.ErrNotFound, path)
		}
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, ctxReader{ctx: ctx, r: f}); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
