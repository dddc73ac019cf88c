package suggest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/seanblong/sortseek/pkg/models"
)

// linkFile is replaced in tests to exercise the rename fallback.
var linkFile = os.Link

func checkSource(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", models.ErrNotFound, path)
	case err != nil:
		return err
	case info.IsDir():
		return fmt.Errorf("%w: %s is a directory", ErrInvalidName, path)
	}
	return nil
}

func checkFree(path string) error {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", models.ErrConflict, path)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return err
	}
}

// sameFile reports whether dst, differing from src only in letter case, names
// the same file as src.
func sameFile(src, dst string) bool {
	if src == dst || !strings.EqualFold(src, dst) {
		return false
	}
	a, err := os.Stat(src)
	if err != nil {
		return false
	}
	b, err := os.Lstat(dst)
	if err != nil {
		return false
	}
	return os.SameFile(a, b)
}

// moveFile renames src to dst and never replaces an existing dst. A hard
// link claims dst atomically; where links are unsupported it falls back to
// a checked rename.
func moveFile(src, dst string) error {
	err := linkFile(src, dst)
	switch {
	case err == nil:
		if err := os.Remove(src); err != nil {
			_ = os.Remove(dst)
			return err
		}
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", models.ErrConflict, dst)
	}
	if err := checkFree(dst); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

// ensureDir creates dir and returns a func that removes the directories it
// created, deepest first, as long as they are still empty.
func ensureDir(dir string) (func(), error) {
	var created []string
	for d := dir; ; d = filepath.Dir(d) {
		_, err := os.Stat(d)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		created = append(created, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return func() {
		for _, d := range created {
			_ = os.Remove(d)
		}
	}, nil
}
