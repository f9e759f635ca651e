// Package storage - Persists annotated prediction images.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/common"
)

// maxAttempts bounds how many names Save tries before giving up.
const maxAttempts = 100

var namePattern = regexp.MustCompile(`^pred_[0-9]+_[0-9]+\.jpg$`)

// SavedImage describes a written file.
type SavedImage struct {
	Filename string `json:"saved_filename"`
	Path     string `json:"saved_path"`
}

// Store writes images into one directory.
type Store struct {
	dir string
	seq atomic.Uint64
	now func() time.Time
}

// New creates dir if needed and returns a store writing into it.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("storage directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage directory")
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data as pred_<unixmilli>_<seq>.jpg. Files are created
// exclusively, so concurrent saves never overwrite each other.
//
// Arguments:
//   - ctx: Checked before each attempt.
//   - data: The encoded image.
//
// Returns:
//   - SavedImage: The name and path of the new file.
//   - error: An EncodingError if the file cannot be written.
func (s *Store) Save(ctx context.Context, data []byte) (SavedImage, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return SavedImage{}, common.NewEncodingError("save", err)
		}

		name := fmt.Sprintf("pred_%d_%d.jpg", s.now().UnixMilli(), s.seq.Add(1))
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return SavedImage{}, common.NewEncodingError("save", err)
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return SavedImage{}, common.NewEncodingError("save", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return SavedImage{}, common.NewEncodingError("save", err)
		}
		return SavedImage{Filename: name, Path: path}, nil
	}
	return SavedImage{}, common.NewEncodingError("save", errors.New("no free file name"))
}

// ValidName reports whether name is a file Save could have produced.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Path returns the path of a saved file.
//
// Returns:
//   - string: The path inside the store directory.
//   - error: os.ErrNotExist for names Save could not have produced or files
//     that are gone.
func (s *Store) Path(name string) (string, error) {
	if !ValidName(name) {
		return "", os.ErrNotExist
	}
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}
