// Package ledger implements crash-safe JSON file persistence for the
// pipeline's state files.
package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// File persists a single value of type T as an indented JSON document.
// Saves go through a temp file and rename so a crash mid-write leaves the
// previous contents intact.
type File[T any] struct {
	path string
}

// NewFile returns a ledger backed by the given path. The file need not
// exist yet.
func NewFile[T any](path string) *File[T] {
	return &File[T]{path: path}
}

// Path returns the backing file path.
func (f *File[T]) Path() string {
	return f.path
}

// Load reads the persisted value. A missing file yields the zero value.
func (f *File[T]) Load() (T, error) {
	var v T
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return v, nil
	}
	if err != nil {
		return v, eris.Wrapf(err, "ledger: read %s", f.path)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, eris.Wrapf(err, "ledger: parse %s", f.path)
	}
	return v, nil
}

// Save writes the value, creating parent directories as needed.
func (f *File[T]) Save(v T) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return eris.Wrapf(err, "ledger: create dir for %s", f.path)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "ledger: marshal %s", f.path)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "ledger: write %s", tmp)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return eris.Wrapf(err, "ledger: rename %s", tmp)
	}
	return nil
}
