// Package file implements snapshot.Backend on a single JSON file.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"undostore/internal/snapshot"
)

// Backend stores the snapshot at a fixed path. Writes go to a temp file in
// the same directory, are synced, then renamed over the target, so a crash
// leaves either the old or the new snapshot on disk.
type Backend struct {
	path string
}

func New(path string) *Backend {
	return &Backend{path: path}
}

func (b *Backend) Location() string {
	return b.path
}

func (b *Backend) Read() ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrNotExist, b.path)
	}
	return data, err
}

func (b *Backend) Write(data []byte) error {
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Close is a no-op; the file is only open during Read and Write.
func (b *Backend) Close() error {
	return nil
}
