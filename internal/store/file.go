package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists a document at a fixed path. Saves go through a
// temporary file in the same directory followed by a rename, so a crashed
// write never corrupts the previous document.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at the given path. The file may
// not exist yet; parent directories are created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the stored document.
func (f *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoDocument
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// Save atomically replaces the stored document.
func (f *FileStore) Save(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}
