package expense

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Storage defines the interface for uploaded receipt files
type Storage interface {
	// Save writes the upload under a unique name derived from filename and
	// returns its path
	Save(filename string, r io.Reader) (string, error)

	// Delete removes a stored upload
	Delete(path string) error
}

// LocalStorage implements the Storage interface using local filesystem.
// Uploads land directly in basePath, so its pending and processed
// subdirectories hold the staged copies.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes an upload to local storage
func (l *LocalStorage) Save(filename string, r io.Reader) (string, error) {
	path := filepath.Join(l.basePath, fmt.Sprintf("%s_%s", uuid.NewString()[:8], filepath.Base(filename)))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing file: %w", err)
	}
	return path, nil
}

// Delete removes an upload from local storage
func (l *LocalStorage) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
