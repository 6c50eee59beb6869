package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystemStore stores uploaded files on the local filesystem.
type FileSystemStore struct {
	basePath string
	maxSize  int64
}

// NewFileSystemStore creates a new filesystem storage backend. maxSize is
// the per-file ceiling enforced during Save.
func NewFileSystemStore(basePath string, maxSize int64) *FileSystemStore {
	return &FileSystemStore{basePath: basePath, maxSize: maxSize}
}

// EnsureReady creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureReady(_ context.Context) error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data from a reader to a file under the storage root.
// Returns the number of bytes written.
func (fs *FileSystemStore) Save(_ context.Context, name string, data io.Reader) (int64, error) {
	filePath := fs.filePath(name)

	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	defer file.Close()

	// Read one byte past the ceiling so an oversized source is detected
	// without buffering it whole.
	n, err := io.Copy(file, io.LimitReader(data, fs.maxSize+1))
	if err != nil {
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	if n > fs.maxSize {
		os.Remove(filePath)
		return 0, ErrTooLarge
	}

	return n, nil
}

// Open returns a seekable reader over a stored file and its size.
func (fs *FileSystemStore) Open(_ context.Context, name string) (io.ReadSeekCloser, int64, error) {
	filePath := fs.filePath(name)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotExist
		}
		return nil, 0, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat file %s: %w", filePath, err)
	}

	return file, info.Size(), nil
}

// Exists reports whether a stored file is present on disk.
func (fs *FileSystemStore) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(fs.filePath(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat file: %w", err)
}

// Delete removes a stored file. Missing files are not an error.
func (fs *FileSystemStore) Delete(_ context.Context, name string) error {
	filePath := fs.filePath(name)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

func (fs *FileSystemStore) filePath(name string) string {
	// Names are minted internally, but never trust them as paths.
	return filepath.Join(fs.basePath, filepath.Base(name))
}
