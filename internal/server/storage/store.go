package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotExist is returned when a named object has no bytes in storage.
	ErrNotExist = errors.New("object does not exist")
	// ErrTooLarge is returned by Save when the per-file ceiling is exceeded.
	ErrTooLarge = errors.New("file exceeds per-file size limit")
)

// Store defines the interface for content storage backends. Objects are
// addressed by their storage-safe name; Delete is idempotent so expiry
// sweeps and quota purges can race freely.
type Store interface {
	// EnsureReady prepares the backend (directory or bucket) for use.
	EnsureReady(ctx context.Context) error
	// Save streams data into storage under name, enforcing the per-file
	// size ceiling. On failure no partial object is left behind.
	Save(ctx context.Context, name string, data io.Reader) (int64, error)
	// Open returns a seekable reader over the object and its size.
	// Returns ErrNotExist when the bytes are missing.
	Open(ctx context.Context, name string) (io.ReadSeekCloser, int64, error)
	// Exists reports whether the object's bytes are present.
	Exists(ctx context.Context, name string) (bool, error)
	// Delete removes the object. Deleting an absent object is a no-op.
	Delete(ctx context.Context, name string) error
}
