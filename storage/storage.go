package storage

import (
	"context"
	"io"
)

// Storage is the filesystem the pipeline stages read from and write to.
// Paths are slash separated and relative to the store's root.
type Storage interface {
	Write(ctx context.Context, filepath string, data io.Reader) error
	Read(ctx context.Context, filepath string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)

	// Create opens filepath for streaming writes. The object is only
	// guaranteed to be visible once the returned writer is closed.
	Create(ctx context.Context, filepath string) (io.WriteCloser, error)

	// Exists reports whether filepath is an object or has objects below it.
	Exists(ctx context.Context, filepath string) (bool, error)

	// Delete removes filepath and everything below it. Deleting a missing
	// path is not an error.
	Delete(ctx context.Context, filepath string) error
}
