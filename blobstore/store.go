// Package blobstore abstracts the object storage a backup manager mirrors
// its snapshots to. The local implementation covers the common case; the
// minio and s3 subpackages target S3-compatible object stores.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for storing and retrieving immutable blobs.
type Store interface {
	// Put writes a blob atomically, replacing any existing blob with the
	// same name. The blob must not be observable in a partial state.
	Put(ctx context.Context, name string, r io.Reader) error

	// Get opens a blob for reading. Returns ErrNotFound when absent.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns all blob names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
