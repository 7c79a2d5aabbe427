package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage is the object store behind the archive: batch files go in with
// Write, the catalog reads them back, and retention drops whole prefixes.
type Storage interface {
	// Write stores the reader's content under key. size is the expected
	// content length, -1 when unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read opens the object stored under key. The caller closes the
	// returned stream.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// GetURL returns a URL for fetching the object: a path for local
	// storage, a presigned link for S3 valid for the given duration.
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
