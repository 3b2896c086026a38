// Package blob stores encrypted chapter blobs by key and serves random-access
// reads over them. Three backends are available: local filesystem (default),
// embedded BadgerDB, and S3-compatible object storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when no blob exists under the requested key.
var ErrNotFound = errors.New("blob not found")

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("blob store is closed")

// Store is a keyed blob store with range reads. Keys are opaque to the store;
// callers use "<fileID>/<chapterID>" so that a file's blobs share a prefix.
type Store interface {
	// Write stores a blob under key, replacing any previous value. The
	// write is atomic: readers never observe a partial blob.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the complete blob.
	Read(ctx context.Context, key string) ([]byte, error)

	// ReadRange returns length bytes starting at offset.
	ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Size returns the stored blob size in bytes.
	Size(ctx context.Context, key string) (int64, error)

	// Delete removes a single blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every blob whose key starts with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// HealthCheck verifies the backend is reachable and writable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// Config selects and parameterizes a blob backend.
type Config struct {
	// Backend is "filesystem", "database", or "s3".
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Root is the storage directory for the filesystem and database
	// backends. Overridable via the CHAPTER_STORAGE_ROOT environment
	// variable.
	Root string `mapstructure:"root" yaml:"root"`

	// S3 applies when Backend is "s3".
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// New creates the blob store named by the configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "filesystem":
		return NewFilesystemStore(cfg.Root)
	case "database":
		return NewBadgerStore(cfg.Root)
	case "s3":
		return NewS3StoreFromConfig(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported blob backend: %s", cfg.Backend)
	}
}

// readerAtRange is shared by backends that expose an io.ReaderAt.
func readerAtRange(r io.ReaderAt, size, offset, length int64) ([]byte, error) {
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("range offset %d out of bounds (size %d)", offset, size)
	}
	if offset+length > size {
		length = size - offset
	}
	buf := make([]byte, length)
	n, err := r.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
