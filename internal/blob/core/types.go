// Package core defines the blob storage abstraction used by the snapshot
// backend. Concrete drivers live under internal/infra/blob.
package core

import (
	"context"
	"io"
	"time"

	"lexgraph/internal/errors"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs"
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3"
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // User metadata (small, flat key-value)
	// Overwrite replaces an existing blob. Without it Put fails on an
	// existing key.
	Overwrite bool
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store provides a thin S3-like abstraction.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	// ErrNotFound marks reads of a missing key.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrExists marks a create-only Put on an existing key.
	ErrExists = errors.New("blobstore: already exists")
)

// NotFound returns an error for key marked with ErrNotFound.
func NotFound(key string, cause error) error {
	if cause == nil {
		cause = errors.Newf("blob %s not found", key)
	}
	return errors.Mark(errors.Wrapf(cause, "blob %s", key), ErrNotFound)
}

// Exists returns an error for key marked with ErrExists.
func Exists(key string) error {
	return errors.Mark(errors.Newf("blob %s already exists", key), ErrExists)
}
