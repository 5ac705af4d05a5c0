// Package blob re-exports core blob abstractions and selects a driver.
// It is the only package allowed to import the infra implementations.
package blob

import (
	"context"

	"lexgraph/internal/blob/core"
	"lexgraph/internal/errors"
	"lexgraph/internal/infra/blob/fs"
	memorystore "lexgraph/internal/infra/blob/memory"
	infraS3 "lexgraph/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 driver.
	S3Config = infraS3.Config
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound marks reads of a missing key.
	ErrNotFound = core.ErrNotFound
	// ErrExists marks a create-only Put on an existing key.
	ErrExists = core.ErrExists
)

// Config selects and configures a driver.
type Config struct {
	Driver Driver
	// Root is the directory of the fs driver.
	Root string
	S3   S3Config
}

// Open constructs the configured store; the empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, errors.Newf("unknown blob driver %q", cfg.Driver)
	}
}

// NewFilesystem constructs a filesystem-backed store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMockS3ForTests exposes the in-memory S3 transport fake for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
