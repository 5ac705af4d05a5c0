package core

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"lexgraph/internal/blob"
	"lexgraph/internal/errors"
	"lexgraph/internal/infra/persistence/journal"
	"lexgraph/internal/infra/persistence/memory"
	"lexgraph/internal/infra/persistence/postgres"
	"lexgraph/internal/infra/persistence/snapshot"
	"lexgraph/internal/infra/persistence/sqlite"
	"lexgraph/internal/logger"
	"lexgraph/pkg/domain"
)

// StorageDriver identifies a concrete backend implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-process only (tests / ephemeral)
	StorageSnapshot StorageDriver = "snapshot" // full JSON snapshot through a blob store
	StorageJournal  StorageDriver = "journal"  // HLC-stamped append-only sqlite journal
	StorageSQLite   StorageDriver = "sqlite"   // legacy per-class buckets in a sqlite file
	StoragePostgres StorageDriver = "postgres" // per-class buckets in PostgreSQL
)

func (d StorageDriver) String() string { return string(d) }

// StorageDrivers lists every supported driver.
func StorageDrivers() []StorageDriver {
	return []StorageDriver{StorageMemory, StorageSnapshot, StorageJournal, StorageSQLite, StoragePostgres}
}

// ParseStorageDriver validates a driver name. The empty name selects the
// snapshot backend.
func ParseStorageDriver(s string) (StorageDriver, error) {
	name := StorageDriver(strings.ToLower(strings.TrimSpace(s)))
	if name == "" {
		return StorageSnapshot, nil
	}
	for _, d := range StorageDrivers() {
		if d == name {
			return d, nil
		}
	}
	return "", domain.ConfigurationErrorf("unknown storage driver %q", s)
}

// Project names a data set and the directory holding its files.
type Project struct {
	Name string
	Path string
}

// StoreDescriptor says where and how a project is stored.
type StoreDescriptor struct {
	Project Project
	Driver  StorageDriver
	// DSN is the postgres connection string. For sqlite and journal it
	// overrides the file path derived from the project.
	DSN string
	// Blob configures the snapshot backend's blob store. An empty fs root
	// defaults to the project path.
	Blob     blob.Config
	Compress bool
	// NodeID names this replica in the journal backend.
	NodeID string
	// Schema lets the journal backend tell owning fields from references
	// when it rebuilds merged state.
	Schema *domain.Schema
}

// Location returns a human-readable description of where data lives.
func (d StoreDescriptor) Location() string {
	switch d.Driver {
	case StorageMemory:
		return "memory"
	case StoragePostgres:
		return d.DSN
	case StorageSQLite:
		return d.filePath(".db")
	case StorageJournal:
		return d.filePath(".journal")
	default:
		return string(d.blobConfig().Driver) + ":" + filepath.Join(d.blobConfig().Root, d.Project.Name)
	}
}

func (d StoreDescriptor) filePath(ext string) string {
	if d.DSN != "" {
		return d.DSN
	}
	name := d.Project.Name
	if name == "" {
		name = "lexgraph"
	}
	return filepath.Join(d.Project.Path, name+ext)
}

func (d StoreDescriptor) blobConfig() blob.Config {
	cfg := d.Blob
	if cfg.Driver == "" {
		cfg.Driver = blob.DriverFilesystem
	}
	if cfg.Driver == blob.DriverFilesystem && cfg.Root == "" {
		cfg.Root = d.Project.Path
		if cfg.Root == "" {
			cfg.Root = "."
		}
	}
	return cfg
}

// OpenBackend constructs the backend named by desc.
func OpenBackend(ctx context.Context, desc StoreDescriptor, log *zap.SugaredLogger) (domain.Backend, error) {
	log = logger.OrGlobal(log)
	driver, err := ParseStorageDriver(string(desc.Driver))
	if err != nil {
		return nil, err
	}
	desc.Driver = driver
	var backend domain.Backend
	switch driver {
	case StorageMemory:
		backend = memory.New()
	case StorageSnapshot:
		blobs, err := blob.Open(ctx, desc.blobConfig())
		if err != nil {
			return nil, errors.Wrap(err, "open snapshot blob store")
		}
		backend = snapshot.New(blobs, snapshot.Options{
			Project:  desc.Project.Name,
			Compress: desc.Compress,
			Logger:   log.With(logger.FieldComponent, snapshot.Kind),
		})
	case StorageJournal:
		backend, err = journal.Open(ctx, journal.Options{
			Path:   desc.filePath(".journal"),
			NodeID: desc.NodeID,
			Schema: desc.Schema,
			Logger: log.With(logger.FieldComponent, journal.Kind),
		})
	case StorageSQLite:
		backend, err = sqlite.Open(ctx, desc.filePath(".db"), log.With(logger.FieldComponent, sqlite.Kind))
	case StoragePostgres:
		backend, err = postgres.Open(ctx, desc.DSN, log.With(logger.FieldComponent, postgres.Kind))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s backend", driver)
	}
	log.Infow("backend opened", logger.FieldBackend, string(driver), logger.FieldPath, desc.Location())
	return backend, nil
}
