// Package config loads lexgraph settings from defaults, lexgraph.yaml,
// LEXGRAPH_ environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"time"

	"lexgraph/internal/blob"
	"lexgraph/internal/core"
	"lexgraph/pkg/domain"
)

// Config is the complete runtime configuration.
type Config struct {
	// Project names the data set; it prefixes every storage file and key.
	Project string `koanf:"project"`
	// Path is the project directory. Relative storage paths resolve against it.
	Path    string        `koanf:"path"`
	Storage StorageConfig `koanf:"storage"`
	// NodeID names this replica in the journal backend. Empty reuses the
	// journal's stored identity or generates one.
	NodeID  string        `koanf:"node_id"`
	Persist PersistConfig `koanf:"persist"`
	MaxUndo int           `koanf:"max_undo"`
	Log     LogConfig     `koanf:"log"`
	// Scope lists the classes to load. Empty loads everything.
	Scope []string `koanf:"scope"`
}

// StorageConfig selects the backend.
type StorageConfig struct {
	Driver   string     `koanf:"driver"`
	DSN      string     `koanf:"dsn"`
	Compress bool       `koanf:"compress"`
	Blob     BlobConfig `koanf:"blob"`
}

// BlobConfig configures the blob store beneath the snapshot backend.
type BlobConfig struct {
	Driver    string `koanf:"driver"`
	Root      string `koanf:"root"`
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	Endpoint  string `koanf:"endpoint"`
	PathStyle bool   `koanf:"path_style"`
}

// PersistConfig controls when commits reach the backend.
type PersistConfig struct {
	Mode         string        `koanf:"mode"`
	IdleInterval time.Duration `koanf:"idle_interval"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	JSON  bool   `koanf:"json"`
	Level string `koanf:"level"`
}

// Descriptor converts the storage settings into a core.StoreDescriptor.
func (c *Config) Descriptor() (core.StoreDescriptor, error) {
	driver, err := core.ParseStorageDriver(c.Storage.Driver)
	if err != nil {
		return core.StoreDescriptor{}, err
	}
	return core.StoreDescriptor{
		Project:  core.Project{Name: c.Project, Path: c.Path},
		Driver:   driver,
		DSN:      c.Storage.DSN,
		Compress: c.Storage.Compress,
		NodeID:   c.NodeID,
		Blob: blob.Config{
			Driver: blob.Driver(c.Storage.Blob.Driver),
			Root:   c.Storage.Blob.Root,
			S3: blob.S3Config{
				Bucket:    c.Storage.Blob.Bucket,
				Region:    c.Storage.Blob.Region,
				Endpoint:  c.Storage.Blob.Endpoint,
				PathStyle: c.Storage.Blob.PathStyle,
			},
		},
	}, nil
}

// SessionOptions returns the session options the configuration implies.
func (c *Config) SessionOptions() ([]core.Option, error) {
	mode, err := core.ParsePersistMode(c.Persist.Mode)
	if err != nil {
		return nil, err
	}
	return []core.Option{
		core.WithPersistMode(mode),
		core.WithIdleInterval(c.Persist.IdleInterval),
		core.WithMaxUndo(c.MaxUndo),
	}, nil
}

// LoadScope returns the configured load scope.
func (c *Config) LoadScope() domain.Scope {
	if len(c.Scope) == 0 {
		return domain.ScopeAll
	}
	classes := make([]domain.ClassID, len(c.Scope))
	for i, name := range c.Scope {
		classes[i] = domain.ClassID(name)
	}
	return domain.Scope{Name: "configured", Classes: classes}
}
