package config

import (
	"lexgraph/internal/blob"
	"lexgraph/internal/core"
	"lexgraph/internal/errors"
	"lexgraph/pkg/domain"
)

// Validate checks the configuration. Every failure is a
// domain.ErrConfiguration.
func (c *Config) Validate() error {
	var errs error
	if c.Project == "" {
		errs = errors.CombineErrors(errs, domain.ConfigurationErrorf("project is required"))
	}
	driver, err := core.ParseStorageDriver(c.Storage.Driver)
	if err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if driver == core.StoragePostgres && c.Storage.DSN == "" {
		errs = errors.CombineErrors(errs, errors.WithHint(
			domain.ConfigurationErrorf("storage.dsn is required for the postgres driver"),
			"set LEXGRAPH_STORAGE__DSN or --dsn",
		))
	}
	switch blob.Driver(c.Storage.Blob.Driver) {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Storage.Blob.Bucket == "" {
			errs = errors.CombineErrors(errs, domain.ConfigurationErrorf("storage.blob.bucket is required for the s3 blob driver"))
		}
	default:
		errs = errors.CombineErrors(errs, domain.ConfigurationErrorf("unknown blob driver %q", c.Storage.Blob.Driver))
	}
	if _, err := core.ParsePersistMode(c.Persist.Mode); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if c.Persist.IdleInterval < 0 {
		errs = errors.CombineErrors(errs, domain.ConfigurationErrorf("persist.idle_interval must not be negative"))
	}
	if c.MaxUndo < 0 {
		errs = errors.CombineErrors(errs, domain.ConfigurationErrorf("max_undo must not be negative"))
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = errors.CombineErrors(errs, domain.ConfigurationErrorf("unknown log level %q", c.Log.Level))
	}
	return errs
}
