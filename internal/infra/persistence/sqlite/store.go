// Package sqlite provides the legacy snapshot backend: per-class JSON buckets
// in a single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"lexgraph/internal/errors"
	"lexgraph/internal/infra/persistence/bucket"
	"lexgraph/internal/logger"
)

// Kind names this backend.
const Kind = "sqlite"

const defaultPath = "lexgraph.db"

var dialect = bucket.Dialect{
	Kind: Kind,
	Schema: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
	Select:   `SELECT bucket, payload FROM state ORDER BY bucket`,
	Upsert:   `INSERT INTO state(bucket, payload) VALUES(?, ?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
	Delete:   `DELETE FROM state WHERE bucket = ?`,
	Truncate: `DELETE FROM state`,
}

// Store is a bucket store on a SQLite file.
type Store struct {
	*bucket.Store
	path string
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string, log *zap.SugaredLogger) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrap(err, "create dirs")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// a single connection serializes writers on the file
	db.SetMaxOpenConns(1)
	if log == nil {
		log = logger.Named(Kind)
	}
	store, err := bucket.New(ctx, db, dialect, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debugw("sqlite store opened", logger.FieldPath, path)
	return &Store{Store: store, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }
