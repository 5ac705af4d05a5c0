// Package postgres provides the bucket snapshot backend on PostgreSQL. The
// layout matches the sqlite backend with payloads stored as JSONB.
package postgres

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"go.uber.org/zap"

	"lexgraph/internal/errors"
	"lexgraph/internal/infra/persistence/bucket"
	"lexgraph/internal/logger"
)

// Kind names this backend.
const Kind = "postgres"

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/lexgraph?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var dialect = bucket.Dialect{
	Kind: Kind,
	Schema: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	Select:   `SELECT bucket, payload FROM state ORDER BY bucket`,
	Upsert:   `INSERT INTO state (bucket, payload) VALUES ($1, $2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
	Delete:   `DELETE FROM state WHERE bucket = $1`,
	Truncate: `TRUNCATE state`,
}

// Store is a bucket store on PostgreSQL.
type Store struct {
	*bucket.Store
}

// Open connects using dsn (defaultDSN when empty) and ensures the state table.
func Open(ctx context.Context, dsn string, log *zap.SugaredLogger) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if log == nil {
		log = logger.Named(Kind)
	}
	store, err := bucket.New(ctx, db, dialect, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: store}, nil
}

// OverrideSQLOpen swaps the sql.Open hook for tests and returns a restore func.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}
