// Package bucket implements the snapshot-in-buckets layout shared by the
// SQL backends: one row per class holding the JSON array of that class's
// records. A save rewrites the buckets of every class the commit touched in
// a single transaction.
package bucket

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"lexgraph/internal/errors"
	"lexgraph/internal/logger"
	"lexgraph/pkg/domain"
)

// Dialect carries the statements of one SQL engine.
type Dialect struct {
	Kind     string
	Schema   string
	Select   string
	Upsert   string
	Delete   string
	Truncate string
}

// Store persists records to a bucket table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *zap.SugaredLogger
	mu      sync.Mutex
	closed  bool
}

// New ensures the bucket table exists.
func New(ctx context.Context, db *sql.DB, dialect Dialect, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = logger.Named(dialect.Kind)
	}
	if _, err := db.ExecContext(ctx, dialect.Schema); err != nil {
		return nil, errors.Wrap(err, "ensure state table")
	}
	return &Store{db: db, dialect: dialect, log: log}, nil
}

var _ domain.Backend = (*Store)(nil)

// Kind names the backend.
func (s *Store) Kind() string { return s.dialect.Kind }

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) open() error {
	if s.closed {
		return domain.DisposedStoreError(s.dialect.Kind)
	}
	return nil
}

// InitializeEmpty removes every bucket.
func (s *Store) InitializeEmpty(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.Truncate); err != nil {
		return errors.Wrap(err, "truncate state")
	}
	return nil
}

// ReadAll decodes every bucket and applies scope.
func (s *Store) ReadAll(ctx context.Context, scope domain.Scope) ([]domain.EntityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return nil, err
	}
	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return scope.Filter(records), nil
}

func (s *Store) load(ctx context.Context) ([]domain.EntityRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Select)
	if err != nil {
		return nil, errors.Wrap(err, "select state")
	}
	defer func() { _ = rows.Close() }()

	var records []domain.EntityRecord
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, errors.Wrap(err, "scan state")
		}
		if len(payload) == 0 {
			continue
		}
		var batch []domain.EntityRecord
		if err := json.Unmarshal(payload, &batch); err != nil {
			return nil, errors.Wrapf(err, "decode bucket %s", bucket)
		}
		records = append(records, batch...)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate state")
	}
	domain.SortRecords(records)
	return records, nil
}

// Persist rewrites the buckets of every class named by the commit.
func (s *Store) Persist(ctx context.Context, commit domain.Commit) error {
	if commit.Empty() {
		return nil
	}
	if commit.Snapshot == nil {
		return errors.AssertionFailedf("%s: commit %d carries no snapshot", s.dialect.Kind, commit.Seq)
	}
	classes := make(map[domain.ClassID]bool)
	for _, r := range commit.Touched {
		classes[r.Class] = true
	}
	for _, d := range commit.Deltas {
		if d.Class != "" {
			classes[d.Class] = true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	return s.write(ctx, commit.Snapshot(), classes, false)
}

// WriteAll replaces every bucket with records.
func (s *Store) WriteAll(ctx context.Context, records []domain.EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	return s.write(ctx, records, nil, true)
}

// write upserts the buckets in only (every bucket when only is nil) and
// deletes those left empty. replace truncates first.
func (s *Store) write(ctx context.Context, records []domain.EntityRecord, only map[domain.ClassID]bool, replace bool) (retErr error) {
	buckets := make(map[domain.ClassID][]domain.EntityRecord)
	for _, r := range records {
		if only == nil || only[r.Class] {
			buckets[r.Class] = append(buckets[r.Class], r)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if replace {
		if _, err := tx.ExecContext(ctx, s.dialect.Truncate); err != nil {
			return errors.Wrap(err, "truncate state")
		}
	}
	for class := range only {
		if _, ok := buckets[class]; !ok {
			if _, err := tx.ExecContext(ctx, s.dialect.Delete, string(class)); err != nil {
				return errors.Wrapf(err, "delete bucket %s", class)
			}
		}
	}
	names := make([]string, 0, len(buckets))
	for class := range buckets {
		names = append(names, string(class))
	}
	sort.Strings(names)
	for _, name := range names {
		batch := buckets[domain.ClassID(name)]
		domain.SortRecords(batch)
		data, err := json.Marshal(batch)
		if err != nil {
			return errors.Wrapf(err, "encode bucket %s", name)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.Upsert, name, data); err != nil {
			return errors.Wrapf(err, "upsert %s", name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	s.log.Debugw("buckets written", logger.FieldCount, len(names), logger.FieldBackend, s.dialect.Kind)
	return nil
}

// Identities returns the identity of every stored record.
func (s *Store) Identities(ctx context.Context) ([]domain.GUID, error) {
	records, err := s.ReadAll(ctx, domain.ScopeAll)
	if err != nil {
		return nil, err
	}
	return domain.IdentitiesOf(records), nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
