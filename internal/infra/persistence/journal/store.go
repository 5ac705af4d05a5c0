// Package journal provides the replica-sync backend: an append-only SQLite
// table holding one entry per committed field change, each stamped with a
// hybrid logical clock. Reads rebuild the graph by taking the latest entry of
// every (entity, field) pair, so journals merged in any order converge.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"lexgraph/internal/errors"
	"lexgraph/internal/logger"
	"lexgraph/pkg/domain"
	"lexgraph/pkg/hlc"
)

// Kind names this backend.
const Kind = "journal"

const metaNode = "node"

// Options configures Open.
type Options struct {
	// Path of the SQLite file.
	Path string
	// NodeID names this replica. When empty the journal reuses the node it
	// recorded earlier, or records a fresh one.
	NodeID string
	// WallClock overrides the millisecond wall clock used for stamping.
	WallClock func() int64
	// Schema decides which object fields own their members when the
	// journal is rebuilt. Without it ownership is inferred from $owner
	// claims alone.
	Schema *domain.Schema
	Logger *zap.SugaredLogger
}

// Store is a journal file.
type Store struct {
	db    *sql.DB
	path  string
	clock  *hlc.Source
	schema *domain.Schema
	log    *zap.SugaredLogger

	mu      sync.Mutex
	closed  bool
	lastSeq uint64
	state   state
}

var _ domain.Backend = (*Store)(nil)

// Open opens or creates the journal at opts.Path and replays it.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, domain.UsageErrorf("journal path required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
		return nil, errors.Wrap(err, "create dirs")
	}
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	db.SetMaxOpenConns(1)
	s, err := open(ctx, db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func open(ctx context.Context, db *sql.DB, opts Options) (*Store, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	node, err := resolveNode(ctx, db, opts.NodeID)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named(Kind)
	}
	s := &Store{
		db:     db,
		path:   opts.Path,
		clock:  hlc.NewSourceWithWallClock(node, opts.WallClock),
		schema: opts.Schema,
		log:    log.With(logger.FieldNode, node),
		state:  make(state),
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	s.log.Debugw("journal opened",
		logger.FieldPath, opts.Path,
		logger.FieldSeq, s.lastSeq,
		logger.FieldClock, s.clock.Current().String(),
	)
	return s, nil
}

func resolveNode(ctx context.Context, db *sql.DB, configured string) (string, error) {
	var stored string
	err := db.QueryRowContext(ctx, `SELECT value FROM journal_meta WHERE key = ?`, metaNode).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrap(err, "read journal node")
	}
	node := configured
	if node == "" {
		node = stored
	}
	if node == "" {
		node = uuid.NewString()
	}
	if node != stored {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO journal_meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
			metaNode, node); err != nil {
			return "", errors.Wrap(err, "record journal node")
		}
	}
	return node, nil
}

// Kind names the backend.
func (s *Store) Kind() string { return Kind }

// Node returns the replica identifier stamped on local entries.
func (s *Store) Node() string { return s.clock.Node() }

// Clock returns the last clock issued or observed.
func (s *Store) Clock() hlc.Clock { return s.clock.Current() }

// Path returns the journal file location.
func (s *Store) Path() string { return s.path }

func (s *Store) open() error {
	if s.closed {
		return domain.DisposedStoreError(Kind)
	}
	return nil
}

// refresh folds entries appended since the last refresh into the state,
// including entries appended by other processes.
func (s *Store) refresh(ctx context.Context) error {
	entries, err := s.since(ctx, s.lastSeq)
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.state.apply(e)
		s.clock.Restore(e.Clock)
		s.lastSeq = e.Seq
	}
	return nil
}

func (s *Store) since(ctx context.Context, seq uint64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, guid, field, value, clock FROM journal WHERE seq > ? ORDER BY seq`, int64(seq))
	if err != nil {
		return nil, errors.Wrap(err, "select journal")
	}
	defer func() { _ = rows.Close() }()
	var out []Entry
	for rows.Next() {
		var (
			e                  Entry
			guid, clock, value string
			rawSeq             int64
		)
		if err := rows.Scan(&rawSeq, &guid, &e.Field, &value, &clock); err != nil {
			return nil, errors.Wrap(err, "scan journal")
		}
		if e.GUID, err = domain.ParseGUID(guid); err != nil {
			return nil, errors.Wrapf(err, "journal entry %d", rawSeq)
		}
		if e.Clock, err = hlc.Parse(clock); err != nil {
			return nil, errors.Wrapf(err, "journal entry %d", rawSeq)
		}
		e.Seq = uint64(rawSeq)
		e.Value = json.RawMessage(value)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate journal")
	}
	return out, nil
}

// appendEntries inserts entries in one transaction; entries already present
// (same entity, field and clock) are skipped. It returns the number inserted.
func (s *Store) appendEntries(ctx context.Context, entries []Entry) (retN int, retErr error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO journal(guid, field, value, clock, node, physical, counter) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.Wrap(err, "prepare append")
	}
	defer func() { _ = stmt.Close() }()
	inserted := 0
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx, e.GUID.String(), e.Field, string(e.Value),
			e.Clock.String(), e.Clock.Node, e.Clock.Physical, int64(e.Clock.Counter))
		if err != nil {
			return 0, errors.Wrapf(err, "append %s.%s", e.GUID, e.Field)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return inserted, s.refresh(ctx)
}

// diff returns the entries that bring the stored state to records and
// tombstones deleted. Unchanged fields produce nothing.
func (s *Store) diff(records []domain.EntityRecord, deleted []domain.GUID) ([]Entry, error) {
	var out []Entry
	stamp := func(g domain.GUID, field string, value json.RawMessage) {
		out = append(out, Entry{GUID: g, Field: field, Value: value, Clock: s.clock.Tick()})
	}
	for _, r := range records {
		want, err := encodeRecord(r)
		if err != nil {
			return nil, err
		}
		cells := s.state[r.GUID]
		fields := make([]string, 0, len(want)+len(cells))
		for f := range want {
			fields = append(fields, f)
		}
		for f := range cells {
			if _, ok := want[f]; !ok {
				fields = append(fields, f)
			}
		}
		sort.Strings(fields)
		for _, f := range fields {
			value, ok := want[f]
			if !ok {
				value = nullValue
			}
			if !sameValue(value, cells[f].value) {
				stamp(r.GUID, f, value)
			}
		}
	}
	for _, g := range deleted {
		if s.state.live(g) {
			stamp(g, FieldDeleted, trueValue)
		}
	}
	return out, nil
}

// InitializeEmpty discards every entry. The clock and node survive.
func (s *Store) InitializeEmpty(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM journal`); err != nil {
		return errors.Wrap(err, "truncate journal")
	}
	s.state = make(state)
	return nil
}

// ReadAll rebuilds the live records and applies scope.
func (s *Store) ReadAll(ctx context.Context, scope domain.Scope) ([]domain.EntityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return nil, err
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	records, err := s.state.rebuild(s.schema)
	if err != nil {
		return nil, err
	}
	return scope.Filter(records), nil
}

// Persist appends one entry per changed field of the commit.
func (s *Store) Persist(ctx context.Context, commit domain.Commit) error {
	if commit.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	if err := s.refresh(ctx); err != nil {
		return err
	}
	entries, err := s.diff(commit.Touched, commit.Deleted)
	if err != nil {
		return err
	}
	n, err := s.appendEntries(ctx, entries)
	if err != nil {
		return err
	}
	s.log.Debugw("commit journaled",
		logger.FieldSeq, commit.Seq,
		logger.FieldOperation, commit.Origin.String(),
		logger.FieldCount, n,
	)
	return nil
}

// WriteAll appends the entries that turn the journal state into records,
// tombstoning every live entity records does not name.
func (s *Store) WriteAll(ctx context.Context, records []domain.EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	if err := s.refresh(ctx); err != nil {
		return err
	}
	keep := make(map[domain.GUID]bool, len(records))
	for _, r := range records {
		keep[r.GUID] = true
	}
	var gone []domain.GUID
	for g := range s.state {
		if !keep[g] && s.state.live(g) {
			gone = append(gone, g)
		}
	}
	domain.SortGUIDs(gone)
	entries, err := s.diff(records, gone)
	if err != nil {
		return err
	}
	_, err = s.appendEntries(ctx, entries)
	return err
}

// Identities returns the identity of every live entity.
func (s *Store) Identities(ctx context.Context) ([]domain.GUID, error) {
	records, err := s.ReadAll(ctx, domain.ScopeAll)
	if err != nil {
		return nil, err
	}
	return domain.IdentitiesOf(records), nil
}

// Since returns the entries appended after local sequence seq, in order.
func (s *Store) Since(ctx context.Context, seq uint64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return nil, err
	}
	return s.since(ctx, seq)
}

// Merge appends remote entries not yet present and advances the clock past
// every remote stamp. Merging is commutative and idempotent. It returns the
// number of entries inserted.
func (s *Store) Merge(ctx context.Context, remote []Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return 0, err
	}
	incoming := make([]Entry, 0, len(remote))
	for _, e := range remote {
		if e.Field == "" || e.Clock.IsZero() {
			return 0, domain.UsageErrorf("merge: entry %d lacks a field or clock", e.Seq)
		}
		if isNull(e.Value) {
			e.Value = nullValue
		}
		s.clock.Observe(e.Clock)
		incoming = append(incoming, e)
	}
	n, err := s.appendEntries(ctx, incoming)
	if err != nil {
		return 0, err
	}
	s.log.Infow("journal merged",
		logger.FieldCount, n,
		"received", len(remote),
		logger.FieldClock, s.clock.Current().String(),
	)
	return n, nil
}

// Digest hashes the winning cell of every (entity, field) pair. Journals
// that hold the same entries produce the same digest whatever order the
// entries arrived in.
func (s *Store) Digest(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return "", err
	}
	if err := s.refresh(ctx); err != nil {
		return "", err
	}
	ids := make([]domain.GUID, 0, len(s.state))
	for g := range s.state {
		ids = append(ids, g)
	}
	domain.SortGUIDs(ids)
	h := sha256.New()
	for _, g := range ids {
		cells := s.state[g]
		fields := make([]string, 0, len(cells))
		for f := range cells {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			c := cells[f]
			_, _ = h.Write([]byte(g.String()))
			_, _ = h.Write([]byte{0})
			_, _ = h.Write([]byte(f))
			_, _ = h.Write([]byte{0})
			_, _ = h.Write([]byte(c.clock.String()))
			_, _ = h.Write([]byte{0})
			_, _ = h.Write(c.value)
			_, _ = h.Write([]byte{'\n'})
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
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
