// Package snapshot provides the full-snapshot backend: every save writes one
// complete JSON document through a blob store, optionally zstd compressed.
// The fs blob driver writes to a temporary file and renames it, so a reader
// sees either the previous or the new snapshot, never a torn one.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"lexgraph/internal/blob"
	"lexgraph/internal/errors"
	"lexgraph/internal/logger"
	"lexgraph/pkg/domain"
)

// Kind names this backend.
const Kind = "snapshot"

const (
	format        = "lexgraph-snapshot"
	formatVersion = 1
	objectName    = "snapshot.json"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Document is the serialized snapshot.
type Document struct {
	Format  string                `json:"format"`
	Version int                   `json:"version"`
	SavedAt time.Time             `json:"saved_at"`
	Seq     uint64                `json:"seq"`
	Records []domain.EntityRecord `json:"records"`
}

// Options configures a Store.
type Options struct {
	// Project prefixes the blob key.
	Project string
	// Compress enables zstd on write. Reads detect compression by magic.
	Compress bool
	Logger   *zap.SugaredLogger
}

// Store persists snapshots to a blob store.
type Store struct {
	blobs    blob.Store
	key      string
	compress bool
	log      *zap.SugaredLogger
	now      func() time.Time

	mu     sync.Mutex
	closed bool
}

var _ domain.Backend = (*Store)(nil)

// New returns a snapshot store writing through blobs.
func New(blobs blob.Store, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = logger.Named(Kind)
	}
	return &Store{
		blobs:    blobs,
		key:      path.Join(opts.Project, objectName),
		compress: opts.Compress,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Kind names the backend.
func (s *Store) Kind() string { return Kind }

// Key returns the blob key of the snapshot.
func (s *Store) Key() string { return s.key }

func (s *Store) open() error {
	if s.closed {
		return domain.DisposedStoreError(Kind)
	}
	return nil
}

// InitializeEmpty writes an empty snapshot.
func (s *Store) InitializeEmpty(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	return s.save(ctx, 0, nil)
}

// ReadAll decodes the snapshot and applies scope.
func (s *Store) ReadAll(ctx context.Context, scope domain.Scope) ([]domain.EntityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return nil, err
	}
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return scope.Filter(doc.Records), nil
}

// Persist rewrites the snapshot from the commit's full export.
func (s *Store) Persist(ctx context.Context, commit domain.Commit) error {
	if commit.Empty() {
		return nil
	}
	if commit.Snapshot == nil {
		return errors.AssertionFailedf("snapshot: commit %d carries no snapshot", commit.Seq)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	return s.save(ctx, commit.Seq, commit.Snapshot())
}

// WriteAll replaces the snapshot with records.
func (s *Store) WriteAll(ctx context.Context, records []domain.EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	return s.save(ctx, 0, records)
}

// Identities returns the identity of every stored record.
func (s *Store) Identities(ctx context.Context) ([]domain.GUID, error) {
	records, err := s.ReadAll(ctx, domain.ScopeAll)
	if err != nil {
		return nil, err
	}
	return domain.IdentitiesOf(records), nil
}

// Close disposes the store. The blob store is owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) save(ctx context.Context, seq uint64, records []domain.EntityRecord) error {
	sorted := append([]domain.EntityRecord(nil), records...)
	domain.SortRecords(sorted)
	if sorted == nil {
		sorted = []domain.EntityRecord{}
	}
	doc := Document{Format: format, Version: formatVersion, SavedAt: s.now(), Seq: seq, Records: sorted}
	payload, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	contentType := "application/json"
	if s.compress {
		if payload, err = compress(payload); err != nil {
			return err
		}
		contentType = "application/zstd"
	}
	opts := blob.PutOptions{ContentType: contentType, Overwrite: true}
	if _, err := s.blobs.Put(ctx, s.key, bytes.NewReader(payload), opts); err != nil {
		return errors.Wrapf(err, "write snapshot %s", s.key)
	}
	s.log.Debugw("snapshot written",
		logger.FieldPath, s.key,
		logger.FieldSeq, seq,
		logger.FieldCount, len(sorted),
	)
	return nil
}

func (s *Store) load(ctx context.Context) (Document, error) {
	_, rc, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, blob.ErrNotFound) {
		return Document{}, errors.WithHint(
			domain.UsageErrorf("snapshot %s is not initialized", s.key),
			"initialize the store or migrate into it first")
	}
	if err != nil {
		return Document{}, errors.Wrapf(err, "read snapshot %s", s.key)
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return Document{}, errors.Wrapf(err, "read snapshot %s", s.key)
	}
	if bytes.HasPrefix(payload, zstdMagic) {
		if payload, err = decompress(payload); err != nil {
			return Document{}, err
		}
	}
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Document{}, errors.Wrapf(err, "decode snapshot %s", s.key)
	}
	if doc.Format != format {
		return Document{}, errors.Newf("snapshot %s: unexpected format %q", s.key, doc.Format)
	}
	if doc.Version > formatVersion {
		return Document{}, errors.WithHint(
			errors.Newf("snapshot %s: version %d is newer than %d", s.key, doc.Version, formatVersion),
			"upgrade lexgraph to read this project")
	}
	return doc, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	if _, err := encoder.Write(data); err != nil {
		_ = encoder.Close()
		return nil, errors.Wrap(err, "compress snapshot")
	}
	if err := encoder.Close(); err != nil {
		return nil, errors.Wrap(err, "close zstd encoder")
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	defer decoder.Close()
	out, err := io.ReadAll(decoder)
	if err != nil {
		return nil, errors.Wrap(err, "decompress snapshot")
	}
	return out, nil
}
