// Package memory provides the non-durable backend. Records live in process
// and vanish with it; the store is useful as a migration source or target and
// in tests.
package memory

import (
	"context"
	"sync"

	"lexgraph/pkg/domain"
)

// Kind names this backend.
const Kind = "memory"

// Store keeps the latest record of every live entity.
type Store struct {
	mu      sync.RWMutex
	records map[domain.GUID]domain.EntityRecord
	closed  bool
}

var _ domain.Backend = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[domain.GUID]domain.EntityRecord)}
}

// Kind names the backend.
func (s *Store) Kind() string { return Kind }

func (s *Store) open() error {
	if s.closed {
		return domain.DisposedStoreError(Kind)
	}
	return nil
}

// InitializeEmpty drops every record.
func (s *Store) InitializeEmpty(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	s.records = make(map[domain.GUID]domain.EntityRecord)
	return nil
}

// ReadAll returns copies of the stored records within scope.
func (s *Store) ReadAll(_ context.Context, scope domain.Scope) ([]domain.EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.open(); err != nil {
		return nil, err
	}
	out := make([]domain.EntityRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, cloneRecord(r))
	}
	domain.SortRecords(out)
	return scope.Filter(out), nil
}

// Persist applies the touched and deleted records of commit.
func (s *Store) Persist(_ context.Context, commit domain.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	for _, g := range commit.Deleted {
		delete(s.records, g)
	}
	for _, r := range commit.Touched {
		s.records[r.GUID] = cloneRecord(r)
	}
	return nil
}

// WriteAll replaces the content with records.
func (s *Store) WriteAll(_ context.Context, records []domain.EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	s.records = make(map[domain.GUID]domain.EntityRecord, len(records))
	for _, r := range records {
		s.records[r.GUID] = cloneRecord(r)
	}
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

// Close disposes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}

func cloneRecord(r domain.EntityRecord) domain.EntityRecord {
	c := r
	if r.Basics != nil {
		c.Basics = make(map[string]any, len(r.Basics))
		for k, v := range r.Basics {
			c.Basics[k] = v
		}
	}
	if r.Objects != nil {
		c.Objects = make(map[string][]domain.GUID, len(r.Objects))
		for k, v := range r.Objects {
			c.Objects[k] = append([]domain.GUID(nil), v...)
		}
	}
	return c
}
