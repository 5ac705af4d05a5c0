package domain

import "context"

// CommitOrigin tells a backend why a batch of deltas was sealed.
type CommitOrigin uint8

// Commit origins.
const (
	OriginCommit CommitOrigin = iota
	OriginUndo
	OriginRedo
	OriginLoad
)

func (o CommitOrigin) String() string {
	switch o {
	case OriginCommit:
		return "commit"
	case OriginUndo:
		return "undo"
	case OriginRedo:
		return "redo"
	case OriginLoad:
		return "load"
	default:
		return "unknown"
	}
}

// Commit is one durable unit handed to a backend. Touched holds the
// post-commit state of every live entity named by Deltas; Deleted lists the
// identities that ceased to exist. Snapshot exports the whole live graph for
// backends that rewrite everything on each save.
type Commit struct {
	Seq      uint64
	Label    string
	Origin   CommitOrigin
	Deltas   []Delta
	Touched  []EntityRecord
	Deleted  []GUID
	Snapshot func() []EntityRecord
}

// Empty reports whether the commit carries no changes.
func (c Commit) Empty() bool {
	return len(c.Deltas) == 0 && len(c.Touched) == 0 && len(c.Deleted) == 0
}

// Backend is the contract every durable store implements. Implementations
// must never leave durable state half written: either write-then-swap or
// append-only.
type Backend interface {
	// Kind names the implementation, matching the configured storage driver.
	Kind() string
	// InitializeEmpty creates a brand-new empty store, discarding any
	// previous content.
	InitializeEmpty(ctx context.Context) error
	// ReadAll returns every persisted live entity within scope.
	ReadAll(ctx context.Context, scope Scope) ([]EntityRecord, error)
	// Persist durably records one committed unit of work.
	Persist(ctx context.Context, commit Commit) error
	// WriteAll replaces the store content with records.
	WriteAll(ctx context.Context, records []EntityRecord) error
	// Identities returns the identity of every persisted live entity.
	Identities(ctx context.Context) ([]GUID, error)
	// Close releases resources. Later calls fail with ErrDisposedStore.
	Close() error
}

// IdentitiesOf extracts the identities of records.
func IdentitiesOf(records []EntityRecord) []GUID {
	out := make([]GUID, len(records))
	for i, r := range records {
		out[i] = r.GUID
	}
	return out
}

// DiffIdentities returns the identities present only in want (missing) and
// only in got (extra).
func DiffIdentities(want, got []GUID) (missing, extra []GUID) {
	seen := make(map[GUID]bool, len(got))
	for _, g := range got {
		seen[g] = true
	}
	expected := make(map[GUID]bool, len(want))
	for _, w := range want {
		expected[w] = true
		if !seen[w] {
			missing = append(missing, w)
		}
	}
	for _, g := range got {
		if !expected[g] {
			extra = append(extra, g)
		}
	}
	return missing, extra
}
