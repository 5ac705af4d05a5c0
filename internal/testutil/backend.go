package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexgraph/internal/errors"
	"lexgraph/pkg/domain"
)

// Canonical returns a sorted deep copy of records with empty maps dropped, so
// records read back from any backend compare equal to what was written.
func Canonical(records []domain.EntityRecord) []domain.EntityRecord {
	out := make([]domain.EntityRecord, len(records))
	for i, r := range records {
		c := r
		c.Basics = nil
		if len(r.Basics) > 0 {
			c.Basics = make(map[string]any, len(r.Basics))
			for k, v := range r.Basics {
				c.Basics[k] = v
			}
		}
		c.Objects = nil
		for k, v := range r.Objects {
			if len(v) == 0 {
				continue
			}
			if c.Objects == nil {
				c.Objects = make(map[string][]domain.GUID)
			}
			c.Objects[k] = append([]domain.GUID(nil), v...)
		}
		if !c.Owned() {
			c.OwnerField = ""
			c.OwnOrd = 0
		}
		out[i] = c
	}
	domain.SortRecords(out)
	return out
}

// SnapshotOf returns a Commit.Snapshot func over records.
func SnapshotOf(records []domain.EntityRecord) func() []domain.EntityRecord {
	return func() []domain.EntityRecord { return Canonical(records) }
}

// RunBackendSuite exercises the domain.Backend contract against the store
// returned by open. open is called once; the store must start empty or
// be emptied by InitializeEmpty.
func RunBackendSuite(t *testing.T, open func(t *testing.T) domain.Backend) {
	t.Helper()
	ctx := context.Background()
	backend := open(t)

	require.NoError(t, backend.InitializeEmpty(ctx))
	got, err := backend.ReadAll(ctx, domain.ScopeAll)
	require.NoError(t, err)
	assert.Empty(t, got)

	records := LexiconRecords(4, 2)
	require.NoError(t, backend.WriteAll(ctx, records))
	got, err = backend.ReadAll(ctx, domain.ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, Canonical(records), Canonical(got))
	ids, err := backend.Identities(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, domain.IdentitiesOf(records), ids)

	// rename the first entry and delete its last sense
	next := Canonical(records)
	var entry, sense domain.EntityRecord
	for _, r := range next {
		if r.Class == LexEntry && r.OwnOrd == 0 {
			entry = r
		}
	}
	senses := entry.Objects["Senses"]
	require.Len(t, senses, 2)
	for i, r := range next {
		switch r.GUID {
		case entry.GUID:
			next[i].Basics["Form"] = "renamed"
			next[i].Objects["Senses"] = senses[:1]
			entry = next[i]
		case senses[1]:
			sense = r
		}
	}
	remaining := next[:0]
	for _, r := range next {
		if r.GUID != sense.GUID {
			remaining = append(remaining, r)
		}
	}
	commit := domain.Commit{
		Seq:    1,
		Label:  "Rename",
		Origin: domain.OriginCommit,
		Deltas: []domain.Delta{
			{Kind: domain.DeltaSet, GUID: entry.GUID, Class: LexEntry, Field: "Form", OldValue: "form-0000", NewValue: "renamed"},
			{Kind: domain.DeltaDelete, GUID: sense.GUID, Class: LexSense},
		},
		Touched:  []domain.EntityRecord{entry},
		Deleted:  []domain.GUID{sense.GUID},
		Snapshot: SnapshotOf(remaining),
	}
	require.NoError(t, backend.Persist(ctx, commit))
	got, err = backend.ReadAll(ctx, domain.ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, Canonical(remaining), Canonical(got))

	require.NoError(t, backend.Persist(ctx, domain.Commit{Seq: 2}), "empty commit is a no-op")

	scoped, err := backend.ReadAll(ctx, domain.Scope{Name: "entries", Classes: []domain.ClassID{LexSense}})
	require.NoError(t, err)
	assert.Len(t, scoped, len(remaining), "senses pull in their owners and the root")

	require.NoError(t, backend.InitializeEmpty(ctx))
	got, err = backend.ReadAll(ctx, domain.ScopeAll)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, backend.Close())
	_, err = backend.ReadAll(ctx, domain.ScopeAll)
	assert.True(t, errors.Is(err, domain.ErrDisposedStore), "got %v", err)
}
