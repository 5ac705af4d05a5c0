package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexgraph/internal/errors"
	"lexgraph/internal/testutil"
	"lexgraph/pkg/domain"
)

func TestImportAssignsFreshHandlesAndKeepsIdentities(t *testing.T) {
	records := testutil.LexiconRecords(4, 2)
	repo, rec := newRepo(t)

	stats, err := repo.Import(records)
	require.NoError(t, err)
	assert.Equal(t, len(records), stats.Entities)
	assert.Empty(t, rec.take(), "import is not recorded")
	assert.Equal(t, len(records), repo.Count())
	require.NoError(t, repo.Validate())

	for _, r := range records {
		h, ok := repo.Lookup(r.GUID)
		require.True(t, ok)
		info, err := repo.Info(h)
		require.NoError(t, err)
		assert.Equal(t, r.Class, info.Class)
		assert.Equal(t, r.OwnOrd, info.OwnOrd)
	}

	exported := repo.Export()
	domain.SortRecords(exported)
	want := append([]domain.EntityRecord(nil), records...)
	domain.SortRecords(want)
	assert.Equal(t, want, exported)
}

func TestImportDropsDanglingReferences(t *testing.T) {
	records := testutil.LexiconRecords(2, 0)
	records[2].Objects["Related"] = append(records[2].Objects["Related"], domain.NewGUID())
	records[2].Basics["Unknown"] = "x"

	repo, _ := newRepo(t)
	stats, err := repo.Import(records)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DroppedRefs)
	assert.Equal(t, 1, stats.UnknownFields)
	require.NoError(t, repo.Validate())
}

func TestImportRejectsDoubleOwnershipAndRollsBack(t *testing.T) {
	records := testutil.LexiconRecords(2, 1)
	// records: db, sense0, entry0, sense1, entry1
	records[4].Objects["Senses"] = append(records[4].Objects["Senses"], records[1].GUID)

	repo, _ := newRepo(t)
	existing := mustCreate(t, repo, testutil.LexEntry)
	_, err := repo.Import(records)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUsage), "got %v", err)
	assert.Contains(t, err.Error(), records[1].GUID.String())
	assert.Contains(t, err.Error(), records[2].GUID.String())
	assert.Contains(t, err.Error(), records[4].GUID.String())
	assert.Equal(t, 1, repo.Count())
	assert.True(t, repo.IsLive(existing))
	_, ok := repo.Lookup(records[0].GUID)
	assert.False(t, ok)
}

func TestImportRejectsUnknownClass(t *testing.T) {
	repo, _ := newRepo(t)
	_, err := repo.Import([]domain.EntityRecord{{GUID: domain.NewGUID(), Class: "Nope"}})
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Zero(t, repo.Count())
}

func TestCheckIntegrityAcceptsHealthyGraph(t *testing.T) {
	repo, _ := newRepo(t)
	entry, senses := entryWithSenses(t, repo, 3)
	require.NoError(t, repo.CheckIntegrity(append(senses, entry)...))
	require.NoError(t, repo.CheckIntegrity(domain.Handle(999)))
}

func TestCreateWithGUIDRejectsDuplicates(t *testing.T) {
	repo, _ := newRepo(t)
	id := domain.NewGUID()
	h, err := repo.CreateWithGUID(testutil.LexEntry, id)
	require.NoError(t, err)
	got, ok := repo.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, h, got)

	_, err = repo.CreateWithGUID(testutil.LexEntry, id)
	assert.True(t, errors.Is(err, domain.ErrUsage))
	_, err = repo.Create("Missing")
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
