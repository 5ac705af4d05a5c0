package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexgraph/internal/errors"
	"lexgraph/internal/graph"
	"lexgraph/internal/testutil"
	"lexgraph/pkg/domain"
)

func TestReferenceShapes(t *testing.T) {
	repo, _ := newRepo(t)
	entry := mustCreate(t, repo, testutil.LexEntry)
	a := mustCreate(t, repo, testutil.LexEntry)
	b := mustCreate(t, repo, testutil.LexEntry)

	// Collections ignore duplicates.
	require.NoError(t, repo.AttachReference(entry, "Related", a, graph.Append))
	require.NoError(t, repo.AttachReference(entry, "Related", a, graph.Append))
	related, err := repo.Vector(entry, "Related")
	require.NoError(t, err)
	assert.Equal(t, []domain.Handle{a}, related)

	// Sequences keep duplicates and honour the index.
	require.NoError(t, repo.AttachReference(entry, "Components", a, graph.Append))
	require.NoError(t, repo.AttachReference(entry, "Components", b, 0))
	require.NoError(t, repo.AttachReference(entry, "Components", a, graph.Append))
	components, err := repo.Vector(entry, "Components")
	require.NoError(t, err)
	assert.Equal(t, []domain.Handle{b, a, a}, components)

	refs, err := repo.Referrers(a)
	require.NoError(t, err)
	assert.Equal(t, []graph.Referrer{
		{Source: entry, Field: "Components", Count: 2},
		{Source: entry, Field: "Related", Count: 1},
	}, refs)

	// Atomic references replace.
	db := mustCreate(t, repo, testutil.LexDb)
	ws1 := mustCreate(t, repo, testutil.WritingSystem)
	ws2 := mustCreate(t, repo, testutil.WritingSystem)
	require.NoError(t, repo.AttachReference(db, "DefaultWs", ws1, graph.Append))
	require.NoError(t, repo.AttachReference(db, "DefaultWs", ws2, graph.Append))
	got, err := repo.Atom(db, "DefaultWs")
	require.NoError(t, err)
	assert.Equal(t, ws2, got)
	assert.True(t, repo.IsLive(ws1), "dropping a reference never deletes the target")
	require.NoError(t, repo.Validate())
}

func TestDetachReferenceRemovesEveryOccurrence(t *testing.T) {
	repo, _ := newRepo(t)
	entry := mustCreate(t, repo, testutil.LexEntry)
	a := mustCreate(t, repo, testutil.LexEntry)
	b := mustCreate(t, repo, testutil.LexEntry)
	for _, h := range []domain.Handle{a, b, a} {
		require.NoError(t, repo.AttachReference(entry, "Components", h, graph.Append))
	}

	require.NoError(t, repo.DetachReference(entry, "Components", a))
	components, err := repo.Vector(entry, "Components")
	require.NoError(t, err)
	assert.Equal(t, []domain.Handle{b}, components)
	assert.True(t, repo.IsLive(a))
	refs, err := repo.Referrers(a)
	require.NoError(t, err)
	assert.Empty(t, refs)
	require.NoError(t, repo.Validate())
}

func TestReplaceReferenceRange(t *testing.T) {
	repo, _ := newRepo(t)
	entry := mustCreate(t, repo, testutil.LexEntry)
	a := mustCreate(t, repo, testutil.LexEntry)
	b := mustCreate(t, repo, testutil.LexEntry)
	c := mustCreate(t, repo, testutil.LexEntry)
	require.NoError(t, repo.ReplaceReferenceRange(entry, "Related", 0, 0, []domain.Handle{a, b}))

	require.NoError(t, repo.ReplaceReferenceRange(entry, "Related", 1, 1, []domain.Handle{a, c, c}))
	related, err := repo.Vector(entry, "Related")
	require.NoError(t, err)
	assert.Equal(t, []domain.Handle{a, c}, related)
	assert.True(t, repo.IsLive(b))

	require.NoError(t, repo.ReplaceReferenceRange(entry, "Components", 0, 0, []domain.Handle{c, c}))
	components, err := repo.Vector(entry, "Components")
	require.NoError(t, err)
	assert.Equal(t, []domain.Handle{c, c}, components)

	err = repo.ReplaceReferenceRange(entry, "Related", 1, 5, nil)
	assert.True(t, errors.Is(err, domain.ErrUsage))
	require.NoError(t, repo.Validate())
}

func TestReferenceTargetClassChecked(t *testing.T) {
	repo, _ := newRepo(t)
	entry := mustCreate(t, repo, testutil.LexEntry)
	text := mustCreate(t, repo, testutil.Text)

	err := repo.AttachReference(entry, "Related", text, graph.Append)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	err = repo.AttachReference(entry, "Related", domain.NoHandle, graph.Append)
	assert.True(t, errors.Is(err, domain.ErrUsage))
	err = repo.AttachReference(entry, "Senses", text, graph.Append)
	assert.True(t, errors.Is(err, domain.ErrUsage))
}

func TestRedeclareFieldGuardedWhenPopulated(t *testing.T) {
	repo, _ := newRepo(t)
	entry := mustCreate(t, repo, testutil.LexEntry)
	other := mustCreate(t, repo, testutil.LexEntry)
	require.NoError(t, repo.AttachReference(entry, "Components", other, graph.Append))

	err := repo.RedeclareField(testutil.LexEntry, "Components", domain.ReferenceCollection)
	assert.True(t, errors.Is(err, domain.ErrUsage))

	require.NoError(t, repo.DetachReference(entry, "Components", other))
	require.NoError(t, repo.RedeclareField(testutil.LexEntry, "Components", domain.ReferenceCollection))
	f, ok := repo.Schema().Field(testutil.LexEntry, "Components")
	require.True(t, ok)
	assert.Equal(t, domain.ReferenceCollection, f.Kind)
}

func TestSetBasicNormalizesAndRecords(t *testing.T) {
	repo, rec := newRepo(t)
	entry := mustCreate(t, repo, testutil.LexEntry)
	rec.take()

	require.NoError(t, repo.SetBasic(entry, "Homograph", 2))
	require.NoError(t, repo.SetBasic(entry, "Homograph", int64(2)))
	deltas := rec.take()
	require.Len(t, deltas, 1, "setting an equal value is a no-op")
	assert.Equal(t, domain.DeltaSet, deltas[0].Kind)
	assert.Equal(t, int64(2), deltas[0].NewValue)

	err := repo.SetBasic(entry, "Homograph", []string{"x"})
	assert.True(t, errors.Is(err, domain.ErrUsage))
	err = repo.SetBasic(entry, "Senses", "x")
	assert.True(t, errors.Is(err, domain.ErrUsage))
}
