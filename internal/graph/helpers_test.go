package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lexgraph/internal/graph"
	"lexgraph/internal/testutil"
	"lexgraph/pkg/domain"
)

// logRecorder keeps every delta so tests can replay inverses.
type logRecorder struct {
	deltas   []domain.Delta
	readOnly bool
}

func (l *logRecorder) CheckWritable() error {
	if l.readOnly {
		return domain.ReadOnlyErrorf("recorder closed")
	}
	return nil
}

func (l *logRecorder) Record(d domain.Delta) { l.deltas = append(l.deltas, d) }

func (l *logRecorder) take() []domain.Delta {
	out := l.deltas
	l.deltas = nil
	return out
}

func newRepo(t *testing.T) (*graph.Repository, *logRecorder) {
	t.Helper()
	rec := &logRecorder{}
	return graph.New(testutil.LexiconSchema(), graph.WithRecorder(rec)), rec
}

func mustCreate(t *testing.T, repo *graph.Repository, class domain.ClassID) domain.Handle {
	t.Helper()
	h, err := repo.Create(class)
	require.NoError(t, err)
	return h
}

// entryWithSenses builds an entry owning n senses.
func entryWithSenses(t *testing.T, repo *graph.Repository, n int) (domain.Handle, []domain.Handle) {
	t.Helper()
	entry := mustCreate(t, repo, testutil.LexEntry)
	senses := make([]domain.Handle, n)
	for i := range senses {
		senses[i] = mustCreate(t, repo, testutil.LexSense)
		require.NoError(t, repo.AttachOwning(entry, "Senses", senses[i], graph.Append))
	}
	return entry, senses
}

func requireOrdinals(t *testing.T, repo *graph.Repository, parent domain.Handle, field string) {
	t.Helper()
	members, err := repo.Vector(parent, field)
	require.NoError(t, err)
	for i, m := range members {
		info, err := repo.Info(m)
		require.NoError(t, err)
		require.Equal(t, parent, info.Owner)
		require.Equal(t, field, info.OwnerField)
		require.Equal(t, i, info.OwnOrd, "ordinal of member %d", i)
	}
}

func undo(t *testing.T, repo *graph.Repository, deltas []domain.Delta) {
	t.Helper()
	for _, d := range domain.InverseLog(deltas) {
		require.NoError(t, repo.Apply(d))
	}
}

func redo(t *testing.T, repo *graph.Repository, deltas []domain.Delta) {
	t.Helper()
	for _, d := range deltas {
		require.NoError(t, repo.Apply(d))
	}
}
