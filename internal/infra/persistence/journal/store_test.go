package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexgraph/internal/graph"
	"lexgraph/internal/testutil"
	"lexgraph/pkg/domain"
	"lexgraph/pkg/hlc"
)

// steppingClock returns a wall clock starting at start that advances by one
// millisecond per reading.
func steppingClock(start int64) func() int64 {
	var now atomic.Int64
	now.Store(start)
	return func() int64 { return now.Add(1) }
}

func openJournal(t *testing.T, node string, start int64) *Store {
	t.Helper()
	return openJournalWith(t, Options{NodeID: node, WallClock: steppingClock(start)})
}

func openJournalWith(t *testing.T, opts Options) *Store {
	t.Helper()
	opts.Path = filepath.Join(t.TempDir(), opts.NodeID+".journal")
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func findRecord(t *testing.T, records []domain.EntityRecord, g domain.GUID) domain.EntityRecord {
	t.Helper()
	for _, r := range records {
		if r.GUID == g {
			return r
		}
	}
	t.Fatalf("record %s not found", g)
	return domain.EntityRecord{}
}

func readAll(t *testing.T, s *Store) []domain.EntityRecord {
	t.Helper()
	got, err := s.ReadAll(context.Background(), domain.ScopeAll)
	require.NoError(t, err)
	return got
}

func since(t *testing.T, s *Store) []Entry {
	t.Helper()
	entries, err := s.Since(context.Background(), 0)
	require.NoError(t, err)
	return entries
}

func touch(t *testing.T, s *Store, records ...domain.EntityRecord) {
	t.Helper()
	require.NoError(t, s.Persist(context.Background(), domain.Commit{Seq: 1, Touched: records}))
}

func TestStoreSatisfiesBackendContract(t *testing.T) {
	testutil.RunBackendSuite(t, func(t *testing.T) domain.Backend {
		s, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "j.db"), NodeID: "suite"})
		require.NoError(t, err)
		return s
	})
}

func TestMigrationsApplied(t *testing.T) {
	s := openJournal(t, "alpha", 1_000)
	version, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestPersistStampsChangedFieldsOnly(t *testing.T) {
	ctx := context.Background()
	s := openJournal(t, "alpha", 1_000)
	records := testutil.LexiconRecords(2, 1)
	require.NoError(t, s.WriteAll(ctx, records))
	written := since(t, s)
	require.NotEmpty(t, written)
	for _, e := range written {
		assert.True(t, strings.HasPrefix(e.Clock.String(), "alpha_"), e.Clock.String())
	}
	for i := 1; i < len(written); i++ {
		assert.True(t, written[i-1].Clock.Less(written[i].Clock), "clocks strictly increase")
	}

	entry := testutil.Canonical(records)[0]
	for _, r := range testutil.Canonical(records) {
		if r.Class == testutil.LexEntry {
			entry = r
			break
		}
	}
	entry.Basics["Form"] = "changed"
	touch(t, s, entry)
	after := since(t, s)
	require.Len(t, after, len(written)+1, "only the changed field is journaled")
	last := after[len(after)-1]
	assert.Equal(t, entry.GUID, last.GUID)
	assert.Equal(t, "Form", last.Field)
	assert.JSONEq(t, `"changed"`, string(last.Value))

	touch(t, s, entry)
	assert.Len(t, since(t, s), len(after), "persisting unchanged state appends nothing")
}

func TestReopenRestoresNodeAndClock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "j.db")
	first, err := Open(ctx, Options{Path: path, WallClock: func() int64 { return 5_000 }})
	require.NoError(t, err)
	node := first.Node()
	require.NotEmpty(t, node)
	require.NoError(t, first.WriteAll(ctx, testutil.LexiconRecords(1, 0)))
	last := first.Clock()
	require.NoError(t, first.Close())

	// a wall clock that went backwards must not rewind the journal
	second, err := Open(ctx, Options{Path: path, WallClock: func() int64 { return 10 }})
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	assert.Equal(t, node, second.Node())
	assert.Zero(t, hlc.Compare(last, second.Clock()))
	assert.Len(t, readAll(t, second), 2)
}

func TestLastWriterWinsRegardlessOfArrival(t *testing.T) {
	ctx := context.Background()
	seed := testutil.Canonical(testutil.LexiconRecords(1, 0))
	entry := seed[0]
	if entry.Class != testutil.LexEntry {
		entry = seed[1]
	}

	early := openJournal(t, "early", 1_000)
	late := openJournal(t, "late", 9_000)
	require.NoError(t, early.WriteAll(ctx, seed))
	_, err := late.Merge(ctx, since(t, early))
	require.NoError(t, err)

	a := entry
	a.Basics = map[string]any{"Form": "from-early", "Homograph": int64(0)}
	touch(t, early, a)
	b := entry
	b.Basics = map[string]any{"Form": "from-late", "Homograph": int64(0)}
	touch(t, late, b)

	_, err = early.Merge(ctx, since(t, late))
	require.NoError(t, err)
	_, err = late.Merge(ctx, since(t, early))
	require.NoError(t, err)

	for _, s := range []*Store{early, late} {
		got := findRecord(t, readAll(t, s), entry.GUID)
		assert.Equal(t, "from-late", got.Basics["Form"], s.Node())
	}
	assert.True(t, early.Clock().After(hlc.Clock{Physical: 9_000}), "merge observes remote clocks")
}

func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := openJournal(t, "src", 1_000)
	require.NoError(t, src.WriteAll(ctx, testutil.LexiconRecords(3, 1)))
	entries := since(t, src)

	dst := openJournal(t, "dst", 1_000)
	n, err := dst.Merge(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, len(entries), n)
	n, err = dst.Merge(ctx, entries)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = dst.Merge(ctx, []Entry{{GUID: domain.NewGUID(), Field: "Form"}})
	assert.True(t, domain.IsUsage(err), "entries without a clock are rejected: %v", err)
}

func TestMergePermutationsConverge(t *testing.T) {
	ctx := context.Background()
	seed := testutil.LexiconRecords(3, 2)

	origin := openJournal(t, "origin", 1_000)
	require.NoError(t, origin.WriteAll(ctx, seed))
	base := since(t, origin)

	replicas := []*Store{openJournal(t, "r1", 2_000), openJournal(t, "r2", 2_000), openJournal(t, "r3", 3_000)}
	var batches [][]Entry
	for i, r := range replicas {
		_, err := r.Merge(ctx, base)
		require.NoError(t, err)
		records := testutil.Canonical(readAll(t, r))
		var edited []domain.EntityRecord
		for _, rec := range records {
			if rec.Class != testutil.LexEntry || rec.OwnOrd > i {
				continue
			}
			if rec.OwnOrd == i {
				rec.Basics["Form"] = r.Node()
			}
			if rec.OwnOrd == 0 {
				rec.Basics["Homograph"] = int64(10 + i)
			}
			edited = append(edited, rec)
		}
		touch(t, r, edited...)
		batches = append(batches, since(t, r))
	}

	var all []Entry
	for _, b := range batches {
		all = append(all, b...)
	}
	rng := rand.New(rand.NewSource(7))
	var digests []string
	var states [][]domain.EntityRecord
	for trial := 0; trial < 4; trial++ {
		shuffled := append([]Entry(nil), all...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		target := openJournal(t, "merge", 1_000)
		// merge in uneven chunks to vary the grouping as well as the order
		for start := 0; start < len(shuffled); {
			end := min(len(shuffled), start+1+rng.Intn(7))
			_, err := target.Merge(ctx, shuffled[start:end])
			require.NoError(t, err)
			start = end
		}
		d, err := target.Digest(ctx)
		require.NoError(t, err)
		digests = append(digests, d)
		states = append(states, testutil.Canonical(readAll(t, target)))
	}
	for i := 1; i < len(digests); i++ {
		assert.Equal(t, digests[0], digests[i])
		assert.Equal(t, states[0], states[i])
	}
	assert.Len(t, states[0], len(seed))
	for _, rec := range states[0] {
		if rec.Class == testutil.LexEntry && rec.OwnOrd == 0 {
			assert.Equal(t, int64(12), rec.Basics["Homograph"], "r3 stamped the latest homograph")
			assert.Equal(t, "r1", rec.Basics["Form"])
		}
	}
}

func TestRebuildRepairsConcurrentMove(t *testing.T) {
	ctx := context.Background()
	seed := testutil.Canonical(testutil.LexiconRecords(2, 1))
	var entries, senses []domain.EntityRecord
	for _, r := range seed {
		switch r.Class {
		case testutil.LexEntry:
			entries = append(entries, r)
		case testutil.LexSense:
			senses = append(senses, r)
		}
	}
	p1 := entries[0]
	p2 := entries[1]
	moved := findRecord(t, senses, p1.Objects["Senses"][0])

	a := openJournal(t, "a", 1_000)
	require.NoError(t, a.WriteAll(ctx, seed))
	b := openJournal(t, "b", 5_000)
	_, err := b.Merge(ctx, since(t, a))
	require.NoError(t, err)

	// b moves the sense to p2 but only journals the child and p2
	moved.Owner, moved.OwnOrd = p2.GUID, 1
	p2.Objects["Senses"] = append(p2.Objects["Senses"], moved.GUID)
	touch(t, b, moved, p2)

	_, err = a.Merge(ctx, since(t, b))
	require.NoError(t, err)
	got := readAll(t, a)
	assert.NotContains(t, findRecord(t, got, p1.GUID).Objects, "Senses", "stale owning member dropped")
	assert.Equal(t, p2.GUID, findRecord(t, got, moved.GUID).Owner)
	assert.Equal(t, 1, findRecord(t, got, moved.GUID).OwnOrd)
	assert.Len(t, findRecord(t, got, p2.GUID).Objects["Senses"], 2)
}

func TestRebuildDropsUnclaimedMemberOfSchemaOwningField(t *testing.T) {
	ctx := context.Background()
	schema := testutil.LexiconSchema()
	seed := testutil.Canonical(testutil.LexiconRecords(1, 1))
	var entry, sense domain.EntityRecord
	for _, r := range seed {
		switch r.Class {
		case testutil.LexEntry:
			entry = r
		case testutil.LexSense:
			sense = r
		}
	}
	host := domain.EntityRecord{GUID: domain.NewGUID(), Class: testutil.LexSense, Basics: map[string]any{"Gloss": "floating"}}
	seed = append(seed, host)

	a := openJournalWith(t, Options{NodeID: "a", WallClock: steppingClock(1_000), Schema: schema})
	require.NoError(t, a.WriteAll(ctx, seed))
	b := openJournalWith(t, Options{NodeID: "b", WallClock: steppingClock(5_000), Schema: schema})
	_, err := b.Merge(ctx, since(t, a))
	require.NoError(t, err)

	// b moves the entry's last sense under the floating sense
	moved := sense
	moved.Owner, moved.OwnerField, moved.OwnOrd = host.GUID, "Subsenses", 0
	adopted := host
	adopted.Objects = map[string][]domain.GUID{"Subsenses": {sense.GUID}}
	emptied := entry
	emptied.Objects = nil
	touch(t, b, moved, adopted, emptied)

	// a concurrently rewrites the entry's senses with a later clock
	senses, err := json.Marshal([]domain.GUID{sense.GUID})
	require.NoError(t, err)
	rewrite := Entry{GUID: entry.GUID, Field: "Senses", Value: senses, Clock: hlc.Clock{Node: "a", Physical: 50_000}}

	_, err = a.Merge(ctx, append(since(t, b), rewrite))
	require.NoError(t, err)
	_, err = b.Merge(ctx, []Entry{rewrite})
	require.NoError(t, err)

	var states [][]domain.EntityRecord
	for _, s := range []*Store{a, b} {
		got := readAll(t, s)
		assert.NotContains(t, findRecord(t, got, entry.GUID).Objects, "Senses", s.Node())
		assert.Equal(t, host.GUID, findRecord(t, got, sense.GUID).Owner, s.Node())
		assert.Equal(t, []domain.GUID{sense.GUID}, findRecord(t, got, host.GUID).Objects["Subsenses"], s.Node())

		repo := graph.New(schema)
		_, err := repo.Import(got)
		require.NoError(t, err, s.Node())
		states = append(states, testutil.Canonical(got))
	}
	assert.Equal(t, states[0], states[1])
}

func TestDeleteAndRevive(t *testing.T) {
	ctx := context.Background()
	s := openJournal(t, "alpha", 1_000)
	records := testutil.Canonical(testutil.LexiconRecords(1, 0))
	require.NoError(t, s.WriteAll(ctx, records))
	require.NoError(t, s.Persist(ctx, domain.Commit{Seq: 2, Deleted: []domain.GUID{records[0].GUID}}))
	assert.Len(t, readAll(t, s), 1)

	touch(t, s, records[0])
	assert.Len(t, readAll(t, s), 2)
}

func TestEntriesRoundTripThroughJSONLines(t *testing.T) {
	ctx := context.Background()
	s := openJournal(t, "alpha", 1_000)
	require.NoError(t, s.WriteAll(ctx, testutil.LexiconRecords(1, 1)))
	entries := since(t, s)

	var buf bytes.Buffer
	require.NoError(t, WriteEntries(&buf, entries))
	decoded, err := ReadEntries(&buf)
	require.NoError(t, err)
	assert.Equal(t, entries, decoded)

	_, err = ReadEntries(strings.NewReader("{\"field\":\"Form\"}\n"))
	assert.True(t, domain.IsUsage(err), "got %v", err)
}
