package notify_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexgraph/internal/errors"
	"lexgraph/internal/graph"
	"lexgraph/internal/notify"
	"lexgraph/internal/testutil"
	"lexgraph/internal/uow"
	"lexgraph/pkg/domain"
)

func ownerForm(r notify.Reader, h domain.Handle, hops int) (any, error) {
	cur := h
	for i := 0; i < hops; i++ {
		owner, _, err := r.Owner(cur)
		if err != nil {
			return nil, err
		}
		if owner == domain.NoHandle {
			return nil, nil
		}
		cur = owner
	}
	return r.Basic(cur, "Form")
}

func referrersVia(field string) func(notify.Reader, domain.Handle) (any, error) {
	return func(r notify.Reader, h domain.Handle) (any, error) {
		refs, err := r.Referrers(h)
		if err != nil {
			return nil, err
		}
		var out []domain.Handle
		for _, ref := range refs {
			if ref.Field == field {
				out = append(out, ref.Source)
			}
		}
		return out, nil
	}
}

func lexiconProperties() []notify.VirtualProperty {
	return []notify.VirtualProperty{
		{
			Class: testutil.LexEntry, Name: "SenseCount",
			Deps: []notify.Dependency{{Class: testutil.LexEntry, Field: "Senses"}},
			Compute: func(r notify.Reader, h domain.Handle) (any, error) {
				v, err := r.Vector(h, "Senses")
				return int64(len(v)), err
			},
		},
		{
			Class: testutil.LexSense, Name: "EntryForm",
			Deps: []notify.Dependency{{Class: testutil.LexEntry, Field: "Form", Path: []notify.Step{notify.Owner()}}},
			Compute: func(r notify.Reader, h domain.Handle) (any, error) {
				return ownerForm(r, h, 1)
			},
		},
		{
			Class: testutil.Example, Name: "EntryForm",
			Deps: []notify.Dependency{{Class: testutil.LexEntry, Field: "Form", Path: []notify.Step{notify.Owner(), notify.Owner()}}},
			Compute: func(r notify.Reader, h domain.Handle) (any, error) {
				return ownerForm(r, h, 2)
			},
		},
		{
			Class: testutil.LexSense, Name: "Wordforms",
			Deps:    []notify.Dependency{{Class: testutil.WfiWordform, Field: "Analyses", Path: []notify.Step{notify.Referrer("Analyses")}}},
			Compute: referrersVia("Analyses"),
		},
	}
}

type fixture struct {
	ctx     context.Context
	repo    *graph.Repository
	manager *uow.Manager
	engine  *notify.Engine
	batches []notify.Batch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := graph.New(testutil.LexiconSchema())
	engine, err := notify.NewEngine(repo.Schema(), lexiconProperties()...)
	require.NoError(t, err)
	f := &fixture{ctx: context.Background(), repo: repo, manager: uow.NewManager(repo), engine: engine}
	engine.Attach(f.manager)
	engine.Subscribe(func(b notify.Batch) { f.batches = append(f.batches, b) })
	return f
}

func (f *fixture) do(t *testing.T, fn func() error) []notify.Notification {
	t.Helper()
	f.batches = nil
	_, err := f.manager.Do(f.ctx, "u", "r", fn)
	require.NoError(t, err)
	return f.last(t)
}

func (f *fixture) last(t *testing.T) []notify.Notification {
	t.Helper()
	if len(f.batches) == 0 {
		return nil
	}
	require.Len(t, f.batches, 1)
	return f.batches[0].Notifications
}

func virtuals(ns []notify.Notification) []notify.Notification {
	var out []notify.Notification
	for _, n := range ns {
		if n.Virtual {
			out = append(out, n)
		}
	}
	return out
}

func TestSelfDependencyNotifies(t *testing.T) {
	f := newFixture(t)
	var entry domain.Handle
	f.do(t, func() error {
		var err error
		entry, err = f.repo.Create(testutil.LexEntry)
		return err
	})

	ns := f.do(t, func() error {
		sense, err := f.repo.Create(testutil.LexSense)
		if err != nil {
			return err
		}
		return f.repo.AttachOwning(entry, "Senses", sense, graph.Append)
	})
	assert.Contains(t, ns, notify.Notification{Entity: entry, Field: "Senses", CvIns: 1})
	assert.Contains(t, ns, notify.Notification{Entity: entry, Field: "SenseCount", Virtual: true, CvIns: 1})

	v, err := f.engine.Value(f.repo, entry, "SenseCount")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestMultiHopOwnerDependency(t *testing.T) {
	f := newFixture(t)
	var entry, example domain.Handle
	var senses []domain.Handle
	f.do(t, func() error {
		var err error
		if entry, err = f.repo.Create(testutil.LexEntry); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			s, err := f.repo.Create(testutil.LexSense)
			if err != nil {
				return err
			}
			if err := f.repo.AttachOwning(entry, "Senses", s, graph.Append); err != nil {
				return err
			}
			senses = append(senses, s)
		}
		if example, err = f.repo.Create(testutil.Example); err != nil {
			return err
		}
		return f.repo.AttachOwning(senses[1], "Examples", example, graph.Append)
	})

	ns := f.do(t, func() error {
		if err := f.repo.SetBasic(entry, "Form", "kat"); err != nil {
			return err
		}
		return f.repo.SetBasic(entry, "Form", "cat")
	})
	assert.Equal(t, []notify.Notification{
		{Entity: senses[0], Field: "EntryForm", Virtual: true, CvIns: 1},
		{Entity: senses[1], Field: "EntryForm", Virtual: true, CvIns: 1},
		{Entity: example, Field: "EntryForm", Virtual: true, CvIns: 1},
	}, virtuals(ns), "one notification per host even when the field changes twice")

	v, err := f.engine.Value(f.repo, example, "EntryForm")
	require.NoError(t, err)
	assert.Equal(t, "cat", v)
}

func TestReferrerCollectionNotifiesOnGainLossAndDelete(t *testing.T) {
	f := newFixture(t)
	var sense, wordform, db domain.Handle
	f.do(t, func() error {
		var err error
		if db, err = f.repo.Create(testutil.LexDb); err != nil {
			return err
		}
		if sense, err = f.repo.Create(testutil.LexSense); err != nil {
			return err
		}
		if wordform, err = f.repo.Create(testutil.WfiWordform); err != nil {
			return err
		}
		return f.repo.AttachOwning(db, "Wordforms", wordform, graph.Append)
	})
	want := func(cvIns int) notify.Notification {
		return notify.Notification{Entity: sense, Field: "Wordforms", Virtual: true, CvIns: cvIns}
	}

	ns := f.do(t, func() error {
		return f.repo.AttachReference(wordform, "Analyses", sense, graph.Append)
	})
	assert.Equal(t, []notify.Notification{want(1)}, virtuals(ns), "gain")

	ns = f.do(t, func() error {
		return f.repo.DetachReference(wordform, "Analyses", sense)
	})
	assert.Equal(t, []notify.Notification{want(0)}, virtuals(ns), "loss")

	f.do(t, func() error {
		return f.repo.AttachReference(wordform, "Analyses", sense, graph.Append)
	})
	ns = f.do(t, func() error { return f.repo.Delete(wordform) })
	assert.Equal(t, []notify.Notification{want(0)}, virtuals(ns), "referrer deleted")

	f.batches = nil
	require.NoError(t, f.manager.Undo())
	require.Len(t, f.batches, 1)
	assert.Equal(t, uow.EventUndo, f.batches[0].Kind)
	assert.Equal(t, []notify.Notification{want(1)}, virtuals(f.batches[0].Notifications), "undo restores the referrer")
}

func TestVirtualNotificationsReportZeroDeleted(t *testing.T) {
	f := newFixture(t)
	var entry domain.Handle
	f.do(t, func() error {
		var err error
		if entry, err = f.repo.Create(testutil.LexEntry); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			s, err := f.repo.Create(testutil.LexSense)
			if err != nil {
				return err
			}
			if err := f.repo.AttachOwning(entry, "Senses", s, graph.Append); err != nil {
				return err
			}
		}
		return nil
	})

	ns := f.do(t, func() error { return f.repo.RemoveOwning(entry, "Senses", 1) })
	for _, n := range virtuals(ns) {
		assert.Zero(t, n.CvDel)
		assert.Zero(t, n.IvMin)
	}
	assert.Contains(t, ns, notify.Notification{Entity: entry, Field: "Senses", IvMin: 1, CvDel: 1})
}

func TestLoadDispatchesEmptyBatch(t *testing.T) {
	f := newFixture(t)
	f.manager.NotifyLoad()
	require.Len(t, f.batches, 1)
	assert.Equal(t, uow.EventLoad, f.batches[0].Kind)
	assert.Empty(t, f.batches[0].Notifications)
}

func TestValueErrors(t *testing.T) {
	f := newFixture(t)
	var entry domain.Handle
	f.do(t, func() error {
		var err error
		entry, err = f.repo.Create(testutil.LexEntry)
		return err
	})
	_, err := f.engine.Value(f.repo, entry, "Nope")
	assert.True(t, errors.Is(err, domain.ErrUsage))
	_, err = f.engine.Value(f.repo, domain.Handle(42), "SenseCount")
	assert.True(t, errors.Is(err, domain.ErrDeletedObject))

	p, ok := f.engine.Property(testutil.LexEntry, "SenseCount")
	require.True(t, ok)
	assert.Equal(t, "SenseCount", p.Name)
	assert.Len(t, f.engine.Properties(), 4)
}

func TestNewEngineRejectsBadDeclarations(t *testing.T) {
	schema := testutil.LexiconSchema()
	compute := func(notify.Reader, domain.Handle) (any, error) { return nil, nil }
	cases := map[string]notify.VirtualProperty{
		"unknown class": {Class: "Nope", Name: "X", Compute: compute,
			Deps: []notify.Dependency{{Class: testutil.LexEntry, Field: "Form"}}},
		"shadows field": {Class: testutil.LexEntry, Name: "Form", Compute: compute,
			Deps: []notify.Dependency{{Class: testutil.LexEntry, Field: "Form"}}},
		"unknown dep field": {Class: testutil.LexEntry, Name: "X", Compute: compute,
			Deps: []notify.Dependency{{Class: testutil.LexEntry, Field: "Missing"}}},
		"bad referrer": {Class: testutil.LexEntry, Name: "X", Compute: compute,
			Deps: []notify.Dependency{{Class: testutil.LexSense, Field: "Gloss", Path: []notify.Step{notify.Referrer("Senses")}}}},
		"no deps":    {Class: testutil.LexEntry, Name: "X", Compute: compute},
		"no compute": {Class: testutil.LexEntry, Name: "X", Deps: []notify.Dependency{{Class: testutil.LexEntry, Field: "Form"}}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := notify.NewEngine(schema, p)
			assert.True(t, errors.Is(err, domain.ErrConfiguration), "got %v", err)
		})
	}

	dup := lexiconProperties()[0]
	_, err := notify.NewEngine(schema, dup, dup)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestDependencyString(t *testing.T) {
	d := notify.Dependency{Class: testutil.LexEntry, Field: "Form", Path: []notify.Step{notify.Owner(), notify.Referrer("Related")}}
	assert.Equal(t, "owner/referrer(Related)/LexEntry.Form", d.String())
	assert.Equal(t, "LexEntry.Form", notify.Dependency{Class: testutil.LexEntry, Field: "Form"}.String())
}
