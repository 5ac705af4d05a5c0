// Package uow implements the unit-of-work and undo/redo manager. It records
// the deltas produced by the graph layer inside a stack of open frames, seals
// the outermost frame on commit, and replays inverse or forward logs on undo
// and redo.
package uow

import (
	"context"

	"go.uber.org/zap"

	"lexgraph/internal/errors"
	"lexgraph/internal/graph"
	"lexgraph/internal/logger"
	"lexgraph/pkg/domain"
)

// DefaultMaxUndo bounds the undo history.
const DefaultMaxUndo = 100

// State of the manager.
type State uint8

// Manager states.
const (
	StateIdle State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "idle"
}

type frame struct {
	undo, redo  string
	mark        int
	nonUndoable bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRules evaluates engine before each outermost commit is sealed.
func WithRules(engine *domain.RulesEngine) Option {
	return func(m *Manager) { m.rules = engine }
}

// WithMaxUndo bounds the undo stack; values below 1 keep the default.
func WithMaxUndo(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxUndo = n
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager owns the frame stack and history of one repository. It installs
// itself as the repository's recorder. It is not safe for concurrent use.
type Manager struct {
	repo      *graph.Repository
	rules     *domain.RulesEngine
	log       *zap.SugaredLogger
	frames    []frame
	deltas    []domain.Delta
	undo      []*Entry
	redo      []*Entry
	maxUndo   int
	seq       uint64
	readOnly  bool
	listeners []Listener
}

// NewManager wires a manager to repo.
func NewManager(repo *graph.Repository, opts ...Option) *Manager {
	m := &Manager{repo: repo, maxUndo: DefaultMaxUndo}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Named("uow")
	}
	repo.SetRecorder(m)
	return m
}

// Repository returns the managed repository.
func (m *Manager) Repository() *graph.Repository { return m.repo }

// Subscribe registers a listener for every published event.
func (m *Manager) Subscribe(l Listener) {
	m.listeners = append(m.listeners, l)
}

// CheckWritable implements graph.Recorder.
func (m *Manager) CheckWritable() error {
	if m.readOnly {
		return domain.ReadOnlyErrorf("session is read-only")
	}
	if len(m.frames) == 0 {
		return domain.UsageErrorf("mutation outside a unit of work")
	}
	return nil
}

// Record implements graph.Recorder.
func (m *Manager) Record(d domain.Delta) {
	m.deltas = append(m.deltas, d)
}

// SetReadOnly toggles read-only mode. Begin fails while it is set.
func (m *Manager) SetReadOnly(v bool) { m.readOnly = v }

// ReadOnly reports whether the manager rejects new units of work.
func (m *Manager) ReadOnly() bool { return m.readOnly }

// Depth is the number of open frames.
func (m *Manager) Depth() int { return len(m.frames) }

// State reports whether a unit of work is open.
func (m *Manager) State() State {
	if len(m.frames) > 0 {
		return StateOpen
	}
	return StateIdle
}

// Pending returns the number of deltas recorded in the open frames.
func (m *Manager) Pending() int { return len(m.deltas) }

// Begin opens an undoable frame. Nested frames merge into the outermost one.
func (m *Manager) Begin(undoLabel, redoLabel string) error {
	return m.push(frame{undo: undoLabel, redo: redoLabel})
}

// BeginNonUndoable opens a frame whose outermost commit never reaches the
// undo stack.
func (m *Manager) BeginNonUndoable() error {
	return m.push(frame{nonUndoable: true})
}

func (m *Manager) push(f frame) error {
	if m.readOnly {
		return domain.ReadOnlyErrorf("cannot begin a unit of work on a read-only session")
	}
	if m.repo.Disposed() {
		return domain.DisposedStoreError("repository")
	}
	f.mark = len(m.deltas)
	m.frames = append(m.frames, f)
	return nil
}

// Commit closes the innermost frame. Only the outermost commit evaluates
// rules, seals an entry, clears the redo stack and publishes an event. A
// blocking rule violation rolls the whole frame back and returns
// domain.RuleViolationError.
func (m *Manager) Commit(ctx context.Context) (domain.Result, error) {
	if len(m.frames) == 0 {
		return domain.Result{}, domain.UsageErrorf("commit without an open unit of work")
	}
	f := m.frames[len(m.frames)-1]
	m.frames = m.frames[:len(m.frames)-1]
	if len(m.frames) > 0 {
		return domain.Result{}, nil
	}

	deltas := m.deltas
	m.deltas = nil
	var result domain.Result
	if m.rules != nil && len(deltas) > 0 {
		res, err := m.rules.Evaluate(ctx, m.repo, deltas)
		if err != nil {
			return domain.Result{}, m.abort(deltas, errors.Wrap(err, "evaluate rules"))
		}
		result = res
		if res.HasBlocking() {
			return res, m.abort(deltas, domain.RuleViolationError{Result: res})
		}
		for _, v := range res.Violations {
			m.log.Warnw("rule violation", "rule", v.Rule, "severity", v.Severity, "message", v.Message)
		}
	}
	if len(deltas) == 0 {
		return result, nil
	}

	m.seq++
	entry := &Entry{Seq: m.seq, UndoLabel: f.undo, RedoLabel: f.redo, Undoable: !f.nonUndoable, Deltas: deltas}
	if entry.Undoable {
		m.undo = append(m.undo, entry)
		if len(m.undo) > m.maxUndo {
			m.undo = m.undo[len(m.undo)-m.maxUndo:]
		}
	} else {
		m.undo = nil
	}
	m.redo = nil
	m.log.Debugw("unit of work sealed", logger.FieldSeq, entry.Seq, logger.FieldCount, len(deltas), "undoable", entry.Undoable)
	m.publish(Event{Kind: EventCommit, Entry: entry, Deltas: deltas})
	return result, nil
}

func (m *Manager) abort(deltas []domain.Delta, cause error) error {
	if err := m.revert(deltas); err != nil {
		return errors.CombineErrors(cause, err)
	}
	return cause
}

func (m *Manager) revert(deltas []domain.Delta) error {
	for _, d := range domain.InverseLog(deltas) {
		if err := m.repo.Apply(d); err != nil {
			return errors.Wrap(err, "revert unit of work")
		}
	}
	return nil
}

// Rollback closes the innermost frame and reverts the deltas recorded since
// it began.
func (m *Manager) Rollback() error {
	if len(m.frames) == 0 {
		return domain.UsageErrorf("rollback without an open unit of work")
	}
	f := m.frames[len(m.frames)-1]
	m.frames = m.frames[:len(m.frames)-1]
	tail := m.deltas[f.mark:]
	m.deltas = m.deltas[:f.mark]
	return m.revert(tail)
}

// Do runs fn inside an undoable unit of work, rolling back when fn fails.
func (m *Manager) Do(ctx context.Context, undoLabel, redoLabel string, fn func() error) (domain.Result, error) {
	if err := m.Begin(undoLabel, redoLabel); err != nil {
		return domain.Result{}, err
	}
	return m.finish(ctx, fn)
}

// DoNonUndoable runs fn inside a non-undoable unit of work.
func (m *Manager) DoNonUndoable(ctx context.Context, fn func() error) (domain.Result, error) {
	if err := m.BeginNonUndoable(); err != nil {
		return domain.Result{}, err
	}
	return m.finish(ctx, fn)
}

func (m *Manager) finish(ctx context.Context, fn func() error) (res domain.Result, err error) {
	committed := false
	defer func() {
		if !committed {
			if rbErr := m.Rollback(); rbErr != nil {
				m.log.Errorw("rollback failed", logger.FieldError, rbErr)
			}
		}
	}()
	if err := fn(); err != nil {
		return domain.Result{}, err
	}
	committed = true
	return m.Commit(ctx)
}

// CanUndo reports whether Undo has an entry to revert.
func (m *Manager) CanUndo() bool { return len(m.undo) > 0 && len(m.frames) == 0 }

// CanRedo reports whether Redo has an entry to reapply.
func (m *Manager) CanRedo() bool { return len(m.redo) > 0 && len(m.frames) == 0 }

// UndoLabel returns the label of the entry Undo would revert.
func (m *Manager) UndoLabel() string {
	if len(m.undo) == 0 {
		return ""
	}
	return m.undo[len(m.undo)-1].UndoLabel
}

// RedoLabel returns the label of the entry Redo would reapply.
func (m *Manager) RedoLabel() string {
	if len(m.redo) == 0 {
		return ""
	}
	return m.redo[len(m.redo)-1].RedoLabel
}

// Undo reverts the most recent sealed entry and moves it to the redo stack.
func (m *Manager) Undo() error {
	if len(m.frames) > 0 {
		return domain.UsageErrorf("undo while a unit of work is open")
	}
	if len(m.undo) == 0 {
		return domain.UsageErrorf("nothing to undo")
	}
	entry := m.undo[len(m.undo)-1]
	inverse := domain.InverseLog(entry.Deltas)
	if err := m.replay(inverse); err != nil {
		return err
	}
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = append(m.redo, entry)
	m.publish(Event{Kind: EventUndo, Entry: entry, Deltas: inverse})
	return nil
}

// Redo reapplies the most recently undone entry.
func (m *Manager) Redo() error {
	if len(m.frames) > 0 {
		return domain.UsageErrorf("redo while a unit of work is open")
	}
	if len(m.redo) == 0 {
		return domain.UsageErrorf("nothing to redo")
	}
	entry := m.redo[len(m.redo)-1]
	if err := m.replay(entry.Deltas); err != nil {
		return err
	}
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = append(m.undo, entry)
	m.publish(Event{Kind: EventRedo, Entry: entry, Deltas: entry.Deltas})
	return nil
}

// replay applies deltas; on failure it reverts the applied prefix so the
// graph is left as it was.
func (m *Manager) replay(deltas []domain.Delta) error {
	if m.readOnly {
		return domain.ReadOnlyErrorf("session is read-only")
	}
	for i, d := range deltas {
		if err := m.repo.Apply(d); err != nil {
			if rbErr := m.revert(deltas[:i]); rbErr != nil {
				err = errors.CombineErrors(err, rbErr)
			}
			return errors.Wrap(err, "replay history")
		}
	}
	return nil
}

// ClearHistory drops both stacks.
func (m *Manager) ClearHistory() {
	m.undo = nil
	m.redo = nil
}

// NotifyLoad clears history and publishes a load event after the
// repository was populated from a backend.
func (m *Manager) NotifyLoad() {
	m.ClearHistory()
	m.publish(Event{Kind: EventLoad})
}

func (m *Manager) publish(ev Event) {
	for _, l := range m.listeners {
		l(ev)
	}
}
