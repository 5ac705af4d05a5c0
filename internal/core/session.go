package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"lexgraph/internal/errors"
	"lexgraph/internal/graph"
	"lexgraph/internal/infra/persistence/journal"
	"lexgraph/internal/logger"
	"lexgraph/internal/notify"
	"lexgraph/internal/uow"
	"lexgraph/pkg/domain"
)

// PersistMode selects when sealed units of work reach the backend.
type PersistMode string

const (
	// PersistImmediate persists each unit of work as soon as it is sealed.
	PersistImmediate PersistMode = "immediate"
	// PersistIdle queues sealed units of work until the next idle flush.
	PersistIdle PersistMode = "idle"
)

// DefaultIdleInterval is the background flush period in idle mode.
const DefaultIdleInterval = 2 * time.Second

// ParsePersistMode validates a persist mode name; empty selects immediate.
func ParsePersistMode(s string) (PersistMode, error) {
	switch PersistMode(s) {
	case "", PersistImmediate:
		return PersistImmediate, nil
	case PersistIdle:
		return PersistIdle, nil
	}
	return "", domain.ConfigurationErrorf("unknown persist mode %q", s)
}

// Option configures a Session.
type Option func(*sessionConfig)

type sessionConfig struct {
	log          *zap.SugaredLogger
	metrics      MetricsRecorder
	tracer       Tracer
	clock        Clock
	rules        *domain.RulesEngine
	maxUndo      int
	props        []notify.VirtualProperty
	mode         PersistMode
	idleInterval time.Duration
}

// WithLogger sets the session logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *sessionConfig) { c.log = l }
}

// WithMetricsRecorder observes every session operation.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(c *sessionConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer traces every session operation.
func WithTracer(t Tracer) Option {
	return func(c *sessionConfig) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithClock overrides the wall clock used for operation timing.
func WithClock(clock Clock) Option {
	return func(c *sessionConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRules replaces the default rules engine. A nil engine disables rules.
func WithRules(engine *domain.RulesEngine) Option {
	return func(c *sessionConfig) { c.rules = engine }
}

// WithMaxUndo bounds the undo history.
func WithMaxUndo(n int) Option {
	return func(c *sessionConfig) { c.maxUndo = n }
}

// WithVirtualProperties registers computed properties with the
// notification engine.
func WithVirtualProperties(props ...notify.VirtualProperty) Option {
	return func(c *sessionConfig) { c.props = append(c.props, props...) }
}

// WithPersistMode selects immediate or idle persistence.
func WithPersistMode(mode PersistMode) Option {
	return func(c *sessionConfig) { c.mode = mode }
}

// WithIdleInterval sets the background flush period in idle mode. Zero
// disables the background flusher; IdleCommit still flushes on demand.
func WithIdleInterval(d time.Duration) Option {
	return func(c *sessionConfig) { c.idleInterval = d }
}

// Session couples one repository, its unit-of-work manager and notification
// engine with a backend. All access is serialized by the session mutex; the
// repository handed to callbacks must not escape them.
type Session struct {
	mu      sync.Mutex
	schema  *domain.Schema
	backend domain.Backend
	cfg     sessionConfig
	log     *zap.SugaredLogger
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock

	repo   *graph.Repository
	uow    *uow.Manager
	notify *notify.Engine

	scope  domain.Scope
	queue  []domain.Commit
	seq    uint64
	closed bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSession builds an empty session over backend. Call Load to populate it.
func NewSession(schema *domain.Schema, backend domain.Backend, opts ...Option) (*Session, error) {
	if schema == nil || backend == nil {
		return nil, domain.UsageErrorf("session requires a schema and a backend")
	}
	cfg := sessionConfig{
		metrics:      noopMetrics{},
		tracer:       noopTracer{},
		clock:        ClockFunc(time.Now),
		rules:        NewDefaultRulesEngine(),
		mode:         PersistImmediate,
		idleInterval: DefaultIdleInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.mode != PersistImmediate && cfg.mode != PersistIdle {
		return nil, domain.ConfigurationErrorf("unknown persist mode %q", cfg.mode)
	}
	engine, err := notify.NewEngine(schema, cfg.props...)
	if err != nil {
		return nil, err
	}
	s := &Session{
		schema:  schema,
		backend: backend,
		cfg:     cfg,
		log:     logger.OrGlobal(cfg.log).With(logger.FieldComponent, "session", logger.FieldBackend, backend.Kind()),
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
		clock:   cfg.clock,
		notify:  engine,
		scope:   domain.ScopeAll,
	}
	s.wire()
	if cfg.mode == PersistIdle && cfg.idleInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.flushLoop(cfg.idleInterval, s.stop, s.done)
	}
	return s, nil
}

// wire installs a fresh repository and manager.
func (s *Session) wire() {
	if s.repo != nil {
		s.repo.Dispose()
	}
	s.repo = graph.New(s.schema, graph.WithLogger(s.log.With(logger.FieldComponent, "graph")))
	opts := []uow.Option{uow.WithMaxUndo(s.cfg.maxUndo), uow.WithLogger(s.log.With(logger.FieldComponent, "uow"))}
	if s.cfg.rules != nil {
		opts = append(opts, uow.WithRules(s.cfg.rules))
	}
	s.uow = uow.NewManager(s.repo, opts...)
	s.uow.Subscribe(s.enqueue)
	s.notify.Attach(s.uow)
}

// Backend returns the durable store.
func (s *Session) Backend() domain.Backend { return s.backend }

// Schema returns the class registry.
func (s *Session) Schema() *domain.Schema { return s.schema }

// Scope returns the scope of the last Load.
func (s *Session) Scope() domain.Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Subscribe registers sub for change notifications.
func (s *Session) Subscribe(sub notify.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify.Subscribe(sub)
}

func (s *Session) checkOpen() error {
	if s.closed {
		return domain.DisposedStoreError("session")
	}
	return nil
}

// Load replaces the repository content with the records the backend holds
// within scope. Pending commits are flushed first. A partial scope leaves
// the session read-only.
func (s *Session) Load(ctx context.Context, scope domain.Scope) error {
	return s.observe(ctx, "load", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.loadLocked(ctx, scope)
	})
}

func (s *Session) loadLocked(ctx context.Context, scope domain.Scope) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	records, err := s.backend.ReadAll(ctx, scope)
	if err != nil {
		return errors.Wrapf(err, "read %s backend", s.backend.Kind())
	}
	s.wire()
	var stats graph.ImportStats
	if _, err := s.uow.DoNonUndoable(ctx, func() error {
		var importErr error
		stats, importErr = s.repo.Import(records)
		return importErr
	}); err != nil {
		return errors.Wrap(err, "import records")
	}
	s.scope = scope
	s.uow.SetReadOnly(!scope.IsAll())
	s.uow.NotifyLoad()
	s.log.Infow("session loaded",
		"scope", scope.Name,
		logger.FieldCount, stats.Entities,
		"dropped_refs", stats.DroppedRefs,
		"unknown_fields", stats.UnknownFields,
		"read_only", !scope.IsAll(),
	)
	return nil
}

// Read runs fn with the repository while holding the session lock.
func (s *Session) Read(fn func(repo *graph.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return fn(s.repo)
}

// Update runs fn inside an undoable unit of work. A failing fn or a blocking
// rule rolls every mutation back. In immediate mode the sealed unit is
// persisted before Update returns; a persist failure is reported as
// domain.ErrPersistFailed while the in-memory change stands.
func (s *Session) Update(ctx context.Context, undoLabel, redoLabel string, fn func(repo *graph.Repository) error) (domain.Result, error) {
	return s.update(ctx, "update", func(ctx context.Context) (domain.Result, error) {
		return s.uow.Do(ctx, undoLabel, redoLabel, func() error { return fn(s.repo) })
	})
}

// UpdateNonUndoable runs fn inside a unit of work that clears the undo
// history when sealed.
func (s *Session) UpdateNonUndoable(ctx context.Context, fn func(repo *graph.Repository) error) (domain.Result, error) {
	return s.update(ctx, "update_non_undoable", func(ctx context.Context) (domain.Result, error) {
		return s.uow.DoNonUndoable(ctx, func() error { return fn(s.repo) })
	})
}

func (s *Session) update(ctx context.Context, op string, run func(ctx context.Context) (domain.Result, error)) (domain.Result, error) {
	var res domain.Result
	err := s.observe(ctx, op, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.checkOpen(); err != nil {
			return err
		}
		var err error
		if res, err = run(ctx); err != nil {
			return err
		}
		return s.afterSeal(ctx)
	})
	return res, err
}

// Undo reverts the most recent undoable unit of work.
func (s *Session) Undo(ctx context.Context) error {
	return s.observe(ctx, "undo", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.checkOpen(); err != nil {
			return err
		}
		if err := s.uow.Undo(); err != nil {
			return err
		}
		return s.afterSeal(ctx)
	})
}

// Redo reapplies the most recently undone unit of work.
func (s *Session) Redo(ctx context.Context) error {
	return s.observe(ctx, "redo", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.checkOpen(); err != nil {
			return err
		}
		if err := s.uow.Redo(); err != nil {
			return err
		}
		return s.afterSeal(ctx)
	})
}

// CanUndo reports whether Undo has an entry to revert.
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.uow.CanUndo()
}

// CanRedo reports whether Redo has an entry to reapply.
func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.uow.CanRedo()
}

// UndoLabel returns the label of the entry Undo would revert.
func (s *Session) UndoLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uow.UndoLabel()
}

// RedoLabel returns the label of the entry Redo would reapply.
func (s *Session) RedoLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uow.RedoLabel()
}

// ReadOnly reports whether the session rejects units of work.
func (s *Session) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uow.ReadOnly()
}

// Value computes a virtual property of h.
func (s *Session) Value(h domain.Handle, name string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.notify.Value(s.repo, h, name)
}

// Pending returns the number of sealed units of work not yet persisted.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// IdleCommit persists queued units of work while no unit of work is open.
// It is a no-op once the session is closed.
func (s *Session) IdleCommit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return nil
	}
	return s.observe(ctx, "idle_commit", s.flushLocked)
}

// MergeJournal merges remote journal entries into a journal backend and
// reloads the session from the merged state. Undo history is cleared.
func (s *Session) MergeJournal(ctx context.Context, entries []journal.Entry) (int, error) {
	var merged int
	err := s.observe(ctx, "merge_journal", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.checkOpen(); err != nil {
			return err
		}
		store, ok := s.backend.(*journal.Store)
		if !ok {
			return domain.UsageErrorf("merge requires the journal backend, session uses %s", s.backend.Kind())
		}
		if err := s.flushLocked(ctx); err != nil {
			return err
		}
		n, err := store.Merge(ctx, entries)
		if err != nil {
			return err
		}
		merged = n
		return s.loadLocked(ctx, s.scope)
	})
	return merged, err
}

// Close flushes pending units of work, disposes the repository and closes
// the backend. Close is idempotent.
func (s *Session) Close() error {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
			<-s.done
		}
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	flushErr := s.flushLocked(context.Background())
	s.closed = true
	s.repo.Dispose()
	if pending := len(s.queue); pending > 0 {
		s.log.Errorw("session closed with unpersisted commits", logger.FieldPending, pending)
	}
	closeErr := s.backend.Close()
	s.log.Infow("session closed")
	return errors.CombineErrors(flushErr, closeErr)
}

func (s *Session) flushLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.IdleCommit(context.Background()); err != nil {
				s.log.Warnw("idle flush failed", logger.FieldPending, s.Pending(), logger.FieldError, err)
			}
		}
	}
}

// afterSeal persists in immediate mode.
func (s *Session) afterSeal(ctx context.Context) error {
	if s.cfg.mode != PersistImmediate {
		return nil
	}
	return s.flushLocked(ctx)
}

// enqueue turns a published event into a durable commit.
func (s *Session) enqueue(ev uow.Event) {
	if ev.Kind == uow.EventLoad || len(ev.Deltas) == 0 {
		return
	}
	repo := s.repo
	c := domain.Commit{
		Origin:   ev.Kind.Origin(),
		Deltas:   ev.Deltas,
		Touched:  repo.ExportHandles(touchedHandles(ev.Deltas)...),
		Deleted:  deletedIdentities(repo, ev.Deltas),
		Snapshot: repo.Export,
	}
	if ev.Entry != nil {
		c.Label = ev.Entry.UndoLabel
		if ev.Kind == uow.EventRedo {
			c.Label = ev.Entry.RedoLabel
		}
	}
	if c.Empty() {
		return
	}
	s.seq++
	c.Seq = s.seq
	s.queue = append(s.queue, c)
}

func deletedIdentities(repo *graph.Repository, deltas []domain.Delta) []domain.GUID {
	seen := make(map[domain.GUID]bool)
	var out []domain.GUID
	for _, d := range deltas {
		if d.Kind != domain.DeltaDelete || seen[d.GUID] {
			continue
		}
		if _, live := repo.Lookup(d.GUID); live {
			continue
		}
		seen[d.GUID] = true
		out = append(out, d.GUID)
	}
	return out
}

// flushLocked persists queued commits in order, stopping at the first
// failure so the failed commit stays queued.
func (s *Session) flushLocked(ctx context.Context) error {
	for len(s.queue) > 0 {
		if s.uow.Depth() > 0 {
			return nil
		}
		c := s.queue[0]
		started := s.clock.Now()
		if err := s.backend.Persist(ctx, c); err != nil {
			s.log.Warnw("persist failed",
				logger.FieldSeq, c.Seq,
				logger.FieldPending, len(s.queue),
				logger.FieldError, err,
			)
			return domain.PersistError(err, s.backend.Kind())
		}
		s.queue = s.queue[1:]
		s.log.Debugw("commit persisted",
			logger.FieldSeq, c.Seq,
			"origin", c.Origin.String(),
			logger.FieldDuration, s.clock.Now().Sub(started).Milliseconds(),
		)
	}
	return nil
}
