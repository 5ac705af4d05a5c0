// Package graph implements the object repository and the ownership/reference
// graph layer. Entities live in an arena addressed by domain.Handle; owner
// back-references are stored on the child as (owner handle, field) pairs and
// incoming references are indexed per target. Every structural change is
// expressed as a domain.Delta handed to the Recorder so it can be undone.
package graph

import (
	"sort"

	"go.uber.org/zap"

	"lexgraph/internal/logger"
	"lexgraph/pkg/domain"
)

type state uint8

const (
	stateUninitialized state = iota + 1
	stateLive
	stateDeleted
)

type entity struct {
	guid       domain.GUID
	class      domain.ClassID
	state      state
	owner      domain.Handle
	ownerField string
	ownOrd     int
	basics     map[string]any
	objects    map[string][]domain.Handle
}

type refKey struct {
	src   domain.Handle
	field string
}

// Recorder receives every delta produced by a mutation. CheckWritable is
// consulted before a mutation starts.
type Recorder interface {
	CheckWritable() error
	Record(d domain.Delta)
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the repository logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Repository) { r.log = l }
}

// WithRecorder installs the recorder at construction time.
func WithRecorder(rec Recorder) Option {
	return func(r *Repository) { r.recorder = rec }
}

// Repository is the authoritative table of entities. It is not safe for
// concurrent use; callers serialize access.
type Repository struct {
	schema   *domain.Schema
	slots    []*entity
	byGUID   map[domain.GUID]domain.Handle
	incoming map[domain.Handle]map[refKey]int
	recorder Recorder
	disposed bool
	log      *zap.SugaredLogger
}

// New creates an empty repository over schema.
func New(schema *domain.Schema, opts ...Option) *Repository {
	r := &Repository{
		schema:   schema,
		slots:    []*entity{nil},
		byGUID:   make(map[domain.GUID]domain.Handle),
		incoming: make(map[domain.Handle]map[refKey]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("graph")
	}
	return r
}

// SetRecorder replaces the recorder. A nil recorder makes every mutation
// writable and unrecorded.
func (r *Repository) SetRecorder(rec Recorder) { r.recorder = rec }

// Schema returns the class registry.
func (r *Repository) Schema() *domain.Schema { return r.schema }

// Dispose tears the repository down; every later call fails with
// domain.ErrDisposedStore.
func (r *Repository) Dispose() {
	r.disposed = true
	r.slots = nil
	r.byGUID = nil
	r.incoming = nil
}

// Disposed reports whether Dispose ran.
func (r *Repository) Disposed() bool { return r.disposed }

func (r *Repository) checkOpen() error {
	if r.disposed {
		return domain.DisposedStoreError("repository")
	}
	return nil
}

func (r *Repository) writable() error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if r.recorder != nil {
		return r.recorder.CheckWritable()
	}
	return nil
}

func (r *Repository) record(d domain.Delta) {
	if r.recorder != nil {
		r.recorder.Record(d)
	}
}

func (r *Repository) slot(h domain.Handle, op string) (*entity, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if !h.Valid() || int(h) >= len(r.slots) {
		return nil, domain.UsageErrorf("%s: invalid handle %s", op, h)
	}
	return r.slots[h], nil
}

// live resolves h to a fully constructed, undeleted entity.
func (r *Repository) live(h domain.Handle, op string) (*entity, error) {
	e, err := r.slot(h, op)
	if err != nil {
		return nil, err
	}
	switch e.state {
	case stateDeleted:
		return nil, domain.DeletedObjectError(h, op)
	case stateUninitialized:
		return nil, domain.UninitializedObjectError(h, op)
	}
	return e, nil
}

func (r *Repository) field(e *entity, name, op string) (domain.FieldDef, error) {
	f, ok := r.schema.Field(e.class, name)
	if !ok {
		return domain.FieldDef{}, domain.UsageErrorf("%s: class %s has no field %s", op, e.class, name)
	}
	return f, nil
}

// Create allocates and completes a new floating entity of class.
func (r *Repository) Create(class domain.ClassID) (domain.Handle, error) {
	h, err := r.Allocate(class)
	if err != nil {
		return domain.NoHandle, err
	}
	if err := r.Complete(h); err != nil {
		return domain.NoHandle, err
	}
	return h, nil
}

// CreateWithGUID is Create with a caller-supplied identity.
func (r *Repository) CreateWithGUID(class domain.ClassID, guid domain.GUID) (domain.Handle, error) {
	h, err := r.allocate(class, guid)
	if err != nil {
		return domain.NoHandle, err
	}
	if err := r.Complete(h); err != nil {
		return domain.NoHandle, err
	}
	return h, nil
}

// Allocate reserves a slot for a new entity of class. Until Complete runs,
// any access to the handle fails with domain.ErrUninitializedObject.
func (r *Repository) Allocate(class domain.ClassID) (domain.Handle, error) {
	return r.allocate(class, domain.NewGUID())
}

func (r *Repository) allocate(class domain.ClassID, guid domain.GUID) (domain.Handle, error) {
	if err := r.writable(); err != nil {
		return domain.NoHandle, err
	}
	c, ok := r.schema.Class(class)
	if !ok {
		return domain.NoHandle, domain.ConfigurationErrorf("create: unknown class %s", class)
	}
	if c.Abstract {
		return domain.NoHandle, domain.UsageErrorf("create: class %s is abstract", class)
	}
	if guid == domain.NilGUID {
		return domain.NoHandle, domain.UsageErrorf("create: nil identity")
	}
	if _, dup := r.byGUID[guid]; dup {
		return domain.NoHandle, domain.UsageErrorf("create: identity %s already in use", guid)
	}
	if uint64(len(r.slots)) > uint64(^uint32(0)) {
		return domain.NoHandle, domain.UsageErrorf("create: handle space exhausted")
	}
	r.slots = append(r.slots, &entity{guid: guid, class: class, state: stateUninitialized})
	return domain.Handle(len(r.slots) - 1), nil
}

// Complete finishes construction of an allocated entity and records its
// creation.
func (r *Repository) Complete(h domain.Handle) error {
	if err := r.writable(); err != nil {
		return err
	}
	e, err := r.slot(h, "complete")
	if err != nil {
		return err
	}
	if e.state != stateUninitialized {
		return domain.UsageErrorf("complete: entity %s is already constructed", h)
	}
	r.revive(h, e)
	r.record(domain.Delta{Kind: domain.DeltaCreate, Entity: h, GUID: e.guid, Class: e.class})
	return nil
}

func (r *Repository) revive(h domain.Handle, e *entity) {
	e.state = stateLive
	if e.basics == nil {
		e.basics = make(map[string]any)
	}
	if e.objects == nil {
		e.objects = make(map[string][]domain.Handle)
	}
	r.byGUID[e.guid] = h
}

// Info describes a live entity.
type Info struct {
	Handle     domain.Handle
	GUID       domain.GUID
	Class      domain.ClassID
	Owner      domain.Handle
	OwnerField string
	OwnOrd     int
}

// Info returns identity and ownership data for h.
func (r *Repository) Info(h domain.Handle) (Info, error) {
	e, err := r.live(h, "info")
	if err != nil {
		return Info{}, err
	}
	return Info{Handle: h, GUID: e.guid, Class: e.class, Owner: e.owner, OwnerField: e.ownerField, OwnOrd: e.ownOrd}, nil
}

// IsLive reports whether h addresses a live entity.
func (r *Repository) IsLive(h domain.Handle) bool {
	if r.disposed || !h.Valid() || int(h) >= len(r.slots) {
		return false
	}
	return r.slots[h].state == stateLive
}

// ClassOf returns the class of a live entity.
func (r *Repository) ClassOf(h domain.Handle) (domain.ClassID, bool) {
	if !r.IsLive(h) {
		return "", false
	}
	return r.slots[h].class, true
}

// GUIDOf returns the identity of h, including deleted entities.
func (r *Repository) GUIDOf(h domain.Handle) (domain.GUID, bool) {
	if r.disposed || !h.Valid() || int(h) >= len(r.slots) {
		return domain.NilGUID, false
	}
	return r.slots[h].guid, true
}

// Lookup resolves a live entity by identity.
func (r *Repository) Lookup(guid domain.GUID) (domain.Handle, bool) {
	if r.disposed {
		return domain.NoHandle, false
	}
	h, ok := r.byGUID[guid]
	return h, ok
}

// Owner returns the owner of h and the owning field, or NoHandle when h is
// floating.
func (r *Repository) Owner(h domain.Handle) (domain.Handle, string, error) {
	e, err := r.live(h, "owner")
	if err != nil {
		return domain.NoHandle, "", err
	}
	return e.owner, e.ownerField, nil
}

// Basic reads a basic field.
func (r *Repository) Basic(h domain.Handle, name string) (any, error) {
	e, err := r.live(h, "basic")
	if err != nil {
		return nil, err
	}
	f, err := r.field(e, name, "basic")
	if err != nil {
		return nil, err
	}
	if f.Kind != domain.Basic {
		return nil, domain.UsageErrorf("basic: field %s.%s is %s", e.class, name, f.Kind)
	}
	return e.basics[name], nil
}

// Atom reads an atomic object field.
func (r *Repository) Atom(h domain.Handle, name string) (domain.Handle, error) {
	e, err := r.live(h, "atom")
	if err != nil {
		return domain.NoHandle, err
	}
	f, err := r.field(e, name, "atom")
	if err != nil {
		return domain.NoHandle, err
	}
	if !f.Kind.IsAtomic() {
		return domain.NoHandle, domain.UsageErrorf("atom: field %s.%s is %s", e.class, name, f.Kind)
	}
	if v := e.objects[name]; len(v) == 1 {
		return v[0], nil
	}
	return domain.NoHandle, nil
}

// Vector returns a copy of the members of any object field.
func (r *Repository) Vector(h domain.Handle, name string) ([]domain.Handle, error) {
	e, err := r.live(h, "vector")
	if err != nil {
		return nil, err
	}
	f, err := r.field(e, name, "vector")
	if err != nil {
		return nil, err
	}
	if !f.Kind.IsObject() {
		return nil, domain.UsageErrorf("vector: field %s.%s is basic", e.class, name)
	}
	return append([]domain.Handle(nil), e.objects[name]...), nil
}

// Referrer is one reference field naming an entity.
type Referrer struct {
	Source domain.Handle
	Field  string
	Count  int
}

// Referrers lists every reference field that names h, ordered by source
// handle then field.
func (r *Repository) Referrers(h domain.Handle) ([]Referrer, error) {
	if _, err := r.live(h, "referrers"); err != nil {
		return nil, err
	}
	refs := r.incoming[h]
	out := make([]Referrer, 0, len(refs))
	for k, n := range refs {
		out = append(out, Referrer{Source: k.src, Field: k.field, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Field < out[j].Field
	})
	return out, nil
}

// Live lists every live handle in ascending order.
func (r *Repository) Live() []domain.Handle {
	if r.disposed {
		return nil
	}
	out := make([]domain.Handle, 0, len(r.byGUID))
	for i := 1; i < len(r.slots); i++ {
		if r.slots[i].state == stateLive {
			out = append(out, domain.Handle(i))
		}
	}
	return out
}

// Count returns the number of live entities.
func (r *Repository) Count() int {
	if r.disposed {
		return 0
	}
	return len(r.byGUID)
}

// SetBasic assigns a basic field.
func (r *Repository) SetBasic(h domain.Handle, name string, value any) error {
	if err := r.writable(); err != nil {
		return err
	}
	e, err := r.live(h, "set")
	if err != nil {
		return err
	}
	f, err := r.field(e, name, "set")
	if err != nil {
		return err
	}
	if f.Kind != domain.Basic {
		return domain.UsageErrorf("set: field %s.%s is %s", e.class, name, f.Kind)
	}
	v, err := domain.NormalizeBasic(value)
	if err != nil {
		return err
	}
	old := e.basics[name]
	if domain.BasicEqual(old, v) {
		return nil
	}
	setBasic(e, name, v)
	r.record(domain.Delta{Kind: domain.DeltaSet, Entity: h, GUID: e.guid, Class: e.class, Field: name, OldValue: old, NewValue: v})
	return nil
}

func setBasic(e *entity, name string, v any) {
	if v == nil {
		delete(e.basics, name)
		return
	}
	e.basics[name] = v
}

// RedeclareField changes the kind of a field. It fails with
// domain.ErrUsage when any live entity has the field populated.
func (r *Repository) RedeclareField(class domain.ClassID, name string, kind domain.FieldKind) error {
	if err := r.writable(); err != nil {
		return err
	}
	for _, h := range r.Live() {
		e := r.slots[h]
		if !r.schema.IsA(e.class, class) {
			continue
		}
		if len(e.objects[name]) > 0 || e.basics[name] != nil {
			return domain.UsageErrorf("redeclare: field %s.%s is populated on %s", class, name, h)
		}
	}
	return r.schema.Redeclare(class, name, kind)
}
