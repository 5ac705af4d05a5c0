// Package notify turns committed delta logs into change notifications for
// real fields and for the virtual properties that depend on them.
//
// The dependency table is built once by NewEngine. For each changed field the
// engine walks every matching dependency path backwards from the changed
// entity to the hosts of the virtual property. Virtual notifications are
// hints to re-read the value: IvMin and CvDel are always 0 and CvIns is the
// size of the freshly computed value.
package notify

import (
	"slices"

	"go.uber.org/zap"

	"lexgraph/internal/logger"
	"lexgraph/internal/uow"
	"lexgraph/pkg/domain"
)

// Notification announces that a field of Entity changed.
type Notification struct {
	Entity  domain.Handle
	Field   string
	Virtual bool
	IvMin   int
	CvIns   int
	CvDel   int
}

// Batch carries the notifications of one published event. A load batch has
// no notifications; subscribers re-read everything.
type Batch struct {
	Kind          uow.EventKind
	Notifications []Notification
}

// Subscriber receives batches on the writer goroutine.
type Subscriber func(Batch)

type binding struct {
	prop int
	dep  Dependency
}

type propKey struct {
	class domain.ClassID
	name  string
}

// Engine holds the static dependency table.
type Engine struct {
	schema  *domain.Schema
	props   []VirtualProperty
	byName  map[propKey]int
	byField map[string][]binding
	subs    []Subscriber
	log     *zap.SugaredLogger
}

// NewEngine validates props against schema and indexes their dependencies
// by field name.
func NewEngine(schema *domain.Schema, props ...VirtualProperty) (*Engine, error) {
	e := &Engine{
		schema:  schema,
		byName:  make(map[propKey]int),
		byField: make(map[string][]binding),
		log:     logger.Named("notify"),
	}
	for _, p := range props {
		if err := e.register(p); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) register(p VirtualProperty) error {
	if _, ok := e.schema.Class(p.Class); !ok {
		return domain.ConfigurationErrorf("virtual property %s: unknown class %s", p.Name, p.Class)
	}
	if p.Name == "" {
		return domain.ConfigurationErrorf("virtual property on %s has no name", p.Class)
	}
	if p.Compute == nil {
		return domain.ConfigurationErrorf("virtual property %s.%s has no compute function", p.Class, p.Name)
	}
	if _, ok := e.schema.Field(p.Class, p.Name); ok {
		return domain.ConfigurationErrorf("virtual property %s.%s shadows a real field", p.Class, p.Name)
	}
	key := propKey{p.Class, p.Name}
	if _, dup := e.byName[key]; dup {
		return domain.ConfigurationErrorf("virtual property %s.%s declared twice", p.Class, p.Name)
	}
	if len(p.Deps) == 0 {
		return domain.ConfigurationErrorf("virtual property %s.%s has no dependencies", p.Class, p.Name)
	}
	for _, d := range p.Deps {
		if _, ok := e.schema.Field(d.Class, d.Field); !ok {
			return domain.ConfigurationErrorf("virtual property %s.%s depends on unknown field %s.%s", p.Class, p.Name, d.Class, d.Field)
		}
		for _, s := range d.Path {
			if err := e.checkStep(s); err != nil {
				return domain.ConfigurationErrorf("virtual property %s.%s: %v", p.Class, p.Name, err)
			}
		}
	}

	idx := len(e.props)
	e.props = append(e.props, p)
	e.byName[key] = idx
	for _, d := range p.Deps {
		e.byField[d.Field] = append(e.byField[d.Field], binding{prop: idx, dep: d})
	}
	return nil
}

func (e *Engine) checkStep(s Step) error {
	switch s.Kind {
	case StepOwner:
		return nil
	case StepReferrer:
		for _, c := range e.schema.Classes() {
			if f, ok := e.schema.Field(c, s.Field); ok && f.Kind.IsReference() {
				return nil
			}
		}
		return domain.ConfigurationErrorf("step %s: no class declares reference field %q", s, s.Field)
	default:
		return domain.ConfigurationErrorf("unknown step kind %d", s.Kind)
	}
}

// Properties lists the registered virtual properties.
func (e *Engine) Properties() []VirtualProperty {
	return slices.Clone(e.props)
}

// Property finds the virtual property name visible on class, searching the
// class and its ancestors.
func (e *Engine) Property(class domain.ClassID, name string) (VirtualProperty, bool) {
	for c := class; c != ""; {
		if idx, ok := e.byName[propKey{c, name}]; ok {
			return e.props[idx], true
		}
		def, ok := e.schema.Class(c)
		if !ok {
			break
		}
		c = def.Base
	}
	return VirtualProperty{}, false
}

// Value computes a virtual property of h on demand.
func (e *Engine) Value(r Reader, h domain.Handle, name string) (any, error) {
	class, ok := r.ClassOf(h)
	if !ok {
		return nil, domain.DeletedObjectError(h, "virtual "+name)
	}
	p, ok := e.Property(class, name)
	if !ok {
		return nil, domain.UsageErrorf("class %s has no virtual property %q", class, name)
	}
	return p.Compute(r, h)
}

// Subscribe registers s for every dispatched batch.
func (e *Engine) Subscribe(s Subscriber) {
	e.subs = append(e.subs, s)
}

// Attach dispatches every event published by m.
func (e *Engine) Attach(m *uow.Manager) {
	repo := m.Repository()
	m.Subscribe(func(ev uow.Event) { e.Dispatch(repo, ev) })
}

// Dispatch processes ev and delivers the resulting batch.
func (e *Engine) Dispatch(r Reader, ev uow.Event) {
	b := Batch{Kind: ev.Kind}
	if ev.Kind != uow.EventLoad {
		b.Notifications = e.Process(r, ev.Deltas)
		if len(b.Notifications) == 0 {
			return
		}
	}
	e.log.Debugw("dispatch notifications", "event", ev.Kind.String(), logger.FieldCount, len(b.Notifications))
	for _, s := range e.subs {
		s(b)
	}
}

// Process maps a delta log to notifications. Real-field notifications follow
// log order; virtual notifications are emitted once per host and property.
func (e *Engine) Process(r Reader, deltas []domain.Delta) []Notification {
	var out []Notification
	seen := make(map[propKey]map[domain.Handle]bool)
	for _, d := range deltas {
		switch d.Kind {
		case domain.DeltaSet:
			out = append(out, Notification{Entity: d.Entity, Field: d.Field})
		case domain.DeltaSplice:
			out = append(out, Notification{Entity: d.Entity, Field: d.Field, IvMin: d.IvMin, CvIns: d.CvIns(), CvDel: d.CvDel()})
		default:
			continue
		}

		class := d.Class
		if class == "" {
			class, _ = r.ClassOf(d.Entity)
		}
		for _, b := range e.byField[d.Field] {
			if !e.schema.IsA(class, b.dep.Class) {
				continue
			}
			p := e.props[b.prop]
			key := propKey{p.Class, p.Name}
			for _, h := range e.hosts(r, d, b.dep) {
				hc, ok := r.ClassOf(h)
				if !ok || !e.schema.IsA(hc, p.Class) {
					continue
				}
				if seen[key] == nil {
					seen[key] = make(map[domain.Handle]bool)
				}
				if seen[key][h] {
					continue
				}
				seen[key][h] = true
				out = append(out, Notification{Entity: h, Field: p.Name, Virtual: true, CvIns: e.extent(r, p, h)})
			}
		}
	}
	return out
}

// hosts walks dep.Path backwards from the changed entity. On a referrer hop
// taken directly from the changed relation, the members removed or added by
// the splice are hosts too, so a referrer losing a member or being deleted
// still reaches them.
func (e *Engine) hosts(r Reader, d domain.Delta, dep Dependency) []domain.Handle {
	frontier := []domain.Handle{d.Entity}
	for i := len(dep.Path) - 1; i >= 0; i-- {
		step := dep.Path[i]
		var next []domain.Handle
		for _, x := range frontier {
			switch step.Kind {
			case StepOwner:
				next = append(next, e.children(r, x)...)
			case StepReferrer:
				next = append(next, e.targets(r, x, step.Field)...)
				if i == len(dep.Path)-1 && d.Kind == domain.DeltaSplice && d.Field == step.Field {
					next = append(next, d.Deleted...)
					next = append(next, d.Inserted...)
				}
			}
		}
		frontier = unique(next)
	}
	return frontier
}

func (e *Engine) children(r Reader, h domain.Handle) []domain.Handle {
	class, ok := r.ClassOf(h)
	if !ok {
		return nil
	}
	var out []domain.Handle
	for _, f := range e.schema.Fields(class) {
		if !f.Kind.IsOwning() {
			continue
		}
		v, err := r.Vector(h, f.Name)
		if err != nil {
			continue
		}
		out = append(out, v...)
	}
	return out
}

func (e *Engine) targets(r Reader, h domain.Handle, field string) []domain.Handle {
	class, ok := r.ClassOf(h)
	if !ok {
		return nil
	}
	if f, ok := e.schema.Field(class, field); !ok || !f.Kind.IsReference() {
		return nil
	}
	v, err := r.Vector(h, field)
	if err != nil {
		return nil
	}
	return v
}

func (e *Engine) extent(r Reader, p VirtualProperty, h domain.Handle) int {
	v, err := p.Compute(r, h)
	if err != nil {
		e.log.Debugw("virtual property compute failed", logger.FieldError, err, "property", p.Name)
		return 0
	}
	switch v := v.(type) {
	case nil:
		return 0
	case []domain.Handle:
		return len(v)
	default:
		return 1
	}
}

func unique(hs []domain.Handle) []domain.Handle {
	if len(hs) < 2 {
		return hs
	}
	seen := make(map[domain.Handle]bool, len(hs))
	out := hs[:0]
	for _, h := range hs {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}
