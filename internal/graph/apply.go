package graph

import (
	"slices"

	"lexgraph/internal/errors"
	"lexgraph/pkg/domain"
)

// splice replaces cvDel members at ivMin of an object field with inserted
// and records the change. Inserted owning members must be floating.
func (r *Repository) splice(h domain.Handle, f domain.FieldDef, ivMin, cvDel int, inserted []domain.Handle) {
	e := r.slots[h]
	deleted := append([]domain.Handle(nil), e.objects[f.Name][ivMin:ivMin+cvDel]...)
	inserted = append([]domain.Handle(nil), inserted...)
	if len(deleted) == 0 && len(inserted) == 0 {
		return
	}
	r.applySplice(h, e, f, ivMin, deleted, inserted)
	r.record(domain.Delta{
		Kind:     domain.DeltaSplice,
		Entity:   h,
		GUID:     e.guid,
		Class:    e.class,
		Field:    f.Name,
		IvMin:    ivMin,
		Inserted: inserted,
		Deleted:  deleted,
	})
}

func (r *Repository) applySplice(h domain.Handle, e *entity, f domain.FieldDef, ivMin int, deleted, inserted []domain.Handle) {
	cur := e.objects[f.Name]
	next := make([]domain.Handle, 0, len(cur)-len(deleted)+len(inserted))
	next = append(next, cur[:ivMin]...)
	next = append(next, inserted...)
	next = append(next, cur[ivMin+len(deleted):]...)
	if len(next) == 0 {
		delete(e.objects, f.Name)
	} else {
		e.objects[f.Name] = next
	}

	switch {
	case f.Kind.IsOwning():
		for _, c := range deleted {
			child := r.slots[c]
			child.owner, child.ownerField, child.ownOrd = domain.NoHandle, "", 0
		}
		for i := ivMin; i < len(next); i++ {
			child := r.slots[next[i]]
			child.owner, child.ownerField, child.ownOrd = h, f.Name, i
		}
	case f.Kind.IsReference():
		key := refKey{src: h, field: f.Name}
		for _, t := range deleted {
			r.dropIncoming(t, key)
		}
		for _, t := range inserted {
			refs := r.incoming[t]
			if refs == nil {
				refs = make(map[refKey]int)
				r.incoming[t] = refs
			}
			refs[key]++
		}
	}
}

func (r *Repository) dropIncoming(target domain.Handle, key refKey) {
	refs := r.incoming[target]
	if refs[key] <= 1 {
		delete(refs, key)
		if len(refs) == 0 {
			delete(r.incoming, target)
		}
		return
	}
	refs[key]--
}

func (r *Repository) tombstone(h domain.Handle, e *entity) {
	e.state = stateDeleted
	e.owner, e.ownerField, e.ownOrd = domain.NoHandle, "", 0
	delete(r.byGUID, e.guid)
}

// Apply re-applies a recorded delta without recording it. The unit-of-work
// manager uses it to replay inverse logs on undo and forward logs on redo.
// The delta must match the current state exactly.
func (r *Repository) Apply(d domain.Delta) error {
	e, err := r.slot(d.Entity, "apply")
	if err != nil {
		return err
	}
	switch d.Kind {
	case domain.DeltaCreate:
		if e.state == stateLive {
			return errors.AssertionFailedf("apply: create of live entity %s", d.Entity)
		}
		r.revive(d.Entity, e)
	case domain.DeltaDelete:
		if e.state != stateLive {
			return errors.AssertionFailedf("apply: delete of non-live entity %s", d.Entity)
		}
		r.tombstone(d.Entity, e)
	case domain.DeltaSet:
		if e.state != stateLive {
			return domain.DeletedObjectError(d.Entity, "apply")
		}
		setBasic(e, d.Field, d.NewValue)
	case domain.DeltaSplice:
		if e.state != stateLive {
			return domain.DeletedObjectError(d.Entity, "apply")
		}
		f, ok := r.schema.Field(e.class, d.Field)
		if !ok || !f.Kind.IsObject() {
			return errors.AssertionFailedf("apply: %s has no object field %s", e.class, d.Field)
		}
		cur := e.objects[d.Field]
		end := d.IvMin + len(d.Deleted)
		if d.IvMin < 0 || end > len(cur) || !slices.Equal(cur[d.IvMin:end], d.Deleted) {
			return errors.AssertionFailedf("apply: splice on %s.%s does not match current members", d.Entity, d.Field)
		}
		for _, m := range d.Inserted {
			if !r.IsLive(m) {
				return errors.AssertionFailedf("apply: splice inserts non-live %s", m)
			}
		}
		r.applySplice(d.Entity, e, f, d.IvMin, d.Deleted, d.Inserted)
	default:
		return errors.AssertionFailedf("apply: unknown delta kind %d", d.Kind)
	}
	return nil
}
