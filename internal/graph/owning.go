package graph

import (
	"slices"

	"lexgraph/pkg/domain"
)

// Append is the index that appends to a sequence.
const Append = -1

func (r *Repository) owningField(parent domain.Handle, name, op string) (*entity, domain.FieldDef, error) {
	e, err := r.live(parent, op)
	if err != nil {
		return nil, domain.FieldDef{}, err
	}
	f, err := r.field(e, name, op)
	if err != nil {
		return nil, domain.FieldDef{}, err
	}
	if !f.Kind.IsOwning() {
		return nil, domain.FieldDef{}, domain.UsageErrorf("%s: field %s.%s is %s, not owning", op, e.class, name, f.Kind)
	}
	return e, f, nil
}

// checkChild validates a prospective member of an owning field of parent.
func (r *Repository) checkChild(parent domain.Handle, f domain.FieldDef, child domain.Handle, op string) error {
	if child == domain.NoHandle {
		return domain.UsageErrorf("%s: nil child for field %s", op, f.Name)
	}
	c, err := r.live(child, op)
	if err != nil {
		return err
	}
	if err := r.schema.CheckMember(f, c.class); err != nil {
		return err
	}
	for a := parent; a != domain.NoHandle; a = r.slots[a].owner {
		if a == child {
			return domain.UsageErrorf("%s: %s cannot own its ancestor %s", op, parent, child)
		}
	}
	return nil
}

// detach removes h from its current owner without deleting it.
func (r *Repository) detach(h domain.Handle) {
	e := r.slots[h]
	if e.owner == domain.NoHandle {
		return
	}
	owner := r.slots[e.owner]
	f, _ := r.schema.Field(owner.class, e.ownerField)
	idx := slices.Index(owner.objects[f.Name], h)
	r.splice(e.owner, f, idx, 1, nil)
}

// AttachOwning makes child owned by parent.field. An owned child is first
// removed from its previous owner. For sequences index is the final position
// of child (Append to append); it is validated against the sequence as it was
// before detaching and clamped afterwards. Replacing an atomic value deletes
// the previous child.
func (r *Repository) AttachOwning(parent domain.Handle, field string, child domain.Handle, index int) error {
	if err := r.writable(); err != nil {
		return err
	}
	e, f, err := r.owningField(parent, field, "attach")
	if err != nil {
		return err
	}
	if err := r.checkChild(parent, f, child, "attach"); err != nil {
		return err
	}
	cur := e.objects[field]
	switch f.Kind {
	case domain.OwningAtomic:
		if index != Append && index != 0 {
			return domain.UsageErrorf("attach: index %d out of range for atomic field %s", index, field)
		}
		if len(cur) == 1 && cur[0] == child {
			return nil
		}
		r.detach(child)
		var old []domain.Handle
		if len(e.objects[field]) == 1 {
			old = []domain.Handle{e.objects[field][0]}
		}
		r.splice(parent, f, 0, len(old), []domain.Handle{child})
		for _, o := range old {
			r.deleteEntity(o)
		}
	case domain.OwningCollection:
		if index != Append && (index < 0 || index > len(cur)) {
			return domain.UsageErrorf("attach: index %d out of range [0,%d]", index, len(cur))
		}
		if slices.Contains(cur, child) {
			return nil
		}
		r.detach(child)
		r.splice(parent, f, len(e.objects[field]), 0, []domain.Handle{child})
	case domain.OwningSequence:
		if index != Append && (index < 0 || index > len(cur)) {
			return domain.UsageErrorf("attach: index %d out of range [0,%d]", index, len(cur))
		}
		r.detach(child)
		n := len(e.objects[field])
		if index == Append || index > n {
			index = n
		}
		r.splice(parent, f, index, 0, []domain.Handle{child})
	}
	return nil
}

// SetOwningAtomic assigns an atomic owning field. A nil child clears it.
// Any previous child is deleted.
func (r *Repository) SetOwningAtomic(parent domain.Handle, field string, child domain.Handle) error {
	if child != domain.NoHandle {
		return r.AttachOwning(parent, field, child, Append)
	}
	if err := r.writable(); err != nil {
		return err
	}
	e, f, err := r.owningField(parent, field, "set")
	if err != nil {
		return err
	}
	if !f.Kind.IsAtomic() {
		return domain.UsageErrorf("set: field %s is %s", field, f.Kind)
	}
	if old := e.objects[field]; len(old) == 1 {
		o := old[0]
		r.splice(parent, f, 0, 1, nil)
		r.deleteEntity(o)
	}
	return nil
}

// RemoveOwning removes and deletes the member at index.
func (r *Repository) RemoveOwning(parent domain.Handle, field string, index int) error {
	if err := r.writable(); err != nil {
		return err
	}
	e, f, err := r.owningField(parent, field, "remove")
	if err != nil {
		return err
	}
	cur := e.objects[field]
	if index < 0 || index >= len(cur) {
		return domain.UsageErrorf("remove: index %d out of range [0,%d)", index, len(cur))
	}
	child := cur[index]
	r.splice(parent, f, index, 1, nil)
	r.deleteEntity(child)
	return nil
}

// MoveOwning moves the member at from to position to within the same
// sequence.
func (r *Repository) MoveOwning(parent domain.Handle, field string, from, to int) error {
	e, f, err := r.owningField(parent, field, "move")
	if err != nil {
		return err
	}
	if f.Kind != domain.OwningSequence {
		return domain.UsageErrorf("move: field %s is %s", field, f.Kind)
	}
	cur := e.objects[field]
	if from < 0 || from >= len(cur) || to < 0 || to >= len(cur) {
		return domain.UsageErrorf("move: positions %d->%d out of range [0,%d)", from, to, len(cur))
	}
	return r.AttachOwning(parent, field, cur[from], to)
}

// ReplaceOwningRange removes cvDel members starting at ivMin and inserts
// items there. Removed members that are not re-inserted are deleted; members
// of items owned elsewhere, including elsewhere in the same field, move.
// Duplicate items collapse to their first occurrence.
func (r *Repository) ReplaceOwningRange(parent domain.Handle, field string, ivMin, cvDel int, items []domain.Handle) error {
	if err := r.writable(); err != nil {
		return err
	}
	e, f, err := r.owningField(parent, field, "replace")
	if err != nil {
		return err
	}
	cur := e.objects[field]
	if ivMin < 0 || cvDel < 0 || ivMin+cvDel > len(cur) {
		return domain.UsageErrorf("replace: range [%d,%d) out of range [0,%d]", ivMin, ivMin+cvDel, len(cur))
	}
	var unique []domain.Handle
	for _, it := range items {
		if err := r.checkChild(parent, f, it, "replace"); err != nil {
			return err
		}
		if !slices.Contains(unique, it) {
			unique = append(unique, it)
		}
	}
	if f.Kind.IsAtomic() {
		// members re-inserted from outside the range move rather than add
		size := len(unique)
		for i, m := range cur {
			if (i < ivMin || i >= ivMin+cvDel) && !slices.Contains(unique, m) {
				size++
			}
		}
		if size > 1 {
			return domain.UsageErrorf("replace: atomic field %s would hold %d members", field, size)
		}
	}

	removed := append([]domain.Handle(nil), cur[ivMin:ivMin+cvDel]...)
	for _, it := range unique {
		if slices.Contains(removed, it) {
			continue
		}
		c := r.slots[it]
		if c.owner == parent && c.ownerField == field && c.ownOrd < ivMin {
			ivMin--
		}
		r.detach(it)
	}
	r.splice(parent, f, ivMin, len(removed), unique)
	for _, old := range removed {
		if !slices.Contains(unique, old) {
			r.deleteEntity(old)
		}
	}
	return nil
}
