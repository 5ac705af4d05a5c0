package graph

import (
	"slices"

	"lexgraph/pkg/domain"
)

func (r *Repository) referenceField(src domain.Handle, name, op string) (*entity, domain.FieldDef, error) {
	e, err := r.live(src, op)
	if err != nil {
		return nil, domain.FieldDef{}, err
	}
	f, err := r.field(e, name, op)
	if err != nil {
		return nil, domain.FieldDef{}, err
	}
	if !f.Kind.IsReference() {
		return nil, domain.FieldDef{}, domain.UsageErrorf("%s: field %s.%s is %s, not a reference", op, e.class, name, f.Kind)
	}
	return e, f, nil
}

func (r *Repository) checkTarget(f domain.FieldDef, target domain.Handle, op string) error {
	if target == domain.NoHandle {
		return domain.UsageErrorf("%s: nil target for field %s", op, f.Name)
	}
	t, err := r.live(target, op)
	if err != nil {
		return err
	}
	return r.schema.CheckMember(f, t.class)
}

// AttachReference adds target to a reference field. Atomic fields are
// replaced; collections ignore targets already present; sequences insert at
// index (Append to append) and may hold duplicates.
func (r *Repository) AttachReference(src domain.Handle, field string, target domain.Handle, index int) error {
	if err := r.writable(); err != nil {
		return err
	}
	e, f, err := r.referenceField(src, field, "reference")
	if err != nil {
		return err
	}
	if err := r.checkTarget(f, target, "reference"); err != nil {
		return err
	}
	cur := e.objects[field]
	switch f.Kind {
	case domain.ReferenceAtomic:
		if index != Append && index != 0 {
			return domain.UsageErrorf("reference: index %d out of range for atomic field %s", index, field)
		}
		if len(cur) == 1 && cur[0] == target {
			return nil
		}
		r.splice(src, f, 0, len(cur), []domain.Handle{target})
	case domain.ReferenceCollection:
		if index != Append && (index < 0 || index > len(cur)) {
			return domain.UsageErrorf("reference: index %d out of range [0,%d]", index, len(cur))
		}
		if slices.Contains(cur, target) {
			return nil
		}
		r.splice(src, f, len(cur), 0, []domain.Handle{target})
	case domain.ReferenceSequence:
		if index == Append {
			index = len(cur)
		}
		if index < 0 || index > len(cur) {
			return domain.UsageErrorf("reference: index %d out of range [0,%d]", index, len(cur))
		}
		r.splice(src, f, index, 0, []domain.Handle{target})
	}
	return nil
}

// DetachReference removes every occurrence of target from a reference field.
// The target itself is never deleted.
func (r *Repository) DetachReference(src domain.Handle, field string, target domain.Handle) error {
	if err := r.writable(); err != nil {
		return err
	}
	e, f, err := r.referenceField(src, field, "unreference")
	if err != nil {
		return err
	}
	if target == domain.NoHandle {
		return domain.UsageErrorf("unreference: nil target for field %s", field)
	}
	if _, err := r.live(target, "unreference"); err != nil {
		return err
	}
	cur := e.objects[field]
	for i := len(cur) - 1; i >= 0; i-- {
		if cur[i] == target {
			r.splice(src, f, i, 1, nil)
			cur = e.objects[field]
		}
	}
	return nil
}

// ReplaceReferenceRange replaces cvDel members at ivMin with items. In
// collections, items already present outside the range and duplicates within
// items are dropped.
func (r *Repository) ReplaceReferenceRange(src domain.Handle, field string, ivMin, cvDel int, items []domain.Handle) error {
	if err := r.writable(); err != nil {
		return err
	}
	e, f, err := r.referenceField(src, field, "replace")
	if err != nil {
		return err
	}
	cur := e.objects[field]
	if ivMin < 0 || cvDel < 0 || ivMin+cvDel > len(cur) {
		return domain.UsageErrorf("replace: range [%d,%d) out of range [0,%d]", ivMin, ivMin+cvDel, len(cur))
	}
	for _, it := range items {
		if err := r.checkTarget(f, it, "replace"); err != nil {
			return err
		}
	}
	var insert []domain.Handle
	if f.Kind.AllowsDuplicates() {
		insert = append(insert, items...)
	} else {
		kept := append(append([]domain.Handle(nil), cur[:ivMin]...), cur[ivMin+cvDel:]...)
		for _, it := range items {
			if !slices.Contains(kept, it) && !slices.Contains(insert, it) {
				insert = append(insert, it)
			}
		}
	}
	if f.Kind.IsAtomic() && len(cur)-cvDel+len(insert) > 1 {
		return domain.UsageErrorf("replace: atomic field %s would hold %d members", field, len(cur)-cvDel+len(insert))
	}
	r.splice(src, f, ivMin, cvDel, insert)
	return nil
}
