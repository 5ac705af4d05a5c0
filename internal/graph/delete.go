package graph

import (
	"sort"

	"lexgraph/pkg/domain"
)

// Delete removes h together with everything it owns, transitively, and
// unlinks every reference to any removed entity. An entity owned through an
// atomic or sequence field cannot be deleted directly; remove or replace it
// through its owner instead.
func (r *Repository) Delete(h domain.Handle) error {
	if err := r.writable(); err != nil {
		return err
	}
	e, err := r.live(h, "delete")
	if err != nil {
		return err
	}
	if e.owner != domain.NoHandle {
		owner := r.slots[e.owner]
		f, _ := r.schema.Field(owner.class, e.ownerField)
		if !f.Kind.IsCollection() {
			return domain.UsageErrorf("delete: %s is owned by %s.%s (%s); remove it through its owner", h, e.owner, f.Name, f.Kind)
		}
	}
	r.deleteEntity(h)
	return nil
}

// deleteEntity cascades the deletion of h. Every step is a recorded delta, so
// a reversed replay restores the subtree and its links.
func (r *Repository) deleteEntity(h domain.Handle) {
	e := r.slots[h]
	if e.state != stateLive {
		return
	}
	r.detach(h)

	for _, f := range r.schema.Fields(e.class) {
		if !f.Kind.IsOwning() {
			continue
		}
		children := append([]domain.Handle(nil), e.objects[f.Name]...)
		if len(children) == 0 {
			continue
		}
		r.splice(h, f, 0, len(children), nil)
		for _, c := range children {
			r.deleteEntity(c)
		}
	}

	r.unlinkIncoming(h)

	for _, f := range r.schema.Fields(e.class) {
		if !f.Kind.IsReference() {
			continue
		}
		if n := len(e.objects[f.Name]); n > 0 {
			r.splice(h, f, 0, n, nil)
		}
	}

	r.tombstone(h, e)
	r.record(domain.Delta{Kind: domain.DeltaDelete, Entity: h, GUID: e.guid, Class: e.class})
}

// unlinkIncoming removes h from every reference field that names it, in a
// deterministic order.
func (r *Repository) unlinkIncoming(h domain.Handle) {
	keys := make([]refKey, 0, len(r.incoming[h]))
	for k := range r.incoming[h] {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].src != keys[j].src {
			return keys[i].src < keys[j].src
		}
		return keys[i].field < keys[j].field
	})
	for _, k := range keys {
		src := r.slots[k.src]
		f, _ := r.schema.Field(src.class, k.field)
		for i := len(src.objects[k.field]) - 1; i >= 0; i-- {
			if src.objects[k.field][i] == h {
				r.splice(k.src, f, i, 1, nil)
			}
		}
	}
}
