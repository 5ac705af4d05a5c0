package graph

import (
	"slices"

	"lexgraph/internal/errors"
	"lexgraph/pkg/domain"
)

// CheckIntegrity verifies the ownership invariants around the given
// entities: an owned entity sits exactly once in its owner's field at its
// ordinal, every owned child points back at its owner with a contiguous
// ordinal, and object fields only name live entities. Handles that are no
// longer live are skipped.
func (r *Repository) CheckIntegrity(handles ...domain.Handle) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	var errs error
	for _, h := range handles {
		if !r.IsLive(h) {
			continue
		}
		errs = errors.CombineErrors(errs, r.checkEntity(h))
	}
	return errs
}

func (r *Repository) checkEntity(h domain.Handle) error {
	e := r.slots[h]
	if e.owner != domain.NoHandle {
		if !r.IsLive(e.owner) {
			return errors.AssertionFailedf("%s is owned by non-live %s", h, e.owner)
		}
		members := r.slots[e.owner].objects[e.ownerField]
		if n := countHandle(members, h); n != 1 {
			return errors.AssertionFailedf("%s appears %d times in owner %s.%s", h, n, e.owner, e.ownerField)
		}
		if e.ownOrd >= len(members) || members[e.ownOrd] != h {
			return errors.AssertionFailedf("%s has ordinal %d but sits at %d in %s.%s",
				h, e.ownOrd, slices.Index(members, h), e.owner, e.ownerField)
		}
	}
	for _, f := range r.schema.Fields(e.class) {
		members := e.objects[f.Name]
		if f.Kind.IsAtomic() && len(members) > 1 {
			return errors.AssertionFailedf("%s.%s is atomic but holds %d members", h, f.Name, len(members))
		}
		for i, m := range members {
			if !r.IsLive(m) {
				return errors.AssertionFailedf("%s.%s[%d] names non-live %s", h, f.Name, i, m)
			}
			if f.Kind.IsOwning() {
				c := r.slots[m]
				if c.owner != h || c.ownerField != f.Name || c.ownOrd != i {
					return errors.AssertionFailedf("%s.%s[%d]=%s points at owner %s.%s ordinal %d",
						h, f.Name, i, m, c.owner, c.ownerField, c.ownOrd)
				}
			}
			if !f.Kind.AllowsDuplicates() && countHandle(members, m) > 1 {
				return errors.AssertionFailedf("%s.%s holds %s more than once", h, f.Name, m)
			}
		}
	}
	return nil
}

// Validate checks CheckIntegrity over every live entity and additionally
// that no entity is a member of two owning fields and that the incoming
// reference index matches the reference fields.
func (r *Repository) Validate() error {
	live := r.Live()
	if err := r.CheckIntegrity(live...); err != nil {
		return err
	}
	owned := make(map[domain.Handle]int)
	refs := make(map[domain.Handle]map[refKey]int)
	for _, h := range live {
		e := r.slots[h]
		for _, f := range r.schema.Fields(e.class) {
			for _, m := range e.objects[f.Name] {
				switch {
				case f.Kind.IsOwning():
					owned[m]++
				case f.Kind.IsReference():
					if refs[m] == nil {
						refs[m] = make(map[refKey]int)
					}
					refs[m][refKey{src: h, field: f.Name}]++
				}
			}
		}
	}
	for m, n := range owned {
		if n > 1 {
			return errors.AssertionFailedf("%s is owned %d times", m, n)
		}
	}
	if len(refs) != len(r.incoming) {
		return errors.AssertionFailedf("incoming index tracks %d targets, fields name %d", len(r.incoming), len(refs))
	}
	for t, want := range refs {
		got := r.incoming[t]
		if len(got) != len(want) {
			return errors.AssertionFailedf("incoming index for %s has %d sources, want %d", t, len(got), len(want))
		}
		for k, n := range want {
			if got[k] != n {
				return errors.AssertionFailedf("incoming index for %s from %s.%s is %d, want %d", t, k.src, k.field, got[k], n)
			}
		}
	}
	return nil
}

func countHandle(hs []domain.Handle, h domain.Handle) int {
	n := 0
	for _, x := range hs {
		if x == h {
			n++
		}
	}
	return n
}
