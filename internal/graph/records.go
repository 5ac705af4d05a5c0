package graph

import (
	"maps"
	"slices"

	"lexgraph/internal/errors"
	"lexgraph/internal/logger"
	"lexgraph/pkg/domain"
)

// Export returns the record of every live entity in handle order.
func (r *Repository) Export() []domain.EntityRecord {
	return r.ExportHandles(r.Live()...)
}

// ExportHandles returns records for the live entities among handles.
func (r *Repository) ExportHandles(handles ...domain.Handle) []domain.EntityRecord {
	out := make([]domain.EntityRecord, 0, len(handles))
	for _, h := range handles {
		if !r.IsLive(h) {
			continue
		}
		out = append(out, r.exportRecord(h))
	}
	return out
}

func (r *Repository) exportRecord(h domain.Handle) domain.EntityRecord {
	e := r.slots[h]
	rec := domain.EntityRecord{GUID: e.guid, Class: e.class, OwnerField: e.ownerField, OwnOrd: e.ownOrd}
	if e.owner != domain.NoHandle {
		rec.Owner = r.slots[e.owner].guid
	}
	if len(e.basics) > 0 {
		rec.Basics = maps.Clone(e.basics)
	}
	if len(e.objects) > 0 {
		rec.Objects = make(map[string][]domain.GUID, len(e.objects))
		for name, members := range e.objects {
			ids := make([]domain.GUID, len(members))
			for i, m := range members {
				ids[i] = r.slots[m].guid
			}
			rec.Objects[name] = ids
		}
	}
	return rec
}

// ImportStats summarizes an Import.
type ImportStats struct {
	Entities       int
	DroppedRefs    int
	UnknownFields  int
	OrphanedOwners int
}

// Import loads records with fresh handles and their persisted identities.
// Ownership is taken from the owners' object fields; references to entities
// absent from records are dropped. Nothing is recorded, so Import is meant
// for populating a repository inside a non-undoable load.
func (r *Repository) Import(records []domain.EntityRecord) (ImportStats, error) {
	var stats ImportStats
	if err := r.writable(); err != nil {
		return stats, err
	}
	start := len(r.slots)
	handles := make(map[domain.GUID]domain.Handle, len(records))
	for _, rec := range records {
		if _, ok := r.schema.Class(rec.Class); !ok {
			r.rollbackImport(start, handles)
			return stats, domain.ConfigurationErrorf("import: %s has unknown class %s", rec.GUID, rec.Class)
		}
		if _, dup := handles[rec.GUID]; dup {
			r.rollbackImport(start, handles)
			return stats, domain.UsageErrorf("import: identity %s appears twice", rec.GUID)
		}
		h, err := r.allocate(rec.Class, rec.GUID)
		if err != nil {
			r.rollbackImport(start, handles)
			return stats, err
		}
		handles[rec.GUID] = h
	}

	for _, rec := range records {
		h := handles[rec.GUID]
		e := r.slots[h]
		e.basics = make(map[string]any, len(rec.Basics))
		e.objects = make(map[string][]domain.Handle, len(rec.Objects))
		for name, v := range rec.Basics {
			f, ok := r.schema.Field(rec.Class, name)
			if !ok || f.Kind != domain.Basic {
				stats.UnknownFields++
				continue
			}
			nv, err := domain.NormalizeBasic(v)
			if err != nil {
				r.rollbackImport(start, handles)
				return stats, errors.Wrapf(err, "import: %s.%s", rec.GUID, name)
			}
			if nv != nil {
				e.basics[name] = nv
			}
		}
		for name, ids := range rec.Objects {
			f, ok := r.schema.Field(rec.Class, name)
			if !ok || !f.Kind.IsObject() {
				stats.UnknownFields++
				continue
			}
			var members []domain.Handle
			for _, id := range ids {
				m, ok := handles[id]
				if !ok {
					if existing, live := r.byGUID[id]; live && f.Kind.IsReference() {
						m = existing
					} else {
						stats.DroppedRefs++
						continue
					}
				}
				if !f.Kind.AllowsDuplicates() && slices.Contains(members, m) {
					continue
				}
				members = append(members, m)
			}
			if f.Kind.IsAtomic() && len(members) > 1 {
				r.rollbackImport(start, handles)
				return stats, domain.UsageErrorf("import: atomic field %s.%s holds %d members", rec.GUID, name, len(members))
			}
			if len(members) > 0 {
				e.objects[name] = members
			}
		}
	}

	for _, rec := range records {
		h := handles[rec.GUID]
		e := r.slots[h]
		for _, f := range r.schema.Fields(e.class) {
			members := e.objects[f.Name]
			if !f.Kind.IsOwning() {
				continue
			}
			for i, c := range members {
				child := r.slots[c]
				if child.owner != domain.NoHandle {
					err := domain.UsageErrorf("import: %s is owned by both %s and %s", child.guid, r.slots[child.owner].guid, rec.GUID)
					r.rollbackImport(start, handles)
					return stats, err
				}
				if err := r.schema.CheckMember(f, child.class); err != nil {
					err = errors.Wrapf(err, "import: %s.%s", rec.GUID, f.Name)
					r.rollbackImport(start, handles)
					return stats, err
				}
				child.owner, child.ownerField, child.ownOrd = h, f.Name, i
			}
		}
	}

	for _, rec := range records {
		h := handles[rec.GUID]
		e := r.slots[h]
		if rec.Owned() && e.owner == domain.NoHandle {
			stats.OrphanedOwners++
		}
		for _, f := range r.schema.Fields(e.class) {
			if !f.Kind.IsReference() {
				continue
			}
			key := refKey{src: h, field: f.Name}
			for _, t := range e.objects[f.Name] {
				refs := r.incoming[t]
				if refs == nil {
					refs = make(map[refKey]int)
					r.incoming[t] = refs
				}
				refs[key]++
			}
		}
		r.revive(h, e)
		stats.Entities++
	}
	if err := r.checkAcyclic(start); err != nil {
		r.rollbackImport(start, handles)
		return ImportStats{}, err
	}
	if stats.DroppedRefs > 0 || stats.UnknownFields > 0 || stats.OrphanedOwners > 0 {
		r.log.Warnw("import adjusted records",
			logger.FieldCount, stats.Entities,
			"dropped_refs", stats.DroppedRefs,
			"unknown_fields", stats.UnknownFields,
			"orphaned", stats.OrphanedOwners)
	}
	return stats, nil
}

func (r *Repository) checkAcyclic(start int) error {
	for i := start; i < len(r.slots); i++ {
		steps := 0
		for a := r.slots[i].owner; a != domain.NoHandle; a = r.slots[a].owner {
			steps++
			if a == domain.Handle(i) || steps > len(r.slots) {
				return domain.UsageErrorf("import: ownership cycle through %s", r.slots[i].guid)
			}
		}
	}
	return nil
}

func (r *Repository) rollbackImport(start int, handles map[domain.GUID]domain.Handle) {
	for i := start; i < len(r.slots); i++ {
		e := r.slots[i]
		if e.state == stateLive {
			delete(r.byGUID, e.guid)
		}
	}
	for t, refs := range r.incoming {
		for k := range refs {
			if int(k.src) >= start {
				delete(refs, k)
			}
		}
		if len(refs) == 0 || int(t) >= start {
			delete(r.incoming, t)
		}
	}
	for g := range handles {
		delete(r.byGUID, g)
	}
	r.slots = r.slots[:start]
}
