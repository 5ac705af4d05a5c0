package journal

import (
	"encoding/json"

	"lexgraph/internal/errors"
	"lexgraph/pkg/domain"
	"lexgraph/pkg/hlc"
)

// cell is the winning value of one (entity, field) pair.
type cell struct {
	value json.RawMessage
	clock hlc.Clock
}

type state map[domain.GUID]map[string]cell

// apply folds e into st under last-writer-wins and reports whether it won.
func (st state) apply(e Entry) bool {
	cells := st[e.GUID]
	if cells == nil {
		cells = make(map[string]cell)
		st[e.GUID] = cells
	}
	cur, ok := cells[e.Field]
	if ok && hlc.Compare(e.Clock, cur.clock) <= 0 {
		return false
	}
	cells[e.Field] = cell{value: e.Value, clock: e.Clock}
	return true
}

func (st state) live(g domain.GUID) bool {
	cells, ok := st[g]
	if !ok {
		return false
	}
	return !isNull(cells[FieldClass].value) && isNull(cells[FieldDeleted].value)
}

type ownerKey struct {
	owner domain.GUID
	field string
}

// rebuild materializes the live records of st. The result depends only on
// the winning cells, so replicas holding the same entries rebuild the same
// graph regardless of arrival order. Concurrent edits that leave ownership
// inconsistent are repaired: a child's own $owner cell decides its owner,
// owning vectors drop members that do not claim them, and a child no vector
// holds becomes unowned. With a schema, its field kinds decide which fields
// own; without one, a field is owning once any child claims it.
func (st state) rebuild(schema *domain.Schema) ([]domain.EntityRecord, error) {
	records := make(map[domain.GUID]*domain.EntityRecord)
	owners := make(map[domain.GUID]ownerRef)
	for g, cells := range st {
		if !st.live(g) {
			continue
		}
		rec := &domain.EntityRecord{GUID: g}
		for field, c := range cells {
			if isNull(c.value) {
				continue
			}
			switch field {
			case FieldDeleted:
			case FieldClass:
				var class string
				if err := json.Unmarshal(c.value, &class); err != nil {
					return nil, errors.Wrapf(err, "decode class of %s", g)
				}
				rec.Class = domain.ClassID(class)
			case FieldOwner:
				var ref ownerRef
				if err := json.Unmarshal(c.value, &ref); err != nil {
					return nil, errors.Wrapf(err, "decode owner of %s", g)
				}
				owners[g] = ref
			default:
				if c.value[0] == '[' {
					var members []domain.GUID
					if err := json.Unmarshal(c.value, &members); err != nil {
						return nil, errors.Wrapf(err, "decode %s.%s", g, field)
					}
					if rec.Objects == nil {
						rec.Objects = make(map[string][]domain.GUID)
					}
					rec.Objects[field] = members
					continue
				}
				v, err := domain.UnmarshalBasic(c.value)
				if err != nil {
					return nil, errors.Wrapf(err, "decode %s.%s", g, field)
				}
				if rec.Basics == nil {
					rec.Basics = make(map[string]any)
				}
				rec.Basics[field] = v
			}
		}
		records[g] = rec
	}

	claims := make(map[ownerKey]map[domain.GUID]bool)
	for child, ref := range owners {
		if _, ok := records[ref.Owner]; !ok {
			continue
		}
		key := ownerKey{ref.Owner, ref.Field}
		if claims[key] == nil {
			claims[key] = make(map[domain.GUID]bool)
		}
		claims[key][child] = true
	}
	// a field claimed by any child of a class is owning for the whole class
	claimedOwning := make(map[domain.ClassID]map[string]bool)
	for key := range claims {
		class := records[key.owner].Class
		if claimedOwning[class] == nil {
			claimedOwning[class] = make(map[string]bool)
		}
		claimedOwning[class][key.field] = true
	}
	owning := func(class domain.ClassID, field string) bool {
		if schema != nil {
			if f, ok := schema.Field(class, field); ok {
				return f.Kind.IsOwning()
			}
		}
		return claimedOwning[class][field]
	}

	for g, rec := range records {
		for field, members := range rec.Objects {
			isOwning := owning(rec.Class, field)
			claimed := claims[ownerKey{g, field}]
			kept := members[:0]
			placed := make(map[domain.GUID]bool, len(members))
			for _, m := range members {
				if _, ok := records[m]; !ok {
					continue
				}
				if isOwning {
					if !claimed[m] || placed[m] {
						continue
					}
					placed[m] = true
				}
				kept = append(kept, m)
			}
			if len(kept) == 0 {
				delete(rec.Objects, field)
				continue
			}
			rec.Objects[field] = kept
			if !isOwning {
				continue
			}
			for i, m := range kept {
				child := records[m]
				child.Owner, child.OwnerField, child.OwnOrd = g, field, i
			}
		}
		if len(rec.Objects) == 0 {
			rec.Objects = nil
		}
	}

	out := make([]domain.EntityRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, *rec)
	}
	domain.SortRecords(out)
	return out, nil
}
