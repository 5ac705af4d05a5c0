package domain

// DeltaKind classifies a reversible change.
type DeltaKind uint8

// Delta kinds.
const (
	// DeltaCreate brings an entity slot to life.
	DeltaCreate DeltaKind = iota + 1
	// DeltaDelete turns an entity slot into a tombstone. All of its object
	// fields and incoming links are removed by earlier splices.
	DeltaDelete
	// DeltaSplice replaces Deleted with Inserted at IvMin in an object field.
	// Atomic fields are splices of length zero or one at IvMin 0.
	DeltaSplice
	// DeltaSet changes a basic field from OldValue to NewValue.
	DeltaSet
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaCreate:
		return "create"
	case DeltaDelete:
		return "delete"
	case DeltaSplice:
		return "splice"
	case DeltaSet:
		return "set"
	default:
		return "unknown"
	}
}

// Delta is one self-describing reversible change recorded by the graph layer.
type Delta struct {
	Kind     DeltaKind
	Entity   Handle
	GUID     GUID
	Class    ClassID
	Field    string
	IvMin    int
	Inserted []Handle
	Deleted  []Handle
	OldValue any
	NewValue any
}

// CvIns is the number of inserted members.
func (d Delta) CvIns() int { return len(d.Inserted) }

// CvDel is the number of removed members.
func (d Delta) CvDel() int { return len(d.Deleted) }

// Inverse returns the delta that undoes d.
func (d Delta) Inverse() Delta {
	inv := d
	switch d.Kind {
	case DeltaCreate:
		inv.Kind = DeltaDelete
	case DeltaDelete:
		inv.Kind = DeltaCreate
	case DeltaSplice:
		inv.Inserted, inv.Deleted = d.Deleted, d.Inserted
	case DeltaSet:
		inv.OldValue, inv.NewValue = d.NewValue, d.OldValue
	}
	return inv
}

// InverseLog returns the inverses of deltas in reverse order, which is the
// log that undoes the whole batch.
func InverseLog(deltas []Delta) []Delta {
	out := make([]Delta, len(deltas))
	for i, d := range deltas {
		out[len(deltas)-1-i] = d.Inverse()
	}
	return out
}
