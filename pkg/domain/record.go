package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"

	"github.com/cockroachdb/errors"
)

// EntityRecord is the backend-neutral form of one live entity. Object fields
// hold member identities in field order; ownership is carried both by the
// owner's field and by the child's Owner/OwnerField/OwnOrd triple.
type EntityRecord struct {
	GUID       GUID              `json:"guid"`
	Class      ClassID           `json:"class"`
	Owner      GUID              `json:"owner"`
	OwnerField string            `json:"owner_field,omitempty"`
	OwnOrd     int               `json:"own_ord,omitempty"`
	Basics     map[string]any    `json:"basics,omitempty"`
	Objects    map[string][]GUID `json:"objects,omitempty"`
}

// Owned reports whether the record names an owner.
func (r EntityRecord) Owned() bool { return r.Owner != NilGUID }

// UnmarshalJSON decodes basic values with NormalizeBasic so numbers survive a
// round trip as int64 or float64.
func (r *EntityRecord) UnmarshalJSON(data []byte) error {
	type plain EntityRecord
	var shadow struct {
		plain
		Basics map[string]json.RawMessage `json:"basics,omitempty"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	*r = EntityRecord(shadow.plain)
	r.Basics = nil
	if len(shadow.Basics) > 0 {
		r.Basics = make(map[string]any, len(shadow.Basics))
		for name, raw := range shadow.Basics {
			v, err := UnmarshalBasic(raw)
			if err != nil {
				return errors.Wrapf(err, "record %s field %s", r.GUID, name)
			}
			r.Basics[name] = v
		}
	}
	return nil
}

// NormalizeBasic coerces a scalar to the canonical basic value types: nil,
// bool, string, int64 or float64.
func NormalizeBasic(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, UsageErrorf("invalid number %q", x.String())
		}
		return f, nil
	default:
		return nil, UsageErrorf("unsupported basic value of type %T", v)
	}
}

// UnmarshalBasic decodes a JSON scalar into a canonical basic value.
func UnmarshalBasic(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "decode basic value")
	}
	return NormalizeBasic(v)
}

// BasicEqual compares canonical basic values.
func BasicEqual(a, b any) bool {
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
		}
	}
	return a == b
}

// SortRecords orders records by identity so snapshots are stable.
func SortRecords(records []EntityRecord) {
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].GUID[:], records[j].GUID[:]) < 0
	})
}

// SortGUIDs orders identities bytewise.
func SortGUIDs(ids []GUID) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
}

// Scope names the subset of classes a session loads. An empty class list
// loads everything.
type Scope struct {
	Name    string
	Classes []ClassID
}

// ScopeAll loads every entity.
var ScopeAll = Scope{Name: "all"}

// IsAll reports whether the scope selects every entity.
func (s Scope) IsAll() bool { return len(s.Classes) == 0 }

// Filter returns the records of the scoped classes together with their
// ownership ancestors and descendants. Record order is preserved.
func (s Scope) Filter(records []EntityRecord) []EntityRecord {
	if s.IsAll() {
		return records
	}
	want := make(map[ClassID]bool, len(s.Classes))
	for _, c := range s.Classes {
		want[c] = true
	}
	byGUID := make(map[GUID]int, len(records))
	children := make(map[GUID][]GUID)
	for i, r := range records {
		byGUID[r.GUID] = i
		if r.Owned() {
			children[r.Owner] = append(children[r.Owner], r.GUID)
		}
	}
	keep := make(map[GUID]bool)
	var stack []GUID
	for _, r := range records {
		if !want[r.Class] {
			continue
		}
		stack = append(stack, r.GUID)
		for owner := r.Owner; owner != NilGUID && !keep[owner]; {
			i, ok := byGUID[owner]
			if !ok {
				break
			}
			keep[owner] = true
			owner = records[i].Owner
		}
	}
	visited := make(map[GUID]bool)
	for len(stack) > 0 {
		g := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[g] {
			continue
		}
		visited[g] = true
		keep[g] = true
		stack = append(stack, children[g]...)
	}
	out := make([]EntityRecord, 0, len(keep))
	for _, r := range records {
		if keep[r.GUID] {
			out = append(out, r)
		}
	}
	return out
}
