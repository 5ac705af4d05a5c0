package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"lexgraph/internal/errors"
	"lexgraph/pkg/domain"
	"lexgraph/pkg/hlc"
)

// Reserved field names. Every other field is a schema field: a JSON array
// holds an object vector, any other JSON value a basic.
const (
	FieldClass   = "$class"
	FieldOwner   = "$owner"
	FieldDeleted = "$deleted"
)

var (
	nullValue = json.RawMessage("null")
	trueValue = json.RawMessage("true")
)

// Entry is one journaled field change. Seq is local to the journal that
// holds the entry; Clock orders it across replicas.
type Entry struct {
	Seq   uint64          `json:"seq,omitempty"`
	GUID  domain.GUID     `json:"guid"`
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
	Clock hlc.Clock       `json:"clock"`
}

type ownerRef struct {
	Owner domain.GUID `json:"owner"`
	Field string      `json:"field"`
}

// encodeRecord flattens r into the journaled field set. Empty vectors and
// nil basics encode as null, the same as an absent field.
func encodeRecord(r domain.EntityRecord) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, 2+len(r.Basics)+len(r.Objects))
	class, err := json.Marshal(string(r.Class))
	if err != nil {
		return nil, err
	}
	out[FieldClass] = class
	if r.Owned() {
		owner, err := json.Marshal(ownerRef{Owner: r.Owner, Field: r.OwnerField})
		if err != nil {
			return nil, err
		}
		out[FieldOwner] = owner
	}
	for name, v := range r.Basics {
		if v == nil {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s.%s", r.GUID, name)
		}
		out[name] = raw
	}
	for name, members := range r.Objects {
		if len(members) == 0 {
			continue
		}
		raw, err := json.Marshal(members)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s.%s", r.GUID, name)
		}
		out[name] = raw
	}
	return out, nil
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(v, nullValue)
}

func sameValue(a, b json.RawMessage) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b)
	}
	return bytes.Equal(a, b)
}

// WriteEntries encodes entries as JSON lines.
func WriteEntries(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return errors.Wrapf(err, "encode entry %d", e.Seq)
		}
	}
	return nil
}

// ReadEntries decodes JSON lines written by WriteEntries.
func ReadEntries(r io.Reader) ([]Entry, error) {
	var out []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, errors.Wrapf(err, "decode entry on line %d", line)
		}
		if e.Field == "" || e.Clock.IsZero() {
			return nil, domain.UsageErrorf("entry on line %d lacks a field or clock", line)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read entries")
	}
	return out, nil
}
