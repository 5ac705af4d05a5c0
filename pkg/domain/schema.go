package domain

import (
	"fmt"
	"sort"
)

// ClassID names an entity class in the schema registry.
type ClassID string

// FieldKind classifies a declared field.
type FieldKind uint8

// Field kinds. Owning and reference fields come in atomic, sequence and
// collection shapes; basic fields hold scalar values.
const (
	Basic FieldKind = iota
	OwningAtomic
	OwningSequence
	OwningCollection
	ReferenceAtomic
	ReferenceSequence
	ReferenceCollection
)

var fieldKindNames = [...]string{
	Basic:               "basic",
	OwningAtomic:        "owning-atomic",
	OwningSequence:      "owning-sequence",
	OwningCollection:    "owning-collection",
	ReferenceAtomic:     "reference-atomic",
	ReferenceSequence:   "reference-sequence",
	ReferenceCollection: "reference-collection",
}

func (k FieldKind) String() string {
	if int(k) < len(fieldKindNames) {
		return fieldKindNames[k]
	}
	return fmt.Sprintf("FieldKind(%d)", uint8(k))
}

// ParseFieldKind is the inverse of FieldKind.String.
func ParseFieldKind(s string) (FieldKind, error) {
	for i, name := range fieldKindNames {
		if name == s {
			return FieldKind(i), nil
		}
	}
	return Basic, UsageErrorf("unknown field kind %q", s)
}

// IsOwning reports whether the field owns its members.
func (k FieldKind) IsOwning() bool {
	return k == OwningAtomic || k == OwningSequence || k == OwningCollection
}

// IsReference reports whether the field references members owned elsewhere.
func (k FieldKind) IsReference() bool {
	return k == ReferenceAtomic || k == ReferenceSequence || k == ReferenceCollection
}

// IsObject reports whether the field holds entity handles.
func (k FieldKind) IsObject() bool { return k.IsOwning() || k.IsReference() }

// IsAtomic reports whether the field holds at most one entity.
func (k FieldKind) IsAtomic() bool { return k == OwningAtomic || k == ReferenceAtomic }

// IsSequence reports whether member order is significant.
func (k FieldKind) IsSequence() bool { return k == OwningSequence || k == ReferenceSequence }

// IsCollection reports whether the field is an unordered set.
func (k FieldKind) IsCollection() bool {
	return k == OwningCollection || k == ReferenceCollection
}

// AllowsDuplicates reports whether the same entity may appear twice.
func (k FieldKind) AllowsDuplicates() bool { return k == ReferenceSequence }

// FieldDef declares one field of a class. Target constrains the class of the
// members of an object field; an empty target accepts any class.
type FieldDef struct {
	Name   string
	Kind   FieldKind
	Target ClassID
}

// ClassDef declares an entity class. Fields are inherited from Base.
type ClassDef struct {
	ID        ClassID
	Base      ClassID
	Abstract  bool
	Unownable bool
	Fields    []FieldDef
}

// Schema is the static class registry consulted by the generic graph
// operations. It is built once and only changes through RedeclareField.
type Schema struct {
	classes map[ClassID]ClassDef
	fields  map[ClassID][]FieldDef
	index   map[ClassID]map[string]int
	order   []ClassID
}

// NewSchema validates and indexes the given classes.
func NewSchema(classes ...ClassDef) (*Schema, error) {
	s := &Schema{
		classes: make(map[ClassID]ClassDef, len(classes)),
		fields:  make(map[ClassID][]FieldDef, len(classes)),
		index:   make(map[ClassID]map[string]int, len(classes)),
	}
	for _, c := range classes {
		if c.ID == "" {
			return nil, UsageErrorf("schema: class with empty id")
		}
		if _, dup := s.classes[c.ID]; dup {
			return nil, UsageErrorf("schema: class %s declared twice", c.ID)
		}
		s.classes[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	for _, c := range classes {
		if c.Base != "" {
			if _, ok := s.classes[c.Base]; !ok {
				return nil, UsageErrorf("schema: class %s extends unknown class %s", c.ID, c.Base)
			}
		}
	}
	for _, id := range s.order {
		fields, err := s.resolve(id, map[ClassID]bool{})
		if err != nil {
			return nil, err
		}
		s.fields[id] = fields
		idx := make(map[string]int, len(fields))
		for i, f := range fields {
			idx[f.Name] = i
		}
		s.index[id] = idx
	}
	for _, id := range s.order {
		for _, f := range s.fields[id] {
			if f.Target == "" {
				continue
			}
			target, ok := s.classes[f.Target]
			if !ok {
				return nil, UsageErrorf("schema: field %s.%s targets unknown class %s", id, f.Name, f.Target)
			}
			if f.Kind.IsOwning() && target.Unownable {
				return nil, UsageErrorf("schema: field %s.%s cannot own unownable class %s", id, f.Name, f.Target)
			}
		}
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	return s, nil
}

func (s *Schema) resolve(id ClassID, seen map[ClassID]bool) ([]FieldDef, error) {
	if seen[id] {
		return nil, UsageErrorf("schema: inheritance cycle through %s", id)
	}
	seen[id] = true
	c := s.classes[id]
	var out []FieldDef
	if c.Base != "" {
		inherited, err := s.resolve(c.Base, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, inherited...)
	}
	for _, f := range c.Fields {
		if f.Name == "" || f.Name[0] == '$' {
			return nil, UsageErrorf("schema: class %s declares invalid field name %q", id, f.Name)
		}
		for _, existing := range out {
			if existing.Name == f.Name {
				return nil, UsageErrorf("schema: class %s redeclares field %s", id, f.Name)
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// Classes lists every class id in sorted order.
func (s *Schema) Classes() []ClassID {
	out := make([]ClassID, len(s.order))
	copy(out, s.order)
	return out
}

// Class returns the declaration of id.
func (s *Schema) Class(id ClassID) (ClassDef, bool) {
	c, ok := s.classes[id]
	return c, ok
}

// Fields returns the resolved fields of id, inherited fields first.
func (s *Schema) Fields(id ClassID) []FieldDef {
	fields := s.fields[id]
	out := make([]FieldDef, len(fields))
	copy(out, fields)
	return out
}

// Field looks up a resolved field by name.
func (s *Schema) Field(id ClassID, name string) (FieldDef, bool) {
	i, ok := s.index[id][name]
	if !ok {
		return FieldDef{}, false
	}
	return s.fields[id][i], true
}

// IsA reports whether class equals ancestor or derives from it.
func (s *Schema) IsA(class, ancestor ClassID) bool {
	for cur := class; cur != ""; cur = s.classes[cur].Base {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// CheckMember verifies that an entity of class member may be stored in
// field f. Owning an unownable class or storing the wrong class is a
// configuration error.
func (s *Schema) CheckMember(f FieldDef, member ClassID) error {
	c, ok := s.classes[member]
	if !ok {
		return ConfigurationErrorf("unknown class %s", member)
	}
	if f.Kind.IsOwning() && c.Unownable {
		return ConfigurationErrorf("class %s cannot be owned (field %s)", member, f.Name)
	}
	if f.Target != "" && !s.IsA(member, f.Target) {
		return ConfigurationErrorf("field %s expects %s, got %s", f.Name, f.Target, member)
	}
	return nil
}

// Redeclare changes the kind of a declared field on class and every class
// deriving from it. Callers must check that the field is unpopulated.
func (s *Schema) Redeclare(class ClassID, field string, kind FieldKind) error {
	f, ok := s.Field(class, field)
	if !ok {
		return UsageErrorf("class %s has no field %s", class, field)
	}
	if kind.IsOwning() && f.Target != "" && s.classes[f.Target].Unownable {
		return UsageErrorf("field %s.%s cannot own unownable class %s", class, field, f.Target)
	}
	if f.Kind.IsObject() != kind.IsObject() {
		return UsageErrorf("field %s.%s cannot change between basic and object kinds", class, field)
	}
	for _, id := range s.order {
		if !s.IsA(id, class) {
			continue
		}
		if i, ok := s.index[id][field]; ok {
			s.fields[id][i].Kind = kind
		}
	}
	return nil
}
