// Package lexicon declares a small sample lexicon schema and record
// generators used by the CLI demo and package tests.
package lexicon

import (
	"fmt"

	"lexgraph/pkg/domain"
)

// Lexicon class identifiers.
const (
	LexDb          domain.ClassID = "LexDb"
	LexEntry       domain.ClassID = "LexEntry"
	LexSense       domain.ClassID = "LexSense"
	Example        domain.ClassID = "Example"
	Etymology      domain.ClassID = "Etymology"
	WfiWordform    domain.ClassID = "WfiWordform"
	Text           domain.ClassID = "Text"
	Paragraph      domain.ClassID = "Paragraph"
	WritingSystem  domain.ClassID = "WritingSystem"
	SemanticDomain domain.ClassID = "SemanticDomain"
)

// Classes declares the sample lexicon.
func Classes() []domain.ClassDef {
	return []domain.ClassDef{
		{ID: LexDb, Fields: []domain.FieldDef{
			{Name: "Name", Kind: domain.Basic},
			{Name: "Entries", Kind: domain.OwningCollection, Target: LexEntry},
			{Name: "Texts", Kind: domain.OwningSequence, Target: Text},
			{Name: "Wordforms", Kind: domain.OwningCollection, Target: WfiWordform},
			{Name: "Domains", Kind: domain.OwningSequence, Target: SemanticDomain},
			{Name: "DefaultWs", Kind: domain.ReferenceAtomic, Target: WritingSystem},
		}},
		{ID: LexEntry, Fields: []domain.FieldDef{
			{Name: "Form", Kind: domain.Basic},
			{Name: "Homograph", Kind: domain.Basic},
			{Name: "Senses", Kind: domain.OwningSequence, Target: LexSense},
			{Name: "Etymology", Kind: domain.OwningAtomic, Target: Etymology},
			{Name: "Related", Kind: domain.ReferenceCollection, Target: LexEntry},
			{Name: "Components", Kind: domain.ReferenceSequence, Target: LexEntry},
		}},
		{ID: LexSense, Fields: []domain.FieldDef{
			{Name: "Gloss", Kind: domain.Basic},
			{Name: "Examples", Kind: domain.OwningSequence, Target: Example},
			{Name: "Subsenses", Kind: domain.OwningSequence, Target: LexSense},
			{Name: "Domains", Kind: domain.ReferenceCollection, Target: SemanticDomain},
		}},
		{ID: Example, Fields: []domain.FieldDef{{Name: "Sentence", Kind: domain.Basic}}},
		{ID: Etymology, Fields: []domain.FieldDef{{Name: "Source", Kind: domain.Basic}}},
		{ID: WfiWordform, Fields: []domain.FieldDef{
			{Name: "Form", Kind: domain.Basic},
			{Name: "Analyses", Kind: domain.ReferenceSequence, Target: LexSense},
		}},
		{ID: Text, Fields: []domain.FieldDef{
			{Name: "Title", Kind: domain.Basic},
			{Name: "Paragraphs", Kind: domain.OwningSequence, Target: Paragraph},
		}},
		{ID: Paragraph, Fields: []domain.FieldDef{
			{Name: "Contents", Kind: domain.Basic},
			{Name: "Wordforms", Kind: domain.ReferenceSequence, Target: WfiWordform},
		}},
		{ID: SemanticDomain, Fields: []domain.FieldDef{{Name: "Name", Kind: domain.Basic}}},
		{ID: WritingSystem, Unownable: true, Fields: []domain.FieldDef{{Name: "Code", Kind: domain.Basic}}},
	}
}

// Schema returns the sample lexicon schema.
func Schema() *domain.Schema {
	s, err := domain.NewSchema(Classes()...)
	if err != nil {
		panic(fmt.Errorf("lexicon: schema: %w", err))
	}
	return s
}

// Records builds a consistent record set: one LexDb owning entries
// LexEntry objects, each owning sensesPer LexSense objects. Every entry
// after the first references its predecessor in Related. The result holds
// 1+entries*(1+sensesPer) records.
func Records(entries, sensesPer int) []domain.EntityRecord {
	db := domain.EntityRecord{
		GUID:    domain.NewGUID(),
		Class:   LexDb,
		Basics:  map[string]any{"Name": "sample"},
		Objects: map[string][]domain.GUID{},
	}
	out := make([]domain.EntityRecord, 0, 1+entries*(1+sensesPer))
	var entryIDs []domain.GUID
	var rest []domain.EntityRecord
	for i := 0; i < entries; i++ {
		entry := domain.EntityRecord{
			GUID:       domain.NewGUID(),
			Class:      LexEntry,
			Owner:      db.GUID,
			OwnerField: "Entries",
			OwnOrd:     i,
			Basics:     map[string]any{"Form": fmt.Sprintf("form-%04d", i), "Homograph": int64(i % 3)},
			Objects:    map[string][]domain.GUID{},
		}
		if i > 0 {
			entry.Objects["Related"] = []domain.GUID{entryIDs[i-1]}
		}
		for j := 0; j < sensesPer; j++ {
			sense := domain.EntityRecord{
				GUID:       domain.NewGUID(),
				Class:      LexSense,
				Owner:      entry.GUID,
				OwnerField: "Senses",
				OwnOrd:     j,
				Basics:     map[string]any{"Gloss": fmt.Sprintf("gloss-%04d-%d", i, j)},
			}
			entry.Objects["Senses"] = append(entry.Objects["Senses"], sense.GUID)
			rest = append(rest, sense)
		}
		entryIDs = append(entryIDs, entry.GUID)
		rest = append(rest, entry)
	}
	db.Objects["Entries"] = entryIDs
	out = append(out, db)
	return append(out, rest...)
}
