// Package testutil provides fixtures and contract suites shared by package
// tests.
package testutil

import (
	"lexgraph/internal/lexicon"
	"lexgraph/pkg/domain"
)

// Lexicon class identifiers.
const (
	LexDb          = lexicon.LexDb
	LexEntry       = lexicon.LexEntry
	LexSense       = lexicon.LexSense
	Example        = lexicon.Example
	Etymology      = lexicon.Etymology
	WfiWordform    = lexicon.WfiWordform
	Text           = lexicon.Text
	Paragraph      = lexicon.Paragraph
	WritingSystem  = lexicon.WritingSystem
	SemanticDomain = lexicon.SemanticDomain
)

// LexiconClasses declares the sample lexicon.
func LexiconClasses() []domain.ClassDef { return lexicon.Classes() }

// LexiconSchema returns the sample lexicon schema.
func LexiconSchema() *domain.Schema { return lexicon.Schema() }

// LexiconRecords builds the sample record set; see lexicon.Records.
func LexiconRecords(entries, sensesPer int) []domain.EntityRecord {
	return lexicon.Records(entries, sensesPer)
}
