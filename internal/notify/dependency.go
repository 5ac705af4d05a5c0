package notify

import (
	"fmt"
	"strings"

	"lexgraph/internal/graph"
	"lexgraph/pkg/domain"
)

// StepKind is the direction of one traversal hop from a host entity.
type StepKind uint8

// Traversal directions.
const (
	// StepOwner moves from an entity to its owner.
	StepOwner StepKind = iota + 1
	// StepReferrer moves from an entity to the entities naming it through a
	// reference field.
	StepReferrer
)

// Step is one hop of a dependency path.
type Step struct {
	Kind  StepKind
	Field string
}

// Owner is the owner-of-self hop.
func Owner() Step { return Step{Kind: StepOwner} }

// Referrer is the referrer-of-self hop through field.
func Referrer(field string) Step { return Step{Kind: StepReferrer, Field: field} }

func (s Step) String() string {
	if s.Kind == StepReferrer {
		return "referrer(" + s.Field + ")"
	}
	return "owner"
}

// Dependency names a real field read by a virtual property. Path leads from
// the host entity to the entity whose field is read; an empty path means the
// host itself.
type Dependency struct {
	Class domain.ClassID
	Field string
	Path  []Step
}

func (d Dependency) String() string {
	if len(d.Path) == 0 {
		return fmt.Sprintf("%s.%s", d.Class, d.Field)
	}
	steps := make([]string, len(d.Path))
	for i, s := range d.Path {
		steps[i] = s.String()
	}
	return fmt.Sprintf("%s/%s.%s", strings.Join(steps, "/"), d.Class, d.Field)
}

// Reader is the read surface virtual properties and the engine traverse.
type Reader interface {
	Schema() *domain.Schema
	IsLive(h domain.Handle) bool
	ClassOf(h domain.Handle) (domain.ClassID, bool)
	Owner(h domain.Handle) (domain.Handle, string, error)
	Basic(h domain.Handle, name string) (any, error)
	Atom(h domain.Handle, name string) (domain.Handle, error)
	Vector(h domain.Handle, name string) ([]domain.Handle, error)
	Referrers(h domain.Handle) ([]graph.Referrer, error)
}

var _ Reader = (*graph.Repository)(nil)

// VirtualProperty is a computed, read-only attribute of Class.
type VirtualProperty struct {
	Class   domain.ClassID
	Name    string
	Deps    []Dependency
	Compute func(r Reader, h domain.Handle) (any, error)
}
