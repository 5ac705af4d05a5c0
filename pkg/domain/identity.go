// Package domain defines the schema registry, identities, reversible deltas,
// persistence contracts, rule evaluation primitives, and error taxonomy shared
// by the lexgraph object-graph engine and its storage backends.
package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// GUID is the permanent identity of an entity. It survives process restarts,
// backend switches and migrations unchanged.
type GUID = uuid.UUID

// NilGUID is the zero identity.
var NilGUID = uuid.Nil

// NewGUID returns a fresh random identity.
func NewGUID() GUID {
	return uuid.New()
}

// ParseGUID parses the canonical string form of an identity.
func ParseGUID(s string) (GUID, error) {
	return uuid.Parse(s)
}

// Handle is the transient, process-local index of an entity in the
// repository arena. Handles are reassigned on every load; 0 is never valid.
type Handle uint32

// NoHandle is the invalid handle.
const NoHandle Handle = 0

// Valid reports whether h can address an arena slot.
func (h Handle) Valid() bool { return h != NoHandle }

func (h Handle) String() string {
	return "#" + strconv.FormatUint(uint64(h), 10)
}
