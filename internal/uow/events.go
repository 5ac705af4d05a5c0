package uow

import "lexgraph/pkg/domain"

// EventKind classifies a published change batch.
type EventKind uint8

// Event kinds.
const (
	EventCommit EventKind = iota + 1
	EventUndo
	EventRedo
	EventLoad
)

func (k EventKind) String() string {
	switch k {
	case EventCommit:
		return "commit"
	case EventUndo:
		return "undo"
	case EventRedo:
		return "redo"
	case EventLoad:
		return "load"
	default:
		return "unknown"
	}
}

// Origin maps the event kind to the persistence origin.
func (k EventKind) Origin() domain.CommitOrigin {
	switch k {
	case EventUndo:
		return domain.OriginUndo
	case EventRedo:
		return domain.OriginRedo
	case EventLoad:
		return domain.OriginLoad
	default:
		return domain.OriginCommit
	}
}

// Entry is one sealed unit of work.
type Entry struct {
	Seq       uint64
	UndoLabel string
	RedoLabel string
	Undoable  bool
	Deltas    []domain.Delta
}

// Event is delivered to listeners after a commit, undo, redo or load. Deltas
// is the log that produced the current state: the forward log for commit and
// redo, the synthesized inverse log for undo, and nil for load.
type Event struct {
	Kind   EventKind
	Entry  *Entry
	Deltas []domain.Delta
}

// Listener receives events synchronously on the writer goroutine.
type Listener func(Event)
