// Package hlc implements a hybrid logical clock: a (node, physical time,
// counter) timestamp that is totally ordered across replicas and strictly
// increasing on each replica even when wall-clock time stalls or runs
// backwards.
package hlc

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Clock is a single hybrid logical clock value. Physical is wall-clock time in
// milliseconds since the Unix epoch.
type Clock struct {
	Node     string
	Physical int64
	Counter  uint32
}

// Zero returns the smallest clock for node.
func Zero(node string) Clock {
	return Clock{Node: node}
}

// IsZero reports whether c carries no time information.
func (c Clock) IsZero() bool {
	return c.Physical == 0 && c.Counter == 0
}

// TickAt advances c for a local event observed at wall-clock time now.
func TickAt(c Clock, now int64) Clock {
	if now > c.Physical {
		return Clock{Node: c.Node, Physical: now}
	}
	return successor(c.Node, c.Physical, c.Counter)
}

// successor returns the clock right after (physical, counter). An exhausted
// counter carries into the physical component.
func successor(node string, physical int64, counter uint32) Clock {
	if counter == math.MaxUint32 {
		return Clock{Node: node, Physical: physical + 1}
	}
	return Clock{Node: node, Physical: physical, Counter: counter + 1}
}

// SyncAt merges a remotely observed clock into local at wall-clock time now.
// The result keeps local's node and dominates both inputs.
func SyncAt(local, remote Clock, now int64) Clock {
	switch {
	case now > local.Physical && now > remote.Physical:
		return Clock{Node: local.Node, Physical: now}
	case local.Physical == remote.Physical:
		return successor(local.Node, local.Physical, max(local.Counter, remote.Counter))
	case local.Physical > remote.Physical:
		return successor(local.Node, local.Physical, local.Counter)
	default:
		return successor(local.Node, remote.Physical, remote.Counter)
	}
}

// Compare orders clocks by physical time, then counter, then node.
// It returns -1, 0 or +1.
func Compare(a, b Clock) int {
	switch {
	case a.Physical < b.Physical:
		return -1
	case a.Physical > b.Physical:
		return 1
	case a.Counter < b.Counter:
		return -1
	case a.Counter > b.Counter:
		return 1
	}
	return strings.Compare(a.Node, b.Node)
}

// Less reports whether a orders strictly before b.
func (c Clock) Less(other Clock) bool { return Compare(c, other) < 0 }

// After reports whether c orders strictly after other.
func (c Clock) After(other Clock) bool { return Compare(c, other) > 0 }

// Max returns the greater of a and b under Compare.
func Max(a, b Clock) Clock {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// String renders the clock as "{node}_{physical}_{counter}".
func (c Clock) String() string {
	return fmt.Sprintf("%s_%d_%d", c.Node, c.Physical, c.Counter)
}

// Parse reads the String form. The node may itself contain underscores; the
// last two fields are always the physical time and the counter.
func Parse(s string) (Clock, error) {
	last := strings.LastIndexByte(s, '_')
	if last <= 0 {
		return Clock{}, errors.Newf("hlc: malformed clock %q", s)
	}
	mid := strings.LastIndexByte(s[:last], '_')
	if mid < 0 {
		return Clock{}, errors.Newf("hlc: malformed clock %q", s)
	}
	physical, err := strconv.ParseInt(s[mid+1:last], 10, 64)
	if err != nil {
		return Clock{}, errors.Wrapf(err, "hlc: physical time in %q", s)
	}
	counter, err := strconv.ParseUint(s[last+1:], 10, 32)
	if err != nil {
		return Clock{}, errors.Wrapf(err, "hlc: counter in %q", s)
	}
	return Clock{Node: s[:mid], Physical: physical, Counter: uint32(counter)}, nil
}

// MarshalText implements encoding.TextMarshaler using the String form.
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
