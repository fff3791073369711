// Package ids provides strongly-typed, time-ordered identifiers for the
// weaver engine. JobID, TaskID and AttemptID all wrap the same 128-bit ULID
// representation but are distinct Go types, so a TaskID can never be passed
// where a JobID is expected. Distinctness is enforced at compile time via a
// generic struct parameterized over a zero-sized marker type.
package ids

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"
)

// marker identifies the id "kind" at compile time and supplies its display
// prefix. Marker types are zero-sized; only the type itself is used.
type marker interface {
	prefix() string
}

// JobMarker, TaskMarker and AttemptMarker distinguish the three id kinds.
type JobMarker struct{}
type TaskMarker struct{}
type AttemptMarker struct{}

func (JobMarker) prefix() string     { return "job-" }
func (TaskMarker) prefix() string    { return "task-" }
func (AttemptMarker) prefix() string { return "attempt-" }

// Id is a generic, lexicographically-sortable 128-bit identifier tagged
// with a phantom marker type. Two Id[T] values compare equal iff their
// underlying ULIDs are equal; Id[JobMarker] and Id[TaskMarker] are distinct
// Go types even though their representation is identical.
type Id[T marker] struct {
	ulid ulid.ULID
}

// JobID, TaskID and AttemptID are the three id kinds used throughout the
// engine.
type JobID = Id[JobMarker]
type TaskID = Id[TaskMarker]
type AttemptID = Id[AttemptMarker]

// FromULID wraps an existing ULID value.
func FromULID[T marker](u ulid.ULID) Id[T] {
	return Id[T]{ulid: u}
}

// IsZero reports whether the id was never assigned (the zero value).
func (id Id[T]) IsZero() bool {
	return id.ulid.Compare(ulid.ULID{}) == 0
}

// String renders the id as "<prefix><ulid>", e.g. "task-01HQZX...".
func (id Id[T]) String() string {
	var zero T
	return fmt.Sprintf("%s%s", zero.prefix(), id.ulid.String())
}

// MarshalText and UnmarshalText implement encoding.TextMarshaler so ids
// serialize as plain ULID strings in JSON (no prefix; the prefix is a
// display affordance, not part of the wire value, and external callers
// expect bare string ids).
func (id Id[T]) MarshalText() ([]byte, error) {
	return []byte(id.ulid.String()), nil
}

func (id *Id[T]) UnmarshalText(text []byte) error {
	u, err := ulid.ParseStrict(string(text))
	if err != nil {
		return fmt.Errorf("parse id: %w", err)
	}
	id.ulid = u
	return nil
}

// IDGenerator mints new, time-ordered ids from a Clock and a random source.
// It is one of the two ports the core engine depends on directly (the
// other is Clock); everything else under internal/ports is a
// consumer-level concern the engine never imports directly.
type IDGenerator struct {
	clock   Clock
	mu      sync.Mutex
	entropy io.Reader
}

// NewIDGenerator builds an IDGenerator sourcing monotonic entropy from
// crypto/rand, seeded per-call by the given Clock.
func NewIDGenerator(clock Clock) *IDGenerator {
	return &IDGenerator{clock: clock, entropy: ulid.Monotonic(rand.Reader, 0)}
}

func newID[T marker](g *IDGenerator) Id[T] {
	g.mu.Lock()
	defer g.mu.Unlock()
	u := ulid.MustNew(ulid.Timestamp(g.clock.Now()), g.entropy)
	return Id[T]{ulid: u}
}

// NewJobID, NewTaskID and NewAttemptID mint a fresh id of the corresponding
// kind. All three share one mutex-guarded entropy source so ids minted in
// the same millisecond still sort deterministically by allocation order.
func (g *IDGenerator) NewJobID() JobID         { return newID[JobMarker](g) }
func (g *IDGenerator) NewTaskID() TaskID       { return newID[TaskMarker](g) }
func (g *IDGenerator) NewAttemptID() AttemptID { return newID[AttemptMarker](g) }
