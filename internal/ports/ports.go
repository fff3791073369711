// Package ports defines the optional, consumer-supplied backends the
// engine can be wired against. The core engine (internal/weaver) owns
// ids.Clock and ids.IDGenerator directly; those two are never swapped at
// the consumer level. Everything in this package is a seam a deployment
// may plug a real backend into (Postgres, Redis, bbolt, object storage)
// without the core engine importing any of those drivers itself.
package ports

import (
	"context"
	"time"

	"github.com/kamojiro/weaver/internal/ids"
	"github.com/kamojiro/weaver/internal/weaver"
)

// TaskStore is an optional durable mirror of the engine's in-memory task
// and job records, for deployments that want to survive a process
// restart. The core engine itself never calls this interface; a caller
// that wants the mirror writes records to it out of band.
type TaskStore interface {
	PutJob(ctx context.Context, job weaver.JobRecord) error
	PutTask(ctx context.Context, task weaver.TaskRecord) error
	PutAttempt(ctx context.Context, attempt weaver.AttemptRecord) error
	GetJob(ctx context.Context, id ids.JobID) (weaver.JobRecord, error)
}

// DeliveryQueue is an optional external transport for handing leased
// envelopes to workers running out-of-process, instead of (or in addition
// to) the in-process WorkerPool.
type DeliveryQueue interface {
	Publish(ctx context.Context, envelope weaver.TaskEnvelope) error
	Consume(ctx context.Context) (weaver.TaskEnvelope, error)
}

// ArtifactStore is an optional external home for large Outcome artifacts
// (stdout capture, generated files) that a caller would rather not inline
// into the Outcome's JSON payload.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// EventSink is an optional append-only observer of engine events, for
// audit trails and external dashboards. The engine calls Record
// best-effort and does not retry or block on a failing sink.
type EventSink interface {
	Record(ctx context.Context, event Event) error
}

// Event is one notable engine occurrence: a task's state transition or a
// decider verdict, flattened to a shape suitable for append-only storage.
type Event struct {
	JobID     ids.JobID        `json:"job_id"`
	TaskID    ids.TaskID       `json:"task_id"`
	Kind      string           `json:"kind"`
	State     weaver.TaskState `json:"state,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
