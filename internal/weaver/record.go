package weaver

import (
	"time"

	"github.com/kamojiro/weaver/internal/ids"
)

// TaskState is one position in a task's lifecycle:
//
//	Queued --lease--> Running --ack--> Succeeded
//	                      |--complete(Retry)--> RetryScheduled --timer--> Queued
//	                      |--complete(MarkDead)--> Dead
//	                      +--complete(Decompose)--> Decomposed
//
// Succeeded, Dead and Decomposed are absorbing (terminal) states.
type TaskState string

const (
	TaskQueued         TaskState = "queued"
	TaskRunning        TaskState = "running"
	TaskSucceeded      TaskState = "succeeded"
	TaskRetryScheduled TaskState = "retry_scheduled"
	TaskDead           TaskState = "dead"
	TaskDecomposed     TaskState = "decomposed"
)

// IsTerminal reports whether the state never transitions again.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskDead, TaskDecomposed:
		return true
	default:
		return false
	}
}

// JobState aggregates member task state into one of five buckets and
// serializes snake_case.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
	JobStuck     JobState = "stuck"
)

// TaskRecord is the state store's authoritative record for one task.
// Mutation is only ever performed by Store while holding its lock.
type TaskRecord struct {
	ID       ids.TaskID
	Envelope TaskEnvelope
	State    TaskState

	JobID  ids.JobID
	HasJob bool // false for ad-hoc Enqueue tasks with no owning job

	Attempts    int
	MaxAttempts int
	LastError   string
	NextRunAt   time.Time

	ParentTaskID ids.TaskID
	HasParent    bool
	ChildTaskIDs []ids.TaskID

	// DependsOn mirrors the dependency graph's current forward edge set
	// for this task; it is recomputed by Store whenever an edge changes
	// (the graph itself is the canonical source, all mutated under the
	// same lock, see depgraph.go).
	DependsOn []ids.TaskID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// clone returns a deep-enough copy of the record for safe return to callers
// outside the lock (slices are copied; the envelope payload is copied via
// TaskEnvelope.Clone).
func (r TaskRecord) clone() TaskRecord {
	out := r
	out.Envelope = r.Envelope.Clone()
	if r.ChildTaskIDs != nil {
		out.ChildTaskIDs = append([]ids.TaskID(nil), r.ChildTaskIDs...)
	}
	if r.DependsOn != nil {
		out.DependsOn = append([]ids.TaskID(nil), r.DependsOn...)
	}
	return out
}

// JobRecord is the state store's authoritative record for one job. Job
// state is always a pure function of member task states plus explicit
// cancel/stuck marks.
type JobRecord struct {
	ID         ids.JobID
	Spec       JobSpec
	State      JobState
	TaskIDs    []ids.TaskID
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeadlineAt time.Time // zero Time means "no deadline"
}

func (r JobRecord) clone() JobRecord {
	out := r
	out.TaskIDs = append([]ids.TaskID(nil), r.TaskIDs...)
	return out
}

// AttemptRecord is an append-only record of one handler invocation.
type AttemptRecord struct {
	ID          ids.AttemptID
	TaskID      ids.TaskID
	Action      TaskEnvelope
	Observation []Artifact
	Outcome     Outcome
	StartedAt   time.Time
	EndedAt     time.Time
}
