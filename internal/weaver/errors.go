package weaver

import "errors"

// Submission-time errors are surfaced synchronously to the caller and are
// sentinel values so callers can use errors.Is.
var (
	// ErrDependencyCycle is returned by SubmitJob when the requested
	// dependency edges would create a cycle. No task records are created
	// for the rejected submission.
	ErrDependencyCycle = errors.New("weaver: dependency cycle rejected")

	// ErrDuplicateHandler is returned by Registry.Register when a handler
	// is already registered for the given task type tag.
	ErrDuplicateHandler = errors.New("weaver: duplicate handler registration")

	// ErrUnknownHandler is surfaced as a Failure outcome (never an
	// engine-level panic) when a worker leases a task whose type tag has
	// no registered handler.
	ErrUnknownHandler = errors.New("weaver: no handler registered for task type")

	// ErrMissingExpectedTaskType is returned when a JobSpec task entry
	// omits a task type the caller's budget/validation expects.
	ErrMissingExpectedTaskType = errors.New("weaver: missing expected task type")

	// ErrTaskNotFound covers engine-internal lookups of a task record that
	// has vanished (should not happen under correct use, but is handled
	// without panicking).
	ErrTaskNotFound = errors.New("weaver: task record not found")

	// ErrJobNotFound is returned by job-scoped queries for an unknown job.
	ErrJobNotFound = errors.New("weaver: job record not found")

	// ErrSelfDependency is returned when a task declares a dependency on
	// itself.
	ErrSelfDependency = errors.New("weaver: task cannot depend on itself")

	// ErrInvalidDependencyIndex is returned when a TaskSpec's DependsOn
	// names an index outside the enclosing JobSpec.Tasks slice.
	ErrInvalidDependencyIndex = errors.New("weaver: dependency index out of range")

	// ErrQueueClosed is returned by Lease and submission calls once
	// ShutdownAndJoin has closed the queue for new work.
	ErrQueueClosed = errors.New("weaver: queue is shut down")
)
