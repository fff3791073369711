package weaver

import (
	"time"

	"github.com/kamojiro/weaver/internal/ids"
)

// DecisionKind names which of the Decider's three verdicts a Decision
// carries.
type DecisionKind string

const (
	DecisionRetry      DecisionKind = "schedule_retry"
	DecisionMarkDead   DecisionKind = "mark_dead"
	DecisionDecompose  DecisionKind = "decompose"
)

// Decision is the Decider's pure-function verdict on what the engine should
// do next in response to an Outcome. Exactly one of the three constructors
// below should be used; the zero value is not a valid Decision.
type Decision struct {
	Kind DecisionKind

	// Retry fields.
	RetryDelay  time.Duration
	RetryReason string

	// MarkDead fields.
	DeadReason string

	// Decompose fields.
	ChildSpecs      []TaskSpec
	DecomposeReason string
}

// Retry builds a Decision that reschedules the task after delay.
func Retry(delay time.Duration, reason string) Decision {
	return Decision{Kind: DecisionRetry, RetryDelay: delay, RetryReason: reason}
}

// MarkDead builds a Decision that terminates the task as Dead.
func MarkDead(reason string) Decision {
	return Decision{Kind: DecisionMarkDead, DeadReason: reason}
}

// Decompose builds a Decision that terminates the task as Decomposed and
// spawns the given child specs.
func Decompose(reason string, children ...TaskSpec) Decision {
	return Decision{Kind: DecisionDecompose, ChildSpecs: children, DecomposeReason: reason}
}

// DecisionRecord is an append-only record of one Decider verdict, stored
// alongside the AttemptRecord it was triggered by.
type DecisionRecord struct {
	TaskID           ids.TaskID     `json:"task_id"`
	TriggerAttemptID ids.AttemptID  `json:"trigger_attempt_id"`
	TriggerKind      OutcomeKind    `json:"trigger_kind"`
	Policy           string         `json:"policy"`
	DecisionName     string         `json:"decision"`
	Context          map[string]any `json:"context,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}
