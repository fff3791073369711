package weaver

import (
	"encoding/json"
	"time"
)

// TaskSpec describes one task at submission time, either as a member of a
// JobSpec or as a child task proposed by a Decompose decision: human-readable
// intent fields plus a flexible "seed action hint" that resolves to the
// TaskType + Payload an envelope actually needs.
type TaskSpec struct {
	Title       string          `json:"title,omitempty"`
	Intent      string          `json:"intent,omitempty"`
	Goal        json.RawMessage `json:"goal,omitempty"`
	Constraints json.RawMessage `json:"constraints,omitempty"`

	// SeedActionHint carries the task's actual execution shape, either
	// directly ({"task_type": "...", "payload": {...}}) or left for a
	// handler-specific interpretation. TaskType/Payload below are the
	// resolved convenience form most callers use instead.
	SeedActionHint json.RawMessage `json:"seed_action_hint,omitempty"`

	TaskType TaskType        `json:"task_type,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// DependsOn names zero-based indices into the enclosing JobSpec.Tasks
	// slice that this task must wait for. Task ids are not known until
	// submission time, so intra-job dependencies are expressed positionally
	// (see DESIGN.md for why indices rather than free-form references).
	DependsOn []int `json:"dependencies_hint,omitempty"`

	// MaxAttempts overrides the job/default budget for this task alone,
	// when set, letting enqueue-level callers specify it explicitly.
	MaxAttempts *int `json:"max_attempts,omitempty"`
}

// resolvedEnvelope returns the TaskType to dispatch on and its payload,
// preferring the explicit fields and falling back to decoding
// SeedActionHint.
func (t TaskSpec) resolvedEnvelope() (TaskType, json.RawMessage) {
	if t.TaskType != "" {
		return t.TaskType, t.Payload
	}
	if len(t.SeedActionHint) > 0 {
		var hint struct {
			TaskType TaskType        `json:"task_type"`
			Payload  json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(t.SeedActionHint, &hint); err == nil && hint.TaskType != "" {
			return hint.TaskType, hint.Payload
		}
	}
	return t.TaskType, t.Payload
}

// Budget defines stop conditions for a job: per-task attempt ceilings and an
// optional absolute deadline. Missing fields fall back to DefaultBudget.
type Budget struct {
	MaxAttemptsPerTask int    `json:"max_attempts_per_task"`
	MaxTotalAttempts   *int   `json:"max_total_attempts,omitempty"`
	DeadlineMs         *int64 `json:"deadline_ms,omitempty"`
	MaxNoProgressSteps *int   `json:"max_no_progress_steps,omitempty"`
}

// DefaultBudget returns the engine's default stop conditions: five
// attempts per task, no overall attempt ceiling, no deadline, and
// MaxNoProgressSteps set to fifty. The engine enforces MaxAttemptsPerTask
// and DeadlineMs only; MaxTotalAttempts and MaxNoProgressSteps are carried
// in the budget but not read by any engine code.
func DefaultBudget() Budget {
	steps := 50
	return Budget{
		MaxAttemptsPerTask: 5,
		MaxTotalAttempts:   nil,
		DeadlineMs:         nil,
		MaxNoProgressSteps: &steps,
	}
}

// deadline returns the absolute deadline computed from createdAt, or the
// zero Time if the budget declares none.
func (b Budget) deadline(createdAt time.Time) time.Time {
	if b.DeadlineMs == nil {
		return time.Time{}
	}
	return createdAt.Add(time.Duration(*b.DeadlineMs) * time.Millisecond)
}

// JobSpec is the caller-supplied shape for SubmitJob: a set of tasks plus an
// optional budget. An empty Budget is replaced with DefaultBudget.
type JobSpec struct {
	Tasks  []TaskSpec `json:"tasks"`
	Budget Budget     `json:"budget"`
}

// normalizedBudget returns j.Budget with DefaultBudget's values substituted
// for the fields the caller left at the JSON zero value.
func (j JobSpec) normalizedBudget() Budget {
	b := j.Budget
	defaults := DefaultBudget()
	if b.MaxAttemptsPerTask <= 0 {
		b.MaxAttemptsPerTask = defaults.MaxAttemptsPerTask
	}
	if b.MaxNoProgressSteps == nil {
		b.MaxNoProgressSteps = defaults.MaxNoProgressSteps
	}
	return b
}
