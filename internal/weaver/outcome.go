package weaver

import "encoding/json"

// OutcomeKind classifies the result of one attempt. It serializes as
// SCREAMING_SNAKE_CASE: SUCCESS, FAILURE, BLOCKED.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "SUCCESS"
	OutcomeFailure OutcomeKind = "FAILURE"
	OutcomeBlocked OutcomeKind = "BLOCKED"
)

// ArtifactKind tags the shape of an Artifact's value.
type ArtifactKind string

const (
	ArtifactStdout   ArtifactKind = "Stdout"
	ArtifactStderr   ArtifactKind = "Stderr"
	ArtifactFilePath ArtifactKind = "FilePath"
	ArtifactURL      ArtifactKind = "Url"
	ArtifactJSON     ArtifactKind = "Json"
)

// Artifact is a tagged observation produced during an attempt.
type Artifact struct {
	Kind  ArtifactKind    `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// NewStringArtifact builds a Stdout/Stderr/FilePath/Url artifact from a
// plain string value.
func NewStringArtifact(kind ArtifactKind, value string) Artifact {
	encoded, _ := json.Marshal(value)
	return Artifact{Kind: kind, Value: encoded}
}

// NewJSONArtifact builds a Json artifact from an arbitrary JSON-marshalable
// value.
func NewJSONArtifact(value any) (Artifact, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Kind: ArtifactJSON, Value: encoded}, nil
}

// Outcome is the handler's reported result of one attempt.
type Outcome struct {
	Kind         OutcomeKind       `json:"kind"`
	Artifacts    []Artifact        `json:"artifacts,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	RetryHint    json.RawMessage   `json:"retry_hint,omitempty"`
	Alternatives []json.RawMessage `json:"alternatives,omitempty"`
	ChildTasks   []TaskSpec        `json:"child_tasks,omitempty"`
}

// Success builds a bare SUCCESS outcome.
func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

// SuccessWithChildren builds a SUCCESS outcome proposing decomposition into
// the given child task specs.
func SuccessWithChildren(children ...TaskSpec) Outcome {
	return Outcome{Kind: OutcomeSuccess, ChildTasks: children}
}

// Failure builds a FAILURE outcome with a human-readable reason.
func Failure(reason string) Outcome {
	return Outcome{Kind: OutcomeFailure, Reason: reason}
}

// Blocked builds a BLOCKED outcome with a human-readable reason.
func Blocked(reason string) Outcome {
	return Outcome{Kind: OutcomeBlocked, Reason: reason}
}

// ProposesDecomposition reports whether the outcome asked the engine to
// spawn child tasks in place of this task completing normally.
func (o Outcome) ProposesDecomposition() bool {
	return len(o.ChildTasks) > 0
}
