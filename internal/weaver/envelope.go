package weaver

import (
	"encoding/json"

	"github.com/kamojiro/weaver/internal/ids"
)

// TaskType is a short string tag identifying which Handler should execute a
// task. The recommended form is "namespace.domain.action.vN", e.g.
// "weaver.http.request.v1".
type TaskType string

// TaskEnvelope is the transport triple handed to a Handler: an id, a type
// tag, and a structured JSON payload the handler decodes into its own
// shape.
type TaskEnvelope struct {
	TaskID   ids.TaskID      `json:"task_id"`
	TaskType TaskType        `json:"task_type"`
	Payload  json.RawMessage `json:"payload"`
}

// Clone returns a deep copy of the envelope. Leases hand out a clone, never
// the store's own copy, so a handler mutating its payload can never corrupt
// the stored record.
func (e TaskEnvelope) Clone() TaskEnvelope {
	var payload json.RawMessage
	if e.Payload != nil {
		payload = make(json.RawMessage, len(e.Payload))
		copy(payload, e.Payload)
	}
	return TaskEnvelope{
		TaskID:   e.TaskID,
		TaskType: e.TaskType,
		Payload:  payload,
	}
}

// DecodePayload unmarshals the envelope's payload into v. Handlers call this
// to recover their typed shape; a decode failure should be reported as a
// Failure outcome, not returned as an infrastructure error.
func (e TaskEnvelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
