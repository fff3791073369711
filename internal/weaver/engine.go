package weaver

import (
	"context"
	"time"

	"github.com/kamojiro/weaver/internal/ids"
)

// EventSink is the engine-local view of an optional event observer. It is
// declared here rather than imported from internal/ports, since ports
// itself imports this package for its record types; anything shaped like
// this satisfies it, including a ports.EventSink wrapped by a small
// adapter at the call site.
type EventSink interface {
	Record(ctx context.Context, event EngineEvent) error
}

// EngineEvent is one notable occurrence reported to an optional EventSink:
// a task's state transition, flattened to a shape suitable for append-only
// storage.
type EngineEvent struct {
	JobID     ids.JobID
	TaskID    ids.TaskID
	Kind      string
	State     TaskState
	Reason    string
	Timestamp time.Time
}

// Engine is the entry point for submitting work and leasing it out to
// workers. It owns the single guarded-region store, the handler registry
// and the decision policy; all three are wired together at construction
// and never swapped afterwards.
type Engine struct {
	store    *store
	registry *Registry
	decider  Decider
	clock    ids.Clock
	sink     EventSink
}

// NewEngine builds an Engine. A nil decider falls back to NewDefaultDecider
// with DefaultRetryPolicy.
func NewEngine(clock ids.Clock, decider Decider) *Engine {
	if clock == nil {
		clock = ids.SystemClock{}
	}
	if decider == nil {
		decider = NewDefaultDecider(DefaultRetryPolicy())
	}
	gen := ids.NewIDGenerator(clock)
	return &Engine{
		store:    newStore(clock, gen),
		registry: NewRegistry(),
		decider:  decider,
		clock:    clock,
	}
}

// Registry exposes the handler registry so callers can Register task types
// before starting a WorkerPool.
func (e *Engine) Registry() *Registry { return e.registry }

// SetEventSink configures an optional observer notified, best-effort and
// off the critical path, of every task state transition Complete records.
// The sink never blocks or influences a Complete call: a nil sink (the
// default) disables this entirely, and a slow or failing sink only loses
// its own events, never the engine's own state.
func (e *Engine) SetEventSink(sink EventSink) {
	e.sink = sink
}

// emit reports event to the configured sink, if any, without blocking the
// caller. Must be called with store.mu not held.
func (e *Engine) emit(event EngineEvent) {
	if e.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.sink.Record(ctx, event)
	}()
}
