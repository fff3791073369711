package weaver

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Decider is the pure function that turns one attempt's outcome into a
// verdict: retry after a delay, give up and mark the task dead, or replace
// it with a decomposition into child tasks. A Decider must not perform I/O
// or block; the engine calls it while holding its lock.
type Decider interface {
	Decide(task TaskRecord, outcome Outcome) Decision
}

// RetryPolicy computes the backoff delay before attempt n+1, given that
// attempt n just failed. It mirrors cenkalti/backoff/v4's
// ExponentialBackOff math (base * multiplier^(attempts-1), capped at
// MaxDelay) without pulling in that package's own timer/clock machinery,
// which the engine's own scheduled-retry heap already supplies.
type RetryPolicy struct {
	Base       time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns a 100ms base delay doubling every attempt,
// capped at 30 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: 30 * time.Second}
}

// NextDelay returns Base * Multiplier^attemptsSoFar, capped at MaxDelay.
// The Decider passes the task's attempt count minus one, so NextDelay(0)
// returns Base: the delay that precedes the very first retry, after a
// single failed attempt.
func (p RetryPolicy) NextDelay(attemptsSoFar int) time.Duration {
	if attemptsSoFar < 0 {
		attemptsSoFar = 0
	}
	factor := math.Pow(p.Multiplier, float64(attemptsSoFar))
	delay := time.Duration(float64(p.Base) * factor)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// NewExponentialBackOff builds a cenkalti/backoff/v4 ExponentialBackOff
// configured from p, for callers (e.g. the delivery-queue backends) that
// want the library's own Reset/NextBackOff iteration instead of the pure
// NextDelay formula above.
func (p RetryPolicy) NewExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0 // the engine's own attempt budget is authoritative
	return b
}

// DefaultDecider implements the standard verdict table: a FAILURE below the
// task's attempt ceiling schedules a retry; at or past the ceiling it marks
// the task dead. An outcome of any kind proposing child tasks decomposes
// instead of completing normally. A SUCCESS with no children has no
// verdict of its own: Decide returns a MarkDead decision with reason
// "completed", and the engine never asks for one (Complete marks such a
// task Succeeded itself). BLOCKED with no children is treated like FAILURE,
// since it reports the same "could not make progress" signal without a
// narrower retry delay.
type DefaultDecider struct {
	Policy RetryPolicy
}

// NewDefaultDecider builds a DefaultDecider with the given retry policy.
func NewDefaultDecider(policy RetryPolicy) *DefaultDecider {
	return &DefaultDecider{Policy: policy}
}

func (d *DefaultDecider) Decide(task TaskRecord, outcome Outcome) Decision {
	if outcome.ProposesDecomposition() {
		return Decompose(outcome.Reason, outcome.ChildTasks...)
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		// A bare success with no children is not routed through Decide at
		// all by the engine (see lease.go's Complete). Decision has no
		// "succeeded" kind, so a caller invoking the Decider directly with
		// OutcomeSuccess and no children gets MarkDead with reason
		// "completed"; applying it would mark the task Dead.
		return Decision{Kind: DecisionMarkDead, DeadReason: "completed"}
	default:
		if task.Attempts >= task.MaxAttempts {
			return MarkDead(exhaustionReason(task, outcome))
		}
		delay := d.Policy.NextDelay(task.Attempts - 1)
		return Retry(delay, outcome.Reason)
	}
}

func exhaustionReason(task TaskRecord, outcome Outcome) string {
	reason := outcome.Reason
	if reason == "" {
		reason = "no reason given"
	}
	return reason + " (attempt budget exhausted)"
}
