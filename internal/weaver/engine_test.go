package weaver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kamojiro/weaver/internal/ids"
)

const echoType TaskType = "test.echo.v1"

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func TestSubmitJobRejectsCycle(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	eng := NewEngine(clock, nil)

	_, err := eng.SubmitJob(JobSpec{
		Tasks: []TaskSpec{
			{TaskType: echoType, DependsOn: []int{1}},
			{TaskType: echoType, DependsOn: []int{0}},
		},
	})
	if err == nil {
		t.Fatal("expected cycle rejection")
	}

	// The rejected job must leave no task records behind.
	eng.store.mu.Lock()
	n := len(eng.store.tasks)
	eng.store.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no tasks committed, got %d", n)
	}
}

func TestSubmitJobRejectsSelfDependency(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	eng := NewEngine(clock, nil)

	_, err := eng.SubmitJob(JobSpec{
		Tasks: []TaskSpec{{TaskType: echoType, DependsOn: []int{0}}},
	})
	if err == nil {
		t.Fatal("expected self-dependency rejection")
	}
}

func TestEmptyJobCompletesImmediately(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	eng := NewEngine(clock, nil)

	jobID, err := eng.SubmitJob(JobSpec{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	status, err := eng.GetStatus(jobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != JobCompleted {
		t.Fatalf("expected Completed, got %s", status.State)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	eng := NewEngine(clock, nil)

	jobID, err := eng.SubmitJob(JobSpec{
		Tasks: []TaskSpec{{TaskType: echoType}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	lease, err := eng.Lease(ctx)
	if err != nil {
		t.Fatalf("lease 1: %v", err)
	}
	if err := eng.Complete(lease.AttemptID, Failure("boom")); err != nil {
		t.Fatalf("complete 1: %v", err)
	}

	status, _ := eng.GetStatus(jobID)
	if status.Tasks[0].State != TaskRetryScheduled {
		t.Fatalf("expected RetryScheduled, got %s", status.Tasks[0].State)
	}

	// Advance the clock past the retry delay and lease again.
	clock.Advance(time.Minute)
	lease2, err := eng.Lease(ctx)
	if err != nil {
		t.Fatalf("lease 2: %v", err)
	}
	if lease2.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", lease2.Attempt)
	}
	if err := eng.Complete(lease2.AttemptID, Success()); err != nil {
		t.Fatalf("complete 2: %v", err)
	}

	status, _ = eng.GetStatus(jobID)
	if status.State != JobCompleted {
		t.Fatalf("expected Completed, got %s", status.State)
	}
	if status.Tasks[0].State != TaskSucceeded {
		t.Fatalf("expected task Succeeded, got %s", status.Tasks[0].State)
	}

	result, err := eng.GetResult(jobID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(result.Decisions) != 1 {
		t.Fatalf("expected exactly 1 decision record, got %d", len(result.Decisions))
	}
	d := result.Decisions[0]
	if d.DecisionName != string(DecisionRetry) {
		t.Fatalf("expected decision %q, got %q", DecisionRetry, d.DecisionName)
	}
	if d.Policy != "retry_policy" {
		t.Fatalf("expected policy retry_policy, got %q", d.Policy)
	}
	if _, ok := d.Context["delay_secs"]; !ok {
		t.Fatal("expected retry decision context to carry delay_secs")
	}
	if _, ok := d.Context["next_run_at"]; !ok {
		t.Fatal("expected retry decision context to carry next_run_at")
	}
}

func TestAttemptExhaustionMarksDead(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	eng := NewEngine(clock, nil)
	maxAttempts := 2

	jobID, err := eng.SubmitJob(JobSpec{
		Tasks:  []TaskSpec{{TaskType: echoType, MaxAttempts: &maxAttempts}},
		Budget: Budget{MaxAttemptsPerTask: maxAttempts},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		lease, err := eng.Lease(ctx)
		if err != nil {
			t.Fatalf("lease %d: %v", i, err)
		}
		if err := eng.Complete(lease.AttemptID, Failure("nope")); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
		clock.Advance(time.Minute)
	}

	status, _ := eng.GetStatus(jobID)
	if status.Tasks[0].State != TaskDead {
		t.Fatalf("expected Dead, got %s", status.Tasks[0].State)
	}
	if status.State != JobFailed {
		t.Fatalf("expected Failed, got %s", status.State)
	}

	result, err := eng.GetResult(jobID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(result.Decisions) != 2 {
		t.Fatalf("expected 2 decision records (1 retry, 1 mark_dead), got %d", len(result.Decisions))
	}
	if result.Decisions[0].DecisionName != string(DecisionRetry) {
		t.Fatalf("expected the first decision to be schedule_retry, got %q", result.Decisions[0].DecisionName)
	}
	if result.Decisions[1].DecisionName != string(DecisionMarkDead) {
		t.Fatalf("expected the second decision to be mark_dead, got %q", result.Decisions[1].DecisionName)
	}
	if result.Decisions[1].Policy != "retry_policy" {
		t.Fatalf("expected mark_dead's policy to be retry_policy, got %q", result.Decisions[1].Policy)
	}
}

func TestDecompositionSpawnsChildren(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	eng := NewEngine(clock, nil)

	jobID, err := eng.SubmitJob(JobSpec{Tasks: []TaskSpec{{TaskType: echoType}}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	lease, err := eng.Lease(ctx)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	children := []TaskSpec{
		{TaskType: echoType, Payload: mustPayload(t, map[string]string{"step": "1"})},
		{TaskType: echoType, Payload: mustPayload(t, map[string]string{"step": "2"})},
	}
	if err := eng.Complete(lease.AttemptID, SuccessWithChildren(children...)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	status, _ := eng.GetStatus(jobID)
	if status.Tasks[0].State != TaskDecomposed {
		t.Fatalf("expected Decomposed, got %s", status.Tasks[0].State)
	}
	if len(status.Tasks) != 3 {
		t.Fatalf("expected parent + 2 children, got %d tasks", len(status.Tasks))
	}

	result, err := eng.GetResult(jobID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(result.Decisions) != 1 {
		t.Fatalf("expected exactly 1 decision record, got %d", len(result.Decisions))
	}
	decomposeDecision := result.Decisions[0]
	if decomposeDecision.DecisionName != string(DecisionDecompose) {
		t.Fatalf("expected decision %q, got %q", DecisionDecompose, decomposeDecision.DecisionName)
	}
	if decomposeDecision.Policy != "decomposition" {
		t.Fatalf("expected policy decomposition, got %q", decomposeDecision.Policy)
	}
	childIDs, _ := decomposeDecision.Context["child_ids"].([]string)
	if len(childIDs) != 2 {
		t.Fatalf("expected decomposition context to carry 2 child_ids, got %v", decomposeDecision.Context["child_ids"])
	}

	for i := 0; i < 2; i++ {
		lease, err := eng.Lease(ctx)
		if err != nil {
			t.Fatalf("lease child %d: %v", i, err)
		}
		if err := eng.Complete(lease.AttemptID, Success()); err != nil {
			t.Fatalf("complete child %d: %v", i, err)
		}
	}

	status, _ = eng.GetStatus(jobID)
	if status.State != JobCompleted {
		t.Fatalf("expected Completed after children finish, got %s", status.State)
	}
}

func TestDependencyGatesReady(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	eng := NewEngine(clock, nil)

	_, err := eng.SubmitJob(JobSpec{
		Tasks: []TaskSpec{
			{TaskType: echoType},
			{TaskType: echoType, DependsOn: []int{0}},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	first, err := eng.Lease(ctx)
	if err != nil {
		t.Fatalf("lease first: %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := eng.Lease(ctx2); err == nil {
		t.Fatal("expected second task to stay blocked while its dependency is unfinished")
	}

	if err := eng.Complete(first.AttemptID, Success()); err != nil {
		t.Fatalf("complete first: %v", err)
	}

	ctx3, cancel3 := context.WithTimeout(context.Background(), time.Second)
	defer cancel3()
	if _, err := eng.Lease(ctx3); err != nil {
		t.Fatalf("expected dependent task to become ready: %v", err)
	}
}

func TestDeadlineExpiryMarksJobStuck(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	eng := NewEngine(clock, nil)

	deadlineMs := int64(1000)
	jobID, err := eng.SubmitJob(JobSpec{
		Tasks:  []TaskSpec{{TaskType: echoType}, {TaskType: echoType, DependsOn: []int{0}}},
		Budget: Budget{DeadlineMs: &deadlineMs},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := eng.Lease(ctx)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := eng.Complete(lease.AttemptID, Failure("stuck forever")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Task 1 has 5 default attempts, so it reschedules rather than dying;
	// the job is stuck because task 2 can never become ready in time.
	clock.Advance(2 * time.Second)

	status, err := eng.GetStatus(jobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != JobStuck {
		t.Fatalf("expected Stuck, got %s", status.State)
	}
}

func TestCancelAlreadyCompletedJobIsNoop(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	eng := NewEngine(clock, nil)

	jobID, err := eng.SubmitJob(JobSpec{Tasks: []TaskSpec{{TaskType: echoType}}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := eng.Lease(ctx)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := eng.Complete(lease.AttemptID, Success()); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := eng.CancelJob(jobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	status, _ := eng.GetStatus(jobID)
	if status.State != JobCompleted {
		t.Fatalf("cancel must not override a terminal Completed state, got %s", status.State)
	}
}

func TestRetryPolicyNextDelayZero(t *testing.T) {
	p := DefaultRetryPolicy()
	if got := p.NextDelay(0); got != p.Base {
		t.Fatalf("NextDelay(0) = %v, want base delay %v", got, p.Base)
	}
}
