package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/kamojiro/weaver/internal/ids"
	"github.com/kamojiro/weaver/internal/weaver"
)

const echoType weaver.TaskType = "test.echo.v1"

func TestRecurringAddScheduleRejectsInvalidExpr(t *testing.T) {
	eng := weaver.NewEngine(ids.NewFakeClock(time.Unix(0, 0)), nil)
	r := NewRecurring(eng, nil)

	if _, err := r.AddSchedule("bad", "not a cron expression", weaver.JobSpec{}); err == nil {
		t.Fatal("expected an error for a malformed cron expression")
	}
}

func TestRecurringStopWithoutStartReturnsPromptly(t *testing.T) {
	eng := weaver.NewEngine(ids.NewFakeClock(time.Unix(0, 0)), nil)
	r := NewRecurring(eng, nil)

	if _, err := r.AddSchedule("noop", "* * * * * *", weaver.JobSpec{Tasks: []weaver.TaskSpec{{TaskType: echoType}}}); err != nil {
		t.Fatalf("add schedule: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("stop on a scheduler that was never started should return immediately: %v", err)
	}
}

func TestRunReaperLoopMarksStuckJobOnTick(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	eng := weaver.NewEngine(clock, nil)

	deadlineMs := int64(1)
	jobID, err := eng.SubmitJob(weaver.JobSpec{
		Tasks:  []weaver.TaskSpec{{TaskType: echoType}, {TaskType: echoType, DependsOn: []int{0}}},
		Budget: weaver.Budget{DeadlineMs: &deadlineMs},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Task 0 is ready but never leased; the job's deadline has already
	// passed by the time the reaper loop's first tick fires, so the loop
	// should mark it Stuck without anyone calling GetStatus.
	clock.Advance(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	RunReaperLoop(ctx, eng, 10*time.Millisecond, nil)

	status, err := eng.GetStatus(jobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != weaver.JobStuck {
		t.Fatalf("expected the reaper loop to have marked the job Stuck, got %s", status.State)
	}
}
