package weaver

import (
	"testing"
	"time"

	"github.com/kamojiro/weaver/internal/ids"
)

func newTestStore(clock ids.Clock) *store {
	return newStore(clock, ids.NewIDGenerator(clock))
}

func newTestTask(s *store, now time.Time) *TaskRecord {
	task := &TaskRecord{
		ID:          s.ids.NewTaskID(),
		State:       TaskRunning,
		MaxAttempts: 5,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[task.ID] = task
	return task
}

func TestStorePromoteDueOrdersByFireTime(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	s := newTestStore(clock)
	now := clock.Now()

	late := newTestTask(s, now)
	early := newTestTask(s, now)
	s.scheduleRetry(late, now.Add(10*time.Second), now)
	s.scheduleRetry(early, now.Add(time.Second), now)

	s.promoteDue(now.Add(20 * time.Second))

	if len(s.ready) != 2 {
		t.Fatalf("expected both entries promoted, got %d", len(s.ready))
	}
	if s.ready[0] != early.ID || s.ready[1] != late.ID {
		t.Fatalf("expected early task promoted first, got order %v", s.ready)
	}
}

func TestStorePromoteDueLeavesFutureEntries(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	s := newTestStore(clock)
	now := clock.Now()

	task := newTestTask(s, now)
	s.scheduleRetry(task, now.Add(time.Minute), now)

	s.promoteDue(now.Add(time.Second))

	if len(s.ready) != 0 {
		t.Fatalf("entry not yet due must not be promoted, got %v", s.ready)
	}
	if task.State != TaskRetryScheduled {
		t.Fatalf("expected task to remain RetryScheduled, got %s", task.State)
	}
}

func TestStorePopReadyIsFIFO(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	s := newTestStore(clock)
	now := clock.Now()

	first := newTestTask(s, now)
	second := newTestTask(s, now)
	s.enqueueReady(first, now)
	s.enqueueReady(second, now)

	id, ok := s.popReady()
	if !ok || id != first.ID {
		t.Fatalf("expected first task popped first, got %v ok=%v", id, ok)
	}
	id, ok = s.popReady()
	if !ok || id != second.ID {
		t.Fatalf("expected second task popped second, got %v ok=%v", id, ok)
	}
	if _, ok := s.popReady(); ok {
		t.Fatal("expected empty FIFO to report no entry")
	}
}

func TestStoreNextWakeDelayReflectsEarliestEntry(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	s := newTestStore(clock)
	now := clock.Now()

	if _, ok := s.nextWakeDelay(now); ok {
		t.Fatal("expected no wake delay with nothing scheduled")
	}

	task := newTestTask(s, now)
	s.scheduleRetry(task, now.Add(5*time.Second), now)

	d, ok := s.nextWakeDelay(now)
	if !ok {
		t.Fatal("expected a wake delay once an entry is scheduled")
	}
	if d != 5*time.Second {
		t.Fatalf("expected 5s delay, got %v", d)
	}

	d, ok = s.nextWakeDelay(now.Add(10 * time.Second))
	if !ok {
		t.Fatal("expected a wake delay even once the entry is overdue")
	}
	if d != 0 {
		t.Fatalf("expected delay clamped to zero once overdue, got %v", d)
	}
}

func TestStoreReleaseWaitersEnqueuesOnlyWhenFullyUnblocked(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	s := newTestStore(clock)
	now := clock.Now()

	a := newTestTask(s, now)
	b := newTestTask(s, now)
	waiter := newTestTask(s, now)
	waiter.State = TaskQueued

	if err := s.graph.addEdge(waiter.ID, a.ID); err != nil {
		t.Fatalf("addEdge waiter->a: %v", err)
	}
	if err := s.graph.addEdge(waiter.ID, b.ID); err != nil {
		t.Fatalf("addEdge waiter->b: %v", err)
	}
	waiter.DependsOn = s.graph.depsOf(waiter.ID)

	s.releaseWaiters(a.ID, now)
	if len(s.ready) != 0 {
		t.Fatal("waiter still depends on b, must not be released yet")
	}

	s.releaseWaiters(b.ID, now)
	if len(s.ready) != 1 || s.ready[0] != waiter.ID {
		t.Fatalf("expected waiter released once all deps cleared, ready=%v", s.ready)
	}
}

func TestStoreRewireWaitersPointsAtChildren(t *testing.T) {
	clock := ids.NewFakeClock(time.Unix(0, 0))
	s := newTestStore(clock)
	now := clock.Now()

	parent := newTestTask(s, now)
	child := newTestTask(s, now)
	waiter := newTestTask(s, now)
	waiter.State = TaskQueued

	if err := s.graph.addEdge(waiter.ID, parent.ID); err != nil {
		t.Fatalf("addEdge waiter->parent: %v", err)
	}
	waiter.DependsOn = s.graph.depsOf(waiter.ID)

	s.rewireWaiters(parent.ID, []ids.TaskID{child.ID}, now)

	if s.graph.hasDeps(waiter.ID) == false {
		t.Fatal("waiter should now depend on the child, not be free")
	}
	deps := s.graph.depsOf(waiter.ID)
	if len(deps) != 1 || deps[0] != child.ID {
		t.Fatalf("expected waiter to depend on child, got %v", deps)
	}
	if len(s.ready) != 0 {
		t.Fatal("waiter still has an unresolved dependency on the child, must not be ready")
	}
}
