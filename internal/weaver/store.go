package weaver

import (
	"container/heap"
	"sync"
	"time"

	"github.com/kamojiro/weaver/internal/ids"
)

// store is the engine's single guarded region: every mutable piece of
// orchestration state (job and task records, the attempt/decision audit
// trail, the dependency graph, the ready FIFO and the scheduled-retry heap)
// lives behind one mutex. No suspending call (a handler invocation, a
// channel receive, a context wait) ever happens while this lock is held;
// handler execution always happens strictly between a lease being
// constructed and the next lock acquisition. State lives under one lock
// and execution happens outside it, a single store instead of several
// cooperating locks.
type store struct {
	mu sync.Mutex

	clock ids.Clock
	ids   *ids.IDGenerator

	jobs      map[ids.JobID]*JobRecord
	tasks     map[ids.TaskID]*TaskRecord
	attempts  map[ids.AttemptID]*AttemptRecord
	decisions []DecisionRecord

	graph *depGraph

	ready     []ids.TaskID // FIFO: append at back, pop from front
	scheduled *scheduledHeap

	// wake is signaled whenever a task becomes available to lease, so a
	// blocked Lease call can wake without polling. Capacity 1, non-blocking
	// send: at most one pending wakeup is ever needed since Lease always
	// drains the whole ready slice under the lock before blocking again.
	wake chan struct{}

	closed bool
}

func newStore(clock ids.Clock, gen *ids.IDGenerator) *store {
	sh := &scheduledHeap{}
	heap.Init(sh)
	return &store{
		clock:     clock,
		ids:       gen,
		jobs:      make(map[ids.JobID]*JobRecord),
		tasks:     make(map[ids.TaskID]*TaskRecord),
		attempts:  make(map[ids.AttemptID]*AttemptRecord),
		graph:     newDepGraph(),
		scheduled: sh,
		wake:      make(chan struct{}, 1),
	}
}

func (s *store) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// scheduledEntry is one task awaiting a retry timer.
type scheduledEntry struct {
	taskID ids.TaskID
	at     time.Time
	index  int
}

// scheduledHeap is a min-heap over scheduledEntry.at, implementing
// container/heap.Interface. No ecosystem library in the corpus offers a
// timer-ordered priority queue; container/heap is the standard-library
// mechanism for exactly this shape (see DESIGN.md).
type scheduledHeap []*scheduledEntry

func (h scheduledHeap) Len() int            { return len(h) }
func (h scheduledHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h scheduledHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *scheduledHeap) Push(x any) {
	entry := x.(*scheduledEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *scheduledHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// promoteDue moves every scheduled entry whose fire time has passed into
// the ready FIFO. Called with the lock held, before every lease attempt:
// "promote scheduled retries before granting a new lease" is the only
// ordering guarantee the ready queue needs relative to the retry timer.
func (s *store) promoteDue(now time.Time) {
	for s.scheduled.Len() > 0 {
		next := (*s.scheduled)[0]
		if next.at.After(now) {
			return
		}
		heap.Pop(s.scheduled)
		task, ok := s.tasks[next.taskID]
		if !ok || task.State != TaskRetryScheduled {
			continue
		}
		task.State = TaskQueued
		task.UpdatedAt = now
		s.ready = append(s.ready, task.ID)
	}
}

// enqueueReady appends a task directly to the ready FIFO and marks it
// Queued. Callers must already hold the lock and must only call this for
// tasks with no unresolved dependency.
func (s *store) enqueueReady(task *TaskRecord, now time.Time) {
	task.State = TaskQueued
	task.UpdatedAt = now
	s.ready = append(s.ready, task.ID)
}

// scheduleRetry arms a task's retry timer and marks it RetryScheduled.
func (s *store) scheduleRetry(task *TaskRecord, at time.Time, now time.Time) {
	task.State = TaskRetryScheduled
	task.NextRunAt = at
	task.UpdatedAt = now
	heap.Push(s.scheduled, &scheduledEntry{taskID: task.ID, at: at})
}

// popReady removes and returns the front of the ready FIFO, or false if
// empty. Callers must hold the lock.
func (s *store) popReady() (ids.TaskID, bool) {
	if len(s.ready) == 0 {
		return ids.TaskID{}, false
	}
	id := s.ready[0]
	s.ready = s.ready[1:]
	return id, true
}

// countsByState tallies task records by state for one job, used to derive
// JobState and to decide whether a job has completed.
func (s *store) countsByState(jobID ids.JobID) map[TaskState]int {
	job := s.jobs[jobID]
	if job == nil {
		return nil
	}
	counts := make(map[TaskState]int, 6)
	for _, taskID := range job.TaskIDs {
		if t := s.tasks[taskID]; t != nil {
			counts[t.State]++
		}
	}
	return counts
}

// nextWakeDelay returns the duration until the earliest scheduled retry
// fires, or false if nothing is scheduled. Lease uses this to size its
// timer so a blocked worker still wakes up exactly when a retry becomes
// due, without polling.
func (s *store) nextWakeDelay(now time.Time) (time.Duration, bool) {
	if s.scheduled.Len() == 0 {
		return 0, false
	}
	d := (*s.scheduled)[0].at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// rewireWaiters replaces parent as a dependency with the given children for
// every task currently waiting on parent. Used when parent decomposes: its
// waiters must now wait for the children that replace it rather than for
// parent itself, which has already reached a terminal state.
func (s *store) rewireWaiters(parent ids.TaskID, children []ids.TaskID, now time.Time) {
	waiters := s.graph.waitersOf(parent)
	for _, waiterID := range waiters {
		s.graph.removeEdge(waiterID, parent)
		for _, child := range children {
			_ = s.graph.addEdge(waiterID, child) // fresh child ids cannot cycle back to an existing waiter
		}
		waiter := s.tasks[waiterID]
		if waiter == nil {
			continue
		}
		waiter.DependsOn = s.graph.depsOf(waiterID)
		if !s.graph.hasDeps(waiterID) && waiter.State == TaskQueued {
			s.ready = append(s.ready, waiter.ID)
			waiter.UpdatedAt = now
		}
	}
}

// releaseWaiters resolves task's outgoing dependency edges (task succeeded,
// so its waiters no longer block on it) and enqueues any waiter left with
// zero remaining dependencies. Complete calls it only on success; a Dead
// task keeps its waiters blocked. Callers must hold the lock.
func (s *store) releaseWaiters(taskID ids.TaskID, now time.Time) {
	waiters := s.graph.waitersOf(taskID)
	for _, waiterID := range waiters {
		nowReady := s.graph.removeEdge(waiterID, taskID)
		waiter := s.tasks[waiterID]
		if waiter == nil {
			continue
		}
		waiter.DependsOn = s.graph.depsOf(waiterID)
		if nowReady && waiter.State == TaskQueued {
			// waiter was already marked Queued-but-blocked (DependsOn
			// tracked separately from FIFO membership); only move it to
			// the FIFO once every dependency has cleared.
			s.ready = append(s.ready, waiter.ID)
		}
	}
}
