package weaver

import (
	"fmt"

	"github.com/kamojiro/weaver/internal/ids"
)

// SubmitJob validates a JobSpec's dependency edges as a whole and, only if
// every edge is acceptable, commits all of its tasks atomically: either the
// entire job is admitted or none of it is. Tasks with no dependency are
// placed straight on the ready FIFO; tasks with dependencies wait for
// releaseWaiters to clear them.
func (e *Engine) SubmitJob(spec JobSpec) (ids.JobID, error) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	if e.store.closed {
		return ids.JobID{}, ErrQueueClosed
	}

	now := e.clock.Now()
	jobID := e.store.ids.NewJobID()

	taskIDs := make([]ids.TaskID, len(spec.Tasks))
	for i := range spec.Tasks {
		taskIDs[i] = e.store.ids.NewTaskID()
	}

	// Stage every edge against a scratch graph cloned from the live one so
	// a rejected submission leaves no trace: nothing is mutated on the real
	// graph or the task map until every edge in this job validates clean.
	scratch := e.store.graph.clone()
	for i, ts := range spec.Tasks {
		for _, depIdx := range ts.DependsOn {
			if depIdx == i {
				return ids.JobID{}, fmt.Errorf("%w: task %d", ErrSelfDependency, i)
			}
			if depIdx < 0 || depIdx >= len(spec.Tasks) {
				return ids.JobID{}, fmt.Errorf("%w: task %d depends on index %d", ErrInvalidDependencyIndex, i, depIdx)
			}
			if err := scratch.addEdge(taskIDs[i], taskIDs[depIdx]); err != nil {
				return ids.JobID{}, err
			}
		}
	}

	budget := spec.normalizedBudget()
	maxAttempts := budget.MaxAttemptsPerTask

	records := make([]*TaskRecord, len(spec.Tasks))
	for i, ts := range spec.Tasks {
		taskType, payload := ts.resolvedEnvelope()
		attempts := maxAttempts
		if ts.MaxAttempts != nil {
			attempts = *ts.MaxAttempts
		}
		records[i] = &TaskRecord{
			ID: taskIDs[i],
			Envelope: TaskEnvelope{
				TaskID:   taskIDs[i],
				TaskType: taskType,
				Payload:  payload,
			},
			State:       TaskQueued,
			JobID:       jobID,
			HasJob:      true,
			MaxAttempts: attempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	// Commit: swap in the validated graph, register every task record, and
	// enqueue the ones with no dependency.
	e.store.graph = scratch
	for i, rec := range records {
		rec.DependsOn = scratch.depsOf(rec.ID)
		e.store.tasks[rec.ID] = rec
		if !scratch.hasDeps(rec.ID) {
			e.store.enqueueReady(rec, now)
		}
	}

	job := &JobRecord{
		ID:         jobID,
		Spec:       spec,
		State:      JobRunning,
		TaskIDs:    taskIDs,
		CreatedAt:  now,
		UpdatedAt:  now,
		DeadlineAt: budget.deadline(now),
	}
	if len(spec.Tasks) == 0 {
		job.State = JobCompleted
	}
	e.store.jobs[jobID] = job

	e.store.notify()
	return jobID, nil
}

// Enqueue submits a single ad-hoc task with no owning job and no
// dependencies. It is the entry point used by handlers and callers that
// don't need job-level grouping or budgets.
func (e *Engine) Enqueue(spec TaskSpec) (ids.TaskID, error) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	if e.store.closed {
		return ids.TaskID{}, ErrQueueClosed
	}

	now := e.clock.Now()
	taskID := e.store.ids.NewTaskID()
	taskType, payload := spec.resolvedEnvelope()

	maxAttempts := DefaultBudget().MaxAttemptsPerTask
	if spec.MaxAttempts != nil {
		maxAttempts = *spec.MaxAttempts
	}

	rec := &TaskRecord{
		ID: taskID,
		Envelope: TaskEnvelope{
			TaskID:   taskID,
			TaskType: taskType,
			Payload:  payload,
		},
		State:       TaskQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.store.tasks[taskID] = rec
	e.store.enqueueReady(rec, now)
	e.store.notify()

	return taskID, nil
}
