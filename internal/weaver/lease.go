package weaver

import (
	"context"
	"time"

	"github.com/kamojiro/weaver/internal/ids"
)

// ActiveLease is handed to a worker by Lease: the envelope to execute plus
// the bookkeeping the worker must pass back to Complete.
type ActiveLease struct {
	AttemptID ids.AttemptID
	Envelope  TaskEnvelope
	Attempt   int // 1-based attempt number this lease represents
	StartedAt time.Time
}

// Lease blocks until a task is ready to run, ctx is cancelled, or the
// engine has been shut down. It promotes any due scheduled retries before
// looking at the ready FIFO, so a retry's timer firing is never starved by
// a worker that happened to check first.
//
// No suspending call happens while store.mu is held: Lease always releases
// the lock before blocking on ctx.Done()/store.wake/a timer, and reacquires
// it only to check state again, never while a handler is executing.
func (e *Engine) Lease(ctx context.Context) (*ActiveLease, error) {
	for {
		e.store.mu.Lock()
		now := e.clock.Now()
		e.store.promoteDue(now)

		if task := e.nextLeasableTask(now); task != nil {
			task.State = TaskRunning
			task.Attempts++
			task.UpdatedAt = now
			attemptID := e.store.ids.NewAttemptID()
			envelope := task.Envelope.Clone()
			attemptNum := task.Attempts

			e.store.attempts[attemptID] = &AttemptRecord{
				ID:        attemptID,
				TaskID:    task.ID,
				Action:    envelope,
				StartedAt: now,
			}
			e.store.mu.Unlock()

			return &ActiveLease{
				AttemptID: attemptID,
				Envelope:  envelope,
				Attempt:   attemptNum,
				StartedAt: now,
			}, nil
		}

		closed := e.store.closed
		wait, hasTimer := e.store.nextWakeDelay(now)
		e.store.mu.Unlock()

		if closed {
			return nil, ErrQueueClosed
		}

		if hasTimer {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-e.store.wake:
				timer.Stop()
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-e.store.wake:
			}
		}
	}
}

// nextLeasableTask pops ready-FIFO entries until it finds one still eligible
// to run, discarding stale entries along the way. An entry can be stale in
// two ways: its task record no longer reads Queued (CancelJob flipped it
// straight to Dead without touching the FIFO), or its owning job has since
// become Cancelled or Stuck (a deadline that has just elapsed, discovered
// here rather than at GetStatus time, is the "next lease attempt marks the
// job Stuck and skips the task" case). Returns nil once the FIFO is empty.
// Called with the store lock held.
func (e *Engine) nextLeasableTask(now time.Time) *TaskRecord {
	for {
		taskID, ok := e.store.popReady()
		if !ok {
			return nil
		}
		task := e.store.tasks[taskID]
		if task == nil || task.State != TaskQueued {
			continue
		}
		if task.HasJob {
			e.settleJobRecord(task.JobID, now)
			if job := e.store.jobs[task.JobID]; job != nil {
				switch job.State {
				case JobCancelled, JobStuck:
					continue
				}
			}
		}
		return task
	}
}

// Ack reports a bare successful completion with no observations, the
// common case for handlers that have nothing else to say.
func (e *Engine) Ack(attemptID ids.AttemptID) error {
	return e.Complete(attemptID, Success())
}

// Fail reports a failed attempt, letting the Decider choose between retry
// and marking the task dead (a plain Failure proposes no children, so it
// never decomposes). A thin wrapper over Complete
// for handlers that only ever produce a plain success or a plain failure.
func (e *Engine) Fail(attemptID ids.AttemptID, err error) error {
	return e.Complete(attemptID, Failure(err.Error()))
}

// Complete reports the outcome of the attempt identified by attemptID and
// applies the resulting Decision: retry, mark dead, or decompose. Calling
// Complete for an attempt whose task is no longer Running (already
// completed, or superseded by a later attempt) is a no-op, since
// ErrQueueClosed-style races between a slow handler and a cancelled job are
// expected, not exceptional.
func (e *Engine) Complete(attemptID ids.AttemptID, outcome Outcome) error {
	e.store.mu.Lock()

	now := e.clock.Now()

	attempt, ok := e.store.attempts[attemptID]
	if !ok {
		e.store.mu.Unlock()
		return ErrTaskNotFound
	}
	if !attempt.EndedAt.IsZero() {
		e.store.mu.Unlock()
		return nil
	}
	attempt.Outcome = outcome
	attempt.EndedAt = now

	task, ok := e.store.tasks[attempt.TaskID]
	if !ok {
		e.store.mu.Unlock()
		return ErrTaskNotFound
	}
	if task.State != TaskRunning {
		e.store.mu.Unlock()
		return nil
	}

	decomposing := outcome.ProposesDecomposition()
	if outcome.Kind == OutcomeSuccess && !decomposing {
		task.State = TaskSucceeded
		task.UpdatedAt = now
		e.store.releaseWaiters(task.ID, now)
		e.settleJob(task.JobID, now)
		e.store.notify()

		event := EngineEvent{JobID: task.JobID, TaskID: task.ID, Kind: "task_succeeded", State: task.State, Timestamp: now}
		e.store.mu.Unlock()
		e.emit(event)
		return nil
	}

	decision := e.decider.Decide(*task, outcome)
	record := DecisionRecord{
		TaskID:           task.ID,
		TriggerAttemptID: attemptID,
		TriggerKind:      outcome.Kind,
		DecisionName:     string(decision.Kind),
		Timestamp:        now,
	}

	switch decision.Kind {
	case DecisionRetry:
		nextRunAt := now.Add(decision.RetryDelay)
		record.Policy = "retry_policy"
		record.Context = map[string]any{
			"delay_secs":  decision.RetryDelay.Seconds(),
			"next_run_at": nextRunAt,
		}
		e.store.scheduleRetry(task, nextRunAt, now)
	case DecisionMarkDead:
		record.Policy = "retry_policy"
		task.State = TaskDead
		task.LastError = decision.DeadReason
		task.UpdatedAt = now
		// Waiters on a dead task are deliberately left blocked: the job
		// cannot make further progress past this point and should surface
		// as stuck at its deadline rather than silently skip the gap.
	case DecisionDecompose:
		task.State = TaskDecomposed
		task.UpdatedAt = now
		childIDs := e.spawnChildren(task, decision.ChildSpecs, now)
		task.ChildTaskIDs = childIDs
		e.store.rewireWaiters(task.ID, childIDs, now)

		childIDStrings := make([]string, len(childIDs))
		for i, id := range childIDs {
			childIDStrings[i] = id.String()
		}
		record.Policy = "decomposition"
		record.Context = map[string]any{"child_ids": childIDStrings}
	}
	e.store.decisions = append(e.store.decisions, record)

	e.settleJob(task.JobID, now)
	e.store.notify()

	event := EngineEvent{
		JobID:     task.JobID,
		TaskID:    task.ID,
		Kind:      "decision_" + string(decision.Kind),
		State:     task.State,
		Reason:    record.DecisionName,
		Timestamp: now,
	}
	e.store.mu.Unlock()
	e.emit(event)
	return nil
}

// spawnChildren allocates and registers task records for a decomposition's
// child specs, resolving each child's DependsOn as indices into the
// children slice itself (siblings, not the original job's task list).
// Called with the store lock held.
func (e *Engine) spawnChildren(parent *TaskRecord, specs []TaskSpec, now time.Time) []ids.TaskID {
	childIDs := make([]ids.TaskID, len(specs))
	for i := range specs {
		childIDs[i] = e.store.ids.NewTaskID()
	}

	for i, spec := range specs {
		taskType, payload := spec.resolvedEnvelope()
		maxAttempts := DefaultBudget().MaxAttemptsPerTask
		if parent.MaxAttempts > 0 {
			maxAttempts = parent.MaxAttempts
		}
		if spec.MaxAttempts != nil {
			maxAttempts = *spec.MaxAttempts
		}
		rec := &TaskRecord{
			ID: childIDs[i],
			Envelope: TaskEnvelope{
				TaskID:   childIDs[i],
				TaskType: taskType,
				Payload:  payload,
			},
			State:        TaskQueued,
			JobID:        parent.JobID,
			HasJob:       parent.HasJob,
			MaxAttempts:  maxAttempts,
			ParentTaskID: parent.ID,
			HasParent:    true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		e.store.tasks[childIDs[i]] = rec
		if parent.HasJob {
			job := e.store.jobs[parent.JobID]
			if job != nil {
				job.TaskIDs = append(job.TaskIDs, childIDs[i])
			}
		}
	}

	for i, spec := range specs {
		for _, depIdx := range spec.DependsOn {
			if depIdx < 0 || depIdx >= len(specs) || depIdx == i {
				continue
			}
			if err := e.store.graph.addEdge(childIDs[i], childIDs[depIdx]); err == nil {
				child := e.store.tasks[childIDs[i]]
				child.DependsOn = e.store.graph.depsOf(childIDs[i])
			}
		}
	}

	for _, childID := range childIDs {
		child := e.store.tasks[childID]
		if !e.store.graph.hasDeps(childID) {
			e.store.enqueueReady(child, now)
		}
	}

	return childIDs
}
