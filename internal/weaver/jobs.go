package weaver

import (
	"context"
	"time"

	"github.com/kamojiro/weaver/internal/ids"
)

// settleJob recomputes a job's aggregate state from its member tasks'
// states. It is a pure function of those states, the job's deadline
// against now (an unfinished job past its deadline reads Stuck), and the
// job's own Cancelled mark, which is sticky: once cancelled a job never reverts to
// Running even if a straggling attempt later succeeds. Called with the
// store lock held.
func (e *Engine) settleJob(jobID ids.JobID, now time.Time) {
	if !jobID.IsZero() {
		e.settleJobRecord(jobID, now)
	}
}

func (e *Engine) settleJobRecord(jobID ids.JobID, now time.Time) {
	job := e.store.jobs[jobID]
	if job == nil || job.State == JobCancelled {
		return
	}

	if len(job.TaskIDs) == 0 {
		job.State = JobCompleted
		job.UpdatedAt = now
		return
	}

	counts := e.store.countsByState(jobID)
	total := len(job.TaskIDs)
	terminal := counts[TaskSucceeded] + counts[TaskDead] + counts[TaskDecomposed]

	switch {
	case terminal < total:
		if !job.DeadlineAt.IsZero() && now.After(job.DeadlineAt) {
			job.State = JobStuck
		} else {
			job.State = JobRunning
		}
	case counts[TaskDead] > 0:
		job.State = JobFailed
	default:
		job.State = JobCompleted
	}
	job.UpdatedAt = now
}

// CancelJob marks a job Cancelled and removes every non-terminal member
// task from scheduling: queued and retry-scheduled tasks are flipped
// straight to Dead here, without being removed from the ready FIFO or the
// scheduled heap; promoteDue and Lease's nextLeasableTask both discard a
// popped id whose task record no longer reads Queued or whose job has gone
// Cancelled, so the stale FIFO/heap entry is never granted a lease. A task
// already Running is left to finish naturally; its Complete call records
// the outcome and applies the Decider's verdict without looking at the
// job's state. A retry it schedules is promoted back onto the ready FIFO
// when due, but nextLeasableTask skips it because the job is Cancelled, so
// the task is never leased again.
//
// Cancelling a job that has already reached a terminal state is a no-op.
func (e *Engine) CancelJob(jobID ids.JobID) error {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	now := e.clock.Now()
	job := e.store.jobs[jobID]
	if job == nil {
		return ErrJobNotFound
	}
	if job.State == JobCompleted || job.State == JobFailed || job.State == JobCancelled {
		return nil
	}

	for _, taskID := range job.TaskIDs {
		task := e.store.tasks[taskID]
		if task == nil || task.State.IsTerminal() {
			continue
		}
		if task.State == TaskQueued || task.State == TaskRetryScheduled {
			task.State = TaskDead
			task.LastError = "job cancelled"
			task.UpdatedAt = now
		}
		// Running tasks are left alone; a retry their eventual Complete
		// call schedules is never leased, since nextLeasableTask skips
		// every ready entry whose job is Cancelled.
	}

	job.State = JobCancelled
	job.UpdatedAt = now
	return nil
}

// JobStatus is the JSON view returned by GetStatus: a coarse snapshot
// suitable for polling, without the full attempt/decision audit trail.
type JobStatus struct {
	JobID     string           `json:"job_id"`
	State     JobState         `json:"state"`
	Tasks     []TaskStatusView `json:"tasks"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// TaskStatusView is one task's entry within a JobStatus.
type TaskStatusView struct {
	TaskID      string    `json:"task_id"`
	TaskType    TaskType  `json:"task_type"`
	State       TaskState `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
}

// GetStatus returns a point-in-time snapshot of a job and its tasks. It
// recomputes job state against the current clock first, so a job whose
// deadline has just passed is reported Stuck even if no worker happened to
// touch it since the deadline.
func (e *Engine) GetStatus(jobID ids.JobID) (JobStatus, error) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	job := e.store.jobs[jobID]
	if job == nil {
		return JobStatus{}, ErrJobNotFound
	}
	e.settleJobRecord(jobID, e.clock.Now())

	status := JobStatus{
		JobID:     jobID.String(),
		State:     job.State,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	for _, taskID := range job.TaskIDs {
		task := e.store.tasks[taskID]
		if task == nil {
			continue
		}
		status.Tasks = append(status.Tasks, TaskStatusView{
			TaskID:      taskID.String(),
			TaskType:    task.Envelope.TaskType,
			State:       task.State,
			Attempts:    task.Attempts,
			MaxAttempts: task.MaxAttempts,
			LastError:   task.LastError,
		})
	}
	return status, nil
}

// JobResult is the full-detail view returned by GetResult: every task's
// current record, its attempt history, and every DecisionRecord the
// Decider has produced for the job's tasks so far.
type JobResult struct {
	JobID     string           `json:"job_id"`
	State     JobState         `json:"state"`
	Tasks     []TaskResultView `json:"tasks"`
	Decisions []DecisionRecord `json:"decisions,omitempty"`
}

// TaskResultView is one task's full record within a JobResult.
type TaskResultView struct {
	TaskID     string          `json:"task_id"`
	TaskType   TaskType        `json:"task_type"`
	State      TaskState       `json:"state"`
	Attempts   []AttemptRecord `json:"attempts"`
	ChildTasks []string        `json:"child_tasks,omitempty"`
}

// GetResult returns the full record of a job's execution. It is valid to
// call at any time, not only once the job is terminal, but callers
// interested in a final result should check JobStatus.State first.
func (e *Engine) GetResult(jobID ids.JobID) (JobResult, error) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	job := e.store.jobs[jobID]
	if job == nil {
		return JobResult{}, ErrJobNotFound
	}

	taskIDSet := make(map[ids.TaskID]bool, len(job.TaskIDs))
	for _, taskID := range job.TaskIDs {
		taskIDSet[taskID] = true
	}

	result := JobResult{JobID: jobID.String(), State: job.State}
	for _, taskID := range job.TaskIDs {
		task := e.store.tasks[taskID]
		if task == nil {
			continue
		}
		view := TaskResultView{
			TaskID:   taskID.String(),
			TaskType: task.Envelope.TaskType,
			State:    task.State,
		}
		for _, attempt := range e.store.attempts {
			if attempt.TaskID == taskID {
				view.Attempts = append(view.Attempts, *attempt)
			}
		}
		for _, childID := range task.ChildTaskIDs {
			view.ChildTasks = append(view.ChildTasks, childID.String())
		}
		result.Tasks = append(result.Tasks, view)
	}
	for _, decision := range e.store.decisions {
		if taskIDSet[decision.TaskID] {
			result.Decisions = append(result.Decisions, decision)
		}
	}
	return result, nil
}

// RunReaper scans every non-terminal job once, marking any whose deadline
// has passed Stuck, and returns the number of jobs it marked. Callers
// typically run this on a ticker (see the schedule package) rather than
// relying solely on GetStatus's lazy recomputation, so a job can be
// observed Stuck even if nobody ever polls it.
func (e *Engine) RunReaper(ctx context.Context) int {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	now := e.clock.Now()
	marked := 0
	for jobID, job := range e.store.jobs {
		if job.State != JobRunning {
			continue
		}
		before := job.State
		e.settleJobRecord(jobID, now)
		if job.State == JobStuck && before != JobStuck {
			marked++
		}
	}
	return marked
}
