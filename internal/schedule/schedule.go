// Package schedule supplements on-demand SubmitJob with two background
// loops: recurring cron-triggered job resubmission, and a periodic
// deadline reaper, so a job whose tasks simply stop making progress is
// observed Stuck without anyone polling it.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kamojiro/weaver/internal/weaver"
)

// Recurring resubmits a JobSpec on a cron schedule.
type Recurring struct {
	cron   *cron.Cron
	engine *weaver.Engine
	logger *slog.Logger
}

// NewRecurring builds a Recurring scheduler with seconds-precision cron
// parsing.
func NewRecurring(engine *weaver.Engine, logger *slog.Logger) *Recurring {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recurring{
		cron:   cron.New(cron.WithSeconds()),
		engine: engine,
		logger: logger,
	}
}

// AddSchedule registers spec to be submitted every time cronExpr fires.
// Submission errors (e.g. a cycle in spec's dependencies) are logged, not
// returned, since they happen on a background tick with no caller to
// surface them to.
func (r *Recurring) AddSchedule(name, cronExpr string, spec weaver.JobSpec) (cron.EntryID, error) {
	entryID, err := r.cron.AddFunc(cronExpr, func() {
		jobID, err := r.engine.SubmitJob(spec)
		if err != nil {
			r.logger.Error("scheduled submission failed", "schedule", name, "error", err)
			return
		}
		r.logger.Info("scheduled job submitted", "schedule", name, "job_id", jobID.String())
	})
	if err != nil {
		return 0, fmt.Errorf("add cron schedule %q: %w", name, err)
	}
	return entryID, nil
}

// Start begins firing scheduled submissions.
func (r *Recurring) Start() { r.cron.Start() }

// Stop waits for in-flight submissions to finish or ctx to expire.
func (r *Recurring) Stop(ctx context.Context) error {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunReaperLoop calls engine.RunReaper on every tick of interval until ctx
// is cancelled. A job's deadline is otherwise only rechecked lazily, the
// next time someone calls GetStatus or a Lease call pops one of its ready
// tasks; this loop makes "stuck" visible without a caller needing to ask.
func RunReaperLoop(ctx context.Context, engine *weaver.Engine, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if marked := engine.RunReaper(ctx); marked > 0 {
				logger.Warn("jobs marked stuck", "count", marked)
			}
		}
	}
}
