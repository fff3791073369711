package weaver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// WorkerPool runs a fixed number of goroutines that each loop Lease ->
// Handle -> Complete against one Engine. Workers never suspend while the
// engine's lock is held: Lease already drops the lock before blocking, and
// the handler invocation itself happens entirely between that and the
// Complete call that reacquires it.
type WorkerPool struct {
	engine   *Engine
	registry *Registry
	size     int
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool builds a pool of size workers against engine, dispatching
// to registry for task-type lookup. A nil logger falls back to slog's
// default logger.
func NewWorkerPool(engine *Engine, registry *Registry, size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{engine: engine, registry: registry, size: size, logger: logger}
}

// Start launches the pool's worker goroutines. ctx governs the pool's own
// lifetime; ShutdownAndJoin is the preferred way to stop it so in-flight
// leases get a chance to complete first.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

func (p *WorkerPool) run(ctx context.Context, workerIndex int) {
	defer p.wg.Done()
	for {
		lease, err := p.engine.Lease(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrQueueClosed) {
				return
			}
			p.logger.Warn("lease failed", "worker", workerIndex, "error", err)
			return
		}

		outcome := p.execute(context.WithoutCancel(ctx), lease)
		if err := p.engine.Complete(lease.AttemptID, outcome); err != nil {
			p.logger.Error("complete failed", "worker", workerIndex, "task_id", lease.Envelope.TaskID.String(), "error", err)
		}
	}
}

// execute dispatches one leased envelope to its registered handler,
// converting an unknown task type or handler error into a Failure outcome
// rather than letting it escape. A worker never crashes the pool over one
// bad task.
func (p *WorkerPool) execute(ctx context.Context, lease *ActiveLease) Outcome {
	handler, err := p.registry.Lookup(lease.Envelope.TaskType)
	if err != nil {
		return Failure(err.Error())
	}

	outcome, err := handler.Handle(ctx, lease.Envelope)
	if err != nil {
		return Failure(err.Error())
	}
	return outcome
}

// ShutdownAndJoin stops accepting new leases and waits for every worker to
// finish its current attempt (or for ctx to expire, whichever comes
// first). It never forces a running handler to abort; it only stops
// workers from starting a new one.
func (p *WorkerPool) ShutdownAndJoin(ctx context.Context) error {
	p.engine.store.mu.Lock()
	p.engine.store.closed = true
	p.engine.store.mu.Unlock()

	// Cancel immediately, not deferred: notify's single-slot wake channel
	// only ever wakes one blocked worker, but every worker's Lease call
	// also selects on this pool's own context, so cancelling it now is what
	// actually unblocks the rest of them.
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
