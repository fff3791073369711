package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kamojiro/weaver/internal/backends/boltaudit"
	"github.com/kamojiro/weaver/internal/backends/memartifact"
	"github.com/kamojiro/weaver/internal/backends/redisqueue"
	"github.com/kamojiro/weaver/internal/httptask"
	"github.com/kamojiro/weaver/internal/ids"
	"github.com/kamojiro/weaver/internal/ports"
	"github.com/kamojiro/weaver/internal/schedule"
	"github.com/kamojiro/weaver/internal/telemetry"
	"github.com/kamojiro/weaver/internal/weaver"
)

// eventSinkAdapter lets a ports.EventSink (boltaudit.Sink) satisfy the
// engine-local weaver.EventSink, translating between the two identically
// shaped event structs at the one call site that needs both.
type eventSinkAdapter struct {
	sink ports.EventSink
}

func (a eventSinkAdapter) Record(ctx context.Context, event weaver.EngineEvent) error {
	return a.sink.Record(ctx, ports.Event{
		JobID:     event.JobID,
		TaskID:    event.TaskID,
		Kind:      event.Kind,
		State:     event.State,
		Reason:    event.Reason,
		Timestamp: event.Timestamp,
	})
}

func main() {
	service := "weaverd"
	logger := telemetry.InitLogging(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, shutdownTracing, err := telemetry.InitTracing(ctx, service)
	if err != nil {
		logger.Warn("tracing init failed", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	_, metricsHandler, err := telemetry.InitMetrics(service)
	if err != nil {
		logger.Warn("metrics init failed", "error", err)
	}

	engine := weaver.NewEngine(ids.SystemClock{}, nil)
	artifacts := memartifact.New()
	engine.Registry().MustRegister(httptask.TaskType, httptask.NewHandler(nil, 5, 10).WithArtifactStore(artifacts))

	if boltPath := os.Getenv("WEAVER_BOLT_PATH"); boltPath != "" {
		sink, err := boltaudit.Open(boltPath)
		if err != nil {
			logger.Error("boltaudit open failed", "path", boltPath, "error", err)
		} else {
			defer sink.Close()
			engine.SetEventSink(eventSinkAdapter{sink: sink})
			logger.Info("audit sink enabled", "path", boltPath)
		}
	}

	var mirror *redisqueue.Queue
	if redisAddr := os.Getenv("WEAVER_REDIS_ADDR"); redisAddr != "" {
		db, _ := strconv.Atoi(os.Getenv("WEAVER_REDIS_DB"))
		key := os.Getenv("WEAVER_REDIS_KEY")
		if key == "" {
			key = "weaver:submitted"
		}
		queue, err := redisqueue.Open(redisAddr, os.Getenv("WEAVER_REDIS_PASSWORD"), db, key)
		if err != nil {
			logger.Error("redisqueue open failed", "addr", redisAddr, "error", err)
		} else {
			defer queue.Close()
			mirror = queue
			logger.Info("delivery queue mirror enabled", "addr", redisAddr, "key", key)
		}
	}

	pool := weaver.NewWorkerPool(engine, engine.Registry(), 8, logger)
	pool.Start(ctx)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go schedule.RunReaperLoop(reaperCtx, engine, 5*time.Second, logger)

	recurring := schedule.NewRecurring(engine, logger)
	if _, err := recurring.AddSchedule("health-self-check", "@every 1m", weaver.JobSpec{
		Tasks: []weaver.TaskSpec{{
			Title:    "self health check",
			TaskType: httptask.TaskType,
			Payload:  []byte(`{"method":"GET","url":"http://127.0.0.1:8090/health"}`),
		}},
	}); err != nil {
		logger.Warn("recurring schedule registration failed", "error", err)
	}
	recurring.Start()
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelStop()
		_ = recurring.Stop(stopCtx)
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				artifacts.PurgeExpired()
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	mux.HandleFunc("/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var spec weaver.JobSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		jobID, err := engine.SubmitJob(spec)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if mirror != nil {
			mirrorSubmission(r.Context(), mirror, spec, jobID, logger)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]ids.JobID{"job_id": jobID})
	})

	mux.HandleFunc("/v1/jobs/status", func(w http.ResponseWriter, r *http.Request) {
		jobID, err := parseJobID(r.URL.Query().Get("job_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status, err := engine.GetStatus(jobID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc("/v1/jobs/result", func(w http.ResponseWriter, r *http.Request) {
		jobID, err := parseJobID(r.URL.Query().Get("job_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, err := engine.GetResult(jobID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(result)
	})

	srv := &http.Server{Addr: ":8090", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	logger.Info("weaverd started", "addr", srv.Addr)
	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if err := pool.ShutdownAndJoin(shutdownCtx); err != nil {
		logger.Warn("worker pool shutdown timed out", "error", err)
	}
	stopReaper()
	_ = shutdownTracing(shutdownCtx)

	logger.Info("shutdown complete")
}

// mirrorSubmission publishes every task in spec onto the optional Redis
// delivery queue, best-effort, for external consumers watching that queue
// in addition to the in-process WorkerPool. A publish failure is logged,
// never surfaced to the submitting caller: the in-process engine already
// has the authoritative copy of the job.
func mirrorSubmission(ctx context.Context, mirror *redisqueue.Queue, spec weaver.JobSpec, jobID ids.JobID, logger *slog.Logger) {
	for _, ts := range spec.Tasks {
		envelope := weaver.TaskEnvelope{TaskType: ts.TaskType, Payload: ts.Payload}
		if err := mirror.Publish(ctx, envelope); err != nil {
			logger.Warn("delivery queue mirror publish failed", "job_id", jobID.String(), "error", err)
		}
	}
}

func parseJobID(s string) (ids.JobID, error) {
	var jobID ids.JobID
	if s == "" {
		return jobID, errEmptyJobID
	}
	if err := jobID.UnmarshalText([]byte(s)); err != nil {
		return jobID, err
	}
	return jobID, nil
}

var errEmptyJobID = errors.New("job_id is required")
