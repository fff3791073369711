package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInitMetricsReturnsUsableInstrumentsAndHandler(t *testing.T) {
	metrics, handler, err := InitMetrics("weaver-metrics-test")
	if err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	if handler == nil {
		t.Fatal("expected a non-nil metrics handler")
	}
	if metrics.TasksLeased == nil || metrics.AttemptDuration == nil || metrics.ReadyQueueDepth == nil {
		t.Fatal("expected every named instrument to be initialized")
	}

	metrics.TasksLeased.Add(context.Background(), 1)
	metrics.ObserveAttempt(context.Background(), time.Now().Add(-5*time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected the scrape endpoint to respond 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected a non-empty Prometheus exposition body")
	}
}

func TestObserveAttemptNoopsWithoutHistogram(t *testing.T) {
	var m EngineMetrics
	// Must not panic when the histogram was never initialized.
	m.ObserveAttempt(context.Background(), time.Now())
}
