package redisqueue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kamojiro/weaver/internal/weaver"
)

// Exercising Queue against a live broker is an integration concern; it only
// runs when WEAVER_REDIS_TEST_ADDR points at a reachable Redis instance.
func TestPublishConsumeRoundTrip(t *testing.T) {
	addr := os.Getenv("WEAVER_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("WEAVER_REDIS_TEST_ADDR not set, skipping Redis integration test")
	}

	q, err := Open(addr, "", 0, "weaver:test:"+t.Name())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()

	envelope := weaver.TaskEnvelope{TaskType: "test.echo.v1", Payload: []byte(`{"n":1}`)}
	if err := q.Publish(context.Background(), envelope); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.TaskType != envelope.TaskType {
		t.Fatalf("expected task type %s, got %s", envelope.TaskType, got.TaskType)
	}
}

func TestConsumeRespectsContextCancellation(t *testing.T) {
	addr := os.Getenv("WEAVER_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("WEAVER_REDIS_TEST_ADDR not set, skipping Redis integration test")
	}

	q, err := Open(addr, "", 0, "weaver:test:"+t.Name())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := q.Consume(ctx); err == nil {
		t.Fatal("expected Consume to return once its context expires with nothing published")
	}
}
