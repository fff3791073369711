// Package redisqueue implements ports.DeliveryQueue as a Redis list:
// Publish LPUSHes a JSON-encoded envelope, Consume BRPOPs it. This gives
// out-of-process workers a transport without requiring them to link
// against the core engine package at all.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/kamojiro/weaver/internal/weaver"
)

// Queue is a Redis-list-backed ports.DeliveryQueue.
type Queue struct {
	client *redis.Client
	key    string
}

// Open connects to addr/db and returns a Queue publishing/consuming on key.
// The initial Ping is retried with an exponential backoff (built from the
// engine's DefaultRetryPolicy, with the library's default jitter) up to 5
// times, since a freshly started
// Redis instance racing this process's own startup is a transient fault,
// not a permanent one.
func Open(addr, password string, db int, key string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	b := backoff.WithMaxRetries(weaver.DefaultRetryPolicy().NewExponentialBackOff(), 5)
	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}
	if err := backoff.Retry(ping, b); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Queue{client: client, key: key}, nil
}

// Close releases the underlying client.
func (q *Queue) Close() error { return q.client.Close() }

// Publish pushes envelope onto the queue's list.
func (q *Queue) Publish(ctx context.Context, envelope weaver.TaskEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Consume blocks until an envelope is available or ctx is cancelled.
func (q *Queue) Consume(ctx context.Context) (weaver.TaskEnvelope, error) {
	result, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return weaver.TaskEnvelope{}, fmt.Errorf("brpop: %w", err)
	}
	if len(result) != 2 {
		return weaver.TaskEnvelope{}, fmt.Errorf("unexpected brpop reply shape")
	}
	var envelope weaver.TaskEnvelope
	if err := json.Unmarshal([]byte(result[1]), &envelope); err != nil {
		return weaver.TaskEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return envelope, nil
}
