// Package boltaudit implements ports.EventSink on top of an append-only
// BoltDB bucket, one key per event ordered by a monotonic counter so
// iteration recovers insertion order without a separate index.
package boltaudit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/kamojiro/weaver/internal/ports"
)

var bucketEvents = []byte("events")

// Sink is a bbolt-backed ports.EventSink.
type Sink struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a BoltDB file at path and ensures its
// events bucket exists.
func Open(path string) (*Sink, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create events bucket: %w", err)
	}
	return &Sink{db: db}, nil
}

// Close releases the underlying BoltDB file.
func (s *Sink) Close() error { return s.db.Close() }

// Record appends event under the bucket's next sequence number.
func (s *Sink) Record(ctx context.Context, event ports.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bucket.Put(key, data)
	})
}

// Tail returns the last n events in insertion order (oldest first).
func (s *Sink) Tail(n int) ([]ports.Event, error) {
	var out []ports.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		var buffered [][]byte
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if len(buffered) >= n {
				break
			}
			cp := make([]byte, len(v))
			copy(cp, v)
			buffered = append(buffered, cp)
		}
		for i := len(buffered) - 1; i >= 0; i-- {
			var ev ports.Event
			if err := json.Unmarshal(buffered[i], &ev); err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}
