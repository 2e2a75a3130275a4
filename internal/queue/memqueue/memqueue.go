// Package memqueue is an in-memory queue.Client for tests: it records
// enqueued payloads per queue name, and can be configured to fail so
// callers can verify that queue failures never surface to the client
// (spec.md section 7).
package memqueue

import (
	"context"
	"errors"
	"sync"
)

// Queue is an in-memory queue.Client.
type Queue struct {
	mu      sync.Mutex
	items   map[string][][]byte
	failing bool
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{items: make(map[string][][]byte)}
}

// SetFailing makes every subsequent Enqueue call return an error, to
// exercise the "queue enqueue failures never reach the client" contract.
func (q *Queue) SetFailing(failing bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failing = failing
}

// Enqueue implements queue.Client.
func (q *Queue) Enqueue(ctx context.Context, queueName string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failing {
		return errors.New("memqueue: simulated failure")
	}
	q.items[queueName] = append(q.items[queueName], data)
	return nil
}

// Items returns a copy of everything enqueued onto queueName, for assertions.
func (q *Queue) Items(queueName string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.items[queueName]))
	copy(out, q.items[queueName])
	return out
}

// Close implements queue.Client.
func (q *Queue) Close() error { return nil }
