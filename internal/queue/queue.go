// Package queue defines the notification/audit enqueue contract, grounded
// on server/push.Handler (tinode/chat) and, for semantics, on
// original_source/dnachat's use of SQS (notification_queue, log_queue).
package queue

import "context"

// Client enqueues best-effort, JSON-encoded envelopes onto a named queue.
// Durability is provided by the external queue; callers must not let a slow
// or failing queue block protocol progress (spec.md section 4.6).
type Client interface {
	Enqueue(ctx context.Context, queueName string, data []byte) error
	Close() error
}
