// Package bus defines the cross-instance pub/sub contract the Fan-out
// Dispatcher consumes, grounded on server/cluster.go's inter-node routing
// generalized from a custom gRPC ring-hash mesh (tinode/chat) to a plain
// broker abstraction, per spec.md section 4.5.
package bus

import (
	"context"
	"errors"
)

// ErrDisconnected is surfaced when a live subscription is dropped.
// spec.md: "A dropped subscription is surfaced as BusDisconnected; the
// Dispatcher must resubscribe and continue."
var ErrDisconnected = errors.New("bus: disconnected")

// Event is one message delivered off a subscription.
type Event struct {
	Topic string
	Data  []byte
}

// Subscription is a stream of Events. Closed (via Err returning
// ErrDisconnected) when the underlying transport drops the subscription.
type Subscription interface {
	// Events yields delivered messages until the subscription ends.
	Events() <-chan Event
	// Err returns the reason Events() closed, or nil if Close was called.
	Err() error
	Close() error
}

// Client is the pub/sub contract: publish to and subscribe from an
// inter-instance topic-per-channel bus. At-least-once intra-cluster
// delivery within a live subscription; no persistence.
type Client interface {
	Publish(ctx context.Context, topic string, data []byte) error
	SubscribePattern(ctx context.Context, pattern string) (Subscription, error)
	Close() error
}
