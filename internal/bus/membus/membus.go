// Package membus is an in-process bus.Client used by tests and by
// single-instance deployments that need no cross-node fan-out. Grounded on
// the original_source/dnachat Transmitter's pattern of a single pubsub
// stream feeding all locally-registered channel listeners.
package membus

import (
	"context"
	"path"
	"sync"

	"github.com/chathub/relay/internal/bus"
)

type subscriber struct {
	pattern string
	events  chan bus.Event
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

func (s *subscriber) Events() <-chan bus.Event { return s.events }
func (s *subscriber) Err() error               { return nil }
func (s *subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// Bus is an in-memory fan-out broker: every Publish is matched against
// every live subscriber's pattern and delivered on a best-effort,
// non-blocking basis (a slow subscriber drops messages rather than
// stalling the publisher, matching the no-persistence contract in
// spec.md section 4.5).
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish implements bus.Client.
func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if !matches(s.pattern, topic) {
			continue
		}
		select {
		case s.events <- bus.Event{Topic: topic, Data: data}:
		default:
		}
	}
	return nil
}

// SubscribePattern implements bus.Client. Pattern matching supports a
// trailing ">" wildcard (NATS-style, matching internal/bus/natsbus).
func (b *Bus) SubscribePattern(ctx context.Context, pattern string) (bus.Subscription, error) {
	s := &subscriber{
		pattern: pattern,
		events:  make(chan bus.Event, 256),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-s.done
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.events)
	}()

	return s, nil
}

// Close implements bus.Client.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.Close()
	}
	return nil
}

func matches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	const wildcard = ".>"
	if len(pattern) > len(wildcard) && pattern[len(pattern)-len(wildcard):] == wildcard {
		prefix := pattern[:len(pattern)-len(wildcard)]
		return topic == prefix || (len(topic) > len(prefix) && topic[:len(prefix)+1] == prefix+".")
	}
	if pattern == ">" {
		return true
	}
	ok, _ := path.Match(pattern, topic)
	return ok
}
