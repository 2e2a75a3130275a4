// Package natsbus wraps github.com/nats-io/nats.go as a bus.Client.
// Grounded on adred-codev-ws_poc's several server variants, all of which
// depend on nats.go for cross-instance pub/sub.
package natsbus

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/chathub/relay/internal/bus"
)

// Bus adapts a *nats.Conn to bus.Client. Channel topics are published as
// NATS subjects "chat.<channel>"; the control topic is "chat.control.<name>".
// NATS's native ">" wildcard subject matches spec.md's "pattern covering
// all channel topics" requirement directly.
type Bus struct {
	nc *nats.Conn
}

// New dials the given NATS URL.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{nc: nc}, nil
}

// Publish implements bus.Client.
func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	return b.nc.Publish(topic, data)
}

// SubscribePattern implements bus.Client.
func (b *Bus) SubscribePattern(ctx context.Context, pattern string) (bus.Subscription, error) {
	events := make(chan bus.Event, 1024)
	errCh := make(chan error, 1)

	sub, err := b.nc.Subscribe(pattern, func(msg *nats.Msg) {
		select {
		case events <- bus.Event{Topic: msg.Subject, Data: msg.Data}:
		default:
			// Subscriber too slow; drop rather than block the NATS dispatch
			// goroutine, matching the at-least-once/no-persistence contract.
		}
	})
	if err != nil {
		return nil, err
	}

	b.nc.SetDisconnectErrHandler(func(_ *nats.Conn, _ error) {
		select {
		case errCh <- bus.ErrDisconnected:
		default:
		}
	})

	return &subscription{sub: sub, events: events, errCh: errCh}, nil
}

// Close implements bus.Client.
func (b *Bus) Close() error {
	b.nc.Close()
	return nil
}

type subscription struct {
	sub    *nats.Subscription
	events chan bus.Event
	errCh  chan error
}

func (s *subscription) Events() <-chan bus.Event { return s.events }

func (s *subscription) Err() error {
	select {
	case err := <-s.errCh:
		return err
	default:
		return nil
	}
}

func (s *subscription) Close() error {
	return s.sub.Unsubscribe()
}

var _ bus.Client = (*Bus)(nil)
