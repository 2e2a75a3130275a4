// Package dispatcher implements the Fan-out Dispatcher: the one
// long-lived worker per server instance that demultiplexes bus events to
// local sessions. Grounded on server/hub.go's route channel consumer loop
// (tinode/chat), which plays the same "receive from a shared channel,
// look up local subscribers, write to each" role, generalized here to
// read from a bus.Subscription instead of an in-process Go channel.
package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chathub/relay/internal/bus"
	"github.com/chathub/relay/internal/codec"
	"github.com/chathub/relay/internal/metrics"
	"github.com/chathub/relay/internal/proto"
	"github.com/chathub/relay/internal/registry"
)

// envelopeHeader is the subset of every envelope's fields the Dispatcher
// needs; it does not interpret type-specific semantics beyond these, per
// spec.md section 4.3.
type envelopeHeader struct {
	Channel     string    `bson:"channel"`
	PublishedAt time.Time `bson:"published_at"`
}

// Pattern covers every per-channel topic plus the control topic: both
// "chat.<channel>" and "chat.control.create_channel" match "chat.>".
const Pattern = "chat.>"

// Dispatcher subscribes to the bus and fans events out to locally
// registered sessions.
type Dispatcher struct {
	bus     bus.Client
	reg     *registry.Registry
	log     *zap.Logger
	metrics *metrics.Registry
}

// New builds a Dispatcher. It does not start running until Run is called.
// m may be nil, in which case metrics are simply not recorded.
func New(b bus.Client, reg *registry.Registry, log *zap.Logger, m *metrics.Registry) *Dispatcher {
	return &Dispatcher{bus: b, reg: reg, log: log, metrics: m}
}

// Run subscribes and processes events until ctx is canceled. On a dropped
// subscription it logs BusDisconnected and resubscribes, per spec.md
// section 4.5: messages delivered during the gap are lost, which is
// acceptable because history recovery goes through unread.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := d.runOnce(ctx); err != nil {
			d.log.Warn("dispatcher resubscribing after bus disconnect", zap.Error(proto.BusDisconnected(err)))
			if d.metrics != nil {
				d.metrics.BusReconnects.Inc()
			}
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) error {
	sub, err := d.bus.SubscribePattern(ctx, Pattern)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return nil
			}
			d.deliver(ev)
		}
	}
}

func (d *Dispatcher) deliver(ev bus.Event) {
	if ev.Topic == proto.ControlTopic {
		d.handleControl(ev)
		return
	}

	var hdr envelopeHeader
	if err := codec.DecodeBody(ev.Data, &hdr); err != nil {
		d.log.Warn("dispatcher failed to decode envelope header", zap.Error(err))
		return
	}

	for _, sess := range d.reg.Sessions(hdr.Channel) {
		if err := sess.Deliver(hdr.Channel, ev.Data, hdr.PublishedAt); err != nil {
			d.log.Debug("dispatcher delivery failed", zap.String("session", sess.ID()), zap.Error(err))
		}
	}
}

// handleControl reacts to a create_channel notice by subscribing any
// already-connected local sessions for the addressed users to the new
// channel, per spec.md section 6's "minimally, it must update local
// registries" requirement.
func (d *Dispatcher) handleControl(ev bus.Event) {
	var notice proto.CreateChannelNotice
	if err := codec.DecodeBody(ev.Data, &notice); err != nil {
		d.log.Warn("dispatcher failed to decode control notice", zap.Error(err))
		return
	}
	for _, user := range notice.Users {
		for _, sess := range d.reg.Sessions(registry.UserKey(user)) {
			d.reg.Add(notice.Channel, sess)
			sess.NotifyChannelJoined(notice.Channel)
		}
	}
}
