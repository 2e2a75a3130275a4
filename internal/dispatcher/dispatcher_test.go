package dispatcher_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chathub/relay/internal/bus/membus"
	"github.com/chathub/relay/internal/codec"
	"github.com/chathub/relay/internal/dispatcher"
	"github.com/chathub/relay/internal/proto"
	"github.com/chathub/relay/internal/registry"
)

type recordingSession struct {
	id string

	mu       sync.Mutex
	received []string
	joined   []string
}

func (r *recordingSession) ID() string { return r.id }

func (r *recordingSession) Deliver(channel string, body []byte, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, channel)
	return nil
}

func (r *recordingSession) NotifyChannelJoined(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, channel)
}

func (r *recordingSession) deliveries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.received))
	copy(out, r.received)
	return out
}

func TestDispatcherFansOutToRegisteredSessions(t *testing.T) {
	b := membus.New()
	reg := registry.New()
	d := dispatcher.New(b, reg, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	a := &recordingSession{id: "a"}
	c := &recordingSession{id: "c"}
	reg.Add("g1", a)
	reg.Add("g1", c)

	time.Sleep(20 * time.Millisecond) // let the Dispatcher goroutine subscribe

	env := proto.PublishEnvelope{Method: "publish", Type: "text", Channel: "g1", Message: "hi", Writer: "a", PublishedAt: time.Now().UTC()}
	body, err := codec.EncodeBody(env)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "chat.g1", body))

	require.Eventually(t, func() bool {
		return len(a.deliveries()) == 1 && len(c.deliveries()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherControlNoticeSubscribesAddressedUsers(t *testing.T) {
	b := membus.New()
	reg := registry.New()
	d := dispatcher.New(b, reg, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	u2Session := &recordingSession{id: "u2-sess"}
	reg.Add(registry.UserKey("u2"), u2Session)

	time.Sleep(20 * time.Millisecond) // let the Dispatcher goroutine subscribe

	body, err := codec.EncodeBody(proto.CreateChannelNotice{Channel: "c1", Users: []string{"u1", "u2"}})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, proto.ControlTopic, body))

	require.Eventually(t, func() bool {
		return reg.Count("c1") == 1
	}, time.Second, 5*time.Millisecond)
}
