package server_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chathub/relay/internal/bus/membus"
	"github.com/chathub/relay/internal/codec"
	"github.com/chathub/relay/internal/dispatcher"
	"github.com/chathub/relay/internal/proto"
	"github.com/chathub/relay/internal/queue/memqueue"
	"github.com/chathub/relay/internal/registry"
	"github.com/chathub/relay/internal/server"
	"github.com/chathub/relay/internal/session"
	"github.com/chathub/relay/internal/store"
	"github.com/chathub/relay/internal/store/memadapter"
	"github.com/chathub/relay/internal/workerpool"
)

// stubAuth treats the raw credential bytes as the asserted user id,
// mirroring internal/session's test harness.
type stubAuth struct{}

func (stubAuth) Authenticate(ctx context.Context, secret []byte) (string, error) {
	return string(secret), nil
}

// wireFrame is a superset of every frame shape a client may receive,
// used only to classify an incoming frame by which discriminating
// pointer field came back non-nil: "writer" only appears on a
// PublishEnvelope, "sender" only on an AckEnvelope; anything else is a
// plain request Reply.
type wireFrame struct {
	Method      string                  `bson:"method"`
	Status      string                  `bson:"status,omitempty"`
	Reason      string                  `bson:"reason,omitempty"`
	Channel     string                  `bson:"channel,omitempty"`
	PartnerID   string                  `bson:"partner_id,omitempty"`
	Type        string                  `bson:"type,omitempty"`
	Message     string                  `bson:"message,omitempty"`
	Writer      *string                 `bson:"writer,omitempty"`
	Sender      *string                 `bson:"sender,omitempty"`
	PublishedAt *time.Time              `bson:"published_at,omitempty"`
	Messages    []proto.PublishEnvelope `bson:"messages,omitempty"`
}

// client wraps one end of a net.Pipe() connection as a test client,
// mirroring spec.md section 8's "no real TCP socket needed."
//
// A session's synchronous reply write (from Session.Run) and the
// Dispatcher's asynchronous fan-out write to that same connection (when
// the requester is itself a registered listener on the channel it just
// published to) are only serialized relative to each other, not ordered
// — spec.md doesn't promise a request's reply arrives before its own
// fan-out echo. So client runs a background demuxer that classifies
// each frame by its shape rather than assuming arrival order.
type client struct {
	conn    net.Conn
	codec   *codec.Codec
	replies chan proto.Reply
	envs    chan proto.PublishEnvelope
	acks    chan proto.AckEnvelope
}

func newClient(conn net.Conn) *client {
	c := &client{
		conn:    conn,
		codec:   codec.New(conn),
		replies: make(chan proto.Reply, 16),
		envs:    make(chan proto.PublishEnvelope, 16),
		acks:    make(chan proto.AckEnvelope, 16),
	}
	go c.demux()
	return c
}

// disconnect closes the client's end of the connection, simulating the
// peer going away; the paired Session observes a read error and tears
// down on its own.
func (c *client) disconnect() {
	_ = c.conn.Close()
}

func (c *client) demux() {
	for {
		var f wireFrame
		if err := c.codec.Decode(&f); err != nil {
			return
		}
		switch {
		case f.Writer != nil:
			c.envs <- proto.PublishEnvelope{
				Method: f.Method, Type: f.Type, Channel: f.Channel,
				Message: f.Message, Writer: *f.Writer, PublishedAt: derefTime(f.PublishedAt),
			}
		case f.Sender != nil:
			c.acks <- proto.AckEnvelope{
				Method: f.Method, Sender: *f.Sender, Channel: f.Channel,
				PublishedAt: derefTime(f.PublishedAt),
			}
		default:
			c.replies <- proto.Reply{
				Method: f.Method, Status: f.Status, Reason: f.Reason,
				Channel: f.Channel, PartnerID: f.PartnerID, Messages: f.Messages,
			}
		}
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (c *client) send(t *testing.T, req proto.Request) proto.Reply {
	t.Helper()
	require.NoError(t, c.codec.Encode(req))
	select {
	case r := <-c.replies:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
		return proto.Reply{}
	}
}

func (c *client) recvPublish(t *testing.T, timeout time.Duration) proto.PublishEnvelope {
	t.Helper()
	select {
	case env := <-c.envs:
		return env
	case <-time.After(timeout):
		t.Fatal("timed out waiting for publish envelope")
		return proto.PublishEnvelope{}
	}
}

func (c *client) recvAck(t *testing.T, timeout time.Duration) proto.AckEnvelope {
	t.Helper()
	select {
	case ack := <-c.acks:
		return ack
	case <-time.After(timeout):
		t.Fatal("timed out waiting for ack envelope")
		return proto.AckEnvelope{}
	}
}

// harness wires a full Supervisor (in-memory store/bus/queue, a live
// Dispatcher) and connects clients to it over net.Pipe(), exercising the
// end-to-end scenarios of spec.md section 8 without any real socket.
type harness struct {
	t     *testing.T
	ctx   context.Context
	sv    *server.Supervisor
	store store.Adapter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	memStore := memadapter.New()
	memBus := membus.New()
	reg := registry.New()
	log := zap.NewNop()

	disp := dispatcher.New(memBus, reg, log, nil)
	go disp.Run(ctx)

	deps := session.Deps{
		Store:             memStore,
		Bus:               memBus,
		Queue:             memqueue.New(),
		Auth:              stubAuth{},
		Registry:          reg,
		Pool:              workerpool.New(4),
		Log:               log,
		NotificationQueue: "notifications",
		AuditQueue:        "audit",
	}

	sv := server.New(deps, disp, log)

	return &harness{t: t, ctx: ctx, sv: sv, store: memStore}
}

// connect starts a new Session via the Supervisor over a net.Pipe() pair
// and returns a client for the other end, authenticated as userID.
func (h *harness) connect(userID string) *client {
	serverConn, clientConn := net.Pipe()
	h.t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	h.sv.HandleConn(h.ctx, userID+"-sess", serverConn)

	c := newClient(clientConn)
	reply := c.send(h.t, proto.Request{Method: "authenticate", Credentials: []byte(userID)})
	require.Equal(h.t, "authenticate", reply.Method)
	require.Empty(h.t, reply.Status)
	return c
}

// Scenario 1: 1:1 creation reuse.
func TestOneToOneCreationReuse(t *testing.T) {
	h := newHarness(t)
	u1 := h.connect("u1")
	h.connect("u2")

	first := u1.send(t, proto.Request{Method: "create", PartnerID: "u2"})
	require.Equal(t, "u2", first.PartnerID)
	require.NotEmpty(t, first.Channel)

	second := u1.send(t, proto.Request{Method: "create", PartnerID: "u2"})
	require.Equal(t, first.Channel, second.Channel)
}

// Scenario 2: group publish fan-out, including to the publisher itself.
func TestGroupPublishFanOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.store.InsertChannelWithMembers(ctx, "g1", true, []store.UserID{"a", "b", "c"})
	require.NoError(t, err)

	a := h.connect("a")
	b := h.connect("b")
	c := h.connect("c")

	attend := a.send(t, proto.Request{Method: "attend", Channel: "g1"})
	require.Empty(t, attend.Status)

	reply := a.send(t, proto.Request{Method: "publish", Type: "text", Message: "hi"})
	require.Empty(t, reply.Status)

	for _, recv := range []*client{a, b, c} {
		env := recv.recvPublish(t, time.Second)
		require.Equal(t, "text", env.Type)
		require.Equal(t, "g1", env.Channel)
		require.Equal(t, "hi", env.Message)
		require.Equal(t, "a", env.Writer)
	}
}

// Scenario 4: ack is observed by channel peers as an ack envelope
// carrying the acker, channel, and published_at.
//
// "u" deliberately has no JoinInfo for c1 (ack is auth-gated only, per
// spec.md section 4.1, not membership-gated), so it is never registered
// as a local listener for c1's fan-out — isolating the assertion to
// peer's view instead of racing against u's own reply frame, which
// Session.Run and the Dispatcher would otherwise write to the same
// connection concurrently.
func TestAckEchoesToChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.store.InsertChannelWithMembers(ctx, "c1", true, []store.UserID{"peer"})
	require.NoError(t, err)

	u := h.connect("u")
	peer := h.connect("peer")
	peer.send(t, proto.Request{Method: "attend", Channel: "c1"})

	at := time.Now().UTC()
	ackReply := u.send(t, proto.Request{Method: "ack", Channel: "c1", PublishedAt: &at})
	require.Equal(t, "ack", ackReply.Method)
	require.Equal(t, "c1", ackReply.Channel)

	ack := peer.recvAck(t, time.Second)
	require.Equal(t, "u", ack.Sender)
	require.Equal(t, "c1", ack.Channel)
	require.Equal(t, at.Unix(), ack.PublishedAt.Unix())
}

// Scenario 3: a disconnected member's unread messages are durable and
// come back in publish order once it reconnects and asks for them.
func TestUnreadAfterDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.store.InsertChannelWithMembers(ctx, "c1", true, []store.UserID{"u", "peer"})
	require.NoError(t, err)

	u := h.connect("u")
	u.send(t, proto.Request{Method: "get_channels"})
	u.disconnect()

	peer := h.connect("peer")
	peer.send(t, proto.Request{Method: "attend", Channel: "c1"})

	first := peer.send(t, proto.Request{Method: "publish", Type: "text", Message: "one"})
	require.Empty(t, first.Status)
	env1 := peer.recvPublish(t, time.Second)

	second := peer.send(t, proto.Request{Method: "publish", Type: "text", Message: "two"})
	require.Empty(t, second.Status)
	env2 := peer.recvPublish(t, time.Second)
	require.False(t, env2.PublishedAt.Before(env1.PublishedAt))

	u2 := h.connect("u")
	reply := u2.send(t, proto.Request{Method: "unread", Channel: "c1"})
	require.Equal(t, "unread", reply.Method)
	require.Len(t, reply.Messages, 2)
	require.Equal(t, "one", reply.Messages[0].Message)
	require.Equal(t, "two", reply.Messages[1].Message)

	ji, err := h.store.GetJoinInfo(ctx, "c1", "u")
	require.NoError(t, err)
	require.False(t, ji.LastSentAt.Before(env2.PublishedAt))
}

// Scenario 5: withdrawal notifies peers with a publish envelope of type
// "withdrawal" and removes the withdrawing member from the channel.
func TestWithdrawalNotifiesPeers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.store.InsertChannelWithMembers(ctx, "g1", true, []store.UserID{"a", "b"})
	require.NoError(t, err)

	a := h.connect("a")
	b := h.connect("b")

	reply := a.send(t, proto.Request{Method: "withdrawal", Channel: "g1"})
	require.Equal(t, "withdrawal", reply.Method)
	require.Equal(t, "g1", reply.Channel)

	env := b.recvPublish(t, time.Second)
	require.Equal(t, "withdrawal", env.Type)
	require.Equal(t, "g1", env.Channel)
	require.Equal(t, "a", env.Writer)
	require.Empty(t, env.Message)

	members, err := h.store.JoinInfosByChannel(ctx, "g1")
	require.NoError(t, err)
	for _, m := range members {
		require.NotEqual(t, store.UserID("a"), m.UserID)
	}
}

// Scenario 6: blank publish is rejected in-band with no bus event.
func TestBlankPublishRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.store.InsertChannelWithMembers(ctx, "g1", true, []store.UserID{"a", "b"})
	require.NoError(t, err)

	a := h.connect("a")
	a.send(t, proto.Request{Method: "attend", Channel: "g1"})

	reply := a.send(t, proto.Request{Method: "publish", Type: "text", Message: "   "})
	require.Equal(t, "ERROR", reply.Status)
	require.Equal(t, "Blank message is not accepted", reply.Reason)
}
