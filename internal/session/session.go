// Package session implements the per-connection protocol state machine:
// request dispatch, authorization gates, and the channel operations of
// spec.md section 4.1. Grounded on server/session.go's Session struct
// (tinode/chat) for shape (one goroutine per connection, a buffered
// outbound path, state fields mutated under a lock) and on
// original_source/dnachat/server.py for the exact operation semantics
// (do_create, do_get_channels, do_unread, do_join, do_withdrawal,
// do_attend, do_exit, publish_message, do_ack).
package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chathub/relay/internal/auth"
	"github.com/chathub/relay/internal/bus"
	"github.com/chathub/relay/internal/codec"
	"github.com/chathub/relay/internal/metrics"
	"github.com/chathub/relay/internal/proto"
	"github.com/chathub/relay/internal/queue"
	"github.com/chathub/relay/internal/registry"
	"github.com/chathub/relay/internal/store"
	"github.com/chathub/relay/internal/workerpool"
)

// state is the Session's position in the pending -> authenticated ->
// attending -> closed lifecycle of spec.md section 3.
type state int32

const (
	statePending state = iota
	stateAuthenticated
	stateClosed
)

// Deps bundles the external collaborators a Session needs. One Deps is
// shared (read-only, after construction) across every connection handled
// by a Supervisor.
type Deps struct {
	Store    store.Adapter
	Bus      bus.Client
	Queue    queue.Client
	Auth     auth.Authenticator
	Registry *registry.Registry
	Pool     *workerpool.Pool
	Log      *zap.Logger
	Metrics  *metrics.Registry

	NotificationQueue string
	AuditQueue        string
}

// Session is one connection's protocol state machine.
type Session struct {
	id    string
	conn  io.Closer
	codec *codec.Codec
	deps  Deps

	writeMu sync.Mutex

	mu              sync.Mutex
	st              state
	userID          store.UserID
	attending       string
	attendingJoin   *store.JoinInfo // cached membership of the attended channel
	lastPublishedAt *time.Time
	joined          map[string]struct{} // every channel this session is registered for
}

// New creates a Session over conn, ready to Run. conn is closed when the
// session's read loop ends, for any reason.
func New(id string, conn io.ReadWriteCloser, deps Deps) *Session {
	return &Session{
		id:     id,
		conn:   conn,
		codec:  codec.New(conn),
		deps:   deps,
		st:     statePending,
		joined: make(map[string]struct{}),
	}
}

// ID implements registry.Session.
func (s *Session) ID() string { return s.id }

// descriptor pairs a handler with the gates spec.md section 4.1 requires
// before it may run.
type descriptor struct {
	authRequired      bool
	inChannelRequired bool
	handle            func(*Session, context.Context, proto.Request) (*proto.Reply, *proto.RelayError)
}

var dispatchTable = map[string]descriptor{
	"authenticate": {handle: (*Session).handleAuthenticate},
	"create":       {authRequired: true, handle: (*Session).handleCreate},
	"get_channels": {authRequired: true, handle: (*Session).handleGetChannels},
	"unread":       {authRequired: true, handle: (*Session).handleUnread},
	"join":         {authRequired: true, handle: (*Session).handleJoin},
	"withdrawal":   {authRequired: true, handle: (*Session).handleWithdrawal},
	"attend":       {authRequired: true, handle: (*Session).handleAttend},
	"exit":         {authRequired: true, handle: (*Session).handleExit},
	"publish":      {authRequired: true, inChannelRequired: true, handle: (*Session).handlePublish},
	"ack":          {authRequired: true, handle: (*Session).handleAck},
	"ping":         {handle: (*Session).handlePing},
}

// Run reads and dispatches requests sequentially until the connection
// closes or a protocol-fatal error occurs. Run owns the session's
// lifecycle: it always performs disconnect cleanup before returning.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()
	defer s.cleanup()

	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsActive.Inc()
		defer s.deps.Metrics.SessionsActive.Dec()
	}

	for {
		var req proto.Request
		if err := s.codec.Decode(&req); err != nil {
			return
		}

		desc, ok := dispatchTable[req.Method]
		if !ok {
			s.logFatal(proto.UnknownMethod(req.Method))
			return
		}

		if desc.authRequired && !s.isAuthenticated() {
			s.logFatal(proto.Unauthenticated())
			return
		}
		if desc.inChannelRequired && !s.isAttending() {
			s.logFatal(proto.NotAttending())
			return
		}

		reply, rerr := desc.handle(s, ctx, req)
		if rerr != nil {
			if rerr.ConnectionFatal {
				s.logFatal(rerr)
				return
			}
			if s.deps.Metrics != nil {
				s.deps.Metrics.Errors.WithLabelValues(string(rerr.Kind)).Inc()
			}
			if err := s.writeReply(proto.ErrorReply(req.Method, rerr)); err != nil {
				return
			}
			continue
		}
		if reply != nil {
			if err := s.writeReply(*reply); err != nil {
				return
			}
		}
	}
}

func (s *Session) logFatal(err *proto.RelayError) {
	if s.deps.Log != nil {
		s.deps.Log.Info("session closing on protocol-fatal error",
			zap.String("session", s.id), zap.String("kind", string(err.Kind)), zap.Error(err))
	}
}

func (s *Session) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st == stateAuthenticated
}

func (s *Session) isAttending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attending != ""
}

func (s *Session) writeReply(r proto.Reply) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.codec.Encode(r)
}

// Deliver implements registry.Session: it writes a pre-encoded envelope
// frame to this session's transport and, per spec.md section 4.3, advances
// the session's cached last_read_at for the attended channel.
func (s *Session) Deliver(channel string, body []byte, publishedAt time.Time) error {
	s.writeMu.Lock()
	err := s.codec.WriteFrame(body)
	s.writeMu.Unlock()

	s.mu.Lock()
	if s.attending == channel && s.attendingJoin != nil {
		ji := *s.attendingJoin
		ji.LastReadAt = publishedAt
		s.attendingJoin = &ji
		s.deps.Pool.Submit(func() {
			_ = s.deps.Store.PutJoinInfo(context.Background(), ji)
		})
	}
	s.mu.Unlock()

	return err
}

// cleanup runs the exit bookkeeping and removes the session from every
// channel it was registered for, per spec.md section 4.1's disconnect
// contract.
func (s *Session) cleanup() {
	s.mu.Lock()
	uid := s.userID
	authed := s.st == stateAuthenticated
	channels := make([]string, 0, len(s.joined))
	for c := range s.joined {
		channels = append(channels, c)
	}
	s.st = stateClosed
	s.mu.Unlock()

	if !authed {
		return
	}

	s.flushExit(context.Background())

	if s.deps.Registry != nil {
		for _, c := range channels {
			s.deps.Registry.Remove(c, s)
		}
	}
	_ = uid
}

// Close closes the session's underlying transport, unblocking Run's
// Decode call so its cleanup path runs.
func (s *Session) Close() error {
	return s.conn.Close()
}

// NotifyChannelJoined implements registry.Session: the Dispatcher calls
// this when a create_channel control notice addresses this session's
// user on a channel it did not itself request to join, so the session's
// own disconnect cleanup also unregisters it from that channel.
func (s *Session) NotifyChannelJoined(channel string) {
	s.mu.Lock()
	s.joined[channel] = struct{}{}
	s.mu.Unlock()
}

// --- authenticate ---

func (s *Session) handleAuthenticate(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	uid, err := s.deps.Auth.Authenticate(ctx, req.Credentials)
	if err != nil {
		return nil, proto.AuthFailed("invalid credentials", err)
	}

	joins, err := s.deps.Store.JoinInfosByUser(ctx, store.UserID(uid))
	if err != nil {
		return nil, proto.StorageError(err)
	}

	userKey := registry.UserKey(uid)
	s.mu.Lock()
	s.st = stateAuthenticated
	s.userID = store.UserID(uid)
	for _, ji := range joins {
		s.joined[ji.Channel] = struct{}{}
	}
	s.joined[userKey] = struct{}{}
	s.mu.Unlock()

	if s.deps.Registry != nil {
		for _, ji := range joins {
			s.deps.Registry.Add(ji.Channel, s)
		}
		s.deps.Registry.Add(userKey, s)
	}

	return &proto.Reply{Method: "authenticate"}, nil
}

// --- create ---

// handleCreate runs doCreate on the worker pool, per SPEC_FULL.md's
// requirement that storage-touching handlers not run directly on the
// connection's read loop.
func (s *Session) handleCreate(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	var reply *proto.Reply
	var rerr *proto.RelayError
	s.deps.Pool.Do(func() {
		reply, rerr = s.doCreate(ctx, req)
	})
	return reply, rerr
}

func (s *Session) doCreate(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	self := s.currentUser()

	if req.PartnerID != "" && len(req.PartnerIDs) == 0 {
		channel, err := s.findExisting1to1(ctx, self, store.UserID(req.PartnerID))
		if err != nil {
			return nil, proto.StorageError(err)
		}
		if channel != "" {
			return &proto.Reply{Method: "create", Channel: channel, PartnerID: req.PartnerID}, nil
		}

		name, members := newChannelName(), []store.UserID{self, store.UserID(req.PartnerID)}
		if err := s.createChannel(ctx, name, false, members); err != nil {
			return nil, proto.StorageError(err)
		}
		return &proto.Reply{Method: "create", Channel: name, PartnerID: req.PartnerID}, nil
	}

	members := append([]store.UserID{self}, toUserIDs(req.PartnerIDs)...)
	name := newChannelName()
	if err := s.createChannel(ctx, name, true, members); err != nil {
		return nil, proto.StorageError(err)
	}
	return &proto.Reply{Method: "create", Channel: name, PartnerIDs: req.PartnerIDs}, nil
}

func newChannelName() string {
	return "c-" + uuid.NewString()
}

func toUserIDs(ids []string) []store.UserID {
	out := make([]store.UserID, len(ids))
	for i, id := range ids {
		out[i] = store.UserID(id)
	}
	return out
}

// findExisting1to1 searches self's existing non-group channels for one
// that also has partner as a member.
func (s *Session) findExisting1to1(ctx context.Context, self, partner store.UserID) (string, error) {
	joins, err := s.deps.Store.JoinInfosByUser(ctx, self)
	if err != nil {
		return "", err
	}
	for _, ji := range joins {
		ch, err := s.deps.Store.GetChannel(ctx, ji.Channel)
		if err != nil || ch.IsGroupChat {
			continue
		}
		members, err := s.deps.Store.JoinInfosByChannel(ctx, ji.Channel)
		if err != nil {
			continue
		}
		for _, m := range members {
			if m.UserID == partner {
				return ji.Channel, nil
			}
		}
	}
	return "", nil
}

func (s *Session) createChannel(ctx context.Context, name string, isGroup bool, members []store.UserID) error {
	_, _, err := s.deps.Store.InsertChannelWithMembers(ctx, name, isGroup, members)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.joined[name] = struct{}{}
	s.mu.Unlock()
	if s.deps.Registry != nil {
		s.deps.Registry.Add(name, s)
	}

	if s.deps.Bus != nil {
		users := make([]string, len(members))
		for i, m := range members {
			users[i] = string(m)
		}
		body, err := codec.EncodeBody(proto.CreateChannelNotice{Channel: name, Users: users})
		if err == nil {
			_ = s.deps.Bus.Publish(ctx, proto.ControlTopic, body)
		}
	}
	return nil
}

// --- get_channels ---

func (s *Session) handleGetChannels(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	self := s.currentUser()

	joins, err := s.deps.Store.JoinInfosByUser(ctx, self)
	if err != nil {
		return nil, proto.StorageError(err)
	}

	names := make([]string, len(joins))
	for i, ji := range joins {
		names[i] = ji.Channel
	}
	channels, err := s.deps.Store.BatchGetChannels(ctx, names)
	if err != nil {
		return nil, proto.StorageError(err)
	}

	var summaries []proto.ChannelSummary
	now := time.Now().UTC()
	var touched []string
	mentioned := map[string]struct{}{}

	for _, ji := range joins {
		ch, ok := channels[ji.Channel]
		if !ok {
			continue
		}

		msgs, err := s.deps.Store.QueryMessages(ctx, ji.Channel, store.MessageQuery{Limit: 20, NewestFirst: true})
		if err != nil {
			return nil, proto.StorageError(err)
		}
		if len(msgs) == 0 && !ch.IsGroupChat {
			continue
		}

		members, err := s.deps.Store.JoinInfosByChannel(ctx, ji.Channel)
		if err != nil {
			return nil, proto.StorageError(err)
		}
		others := make(map[string]time.Time)
		for _, m := range members {
			if m.UserID == self {
				continue
			}
			others[string(m.UserID)] = m.LastReadAt
			mentioned[string(m.UserID)] = struct{}{}
		}

		unread, err := s.deps.Store.CountMessages(ctx, ji.Channel, ji.LastReadAt)
		if err != nil {
			return nil, proto.StorageError(err)
		}

		summaries = append(summaries, proto.ChannelSummary{
			Channel:      ji.Channel,
			IsGroupChat:  ch.IsGroupChat,
			Messages:     toPublishEnvelopes(ji.Channel, msgs),
			OtherMembers: others,
			UnreadCount:  unread,
		})
		touched = append(touched, ji.Channel)
	}

	for _, c := range touched {
		ji, err := s.deps.Store.GetJoinInfo(ctx, c, self)
		if err != nil {
			continue
		}
		ji.LastSentAt = now
		_ = s.deps.Store.PutJoinInfo(ctx, ji)
	}

	users := make([]string, 0, len(mentioned))
	for u := range mentioned {
		users = append(users, u)
	}

	return &proto.Reply{Method: "get_channels", Channels: summaries, Users: users}, nil
}

func toPublishEnvelopes(channel string, msgs []store.Message) []proto.PublishEnvelope {
	out := make([]proto.PublishEnvelope, len(msgs))
	for i, m := range msgs {
		out[i] = proto.PublishEnvelope{
			Method: "publish", Type: m.Type, Channel: channel,
			Message: m.Body, Writer: string(m.Writer), PublishedAt: m.PublishedAt,
		}
	}
	return out
}

// --- unread ---

// handleUnread runs doUnread on the worker pool; see handleCreate.
func (s *Session) handleUnread(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	var reply *proto.Reply
	var rerr *proto.RelayError
	s.deps.Pool.Do(func() {
		reply, rerr = s.doUnread(ctx, req)
	})
	return reply, rerr
}

func (s *Session) doUnread(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	self := s.currentUser()

	var relevant []store.JoinInfo
	if req.Channel != "" {
		ji, err := s.deps.Store.GetJoinInfo(ctx, req.Channel, self)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, proto.InvalidChannel("not a member of " + req.Channel)
			}
			return nil, proto.StorageError(err)
		}
		relevant = []store.JoinInfo{ji}
	} else {
		joins, err := s.deps.Store.JoinInfosByUser(ctx, self)
		if err != nil {
			return nil, proto.StorageError(err)
		}
		relevant = joins
	}

	now := time.Now().UTC()
	var all []proto.PublishEnvelope
	var touched []string

	for _, ji := range relevant {
		var q store.MessageQuery
		if req.Before != nil {
			q = store.MessageQuery{Before: req.Before, Limit: 100, NewestFirst: true}
		} else {
			q = store.MessageQuery{After: &ji.LastSentAt}
		}
		msgs, err := s.deps.Store.QueryMessages(ctx, ji.Channel, q)
		if err != nil {
			return nil, proto.StorageError(err)
		}
		if len(msgs) == 0 {
			continue
		}
		all = append(all, toPublishEnvelopes(ji.Channel, msgs)...)
		touched = append(touched, ji.Channel)
	}

	for _, c := range touched {
		ji, err := s.deps.Store.GetJoinInfo(ctx, c, self)
		if err != nil {
			continue
		}
		ji.LastSentAt = now
		_ = s.deps.Store.PutJoinInfo(ctx, ji)
	}

	return &proto.Reply{Method: "unread", Messages: all}, nil
}

// --- join ---

func (s *Session) handleJoin(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	ch, err := s.deps.Store.GetChannel(ctx, req.Channel)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, proto.InvalidChannel("no such channel: " + req.Channel)
		}
		return nil, proto.StorageError(err)
	}
	if !ch.IsGroupChat {
		return nil, proto.NotGroupChat()
	}

	self := s.currentUser()
	now := time.Now().UTC()
	if err := s.deps.Store.PutJoinInfo(ctx, store.JoinInfo{Channel: req.Channel, UserID: self, JoinedAt: now}); err != nil {
		return nil, proto.StorageError(err)
	}

	s.mu.Lock()
	s.joined[req.Channel] = struct{}{}
	s.mu.Unlock()
	if s.deps.Registry != nil {
		s.deps.Registry.Add(req.Channel, s)
	}

	s.publishControl(ctx, req.Channel, "join", self, "")

	members, err := s.deps.Store.JoinInfosByChannel(ctx, req.Channel)
	if err != nil {
		return nil, proto.StorageError(err)
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = string(m.UserID)
	}
	return &proto.Reply{Method: "join", Channel: req.Channel, Members: ids}, nil
}

// --- withdrawal ---

// handleWithdrawal runs doWithdrawal on the worker pool; see handleCreate.
func (s *Session) handleWithdrawal(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	var reply *proto.Reply
	var rerr *proto.RelayError
	s.deps.Pool.Do(func() {
		reply, rerr = s.doWithdrawal(ctx, req)
	})
	return reply, rerr
}

func (s *Session) doWithdrawal(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	self := s.currentUser()

	ji, err := s.deps.Store.GetJoinInfo(ctx, req.Channel, self)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &proto.Reply{Method: "withdrawal", Channel: req.Channel}, nil
		}
		return nil, proto.StorageError(err)
	}

	now := time.Now().UTC()
	if err := s.deps.Store.PutWithdrawalLog(ctx, store.WithdrawalLog{
		Channel: ji.Channel, UserID: ji.UserID, JoinedAt: ji.JoinedAt,
		LastReadAt: ji.LastReadAt, WithdrawnAt: now,
	}); err != nil {
		return nil, proto.StorageError(err)
	}
	if err := s.deps.Store.DeleteJoinInfo(ctx, req.Channel, self); err != nil {
		return nil, proto.StorageError(err)
	}

	s.mu.Lock()
	delete(s.joined, req.Channel)
	if s.attending == req.Channel {
		s.attending = ""
		s.attendingJoin = nil
	}
	s.mu.Unlock()
	if s.deps.Registry != nil {
		s.deps.Registry.Remove(req.Channel, s)
	}

	s.publishControl(ctx, req.Channel, "withdrawal", self, "")

	return &proto.Reply{Method: "withdrawal", Channel: req.Channel}, nil
}

// publishControl saves and publishes a zero-body, type-tagged envelope
// such as join/withdrawal notices.
func (s *Session) publishControl(ctx context.Context, channel, typ string, writer store.UserID, body string) {
	msg := store.Message{Channel: channel, Writer: writer, Type: typ, Body: body}
	saved, err := s.deps.Store.SaveMessage(ctx, msg)
	if err != nil {
		if s.deps.Log != nil {
			s.deps.Log.Warn("failed to save control message", zap.Error(err))
		}
		return
	}
	env := proto.PublishEnvelope{
		Method: "publish", Type: typ, Channel: channel, Message: body,
		Writer: string(writer), PublishedAt: saved.PublishedAt,
	}
	if s.deps.Bus != nil {
		if encoded, err := codec.EncodeBody(env); err == nil {
			_ = s.deps.Bus.Publish(ctx, proto.ChannelTopic(channel), encoded)
		}
	}
}

// --- attend ---

// handleAttend runs doAttend on the worker pool; see handleCreate.
func (s *Session) handleAttend(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	var reply *proto.Reply
	var rerr *proto.RelayError
	s.deps.Pool.Do(func() {
		reply, rerr = s.doAttend(ctx, req)
	})
	return reply, rerr
}

func (s *Session) doAttend(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	self := s.currentUser()

	ji, err := s.deps.Store.GetJoinInfo(ctx, req.Channel, self)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, proto.NotMember()
		}
		return nil, proto.StorageError(err)
	}

	ch, err := s.deps.Store.GetChannel(ctx, req.Channel)
	if err != nil {
		return nil, proto.StorageError(err)
	}

	members, err := s.deps.Store.JoinInfosByChannel(ctx, req.Channel)
	if err != nil {
		return nil, proto.StorageError(err)
	}

	var others []store.JoinInfo
	for _, m := range members {
		if m.UserID != self {
			others = append(others, m)
		}
	}
	if len(others) == 0 {
		return nil, proto.InvalidChannel("no other member in " + req.Channel)
	}

	s.mu.Lock()
	s.attending = req.Channel
	jiCopy := ji
	s.attendingJoin = &jiCopy
	s.lastPublishedAt = nil
	s.mu.Unlock()

	var lastRead interface{}
	if ch.IsGroupChat {
		m := make(map[string]time.Time, len(others))
		for _, o := range others {
			m[string(o.UserID)] = o.LastReadAt
		}
		lastRead = m
	} else {
		lastRead = others[0].LastReadAt
	}

	return &proto.Reply{Method: "attend", Channel: req.Channel, LastRead: lastRead}, nil
}

// --- exit ---

func (s *Session) handleExit(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	s.flushExit(ctx)
	return &proto.Reply{Method: "exit"}, nil
}

// flushExit clears the attended channel and, if a publish happened while
// attending, records the UsageLog entry spec.md section 4.1 describes.
func (s *Session) flushExit(ctx context.Context) {
	s.mu.Lock()
	channel := s.attending
	published := s.lastPublishedAt
	self := s.userID
	s.attending = ""
	s.attendingJoin = nil
	s.lastPublishedAt = nil
	s.mu.Unlock()

	if channel == "" || published == nil {
		return
	}
	_ = s.deps.Store.PutUsageLog(ctx, store.UsageLog{
		Date:            published.Format("2006-01-02"),
		Channel:         channel,
		LastPublishedAt: *published,
	})
	_ = self
}

// --- publish ---

func (s *Session) handlePublish(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, proto.BlankMessage()
	}

	self := s.currentUser()
	channel := s.currentAttending()

	saved, err := s.deps.Store.SaveMessage(ctx, store.Message{
		Channel: channel, Writer: self, Type: req.Type, Body: req.Message,
	})
	if err != nil {
		return nil, proto.StorageError(err)
	}

	env := proto.PublishEnvelope{
		Method: "publish", Type: req.Type, Channel: channel, Message: req.Message,
		Writer: string(self), PublishedAt: saved.PublishedAt,
	}

	s.mu.Lock()
	ts := saved.PublishedAt
	s.lastPublishedAt = &ts
	s.mu.Unlock()

	if encoded, err := codec.EncodeBody(env); err == nil && s.deps.Bus != nil {
		_ = s.deps.Bus.Publish(ctx, proto.ChannelTopic(channel), encoded)
	}
	if queued, err := codec.EncodeJSON(env); err == nil {
		s.enqueueAsync(s.deps.NotificationQueue, queued)
		s.enqueueAsync(s.deps.AuditQueue, queued)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Published.WithLabelValues("publish").Inc()
	}

	return &proto.Reply{Method: "publish"}, nil
}

func (s *Session) enqueueAsync(queueName string, body []byte) {
	if s.deps.Queue == nil || queueName == "" {
		return
	}
	s.deps.Pool.Submit(func() {
		if err := s.deps.Queue.Enqueue(context.Background(), queueName, body); err != nil && s.deps.Log != nil {
			s.deps.Log.Warn("queue enqueue failed", zap.String("queue", queueName), zap.Error(err))
		}
	})
}

// --- ack ---

func (s *Session) handleAck(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	if req.PublishedAt == nil {
		return nil, proto.InvalidChannel("ack requires published_at")
	}
	self := s.currentUser()

	env := proto.AckEnvelope{Method: "ack", Sender: string(self), Channel: req.Channel, PublishedAt: *req.PublishedAt}
	if encoded, err := codec.EncodeBody(env); err == nil && s.deps.Bus != nil {
		_ = s.deps.Bus.Publish(ctx, proto.ChannelTopic(req.Channel), encoded)
	}
	if queued, err := codec.EncodeJSON(env); err == nil {
		s.enqueueAsync(s.deps.AuditQueue, queued)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Published.WithLabelValues("ack").Inc()
	}

	return &proto.Reply{Method: "ack", Channel: req.Channel}, nil
}

// --- ping ---

func (s *Session) handlePing(ctx context.Context, req proto.Request) (*proto.Reply, *proto.RelayError) {
	now := time.Now().UTC()
	return &proto.Reply{Method: "ping", Time: &now}, nil
}

func (s *Session) currentUser() store.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) currentAttending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attending
}

var _ registry.Session = (*Session)(nil)
