// Package registry implements the process-wide channel→local-sessions
// map. Grounded on server/hub.go's Hub.topics (a concurrent map of live
// topics, tinode/chat), generalized here to a fixed set of lock shards
// keyed by channel name so add/remove/iterate scale across many
// channels without a single global mutex becoming the hot path.
package registry

import (
	"hash/fnv"
	"sync"
	"time"
)

// UserKey returns the pseudo-channel name a session also registers under
// at authentication, so the control-topic path can look up a user's live
// local sessions through the same Add/Sessions API used for channels.
func UserKey(userID string) string {
	return "user:" + userID
}

// shardCount is the number of independent lock/map shards. 16 keeps
// per-shard contention low without adding significant memory overhead
// for deployments with few channels.
const shardCount = 16

// Session is the surface the registry and Dispatcher need from a
// connected session. internal/session.Session satisfies this.
type Session interface {
	// ID uniquely identifies the session for registry bookkeeping.
	ID() string
	// Deliver writes an already-encoded envelope frame to the session's
	// transport and, if the session is attending channel, advances its
	// cached read cursor to publishedAt (spec.md section 4.3 point 4).
	Deliver(channel string, body []byte, publishedAt time.Time) error
	// NotifyChannelJoined records that the session has been subscribed to
	// channel by something other than its own request handling (the
	// Dispatcher, reacting to a create_channel control notice), so normal
	// disconnect cleanup also unregisters it from that channel.
	NotifyChannelJoined(channel string)
}

type shard struct {
	mu       sync.RWMutex
	channels map[string]map[string]Session
}

// Registry is a sharded channel-name -> set-of-sessions map.
type Registry struct {
	shards [shardCount]*shard
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{channels: make(map[string]map[string]Session)}
	}
	return r
}

func (r *Registry) shardFor(channel string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channel))
	return r.shards[h.Sum32()%shardCount]
}

// Add registers sess as subscribed to channel.
func (r *Registry) Add(channel string, sess Session) {
	s := r.shardFor(channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.channels[channel]
	if !ok {
		set = make(map[string]Session)
		s.channels[channel] = set
	}
	set[sess.ID()] = sess
}

// Remove unregisters sess from channel. It is a no-op if sess was not
// registered, matching idempotent withdrawal/disconnect cleanup.
func (r *Registry) Remove(channel string, sess Session) {
	s := r.shardFor(channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.channels[channel]
	if !ok {
		return
	}
	delete(set, sess.ID())
	if len(set) == 0 {
		delete(s.channels, channel)
	}
}

// RemoveAll unregisters sess from each channel in channels. Channels not
// in the slice are left untouched.
func (r *Registry) RemoveAll(channels []string, sess Session) {
	for _, c := range channels {
		r.Remove(c, sess)
	}
}

// Sessions returns a snapshot of the sessions currently subscribed to
// channel. The snapshot is consistent with some point in time during the
// call; it does not block concurrent Add/Remove for longer than the copy.
func (r *Registry) Sessions(channel string) []Session {
	s := r.shardFor(channel)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.channels[channel]
	out := make([]Session, 0, len(set))
	for _, sess := range set {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of sessions currently registered for channel,
// used by tests asserting registry consistency against live session counts.
func (r *Registry) Count(channel string) int {
	s := r.shardFor(channel)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels[channel])
}
