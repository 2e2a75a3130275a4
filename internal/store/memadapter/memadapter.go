// Package memadapter is the in-memory reference implementation of
// store.Adapter. Grounded on server/store/adapter.Adapter's dual indexing
// of subscriptions (SubsForUser / SubsForTopic): JoinInfo rows are kept in
// one map and indexed both by channel and by user for O(1) lookups.
package memadapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chathub/relay/internal/store"
)

type joinKey struct {
	channel string
	user    store.UserID
}

// Adapter is a sync.RWMutex-protected, process-local store.Adapter.
type Adapter struct {
	mu sync.RWMutex

	channels map[string]store.Channel
	joins    map[joinKey]store.JoinInfo
	byUser   map[store.UserID]map[string]struct{}
	byChan   map[string]map[store.UserID]struct{}

	messages     map[string][]store.Message
	lastPublished map[string]time.Time

	withdrawals []store.WithdrawalLog
	usage       []store.UsageLog
}

// New returns an empty Adapter ready for use.
func New() *Adapter {
	return &Adapter{
		channels:      make(map[string]store.Channel),
		joins:         make(map[joinKey]store.JoinInfo),
		byUser:        make(map[store.UserID]map[string]struct{}),
		byChan:        make(map[string]map[store.UserID]struct{}),
		messages:      make(map[string][]store.Message),
		lastPublished: make(map[string]time.Time),
	}
}

func (a *Adapter) index(channel string, user store.UserID) {
	if a.byUser[user] == nil {
		a.byUser[user] = make(map[string]struct{})
	}
	a.byUser[user][channel] = struct{}{}
	if a.byChan[channel] == nil {
		a.byChan[channel] = make(map[store.UserID]struct{})
	}
	a.byChan[channel][user] = struct{}{}
}

func (a *Adapter) unindex(channel string, user store.UserID) {
	delete(a.byUser[user], channel)
	delete(a.byChan[channel], user)
}

// InsertChannelWithMembers implements store.Adapter.
func (a *Adapter) InsertChannelWithMembers(ctx context.Context, name string, isGroup bool, members []store.UserID) (store.Channel, []store.JoinInfo, error) {
	if err := ctx.Err(); err != nil {
		return store.Channel{}, nil, store.Wrap("insert_channel", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.channels[name]; ok {
		return store.Channel{}, nil, store.Wrap("insert_channel", fmt.Errorf("channel %q already exists", name))
	}

	now := time.Now().UTC()
	ch := store.Channel{Name: name, IsGroupChat: isGroup, CreatedAt: now}
	a.channels[name] = ch

	joins := make([]store.JoinInfo, 0, len(members))
	for _, uid := range members {
		ji := store.JoinInfo{Channel: name, UserID: uid, JoinedAt: now}
		a.joins[joinKey{name, uid}] = ji
		a.index(name, uid)
		joins = append(joins, ji)
	}

	return ch, joins, nil
}

// GetChannel implements store.Adapter.
func (a *Adapter) GetChannel(ctx context.Context, name string) (store.Channel, error) {
	if err := ctx.Err(); err != nil {
		return store.Channel{}, store.Wrap("get_channel", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	ch, ok := a.channels[name]
	if !ok {
		return store.Channel{}, store.ErrNotFound
	}
	return ch, nil
}

// BatchGetChannels implements store.Adapter.
func (a *Adapter) BatchGetChannels(ctx context.Context, names []string) (map[string]store.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("batch_get_channels", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]store.Channel, len(names))
	for _, n := range names {
		if ch, ok := a.channels[n]; ok {
			out[n] = ch
		}
	}
	return out, nil
}

// JoinInfosByUser implements store.Adapter.
func (a *Adapter) JoinInfosByUser(ctx context.Context, user store.UserID) ([]store.JoinInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("join_infos_by_user", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []store.JoinInfo
	for ch := range a.byUser[user] {
		out = append(out, a.joins[joinKey{ch, user}])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

// JoinInfosByChannel implements store.Adapter.
func (a *Adapter) JoinInfosByChannel(ctx context.Context, channel string) ([]store.JoinInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("join_infos_by_channel", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []store.JoinInfo
	for uid := range a.byChan[channel] {
		out = append(out, a.joins[joinKey{channel, uid}])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// GetJoinInfo implements store.Adapter.
func (a *Adapter) GetJoinInfo(ctx context.Context, channel string, user store.UserID) (store.JoinInfo, error) {
	if err := ctx.Err(); err != nil {
		return store.JoinInfo{}, store.Wrap("get_join_info", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	ji, ok := a.joins[joinKey{channel, user}]
	if !ok {
		return store.JoinInfo{}, store.ErrNotFound
	}
	return ji, nil
}

// PutJoinInfo implements store.Adapter.
func (a *Adapter) PutJoinInfo(ctx context.Context, ji store.JoinInfo) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("put_join_info", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Never persist the transient attendance marker.
	ji.LastPublishedAt = nil
	a.joins[joinKey{ji.Channel, ji.UserID}] = ji
	a.index(ji.Channel, ji.UserID)
	return nil
}

// DeleteJoinInfo implements store.Adapter.
func (a *Adapter) DeleteJoinInfo(ctx context.Context, channel string, user store.UserID) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("delete_join_info", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.joins, joinKey{channel, user})
	a.unindex(channel, user)
	return nil
}

// PutWithdrawalLog implements store.Adapter.
func (a *Adapter) PutWithdrawalLog(ctx context.Context, wl store.WithdrawalLog) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("put_withdrawal_log", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.withdrawals = append(a.withdrawals, wl)
	return nil
}

// PutUsageLog implements store.Adapter.
func (a *Adapter) PutUsageLog(ctx context.Context, ul store.UsageLog) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("put_usage_log", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.usage = append(a.usage, ul)
	return nil
}

// SaveMessage implements store.Adapter. PublishedAt is assigned here so
// that, within one channel, published_at values are strictly increasing in
// acceptance order (spec.md section 3 invariant) regardless of clock
// resolution.
func (a *Adapter) SaveMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	if err := ctx.Err(); err != nil {
		return store.Message{}, store.Wrap("save_message", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ts := time.Now().UTC()
	if last, ok := a.lastPublished[msg.Channel]; ok && !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	a.lastPublished[msg.Channel] = ts

	msg.PublishedAt = ts
	a.messages[msg.Channel] = append(a.messages[msg.Channel], msg)
	return msg, nil
}

// QueryMessages implements store.Adapter.
func (a *Adapter) QueryMessages(ctx context.Context, channel string, q store.MessageQuery) ([]store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("query_messages", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	all := a.messages[channel]
	out := make([]store.Message, 0, len(all))
	for _, m := range all {
		if q.Before != nil && m.PublishedAt.After(*q.Before) {
			continue
		}
		if q.After != nil && !m.PublishedAt.After(*q.After) {
			continue
		}
		out = append(out, m)
	}

	if q.NewestFirst {
		sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CountMessages implements store.Adapter.
func (a *Adapter) CountMessages(ctx context.Context, channel string, after time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, store.Wrap("count_messages", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	n := 0
	for _, m := range a.messages[channel] {
		if m.PublishedAt.After(after) {
			n++
		}
	}
	return n, nil
}

var _ store.Adapter = (*Adapter)(nil)
