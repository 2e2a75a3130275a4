package store

import (
	"context"
	"time"
)

// Adapter is the interface a History Store driver must implement.
//
// Grounded on server/store/adapter.Adapter (tinode/chat), narrowed to the
// operations spec.md section 4.4 names. A real deployment plugs in a
// SQL/KV-backed adapter; this module ships only the in-memory reference
// adapter under store/memadapter, exercised by the test suite.
type Adapter interface {
	// InsertChannelWithMembers atomically creates a Channel row and one
	// JoinInfo per member.
	InsertChannelWithMembers(ctx context.Context, name string, isGroup bool, members []UserID) (Channel, []JoinInfo, error)

	GetChannel(ctx context.Context, name string) (Channel, error)
	BatchGetChannels(ctx context.Context, names []string) (map[string]Channel, error)

	JoinInfosByUser(ctx context.Context, user UserID) ([]JoinInfo, error)
	JoinInfosByChannel(ctx context.Context, channel string) ([]JoinInfo, error)
	GetJoinInfo(ctx context.Context, channel string, user UserID) (JoinInfo, error)
	PutJoinInfo(ctx context.Context, ji JoinInfo) error
	DeleteJoinInfo(ctx context.Context, channel string, user UserID) error

	PutWithdrawalLog(ctx context.Context, wl WithdrawalLog) error
	PutUsageLog(ctx context.Context, ul UsageLog) error

	// SaveMessage assigns PublishedAt (strictly increasing per channel) and
	// appends the message to the channel's log.
	SaveMessage(ctx context.Context, msg Message) (Message, error)
	QueryMessages(ctx context.Context, channel string, q MessageQuery) ([]Message, error)
	CountMessages(ctx context.Context, channel string, after time.Time) (int, error)
}
