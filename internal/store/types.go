// Package store defines the durable history/membership contract consumed by
// the chat relay core, plus the domain types it operates on.
//
// Grounded on github.com/tinode/chat/server/store/{adapter,types}: the
// Adapter interface here narrows tinode's much larger adapter surface
// (accounts, credentials, devices, file uploads) down to the channel/
// membership/message operations this relay actually needs.
package store

import "time"

// UserID is the opaque identity produced by authentication.
type UserID string

// User is the materialized identity plus memberships loaded at authentication.
type User struct {
	ID    UserID
	Joins []JoinInfo
}

// Channel is a named conversation, 1:1 or group.
type Channel struct {
	Name        string
	IsGroupChat bool
	CreatedAt   time.Time
}

// JoinInfo is a membership record linking a user to a channel.
//
// LastPublishedAt is transient and never persisted: PutJoinInfo drops it
// (memadapter clears it before storing). The Session tracks the attended
// channel's last publish time in its own field, not in this one.
type JoinInfo struct {
	Channel         string
	UserID          UserID
	JoinedAt        time.Time
	LastReadAt      time.Time
	LastSentAt      time.Time
	LastPublishedAt *time.Time
}

// Message is one entry in a channel's append-only log.
type Message struct {
	Channel     string
	PublishedAt time.Time
	Writer      UserID
	Type        string
	Body        string
}

// WithdrawalLog is a snapshot of a JoinInfo retained at the moment of withdrawal.
type WithdrawalLog struct {
	Channel     string
	UserID      UserID
	JoinedAt    time.Time
	LastReadAt  time.Time
	WithdrawnAt time.Time
}

// UsageLog records the last publish timestamp for a user's attendance of a
// channel on a given calendar day.
type UsageLog struct {
	Date            string // "2006-01-02"
	Channel         string
	LastPublishedAt time.Time
}

// MessageQuery parameterizes QueryMessages.
type MessageQuery struct {
	Before     *time.Time
	After      *time.Time
	Limit      int
	NewestFirst bool
}
