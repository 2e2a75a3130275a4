package proto

import "time"

// ControlTopic is the well-known bus topic peer instances watch for
// create_channel notifications, alongside per-channel topics.
const ControlTopic = "chat.control.create_channel"

// ChannelTopic returns the bus topic a channel's envelopes are published on.
func ChannelTopic(channel string) string {
	return "chat." + channel
}

// Request is the generic client→server shape: every request carries a
// method tag; handler-specific fields are decoded from the same envelope.
type Request struct {
	Method string `bson:"method"`

	// authenticate
	Credentials     []byte `bson:"credentials,omitempty"`
	ProtocolVersion string `bson:"protocol_version,omitempty"`

	// create
	PartnerID  string   `bson:"partner_id,omitempty"`
	PartnerIDs []string `bson:"partner_ids,omitempty"`

	// unread
	Channel string     `bson:"channel,omitempty"`
	Before  *time.Time `bson:"before,omitempty"`

	// publish
	Type    string `bson:"type,omitempty"`
	Message string `bson:"message,omitempty"`

	// ack
	PublishedAt *time.Time `bson:"published_at,omitempty"`
}

// Reply is the generic server→client shape for request replies. Status is
// omitted on success; on failure it is "ERROR" and Reason is populated.
type Reply struct {
	Method     string            `bson:"method"`
	Status     string            `bson:"status,omitempty"`
	Reason     string            `bson:"reason,omitempty"`
	Channel    string            `bson:"channel,omitempty"`
	PartnerID  string            `bson:"partner_id,omitempty"`
	PartnerIDs []string          `bson:"partner_ids,omitempty"`
	Members    []string          `bson:"members,omitempty"`
	Time       *time.Time        `bson:"time,omitempty"`
	LastRead   interface{}       `bson:"last_read,omitempty"`
	Channels   []ChannelSummary  `bson:"channels,omitempty"`
	Messages   []PublishEnvelope `bson:"messages,omitempty"`
	Users      []string          `bson:"users,omitempty"`
}

// ErrorReply builds the {method, status:"ERROR", reason} shape spec.md
// section 6 specifies for non-fatal handler failures.
func ErrorReply(method string, err *RelayError) Reply {
	return Reply{Method: method, Status: "ERROR", Reason: err.Reason}
}

// ChannelSummary is one entry of a get_channels reply: channel metadata,
// recent history, other members' read cursors, and unread count.
type ChannelSummary struct {
	Channel      string               `bson:"channel"`
	IsGroupChat  bool                 `bson:"is_group_chat"`
	Messages     []PublishEnvelope    `bson:"messages"`
	OtherMembers map[string]time.Time `bson:"other_members"`
	UnreadCount  int                  `bson:"unread_count"`
}

// PublishEnvelope is the server-generated shape that flows through the
// bus to clients for both normal publishes and control-type messages
// (join/withdrawal), per spec.md section 6. It also doubles as the
// notification/audit queue payload, JSON-encoded rather than BSON-framed
// (see codec.EncodeJSON) — hence both tag sets.
type PublishEnvelope struct {
	Method      string    `bson:"method" json:"method"`
	Type        string    `bson:"type" json:"type"`
	Channel     string    `bson:"channel" json:"channel"`
	Message     string    `bson:"message" json:"message"`
	Writer      string    `bson:"writer" json:"writer"`
	PublishedAt time.Time `bson:"published_at" json:"published_at"`
}

// AckEnvelope is the server-generated shape re-published on ack and
// JSON-encoded onto the audit queue (see PublishEnvelope).
type AckEnvelope struct {
	Method      string    `bson:"method" json:"method"`
	Sender      string    `bson:"sender" json:"sender"`
	Channel     string    `bson:"channel" json:"channel"`
	PublishedAt time.Time `bson:"published_at" json:"published_at"`
}

// CreateChannelNotice is the control-topic payload notifying peer
// instances that a new channel was created, so they can wake up any
// locally-connected addressed members.
type CreateChannelNotice struct {
	Channel string   `bson:"channel"`
	Users   []string `bson:"users"`
}
