package store

import "database/sql"

// Direction codes stored in the direction column.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Type codes stored in messages.msg_type. Legacy rows carry NULL, read as TypeIM.
const (
	TypeIM  = "im"
	TypeSMS = "sms"
)

// Type codes stored in group_messages.msg_type.
const (
	TypeGroup  = "group"
	TypeStatus = "status"
)

// MessageRecord is a persisted one-to-one IM or SMS event.
type MessageRecord struct {
	ID         int64
	LocalID    string
	RemoteID   string
	Direction  string
	Body       string
	MsgID      string
	Timestamp  sql.NullInt64 // unix ms
	Read       bool
	Failed     bool
	Type       sql.NullString
	ProviderID string

	// PeerName is the directory display name of RemoteID. Read-only, filled by queries.
	PeerName string
}

// GroupMessageRecord is a persisted multi-party chat event.
type GroupMessageRecord struct {
	ID        int64
	LocalID   string
	SenderID  string
	RoomID    string
	Direction string
	Body      string
	MsgID     string
	Timestamp sql.NullInt64 // unix ms
	Subject   sql.NullString
	Read      bool
	Failed    bool
	LeftRoom  bool
	Type      string
}

// Contact is a contact-directory row binding an address to a MetaContact.
type Contact struct {
	Address       string
	MetaContactID string
	DisplayName   string
	Kind          string // im or sms
}

// MessageQuery selects one-to-one records. Since is inclusive, Until exclusive,
// both unix ms; nil means unbounded.
type MessageQuery struct {
	LocalID   string // empty matches every account
	RemoteIDs []string
	Since     *int64
	Until     *int64
	Keyword   string
	MsgID     string
	Limit     int
	Newest    bool // keep the newest Limit rows instead of the oldest
}

// GroupQuery selects group records. Bounds follow MessageQuery.
type GroupQuery struct {
	LocalID       string
	RoomIDs       []string
	Since         *int64
	Until         *int64
	Keyword       string
	MsgID         string
	Limit         int
	Newest        bool
	IncludeStatus bool
}
