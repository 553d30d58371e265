// Package history persists one-to-one and group chat events and answers
// bounded lookups over them.
package history

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatlog/internal/store"
)

var (
	// ErrInvalidEvent is returned when an event lacks the identifiers needed to store it.
	ErrInvalidEvent = errors.New("history: invalid event")
	// ErrNotFound is returned when a lookup or transition targets no record.
	ErrNotFound = errors.New("history: record not found")
)

// DefaultSubject names chat rooms that never had a subject stored.
const DefaultSubject = "Group chat"

// Direction of a message relative to the local account.
type Direction string

const (
	Incoming Direction = "in"
	Outgoing Direction = "out"
)

// MessageType distinguishes instant messages from SMS.
type MessageType string

const (
	TypeIM  MessageType = "im"
	TypeSMS MessageType = "sms"
)

// GroupType distinguishes chat-room messages from presence/subject records.
type GroupType string

const (
	GroupMessage GroupType = "group"
	GroupStatus  GroupType = "status"
)

// Event is a message reconstructed from, or about to become, a stored record.
// It is implemented by *MessageEvent and *GroupMessageEvent.
type Event interface {
	ID() string
	Account() string
	Time() time.Time
	Matches(keyword string) bool
	isEvent()
}

// MessageEvent is a one-to-one IM or SMS message.
type MessageEvent struct {
	LocalID       string
	PeerID        string
	PeerName      string
	MetaContactID string
	Direction     Direction
	Body          string
	MsgID         string
	Timestamp     time.Time
	Read          bool
	Failed        bool
	Type          MessageType
	ProviderID    string
}

func (e *MessageEvent) ID() string      { return e.MsgID }
func (e *MessageEvent) Account() string { return e.LocalID }
func (e *MessageEvent) Time() time.Time { return e.Timestamp }
func (e *MessageEvent) isEvent()        {}

// Matches reports whether keyword occurs, ignoring case, in the body or in
// the counterpart's address or display name. An empty keyword matches.
func (e *MessageEvent) Matches(keyword string) bool {
	return containsFold(keyword, e.Body, e.PeerID, e.PeerName)
}

// GroupMessageEvent is a chat-room message or a room status record.
type GroupMessageEvent struct {
	LocalID   string
	SenderID  string
	RoomID    string
	Subject   string
	Direction Direction
	Body      string
	MsgID     string
	Timestamp time.Time
	Read      bool
	Failed    bool
	LeftRoom  bool
	Type      GroupType
}

func (e *GroupMessageEvent) ID() string      { return e.MsgID }
func (e *GroupMessageEvent) Account() string { return e.LocalID }
func (e *GroupMessageEvent) Time() time.Time { return e.Timestamp }
func (e *GroupMessageEvent) isEvent()        {}

// Matches reports whether keyword occurs in the message text, ignoring case.
func (e *GroupMessageEvent) Matches(keyword string) bool {
	return containsFold(keyword, e.Body)
}

// IsStatus reports whether the event is a presence or subject record.
func (e *GroupMessageEvent) IsStatus() bool { return e.Type == GroupStatus }

func containsFold(keyword string, fields ...string) bool {
	if keyword == "" {
		return true
	}
	kw := store.Fold(keyword)
	for _, f := range fields {
		if strings.Contains(store.Fold(f), kw) {
			return true
		}
	}
	return false
}

// RoomStatusKind is the chat-room lifecycle change recorded by a status event.
type RoomStatusKind string

const (
	RoomCreated RoomStatusKind = "created"
	RoomJoined  RoomStatusKind = "joined"
	RoomLeft    RoomStatusKind = "left"
	RoomSubject RoomStatusKind = "subject"
)

// RoomStatus describes a chat-room presence or subject change.
type RoomStatus struct {
	LocalID   string
	RoomID    string
	ActorID   string
	Kind      RoomStatusKind
	Subject   string
	Timestamp time.Time
	// MsgID defaults to a value derived from Kind and Timestamp, so
	// re-ingesting the same change is a no-op.
	MsgID string
}

func (s RoomStatus) msgID() string {
	if s.MsgID != "" {
		return s.MsgID
	}
	return fmt.Sprintf("status-%s-%d", s.Kind, s.Timestamp.UnixMilli())
}

// Ref addresses a stored record for a status transition. Exactly one of
// PeerID and RoomID is set.
type Ref struct {
	LocalID string
	PeerID  string
	RoomID  string
	MsgID   string
}

func (r Ref) valid() bool {
	return r.LocalID != "" && r.MsgID != "" && (r.PeerID == "") != (r.RoomID == "")
}

// KeyKind tags a conversation key.
type KeyKind uint8

const (
	KeyMetaContact KeyKind = iota + 1
	KeySMS
	KeyChatRoom
)

func (k KeyKind) String() string {
	switch k {
	case KeyMetaContact:
		return "contact"
	case KeySMS:
		return "sms"
	case KeyChatRoom:
		return "room"
	default:
		return "unknown"
	}
}

// Key identifies a conversation in the activity feed: a MetaContact, a bare
// SMS number with no contact, or a chat room.
type Key struct {
	Kind KeyKind
	ID   string
}

func (k Key) String() string { return k.Kind.String() + ":" + k.ID }

// Conversation scopes a lookup. LocalID restricts it to one account (empty
// means every account); exactly one of the remaining fields selects the peer.
type Conversation struct {
	LocalID       string
	MetaContactID string
	Address       string
	RoomID        string
}

// Activity is the most recent event of one conversation.
type Activity struct {
	Key   Key
	Event Event
}

// SubjectChange is published when a room subject is persisted.
type SubjectChange struct {
	LocalID string
	RoomID  string
	Subject string
}
