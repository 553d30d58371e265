package rpc

import (
	"time"

	"github.com/matheus3301/chatlog/internal/history"
)

// Session service messages.

type GetStatusRequest struct{}

type GetStatusResponse struct {
	Session           string    `json:"session"`
	Status            string    `json:"status"`
	PhoneNumber       string    `json:"phone_number,omitempty"`
	UptimeMs          int64     `json:"uptime_ms"`
	MessageCount      int64     `json:"message_count"`
	GroupMessageCount int64     `json:"group_message_count"`
	ContactCount      int64     `json:"contact_count"`
	ActiveQueries     int       `json:"active_queries"`
	LastHistoryBatch  time.Time `json:"last_history_batch,omitzero"`
}

type StartAuthRequest struct{}

type AuthEvent struct {
	Type    string `json:"type"`
	QRCode  string `json:"qr_code,omitempty"`
	Message string `json:"message,omitempty"`
}

type LogoutRequest struct{}

type LogoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SendTextRequest queues a text message. To is a JID or a phone number.
type SendTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendTextResponse addresses the stored outgoing record.
type SendTextResponse struct {
	Ref Ref `json:"ref"`
}

// History service messages.

// Event kinds on the wire.
const (
	EventMessage = "message"
	EventGroup   = "group"
)

// Event is the wire form of a history event. Kind selects which fields apply.
type Event struct {
	Kind          string    `json:"kind"`
	LocalID       string    `json:"local_id"`
	PeerID        string    `json:"peer_id,omitempty"`
	PeerName      string    `json:"peer_name,omitempty"`
	MetaContactID string    `json:"meta_contact_id,omitempty"`
	SenderID      string    `json:"sender_id,omitempty"`
	RoomID        string    `json:"room_id,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Direction     string    `json:"direction"`
	Body          string    `json:"body"`
	MsgID         string    `json:"msg_id"`
	Timestamp     time.Time `json:"timestamp"`
	Read          bool      `json:"read"`
	Failed        bool      `json:"failed"`
	LeftRoom      bool      `json:"left_room,omitempty"`
	Type          string    `json:"type"`
	ProviderID    string    `json:"provider_id,omitempty"`
}

// FindMode selects the Find query shape.
type FindMode string

const (
	FindLast    FindMode = "last"
	FindFirst   FindMode = "first"
	FindPeriod  FindMode = "period"
	FindBefore  FindMode = "before"
	FindAfter   FindMode = "after"
	FindKeyword FindMode = "keyword"
	FindID      FindMode = "id"
)

// Conversation is the wire form of history.Conversation.
type Conversation struct {
	LocalID       string `json:"local_id"`
	MetaContactID string `json:"meta_contact_id,omitempty"`
	Address       string `json:"address,omitempty"`
	RoomID        string `json:"room_id,omitempty"`
}

type FindRequest struct {
	Mode         FindMode     `json:"mode"`
	Conversation Conversation `json:"conversation"`
	N            int          `json:"n,omitempty"`
	Start        time.Time    `json:"start,omitzero"`
	End          time.Time    `json:"end,omitzero"`
	Keyword      string       `json:"keyword,omitempty"`
	MsgID        string       `json:"msg_id,omitempty"`
}

type FindResponse struct {
	Events []Event `json:"events"`
}

type Activity struct {
	Key     string `json:"key"`
	KeyKind string `json:"key_kind"`
	KeyID   string `json:"key_id"`
	Event   Event  `json:"event"`
}

type FindLastForAllRequest struct {
	Keyword string `json:"keyword,omitempty"`
	N       int    `json:"n"`
}

type FindLastForAllResponse struct {
	Activities []Activity `json:"activities"`
}

type WriteMessageRequest struct {
	Event          Event `json:"event"`
	DeliveryFailed bool  `json:"delivery_failed,omitempty"`
}

type WriteGroupMessageRequest struct {
	Event Event `json:"event"`
}

type WriteRoomStatusRequest struct {
	LocalID   string    `json:"local_id"`
	RoomID    string    `json:"room_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	MsgID     string    `json:"msg_id,omitempty"`
}

type WriteResponse struct{}

// Ref is the wire form of history.Ref.
type Ref struct {
	LocalID string `json:"local_id"`
	PeerID  string `json:"peer_id,omitempty"`
	RoomID  string `json:"room_id,omitempty"`
	MsgID   string `json:"msg_id"`
}

type MarkReadRequest struct {
	Ref  Ref  `json:"ref"`
	Read bool `json:"read"`
}

type MarkFailedRequest struct {
	Ref Ref `json:"ref"`
}

type AttachProviderIDRequest struct {
	Ref        Ref    `json:"ref"`
	ProviderID string `json:"provider_id"`
}

type WatchRecentRequest struct {
	Keyword string `json:"keyword,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Recent update types. A watch always starts with one snapshot.
const (
	UpdateSnapshot = "snapshot"
	UpdateAdded    = "added"
	UpdateUpdated  = "updated"
)

type RecentUpdate struct {
	QueryID    string     `json:"query_id"`
	Type       string     `json:"type"`
	Activities []Activity `json:"activities"`
}

// FromEvent converts a history event to its wire form.
func FromEvent(ev history.Event) Event {
	switch e := ev.(type) {
	case *history.MessageEvent:
		return Event{
			Kind:          EventMessage,
			LocalID:       e.LocalID,
			PeerID:        e.PeerID,
			PeerName:      e.PeerName,
			MetaContactID: e.MetaContactID,
			Direction:     string(e.Direction),
			Body:          e.Body,
			MsgID:         e.MsgID,
			Timestamp:     e.Timestamp,
			Read:          e.Read,
			Failed:        e.Failed,
			Type:          string(e.Type),
			ProviderID:    e.ProviderID,
		}
	case *history.GroupMessageEvent:
		return Event{
			Kind:      EventGroup,
			LocalID:   e.LocalID,
			SenderID:  e.SenderID,
			RoomID:    e.RoomID,
			Subject:   e.Subject,
			Direction: string(e.Direction),
			Body:      e.Body,
			MsgID:     e.MsgID,
			Timestamp: e.Timestamp,
			Read:      e.Read,
			Failed:    e.Failed,
			LeftRoom:  e.LeftRoom,
			Type:      string(e.Type),
		}
	}
	return Event{}
}

// FromEvents converts a slice of history events.
func FromEvents(events []history.Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		out = append(out, FromEvent(ev))
	}
	return out
}

// Message returns the direct-message form of the event.
func (e Event) Message() *history.MessageEvent {
	return &history.MessageEvent{
		LocalID:       e.LocalID,
		PeerID:        e.PeerID,
		PeerName:      e.PeerName,
		MetaContactID: e.MetaContactID,
		Direction:     history.Direction(e.Direction),
		Body:          e.Body,
		MsgID:         e.MsgID,
		Timestamp:     e.Timestamp,
		Read:          e.Read,
		Failed:        e.Failed,
		Type:          history.MessageType(e.Type),
		ProviderID:    e.ProviderID,
	}
}

// Group returns the group-message form of the event.
func (e Event) Group() *history.GroupMessageEvent {
	return &history.GroupMessageEvent{
		LocalID:   e.LocalID,
		SenderID:  e.SenderID,
		RoomID:    e.RoomID,
		Subject:   e.Subject,
		Direction: history.Direction(e.Direction),
		Body:      e.Body,
		MsgID:     e.MsgID,
		Timestamp: e.Timestamp,
		Read:      e.Read,
		Failed:    e.Failed,
		LeftRoom:  e.LeftRoom,
		Type:      history.GroupType(e.Type),
	}
}

// History returns the history event selected by Kind.
func (e Event) History() history.Event {
	if e.Kind == EventGroup {
		return e.Group()
	}
	return e.Message()
}

// FromActivity converts a classified event to its wire form.
func FromActivity(key history.Key, ev history.Event) Activity {
	return Activity{
		Key:     key.String(),
		KeyKind: key.Kind.String(),
		KeyID:   key.ID,
		Event:   FromEvent(ev),
	}
}

func (c Conversation) History() history.Conversation {
	return history.Conversation(c)
}

func (r Ref) History() history.Ref {
	return history.Ref(r)
}
