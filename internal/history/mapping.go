package history

import (
	"database/sql"
	"time"

	"github.com/matheus3301/chatlog/internal/store"
)

func fromMillis(ts sql.NullInt64) time.Time {
	if !ts.Valid {
		return time.UnixMilli(0)
	}
	return time.UnixMilli(ts.Int64)
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// storedTime is t as a later read returns it: millisecond precision, with
// the zero time mapped to the epoch.
func storedTime(t time.Time) time.Time {
	return fromMillis(toMillis(t))
}

func messageType(t sql.NullString) MessageType {
	if t.Valid && t.String == store.TypeSMS {
		return TypeSMS
	}
	return TypeIM
}

func direction(d string) Direction {
	if d == store.DirectionOut {
		return Outgoing
	}
	return Incoming
}

func directionCode(d Direction) string {
	if d == Outgoing {
		return store.DirectionOut
	}
	return store.DirectionIn
}

func messageFromRecord(r store.MessageRecord) *MessageEvent {
	return &MessageEvent{
		LocalID:    r.LocalID,
		PeerID:     r.RemoteID,
		PeerName:   r.PeerName,
		Direction:  direction(r.Direction),
		Body:       r.Body,
		MsgID:      r.MsgID,
		Timestamp:  fromMillis(r.Timestamp),
		Read:       r.Read,
		Failed:     r.Failed,
		Type:       messageType(r.Type),
		ProviderID: r.ProviderID,
	}
}

func messageToRecord(e *MessageEvent) *store.MessageRecord {
	typ := TypeIM
	if e.Type == TypeSMS {
		typ = TypeSMS
	}
	return &store.MessageRecord{
		LocalID:    e.LocalID,
		RemoteID:   e.PeerID,
		Direction:  directionCode(e.Direction),
		Body:       e.Body,
		MsgID:      e.MsgID,
		Timestamp:  toMillis(e.Timestamp),
		Read:       e.Read,
		Failed:     e.Failed,
		Type:       sql.NullString{String: string(typ), Valid: true},
		ProviderID: e.ProviderID,
	}
}

func groupFromRecord(r store.GroupMessageRecord, defaultSubject string) *GroupMessageEvent {
	subject := defaultSubject
	if r.Subject.Valid && r.Subject.String != "" {
		subject = r.Subject.String
	}
	typ := GroupMessage
	if r.Type == store.TypeStatus {
		typ = GroupStatus
	}
	return &GroupMessageEvent{
		LocalID:   r.LocalID,
		SenderID:  r.SenderID,
		RoomID:    r.RoomID,
		Subject:   subject,
		Direction: direction(r.Direction),
		Body:      r.Body,
		MsgID:     r.MsgID,
		Timestamp: fromMillis(r.Timestamp),
		Read:      r.Read,
		Failed:    r.Failed,
		LeftRoom:  r.LeftRoom,
		Type:      typ,
	}
}

func groupToRecord(e *GroupMessageEvent) *store.GroupMessageRecord {
	typ := store.TypeGroup
	if e.Type == GroupStatus {
		typ = store.TypeStatus
	}
	return &store.GroupMessageRecord{
		LocalID:   e.LocalID,
		SenderID:  e.SenderID,
		RoomID:    e.RoomID,
		Direction: directionCode(e.Direction),
		Body:      e.Body,
		MsgID:     e.MsgID,
		Timestamp: toMillis(e.Timestamp),
		Subject:   sql.NullString{String: e.Subject, Valid: e.Subject != ""},
		Read:      e.Read,
		Failed:    e.Failed,
		LeftRoom:  e.LeftRoom,
		Type:      typ,
	}
}

func statusEvent(s RoomStatus) *GroupMessageEvent {
	return &GroupMessageEvent{
		LocalID:   s.LocalID,
		SenderID:  s.ActorID,
		RoomID:    s.RoomID,
		Subject:   s.Subject,
		Direction: Incoming,
		Body:      string(s.Kind),
		MsgID:     s.msgID(),
		Timestamp: s.Timestamp,
		Read:      true,
		LeftRoom:  s.Kind == RoomLeft,
		Type:      GroupStatus,
	}
}
