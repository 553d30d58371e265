package wa

import (
	"strings"
	"time"

	"github.com/matheus3301/chatlog/internal/history"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized message ready for ingestion.
type ParsedMessage struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	IsGroup     bool
	Timestamp   time.Time
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	return &ParsedMessage{
		ChatJID:     NormalizeJID(evt.Info.Chat.String()),
		MsgID:       evt.Info.ID,
		SenderJID:   NormalizeJID(evt.Info.Sender.String()),
		SenderName:  evt.Info.PushName,
		Body:        extractTextBody(evt.Message),
		MessageType: detectMessageType(evt.Message),
		FromMe:      evt.Info.IsFromMe,
		IsGroup:     evt.Info.IsGroup,
		Timestamp:   evt.Info.Timestamp,
	}
}

// ParseWebMessage normalizes a history sync message of the given chat.
func ParseWebMessage(chatJID string, wmsg *waWeb.WebMessageInfo) *ParsedMessage {
	key := wmsg.GetKey()
	chat := NormalizeJID(chatJID)
	return &ParsedMessage{
		ChatJID:     chat,
		MsgID:       key.GetID(),
		SenderJID:   NormalizeJID(key.GetParticipant()),
		SenderName:  wmsg.GetPushName(),
		Body:        extractTextBody(wmsg.GetMessage()),
		MessageType: detectMessageType(wmsg.GetMessage()),
		FromMe:      key.GetFromMe(),
		IsGroup:     strings.HasSuffix(chat, "@"+types.GroupServer),
		Timestamp:   time.Unix(int64(wmsg.GetMessageTimestamp()), 0),
	}
}

// DisplayBody is the stored text: the message text, or a placeholder
// naming the media type for messages without one.
func (p *ParsedMessage) DisplayBody() string {
	if p.Body != "" || p.MessageType == "text" || p.MessageType == "unknown" {
		return p.Body
	}
	return "[" + p.MessageType + "]"
}

// ToEvent converts the message into a history event owned by localID.
// subject is only used for group chats and may be empty.
func (p *ParsedMessage) ToEvent(localID, subject string) history.Event {
	dir := history.Incoming
	if p.FromMe {
		dir = history.Outgoing
	}
	if p.IsGroup {
		return &history.GroupMessageEvent{
			LocalID:   localID,
			SenderID:  p.SenderJID,
			RoomID:    p.ChatJID,
			Subject:   subject,
			Direction: dir,
			Body:      p.DisplayBody(),
			MsgID:     p.MsgID,
			Timestamp: p.Timestamp,
			Read:      p.FromMe,
		}
	}
	ev := &history.MessageEvent{
		LocalID:   localID,
		PeerID:    p.ChatJID,
		Direction: dir,
		Body:      p.DisplayBody(),
		MsgID:     p.MsgID,
		Timestamp: p.Timestamp,
		Read:      p.FromMe,
		Type:      history.TypeIM,
	}
	if !p.FromMe {
		ev.PeerName = p.SenderName
	}
	return ev
}

// NormalizeJID strips device and agent suffixes from a JID string.
// Strings that do not parse are returned unchanged.
func NormalizeJID(s string) string {
	if s == "" {
		return ""
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return jid.ToNonAD().String()
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
