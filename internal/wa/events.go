package wa

import (
	"context"
	"slices"
	"time"

	"github.com/matheus3301/chatlog/internal/bus"
	"github.com/matheus3301/chatlog/internal/history"
	"github.com/matheus3301/chatlog/internal/status"
	"github.com/matheus3301/chatlog/internal/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// fallbackLocalID owns events received before the device knows its own JID.
const fallbackLocalID = "local"

// Account is the view of the logged-in device the handler needs.
// *Adapter implements it.
type Account interface {
	OwnJID() types.JID
	ResolveLID(ctx context.Context, jid types.JID) types.JID
}

// EventHandler processes whatsmeow events, drives the state machine,
// and publishes classified history events on the bus. It does NOT call
// the writer directly; ingestion subscribes to the bus independently.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.SessionMachine
	account Account
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler. account may be nil, in which
// case LIDs are not resolved and events are owned by a placeholder account.
func NewEventHandler(b *bus.Bus, machine *status.SessionMachine, account Account, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		bus:     b,
		machine: machine,
		account: account,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Receipt:
		h.handleReceipt(evt)
	case *events.UndecryptableMessage:
		h.handleUndecryptable(evt)
	case *events.JoinedGroup:
		h.handleJoinedGroup(evt)
	case *events.GroupInfo:
		h.handleGroupInfo(evt)
	case *events.PushName:
		h.publish(bus.KindWAContacts, []store.Contact{{Address: h.resolveJID(evt.JID.String()), DisplayName: evt.NewPushName}})
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		current := h.machine.Current()
		if current == status.AuthRequired || current == status.Reconnecting {
			_ = h.machine.Transition(status.Connecting)
		}
		_ = h.machine.Transition(status.Syncing)
		h.publish(bus.KindSyncConnected, nil)
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		_ = h.machine.Transition(status.Reconnecting)
		h.publish(bus.KindSyncDisconnected, nil)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		_ = h.machine.Transition(status.AuthRequired)
		h.publish(bus.KindSessionLoggedOut, evt.Reason.String())
	}
}

func (h *EventHandler) publish(kind string, payload any) {
	h.bus.Publish(bus.NewEvent(kind, payload))
}

func (h *EventHandler) localID() string {
	if h.account != nil {
		if jid := h.account.OwnJID(); !jid.IsEmpty() {
			return jid.ToNonAD().String()
		}
	}
	return fallbackLocalID
}

// resolveJID normalizes a JID string and maps LIDs to phone-number JIDs
// when the account can resolve them.
func (h *EventHandler) resolveJID(s string) string {
	normalized := NormalizeJID(s)
	if h.account == nil || normalized == "" {
		return normalized
	}
	jid, err := types.ParseJID(normalized)
	if err != nil {
		return normalized
	}
	return h.account.ResolveLID(context.Background(), jid).ToNonAD().String()
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	if h.machine.Current() == status.Syncing {
		_ = h.machine.Transition(status.Ready)
	}
	if evt.Info.Chat.Server == types.BroadcastServer {
		return
	}

	parsed := ParseLiveMessage(evt)
	parsed.ChatJID = h.resolveJID(parsed.ChatJID)
	parsed.SenderJID = h.resolveJID(parsed.SenderJID)

	kind := bus.KindWAMessage
	if parsed.IsGroup {
		kind = bus.KindWAGroupMessage
	}
	h.publish(kind, parsed.ToEvent(h.localID(), ""))
}

func (h *EventHandler) handleReceipt(evt *events.Receipt) {
	if evt.Type != types.ReceiptTypeRead && evt.Type != types.ReceiptTypeReadSelf {
		return
	}
	localID := h.localID()
	chat := h.resolveJID(evt.Chat.String())
	refs := make([]history.Ref, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		ref := history.Ref{LocalID: localID, MsgID: id}
		if evt.IsGroup {
			ref.RoomID = chat
		} else {
			ref.PeerID = chat
		}
		refs = append(refs, ref)
	}
	if len(refs) > 0 {
		h.publish(bus.KindWAReceipt, refs)
	}
}

func (h *EventHandler) handleUndecryptable(evt *events.UndecryptableMessage) {
	h.logger.Warn("undecryptable message", zap.String("msg_id", evt.Info.ID), zap.Bool("unavailable", evt.IsUnavailable))
	parsed := &ParsedMessage{
		ChatJID:    h.resolveJID(evt.Info.Chat.String()),
		MsgID:      evt.Info.ID,
		SenderJID:  h.resolveJID(evt.Info.Sender.String()),
		SenderName: evt.Info.PushName,
		Body:       "[undecryptable]",
		FromMe:     evt.Info.IsFromMe,
		IsGroup:    evt.Info.IsGroup,
		Timestamp:  evt.Info.Timestamp,
	}
	switch ev := parsed.ToEvent(h.localID(), "").(type) {
	case *history.GroupMessageEvent:
		ev.Failed = true
		h.publish(bus.KindWAGroupMessage, ev)
	case *history.MessageEvent:
		h.publish(bus.KindWADeliveryFailed, ev)
	}
}

func (h *EventHandler) handleJoinedGroup(evt *events.JoinedGroup) {
	kind := history.RoomJoined
	ts := time.Now()
	if evt.Type == "new" {
		kind = history.RoomCreated
		if !evt.GroupInfo.GroupCreated.IsZero() {
			ts = evt.GroupInfo.GroupCreated
		}
	}
	s := history.RoomStatus{
		LocalID:   h.localID(),
		RoomID:    h.resolveJID(evt.GroupInfo.JID.String()),
		Kind:      kind,
		Subject:   evt.GroupInfo.GroupName.Name,
		Timestamp: ts,
	}
	if evt.Sender != nil {
		s.ActorID = h.resolveJID(evt.Sender.String())
	}
	h.publish(bus.KindWARoomStatus, s)
}

func (h *EventHandler) handleGroupInfo(evt *events.GroupInfo) {
	room := h.resolveJID(evt.JID.String())
	base := history.RoomStatus{LocalID: h.localID(), RoomID: room, Timestamp: evt.Timestamp}
	if evt.Sender != nil {
		base.ActorID = h.resolveJID(evt.Sender.String())
	}

	if evt.Name != nil {
		s := base
		s.Kind = history.RoomSubject
		s.Subject = evt.Name.Name
		h.publish(bus.KindWARoomStatus, s)
	}
	if h.account != nil {
		self := h.account.OwnJID().ToNonAD()
		left := slices.ContainsFunc(evt.Leave, func(j types.JID) bool { return j.ToNonAD() == self })
		if left && !self.IsEmpty() {
			s := base
			s.Kind = history.RoomLeft
			h.publish(bus.KindWARoomStatus, s)
		}
	}
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	localID := h.localID()
	var (
		batch    []history.Event
		contacts []store.Contact
	)
	for _, conv := range data.GetConversations() {
		chatJID := h.resolveJID(conv.GetID())
		isGroup := false
		if jid, err := types.ParseJID(chatJID); err == nil {
			isGroup = jid.Server == types.GroupServer
		}
		if name := conv.GetName(); name != "" && !isGroup {
			contacts = append(contacts, store.Contact{Address: chatJID, DisplayName: name})
		}
		subject := ""
		if isGroup {
			subject = conv.GetName()
		}
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			parsed := ParseWebMessage(chatJID, wmsg)
			parsed.ChatJID = chatJID
			parsed.IsGroup = isGroup
			parsed.SenderJID = h.resolveJID(parsed.SenderJID)
			batch = append(batch, parsed.ToEvent(localID, subject))
		}
	}

	// Contacts first so the batch resolves against their names.
	if len(contacts) > 0 {
		h.publish(bus.KindWAContacts, contacts)
	}
	if len(batch) > 0 {
		h.publish(bus.KindWAHistoryBatch, batch)
	}
}
