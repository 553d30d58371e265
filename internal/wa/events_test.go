package wa

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/chatlog/internal/bus"
	"github.com/matheus3301/chatlog/internal/history"
	"github.com/matheus3301/chatlog/internal/status"
	"github.com/matheus3301/chatlog/internal/store"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var self = types.JID{User: "5511999990000", Server: types.DefaultUserServer}

type fakeAccount struct {
	lids map[string]types.JID
}

func (fakeAccount) OwnJID() types.JID { return self }

func (f fakeAccount) ResolveLID(_ context.Context, jid types.JID) types.JID {
	if pn, ok := f.lids[jid.String()]; ok {
		return pn
	}
	return jid
}

// walkTo transitions the machine through the given states sequentially.
func walkTo(t *testing.T, m *status.SessionMachine, states ...status.State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}

func newHandler(account Account) (*bus.Bus, *status.SessionMachine, *EventHandler) {
	b := bus.New()
	m := status.NewSessionMachine(b)
	return b, m, NewEventHandler(b, m, account, zap.NewNop())
}

func expect(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s event", kind)
			return bus.Event{}
		}
	}
}

func expectNone(t *testing.T, ch <-chan bus.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func directMessage(id string, chat types.JID, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			ID:        id,
			Timestamp: time.UnixMilli(1700000000000),
			PushName:  "Bob",
			MessageSource: types.MessageSource{
				Chat:   chat,
				Sender: chat,
			},
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestHandleConnectedFromAuthRequired(t *testing.T) {
	b, m, h := newHandler(nil)
	walkTo(t, m, status.AuthRequired)

	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	h.Handle(&events.Connected{})

	if m.Current() != status.Syncing {
		t.Errorf("state = %s, want SYNCING", m.Current())
	}
	expect(t, ch, bus.KindSyncConnected)
}

func TestHandleConnectedFromReconnecting(t *testing.T) {
	_, m, h := newHandler(nil)
	walkTo(t, m, status.Connecting, status.Syncing, status.Reconnecting)

	h.Handle(&events.Connected{})

	if m.Current() != status.Syncing {
		t.Errorf("state = %s, want SYNCING (reconnect path)", m.Current())
	}
}

func TestHandleDisconnected(t *testing.T) {
	b, m, h := newHandler(nil)
	walkTo(t, m, status.Connecting, status.Syncing, status.Ready)

	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	h.Handle(&events.Disconnected{})

	if m.Current() != status.Reconnecting {
		t.Errorf("state = %s, want RECONNECTING", m.Current())
	}
	expect(t, ch, bus.KindSyncDisconnected)
}

func TestHandleLoggedOut(t *testing.T) {
	b, m, h := newHandler(nil)
	walkTo(t, m, status.Connecting, status.Syncing, status.Ready)

	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	h.Handle(&events.LoggedOut{})

	if m.Current() != status.AuthRequired {
		t.Errorf("state = %s, want AUTH_REQUIRED", m.Current())
	}
	expect(t, ch, bus.KindSessionLoggedOut)
}

func TestHandleMessageTransitionsToReady(t *testing.T) {
	b, m, h := newHandler(fakeAccount{})
	walkTo(t, m, status.Connecting, status.Syncing)

	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	h.Handle(directMessage("test1", types.JID{User: "5511988887777", Server: types.DefaultUserServer}, "hello"))

	if m.Current() != status.Ready {
		t.Errorf("state = %s, want READY (first message after sync)", m.Current())
	}

	evt := expect(t, ch, bus.KindWAMessage)
	msg, ok := evt.Payload.(*history.MessageEvent)
	if !ok {
		t.Fatalf("payload is %T, want *history.MessageEvent", evt.Payload)
	}
	if msg.LocalID != "5511999990000@s.whatsapp.net" {
		t.Errorf("LocalID = %q, want own JID", msg.LocalID)
	}
	if msg.PeerID != "5511988887777@s.whatsapp.net" || msg.PeerName != "Bob" {
		t.Errorf("peer = %q/%q", msg.PeerID, msg.PeerName)
	}
	if msg.Direction != history.Incoming || msg.Body != "hello" || msg.Type != history.TypeIM {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestHandleMessageWithoutAccountUsesFallbackOwner(t *testing.T) {
	b, m, h := newHandler(nil)
	walkTo(t, m, status.Connecting, status.Syncing, status.Ready)

	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	h.Handle(directMessage("test2", types.JID{User: "c", Server: "s"}, "hello again"))

	if m.Current() != status.Ready {
		t.Errorf("state = %s, want READY (should stay ready)", m.Current())
	}
	evt := expect(t, ch, bus.KindWAMessage)
	if id := evt.Payload.(*history.MessageEvent).LocalID; id != fallbackLocalID {
		t.Errorf("LocalID = %q, want %q", id, fallbackLocalID)
	}
}

func TestHandleGroupMessage(t *testing.T) {
	b, _, h := newHandler(fakeAccount{})
	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID:        "g1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "120363123456", Server: types.GroupServer},
				Sender:   types.JID{User: "5511988887777", Server: types.DefaultUserServer, Device: 2},
				IsGroup:  true,
				IsFromMe: false,
			},
		},
		Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}},
	})

	evt := expect(t, ch, bus.KindWAGroupMessage)
	g, ok := evt.Payload.(*history.GroupMessageEvent)
	if !ok {
		t.Fatalf("payload is %T, want *history.GroupMessageEvent", evt.Payload)
	}
	if g.RoomID != "120363123456@g.us" || g.SenderID != "5511988887777@s.whatsapp.net" {
		t.Errorf("room/sender = %q/%q", g.RoomID, g.SenderID)
	}
	if g.Body != "[image]" {
		t.Errorf("Body = %q, want [image]", g.Body)
	}
}

func TestHandleBroadcastIgnored(t *testing.T) {
	b, _, h := newHandler(nil)
	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	h.Handle(directMessage("st1", types.StatusBroadcastJID, "story"))
	expectNone(t, ch)
}

func TestHandleReadReceipt(t *testing.T) {
	b, _, h := newHandler(fakeAccount{})
	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	chat := types.JID{User: "5511988887777", Server: types.DefaultUserServer}
	h.Handle(&events.Receipt{
		MessageSource: types.MessageSource{Chat: chat, Sender: chat},
		MessageIDs:    []types.MessageID{"m1", "m2"},
		Type:          types.ReceiptTypeDelivered,
	})
	h.Handle(&events.Receipt{
		MessageSource: types.MessageSource{Chat: chat, Sender: chat},
		MessageIDs:    []types.MessageID{"m1", "m2"},
		Type:          types.ReceiptTypeRead,
	})

	evt := expect(t, ch, bus.KindWAReceipt)
	refs := evt.Payload.([]history.Ref)
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	want := history.Ref{LocalID: "5511999990000@s.whatsapp.net", PeerID: "5511988887777@s.whatsapp.net", MsgID: "m1"}
	if refs[0] != want {
		t.Errorf("ref = %+v, want %+v", refs[0], want)
	}
	expectNone(t, ch)
}

func TestHandleUndecryptable(t *testing.T) {
	b, _, h := newHandler(fakeAccount{})
	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	chat := types.JID{User: "5511988887777", Server: types.DefaultUserServer}
	h.Handle(&events.UndecryptableMessage{
		Info: types.MessageInfo{ID: "u1", Timestamp: time.Now(), MessageSource: types.MessageSource{Chat: chat, Sender: chat}},
	})

	evt := expect(t, ch, bus.KindWADeliveryFailed)
	if msg := evt.Payload.(*history.MessageEvent); msg.MsgID != "u1" {
		t.Errorf("MsgID = %q, want u1", msg.MsgID)
	}
}

func TestHandleJoinedGroupCreated(t *testing.T) {
	b, _, h := newHandler(fakeAccount{})
	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	created := time.UnixMilli(1700000000000)
	h.Handle(&events.JoinedGroup{
		Type: "new",
		GroupInfo: types.GroupInfo{
			JID:          types.JID{User: "120363123456", Server: types.GroupServer},
			GroupName:    types.GroupName{Name: "Team"},
			GroupCreated: created,
		},
	})

	evt := expect(t, ch, bus.KindWARoomStatus)
	s := evt.Payload.(history.RoomStatus)
	if s.Kind != history.RoomCreated || s.Subject != "Team" || s.RoomID != "120363123456@g.us" {
		t.Errorf("status = %+v", s)
	}
	if !s.Timestamp.Equal(created) {
		t.Errorf("Timestamp = %v, want %v", s.Timestamp, created)
	}
}

func TestHandleGroupInfoSubjectAndLeave(t *testing.T) {
	b, _, h := newHandler(fakeAccount{})
	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	h.Handle(&events.GroupInfo{
		JID:       types.JID{User: "120363123456", Server: types.GroupServer},
		Timestamp: time.Now(),
		Name:      &types.GroupName{Name: "Renamed"},
		Leave:     []types.JID{{User: self.User, Server: self.Server, Device: 3}},
	})

	subject := expect(t, ch, bus.KindWARoomStatus).Payload.(history.RoomStatus)
	if subject.Kind != history.RoomSubject || subject.Subject != "Renamed" {
		t.Errorf("first status = %+v, want subject Renamed", subject)
	}
	left := expect(t, ch, bus.KindWARoomStatus).Payload.(history.RoomStatus)
	if left.Kind != history.RoomLeft {
		t.Errorf("second status = %+v, want left", left)
	}
}

func TestHandleHistorySync(t *testing.T) {
	b, m, h := newHandler(fakeAccount{})
	walkTo(t, m, status.Connecting, status.Syncing)

	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	msgTS := uint64(1700000000)
	h.Handle(&events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{
				{
					ID:   proto.String("120363123456@g.us"),
					Name: proto.String("Team"),
					Messages: []*waHistorySync.HistorySyncMsg{
						{
							Message: &waWeb.WebMessageInfo{
								Key: &waCommon.MessageKey{
									ID:          proto.String("hm1"),
									FromMe:      proto.Bool(false),
									RemoteJID:   proto.String("120363123456@g.us"),
									Participant: proto.String("5511988887777@s.whatsapp.net"),
								},
								MessageTimestamp: &msgTS,
								Message:          &waE2E.Message{Conversation: proto.String("history msg")},
							},
						},
					},
				},
			},
		},
	})

	evt := expect(t, ch, bus.KindWAHistoryBatch)
	batch := evt.Payload.([]history.Event)
	if len(batch) != 1 {
		t.Fatalf("got %d events, want 1", len(batch))
	}
	g, ok := batch[0].(*history.GroupMessageEvent)
	if !ok {
		t.Fatalf("event is %T, want group message", batch[0])
	}
	if g.Subject != "Team" || g.Body != "history msg" || !g.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected group event %+v", g)
	}
}

func TestHandleHistorySyncNilData(t *testing.T) {
	b, m, h := newHandler(nil)
	walkTo(t, m, status.Connecting, status.Syncing)

	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	// Should not panic on nil data.
	h.Handle(&events.HistorySync{Data: nil})
	expectNone(t, ch)
}

// --- LID resolution regression tests ---
// WhatsApp uses LID (Linked Identity) JIDs like "3917077286968@lid" alongside
// phone number JIDs like "558592403672@s.whatsapp.net" for the same user.
// Without LID resolution, these land in history as two conversations.

// TestResolveJIDWithoutAccount verifies that resolveJID falls back to
// NormalizeJID: device suffixes are stripped but LIDs cannot be resolved.
func TestResolveJIDWithoutAccount(t *testing.T) {
	_, _, h := newHandler(nil)

	tests := []struct {
		input string
		want  string
	}{
		{"558592403672@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:0@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"3917077286968@lid", "3917077286968@lid"},
	}

	for _, tt := range tests {
		got := h.resolveJID(tt.input)
		if got != tt.want {
			t.Errorf("resolveJID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// TestResolveLIDNonLIDPassthrough verifies that ResolveLID passes through
// non-LID JIDs unchanged.
func TestResolveLIDNonLIDPassthrough(t *testing.T) {
	a := &Adapter{}
	regular := types.JID{User: "558592403672", Server: "s.whatsapp.net"}
	if got := a.ResolveLID(context.Background(), regular); got != regular {
		t.Errorf("ResolveLID(regular) = %v, want %v (should pass through)", got, regular)
	}

	group := types.JID{User: "120363123456", Server: "g.us"}
	if got := a.ResolveLID(context.Background(), group); got != group {
		t.Errorf("ResolveLID(group) = %v, want %v (should pass through)", got, group)
	}
}

// TestResolveLIDDetectsHiddenUserServer verifies that ResolveLID recognizes
// @lid JIDs. Without a LID store it returns the original JID.
func TestResolveLIDDetectsHiddenUserServer(t *testing.T) {
	a := &Adapter{}
	lid := types.JID{User: "3917077286968", Server: types.HiddenUserServer}
	if got := a.ResolveLID(context.Background(), lid); got != lid {
		t.Errorf("ResolveLID(lid, nil store) = %v, want %v", got, lid)
	}
	if own := a.OwnJID(); !own.IsEmpty() {
		t.Errorf("OwnJID() = %v, want empty without a device store", own)
	}
}

// TestLiveMessageWithDeviceSuffixNormalized verifies that live messages from
// device-specific JIDs produce normalized peer JIDs in bus events.
func TestLiveMessageWithDeviceSuffixNormalized(t *testing.T) {
	b, _, h := newHandler(nil)
	ch, unsub := b.Subscribe("wa.message", 10)
	defer unsub()

	h.Handle(directMessage("m1", types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 1}, "hello"))

	evt := expect(t, ch, bus.KindWAMessage)
	if peer := evt.Payload.(*history.MessageEvent).PeerID; peer != "558592403672@s.whatsapp.net" {
		t.Errorf("PeerID = %q, want 558592403672@s.whatsapp.net (device suffix not stripped)", peer)
	}
}

// TestHistorySyncWithLIDConversation verifies that history sync conversations
// using LID JIDs are resolved to phone-number JIDs and that the conversation
// name is published for the directory.
func TestHistorySyncWithLIDConversation(t *testing.T) {
	b, _, h := newHandler(fakeAccount{lids: map[string]types.JID{
		"3917077286968@lid": {User: "558592403672", Server: types.DefaultUserServer},
	}})

	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	msgTS := uint64(time.Now().Unix())
	h.Handle(&events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{
				{
					ID:   proto.String("3917077286968@lid"),
					Name: proto.String("Eric"),
					Messages: []*waHistorySync.HistorySyncMsg{
						{
							Message: &waWeb.WebMessageInfo{
								Key: &waCommon.MessageKey{
									ID:          proto.String("hm1"),
									FromMe:      proto.Bool(false),
									RemoteJID:   proto.String("3917077286968@lid"),
									Participant: proto.String("3917077286968@lid"),
								},
								MessageTimestamp: &msgTS,
								Message:          &waE2E.Message{Conversation: proto.String("test msg")},
								PushName:         proto.String("Eric"),
							},
						},
					},
				},
			},
		},
	})

	contacts := expect(t, ch, bus.KindWAContacts).Payload.([]store.Contact)
	if len(contacts) != 1 || contacts[0].DisplayName != "Eric" || contacts[0].Address != "558592403672@s.whatsapp.net" {
		t.Errorf("contacts = %+v, want Eric at the resolved JID", contacts)
	}

	batch := expect(t, ch, bus.KindWAHistoryBatch).Payload.([]history.Event)
	if len(batch) != 1 {
		t.Fatalf("got %d events, want 1", len(batch))
	}
	msg := batch[0].(*history.MessageEvent)
	if msg.PeerID != "558592403672@s.whatsapp.net" {
		t.Errorf("PeerID = %q, want 558592403672@s.whatsapp.net (LID not resolved)", msg.PeerID)
	}
	if msg.PeerName != "Eric" {
		t.Errorf("PeerName = %q, want Eric", msg.PeerName)
	}
}

// TestHistorySyncDeviceSuffixStripped verifies that history sync conversations
// with device-suffix JIDs are normalized to plain JIDs.
func TestHistorySyncDeviceSuffixStripped(t *testing.T) {
	b, _, h := newHandler(nil)
	ch, unsub := b.Subscribe("wa.history_batch", 10)
	defer unsub()

	msgTS := uint64(time.Now().Unix())
	h.Handle(&events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{
				{
					ID: proto.String("558592403672:0@s.whatsapp.net"),
					Messages: []*waHistorySync.HistorySyncMsg{
						{
							Message: &waWeb.WebMessageInfo{
								Key: &waCommon.MessageKey{
									ID:          proto.String("hm1"),
									FromMe:      proto.Bool(true),
									RemoteJID:   proto.String("558592403672:0@s.whatsapp.net"),
									Participant: proto.String("558592403672:2@s.whatsapp.net"),
								},
								MessageTimestamp: &msgTS,
								Message:          &waE2E.Message{Conversation: proto.String("hello")},
							},
						},
					},
				},
			},
		},
	})

	evt := expect(t, ch, bus.KindWAHistoryBatch)
	msg := evt.Payload.([]history.Event)[0].(*history.MessageEvent)
	if msg.PeerID != "558592403672@s.whatsapp.net" {
		t.Errorf("PeerID = %q, want 558592403672@s.whatsapp.net (device suffix not stripped)", msg.PeerID)
	}
	if msg.Direction != history.Outgoing || !msg.Read {
		t.Errorf("own history message should be outgoing and read: %+v", msg)
	}
}

// TestPushNameContactJIDNormalized verifies that PushName events produce
// directory entries with normalized JIDs (no device suffix).
func TestPushNameContactJIDNormalized(t *testing.T) {
	b, _, h := newHandler(nil)
	ch, unsub := b.Subscribe("wa.contacts", 10)
	defer unsub()

	h.Handle(&events.PushName{
		JID:         types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 5},
		NewPushName: "Eric",
	})

	contacts := expect(t, ch, bus.KindWAContacts).Payload.([]store.Contact)
	if len(contacts) != 1 {
		t.Fatalf("got %d contacts, want 1", len(contacts))
	}
	if contacts[0].Address != "558592403672@s.whatsapp.net" {
		t.Errorf("Address = %q, want 558592403672@s.whatsapp.net (device suffix not stripped)", contacts[0].Address)
	}
	if contacts[0].DisplayName != "Eric" {
		t.Errorf("DisplayName = %q, want Eric", contacts[0].DisplayName)
	}
}
