package model

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/chatlog/internal/rpc"
	"google.golang.org/grpc"
)

func act(key, kind, id string, ms int64) rpc.Activity {
	return rpc.Activity{
		Key:     kind + ":" + key,
		KeyKind: kind,
		KeyID:   key,
		Event:   rpc.Event{Kind: rpc.EventMessage, LocalID: "me", PeerID: key, MsgID: id, Timestamp: time.UnixMilli(ms)},
	}
}

func keys(feed []rpc.Activity) []string {
	out := make([]string, 0, len(feed))
	for _, a := range feed {
		out = append(out, a.Event.MsgID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestApplyUpdateKeepsNewestFirst(t *testing.T) {
	vm := NewViewModel(nil)
	vm.ApplyUpdate(&rpc.RecentUpdate{Type: rpc.UpdateSnapshot, Activities: []rpc.Activity{
		act("bob", "contact", "b1", 3000),
		act("carol", "contact", "c1", 2000),
		act("dave", "contact", "d1", 1000),
	}})

	// dave moves to the top with a newer message.
	vm.ApplyUpdate(&rpc.RecentUpdate{Type: rpc.UpdateUpdated, Activities: []rpc.Activity{act("dave", "contact", "d2", 4000)}})
	if got := keys(vm.GetFeed()); !equal(got, []string{"d2", "b1", "c1"}) {
		t.Errorf("feed = %v, want [d2 b1 c1]", got)
	}

	// An older new conversation lands at its place.
	vm.ApplyUpdate(&rpc.RecentUpdate{Type: rpc.UpdateAdded, Activities: []rpc.Activity{act("erin", "sms", "e1", 2500)}})
	if got := keys(vm.GetFeed()); !equal(got, []string{"d2", "b1", "e1", "c1"}) {
		t.Errorf("feed = %v, want [d2 b1 e1 c1]", got)
	}

	// A snapshot replaces everything.
	vm.ApplyUpdate(&rpc.RecentUpdate{Type: rpc.UpdateSnapshot})
	if n := len(vm.GetFeed()); n != 0 {
		t.Errorf("feed has %d entries after empty snapshot", n)
	}
}

func TestConversationOf(t *testing.T) {
	tests := []struct {
		kind string
		want rpc.Conversation
	}{
		{"room", rpc.Conversation{LocalID: "me", RoomID: "x"}},
		{"contact", rpc.Conversation{LocalID: "me", MetaContactID: "x"}},
		{"sms", rpc.Conversation{LocalID: "me", Address: "x"}},
	}
	for _, tt := range tests {
		if got := ConversationOf(act("x", tt.kind, "m", 1)); got != tt.want {
			t.Errorf("ConversationOf(%s) = %+v, want %+v", tt.kind, got, tt.want)
		}
	}
}

func TestRefOfAndTitle(t *testing.T) {
	group := rpc.Event{Kind: rpc.EventGroup, LocalID: "me", RoomID: "r@g.us", MsgID: "g1", Subject: "Lunch"}
	if ref := RefOf(group); ref.RoomID != "r@g.us" || ref.PeerID != "" {
		t.Errorf("RefOf(group) = %+v", ref)
	}
	if got := Title(rpc.Activity{Event: group}); got != "Lunch" {
		t.Errorf("Title(group) = %q, want Lunch", got)
	}
	named := rpc.Event{Kind: rpc.EventMessage, PeerID: "bob@s", PeerName: "Bob"}
	if got := Title(rpc.Activity{Event: named}); got != "Bob" {
		t.Errorf("Title(named) = %q, want Bob", got)
	}
}

type fakeDaemon struct {
	Daemon
	marked []rpc.Ref
	found  *rpc.FindRequest
	sent   []rpc.SendTextRequest
}

func (f *fakeDaemon) SendText(_ context.Context, req *rpc.SendTextRequest) (*rpc.SendTextResponse, error) {
	f.sent = append(f.sent, *req)
	return &rpc.SendTextResponse{}, nil
}

func (f *fakeDaemon) Find(_ context.Context, req *rpc.FindRequest) (*rpc.FindResponse, error) {
	f.found = req
	return &rpc.FindResponse{Events: []rpc.Event{{MsgID: "m2"}, {MsgID: "m1"}}}, nil
}

func (f *fakeDaemon) MarkRead(_ context.Context, req *rpc.MarkReadRequest) error {
	f.marked = append(f.marked, req.Ref)
	return nil
}

func (f *fakeDaemon) WatchRecent(context.Context, *rpc.WatchRecentRequest) (grpc.ServerStreamingClient[rpc.RecentUpdate], error) {
	return nil, context.Canceled
}

func TestLoadConversationAndMarkRead(t *testing.T) {
	d := &fakeDaemon{}
	vm := NewViewModel(d)
	a := act("bob", "contact", "m2", 2000)

	if err := vm.LoadConversation(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if d.found.Conversation.MetaContactID != "bob" || d.found.Mode != rpc.FindLast {
		t.Errorf("find request = %+v", d.found)
	}
	if n := len(vm.GetMessages()); n != 2 {
		t.Errorf("messages = %d, want 2", n)
	}

	if err := vm.MarkActiveRead(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(d.marked) != 1 || d.marked[0].PeerID != "bob" || d.marked[0].MsgID != "m2" {
		t.Errorf("marked = %+v", d.marked)
	}

	if err := vm.WatchFeed(context.Background(), 10, nil); err == nil {
		t.Error("WatchFeed should surface the open error")
	}
}

func TestSendTargetsActivePeer(t *testing.T) {
	d := &fakeDaemon{}
	vm := NewViewModel(d)

	if err := vm.Send(context.Background(), "hi"); err != ErrNotSendable {
		t.Errorf("Send without conversation = %v, want ErrNotSendable", err)
	}

	if err := vm.LoadConversation(context.Background(), act("bob@s.whatsapp.net", "contact", "m2", 2000)); err != nil {
		t.Fatal(err)
	}
	if err := vm.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if len(d.sent) != 1 || d.sent[0].To != "bob@s.whatsapp.net" || d.sent[0].Text != "hi" {
		t.Errorf("sent = %+v", d.sent)
	}

	room := rpc.Activity{Key: "room:r@g.us", KeyKind: "room", KeyID: "r@g.us", Event: rpc.Event{Kind: rpc.EventGroup, RoomID: "r@g.us", MsgID: "g1"}}
	if err := vm.LoadConversation(context.Background(), room); err != nil {
		t.Fatal(err)
	}
	if err := vm.Send(context.Background(), "hi"); err != ErrNotSendable {
		t.Errorf("Send to room = %v, want ErrNotSendable", err)
	}
}

func TestFlashExpires(t *testing.T) {
	var f Flash
	f.Set("hello", time.Hour)
	if f.Get() != "hello" {
		t.Errorf("Get() = %q, want hello", f.Get())
	}
	f.Set("gone", -time.Second)
	if f.Get() != "" {
		t.Errorf("expired flash = %q", f.Get())
	}
}
