package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/matheus3301/chatlog/internal/rpc"
	"google.golang.org/grpc"
)

// Flash holds transient notification messages.
type Flash struct {
	mu      sync.RWMutex
	message string
	expires time.Time
}

// Set stores a flash message that expires after the given duration.
func (f *Flash) Set(msg string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.expires = time.Now().Add(d)
}

// Get returns the current flash message, or empty if expired.
func (f *Flash) Get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if time.Now().After(f.expires) {
		return ""
	}
	return f.message
}

// Daemon is the subset of the daemon client the view model uses.
type Daemon interface {
	GetStatus(ctx context.Context) (*rpc.GetStatusResponse, error)
	Find(ctx context.Context, req *rpc.FindRequest) (*rpc.FindResponse, error)
	FindLastForAll(ctx context.Context, req *rpc.FindLastForAllRequest) (*rpc.FindLastForAllResponse, error)
	MarkRead(ctx context.Context, req *rpc.MarkReadRequest) error
	SendText(ctx context.Context, req *rpc.SendTextRequest) (*rpc.SendTextResponse, error)
	WatchRecent(ctx context.Context, req *rpc.WatchRecentRequest) (grpc.ServerStreamingClient[rpc.RecentUpdate], error)
}

// ViewModel caches daemon state and the live recent feed.
type ViewModel struct {
	mu sync.RWMutex

	client        Daemon
	sessionStatus *rpc.GetStatusResponse
	feed          []rpc.Activity // newest first
	messages      []rpc.Event
	active        rpc.Activity
	Flash         Flash
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(c Daemon) *ViewModel {
	return &ViewModel{client: c}
}

// LoadSessionStatus fetches current session status.
func (vm *ViewModel) LoadSessionStatus(ctx context.Context) error {
	resp, err := vm.client.GetStatus(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.sessionStatus = resp
	vm.mu.Unlock()
	return nil
}

// WatchFeed applies recent-feed updates until the stream ends or ctx is
// canceled. onChange runs after every applied update.
func (vm *ViewModel) WatchFeed(ctx context.Context, limit int, onChange func()) error {
	stream, err := vm.client.WatchRecent(ctx, &rpc.WatchRecentRequest{Limit: limit})
	if err != nil {
		return err
	}
	for {
		upd, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		vm.ApplyUpdate(upd)
		if onChange != nil {
			onChange()
		}
	}
}

// ApplyUpdate merges one feed update. A snapshot replaces the feed; added
// and updated entries replace any entry with the same key and move to their
// place in newest-first order.
func (vm *ViewModel) ApplyUpdate(upd *rpc.RecentUpdate) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if upd.Type == rpc.UpdateSnapshot {
		vm.feed = append([]rpc.Activity(nil), upd.Activities...)
		return
	}
	for _, act := range upd.Activities {
		vm.feed = upsert(vm.feed, act)
	}
}

func upsert(feed []rpc.Activity, act rpc.Activity) []rpc.Activity {
	out := make([]rpc.Activity, 0, len(feed)+1)
	inserted := false
	for _, cur := range feed {
		if cur.Key == act.Key {
			continue
		}
		if !inserted && !act.Event.Timestamp.Before(cur.Event.Timestamp) {
			out = append(out, act)
			inserted = true
		}
		out = append(out, cur)
	}
	if !inserted {
		out = append(out, act)
	}
	return out
}

// LoadConversation fetches the latest messages of a feed entry.
func (vm *ViewModel) LoadConversation(ctx context.Context, act rpc.Activity) error {
	resp, err := vm.client.Find(ctx, &rpc.FindRequest{
		Mode:         rpc.FindLast,
		Conversation: ConversationOf(act),
		N:            100,
	})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.active = act
	vm.messages = resp.Events
	vm.mu.Unlock()
	return nil
}

// MarkActiveRead marks the newest event of the open conversation as read.
func (vm *ViewModel) MarkActiveRead(ctx context.Context) error {
	vm.mu.RLock()
	ev := vm.active.Event
	vm.mu.RUnlock()
	if ev.MsgID == "" || ev.Read {
		return nil
	}
	return vm.client.MarkRead(ctx, &rpc.MarkReadRequest{Ref: RefOf(ev), Read: true})
}

// ErrNotSendable is returned by Send when the open conversation is not a
// one-to-one WhatsApp chat.
var ErrNotSendable = errors.New("conversation does not accept messages")

// Send queues text to the peer of the open conversation.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	vm.mu.RLock()
	ev := vm.active.Event
	vm.mu.RUnlock()
	if ev.Kind != rpc.EventMessage || ev.PeerID == "" || ev.Type == "sms" {
		return ErrNotSendable
	}
	if _, err := vm.client.SendText(ctx, &rpc.SendTextRequest{To: ev.PeerID, Text: text}); err != nil {
		return fmt.Errorf("send to %s: %w", ev.PeerID, err)
	}
	return nil
}

// Search returns the latest matching event per conversation.
func (vm *ViewModel) Search(ctx context.Context, keyword string) ([]rpc.Activity, error) {
	resp, err := vm.client.FindLastForAll(ctx, &rpc.FindLastForAllRequest{Keyword: keyword, N: 50})
	if err != nil {
		return nil, err
	}
	return resp.Activities, nil
}

// GetFeed returns a snapshot of the feed, newest first.
func (vm *ViewModel) GetFeed() []rpc.Activity {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]rpc.Activity(nil), vm.feed...)
}

// GetMessages returns a snapshot of the open conversation, newest first.
func (vm *ViewModel) GetMessages() []rpc.Event {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// GetSessionStatus returns a snapshot of session status.
func (vm *ViewModel) GetSessionStatus() *rpc.GetStatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.sessionStatus
}

// ConversationOf returns the conversation a feed entry stands for.
func ConversationOf(act rpc.Activity) rpc.Conversation {
	conv := rpc.Conversation{LocalID: act.Event.LocalID}
	switch act.KeyKind {
	case "room":
		conv.RoomID = act.KeyID
	case "contact":
		conv.MetaContactID = act.KeyID
	default:
		conv.Address = act.KeyID
	}
	return conv
}

// RefOf returns the reference that addresses a stored event.
func RefOf(ev rpc.Event) rpc.Ref {
	ref := rpc.Ref{LocalID: ev.LocalID, MsgID: ev.MsgID}
	if ev.Kind == rpc.EventGroup {
		ref.RoomID = ev.RoomID
	} else {
		ref.PeerID = ev.PeerID
	}
	return ref
}

// Title returns the display name of a feed entry.
func Title(act rpc.Activity) string {
	ev := act.Event
	switch {
	case ev.Kind == rpc.EventGroup && ev.Subject != "":
		return ev.Subject
	case ev.PeerName != "":
		return ev.PeerName
	case ev.PeerID != "":
		return ev.PeerID
	}
	return act.KeyID
}
