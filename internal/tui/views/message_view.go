package views

import (
	"fmt"

	"github.com/matheus3301/chatlog/internal/rpc"
	"github.com/rivo/tview"
)

// MessageView displays messages for a single conversation.
type MessageView struct {
	*tview.TextView
	chatName string
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv}
}

// SetChatName updates the title with the conversation name.
func (mv *MessageView) SetChatName(name string) {
	mv.chatName = name
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update refreshes the message view with new messages.
func (mv *MessageView) Update(events []rpc.Event) {
	mv.Clear()

	// Events come newest first; display oldest first.
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		ts := formatTimestamp(ev.Timestamp)

		if ev.Type == "status" {
			_, _ = fmt.Fprintf(mv, "[::d]-- %s %s --[-:-:-]\n\n", cellText(ev.Body), ts)
			continue
		}

		sender := senderName(ev)
		flags := ""
		if ev.Failed {
			flags = " [red]failed[-]"
		}
		if ev.Type == "sms" {
			flags += " [::d]sms[-:-:-]"
		}
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n", cellText(sender), ts, flags, bodyText(ev.Body))
		_, _ = fmt.Fprint(mv, line)
	}

	mv.ScrollToEnd()
}

func senderName(ev rpc.Event) string {
	if ev.Direction == "out" {
		return "You"
	}
	if ev.Kind == rpc.EventGroup {
		return ev.SenderID
	}
	if ev.PeerName != "" {
		return ev.PeerName
	}
	return ev.PeerID
}
