package views

import (
	"time"

	"github.com/matheus3301/chatlog/internal/rpc"
	"github.com/matheus3301/chatlog/internal/tui/model"
	"github.com/rivo/tview"
)

// FeedTable lists the most recently active conversations (K9s-inspired table).
type FeedTable struct {
	*tview.Table
	entries []rpc.Activity
}

// NewFeedTable creates a new feed table.
func NewFeedTable() *FeedTable {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Recent ")

	return &FeedTable{Table: table}
}

// Update redraws the table. The selection stays on the same conversation
// when it is still listed.
func (ft *FeedTable) Update(entries []rpc.Activity) {
	selected := ft.Selected()
	ft.entries = entries
	ft.Clear()

	ft.SetCell(0, 0, tview.NewTableCell(" Conversation").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	ft.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	ft.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, a := range entries {
		row := i + 1
		name := cellText(model.Title(a))
		if !a.Event.Read && a.Event.Direction == "in" {
			name = "* " + name
		}
		body := cellText(a.Event.Body)
		if a.Event.Failed {
			body = "[red]![-] " + body
		}

		ft.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		ft.SetCell(row, 1, tview.NewTableCell(" "+body).SetMaxWidth(40).SetExpansion(2))
		ft.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(a.Event.Timestamp)).SetMaxWidth(12))

		if selected != nil && a.Key == selected.Key {
			ft.Select(row, 0)
		}
	}
}

// Selected returns the feed entry under the cursor, or nil.
func (ft *FeedTable) Selected() *rpc.Activity {
	row, _ := ft.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(ft.entries) {
		a := ft.entries[idx]
		return &a
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() || t.UnixMilli() == 0 {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
