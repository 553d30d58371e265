package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages.
type Composer struct {
	*tview.InputField
	onSend func(text string)
	onDone func()
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0).
		SetPlaceholder("type a message, Enter to send, Esc to leave")

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := strings.TrimSpace(c.GetText())
			if text != "" && c.onSend != nil {
				c.onSend(text)
				c.SetText("")
			}
		case tcell.KeyEscape:
			c.SetText("")
			if c.onDone != nil {
				c.onDone()
			}
		}
	})

	return c
}

// SetOnSend sets the callback run with the trimmed text on Enter.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnDone sets the callback run when the user leaves the composer.
func (c *Composer) SetOnDone(fn func()) {
	c.onDone = fn
}
