package views

import (
	"strings"
	"unicode"

	"github.com/rivo/tview"
)

// cellText prepares message text for a single-line table cell: line breaks
// and tabs become spaces and the result is escaped for tview's tag parser.
func cellText(s string) string {
	return tview.Escape(strings.Join(strings.Fields(clean(s, false)), " "))
}

// bodyText is cellText for the conversation view, where line breaks stay.
func bodyText(s string) string {
	return tview.Escape(clean(s, true))
}

// clean drops the runes tcell cannot lay out in a fixed cell grid. Emoji
// keep their base glyph: a thumbs-up with a skin tone renders as a plain
// thumbs-up.
func clean(s string, keepNewlines bool) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' && keepNewlines:
			return r
		case r == '\n', r == '\t':
			return ' '
		case unicode.IsControl(r), dropped(r):
			return -1
		}
		return r
	}, s)
}

func dropped(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
	case r == 0x200D: // zero width joiner
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF: // variation selectors
	case r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069: // bidi overrides and isolates
	default:
		return false
	}
	return true
}
