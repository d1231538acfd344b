// Package format renders text for Telegram's HTML parse mode.
package format

import (
	"html"
	"strings"
)

// Escape quotes the characters HTML parse mode treats as markup.
func Escape(text string) string {
	return html.EscapeString(text)
}

// Bold wraps escaped text in <b>.
func Bold(text string) string {
	return "<b>" + Escape(text) + "</b>"
}

// Code wraps escaped text in <code>.
func Code(text string) string {
	return "<code>" + Escape(text) + "</code>"
}

// Field renders a "<b>title:</b> value" line; multiple values are joined with ", ".
func Field(title string, values ...string) string {
	return "<b>" + Escape(title) + ":</b> " + Escape(strings.Join(values, ", "))
}
