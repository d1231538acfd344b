// Package binding owns the list of (chat, form) pairs that route form submissions
// into Telegram chats.
package binding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed marks a stored binding list that could not be decoded.
var ErrMalformed = errors.New("binding: malformed stored list")

// Binding relays submissions of FormID into ChatID.
type Binding struct {
	ChatID string `json:"chatId"`
	FormID string `json:"formId"`
}

// UnmarshalJSON accepts chat ids stored either as strings or as JSON numbers.
func (b *Binding) UnmarshalJSON(data []byte) error {
	var raw struct {
		ChatID json.RawMessage `json:"chatId"`
		FormID string          `json:"formId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	chatID, err := decodeChatID(raw.ChatID)
	if err != nil {
		return err
	}
	b.ChatID = chatID
	b.FormID = strings.TrimSpace(raw.FormID)
	return nil
}

func decodeChatID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("chatId: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return "", fmt.Errorf("chatId %s: %w", n, err)
	}
	return n.String(), nil
}

// Valid reports whether both identifiers are present.
func (b Binding) Valid() bool {
	return b.ChatID != "" && b.FormID != ""
}

// decodeList parses the stored JSON array, dropping entries missing an identifier.
// It returns the number of dropped entries.
func decodeList(value string) ([]Binding, int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, 0, nil
	}
	var raw []Binding
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make([]Binding, 0, len(raw))
	for _, b := range raw {
		if b.Valid() {
			out = append(out, b)
		}
	}
	return out, len(raw) - len(out), nil
}

func encodeList(list []Binding) (string, error) {
	if list == nil {
		list = []Binding{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("binding: encode: %w", err)
	}
	return string(data), nil
}

// FormIDs returns the distinct form ids in first-seen order.
func FormIDs(list []Binding) []string {
	seen := make(map[string]struct{}, len(list))
	var out []string
	for _, b := range list {
		if _, ok := seen[b.FormID]; ok {
			continue
		}
		seen[b.FormID] = struct{}{}
		out = append(out, b.FormID)
	}
	return out
}

// ChatsForForm returns the distinct chat ids bound to formID in stored order.
func ChatsForForm(list []Binding, formID string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range list {
		if b.FormID != formID {
			continue
		}
		if _, ok := seen[b.ChatID]; ok {
			continue
		}
		seen[b.ChatID] = struct{}{}
		out = append(out, b.ChatID)
	}
	return out
}
