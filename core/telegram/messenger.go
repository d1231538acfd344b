package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/m3rciful/formbot/core/telegram/middleware"
	tgsender "github.com/m3rciful/formbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// botAPI is the part of *tele.Bot the messenger calls.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
}

// recipient addresses a chat or user by numeric id or @username.
type recipient string

func (r recipient) Recipient() string { return string(r) }

// Messenger sends HTML messages and answers membership queries through the Bot API.
type Messenger struct {
	bot    botAPI
	sender *tgsender.Sender
}

// NewMessenger wraps bot; a nil sender gets default options.
func NewMessenger(bot botAPI, sender *tgsender.Sender) *Messenger {
	if sender == nil {
		sender = tgsender.New(tgsender.Options{})
	}
	return &Messenger{bot: bot, sender: sender}
}

// SendText posts an HTML-formatted message without link previews.
func (m *Messenger) SendText(ctx context.Context, chatID, text string) error {
	to, err := target(chatID)
	if err != nil {
		return err
	}
	err = m.sender.Do(ctx, "send_text", "sendMessage", func(context.Context) error {
		_, err := m.bot.Send(to, text, tele.ModeHTML, tele.NoPreview)
		return err
	})
	if err == nil {
		middleware.CountMessage(ctx)
	}
	return err
}

// SendPhoto posts the image found at photoURL.
func (m *Messenger) SendPhoto(ctx context.Context, chatID, photoURL string) error {
	to, err := target(chatID)
	if err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.FromURL(photoURL)}
	err = m.sender.Do(ctx, "send_photo", "sendPhoto", func(context.Context) error {
		_, err := m.bot.Send(to, photo)
		return err
	})
	if err == nil {
		middleware.CountMessage(ctx)
	}
	return err
}

// IsMember reports whether userID currently belongs to chatID. A chat or user the
// API rejects with 400 counts as "not a member"; other failures are returned.
func (m *Messenger) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	chat, err := target(chatID)
	if err != nil {
		return false, err
	}
	user, err := target(userID)
	if err != nil {
		return false, err
	}
	var member *tele.ChatMember
	err = m.sender.Do(ctx, "chat_member", "getChatMember", func(context.Context) error {
		var err error
		member, err = m.bot.ChatMemberOf(chat, user)
		return err
	})
	if err != nil {
		var apiErr *tele.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			return false, nil
		}
		return false, err
	}
	if member == nil {
		return false, nil
	}
	switch member.Role {
	case tele.Left, tele.Kicked:
		return false, nil
	}
	return true, nil
}

func target(id string) (recipient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("telegram: empty chat id")
	}
	return recipient(id), nil
}
