// Package inbound classifies chat messages before they reach the conversation.
package inbound

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/internal/conversation"
)

// ChatPrivate is the chat type of a one-to-one conversation with the bot.
const ChatPrivate = "private"

// Message is the transport-neutral shape of an inbound chat message.
// SenderID is empty when the update carried no sender.
type Message struct {
	Text     string
	ChatID   string
	ChatType string
	SenderID string
}

// Handler consumes accepted messages.
type Handler interface {
	Handle(ctx context.Context, in conversation.Input) error
}

// Router drops group chatter and forwards everything else.
type Router struct {
	next Handler
}

// NewRouter returns a router delivering to next.
func NewRouter(next Handler) *Router {
	return &Router{next: next}
}

// Accepts reports whether msg should reach the conversation.
func Accepts(msg Message) bool {
	if strings.TrimSpace(msg.Text) == "" || msg.ChatID == "" {
		return false
	}
	return msg.ChatType == ChatPrivate || strings.HasPrefix(msg.Text, "/")
}

// Route delivers msg when accepted. It reports whether the message was delivered.
func (r *Router) Route(ctx context.Context, msg Message) (bool, error) {
	if !Accepts(msg) {
		logger.Debug(ctx, "tg", "inbound.dropped", slog.String("chat_type", msg.ChatType))
		return false, nil
	}
	sender := msg.SenderID
	if sender == "" {
		sender = msg.ChatID
	}
	return true, r.next.Handle(ctx, conversation.Input{
		SenderID: sender,
		ChatID:   msg.ChatID,
		Text:     msg.Text,
	})
}
