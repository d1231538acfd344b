package router

import (
	"context"
	"strconv"
	"time"

	tg "github.com/m3rciful/formbot/core/telegram"
	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"
	"github.com/m3rciful/formbot/internal/inbound"

	tele "gopkg.in/telebot.v4"
)

// MessageRouter receives every text update in transport-neutral form.
type MessageRouter interface {
	Route(ctx context.Context, msg inbound.Message) (bool, error)
}

// TextRoutes builds the single OnText handler. Registered commands name the handler
// in logs; everything else is logged as "text". Errors are logged, never returned.
func TextRoutes(next MessageRouter, reg *tg.Registry) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		msg := toMessage(c)

		name := "text"
		if key, _, ok := reg.LookupCommand(msg.Text); ok {
			name = normalizeHandlerName(key)
		}
		ctx := tghelpers.WithHandler(c, name)
		routed, err := next.Route(ctx, msg)
		status := ""
		if !routed && err == nil {
			status = "skip"
		}
		logHandlerSummary(c, name, start, status, err)
		return nil
	}
	return []tg.Route{{Endpoint: tele.OnText, Handler: handler}}
}

func toMessage(c tele.Context) inbound.Message {
	msg := inbound.Message{Text: c.Text()}
	if chat := c.Chat(); chat != nil {
		msg.ChatID = strconv.FormatInt(chat.ID, 10)
		msg.ChatType = string(chat.Type)
	}
	if user := c.Sender(); user != nil {
		msg.SenderID = strconv.FormatInt(user.ID, 10)
	}
	return msg
}
