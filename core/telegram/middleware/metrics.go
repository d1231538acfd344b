package middleware

import (
	"context"
	"sync/atomic"

	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

type counterKey struct{}

// MessageMetricsMiddleware attaches a sent-message counter to the update context.
// Outbound calls made with that context report through CountMessage.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		ctx = context.WithValue(ctx, counterKey{}, new(atomic.Int64))
		tghelpers.StoreContext(c, ctx)
		return next(c)
	}
}

// CountMessage records one message sent on behalf of the update in ctx.
func CountMessage(ctx context.Context) {
	if n, ok := ctx.Value(counterKey{}).(*atomic.Int64); ok {
		n.Add(1)
	}
}

// GetCounters returns how many messages were sent for the update of c.
func GetCounters(c tele.Context) int {
	ctx, ok := tghelpers.ContextFrom(c)
	if !ok {
		return 0
	}
	if n, ok := ctx.Value(counterKey{}).(*atomic.Int64); ok {
		return int(n.Load())
	}
	return 0
}
