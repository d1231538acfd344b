package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

func newContext(t *testing.T, userID int64) tele.Context {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	return bot.NewContext(tele.Update{ID: 3, Message: &tele.Message{
		Text:   "hi",
		Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: userID},
	}})
}

func TestRecoverSwallowsPanic(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	assert.NotPanics(t, func() {
		assert.NoError(t, h(newContext(t, 1)))
	})
}

func TestRateLimitDropsBurst(t *testing.T) {
	clock := time.Unix(0, 0)
	limited := 0
	calls := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Second,
		OnLimited: func(tele.Context) error { limited++; return nil },
		now:       func() time.Time { return clock },
	})
	h := mw(func(tele.Context) error { calls++; return nil })

	require.NoError(t, h(newContext(t, 1)))
	require.NoError(t, h(newContext(t, 1)))
	require.NoError(t, h(newContext(t, 2)))
	clock = clock.Add(2 * time.Second)
	require.NoError(t, h(newContext(t, 1)))

	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, limited)
}

func TestRateLimitExcludedKind(t *testing.T) {
	calls := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"message": {}},
	})
	h := mw(func(tele.Context) error { calls++; return nil })
	for range 3 {
		require.NoError(t, h(newContext(t, 1)))
	}
	assert.Equal(t, 3, calls)
}

func TestLoggerStoresUpdateContext(t *testing.T) {
	var ctx context.Context
	h := LoggerMiddleware(func(c tele.Context) error {
		var ok bool
		ctx, ok = tghelpers.ContextFrom(c)
		require.True(t, ok)
		return nil
	})
	c := newContext(t, 42)
	require.NoError(t, h(c))
	assert.NotEmpty(t, c.Get("rid"))
	require.NotNil(t, ctx)
}

func TestMessageCounter(t *testing.T) {
	h := MessageMetricsMiddleware(func(c tele.Context) error {
		ctx, _ := tghelpers.ContextFrom(c)
		CountMessage(ctx)
		CountMessage(ctx)
		return nil
	})
	c := newContext(t, 5)
	require.NoError(t, h(c))
	assert.Equal(t, 2, GetCounters(c))

	CountMessage(context.Background())
	assert.Zero(t, GetCounters(newContext(t, 6)))
}
