package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"
	"github.com/m3rciful/formbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

type sent struct {
	to   string
	what interface{}
	opts []interface{}
}

type fakeBot struct {
	sent    []sent
	sendErr error
	role    tele.MemberStatus
	memErr  error
	asked   [2]string
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sent{to: to.Recipient(), what: what, opts: opts})
	return &tele.Message{}, nil
}

func (f *fakeBot) ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error) {
	f.asked = [2]string{chat.Recipient(), user.Recipient()}
	if f.memErr != nil {
		return nil, f.memErr
	}
	return &tele.ChatMember{Role: f.role}, nil
}

func TestMessengerSendText(t *testing.T) {
	bot := &fakeBot{}
	m := NewMessenger(bot, nil)

	require.NoError(t, m.SendText(context.Background(), "-100123", "<b>hi</b>"))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, "-100123", bot.sent[0].to)
	assert.Equal(t, "<b>hi</b>", bot.sent[0].what)
	assert.Contains(t, bot.sent[0].opts, tele.ModeHTML)

	assert.Error(t, m.SendText(context.Background(), "  ", "x"))
	assert.Len(t, bot.sent, 1)
}

func TestMessengerSendPhoto(t *testing.T) {
	bot := &fakeBot{}
	m := NewMessenger(bot, nil)

	require.NoError(t, m.SendPhoto(context.Background(), "42", "https://example.com/p.png"))
	require.Len(t, bot.sent, 1)
	photo, ok := bot.sent[0].what.(*tele.Photo)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/p.png", photo.FileURL)
}

func TestMessengerSendErrorPropagates(t *testing.T) {
	cause := errors.New("boom")
	m := NewMessenger(&fakeBot{sendErr: cause}, nil)
	assert.ErrorIs(t, m.SendText(context.Background(), "1", "x"), cause)
}

func TestMessengerIsMember(t *testing.T) {
	tests := []struct {
		name string
		role tele.MemberStatus
		err  error
		want bool
		fail bool
	}{
		{name: "member", role: tele.Member, want: true},
		{name: "admin", role: tele.Administrator, want: true},
		{name: "left", role: tele.Left},
		{name: "kicked", role: tele.Kicked},
		{name: "bad request", err: &tele.Error{Code: 400, Description: "Bad Request: chat not found"}},
		{name: "transport", err: errors.New("connection reset"), fail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &fakeBot{role: tt.role, memErr: tt.err}
			got, err := NewMessenger(bot, nil).IsMember(context.Background(), "-100", "7")
			if tt.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, [2]string{"-100", "7"}, bot.asked)
		})
	}
}

func TestMessengerCountsSentMessages(t *testing.T) {
	var counted int
	handler := middleware.MessageMetricsMiddleware(func(c tele.Context) error {
		m := NewMessenger(&fakeBot{}, nil)
		ctx, ok := tghelpers.ContextFrom(c)
		require.True(t, ok)
		require.NoError(t, m.SendText(ctx, "1", "a"))
		require.NoError(t, m.SendText(ctx, "1", "b"))
		counted = middleware.GetCounters(c)
		return nil
	})
	bot, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	c := bot.NewContext(tele.Update{ID: 1, Message: &tele.Message{Chat: &tele.Chat{ID: 1}, Sender: &tele.User{ID: 1}}})
	require.NoError(t, handler(c))
	assert.Equal(t, 2, counted)
}
