package inbound

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/formbot/internal/conversation"
)

type captured struct{ inputs []conversation.Input }

func (c *captured) Handle(_ context.Context, in conversation.Input) error {
	c.inputs = append(c.inputs, in)
	return nil
}

func TestRouteFiltersGroupChatter(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want bool
	}{
		{"private text", Message{Text: "-100", ChatID: "42", ChatType: ChatPrivate, SenderID: "42"}, true},
		{"group command", Message{Text: "/list", ChatID: "-100", ChatType: "supergroup", SenderID: "42"}, true},
		{"group chatter", Message{Text: "hello all", ChatID: "-100", ChatType: "group", SenderID: "42"}, false},
		{"empty text", Message{Text: "  ", ChatID: "42", ChatType: ChatPrivate, SenderID: "42"}, false},
		{"no chat", Message{Text: "/start", ChatType: ChatPrivate}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next := &captured{}
			ok, err := NewRouter(next).Route(context.Background(), tc.msg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
			assert.Equal(t, tc.want, len(next.inputs) == 1)
		})
	}
}

func TestRouteFallsBackToChatAsSender(t *testing.T) {
	next := &captured{}
	_, err := NewRouter(next).Route(context.Background(), Message{Text: "/start", ChatID: "-5", ChatType: "channel"})
	require.NoError(t, err)
	require.Len(t, next.inputs, 1)
	assert.Equal(t, conversation.Input{SenderID: "-5", ChatID: "-5", Text: "/start"}, next.inputs[0])
}
