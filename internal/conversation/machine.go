// Package conversation drives the binding workflow an administrator walks through
// in a private chat with the bot.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/internal/binding"
	"github.com/m3rciful/formbot/internal/session"
	"github.com/m3rciful/formbot/internal/validate"
)

// Input is one inbound message addressed to the conversation.
type Input struct {
	SenderID string
	ChatID   string
	Text     string
}

// SessionStore persists per-sender sessions.
type SessionStore interface {
	Load(ctx context.Context, senderID string) (session.Session, error)
	Save(ctx context.Context, senderID string, s session.Session) error
	Reset(ctx context.Context, senderID string) error
}

// BindingStore is the part of the binding repository the conversation mutates.
type BindingStore interface {
	List(ctx context.Context) ([]binding.Binding, error)
	Append(ctx context.Context, b binding.Binding) (bool, error)
	RemoveWhere(ctx context.Context, pred func(binding.Binding) bool) (int, error)
	ReplaceAll(ctx context.Context, seq []binding.Binding) error
}

// ChatChecker validates a chat id typed by the sender.
type ChatChecker interface {
	Check(ctx context.Context, senderID, candidate string) validate.Result
}

// FormChecker validates and normalizes a form id typed by the sender.
type FormChecker interface {
	Check(ctx context.Context, raw string) (string, validate.Result)
}

// Messenger sends a HTML text message.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
}

// Reconciler brings form subscriptions in line with the binding list.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Deps wires the collaborators of a Machine.
type Deps struct {
	Sessions   SessionStore
	Bindings   BindingStore
	Chats      ChatChecker
	Forms      FormChecker
	Messenger  Messenger
	Reconciler Reconciler
}

// Machine is the conversation state machine. It keeps no state of its own; every
// call loads the sender's session and stores the result.
type Machine struct {
	deps Deps
}

// New returns a machine using deps. Reconciler may be nil.
func New(deps Deps) *Machine {
	return &Machine{deps: deps}
}

// Handle processes one inbound message. Commands win over stage-driven free text.
func (m *Machine) Handle(ctx context.Context, in Input) error {
	cur, err := m.deps.Sessions.Load(ctx, in.SenderID)
	if err != nil {
		return err
	}

	var (
		ev   Event
		next session.Session
	)
	if name, ok := ParseCommand(in.Text); ok {
		ev, next, err = m.command(ctx, in, cur, name)
	} else {
		ev, next, err = m.text(ctx, in, cur, strings.TrimSpace(in.Text))
	}
	if err != nil {
		return err
	}
	next.Stage = Transition(cur.Stage, ev)
	next.DeleteMode = next.Stage == session.AwaitingDeleteTarget
	if next.Stage != session.AwaitingFormID {
		next.PendingChatID = ""
	}

	logger.Info(ctx, "conversation", "conversation.transition",
		slog.String("action", ev.String()),
		slog.String("stage", string(cur.Stage)),
		slog.String("next_stage", string(next.Stage)),
	)
	if next == cur {
		return nil
	}
	if next == session.New() {
		return m.deps.Sessions.Reset(ctx, in.SenderID)
	}
	return m.deps.Sessions.Save(ctx, in.SenderID, next)
}

func (m *Machine) command(ctx context.Context, in Input, cur session.Session, name string) (Event, session.Session, error) {
	switch name {
	case "start", "help":
		m.reply(ctx, in.ChatID, helpText())
		return EventStart, cur, nil
	case "reset":
		if err := m.deps.Bindings.ReplaceAll(ctx, nil); err != nil {
			m.reply(ctx, in.ChatID, msgStorageFailure)
			return 0, cur, fmt.Errorf("reset bindings: %w", err)
		}
		m.reply(ctx, in.ChatID, msgResetDone)
		m.reconcile(ctx)
		return EventReset, session.New(), nil
	case "delete":
		m.reply(ctx, in.ChatID, msgPromptDelete)
		return EventDelete, session.Session{}, nil
	case "connect":
		m.reply(ctx, in.ChatID, msgPromptChatID)
		return EventConnect, session.Session{}, nil
	case "list":
		list, err := m.deps.Bindings.List(ctx)
		if err != nil {
			m.reply(ctx, in.ChatID, msgStorageFailure)
			return 0, cur, fmt.Errorf("list bindings: %w", err)
		}
		m.reply(ctx, in.ChatID, listText(list))
		return EventList, cur, nil
	default:
		m.reply(ctx, in.ChatID, helpText())
		return EventUnknownCommand, cur, nil
	}
}

func (m *Machine) text(ctx context.Context, in Input, cur session.Session, text string) (Event, session.Session, error) {
	switch {
	case cur.Stage == session.AwaitingDeleteTarget:
		removed, err := m.deps.Bindings.RemoveWhere(ctx, func(b binding.Binding) bool { return b.ChatID == text })
		if err != nil {
			m.reply(ctx, in.ChatID, msgStorageFailure)
			return 0, cur, fmt.Errorf("delete bindings: %w", err)
		}
		m.reply(ctx, in.ChatID, deletedText(text, removed))
		if removed > 0 {
			m.reconcile(ctx)
		}
		return EventAccepted, session.Session{}, nil

	case cur.Stage == session.AwaitingChatID:
		res := m.deps.Chats.Check(ctx, in.SenderID, text)
		if !res.OK() {
			logger.Info(ctx, "conversation", "conversation.chat.rejected",
				slog.String("chat_id", text),
				slog.String("error_kind", res.Kind.String()),
			)
			m.reply(ctx, in.ChatID, msgChatRejected)
			return EventRejected, cur, nil
		}
		m.reply(ctx, in.ChatID, msgPromptFormID)
		return EventAccepted, session.Session{PendingChatID: text}, nil

	case cur.Stage == session.AwaitingFormID:
		formID, res := m.deps.Forms.Check(ctx, text)
		if !res.OK() {
			logger.Info(ctx, "conversation", "conversation.form.rejected",
				slog.String("form_id", formID),
				slog.String("error_kind", res.Kind.String()),
			)
			m.reply(ctx, in.ChatID, msgFormRejected)
			return EventRejected, cur, nil
		}
		b := binding.Binding{ChatID: cur.PendingChatID, FormID: formID}
		if _, err := m.deps.Bindings.Append(ctx, b); err != nil {
			m.reply(ctx, in.ChatID, msgStorageFailure)
			return 0, cur, fmt.Errorf("append binding: %w", err)
		}
		logger.Info(ctx, "conversation", "conversation.bound",
			slog.String("chat_id", b.ChatID),
			slog.String("form_id", b.FormID),
		)
		m.reply(ctx, in.ChatID, msgConfigured)
		m.reply(ctx, b.ChatID, msgChatConfigured)
		m.reconcile(ctx)
		return EventAccepted, session.Session{}, nil

	default:
		m.reply(ctx, in.ChatID, msgIdleHint)
		return EventText, cur, nil
	}
}

// reply sends text and only logs failures.
func (m *Machine) reply(ctx context.Context, chatID, text string) {
	if chatID == "" {
		logger.Warn(ctx, "conversation", "conversation.reply.no_chat")
		return
	}
	if err := m.deps.Messenger.SendText(ctx, chatID, text); err != nil {
		logger.Warn(ctx, "conversation", "conversation.reply.failed",
			slog.String("chat_id", chatID),
			slog.String("err", err.Error()),
		)
	}
}

func (m *Machine) reconcile(ctx context.Context) {
	if m.deps.Reconciler == nil {
		return
	}
	if err := m.deps.Reconciler.Reconcile(ctx); err != nil {
		logger.Warn(ctx, "conversation", "conversation.reconcile.failed", slog.String("err", err.Error()))
	}
}

// ParseCommand returns the lower-cased command name when text starts with '/'.
// A trailing "@botname" on the command token is ignored.
func ParseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	token := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	return strings.ToLower(token), true
}
