// Package session keeps the per-administrator conversation scratch state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/internal/property"
)

// Stage is the discrete position of a conversation.
type Stage string

const (
	Idle                 Stage = "idle"
	AwaitingChatID       Stage = "awaiting_chat_id"
	AwaitingFormID       Stage = "awaiting_form_id"
	AwaitingDeleteTarget Stage = "awaiting_delete_target"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case Idle, AwaitingChatID, AwaitingFormID, AwaitingDeleteTarget:
		return true
	}
	return false
}

// Session is the state of one administrator's conversation.
type Session struct {
	Stage         Stage
	PendingChatID string
	DeleteMode    bool
}

// New returns an idle session.
func New() Session {
	return Session{Stage: Idle}
}

type record struct {
	Stage         Stage  `json:"stage,omitempty"`
	CurrentChatID string `json:"currentChatId,omitempty"`
	DeleteMode    bool   `json:"deleteMode,omitempty"`
}

var errUnknownStage = errors.New("unknown stage")

func decode(value string) (Session, error) {
	var rec record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return New(), err
	}
	rec.CurrentChatID = strings.TrimSpace(rec.CurrentChatID)
	if rec.Stage == "" {
		// records written before stages existed only carried the two flags
		switch {
		case rec.DeleteMode:
			rec.Stage = AwaitingDeleteTarget
		case rec.CurrentChatID != "":
			rec.Stage = AwaitingFormID
		default:
			rec.Stage = Idle
		}
	}
	if !rec.Stage.Valid() {
		return New(), fmt.Errorf("%w %q", errUnknownStage, rec.Stage)
	}
	s := Session{Stage: rec.Stage, PendingChatID: rec.CurrentChatID, DeleteMode: rec.Stage == AwaitingDeleteTarget}
	if s.Stage == AwaitingFormID && s.PendingChatID == "" {
		return New(), fmt.Errorf("stage %s without a pending chat id", s.Stage)
	}
	return s, nil
}

func encode(s Session) (string, error) {
	data, err := json.Marshal(record{Stage: s.Stage, CurrentChatID: s.PendingChatID, DeleteMode: s.DeleteMode})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Store persists sessions keyed by the sender id.
type Store struct {
	props property.Store
}

// NewStore returns a session store on top of props.
func NewStore(props property.Store) *Store {
	return &Store{props: props}
}

func key(senderID string) string {
	return "session:" + senderID
}

// Load returns the sender's session. A missing or undecodable record yields an idle
// session.
func (s *Store) Load(ctx context.Context, senderID string) (Session, error) {
	it, err := s.props.Get(ctx, key(senderID))
	if errors.Is(err, property.ErrNotFound) {
		return New(), nil
	}
	if err != nil {
		return New(), fmt.Errorf("session: load: %w", err)
	}
	sess, err := decode(it.Value)
	if err != nil {
		logger.Warn(ctx, "sessions", "session.decode.reset",
			slog.String("sender_id", senderID),
			slog.String("err", err.Error()),
		)
		return New(), nil
	}
	return sess, nil
}

// Save stores sess for senderID.
func (s *Store) Save(ctx context.Context, senderID string, sess Session) error {
	if !sess.Stage.Valid() {
		return fmt.Errorf("session: save: %w %q", errUnknownStage, sess.Stage)
	}
	value, err := encode(sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := s.props.Set(ctx, key(senderID), value); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Reset drops the stored session so the next Load returns Idle.
func (s *Store) Reset(ctx context.Context, senderID string) error {
	if err := s.props.Delete(ctx, key(senderID)); err != nil {
		return fmt.Errorf("session: reset: %w", err)
	}
	return nil
}
