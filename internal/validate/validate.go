// Package validate checks the chat and form identifiers an administrator types in.
// Collaborator failures come back as a tagged Result instead of an error so the
// conversation can branch on the kind.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/m3rciful/formbot/core/logger"
)

var (
	// ErrFormNotFound is returned by a FormResolver when the form does not exist.
	ErrFormNotFound = errors.New("form not found")
	// ErrFormPermission is returned by a FormResolver when the form is not accessible.
	ErrFormPermission = errors.New("form not accessible")
)

// Kind tags the outcome of a check.
type Kind int

const (
	KindOK Kind = iota
	KindInvalid
	KindNotFound
	KindPermission
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindTransport:
		return "transport"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Result is the outcome of a validation. Err carries the underlying cause, if any.
type Result struct {
	Kind Kind
	Err  error
}

// OK reports whether the check passed.
func (r Result) OK() bool { return r.Kind == KindOK }

// MembershipQuery answers whether userID is a current member of chatID.
type MembershipQuery interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

// ChatValidator accepts a chat id only when the sender belongs to that chat.
type ChatValidator struct {
	Members MembershipQuery
}

// Check validates candidate for senderID.
func (v ChatValidator) Check(ctx context.Context, senderID, candidate string) Result {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || strings.ContainsAny(candidate, " \t\n") {
		return Result{Kind: KindInvalid}
	}
	ok, err := v.Members.IsMember(ctx, candidate, senderID)
	if err != nil {
		logger.Warn(ctx, "conversation", "validate.chat.transport",
			slog.String("chat_id", candidate),
			slog.String("err", err.Error()),
		)
		return Result{Kind: KindTransport, Err: err}
	}
	if !ok {
		return Result{Kind: KindInvalid}
	}
	return Result{Kind: KindOK}
}

// Form is the resolved metadata of a form.
type Form struct {
	ID        string
	Title     string
	Questions []Question
}

// Question describes one answerable item of a form.
type Question struct {
	ID         string
	Title      string
	FileUpload bool
}

// FormResolver opens a form by id. It returns ErrFormNotFound or ErrFormPermission
// (possibly wrapped) for the corresponding provider answers.
type FormResolver interface {
	ResolveForm(ctx context.Context, formID string) (Form, error)
}

var (
	formURLPattern = regexp.MustCompile(`forms/d/([a-zA-Z0-9_-]+)`)
	formIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ExtractFormID accepts either a bare form id or a form URL and returns the id.
func ExtractFormID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if m := formURLPattern.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	if formIDPattern.MatchString(raw) {
		return raw, true
	}
	return "", false
}

// FormValidator accepts a form id only when it resolves.
type FormValidator struct {
	Forms FormResolver
}

// Check normalizes raw and resolves it. The returned id is meaningful only when the
// result is OK.
func (v FormValidator) Check(ctx context.Context, raw string) (string, Result) {
	id, ok := ExtractFormID(raw)
	if !ok {
		return "", Result{Kind: KindInvalid}
	}
	_, err := v.Forms.ResolveForm(ctx, id)
	switch {
	case err == nil:
		return id, Result{Kind: KindOK}
	case errors.Is(err, ErrFormNotFound):
		return id, Result{Kind: KindNotFound, Err: err}
	case errors.Is(err, ErrFormPermission):
		return id, Result{Kind: KindPermission, Err: err}
	default:
		logger.Warn(ctx, "conversation", "validate.form.transport",
			slog.String("form_id", id),
			slog.String("err", err.Error()),
		)
		return id, Result{Kind: KindTransport, Err: err}
	}
}
