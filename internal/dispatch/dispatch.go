// Package dispatch relays a form submission into the chat bound to its form.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/telegram/format"
	"github.com/m3rciful/formbot/internal/binding"
)

// ItemType classifies a response item.
type ItemType string

const (
	ItemText       ItemType = "text"
	ItemFileUpload ItemType = "file_upload"
)

// ItemResponse is the answer to one question. For file uploads Answers holds file ids.
type ItemResponse struct {
	QuestionTitle string
	Answers       []string
	ItemType      ItemType
}

// Event is one form submission.
type Event struct {
	FormID      string
	ResponseID  string
	SubmittedAt time.Time
	Responses   []ItemResponse
}

// FileSharer makes an uploaded file readable by anyone with the link and returns a URL
// a chat client can fetch.
type FileSharer interface {
	ShareFile(ctx context.Context, fileID string) (string, error)
}

// Sender delivers messages to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID, photoURL string) error
}

// BindingFinder looks up the binding of a form.
type BindingFinder interface {
	FindByForm(ctx context.Context, formID string) (binding.Binding, bool, error)
}

// Dispatcher turns submission events into chat messages.
type Dispatcher struct {
	bindings BindingFinder
	files    FileSharer
	out      Sender
}

// New returns a dispatcher.
func New(bindings BindingFinder, files FileSharer, out Sender) *Dispatcher {
	return &Dispatcher{bindings: bindings, files: files, out: out}
}

var header = format.Bold("New form submission") + "\n\n"

// Dispatch composes and sends the message for ev. An event for an unbound form is
// logged and dropped without an error. Only a failure to read bindings is returned;
// send failures are logged and never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	ctx = logger.WithFormID(ctx, ev.FormID)
	text, photos := d.compose(ctx, ev)

	b, ok, err := d.bindings.FindByForm(ctx, ev.FormID)
	if err != nil {
		return fmt.Errorf("dispatch: find binding: %w", err)
	}
	if !ok || b.ChatID == "" {
		logger.Info(ctx, "dispatch", "dispatch.unbound", slog.String("response_id", ev.ResponseID))
		return nil
	}

	textSent := true
	if err := d.out.SendText(ctx, b.ChatID, text); err != nil {
		textSent = false
		logger.Warn(ctx, "dispatch", "dispatch.text.failed",
			slog.String("chat_id", b.ChatID),
			slog.String("response_id", ev.ResponseID),
			slog.String("err", err.Error()),
		)
	}
	sentPhotos := 0
	for _, u := range photos {
		if err := d.out.SendPhoto(ctx, b.ChatID, u); err != nil {
			logger.Warn(ctx, "dispatch", "dispatch.photo.failed",
				slog.String("chat_id", b.ChatID),
				slog.String("err", err.Error()),
			)
			continue
		}
		sentPhotos++
	}
	logger.Info(ctx, "dispatch", "dispatch.sent",
		slog.String("chat_id", b.ChatID),
		slog.String("response_id", ev.ResponseID),
		slog.Bool("text", textSent),
		slog.Int("photos", sentPhotos),
	)
	return nil
}

// compose builds the HTML body and shares uploaded files in encounter order. Shared
// files are listed as links in the body too.
func (d *Dispatcher) compose(ctx context.Context, ev Event) (string, []string) {
	var (
		b      strings.Builder
		photos []string
	)
	b.WriteString(header)
	for _, r := range ev.Responses {
		if r.ItemType == ItemFileUpload {
			var links []string
			for _, fileID := range r.Answers {
				u, err := d.share(ctx, fileID)
				if err != nil {
					logger.Warn(ctx, "dispatch", "dispatch.share.failed",
						slog.String("file_id", fileID),
						slog.String("err", err.Error()),
					)
					continue
				}
				photos = append(photos, u)
				links = append(links, u)
			}
			if len(links) > 0 {
				b.WriteString(format.Field(r.QuestionTitle, links...))
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteString(format.Field(r.QuestionTitle, r.Answers...))
		b.WriteByte('\n')
	}
	return b.String(), photos
}

func (d *Dispatcher) share(ctx context.Context, fileID string) (string, error) {
	if d.files == nil {
		return "", fmt.Errorf("no file sharer configured")
	}
	return d.files.ShareFile(ctx, fileID)
}
