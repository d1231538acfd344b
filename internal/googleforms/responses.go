package googleforms

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/forms/v1"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/internal/dispatch"
	"github.com/m3rciful/formbot/internal/validate"
)

// ListSubmissions returns the responses of formID submitted at or after since, oldest
// first, converted into dispatcher events.
func (c *Client) ListSubmissions(ctx context.Context, formID string, since time.Time) ([]dispatch.Event, error) {
	var raw []*forms.FormResponse
	call := c.forms.Forms.Responses.List(formID).
		Filter("timestamp >= " + since.UTC().Format(time.RFC3339)).
		Context(ctx)
	err := call.Pages(ctx, func(page *forms.ListFormResponsesResponse) error {
		raw = append(raw, page.Responses...)
		return nil
	})
	if err != nil {
		return nil, classify("responses.list", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	form, err := c.ResolveForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !coversAnswers(form, raw) {
		// the form gained questions since it was cached
		if form, err = c.fetchForm(ctx, formID); err != nil {
			return nil, err
		}
	}

	events := make([]dispatch.Event, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		events = append(events, toEvent(form, r))
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].SubmittedAt.Before(events[j].SubmittedAt) })
	logger.Debug(ctx, "google", "google.responses.listed",
		slog.String("form_id", formID),
		slog.Int("count", len(events)),
	)
	return events, nil
}

func coversAnswers(form validate.Form, raw []*forms.FormResponse) bool {
	known := make(map[string]struct{}, len(form.Questions))
	for _, q := range form.Questions {
		known[q.ID] = struct{}{}
	}
	for _, r := range raw {
		if r == nil {
			continue
		}
		for id := range r.Answers {
			if _, ok := known[id]; !ok {
				return false
			}
		}
	}
	return true
}

// toEvent orders answers by the form's item order. Answers to questions the form no
// longer has are appended, titled by question id.
func toEvent(form validate.Form, r *forms.FormResponse) dispatch.Event {
	ev := dispatch.Event{FormID: form.ID, ResponseID: r.ResponseId}
	if ev.FormID == "" {
		ev.FormID = r.FormId
	}
	ts := r.LastSubmittedTime
	if ts == "" {
		ts = r.CreateTime
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		ev.SubmittedAt = t
	}

	used := make(map[string]struct{}, len(r.Answers))
	for _, q := range form.Questions {
		a, ok := r.Answers[q.ID]
		if !ok {
			continue
		}
		used[q.ID] = struct{}{}
		if item, ok := toItem(q.Title, q.FileUpload, a); ok {
			ev.Responses = append(ev.Responses, item)
		}
	}

	var orphans []string
	for id := range r.Answers {
		if _, ok := used[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		a := r.Answers[id]
		if item, ok := toItem(id, a.FileUploadAnswers != nil, a); ok {
			ev.Responses = append(ev.Responses, item)
		}
	}
	return ev
}

func toItem(title string, fileUpload bool, a forms.Answer) (dispatch.ItemResponse, bool) {
	item := dispatch.ItemResponse{QuestionTitle: strings.TrimSpace(title), ItemType: dispatch.ItemText}
	if fileUpload || a.FileUploadAnswers != nil {
		item.ItemType = dispatch.ItemFileUpload
		if a.FileUploadAnswers != nil {
			for _, f := range a.FileUploadAnswers.Answers {
				if f != nil && f.FileId != "" {
					item.Answers = append(item.Answers, f.FileId)
				}
			}
		}
		return item, len(item.Answers) > 0
	}
	if a.TextAnswers != nil {
		for _, t := range a.TextAnswers.Answers {
			if t != nil {
				item.Answers = append(item.Answers, t.Value)
			}
		}
	}
	return item, len(item.Answers) > 0
}
