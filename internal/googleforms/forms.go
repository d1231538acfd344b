package googleforms

import (
	"context"
	"log/slog"

	"google.golang.org/api/forms/v1"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/internal/validate"
)

// ResolveForm opens the form and returns its questions in item order.
func (c *Client) ResolveForm(ctx context.Context, formID string) (validate.Form, error) {
	if f, ok := c.cache.Get(formID); ok {
		return f, nil
	}
	return c.fetchForm(ctx, formID)
}

func (c *Client) fetchForm(ctx context.Context, formID string) (validate.Form, error) {
	raw, err := c.forms.Forms.Get(formID).Context(ctx).Do()
	if err != nil {
		c.cache.Remove(formID)
		return validate.Form{}, classify("forms.get", err)
	}
	f := convertForm(raw)
	c.cache.Add(formID, f)
	logger.Debug(ctx, "google", "google.form.fetched",
		slog.String("form_id", formID),
		slog.Int("count", len(f.Questions)),
	)
	return f, nil
}

func convertForm(raw *forms.Form) validate.Form {
	f := validate.Form{ID: raw.FormId}
	if raw.Info != nil {
		f.Title = raw.Info.Title
	}
	for _, item := range raw.Items {
		if item == nil {
			continue
		}
		switch {
		case item.QuestionItem != nil && item.QuestionItem.Question != nil:
			q := item.QuestionItem.Question
			f.Questions = append(f.Questions, validate.Question{
				ID:         q.QuestionId,
				Title:      item.Title,
				FileUpload: q.FileUploadQuestion != nil,
			})
		case item.QuestionGroupItem != nil:
			for _, q := range item.QuestionGroupItem.Questions {
				if q == nil {
					continue
				}
				title := item.Title
				if q.RowQuestion != nil && q.RowQuestion.Title != "" {
					title = item.Title + " [" + q.RowQuestion.Title + "]"
				}
				f.Questions = append(f.Questions, validate.Question{
					ID:         q.QuestionId,
					Title:      title,
					FileUpload: q.FileUploadQuestion != nil,
				})
			}
		}
	}
	return f
}
