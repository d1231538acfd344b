package googleforms

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/forms/v1"

	"github.com/m3rciful/formbot/internal/reconcile"
)

const eventResponses = "RESPONSES"

// Watches manages response watches publishing to the configured Pub/Sub topic.
type Watches struct {
	c *Client
}

// Watches returns the watch manager of c.
func (c *Client) Watches() *Watches {
	return &Watches{c: c}
}

// List returns the response watches of formID.
func (w *Watches) List(ctx context.Context, formID string) ([]reconcile.Subscription, error) {
	resp, err := w.c.forms.Forms.Watches.List(formID).Context(ctx).Do()
	if err != nil {
		return nil, classify("watches.list", err)
	}
	var out []reconcile.Subscription
	for _, raw := range resp.Watches {
		if raw == nil || raw.EventType != eventResponses {
			continue
		}
		out = append(out, toSubscription(formID, raw))
	}
	return out, nil
}

// Create registers a response watch on formID.
func (w *Watches) Create(ctx context.Context, formID string) (reconcile.Subscription, error) {
	if w.c.topic == "" {
		return reconcile.Subscription{}, fmt.Errorf("watches.create: google.pubsub_topic is not configured")
	}
	req := &forms.CreateWatchRequest{
		Watch: &forms.Watch{
			EventType: eventResponses,
			Target: &forms.WatchTarget{
				Topic: &forms.CloudPubsubTopic{TopicName: w.c.topic},
			},
		},
	}
	raw, err := w.c.forms.Forms.Watches.Create(formID, req).Context(ctx).Do()
	if err != nil {
		return reconcile.Subscription{}, classify("watches.create", err)
	}
	return toSubscription(formID, raw), nil
}

// Delete removes a watch.
func (w *Watches) Delete(ctx context.Context, formID, id string) error {
	if _, err := w.c.forms.Forms.Watches.Delete(formID, id).Context(ctx).Do(); err != nil {
		return classify("watches.delete", err)
	}
	return nil
}

// Renew extends the expiry of a watch.
func (w *Watches) Renew(ctx context.Context, formID, id string) (reconcile.Subscription, error) {
	raw, err := w.c.forms.Forms.Watches.Renew(formID, id, &forms.RenewWatchRequest{}).Context(ctx).Do()
	if err != nil {
		return reconcile.Subscription{}, classify("watches.renew", err)
	}
	return toSubscription(formID, raw), nil
}

func toSubscription(formID string, raw *forms.Watch) reconcile.Subscription {
	s := reconcile.Subscription{ID: raw.Id, FormID: formID}
	if t, err := time.Parse(time.RFC3339Nano, raw.ExpireTime); err == nil {
		s.ExpireTime = t
	}
	return s
}
