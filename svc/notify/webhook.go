package notify

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/hearth/pkg/webhook"
	"github.com/dmitrymomot/hearth/svc/billing"
)

// WebhookConfig mirrors notices to an HTTP endpoint, e.g. a CRM.
type WebhookConfig struct {
	URL    string `env:"NOTIFY_WEBHOOK_URL"`
	Secret string `env:"NOTIFY_WEBHOOK_SECRET"`
}

type webhookPayload struct {
	Kind         billing.NoticeKind `json:"kind"`
	SubscriberID string             `json:"subscriber_id"`
	Email        string             `json:"email"`
	Tier         string             `json:"tier,omitempty"`
	TrialEndsAt  *time.Time         `json:"trial_ends_at,omitempty"`
	GraceEndsAt  *time.Time         `json:"grace_ends_at,omitempty"`
	NextBilling  *time.Time         `json:"next_billing_at,omitempty"`
}

// WebhookNotifier posts each notice as signed JSON.
type WebhookNotifier struct {
	sender *webhook.Sender
	url    string
}

// NewWebhookNotifier posts to url through sender.
func NewWebhookNotifier(sender *webhook.Sender, url string) *WebhookNotifier {
	return &WebhookNotifier{sender: sender, url: url}
}

// Notify implements billing.Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, notice billing.Notice) error {
	return n.sender.Send(ctx, n.url, webhookPayload{
		Kind:         notice.Kind,
		SubscriberID: notice.SubscriberID,
		Email:        notice.Email,
		Tier:         notice.Tier,
		TrialEndsAt:  notice.TrialEndsAt,
		GraceEndsAt:  notice.GraceEndsAt,
		NextBilling:  notice.NextBilling,
	})
}

// Fanout delivers every notice to all notifiers and joins their errors.
type Fanout []billing.Notifier

// Notify implements billing.Notifier.
func (f Fanout) Notify(ctx context.Context, notice billing.Notice) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
