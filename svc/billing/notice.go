package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/hearth/pkg/logger"
)

// NoticeKind identifies a one-way notice to a subscriber.
type NoticeKind string

const (
	NoticeTrialWelcome          NoticeKind = "trial_welcome"
	NoticePreChargeReminder     NoticeKind = "pre_charge_reminder"
	NoticePaymentFailed         NoticeKind = "payment_failed"
	NoticeSubscriptionActive    NoticeKind = "subscription_active"
	NoticeCancellationConfirmed NoticeKind = "cancellation_confirmed"
	NoticeAccountSuspended      NoticeKind = "account_suspended"
)

// Notice is a one-way message to a subscriber.
type Notice struct {
	Kind         NoticeKind
	SubscriberID string
	Email        string
	Name         string
	Tier         string
	TrialEndsAt  *time.Time
	GraceEndsAt  *time.Time
	NextBilling  *time.Time
}

// Notifier sends notices. Implementations must honor ctx cancellation.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// NoticeFor builds a notice of the given kind from a subscriber row.
func NoticeFor(kind NoticeKind, s Subscriber) Notice {
	return Notice{
		Kind:         kind,
		SubscriberID: s.ID,
		Email:        s.Email,
		Name:         s.Name,
		Tier:         s.Tier,
		TrialEndsAt:  s.TrialEndsAt,
		GraceEndsAt:  s.GracePeriodEndsAt,
		NextBilling:  s.NextBillingAt,
	}
}

// dispatcher sends notices under a bounded timeout. Failures are logged and
// counted, never returned: a notice must not block the transition behind it.
type dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      *slog.Logger
	metrics  *Metrics
}

func (d dispatcher) send(ctx context.Context, notices ...Notice) {
	for _, n := range notices {
		d.sendOne(ctx, n)
	}
}

func (d dispatcher) sendOne(ctx context.Context, n Notice) {
	if d.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, n); err != nil {
		d.metrics.notification(n.Kind, false)
		d.log.ErrorContext(ctx, "failed to send notice",
			logger.Error(err),
			logger.SubscriberID(n.SubscriberID),
			slog.String("notice", string(n.Kind)),
		)
		return
	}
	d.metrics.notification(n.Kind, true)
}
