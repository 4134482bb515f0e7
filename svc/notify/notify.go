package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/hearth/pkg/email"
	"github.com/dmitrymomot/hearth/pkg/email/templates"
	"github.com/dmitrymomot/hearth/pkg/logger"
	"github.com/dmitrymomot/hearth/svc/billing"
)

// ErrUnknownNotice is returned when a notice kind has no template.
var ErrUnknownNotice = errors.New("notify: unknown notice kind")

// Brand is the product identity used in notice copy.
type Brand struct {
	Product      string `env:"NOTIFY_PRODUCT_NAME" envDefault:"Hearth"`
	AccountURL   string `env:"NOTIFY_ACCOUNT_URL"`
	SupportEmail string `env:"SUPPORT_EMAIL"`
}

// EmailNotifier renders notices and sends them as email.
type EmailNotifier struct {
	sender email.Sender
	brand  Brand
	log    *slog.Logger
}

// Option configures an EmailNotifier.
type Option func(*EmailNotifier)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(n *EmailNotifier) {
		if l != nil {
			n.log = l
		}
	}
}

// NewEmailNotifier sends through sender. An empty product name falls back
// to "Hearth".
func NewEmailNotifier(sender email.Sender, brand Brand, opts ...Option) *EmailNotifier {
	if brand.Product == "" {
		brand.Product = "Hearth"
	}
	n := &EmailNotifier{sender: sender, brand: brand, log: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With(logger.Component("notify"))
	return n
}

// Notify implements billing.Notifier.
func (n *EmailNotifier) Notify(ctx context.Context, notice billing.Notice) error {
	msg, err := n.Render(ctx, notice)
	if err != nil {
		return err
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", notice.Kind, err)
	}
	n.log.DebugContext(ctx, "notice sent", logger.SubscriberID(notice.SubscriberID), slog.String("notice", string(notice.Kind)))
	return nil
}

// Render builds the email for notice without sending it.
func (n *EmailNotifier) Render(ctx context.Context, notice billing.Notice) (email.Message, error) {
	tpl, ok := notices[notice.Kind]
	if !ok {
		return email.Message{}, fmt.Errorf("%w: %q", ErrUnknownNotice, notice.Kind)
	}

	v := newView(notice, n.brand)
	subject := tpl.subject(v)
	body := tpl.body(v)
	if v.support != "" {
		body.Footer = fmt.Sprintf("Questions? Reply to this email or write to %s.", v.support)
	}

	html, err := templates.Render(ctx, layout(subject, bodyView(body)))
	if err != nil {
		return email.Message{}, fmt.Errorf("render %s: %w", notice.Kind, err)
	}

	return email.Message{
		To:       notice.Email,
		Subject:  subject,
		HTMLBody: html,
		TextBody: body.text(),
		Tag:      string(notice.Kind),
	}, nil
}
