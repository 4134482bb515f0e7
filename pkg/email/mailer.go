package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/hearth/pkg/validator"
)

// Sender delivers one transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a rendered email ready to send.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Tag      string // provider-side category, e.g. the notice kind
}

// Validate checks the fields every provider needs.
func (m Message) Validate() error {
	err := validator.Apply(
		validator.ValidEmail("to", m.To),
		validator.RequiredString("subject", m.Subject),
		validator.MaxLenString("subject", m.Subject, 255),
		validator.MaxLenString("tag", m.Tag, 64),
	)
	if err != nil {
		return errors.Join(ErrInvalidMessage, err)
	}
	if m.HTMLBody == "" && m.TextBody == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	return nil
}

// New builds the Sender named by cfg.Provider.
func New(cfg Config) (Sender, error) {
	if err := validator.Apply(
		validator.ValidEmail("sender_email", cfg.SenderEmail),
		validator.ValidEmail("support_email", cfg.SupportEmail),
	); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	switch cfg.Provider {
	case ProviderPostmark:
		return NewPostmarkSender(cfg)
	case ProviderMailjet:
		return NewMailjetSender(cfg)
	case ProviderDev, "":
		return NewDevSender(cfg.DevOutputDir), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
