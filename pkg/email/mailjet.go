package email

import (
	"context"
	"errors"
	"fmt"

	mailjet "github.com/mailjet/mailjet-apiv3-go"
)

// MailjetSender sends through the Mailjet v3.1 send API.
type MailjetSender struct {
	send    func(*mailjet.MessagesV31) (*mailjet.ResultsV31, error)
	from    string
	replyTo string
}

func NewMailjetSender(cfg Config) (*MailjetSender, error) {
	if cfg.MailjetPublicKey == "" || cfg.MailjetPrivateKey == "" {
		return nil, fmt.Errorf("%w: mailjet public and private keys are required", ErrInvalidConfig)
	}
	client := mailjet.NewMailjetClient(cfg.MailjetPublicKey, cfg.MailjetPrivateKey)
	return &MailjetSender{
		send: func(m *mailjet.MessagesV31) (*mailjet.ResultsV31, error) {
			return client.SendMailV31(m)
		},
		from:    cfg.SenderEmail,
		replyTo: cfg.SupportEmail,
	}, nil
}

// Send ignores ctx cancellation once the request is issued; the Mailjet
// client has no context support.
func (s *MailjetSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}

	_, err := s.send(&mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{{
		From:     &mailjet.RecipientV31{Email: s.from},
		ReplyTo:  &mailjet.RecipientV31{Email: s.replyTo},
		To:       &mailjet.RecipientsV31{mailjet.RecipientV31{Email: msg.To}},
		Subject:  msg.Subject,
		HTMLPart: msg.HTMLBody,
		TextPart: msg.TextBody,
		CustomID: msg.Tag,
	}}})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	return nil
}
