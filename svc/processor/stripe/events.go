package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/dmitrymomot/hearth/svc/billing"
)

// SignatureHeader carries the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

var eventTypes = map[stripe.EventType]billing.EventType{
	"customer.subscription.created":        billing.EventSubscriptionCreated,
	"customer.subscription.updated":        billing.EventSubscriptionUpdated,
	"customer.subscription.deleted":        billing.EventSubscriptionDeleted,
	"customer.subscription.trial_will_end": billing.EventTrialWillEnd,
	"invoice.payment_succeeded":            billing.EventInvoicePaymentSucceeded,
	"invoice.payment_failed":               billing.EventInvoicePaymentFailed,
	"checkout.session.completed":           billing.EventCheckoutCompleted,
}

// ParseEvent verifies the Stripe-Signature header and maps the delivery onto
// a billing.Event. The account API version is not checked against the
// library's, since only stable object fields are read.
func (p *Processor) ParseEvent(ctx context.Context, payload []byte, header http.Header) (billing.Event, error) {
	if err := ctx.Err(); err != nil {
		return billing.Event{}, err
	}

	raw, err := webhook.ConstructEventWithOptions(payload, header.Get(SignatureHeader), p.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                p.webhookTolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return billing.Event{}, errors.Join(billing.ErrSignatureInvalid, err)
	}

	ev := billing.Event{
		ID:         raw.ID,
		Type:       billing.EventType(raw.Type),
		OccurredAt: time.Unix(raw.Created, 0).UTC(),
		Payload:    payload,
	}
	if t, ok := eventTypes[raw.Type]; ok {
		ev.Type = t
	} else {
		// Passed through untouched; the lifecycle records it as ignored.
		return ev, nil
	}
	if raw.Data == nil {
		return billing.Event{}, fmt.Errorf("%w: %s has no data", ErrMalformedEvent, raw.ID)
	}

	switch ev.Type {
	case billing.EventCheckoutCompleted:
		err = decodeCheckout(raw.Data.Raw, &ev)
	case billing.EventInvoicePaymentSucceeded, billing.EventInvoicePaymentFailed:
		err = decodeInvoice(raw.Data.Raw, &ev)
	default:
		err = decodeSubscription(raw.Data.Raw, &ev)
	}
	if err != nil {
		return billing.Event{}, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, raw.ID, err)
	}
	return ev, nil
}

func decodeSubscription(data json.RawMessage, ev *billing.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return err
	}

	ev.SubscriptionID = sub.ID
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
		ev.Email = sub.Customer.Email
		ev.Name = sub.Customer.Name
	}
	ev.RawStatus = string(sub.Status)
	if status, ok := billing.MapProcessorStatus(ev.RawStatus); ok {
		ev.Status = status
	}
	ev.TrialEndsAt = unix(sub.TrialEnd)
	ev.PeriodEndsAt = unix(sub.CurrentPeriodEnd)
	ev.Tier = sub.Metadata["tier"]
	ev.Interval = billing.Interval(sub.Metadata["interval"])
	if !ev.Interval.Valid() {
		ev.Interval = recurringInterval(sub.Items)
	}
	return nil
}

func decodeInvoice(data json.RawMessage, ev *billing.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return err
	}

	if inv.Customer != nil {
		ev.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		ev.SubscriptionID = inv.Subscription.ID
	}
	ev.Email = inv.CustomerEmail
	ev.Name = inv.CustomerName
	ev.PeriodEndsAt = unix(inv.PeriodEnd)
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line.Period != nil && line.Period.End > 0 {
				ev.PeriodEndsAt = unix(line.Period.End)
				break
			}
		}
	}
	return nil
}

func decodeCheckout(data json.RawMessage, ev *billing.Event) error {
	var s stripe.CheckoutSession
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	if s.Customer != nil {
		ev.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		ev.SubscriptionID = s.Subscription.ID
		ev.TrialEndsAt = unix(s.Subscription.TrialEnd)
	}
	if s.CustomerDetails != nil {
		ev.Email = s.CustomerDetails.Email
		ev.Name = s.CustomerDetails.Name
	}
	if ev.Email == "" {
		ev.Email = s.CustomerEmail
	}
	ev.Tier = s.Metadata["tier"]
	ev.Interval = billing.Interval(s.Metadata["interval"])
	return nil
}

func recurringInterval(items *stripe.SubscriptionItemList) billing.Interval {
	if items == nil {
		return ""
	}
	for _, it := range items.Data {
		if it.Price == nil || it.Price.Recurring == nil {
			continue
		}
		switch it.Price.Recurring.Interval {
		case stripe.PriceRecurringIntervalMonth:
			return billing.IntervalMonthly
		case stripe.PriceRecurringIntervalYear:
			return billing.IntervalAnnual
		}
	}
	return ""
}
