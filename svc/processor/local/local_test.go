package local_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hearth/pkg/webhook"
	"github.com/dmitrymomot/hearth/svc/billing"
	"github.com/dmitrymomot/hearth/svc/processor/local"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newProcessor(t *testing.T) *local.Processor {
	t.Helper()
	p, err := local.New(local.Config{
		WebhookSecret: "dev-secret",
		Tolerance:     5 * time.Minute,
		PortalURL:     "http://localhost:8080/dev/portal",
	}, local.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return p
}

func TestNew_RequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := local.New(local.Config{})
	assert.ErrorIs(t, err, local.ErrMissingSecret)
}

func TestProcessor_TrialFlow(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	ctx := context.Background()

	cid, err := p.CreateCustomer(ctx, billing.CustomerParams{Email: "a@example.com", IdempotencyKey: "customer-1"})
	require.NoError(t, err)
	again, err := p.CreateCustomer(ctx, billing.CustomerParams{Email: "a@example.com", IdempotencyKey: "customer-1"})
	require.NoError(t, err)
	assert.Equal(t, cid, again)

	require.NoError(t, p.AttachPaymentMethod(ctx, cid, "pm_card_visa"))
	assert.ErrorIs(t, p.AttachPaymentMethod(ctx, "cus_missing", "pm"), billing.ErrProcessor)

	ref, err := p.CreateTrialSubscription(ctx, billing.TrialSubscriptionParams{CustomerID: cid, PriceID: "price", TrialDays: 14, IdempotencyKey: "trial-1"})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusTrialing, ref.Status)
	require.NotNil(t, ref.TrialEndsAt)
	assert.Equal(t, now.AddDate(0, 0, 14), *ref.TrialEndsAt)

	dup, err := p.CreateTrialSubscription(ctx, billing.TrialSubscriptionParams{CustomerID: cid, PriceID: "price", TrialDays: 14, IdempotencyKey: "trial-1"})
	require.NoError(t, err)
	assert.Equal(t, ref.ID, dup.ID)

	require.NoError(t, p.CancelAtPeriodEnd(ctx, ref.ID))
	status, atPeriodEnd, err := p.SubscriptionStatus(ref.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusTrialing, status)
	assert.True(t, atPeriodEnd)

	require.NoError(t, p.CancelImmediately(ctx, ref.ID))
	status, _, err = p.SubscriptionStatus(ref.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, status)

	assert.ErrorIs(t, p.CancelImmediately(ctx, "sub_missing"), billing.ErrProcessor)
}

func TestProcessor_Sessions(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	ctx := context.Background()

	s, err := p.CreateCheckoutSession(ctx, billing.CheckoutParams{SuccessURL: "https://app.example/done?x=1", PriceID: "price"})
	require.NoError(t, err)
	u, err := url.Parse(s.URL)
	require.NoError(t, err)
	assert.Equal(t, s.ID, u.Query().Get("session_id"))
	assert.Equal(t, "1", u.Query().Get("x"))

	cid, err := p.CreateCustomer(ctx, billing.CustomerParams{Email: "b@example.com"})
	require.NoError(t, err)
	portal, err := p.CreatePortalSession(ctx, cid, "https://app.example/account")
	require.NoError(t, err)
	assert.Contains(t, portal.URL, "customer="+cid)

	_, err = p.CreatePortalSession(ctx, "cus_missing", "https://app.example")
	assert.ErrorIs(t, err, billing.ErrProcessor)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.CreateCustomer(canceled, billing.CustomerParams{Email: "c@example.com"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessor_ParseEvent(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	ctx := context.Background()

	payload, sig, err := p.Sign(local.Event{
		ID:         "evt_1",
		Type:       string(billing.EventSubscriptionUpdated),
		CustomerID: "cus_1",
		Status:     "past_due",
	})
	require.NoError(t, err)

	h := http.Header{}
	h.Set(webhook.SignatureHeader, sig)

	ev, err := p.ParseEvent(ctx, payload, h)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, billing.EventSubscriptionUpdated, ev.Type)
	assert.Equal(t, billing.StatusPastDue, ev.Status)
	assert.Equal(t, now, ev.OccurredAt)

	t.Run("tampered", func(t *testing.T) {
		_, err := p.ParseEvent(ctx, append(payload, ' '), h)
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("missing id", func(t *testing.T) {
		payload, sig, err := p.Sign(local.Event{Type: "invoice-payment-failed"})
		require.NoError(t, err)
		h := http.Header{}
		h.Set(webhook.SignatureHeader, sig)
		_, err = p.ParseEvent(ctx, payload, h)
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("unknown status kept raw", func(t *testing.T) {
		payload, sig, err := p.Sign(local.Event{ID: "evt_2", Type: "subscription-updated", Status: "weird"})
		require.NoError(t, err)
		h := http.Header{}
		h.Set(webhook.SignatureHeader, sig)
		ev, err := p.ParseEvent(ctx, payload, h)
		require.NoError(t, err)
		assert.Empty(t, ev.Status)
		assert.Equal(t, "weird", ev.RawStatus)
	})
}
