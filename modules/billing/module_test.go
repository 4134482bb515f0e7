package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hearth/handler"
	billingmod "github.com/dmitrymomot/hearth/modules/billing"
	"github.com/dmitrymomot/hearth/pkg/jwt"
	"github.com/dmitrymomot/hearth/pkg/ratelimiter"
	"github.com/dmitrymomot/hearth/pkg/webhook"
	"github.com/dmitrymomot/hearth/svc/billing"
	"github.com/dmitrymomot/hearth/svc/billing/memstore"
	"github.com/dmitrymomot/hearth/svc/catalog"
	"github.com/dmitrymomot/hearth/svc/processor/local"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const catalogYAML = `
tiers:
  standard:
    name: Standard
    prices:
      monthly: price_std_m
      annual: price_std_y
`

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []billing.NoticeKind
}

func (n *recordingNotifier) Notify(_ context.Context, notice billing.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, notice.Kind)
	return nil
}

func (n *recordingNotifier) Kinds() []billing.NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]billing.NoticeKind(nil), n.kinds...)
}

type env struct {
	server    *httptest.Server
	store     *memstore.Store
	processor *local.Processor
	notifier  *recordingNotifier
}

func newEnv(t *testing.T, opts ...billingmod.Option) *env {
	t.Helper()

	clock := func() time.Time { return now }
	store := memstore.New()
	notifier := &recordingNotifier{}

	prices, err := catalog.Parse([]byte(catalogYAML))
	require.NoError(t, err)

	processor, err := local.New(local.Config{
		WebhookSecret: "whsec_local",
		Tolerance:     5 * time.Minute,
		PortalURL:     "http://billing.test/portal",
	}, local.WithClock(clock))
	require.NoError(t, err)

	tokens, err := jwt.New(jwt.Config{Secret: "jwt-secret", Issuer: "hearth", TTL: time.Hour}, jwt.WithClock(clock))
	require.NoError(t, err)

	svcOpts := []billing.Option{billing.WithClock(clock)}
	detector := billing.NewAbuseDetector(store, store, svcOpts...)
	lifecycle := billing.NewLifecycle(store, store, svcOpts...)

	mod := billingmod.New(billingmod.Config{
		CheckoutSuccessURL: "http://app.test/welcome",
		CheckoutCancelURL:  "http://app.test/pricing",
		PortalReturnURL:    "http://app.test/account",
		MaxEventBytes:      1024,
	}, billingmod.Deps{
		Signup:    billing.NewSignupService(detector, processor, prices, store, notifier, svcOpts...),
		Accounts:  billing.NewAccountService(store, store, processor, prices, svcOpts...),
		Gate:      billing.NewGate(lifecycle, store, store, notifier, svcOpts...),
		Processor: processor,
		Tokens:    tokens,
	}, opts...)

	srv := httptest.NewServer(mod.Handle())
	t.Cleanup(srv.Close)

	return &env{server: srv, store: store, processor: processor, notifier: notifier}
}

func (e *env) do(t *testing.T, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (e *env) deliver(t *testing.T, ev local.Event) (*http.Response, map[string]any) {
	t.Helper()

	payload, sig, err := e.processor.Sign(ev)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/event-delivery", strings.NewReader(string(payload)))
	require.NoError(t, err)
	req.Header.Set(webhook.SignatureHeader, sig)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

const signupBody = `{"email":"jane.doe@gmail.com","name":"Jane","billingInterval":"monthly",
	"paymentMethodRef":"pm_card_visa","termsAccepted":true,"deviceFingerprint":"device-1"}`

func (e *env) signup(t *testing.T) (subscriberID, token string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/trial-signup", "", signupBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["subscriberId"].(string), body["accessToken"].(string)
}

func TestTrialSignup(t *testing.T) {
	t.Parallel()

	t.Run("creates trial and issues token", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		resp, body := e.do(t, http.MethodPost, "/trial-signup", "", signupBody)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.NotEmpty(t, body["subscriberId"])
		assert.NotEmpty(t, body["accessToken"])

		trialEnds, err := time.Parse(time.RFC3339, body["trialEndsAt"].(string))
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, 14), trialEnds)

		assert.Equal(t, []billing.NoticeKind{billing.NoticeTrialWelcome}, e.notifier.Kinds())
	})

	t.Run("second trial for the same mailbox is blocked", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.signup(t)

		resp, body := e.do(t, http.MethodPost, "/trial-signup", "", strings.Replace(signupBody, "jane.doe@gmail.com", "JaneDoe+again@googlemail.com", 1))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "trial_unavailable", body["error"])
		assert.Equal(t, billing.ReasonTrialUsed, body["reason"])
	})

	t.Run("validation errors", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		resp, body := e.do(t, http.MethodPost, "/trial-signup", "",
			`{"email":"not-an-email","name":"","billingInterval":"weekly","paymentMethodRef":"pm","termsAccepted":false}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		details, ok := body["details"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, details, "email")
		assert.Contains(t, details, "billingInterval")
		assert.Contains(t, details, "termsAccepted")
		assert.Empty(t, e.store.Attempts())
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		resp, _ := e.do(t, http.MethodPost, "/trial-signup", "", `{"email":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()

		store := ratelimiter.NewMemoryStore()
		t.Cleanup(store.Close)
		bucket, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Hour})
		require.NoError(t, err)

		e := newEnv(t, billingmod.WithSignupLimiter(bucket))
		e.signup(t)

		resp, body := e.do(t, http.MethodPost, "/trial-signup", "", signupBody)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "too_many_requests", body["error"])
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	})
}

func TestAuthenticatedEndpoints(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	subscriberID, token := e.signup(t)

	t.Run("status requires a token", func(t *testing.T) {
		resp, body := e.do(t, http.MethodGet, "/status", "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "unauthorized", body["error"])

		resp, _ = e.do(t, http.MethodGet, "/status", "not-a-jwt", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("status", func(t *testing.T) {
		resp, body := e.do(t, http.MethodGet, "/status", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "standard", body["tier"])
		assert.Equal(t, "trialing", body["status"])
		assert.InDelta(t, 14, body["trialDaysRemaining"], 0)
		assert.InDelta(t, 0, body["graceDaysRemaining"], 0)
	})

	t.Run("portal session", func(t *testing.T) {
		resp, body := e.do(t, http.MethodPost, "/billing-portal-session", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body["url"], "http://billing.test/portal")
	})

	t.Run("cancel", func(t *testing.T) {
		resp, body := e.do(t, http.MethodPost, "/cancel", token, `{"reason":"moving abroad"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["cancelAtPeriodEnd"])
		assert.Equal(t, "trialing", body["status"])

		sub, err := e.store.GetSubscriber(context.Background(), subscriberID)
		require.NoError(t, err)
		_, atPeriodEnd, err := e.processor.SubscriptionStatus(sub.ProviderSubID)
		require.NoError(t, err)
		assert.True(t, atPeriodEnd)

		require.Len(t, e.store.Feedback(), 1)
		assert.Equal(t, "moving abroad", e.store.Feedback()[0].Reason)
	})
}

func TestCheckoutSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/create-checkout-session", "", `{"email":"new@example.com","tier":"standard","billingInterval":"annual"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["url"], "http://app.test/welcome?session_id=")

	resp, body = e.do(t, http.MethodPost, "/create-checkout-session", "", `{"tier":"gold","billingInterval":"annual"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", body["error"])
}

func TestEventDelivery(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	subscriberID, token := e.signup(t)
	sub, err := e.store.GetSubscriber(context.Background(), subscriberID)
	require.NoError(t, err)

	failed := local.Event{
		ID:             "evt_payment_failed_1",
		Type:           string(billing.EventInvoicePaymentFailed),
		CustomerID:     sub.ProviderCustomerID,
		SubscriptionID: sub.ProviderSubID,
	}

	t.Run("applies event", func(t *testing.T) {
		resp, body := e.deliver(t, failed)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["received"])
		assert.Equal(t, string(billing.OutcomeProcessed), body["outcome"])

		_, status := e.do(t, http.MethodGet, "/status", token, "")
		assert.Equal(t, "past_due", status["status"])
		assert.InDelta(t, 3, status["graceDaysRemaining"], 0)
	})

	t.Run("redelivery is acknowledged once", func(t *testing.T) {
		resp, body := e.deliver(t, failed)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(billing.OutcomeDuplicate), body["outcome"])

		events, err := e.store.ListEvents(context.Background(), subscriberID)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("bad signature is rejected without ledger write", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, e.server.URL+"/event-delivery",
			strings.NewReader(`{"id":"evt_forged","type":"subscription-deleted","customer_id":"`+sub.ProviderCustomerID+`"}`))
		require.NoError(t, err)
		req.Header.Set(webhook.SignatureHeader, "t=1,v1=deadbeef")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var body handler.ErrorBody
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_signature", body.Code)

		recorded, err := e.store.EventRecorded(context.Background(), "evt_forged")
		require.NoError(t, err)
		assert.False(t, recorded)
	})

	t.Run("oversized body", func(t *testing.T) {
		resp, _ := e.deliver(t, local.Event{ID: "evt_big", Type: "subscription-updated", Name: strings.Repeat("x", 2048)})
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})

	t.Run("handler fault is acknowledged", func(t *testing.T) {
		resp, body := e.deliver(t, local.Event{
			ID:         "evt_weird_status",
			Type:       string(billing.EventSubscriptionUpdated),
			CustomerID: sub.ProviderCustomerID,
			Status:     "exotic",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(billing.OutcomeFaulted), body["outcome"])

		letters, err := e.store.ListDeadLetters(context.Background(), true)
		require.NoError(t, err)
		require.Len(t, letters, 1)
		assert.Equal(t, "evt_weird_status", letters[0].ExternalID)
	})
}
