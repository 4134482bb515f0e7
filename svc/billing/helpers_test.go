package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/hearth/svc/billing"
	"github.com/dmitrymomot/hearth/svc/billing/memstore"
)

var start = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: start} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// processorMock implements billing.Processor.
type processorMock struct {
	mock.Mock
}

func (m *processorMock) CreateCustomer(ctx context.Context, p billing.CustomerParams) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *processorMock) AttachPaymentMethod(ctx context.Context, customerID, ref string) error {
	args := m.Called(ctx, customerID, ref)
	return args.Error(0)
}

func (m *processorMock) CreateTrialSubscription(ctx context.Context, p billing.TrialSubscriptionParams) (billing.SubscriptionRef, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(billing.SubscriptionRef), args.Error(1)
}

func (m *processorMock) CreateCheckoutSession(ctx context.Context, p billing.CheckoutParams) (billing.Session, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(billing.Session), args.Error(1)
}

func (m *processorMock) CreatePortalSession(ctx context.Context, customerID, returnURL string) (billing.Session, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.Get(0).(billing.Session), args.Error(1)
}

func (m *processorMock) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}

func (m *processorMock) CancelImmediately(ctx context.Context, subscriptionID string) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}

func (m *processorMock) ParseEvent(ctx context.Context, payload []byte, header http.Header) (billing.Event, error) {
	args := m.Called(ctx, payload, header)
	return args.Get(0).(billing.Event), args.Error(1)
}

// recordingNotifier stores every notice it is asked to send.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []billing.Notice
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, notice billing.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *recordingNotifier) count(kind billing.NoticeKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, notice := range n.notices {
		if notice.Kind == kind {
			c++
		}
	}
	return c
}

type catalog struct{}

func (catalog) PriceID(tier, interval string) (string, error) {
	if tier != "standard" && tier != "premium" {
		return "", errors.New("no such tier")
	}
	return "price_" + tier + "_" + interval, nil
}

func (catalog) HasTier(tier string) bool { return tier == "standard" || tier == "premium" }

// harness wires every billing service over one in-memory store.
type harness struct {
	clock     *clock
	store     *memstore.Store
	processor *processorMock
	notifier  *recordingNotifier
	detector  *billing.AbuseDetector
	lifecycle *billing.Lifecycle
	gate      *billing.Gate
	signup    *billing.SignupService
	account   *billing.AccountService
	sweeper   *billing.Sweeper
}

func newHarness(t *testing.T, opts ...billing.Option) *harness {
	t.Helper()
	return newWrappedHarness(t, nil, opts...)
}

// newWrappedHarness lets a test put a fault-injecting store in front of the
// in-memory one. Seeding and assertions still go to the underlying store.
func newWrappedHarness(t *testing.T, wrap func(*memstore.Store) billing.Store, opts ...billing.Option) *harness {
	t.Helper()

	h := &harness{
		clock:     newClock(),
		store:     memstore.New(),
		processor: &processorMock{},
		notifier:  &recordingNotifier{},
	}

	var store billing.Store = h.store
	if wrap != nil {
		store = wrap(h.store)
	}

	opts = append([]billing.Option{
		billing.WithClock(h.clock.Now),
		billing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	h.detector = billing.NewAbuseDetector(store, store, opts...)
	h.lifecycle = billing.NewLifecycle(store, store, opts...)
	h.gate = billing.NewGate(h.lifecycle, store, store, h.notifier, opts...)
	h.signup = billing.NewSignupService(h.detector, h.processor, catalog{}, store, h.notifier, opts...)
	h.account = billing.NewAccountService(store, store, h.processor, catalog{}, opts...)
	h.sweeper = billing.NewSweeper(h.gate, store, h.notifier, opts...)
	return h
}

// seed inserts a subscriber directly.
func (h *harness) seed(t *testing.T, sub billing.Subscriber) billing.Subscriber {
	t.Helper()
	if sub.ID == "" {
		sub.ID = "sbr_" + sub.CanonicalEmail
	}
	if sub.Status == "" {
		sub.Status = billing.StatusTrialing
	}
	if sub.Tier == "" {
		sub.Tier = "standard"
	}
	if sub.Interval == "" {
		sub.Interval = billing.IntervalMonthly
	}
	if err := h.store.CreateSubscriber(context.Background(), sub); err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}
	return sub
}

func (h *harness) subscriber(t *testing.T, id string) billing.Subscriber {
	t.Helper()
	sub, err := h.store.GetSubscriber(context.Background(), id)
	if err != nil {
		t.Fatalf("get subscriber: %v", err)
	}
	return sub
}

func (h *harness) ledger(t *testing.T) []billing.LedgerEntry {
	t.Helper()
	entries, err := h.store.ListEvents(context.Background(), "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	return entries
}

func timePtr(t time.Time) *time.Time { return &t }
