package billing_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hearth/svc/billing"
	"github.com/dmitrymomot/hearth/svc/billing/memstore"
)

func activeSubscriber(t *testing.T, h *harness, email, customerID string) billing.Subscriber {
	t.Helper()
	return h.seed(t, billing.Subscriber{
		ID:                 "sbr_" + customerID,
		Email:              email,
		CanonicalEmail:     email,
		Name:               "Household",
		Status:             billing.StatusActive,
		TrialUsed:          true,
		ProviderCustomerID: customerID,
		ProviderSubID:      "sub_" + customerID,
	})
}

func TestGate_Ingest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("applies a redelivered event exactly once", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		sub := activeSubscriber(t, h, "home@example.com", "cus_dup")

		ev := billing.Event{ID: "evt_deleted_1", Type: billing.EventSubscriptionDeleted, CustomerID: "cus_dup"}

		outcome, err := h.gate.Ingest(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeProcessed, outcome)

		outcome, err = h.gate.Ingest(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeDuplicate, outcome)

		got := h.subscriber(t, sub.ID)
		assert.Equal(t, billing.StatusCanceled, got.Status)
		require.NotNil(t, got.CanceledAt)

		entries := h.ledger(t)
		require.Len(t, entries, 1)
		assert.Equal(t, "evt_deleted_1", entries[0].ExternalID)
		assert.Equal(t, billing.StatusActive, entries[0].StatusBefore)
		assert.Equal(t, billing.StatusCanceled, entries[0].StatusAfter)
		assert.Equal(t, sub.ID, entries[0].SubscriberID)
		assert.Empty(t, entries[0].Error)

		assert.Equal(t, 1, h.notifier.count(billing.NoticeCancellationConfirmed))
	})

	t.Run("concurrent deliveries produce one ledger row and one notice", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		activeSubscriber(t, h, "race@example.com", "cus_conc")
		ev := billing.Event{ID: "evt_deleted_2", Type: billing.EventSubscriptionDeleted, CustomerID: "cus_conc"}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			outcomes = map[billing.Outcome]int{}
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome, err := h.gate.Ingest(ctx, ev)
				assert.NoError(t, err)
				mu.Lock()
				outcomes[outcome]++
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, outcomes[billing.OutcomeProcessed])
		assert.Equal(t, 7, outcomes[billing.OutcomeDuplicate])
		assert.Len(t, h.ledger(t), 1)
		assert.Equal(t, 1, h.notifier.count(billing.NoticeCancellationConfirmed))
	})

	t.Run("requires an event id", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		_, err := h.gate.Ingest(ctx, billing.Event{Type: billing.EventSubscriptionDeleted})
		require.ErrorIs(t, err, billing.ErrValidation)
		assert.Empty(t, h.ledger(t))
	})

	t.Run("records events without a legal transition as ignored", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		sub := activeSubscriber(t, h, "ignored@example.com", "cus_ign")

		outcome, err := h.gate.Ingest(ctx, billing.Event{ID: "evt_twe", Type: billing.EventTrialWillEnd, CustomerID: "cus_ign"})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeIgnored, outcome)

		entries := h.ledger(t)
		require.Len(t, entries, 1)
		assert.NotEmpty(t, entries[0].Metadata["ignored"])
		assert.Equal(t, billing.StatusActive, entries[0].StatusAfter)
		assert.Empty(t, entries[0].Error)

		letters, err := h.store.ListDeadLetters(ctx, true)
		require.NoError(t, err)
		assert.Empty(t, letters)
		assert.Equal(t, billing.StatusActive, h.subscriber(t, sub.ID).Status)
		assert.Empty(t, h.notifier.notices)
	})

	t.Run("ignores events for unknown subscribers", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		for i, typ := range []billing.EventType{
			billing.EventInvoicePaymentFailed,
			billing.EventSubscriptionCreated,
			billing.EventSubscriptionDeleted,
		} {
			outcome, err := h.gate.Ingest(ctx, billing.Event{
				ID:         "evt_unknown_" + string(rune('a'+i)),
				Type:       typ,
				CustomerID: "cus_nobody",
				Status:     billing.StatusActive,
			})
			require.NoError(t, err)
			assert.Equal(t, billing.OutcomeIgnored, outcome, typ)
		}

		entries := h.ledger(t)
		require.Len(t, entries, 3)
		for _, e := range entries {
			assert.Empty(t, e.SubscriberID)
			assert.Empty(t, e.StatusBefore)
		}
	})

	t.Run("acknowledges handler faults and dead-letters them", func(t *testing.T) {
		t.Parallel()
		registry := prometheus.NewRegistry()
		metrics := billing.NewMetrics(registry)
		h := newHarness(t, billing.WithMetrics(metrics))
		sub := activeSubscriber(t, h, "fault@example.com", "cus_fault")

		ev := billing.Event{
			ID:         "evt_weird",
			Type:       billing.EventSubscriptionUpdated,
			CustomerID: "cus_fault",
			RawStatus:  "on_vacation",
			Payload:    []byte(`{"id":"evt_weird"}`),
		}
		outcome, err := h.gate.Ingest(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeFaulted, outcome)

		entries := h.ledger(t)
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].Error, "on_vacation")
		assert.Equal(t, "on_vacation", entries[0].Metadata["reported_status"])

		letters, err := h.store.ListDeadLetters(ctx, true)
		require.NoError(t, err)
		require.Len(t, letters, 1)
		assert.Equal(t, "evt_weird", letters[0].ExternalID)
		assert.JSONEq(t, `{"id":"evt_weird"}`, string(letters[0].Payload))

		assert.Equal(t, billing.StatusActive, h.subscriber(t, sub.ID).Status)
		require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP hearth_handler_faults_total Events whose handler failed and were dead-lettered
# TYPE hearth_handler_faults_total counter
hearth_handler_faults_total{type="subscription-updated"} 1
`), "hearth_handler_faults_total"))

		// A redelivery of a faulted event is a duplicate.
		outcome, err = h.gate.Ingest(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeDuplicate, outcome)

		require.NoError(t, h.store.ResolveDeadLetter(ctx, letters[0].ID, h.clock.Now()))
		letters, err = h.store.ListDeadLetters(ctx, true)
		require.NoError(t, err)
		assert.Empty(t, letters)
	})

	t.Run("dead-letters storage failures during apply", func(t *testing.T) {
		t.Parallel()
		h := newWrappedHarness(t, func(s *memstore.Store) billing.Store { return brokenUpdate{s} })
		sub := activeSubscriber(t, h, "broken@example.com", "cus_broken")

		outcome, err := h.gate.Ingest(ctx, billing.Event{ID: "evt_fail_1", Type: billing.EventInvoicePaymentFailed, CustomerID: "cus_broken"})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeFaulted, outcome)

		entries := h.ledger(t)
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].Error, "disk full")
		assert.Equal(t, billing.StatusActive, entries[0].StatusAfter)
		assert.Equal(t, billing.StatusActive, h.subscriber(t, sub.ID).Status)
		assert.Zero(t, h.notifier.count(billing.NoticePaymentFailed))

		letters, err := h.store.ListDeadLetters(ctx, false)
		require.NoError(t, err)
		assert.Len(t, letters, 1)
	})

	t.Run("returns ledger failures so the event is redelivered", func(t *testing.T) {
		t.Parallel()
		h := newWrappedHarness(t, func(s *memstore.Store) billing.Store { return brokenLedger{s} })
		activeSubscriber(t, h, "ledger@example.com", "cus_ledger")

		_, err := h.gate.Ingest(ctx, billing.Event{ID: "evt_l", Type: billing.EventInvoicePaymentFailed, CustomerID: "cus_ledger"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ledger unavailable")
	})

	t.Run("counts outcomes", func(t *testing.T) {
		t.Parallel()
		registry := prometheus.NewRegistry()
		metrics := billing.NewMetrics(registry)
		h := newHarness(t, billing.WithMetrics(metrics))
		activeSubscriber(t, h, "count@example.com", "cus_count")

		ev := billing.Event{ID: "evt_paid", Type: billing.EventInvoicePaymentSucceeded, CustomerID: "cus_count"}
		_, err := h.gate.Ingest(ctx, ev)
		require.NoError(t, err)
		_, err = h.gate.Ingest(ctx, ev)
		require.NoError(t, err)

		require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP hearth_events_total Inbound lifecycle events by type and outcome
# TYPE hearth_events_total counter
hearth_events_total{outcome="duplicate",type="invoice-payment-succeeded"} 1
hearth_events_total{outcome="processed",type="invoice-payment-succeeded"} 1
`), "hearth_events_total"))
	})

	t.Run("does not fail the event when the notice fails", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.notifier.err = errors.New("smtp down")
		sub := activeSubscriber(t, h, "notice@example.com", "cus_notice")

		outcome, err := h.gate.Ingest(ctx, billing.Event{ID: "evt_nf", Type: billing.EventInvoicePaymentFailed, CustomerID: "cus_notice"})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeProcessed, outcome)
		assert.Equal(t, billing.StatusPastDue, h.subscriber(t, sub.ID).Status)
		assert.Equal(t, 1, h.notifier.count(billing.NoticePaymentFailed))
	})
}

type brokenUpdate struct {
	*memstore.Store
}

func (s brokenUpdate) UpdateSubscriber(context.Context, billing.Subscriber) error {
	return errors.New("disk full")
}

func (s brokenUpdate) MarkCancelAtPeriodEnd(context.Context, string, string, time.Time) error {
	return errors.New("disk full")
}

type brokenLedger struct {
	*memstore.Store
}

func (s brokenLedger) EventRecorded(context.Context, string) (bool, error) {
	return false, errors.New("ledger unavailable")
}
