// Package storetest is a behavioral test suite shared by billing.Store
// implementations. Every case uses fresh identifiers so it can run against a
// shared database.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hearth/pkg/id"
	"github.com/dmitrymomot/hearth/svc/billing"
)

// Run exercises store against the billing.Store contract.
func Run(t *testing.T, store billing.Store) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	newSubscriber := func() billing.Subscriber {
		key := uuid.NewString()
		return billing.Subscriber{
			ID:                 id.NewSubscriberID(),
			Email:              key + "@Example.com",
			CanonicalEmail:     key + "@example.com",
			Name:               "Household " + key[:8],
			Status:             billing.StatusTrialing,
			Tier:               "standard",
			Interval:           billing.IntervalMonthly,
			TrialStartsAt:      &now,
			TrialUsed:          true,
			ProviderCustomerID: "cus_" + key,
			ProviderSubID:      "sub_" + key,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
	}

	t.Run("subscriber round trip", func(t *testing.T) {
		sub := newSubscriber()
		ends := now.Add(14 * 24 * time.Hour)
		sub.TrialEndsAt = &ends
		require.NoError(t, store.CreateSubscriber(ctx, sub))

		got, err := store.GetSubscriber(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.Email, got.Email)
		assert.Equal(t, sub.CanonicalEmail, got.CanonicalEmail)
		assert.Equal(t, billing.StatusTrialing, got.Status)
		assert.True(t, ends.Equal(*got.TrialEndsAt))
		assert.Nil(t, got.GracePeriodEndsAt)

		byCustomer, err := store.GetSubscriberByCustomer(ctx, sub.ProviderCustomerID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, byCustomer.ID)

		_, err = store.GetSubscriber(ctx, id.NewSubscriberID())
		assert.ErrorIs(t, err, billing.ErrSubscriberNotFound)
		_, err = store.GetSubscriberByCustomer(ctx, "cus_"+uuid.NewString())
		assert.ErrorIs(t, err, billing.ErrSubscriberNotFound)
	})

	t.Run("canonical email is unique", func(t *testing.T) {
		first := newSubscriber()
		require.NoError(t, store.CreateSubscriber(ctx, first))

		second := newSubscriber()
		second.CanonicalEmail = first.CanonicalEmail
		assert.ErrorIs(t, store.CreateSubscriber(ctx, second), billing.ErrDuplicateSubscriber)
	})

	t.Run("update keeps the trial flag one way", func(t *testing.T) {
		sub := newSubscriber()
		require.NoError(t, store.CreateSubscriber(ctx, sub))

		grace := now.Add(72 * time.Hour)
		sub.TrialUsed = false
		sub.Status = billing.StatusPastDue
		sub.GracePeriodEndsAt = &grace
		require.NoError(t, store.UpdateSubscriber(ctx, sub))

		got, err := store.GetSubscriber(ctx, sub.ID)
		require.NoError(t, err)
		assert.True(t, got.TrialUsed)
		assert.Equal(t, billing.StatusPastDue, got.Status)
		assert.True(t, grace.Equal(*got.GracePeriodEndsAt))

		missing := newSubscriber()
		assert.ErrorIs(t, store.UpdateSubscriber(ctx, missing), billing.ErrSubscriberNotFound)
	})

	t.Run("cancel flag leaves status and grace alone", func(t *testing.T) {
		sub := newSubscriber()
		require.NoError(t, store.CreateSubscriber(ctx, sub))

		grace := now.Add(72 * time.Hour)
		sub.Status = billing.StatusPastDue
		sub.GracePeriodEndsAt = &grace
		require.NoError(t, store.UpdateSubscriber(ctx, sub))

		at := now.Add(time.Hour)
		require.NoError(t, store.MarkCancelAtPeriodEnd(ctx, sub.ID, "moving", at))

		got, err := store.GetSubscriber(ctx, sub.ID)
		require.NoError(t, err)
		assert.True(t, got.CancelAtPeriodEnd)
		assert.Equal(t, "moving", got.CancelReason)
		assert.Equal(t, billing.StatusPastDue, got.Status)
		require.NotNil(t, got.GracePeriodEndsAt)
		assert.True(t, grace.Equal(*got.GracePeriodEndsAt))
		assert.True(t, at.Equal(got.UpdatedAt))

		assert.ErrorIs(t, store.MarkCancelAtPeriodEnd(ctx, id.NewSubscriberID(), "", at), billing.ErrSubscriberNotFound)
	})

	t.Run("trial usage matches canonical or literal addresses", func(t *testing.T) {
		sub := newSubscriber()
		require.NoError(t, store.CreateSubscriber(ctx, sub))

		used, err := store.TrialUsedByAny(ctx, []string{sub.CanonicalEmail})
		require.NoError(t, err)
		assert.True(t, used)

		used, err = store.TrialUsedByAny(ctx, []string{uuid.NewString() + "@example.com"})
		require.NoError(t, err)
		assert.False(t, used)
	})

	t.Run("grace and trial queries", func(t *testing.T) {
		overdue := newSubscriber()
		overdue.Status = billing.StatusPastDue
		past := now.Add(-time.Hour)
		overdue.GracePeriodEndsAt = &past
		require.NoError(t, store.CreateSubscriber(ctx, overdue))

		expired, err := store.ListGraceExpired(ctx, now)
		require.NoError(t, err)
		assert.Contains(t, ids(expired), overdue.ID)

		trial := newSubscriber()
		ends := now.Add(3 * 24 * time.Hour)
		trial.TrialEndsAt = &ends
		require.NoError(t, store.CreateSubscriber(ctx, trial))

		ending, err := store.ListTrialsEndingBetween(ctx, ends.Add(-time.Minute), ends.Add(time.Minute))
		require.NoError(t, err)
		assert.Contains(t, ids(ending), trial.ID)

		ending, err = store.ListTrialsEndingBetween(ctx, ends.Add(time.Minute), ends.Add(time.Hour))
		require.NoError(t, err)
		assert.NotContains(t, ids(ending), trial.ID)
	})

	t.Run("ledger rejects a second row for one external id", func(t *testing.T) {
		sub := newSubscriber()
		require.NoError(t, store.CreateSubscriber(ctx, sub))

		entry := billing.LedgerEntry{
			ID:           uuid.NewString(),
			ExternalID:   "evt_" + uuid.NewString(),
			Type:         billing.EventInvoicePaymentFailed,
			SubscriberID: sub.ID,
			StatusBefore: billing.StatusActive,
			StatusAfter:  billing.StatusPastDue,
			Metadata:     map[string]string{"customer_id": sub.ProviderCustomerID},
			CreatedAt:    now,
		}

		seen, err := store.EventRecorded(ctx, entry.ExternalID)
		require.NoError(t, err)
		assert.False(t, seen)

		require.NoError(t, store.AppendEvent(ctx, entry))
		dup := entry
		dup.ID = uuid.NewString()
		assert.ErrorIs(t, store.AppendEvent(ctx, dup), billing.ErrDuplicateEvent)

		seen, err = store.EventRecorded(ctx, entry.ExternalID)
		require.NoError(t, err)
		assert.True(t, seen)

		events, err := store.ListEvents(ctx, sub.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, entry.ExternalID, events[0].ExternalID)
		assert.Equal(t, billing.StatusPastDue, events[0].StatusAfter)
		assert.Equal(t, sub.ProviderCustomerID, events[0].Metadata["customer_id"])
	})

	t.Run("signup attempts count distinct successful mailboxes", func(t *testing.T) {
		ip := "ip-" + uuid.NewString()
		fp := "fp-" + uuid.NewString()
		record := func(canonical string, success bool, at time.Time) {
			require.NoError(t, store.RecordSignupAttempt(ctx, billing.SignupAttempt{
				Email:          canonical,
				CanonicalEmail: canonical,
				IP:             ip,
				Fingerprint:    fp,
				Success:        success,
				CreatedAt:      at,
			}))
		}
		record("a@example.com", true, now)
		record("a@example.com", true, now)
		record("b@example.com", true, now)
		record("c@example.com", false, now)
		record("d@example.com", true, now.Add(-30*24*time.Hour))

		n, err := store.CountDistinctEmailsByIP(ctx, ip, now.Add(-7*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.CountDistinctEmailsByFingerprint(ctx, fp, now.Add(-7*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		purged, err := store.PurgeSignupAttempts(ctx, now.Add(-29*24*time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, purged, int64(1))

		n, err = store.CountDistinctEmailsByIP(ctx, ip, now.Add(-60*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("notice markers are created once", func(t *testing.T) {
		sub := newSubscriber()
		require.NoError(t, store.CreateSubscriber(ctx, sub))

		created, err := store.MarkNoticeSent(ctx, sub.ID, billing.NoticePreChargeReminder, now)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = store.MarkNoticeSent(ctx, sub.ID, billing.NoticePreChargeReminder, now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, created)

		sent, err := store.NoticeSent(ctx, sub.ID, billing.NoticePreChargeReminder)
		require.NoError(t, err)
		assert.True(t, sent)

		sent, err = store.NoticeSent(ctx, sub.ID, billing.NoticeAccountSuspended)
		require.NoError(t, err)
		assert.False(t, sent)
	})

	t.Run("feedback and dead letters", func(t *testing.T) {
		sub := newSubscriber()
		require.NoError(t, store.CreateSubscriber(ctx, sub))
		require.NoError(t, store.AddCancellationFeedback(ctx, billing.CancellationFeedback{
			SubscriberID: sub.ID,
			Reason:       "moving",
			CreatedAt:    now,
		}))

		letter := billing.DeadLetter{
			ID:         uuid.NewString(),
			ExternalID: "evt_" + uuid.NewString(),
			Type:       billing.EventSubscriptionUpdated,
			Payload:    []byte(`{}`),
			Error:      "boom",
			CreatedAt:  now,
		}
		require.NoError(t, store.AddDeadLetter(ctx, letter))

		open, err := store.ListDeadLetters(ctx, true)
		require.NoError(t, err)
		assert.Contains(t, letterIDs(open), letter.ID)

		require.NoError(t, store.ResolveDeadLetter(ctx, letter.ID, now))
		assert.ErrorIs(t, store.ResolveDeadLetter(ctx, uuid.NewString(), now), billing.ErrDeadLetterNotFound)

		open, err = store.ListDeadLetters(ctx, true)
		require.NoError(t, err)
		assert.NotContains(t, letterIDs(open), letter.ID)

		all, err := store.ListDeadLetters(ctx, false)
		require.NoError(t, err)
		assert.Contains(t, letterIDs(all), letter.ID)
	})
}

func ids(subs []billing.Subscriber) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ID)
	}
	return out
}

func letterIDs(letters []billing.DeadLetter) []string {
	out := make([]string, 0, len(letters))
	for _, d := range letters {
		out = append(out, d.ID)
	}
	return out
}
