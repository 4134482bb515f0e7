package billing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hearth/svc/billing"
)

func TestAbuseDetector_Check(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("blocks a tagged variation of a mailbox that already had a trial", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, billing.Subscriber{
			Email:          "janedoe@gmail.com",
			CanonicalEmail: "janedoe@gmail.com",
			TrialUsed:      true,
		})

		v, err := h.detector.Check(ctx, billing.SignupCandidate{Email: "jane.doe+promo@gmail.com", IP: "203.0.113.7"})
		require.NoError(t, err)
		assert.True(t, v.Blocked)
		assert.Equal(t, billing.ReasonTrialUsed, v.Reason)
		assert.Equal(t, "canonical_email", v.Rule)

		err = v.Err()
		assert.ErrorIs(t, err, billing.ErrAbuseBlocked)
		assert.ErrorIs(t, err, billing.ErrTrialAlreadyUsed)
		assert.Equal(t, "trial already used", err.Error())

		attempts := h.store.Attempts()
		require.Len(t, attempts, 1)
		assert.False(t, attempts[0].Success)
		assert.Equal(t, "janedoe@gmail.com", attempts[0].CanonicalEmail)
		assert.Equal(t, billing.ReasonTrialUsed, attempts[0].BlockReason)
	})

	t.Run("matches legacy rows stored under a literal address", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, billing.Subscriber{
			ID:             "sbr_legacy",
			Email:          "jdoe+trial@gmail.com",
			CanonicalEmail: "legacy:jdoe+trial@gmail.com",
			TrialUsed:      true,
		})

		v, err := h.detector.Check(ctx, billing.SignupCandidate{Email: "J.Doe@gmail.com"})
		require.NoError(t, err)
		assert.True(t, v.Blocked)
		assert.Equal(t, "email_variation", v.Rule)
	})

	t.Run("ignores subscribers whose trial flag is not set", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, billing.Subscriber{
			Email:          "janedoe@gmail.com",
			CanonicalEmail: "janedoe@gmail.com",
		})

		v, err := h.detector.Check(ctx, billing.SignupCandidate{Email: "janedoe@gmail.com"})
		require.NoError(t, err)
		assert.False(t, v.Blocked)
		assert.NoError(t, v.Err())
	})

	t.Run("blocks the fourth distinct mailbox from one network", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		const ip = "198.51.100.20"

		for i := range 3 {
			c := billing.SignupCandidate{Email: fmt.Sprintf("user%d@example.com", i), IP: ip}
			v, err := h.detector.Check(ctx, c)
			require.NoError(t, err)
			require.False(t, v.Blocked, "signup %d", i)
			require.NoError(t, h.detector.Record(ctx, c, true, ""))
			h.clock.Advance(24 * time.Hour)
		}

		v, err := h.detector.Check(ctx, billing.SignupCandidate{Email: "user3@example.com", IP: ip})
		require.NoError(t, err)
		assert.True(t, v.Blocked)
		assert.Equal(t, "ip_velocity", v.Rule)
		assert.Equal(t, billing.ReasonNetworkVelocity, v.Reason)
		assert.ErrorIs(t, v.Err(), billing.ErrAbuseBlocked)
		assert.NotErrorIs(t, v.Err(), billing.ErrTrialAlreadyUsed)
	})

	t.Run("counts a repeated mailbox once", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		const ip = "198.51.100.21"

		for _, email := range []string{"a@example.com", "A@example.com", "a+x@example.com", "b@example.com"} {
			require.NoError(t, h.detector.Record(ctx, billing.SignupCandidate{Email: email, IP: ip}, true, ""))
		}

		v, err := h.detector.Check(ctx, billing.SignupCandidate{Email: "c@example.com", IP: ip})
		require.NoError(t, err)
		assert.False(t, v.Blocked)
	})

	t.Run("ignores failed attempts and attempts outside the window", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		const ip = "198.51.100.22"

		require.NoError(t, h.detector.Record(ctx, billing.SignupCandidate{Email: "old1@example.com", IP: ip}, true, ""))
		require.NoError(t, h.detector.Record(ctx, billing.SignupCandidate{Email: "old2@example.com", IP: ip}, true, ""))
		h.clock.Advance(8 * 24 * time.Hour)
		require.NoError(t, h.detector.Record(ctx, billing.SignupCandidate{Email: "new1@example.com", IP: ip}, true, ""))
		require.NoError(t, h.detector.Record(ctx, billing.SignupCandidate{Email: "new2@example.com", IP: ip}, false, "processor_error"))

		v, err := h.detector.Check(ctx, billing.SignupCandidate{Email: "new3@example.com", IP: ip})
		require.NoError(t, err)
		assert.False(t, v.Blocked)
	})

	t.Run("blocks on the device fingerprint when the network differs", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		const fp = "fp-7c1e"

		for i := range 3 {
			c := billing.SignupCandidate{
				Email:       fmt.Sprintf("d%d@example.com", i),
				IP:          fmt.Sprintf("192.0.2.%d", i+1),
				Fingerprint: fp,
			}
			require.NoError(t, h.detector.Record(ctx, c, true, ""))
		}

		v, err := h.detector.Check(ctx, billing.SignupCandidate{Email: "d9@example.com", IP: "192.0.2.99", Fingerprint: fp})
		require.NoError(t, err)
		assert.True(t, v.Blocked)
		assert.Equal(t, "device_velocity", v.Rule)
		assert.Equal(t, billing.ReasonDeviceVelocity, v.Reason)
	})

	t.Run("skips velocity rules without network or device data", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		for i := range 5 {
			require.NoError(t, h.detector.Record(ctx, billing.SignupCandidate{Email: fmt.Sprintf("n%d@example.com", i)}, true, ""))
		}

		v, err := h.detector.Check(ctx, billing.SignupCandidate{Email: "n9@example.com"})
		require.NoError(t, err)
		assert.False(t, v.Blocked)
	})

	t.Run("respects a custom threshold", func(t *testing.T) {
		t.Parallel()
		cfg := billing.DefaultConfig()
		cfg.AbuseThreshold = 1
		h := newHarness(t, billing.WithConfig(cfg))

		require.NoError(t, h.detector.Record(ctx, billing.SignupCandidate{Email: "one@example.com", IP: "192.0.2.50"}, true, ""))

		v, err := h.detector.Check(ctx, billing.SignupCandidate{Email: "two@example.com", IP: "192.0.2.50"})
		require.NoError(t, err)
		assert.True(t, v.Blocked)
	})
}

func TestBlockedError(t *testing.T) {
	t.Parallel()

	err := error(&billing.BlockedError{Rule: "ip_velocity", Reason: billing.ReasonNetworkVelocity})
	assert.ErrorIs(t, err, billing.ErrAbuseBlocked)
	assert.False(t, errors.Is(err, billing.ErrTrialAlreadyUsed))

	var blocked *billing.BlockedError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &blocked)
	assert.Equal(t, "ip_velocity", blocked.Rule)
}
