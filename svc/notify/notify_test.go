package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hearth/pkg/email"
	"github.com/dmitrymomot/hearth/pkg/webhook"
	"github.com/dmitrymomot/hearth/svc/billing"
	"github.com/dmitrymomot/hearth/svc/notify"
)

type senderMock struct{ mock.Mock }

func (m *senderMock) Send(ctx context.Context, msg email.Message) error {
	return m.Called(ctx, msg).Error(0)
}

var brand = notify.Brand{Product: "Hearth", AccountURL: "https://hearth.example/account", SupportEmail: "help@hearth.example"}

func notice(kind billing.NoticeKind) billing.Notice {
	trialEnds := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	grace := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	return billing.Notice{
		Kind:         kind,
		SubscriberID: "sbr_01",
		Email:        "jane@example.com",
		Name:         "Jane <script>",
		Tier:         "premium",
		TrialEndsAt:  &trialEnds,
		GraceEndsAt:  &grace,
	}
}

func TestEmailNotifierRendersEveryKind(t *testing.T) {
	t.Parallel()

	n := notify.NewEmailNotifier(&senderMock{}, brand)
	kinds := []billing.NoticeKind{
		billing.NoticeTrialWelcome,
		billing.NoticePreChargeReminder,
		billing.NoticePaymentFailed,
		billing.NoticeSubscriptionActive,
		billing.NoticeCancellationConfirmed,
		billing.NoticeAccountSuspended,
	}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()
			msg, err := n.Render(context.Background(), notice(kind))
			require.NoError(t, err)

			require.NoError(t, msg.Validate())
			assert.Equal(t, "jane@example.com", msg.To)
			assert.Equal(t, string(kind), msg.Tag)
			assert.Contains(t, msg.HTMLBody, "<!doctype html>")
			assert.Contains(t, msg.HTMLBody, "Jane &lt;script&gt;")
			assert.NotContains(t, msg.HTMLBody, "<script>")
			assert.Contains(t, msg.TextBody, "help@hearth.example")
		})
	}
}

func TestEmailNotifierCopy(t *testing.T) {
	t.Parallel()

	n := notify.NewEmailNotifier(&senderMock{}, brand)

	msg, err := n.Render(context.Background(), notice(billing.NoticePreChargeReminder))
	require.NoError(t, err)
	assert.Equal(t, "Your Hearth trial ends on Monday, 16 March 2026", msg.Subject)
	assert.Contains(t, msg.TextBody, "Premium plan")
	assert.Contains(t, msg.TextBody, "Review your plan: https://hearth.example/account")

	msg, err = n.Render(context.Background(), notice(billing.NoticePaymentFailed))
	require.NoError(t, err)
	assert.Contains(t, msg.TextBody, "by Thursday, 5 March 2026")

	noDates := notice(billing.NoticeSubscriptionActive)
	noDates.Name = ""
	msg, err = n.Render(context.Background(), noDates)
	require.NoError(t, err)
	assert.Contains(t, msg.TextBody, "Hi there")
	assert.Contains(t, msg.TextBody, "next billing date is soon")
}

func TestEmailNotifierDefaults(t *testing.T) {
	t.Parallel()

	n := notify.NewEmailNotifier(&senderMock{}, notify.Brand{}, notify.WithLogger(nil))

	msg, err := n.Render(context.Background(), notice(billing.NoticePreChargeReminder))
	require.NoError(t, err)
	assert.Equal(t, "Your Hearth trial ends on Monday, 16 March 2026", msg.Subject)
}

func TestEmailNotifierNotify(t *testing.T) {
	t.Parallel()

	t.Run("sends", func(t *testing.T) {
		t.Parallel()
		sender := &senderMock{}
		sender.On("Send", mock.Anything, mock.MatchedBy(func(m email.Message) bool {
			return m.Tag == string(billing.NoticeTrialWelcome) && m.To == "jane@example.com"
		})).Return(nil).Once()

		require.NoError(t, notify.NewEmailNotifier(sender, brand).Notify(context.Background(), notice(billing.NoticeTrialWelcome)))
		sender.AssertExpectations(t)
	})

	t.Run("send failure", func(t *testing.T) {
		t.Parallel()
		sender := &senderMock{}
		sender.On("Send", mock.Anything, mock.Anything).Return(email.ErrFailedToSendEmail)

		err := notify.NewEmailNotifier(sender, brand).Notify(context.Background(), notice(billing.NoticeAccountSuspended))
		assert.ErrorIs(t, err, email.ErrFailedToSendEmail)
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()
		sender := &senderMock{}
		err := notify.NewEmailNotifier(sender, brand).Notify(context.Background(), notice("carrier_pigeon"))
		assert.ErrorIs(t, err, notify.ErrUnknownNotice)
		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})
}

func TestWebhookNotifier(t *testing.T) {
	t.Parallel()

	var (
		body []byte
		sig  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(webhook.SignatureHeader)
	}))
	defer srv.Close()

	n := notify.NewWebhookNotifier(webhook.NewSender(webhook.WithSecret("s3cret")), srv.URL)
	require.NoError(t, n.Notify(context.Background(), notice(billing.NoticePaymentFailed)))

	require.NoError(t, webhook.Verify("s3cret", body, sig, time.Minute, time.Now()))
	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "payment_failed", got["kind"])
	assert.Equal(t, "sbr_01", got["subscriber_id"])
	assert.Equal(t, "2026-03-05T09:00:00Z", got["grace_ends_at"])
}

type funcNotifier func(context.Context, billing.Notice) error

func (f funcNotifier) Notify(ctx context.Context, n billing.Notice) error { return f(ctx, n) }

func TestFanout(t *testing.T) {
	t.Parallel()

	var calls int
	ok := funcNotifier(func(context.Context, billing.Notice) error { calls++; return nil })
	boom := errors.New("smtp down")
	failing := funcNotifier(func(context.Context, billing.Notice) error { calls++; return boom })

	err := notify.Fanout{failing, ok}.Notify(context.Background(), notice(billing.NoticeTrialWelcome))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls, "a failing notifier does not stop the others")
}
