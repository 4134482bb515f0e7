package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dmitrymomot/hearth/pkg/logger"
	"github.com/dmitrymomot/hearth/pkg/mailbox"
	"github.com/dmitrymomot/hearth/pkg/validator"
)

// StatusView is the subscriber-facing summary of a subscription.
type StatusView struct {
	Tier               string `json:"tier"`
	Status             Status `json:"status"`
	TrialDaysRemaining int    `json:"trialDaysRemaining"`
	GraceDaysRemaining int    `json:"graceDaysRemaining"`
	CancelAtPeriodEnd  bool   `json:"cancelAtPeriodEnd"`
}

// CheckoutRequest starts a hosted checkout for a new subscriber.
type CheckoutRequest struct {
	Email      string
	Tier       string
	Interval   Interval
	SuccessURL string
	CancelURL  string
}

// AccountService serves requests made by, or on behalf of, an existing subscriber.
type AccountService struct {
	subs      SubscriberStore
	feedback  FeedbackLog
	processor Processor
	prices    PriceCatalog
	opts      options
	log       *slog.Logger
}

// NewAccountService creates an account service.
func NewAccountService(subs SubscriberStore, feedback FeedbackLog, processor Processor, prices PriceCatalog, opts ...Option) *AccountService {
	if subs == nil {
		panic("billing: subscriber store cannot be nil")
	}
	if feedback == nil {
		panic("billing: feedback log cannot be nil")
	}
	if processor == nil {
		panic("billing: processor cannot be nil")
	}
	if prices == nil {
		panic("billing: price catalog cannot be nil")
	}

	o := newOptions(opts)
	return &AccountService{
		subs:      subs,
		feedback:  feedback,
		processor: processor,
		prices:    prices,
		opts:      o,
		log:       o.logger.With(logger.Component("account")),
	}
}

// Status returns the subscriber-facing summary.
func (a *AccountService) Status(ctx context.Context, subscriberID string) (StatusView, error) {
	sub, err := a.subs.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return StatusView{}, err
	}

	now := a.opts.clock()
	return StatusView{
		Tier:               sub.Tier,
		Status:             sub.Status,
		TrialDaysRemaining: sub.TrialDaysRemainingAt(now),
		GraceDaysRemaining: sub.GraceDaysRemainingAt(now),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}, nil
}

// Cancel asks the processor to cancel at the end of the paid period.
// The subscriber becomes canceled when the processor confirms with a
// subscription-deleted event.
func (a *AccountService) Cancel(ctx context.Context, subscriberID, reason string) error {
	sub, err := a.subs.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return err
	}
	if sub.Status == StatusCanceled || sub.CancelAtPeriodEnd {
		return nil
	}
	if sub.ProviderSubID == "" {
		return ErrNoProcessorRef
	}

	pctx, cancel := context.WithTimeout(ctx, a.opts.config.ProcessorTimeout)
	defer cancel()
	if err := a.processor.CancelAtPeriodEnd(pctx, sub.ProviderSubID); err != nil {
		a.log.ErrorContext(ctx, "processor cancel failed", logger.SubscriberID(sub.ID), logger.Error(err))
		return errors.Join(ErrProcessor, err)
	}

	now := a.opts.clock()
	reason = strings.TrimSpace(reason)
	if err := a.subs.MarkCancelAtPeriodEnd(ctx, sub.ID, reason, now); err != nil {
		a.opts.metrics.reconciliationGap("cancel_at_period_end")
		a.log.ErrorContext(ctx, "reconciliation gap: cancel accepted by processor but not stored",
			logger.Alert(),
			logger.SubscriberID(sub.ID),
			logger.Error(err),
		)
		return errors.Join(ErrReconciliationGap, err)
	}

	if reason != "" {
		if err := a.feedback.AddCancellationFeedback(ctx, CancellationFeedback{
			SubscriberID: sub.ID,
			Reason:       reason,
			CreatedAt:    now,
		}); err != nil {
			a.log.ErrorContext(ctx, "failed to store cancellation feedback", logger.SubscriberID(sub.ID), logger.Error(err))
		}
	}

	a.log.InfoContext(ctx, "cancellation requested", logger.SubscriberID(sub.ID))
	return nil
}

// CheckoutSession creates a hosted checkout page and returns its URL.
func (a *AccountService) CheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	if req.Tier == "" {
		req.Tier = a.opts.config.DefaultTier
	}

	rules := []validator.Rule{
		validator.InListString("billingInterval", string(req.Interval), []string{string(IntervalMonthly), string(IntervalAnnual)}),
		validator.Rule{
			Check: func() bool { return a.prices.HasTier(req.Tier) },
			Error: validator.ValidationError{Field: "tier", Message: "unknown tier", TranslationKey: "validation.tier"},
		},
	}
	if req.Email != "" {
		rules = append(rules, validator.ValidEmail("email", req.Email))
	}
	if err := validator.Apply(rules...); err != nil {
		return "", errors.Join(ErrValidation, err)
	}

	priceID, err := a.prices.PriceID(req.Tier, string(req.Interval))
	if err != nil {
		return "", errors.Join(ErrUnknownTier, err)
	}

	trialDays, err := a.checkoutTrialDays(ctx, req.Email)
	if err != nil {
		return "", err
	}

	pctx, cancel := context.WithTimeout(ctx, a.opts.config.ProcessorTimeout)
	defer cancel()
	session, err := a.processor.CreateCheckoutSession(pctx, CheckoutParams{
		Email:      req.Email,
		PriceID:    priceID,
		TrialDays:  trialDays,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Metadata:   map[string]string{"tier": req.Tier, "interval": string(req.Interval)},
	})
	if err != nil {
		a.log.ErrorContext(ctx, "processor checkout failed", logger.Error(err))
		return "", errors.Join(ErrProcessor, err)
	}
	return session.URL, nil
}

// checkoutTrialDays grants the trial only to a known mailbox that never had
// one. Without an email the trial-once rule cannot be checked, so the
// checkout starts billing immediately.
func (a *AccountService) checkoutTrialDays(ctx context.Context, email string) (int, error) {
	if email == "" {
		return 0, nil
	}
	used, err := a.subs.TrialUsedByAny(ctx, mailbox.Variations(email))
	if err != nil {
		return 0, fmt.Errorf("check trial history: %w", err)
	}
	if used {
		a.log.InfoContext(ctx, "checkout without trial for a mailbox that already had one")
		return 0, nil
	}
	return a.opts.config.TrialDays, nil
}

// PortalSession creates a billing-portal page for the subscriber.
func (a *AccountService) PortalSession(ctx context.Context, subscriberID, returnURL string) (string, error) {
	sub, err := a.subs.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return "", err
	}
	if sub.ProviderCustomerID == "" {
		return "", ErrNoProcessorRef
	}

	pctx, cancel := context.WithTimeout(ctx, a.opts.config.ProcessorTimeout)
	defer cancel()
	session, err := a.processor.CreatePortalSession(pctx, sub.ProviderCustomerID, returnURL)
	if err != nil {
		a.log.ErrorContext(ctx, "processor portal failed", logger.SubscriberID(sub.ID), logger.Error(err))
		return "", errors.Join(ErrProcessor, fmt.Errorf("portal session: %w", err))
	}
	return session.URL, nil
}
