package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hearth/pkg/id"
	"github.com/dmitrymomot/hearth/pkg/logger"
	"github.com/dmitrymomot/hearth/pkg/mailbox"
	"github.com/dmitrymomot/hearth/pkg/validator"
)

// idempotencyNamespace scopes processor idempotency keys derived from a signup attempt.
var idempotencyNamespace = uuid.MustParse("6f1d2c8a-3b4e-4f7a-9c1d-2e5b8a7f0c3d")

// TrialRequest is a request to start a free trial.
type TrialRequest struct {
	Email            string
	Name             string
	Tier             string
	Interval         Interval
	PaymentMethodRef string
	TermsAccepted    bool
	IP               string
	UserAgent        string
	Fingerprint      string
}

// TrialResult identifies the created trial.
type TrialResult struct {
	SubscriberID string
	TrialEndsAt  time.Time
}

// SignupService creates trials end to end: abuse check, processor
// subscription, local subscriber row, attempt log and welcome notice.
type SignupService struct {
	detector  *AbuseDetector
	processor Processor
	prices    PriceCatalog
	subs      SubscriberStore
	dispatch  dispatcher
	opts      options
	log       *slog.Logger
}

// NewSignupService creates a signup service.
func NewSignupService(detector *AbuseDetector, processor Processor, prices PriceCatalog, subs SubscriberStore, notifier Notifier, opts ...Option) *SignupService {
	if detector == nil {
		panic("billing: abuse detector cannot be nil")
	}
	if processor == nil {
		panic("billing: processor cannot be nil")
	}
	if prices == nil {
		panic("billing: price catalog cannot be nil")
	}
	if subs == nil {
		panic("billing: subscriber store cannot be nil")
	}

	o := newOptions(opts)
	log := o.logger.With(logger.Component("trial_signup"))
	return &SignupService{
		detector:  detector,
		processor: processor,
		prices:    prices,
		subs:      subs,
		dispatch:  dispatcher{notifier: notifier, timeout: o.config.NotifyTimeout, log: log, metrics: o.metrics},
		opts:      o,
		log:       log,
	}
}

// CreateTrial starts a trial. Nothing is written locally unless the
// processor accepted the customer, the payment method and the subscription.
func (s *SignupService) CreateTrial(ctx context.Context, req TrialRequest) (TrialResult, error) {
	if req.Tier == "" {
		req.Tier = s.opts.config.DefaultTier
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)

	if err := s.validate(req); err != nil {
		return TrialResult{}, err
	}

	candidate := SignupCandidate{
		Email:       req.Email,
		IP:          req.IP,
		Fingerprint: req.Fingerprint,
		UserAgent:   req.UserAgent,
	}

	verdict, err := s.detector.Check(ctx, candidate)
	if err != nil {
		return TrialResult{}, fmt.Errorf("abuse check: %w", err)
	}
	if verdict.Blocked {
		return TrialResult{}, verdict.Err()
	}

	priceID, err := s.prices.PriceID(req.Tier, string(req.Interval))
	if err != nil {
		s.recordAttempt(ctx, candidate, false, "unknown_price")
		return TrialResult{}, errors.Join(ErrUnknownTier, err)
	}

	canonical := mailbox.Canonicalize(req.Email)
	ref, customerID, err := s.createProcessorTrial(ctx, req, canonical, priceID)
	if err != nil {
		s.recordAttempt(ctx, candidate, false, "processor_error")
		return TrialResult{}, err
	}

	now := s.opts.clock()
	trialEnds := now.AddDate(0, 0, s.opts.config.TrialDays)
	if ref.TrialEndsAt != nil {
		trialEnds = ref.TrialEndsAt.UTC()
	}

	sub := Subscriber{
		ID:                 id.NewSubscriberID(),
		Email:              req.Email,
		CanonicalEmail:     canonical,
		Name:               req.Name,
		Status:             StatusTrialing,
		Tier:               req.Tier,
		Interval:           req.Interval,
		TrialStartsAt:      ptr(now),
		TrialEndsAt:        ptr(trialEnds),
		TrialUsed:          true,
		ProviderCustomerID: customerID,
		ProviderSubID:      ref.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.subs.CreateSubscriber(ctx, sub); err != nil {
		return TrialResult{}, s.handleInsertFailure(ctx, candidate, customerID, ref.ID, err)
	}

	s.recordAttempt(ctx, candidate, true, "")
	s.dispatch.send(ctx, NoticeFor(NoticeTrialWelcome, sub))

	s.log.InfoContext(ctx, "trial created",
		logger.SubscriberID(sub.ID),
		slog.Time("trial_ends_at", trialEnds),
	)

	return TrialResult{SubscriberID: sub.ID, TrialEndsAt: trialEnds}, nil
}

func (s *SignupService) validate(req TrialRequest) error {
	err := validator.Apply(
		validator.ValidEmail("email", req.Email),
		validator.RequiredString("name", req.Name),
		validator.MaxLenString("name", req.Name, 200),
		validator.InListString("billingInterval", string(req.Interval), []string{string(IntervalMonthly), string(IntervalAnnual)}),
		validator.RequiredString("paymentMethodRef", req.PaymentMethodRef),
		validator.Accepted("termsAccepted", req.TermsAccepted),
		validator.Rule{
			Check: func() bool { return s.prices.HasTier(req.Tier) },
			Error: validator.ValidationError{Field: "tier", Message: "unknown tier", TranslationKey: "validation.tier"},
		},
	)
	if err != nil {
		return errors.Join(ErrValidation, err)
	}
	return nil
}

func (s *SignupService) createProcessorTrial(ctx context.Context, req TrialRequest, canonical, priceID string) (SubscriptionRef, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.config.ProcessorTimeout)
	defer cancel()

	// Keys are scoped to one attempt: the client's retries within this call
	// reuse processor objects, a second attempt for the same mailbox never does.
	key := uuid.NewSHA1(idempotencyNamespace, []byte(canonical+"/"+uuid.NewString())).String()

	customerID, err := s.processor.CreateCustomer(ctx, CustomerParams{
		Email:          req.Email,
		Name:           req.Name,
		IdempotencyKey: "customer-" + key,
	})
	if err != nil {
		return SubscriptionRef{}, "", s.processorFailure(ctx, "create customer", err)
	}

	if err := s.processor.AttachPaymentMethod(ctx, customerID, req.PaymentMethodRef); err != nil {
		return SubscriptionRef{}, "", s.processorFailure(ctx, "attach payment method", err)
	}

	ref, err := s.processor.CreateTrialSubscription(ctx, TrialSubscriptionParams{
		CustomerID:       customerID,
		PriceID:          priceID,
		PaymentMethodRef: req.PaymentMethodRef,
		TrialDays:        s.opts.config.TrialDays,
		IdempotencyKey:   "trial-" + key,
		Metadata:         map[string]string{"tier": req.Tier, "interval": string(req.Interval)},
	})
	if err != nil {
		return SubscriptionRef{}, "", s.processorFailure(ctx, "create subscription", err)
	}

	return ref, customerID, nil
}

func (s *SignupService) processorFailure(ctx context.Context, step string, err error) error {
	s.log.ErrorContext(ctx, "processor call failed during signup",
		slog.String("step", step),
		logger.Error(err),
	)
	return errors.Join(ErrProcessor, fmt.Errorf("%s: %w", step, err))
}

// handleInsertFailure runs after the processor already holds a subscription.
// A uniqueness conflict means a concurrent signup for the same mailbox won:
// the attempt is rejected and the extra processor subscription is canceled,
// unless it is the very subscription the winner holds.
// Any other failure is a reconciliation gap and is never retried here.
func (s *SignupService) handleInsertFailure(ctx context.Context, c SignupCandidate, customerID, subscriptionID string, cause error) error {
	if errors.Is(cause, ErrDuplicateSubscriber) {
		s.recordAttempt(ctx, c, false, ReasonTrialUsed)
		s.opts.metrics.abuseBlock("canonical_email_constraint")

		if winner, err := s.subs.GetSubscriberByCustomer(ctx, customerID); err == nil && winner.ProviderSubID == subscriptionID {
			s.log.WarnContext(ctx, "lost signup race shares the winner's subscription, leaving it active",
				logger.SubscriberID(winner.ID),
				slog.String("processor_subscription_id", subscriptionID),
			)
			return &BlockedError{Rule: "canonical_email_constraint", Reason: ReasonTrialUsed}
		}

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.config.ProcessorTimeout)
		defer cancel()
		if err := s.processor.CancelImmediately(cctx, subscriptionID); err != nil {
			s.reconciliationGap(ctx, "cancel_duplicate_trial", subscriptionID, err)
		}
		return &BlockedError{Rule: "canonical_email_constraint", Reason: ReasonTrialUsed}
	}

	s.recordAttempt(ctx, c, false, "local_write_failed")
	s.reconciliationGap(ctx, "insert_subscriber", subscriptionID, cause)
	return errors.Join(ErrReconciliationGap, cause)
}

func (s *SignupService) reconciliationGap(ctx context.Context, stage, subscriptionID string, err error) {
	s.opts.metrics.reconciliationGap(stage)
	s.log.ErrorContext(ctx, "reconciliation gap: processor subscription has no matching local state",
		logger.Alert(),
		slog.String("stage", stage),
		slog.String("processor_subscription_id", subscriptionID),
		logger.Error(err),
	)
}

func (s *SignupService) recordAttempt(ctx context.Context, c SignupCandidate, success bool, reason string) {
	if err := s.detector.Record(ctx, c, success, reason); err != nil {
		s.log.ErrorContext(ctx, "failed to record signup attempt", logger.Error(err))
	}
}
