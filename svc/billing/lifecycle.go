package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/hearth/pkg/id"
	"github.com/dmitrymomot/hearth/pkg/logger"
	"github.com/dmitrymomot/hearth/pkg/mailbox"
	"github.com/dmitrymomot/hearth/pkg/statemachine"
)

type (
	machine          = statemachine.Machine[Status, EventType, *change]
	machineOption    = statemachine.Option[Status, EventType, *change]
	transitionOption = statemachine.TransitionOption[Status, EventType, *change]
)

// change is the working copy a transition operates on.
type change struct {
	sub     *Subscriber
	event   Event
	now     time.Time
	created bool
	dirty   bool
	notices []Notice
}

func (c *change) notify(kind NoticeKind) {
	c.notices = append(c.notices, NoticeFor(kind, *c.sub))
}

// Applied describes the effect of one event on one subscriber.
type Applied struct {
	SubscriberID string
	Before       Status
	After        Status
	// Ignored explains why an event had no legal transition from Before.
	Ignored string
	// Notices are the notices the transition qualifies for. They are sent
	// by the caller after the ledger row is written.
	Notices []Notice
}

// Lifecycle applies lifecycle events to subscribers through a fixed
// transition table. It holds no per-subscriber state.
type Lifecycle struct {
	subs    SubscriberStore
	markers NoticeLog
	machine *machine
	opts    options
	log     *slog.Logger
}

var liveStatuses = []Status{StatusTrialing, StatusActive, StatusPastDue, StatusUnpaid}

// NewLifecycle builds the transition table.
func NewLifecycle(subs SubscriberStore, markers NoticeLog, opts ...Option) *Lifecycle {
	if subs == nil {
		panic("billing: subscriber store cannot be nil")
	}
	if markers == nil {
		panic("billing: notice log cannot be nil")
	}

	o := newOptions(opts)
	lc := &Lifecycle{
		subs:    subs,
		markers: markers,
		opts:    o,
		log:     o.logger.With(logger.Component("lifecycle")),
	}
	lc.machine = statemachine.MustNew(lc.transitions()...)
	return lc
}

func (lc *Lifecycle) transitions() []machineOption {
	with := statemachine.WithTransitionFrom[Status, EventType, *change]
	guard := statemachine.WithGuard[Status, EventType, *change]
	action := statemachine.WithAction[Status, EventType, *change]

	var opts []machineOption

	// Processor-reported status wins for created/updated; one branch per target.
	for _, target := range Statuses {
		opts = append(opts,
			with(liveStatuses, target, EventSubscriptionCreated,
				guard(reportedStatus(target)), action(lc.syncSubscription), action(lc.cancelIfTerminal)),
			with(liveStatuses, target, EventSubscriptionUpdated,
				guard(reportedStatus(target)), action(lc.syncSubscription), action(lc.onTrialConverted), action(lc.cancelIfTerminal)),
		)
	}

	opts = append(opts,
		with(liveStatuses, StatusCanceled, EventSubscriptionDeleted,
			action(lc.cancel), action(notifyOn(NoticeCancellationConfirmed))),
		with([]Status{StatusTrialing}, StatusTrialing, EventTrialWillEnd,
			action(lc.remindOnce)),
		with(liveStatuses, StatusActive, EventInvoicePaymentSucceeded,
			action(lc.recordPayment)),
		with(liveStatuses, StatusPastDue, EventInvoicePaymentFailed,
			action(notifyOn(NoticePaymentFailed))),
		with([]Status{statusAbsent}, StatusTrialing, EventCheckoutCompleted,
			action(lc.createFromCheckout), action(notifyOn(NoticeTrialWelcome))),
		with([]Status{StatusPastDue}, StatusUnpaid, EventGraceExpired,
			guard(lc.graceElapsed), action(notifyOn(NoticeAccountSuspended))),
	)

	// A subscriber that already exists is not created again.
	for _, s := range liveStatuses {
		opts = append(opts, with([]Status{s}, s, EventCheckoutCompleted))
	}

	// Canceled is terminal: every event is a no-op.
	for _, e := range []EventType{
		EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventTrialWillEnd, EventInvoicePaymentSucceeded, EventInvoicePaymentFailed,
		EventCheckoutCompleted, EventGraceExpired,
	} {
		opts = append(opts, with([]Status{StatusCanceled}, StatusCanceled, e))
	}

	return opts
}

// Apply loads the subscriber the event refers to, fires the event and
// persists the result. Events with no legal transition are reported through
// Applied.Ignored, not as errors. A returned error is a handler fault.
func (lc *Lifecycle) Apply(ctx context.Context, ev Event) (Applied, error) {
	sub, err := lc.load(ctx, ev)
	if err != nil {
		return Applied{}, err
	}

	ch := &change{sub: sub, event: ev, now: lc.opts.clock()}
	from := statusAbsent
	if sub != nil {
		from = sub.Status
		if !from.Valid() {
			return Applied{SubscriberID: sub.ID}, fmt.Errorf("subscriber %s has invalid status %q", sub.ID, from)
		}
	}

	if (ev.Type == EventSubscriptionCreated || ev.Type == EventSubscriptionUpdated) && ev.Status == "" && ev.RawStatus != "" {
		return lc.applied(ch, from, from), errors.Join(ErrUnknownStatus, fmt.Errorf("status %q", ev.RawStatus))
	}

	if from == statusAbsent && ev.Type == EventCheckoutCompleted && ev.Email != "" {
		taken, err := lc.subs.TrialUsedByAny(ctx, mailbox.Variations(ev.Email))
		if err != nil {
			return lc.applied(ch, from, from), fmt.Errorf("check mailbox: %w", err)
		}
		if taken {
			return lc.mailboxTaken(ctx, ev), nil
		}
	}

	to, err := lc.machine.Fire(ctx, from, ev.Type, ch)
	switch {
	case statemachine.IsNoTransitionAvailableError(err), statemachine.IsTransitionRejectedError(err):
		res := lc.applied(ch, from, from)
		res.Ignored = err.Error()
		res.Notices = nil
		return res, nil
	case err != nil:
		return lc.applied(ch, from, from), err
	}

	if ch.sub == nil {
		// Only absent → absent, which the table never defines.
		return Applied{Before: from, After: to}, nil
	}

	if to != from {
		lc.settle(ch, from, to)
	}

	if err := lc.persist(ctx, ch); err != nil {
		if ch.created && errors.Is(err, ErrDuplicateSubscriber) {
			return lc.mailboxTaken(ctx, ev), nil
		}
		res := lc.applied(ch, from, from)
		if ch.created {
			res.SubscriberID = ""
		}
		return res, err
	}

	return lc.applied(ch, from, to), nil
}

// mailboxTaken ignores a checkout for a mailbox that already has a
// subscriber. The processor subscription behind it has no local owner and
// is raised as a reconciliation gap for an operator to refund or link.
func (lc *Lifecycle) mailboxTaken(ctx context.Context, ev Event) Applied {
	lc.opts.metrics.reconciliationGap("checkout_existing_mailbox")
	lc.log.ErrorContext(ctx, "reconciliation gap: checkout completed for a mailbox that already has a subscriber",
		logger.Alert(),
		logger.ExternalEventID(ev.ID),
		slog.String("processor_customer_id", ev.CustomerID),
		slog.String("processor_subscription_id", ev.SubscriptionID),
	)
	return Applied{Ignored: "mailbox already has a subscriber"}
}

func (lc *Lifecycle) applied(ch *change, from, to Status) Applied {
	res := Applied{Before: from, After: to, Notices: ch.notices}
	if ch.sub != nil {
		res.SubscriberID = ch.sub.ID
	}
	if from == statusAbsent {
		res.Before = ""
	}
	if to == statusAbsent {
		res.After = ""
	}
	return res
}

func (lc *Lifecycle) load(ctx context.Context, ev Event) (*Subscriber, error) {
	var (
		sub Subscriber
		err error
	)
	switch {
	case ev.SubscriberID != "":
		sub, err = lc.subs.GetSubscriber(ctx, ev.SubscriberID)
	case ev.CustomerID != "":
		sub, err = lc.subs.GetSubscriberByCustomer(ctx, ev.CustomerID)
	default:
		return nil, nil
	}
	if errors.Is(err, ErrSubscriberNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscriber: %w", err)
	}
	return &sub, nil
}

// settle applies the status change and the grace-period invariant: the
// grace deadline exists only while past due. It is set on entering past due
// and a further payment failure while already past due does not move it.
func (lc *Lifecycle) settle(ch *change, from, to Status) {
	ch.sub.Status = to
	ch.dirty = true

	switch {
	case to != StatusPastDue:
		ch.sub.GracePeriodEndsAt = nil
	case from != StatusPastDue || ch.sub.GracePeriodEndsAt == nil:
		ch.sub.GracePeriodEndsAt = ptr(ch.now.Add(lc.opts.config.GracePeriod))
	}
}

func (lc *Lifecycle) persist(ctx context.Context, ch *change) error {
	if !ch.dirty {
		return nil
	}
	ch.sub.UpdatedAt = ch.now

	if ch.created {
		if err := lc.subs.CreateSubscriber(ctx, *ch.sub); err != nil {
			return fmt.Errorf("create subscriber: %w", err)
		}
		return nil
	}
	if err := lc.subs.UpdateSubscriber(ctx, *ch.sub); err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	return nil
}

func reportedStatus(target Status) statemachine.Guard[Status, EventType, *change] {
	return func(_ context.Context, _ Status, _ EventType, ch *change) bool {
		return ch.event.Status == target
	}
}

func notifyOn(kind NoticeKind) statemachine.Action[Status, EventType, *change] {
	return func(_ context.Context, _, _ Status, _ EventType, ch *change) error {
		ch.notify(kind)
		return nil
	}
}

func (lc *Lifecycle) graceElapsed(_ context.Context, _ Status, _ EventType, ch *change) bool {
	grace := ch.sub.GracePeriodEndsAt
	return grace != nil && !grace.After(ch.now)
}

func (lc *Lifecycle) syncSubscription(_ context.Context, _, to Status, _ EventType, ch *change) error {
	ev, sub := ch.event, ch.sub
	if ev.SubscriptionID != "" && ev.SubscriptionID != sub.ProviderSubID {
		sub.ProviderSubID = ev.SubscriptionID
		ch.dirty = true
	}
	if ev.Tier != "" && ev.Tier != sub.Tier {
		sub.Tier = ev.Tier
		ch.dirty = true
	}
	if ev.Interval.Valid() && ev.Interval != sub.Interval {
		sub.Interval = ev.Interval
		ch.dirty = true
	}
	if to == StatusTrialing && ev.TrialEndsAt != nil {
		sub.TrialEndsAt = ev.TrialEndsAt
		ch.dirty = true
	}
	return nil
}

func (lc *Lifecycle) onTrialConverted(_ context.Context, from, to Status, _ EventType, ch *change) error {
	if from != StatusTrialing || to != StatusActive {
		return nil
	}
	if ch.event.PeriodEndsAt != nil {
		ch.sub.NextBillingAt = ch.event.PeriodEndsAt
	}
	ch.notify(NoticeSubscriptionActive)
	return nil
}

func (lc *Lifecycle) cancelIfTerminal(ctx context.Context, from, to Status, e EventType, ch *change) error {
	if to != StatusCanceled {
		return nil
	}
	return lc.cancel(ctx, from, to, e, ch)
}

func (lc *Lifecycle) cancel(_ context.Context, _, _ Status, _ EventType, ch *change) error {
	ch.sub.CanceledAt = ptr(ch.now)
	ch.sub.CancelAtPeriodEnd = false
	ch.dirty = true
	return nil
}

func (lc *Lifecycle) recordPayment(_ context.Context, _, _ Status, _ EventType, ch *change) error {
	if ch.sub.FirstPaymentAt == nil {
		ch.sub.FirstPaymentAt = ptr(ch.now)
		ch.dirty = true
	}
	if ch.event.PeriodEndsAt != nil {
		ch.sub.NextBillingAt = ch.event.PeriodEndsAt
		ch.dirty = true
	}
	return nil
}

// remindOnce queues the pre-charge reminder unless its sent-marker exists.
// The marker is written first; a lost send is not retried.
func (lc *Lifecycle) remindOnce(ctx context.Context, _, _ Status, _ EventType, ch *change) error {
	created, err := lc.markers.MarkNoticeSent(ctx, ch.sub.ID, NoticePreChargeReminder, ch.now)
	if err != nil {
		return fmt.Errorf("mark reminder: %w", err)
	}
	if created {
		ch.notify(NoticePreChargeReminder)
	}
	return nil
}

func (lc *Lifecycle) createFromCheckout(_ context.Context, _, _ Status, _ EventType, ch *change) error {
	ev := ch.event
	if ev.Email == "" || ev.CustomerID == "" {
		return fmt.Errorf("checkout %s lacks email or customer reference", ev.ID)
	}

	tier := ev.Tier
	if tier == "" {
		tier = lc.opts.config.DefaultTier
	}
	interval := ev.Interval
	if !interval.Valid() {
		interval = IntervalMonthly
	}
	trialEnds := ev.TrialEndsAt
	if trialEnds == nil {
		trialEnds = ptr(ch.now.AddDate(0, 0, lc.opts.config.TrialDays))
	}

	ch.sub = &Subscriber{
		ID:                 id.NewSubscriberID(),
		Email:              ev.Email,
		CanonicalEmail:     mailbox.Canonicalize(ev.Email),
		Name:               ev.Name,
		Status:             StatusTrialing,
		Tier:               tier,
		Interval:           interval,
		TrialStartsAt:      ptr(ch.now),
		TrialEndsAt:        trialEnds,
		TrialUsed:          true,
		ProviderCustomerID: ev.CustomerID,
		ProviderSubID:      ev.SubscriptionID,
		CreatedAt:          ch.now,
	}
	ch.created = true
	ch.dirty = true
	return nil
}
