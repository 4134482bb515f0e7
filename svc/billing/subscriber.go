package billing

import (
	"slices"
	"time"
)

// Status is the lifecycle status of a subscriber.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusUnpaid   Status = "unpaid"
	StatusCanceled Status = "canceled"

	// statusAbsent is the implicit state before a subscriber row exists.
	// It is never persisted.
	statusAbsent Status = "absent"
)

// Statuses lists every persisted status.
var Statuses = []Status{StatusTrialing, StatusActive, StatusPastDue, StatusUnpaid, StatusCanceled}

// Valid reports whether s is one of the persisted statuses.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Interval is the billing interval of a subscription.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalAnnual  Interval = "annual"
)

// Valid reports whether i is a supported billing interval.
func (i Interval) Valid() bool {
	return i == IntervalMonthly || i == IntervalAnnual
}

// Subscriber is one billable household.
type Subscriber struct {
	ID                 string
	Email              string
	CanonicalEmail     string
	Name               string
	Status             Status
	Tier               string
	Interval           Interval
	TrialStartsAt      *time.Time
	TrialEndsAt        *time.Time
	TrialUsed          bool
	GracePeriodEndsAt  *time.Time
	CancelAtPeriodEnd  bool
	CancelReason       string
	CanceledAt         *time.Time
	FirstPaymentAt     *time.Time
	NextBillingAt      *time.Time
	ProviderCustomerID string
	ProviderSubID      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TrialDaysRemainingAt returns the whole days left in the trial at now.
// Returns 0 when not trialing or when the trial has ended.
func (s *Subscriber) TrialDaysRemainingAt(now time.Time) int {
	if s.Status != StatusTrialing {
		return 0
	}
	return daysUntil(s.TrialEndsAt, now)
}

// GraceDaysRemainingAt returns the whole days left in the grace period at now.
// Returns 0 when not past due.
func (s *Subscriber) GraceDaysRemainingAt(now time.Time) int {
	if s.Status != StatusPastDue {
		return 0
	}
	return daysUntil(s.GracePeriodEndsAt, now)
}

func daysUntil(t *time.Time, now time.Time) int {
	if t == nil {
		return 0
	}
	remaining := t.Sub(now)
	if remaining <= 0 {
		return 0
	}
	// Partial days round to the nearest day
	return int(remaining.Hours()/24 + 0.5)
}

// LedgerEntry is one row of the append-only subscription event ledger.
// ExternalID is unique across the ledger and is the deduplication key.
type LedgerEntry struct {
	ID           string
	ExternalID   string
	Type         EventType
	SubscriberID string
	StatusBefore Status
	StatusAfter  Status
	Metadata     map[string]string
	Error        string
	CreatedAt    time.Time
}

// SignupAttempt records one trial signup attempt, allowed or blocked.
type SignupAttempt struct {
	Email          string
	CanonicalEmail string
	IP             string
	UserAgent      string
	Fingerprint    string
	Success        bool
	BlockReason    string
	CreatedAt      time.Time
}

// CancellationFeedback is the free-text reason left when canceling.
type CancellationFeedback struct {
	SubscriberID string
	Reason       string
	CreatedAt    time.Time
}

// DeadLetter keeps an event whose handler failed, for manual replay.
type DeadLetter struct {
	ID         string
	ExternalID string
	Type       EventType
	Payload    []byte
	Error      string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

func ptr[T any](v T) *T { return &v }
