package billing

import (
	"context"
	"time"
)

// SubscriberStore persists subscriber rows.
//
// CreateSubscriber must enforce uniqueness of CanonicalEmail and of a
// non-empty ProviderCustomerID and report a conflict as ErrDuplicateSubscriber.
type SubscriberStore interface {
	CreateSubscriber(ctx context.Context, s Subscriber) error
	UpdateSubscriber(ctx context.Context, s Subscriber) error
	// MarkCancelAtPeriodEnd sets only the scheduled-cancellation columns so
	// a concurrent status or grace change is never overwritten.
	MarkCancelAtPeriodEnd(ctx context.Context, id, reason string, at time.Time) error
	GetSubscriber(ctx context.Context, id string) (Subscriber, error)
	GetSubscriberByCustomer(ctx context.Context, customerID string) (Subscriber, error)
	// TrialUsedByAny reports whether a subscriber with TrialUsed set has a
	// raw or canonical email equal to any of the given addresses.
	TrialUsedByAny(ctx context.Context, emails []string) (bool, error)
	ListGraceExpired(ctx context.Context, now time.Time) ([]Subscriber, error)
	ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]Subscriber, error)
}

// Ledger is the append-only subscription event log.
// AppendEvent reports an already recorded ExternalID as ErrDuplicateEvent.
type Ledger interface {
	EventRecorded(ctx context.Context, externalID string) (bool, error)
	AppendEvent(ctx context.Context, e LedgerEntry) error
	ListEvents(ctx context.Context, subscriberID string) ([]LedgerEntry, error)
}

// AttemptLog is the append-only signup attempt log.
type AttemptLog interface {
	RecordSignupAttempt(ctx context.Context, a SignupAttempt) error
	// CountDistinctEmailsByIP counts distinct canonical emails with a
	// successful signup from ip at or after since.
	CountDistinctEmailsByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountDistinctEmailsByFingerprint(ctx context.Context, fingerprint string, since time.Time) (int, error)
	PurgeSignupAttempts(ctx context.Context, before time.Time) (int64, error)
}

// NoticeLog holds durable sent-markers for at-most-once notices.
type NoticeLog interface {
	// MarkNoticeSent records the marker and reports whether this call created it.
	MarkNoticeSent(ctx context.Context, subscriberID string, kind NoticeKind, at time.Time) (bool, error)
	NoticeSent(ctx context.Context, subscriberID string, kind NoticeKind) (bool, error)
}

// FeedbackLog stores cancellation feedback.
type FeedbackLog interface {
	AddCancellationFeedback(ctx context.Context, f CancellationFeedback) error
}

// DeadLetterLog stores events whose handler failed.
type DeadLetterLog interface {
	AddDeadLetter(ctx context.Context, d DeadLetter) error
	ListDeadLetters(ctx context.Context, unresolvedOnly bool) ([]DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id string, at time.Time) error
}

// Store is the full persistence surface used by the billing services.
type Store interface {
	SubscriberStore
	Ledger
	AttemptLog
	NoticeLog
	FeedbackLog
	DeadLetterLog
}
