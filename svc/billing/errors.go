package billing

import "errors"

var (
	ErrValidation          = errors.New("invalid request")
	ErrAbuseBlocked        = errors.New("trial signup blocked")
	ErrTrialAlreadyUsed    = errors.New("trial already used")
	ErrProcessor           = errors.New("payment processor request failed")
	ErrSignatureInvalid    = errors.New("event signature is invalid")
	ErrReconciliationGap   = errors.New("processor state diverged from local state")
	ErrSubscriberNotFound  = errors.New("subscriber not found")
	ErrDuplicateSubscriber = errors.New("subscriber already exists")
	ErrDuplicateEvent      = errors.New("event already recorded")
	ErrUnknownTier         = errors.New("unknown tier")
	ErrUnknownStatus       = errors.New("unknown processor status")
	ErrNoProcessorRef      = errors.New("subscriber has no processor reference")
	ErrDeadLetterNotFound  = errors.New("dead letter not found")
)

// BlockedError carries the user-facing reason of a blocked signup.
// It matches ErrAbuseBlocked with errors.Is, and ErrTrialAlreadyUsed when
// the mailbox itself already had a trial.
type BlockedError struct {
	Rule   string
	Reason string
}

func (e *BlockedError) Error() string { return e.Reason }

func (e *BlockedError) Is(target error) bool {
	return target == ErrAbuseBlocked || (target == ErrTrialAlreadyUsed && e.Reason == ReasonTrialUsed)
}
