package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/hearth/pkg/logger"
	"github.com/dmitrymomot/hearth/pkg/mailbox"
)

// User-facing block reasons. They never reveal which signal matched beyond
// what the subscriber can act on.
const (
	ReasonTrialUsed       = "trial already used"
	ReasonNetworkVelocity = "too many signups from this network"
	ReasonDeviceVelocity  = "too many signups from this device"
)

// SignupCandidate is the input to the abuse check.
type SignupCandidate struct {
	Email       string
	IP          string
	Fingerprint string
	UserAgent   string
}

// Verdict is the outcome of an abuse check.
type Verdict struct {
	Blocked bool
	Rule    string
	Reason  string
}

// Err returns a *BlockedError for blocked verdicts and nil otherwise.
func (v Verdict) Err() error {
	if !v.Blocked {
		return nil
	}
	return &BlockedError{Rule: v.Rule, Reason: v.Reason}
}

// abuseRule is one row of the eligibility table. A rule whose applies
// returns false is skipped; it is neither a pass nor a block.
type abuseRule struct {
	name    string
	reason  string
	applies func(c SignupCandidate) bool
	matches func(ctx context.Context, d *AbuseDetector, c SignupCandidate) (bool, error)
}

var abuseRules = []abuseRule{
	{
		name:    "canonical_email",
		reason:  ReasonTrialUsed,
		applies: func(c SignupCandidate) bool { return c.Email != "" },
		matches: func(ctx context.Context, d *AbuseDetector, c SignupCandidate) (bool, error) {
			return d.subs.TrialUsedByAny(ctx, []string{mailbox.Canonicalize(c.Email)})
		},
	},
	{
		name:    "email_variation",
		reason:  ReasonTrialUsed,
		applies: func(c SignupCandidate) bool { return c.Email != "" },
		matches: func(ctx context.Context, d *AbuseDetector, c SignupCandidate) (bool, error) {
			return d.subs.TrialUsedByAny(ctx, mailbox.Variations(c.Email))
		},
	},
	{
		name:    "ip_velocity",
		reason:  ReasonNetworkVelocity,
		applies: func(c SignupCandidate) bool { return c.IP != "" },
		matches: func(ctx context.Context, d *AbuseDetector, c SignupCandidate) (bool, error) {
			n, err := d.attempts.CountDistinctEmailsByIP(ctx, c.IP, d.windowStart())
			return n >= d.opts.config.AbuseThreshold, err
		},
	},
	{
		name:    "device_velocity",
		reason:  ReasonDeviceVelocity,
		applies: func(c SignupCandidate) bool { return c.Fingerprint != "" },
		matches: func(ctx context.Context, d *AbuseDetector, c SignupCandidate) (bool, error) {
			n, err := d.attempts.CountDistinctEmailsByFingerprint(ctx, c.Fingerprint, d.windowStart())
			return n >= d.opts.config.AbuseThreshold, err
		},
	},
}

// AbuseDetector decides whether a new trial may be created.
type AbuseDetector struct {
	subs     SubscriberStore
	attempts AttemptLog
	opts     options
	log      *slog.Logger
}

// NewAbuseDetector creates a detector over the subscriber store and the attempt log.
func NewAbuseDetector(subs SubscriberStore, attempts AttemptLog, opts ...Option) *AbuseDetector {
	if subs == nil {
		panic("billing: subscriber store cannot be nil")
	}
	if attempts == nil {
		panic("billing: attempt log cannot be nil")
	}

	o := newOptions(opts)
	return &AbuseDetector{
		subs:     subs,
		attempts: attempts,
		opts:     o,
		log:      o.logger.With(logger.Component("abuse_detector")),
	}
}

// Check evaluates the rules in order and stops at the first match.
// A blocked attempt is recorded in the attempt log before returning; allowed
// attempts are recorded by the caller once their outcome is known.
func (d *AbuseDetector) Check(ctx context.Context, c SignupCandidate) (Verdict, error) {
	for _, rule := range abuseRules {
		if !rule.applies(c) {
			continue
		}

		matched, err := rule.matches(ctx, d, c)
		if err != nil {
			return Verdict{}, fmt.Errorf("abuse rule %s: %w", rule.name, err)
		}
		if !matched {
			continue
		}

		v := Verdict{Blocked: true, Rule: rule.name, Reason: rule.reason}
		d.opts.metrics.abuseBlock(rule.name)
		d.log.WarnContext(ctx, "trial signup blocked",
			slog.String("rule", rule.name),
			slog.String("ip", c.IP),
		)

		if err := d.attempts.RecordSignupAttempt(ctx, d.attempt(c, false, rule.reason)); err != nil {
			d.log.ErrorContext(ctx, "failed to record blocked signup attempt", logger.Error(err))
		}
		return v, nil
	}

	return Verdict{}, nil
}

// Record appends an attempt with the given outcome to the attempt log.
func (d *AbuseDetector) Record(ctx context.Context, c SignupCandidate, success bool, reason string) error {
	return d.attempts.RecordSignupAttempt(ctx, d.attempt(c, success, reason))
}

func (d *AbuseDetector) attempt(c SignupCandidate, success bool, reason string) SignupAttempt {
	return SignupAttempt{
		Email:          c.Email,
		CanonicalEmail: mailbox.Canonicalize(c.Email),
		IP:             c.IP,
		UserAgent:      c.UserAgent,
		Fingerprint:    c.Fingerprint,
		Success:        success,
		BlockReason:    reason,
		CreatedAt:      d.opts.clock(),
	}
}

func (d *AbuseDetector) windowStart() time.Time {
	return d.opts.clock().Add(-d.opts.config.AbuseWindow)
}
