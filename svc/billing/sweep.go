package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/hearth/pkg/logger"
)

// Sweeper advances time-based transitions. Every sweep selects only the rows
// it still has to act on, so running it more often than needed is harmless.
type Sweeper struct {
	gate     *Gate
	subs     SubscriberStore
	markers  NoticeLog
	attempts AttemptLog
	dispatch dispatcher
	opts     options
	log      *slog.Logger
}

// NewSweeper creates the periodic sweeps. Suspensions go through the gate so
// they are deduplicated and ledger-logged like processor events.
func NewSweeper(gate *Gate, store Store, notifier Notifier, opts ...Option) *Sweeper {
	if gate == nil {
		panic("billing: gate cannot be nil")
	}
	if store == nil {
		panic("billing: store cannot be nil")
	}

	o := newOptions(opts)
	log := o.logger.With(logger.Component("sweeper"))
	return &Sweeper{
		gate:     gate,
		subs:     store,
		markers:  store,
		attempts: store,
		dispatch: dispatcher{notifier: notifier, timeout: o.config.NotifyTimeout, log: log, metrics: o.metrics},
		opts:     o,
		log:      log,
	}
}

// GraceEventID is the ledger key of the suspension for one grace period.
func GraceEventID(s Subscriber) string {
	var deadline int64
	if s.GracePeriodEndsAt != nil {
		deadline = s.GracePeriodEndsAt.Unix()
	}
	return fmt.Sprintf("grace:%s:%d", s.ID, deadline)
}

// SuspendOverdue moves past-due subscribers whose grace period has elapsed to
// unpaid. It returns the number of subscribers suspended by this run.
func (s *Sweeper) SuspendOverdue(ctx context.Context) (int, error) {
	now := s.opts.clock()
	due, err := s.subs.ListGraceExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list grace expired: %w", err)
	}

	var (
		suspended int
		errs      []error
	)
	for _, sub := range due {
		outcome, err := s.gate.Ingest(ctx, Event{
			ID:           GraceEventID(sub),
			Type:         EventGraceExpired,
			OccurredAt:   now,
			SubscriberID: sub.ID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("suspend %s: %w", sub.ID, err))
			continue
		}
		if outcome == OutcomeProcessed {
			suspended++
		}
	}

	s.opts.metrics.sweep("grace_period", suspended)
	if len(errs) > 0 {
		s.log.ErrorContext(ctx, "grace period sweep incomplete", logger.Errors(errs...))
	}
	return suspended, errors.Join(errs...)
}

// ReminderWindow returns the UTC calendar day that lies exactly the lead
// time ahead of now, as a half-open interval.
func ReminderWindow(now time.Time, leadDays int) (time.Time, time.Time) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := day.AddDate(0, 0, leadDays)
	return from, from.AddDate(0, 0, 1)
}

// RemindTrialsEnding sends the pre-charge reminder to trials that end on the
// day exactly ReminderLeadDays ahead. A durable marker keeps it to one
// reminder per trial no matter how often the sweep runs.
func (s *Sweeper) RemindTrialsEnding(ctx context.Context) (int, error) {
	now := s.opts.clock()
	from, to := ReminderWindow(now, s.opts.config.ReminderLeadDays)

	trials, err := s.subs.ListTrialsEndingBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list trials ending: %w", err)
	}

	var (
		sent int
		errs []error
	)
	for _, sub := range trials {
		if sub.Status != StatusTrialing {
			continue
		}

		created, err := s.markers.MarkNoticeSent(ctx, sub.ID, NoticePreChargeReminder, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark reminder %s: %w", sub.ID, err))
			continue
		}
		if !created {
			continue
		}

		s.dispatch.send(ctx, NoticeFor(NoticePreChargeReminder, sub))
		sent++
	}

	s.opts.metrics.sweep("trial_reminder", sent)
	if len(errs) > 0 {
		s.log.ErrorContext(ctx, "trial reminder sweep incomplete", logger.Errors(errs...))
	}
	return sent, errors.Join(errs...)
}

// PurgeSignupAttempts deletes attempts older than the retention period,
// which is never shorter than the abuse detection window.
func (s *Sweeper) PurgeSignupAttempts(ctx context.Context) (int64, error) {
	cutoff := s.opts.clock().Add(-s.opts.config.AttemptRetention)
	n, err := s.attempts.PurgeSignupAttempts(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge signup attempts: %w", err)
	}
	if n > 0 {
		s.log.InfoContext(ctx, "signup attempts purged", slog.Int64("count", n))
	}
	return n, nil
}
