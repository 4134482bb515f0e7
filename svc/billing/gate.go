package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hearth/pkg/logger"
)

// Outcome is the result of ingesting one event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFaulted   Outcome = "faulted"
)

// Gate deduplicates events by their external id before they reach the
// lifecycle, and records every processed event in the ledger.
//
// Every outcome, including a handler fault, is an acknowledgment: the caller
// should answer the processor with success. Faults are dead-lettered and
// raised as alerts instead of being redelivered.
type Gate struct {
	lifecycle   *Lifecycle
	ledger      Ledger
	deadLetters DeadLetterLog
	dispatch    dispatcher
	opts        options
	log         *slog.Logger
}

// NewGate creates an ingestion gate in front of the lifecycle.
func NewGate(lc *Lifecycle, ledger Ledger, deadLetters DeadLetterLog, notifier Notifier, opts ...Option) *Gate {
	if lc == nil {
		panic("billing: lifecycle cannot be nil")
	}
	if ledger == nil {
		panic("billing: ledger cannot be nil")
	}
	if deadLetters == nil {
		panic("billing: dead letter log cannot be nil")
	}

	o := newOptions(opts)
	log := o.logger.With(logger.Component("ingestion_gate"))
	return &Gate{
		lifecycle:   lc,
		ledger:      ledger,
		deadLetters: deadLetters,
		dispatch:    dispatcher{notifier: notifier, timeout: o.config.NotifyTimeout, log: log, metrics: o.metrics},
		opts:        o,
		log:         log,
	}
}

// Ingest applies an authenticated event exactly once per external id.
// The returned error is non-nil only when the gate itself cannot read or
// write the ledger; the event should then be redelivered.
func (g *Gate) Ingest(ctx context.Context, ev Event) (Outcome, error) {
	if ev.ID == "" {
		return "", errors.Join(ErrValidation, errors.New("event id is required"))
	}

	log := g.log.With(logger.ExternalEventID(ev.ID), logger.EventType(string(ev.Type)))

	seen, err := g.ledger.EventRecorded(ctx, ev.ID)
	if err != nil {
		return "", fmt.Errorf("lookup event %s: %w", ev.ID, err)
	}
	if seen {
		log.DebugContext(ctx, "duplicate event skipped")
		g.opts.metrics.event(ev.Type, OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	applied, applyErr := g.lifecycle.Apply(ctx, ev)

	outcome := OutcomeProcessed
	entry := LedgerEntry{
		ID:           uuid.NewString(),
		ExternalID:   ev.ID,
		Type:         ev.Type,
		SubscriberID: applied.SubscriberID,
		StatusBefore: applied.Before,
		StatusAfter:  applied.After,
		Metadata:     ev.metadata(),
		CreatedAt:    g.opts.clock(),
	}
	switch {
	case applyErr != nil:
		outcome = OutcomeFaulted
		entry.Error = applyErr.Error()
	case applied.Ignored != "":
		outcome = OutcomeIgnored
		entry.Metadata["ignored"] = applied.Ignored
	}

	if err := g.ledger.AppendEvent(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			// A concurrent delivery of the same event finished first.
			log.InfoContext(ctx, "event recorded by a concurrent delivery")
			g.opts.metrics.event(ev.Type, OutcomeDuplicate)
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("append event %s: %w", ev.ID, err)
	}

	g.opts.metrics.event(ev.Type, outcome)

	switch outcome {
	case OutcomeFaulted:
		g.fault(ctx, log, ev, applyErr)
	case OutcomeIgnored:
		log.WarnContext(ctx, "event has no legal transition", slog.String("reason", applied.Ignored))
	default:
		log.InfoContext(ctx, "event processed",
			logger.SubscriberID(applied.SubscriberID),
			slog.String("from", string(applied.Before)),
			slog.String("to", string(applied.After)),
		)
		g.dispatch.send(ctx, applied.Notices...)
	}

	return outcome, nil
}

func (g *Gate) fault(ctx context.Context, log *slog.Logger, ev Event, cause error) {
	g.opts.metrics.handlerFault(ev.Type)
	log.ErrorContext(ctx, "event handler failed; event acknowledged and dead-lettered",
		logger.Alert(),
		logger.Error(cause),
	)

	dl := DeadLetter{
		ID:         uuid.NewString(),
		ExternalID: ev.ID,
		Type:       ev.Type,
		Payload:    ev.Payload,
		Error:      cause.Error(),
		CreatedAt:  g.opts.clock(),
	}
	if err := g.deadLetters.AddDeadLetter(ctx, dl); err != nil {
		log.ErrorContext(ctx, "failed to write dead letter", logger.Alert(), logger.Error(err))
	}
}
