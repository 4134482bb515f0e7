// Package pgstore is the PostgreSQL implementation of billing.Store.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/hearth/pkg/pg"
	"github.com/dmitrymomot/hearth/svc/billing"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DB
}

var _ billing.Store = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db}
}

const subscriberColumns = `id, email, canonical_email, name, status, tier, billing_interval,
	trial_starts_at, trial_ends_at, trial_used, grace_period_ends_at, cancel_at_period_end,
	cancel_reason, canceled_at, first_payment_at, next_billing_at,
	provider_customer_id, provider_sub_id, created_at, updated_at`

func (s *Store) CreateSubscriber(ctx context.Context, sub billing.Subscriber) error {
	_, err := s.db.Exec(ctx, `INSERT INTO subscribers (`+subscriberColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		sub.ID, sub.Email, sub.CanonicalEmail, sub.Name, sub.Status, sub.Tier, sub.Interval,
		sub.TrialStartsAt, sub.TrialEndsAt, sub.TrialUsed, sub.GracePeriodEndsAt, sub.CancelAtPeriodEnd,
		sub.CancelReason, sub.CanceledAt, sub.FirstPaymentAt, sub.NextBillingAt,
		nullable(sub.ProviderCustomerID), nullable(sub.ProviderSubID), sub.CreatedAt, sub.UpdatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(billing.ErrDuplicateSubscriber, err)
	}
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

// UpdateSubscriber writes every mutable column. The trial flag only moves
// from false to true and the canonical email never changes.
func (s *Store) UpdateSubscriber(ctx context.Context, sub billing.Subscriber) error {
	tag, err := s.db.Exec(ctx, `UPDATE subscribers SET
			email = $2, name = $3, status = $4, tier = $5, billing_interval = $6,
			trial_starts_at = $7, trial_ends_at = $8, trial_used = trial_used OR $9,
			grace_period_ends_at = $10, cancel_at_period_end = $11, cancel_reason = $12,
			canceled_at = $13, first_payment_at = $14, next_billing_at = $15,
			provider_customer_id = $16, provider_sub_id = $17, updated_at = $18
		WHERE id = $1`,
		sub.ID, sub.Email, sub.Name, sub.Status, sub.Tier, sub.Interval,
		sub.TrialStartsAt, sub.TrialEndsAt, sub.TrialUsed,
		sub.GracePeriodEndsAt, sub.CancelAtPeriodEnd, sub.CancelReason,
		sub.CanceledAt, sub.FirstPaymentAt, sub.NextBillingAt,
		nullable(sub.ProviderCustomerID), nullable(sub.ProviderSubID), sub.UpdatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(billing.ErrDuplicateSubscriber, err)
	}
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrSubscriberNotFound
	}
	return nil
}

func (s *Store) MarkCancelAtPeriodEnd(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE subscribers
		SET cancel_at_period_end = true, cancel_reason = $2, updated_at = $3
		WHERE id = $1`, id, reason, at)
	if err != nil {
		return fmt.Errorf("mark cancel at period end: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrSubscriberNotFound
	}
	return nil
}

func (s *Store) GetSubscriber(ctx context.Context, id string) (billing.Subscriber, error) {
	return s.getOne(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
}

func (s *Store) GetSubscriberByCustomer(ctx context.Context, customerID string) (billing.Subscriber, error) {
	return s.getOne(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE provider_customer_id = $1`, customerID)
}

func (s *Store) TrialUsedByAny(ctx context.Context, emails []string) (bool, error) {
	if len(emails) == 0 {
		return false, nil
	}
	var used bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM subscribers
			WHERE trial_used AND (canonical_email = ANY($1) OR lower(email) = ANY($1))
		)`, emails).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("check trial usage: %w", err)
	}
	return used, nil
}

func (s *Store) ListGraceExpired(ctx context.Context, now time.Time) ([]billing.Subscriber, error) {
	return s.list(ctx, `SELECT `+subscriberColumns+` FROM subscribers
		WHERE status = 'past_due' AND grace_period_ends_at <= $1
		ORDER BY id`, now)
}

func (s *Store) ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]billing.Subscriber, error) {
	return s.list(ctx, `SELECT `+subscriberColumns+` FROM subscribers
		WHERE status = 'trialing' AND trial_ends_at >= $1 AND trial_ends_at < $2
		ORDER BY id`, from, to)
}

func (s *Store) getOne(ctx context.Context, query string, args ...any) (billing.Subscriber, error) {
	sub, err := scanSubscriber(s.db.QueryRow(ctx, query, args...))
	if pg.IsNotFoundError(err) {
		return billing.Subscriber{}, billing.ErrSubscriberNotFound
	}
	if err != nil {
		return billing.Subscriber{}, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]billing.Subscriber, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []billing.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubscriber(row pgx.Row) (billing.Subscriber, error) {
	var (
		sub                    billing.Subscriber
		customerID, providerID *string
	)
	err := row.Scan(
		&sub.ID, &sub.Email, &sub.CanonicalEmail, &sub.Name, &sub.Status, &sub.Tier, &sub.Interval,
		&sub.TrialStartsAt, &sub.TrialEndsAt, &sub.TrialUsed, &sub.GracePeriodEndsAt, &sub.CancelAtPeriodEnd,
		&sub.CancelReason, &sub.CanceledAt, &sub.FirstPaymentAt, &sub.NextBillingAt,
		&customerID, &providerID, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return billing.Subscriber{}, err
	}
	sub.ProviderCustomerID = deref(customerID)
	sub.ProviderSubID = deref(providerID)
	return sub, nil
}

func (s *Store) EventRecorded(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscription_events WHERE external_id = $1)`, externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup event: %w", err)
	}
	return exists, nil
}

func (s *Store) AppendEvent(ctx context.Context, e billing.LedgerEntry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `INSERT INTO subscription_events
			(id, external_id, event_type, subscriber_id, status_before, status_after, metadata, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ExternalID, e.Type, nullable(e.SubscriberID),
		nullable(string(e.StatusBefore)), nullable(string(e.StatusAfter)),
		metadata, nullable(e.Error), e.CreatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return billing.ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, subscriberID string) ([]billing.LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, external_id, event_type, subscriber_id, status_before,
			status_after, metadata, error, created_at
		FROM subscription_events
		WHERE $1 = '' OR subscriber_id = $1
		ORDER BY created_at, id`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []billing.LedgerEntry
	for rows.Next() {
		var (
			e                               billing.LedgerEntry
			subID, before, after, errorText *string
			metadata                        []byte
		)
		if err := rows.Scan(&e.ID, &e.ExternalID, &e.Type, &subID, &before, &after, &metadata, &errorText, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
		e.SubscriberID = deref(subID)
		e.StatusBefore = billing.Status(deref(before))
		e.StatusAfter = billing.Status(deref(after))
		e.Error = deref(errorText)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
