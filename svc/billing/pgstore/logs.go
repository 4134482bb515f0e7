package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/hearth/svc/billing"
)

func (s *Store) RecordSignupAttempt(ctx context.Context, a billing.SignupAttempt) error {
	_, err := s.db.Exec(ctx, `INSERT INTO signup_attempts
			(email, canonical_email, ip_address, user_agent, fingerprint, success, block_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.Email, a.CanonicalEmail, a.IP, a.UserAgent, a.Fingerprint, a.Success, a.BlockReason, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record signup attempt: %w", err)
	}
	return nil
}

func (s *Store) CountDistinctEmailsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	return s.countDistinct(ctx, `SELECT count(DISTINCT canonical_email) FROM signup_attempts
		WHERE success AND ip_address = $1 AND created_at >= $2`, ip, since)
}

func (s *Store) CountDistinctEmailsByFingerprint(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	return s.countDistinct(ctx, `SELECT count(DISTINCT canonical_email) FROM signup_attempts
		WHERE success AND fingerprint = $1 AND created_at >= $2`, fingerprint, since)
}

func (s *Store) countDistinct(ctx context.Context, query string, key string, since time.Time) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, query, key, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count signup attempts: %w", err)
	}
	return n, nil
}

func (s *Store) PurgeSignupAttempts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM signup_attempts WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge signup attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkNoticeSent inserts the marker and reports whether this call created it.
func (s *Store) MarkNoticeSent(ctx context.Context, subscriberID string, kind billing.NoticeKind, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `INSERT INTO notice_markers (subscriber_id, kind, sent_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_id, kind) DO NOTHING`, subscriberID, kind, at)
	if err != nil {
		return false, fmt.Errorf("mark notice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) NoticeSent(ctx context.Context, subscriberID string, kind billing.NoticeKind) (bool, error) {
	var sent bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM notice_markers WHERE subscriber_id = $1 AND kind = $2
		)`, subscriberID, kind).Scan(&sent)
	if err != nil {
		return false, fmt.Errorf("lookup notice marker: %w", err)
	}
	return sent, nil
}

func (s *Store) AddCancellationFeedback(ctx context.Context, f billing.CancellationFeedback) error {
	_, err := s.db.Exec(ctx, `INSERT INTO cancellation_feedback (subscriber_id, reason, created_at)
		VALUES ($1, $2, $3)`, f.SubscriberID, f.Reason, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("add cancellation feedback: %w", err)
	}
	return nil
}

func (s *Store) AddDeadLetter(ctx context.Context, d billing.DeadLetter) error {
	_, err := s.db.Exec(ctx, `INSERT INTO dead_letters (id, external_id, event_type, payload, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, d.ID, d.ExternalID, d.Type, d.Payload, d.Error, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("add dead letter: %w", err)
	}
	return nil
}

func (s *Store) ListDeadLetters(ctx context.Context, unresolvedOnly bool) ([]billing.DeadLetter, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, external_id, event_type, payload, error, created_at, resolved_at
		FROM dead_letters
		WHERE NOT $1 OR resolved_at IS NULL
		ORDER BY created_at, id`, unresolvedOnly)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []billing.DeadLetter
	for rows.Next() {
		var d billing.DeadLetter
		if err := rows.Scan(&d.ID, &d.ExternalID, &d.Type, &d.Payload, &d.Error, &d.CreatedAt, &d.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ResolveDeadLetter(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE dead_letters SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrDeadLetterNotFound
	}
	return nil
}
