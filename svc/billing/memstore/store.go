// Package memstore is an in-memory billing.Store. It enforces the same
// uniqueness rules as the Postgres store and is meant for tests and local runs.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrymomot/hearth/svc/billing"
)

type markerKey struct {
	subscriberID string
	kind         billing.NoticeKind
}

type Store struct {
	mu sync.RWMutex

	subscribers map[string]billing.Subscriber
	byCanonical map[string]string
	byCustomer  map[string]string

	events      []billing.LedgerEntry
	eventIDs    map[string]struct{}
	attempts    []billing.SignupAttempt
	markers     map[markerKey]time.Time
	feedback    []billing.CancellationFeedback
	deadLetters []billing.DeadLetter
}

var _ billing.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		subscribers: make(map[string]billing.Subscriber),
		byCanonical: make(map[string]string),
		byCustomer:  make(map[string]string),
		eventIDs:    make(map[string]struct{}),
		markers:     make(map[markerKey]time.Time),
	}
}

func (s *Store) CreateSubscriber(_ context.Context, sub billing.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[sub.ID]; ok {
		return billing.ErrDuplicateSubscriber
	}
	if _, ok := s.byCanonical[sub.CanonicalEmail]; ok {
		return billing.ErrDuplicateSubscriber
	}
	if sub.ProviderCustomerID != "" {
		if _, ok := s.byCustomer[sub.ProviderCustomerID]; ok {
			return billing.ErrDuplicateSubscriber
		}
		s.byCustomer[sub.ProviderCustomerID] = sub.ID
	}

	s.subscribers[sub.ID] = sub
	s.byCanonical[sub.CanonicalEmail] = sub.ID
	return nil
}

func (s *Store) UpdateSubscriber(_ context.Context, sub billing.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.subscribers[sub.ID]
	if !ok {
		return billing.ErrSubscriberNotFound
	}
	// The trial flag is one-way.
	sub.TrialUsed = sub.TrialUsed || prev.TrialUsed
	sub.CanonicalEmail = prev.CanonicalEmail

	if sub.ProviderCustomerID != prev.ProviderCustomerID {
		if owner, taken := s.byCustomer[sub.ProviderCustomerID]; taken && owner != sub.ID {
			return billing.ErrDuplicateSubscriber
		}
		delete(s.byCustomer, prev.ProviderCustomerID)
		if sub.ProviderCustomerID != "" {
			s.byCustomer[sub.ProviderCustomerID] = sub.ID
		}
	}

	s.subscribers[sub.ID] = sub
	return nil
}

func (s *Store) MarkCancelAtPeriodEnd(_ context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[id]
	if !ok {
		return billing.ErrSubscriberNotFound
	}
	sub.CancelAtPeriodEnd = true
	sub.CancelReason = reason
	sub.UpdatedAt = at
	s.subscribers[id] = sub
	return nil
}

func (s *Store) GetSubscriber(_ context.Context, id string) (billing.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscribers[id]
	if !ok {
		return billing.Subscriber{}, billing.ErrSubscriberNotFound
	}
	return sub, nil
}

func (s *Store) GetSubscriberByCustomer(_ context.Context, customerID string) (billing.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCustomer[customerID]
	if !ok {
		return billing.Subscriber{}, billing.ErrSubscriberNotFound
	}
	return s.subscribers[id], nil
}

func (s *Store) TrialUsedByAny(_ context.Context, emails []string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscribers {
		if !sub.TrialUsed {
			continue
		}
		if slices.Contains(emails, sub.CanonicalEmail) || slices.Contains(emails, sub.Email) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListGraceExpired(_ context.Context, now time.Time) ([]billing.Subscriber, error) {
	return s.filter(func(sub billing.Subscriber) bool {
		return sub.Status == billing.StatusPastDue &&
			sub.GracePeriodEndsAt != nil && !sub.GracePeriodEndsAt.After(now)
	}), nil
}

func (s *Store) ListTrialsEndingBetween(_ context.Context, from, to time.Time) ([]billing.Subscriber, error) {
	return s.filter(func(sub billing.Subscriber) bool {
		return sub.Status == billing.StatusTrialing && sub.TrialEndsAt != nil &&
			!sub.TrialEndsAt.Before(from) && sub.TrialEndsAt.Before(to)
	}), nil
}

func (s *Store) filter(keep func(billing.Subscriber) bool) []billing.Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []billing.Subscriber
	for _, sub := range s.subscribers {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) EventRecorded(_ context.Context, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.eventIDs[externalID]
	return ok, nil
}

func (s *Store) AppendEvent(_ context.Context, e billing.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.eventIDs[e.ExternalID]; ok {
		return billing.ErrDuplicateEvent
	}
	s.eventIDs[e.ExternalID] = struct{}{}
	s.events = append(s.events, e)
	return nil
}

func (s *Store) ListEvents(_ context.Context, subscriberID string) ([]billing.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []billing.LedgerEntry
	for _, e := range s.events {
		if subscriberID == "" || e.SubscriberID == subscriberID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) RecordSignupAttempt(_ context.Context, a billing.SignupAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, a)
	return nil
}

func (s *Store) CountDistinctEmailsByIP(_ context.Context, ip string, since time.Time) (int, error) {
	return s.countDistinct(func(a billing.SignupAttempt) bool { return a.IP == ip }, since), nil
}

func (s *Store) CountDistinctEmailsByFingerprint(_ context.Context, fingerprint string, since time.Time) (int, error) {
	return s.countDistinct(func(a billing.SignupAttempt) bool { return a.Fingerprint == fingerprint }, since), nil
}

func (s *Store) countDistinct(match func(billing.SignupAttempt) bool, since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, a := range s.attempts {
		if a.Success && match(a) && !a.CreatedAt.Before(since) {
			seen[a.CanonicalEmail] = struct{}{}
		}
	}
	return len(seen)
}

func (s *Store) PurgeSignupAttempts(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.attempts[:0]
	for _, a := range s.attempts {
		if !a.CreatedAt.Before(before) {
			kept = append(kept, a)
		}
	}
	purged := int64(len(s.attempts) - len(kept))
	s.attempts = kept
	return purged, nil
}

// Attempts returns a copy of the attempt log.
func (s *Store) Attempts() []billing.SignupAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.attempts)
}

func (s *Store) MarkNoticeSent(_ context.Context, subscriberID string, kind billing.NoticeKind, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := markerKey{subscriberID, kind}
	if _, ok := s.markers[key]; ok {
		return false, nil
	}
	s.markers[key] = at
	return true, nil
}

func (s *Store) NoticeSent(_ context.Context, subscriberID string, kind billing.NoticeKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.markers[markerKey{subscriberID, kind}]
	return ok, nil
}

func (s *Store) AddCancellationFeedback(_ context.Context, f billing.CancellationFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feedback = append(s.feedback, f)
	return nil
}

// Feedback returns a copy of the stored cancellation feedback.
func (s *Store) Feedback() []billing.CancellationFeedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.feedback)
}

func (s *Store) AddDeadLetter(_ context.Context, d billing.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deadLetters = append(s.deadLetters, d)
	return nil
}

func (s *Store) ListDeadLetters(_ context.Context, unresolvedOnly bool) ([]billing.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []billing.DeadLetter
	for _, d := range s.deadLetters {
		if unresolvedOnly && d.ResolvedAt != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) ResolveDeadLetter(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.deadLetters {
		if s.deadLetters[i].ID == id {
			s.deadLetters[i].ResolvedAt = &at
			return nil
		}
	}
	return billing.ErrDeadLetterNotFound
}
