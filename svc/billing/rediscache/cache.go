// Package rediscache puts a Redis read-through cache in front of the
// subscriber reads of a billing.Store.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/hearth/pkg/logger"
	"github.com/dmitrymomot/hearth/svc/billing"
)

const (
	keyPrefix  = "hearth:subscriber:"
	defaultTTL = 30 * time.Second
)

// Store serves GetSubscriber from Redis and invalidates the entry after
// every subscriber write made through it or through Fresh. Writers that go
// straight to the underlying store leave entries stale until the TTL runs
// out. Cache failures are logged and fall back to the underlying store.
type Store struct {
	billing.Store
	client redis.UniversalClient
	ttl    time.Duration
	log    *slog.Logger
}

// Option configures the cache.
type Option func(*Store)

// WithTTL bounds how long an entry is served.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger for cache failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func New(next billing.Store, client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		Store:  next,
		client: client,
		ttl:    defaultTTL,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("subscriber_cache"))
	return s
}

// Fresh returns a view of the store that reads past the cache while still
// invalidating it on writes. Lifecycle decisions must be made on fresh reads.
func (s *Store) Fresh() billing.Store {
	return fresh{s}
}

func (s *Store) GetSubscriber(ctx context.Context, id string) (billing.Subscriber, error) {
	raw, err := s.client.Get(ctx, key(id)).Bytes()
	switch {
	case err == nil:
		var sub billing.Subscriber
		if err := json.Unmarshal(raw, &sub); err == nil {
			return sub, nil
		}
		s.log.WarnContext(ctx, "dropping undecodable cache entry", logger.SubscriberID(id))
	case !errors.Is(err, redis.Nil):
		s.log.WarnContext(ctx, "subscriber cache read failed", logger.SubscriberID(id), logger.Error(err))
	}

	sub, err := s.Store.GetSubscriber(ctx, id)
	if err != nil {
		return billing.Subscriber{}, err
	}
	s.put(ctx, sub)
	return sub, nil
}

func (s *Store) CreateSubscriber(ctx context.Context, sub billing.Subscriber) error {
	if err := s.Store.CreateSubscriber(ctx, sub); err != nil {
		return err
	}
	s.invalidate(ctx, sub.ID)
	return nil
}

func (s *Store) UpdateSubscriber(ctx context.Context, sub billing.Subscriber) error {
	if err := s.Store.UpdateSubscriber(ctx, sub); err != nil {
		return err
	}
	s.invalidate(ctx, sub.ID)
	return nil
}

func (s *Store) MarkCancelAtPeriodEnd(ctx context.Context, id, reason string, at time.Time) error {
	if err := s.Store.MarkCancelAtPeriodEnd(ctx, id, reason, at); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Store) put(ctx context.Context, sub billing.Subscriber) {
	raw, err := json.Marshal(sub)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key(sub.ID), raw, s.ttl).Err(); err != nil {
		s.log.WarnContext(ctx, "subscriber cache write failed", logger.SubscriberID(sub.ID), logger.Error(err))
	}
}

func (s *Store) invalidate(ctx context.Context, id string) {
	if err := s.client.Del(context.WithoutCancel(ctx), key(id)).Err(); err != nil {
		s.log.ErrorContext(ctx, "subscriber cache invalidation failed", logger.SubscriberID(id), logger.Error(err))
	}
}

func key(id string) string { return keyPrefix + id }

// fresh bypasses the cache on reads.
type fresh struct {
	*Store
}

func (f fresh) GetSubscriber(ctx context.Context, id string) (billing.Subscriber, error) {
	return f.Store.Store.GetSubscriber(ctx, id)
}
