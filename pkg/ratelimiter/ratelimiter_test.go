package ratelimiter_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hearth/pkg/ratelimiter"
	"github.com/dmitrymomot/hearth/pkg/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var cfg = ratelimiter.Config{Capacity: 3, RefillRate: 1, RefillInterval: time.Minute}

func TestNewBucketValidation(t *testing.T) {
	t.Parallel()

	for name, c := range map[string]ratelimiter.Config{
		"capacity": {Capacity: 0, RefillRate: 1, RefillInterval: time.Second},
		"rate":     {Capacity: 1, RefillRate: 0, RefillInterval: time.Second},
		"interval": {Capacity: 1, RefillRate: 1},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), c)
			assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
		})
	}
}

func TestBucketWithMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("burst then deny then refill", func(t *testing.T) {
		t.Parallel()
		clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(ratelimiter.WithClock(clock.Now)), cfg)
		require.NoError(t, err)

		for i := range cfg.Capacity {
			res, err := b.Allow(ctx, "192.0.2.1")
			require.NoError(t, err)
			assert.True(t, res.Allowed(), "request %d", i)
		}

		res, err := b.Allow(ctx, "192.0.2.1")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Equal(t, time.Minute, res.RetryAfter(clock.Now()))

		other, err := b.Allow(ctx, "192.0.2.2")
		require.NoError(t, err)
		assert.True(t, other.Allowed(), "keys are independent")

		clock.Advance(2 * time.Minute)
		res, err = b.Allow(ctx, "192.0.2.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
		assert.Equal(t, 0, res.Remaining)
	})

	t.Run("refill capped at capacity", func(t *testing.T) {
		t.Parallel()
		clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(ratelimiter.WithClock(clock.Now)), cfg)
		require.NoError(t, err)

		_, err = b.Allow(ctx, "k")
		require.NoError(t, err)
		clock.Advance(24 * time.Hour)

		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, cfg.Capacity-1, res.Remaining)
	})

	t.Run("reset", func(t *testing.T) {
		t.Parallel()
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), cfg)
		require.NoError(t, err)

		_, err = b.AllowN(ctx, "k", cfg.Capacity)
		require.NoError(t, err)
		require.NoError(t, b.Reset(ctx, "k"))

		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, cfg.Capacity-1, res.Remaining)
	})

	t.Run("non positive n", func(t *testing.T) {
		t.Parallel()
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), cfg)
		require.NoError(t, err)
		_, err = b.AllowN(ctx, "k", 0)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)
	})

	t.Run("concurrent callers share one budget", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(time.Hour))
		defer store.Close()
		b, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 10, RefillRate: 1, RefillInterval: time.Hour})
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := b.Allow(ctx, "shared")
				if err == nil && res.Allowed() {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 10, allowed)
	})
}

type failingStore struct{}

func (failingStore) ConsumeTokens(context.Context, string, int, ratelimiter.Config) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

func (failingStore) Reset(context.Context, string) error { return nil }

func TestBucketStoreFailure(t *testing.T) {
	t.Parallel()

	b, err := ratelimiter.NewBucket(failingStore{}, cfg)
	require.NoError(t, err)
	_, err = b.Allow(context.Background(), "k")
	assert.ErrorIs(t, err, ratelimiter.ErrStoreUnavailable)
}

func TestComposite(t *testing.T) {
	t.Parallel()

	fixed := func(s string) ratelimiter.KeyFunc { return func(*http.Request) string { return s } }
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.Equal(t, "signup:192.0.2.1", ratelimiter.Composite(fixed("signup"), fixed(""), fixed("192.0.2.1"))(r))
	assert.Empty(t, ratelimiter.Composite(fixed(""))(r))

	long := ratelimiter.Composite(fixed(strings.Repeat("a", 80)))(r)
	assert.LessOrEqual(t, len(long), 13)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) })
	byRemote := func(r *http.Request) string { return r.RemoteAddr }

	t.Run("denies after burst", func(t *testing.T) {
		t.Parallel()
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), cfg)
		require.NoError(t, err)

		var deniedCalls int
		h := ratelimiter.Middleware(b, byRemote, ratelimiter.WithDeniedHandler(
			func(w http.ResponseWriter, _ *http.Request, res ratelimiter.Result) {
				deniedCalls++
				assert.False(t, res.Allowed())
				w.WriteHeader(http.StatusTooManyRequests)
			},
		))(ok)

		codes := make([]int, 0, 4)
		var last *httptest.ResponseRecorder
		for range 4 {
			last = httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/trial-signup", nil)
			r.RemoteAddr = "192.0.2.1:1"
			h.ServeHTTP(last, r)
			codes = append(codes, last.Code)
		}

		assert.Equal(t, []int{201, 201, 201, 429}, codes)
		assert.Equal(t, 1, deniedCalls)
		assert.Equal(t, "3", last.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, last.Header().Get("Retry-After"))
	})

	t.Run("empty key bypasses", func(t *testing.T) {
		t.Parallel()
		h := ratelimiter.Middleware(nil, func(*http.Request) string { return "" })(ok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("store error", func(t *testing.T) {
		t.Parallel()
		b, err := ratelimiter.NewBucket(failingStore{}, cfg)
		require.NoError(t, err)

		var gotErr error
		h := ratelimiter.Middleware(b, byRemote, ratelimiter.WithErrorHandler(
			func(w http.ResponseWriter, _ *http.Request, err error) {
				gotErr = err
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		))(ok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.ErrorIs(t, gotErr, ratelimiter.ErrStoreUnavailable)
	})
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("HEARTH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("HEARTH_TEST_REDIS_URL is not set")
	}
	ctx := context.Background()

	client, err := redis.Connect(ctx, redis.Config{ConnectionURL: url, RetryAttempts: 1, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	b, err := ratelimiter.NewBucket(ratelimiter.NewRedisStore(client, "hearth:test:rl:"), cfg)
	require.NoError(t, err)

	key := uuid.NewString()
	for range cfg.Capacity {
		res, err := b.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	}
	res, err := b.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed())

	require.NoError(t, b.Reset(ctx, key))
	res, err = b.Allow(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, cfg.Capacity-1, res.Remaining)
}
