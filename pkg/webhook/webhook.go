package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeliveryIDHeader is constant across the retries of one Send call so
// receivers can deduplicate.
const DeliveryIDHeader = "Hearth-Delivery-Id"

// Sender posts signed JSON payloads with retries.
type Sender struct {
	client      *http.Client
	secret      string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	breaker     *CircuitBreaker
	now         func() time.Time
}

type Option func(*Sender)

// WithSecret signs every request with SignatureHeader.
func WithSecret(secret string) Option {
	return func(s *Sender) { s.secret = secret }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		if c != nil {
			s.client = c
		}
	}
}

// WithRetry sets the attempt count and the exponential backoff bounds.
func WithRetry(attempts int, base, maxDelay time.Duration) Option {
	return func(s *Sender) {
		s.maxAttempts = max(1, attempts)
		s.baseDelay = base
		s.maxDelay = maxDelay
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(s *Sender) { s.breaker = cb }
}

func NewSender(opts ...Option) *Sender {
	s := &Sender{
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    10 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send marshals data and posts it to endpoint. 4xx responses other than
// 408, 425 and 429 are permanent and not retried.
func (s *Sender) Send(ctx context.Context, endpoint string, data any) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, endpoint)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if s.breaker != nil && !s.breaker.Allow() {
		return ErrCircuitOpen
	}

	deliveryID := uuid.NewString()
	var lastErr error
	for attempt := range s.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrDeliveryFailed, ctx.Err())
			case <-time.After(s.backoff(attempt)):
			}
		}

		status, err := s.post(ctx, endpoint, deliveryID, payload)
		if err == nil {
			if s.breaker != nil {
				s.breaker.RecordSuccess()
			}
			return nil
		}
		if s.breaker != nil {
			s.breaker.RecordFailure()
		}
		if permanent(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, s.maxAttempts, lastErr)
}

func (s *Sender) post(ctx context.Context, endpoint, deliveryID string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hearth-webhook/1")
	req.Header.Set(DeliveryIDHeader, deliveryID)
	if s.secret != "" {
		sig, err := Sign(s.secret, payload, s.now())
		if err != nil {
			return 0, err
		}
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return resp.StatusCode, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.Join(strings.Fields(string(body)), " ")
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return resp.StatusCode, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, msg)
}

// backoff doubles per attempt up to maxDelay with up to 20% jitter.
func (s *Sender) backoff(attempt int) time.Duration {
	d := s.baseDelay << (attempt - 1)
	if d <= 0 || d > s.maxDelay {
		d = s.maxDelay
	}
	if d <= 0 {
		return 0
	}
	return d - time.Duration(rand.Int64N(int64(d)/5+1))
}

func permanent(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}
