package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dmitrymomot/hearth/pkg/id"
	"github.com/dmitrymomot/hearth/pkg/webhook"
	"github.com/dmitrymomot/hearth/svc/billing"
)

const (
	prefixCustomer     id.Prefix = "cus"
	prefixSubscription id.Prefix = "sub"
	prefixSession      id.Prefix = "cs"
	prefixPortal       id.Prefix = "bps"
)

var (
	ErrMissingSecret       = errors.New("local processor: webhook secret is required")
	ErrUnknownCustomer     = errors.New("local processor: unknown customer")
	ErrUnknownSubscription = errors.New("local processor: unknown subscription")
)

// Config configures the local processor.
type Config struct {
	WebhookSecret string        `env:"LOCAL_PROCESSOR_WEBHOOK_SECRET" envDefault:"local-dev-secret"`
	Tolerance     time.Duration `env:"LOCAL_PROCESSOR_WEBHOOK_TOLERANCE" envDefault:"5m"`
	PortalURL     string        `env:"LOCAL_PROCESSOR_PORTAL_URL" envDefault:"http://localhost:8080/dev/portal"`
}

type subscription struct {
	customerID        string
	status            billing.Status
	cancelAtPeriodEnd bool
}

// Processor is an in-memory billing.Processor for development and tests.
// Events are delivered as JSON signed with the pkg/webhook scheme, so a
// local script can drive the lifecycle without a real processor account.
type Processor struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	customers     map[string]string // id -> email
	paymentMethod map[string]string // customer id -> payment method
	subs          map[string]*subscription
	idempotent    map[string]string // idempotency key -> created id
}

var _ billing.Processor = (*Processor)(nil)

// Option configures a Processor.
type Option func(*Processor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a local processor.
func New(cfg Config, opts ...Option) (*Processor, error) {
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingSecret
	}
	p := &Processor{
		cfg:           cfg,
		now:           time.Now,
		customers:     make(map[string]string),
		paymentMethod: make(map[string]string),
		subs:          make(map[string]*subscription),
		idempotent:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Processor) CreateCustomer(ctx context.Context, params billing.CustomerParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Join(billing.ErrProcessor, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if cid, ok := p.idempotent[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		return cid, nil
	}
	cid := id.New(prefixCustomer)
	p.customers[cid] = params.Email
	if params.IdempotencyKey != "" {
		p.idempotent[params.IdempotencyKey] = cid
	}
	return cid, nil
}

func (p *Processor) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodRef string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(billing.ErrProcessor, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.customers[customerID]; !ok {
		return errors.Join(billing.ErrProcessor, fmt.Errorf("%w: %s", ErrUnknownCustomer, customerID))
	}
	p.paymentMethod[customerID] = paymentMethodRef
	return nil
}

func (p *Processor) CreateTrialSubscription(ctx context.Context, params billing.TrialSubscriptionParams) (billing.SubscriptionRef, error) {
	if err := ctx.Err(); err != nil {
		return billing.SubscriptionRef{}, errors.Join(billing.ErrProcessor, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.customers[params.CustomerID]; !ok {
		return billing.SubscriptionRef{}, errors.Join(billing.ErrProcessor, fmt.Errorf("%w: %s", ErrUnknownCustomer, params.CustomerID))
	}

	trialEnds := p.now().UTC().AddDate(0, 0, params.TrialDays)
	if sid, ok := p.idempotent[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		s := p.subs[sid]
		return billing.SubscriptionRef{ID: sid, Status: s.status, TrialEndsAt: &trialEnds}, nil
	}

	sid := id.New(prefixSubscription)
	p.subs[sid] = &subscription{customerID: params.CustomerID, status: billing.StatusTrialing}
	if params.IdempotencyKey != "" {
		p.idempotent[params.IdempotencyKey] = sid
	}
	return billing.SubscriptionRef{ID: sid, Status: billing.StatusTrialing, TrialEndsAt: &trialEnds}, nil
}

// CreateCheckoutSession returns the success URL with a session id appended.
// Completing the checkout is left to a signed checkout-completed event.
func (p *Processor) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (billing.Session, error) {
	if err := ctx.Err(); err != nil {
		return billing.Session{}, errors.Join(billing.ErrProcessor, err)
	}
	u, err := url.Parse(params.SuccessURL)
	if err != nil {
		return billing.Session{}, errors.Join(billing.ErrProcessor, err)
	}
	sid := id.New(prefixSession)
	q := u.Query()
	q.Set("session_id", sid)
	u.RawQuery = q.Encode()

	expires := p.now().UTC().Add(24 * time.Hour)
	return billing.Session{ID: sid, URL: u.String(), ExpiresAt: &expires}, nil
}

func (p *Processor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (billing.Session, error) {
	if err := ctx.Err(); err != nil {
		return billing.Session{}, errors.Join(billing.ErrProcessor, err)
	}
	p.mu.Lock()
	_, ok := p.customers[customerID]
	p.mu.Unlock()
	if !ok {
		return billing.Session{}, errors.Join(billing.ErrProcessor, fmt.Errorf("%w: %s", ErrUnknownCustomer, customerID))
	}

	u, err := url.Parse(p.cfg.PortalURL)
	if err != nil {
		return billing.Session{}, errors.Join(billing.ErrProcessor, err)
	}
	q := u.Query()
	q.Set("customer", customerID)
	q.Set("return_url", returnURL)
	u.RawQuery = q.Encode()
	return billing.Session{ID: id.New(prefixPortal), URL: u.String()}, nil
}

func (p *Processor) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	return p.withSubscription(ctx, subscriptionID, func(s *subscription) {
		s.cancelAtPeriodEnd = true
	})
}

func (p *Processor) CancelImmediately(ctx context.Context, subscriptionID string) error {
	return p.withSubscription(ctx, subscriptionID, func(s *subscription) {
		s.status = billing.StatusCanceled
	})
}

func (p *Processor) withSubscription(ctx context.Context, subscriptionID string, fn func(*subscription)) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(billing.ErrProcessor, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.subs[subscriptionID]
	if !ok {
		return errors.Join(billing.ErrProcessor, fmt.Errorf("%w: %s", ErrUnknownSubscription, subscriptionID))
	}
	fn(s)
	return nil
}

// SubscriptionStatus reports the processor-side status of a subscription and
// whether it is set to cancel at period end.
func (p *Processor) SubscriptionStatus(subscriptionID string) (billing.Status, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.subs[subscriptionID]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownSubscription, subscriptionID)
	}
	return s.status, s.cancelAtPeriodEnd, nil
}

// Event is the wire format of a local event delivery.
type Event struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	OccurredAt     time.Time  `json:"occurred_at"`
	CustomerID     string     `json:"customer_id,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Status         string     `json:"status,omitempty"`
	Email          string     `json:"email,omitempty"`
	Name           string     `json:"name,omitempty"`
	Tier           string     `json:"tier,omitempty"`
	Interval       string     `json:"interval,omitempty"`
	TrialEndsAt    *time.Time `json:"trial_ends_at,omitempty"`
	PeriodEndsAt   *time.Time `json:"period_ends_at,omitempty"`
}

// Sign encodes ev and returns the payload with its signature header value.
func (p *Processor) Sign(ev Event) ([]byte, string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, "", err
	}
	sig, err := webhook.Sign(p.cfg.WebhookSecret, payload, p.now())
	if err != nil {
		return nil, "", err
	}
	return payload, sig, nil
}

// ParseEvent verifies the signature header and decodes a local event.
func (p *Processor) ParseEvent(ctx context.Context, payload []byte, header http.Header) (billing.Event, error) {
	if err := ctx.Err(); err != nil {
		return billing.Event{}, err
	}
	if err := webhook.Verify(p.cfg.WebhookSecret, payload, header.Get(webhook.SignatureHeader), p.cfg.Tolerance, p.now()); err != nil {
		return billing.Event{}, errors.Join(billing.ErrSignatureInvalid, err)
	}

	var raw Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return billing.Event{}, errors.Join(billing.ErrSignatureInvalid, fmt.Errorf("decode event: %w", err))
	}
	if raw.ID == "" || raw.Type == "" {
		return billing.Event{}, errors.Join(billing.ErrSignatureInvalid, errors.New("event id and type are required"))
	}

	ev := billing.Event{
		ID:             raw.ID,
		Type:           billing.EventType(raw.Type),
		OccurredAt:     raw.OccurredAt,
		CustomerID:     raw.CustomerID,
		SubscriptionID: raw.SubscriptionID,
		RawStatus:      raw.Status,
		Email:          raw.Email,
		Name:           raw.Name,
		Tier:           raw.Tier,
		Interval:       billing.Interval(raw.Interval),
		TrialEndsAt:    raw.TrialEndsAt,
		PeriodEndsAt:   raw.PeriodEndsAt,
		Payload:        payload,
	}
	if status, ok := billing.MapProcessorStatus(raw.Status); ok {
		ev.Status = status
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now().UTC()
	}
	return ev, nil
}
