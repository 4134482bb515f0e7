package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/dmitrymomot/hearth/svc/billing"
)

// Processor implements billing.Processor on top of the Stripe API.
type Processor struct {
	api              *client.API
	webhookSecret    string
	webhookTolerance time.Duration
	logger           *slog.Logger
}

var _ billing.Processor = (*Processor)(nil)

type options struct {
	backendURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Processor.
type Option func(*options)

// WithBackendURL points the client at a different API host. Used by tests
// and stripe-mock.
func WithBackendURL(url string) Option {
	return func(o *options) { o.backendURL = url }
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a Stripe-backed processor.
func New(cfg Config, opts ...Option) (*Processor, error) {
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" {
		return nil, ErrMissingCredentials
	}

	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	bc := &stripe.BackendConfig{
		HTTPClient:        o.httpClient,
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if o.backendURL != "" {
		bc.URL = stripe.String(o.backendURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}

	return &Processor{
		api:              api,
		webhookSecret:    cfg.WebhookSecret,
		webhookTolerance: tolerance,
		logger:           o.logger,
	}, nil
}

func (p *Processor) CreateCustomer(ctx context.Context, params billing.CustomerParams) (string, error) {
	cp := &stripe.CustomerParams{Email: stripe.String(params.Email)}
	if params.Name != "" {
		cp.Name = stripe.String(params.Name)
	}
	cp.Context = ctx
	if params.IdempotencyKey != "" {
		cp.SetIdempotencyKey(params.IdempotencyKey)
	}

	c, err := p.api.Customers.New(cp)
	if err != nil {
		return "", apiError("create customer", err)
	}
	return c.ID, nil
}

// AttachPaymentMethod attaches the payment method and makes it the default
// for invoices.
func (p *Processor) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodRef string) error {
	ap := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	ap.Context = ctx
	if _, err := p.api.PaymentMethods.Attach(paymentMethodRef, ap); err != nil {
		return apiError("attach payment method", err)
	}

	up := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodRef),
		},
	}
	up.Context = ctx
	if _, err := p.api.Customers.Update(customerID, up); err != nil {
		return apiError("set default payment method", err)
	}
	return nil
}

func (p *Processor) CreateTrialSubscription(ctx context.Context, params billing.TrialSubscriptionParams) (billing.SubscriptionRef, error) {
	sp := &stripe.SubscriptionParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(params.PriceID)},
		},
		TrialPeriodDays: stripe.Int64(int64(params.TrialDays)),
	}
	if params.PaymentMethodRef != "" {
		sp.DefaultPaymentMethod = stripe.String(params.PaymentMethodRef)
	}
	for k, v := range params.Metadata {
		sp.AddMetadata(k, v)
	}
	sp.Context = ctx
	if params.IdempotencyKey != "" {
		sp.SetIdempotencyKey(params.IdempotencyKey)
	}

	sub, err := p.api.Subscriptions.New(sp)
	if err != nil {
		return billing.SubscriptionRef{}, apiError("create subscription", err)
	}

	ref := billing.SubscriptionRef{ID: sub.ID, TrialEndsAt: unix(sub.TrialEnd)}
	if status, ok := billing.MapProcessorStatus(string(sub.Status)); ok {
		ref.Status = status
	}
	return ref, nil
}

func (p *Processor) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (billing.Session, error) {
	cp := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(params.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: params.Metadata,
		},
	}
	if params.TrialDays > 0 {
		cp.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(params.TrialDays))
	}
	if params.CustomerID != "" {
		cp.Customer = stripe.String(params.CustomerID)
	} else if params.Email != "" {
		cp.CustomerEmail = stripe.String(params.Email)
	}
	for k, v := range params.Metadata {
		cp.AddMetadata(k, v)
	}
	cp.Context = ctx

	s, err := p.api.CheckoutSessions.New(cp)
	if err != nil {
		return billing.Session{}, apiError("create checkout session", err)
	}
	return billing.Session{ID: s.ID, URL: s.URL, ExpiresAt: unix(s.ExpiresAt)}, nil
}

func (p *Processor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (billing.Session, error) {
	bp := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	bp.Context = ctx

	s, err := p.api.BillingPortalSessions.New(bp)
	if err != nil {
		return billing.Session{}, apiError("create portal session", err)
	}
	return billing.Session{ID: s.ID, URL: s.URL}, nil
}

func (p *Processor) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	sp := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	sp.Context = ctx
	if _, err := p.api.Subscriptions.Update(subscriptionID, sp); err != nil {
		return apiError("cancel at period end", err)
	}
	return nil
}

func (p *Processor) CancelImmediately(ctx context.Context, subscriptionID string) error {
	cp := &stripe.SubscriptionCancelParams{}
	cp.Context = ctx
	if _, err := p.api.Subscriptions.Cancel(subscriptionID, cp); err != nil {
		return apiError("cancel subscription", err)
	}
	return nil
}

// apiError wraps a Stripe error with billing.ErrProcessor, keeping the
// Stripe error code in the message.
func apiError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return errors.Join(billing.ErrProcessor, fmt.Errorf("stripe: %s: %s (%s): %w", op, se.Code, se.Type, err))
	}
	return errors.Join(billing.ErrProcessor, fmt.Errorf("stripe: %s: %w", op, err))
}

func unix(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
