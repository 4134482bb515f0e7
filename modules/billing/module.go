package billing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/hearth/handler"
	"github.com/dmitrymomot/hearth/pkg/binder"
	"github.com/dmitrymomot/hearth/pkg/clientip"
	"github.com/dmitrymomot/hearth/pkg/fingerprint"
	"github.com/dmitrymomot/hearth/pkg/jwt"
	"github.com/dmitrymomot/hearth/pkg/logger"
	"github.com/dmitrymomot/hearth/pkg/ratelimiter"
	core "github.com/dmitrymomot/hearth/svc/billing"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Signup    *core.SignupService
	Accounts  *core.AccountService
	Gate      *core.Gate
	Processor core.Processor
	Tokens    *jwt.Service
}

// Module serves the subscription endpoints.
type Module struct {
	cfg     Config
	deps    Deps
	ips     *clientip.Resolver
	limiter ratelimiter.Limiter
	log     *slog.Logger
	errs    handler.ErrorHandler
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.log = l
		}
	}
}

// WithIPResolver sets how client addresses are derived. The default trusts
// no forwarding headers.
func WithIPResolver(r *clientip.Resolver) Option {
	return func(m *Module) {
		if r != nil {
			m.ips = r
		}
	}
}

// WithSignupLimiter throttles POST /trial-signup per client address.
func WithSignupLimiter(l ratelimiter.Limiter) Option {
	return func(m *Module) { m.limiter = l }
}

// New creates the module.
func New(cfg Config, deps Deps, opts ...Option) *Module {
	if deps.Signup == nil || deps.Accounts == nil || deps.Gate == nil {
		panic("billing module: signup, account and gate services are required")
	}
	if deps.Processor == nil {
		panic("billing module: processor cannot be nil")
	}
	if deps.Tokens == nil {
		panic("billing module: token service cannot be nil")
	}
	if cfg.MaxEventBytes <= 0 {
		cfg.MaxEventBytes = binder.DefaultMaxJSONSize
	}

	m := &Module{
		cfg:  cfg,
		deps: deps,
		ips:  clientip.New(),
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.Component("billing_http"))
	m.errs = handler.NewErrorHandler(m.log, classify)
	return m
}

// Handle returns the module router.
func (m *Module) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(m.ips.Middleware)
	r.Use(fingerprint.Middleware)

	r.Group(func(r chi.Router) {
		if m.limiter != nil {
			r.Use(ratelimiter.Middleware(m.limiter,
				func(r *http.Request) string { return clientip.FromContext(r.Context()) },
				ratelimiter.WithDeniedHandler(func(w http.ResponseWriter, r *http.Request, _ ratelimiter.Result) {
					m.errs(handler.NewContext(w, r), handler.ErrTooManyRequests.WithMessage("Too many signup attempts, please try again later"))
				}),
				ratelimiter.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
					m.errs(handler.NewContext(w, r), err)
				}),
			))
		}
		r.Post("/trial-signup", handler.Wrap(m.trialSignup,
			handler.WithBinders[signupRequest](binder.JSON()),
			handler.WithErrorHandler[signupRequest](m.errs),
		))
	})

	r.Post("/create-checkout-session", handler.Wrap(m.checkoutSession,
		handler.WithBinders[checkoutRequest](binder.JSON()),
		handler.WithErrorHandler[checkoutRequest](m.errs),
	))

	r.Post("/event-delivery", handler.Wrap(m.eventDelivery,
		handler.WithBinders[delivery](m.bindDelivery),
		handler.WithErrorHandler[delivery](m.errs),
	))

	r.Group(func(r chi.Router) {
		r.Use(jwt.Middleware(m.deps.Tokens, func(w http.ResponseWriter, r *http.Request, err error) {
			m.errs(handler.NewContext(w, r), err)
		}))

		r.Post("/cancel", handler.Wrap(m.cancel,
			handler.WithBinders[cancelRequest](binder.JSON(binder.AllowEmptyBody())),
			handler.WithErrorHandler[cancelRequest](m.errs),
		))
		r.Get("/status", handler.Wrap(m.status,
			handler.WithErrorHandler[struct{}](m.errs),
		))
		r.Post("/billing-portal-session", handler.Wrap(m.portalSession,
			handler.WithErrorHandler[struct{}](m.errs),
		))
	})

	return r
}

func (m *Module) trialSignup(ctx handler.Context, req signupRequest) handler.Response {
	r := ctx.Request()

	device := req.DeviceFingerprint
	if device == "" {
		device = fingerprint.FromContext(ctx)
	}

	res, err := m.deps.Signup.CreateTrial(ctx, core.TrialRequest{
		Email:            req.Email,
		Name:             req.Name,
		Tier:             req.Tier,
		Interval:         core.Interval(req.BillingInterval),
		PaymentMethodRef: req.PaymentMethodRef,
		TermsAccepted:    req.TermsAccepted,
		IP:               clientip.FromContext(ctx),
		UserAgent:        r.UserAgent(),
		Fingerprint:      device,
	})
	if err != nil {
		return handler.Fail(err)
	}

	body := signupResponse{SubscriberID: res.SubscriberID, TrialEndsAt: res.TrialEndsAt}
	token, cred, err := m.deps.Tokens.Issue(res.SubscriberID)
	if err != nil {
		// The trial exists; the client can still sign in later.
		m.log.ErrorContext(ctx, "failed to issue access token", logger.SubscriberID(res.SubscriberID), logger.Error(err))
	} else {
		body.AccessToken = token
		body.AccessTokenExpiresAt = cred.ExpiresAt
	}
	return handler.JSON(body, handler.WithJSONStatus(http.StatusCreated))
}

func (m *Module) checkoutSession(ctx handler.Context, req checkoutRequest) handler.Response {
	url, err := m.deps.Accounts.CheckoutSession(ctx, core.CheckoutRequest{
		Email:      req.Email,
		Tier:       req.Tier,
		Interval:   core.Interval(req.BillingInterval),
		SuccessURL: m.cfg.CheckoutSuccessURL,
		CancelURL:  m.cfg.CheckoutCancelURL,
	})
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(urlResponse{URL: url})
}

func (m *Module) cancel(ctx handler.Context, req cancelRequest) handler.Response {
	subscriberID := subscriber(ctx)
	if err := m.deps.Accounts.Cancel(ctx, subscriberID, req.Reason); err != nil {
		return handler.Fail(err)
	}
	view, err := m.deps.Accounts.Status(ctx, subscriberID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(view)
}

func (m *Module) status(ctx handler.Context, _ struct{}) handler.Response {
	view, err := m.deps.Accounts.Status(ctx, subscriber(ctx))
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(view)
}

func (m *Module) portalSession(ctx handler.Context, _ struct{}) handler.Response {
	url, err := m.deps.Accounts.PortalSession(ctx, subscriber(ctx), m.cfg.PortalReturnURL)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(urlResponse{URL: url})
}

type delivery struct {
	payload []byte
	header  http.Header
}

// bindDelivery reads the raw event body. The signature covers the exact
// bytes, so nothing is decoded here.
func (m *Module) bindDelivery(r *http.Request, v any) error {
	d, ok := v.(*delivery)
	if !ok {
		return fmt.Errorf("bind delivery: unexpected target %T", v)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, m.cfg.MaxEventBytes+1))
	if err != nil {
		return handler.ErrBadRequest.WithMessage("Could not read event body")
	}
	if int64(len(body)) > m.cfg.MaxEventBytes {
		return handler.ErrRequestEntityTooLarge
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return handler.ErrBadRequest.WithMessage("Event body is empty")
	}
	d.payload = body
	d.header = r.Header
	return nil
}

func (m *Module) eventDelivery(ctx handler.Context, d delivery) handler.Response {
	ev, err := m.deps.Processor.ParseEvent(ctx, d.payload, d.header)
	if err != nil {
		// Malformed or unsigned deliveries are never written to the ledger.
		return handler.Fail(errors.Join(errInvalidSignature, err))
	}

	outcome, err := m.deps.Gate.Ingest(ctx, ev)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(eventReceipt{Received: true, Outcome: string(outcome)})
}

func subscriber(ctx handler.Context) string {
	cred, _ := jwt.CredentialFromContext(ctx)
	return cred.SubscriberID
}
