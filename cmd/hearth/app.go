package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/hearth/internal/db/migrations"
	billingmod "github.com/dmitrymomot/hearth/modules/billing"
	"github.com/dmitrymomot/hearth/pkg/clientip"
	"github.com/dmitrymomot/hearth/pkg/config"
	"github.com/dmitrymomot/hearth/pkg/cronjob"
	"github.com/dmitrymomot/hearth/pkg/email"
	"github.com/dmitrymomot/hearth/pkg/httpserver"
	"github.com/dmitrymomot/hearth/pkg/jwt"
	"github.com/dmitrymomot/hearth/pkg/logger"
	"github.com/dmitrymomot/hearth/pkg/pg"
	"github.com/dmitrymomot/hearth/pkg/ratelimiter"
	"github.com/dmitrymomot/hearth/pkg/redis"
	"github.com/dmitrymomot/hearth/pkg/requestid"
	"github.com/dmitrymomot/hearth/pkg/webhook"
	"github.com/dmitrymomot/hearth/svc/billing"
	"github.com/dmitrymomot/hearth/svc/billing/pgstore"
	"github.com/dmitrymomot/hearth/svc/billing/rediscache"
	"github.com/dmitrymomot/hearth/svc/catalog"
	"github.com/dmitrymomot/hearth/svc/notify"
	"github.com/dmitrymomot/hearth/svc/processor/local"
	stripeproc "github.com/dmitrymomot/hearth/svc/processor/stripe"
)

type app struct {
	cfg      appConfig
	log      *slog.Logger
	store    billing.Store
	registry *prometheus.Registry
	module   *billingmod.Module
	sweeper  *billing.Sweeper
	checks   []httpserver.Check
	closers  []func()
}

func newApp(ctx context.Context) (*app, error) {
	var cfg appConfig
	if err := config.Load(&cfg, config.WithEnvFiles(".env")); err != nil {
		return nil, err
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, "hearth"),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(requestid.LogAttr),
	)
	logger.SetAsDefault(log)

	a := &app{cfg: cfg, log: log}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	pool, err := pg.Connect(ctx, a.cfg.PG)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pool.Close)
	a.checks = append(a.checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})

	if err := pg.Migrate(ctx, pool, a.cfg.PG, migrations.FS, a.log); err != nil {
		return err
	}

	a.store = pgstore.New(pool)
	// Account reads may come from the cache. Everything that decides or
	// writes subscriber state reads past it, and every write invalidates it.
	accounts, writer := a.store, a.store

	var limiterStore ratelimiter.Store
	if a.cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, a.cfg.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.checks = append(a.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})

		cache := rediscache.New(a.store, client,
			rediscache.WithTTL(a.cfg.Redis.CacheTTL),
			rediscache.WithLogger(a.log),
		)
		accounts, writer = cache, cache.Fresh()
		limiterStore = ratelimiter.NewRedisStore(client, "hearth:ratelimit")
	} else {
		mem := ratelimiter.NewMemoryStore()
		a.closers = append(a.closers, mem.Close)
		limiterStore = mem
	}

	limiter, err := ratelimiter.NewBucket(limiterStore, a.cfg.SignupLimit)
	if err != nil {
		return err
	}

	prices, err := catalog.Load(a.cfg.Catalog.Path)
	if err != nil {
		return err
	}

	processor, err := a.processor()
	if err != nil {
		return err
	}

	notifier, err := a.notifier()
	if err != nil {
		return err
	}

	tokens, err := jwt.New(a.cfg.JWT)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []billing.Option{
		billing.WithConfig(a.cfg.Billing),
		billing.WithLogger(a.log),
		billing.WithMetrics(billing.NewMetrics(a.registry)),
	}

	lifecycle := billing.NewLifecycle(writer, writer, opts...)
	gate := billing.NewGate(lifecycle, writer, writer, notifier, opts...)
	detector := billing.NewAbuseDetector(writer, writer, opts...)

	a.sweeper = billing.NewSweeper(gate, writer, notifier, opts...)
	a.module = billingmod.New(a.cfg.Module, billingmod.Deps{
		Signup:    billing.NewSignupService(detector, processor, prices, writer, notifier, opts...),
		Accounts:  billing.NewAccountService(accounts, writer, processor, prices, opts...),
		Gate:      gate,
		Processor: processor,
		Tokens:    tokens,
	},
		billingmod.WithLogger(a.log),
		billingmod.WithIPResolver(clientip.New(a.cfg.ClientIP.TrustedHeaders...)),
		billingmod.WithSignupLimiter(limiter),
	)
	return nil
}

func (a *app) processor() (billing.Processor, error) {
	switch a.cfg.Processor {
	case processorStripe:
		var cfg stripeproc.Config
		if err := config.Load(&cfg, config.WithEnvFiles(".env")); err != nil {
			return nil, err
		}
		return stripeproc.New(cfg, stripeproc.WithLogger(a.log))
	case processorLocal:
		var cfg local.Config
		if err := config.Load(&cfg, config.WithEnvFiles(".env")); err != nil {
			return nil, err
		}
		a.log.Warn("using the local payment processor, no real charges will be made")
		return local.New(cfg)
	default:
		return nil, fmt.Errorf("unknown payment processor %q", a.cfg.Processor)
	}
}

func (a *app) notifier() (billing.Notifier, error) {
	sender, err := email.New(a.cfg.Email)
	if err != nil {
		return nil, err
	}

	var notifier billing.Notifier = notify.NewEmailNotifier(sender, a.cfg.Brand, notify.WithLogger(a.log))
	if a.cfg.NotifyWebhook.URL == "" {
		return notifier, nil
	}

	hook := notify.NewWebhookNotifier(
		webhook.NewSender(webhook.WithSecret(a.cfg.NotifyWebhook.Secret)),
		a.cfg.NotifyWebhook.URL,
	)
	return notify.Fanout{notifier, hook}, nil
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(a.log, a.cfg.ReadinessTimeout, a.checks...))
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	r.Mount("/", a.module.Handle())
	return r
}

func (a *app) scheduler() (*cronjob.Scheduler, error) {
	s := cronjob.New(cronjob.WithLogger(a.log))

	jobs := []cronjob.Job{
		{
			Name: "grace_expiry",
			Spec: a.cfg.GraceSweep,
			Run: func(ctx context.Context) error {
				_, err := a.sweeper.SuspendOverdue(ctx)
				return err
			},
		},
		{
			Name: "trial_reminders",
			Spec: a.cfg.ReminderSweep,
			Run: func(ctx context.Context) error {
				_, err := a.sweeper.RemindTrialsEnding(ctx)
				return err
			},
		},
		{
			Name: "purge_signup_attempts",
			Spec: a.cfg.PurgeSweep,
			Run: func(ctx context.Context) error {
				_, err := a.sweeper.PurgeSignupAttempts(ctx)
				return err
			},
		},
	}

	var errs []error
	for _, job := range jobs {
		job.Timeout = a.cfg.SweepTimeout
		if err := s.Add(job); err != nil {
			errs = append(errs, err)
		}
	}
	return s, errors.Join(errs...)
}

// serve runs the HTTP server and the sweeps until ctx is done.
func (a *app) serve(ctx context.Context) error {
	sched, err := a.scheduler()
	if err != nil {
		return err
	}
	srv := httpserver.NewFromConfig(a.cfg.HTTP, httpserver.WithLogger(a.log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx, a.router()) })
	return g.Wait()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
