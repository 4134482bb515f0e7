package main

import (
	"time"

	billingmod "github.com/dmitrymomot/hearth/modules/billing"
	"github.com/dmitrymomot/hearth/pkg/clientip"
	"github.com/dmitrymomot/hearth/pkg/email"
	"github.com/dmitrymomot/hearth/pkg/httpserver"
	"github.com/dmitrymomot/hearth/pkg/jwt"
	"github.com/dmitrymomot/hearth/pkg/pg"
	"github.com/dmitrymomot/hearth/pkg/ratelimiter"
	"github.com/dmitrymomot/hearth/pkg/redis"
	"github.com/dmitrymomot/hearth/svc/billing"
	"github.com/dmitrymomot/hearth/svc/catalog"
	"github.com/dmitrymomot/hearth/svc/notify"
)

const (
	processorStripe = "stripe"
	processorLocal  = "local"
)

type appConfig struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL"`
	Processor string `env:"PAYMENT_PROCESSOR" envDefault:"local"`

	GraceSweep    string        `env:"SWEEP_GRACE_SPEC" envDefault:"*/15 * * * *"`
	ReminderSweep string        `env:"SWEEP_REMINDER_SPEC" envDefault:"5 * * * *"`
	PurgeSweep    string        `env:"SWEEP_PURGE_SPEC" envDefault:"30 3 * * *"`
	SweepTimeout  time.Duration `env:"SWEEP_TIMEOUT" envDefault:"5m"`

	ReadinessTimeout time.Duration `env:"READINESS_TIMEOUT" envDefault:"2s"`

	HTTP          httpserver.Config
	PG            pg.Config
	Redis         redis.Config
	Billing       billing.Config
	Module        billingmod.Config
	Catalog       catalog.Config
	JWT           jwt.Config
	Email         email.Config
	Brand         notify.Brand
	NotifyWebhook notify.WebhookConfig
	SignupLimit   ratelimiter.Config
	ClientIP      clientip.Config
}
