package billing

import (
	"log/slog"
	"time"
)

// Option configures the billing services.
type Option func(*options)

type options struct {
	config  Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		config: DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.config = o.config.normalize()
	return o
}

// WithConfig sets the lifecycle policy.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the counters to record into.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func (o options) clock() time.Time { return o.now().UTC() }
