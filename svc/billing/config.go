package billing

import "time"

// Config holds the lifecycle policy.
type Config struct {
	TrialDays        int           `env:"BILLING_TRIAL_DAYS" envDefault:"14"`
	GracePeriod      time.Duration `env:"BILLING_GRACE_PERIOD" envDefault:"72h"`
	ReminderLeadDays int           `env:"BILLING_REMINDER_LEAD_DAYS" envDefault:"3"`
	AbuseWindow      time.Duration `env:"BILLING_ABUSE_WINDOW" envDefault:"168h"`
	AbuseThreshold   int           `env:"BILLING_ABUSE_THRESHOLD" envDefault:"3"`
	AttemptRetention time.Duration `env:"BILLING_ATTEMPT_RETENTION" envDefault:"720h"`
	ProcessorTimeout time.Duration `env:"BILLING_PROCESSOR_TIMEOUT" envDefault:"15s"`
	NotifyTimeout    time.Duration `env:"BILLING_NOTIFY_TIMEOUT" envDefault:"10s"`
	DefaultTier      string        `env:"BILLING_DEFAULT_TIER" envDefault:"standard"`
}

// DefaultConfig returns the policy used when no configuration is loaded.
func DefaultConfig() Config {
	return Config{
		TrialDays:        14,
		GracePeriod:      72 * time.Hour,
		ReminderLeadDays: 3,
		AbuseWindow:      7 * 24 * time.Hour,
		AbuseThreshold:   3,
		AttemptRetention: 30 * 24 * time.Hour,
		ProcessorTimeout: 15 * time.Second,
		NotifyTimeout:    10 * time.Second,
		DefaultTier:      "standard",
	}
}

// normalize fills zero values with defaults and keeps the attempt
// retention at least as long as the abuse window.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.TrialDays <= 0 {
		c.TrialDays = d.TrialDays
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.ReminderLeadDays <= 0 {
		c.ReminderLeadDays = d.ReminderLeadDays
	}
	if c.AbuseWindow <= 0 {
		c.AbuseWindow = d.AbuseWindow
	}
	if c.AbuseThreshold <= 0 {
		c.AbuseThreshold = d.AbuseThreshold
	}
	if c.AttemptRetention < c.AbuseWindow {
		c.AttemptRetention = c.AbuseWindow
	}
	if c.ProcessorTimeout <= 0 {
		c.ProcessorTimeout = d.ProcessorTimeout
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	if c.DefaultTier == "" {
		c.DefaultTier = d.DefaultTier
	}
	return c
}
