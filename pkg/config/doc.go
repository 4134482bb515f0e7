// Package config loads struct configuration from environment variables with
// caarlos0/env, optionally seeded from dotenv files through godotenv.
//
// Every service package owns its Config struct and its env tags; the entry
// point composes them and loads once:
//
//	type Config struct {
//		PG      pg.Config
//		Billing billing.Config
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg, config.WithEnvFiles(".env"))
package config
