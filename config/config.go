package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env          string `env:"ENVIRONMENT"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"jobwatch.sqlite"`
	ServerPort   int    `env:"SERVER_PORT" envDefault:"8080"`

	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`

	// Digester tuning. Concurrency bounds the worker pool for per-user
	// aggregation; the claim timeout is how long a crashed run may hold
	// a subscription before another run takes it over.
	Concurrency      int `env:"WORKER_CONCURRENCY" envDefault:"5"`
	FetchTimeoutSecs int `env:"FEED_FETCH_TIMEOUT_SECS" envDefault:"30"`
	ClaimTimeoutMins int `env:"CLAIM_TIMEOUT_MINS" envDefault:"30"`

	DigestWakeupMins int `env:"DIGEST_WAKEUP_MINS" envDefault:"60"`
	HealthWakeupMins int `env:"HEALTH_WAKEUP_MINS" envDefault:"1440"`

	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		SenderFrom  string `env:"MAILGUN_SENDER_FROM" envDefault:"savedsearch@jobwatch.example.com"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) *Config {
	cfg := &Config{log: log}
	env.Parse(cfg)

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env != "production" {
			cfg.log.Sugar().Infof("%s (credentials will be set to default outside production)", err)
			creds = map[string]string{"admin": "password"}
		} else {
			cfg.log.Sugar().Panic(err)
		}
	}
	cfg.creds = creds

	return cfg
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) FetchTimeout() time.Duration {
	return time.Duration(cfg.FetchTimeoutSecs) * time.Second
}

func (cfg *Config) ClaimTimeout() time.Duration {
	return time.Duration(cfg.ClaimTimeoutMins) * time.Minute
}

func (cfg *Config) DigestWakeup() time.Duration {
	return time.Duration(cfg.DigestWakeupMins) * time.Minute
}

func (cfg *Config) HealthWakeup() time.Duration {
	return time.Duration(cfg.HealthWakeupMins) * time.Minute
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	if len(creds) == 0 {
		return nil, errors.New("BASIC_AUTH_CREDS envvar should be filled with comma-separated values -- user1:pass1,user2:pass2")
	}

	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
