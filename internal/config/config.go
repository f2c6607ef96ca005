package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

const (
	BackendRest     = "rest"
	BackendPostgres = "postgres"
)

type Config struct {
	// Record store. The rest backend talks to a PostgREST-style API with a
	// bearer service key; the postgres backend owns the table directly.
	StoreBackend    string `env:"STORE_BACKEND,default=rest"`
	StoreURL        string `env:"STORE_URL"`
	StoreServiceKey string `env:"STORE_SERVICE_KEY"`
	DatabaseDSN     string `env:"DATABASE_DSN"`

	SMTPHost string `env:"SMTP_HOST,required=true"`
	SMTPPort int    `env:"SMTP_PORT,default=587"`
	SMTPUser string `env:"SMTP_USER,required=true"`
	SMTPPass string `env:"SMTP_PASS,required=true"`

	MailFrom   string `env:"MAIL_FROM,default=Mailroom <no-reply@localhost>"`
	SenderName string `env:"SENDER_NAME,default=Mailroom"`

	PollSeconds         int `env:"POLL_SECONDS,default=20"`
	BatchLimit          int `env:"BATCH_LIMIT,default=25"`
	MaxAttempts         int `env:"MAX_ATTEMPTS,default=5"`
	ClaimTimeoutSeconds int `env:"CLAIM_TIMEOUT_SECONDS,default=120"`

	// Optional: enables distributed send throttling when set.
	RedisURL        string `env:"REDIS_URL"`
	RateLimitPerSec int    `env:"RATE_LIMIT_PER_SEC,default=25"`

	AdminPort int    `env:"ADMIN_PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.StoreBackend)) {
	case BackendRest:
		c.StoreBackend = BackendRest
		if strings.TrimSpace(c.StoreURL) == "" || strings.TrimSpace(c.StoreServiceKey) == "" {
			return fmt.Errorf("rest store backend requires STORE_URL and STORE_SERVICE_KEY")
		}
	case BackendPostgres:
		c.StoreBackend = BackendPostgres
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("postgres store backend requires DATABASE_DSN")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	return nil
}
