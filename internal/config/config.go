// Package config loads client configuration from the environment. Mailbox
// credentials are never hardcoded; they come exclusively from env vars.
package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

// Config is the root configuration for the Axiom client.
type Config struct {
	Mailbox MailboxConfig
	Storage StorageConfig
	Tokens  TokensConfig
	Limits  LimitsConfig
	Retry   RetryConfig
}

// MailboxConfig configures the IMAP mailbox polled for OTP emails.
// Email and Password empty means no automatic OTP fetching.
type MailboxConfig struct {
	Addr     string `env:"INBOX_LV_IMAP_ADDR" env-default:"mail.inbox.lv:993"`
	Email    string `env:"INBOX_LV_EMAIL"`
	Password string `env:"INBOX_LV_PASSWORD"`
}

// Configured reports whether mailbox credentials are present.
func (m MailboxConfig) Configured() bool {
	return m.Email != "" && m.Password != ""
}

// StorageConfig locates the token and session persistence files.
type StorageConfig struct {
	TokenFile   string `env:"AXIOM_TOKEN_FILE" env-default:".axiom_tokens.json"`
	SessionFile string `env:"AXIOM_SESSION_FILE" env-default:".axiom_session.json"`
}

// TokensConfig allows bootstrapping tokens directly from the environment
// instead of the token file.
type TokensConfig struct {
	AccessToken  string `env:"AXIOM_ACCESS_TOKEN"`
	RefreshToken string `env:"AXIOM_REFRESH_TOKEN"`
}

// LimitsConfig holds the default rate-limit windows.
type LimitsConfig struct {
	GlobalMaxRequests  int           `env:"AXIOM_GLOBAL_MAX_REQUESTS" env-default:"300"`
	GlobalWindow       time.Duration `env:"AXIOM_GLOBAL_WINDOW" env-default:"1m"`
	DefaultEndpointMax int           `env:"AXIOM_ENDPOINT_MAX_REQUESTS" env-default:"100"`
	DefaultEndpointWin time.Duration `env:"AXIOM_ENDPOINT_WINDOW" env-default:"1m"`
	BucketRate         float64       `env:"AXIOM_BUCKET_RATE" env-default:"10"`
	BucketBurst        int           `env:"AXIOM_BUCKET_BURST" env-default:"20"`
}

// RetryConfig holds the backoff policy knobs.
type RetryConfig struct {
	MaxRetries   uint          `env:"AXIOM_MAX_RETRIES" env-default:"3"`
	InitialDelay time.Duration `env:"AXIOM_RETRY_INITIAL_DELAY" env-default:"100ms"`
	MaxDelay     time.Duration `env:"AXIOM_RETRY_MAX_DELAY" env-default:"10s"`
	Base         float64       `env:"AXIOM_RETRY_BASE" env-default:"2.0"`
	Jitter       bool          `env:"AXIOM_RETRY_JITTER" env-default:"true"`
}

// DefaultLimits returns the built-in rate-limit windows.
func DefaultLimits() LimitsConfig {
	return LimitsConfig{
		GlobalMaxRequests:  300,
		GlobalWindow:       time.Minute,
		DefaultEndpointMax: 100,
		DefaultEndpointWin: time.Minute,
		BucketRate:         10,
		BucketBurst:        20,
	}
}

// DefaultRetry returns the built-in backoff policy.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Base:         2.0,
		Jitter:       true,
	}
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "config.Load")
	}
	return &cfg, nil
}
