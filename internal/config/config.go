package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	MailProviderGmail = "gmail"
	MailProviderIMAP  = "imap"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/whittle.db"`

	// Mail
	MailProvider           string        `env:"MAIL_PROVIDER" envDefault:"gmail"` // "gmail" or "imap"
	GoogleClientID         string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret     string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL      string        `env:"GOOGLE_REDIRECT_URL" envDefault:"http://localhost:8080/oauth/callback"`
	GmailRequestsPerSecond float64       `env:"GMAIL_REQUESTS_PER_SECOND" envDefault:"5"`
	IMAPServer             string        `env:"IMAP_SERVER"` // host:port, resolved from the address when empty
	IMAPDialTimeout        time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	IMAPArchiveMailbox     string        `env:"IMAP_ARCHIVE_MAILBOX" envDefault:"Archive"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Sync
	SyncInterval         time.Duration `env:"SYNC_INTERVAL" envDefault:"15m"`
	SyncOnce             bool          `env:"SYNC_ONCE" envDefault:"false"`
	SyncConcurrency      int           `env:"SYNC_CONCURRENCY" envDefault:"4"`
	RetryMaxAttempts     uint          `env:"RETRY_MAX_ATTEMPTS" envDefault:"4"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`

	// Events (optional, in-process dispatch when disabled)
	EventsEnabled  bool   `env:"EVENTS_ENABLED" envDefault:"false"`
	RedisURL       string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	EventsStream   string `env:"EVENTS_STREAM" envDefault:"whittle:events"`
	EventsGroup    string `env:"EVENTS_GROUP" envDefault:"whittle-sync"`
	EventsConsumer string `env:"EVENTS_CONSUMER" envDefault:"whittle-1"`

	// HTTP
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Telegram (optional)
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// TelegramEnabled returns true if the bot is configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express
func (c *Config) Validate() error {
	// 32 bytes for AES-256
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}

	switch c.MailProvider {
	case MailProviderGmail:
		if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
			return errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required for the gmail provider")
		}
	case MailProviderIMAP:
	default:
		return fmt.Errorf("MAIL_PROVIDER must be %q or %q, got %q", MailProviderGmail, MailProviderIMAP, c.MailProvider)
	}

	if !c.SyncOnce && c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be at least 1, got %d", c.SyncConcurrency)
	}
	return nil
}
