// Package config loads and validates all environment variables at startup.
// Every other package receives typed values; nothing reads os.Getenv directly.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Mail drivers. "log" only writes messages to the log.
const (
	MailSMTP   = "smtp"
	MailResend = "resend"
	MailLog    = "log"
)

// Config is the fully-parsed application configuration.
type Config struct {
	// ── Server ────────────────────────────────────────────────────────────────
	Port        string   // default "8080"
	Env         string   // "development" | "staging" | "production"
	BaseURL     string   // public origin used in unsubscribe links
	BookingURL  string   // strategy-call booking page linked from emails
	CORSOrigins []string // comma-separated in CORS_ORIGINS

	// ── Lead store ────────────────────────────────────────────────────────────
	StoreDriver string // "postgres" | "sqlite"
	DatabaseURL string
	SQLitePath  string // default "leads.db"

	// ── Delivery ──────────────────────────────────────────────────────────────
	MailDriver    string // "smtp" | "resend" | "log"
	MailFallback  string // optional second driver tried when MailDriver fails
	SMTPHost      string
	SMTPPort      int // default 587
	SMTPUser      string
	SMTPPass      string
	ResendAPIKey  string
	EmailFromAddr string
	EmailFromName string

	// ── Operator ──────────────────────────────────────────────────────────────
	AdminEmail    string // receives pass summaries, alerts and the digest
	AdminToken    string // bearer token for /api/admin
	WebhookSecret string // X-Webhook-Secret for /api/webhooks/email
	AMQPURL       string // optional; enables the AMQP notifier

	// ── Stripe ────────────────────────────────────────────────────────────────
	StripeWebhookSecret string

	// ── Sequencing ────────────────────────────────────────────────────────────
	SequenceDir          string        // optional YAML overrides for the catalog
	SequencePassInterval time.Duration // default 1h
	DigestInterval       time.Duration // default 24h
	SendDelay            time.Duration // default 1s
	LeadDelay            time.Duration // default 200ms
	PassTimeout          time.Duration // default 30m
	SchedulerEnabled     bool          // default true
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads all environment variables and returns a validated Config.
// A .env file in the working directory is loaded first when present; real
// environment variables always take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	return fromEnv()
}

func fromEnv() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("STORE_DRIVER", StorePostgres)
	v.SetDefault("SQLITE_PATH", "leads.db")
	v.SetDefault("MAIL_DRIVER", MailSMTP)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("EMAIL_FROM_NAME", "Strategy Team")
	v.SetDefault("SEQUENCE_PASS_INTERVAL", time.Hour)
	v.SetDefault("DIGEST_INTERVAL", 24*time.Hour)
	v.SetDefault("SEND_DELAY", time.Second)
	v.SetDefault("LEAD_DELAY", 200*time.Millisecond)
	v.SetDefault("PASS_TIMEOUT", 30*time.Minute)
	v.SetDefault("SCHEDULER_ENABLED", true)

	c := &Config{
		Port:                 v.GetString("PORT"),
		Env:                  v.GetString("ENV"),
		BaseURL:              strings.TrimRight(v.GetString("BASE_URL"), "/"),
		BookingURL:           v.GetString("BOOKING_URL"),
		CORSOrigins:          splitList(v.GetString("CORS_ORIGINS")),
		StoreDriver:          strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:          v.GetString("DATABASE_URL"),
		SQLitePath:           v.GetString("SQLITE_PATH"),
		MailDriver:           strings.ToLower(v.GetString("MAIL_DRIVER")),
		MailFallback:         strings.ToLower(v.GetString("MAIL_FALLBACK_DRIVER")),
		SMTPHost:             v.GetString("SMTP_HOST"),
		SMTPPort:             v.GetInt("SMTP_PORT"),
		SMTPUser:             v.GetString("SMTP_USER"),
		SMTPPass:             v.GetString("SMTP_PASS"),
		ResendAPIKey:         v.GetString("RESEND_API_KEY"),
		EmailFromAddr:        v.GetString("EMAIL_FROM_ADDR"),
		EmailFromName:        v.GetString("EMAIL_FROM_NAME"),
		AdminEmail:           v.GetString("ADMIN_EMAIL"),
		AdminToken:           v.GetString("ADMIN_TOKEN"),
		WebhookSecret:        v.GetString("WEBHOOK_SECRET"),
		AMQPURL:              v.GetString("AMQP_URL"),
		StripeWebhookSecret:  v.GetString("STRIPE_WEBHOOK_SECRET"),
		SequenceDir:          v.GetString("SEQUENCE_DIR"),
		SequencePassInterval: v.GetDuration("SEQUENCE_PASS_INTERVAL"),
		DigestInterval:       v.GetDuration("DIGEST_INTERVAL"),
		SendDelay:            v.GetDuration("SEND_DELAY"),
		LeadDelay:            v.GetDuration("LEAD_DELAY"),
		PassTimeout:          v.GetDuration("PASS_TIMEOUT"),
		SchedulerEnabled:     v.GetBool("SCHEDULER_ENABLED"),
	}

	return c, c.validate()
}

func (c *Config) validate() error {
	var errs []error

	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("missing required env var: DATABASE_URL"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("missing required env var: SQLITE_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreSQLite, c.StoreDriver))
	}

	switch c.MailDriver {
	case MailSMTP, MailResend:
		errs = append(errs, c.mailCredentials(c.MailDriver)...)
	case MailLog:
		if c.IsProduction() {
			errs = append(errs, errors.New("MAIL_DRIVER=log is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("MAIL_DRIVER must be smtp, resend or log, got %q", c.MailDriver))
	}

	switch c.MailFallback {
	case "":
	case MailSMTP, MailResend:
		if c.MailFallback == c.MailDriver {
			errs = append(errs, errors.New("MAIL_FALLBACK_DRIVER must differ from MAIL_DRIVER"))
		} else {
			errs = append(errs, c.mailCredentials(c.MailFallback)...)
		}
	default:
		errs = append(errs, fmt.Errorf("MAIL_FALLBACK_DRIVER must be smtp or resend, got %q", c.MailFallback))
	}

	if c.EmailFromAddr == "" {
		errs = append(errs, errors.New("missing required env var: EMAIL_FROM_ADDR"))
	}
	if c.IsProduction() && c.AdminToken == "" {
		errs = append(errs, errors.New("missing required env var: ADMIN_TOKEN"))
	}

	for name, d := range map[string]time.Duration{
		"SEQUENCE_PASS_INTERVAL": c.SequencePassInterval,
		"DIGEST_INTERVAL":        c.DigestInterval,
		"PASS_TIMEOUT":           c.PassTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.SendDelay < 0 || c.LeadDelay < 0 {
		errs = append(errs, errors.New("SEND_DELAY and LEAD_DELAY must not be negative"))
	}

	return errors.Join(errs...)
}

// mailCredentials reports the settings a mail driver is missing.
func (c *Config) mailCredentials(driver string) []error {
	switch {
	case driver == MailSMTP && c.SMTPHost == "":
		return []error{errors.New("missing required env var: SMTP_HOST")}
	case driver == MailResend && c.ResendAPIKey == "":
		return []error{errors.New("missing required env var: RESEND_API_KEY")}
	}
	return nil
}

// splitList splits a comma-separated value and drops empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
