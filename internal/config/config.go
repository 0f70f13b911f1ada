// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

// UpdatePasswordPath is the single canonical destination of every recovery link.
const UpdatePasswordPath = "/auth/update-password"

// CallbackPath receives sign up confirmation links. It routes codes by type
// itself and must not be a recovery entry path.
const CallbackPath = "/auth/callback"

// Identity backends.
const (
	BackendLocal  = "local"
	BackendGoTrue = "gotrue"
)

var configFile = altsrc.StringSourcer("config.toml")

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Session  SessionConfig
	SMTP     SMTPConfig
	Identity IdentityConfig
	Recovery RecoveryConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string // public site origin, embedded in reset emails
	MaxBodySize int    // in MB
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

type SessionConfig struct { //nolint:govet // fieldalignment not critical
	CookieName string // Session cookie name
	MaxAge     int    // Session max age in seconds
	HashKey    string // 32-byte hex string for HMAC signing
	BlockKey   string // 32-byte hex string for AES encryption (optional)
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// Enabled reports whether outgoing mail is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type IdentityConfig struct { //nolint:govet // fieldalignment not critical
	Backend       string        // local, gotrue
	URL           string        // GoTrue base URL, e.g. https://xyz.supabase.co/auth/v1
	APIKey        string        // GoTrue anon key
	SessionTTL    time.Duration // local: lifetime of password sessions
	RecoveryTTL   time.Duration // local: lifetime of sessions created by a code exchange
	ResetCooldown time.Duration // local: minimum interval between two reset mails
}

type RecoveryConfig struct {
	EntryPaths           []string      // paths whose ?code= links are funneled to UpdatePasswordPath
	FailureRedirectDelay time.Duration // delay before a failed verification redirects to sign-in
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			BaseURL:     cmd.String("base-url"),
			MaxBodySize: int(cmd.Int("max-body-size")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		Session: SessionConfig{
			CookieName: cmd.String("session-cookie-name"),
			MaxAge:     int(cmd.Int("session-max-age")),
			HashKey:    cmd.String("session-hash-key"),
			BlockKey:   cmd.String("session-block-key"),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		Identity: IdentityConfig{
			Backend:       strings.ToLower(cmd.String("identity-backend")),
			URL:           cmd.String("identity-url"),
			APIKey:        cmd.String("identity-api-key"),
			SessionTTL:    cmd.Duration("identity-session-ttl"),
			RecoveryTTL:   cmd.Duration("identity-recovery-ttl"),
			ResetCooldown: cmd.Duration("identity-reset-cooldown"),
		},
		Recovery: RecoveryConfig{
			EntryPaths:           cmd.StringSlice("recovery-entry-path"),
			FailureRedirectDelay: cmd.Duration("recovery-failure-redirect-delay"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}
	cfg.Server.BaseURL = strings.TrimSuffix(cfg.Server.BaseURL, "/")

	return cfg
}

// Validate checks settings that cannot be expressed as flag defaults.
func (c *Config) Validate() error {
	switch c.Identity.Backend {
	case BackendLocal:
	case BackendGoTrue:
		if c.Identity.URL == "" {
			return errors.New("identity-url is required for the gotrue backend")
		}
	default:
		return fmt.Errorf("unknown identity backend: %q", c.Identity.Backend)
	}

	if len(c.Recovery.EntryPaths) == 0 {
		return errors.New("at least one recovery entry path is required")
	}
	for _, p := range c.Recovery.EntryPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("recovery entry path must start with '/': %q", p)
		}
		switch strings.TrimSuffix(p, "/") {
		case UpdatePasswordPath:
			return fmt.Errorf("recovery entry path %q would redirect to itself", p)
		case CallbackPath:
			return fmt.Errorf("recovery entry path %q would capture sign up confirmations", p)
		}
	}

	return nil
}

// SecureCookies reports whether cookies should carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.Server.BaseURL, "https://")
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port

	// Public hosts sit behind a TLS-terminating edge
	if !IsLocalhost(host) {
		return fmt.Sprintf("https://%s", host)
	}

	// Hide default port in URL
	if port == 80 {
		return fmt.Sprintf("http://%s", host)
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}

func sources(env, key string) cli.ValueSourceChain {
	return cli.NewValueSourceChain(cli.EnvVar(env), toml.TOML(key, configFile))
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: sources("HOST", "server.host"),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: sources("PORT", "server.port"),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Public site origin used in emailed links",
			Sources: sources("BASE_URL", "server.base_url"),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: sources("MAX_BODY_SIZE", "server.max_body_size"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: sources("LOG_LEVEL", "log.level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: sources("LOG_FORMAT", "log.format"),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/taxijobs.db",
			Usage:   "Database DSN",
			Sources: sources("DATABASE_DSN", "database.dsn"),
		},
		// Session flags
		&cli.StringFlag{
			Name:    "session-cookie-name",
			Value:   "_session",
			Usage:   "Session cookie name",
			Sources: sources("SESSION_COOKIE_NAME", "session.cookie_name"),
		},
		&cli.IntFlag{
			Name:    "session-max-age",
			Value:   604800, // 7 days in seconds
			Usage:   "Session max age in seconds",
			Sources: sources("SESSION_MAX_AGE", "session.max_age"),
		},
		&cli.StringFlag{
			Name:    "session-hash-key",
			Usage:   "Session hash key (32-byte hex, auto-generated if empty in dev)",
			Sources: sources("SESSION_HASH_KEY", "session.hash_key"),
		},
		&cli.StringFlag{
			Name:    "session-block-key",
			Usage:   "Session block key for encryption (32-byte hex, optional)",
			Sources: sources("SESSION_BLOCK_KEY", "session.block_key"),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP server host (reset mails are disabled when empty)",
			Sources: sources("SMTP_HOST", "smtp.host"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP server port",
			Sources: sources("SMTP_PORT", "smtp.port"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: sources("SMTP_USERNAME", "smtp.username"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: sources("SMTP_PASSWORD", "smtp.password"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address",
			Sources: sources("SMTP_FROM", "smtp.from"),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Value:   "Taxi Jobs",
			Usage:   "Sender display name",
			Sources: sources("SMTP_FROM_NAME", "smtp.from_name"),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: sources("SMTP_TLS", "smtp.tls"),
		},
		// Identity flags
		&cli.StringFlag{
			Name:    "identity-backend",
			Value:   BackendLocal,
			Usage:   "Identity backend (local, gotrue)",
			Sources: sources("IDENTITY_BACKEND", "identity.backend"),
		},
		&cli.StringFlag{
			Name:    "identity-url",
			Usage:   "GoTrue auth base URL (gotrue backend)",
			Sources: sources("IDENTITY_URL", "identity.url"),
		},
		&cli.StringFlag{
			Name:    "identity-api-key",
			Usage:   "GoTrue anon API key (gotrue backend)",
			Sources: sources("IDENTITY_API_KEY", "identity.api_key"),
		},
		&cli.DurationFlag{
			Name:    "identity-session-ttl",
			Value:   24 * time.Hour,
			Usage:   "Lifetime of sign-in sessions (local backend)",
			Sources: sources("IDENTITY_SESSION_TTL", "identity.session_ttl"),
		},
		&cli.DurationFlag{
			Name:    "identity-recovery-ttl",
			Value:   15 * time.Minute,
			Usage:   "Lifetime of sessions created from a recovery code (local backend)",
			Sources: sources("IDENTITY_RECOVERY_TTL", "identity.recovery_ttl"),
		},
		&cli.DurationFlag{
			Name:    "identity-reset-cooldown",
			Value:   60 * time.Second,
			Usage:   "Minimum interval between two reset mails per account (local backend)",
			Sources: sources("IDENTITY_RESET_COOLDOWN", "identity.reset_cooldown"),
		},
		// Recovery flags
		&cli.StringSliceFlag{
			Name:    "recovery-entry-path",
			Value:   []string{"/", "/auth/reset-password"},
			Usage:   "Paths whose ?code= links are redirected to " + UpdatePasswordPath,
			Sources: sources("RECOVERY_ENTRY_PATHS", "recovery.entry_paths"),
		},
		&cli.DurationFlag{
			Name:    "recovery-failure-redirect-delay",
			Value:   5 * time.Second,
			Usage:   "Delay before a failed code verification redirects to sign-in (0 disables)",
			Sources: sources("RECOVERY_FAILURE_REDIRECT_DELAY", "recovery.failure_redirect_delay"),
		},
	}
}
