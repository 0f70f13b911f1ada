// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		host     string
		expected bool
	}{
		{"", true},
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"app.localhost", true},
		{"sub.domain.localhost", true},
		{"example.com", false},
		{"www.example.com", false},
		{"192.168.1.1", false},
		{"localhost.com", false}, // not a real localhost
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsLocalhost(tt.host))
		})
	}
}

func TestBuildBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		expected string
	}{
		{
			name:     "localhost HTTP default port",
			cfg:      &Config{Server: ServerConfig{Host: "localhost", Port: 80}},
			expected: "http://localhost",
		},
		{
			name:     "localhost HTTP custom port",
			cfg:      &Config{Server: ServerConfig{Host: "localhost", Port: 8080}},
			expected: "http://localhost:8080",
		},
		{
			name:     "remote host is served over https",
			cfg:      &Config{Server: ServerConfig{Host: "jobs.example.com", Port: 8080}},
			expected: "https://jobs.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildBaseURL(tt.cfg))
		})
	}
}

func validConfig() *Config {
	return &Config{
		Identity: IdentityConfig{Backend: BackendLocal},
		Recovery: RecoveryConfig{EntryPaths: []string{"/", "/auth/reset-password"}},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Backend = "firebase"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown identity backend")
}

func TestValidate_GoTrueRequiresURL(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Backend = BackendGoTrue

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity-url")

	cfg.Identity.URL = "https://auth.example.com/auth/v1"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_EntryPathLoop(t *testing.T) {
	for _, p := range []string{UpdatePasswordPath, UpdatePasswordPath + "/"} {
		cfg := validConfig()
		cfg.Recovery.EntryPaths = append(cfg.Recovery.EntryPaths, p)

		err := cfg.Validate()

		require.Error(t, err, p)
		assert.Contains(t, err.Error(), "redirect to itself")
	}
}

func TestValidate_CallbackIsNotAnEntryPath(t *testing.T) {
	for _, p := range []string{CallbackPath, CallbackPath + "/"} {
		cfg := validConfig()
		cfg.Recovery.EntryPaths = append(cfg.Recovery.EntryPaths, p)

		err := cfg.Validate()

		require.Error(t, err, p)
		assert.Contains(t, err.Error(), "sign up confirmations")
	}
}

func TestValidate_EntryPathMustBeAbsolute(t *testing.T) {
	cfg := validConfig()
	cfg.Recovery.EntryPaths = []string{"auth/reset-password"}

	assert.Error(t, cfg.Validate())
}

func TestValidate_NoEntryPaths(t *testing.T) {
	cfg := validConfig()
	cfg.Recovery.EntryPaths = nil

	assert.Error(t, cfg.Validate())
}

func TestSecureCookies(t *testing.T) {
	cfg := &Config{Server: ServerConfig{BaseURL: "https://jobs.example.com"}}
	assert.True(t, cfg.SecureCookies())

	cfg.Server.BaseURL = "http://localhost:8080"
	assert.False(t, cfg.SecureCookies())
}

func TestFlags(t *testing.T) {
	flags := Flags()

	assert.NotEmpty(t, flags)

	flagNames := make(map[string]bool)
	for _, f := range flags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}

	assert.True(t, flagNames["host"], "should have host flag")
	assert.True(t, flagNames["port"], "should have port flag")
	assert.True(t, flagNames["base-url"], "should have base-url flag")
	assert.True(t, flagNames["log-level"], "should have log-level flag")
	assert.True(t, flagNames["database-dsn"], "should have database-dsn flag")
	assert.True(t, flagNames["session-cookie-name"], "should have session-cookie-name flag")
	assert.True(t, flagNames["identity-backend"], "should have identity-backend flag")
	assert.True(t, flagNames["recovery-entry-path"], "should have recovery-entry-path flag")
	assert.True(t, flagNames["smtp-host"], "should have smtp-host flag")
}

func TestNewFromCLI(t *testing.T) {
	app := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.NotNil(t, cfg)
			assert.Equal(t, "localhost", cfg.Server.Host)
			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
			assert.Equal(t, "info", cfg.Log.Level)
			assert.Equal(t, "text", cfg.Log.Format)
			assert.Equal(t, "_session", cfg.Session.CookieName)
			assert.Equal(t, 604800, cfg.Session.MaxAge) // 7 days in seconds
			assert.Equal(t, BackendLocal, cfg.Identity.Backend)
			assert.Equal(t, 15*time.Minute, cfg.Identity.RecoveryTTL)
			assert.Equal(t, 60*time.Second, cfg.Identity.ResetCooldown)
			assert.Equal(t, []string{"/", "/auth/reset-password"}, cfg.Recovery.EntryPaths)
			assert.Equal(t, 5*time.Second, cfg.Recovery.FailureRedirectDelay)
			assert.False(t, cfg.SMTP.Enabled())
			assert.NoError(t, cfg.Validate())

			return nil
		},
	}

	err := app.Run(context.Background(), []string{"test"})
	assert.NoError(t, err)
}

func TestNewFromCLI_WithCustomValues(t *testing.T) {
	app := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.Equal(t, "0.0.0.0", cfg.Server.Host)
			assert.Equal(t, 9000, cfg.Server.Port)
			assert.Equal(t, "https://jobs.example.com", cfg.Server.BaseURL)
			assert.Equal(t, "debug", cfg.Log.Level)
			assert.Equal(t, "./data/test.db", cfg.Database.DSN)
			assert.Equal(t, BackendGoTrue, cfg.Identity.Backend)
			assert.Equal(t, "https://auth.example.com/auth/v1", cfg.Identity.URL)

			return nil
		},
	}

	args := []string{
		"test",
		"--host", "0.0.0.0",
		"--port", "9000",
		"--base-url", "https://jobs.example.com/",
		"--log-level", "debug",
		"--database-dsn", "./data/test.db",
		"--identity-backend", "GoTrue",
		"--identity-url", "https://auth.example.com/auth/v1",
	}
	err := app.Run(context.Background(), args)
	assert.NoError(t, err)
}
