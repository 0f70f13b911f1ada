// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/assets"
	"codeberg.org/oliverandrich/taxijobs/internal/config"
	"codeberg.org/oliverandrich/taxijobs/internal/database"
	"codeberg.org/oliverandrich/taxijobs/internal/handlers"
	"codeberg.org/oliverandrich/taxijobs/internal/i18n"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"codeberg.org/oliverandrich/taxijobs/internal/identity/gotrue"
	"codeberg.org/oliverandrich/taxijobs/internal/identity/local"
	"codeberg.org/oliverandrich/taxijobs/internal/recovery"
	"codeberg.org/oliverandrich/taxijobs/internal/repository"
	"codeberg.org/oliverandrich/taxijobs/internal/services/email"
	"codeberg.org/oliverandrich/taxijobs/internal/services/session"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Hour
	flowCleanup     = time.Minute
)

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Config    *config.Config
	DB        *sqlx.DB // nil for remote identity backends
	Identity  identity.Service
	Sessions  *session.Manager
	Exchanger *recovery.Exchanger
}

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"identity_backend", cfg.Identity.Backend,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// i18n
	if err := i18n.Init(); err != nil {
		return fmt.Errorf("failed to init i18n: %w", err)
	}

	// Identity backend
	idp, db, err := newIdentity(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("failed to close database", "error", closeErr)
			}
		}()
	}

	// Sessions
	sessions, err := session.NewManager(&cfg.Session, cfg.SecureCookies())
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	// Recovery flows
	store := recovery.NewStore(recovery.DefaultFlowTTL, flowCleanup)
	defer store.Close()

	e := NewEcho(Deps{
		Config:    cfg,
		DB:        db,
		Identity:  idp,
		Sessions:  sessions,
		Exchanger: recovery.NewExchanger(idp, store),
	})

	return startWithGracefulShutdown(ctx, e, cfg)
}

// newIdentity creates the configured identity backend. The local backend
// also returns its database.
func newIdentity(ctx context.Context, cfg *config.Config) (identity.Service, *sqlx.DB, error) {
	switch cfg.Identity.Backend {
	case config.BackendGoTrue:
		client, err := gotrue.New(gotrue.Config{
			URL:    cfg.Identity.URL,
			APIKey: cfg.Identity.APIKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gotrue client: %w", err)
		}
		return client, nil, nil
	default:
		db, err := database.Open(cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}

		var mailer local.Mailer
		if cfg.SMTP.Enabled() {
			svc, mailErr := email.NewService(&cfg.SMTP)
			if mailErr != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("failed to create email service: %w", mailErr)
			}
			mailer = svc
		} else {
			slog.Warn("smtp_disabled", "hint", "password reset requests will fail until --smtp-host is set")
		}

		svc := local.New(repository.New(db), mailer, local.Options{
			SessionTTL:    cfg.Identity.SessionTTL,
			RecoveryTTL:   cfg.Identity.RecoveryTTL,
			ResetCooldown: cfg.Identity.ResetCooldown,
		})
		svc.StartJanitor(ctx, janitorInterval)
		return svc, db, nil
	}
}

// NewEcho builds the echo instance with middleware and routes.
func NewEcho(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.ErrorHandler
	e.Validator = handlers.NewValidator()

	// Recovery links are redirected before routing
	e.Pre(recovery.Interceptor(recovery.RulesFromConfig(&deps.Config.Recovery)))

	setupMiddleware(e, deps.Config, findAssets(), deps.Sessions)
	setupRoutes(e, deps)

	return e
}

func setupRoutes(e *echo.Echo, deps Deps) {
	h := handlers.New(deps.DB)
	authHandlers := handlers.NewAuth(deps.Identity, deps.Sessions)
	recoveryHandlers := handlers.NewRecovery(deps.Identity, deps.Exchanger, deps.Config)
	signupHandlers := handlers.NewSignup(deps.Identity, deps.Sessions, deps.Config)

	// Static files
	e.GET("/static/*", echo.WrapHandler(http.StripPrefix("/static/", assets.FileServer())))

	// Public routes
	e.GET("/health", h.Health)
	e.GET("/", h.Home)

	// Auth routes
	auth := e.Group("/auth")
	auth.GET("/signin", authHandlers.SignInPage)
	auth.POST("/signin", authHandlers.SignIn)
	auth.POST("/signout", authHandlers.SignOut)
	auth.GET("/signup", signupHandlers.SignUpPage)
	auth.POST("/signup", signupHandlers.SignUp)
	e.GET(handlers.VerifyPath, signupHandlers.VerifyPage)
	e.GET(config.CallbackPath, signupHandlers.Callback)
	auth.GET("/reset-password", recoveryHandlers.ResetPage)
	auth.POST("/reset-password", recoveryHandlers.Reset)
	e.GET(config.UpdatePasswordPath, recoveryHandlers.UpdatePasswordPage)
	e.POST(config.UpdatePasswordPath, recoveryHandlers.UpdatePassword)

	// Protected routes
	requireSession := RequireSession(deps.Sessions, deps.Identity)
	e.GET("/jobs/post", h.JobsPost, requireSession)
	e.GET("/profile", h.Profile, requireSession)
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		slog.Info("Server running", "url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
