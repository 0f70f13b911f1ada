// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package local implements identity.Service on top of the sqlite store.
package local

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"codeberg.org/oliverandrich/taxijobs/internal/models"
	"codeberg.org/oliverandrich/taxijobs/internal/repository"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the shortest password the backend accepts.
	MinPasswordLength = 8
	// MaxPasswordBytes is the bcrypt input limit.
	MaxPasswordBytes = 72

	tokenBytes = 32
)

// Mailer delivers password reset and sign up confirmation links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
	SendSignupConfirmation(ctx context.Context, to, link string) error
}

// Options configures lifetimes of the local backend.
type Options struct {
	Now             func() time.Time
	SessionTTL      time.Duration
	RecoveryTTL     time.Duration
	RecoveryCodeTTL time.Duration
	ResetCooldown   time.Duration
	BcryptCost      int
}

func (o *Options) setDefaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 24 * time.Hour
	}
	if o.RecoveryTTL <= 0 {
		o.RecoveryTTL = 15 * time.Minute
	}
	if o.RecoveryCodeTTL <= 0 {
		o.RecoveryCodeTTL = time.Hour
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
}

// Service is the self-hosted identity backend.
type Service struct {
	repo     *repository.Repository
	mailer   Mailer
	validate *validator.Validate
	opts     Options

	dummyOnce sync.Once
	dummyHash []byte
}

var _ identity.Service = (*Service)(nil)

// New creates a local identity backend. mailer may be nil, in which case
// password reset and sign up requests fail.
func New(repo *repository.Repository, mailer Mailer, opts Options) *Service {
	opts.setDefaults()
	return &Service{
		repo:     repo,
		mailer:   mailer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
	}
}

// CreateUser registers a new account.
func (s *Service) CreateUser(ctx context.Context, email, password string) (*models.User, error) {
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("invalid email address %q", email)
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return s.repo.CreateUser(ctx, email, string(hash))
}

// ExchangeRecoveryCode redeems a mailed recovery code for a short-lived
// recovery session. Following the link also confirms the email address.
func (s *Service) ExchangeRecoveryCode(ctx context.Context, code, codeType string) (*identity.Session, error) {
	if code == "" || (codeType != "" && codeType != identity.RecoveryType) {
		return nil, identity.ErrCodeInvalid
	}
	user, err := s.redeem(ctx, code, models.CodeKindRecovery)
	if err != nil {
		return nil, err
	}
	return s.issueSession(ctx, user, models.SessionKindRecovery, s.opts.RecoveryTTL)
}

// ConfirmSignUp redeems a mailed confirmation code and signs the user in.
func (s *Service) ConfirmSignUp(ctx context.Context, code, codeType string) (*identity.Session, error) {
	if code == "" || (codeType != "" && codeType != identity.SignupType) {
		return nil, identity.ErrCodeInvalid
	}
	user, err := s.redeem(ctx, code, models.CodeKindSignup)
	if err != nil {
		return nil, err
	}
	slog.Info("signup_confirmed", "user_id", user.ID)
	return s.issueSession(ctx, user, models.SessionKindPassword, s.opts.SessionTTL)
}

// redeem marks a code of kind as used and confirms its owner.
func (s *Service) redeem(ctx context.Context, code, kind string) (*models.User, error) {
	rc, err := s.repo.GetRecoveryCodeByHash(ctx, hashToken(code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrCodeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("loading code: %w", err)
	}
	if rc.Kind != kind || rc.Used() {
		return nil, identity.ErrCodeInvalid
	}
	if rc.Expired(s.opts.Now()) {
		return nil, identity.ErrCodeExpired
	}

	redeemed, err := s.repo.MarkRecoveryCodeUsed(ctx, rc.ID)
	if err != nil {
		return nil, fmt.Errorf("redeeming code: %w", err)
	}
	if !redeemed {
		return nil, identity.ErrCodeInvalid
	}

	user, err := s.repo.GetUserByID(ctx, rc.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !user.Confirmed() {
		if err := s.repo.ConfirmUser(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("confirming user: %w", err)
		}
	}
	return user, nil
}

// UpdateCurrentPassword sets a new password for the owner of sess and signs
// out every other session of that user. A recovery session is ended too.
func (s *Service) UpdateCurrentPassword(ctx context.Context, sess *identity.Session, newPassword string) error {
	if sess == nil {
		return identity.ErrNoSession
	}
	row, user, err := s.lookup(ctx, sess.AccessToken)
	if err != nil {
		return err
	}

	if err := checkPassword(newPassword); err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(newPassword)) == nil {
		return fmt.Errorf("%w: new password must differ from the current one", identity.ErrPasswordRejected)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.repo.UpdateUserPassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	// A recovery session is spent once the password is set.
	revoke := func() error { return s.repo.DeleteOtherIdentitySessions(ctx, user.ID, row.TokenHash) }
	if row.Kind == models.SessionKindRecovery {
		revoke = func() error { return s.repo.DeleteUserIdentitySessions(ctx, user.ID) }
	}
	if err := revoke(); err != nil {
		slog.Warn("revoke_sessions_failed", "user_id", user.ID, "error", err)
	}
	if err := s.repo.DeleteUserRecoveryCodes(ctx, user.ID); err != nil {
		slog.Warn("revoke_recovery_codes_failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// GetCurrentSession resolves an access token to a live session.
func (s *Service) GetCurrentSession(ctx context.Context, accessToken string) (*identity.Session, error) {
	if accessToken == "" {
		return nil, nil
	}
	row, user, err := s.lookup(ctx, accessToken)
	if errors.Is(err, identity.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity.Session{
		AccessToken: accessToken,
		UserID:      user.IDString(),
		Email:       user.Email,
		Role:        user.Role,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

// RequestPasswordReset mails a recovery link to the owner of email.
func (s *Service) RequestPasswordReset(ctx context.Context, email, redirectURL string) error {
	if err := s.validate.Var(email, "required,email"); err != nil {
		return identity.ErrUserNotFound
	}
	if s.mailer == nil {
		return errors.New("password reset mail is not configured")
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}

	now := s.opts.Now()
	last, err := s.repo.LatestRecoveryCodeTime(ctx, user.ID)
	switch {
	case err == nil && now.Sub(last) < s.opts.ResetCooldown:
		return identity.ErrRateLimited
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("checking reset cooldown: %w", err)
	}

	code, codeHash, err := newToken()
	if err != nil {
		return err
	}
	link, err := codeLink(redirectURL, code, identity.RecoveryType)
	if err != nil {
		return err
	}
	if err := s.repo.CreateRecoveryCode(ctx, user.ID, codeHash, now.Add(s.opts.RecoveryCodeTTL)); err != nil {
		return fmt.Errorf("storing recovery code: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, link); err != nil {
		return fmt.Errorf("sending reset mail: %w", err)
	}
	slog.Info("password_reset_requested", "user_id", user.ID, "code", identity.MaskCode(code))
	return nil
}

// SignUp registers an unconfirmed account and mails a confirmation link. A
// second sign up for a pending address mails a new link and keeps the first
// password. A confirmed address yields identity.ErrUserExists.
func (s *Service) SignUp(ctx context.Context, email, password, role, redirectURL string) error {
	if err := s.validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("invalid email address %q", email)
	}
	if !identity.ValidRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}
	if err := checkPassword(password); err != nil {
		return err
	}
	if s.mailer == nil {
		return errors.New("sign up mail is not configured")
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil && user.Confirmed():
		return identity.ErrUserExists
	case err == nil:
		last, err := s.repo.LatestCodeTime(ctx, user.ID, models.CodeKindSignup)
		if err == nil && s.opts.Now().Sub(last) < s.opts.ResetCooldown {
			return identity.ErrRateLimited
		}
	case errors.Is(err, sql.ErrNoRows):
		hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		user, err = s.repo.CreatePendingUser(ctx, email, string(hash), role)
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
	default:
		return fmt.Errorf("loading user: %w", err)
	}

	code, codeHash, err := newToken()
	if err != nil {
		return err
	}
	link, err := codeLink(redirectURL, code, identity.SignupType)
	if err != nil {
		return err
	}
	if err := s.repo.CreateCode(ctx, user.ID, models.CodeKindSignup, codeHash, s.opts.Now().Add(s.opts.RecoveryCodeTTL)); err != nil {
		return fmt.Errorf("storing confirmation code: %w", err)
	}

	if err := s.mailer.SendSignupConfirmation(ctx, user.Email, link); err != nil {
		return fmt.Errorf("sending confirmation mail: %w", err)
	}
	slog.Info("signup_requested", "user_id", user.ID, "role", user.Role, "code", identity.MaskCode(code))
	return nil
}

// SignInWithPassword checks credentials and issues a password session.
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		// Spend the same time as a real comparison.
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		return nil, identity.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, identity.ErrInvalidCredentials
	}
	if !user.Confirmed() {
		return nil, identity.ErrEmailNotConfirmed
	}
	return s.issueSession(ctx, user, models.SessionKindPassword, s.opts.SessionTTL)
}

// SignOut ends a session.
func (s *Service) SignOut(ctx context.Context, sess *identity.Session) error {
	if sess == nil || sess.AccessToken == "" {
		return nil
	}
	return s.repo.DeleteIdentitySession(ctx, hashToken(sess.AccessToken))
}

// PurgeExpired deletes sessions past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredIdentitySessions(ctx, s.opts.Now())
}

// StartJanitor purges expired sessions every interval until ctx is done.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.PurgeExpired(ctx)
				if err != nil {
					slog.Warn("session_purge_failed", "error", err)
				} else if n > 0 {
					slog.Debug("sessions_purged", "count", n)
				}
			}
		}
	}()
}

func (s *Service) issueSession(ctx context.Context, user *models.User, kind string, ttl time.Duration) (*identity.Session, error) {
	token, tokenHash, err := newToken()
	if err != nil {
		return nil, err
	}
	expiresAt := s.opts.Now().Add(ttl)
	if err := s.repo.CreateIdentitySession(ctx, user.ID, tokenHash, kind, expiresAt); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	return &identity.Session{
		AccessToken: token,
		UserID:      user.IDString(),
		Email:       user.Email,
		Role:        user.Role,
		ExpiresAt:   expiresAt,
	}, nil
}

// lookup returns the stored session and its user, or identity.ErrNoSession.
func (s *Service) lookup(ctx context.Context, accessToken string) (*models.IdentitySession, *models.User, error) {
	if accessToken == "" {
		return nil, nil, identity.ErrNoSession
	}
	tokenHash := hashToken(accessToken)
	row, err := s.repo.GetIdentitySessionByHash(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, identity.ErrNoSession
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading session: %w", err)
	}
	if !s.opts.Now().Before(row.ExpiresAt) {
		_ = s.repo.DeleteIdentitySession(ctx, tokenHash)
		return nil, nil, identity.ErrNoSession
	}

	user, err := s.repo.GetUserByID(ctx, row.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, identity.ErrNoSession
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading user: %w", err)
	}
	return row, user, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.opts.BcryptCost)
	})
	return s.dummyHash
}

func checkPassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return fmt.Errorf("%w: shorter than %d characters", identity.ErrPasswordRejected, MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("%w: longer than %d bytes", identity.ErrPasswordRejected, MaxPasswordBytes)
	}
	return nil
}

// codeLink appends the code and its type to redirectURL.
func codeLink(redirectURL, code, codeType string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("parsing redirect url: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	q.Set("type", codeType)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// newToken returns a random hex token and its SHA-256 hash for storage.
func newToken() (string, string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating token: %w", err)
	}
	token := hex.EncodeToString(b)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
