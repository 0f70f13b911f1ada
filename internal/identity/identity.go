// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package identity defines the contract of the external identity service
// that owns users, sessions and recovery codes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Link types carried in the type parameter of emailed links.
const (
	RecoveryType = "recovery"
	SignupType   = "signup"
)

// Account roles chosen at sign up.
const (
	RoleJobSeeker = "job_seeker"
	RoleCompany   = "company"
)

// ValidRole reports whether role is one of the account roles.
func ValidRole(role string) bool {
	return role == RoleJobSeeker || role == RoleCompany
}

var (
	ErrCodeExpired        = errors.New("recovery code expired")
	ErrCodeInvalid        = errors.New("recovery code invalid or already used")
	ErrRateLimited        = errors.New("too many requests")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordRejected   = errors.New("password rejected")
	ErrNoSession          = errors.New("no active session")
	ErrUserExists         = errors.New("user already registered")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
)

// Session is a reference to a session owned by the identity backend.
type Session struct {
	ExpiresAt   time.Time
	AccessToken string
	UserID      string
	Email       string
	Role        string
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Service is implemented by identity backends.
type Service interface {
	// ExchangeRecoveryCode redeems a single-use recovery code for a session.
	// A code can be exchanged successfully at most once.
	ExchangeRecoveryCode(ctx context.Context, code, codeType string) (*Session, error)

	// UpdateCurrentPassword sets a new password for the owner of s.
	UpdateCurrentPassword(ctx context.Context, s *Session, newPassword string) error

	// GetCurrentSession resolves an access token. It returns nil, nil when the
	// token does not belong to a live session.
	GetCurrentSession(ctx context.Context, accessToken string) (*Session, error)

	// RequestPasswordReset mails a recovery link pointing at redirectURL.
	RequestPasswordReset(ctx context.Context, email, redirectURL string) error

	// SignUp registers an unconfirmed account and mails a confirmation link
	// pointing at redirectURL.
	SignUp(ctx context.Context, email, password, role, redirectURL string) error

	// ConfirmSignUp redeems a confirmation code and signs the new user in.
	ConfirmSignUp(ctx context.Context, code, codeType string) (*Session, error)

	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, s *Session) error
}

// PKCE is implemented by backends that issue emailed links as authorization
// codes bound to a verifier held by the requesting browser.
type PKCE interface {
	RequestPasswordResetPKCE(ctx context.Context, email, redirectURL, codeChallenge string) error
	SignUpPKCE(ctx context.Context, email, password, role, redirectURL, codeChallenge string) error

	// ExchangeAuthCode redeems an authorization code with its verifier.
	ExchangeAuthCode(ctx context.Context, authCode, codeVerifier string) (*Session, error)
}

// Reason classifies why a recovery code exchange failed.
type Reason string

const (
	ReasonNone    Reason = ""
	ReasonExpired Reason = "expired"
	ReasonInvalid Reason = "invalid"
	ReasonOther   Reason = "other"
)

// ReasonOf maps an exchange error to its Reason.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrCodeExpired):
		return ReasonExpired
	case errors.Is(err, ErrCodeInvalid):
		return ReasonInvalid
	default:
		return ReasonOther
	}
}

// MaskCode returns a representation of a recovery code that is safe to log.
func MaskCode(code string) string {
	if code == "" {
		return ""
	}
	if len(code) < 12 {
		return fmt.Sprintf("…(%d)", len(code))
	}
	return fmt.Sprintf("%s…(%d)", code[:4], len(code))
}
