// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package testutil

import (
	"context"
	"sync"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/identity"
)

// FakeIdentity is a scripted identity.Service that counts calls. Unset
// functions fall back to a successful default.
type FakeIdentity struct { //nolint:govet // fieldalignment not critical
	ExchangeFunc   func(ctx context.Context, code, codeType string) (*identity.Session, error)
	UpdateFunc     func(ctx context.Context, s *identity.Session, newPassword string) error
	SessionFunc    func(ctx context.Context, accessToken string) (*identity.Session, error)
	ResetFunc      func(ctx context.Context, email, redirectURL string) error
	SignInFunc     func(ctx context.Context, email, password string) (*identity.Session, error)
	SignOutFunc    func(ctx context.Context, s *identity.Session) error
	SignUpFunc     func(ctx context.Context, email, password, role, redirectURL string) error
	ConfirmFunc    func(ctx context.Context, code, codeType string) (*identity.Session, error)
	mu             sync.Mutex
	calls          map[string]int
	LastPassword   string
	LastResetEmail string
	LastRedirect   string
	LastRole       string
}

var _ identity.Service = (*FakeIdentity)(nil)

// NewFakeIdentity creates a FakeIdentity with default behavior.
func NewFakeIdentity() *FakeIdentity {
	return &FakeIdentity{calls: make(map[string]int)}
}

// TestSession returns a session valid for an hour.
func TestSession(token string) *identity.Session {
	return &identity.Session{
		AccessToken: token,
		UserID:      "1",
		Email:       "driver@example.com",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

// Calls returns how often method was called.
func (f *FakeIdentity) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeIdentity) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
}

func (f *FakeIdentity) ExchangeRecoveryCode(ctx context.Context, code, codeType string) (*identity.Session, error) {
	f.record("ExchangeRecoveryCode")
	if f.ExchangeFunc != nil {
		return f.ExchangeFunc(ctx, code, codeType)
	}
	return TestSession("recovery-token"), nil
}

func (f *FakeIdentity) UpdateCurrentPassword(ctx context.Context, s *identity.Session, newPassword string) error {
	f.record("UpdateCurrentPassword")
	f.mu.Lock()
	f.LastPassword = newPassword
	f.mu.Unlock()
	if f.UpdateFunc != nil {
		return f.UpdateFunc(ctx, s, newPassword)
	}
	return nil
}

func (f *FakeIdentity) GetCurrentSession(ctx context.Context, accessToken string) (*identity.Session, error) {
	f.record("GetCurrentSession")
	if f.SessionFunc != nil {
		return f.SessionFunc(ctx, accessToken)
	}
	if accessToken == "" {
		return nil, nil
	}
	return TestSession(accessToken), nil
}

func (f *FakeIdentity) RequestPasswordReset(ctx context.Context, email, redirectURL string) error {
	f.record("RequestPasswordReset")
	f.mu.Lock()
	f.LastResetEmail = email
	f.LastRedirect = redirectURL
	f.mu.Unlock()
	if f.ResetFunc != nil {
		return f.ResetFunc(ctx, email, redirectURL)
	}
	return nil
}

func (f *FakeIdentity) SignUp(ctx context.Context, email, password, role, redirectURL string) error {
	f.record("SignUp")
	f.mu.Lock()
	f.LastPassword = password
	f.LastRole = role
	f.LastRedirect = redirectURL
	f.mu.Unlock()
	if f.SignUpFunc != nil {
		return f.SignUpFunc(ctx, email, password, role, redirectURL)
	}
	return nil
}

func (f *FakeIdentity) ConfirmSignUp(ctx context.Context, code, codeType string) (*identity.Session, error) {
	f.record("ConfirmSignUp")
	if f.ConfirmFunc != nil {
		return f.ConfirmFunc(ctx, code, codeType)
	}
	return TestSession("confirmed-token"), nil
}

func (f *FakeIdentity) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	f.record("SignInWithPassword")
	if f.SignInFunc != nil {
		return f.SignInFunc(ctx, email, password)
	}
	s := TestSession("password-token")
	s.Email = email
	return s, nil
}

func (f *FakeIdentity) SignOut(ctx context.Context, s *identity.Session) error {
	f.record("SignOut")
	if f.SignOutFunc != nil {
		return f.SignOutFunc(ctx, s)
	}
	return nil
}

// FakePKCE adds the authorization code flow to a FakeIdentity.
type FakePKCE struct {
	*FakeIdentity
	AuthCodeFunc  func(ctx context.Context, authCode, codeVerifier string) (*identity.Session, error)
	LastChallenge string
	LastVerifier  string
}

var _ identity.PKCE = (*FakePKCE)(nil)

// NewFakePKCE creates a FakePKCE with default behavior.
func NewFakePKCE() *FakePKCE {
	return &FakePKCE{FakeIdentity: NewFakeIdentity()}
}

func (f *FakePKCE) RequestPasswordResetPKCE(ctx context.Context, email, redirectURL, codeChallenge string) error {
	f.mu.Lock()
	f.LastChallenge = codeChallenge
	f.mu.Unlock()
	return f.RequestPasswordReset(ctx, email, redirectURL)
}

func (f *FakePKCE) SignUpPKCE(ctx context.Context, email, password, role, redirectURL, codeChallenge string) error {
	f.mu.Lock()
	f.LastChallenge = codeChallenge
	f.mu.Unlock()
	return f.SignUp(ctx, email, password, role, redirectURL)
}

func (f *FakePKCE) ExchangeAuthCode(ctx context.Context, authCode, codeVerifier string) (*identity.Session, error) {
	f.record("ExchangeAuthCode")
	f.mu.Lock()
	f.LastVerifier = codeVerifier
	f.mu.Unlock()
	if f.AuthCodeFunc != nil {
		return f.AuthCodeFunc(ctx, authCode, codeVerifier)
	}
	return TestSession("pkce-token"), nil
}
