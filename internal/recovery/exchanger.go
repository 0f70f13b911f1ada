// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	"codeberg.org/oliverandrich/taxijobs/internal/identity"
)

// MinPasswordLength is the shortest new password accepted by the form.
const MinPasswordLength = 8

var (
	ErrNoCode           = errors.New("recovery: no code in request")
	ErrNotAccepting     = errors.New("recovery: flow is not accepting a password")
	ErrFlowNotFound     = errors.New("recovery: flow not found or expired")
	ErrPasswordMismatch = errors.New("recovery: passwords do not match")
	ErrPasswordTooShort = errors.New("recovery: password too short")
)

// PasswordForm is the submitted new password.
type PasswordForm struct {
	FlowID          string `form:"flow_id"`
	NewPassword     string `form:"new_password"`
	ConfirmPassword string `form:"confirm_password"`
}

// Validate checks the form without contacting the backend.
func (p PasswordForm) Validate() error {
	if p.NewPassword != p.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if utf8.RuneCountInString(p.NewPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// Exchanger drives update page flows against the identity backend.
type Exchanger struct {
	idp   identity.Service
	store *Store
}

// NewExchanger creates an exchanger keeping verified flows in store.
func NewExchanger(idp identity.Service, store *Store) *Exchanger {
	return &Exchanger{idp: idp, store: store}
}

// Begin starts a flow for one page load. Without a code the flow ends in
// NoCode and ErrNoCode is returned. Otherwise the code is exchanged exactly
// once; the returned flow is Verified or VerifyFailed.
func (e *Exchanger) Begin(ctx context.Context, code, codeType string) (*Flow, error) {
	return e.BeginWithVerifier(ctx, code, codeType, "")
}

// BeginWithVerifier is Begin for a browser holding the PKCE verifier of its
// reset request. An untyped code is then redeemed as an authorization code.
func (e *Exchanger) BeginWithVerifier(ctx context.Context, code, codeType, verifier string) (*Flow, error) {
	f := newFlow()
	if code == "" {
		f.state = NoCode
		return f, ErrNoCode
	}

	f.state = Verifying
	// An exchange in flight is abandoned with the request, never aborted.
	sess, err := e.exchange(context.WithoutCancel(ctx), code, codeType, verifier)
	if err == nil && sess == nil {
		err = errors.New("identity backend returned no session")
	}

	f.mu.Lock()
	if err != nil {
		f.state = VerifyFailed
		f.reason = identity.ReasonOf(err)
		f.err = err
		f.mu.Unlock()
		slog.Warn("recovery_exchange_failed",
			"flow_id", f.id,
			"code", identity.MaskCode(code),
			"reason", string(identity.ReasonOf(err)),
			"error", err,
		)
		return f, nil
	}
	f.state = Verified
	f.session = sess
	f.mu.Unlock()

	e.store.Put(f)
	slog.Info("recovery_exchange_succeeded", "flow_id", f.id, "user_id", sess.UserID)
	return f, nil
}

func (e *Exchanger) exchange(ctx context.Context, code, codeType, verifier string) (*identity.Session, error) {
	if pkce, ok := e.idp.(identity.PKCE); ok && verifier != "" && codeType == "" {
		return pkce.ExchangeAuthCode(ctx, code, verifier)
	}
	return e.idp.ExchangeRecoveryCode(ctx, code, codeType)
}

// Lookup returns a stored flow.
func (e *Exchanger) Lookup(flowID string) (*Flow, bool) {
	return e.store.Get(flowID)
}

// Submit sets the new password of a verified flow. Validation errors and
// backend failures leave the flow Verified. A submit in any state other than
// Verified is a no-op returning ErrNotAccepting.
func (e *Exchanger) Submit(ctx context.Context, form PasswordForm) (*Flow, error) {
	f, ok := e.store.Get(form.FlowID)
	if !ok {
		return nil, ErrFlowNotFound
	}

	f.mu.Lock()
	if f.state != Verified {
		f.mu.Unlock()
		return f, ErrNotAccepting
	}
	if err := form.Validate(); err != nil {
		f.err = err
		f.mu.Unlock()
		return f, err
	}
	f.state = Submitting
	f.err = nil
	sess := f.session
	f.mu.Unlock()

	err := e.idp.UpdateCurrentPassword(context.WithoutCancel(ctx), sess, form.NewPassword)

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case err == nil:
		f.state = Success
		e.store.Delete(f.id)
		slog.Info("password_updated", "flow_id", f.id, "user_id", sess.UserID)
		return f, nil
	case errors.Is(err, identity.ErrNoSession):
		// The recovery session ran out; only a new link helps.
		f.state = VerifyFailed
		f.reason = identity.ReasonExpired
		f.err = err
		e.store.Delete(f.id)
	default:
		f.state = Verified
		f.err = err
	}
	slog.Warn("password_update_failed", "flow_id", f.id, "state", f.state.String(), "error", err)
	return f, err
}
