// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package templates

import (
	"context"
	"encoding/json"
	"time"
)

// Notice is a message ID shown as a banner; Error marks it as a failure.
type Notice struct {
	ID    string
	Data  map[string]any
	Error bool
}

func (n *Notice) class() string {
	if n.Error {
		return "error"
	}
	return "notice"
}

func (n *Notice) role() string {
	if n.Error {
		return "alert"
	}
	return "status"
}

func (n *Notice) text(ctx context.Context) string {
	if n.Data != nil {
		return TData(ctx, n.ID, n.Data)
	}
	return T(ctx, n.ID)
}

type SignInPage struct {
	Email  string
	Next   string
	Notice *Notice
}

// SignUpPage is the account creation form. Role preselects a radio button.
type SignUpPage struct {
	Email  string
	Role   string
	Notice *Notice
}

type ResetPage struct {
	Email  string
	Sent   bool
	Notice *Notice
}

// UpdatePasswordPage renders one state of the update page state machine.
type UpdatePasswordPage struct { //nolint:govet // fieldalignment not critical
	FlowID string
	// State is the flow state name, e.g. "verified" or "verify_failed".
	State           string
	Email           string
	ErrorID         string
	FailureID       string
	RedirectSeconds int
	CanSubmit       bool
}

// Verifying reports whether the page shows the verification notice.
func (p UpdatePasswordPage) Verifying() bool { return p.State == "verifying" }

// Submitting reports whether a submit is in flight.
func (p UpdatePasswordPage) Submitting() bool { return p.State == "submitting" }

// Failed reports whether the code could not be verified.
func (p UpdatePasswordPage) Failed() bool { return p.State == "verify_failed" }

type JobsPostPage struct {
	Email string
}

type ProfilePage struct {
	Email     string
	UserID    string
	Role      string
	ExpiresAt time.Time
}

type ErrorPage struct {
	Code      int
	MessageID string
}

// roles lists the account types offered on the sign up form.
var roles = []string{"job_seeker", "company"}

func roleLabel(ctx context.Context, role string) string {
	return T(ctx, "signup_role_"+role)
}

// csrfHeaders is the hx-headers value carrying the CSRF token.
func csrfHeaders(ctx context.Context) string {
	b, err := json.Marshal(map[string]string{"X-CSRF-Token": CSRFToken(ctx)})
	if err != nil {
		return "{}"
	}
	return string(b)
}

func datetime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
