// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"sync"

	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"github.com/google/uuid"
)

// State is a step of the update page state machine.
type State int

const (
	AwaitingCode State = iota
	NoCode
	Verifying
	Verified
	VerifyFailed
	Submitting
	Success
)

var stateNames = [...]string{
	AwaitingCode: "awaiting_code",
	NoCode:       "no_code",
	Verifying:    "verifying",
	Verified:     "verified",
	VerifyFailed: "verify_failed",
	Submitting:   "submitting",
	Success:      "success",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Flow is the state of one update page lifetime.
type Flow struct { //nolint:govet // fieldalignment: readability over optimization
	mu      sync.Mutex
	id      string
	state   State
	session *identity.Session
	reason  identity.Reason
	err     error
}

func newFlow() *Flow {
	return &Flow{id: uuid.NewString(), state: AwaitingCode}
}

// ID identifies the flow across form submissions.
func (f *Flow) ID() string {
	return f.id
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Reason returns why the exchange failed, if it did.
func (f *Flow) Reason() identity.Reason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// Err returns the last exchange or update error.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Email returns the account address of the exchanged session.
func (f *Flow) Email() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return ""
	}
	return f.session.Email
}

// AcceptsInput reports whether a password may be submitted.
func (f *Flow) AcceptsInput() bool {
	return f.State() == Verified
}
