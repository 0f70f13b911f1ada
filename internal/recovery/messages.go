// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"errors"

	"codeberg.org/oliverandrich/taxijobs/internal/identity"
)

// FailureMessageID maps an exchange failure to its message ID.
func FailureMessageID(reason identity.Reason) string {
	switch reason {
	case identity.ReasonExpired:
		return "recovery_link_expired"
	case identity.ReasonInvalid:
		return "recovery_link_invalid"
	default:
		return "recovery_link_failed"
	}
}

// UpdateErrorMessageID maps a submit error to its message ID.
func UpdateErrorMessageID(err error) string {
	switch {
	case errors.Is(err, ErrPasswordMismatch):
		return "password_mismatch"
	case errors.Is(err, ErrPasswordTooShort):
		return "password_too_short"
	case errors.Is(err, identity.ErrPasswordRejected):
		return "password_rejected"
	case errors.Is(err, identity.ErrRateLimited):
		return "too_many_requests"
	default:
		return "password_update_failed"
	}
}
