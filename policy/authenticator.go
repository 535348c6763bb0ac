// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package policy

import "context"

// AuthOutcome is the resolution of a user presence challenge.
type AuthOutcome uint8

const (
	// AuthAuthorized means the user passed the challenge.
	AuthAuthorized AuthOutcome = iota

	// AuthDenied means the challenge completed and was rejected
	// (wrong biometric, not enrolled, locked out).
	AuthDenied

	// AuthCancelled means the user dismissed the prompt.  Distinct
	// from AuthDenied because it is trivially retryable.
	AuthCancelled
)

func (o AuthOutcome) String() string {
	switch o {
	case AuthAuthorized:
		return "authorized"
	case AuthDenied:
		return "denied"
	case AuthCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Authenticator is the external user presence collaborator.  The
// challenge suspends until the user interacts; a non-nil error reports a
// hardware or platform failure rather than a user decision.
type Authenticator interface {
	Authenticate(ctx context.Context, reason string) (AuthOutcome, error)
}
