// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package policy implements the send time security policy checks.  The
// engine is a pure function over the configured flags and the recipient
// context; it is evaluated before any cryptographic work since policies
// are cheap to evaluate and expensive to undo.
package policy

import (
	"errors"
	"fmt"

	"github.com/whisperlab/whisper/contact"
)

// Config holds the four independent policy flags.  It is owned by
// configuration and consumed read only; the engine never reads ambient
// global state.
type Config struct {
	// ContactRequiredToSend forbids sending to raw public keys that are
	// not saved contacts.
	ContactRequiredToSend bool

	// RequireSignatureForVerified forbids sending unsigned messages to
	// verified contacts.
	RequireSignatureForVerified bool

	// AutoArchiveOnRotation archives the previous identity when the
	// current identity rotates.
	AutoArchiveOnRotation bool

	// BiometricGatedSigning requires user presence authentication
	// before a signing operation.
	BiometricGatedSigning bool
}

// Violation identifies which policy rejected an operation.
type Violation uint8

const (
	// ViolationRawKeyBlocked: sending to a raw key while a saved
	// contact is required.
	ViolationRawKeyBlocked Violation = iota

	// ViolationContactRequired: the recipient contact is unusable
	// (blocked contacts are policy equivalent to no contact).
	ViolationContactRequired

	// ViolationSignatureRequired: an unsigned send to a verified
	// contact while signatures are required for verified peers.
	ViolationSignatureRequired

	// ViolationBiometricRequired: the user presence challenge was
	// denied or cancelled.  This is a recoverable, retryable state.
	ViolationBiometricRequired
)

func (v Violation) String() string {
	switch v {
	case ViolationRawKeyBlocked:
		return "raw key blocked"
	case ViolationContactRequired:
		return "contact required"
	case ViolationSignatureRequired:
		return "signature required"
	case ViolationBiometricRequired:
		return "biometric required"
	default:
		return "unknown"
	}
}

// Error is a policy violation.
type Error struct {
	Violation Violation
}

func (e *Error) Error() string {
	return fmt.Sprintf("policy: %v", e.Violation)
}

// ErrBiometricFailed indicates a hardware or platform authentication
// failure, distinct from user cancellation which is a retryable
// Violation.
var ErrBiometricFailed = errors.New("policy: biometric authentication failed")

// IsViolation reports whether err is a policy violation of the given kind.
func IsViolation(err error, v Violation) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Violation == v
}

// Engine evaluates the policy matrix.  Evaluation order is fixed:
// contact policy, then signature policy, then biometric gating.
type Engine struct {
	cfg Config
}

// NewEngine constructs an Engine over a policy configuration value.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the policy flags the engine evaluates.
func (e *Engine) Config() Config {
	return e.cfg
}

// ValidateSend gates on the recipient.  A nil recipient means a raw key
// send; a blocked contact is treated as having no contact at all.
func (e *Engine) ValidateSend(recipient *contact.Contact) error {
	if recipient == nil {
		if e.cfg.ContactRequiredToSend {
			return &Error{Violation: ViolationRawKeyBlocked}
		}
		return nil
	}
	if recipient.IsBlocked {
		return &Error{Violation: ViolationContactRequired}
	}
	return nil
}

// ValidateSignature gates on the requested authenticity.  Only verified
// contacts are signature gated; unverified and revoked contacts never
// are.
func (e *Engine) ValidateSignature(recipient *contact.Contact, hasSignature bool) error {
	if !e.cfg.RequireSignatureForVerified {
		return nil
	}
	if recipient != nil && recipient.TrustLevel == contact.TrustVerified && !hasSignature {
		return &Error{Violation: ViolationSignatureRequired}
	}
	return nil
}

// RequiresBiometric reports whether signing operations are gated on a
// user presence challenge.
func (e *Engine) RequiresBiometric() bool {
	return e.cfg.BiometricGatedSigning
}
