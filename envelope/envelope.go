// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package envelope implements the whisper v1 wire envelope and the
// encrypt/decrypt pipeline orchestrating the crypto, padding, policy and
// replay layers.
package envelope

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"github.com/whisperlab/whisper/crypto"
	"github.com/whisperlab/whisper/crypto/fingerprint"
	"github.com/whisperlab/whisper/crypto/padding"
)

const (
	// Prefix is the wire prefix of an encrypted message envelope.
	Prefix = "whisper1:"

	// Version is the only accepted protocol version token.
	Version = "v1"

	// Algorithm is the only accepted algorithm token
	// (X25519 + HKDF-SHA256 + ChaCha20-Poly1305).
	Algorithm = "c20p"

	// FlagSigned marks the presence of a trailing signature component.
	FlagSigned = 0x01

	flagsKnownMask = FlagSigned

	// Component counts after the prefix is stripped.
	numComponents       = 9
	numComponentsSigned = 10
)

var (
	// ErrInvalidEnvelope covers every structural, format and algorithm
	// lock failure.  It is deliberately generic: the parser never tells
	// an attacker which check failed.
	ErrInvalidEnvelope = errors.New("envelope: invalid envelope")

	// ErrMessageExpired is returned when the claimed timestamp falls
	// outside the freshness window.  Expired messages are never
	// committed to the replay store.
	ErrMessageExpired = errors.New("envelope: message expired")

	// ErrReplayDetected is returned when the message id was admitted
	// before.
	ErrReplayDetected = errors.New("envelope: replay detected")

	// ErrCryptographicFailure covers AEAD tag mismatch, bad key
	// material, unresolvable recipient keys and padding validation
	// failure.  Deliberately generic, never distinguishing wrong key
	// from tampered ciphertext.
	ErrCryptographicFailure = errors.New("envelope: cryptographic failure")
)

// validCiphertextSize reports whether n matches a padded bucket plus the
// AEAD tag; anything else cannot have been produced by the v1 pipeline.
func validCiphertextSize(n int) bool {
	switch n {
	case padding.BucketSmall + crypto.TagSize,
		padding.BucketMedium + crypto.TagSize,
		padding.BucketLarge + crypto.TagSize:
		return true
	default:
		return false
	}
}

// Envelope is the transient wire representation of one encrypted
// message.  It is immutable once constructed and lives only for the
// duration of a single encrypt or decrypt call.
type Envelope struct {
	RecipientKeyID     [fingerprint.RecipientKeyIDSize]byte
	Flags              byte
	EphemeralPublicKey [crypto.PublicKeySize]byte
	Salt               [crypto.SaltSize]byte
	MessageID          [crypto.MessageIDSize]byte
	Timestamp          int64
	Ciphertext         []byte
	Signature          [crypto.SignatureSize]byte
}

// IsSigned reports whether the signature component is present.
func (e *Envelope) IsSigned() bool {
	return e.Flags&FlagSigned != 0
}

var b64 = base64.RawURLEncoding

// header returns the canonical serialization of all non-ciphertext
// fields.  It doubles as the AEAD additional data so tampering with any
// header field invalidates the tag.
func (e *Envelope) header() string {
	var sb strings.Builder
	sb.WriteString(Prefix)
	sb.WriteString(Version)
	sb.WriteByte('.')
	sb.WriteString(Algorithm)
	sb.WriteByte('.')
	sb.WriteString(b64.EncodeToString(e.RecipientKeyID[:]))
	sb.WriteByte('.')
	sb.WriteString(b64.EncodeToString([]byte{e.Flags}))
	sb.WriteByte('.')
	sb.WriteString(b64.EncodeToString(e.EphemeralPublicKey[:]))
	sb.WriteByte('.')
	sb.WriteString(b64.EncodeToString(e.Salt[:]))
	sb.WriteByte('.')
	sb.WriteString(b64.EncodeToString(e.MessageID[:]))
	sb.WriteByte('.')
	sb.WriteString(strconv.FormatInt(e.Timestamp, 10))
	return sb.String()
}

// AdditionalData returns the canonical header bytes bound into the AEAD
// tag and covered by the optional signature.
func (e *Envelope) AdditionalData() []byte {
	return []byte(e.header())
}

// String serializes the envelope to its wire form.
func (e *Envelope) String() string {
	var sb strings.Builder
	sb.WriteString(e.header())
	sb.WriteByte('.')
	sb.WriteString(b64.EncodeToString(e.Ciphertext))
	if e.IsSigned() {
		sb.WriteByte('.')
		sb.WriteString(b64.EncodeToString(e.Signature[:]))
	}
	return sb.String()
}

func decodeFixed(dst []byte, field string) bool {
	raw, err := b64.DecodeString(field)
	if err != nil || len(raw) != len(dst) {
		return false
	}
	copy(dst, raw)
	return true
}

// Parse parses and strictly validates an envelope wire string.  The
// version and algorithm tokens must match exactly, every fixed length
// field must decode to its exact size, and the component count must
// match the flags field.  Any deviation is ErrInvalidEnvelope.
func Parse(s string) (*Envelope, error) {
	body, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return nil, ErrInvalidEnvelope
	}
	parts := strings.Split(body, ".")
	if len(parts) != numComponents && len(parts) != numComponentsSigned {
		return nil, ErrInvalidEnvelope
	}

	// Algorithm lock: exact ASCII match, case sensitive, no prefix or
	// partial matches.
	if parts[0] != Version || parts[1] != Algorithm {
		return nil, ErrInvalidEnvelope
	}

	e := new(Envelope)
	if !decodeFixed(e.RecipientKeyID[:], parts[2]) {
		return nil, ErrInvalidEnvelope
	}
	var flags [1]byte
	if !decodeFixed(flags[:], parts[3]) {
		return nil, ErrInvalidEnvelope
	}
	e.Flags = flags[0]
	if e.Flags&^byte(flagsKnownMask) != 0 {
		return nil, ErrInvalidEnvelope
	}
	wantParts := numComponents
	if e.IsSigned() {
		wantParts = numComponentsSigned
	}
	if len(parts) != wantParts {
		return nil, ErrInvalidEnvelope
	}
	if !decodeFixed(e.EphemeralPublicKey[:], parts[4]) {
		return nil, ErrInvalidEnvelope
	}
	if !decodeFixed(e.Salt[:], parts[5]) {
		return nil, ErrInvalidEnvelope
	}
	if !decodeFixed(e.MessageID[:], parts[6]) {
		return nil, ErrInvalidEnvelope
	}

	ts, err := strconv.ParseInt(parts[7], 10, 64)
	if err != nil || strconv.FormatInt(ts, 10) != parts[7] {
		return nil, ErrInvalidEnvelope
	}
	e.Timestamp = ts

	ct, err := b64.DecodeString(parts[8])
	if err != nil || !validCiphertextSize(len(ct)) {
		return nil, ErrInvalidEnvelope
	}
	e.Ciphertext = ct

	if e.IsSigned() {
		if !decodeFixed(e.Signature[:], parts[9]) {
			return nil, ErrInvalidEnvelope
		}
	}
	return e, nil
}
