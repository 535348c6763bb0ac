// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package contact manages peer public key records: trust state, SAS based
// verification and key rotation detection.
package contact

import (
	"errors"
	"time"

	"github.com/whisperlab/whisper/crypto/fingerprint"
	"github.com/whisperlab/whisper/identity"
)

var (
	// ErrContactNotFound is returned when a contact id is unknown.
	ErrContactNotFound = errors.New("contact: not found")

	// ErrContactAlreadyExists is returned on an id collision.
	ErrContactAlreadyExists = errors.New("contact: already exists")
)

// TrustLevel is the verification state of a contact.
type TrustLevel uint8

const (
	// TrustUnverified is the initial trust level, and the level any
	// contact falls back to after a key rotation.
	TrustUnverified TrustLevel = iota

	// TrustVerified means the user confirmed the SAS words out of band.
	// SAS confirmation is the only path to this level.
	TrustVerified

	// TrustRevoked means the user explicitly distrusts this key.
	TrustRevoked
)

func (t TrustLevel) String() string {
	switch t {
	case TrustUnverified:
		return "unverified"
	case TrustVerified:
		return "verified"
	case TrustRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// KeyHistoryEntry records a contact public key that was rotated away.
type KeyHistoryEntry struct {
	EncryptionPublicKey []byte
	SigningPublicKey    []byte
	KeyVersion          uint64
	RotatedAt           time.Time
}

// Contact is a peer the user exchanges messages with.
type Contact struct {
	// ID is the opaque contact id.
	ID string

	// DisplayName is the user facing name.
	DisplayName string

	// EncryptionPublicKey is the peer's X25519 public key.
	EncryptionPublicKey []byte

	// SigningPublicKey is the peer's optional Ed25519 public key.
	SigningPublicKey []byte

	// TrustLevel is the verification state.
	TrustLevel TrustLevel

	// IsBlocked is toggled independently of trust level.
	IsBlocked bool

	// KeyVersion increments on every applied key rotation.
	KeyVersion uint64

	// KeyHistory holds prior public keys, oldest first.
	KeyHistory []KeyHistoryEntry

	// CreatedAt is the record creation timestamp.
	CreatedAt time.Time

	// UpdatedAt is the last mutation timestamp.
	UpdatedAt time.Time
}

// Fingerprint derives the 32 byte fingerprint from the current public key
// material.  Derived values are always recomputed so a key mutation can
// never leave them stale.
func (c *Contact) Fingerprint() [fingerprint.Size]byte {
	return fingerprint.Fingerprint(c.EncryptionPublicKey, c.SigningPublicKey)
}

// ShortFingerprint returns the 12 character short fingerprint.
func (c *Contact) ShortFingerprint() string {
	return fingerprint.Short(c.Fingerprint())
}

// SASWords returns the six word short authentication string the user
// compares out of band to verify this contact.
func (c *Contact) SASWords() []string {
	return fingerprint.SASWords(c.Fingerprint())
}

// RecipientKeyID returns the 8 byte rkid derived from the fingerprint.
func (c *Contact) RecipientKeyID() [fingerprint.RecipientKeyIDSize]byte {
	return fingerprint.RecipientKeyID(c.Fingerprint())
}

// Bundle returns the public only bundle for this contact.
func (c *Contact) Bundle() *identity.Bundle {
	fp := c.Fingerprint()
	return &identity.Bundle{
		ID:                  c.ID,
		Name:                c.DisplayName,
		EncryptionPublicKey: append([]byte(nil), c.EncryptionPublicKey...),
		SigningPublicKey:    append([]byte(nil), c.SigningPublicKey...),
		Fingerprint:         fp[:],
		KeyVersion:          c.KeyVersion,
		CreatedAt:           c.CreatedAt.Unix(),
	}
}

func (c *Contact) clone() *Contact {
	n := *c
	n.EncryptionPublicKey = append([]byte(nil), c.EncryptionPublicKey...)
	n.SigningPublicKey = append([]byte(nil), c.SigningPublicKey...)
	n.KeyHistory = append([]KeyHistoryEntry(nil), c.KeyHistory...)
	return &n
}

// FromBundle builds an unverified contact from a parsed public bundle.
func FromBundle(b *identity.Bundle, now time.Time) *Contact {
	return &Contact{
		ID:                  b.ID,
		DisplayName:         b.Name,
		EncryptionPublicKey: append([]byte(nil), b.EncryptionPublicKey...),
		SigningPublicKey:    append([]byte(nil), b.SigningPublicKey...),
		TrustLevel:          TrustUnverified,
		KeyVersion:          b.KeyVersion,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Repository is the record store consumed by the contact Store.
type Repository interface {
	Put(*Contact) error
	Get(id string) (*Contact, error)
	Delete(id string) error
	List() ([]*Contact, error)

	// ByRecipientKeyID finds a contact whose derived rkid matches.
	ByRecipientKeyID(rkid [fingerprint.RecipientKeyIDSize]byte) (*Contact, error)
}
