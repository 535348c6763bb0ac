// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package identity manages the user's own key pairs across time: the
// current send identity, prior identities retained for decrypting
// historical messages, and archived identities.
package identity

import (
	"errors"
	"time"

	"github.com/whisperlab/whisper/crypto/fingerprint"
)

var (
	// ErrIdentityNotFound is returned when an identity id is unknown.
	ErrIdentityNotFound = errors.New("identity: not found")

	// ErrNoActiveIdentity is returned when an operation requires a
	// current send identity and none is set.
	ErrNoActiveIdentity = errors.New("identity: no active identity")

	// ErrDecryptionFailed is returned when a backup cannot be restored.
	// Wrong passphrase and corrupted data are deliberately not
	// distinguished.
	ErrDecryptionFailed = errors.New("identity: decryption failed")

	// ErrInvalidBundle is returned for malformed public key bundles.
	ErrInvalidBundle = errors.New("identity: invalid bundle")
)

// Status is the lifecycle state of an identity.
type Status uint8

const (
	// StatusActive marks an identity as eligible for decryption.  More
	// than one identity may be active after a rotation without
	// auto-archival; exactly one of them is the current send identity.
	StatusActive Status = iota

	// StatusArchived marks an identity as retired.  Archived identities
	// are never deleted while stored messages reference them.
	StatusArchived
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// Identity is one of the user's own identities.  Private key material is
// held by the secure key store collaborator, never on this record.
type Identity struct {
	// ID is the opaque 128 bit identity id, hex encoded.
	ID string

	// DisplayName is the user facing name, shared across a rotation
	// lineage.
	DisplayName string

	// EncryptionPublicKey is the X25519 public key.
	EncryptionPublicKey []byte

	// SigningPublicKey is the optional Ed25519 public key.
	SigningPublicKey []byte

	// Status is the lifecycle state.
	Status Status

	// KeyVersion increments along a rotation lineage.
	KeyVersion uint64

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time
}

// Fingerprint derives the 32 byte fingerprint from the public key
// material.  It is always recomputed, never stored, so it can not drift
// from the keys.
func (i *Identity) Fingerprint() [fingerprint.Size]byte {
	return fingerprint.Fingerprint(i.EncryptionPublicKey, i.SigningPublicKey)
}

// ShortFingerprint returns the 12 character short fingerprint.
func (i *Identity) ShortFingerprint() string {
	return fingerprint.Short(i.Fingerprint())
}

// SASWords returns the six word short authentication string.
func (i *Identity) SASWords() []string {
	return fingerprint.SASWords(i.Fingerprint())
}

// RecipientKeyID returns the 8 byte rkid for envelope recipient lookup.
func (i *Identity) RecipientKeyID() [fingerprint.RecipientKeyIDSize]byte {
	return fingerprint.RecipientKeyID(i.Fingerprint())
}

// Bundle returns the public only bundle for out of band exchange.
func (i *Identity) Bundle() *Bundle {
	fp := i.Fingerprint()
	return &Bundle{
		ID:                  i.ID,
		Name:                i.DisplayName,
		EncryptionPublicKey: append([]byte(nil), i.EncryptionPublicKey...),
		SigningPublicKey:    append([]byte(nil), i.SigningPublicKey...),
		Fingerprint:         fp[:],
		KeyVersion:          i.KeyVersion,
		CreatedAt:           i.CreatedAt.Unix(),
	}
}

func (i *Identity) clone() *Identity {
	c := *i
	c.EncryptionPublicKey = append([]byte(nil), i.EncryptionPublicKey...)
	c.SigningPublicKey = append([]byte(nil), i.SigningPublicKey...)
	return &c
}

// Repository is the record store consumed by the identity Store.
type Repository interface {
	Put(*Identity) error
	Get(id string) (*Identity, error)
	List() ([]*Identity, error)

	// ByRecipientKeyID finds an identity of any status whose derived
	// rkid matches.
	ByRecipientKeyID(rkid [fingerprint.RecipientKeyIDSize]byte) (*Identity, error)

	// SetCurrent records which identity is the current send identity.
	SetCurrent(id string) error

	// Current returns the current send identity id, or the empty string.
	Current() (string, error)
}
