// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package contact

import (
	"bytes"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/whisperlab/whisper/core/log"
	"github.com/whisperlab/whisper/crypto"
	"github.com/whisperlab/whisper/crypto/fingerprint"
	"github.com/whisperlab/whisper/identity"
)

// Store owns contact records and their trust lifecycle.
type Store struct {
	sync.Mutex

	repo Repository
	log  *logging.Logger

	nowFn func() time.Time
}

// NewStore constructs a contact Store.
func NewStore(repo Repository, logBackend *log.Backend) *Store {
	return &Store{
		repo:  repo,
		log:   logBackend.GetLogger("contact"),
		nowFn: time.Now,
	}
}

// Add inserts a new contact.
func (s *Store) Add(c *Contact) error {
	s.Lock()
	defer s.Unlock()

	if _, err := s.repo.Get(c.ID); err == nil {
		return ErrContactAlreadyExists
	}
	n := c.clone()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.nowFn()
	}
	n.UpdatedAt = s.nowFn()
	return s.repo.Put(n)
}

// AddFromBundle parses a public bundle wire string and adds the peer as an
// unverified contact.
func (s *Store) AddFromBundle(bundle string) (*Contact, error) {
	b, err := identity.ParseBundle(bundle)
	if err != nil {
		return nil, err
	}
	c := FromBundle(b, s.nowFn())
	if err := s.Add(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update replaces an existing contact record.
func (s *Store) Update(c *Contact) error {
	s.Lock()
	defer s.Unlock()

	if _, err := s.repo.Get(c.ID); err != nil {
		return ErrContactNotFound
	}
	n := c.clone()
	n.UpdatedAt = s.nowFn()
	return s.repo.Put(n)
}

// Delete removes a contact.
func (s *Store) Delete(id string) error {
	s.Lock()
	defer s.Unlock()

	if _, err := s.repo.Get(id); err != nil {
		return ErrContactNotFound
	}
	return s.repo.Delete(id)
}

// Get returns a contact by id.
func (s *Store) Get(id string) (*Contact, error) {
	s.Lock()
	defer s.Unlock()

	c, err := s.repo.Get(id)
	if err != nil {
		return nil, ErrContactNotFound
	}
	return c, nil
}

// List returns all contacts.
func (s *Store) List() ([]*Contact, error) {
	s.Lock()
	defer s.Unlock()
	return s.repo.List()
}

// Verify records the outcome of an out of band SAS comparison.  This is
// the only operation that can set TrustVerified.
func (s *Store) Verify(id string, sasConfirmed bool) error {
	s.Lock()
	defer s.Unlock()

	c, err := s.repo.Get(id)
	if err != nil {
		return ErrContactNotFound
	}
	if sasConfirmed {
		c.TrustLevel = TrustVerified
	} else {
		c.TrustLevel = TrustUnverified
	}
	c.UpdatedAt = s.nowFn()
	s.log.Noticef("contact %v trust level now %v", c.ShortFingerprint(), c.TrustLevel)
	return s.repo.Put(c)
}

// Block marks a contact as blocked.  Blocking is independent of trust.
func (s *Store) Block(id string) error {
	return s.setBlocked(id, true)
}

// Unblock clears a contact's blocked flag.
func (s *Store) Unblock(id string) error {
	return s.setBlocked(id, false)
}

func (s *Store) setBlocked(id string, blocked bool) error {
	s.Lock()
	defer s.Unlock()

	c, err := s.repo.Get(id)
	if err != nil {
		return ErrContactNotFound
	}
	c.IsBlocked = blocked
	c.UpdatedAt = s.nowFn()
	return s.repo.Put(c)
}

// CheckForKeyRotation reports whether the peer's currently observed
// X25519 key differs from the one on record.
func (s *Store) CheckForKeyRotation(c *Contact, currentEncryptionKey []byte) bool {
	return !bytes.Equal(c.EncryptionPublicKey, currentEncryptionKey)
}

// HandleKeyRotation applies a detected key rotation: the old public keys
// are appended to the key history, the new keys replace them (derived
// identifiers recompute implicitly), the key version increments, and
// trust unconditionally resets to unverified.  Rotation must never
// preserve verified trust.
func (s *Store) HandleKeyRotation(id string, newEncryptionKey, newSigningKey []byte) (*Contact, error) {
	s.Lock()
	defer s.Unlock()

	c, err := s.repo.Get(id)
	if err != nil {
		return nil, ErrContactNotFound
	}
	if len(newEncryptionKey) != crypto.PublicKeySize {
		return nil, identity.ErrInvalidBundle
	}
	now := s.nowFn()
	c.KeyHistory = append(c.KeyHistory, KeyHistoryEntry{
		EncryptionPublicKey: c.EncryptionPublicKey,
		SigningPublicKey:    c.SigningPublicKey,
		KeyVersion:          c.KeyVersion,
		RotatedAt:           now,
	})
	c.EncryptionPublicKey = append([]byte(nil), newEncryptionKey...)
	c.SigningPublicKey = append([]byte(nil), newSigningKey...)
	c.KeyVersion++
	c.TrustLevel = TrustUnverified
	c.UpdatedAt = now
	if err := s.repo.Put(c); err != nil {
		return nil, err
	}
	s.log.Warningf("contact %v rotated keys, trust reset to unverified", c.ID)
	return c.clone(), nil
}

// ByRecipientKeyID finds a contact whose derived rkid matches.
func (s *Store) ByRecipientKeyID(rkid [fingerprint.RecipientKeyIDSize]byte) (*Contact, error) {
	s.Lock()
	defer s.Unlock()

	c, err := s.repo.ByRecipientKeyID(rkid)
	if err != nil {
		return nil, ErrContactNotFound
	}
	return c, nil
}

// ExportPublicKeybook serializes all contacts' public bundles.
func (s *Store) ExportPublicKeybook() ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	contacts, err := s.repo.List()
	if err != nil {
		return nil, err
	}
	bundles := make([]*identity.Bundle, 0, len(contacts))
	for _, c := range contacts {
		bundles = append(bundles, c.Bundle())
	}
	return cbor.Marshal(bundles)
}
