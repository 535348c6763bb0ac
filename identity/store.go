// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package identity

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/sign"
	"gopkg.in/op/go-logging.v1"

	"github.com/whisperlab/whisper/core/log"
	"github.com/whisperlab/whisper/crypto"
	"github.com/whisperlab/whisper/crypto/fingerprint"
	"github.com/whisperlab/whisper/keystore"
)

const idSize = 16

// Store owns the identity lifecycle: creation, activation, rotation and
// archival.  Public records live in the Repository, private key material
// in the secure key store.
type Store struct {
	sync.Mutex

	suite crypto.Provider
	repo  Repository
	keys  keystore.Store
	log   *logging.Logger

	nowFn func() time.Time
}

// NewStore constructs an identity Store.
func NewStore(suite crypto.Provider, repo Repository, keys keystore.Store, logBackend *log.Backend) *Store {
	return &Store{
		suite: suite,
		repo:  repo,
		keys:  keys,
		log:   logBackend.GetLogger("identity"),
		nowFn: time.Now,
	}
}

// Create generates a fresh identity, persists it, and makes it the
// current send identity.
func (s *Store) Create(name string) (*Identity, error) {
	s.Lock()
	defer s.Unlock()
	return s.createLocked(name, 1)
}

func (s *Store) createLocked(name string, keyVersion uint64) (*Identity, error) {
	km, err := s.suite.GenerateIdentityKeyMaterial()
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(km.EncryptionPrivate)

	rawID, err := s.suite.SecureRandom(idSize)
	if err != nil {
		return nil, err
	}
	sigBlob, err := km.SigningPrivate.MarshalBinary()
	if err != nil {
		return nil, err
	}
	sigPub, err := km.SigningPublic.MarshalBinary()
	if err != nil {
		return nil, err
	}

	ident := &Identity{
		ID:                  hex.EncodeToString(rawID),
		DisplayName:         name,
		EncryptionPublicKey: km.EncryptionPublic.Bytes(),
		SigningPublicKey:    sigPub,
		Status:              StatusActive,
		KeyVersion:          keyVersion,
		CreatedAt:           s.nowFn(),
	}

	priv := &keystore.PrivateKeys{
		EncryptionKey: km.EncryptionPrivate.Bytes(),
		SigningKey:    sigBlob,
	}
	defer priv.Zeroize()
	if err := s.keys.Put(ident.ID, priv); err != nil {
		return nil, err
	}
	if err := s.repo.Put(ident); err != nil {
		s.keys.Delete(ident.ID)
		return nil, err
	}
	if err := s.repo.SetCurrent(ident.ID); err != nil {
		s.keys.Delete(ident.ID)
		return nil, err
	}
	s.log.Noticef("created identity %v (%v)", ident.ShortFingerprint(), ident.ID)
	return ident.clone(), nil
}

// SetActive makes the given identity the current send identity.  Any
// previous non-archived current identity is archived so that exactly one
// identity carries active status afterward; archived identities other
// than the target are untouched.
func (s *Store) SetActive(id string) error {
	s.Lock()
	defer s.Unlock()

	target, err := s.repo.Get(id)
	if err != nil {
		return ErrIdentityNotFound
	}
	curID, err := s.repo.Current()
	if err != nil {
		return err
	}
	if curID != "" && curID != target.ID {
		if cur, err := s.repo.Get(curID); err == nil && cur.Status == StatusActive {
			cur.Status = StatusArchived
			if err := s.repo.Put(cur); err != nil {
				return err
			}
		}
	}
	target.Status = StatusActive
	if err := s.repo.Put(target); err != nil {
		return err
	}
	return s.repo.SetCurrent(target.ID)
}

// Active returns the current send identity.
func (s *Store) Active() (*Identity, error) {
	s.Lock()
	defer s.Unlock()
	return s.activeLocked()
}

func (s *Store) activeLocked() (*Identity, error) {
	curID, err := s.repo.Current()
	if err != nil {
		return nil, err
	}
	if curID == "" {
		return nil, ErrNoActiveIdentity
	}
	ident, err := s.repo.Get(curID)
	if err != nil {
		return nil, ErrNoActiveIdentity
	}
	return ident.clone(), nil
}

// Rotate creates a fresh identity continuing the current lineage (same
// display name, incremented key version, new id) and makes it current.
// The previous identity is archived iff autoArchive is set; otherwise it
// stays active so historical traffic keyed to it remains decryptable.
func (s *Store) Rotate(autoArchive bool) (*Identity, error) {
	s.Lock()
	defer s.Unlock()

	prev, err := s.activeLocked()
	if err != nil {
		return nil, err
	}
	next, err := s.createLocked(prev.DisplayName, prev.KeyVersion+1)
	if err != nil {
		return nil, err
	}
	if autoArchive {
		stored, err := s.repo.Get(prev.ID)
		if err != nil {
			return nil, err
		}
		stored.Status = StatusArchived
		if err := s.repo.Put(stored); err != nil {
			return nil, err
		}
	}
	s.log.Noticef("rotated identity %v -> %v (key version %d)", prev.ShortFingerprint(), next.ShortFingerprint(), next.KeyVersion)
	return next, nil
}

// Archive retires an identity.  Identities are only ever soft archived,
// never deleted, while stored messages may reference them.
func (s *Store) Archive(id string) error {
	s.Lock()
	defer s.Unlock()

	ident, err := s.repo.Get(id)
	if err != nil {
		return ErrIdentityNotFound
	}
	ident.Status = StatusArchived
	if err := s.repo.Put(ident); err != nil {
		return err
	}
	if curID, err := s.repo.Current(); err == nil && curID == id {
		return s.repo.SetCurrent("")
	}
	return nil
}

// ListAll returns every identity, active and archived.
func (s *Store) ListAll() ([]*Identity, error) {
	s.Lock()
	defer s.Unlock()

	idents, err := s.repo.List()
	if err != nil {
		return nil, err
	}
	out := make([]*Identity, 0, len(idents))
	for _, ident := range idents {
		out = append(out, ident.clone())
	}
	return out, nil
}

// ByRecipientKeyID finds the identity whose derived rkid matches,
// regardless of status.
func (s *Store) ByRecipientKeyID(rkid [fingerprint.RecipientKeyIDSize]byte) (*Identity, error) {
	s.Lock()
	defer s.Unlock()

	ident, err := s.repo.ByRecipientKeyID(rkid)
	if err != nil {
		return nil, ErrIdentityNotFound
	}
	return ident.clone(), nil
}

// ExportPublicBundle serializes the public only fields of an identity.
func (s *Store) ExportPublicBundle(id string) (string, error) {
	s.Lock()
	defer s.Unlock()

	ident, err := s.repo.Get(id)
	if err != nil {
		return "", ErrIdentityNotFound
	}
	return ident.Bundle().String(), nil
}

// ImportPublicBundle parses and validates a bundle wire string.
func (s *Store) ImportPublicBundle(bundle string) (*Bundle, error) {
	return ParseBundle(bundle)
}

// DecryptionKey returns the X25519 private key of the given identity.
// The caller must Zeroize the key when done with it.
func (s *Store) DecryptionKey(id string) (nike.PrivateKey, error) {
	priv, err := s.keys.Get(id)
	if err != nil {
		return nil, ErrIdentityNotFound
	}
	defer priv.Zeroize()
	return s.suite.NIKE().UnmarshalBinaryPrivateKey(priv.EncryptionKey)
}

// SigningKey returns the Ed25519 private key of the given identity.
func (s *Store) SigningKey(id string) (sign.PrivateKey, error) {
	priv, err := s.keys.Get(id)
	if err != nil {
		return nil, ErrIdentityNotFound
	}
	defer priv.Zeroize()
	if len(priv.SigningKey) == 0 {
		return nil, ErrIdentityNotFound
	}
	return s.suite.SignatureScheme().UnmarshalBinaryPrivateKey(priv.SigningKey)
}
