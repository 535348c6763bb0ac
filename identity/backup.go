// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// backup.go - passphrase encrypted identity backup and restore.

package identity

import (
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"

	"github.com/whisperlab/whisper/crypto"
	"github.com/whisperlab/whisper/keystore"
)

const backupVersion = 1

// Argon2id parameters for the passphrase stretch.
const (
	argonTime    = 3
	argonMemory  = 32 * 1024
	argonThreads = 4
)

type backupPayload struct {
	Identity *Identity
	Keys     *keystore.PrivateKeys
}

type backupBlob struct {
	Version    uint8
	Salt       []byte
	Ciphertext []byte
}

func stretchPassphrase(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, crypto.KeySize)
}

// Backup exports an identity, including its private key material, as a
// passphrase encrypted blob.  This is the only path by which raw private
// key bytes leave the secure key store.
func (s *Store) Backup(id string, passphrase []byte) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	ident, err := s.repo.Get(id)
	if err != nil {
		return nil, ErrIdentityNotFound
	}
	priv, err := s.keys.Get(id)
	if err != nil {
		return nil, ErrIdentityNotFound
	}
	defer priv.Zeroize()

	payload, err := cbor.Marshal(&backupPayload{Identity: ident, Keys: priv})
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroizeBytes(payload)

	salt, err := s.suite.SecureRandom(crypto.SaltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := s.suite.SecureRandom(crypto.NonceSize)
	if err != nil {
		return nil, err
	}
	key := stretchPassphrase(passphrase, salt)
	defer crypto.ZeroizeBytes(key)

	sealed, err := s.suite.AEADSeal(payload, key, nonce, salt)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(&backupBlob{
		Version:    backupVersion,
		Salt:       salt,
		Ciphertext: append(nonce, sealed...),
	})
}

// Restore decrypts a backup blob and re-persists the identity and its key
// material.  All failure modes collapse to ErrDecryptionFailed so a wrong
// passphrase is indistinguishable from corrupted data.
func (s *Store) Restore(blob, passphrase []byte) (*Identity, error) {
	s.Lock()
	defer s.Unlock()

	b := new(backupBlob)
	if _, err := cbor.UnmarshalFirst(blob, b); err != nil {
		return nil, ErrDecryptionFailed
	}
	if b.Version != backupVersion || len(b.Ciphertext) <= crypto.NonceSize {
		return nil, ErrDecryptionFailed
	}
	key := stretchPassphrase(passphrase, b.Salt)
	defer crypto.ZeroizeBytes(key)

	nonce, sealed := b.Ciphertext[:crypto.NonceSize], b.Ciphertext[crypto.NonceSize:]
	payload, err := s.suite.AEADOpen(sealed, key, nonce, b.Salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer crypto.ZeroizeBytes(payload)

	p := new(backupPayload)
	if _, err := cbor.UnmarshalFirst(payload, p); err != nil {
		return nil, ErrDecryptionFailed
	}
	if p.Identity == nil || p.Keys == nil {
		return nil, ErrDecryptionFailed
	}
	defer p.Keys.Zeroize()

	if err := s.keys.Put(p.Identity.ID, p.Keys); err != nil {
		return nil, err
	}
	if err := s.repo.Put(p.Identity); err != nil {
		return nil, err
	}
	s.log.Noticef("restored identity %v from backup", p.Identity.ShortFingerprint())
	return p.Identity.clone(), nil
}
