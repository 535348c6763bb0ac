// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package keystore defines the secure key store collaborator consumed by
// the identity layer.  Implementations hold raw private key bytes keyed by
// identity id and are deliberately not enumerable; raw key material leaves
// a store only through the explicit identity backup path.
package keystore

import (
	"errors"
	"sync"

	"github.com/katzenpost/hpqc/util"
)

// ErrKeyNotFound is returned when no key material exists for an id.
var ErrKeyNotFound = errors.New("keystore: key not found")

// PrivateKeys is the raw private key material of one identity.
type PrivateKeys struct {
	EncryptionKey []byte
	SigningKey    []byte
}

// Zeroize best-effort erases the key material.
func (k *PrivateKeys) Zeroize() {
	util.ExplicitBzero(k.EncryptionKey)
	util.ExplicitBzero(k.SigningKey)
}

func (k *PrivateKeys) clone() *PrivateKeys {
	c := &PrivateKeys{
		EncryptionKey: make([]byte, len(k.EncryptionKey)),
		SigningKey:    make([]byte, len(k.SigningKey)),
	}
	copy(c.EncryptionKey, k.EncryptionKey)
	copy(c.SigningKey, k.SigningKey)
	return c
}

// Store is the secure key store interface.
type Store interface {
	// Put stores private key material under the given identity id.
	Put(id string, keys *PrivateKeys) error

	// Get retrieves the private key material for the given identity id.
	Get(id string) (*PrivateKeys, error)

	// Delete erases the private key material for the given identity id.
	Delete(id string) error
}

// MemoryStore is an in-process Store, suitable for tests and ephemeral
// deployments.
type MemoryStore struct {
	sync.Mutex

	keys map[string]*PrivateKeys
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*PrivateKeys)}
}

// Put implements Store.
func (s *MemoryStore) Put(id string, keys *PrivateKeys) error {
	s.Lock()
	defer s.Unlock()
	s.keys[id] = keys.clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(id string) (*PrivateKeys, error) {
	s.Lock()
	defer s.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return k.clone(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(id string) error {
	s.Lock()
	defer s.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	k.Zeroize()
	delete(s.keys, id)
	return nil
}
