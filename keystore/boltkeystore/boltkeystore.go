// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package boltkeystore implements the secure key store with a simple
// boltdb backed backend.
package boltkeystore

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/whisperlab/whisper/keystore"
)

const keysBucket = "private_keys"

// Store is a boltdb backed secure key store.
type Store struct {
	db *bolt.DB
}

var _ keystore.Store = (*Store)(nil)

// New creates or opens the key store database at the given path.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(keysBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(id string, keys *keystore.PrivateKeys) error {
	blob, err := cbor.Marshal(keys)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keysBucket)).Put([]byte(id), blob)
	})
}

func (s *Store) Get(id string) (*keystore.PrivateKeys, error) {
	k := new(keystore.PrivateKeys)
	err := s.db.View(func(tx *bolt.Tx) error {
		blob := tx.Bucket([]byte(keysBucket)).Get([]byte(id))
		if blob == nil {
			return keystore.ErrKeyNotFound
		}
		if _, err := cbor.UnmarshalFirst(blob, k); err != nil {
			return fmt.Errorf("keystore: malformed key record: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(keysBucket))
		if bkt.Get([]byte(id)) == nil {
			return keystore.ErrKeyNotFound
		}
		return bkt.Delete([]byte(id))
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
