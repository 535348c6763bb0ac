// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package boltstore implements the identity and contact record
// repositories with a simple boltdb based backend.  Records are cbor
// encoded; a derived-field index bucket supports rkid lookup without
// scanning.
package boltstore

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/whisperlab/whisper/contact"
	"github.com/whisperlab/whisper/crypto/fingerprint"
	"github.com/whisperlab/whisper/identity"
)

const (
	identitiesBucket  = "identities"
	contactsBucket    = "contacts"
	metaBucket        = "meta"
	identityRKIDIndex = "idx_identity_rkid"
	contactRKIDIndex  = "idx_contact_rkid"

	currentIdentityKey = "current_identity"
)

var allBuckets = []string{
	identitiesBucket, contactsBucket, metaBucket, identityRKIDIndex, contactRKIDIndex,
}

// Store is a boltdb backed record store serving both the identity and
// contact repositories.
type Store struct {
	db *bolt.DB
}

// New creates or opens the record database at the given path.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Identities returns the identity repository view of the store.
func (s *Store) Identities() identity.Repository {
	return &identityRepo{db: s.db}
}

// Contacts returns the contact repository view of the store.
func (s *Store) Contacts() contact.Repository {
	return &contactRepo{db: s.db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// reindex replaces the rkid index entry for id, removing the entry of
// any previous record whose derived rkid differs.
func reindex(tx *bolt.Tx, indexBucket string, oldRKID, newRKID []byte, id string) error {
	idx := tx.Bucket([]byte(indexBucket))
	if oldRKID != nil && string(oldRKID) != string(newRKID) {
		if err := idx.Delete(oldRKID); err != nil {
			return err
		}
	}
	return idx.Put(newRKID, []byte(id))
}

type identityRepo struct {
	db *bolt.DB
}

var _ identity.Repository = (*identityRepo)(nil)

func (r *identityRepo) Put(ident *identity.Identity) error {
	blob, err := cbor.Marshal(ident)
	if err != nil {
		return err
	}
	rkid := ident.RecipientKeyID()
	return r.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(identitiesBucket))
		var oldRKID []byte
		if old := bkt.Get([]byte(ident.ID)); old != nil {
			prev := new(identity.Identity)
			if _, err := cbor.UnmarshalFirst(old, prev); err != nil {
				return fmt.Errorf("boltstore: malformed identity record: %v", err)
			}
			prevRKID := prev.RecipientKeyID()
			oldRKID = prevRKID[:]
		}
		if err := bkt.Put([]byte(ident.ID), blob); err != nil {
			return err
		}
		return reindex(tx, identityRKIDIndex, oldRKID, rkid[:], ident.ID)
	})
}

func (r *identityRepo) Get(id string) (*identity.Identity, error) {
	ident := new(identity.Identity)
	err := r.db.View(func(tx *bolt.Tx) error {
		blob := tx.Bucket([]byte(identitiesBucket)).Get([]byte(id))
		if blob == nil {
			return identity.ErrIdentityNotFound
		}
		if _, err := cbor.UnmarshalFirst(blob, ident); err != nil {
			return fmt.Errorf("boltstore: malformed identity record: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ident, nil
}

func (r *identityRepo) List() ([]*identity.Identity, error) {
	var out []*identity.Identity
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(identitiesBucket)).ForEach(func(k, v []byte) error {
			ident := new(identity.Identity)
			if _, err := cbor.UnmarshalFirst(v, ident); err != nil {
				return fmt.Errorf("boltstore: malformed identity record: %v", err)
			}
			out = append(out, ident)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *identityRepo) ByRecipientKeyID(rkid [fingerprint.RecipientKeyIDSize]byte) (*identity.Identity, error) {
	var id string
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(identityRKIDIndex)).Get(rkid[:])
		if v == nil {
			return identity.ErrIdentityNotFound
		}
		id = string(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(id)
}

func (r *identityRepo) SetCurrent(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte(currentIdentityKey), []byte(id))
	})
}

func (r *identityRepo) Current() (string, error) {
	var id string
	err := r.db.View(func(tx *bolt.Tx) error {
		id = string(tx.Bucket([]byte(metaBucket)).Get([]byte(currentIdentityKey)))
		return nil
	})
	return id, err
}

type contactRepo struct {
	db *bolt.DB
}

var _ contact.Repository = (*contactRepo)(nil)

func (r *contactRepo) Put(c *contact.Contact) error {
	blob, err := cbor.Marshal(c)
	if err != nil {
		return err
	}
	rkid := c.RecipientKeyID()
	return r.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(contactsBucket))
		var oldRKID []byte
		if old := bkt.Get([]byte(c.ID)); old != nil {
			prev := new(contact.Contact)
			if _, err := cbor.UnmarshalFirst(old, prev); err != nil {
				return fmt.Errorf("boltstore: malformed contact record: %v", err)
			}
			prevRKID := prev.RecipientKeyID()
			oldRKID = prevRKID[:]
		}
		if err := bkt.Put([]byte(c.ID), blob); err != nil {
			return err
		}
		return reindex(tx, contactRKIDIndex, oldRKID, rkid[:], c.ID)
	})
}

func (r *contactRepo) Get(id string) (*contact.Contact, error) {
	c := new(contact.Contact)
	err := r.db.View(func(tx *bolt.Tx) error {
		blob := tx.Bucket([]byte(contactsBucket)).Get([]byte(id))
		if blob == nil {
			return contact.ErrContactNotFound
		}
		if _, err := cbor.UnmarshalFirst(blob, c); err != nil {
			return fmt.Errorf("boltstore: malformed contact record: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *contactRepo) Delete(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(contactsBucket))
		blob := bkt.Get([]byte(id))
		if blob == nil {
			return contact.ErrContactNotFound
		}
		c := new(contact.Contact)
		if _, err := cbor.UnmarshalFirst(blob, c); err != nil {
			return fmt.Errorf("boltstore: malformed contact record: %v", err)
		}
		rkid := c.RecipientKeyID()
		if err := tx.Bucket([]byte(contactRKIDIndex)).Delete(rkid[:]); err != nil {
			return err
		}
		return bkt.Delete([]byte(id))
	})
}

func (r *contactRepo) List() ([]*contact.Contact, error) {
	var out []*contact.Contact
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(contactsBucket)).ForEach(func(k, v []byte) error {
			c := new(contact.Contact)
			if _, err := cbor.UnmarshalFirst(v, c); err != nil {
				return fmt.Errorf("boltstore: malformed contact record: %v", err)
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *contactRepo) ByRecipientKeyID(rkid [fingerprint.RecipientKeyIDSize]byte) (*contact.Contact, error) {
	var id string
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(contactRKIDIndex)).Get(rkid[:])
		if v == nil {
			return contact.ErrContactNotFound
		}
		id = string(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(id)
}
