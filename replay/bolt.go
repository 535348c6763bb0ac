// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// bolt.go - boltdb backed replay record persistence.

package replay

import (
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/hash"
	bolt "go.etcd.io/bbolt"
)

const recordsBucket = "replay_records"

var dbOptions = &bolt.Options{
	NoFreelistSync: true,
}

// BoltBackend persists replay records in a boltdb database.  Message ids
// are keyed by their blake2b digest so that empty and pathological ids
// remain storable.
type BoltBackend struct {
	db *bolt.DB
}

var _ Backend = (*BoltBackend)(nil)

// NewBoltBackend creates or opens the replay database at the given path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, dbOptions)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recordsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

func recordKey(msgID []byte) []byte {
	d := hash.Sum256(msgID)
	return d[:]
}

// Has implements Backend.
func (b *BoltBackend) Has(msgID []byte) (bool, error) {
	seen := false
	err := b.db.View(func(tx *bolt.Tx) error {
		seen = tx.Bucket([]byte(recordsBucket)).Get(recordKey(msgID)) != nil
		return nil
	})
	return seen, err
}

// Put implements Backend.
func (b *BoltBackend) Put(rec *Record) error {
	blob, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).Put(recordKey(rec.MessageID), blob)
	})
}

// ForEach implements Backend.
func (b *BoltBackend) ForEach(fn func(*Record) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).ForEach(func(k, v []byte) error {
			rec := new(Record)
			if _, err := cbor.UnmarshalFirst(v, rec); err != nil {
				return fmt.Errorf("replay: malformed record: %v", err)
			}
			return fn(rec)
		})
	})
}

// Cleanup implements Backend.
func (b *BoltBackend) Cleanup(cutoff time.Time, maxEntries int) (int, error) {
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(recordsBucket))

		type entry struct {
			key        []byte
			receivedAt time.Time
		}
		var live []entry

		c := bkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec := new(Record)
			if _, err := cbor.UnmarshalFirst(v, rec); err != nil {
				return fmt.Errorf("replay: malformed record: %v", err)
			}
			if rec.ReceivedAt.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				removed++
				continue
			}
			live = append(live, entry{key: append([]byte(nil), k...), receivedAt: rec.ReceivedAt})
		}

		if len(live) > maxEntries {
			sort.Slice(live, func(i, j int) bool { return live[i].receivedAt.Before(live[j].receivedAt) })
			for _, e := range live[:len(live)-maxEntries] {
				if err := bkt.Delete(e.key); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// Close implements Backend.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
