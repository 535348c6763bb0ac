// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package replay

import (
	"sort"
	"time"
)

// MemoryBackend is an in-process Backend, suitable for tests and
// ephemeral deployments.
type MemoryBackend struct {
	records map[string]*Record
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*Record)}
}

// Has implements Backend.
func (b *MemoryBackend) Has(msgID []byte) (bool, error) {
	_, ok := b.records[string(msgID)]
	return ok, nil
}

// Put implements Backend.
func (b *MemoryBackend) Put(rec *Record) error {
	b.records[string(rec.MessageID)] = rec
	return nil
}

// ForEach implements Backend.
func (b *MemoryBackend) ForEach(fn func(*Record) error) error {
	for _, rec := range b.records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup implements Backend.
func (b *MemoryBackend) Cleanup(cutoff time.Time, maxEntries int) (int, error) {
	removed := 0
	for k, rec := range b.records {
		if rec.ReceivedAt.Before(cutoff) {
			delete(b.records, k)
			removed++
		}
	}
	if len(b.records) > maxEntries {
		recs := make([]*Record, 0, len(b.records))
		for _, rec := range b.records {
			recs = append(recs, rec)
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].ReceivedAt.Before(recs[j].ReceivedAt) })
		for _, rec := range recs[:len(recs)-maxEntries] {
			delete(b.records, string(rec.MessageID))
			removed++
		}
	}
	return removed, nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	b.records = nil
	return nil
}
