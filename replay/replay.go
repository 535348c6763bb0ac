// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package replay implements the replay protection store: an atomic
// freshness gated test-and-set keyed by message identifier, with a bloom
// filter fast path in front of the authoritative backend.
package replay

import (
	"errors"
	"time"

	"sync"

	"github.com/katzenpost/hpqc/rand"
	"github.com/yawning/bloom"
	"gopkg.in/op/go-logging.v1"

	"github.com/whisperlab/whisper/core/log"
	"github.com/whisperlab/whisper/core/worker"
)

const (
	// FreshnessWindow is the tolerance around a message's claimed
	// timestamp for admission.  The bound is inclusive.
	FreshnessWindow = 48 * time.Hour

	// DefaultRetention is how long committed records are kept.  It is
	// deliberately longer than the freshness window so a purged record
	// can never rejoin the admission window.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultMaxEntries caps the stored record count.
	DefaultMaxEntries = 1 << 16

	// DefaultGCInterval is how often the cleanup worker runs.
	DefaultGCInterval = 1 * time.Hour
)

// errFilterFull terminates filter warm up when the stored record count
// exceeds the filter's capacity.
var errFilterFull = errors.New("replay: bloom filter full")

// Record is one committed replay protection entry.
type Record struct {
	// MessageID is the opaque message identifier.  No minimum length is
	// enforced; 16 bytes is conventional.
	MessageID []byte

	// Timestamp is the sender claimed unix time in seconds.
	Timestamp int64

	// ReceivedAt is the local wall clock at commit.
	ReceivedAt time.Time
}

// Backend is the persistence layer underneath a Guard.  Implementations
// need not be safe for concurrent use; the Guard serializes all access.
type Backend interface {
	// Has reports whether a record exists for msgID.
	Has(msgID []byte) (bool, error)

	// Put inserts a record.
	Put(*Record) error

	// ForEach visits every stored record.  Iteration stops at the
	// first error, which is returned.
	ForEach(fn func(*Record) error) error

	// Cleanup removes records received before cutoff and, if more than
	// maxEntries remain, evicts the oldest received until the cap
	// holds.  It returns the number of records removed.
	Cleanup(cutoff time.Time, maxEntries int) (int, error)

	// Close releases the backend.
	Close() error
}

// Config tunes a Guard.  The zero value selects the defaults.
type Config struct {
	// Retention is the record retention horizon.
	Retention time.Duration

	// MaxEntries caps stored records.
	MaxEntries int

	// GCInterval is the cleanup worker period.  Zero disables the
	// worker; Cleanup may still be invoked manually.
	GCInterval time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
}

// Guard is the replay protection store.  CheckAndCommit is linearizable:
// of N concurrent calls with the same message id exactly one wins.
type Guard struct {
	worker.Worker
	sync.Mutex

	backend Backend
	filter  *bloom.Filter
	log     *logging.Logger

	retention  time.Duration
	maxEntries int
	gcInterval time.Duration

	// The filter cannot shrink and stops admitting entries when
	// saturated; negatives are only definitive while it is
	// authoritative.  The backend is always the ground truth.
	filterAuthoritative bool

	nowFn func() time.Time
}

// NewGuard constructs a Guard over the given backend and starts the
// cleanup worker if the config enables it.
func NewGuard(backend Backend, cfg *Config, logBackend *log.Backend) (*Guard, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	cfg.applyDefaults()

	f, err := bloom.New(rand.Reader, 20, 0.001)
	if err != nil {
		return nil, err
	}
	g := &Guard{
		backend:             backend,
		filter:              f,
		log:                 logBackend.GetLogger("replay"),
		retention:           cfg.Retention,
		maxEntries:          cfg.MaxEntries,
		gcInterval:          cfg.GCInterval,
		filterAuthoritative: true,
		nowFn:               time.Now,
	}

	// Rebuild the filter from records committed by previous runs.  The
	// backend outlives the filter, and a filter negative is only
	// definitive when the filter covers everything the backend holds.
	err = backend.ForEach(func(rec *Record) error {
		if g.filter.Entries() >= g.filter.MaxEntries() {
			g.filterAuthoritative = false
			return errFilterFull
		}
		g.filter.TestAndSet(rec.MessageID)
		return nil
	})
	if err != nil && err != errFilterFull {
		return nil, err
	}

	if g.gcInterval > 0 {
		g.Go(g.gcWorker)
	}
	return g, nil
}

// IsWithinFreshnessWindow reports whether a claimed timestamp lies within
// the admission window around now.  Exactly 48h00m00s of skew is
// accepted; one second more is not.  The window bounds are compared
// directly, never via a subtraction that could wrap on an adversarial
// timestamp.
func (g *Guard) IsWithinFreshnessWindow(timestamp int64) bool {
	now := g.nowFn().Unix()
	window := int64(FreshnessWindow / time.Second)
	return timestamp >= now-window && timestamp <= now+window
}

// CheckAndCommit atomically admits a message identifier.  It returns
// false without side effects if the timestamp is outside the freshness
// window, false if the id was committed before (regardless of timestamp),
// and true exactly once for a fresh id, committing it.
func (g *Guard) CheckAndCommit(msgID []byte, timestamp int64) (bool, error) {
	if !g.IsWithinFreshnessWindow(timestamp) {
		return false, nil
	}

	g.Lock()
	defer g.Unlock()

	maybeSeen := true
	if g.filterAuthoritative && !g.filter.Test(msgID) {
		maybeSeen = false
	}
	if maybeSeen {
		seen, err := g.backend.Has(msgID)
		if err != nil {
			return false, err
		}
		if seen {
			return false, nil
		}
	}

	rec := &Record{
		MessageID:  append([]byte(nil), msgID...),
		Timestamp:  timestamp,
		ReceivedAt: g.nowFn(),
	}
	if err := g.backend.Put(rec); err != nil {
		return false, err
	}
	if g.filter.Entries() < g.filter.MaxEntries() {
		g.filter.TestAndSet(msgID)
	} else if g.filterAuthoritative {
		g.filterAuthoritative = false
		g.log.Warningf("bloom filter saturated, falling back to backend lookups")
	}
	return true, nil
}

// Cleanup purges records older than the retention horizon and enforces
// the entry cap.  Safe to invoke concurrently with CheckAndCommit.
func (g *Guard) Cleanup() error {
	g.Lock()
	defer g.Unlock()

	cutoff := g.nowFn().Add(-g.retention)
	removed, err := g.backend.Cleanup(cutoff, g.maxEntries)
	if err != nil {
		return err
	}
	if removed > 0 {
		g.log.Debugf("purged %d replay records", removed)
	}
	return nil
}

// Shutdown halts the cleanup worker and closes the backend.
func (g *Guard) Shutdown() error {
	g.Halt()
	g.Lock()
	defer g.Unlock()
	return g.backend.Close()
}

func (g *Guard) gcWorker() {
	t := time.NewTicker(g.gcInterval)
	defer t.Stop()
	for {
		select {
		case <-g.HaltCh():
			return
		case <-t.C:
		}
		if err := g.Cleanup(); err != nil {
			g.log.Errorf("cleanup failed: %v", err)
		}
	}
}
