// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package identity

import (
	"sort"
	"sync"

	"github.com/whisperlab/whisper/crypto/fingerprint"
)

// MemoryRepository is an in-process Repository, suitable for tests and
// ephemeral deployments.
type MemoryRepository struct {
	sync.Mutex

	identities map[string]*Identity
	current    string
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{identities: make(map[string]*Identity)}
}

// Put implements Repository.
func (r *MemoryRepository) Put(ident *Identity) error {
	r.Lock()
	defer r.Unlock()
	r.identities[ident.ID] = ident.clone()
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(id string) (*Identity, error) {
	r.Lock()
	defer r.Unlock()
	ident, ok := r.identities[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return ident.clone(), nil
}

// List implements Repository.
func (r *MemoryRepository) List() ([]*Identity, error) {
	r.Lock()
	defer r.Unlock()
	out := make([]*Identity, 0, len(r.identities))
	for _, ident := range r.identities {
		out = append(out, ident.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ByRecipientKeyID implements Repository with a linear scan.
func (r *MemoryRepository) ByRecipientKeyID(rkid [fingerprint.RecipientKeyIDSize]byte) (*Identity, error) {
	r.Lock()
	defer r.Unlock()
	for _, ident := range r.identities {
		if ident.RecipientKeyID() == rkid {
			return ident.clone(), nil
		}
	}
	return nil, ErrIdentityNotFound
}

// SetCurrent implements Repository.
func (r *MemoryRepository) SetCurrent(id string) error {
	r.Lock()
	defer r.Unlock()
	r.current = id
	return nil
}

// Current implements Repository.
func (r *MemoryRepository) Current() (string, error) {
	r.Lock()
	defer r.Unlock()
	return r.current, nil
}
