// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package contact

import (
	"sort"
	"sync"

	"github.com/whisperlab/whisper/crypto/fingerprint"
)

// MemoryRepository is an in-process Repository, suitable for tests and
// ephemeral deployments.
type MemoryRepository struct {
	sync.Mutex

	contacts map[string]*Contact
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{contacts: make(map[string]*Contact)}
}

// Put implements Repository.
func (r *MemoryRepository) Put(c *Contact) error {
	r.Lock()
	defer r.Unlock()
	r.contacts[c.ID] = c.clone()
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(id string) (*Contact, error) {
	r.Lock()
	defer r.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return nil, ErrContactNotFound
	}
	return c.clone(), nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(id string) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.contacts[id]; !ok {
		return ErrContactNotFound
	}
	delete(r.contacts, id)
	return nil
}

// List implements Repository.
func (r *MemoryRepository) List() ([]*Contact, error) {
	r.Lock()
	defer r.Unlock()
	out := make([]*Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ByRecipientKeyID implements Repository with a linear scan.
func (r *MemoryRepository) ByRecipientKeyID(rkid [fingerprint.RecipientKeyIDSize]byte) (*Contact, error) {
	r.Lock()
	defer r.Unlock()
	for _, c := range r.contacts {
		if c.RecipientKeyID() == rkid {
			return c.clone(), nil
		}
	}
	return nil, ErrContactNotFound
}
