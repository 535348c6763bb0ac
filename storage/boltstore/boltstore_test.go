// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whisperlab/whisper/contact"
	"github.com/whisperlab/whisper/core/log"
	"github.com/whisperlab/whisper/crypto"
	"github.com/whisperlab/whisper/identity"
	"github.com/whisperlab/whisper/keystore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "whisper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIdentityRepository(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)
	repo := s.Identities()

	ids := identity.NewStore(crypto.NewSuite(), repo, keystore.NewMemoryStore(), log.NewDiscard())
	a, err := ids.Create("alice")
	require.NoError(err)
	b, err := ids.Create("bob")
	require.NoError(err)

	got, err := repo.Get(a.ID)
	require.NoError(err)
	require.Equal(a.ID, got.ID)
	require.Equal(a.EncryptionPublicKey, got.EncryptionPublicKey)
	require.Equal(a.Fingerprint(), got.Fingerprint())

	_, err = repo.Get("missing")
	require.Error(err)

	all, err := repo.List()
	require.NoError(err)
	require.Len(all, 2)

	// rkid index lookup.
	found, err := repo.ByRecipientKeyID(a.RecipientKeyID())
	require.NoError(err)
	require.Equal(a.ID, found.ID)

	// Current pointer persists.
	cur, err := repo.Current()
	require.NoError(err)
	require.Equal(b.ID, cur)
	require.NoError(repo.SetCurrent(a.ID))
	cur, err = repo.Current()
	require.NoError(err)
	require.Equal(a.ID, cur)
	require.NoError(repo.SetCurrent(""))
	cur, err = repo.Current()
	require.NoError(err)
	require.Empty(cur)
}

func TestContactRepository(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	contacts := contact.NewStore(s.Contacts(), log.NewDiscard())

	ids := identity.NewStore(crypto.NewSuite(), identity.NewMemoryRepository(), keystore.NewMemoryStore(), log.NewDiscard())
	peer, err := ids.Create("bob")
	require.NoError(err)
	wire, err := ids.ExportPublicBundle(peer.ID)
	require.NoError(err)

	c, err := contacts.AddFromBundle(wire)
	require.NoError(err)

	got, err := contacts.Get(c.ID)
	require.NoError(err)
	require.Equal(c.EncryptionPublicKey, got.EncryptionPublicKey)

	found, err := contacts.ByRecipientKeyID(c.RecipientKeyID())
	require.NoError(err)
	require.Equal(c.ID, found.ID)

	require.NoError(contacts.Delete(c.ID))
	_, err = contacts.Get(c.ID)
	require.ErrorIs(err, contact.ErrContactNotFound)
	// The index entry went with the record.
	_, err = contacts.ByRecipientKeyID(c.RecipientKeyID())
	require.ErrorIs(err, contact.ErrContactNotFound)
}

func TestRKIDIndexFollowsKeyRotation(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	contacts := contact.NewStore(s.Contacts(), log.NewDiscard())
	ids := identity.NewStore(crypto.NewSuite(), identity.NewMemoryRepository(), keystore.NewMemoryStore(), log.NewDiscard())

	peer, err := ids.Create("bob")
	require.NoError(err)
	wire, err := ids.ExportPublicBundle(peer.ID)
	require.NoError(err)
	c, err := contacts.AddFromBundle(wire)
	require.NoError(err)
	oldRKID := c.RecipientKeyID()

	rotatedPeer, err := ids.Rotate(false)
	require.NoError(err)
	rotated, err := contacts.HandleKeyRotation(c.ID, rotatedPeer.EncryptionPublicKey, rotatedPeer.SigningPublicKey)
	require.NoError(err)
	require.NotEqual(oldRKID, rotated.RecipientKeyID())

	// The stale index entry is gone, the new one resolves.
	_, err = contacts.ByRecipientKeyID(oldRKID)
	require.ErrorIs(err, contact.ErrContactNotFound)
	found, err := contacts.ByRecipientKeyID(rotated.RecipientKeyID())
	require.NoError(err)
	require.Equal(c.ID, found.ID)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "whisper.db")

	s, err := New(path)
	require.NoError(err)
	ids := identity.NewStore(crypto.NewSuite(), s.Identities(), keystore.NewMemoryStore(), log.NewDiscard())
	ident, err := ids.Create("alice")
	require.NoError(err)
	require.NoError(s.Close())

	s2, err := New(path)
	require.NoError(err)
	defer s2.Close()

	got, err := s2.Identities().Get(ident.ID)
	require.NoError(err)
	require.Equal(ident.Fingerprint(), got.Fingerprint())
	cur, err := s2.Identities().Current()
	require.NoError(err)
	require.Equal(ident.ID, cur)
}
