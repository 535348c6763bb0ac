// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package keystore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	require := require.New(t)
	s := NewMemoryStore()

	_, err := s.Get("missing")
	require.ErrorIs(err, ErrKeyNotFound)

	keys := &PrivateKeys{
		EncryptionKey: []byte{1, 2, 3},
		SigningKey:    []byte{4, 5, 6},
	}
	require.NoError(s.Put("a", keys))

	got, err := s.Get("a")
	require.NoError(err)
	require.Equal(keys.EncryptionKey, got.EncryptionKey)
	require.Equal(keys.SigningKey, got.SigningKey)

	// The store hands out copies; mutating one must not affect the
	// stored material.
	got.EncryptionKey[0] = 0xff
	again, err := s.Get("a")
	require.NoError(err)
	require.Equal(byte(1), again.EncryptionKey[0])

	require.NoError(s.Delete("a"))
	_, err = s.Get("a")
	require.ErrorIs(err, ErrKeyNotFound)
	require.ErrorIs(s.Delete("a"), ErrKeyNotFound)
}

func TestPrivateKeysZeroize(t *testing.T) {
	keys := &PrivateKeys{
		EncryptionKey: []byte{1, 2, 3},
		SigningKey:    []byte{4, 5, 6},
	}
	keys.Zeroize()
	require.Equal(t, []byte{0, 0, 0}, keys.EncryptionKey)
	require.Equal(t, []byte{0, 0, 0}, keys.SigningKey)
}
