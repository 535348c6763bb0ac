// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyAgreementSymmetry(t *testing.T) {
	require := require.New(t)
	s := NewSuite()

	recipPub, recipPriv, err := s.GenerateEphemeralKeyPair()
	require.NoError(err)
	ephPub, ephPriv, err := s.GenerateEphemeralKeyPair()
	require.NoError(err)

	ss1, err := s.KeyAgreement(ephPriv, recipPub)
	require.NoError(err)
	ss2, err := s.KeyAgreement(recipPriv, ephPub)
	require.NoError(err)
	require.Equal(ss1, ss2)
	require.Len(ss1, SharedSecretSize)
}

func TestKeyAgreementDistinctPeers(t *testing.T) {
	require := require.New(t)
	s := NewSuite()

	_, ephPriv, err := s.GenerateEphemeralKeyPair()
	require.NoError(err)

	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		pub, _, err := s.GenerateEphemeralKeyPair()
		require.NoError(err)
		ss, err := s.KeyAgreement(ephPriv, pub)
		require.NoError(err)
		require.False(seen[string(ss)], "shared secret collision")
		seen[string(ss)] = true
	}
}

func TestKeyAgreementRejectsDegenerateKey(t *testing.T) {
	require := require.New(t)
	s := NewSuite()

	_, ephPriv, err := s.GenerateEphemeralKeyPair()
	require.NoError(err)

	zero, err := s.NIKE().UnmarshalBinaryPublicKey(make([]byte, PublicKeySize))
	require.NoError(err)
	_, err = s.KeyAgreement(ephPriv, zero)
	require.ErrorIs(err, ErrInvalidPublicKey)
}

func TestDeriveKeysDeterministic(t *testing.T) {
	require := require.New(t)
	s := NewSuite()

	ss := bytes.Repeat([]byte{0x42}, SharedSecretSize)
	salt := bytes.Repeat([]byte{0x01}, SaltSize)
	info := []byte("info")

	k1, err := s.DeriveKeys(ss, salt, info)
	require.NoError(err)
	k2, err := s.DeriveKeys(ss, salt, info)
	require.NoError(err)
	require.Equal(k1.EncryptionKey, k2.EncryptionKey)
	require.Equal(k1.Nonce, k2.Nonce)

	// Key and nonce come from disjoint KDF output regions.
	require.NotEqual(k1.EncryptionKey[:NonceSize], k1.Nonce[:])
}

func TestDeriveKeysSaltAndInfoSeparation(t *testing.T) {
	require := require.New(t)
	s := NewSuite()

	ss := bytes.Repeat([]byte{0x42}, SharedSecretSize)
	salt := bytes.Repeat([]byte{0x01}, SaltSize)

	base, err := s.DeriveKeys(ss, salt, []byte("a"))
	require.NoError(err)
	otherInfo, err := s.DeriveKeys(ss, salt, []byte("b"))
	require.NoError(err)
	require.NotEqual(base.EncryptionKey, otherInfo.EncryptionKey)

	salt2 := bytes.Repeat([]byte{0x02}, SaltSize)
	otherSalt, err := s.DeriveKeys(ss, salt2, []byte("a"))
	require.NoError(err)
	require.NotEqual(base.EncryptionKey, otherSalt.EncryptionKey)
}

func TestDeriveKeysRejectsBadSecretLength(t *testing.T) {
	s := NewSuite()
	_, err := s.DeriveKeys(make([]byte, SharedSecretSize-1), make([]byte, SaltSize), nil)
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestAEADRoundTrip(t *testing.T) {
	require := require.New(t)
	s := NewSuite()

	key := bytes.Repeat([]byte{0x7f}, KeySize)
	nonce := bytes.Repeat([]byte{0x11}, NonceSize)
	ad := []byte("header")
	plaintext := []byte("attack at dawn")

	ct, err := s.AEADSeal(plaintext, key, nonce, ad)
	require.NoError(err)
	require.Len(ct, len(plaintext)+TagSize)

	pt, err := s.AEADOpen(ct, key, nonce, ad)
	require.NoError(err)
	require.Equal(plaintext, pt)
}

func TestAEADRejectsTampering(t *testing.T) {
	require := require.New(t)
	s := NewSuite()

	key := bytes.Repeat([]byte{0x7f}, KeySize)
	nonce := bytes.Repeat([]byte{0x11}, NonceSize)
	ad := []byte("header")

	ct, err := s.AEADSeal([]byte("attack at dawn"), key, nonce, ad)
	require.NoError(err)

	flipped := append([]byte(nil), ct...)
	flipped[0] ^= 0x01
	_, err = s.AEADOpen(flipped, key, nonce, ad)
	require.Error(err)

	_, err = s.AEADOpen(ct, key, nonce, []byte("Header"))
	require.Error(err)

	wrongKey := bytes.Repeat([]byte{0x80}, KeySize)
	_, err = s.AEADOpen(ct, wrongKey, nonce, ad)
	require.Error(err)
}

func TestSignVerify(t *testing.T) {
	require := require.New(t)
	s := NewSuite()

	km, err := s.GenerateIdentityKeyMaterial()
	require.NoError(err)

	msg := []byte("payload")
	sig := s.Sign(msg, km.SigningPrivate)
	require.Len(sig, SignatureSize)
	require.True(s.Verify(sig, msg, km.SigningPublic))
	require.False(s.Verify(sig, []byte("payloae"), km.SigningPublic))

	// Deterministic signatures.
	require.Equal(sig, s.Sign(msg, km.SigningPrivate))

	other, err := s.GenerateIdentityKeyMaterial()
	require.NoError(err)
	require.False(s.Verify(sig, msg, other.SigningPublic))
	require.False(s.Verify(sig[:SignatureSize-1], msg, km.SigningPublic))
}

func TestSecureRandom(t *testing.T) {
	require := require.New(t)
	s := NewSuite()

	b1, err := s.SecureRandom(32)
	require.NoError(err)
	require.Len(b1, 32)
	b2, err := s.SecureRandom(32)
	require.NoError(err)
	assert.NotEqual(t, b1, b2)

	_, err = s.SecureRandom(0)
	require.ErrorIs(err, ErrInvalidLength)
	_, err = s.SecureRandom(-1)
	require.ErrorIs(err, ErrInvalidLength)
}

func TestDerivedKeysZeroize(t *testing.T) {
	require := require.New(t)
	s := NewSuite()

	k, err := s.DeriveKeys(bytes.Repeat([]byte{0x42}, SharedSecretSize), make([]byte, SaltSize), nil)
	require.NoError(err)
	k.Zeroize()
	require.Equal([KeySize]byte{}, k.EncryptionKey)
	require.Equal([NonceSize]byte{}, k.Nonce)
}
