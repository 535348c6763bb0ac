// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package crypto provides the cryptographic core of the whisper protocol:
// X25519 key agreement, HKDF key derivation, ChaCha20-Poly1305 AEAD,
// deterministic Ed25519 signatures and secure randomness.  It has no
// protocol knowledge beyond the fixed v1 algorithm suite.
package crypto

import (
	"crypto/sha256"
	"errors"
	"io"

	"github.com/katzenpost/chacha20poly1305"
	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/hpqc/sign"
	"github.com/katzenpost/hpqc/sign/ed25519"
	"github.com/katzenpost/hpqc/util"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AEAD key size in bytes.
	KeySize = 32

	// NonceSize is the AEAD nonce size in bytes.
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the AEAD authentication tag overhead in bytes.
	TagSize = chacha20poly1305.Overhead

	// PublicKeySize is the size of a X25519 public key in bytes.
	PublicKeySize = x25519.PublicKeySize

	// SharedSecretSize is the size of a key agreement output in bytes.
	SharedSecretSize = x25519.GroupElementLength

	// SaltSize is the size of a key derivation salt in bytes.
	SaltSize = 16

	// MessageIDSize is the size of a per-message identifier in bytes.
	MessageIDSize = 16

	// SignatureSize is the size of an Ed25519 signature in bytes.
	SignatureSize = 64

	kdfOutputSize = KeySize + NonceSize
)

// protocolLabel is the fixed KDF domain separation label for the v1 suite.
var protocolLabel = []byte("whisper-v1-c20p")

var (
	// ErrInvalidPublicKey is returned when a key agreement peer public key
	// is degenerate (the shared secret is the all zero group element).
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")

	// ErrInvalidLength is returned for nonsensical length arguments.
	ErrInvalidLength = errors.New("crypto: invalid length")
)

// IdentityKeyMaterial is the full key material backing one identity.
type IdentityKeyMaterial struct {
	EncryptionPublic  nike.PublicKey
	EncryptionPrivate nike.PrivateKey
	SigningPublic     sign.PublicKey
	SigningPrivate    sign.PrivateKey
}

// DerivedKeys holds the outputs of a DeriveKeys invocation.  The encryption
// key and nonce come from disjoint regions of the KDF output stream and are
// never bit-identical by construction.
type DerivedKeys struct {
	EncryptionKey [KeySize]byte
	Nonce         [NonceSize]byte
}

// Zeroize clears the derived key material.
func (d *DerivedKeys) Zeroize() {
	util.ExplicitBzero(d.EncryptionKey[:])
	util.ExplicitBzero(d.Nonce[:])
}

// Provider abstracts the cryptographic backend so that alternate
// implementations (deterministic test doubles in particular) may be
// substituted at construction time.
type Provider interface {
	GenerateIdentityKeyMaterial() (*IdentityKeyMaterial, error)
	GenerateEphemeralKeyPair() (nike.PublicKey, nike.PrivateKey, error)
	KeyAgreement(ephemeralPrivate nike.PrivateKey, recipientPublic nike.PublicKey) ([]byte, error)
	DeriveKeys(sharedSecret, salt, info []byte) (*DerivedKeys, error)
	AEADSeal(plaintext, key, nonce, ad []byte) ([]byte, error)
	AEADOpen(ciphertext, key, nonce, ad []byte) ([]byte, error)
	Sign(message []byte, key sign.PrivateKey) []byte
	Verify(signature, message []byte, key sign.PublicKey) bool
	SecureRandom(length int) ([]byte, error)
	NIKE() nike.Scheme
	SignatureScheme() sign.Scheme
}

// Suite is the production Provider bound to the v1 algorithm suite.
type Suite struct {
	nike nike.Scheme
	sig  sign.Scheme
	rng  io.Reader
}

var _ Provider = (*Suite)(nil)

// NewSuite constructs a Suite using the system entropy source.
func NewSuite() *Suite {
	return NewSuiteWithRNG(rand.Reader)
}

// NewSuiteWithRNG constructs a Suite with the given entropy source, which
// may be deterministic for testing.
func NewSuiteWithRNG(rng io.Reader) *Suite {
	return &Suite{
		nike: x25519.Scheme(rng),
		sig:  ed25519.Scheme(),
		rng:  rng,
	}
}

// NIKE returns the key agreement scheme.
func (s *Suite) NIKE() nike.Scheme {
	return s.nike
}

// SignatureScheme returns the signature scheme.
func (s *Suite) SignatureScheme() sign.Scheme {
	return s.sig
}

// GenerateIdentityKeyMaterial generates a fresh X25519 key pair and Ed25519
// key pair for a new identity.
func (s *Suite) GenerateIdentityKeyMaterial() (*IdentityKeyMaterial, error) {
	encPub, encPriv, err := s.nike.GenerateKeyPairFromEntropy(s.rng)
	if err != nil {
		return nil, err
	}
	seed := make([]byte, s.sig.SeedSize())
	if _, err := io.ReadFull(s.rng, seed); err != nil {
		return nil, err
	}
	sigPub, sigPriv := s.sig.DeriveKey(seed)
	util.ExplicitBzero(seed)
	return &IdentityKeyMaterial{
		EncryptionPublic:  encPub,
		EncryptionPrivate: encPriv,
		SigningPublic:     sigPub,
		SigningPrivate:    sigPriv,
	}, nil
}

// GenerateEphemeralKeyPair generates a single-use X25519 key pair.  The
// caller owns the private key and must Zeroize it after its one use.
func (s *Suite) GenerateEphemeralKeyPair() (nike.PublicKey, nike.PrivateKey, error) {
	return s.nike.GenerateKeyPairFromEntropy(s.rng)
}

// KeyAgreement computes the X25519 shared secret.  A degenerate peer public
// key yielding the all zero group element is rejected.
func (s *Suite) KeyAgreement(ephemeralPrivate nike.PrivateKey, recipientPublic nike.PublicKey) ([]byte, error) {
	ss := s.nike.DeriveSecret(ephemeralPrivate, recipientPublic)
	if util.CtIsZero(ss) {
		util.ExplicitBzero(ss)
		return nil, ErrInvalidPublicKey
	}
	return ss, nil
}

// DeriveKeys derives the AEAD key and nonce from a shared secret via
// HKDF-SHA256, extract with the salt then expand with the protocol label
// prepended to the caller supplied info.  Key and nonce are read from
// disjoint regions of the output stream.
func (s *Suite) DeriveKeys(sharedSecret, salt, info []byte) (*DerivedKeys, error) {
	if len(sharedSecret) != SharedSecretSize {
		return nil, ErrInvalidLength
	}
	prk := hkdf.Extract(sha256.New, sharedSecret, salt)
	hkdfInfo := make([]byte, 0, len(protocolLabel)+len(info))
	hkdfInfo = append(hkdfInfo, protocolLabel...)
	hkdfInfo = append(hkdfInfo, info...)
	r := hkdf.Expand(sha256.New, prk, hkdfInfo)
	okm := make([]byte, kdfOutputSize)
	if _, err := io.ReadFull(r, okm); err != nil {
		util.ExplicitBzero(prk)
		return nil, err
	}
	d := new(DerivedKeys)
	copy(d.EncryptionKey[:], okm[:KeySize])
	copy(d.Nonce[:], okm[KeySize:])
	util.ExplicitBzero(okm)
	util.ExplicitBzero(prk)
	return d, nil
}

// AEADSeal encrypts and authenticates plaintext with ChaCha20-Poly1305.
func (s *Suite) AEADSeal(plaintext, key, nonce, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	defer aead.Reset()
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

// AEADOpen decrypts and authenticates ciphertext with ChaCha20-Poly1305.
func (s *Suite) AEADOpen(ciphertext, key, nonce, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	defer aead.Reset()
	return aead.Open(nil, nonce, ciphertext, ad)
}

// Sign produces a deterministic Ed25519 signature over message.
func (s *Suite) Sign(message []byte, key sign.PrivateKey) []byte {
	return s.sig.Sign(key, message, nil)
}

// Verify checks an Ed25519 signature over message.
func (s *Suite) Verify(signature, message []byte, key sign.PublicKey) bool {
	if len(signature) != SignatureSize {
		return false
	}
	return s.sig.Verify(key, message, signature, nil)
}

// SecureRandom returns length bytes from the entropy source.
func (s *Suite) SecureRandom(length int) ([]byte, error) {
	if length <= 0 {
		return nil, ErrInvalidLength
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(s.rng, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Zeroize best-effort erases a private key.
func Zeroize(k nike.PrivateKey) {
	if k != nil {
		k.Reset()
	}
}

// ZeroizeBytes best-effort erases a raw key buffer.
func ZeroizeBytes(b []byte) {
	util.ExplicitBzero(b)
}
