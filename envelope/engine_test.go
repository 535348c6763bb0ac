// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package envelope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whisperlab/whisper/contact"
	"github.com/whisperlab/whisper/core/log"
	"github.com/whisperlab/whisper/crypto"
	"github.com/whisperlab/whisper/identity"
	"github.com/whisperlab/whisper/keystore"
	"github.com/whisperlab/whisper/policy"
	"github.com/whisperlab/whisper/replay"
)

type testEnv struct {
	engine   *Engine
	ids      *identity.Store
	contacts *contact.Store
	self     *identity.Identity
	peer     *contact.Contact
}

// newTestEnv wires an engine whose single identity is also registered as
// a contact, so a message encrypted to the peer decrypts locally.
func newTestEnv(t *testing.T, polCfg policy.Config, auth policy.Authenticator) *testEnv {
	t.Helper()

	suite := crypto.NewSuite()
	logBackend := log.NewDiscard()
	ids := identity.NewStore(suite, identity.NewMemoryRepository(), keystore.NewMemoryStore(), logBackend)
	contacts := contact.NewStore(contact.NewMemoryRepository(), logBackend)

	self, err := ids.Create("alice")
	require.NoError(t, err)
	wire, err := ids.ExportPublicBundle(self.ID)
	require.NoError(t, err)
	peer, err := contacts.AddFromBundle(wire)
	require.NoError(t, err)

	guard, err := replay.NewGuard(replay.NewMemoryBackend(), &replay.Config{GCInterval: -1}, logBackend)
	require.NoError(t, err)
	t.Cleanup(func() { guard.Shutdown() })

	engine := NewEngine(&EngineConfig{
		Suite:         suite,
		Identities:    ids,
		Contacts:      contacts,
		Policy:        policy.NewEngine(polCfg),
		Replay:        guard,
		Authenticator: auth,
		LogBackend:    logBackend,
	})
	return &testEnv{
		engine:   engine,
		ids:      ids,
		contacts: contacts,
		self:     self,
		peer:     peer,
	}
}

func (te *testEnv) recipient() *Recipient {
	return &Recipient{Contact: te.peer}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	plaintext := []byte("the eagle has landed")
	wire, err := te.engine.Encrypt(context.Background(), plaintext, te.recipient(), false)
	require.NoError(err)
	require.Contains(wire, Prefix)

	msg, err := te.engine.Decrypt(wire)
	require.NoError(err)
	require.Equal(plaintext, msg.Plaintext)
	require.False(msg.IsSigned)
	require.Equal(AttributionUnsigned, msg.Attribution)
	require.Nil(msg.Sender)
}

func TestEncryptNonDeterministic(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	plaintext := []byte("same message twice")
	w1, err := te.engine.Encrypt(context.Background(), plaintext, te.recipient(), false)
	require.NoError(err)
	w2, err := te.engine.Encrypt(context.Background(), plaintext, te.recipient(), false)
	require.NoError(err)
	require.NotEqual(w1, w2)

	e1, err := Parse(w1)
	require.NoError(err)
	e2, err := Parse(w2)
	require.NoError(err)
	require.NotEqual(e1.EphemeralPublicKey, e2.EphemeralPublicKey)
	require.NotEqual(e1.Salt, e2.Salt)
	require.NotEqual(e1.MessageID, e2.MessageID)
	require.NotEqual(e1.Ciphertext, e2.Ciphertext)
}

func TestCiphertextLengthHidesPlaintextLength(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	short, err := te.engine.Encrypt(context.Background(), []byte("a"), te.recipient(), false)
	require.NoError(err)
	longer, err := te.engine.Encrypt(context.Background(), make([]byte, 254), te.recipient(), false)
	require.NoError(err)

	e1, err := Parse(short)
	require.NoError(err)
	e2, err := Parse(longer)
	require.NoError(err)
	require.Equal(len(e1.Ciphertext), len(e2.Ciphertext))
}

func TestEncryptRejectsOversizedMessage(t *testing.T) {
	te := newTestEnv(t, policy.Config{}, nil)
	_, err := te.engine.Encrypt(context.Background(), make([]byte, 1023), te.recipient(), false)
	require.Error(t, err)
}

func TestSignedAttribution(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	// Unverified signer.
	wire, err := te.engine.Encrypt(context.Background(), []byte("hi"), te.recipient(), true)
	require.NoError(err)
	msg, err := te.engine.Decrypt(wire)
	require.NoError(err)
	require.True(msg.IsSigned)
	require.Equal(AttributionSignedUnverified, msg.Attribution)
	require.NotNil(msg.Sender)
	require.Equal(te.peer.ID, msg.Sender.ID)

	// Verified signer.
	require.NoError(te.contacts.Verify(te.peer.ID, true))
	wire, err = te.engine.Encrypt(context.Background(), []byte("hi again"), te.recipient(), true)
	require.NoError(err)
	msg, err = te.engine.Decrypt(wire)
	require.NoError(err)
	require.Equal(AttributionSignedVerified, msg.Attribution)
}

func TestInvalidSignatureStillDelivers(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	wire, err := te.engine.Encrypt(context.Background(), []byte("hi"), te.recipient(), true)
	require.NoError(err)

	env, err := Parse(wire)
	require.NoError(err)
	env.Signature[0] ^= 0x01

	msg, err := te.engine.Decrypt(env.String())
	require.NoError(err)
	require.Equal([]byte("hi"), msg.Plaintext)
	require.True(msg.IsSigned)
	require.Equal(AttributionSignatureInvalid, msg.Attribution)
	require.Nil(msg.Sender)
}

func TestDecryptReplay(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	wire, err := te.engine.Encrypt(context.Background(), []byte("once"), te.recipient(), false)
	require.NoError(err)

	_, err = te.engine.Decrypt(wire)
	require.NoError(err)
	_, err = te.engine.Decrypt(wire)
	require.ErrorIs(err, ErrReplayDetected)
}

func TestDecryptExpired(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	// Produce an envelope stamped outside the freshness window.
	te.engine.nowFn = func() time.Time {
		return time.Now().Add(-replay.FreshnessWindow - time.Hour)
	}
	wire, err := te.engine.Encrypt(context.Background(), []byte("stale"), te.recipient(), false)
	require.NoError(err)
	te.engine.nowFn = time.Now

	_, err = te.engine.Decrypt(wire)
	require.ErrorIs(err, ErrMessageExpired)

	// The expired attempt committed nothing: the same message id with a
	// corrected timestamp passes replay admission (and then fails the
	// AEAD, since the timestamp is authenticated).
	env, err := Parse(wire)
	require.NoError(err)
	env.Timestamp = time.Now().Unix()
	_, err = te.engine.Decrypt(env.String())
	require.ErrorIs(err, ErrCryptographicFailure)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	wire, err := te.engine.Encrypt(context.Background(), []byte("hi"), te.recipient(), false)
	require.NoError(err)

	env, err := Parse(wire)
	require.NoError(err)
	env.Ciphertext[0] ^= 0x01
	_, err = te.engine.Decrypt(env.String())
	require.ErrorIs(err, ErrCryptographicFailure)
}

func TestDecryptUnknownRecipient(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	// Encrypted to a key that is not ours.
	other := crypto.NewSuite()
	km, err := other.GenerateIdentityKeyMaterial()
	require.NoError(err)
	wire, err := te.engine.Encrypt(context.Background(), []byte("hi"), &Recipient{PublicKey: km.EncryptionPublic.Bytes()}, false)
	require.NoError(err)

	_, err = te.engine.Decrypt(wire)
	require.ErrorIs(err, ErrCryptographicFailure)
}

func TestDecryptMalformed(t *testing.T) {
	te := newTestEnv(t, policy.Config{}, nil)
	for _, s := range []string{"", "whisper1:", "garbage", "whisper-bundle:AAAA"} {
		_, err := te.engine.Decrypt(s)
		require.ErrorIs(t, err, ErrInvalidEnvelope, "input %q", s)
	}
}

func TestRawKeyRoundTrip(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	// Encrypt to our own raw encryption key; the rkid is derived from
	// the encryption key alone and resolution falls back accordingly.
	wire, err := te.engine.Encrypt(context.Background(), []byte("raw"), &Recipient{PublicKey: te.self.EncryptionPublicKey}, false)
	require.NoError(err)

	msg, err := te.engine.Decrypt(wire)
	require.NoError(err)
	require.Equal([]byte("raw"), msg.Plaintext)
}

func TestDecryptAfterRotation(t *testing.T) {
	require := require.New(t)
	te := newTestEnv(t, policy.Config{}, nil)

	wire, err := te.engine.Encrypt(context.Background(), []byte("pre-rotation"), te.recipient(), false)
	require.NoError(err)

	// Rotation without auto archive keeps the old identity resolvable.
	_, err = te.ids.Rotate(false)
	require.NoError(err)

	msg, err := te.engine.Decrypt(wire)
	require.NoError(err)
	require.Equal([]byte("pre-rotation"), msg.Plaintext)
}

func TestEncryptPolicyEnforcement(t *testing.T) {
	require := require.New(t)

	// Raw key sends blocked.
	te := newTestEnv(t, policy.Config{ContactRequiredToSend: true}, nil)
	_, err := te.engine.Encrypt(context.Background(), []byte("hi"), &Recipient{PublicKey: te.self.EncryptionPublicKey}, false)
	require.True(policy.IsViolation(err, policy.ViolationRawKeyBlocked))

	// Blocked contacts are unusable regardless of the flag.
	te = newTestEnv(t, policy.Config{}, nil)
	require.NoError(te.contacts.Block(te.peer.ID))
	blocked, err := te.contacts.Get(te.peer.ID)
	require.NoError(err)
	_, err = te.engine.Encrypt(context.Background(), []byte("hi"), &Recipient{Contact: blocked}, false)
	require.True(policy.IsViolation(err, policy.ViolationContactRequired))

	// Unsigned sends to verified contacts blocked.
	te = newTestEnv(t, policy.Config{RequireSignatureForVerified: true}, nil)
	require.NoError(te.contacts.Verify(te.peer.ID, true))
	verified, err := te.contacts.Get(te.peer.ID)
	require.NoError(err)
	_, err = te.engine.Encrypt(context.Background(), []byte("hi"), &Recipient{Contact: verified}, false)
	require.True(policy.IsViolation(err, policy.ViolationSignatureRequired))
	// A signed send passes.
	_, err = te.engine.Encrypt(context.Background(), []byte("hi"), &Recipient{Contact: verified}, true)
	require.NoError(err)
}

type stubAuthenticator struct {
	outcome policy.AuthOutcome
	err     error
	calls   int
}

func (a *stubAuthenticator) Authenticate(ctx context.Context, reason string) (policy.AuthOutcome, error) {
	a.calls++
	return a.outcome, a.err
}

func TestBiometricGatedSigning(t *testing.T) {
	require := require.New(t)

	// Authorized: the send proceeds.
	auth := &stubAuthenticator{outcome: policy.AuthAuthorized}
	te := newTestEnv(t, policy.Config{BiometricGatedSigning: true}, auth)
	_, err := te.engine.Encrypt(context.Background(), []byte("hi"), te.recipient(), true)
	require.NoError(err)
	require.Equal(1, auth.calls)

	// Unsigned sends never challenge.
	_, err = te.engine.Encrypt(context.Background(), []byte("hi"), te.recipient(), false)
	require.NoError(err)
	require.Equal(1, auth.calls)

	// Denied and cancelled map to a retryable policy violation.
	for _, outcome := range []policy.AuthOutcome{policy.AuthDenied, policy.AuthCancelled} {
		auth := &stubAuthenticator{outcome: outcome}
		te := newTestEnv(t, policy.Config{BiometricGatedSigning: true}, auth)
		_, err := te.engine.Encrypt(context.Background(), []byte("hi"), te.recipient(), true)
		require.True(policy.IsViolation(err, policy.ViolationBiometricRequired))
	}

	// Platform failure is a distinct hard error.
	auth = &stubAuthenticator{err: context.DeadlineExceeded}
	te = newTestEnv(t, policy.Config{BiometricGatedSigning: true}, auth)
	_, err = te.engine.Encrypt(context.Background(), []byte("hi"), te.recipient(), true)
	require.ErrorIs(err, policy.ErrBiometricFailed)

	// No authenticator wired at all.
	te = newTestEnv(t, policy.Config{BiometricGatedSigning: true}, nil)
	_, err = te.engine.Encrypt(context.Background(), []byte("hi"), te.recipient(), true)
	require.ErrorIs(err, policy.ErrBiometricFailed)
}

func TestEncryptRejectsBadRecipient(t *testing.T) {
	te := newTestEnv(t, policy.Config{}, nil)
	_, err := te.engine.Encrypt(context.Background(), []byte("hi"), nil, false)
	require.ErrorIs(t, err, crypto.ErrInvalidPublicKey)
	_, err = te.engine.Encrypt(context.Background(), []byte("hi"), &Recipient{PublicKey: []byte{1, 2, 3}}, false)
	require.ErrorIs(t, err, crypto.ErrInvalidPublicKey)
}
