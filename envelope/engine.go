// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// engine.go - the encrypt/decrypt pipeline.

package envelope

import (
	"context"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/whisperlab/whisper/contact"
	"github.com/whisperlab/whisper/core/log"
	"github.com/whisperlab/whisper/crypto"
	"github.com/whisperlab/whisper/crypto/fingerprint"
	"github.com/whisperlab/whisper/crypto/padding"
	"github.com/whisperlab/whisper/identity"
	"github.com/whisperlab/whisper/policy"
	"github.com/whisperlab/whisper/replay"
)

// Attribution classifies the sender of a decrypted message.
type Attribution uint8

const (
	// AttributionUnsigned: no signature was attached.
	AttributionUnsigned Attribution = iota

	// AttributionSignedVerified: a valid signature from a verified
	// contact.
	AttributionSignedVerified

	// AttributionSignedUnverified: a valid signature from a known but
	// unverified (or revoked) contact.
	AttributionSignedUnverified

	// AttributionSignatureInvalid: a signature was attached but no
	// known contact key validates it.
	AttributionSignatureInvalid
)

func (a Attribution) String() string {
	switch a {
	case AttributionUnsigned:
		return "unsigned"
	case AttributionSignedVerified:
		return "verified-signed"
	case AttributionSignedUnverified:
		return "unverified-signed"
	case AttributionSignatureInvalid:
		return "invalid-signature"
	default:
		return "unknown"
	}
}

// Message is the result of a successful decrypt.
type Message struct {
	Plaintext   []byte
	Sender      *contact.Contact
	Attribution Attribution
	IsSigned    bool
}

// Recipient designates where an encrypted message goes: a saved contact,
// or a raw X25519 public key when no contact exists.
type Recipient struct {
	Contact *contact.Contact

	// PublicKey is the raw X25519 public key, used only when Contact is
	// nil.
	PublicKey []byte
}

func (r *Recipient) encryptionKey() []byte {
	if r.Contact != nil {
		return r.Contact.EncryptionPublicKey
	}
	return r.PublicKey
}

func (r *Recipient) recipientKeyID() [fingerprint.RecipientKeyIDSize]byte {
	if r.Contact != nil {
		return r.Contact.RecipientKeyID()
	}
	// A raw key carries no signing half, so the rkid is derived from
	// the encryption key alone.
	return fingerprint.RecipientKeyID(fingerprint.Fingerprint(r.PublicKey, nil))
}

// EngineConfig wires an Engine's collaborators.
type EngineConfig struct {
	Suite         crypto.Provider
	Identities    *identity.Store
	Contacts      *contact.Store
	Policy        *policy.Engine
	Replay        *replay.Guard
	Authenticator policy.Authenticator
	LogBackend    *log.Backend
}

// Engine orchestrates the whisper v1 encrypt and decrypt pipelines.
type Engine struct {
	suite      crypto.Provider
	identities *identity.Store
	contacts   *contact.Store
	policy     *policy.Engine
	replay     *replay.Guard
	auth       policy.Authenticator
	log        *logging.Logger

	nowFn func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(cfg *EngineConfig) *Engine {
	return &Engine{
		suite:      cfg.Suite,
		identities: cfg.Identities,
		contacts:   cfg.Contacts,
		policy:     cfg.Policy,
		replay:     cfg.Replay,
		auth:       cfg.Authenticator,
		log:        cfg.LogBackend.GetLogger("envelope"),
		nowFn:      time.Now,
	}
}

// Encrypt turns plaintext into a wire envelope for the given recipient,
// sent from the current identity.  Policy is evaluated in fixed order
// (contact, signature, biometric) strictly before any key material is
// generated; when biometric gating applies, no ephemeral key exists
// until the challenge resolves.
func (e *Engine) Encrypt(ctx context.Context, plaintext []byte, recipient *Recipient, requireAuthenticity bool) (string, error) {
	if recipient == nil || len(recipient.encryptionKey()) != crypto.PublicKeySize {
		return "", crypto.ErrInvalidPublicKey
	}

	if err := e.policy.ValidateSend(recipient.Contact); err != nil {
		return "", err
	}
	if err := e.policy.ValidateSignature(recipient.Contact, requireAuthenticity); err != nil {
		return "", err
	}
	if requireAuthenticity && e.policy.RequiresBiometric() {
		if err := e.authenticate(ctx); err != nil {
			return "", err
		}
	}

	sender, err := e.identities.Active()
	if err != nil {
		return "", err
	}

	recipientPub, err := e.suite.NIKE().UnmarshalBinaryPublicKey(recipient.encryptionKey())
	if err != nil {
		return "", crypto.ErrInvalidPublicKey
	}

	ephPub, ephPriv, err := e.suite.GenerateEphemeralKeyPair()
	if err != nil {
		return "", err
	}
	// Single use: erased on every exit path.
	defer crypto.Zeroize(ephPriv)

	sharedSecret, err := e.suite.KeyAgreement(ephPriv, recipientPub)
	if err != nil {
		return "", err
	}
	defer crypto.ZeroizeBytes(sharedSecret)

	salt, err := e.suite.SecureRandom(crypto.SaltSize)
	if err != nil {
		return "", err
	}
	msgID, err := e.suite.SecureRandom(crypto.MessageIDSize)
	if err != nil {
		return "", err
	}

	env := new(Envelope)
	env.RecipientKeyID = recipient.recipientKeyID()
	copy(env.EphemeralPublicKey[:], ephPub.Bytes())
	copy(env.Salt[:], salt)
	copy(env.MessageID[:], msgID)
	env.Timestamp = e.nowFn().Unix()
	if requireAuthenticity {
		env.Flags |= FlagSigned
	}

	info := append(ephPub.Bytes(), msgID...)
	keys, err := e.suite.DeriveKeys(sharedSecret, salt, info)
	if err != nil {
		return "", err
	}
	defer keys.Zeroize()

	padded, err := padding.Pad(plaintext)
	if err != nil {
		return "", err
	}
	defer crypto.ZeroizeBytes(padded)

	aad := env.AdditionalData()
	ct, err := e.suite.AEADSeal(padded, keys.EncryptionKey[:], keys.Nonce[:], aad)
	if err != nil {
		return "", err
	}
	env.Ciphertext = ct

	if requireAuthenticity {
		signingKey, err := e.identities.SigningKey(sender.ID)
		if err != nil {
			return "", err
		}
		copy(env.Signature[:], e.suite.Sign(append(append([]byte(nil), ct...), aad...), signingKey))
	}

	e.log.Debugf("encrypted %d byte message for rkid %x", len(plaintext), env.RecipientKeyID)
	return env.String(), nil
}

func (e *Engine) authenticate(ctx context.Context) error {
	if e.auth == nil {
		return policy.ErrBiometricFailed
	}
	outcome, err := e.auth.Authenticate(ctx, "whisper: authorize message signing")
	if err != nil {
		return policy.ErrBiometricFailed
	}
	switch outcome {
	case policy.AuthAuthorized:
		return nil
	case policy.AuthDenied, policy.AuthCancelled:
		return &policy.Error{Violation: policy.ViolationBiometricRequired}
	default:
		return policy.ErrBiometricFailed
	}
}

// Decrypt reverses Encrypt: parse, freshness check, atomic replay
// admission, recipient key resolution, decryption, unpadding and sender
// attribution.  Failures short-circuit; every structural anomaly
// collapses to ErrInvalidEnvelope and every key or tag problem to
// ErrCryptographicFailure so the caller never becomes a decryption
// oracle.  Expiry is checked before replay commit so an expired message
// is never admitted.
func (e *Engine) Decrypt(envelopeString string) (*Message, error) {
	env, err := Parse(envelopeString)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}

	if !e.replay.IsWithinFreshnessWindow(env.Timestamp) {
		return nil, ErrMessageExpired
	}
	fresh, err := e.replay.CheckAndCommit(env.MessageID[:], env.Timestamp)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, ErrReplayDetected
	}

	ident, err := e.resolveIdentity(env.RecipientKeyID)
	if err != nil {
		return nil, ErrCryptographicFailure
	}
	decryptionKey, err := e.identities.DecryptionKey(ident.ID)
	if err != nil {
		return nil, ErrCryptographicFailure
	}
	defer crypto.Zeroize(decryptionKey)

	ephPub, err := e.suite.NIKE().UnmarshalBinaryPublicKey(env.EphemeralPublicKey[:])
	if err != nil {
		return nil, ErrCryptographicFailure
	}
	sharedSecret, err := e.suite.KeyAgreement(decryptionKey, ephPub)
	if err != nil {
		return nil, ErrCryptographicFailure
	}
	defer crypto.ZeroizeBytes(sharedSecret)

	info := append(env.EphemeralPublicKey[:], env.MessageID[:]...)
	keys, err := e.suite.DeriveKeys(sharedSecret, env.Salt[:], info)
	if err != nil {
		return nil, ErrCryptographicFailure
	}
	defer keys.Zeroize()

	aad := env.AdditionalData()
	padded, err := e.suite.AEADOpen(env.Ciphertext, keys.EncryptionKey[:], keys.Nonce[:], aad)
	if err != nil {
		return nil, ErrCryptographicFailure
	}
	defer crypto.ZeroizeBytes(padded)

	plaintext, err := padding.Unpad(padded)
	if err != nil {
		return nil, ErrCryptographicFailure
	}

	msg := &Message{
		Plaintext: plaintext,
		IsSigned:  env.IsSigned(),
	}
	if env.IsSigned() {
		msg.Sender, msg.Attribution = e.attributeSender(env, aad)
	}
	return msg, nil
}

// resolveIdentity locates the local identity matching the envelope rkid.
// Raw key senders derive the rkid from the encryption key alone, so both
// derivations are tried.
func (e *Engine) resolveIdentity(rkid [fingerprint.RecipientKeyIDSize]byte) (*identity.Identity, error) {
	ident, err := e.identities.ByRecipientKeyID(rkid)
	if err == nil {
		return ident, nil
	}
	idents, err := e.identities.ListAll()
	if err != nil {
		return nil, err
	}
	for _, ident := range idents {
		encOnly := fingerprint.RecipientKeyID(fingerprint.Fingerprint(ident.EncryptionPublicKey, nil))
		if encOnly == rkid {
			return ident, nil
		}
	}
	return nil, identity.ErrIdentityNotFound
}

// attributeSender resolves who signed the message by trial verification
// against the known contacts' signing keys.
func (e *Engine) attributeSender(env *Envelope, aad []byte) (*contact.Contact, Attribution) {
	signed := append(append([]byte(nil), env.Ciphertext...), aad...)
	contacts, err := e.contacts.List()
	if err != nil {
		e.log.Errorf("contact lookup failed during attribution: %v", err)
		return nil, AttributionSignatureInvalid
	}
	for _, c := range contacts {
		if len(c.SigningPublicKey) == 0 {
			continue
		}
		pub, err := e.suite.SignatureScheme().UnmarshalBinaryPublicKey(c.SigningPublicKey)
		if err != nil {
			continue
		}
		if e.suite.Verify(env.Signature[:], signed, pub) {
			if c.TrustLevel == contact.TrustVerified {
				return c, AttributionSignedVerified
			}
			return c, AttributionSignedUnverified
		}
	}
	return nil, AttributionSignatureInvalid
}
