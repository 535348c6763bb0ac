// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package identity

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/whisperlab/whisper/crypto"
	"github.com/whisperlab/whisper/crypto/fingerprint"
)

// BundlePrefix is the wire prefix of a public key bundle.  A bundle is
// never accepted as a substitute for an encrypted message and vice versa.
const BundlePrefix = "whisper-bundle:"

// Bundle is the public only projection of an identity, exchanged out of
// band (typically via QR code).
type Bundle struct {
	ID                  string
	Name                string
	EncryptionPublicKey []byte
	SigningPublicKey    []byte
	Fingerprint         []byte
	KeyVersion          uint64
	CreatedAt           int64
}

// String serializes the bundle to its wire form.
func (b *Bundle) String() string {
	blob, err := cbor.Marshal(b)
	if err != nil {
		panic(err)
	}
	return BundlePrefix + base64.StdEncoding.EncodeToString(blob)
}

// ParseBundle parses and validates a bundle wire string.  The embedded
// fingerprint must match the fingerprint recomputed from the public keys.
func ParseBundle(s string) (*Bundle, error) {
	encoded, ok := strings.CutPrefix(s, BundlePrefix)
	if !ok {
		return nil, ErrInvalidBundle
	}
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidBundle
	}
	b := new(Bundle)
	if _, err := cbor.UnmarshalFirst(blob, b); err != nil {
		return nil, ErrInvalidBundle
	}
	if b.ID == "" || len(b.EncryptionPublicKey) != crypto.PublicKeySize {
		return nil, ErrInvalidBundle
	}
	if len(b.SigningPublicKey) != 0 && len(b.SigningPublicKey) != crypto.PublicKeySize {
		return nil, ErrInvalidBundle
	}
	fp := fingerprint.Fingerprint(b.EncryptionPublicKey, b.SigningPublicKey)
	if !bytes.Equal(fp[:], b.Fingerprint) {
		return nil, ErrInvalidBundle
	}
	return b, nil
}
