// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package fingerprint derives all human and machine facing key identifiers
// from public key material: the full fingerprint, the short fingerprint,
// the SAS verification words and the recipient key id.  Identity and
// contact handling must both derive through this package so the outputs
// never diverge.
package fingerprint

import (
	"encoding/hex"

	"github.com/katzenpost/hpqc/hash"
	"github.com/tyler-smith/go-bip39"
)

const (
	// Size is the fingerprint size in bytes.
	Size = hash.HashSize

	// RecipientKeyIDSize is the rkid size in bytes.
	RecipientKeyIDSize = 8

	// ShortSize is the length of a short fingerprint string.
	ShortSize = 12

	// NumSASWords is the number of SAS verification words.
	NumSASWords = 6

	bitsPerWord = 11
)

// Fingerprint computes the blake2b-256 fingerprint over the X25519 public
// key concatenated with the optional Ed25519 public key.
func Fingerprint(encryptionPublic, signingPublic []byte) [Size]byte {
	blob := make([]byte, 0, len(encryptionPublic)+len(signingPublic))
	blob = append(blob, encryptionPublic...)
	blob = append(blob, signingPublic...)
	return hash.Sum256(blob)
}

// Short returns the 12 character human readable short fingerprint.
func Short(fp [Size]byte) string {
	return hex.EncodeToString(fp[:ShortSize/2])
}

// SASWords returns the six word short authentication string for fp.  Each
// word is indexed by 11 bits of the fingerprint into the BIP39 English
// wordlist.
func SASWords(fp [Size]byte) []string {
	wordlist := bip39.GetWordList()
	words := make([]string, NumSASWords)
	for i := range words {
		words[i] = wordlist[wordIndex(fp[:], i)]
	}
	return words
}

// RecipientKeyID returns the 8 byte rkid prefix of fp, used to cheaply
// locate the matching local identity without trying every key.
func RecipientKeyID(fp [Size]byte) [RecipientKeyIDSize]byte {
	var rkid [RecipientKeyIDSize]byte
	copy(rkid[:], fp[:RecipientKeyIDSize])
	return rkid
}

func wordIndex(fp []byte, word int) int {
	var v int
	for b := 0; b < bitsPerWord; b++ {
		bit := word*bitsPerWord + b
		v <<= 1
		if fp[bit/8]&(1<<(7-uint(bit%8))) != 0 {
			v |= 1
		}
	}
	return v
}
