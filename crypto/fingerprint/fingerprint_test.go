// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

package fingerprint

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
)

func TestFingerprintDeterministic(t *testing.T) {
	require := require.New(t)

	enc := bytes.Repeat([]byte{0x01}, 32)
	sig := bytes.Repeat([]byte{0x02}, 32)

	fp1 := Fingerprint(enc, sig)
	fp2 := Fingerprint(enc, sig)
	require.Equal(fp1, fp2)

	// Either key changing changes the fingerprint.
	enc2 := bytes.Repeat([]byte{0x03}, 32)
	require.NotEqual(fp1, Fingerprint(enc2, sig))
	require.NotEqual(fp1, Fingerprint(enc, enc2))

	// A missing signing key is a distinct input.
	require.NotEqual(fp1, Fingerprint(enc, nil))
}

func TestShort(t *testing.T) {
	fp := Fingerprint([]byte{0xde, 0xad}, nil)
	s := Short(fp)
	require.Len(t, s, ShortSize)
}

func TestSASWords(t *testing.T) {
	require := require.New(t)

	fp := Fingerprint(bytes.Repeat([]byte{0x5a}, 32), nil)
	words := SASWords(fp)
	require.Len(words, NumSASWords)

	wordlist := bip39.GetWordList()
	valid := make(map[string]bool, len(wordlist))
	for _, w := range wordlist {
		valid[w] = true
	}
	for _, w := range words {
		require.True(valid[w], "word %q not in list", w)
	}

	// Stable for the same fingerprint, different for another.
	require.Equal(words, SASWords(fp))
	other := Fingerprint(bytes.Repeat([]byte{0xa5}, 32), nil)
	require.NotEqual(words, SASWords(other))
}

func TestRecipientKeyID(t *testing.T) {
	require := require.New(t)

	fp := Fingerprint(bytes.Repeat([]byte{0x5a}, 32), nil)
	rkid := RecipientKeyID(fp)
	require.Equal(fp[:RecipientKeyIDSize], rkid[:])
}
