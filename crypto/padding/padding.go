// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package padding implements fixed-bucket message padding.  Messages are
// rounded up to one of a small set of fixed lengths so that ciphertext
// length reveals little about plaintext length.
package padding

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

const (
	// BucketSmall is the small padding bucket size in bytes.
	BucketSmall = 256

	// BucketMedium is the medium padding bucket size in bytes.
	BucketMedium = 512

	// BucketLarge is the large padding bucket size in bytes.
	BucketLarge = 1024

	// MaxMessageSize is the largest message that fits the largest bucket.
	MaxMessageSize = BucketLarge - lengthPrefixSize

	lengthPrefixSize = 2
)

var (
	// ErrMessageTooLarge is returned when a message does not fit the
	// largest (or the explicitly forced) bucket.
	ErrMessageTooLarge = errors.New("padding: message too large")

	// ErrInvalidPadding is returned when unpadding fails validation.
	ErrInvalidPadding = errors.New("padding: invalid padding")
)

// SelectBucket returns the smallest bucket that holds a message of the
// given length plus the length prefix.
func SelectBucket(messageLen int) (int, error) {
	switch need := messageLen + lengthPrefixSize; {
	case need <= BucketSmall:
		return BucketSmall, nil
	case need <= BucketMedium:
		return BucketMedium, nil
	case need <= BucketLarge:
		return BucketLarge, nil
	default:
		return 0, ErrMessageTooLarge
	}
}

// Pad encodes message into the smallest bucket that fits it: a 2 byte big
// endian length prefix, the message bytes, then zero fill.
func Pad(message []byte) ([]byte, error) {
	bucket, err := SelectBucket(len(message))
	if err != nil {
		return nil, err
	}
	return PadToBucket(message, bucket)
}

// PadToBucket encodes message into the explicitly forced bucket.
func PadToBucket(message []byte, bucket int) ([]byte, error) {
	switch bucket {
	case BucketSmall, BucketMedium, BucketLarge:
	default:
		return nil, ErrInvalidPadding
	}
	if len(message)+lengthPrefixSize > bucket {
		return nil, ErrMessageTooLarge
	}
	padded := make([]byte, bucket)
	binary.BigEndian.PutUint16(padded[:lengthPrefixSize], uint16(len(message)))
	copy(padded[lengthPrefixSize:], message)
	return padded, nil
}

// Unpad validates and strips bucket padding.  Every byte of the padding
// region is inspected unconditionally via OR accumulation so that timing
// does not leak where a corruption occurs.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) < lengthPrefixSize {
		return nil, ErrInvalidPadding
	}
	messageLen := int(binary.BigEndian.Uint16(padded[:lengthPrefixSize]))
	if messageLen > len(padded)-lengthPrefixSize {
		return nil, ErrInvalidPadding
	}
	var acc byte
	for _, b := range padded[lengthPrefixSize+messageLen:] {
		acc |= b
	}
	if subtle.ConstantTimeByteEq(acc, 0) != 1 {
		return nil, ErrInvalidPadding
	}
	message := make([]byte, messageLen)
	copy(message, padded[lengthPrefixSize:lengthPrefixSize+messageLen])
	return message, nil
}
