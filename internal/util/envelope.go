package util

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	envelopeSaltSize = 32
	envelopeKeySize  = 32
	envelopeKDFIters = 10000
)

// ErrEnvelopeInvalid is returned when an envelope cannot be opened:
// truncated data, bad padding, or a ciphertext produced under a
// different secret.
var ErrEnvelopeInvalid = errors.New("invalid envelope")

// SealEnvelope encrypts plaintext under a key derived from secret and a
// fresh random salt, returning salt || AES-256-CBC ciphertext.
//
// The IV is fixed at all zeroes: each envelope's key is derived from a
// unique 32-byte salt, so no two envelopes ever share a (key, IV) pair.
// The salt travels in the clear as the envelope prefix.
func SealEnvelope(secret, plaintext []byte) ([]byte, error) {
	salt, err := RandomBytes(envelopeSaltSize)
	if err != nil {
		return nil, err
	}
	key := deriveEnvelopeKey(secret, salt)
	defer WipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	padded := padPKCS7(plaintext, aes.BlockSize)
	out := make([]byte, envelopeSaltSize+len(padded))
	copy(out, salt)

	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[envelopeSaltSize:], padded)
	return out, nil
}

// OpenEnvelope reverses SealEnvelope: it re-derives the key from the
// salt prefix and decrypts the remainder. Returns ErrEnvelopeInvalid for
// anything that does not decrypt to well-formed padding.
func OpenEnvelope(secret, envelope []byte) ([]byte, error) {
	if len(envelope) < envelopeSaltSize+aes.BlockSize {
		return nil, ErrEnvelopeInvalid
	}
	salt, ciphertext := envelope[:envelopeSaltSize], envelope[envelopeSaltSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrEnvelopeInvalid
	}

	key := deriveEnvelopeKey(secret, salt)
	defer WipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	unpadded, err := unpadPKCS7(plain, aes.BlockSize)
	if err != nil {
		return nil, ErrEnvelopeInvalid
	}
	return unpadded, nil
}

func deriveEnvelopeKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, envelopeKDFIters, envelopeKeySize, sha256.New)
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(CopyBytes(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding byte")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
