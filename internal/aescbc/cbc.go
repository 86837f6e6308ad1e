// Package aescbc implements the non-AEAD symmetric envelope the wire
// protocol needs: AES-256-CBC (optionally PKCS#7-padded) and a separate
// AES-256-CBC-MAC, both with an all-zero IV per the wire convention (the
// freshness nonce embedded in the first plaintext block serves as the
// effective IV).
package aescbc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/padding"
)

var zeroIV = make([]byte, aes.BlockSize)

// TagSize is the length in bytes of a CBC-MAC tag (one AES block).
const TagSize = aes.BlockSize

// EncryptPadded PKCS#7-pads plaintext and CBC-encrypts it under key with a
// zero IV.
func EncryptPadded(key, plaintext []byte) ([]byte, error) {
	return EncryptUnpadded(key, padding.PKCS7Pad(plaintext))
}

// EncryptUnpadded CBC-encrypts plaintext, which MUST already be a multiple
// of the AES block size, under key with a zero IV.
func EncryptUnpadded(key, plaintext []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, hsmerrors.InvalidArgument("aescbc: plaintext not block-aligned")
	}
	out := make([]byte, len(plaintext))
	mode := cipher.NewCBCEncrypter(block, zeroIV)
	mode.CryptBlocks(out, plaintext)
	return out, nil
}

// DecryptPadded CBC-decrypts ciphertext under key with a zero IV and strips
// PKCS#7 padding, returning an error on any padding violation.
func DecryptPadded(key, ciphertext []byte) ([]byte, error) {
	plain, err := DecryptUnpadded(key, ciphertext)
	if err != nil {
		return nil, err
	}
	return padding.PKCS7Unpad(plain)
}

// DecryptUnpadded CBC-decrypts ciphertext, which MUST be a multiple of the
// AES block size, under key with a zero IV. No padding is removed.
func DecryptUnpadded(key, ciphertext []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, hsmerrors.InvalidArgument("aescbc: ciphertext not block-aligned")
	}
	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, zeroIV)
	mode.CryptBlocks(out, ciphertext)
	return out, nil
}

// MAC computes AES-256-CBC-MAC over input (which MUST already be a positive
// multiple of 16 bytes — the caller is responsible for aligning it, usually
// via PKCS#7) under macKey with a zero IV, returning the last ciphertext
// block (16 bytes). Safe here because every MACed payload in this protocol
// begins with a fixed-structure frame whose length is implicit from the
// PKCS#7-padded outer framing, so the classic CBC-MAC length-extension
// concern over variable-length unframed input does not arise.
func MAC(macKey, input []byte) ([]byte, error) {
	if len(input) == 0 || len(input)%aes.BlockSize != 0 {
		return nil, hsmerrors.InvalidArgument("aescbc: MAC input must be a positive multiple of 16 bytes")
	}
	ct, err := EncryptUnpadded(macKey, input)
	if err != nil {
		return nil, err
	}
	tag := make([]byte, aes.BlockSize)
	copy(tag, ct[len(ct)-aes.BlockSize:])
	return tag, nil
}

// VerifyMAC recomputes the CBC-MAC over input and compares it to tag in
// constant time.
func VerifyMAC(macKey, input, tag []byte) (bool, error) {
	computed, err := MAC(macKey, input)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(computed, tag) == 1, nil
}

func newCipher(key []byte) (cipher.Block, error) {
	if len(key) != 32 {
		return nil, hsmerrors.InvalidArgument("aescbc: key must be 256 bits")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, hsmerrors.CryptoFailure(err)
	}
	return block, nil
}
