// Package padding implements the two padding schemes the wire protocol
// needs: PKCS#7 (16-byte block, for AES-256-CBC framing) and PKCS#1 v1.5
// (for RSA-wrapping the ephemeral transport keys during provisioning).
package padding

import (
	"crypto/rand"
	"crypto/subtle"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
)

const pkcs7BlockSize = 16

// PKCS7Pad appends k bytes of value k, k = 16 - (len(data) mod 16); when
// len(data) is already a multiple of 16, a full block of 0x10 is appended.
func PKCS7Pad(data []byte) []byte {
	k := pkcs7BlockSize - (len(data) % pkcs7BlockSize)
	out := make([]byte, len(data)+k)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(k)
	}
	return out
}

// PKCS7Unpad reads the trailing padding byte k, requires 1 <= k <= 16,
// verifies (constant-time) that the last k bytes all equal k, and strips it.
func PKCS7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%pkcs7BlockSize != 0 {
		return nil, hsmerrors.PaddingError(nil)
	}
	k := int(data[len(data)-1])
	if k < 1 || k > pkcs7BlockSize {
		return nil, hsmerrors.PaddingError(nil)
	}
	expected := make([]byte, k)
	for i := range expected {
		expected[i] = byte(k)
	}
	tail := data[len(data)-k:]
	if subtle.ConstantTimeCompare(tail, expected) != 1 {
		return nil, hsmerrors.PaddingError(nil)
	}
	return data[:len(data)-k], nil
}

// BlockType selects the PKCS#1 v1.5 padding filler convention.
type BlockType byte

const (
	BlockType0 BlockType = 0 // filler 0x00
	BlockType1 BlockType = 1 // filler 0xFF, private-key signing convention
	BlockType2 BlockType = 2 // filler uniform non-zero random bytes
)

// PKCS1Pad lays out 0x00 || BT || PS || 0x00 || data, with |PS| = blockLen -
// 3 - len(data), requiring |PS| >= 8.
func PKCS1Pad(data []byte, blockLen int, bt BlockType) ([]byte, error) {
	psLen := blockLen - 3 - len(data)
	if psLen < 8 {
		return nil, hsmerrors.InvalidArgument("pkcs1: data too long for block length")
	}

	out := make([]byte, blockLen)
	out[0] = 0x00
	out[1] = byte(bt)

	ps := out[2 : 2+psLen]
	switch bt {
	case BlockType0:
		// already zero-filled
	case BlockType1:
		for i := range ps {
			ps[i] = 0xFF
		}
	case BlockType2:
		if err := fillNonZeroRandom(ps); err != nil {
			return nil, hsmerrors.CryptoFailure(err)
		}
	default:
		return nil, hsmerrors.InvalidArgument("pkcs1: unknown block type")
	}

	out[2+psLen] = 0x00
	copy(out[3+psLen:], data)
	return out, nil
}

// fillNonZeroRandom fills buf with CSPRNG bytes, none of which are zero.
func fillNonZeroRandom(buf []byte) error {
	for i := range buf {
		for {
			var b [1]byte
			if _, err := rand.Read(b[:]); err != nil {
				return err
			}
			if b[0] != 0 {
				buf[i] = b[0]
				break
			}
		}
	}
	return nil
}

// PKCS1Unpad validates the 0x00 || BT || PS || 0x00 || data layout and
// returns data. For BT=1 every padding byte MUST be 0xFF; for BT=2 every
// padding byte MUST be non-zero; for BT=0 every padding byte MUST be 0x00.
func PKCS1Unpad(block []byte, bt BlockType) ([]byte, error) {
	if len(block) < 11 || block[0] != 0x00 {
		return nil, hsmerrors.PaddingError(nil)
	}
	if BlockType(block[1]) != bt {
		return nil, hsmerrors.PaddingError(nil)
	}

	i := 2
	switch bt {
	case BlockType0:
		// PS and the 0x00 terminator are both zero-valued under block
		// type 0, so they form one contiguous run with no byte that
		// distinguishes the terminator from the filler — the run's end
		// is the start of data, not a separate terminator to consume
		// after the loop the way BT1/BT2 have.
		for i < len(block) && block[i] == 0x00 {
			i++
		}
		if i-2 < 9 || i >= len(block) {
			return nil, hsmerrors.PaddingError(nil)
		}
		return block[i:], nil
	case BlockType1:
		for i < len(block) && block[i] == 0xFF {
			i++
		}
		// Any non-0xFF byte encountered before the 0x00 terminator other
		// than the terminator itself is a corruption.
	case BlockType2:
		for i < len(block) && block[i] != 0x00 {
			i++
		}
	default:
		return nil, hsmerrors.InvalidArgument("pkcs1: unknown block type")
	}

	if i >= len(block) || block[i] != 0x00 {
		return nil, hsmerrors.PaddingError(nil)
	}
	return block[i+1:], nil
}
