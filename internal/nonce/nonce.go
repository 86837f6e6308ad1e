// Package nonce implements freshness-nonce generation and the response
// nonce "demangling" arithmetic, plus the UO handle codec (spec.md §3, §4.D).
package nonce

import (
	"crypto/rand"
	"encoding/hex"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
)

// Size is the freshness nonce length in bytes.
const Size = 8

// Generate returns Size random bytes from the CSPRNG. This is the only
// nonce constructor the module exposes — per spec.md §9's Open Question,
// any nonce used in an authenticated flow MUST come from a CSPRNG, never
// math/rand.
func Generate() ([]byte, error) {
	buf := make([]byte, Size)
	if _, err := rand.Read(buf); err != nil {
		return nil, hsmerrors.CryptoFailure(err)
	}
	return buf, nil
}

// RandomBytes returns n random bytes from the CSPRNG, for ephemeral
// transport/MAC keys (TEK, TMK, HOTP-context keys) that share the same
// CSPRNG-only requirement as the freshness nonce.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, hsmerrors.CryptoFailure(err)
	}
	return buf, nil
}

// EncodeHex renders a nonce as lowercase hex.
func EncodeHex(n []byte) string {
	return hex.EncodeToString(n)
}

// DecodeHex parses a hex nonce string back to bytes.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, hsmerrors.InvalidArgument("nonce: invalid hex")
	}
	return b, nil
}

// mangleConstant is added to the request nonce by the server, word-wise,
// with wraparound; Demangle subtracts it back out.
const mangleConstant uint32 = 0x01010101

// Mangle adds 0x01010101 to each 32-bit big-endian word of n (each byte +1,
// with a carry out of a 0xFF byte propagating into the byte above it and
// the word wrapping around), returning the mangled bytes. Used by test harnesses
// that simulate the server side of the protocol.
func Mangle(n []byte) []byte {
	return transformWords(n, true)
}

// Demangle subtracts 0x01010101 from each 32-bit big-endian word of n, with
// proper handling of a final partial word: for a tail of r bits (r < 32),
// only the high r bits of the constant participate in the subtraction.
func Demangle(n []byte) []byte {
	return transformWords(n, false)
}

// transformWords adds (or subtracts) mangleConstant to/from each full
// 32-bit big-endian word of n. For a partial trailing word of r < 32 bits,
// only the top r bits of the constant participate — the constant is
// masked down to the tail's width *before* the add/subtract, matching
// spec.md §4.D's tail rule exactly (masking the result afterward instead
// would be wrong whenever the operation carries/borrows across the
// boundary between the used and unused bits).
func transformWords(n []byte, add bool) []byte {
	out := make([]byte, len(n))
	full := len(n) / 4
	for i := 0; i < full; i++ {
		w := beUint32(n[i*4:])
		if add {
			putBeUint32(out[i*4:], w+mangleConstant)
		} else {
			putBeUint32(out[i*4:], w-mangleConstant)
		}
	}
	rem := len(n) - full*4
	if rem == 0 {
		return out
	}

	tailBytes := n[full*4:]
	var tailWord uint32
	for i, b := range tailBytes {
		tailWord |= uint32(b) << uint(24-8*i)
	}

	maskBits := rem * 8
	mask := uint32(0xFFFFFFFF) << uint(32-maskBits)
	maskedConstant := mangleConstant & mask

	var transformed uint32
	if add {
		transformed = (tailWord + maskedConstant) & mask
	} else {
		transformed = (tailWord - maskedConstant) & mask
	}

	for i := range tailBytes {
		out[full*4+i] = byte(transformed >> uint(24-8*i))
	}
	return out
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBeUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
