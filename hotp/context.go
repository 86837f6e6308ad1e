package hotp

import (
	"encoding/binary"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/aescbc"
	"github.com/R3E-Network/hsmclient/internal/nonce"
)

// authContextHeaderLen is the width of the fixed header preceding a context
// blob's method records: version(1B) ‖ userId(8B) ‖ flags(4B) ‖
// totalFails(1B) ‖ maxFails(1B) (spec.md §3's "Authentication context").
const authContextHeaderLen = 1 + 8 + 4 + 1 + 1

// authContextVersion is the only header version this library produces.
const authContextVersion = 1

// NewAuthContextHeader builds the fixed-width header a context blob starts
// with, before any method records are appended. userID is the same 64-bit
// identifier the stored method records are scoped to; flags and the fail
// counters are opaque to this library and round-trip as the HSM defines
// them.
func NewAuthContextHeader(userID uint64, flags uint32, totalFails, maxFails byte) []byte {
	buf := make([]byte, authContextHeaderLen)
	buf[0] = authContextVersion
	binary.BigEndian.PutUint64(buf[1:9], userID)
	binary.BigEndian.PutUint32(buf[9:13], flags)
	buf[13] = totalFails
	buf[14] = maxFails
	return buf
}

// AppendMethodRecord appends one encoded method record onto a context blob
// (a header from NewAuthContextHeader, or one already carrying prior
// records), so a caller can assemble a complete Context for BuildNewContext
// without hand-rolling the TLV framing.
func AppendMethodRecord(context []byte, record MethodRecord) ([]byte, error) {
	encoded, err := record.encode()
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, context...), encoded...), nil
}

// NewContextOptions carries the raw context bytes to seal into a fresh TLV
// blob (spec.md §4.I's buildNewContext).
type NewContextOptions struct {
	Context []byte
}

// BuildNewContext assembles [A3‖len‖protectedCtx] ‖ [A8‖len‖plaintextCtx]:
// protectedCtx is the context CBC-encrypted and CBC-MACed under a pair of
// ephemeral, immediately-discarded keys; plaintextCtx is the raw context
// bytes sent alongside it. The ephemeral keys never leave this function —
// only the HSM, which already holds the caller's long-term context key,
// can make sense of protectedCtx; plaintextCtx is what round-trips back to
// the caller as the opaque userCtx blob.
func BuildNewContext(opts NewContextOptions) ([]byte, error) {
	randEncKey, err := nonce.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	randMacKey, err := nonce.RandomBytes(32)
	if err != nil {
		return nil, err
	}

	ct, err := aescbc.EncryptPadded(randEncKey, opts.Context)
	if err != nil {
		return nil, err
	}
	tag, err := aescbc.MAC(randMacKey, ct)
	if err != nil {
		return nil, err
	}
	protectedCtx := append(append([]byte{}, ct...), tag...)

	out := encodeElement(TagOuterContext, protectedCtx)
	out = append(out, encodeElement(TagPlaintextContext, opts.Context)...)
	return out, nil
}

// BuildAuthOp selects which credential buildAuth is checking.
type BuildAuthOp byte

const (
	// BuildAuthPassword checks a password against the stored method record.
	BuildAuthPassword BuildAuthOp = BuildAuthOp(TagAuthPassword)
	// BuildAuthHOTP checks an HOTP code against the stored method record.
	BuildAuthHOTP BuildAuthOp = BuildAuthOp(TagAuthHOTP)
)

// BuildAuth assembles [A3‖len‖userCtx] ‖ [op‖len‖userId‖code] (spec.md
// §4.I's buildAuth). userCtx is the opaque blob the caller received from a
// prior BuildNewContext/parsed response and must present on every
// subsequent call.
func BuildAuth(userID, code, userCtx []byte, op BuildAuthOp) ([]byte, error) {
	if op != BuildAuthPassword && op != BuildAuthHOTP {
		return nil, hsmerrors.InvalidArgument("hotp: invalid buildAuth op")
	}
	payload := append(append([]byte{}, userID...), code...)
	out := encodeElement(TagOuterContext, userCtx)
	out = append(out, encodeElement(byte(op), payload)...)
	return out, nil
}

// BuildUpdate assembles [A3‖len‖userCtx] ‖ [A7‖len‖userId‖method-record]
// (spec.md §4.I's buildUpdate), changing a stored credential.
func BuildUpdate(userID, userCtx []byte, record MethodRecord) ([]byte, error) {
	encoded, err := record.encode()
	if err != nil {
		return nil, err
	}
	payload := append(append([]byte{}, userID...), encoded...)
	out := encodeElement(TagOuterContext, userCtx)
	out = append(out, encodeElement(TagUpdate, payload)...)
	return out, nil
}

