package hotp

import (
	"encoding/binary"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
)

// userIDLen is the width of the userId field embedded (not TLV-wrapped) in
// auth request/response payloads, matching the 4-byte UOid field used
// throughout the rest of the wire protocol (spec.md §3).
const userIDLen = 4

// AuthResponse is the fully parsed auth/update reply (spec.md §4.I).
type AuthResponse struct {
	UserCtx       []byte
	UserID        []byte
	MethodReturns []MethodRecord
	StatusCode    uint16
}

// Parse pulls the outer A3 context wrapper, the requested inner op tag,
// the echoed userId, any per-method return blocks, and the trailing 16-bit
// HSM status, rejecting unknown tags, a wrong op tag, or trailing bytes
// (spec.md §4.I). wantOp is whichever op the caller originally sent
// (TagAuthHOTP, TagAuthPassword, or TagUpdate).
func Parse(raw []byte, wantOp byte) (*AuthResponse, error) {
	outer, rest, err := expectTag(raw, TagOuterContext)
	if err != nil {
		return nil, err
	}

	opEl, rest, err := expectTag(rest, wantOp)
	if err != nil {
		return nil, err
	}
	if len(opEl.Value) < userIDLen {
		return nil, hsmerrors.TLVCorrupt("hotp: op record shorter than userId field")
	}
	userID := opEl.Value[:userIDLen]

	var returns []MethodRecord
	for len(rest) > 2 {
		rec, next, err := decodeMethodRecord(rest)
		if err != nil {
			return nil, err
		}
		returns = append(returns, rec)
		rest = next
	}
	if len(rest) != 2 {
		return nil, hsmerrors.TLVCorrupt("hotp: response missing trailing status")
	}

	return &AuthResponse{
		UserCtx:       outer.Value,
		UserID:        userID,
		MethodReturns: returns,
		StatusCode:    binary.BigEndian.Uint16(rest),
	}, nil
}
