package hotp

import (
	"encoding/binary"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
)

// Tags used by the nested auth-context TLV protocol (spec.md §4.I).
const (
	TagOuterContext     byte = 0xA3 // wraps an opaque userCtx blob
	TagPlaintextContext byte = 0xA8 // raw (unencrypted) context, build-side only
	TagUpdate           byte = 0xA7 // buildUpdate's method-change op
	TagAuthHOTP         byte = 0xA5 // buildAuth op: HOTP check
	TagAuthPassword     byte = 0xA4 // buildAuth op: password check
)

// Method-record tags identifying which credential a TagUpdate record
// carries (spec.md §4.I).
const (
	MethodHOTP        byte = 0x3F
	MethodPassword    byte = 0x40
	MethodGlobalTries byte = 0x3E
)

// element is one outer-level tag‖len‖value record. Length is encoded as a
// 16-bit big-endian count, consistent with the 16-bit length fields used
// elsewhere in the wire protocol (processdata's plainLen); spec.md doesn't
// fix the width explicitly (see DESIGN.md).
type element struct {
	Tag   byte
	Value []byte
}

func encodeElement(tag byte, value []byte) []byte {
	out := make([]byte, 0, 3+len(value))
	out = append(out, tag)
	out = append(out, byte(len(value)>>8), byte(len(value)))
	out = append(out, value...)
	return out
}

// decodeElement reads one tag‖len‖value record from the front of buf and
// returns it along with the remaining bytes.
func decodeElement(buf []byte) (element, []byte, error) {
	if len(buf) < 3 {
		return element{}, nil, hsmerrors.TLVCorrupt("hotp: truncated TLV header")
	}
	tag := buf[0]
	length := int(binary.BigEndian.Uint16(buf[1:3]))
	rest := buf[3:]
	if len(rest) < length {
		return element{}, nil, hsmerrors.TLVCorrupt("hotp: truncated TLV value")
	}
	return element{Tag: tag, Value: rest[:length]}, rest[length:], nil
}

// expectTag decodes one element and verifies its tag matches want.
func expectTag(buf []byte, want byte) (element, []byte, error) {
	el, rest, err := decodeElement(buf)
	if err != nil {
		return element{}, nil, err
	}
	if el.Tag != want {
		return element{}, nil, hsmerrors.TLVCorrupt("hotp: unexpected TLV tag")
	}
	return el, rest, nil
}
