package hotp

import (
	"encoding/binary"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
)

// MethodRecord is a method-tag‖value pair carried inside a TagUpdate
// element, identifying which stored credential is being replaced
// (spec.md §4.I).
type MethodRecord struct {
	tag   byte
	value []byte
}

// hotpSecretFieldLen is the fixed width of the 0x3F record's secret field
// (spec.md §3); seeds shorter than this are zero-padded, with secretLen
// carrying the real length.
const hotpSecretFieldLen = 16

// HOTPMethodRecord builds a method record that (re)seeds the stored HOTP
// secret, starting counter, digit count, and fail-counter state: spec.md
// §3's 0x3F body is `counter 8B, currentFails 1B, maxFails 1B, digits 1B,
// secretLen 1B, secret 16B`.
func HOTPMethodRecord(seed []byte, counter uint64, currentFails, maxFails, digits byte) (MethodRecord, error) {
	if len(seed) > hotpSecretFieldLen {
		return MethodRecord{}, hsmerrors.InvalidArgument("hotp: seed exceeds 16 bytes")
	}
	value := make([]byte, 8+1+1+1+1+hotpSecretFieldLen)
	binary.BigEndian.PutUint64(value[:8], counter)
	value[8] = currentFails
	value[9] = maxFails
	value[10] = digits
	value[11] = byte(len(seed))
	copy(value[12:12+len(seed)], seed)
	return MethodRecord{tag: MethodHOTP, value: value}, nil
}

// PasswordMethodRecord builds a method record that sets a new password
// hash and fail-counter state: spec.md §3's 0x40 body is `currentFails,
// maxFails, hashLen, hash`.
func PasswordMethodRecord(hash []byte, currentFails, maxFails byte) (MethodRecord, error) {
	if len(hash) > 0xff {
		return MethodRecord{}, hsmerrors.InvalidArgument("hotp: hash exceeds 255 bytes")
	}
	value := make([]byte, 3+len(hash))
	value[0] = currentFails
	value[1] = maxFails
	value[2] = byte(len(hash))
	copy(value[3:], hash)
	return MethodRecord{tag: MethodPassword, value: value}, nil
}

// GlobalTriesMethodRecord builds a method record that sets the global
// failed-tries limit before the HSM locks the UO.
func GlobalTriesMethodRecord(maxTries uint16) MethodRecord {
	value := make([]byte, 2)
	binary.BigEndian.PutUint16(value, maxTries)
	return MethodRecord{tag: MethodGlobalTries, value: value}
}

func (r MethodRecord) encode() ([]byte, error) {
	if r.tag == 0 {
		return nil, hsmerrors.InvalidArgument("hotp: zero-value MethodRecord")
	}
	return encodeElement(r.tag, r.value), nil
}

// decodeMethodRecord parses one method-tag‖value pair from the front of
// buf, rejecting any tag outside the three known methods.
func decodeMethodRecord(buf []byte) (MethodRecord, []byte, error) {
	el, rest, err := decodeElement(buf)
	if err != nil {
		return MethodRecord{}, nil, err
	}
	switch el.Tag {
	case MethodHOTP, MethodPassword, MethodGlobalTries:
	default:
		return MethodRecord{}, nil, hsmerrors.TLVCorrupt("hotp: unknown method record tag")
	}
	return MethodRecord{tag: el.Tag, value: el.Value}, rest, nil
}

// Tag reports which method this record addresses.
func (r MethodRecord) Tag() byte { return r.tag }

// Value returns the record's raw payload.
func (r MethodRecord) Value() []byte { return r.value }
