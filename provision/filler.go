// Package provision implements the two-layer template wrapping pipeline
// (component J, the Filler) and the retrying GetTemplate→CreateUserObject
// state machine (component K, the Orchestrator) from spec.md §4.I/§4.J.
package provision

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/aescbc"
	"github.com/R3E-Network/hsmclient/internal/nonce"
	"github.com/R3E-Network/hsmclient/internal/padding"
	"github.com/R3E-Network/hsmclient/transport"
)

// Key-flag bits inside the template's flag byte (spec.md §4.I step 2).
const (
	flagCommKeyGenerate byte = 1 << 3 // "please generate a comm key" — cleared once supplied
	flagAppKeyGenerate  byte = 1 << 4 // cleared once an application key is supplied
)

const (
	tagWrappedKeys byte = 0xA1
	tagInnerBlob   byte = 0xA2

	tlvPublicKeyExponent byte = 0x81
	tlvPublicKeyModulus  byte = 0x82

	tekSize = 32
	tmkSize = 32
)

// CallerKeys carries the symmetric keys the caller wants patched into the
// template's key slots (spec.md §4.I inputs). Any left nil/empty are
// skipped — not every UO type needs every slot.
type CallerKeys struct {
	CommEnc     []byte
	CommMac     []byte
	CommNextEnc []byte
	CommNextMac []byte
	App         []byte
	Billing     []byte
}

// keySlotValue returns the caller-supplied key bytes for a keyoffset.Type,
// or nil if that slot type isn't one this library fills.
func (k CallerKeys) keySlotValue(slotType string) []byte {
	switch strings.ToLower(slotType) {
	case "commenc", "comenc":
		return k.CommEnc
	case "commmac", "commac":
		return k.CommMac
	case "commnextenc", "comnextenc":
		return k.CommNextEnc
	case "commnextmac", "conextmac":
		return k.CommNextMac
	case "app", "application", "appkey":
		return k.App
	case "billing", "billingkey":
		return k.Billing
	default:
		return nil
	}
}

// FillResult is the Filler's output: the wrapped blob to submit to
// CreateUserObject, and which import key it was wrapped under.
type FillResult struct {
	Blob        []byte
	ImportKeyID int
}

// Fill executes spec.md §4.I's seven-step algorithm against tpl using keys
// and objectID (the 4-byte big-endian object id baked into the RSA-wrapped
// payload).
func Fill(tpl *transport.Template, keys CallerKeys, objectID uint32) (*FillResult, error) {
	blob, err := hex.DecodeString(tpl.Blob)
	if err != nil {
		return nil, hsmerrors.InvalidArgument("provision: template blob is not valid hex")
	}

	if err := patchKeySlots(blob, tpl.KeyOffsets, keys); err != nil {
		return nil, err
	}
	clearGenerateFlags(blob, tpl.FlagOffset, keys)

	if tpl.EncryptionOffset < 0 || tpl.EncryptionOffset > len(blob) {
		return nil, hsmerrors.InvalidArgument("provision: encryptionoffset out of range")
	}
	plainPrefix := blob[:tpl.EncryptionOffset]
	suffix := blob[tpl.EncryptionOffset:]

	tek, err := nonce.RandomBytes(tekSize)
	if err != nil {
		return nil, err
	}
	tmk, err := nonce.RandomBytes(tmkSize)
	if err != nil {
		return nil, err
	}

	suffixCT, err := aescbc.EncryptPadded(tek, suffix)
	if err != nil {
		return nil, err
	}

	inner := append(append([]byte{}, plainPrefix...), suffixCT...)
	inner = padding.PKCS7Pad(inner)
	innerTag, err := aescbc.MAC(tmk, inner)
	if err != nil {
		return nil, err
	}
	inner = append(inner, innerTag...)

	importKey, err := chooseImportKey(tpl.ImportKeys)
	if err != nil {
		return nil, err
	}
	e, n, err := parseTLVPublicKey(importKey.PublicKey)
	if err != nil {
		return nil, err
	}

	wrapped, err := wrapTransportKeys(objectID, tek, tmk, e, n)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(wrapped)+len(inner)+8)
	out = appendTLV(out, tagWrappedKeys, wrapped)
	out = appendTLV(out, tagInnerBlob, inner)

	return &FillResult{Blob: out, ImportKeyID: importKey.ID}, nil
}

func patchKeySlots(blob []byte, offsets []transport.KeyOffset, keys CallerKeys) error {
	for _, off := range offsets {
		key := keys.keySlotValue(off.Type)
		if key == nil {
			continue
		}
		lengthBytes := off.Length / 8
		if lengthBytes != len(key) {
			return hsmerrors.InvalidArgument("provision: key length mismatch for slot " + off.Type)
		}
		if off.Offset < 0 || off.Offset+lengthBytes > len(blob) {
			return hsmerrors.InvalidArgument("provision: key slot out of range for " + off.Type)
		}
		copy(blob[off.Offset:off.Offset+lengthBytes], key)
	}
	return nil
}

func clearGenerateFlags(blob []byte, flagOffset int, keys CallerKeys) {
	idx := flagOffset + 1 // spec.md §4.I step 2: byte at flagoffset+8..+16 bits = the byte after flagoffset
	if idx < 0 || idx >= len(blob) {
		return
	}
	if keys.CommEnc != nil || keys.CommMac != nil {
		blob[idx] &^= flagCommKeyGenerate
	}
	if keys.App != nil {
		blob[idx] &^= flagAppKeyGenerate
	}
}

func chooseImportKey(keys []transport.ImportKey) (transport.ImportKey, error) {
	var best *transport.ImportKey
	for i := range keys {
		if strings.EqualFold(keys[i].Type, "rsa2048") {
			return keys[i], nil
		}
		if strings.EqualFold(keys[i].Type, "rsa1024") && best == nil {
			best = &keys[i]
		}
	}
	if best != nil {
		return *best, nil
	}
	return transport.ImportKey{}, hsmerrors.InvalidArgument("provision: no usable RSA import key offered")
}

// parseTLVPublicKey reads a space-separated or contiguous hex TLV stream
// for tag 0x81 (exponent) and 0x82 (modulus), skipping unknown tags
// (spec.md §4.I step 6). Lengths use the DER definite-length convention
// (short form under 0x80, long form 0x8N‖N big-endian length bytes above
// it) — required here because an RSA-2048 modulus is 256 bytes, which a
// single length byte cannot express; see DESIGN.md.
func parseTLVPublicKey(tlvHex string) (e, n *big.Int, err error) {
	raw, decodeErr := hex.DecodeString(strings.ReplaceAll(tlvHex, " ", ""))
	if decodeErr != nil {
		return nil, nil, hsmerrors.InvalidArgument("provision: import key is not valid TLV hex")
	}

	for len(raw) > 0 {
		if len(raw) < 2 {
			return nil, nil, hsmerrors.TLVCorrupt("provision: truncated import key TLV")
		}
		tag := raw[0]
		length, consumed, lerr := decodeDERLength(raw[1:])
		if lerr != nil {
			return nil, nil, lerr
		}
		raw = raw[1+consumed:]
		if len(raw) < length {
			return nil, nil, hsmerrors.TLVCorrupt("provision: truncated import key TLV value")
		}
		value := raw[:length]
		raw = raw[length:]

		switch tag {
		case tlvPublicKeyExponent:
			e = new(big.Int).SetBytes(value)
		case tlvPublicKeyModulus:
			n = new(big.Int).SetBytes(value)
		}
	}

	if e == nil || n == nil {
		return nil, nil, hsmerrors.TLVCorrupt("provision: import key TLV missing exponent or modulus")
	}
	return e, n, nil
}

// decodeDERLength reads a DER definite-length value from the front of buf,
// returning the decoded length and how many bytes it occupied.
func decodeDERLength(buf []byte) (length, consumed int, err error) {
	if len(buf) == 0 {
		return 0, 0, hsmerrors.TLVCorrupt("provision: truncated TLV length")
	}
	first := buf[0]
	if first < 0x80 {
		return int(first), 1, nil
	}
	n := int(first & 0x7F)
	if n == 0 || n > 4 || len(buf) < 1+n {
		return 0, 0, hsmerrors.TLVCorrupt("provision: invalid TLV long-form length")
	}
	length = 0
	for _, b := range buf[1 : 1+n] {
		length = length<<8 | int(b)
	}
	return length, 1 + n, nil
}

// encodeDERLength renders length in the DER definite-length convention:
// a single byte under 0x80, otherwise 0x8N followed by N big-endian bytes.
func encodeDERLength(length int) []byte {
	if length < 0x80 {
		return []byte{byte(length)}
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(length))
	i := 0
	for i < 3 && tmp[i] == 0 {
		i++
	}
	lenBytes := tmp[i:]
	out := make([]byte, 0, 1+len(lenBytes))
	out = append(out, 0x80|byte(len(lenBytes)))
	return append(out, lenBytes...)
}

// wrapTransportKeys forms wrapInput = objectid(4B) || TEK(32B) || TMK(32B),
// pads it PKCS#1 v1.5 type 2 to the modulus byte length, and raises it to
// e mod n (spec.md §4.I step 6).
func wrapTransportKeys(objectID uint32, tek, tmk []byte, e, n *big.Int) ([]byte, error) {
	wrapInput := make([]byte, 0, 4+len(tek)+len(tmk))
	var idBytes [4]byte
	binary.BigEndian.PutUint32(idBytes[:], objectID)
	wrapInput = append(wrapInput, idBytes[:]...)
	wrapInput = append(wrapInput, tek...)
	wrapInput = append(wrapInput, tmk...)

	modLen := (n.BitLen() + 7) / 8
	padded, err := padding.PKCS1Pad(wrapInput, modLen, padding.BlockType2)
	if err != nil {
		return nil, err
	}

	m := new(big.Int).SetBytes(padded)
	c := new(big.Int).Exp(m, e, n)

	wrapped := c.Bytes()
	if len(wrapped) < modLen {
		// big.Int.Bytes() drops leading zero bytes; restore the fixed width.
		padded := make([]byte, modLen)
		copy(padded[modLen-len(wrapped):], wrapped)
		wrapped = padded
	}
	return wrapped, nil
}

// appendTLV appends tag‖DER-length‖value to out. The final wrapped-keys
// record is at least 128 bytes (an RSA-1024 modulus) so its length always
// takes the long form; see decodeDERLength/encodeDERLength.
func appendTLV(out []byte, tag byte, value []byte) []byte {
	out = append(out, tag)
	out = append(out, encodeDERLength(len(value))...)
	return append(out, value...)
}
