// Package processdata implements the ProcessData wire envelope: request
// builder (component E) and response parser (component F) from spec.md §4.
package processdata

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/aescbc"
	"github.com/R3E-Network/hsmclient/internal/nonce"
)

// RequestType enumerates the UO operation types this envelope addresses.
type RequestType string

const (
	PlainAES        RequestType = "PLAINAES"
	PlainAESDecrypt RequestType = "PLAINAESDECRYPT"
	RSA1024         RequestType = "RSA1024"
	RSA2048         RequestType = "RSA2048"
)

const (
	requestFlag  byte = 0x1F
	responseFlag byte = 0xF1
)

const maxPlainDataLen = 0xFFFF

// BuildInput carries everything the builder needs to assemble a wire frame.
type BuildInput struct {
	UOID           uint32
	EncKey         []byte // 256-bit
	MacKey         []byte // 256-bit
	ReqType        RequestType
	PlainData      []byte // optional, sent unencrypted alongside the frame
	UserData       []byte // encrypted payload
	FreshnessNonce []byte // optional; generated via nonce.Generate if nil
}

// BuildOutput is the result of Build: the wire string plus the freshness
// nonce actually used, so callers can correlate the eventual response.
type BuildOutput struct {
	Wire           string
	FreshnessNonce []byte
}

// Build assembles flag||UOid||nonce||userData, pads, encrypts, MACs, and
// hex-serialises the ProcessData request frame (spec.md §3, §4.E).
func Build(in BuildInput) (*BuildOutput, error) {
	if len(in.EncKey) != 32 || len(in.MacKey) != 32 {
		return nil, hsmerrors.InvalidArgument("processdata: encKey/macKey must be 256 bits")
	}
	if len(in.PlainData) > maxPlainDataLen {
		return nil, hsmerrors.InvalidArgument("processdata: plainData exceeds 16-bit length field")
	}

	freshness := in.FreshnessNonce
	if freshness == nil {
		var err error
		freshness, err = nonce.Generate()
		if err != nil {
			return nil, err
		}
	}
	if len(freshness) != nonce.Size {
		return nil, hsmerrors.InvalidArgument("processdata: freshness nonce must be 8 bytes")
	}

	pdin := make([]byte, 0, 1+4+nonce.Size+len(in.UserData))
	pdin = append(pdin, requestFlag)
	pdin = appendUint32BE(pdin, in.UOID)
	pdin = append(pdin, freshness...)
	pdin = append(pdin, in.UserData...)

	ct, err := aescbc.EncryptPadded(in.EncKey, pdin)
	if err != nil {
		return nil, err
	}
	tag, err := aescbc.MAC(in.MacKey, ct)
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, 2+len(in.PlainData)+len(ct)+len(tag))
	body = append(body, byte(len(in.PlainData)>>8), byte(len(in.PlainData)))
	body = append(body, in.PlainData...)
	body = append(body, ct...)
	body = append(body, tag...)

	wire := fmt.Sprintf("Packet0_%s_%s", in.ReqType, hex.EncodeToString(body))
	return &BuildOutput{Wire: wire, FreshnessNonce: freshness}, nil
}

func appendUint32BE(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
