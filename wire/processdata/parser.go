package processdata

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/aescbc"
	"github.com/R3E-Network/hsmclient/internal/nonce"
)

// StatusOK is the HSM's success status code.
const StatusOK uint32 = 0x9000

// envelope is the raw JSON shape the HSM service returns.
type envelope struct {
	Status       string `json:"status"`
	StatusDetail string `json:"statusdetail"`
	Function     string `json:"function"`
	Result       string `json:"result"`
	Version      string `json:"version"`
}

// Response is the fully parsed, verified, decrypted ProcessData reply.
type Response struct {
	StatusCode    uint32
	StatusDetail  string
	PlainData     []byte
	EchoedUOID    uint32
	RespNonce     []byte
	ProtectedData []byte
}

// Parse validates and decrypts a ProcessData JSON response body under the
// given transport keys, in the order spec.md §4.F and the Open Question in
// §9 require: JSON/status check, MAC verification, then decrypt.
func Parse(jsonBody []byte, encKey, macKey []byte) (*Response, error) {
	if len(encKey) != 32 || len(macKey) != 32 {
		return nil, hsmerrors.InvalidArgument("processdata: encKey/macKey must be 256 bits")
	}

	var env envelope
	if err := json.Unmarshal(jsonBody, &env); err != nil {
		return nil, hsmerrors.ParseFailure(err)
	}

	statusCode, err := parseHexStatus(env.Status)
	if err != nil {
		return nil, hsmerrors.ParseFailure(err)
	}
	if statusCode != StatusOK {
		return nil, hsmerrors.HSMResponseFailed(statusCode, env.StatusDetail)
	}

	head, _, found := strings.Cut(env.Result, "_")
	if !found {
		head = env.Result
	}

	body, err := hex.DecodeString(head)
	if err != nil {
		return nil, hsmerrors.ParseFailure(err)
	}

	if len(body) < 2 {
		return nil, hsmerrors.TLVCorrupt("processdata: response body truncated")
	}
	plainLen := int(binary.BigEndian.Uint16(body[:2]))
	rest := body[2:]
	if len(rest) < plainLen+aescbc.TagSize {
		return nil, hsmerrors.TLVCorrupt("processdata: response body truncated")
	}
	plainData := rest[:plainLen]
	ctAndTag := rest[plainLen:]
	if len(ctAndTag) < aescbc.TagSize {
		return nil, hsmerrors.TLVCorrupt("processdata: response missing MAC tag")
	}
	ct := ctAndTag[:len(ctAndTag)-aescbc.TagSize]
	tag := ctAndTag[len(ctAndTag)-aescbc.TagSize:]

	ok, err := aescbc.VerifyMAC(macKey, ct, tag)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, hsmerrors.MacMismatch()
	}

	dec, err := aescbc.DecryptPadded(encKey, ct)
	if err != nil {
		return nil, err
	}

	if len(dec) < 1+4+nonce.Size {
		return nil, hsmerrors.TLVCorrupt("processdata: decrypted frame too short")
	}
	if dec[0] != responseFlag {
		return nil, hsmerrors.ResponseFlagMismatch()
	}

	echoedUOID := binary.BigEndian.Uint32(dec[1:5])
	mangledNonce := dec[5 : 5+nonce.Size]
	respNonce := nonce.Demangle(mangledNonce)
	protectedData := dec[5+nonce.Size:]

	return &Response{
		StatusCode:    statusCode,
		StatusDetail:  env.StatusDetail,
		PlainData:     plainData,
		EchoedUOID:    echoedUOID,
		RespNonce:     respNonce,
		ProtectedData: protectedData,
	}, nil
}

func parseHexStatus(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
