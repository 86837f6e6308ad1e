package processdata

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/aescbc"
	"github.com/R3E-Network/hsmclient/internal/nonce"
	"github.com/stretchr/testify/require"
)

func zeroKey() []byte { return make([]byte, 32) }

// mirrorResponse builds the JSON envelope a loopback HSM would produce for
// a given request wire string: swap the request flag for the response
// flag and mangle the nonce, matching spec.md §8 property 1.
func mirrorResponse(t *testing.T, wire string, encKey, macKey []byte) []byte {
	t.Helper()

	_, hexBody, found := strings.Cut(wire, "Packet0_")
	require.True(t, found)
	_, hexBody, found = strings.Cut(hexBody, "_")
	require.True(t, found)

	body, err := hex.DecodeString(hexBody)
	require.NoError(t, err)

	plainLen := int(binary.BigEndian.Uint16(body[:2]))
	rest := body[2:]
	plainData := rest[:plainLen]
	ctAndTag := rest[plainLen:]
	ct := ctAndTag[:len(ctAndTag)-16]

	dec, err := aescbc.DecryptPadded(encKey, ct)
	require.NoError(t, err)

	// dec = 0x1F || UOid(4) || freshnessNonce(8) || userData
	respDec := append([]byte{}, dec...)
	respDec[0] = responseFlag
	mangled := nonce.Mangle(respDec[5 : 5+nonce.Size])
	copy(respDec[5:5+nonce.Size], mangled)

	respCT, err := aescbc.EncryptPadded(encKey, respDec)
	require.NoError(t, err)
	respTag, err := aescbc.MAC(macKey, respCT)
	require.NoError(t, err)

	respBody := make([]byte, 0, 2+len(plainData)+len(respCT)+len(respTag))
	respBody = append(respBody, byte(len(plainData)>>8), byte(len(plainData)))
	respBody = append(respBody, plainData...)
	respBody = append(respBody, respCT...)
	respBody = append(respBody, respTag...)

	result := fmt.Sprintf("%s_PLAINAES_mirror", hex.EncodeToString(respBody))
	env := map[string]string{
		"status":       "9000",
		"statusdetail": "(OK)SW_STAT_OK",
		"function":     "ProcessData",
		"result":       result,
		"version":      "1.0",
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func TestRoundTripProperty(t *testing.T) {
	encKey := make([]byte, 32)
	macKey := make([]byte, 32)
	for i := range encKey {
		encKey[i] = byte(i)
		macKey[i] = byte(255 - i)
	}

	out, err := Build(BuildInput{
		UOID:     0x12345678,
		EncKey:   encKey,
		MacKey:   macKey,
		ReqType:  PlainAES,
		UserData: []byte("hello, hsm"),
	})
	require.NoError(t, err)

	respJSON := mirrorResponse(t, out.Wire, encKey, macKey)
	resp, err := Parse(respJSON, encKey, macKey)
	require.NoError(t, err)
	require.Equal(t, []byte("hello, hsm"), resp.ProtectedData)
	require.Equal(t, out.FreshnessNonce, resp.RespNonce)
	require.Equal(t, uint32(0x12345678), resp.EchoedUOID)
}

func TestConcreteBuildScenario(t *testing.T) {
	encKey := zeroKey()
	macKey := zeroKey()
	freshness, err := hex.DecodeString("aaaabbbbccccdddd")
	require.NoError(t, err)
	userData, err := hex.DecodeString("1122334455")
	require.NoError(t, err)

	out, err := Build(BuildInput{
		UOID:           0xEE01,
		EncKey:         encKey,
		MacKey:         macKey,
		ReqType:        PlainAES,
		UserData:       userData,
		FreshnessNonce: freshness,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out.Wire, "Packet0_PLAINAES_0000"))

	// Decrypt-and-verify the hex body ourselves to confirm the plaintext frame.
	_, hexBody, _ := strings.Cut(out.Wire, "Packet0_PLAINAES_")
	body, err := hex.DecodeString(hexBody)
	require.NoError(t, err)
	ctAndTag := body[2:]
	ct := ctAndTag[:len(ctAndTag)-16]
	tag := ctAndTag[len(ctAndTag)-16:]

	ok, err := aescbc.VerifyMAC(macKey, ct, tag)
	require.NoError(t, err)
	require.True(t, ok)

	dec, err := aescbc.DecryptPadded(encKey, ct)
	require.NoError(t, err)
	require.Equal(t, byte(0x1F), dec[0])
	require.Equal(t, uint32(0x000000EE01), binary.BigEndian.Uint32(dec[1:5]))
	require.Equal(t, freshness, dec[5:13])
	require.Equal(t, userData, dec[13:])
}

func TestParseOKEmptyProtectedData(t *testing.T) {
	encKey := zeroKey()
	macKey := zeroKey()
	out, err := Build(BuildInput{UOID: 1, EncKey: encKey, MacKey: macKey, ReqType: PlainAES})
	require.NoError(t, err)

	respJSON := mirrorResponse(t, out.Wire, encKey, macKey)
	resp, err := Parse(respJSON, encKey, macKey)
	require.NoError(t, err)
	require.Empty(t, resp.ProtectedData)
	require.Equal(t, StatusOK, resp.StatusCode)
}

func TestParseFailsOnMacBitFlip(t *testing.T) {
	encKey := zeroKey()
	macKey := zeroKey()
	out, err := Build(BuildInput{UOID: 1, EncKey: encKey, MacKey: macKey, ReqType: PlainAES, UserData: []byte("x")})
	require.NoError(t, err)

	respJSON := mirrorResponse(t, out.Wire, encKey, macKey)
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(respJSON, &env))
	result := env["result"].(string)
	hexPart, rest, _ := strings.Cut(result, "_")
	// Flip the last nibble of the tag (last hex char).
	flipped := hexPart[:len(hexPart)-1] + flipNibble(hexPart[len(hexPart)-1])
	env["result"] = flipped + "_" + rest
	corrupted, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = Parse(corrupted, encKey, macKey)
	require.Error(t, err)
	require.True(t, hsmerrors.Is(err, hsmerrors.Corrupt))
}

func flipNibble(c byte) string {
	if c == '0' {
		return "1"
	}
	return "0"
}

func TestParseNonOKStatus(t *testing.T) {
	env := map[string]string{
		"status":       "8068",
		"statusdetail": "invalid api key",
		"function":     "ProcessData",
		"result":       "",
		"version":      "1.0",
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = Parse(b, zeroKey(), zeroKey())
	require.Error(t, err)
	require.True(t, hsmerrors.Is(err, hsmerrors.ResponseFailed))
}

func TestBuildRejectsOversizedPlainData(t *testing.T) {
	_, err := Build(BuildInput{
		UOID:      1,
		EncKey:    zeroKey(),
		MacKey:    zeroKey(),
		ReqType:   PlainAES,
		PlainData: make([]byte, 0x10000),
	})
	require.Error(t, err)
	require.True(t, hsmerrors.Is(err, hsmerrors.Invalid))
}

func TestBuildRejectsBadKeyLength(t *testing.T) {
	_, err := Build(BuildInput{UOID: 1, EncKey: make([]byte, 16), MacKey: zeroKey(), ReqType: PlainAES})
	require.Error(t, err)
}
