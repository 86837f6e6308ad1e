package provision

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"testing"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/aescbc"
	"github.com/R3E-Network/hsmclient/internal/padding"
	"github.com/R3E-Network/hsmclient/transport"
	"github.com/stretchr/testify/require"
)

// testRSAKey builds a small (128-byte modulus, like a real RSA-1024 key)
// RSA keypair purely with math/big, so Fill's raw
// modular-exponentiation wrap step can be exercised and unwrapped in a
// test without crypto/rsa.
type testRSAKey struct {
	e, n, d *big.Int
}

func newTestRSAKey(t *testing.T) testRSAKey {
	t.Helper()
	p := mustPrime(t, 512)
	q := mustPrime(t, 512)
	n := new(big.Int).Mul(p, q)
	one := big.NewInt(1)
	phi := new(big.Int).Mul(new(big.Int).Sub(p, one), new(big.Int).Sub(q, one))
	e := big.NewInt(65537)
	d := new(big.Int).ModInverse(e, phi)
	require.NotNil(t, d)
	return testRSAKey{e: e, n: n, d: d}
}

func mustPrime(t *testing.T, bits int) *big.Int {
	t.Helper()
	p, err := rand.Prime(rand.Reader, bits)
	require.NoError(t, err)
	return p
}

// tlvPublicKeyHex renders e/n as the 0x81/0x82 DER-length TLV hex string
// the HSM's GetImportPublicKey endpoint would return.
func tlvPublicKeyHex(k testRSAKey) string {
	out := appendTLV(nil, tlvPublicKeyExponent, k.e.Bytes())
	out = appendTLV(out, tlvPublicKeyModulus, k.n.Bytes())
	return hex.EncodeToString(out)
}

// rsaDecrypt reverses wrapTransportKeys's c = m^e mod n step with the
// matching private exponent, then strips the PKCS#1 v1.5 type-2 padding.
func rsaDecrypt(k testRSAKey, wrapped []byte) ([]byte, error) {
	c := new(big.Int).SetBytes(wrapped)
	m := new(big.Int).Exp(c, k.d, k.n)
	modLen := (k.n.BitLen() + 7) / 8
	block := m.Bytes()
	if len(block) < modLen {
		padded := make([]byte, modLen)
		copy(padded[modLen-len(block):], block)
		block = padded
	}
	return padding.PKCS1Unpad(block, padding.BlockType2)
}

func buildTemplate(t *testing.T, importKeyHex string) *transport.Template {
	t.Helper()
	blob := make([]byte, 64)
	for i := range blob {
		blob[i] = 0xCC
	}
	// flagoffset points at byte 8; the "next" byte (index 9) carries the
	// generate-flag bits this test expects cleared.
	blob[9] = flagCommKeyGenerate | flagAppKeyGenerate

	return &transport.Template{
		Blob:             hex.EncodeToString(blob),
		EncryptionOffset: 32,
		FlagOffset:       8,
		KeyOffsets: []transport.KeyOffset{
			{Type: "commenc", Offset: 0, Length: 256},
		},
		ImportKeys: []transport.ImportKey{
			{ID: 7, Type: "rsa2048", PublicKey: importKeyHex},
		},
		ObjectID:      "00000001",
		Authorization: "authblob",
	}
}

func TestFillProducesWrappedAndInnerBlocks(t *testing.T) {
	key := newTestRSAKey(t)
	tpl := buildTemplate(t, tlvPublicKeyHex(key))
	commEnc := make([]byte, 32)
	for i := range commEnc {
		commEnc[i] = byte(i)
	}

	result, err := Fill(tpl, CallerKeys{CommEnc: commEnc}, 1)
	require.NoError(t, err)
	require.Equal(t, 7, result.ImportKeyID)

	// The wrapped-keys record's tag is 0xA1 and its DER length is always
	// long-form here (the wrap input is modLen bytes, >= 128).
	require.Equal(t, tagWrappedKeys, result.Blob[0])
	require.True(t, result.Blob[1]&0x80 != 0) // long-form DER length, as expected for a >=128-byte RSA block

	wrappedLen, consumed, err := decodeDERLength(result.Blob[1:])
	require.NoError(t, err)
	wrappedStart := 1 + consumed
	wrapped := result.Blob[wrappedStart : wrappedStart+wrappedLen]

	rest := result.Blob[wrappedStart+wrappedLen:]
	require.Equal(t, tagInnerBlob, rest[0])
	innerLen, innerConsumed, err := decodeDERLength(rest[1:])
	require.NoError(t, err)
	inner := rest[1+innerConsumed : 1+innerConsumed+innerLen]
	require.Equal(t, len(rest), 1+innerConsumed+innerLen)

	// Recover objectID || TEK || TMK from the RSA-wrapped block.
	plain, err := rsaDecrypt(key, wrapped)
	require.NoError(t, err)
	require.Len(t, plain, 4+tekSize+tmkSize)
	require.Equal(t, uint32(1), binary.BigEndian.Uint32(plain[:4]))
	tek := plain[4 : 4+tekSize]
	tmk := plain[4+tekSize : 4+tekSize+tmkSize]

	// Split inner into MACed body + 16-byte tag, verify the MAC under TMK.
	require.True(t, len(inner) > aescbc.TagSize)
	body := inner[:len(inner)-aescbc.TagSize]
	tag := inner[len(inner)-aescbc.TagSize:]
	ok, err := aescbc.VerifyMAC(tmk, body, tag)
	require.NoError(t, err)
	require.True(t, ok)

	plainBody, err := padding.PKCS7Unpad(body)
	require.NoError(t, err)

	// plainBody = plaintext prefix (first encryptionoffset bytes, patched)
	// || AES-CBC(TEK, suffix).
	// The flag byte (index 9) lies inside the key slot, and Fill clears its
	// comm-key generate bit after patching the key in.
	prefix := plainBody[:32]
	wantPrefix := append([]byte{}, commEnc...)
	wantPrefix[9] &^= flagCommKeyGenerate
	require.Equal(t, wantPrefix, prefix[:32])

	suffixCT := plainBody[32:]
	suffixPlain, err := aescbc.DecryptUnpadded(tek, suffixCT)
	require.NoError(t, err)
	require.Len(t, suffixPlain, 32)
	for _, b := range suffixPlain {
		require.Equal(t, byte(0xCC), b)
	}
}

func TestFillClearsGenerateFlags(t *testing.T) {
	key := newTestRSAKey(t)
	tpl := buildTemplate(t, tlvPublicKeyHex(key))
	commEnc := make([]byte, 32)

	blobBefore, err := hex.DecodeString(tpl.Blob)
	require.NoError(t, err)
	require.NotZero(t, blobBefore[9]&flagCommKeyGenerate)
	require.NotZero(t, blobBefore[9]&flagAppKeyGenerate)

	_, err = Fill(tpl, CallerKeys{CommEnc: commEnc}, 1)
	require.NoError(t, err)

	// Fill decodes tpl.Blob into its own copy, so tpl itself is untouched;
	// exercise clearGenerateFlags directly against a fresh copy instead.
	cleared := append([]byte{}, blobBefore...)
	clearGenerateFlags(cleared, tpl.FlagOffset, CallerKeys{CommEnc: commEnc})
	require.Zero(t, cleared[9]&flagCommKeyGenerate)
	require.NotZero(t, cleared[9]&flagAppKeyGenerate)

	clearGenerateFlags(cleared, tpl.FlagOffset, CallerKeys{App: []byte{0x01}})
	require.Zero(t, cleared[9]&flagAppKeyGenerate)
}

func TestFillRejectsKeyLengthMismatch(t *testing.T) {
	key := newTestRSAKey(t)
	tpl := buildTemplate(t, tlvPublicKeyHex(key))

	_, err := Fill(tpl, CallerKeys{CommEnc: []byte{0x01, 0x02}}, 1)
	require.Error(t, err)
	require.True(t, hsmerrors.Is(err, hsmerrors.Invalid))
}

func TestFillRejectsKeySlotOutOfRange(t *testing.T) {
	key := newTestRSAKey(t)
	tpl := buildTemplate(t, tlvPublicKeyHex(key))
	tpl.KeyOffsets[0].Offset = 1000

	_, err := Fill(tpl, CallerKeys{CommEnc: make([]byte, 32)}, 1)
	require.Error(t, err)
}

func TestChooseImportKeyPrefersRSA2048(t *testing.T) {
	keys := []transport.ImportKey{
		{ID: 1, Type: "rsa1024"},
		{ID: 2, Type: "rsa2048"},
	}
	chosen, err := chooseImportKey(keys)
	require.NoError(t, err)
	require.Equal(t, 2, chosen.ID)
}

func TestChooseImportKeyFallsBackToRSA1024(t *testing.T) {
	keys := []transport.ImportKey{{ID: 1, Type: "rsa1024"}}
	chosen, err := chooseImportKey(keys)
	require.NoError(t, err)
	require.Equal(t, 1, chosen.ID)
}

func TestChooseImportKeyErrorsWhenNoneUsable(t *testing.T) {
	_, err := chooseImportKey([]transport.ImportKey{{ID: 1, Type: "ecdsa"}})
	require.Error(t, err)
}

func TestParseTLVPublicKeyRoundTrip(t *testing.T) {
	key := newTestRSAKey(t)
	e, n, err := parseTLVPublicKey(tlvPublicKeyHex(key))
	require.NoError(t, err)
	require.Equal(t, key.e, e)
	require.Equal(t, key.n, n)
}

func TestParseTLVPublicKeyAcceptsSpaces(t *testing.T) {
	key := newTestRSAKey(t)
	raw := tlvPublicKeyHex(key)
	spaced := ""
	for i, c := range raw {
		if i > 0 && i%2 == 0 {
			spaced += " "
		}
		spaced += string(c)
	}
	e, n, err := parseTLVPublicKey(spaced)
	require.NoError(t, err)
	require.Equal(t, key.e, e)
	require.Equal(t, key.n, n)
}

func TestParseTLVPublicKeyRejectsMissingModulus(t *testing.T) {
	out := appendTLV(nil, tlvPublicKeyExponent, []byte{0x01, 0x00, 0x01})
	_, _, err := parseTLVPublicKey(hex.EncodeToString(out))
	require.Error(t, err)
}

func TestDERLengthRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 255, 256, 65535, 65536} {
		encoded := encodeDERLength(n)
		decoded, consumed, err := decodeDERLength(encoded)
		require.NoError(t, err)
		require.Equal(t, n, decoded)
		require.Equal(t, len(encoded), consumed)
	}
}

func TestDERLengthShortFormUnderThreshold(t *testing.T) {
	encoded := encodeDERLength(100)
	require.Len(t, encoded, 1)
	require.Equal(t, byte(100), encoded[0])
}

func TestDERLengthLongFormAtThreshold(t *testing.T) {
	encoded := encodeDERLength(256)
	require.True(t, encoded[0]&0x80 != 0)
	require.Equal(t, byte(0x82), encoded[0])
	require.Equal(t, []byte{0x01, 0x00}, encoded[1:])
}
