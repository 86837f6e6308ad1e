package nonce

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateLength(t *testing.T) {
	n, err := Generate()
	require.NoError(t, err)
	require.Len(t, n, Size)
}

func TestHexRoundTrip(t *testing.T) {
	n, err := Generate()
	require.NoError(t, err)
	require.Equal(t, n, mustDecode(t, EncodeHex(n)))
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := DecodeHex(s)
	require.NoError(t, err)
	return b
}

func TestMangleDemangleRoundTripAllLengths(t *testing.T) {
	for k := 1; k <= 16; k++ {
		n := make([]byte, k)
		for i := range n {
			n[i] = byte(i*17 + 3)
		}
		require.Equal(t, n, Demangle(Mangle(n)))
	}
}

func TestDemanglePartialWordExample(t *testing.T) {
	// From spec.md §8: input [0x01010101, 0x01010100] with bl=56 ->
	// output [0x00000000, 0x00000000 (partial 24b)].
	input := []byte{0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01}
	out := Demangle(input)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, out)
}

func TestHandleParseFormatRoundTrip(t *testing.T) {
	h := Handle{APIKey: "abc_123-XYZ", UOID: 0xEE01, UOType: 0x00100000}
	s := h.String()
	parsed, err := ParseHandle(s)
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestHandleParseDefaultsTypeToZero(t *testing.T) {
	parsed, err := ParseHandle("mykey000000abcd")
	require.NoError(t, err)
	require.Equal(t, uint32(0), parsed.UOType)
	require.Equal(t, uint32(0x0000abcd), parsed.UOID)
}

func TestHandleParseRejectsMalformed(t *testing.T) {
	_, err := ParseHandle("not-a-handle")
	require.Error(t, err)
}

func TestHandleFlags(t *testing.T) {
	h := Handle{UOType: CommKeyFlag | AppKeyFlag}
	require.True(t, h.HasCommKey())
	require.True(t, h.HasAppKey())

	h2 := Handle{UOType: 0}
	require.False(t, h2.HasCommKey())
	require.False(t, h2.HasAppKey())
}
