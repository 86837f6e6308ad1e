package bitarray

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromBytesRoundTrip(t *testing.T) {
	in := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	a := FromBytes(in)
	require.Equal(t, 40, a.BitLen)
	require.Equal(t, in, a.Bytes())
}

func TestConcatByteAligned(t *testing.T) {
	a := FromBytes([]byte{0x01, 0x02})
	b := FromBytes([]byte{0x03, 0x04})
	c := Concat(a, b)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, c.Bytes())
	require.Equal(t, 32, c.BitLen)
}

func TestExtract32(t *testing.T) {
	a := FromBytes([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	require.Equal(t, uint32(0xAABBCCDD), a.Extract32(0))
}

func TestExtractSubByte(t *testing.T) {
	// 0b1011_0101 -> extract top 4 bits = 0b1011 = 0xB
	a := FromBytes([]byte{0xB5})
	require.Equal(t, uint32(0xB), a.Extract(0, 4))
	require.Equal(t, uint32(0x5), a.Extract(4, 4))
}

func TestSlice(t *testing.T) {
	a := FromBytes([]byte{0xFF, 0x00})
	s := a.Slice(4, 12)
	require.Equal(t, 8, s.BitLen)
	require.Equal(t, uint32(0xF0), s.Extract(0, 8))
}

func TestEqualConstantTime(t *testing.T) {
	a := FromBytes([]byte{1, 2, 3})
	b := FromBytes([]byte{1, 2, 3})
	c := FromBytes([]byte{1, 2, 4})
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
	require.False(t, Equal(a, FromBytes([]byte{1, 2})))
}
