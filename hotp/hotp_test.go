package hotp

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateCodeRFC4226Vector(t *testing.T) {
	key, err := hex.DecodeString("3132333435363738393031323334353637383930")
	require.NoError(t, err)

	code, err := GenerateCode(key, 1, 6)
	require.NoError(t, err)
	require.Equal(t, "287082", code)
}

func TestGenerateCodeFullRFC4226Table(t *testing.T) {
	key, err := hex.DecodeString("3132333435363738393031323334353637383930")
	require.NoError(t, err)

	want := []string{"755224", "287082", "359152", "969429", "338314", "254676", "287922", "162583", "399871", "520489"}
	for counter, expected := range want {
		code, err := GenerateCode(key, uint64(counter), 6)
		require.NoError(t, err)
		require.Equal(t, expected, code, "counter %d", counter)
	}
}

func TestVerifyCode(t *testing.T) {
	key, _ := hex.DecodeString("3132333435363738393031323334353637383930")
	ok, err := VerifyCode(key, 1, 6, "287082")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyCode(key, 2, 6, "287082")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGenerateCodeRejectsEmptyKey(t *testing.T) {
	_, err := GenerateCode(nil, 1, 6)
	require.Error(t, err)
}
