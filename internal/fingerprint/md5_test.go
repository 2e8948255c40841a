package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMD5Hex_KnownVector(t *testing.T) {
	require.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", MD5Hex(nil))
	require.Equal(t, "900150983cd24fb0d6963f7d28e17f72", MD5Hex([]byte("abc")))
}

func TestMD5Hex_IsLowercase(t *testing.T) {
	h := MD5Hex([]byte("The quick brown fox"))
	require.Equal(t, strings.ToLower(h), h)
}

func TestMD5HexReader_MatchesMD5Hex(t *testing.T) {
	data := "a moderately sized payload"
	fromReader, err := MD5HexReader(strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, MD5Hex([]byte(data)), fromReader)
}
