package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasScope(t *testing.T) {
	require.True(t, HasScope("*", "nodes/create"))
	require.True(t, HasScope("nodes/create,nodes/delete", "nodes/delete"))
	require.False(t, HasScope("nodes/create", "nodes/delete"))
	require.False(t, HasScope("", "nodes/delete"))
}

func TestExtractCredentialPrefersHeader(t *testing.T) {
	raw, err := ExtractCredential("deadbeef", "aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, raw)
}

func TestExtractCredentialFallsBackToCookie(t *testing.T) {
	raw, err := ExtractCredential("", "aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), raw)
}

func TestExtractCredentialRejectsEmpty(t *testing.T) {
	_, err := ExtractCredential("", "")
	require.Error(t, err)
}
