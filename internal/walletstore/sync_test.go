package walletstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncStateEncodeDecodeRoundTrip(t *testing.T) {
	s := syncState{
		Height:    812345,
		BlockHash: "00000000000000000002abc1234567890abcdef1234567890abcdef12345678",
		Time:      1700000000,
	}

	decoded, err := decodeSyncState(s.encode())
	require.NoError(t, err)
	require.Equal(t, s, decoded)
}

func TestDecodeSyncStateRejectsMalformed(t *testing.T) {
	_, err := decodeSyncState([]byte("not-a-valid-state"))
	require.Error(t, err)
}
