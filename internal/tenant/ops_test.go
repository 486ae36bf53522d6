package tenant

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyMessageRoundTrip(t *testing.T) {
	var seed [32]byte
	seed[0] = 0x09
	keys, err := newKeysManager(seed[:], [32]byte{})
	require.NoError(t, err)

	n := &Node{keys: keys}
	msg := []byte("lnhostd integration check")

	sig, err := n.SignMessage(msg)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	var pubkey [33]byte
	copy(pubkey[:], keys.nodeSecret.PubKey().SerializeCompressed())

	ok, err := n.VerifyMessage(msg, sig, pubkey)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyMessageRejectsWrongSigner(t *testing.T) {
	var seedA, seedB [32]byte
	seedA[0] = 0x01
	seedB[0] = 0x02

	keysA, err := newKeysManager(seedA[:], [32]byte{})
	require.NoError(t, err)
	keysB, err := newKeysManager(seedB[:], [32]byte{})
	require.NoError(t, err)

	n := &Node{keys: keysA}
	msg := []byte("hello")
	sig, err := n.SignMessage(msg)
	require.NoError(t, err)

	var wrongPubkey [33]byte
	copy(wrongPubkey[:], keysB.nodeSecret.PubKey().SerializeCompressed())

	ok, err := n.VerifyMessage(msg, sig, wrongPubkey)
	require.NoError(t, err)
	require.False(t, ok)
}
