package tenant

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPhantomKeyIsOrderIndependent(t *testing.T) {
	var secret [32]byte
	secret[0] = 0x42

	a, err := phantomKey([]string{"pubkeyA", "pubkeyB", "pubkeyC"}, secret)
	require.NoError(t, err)
	b, err := phantomKey([]string{"pubkeyC", "pubkeyA", "pubkeyB"}, secret)
	require.NoError(t, err)

	require.Equal(t, a.Serialize(), b.Serialize())
}

func TestPhantomKeyDiffersByGroup(t *testing.T) {
	var secret [32]byte
	secret[0] = 0x42

	a, err := phantomKey([]string{"pubkeyA", "pubkeyB"}, secret)
	require.NoError(t, err)
	b, err := phantomKey([]string{"pubkeyA", "pubkeyC"}, secret)
	require.NoError(t, err)

	require.NotEqual(t, a.Serialize(), b.Serialize())
}

func TestGetPhantomInvoiceRejectsEmptyGroup(t *testing.T) {
	n := &Node{}
	_, _, err := n.GetPhantomInvoice(PhantomGroup{}, 1000, "memo", 3600)
	require.Error(t, err)
}
