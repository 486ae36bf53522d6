package broadcaster

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/lnhostd/lnhost/internal/events"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	broadcastCount int
	lastTx         *wire.MsgTx
	err            error
}

func (f *fakeChain) Broadcast(tx *wire.MsgTx) error {
	f.broadcastCount++
	f.lastTx = tx
	return f.err
}

type fakeWallet struct {
	applied int
}

func (f *fakeWallet) ApplyUnconfirmedTransaction(tx *wire.MsgTx) error {
	f.applied++
	return nil
}

func sampleTx() *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	return tx
}

func TestBroadcastWithoutDebounceIsImmediate(t *testing.T) {
	chain := &fakeChain{}
	wallet := &fakeWallet{}
	bus := events.New()
	b := New("tenant1", chain, wallet, bus)

	require.NoError(t, b.Broadcast(sampleTx()))
	require.Equal(t, 1, chain.broadcastCount)
	require.Equal(t, 1, wallet.applied)
}

func TestDebounceCollapsesMultipleCallsToOneBroadcast(t *testing.T) {
	chain := &fakeChain{}
	wallet := &fakeWallet{}
	bus := events.New()
	b := New("tenant1", chain, wallet, bus)

	tx := sampleTx()
	txid := tx.TxHash()
	b.SetDebounce(txid, 3)

	require.NoError(t, b.Broadcast(tx))
	require.Equal(t, 0, chain.broadcastCount)
	require.NoError(t, b.Broadcast(tx))
	require.Equal(t, 0, chain.broadcastCount)
	require.NoError(t, b.Broadcast(tx))
	require.Equal(t, 1, chain.broadcastCount)
}

func TestBroadcastPublishesTransactionBroadcastEvent(t *testing.T) {
	chain := &fakeChain{}
	wallet := &fakeWallet{}
	bus := events.New()
	b := New("tenant1", chain, wallet, bus)

	ch, cancel := bus.Subscribe()
	defer cancel()

	require.NoError(t, b.Broadcast(sampleTx()))

	select {
	case ev := <-ch:
		require.Equal(t, events.KindTransactionBroadcast, ev.Kind)
		require.Equal(t, "tenant1", ev.TenantID)
	default:
		t.Fatal("expected a TransactionBroadcast event")
	}
}
