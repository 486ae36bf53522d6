package chainbackend

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

type fakeRPC struct {
	feeResult   *btcjson.EstimateSmartFeeResult
	broadcastErr error
}

func (f *fakeRPC) GetBlockChainInfo() (*btcjson.GetBlockChainInfoResult, error) {
	return &btcjson.GetBlockChainInfoResult{}, nil
}
func (f *fakeRPC) GetBestBlockHash() (*chainhash.Hash, error) {
	return &chainhash.Hash{}, nil
}
func (f *fakeRPC) GetBlockHeaderVerbose(hash *chainhash.Hash) (*btcjson.GetBlockHeaderVerboseResult, error) {
	return &btcjson.GetBlockHeaderVerboseResult{Height: 110}, nil
}
func (f *fakeRPC) GetBlockHeader(hash *chainhash.Hash) (*wire.BlockHeader, error) {
	return &wire.BlockHeader{}, nil
}
func (f *fakeRPC) GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	return &wire.MsgBlock{}, nil
}
func (f *fakeRPC) EstimateSmartFee(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error) {
	return f.feeResult, nil
}
func (f *fakeRPC) SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error) {
	if f.broadcastErr != nil {
		return nil, f.broadcastErr
	}
	h := tx.TxHash()
	return &h, nil
}

func newTestBackend(t *testing.T, fake *fakeRPC) *Backend {
	t.Helper()
	b, err := New(Config{Clock: clock.NewDefaultClock()}, func(Config) (rpcClient, error) {
		return fake, nil
	})
	require.NoError(t, err)
	return b
}

func TestFeeRateFloorClamp(t *testing.T) {
	rate := 0.0000001 // BTC/kvB, well below floor once converted
	fake := &fakeRPC{feeResult: &btcjson.EstimateSmartFeeResult{FeeRate: &rate}}
	b := newTestBackend(t, fake)

	b.pollFees()

	require.Equal(t, FloorFeeRate, b.FeeRate(Normal))
	require.Equal(t, FloorFeeRate, b.FeeRate(Background))
	require.Equal(t, FloorFeeRate, b.FeeRate(HighPriority))
}

func TestFeeRateConversion(t *testing.T) {
	rate := 0.00002 // BTC/kvB
	fake := &fakeRPC{feeResult: &btcjson.EstimateSmartFeeResult{FeeRate: &rate}}
	b := newTestBackend(t, fake)

	b.pollFees()

	// 0.00002 * 25_000_000 = 500 sat/kW, above the floor.
	require.Equal(t, SatPerKW(500), b.FeeRate(Normal))
}

func TestBroadcastSwallowsKnownErrors(t *testing.T) {
	for _, msg := range broadcastIgnoreSubstrs {
		fake := &fakeRPC{broadcastErr: errors.New(msg)}
		b := newTestBackend(t, fake)

		err := b.Broadcast(wire.NewMsgTx(wire.TxVersion))
		require.NoError(t, err, "expected %q to be swallowed", msg)
	}
}

func TestBroadcastPropagatesUnknownErrors(t *testing.T) {
	fake := &fakeRPC{broadcastErr: errors.New("totally unexpected node panic")}
	b := newTestBackend(t, fake)

	err := b.Broadcast(wire.NewMsgTx(wire.TxVersion))
	require.Error(t, err)
}

func TestGetBestBlock(t *testing.T) {
	fake := &fakeRPC{}
	b := newTestBackend(t, fake)

	_, height, err := b.GetBestBlock()
	require.NoError(t, err)
	require.EqualValues(t, 110, height)
}
