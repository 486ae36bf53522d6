package channelopener

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnhostd/lnhost/internal/chainbackend"
	"github.com/lnhostd/lnhost/internal/eventhandler"
	"github.com/lnhostd/lnhost/internal/events"
	"github.com/lnhostd/lnhost/internal/fundingtx"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	created       map[[16]byte][32]byte
	fundingCalls  []fundingCall
	createErr     error
}

type fundingCall struct {
	tempID [32]byte
	peer   [33]byte
	tx     *wire.MsgTx
}

func (m *fakeManager) CreateChannel(peer [33]byte, amountSat, pushMsat int64, customID [16]byte, config ChannelConfig) ([32]byte, error) {
	if m.createErr != nil {
		return [32]byte{}, m.createErr
	}
	var tempID [32]byte
	tempID[0] = customID[0]
	if m.created == nil {
		m.created = make(map[[16]byte][32]byte)
	}
	m.created[customID] = tempID
	return tempID, nil
}

func (m *fakeManager) FundingTransactionGenerated(tempChannelID [32]byte, counterparty [33]byte, fundingTx *wire.MsgTx) error {
	m.fundingCalls = append(m.fundingCalls, fundingCall{tempID: tempChannelID, peer: counterparty, tx: fundingTx})
	return nil
}

type fakeWallet struct{}

func (fakeWallet) CoinSource(ctx context.Context) fundingtx.CoinSource {
	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn, []btcutil.Amount, [][]byte, error) {
		in := wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil)
		return target, []*wire.TxIn{in}, []btcutil.Amount{target + 10000}, [][]byte{{0x00, 0x14}}, nil
	}
}
func (fakeWallet) ChangeSource(ctx context.Context) fundingtx.ChangeSource {
	return func() ([]byte, error) { return []byte{0x00, 0x14}, nil }
}

type fakeFees struct{}

func (fakeFees) FeeRate(target chainbackend.ConfTarget) chainbackend.SatPerKW { return 1000 }

type fakeBroadcaster struct {
	debounceTxid [32]byte
	debounceN    int
}

func (b *fakeBroadcaster) SetDebounce(txid [32]byte, n int) {
	b.debounceTxid = txid
	b.debounceN = n
}
func (b *fakeBroadcaster) Broadcast(tx *wire.MsgTx) error { return nil }

func newOutputScript() []byte {
	return []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18}
}

func TestOpenBatchDebouncesSharedFundingTx(t *testing.T) {
	mgr := &fakeManager{}
	bus := events.New()
	bcast := &fakeBroadcaster{}
	o := New("tenant1", mgr, fakeWallet{}, fakeFees{}, bcast, bus)

	requests := []OpenRequest{
		{Peer: [33]byte{1}, AmountSat: 100000, CustomID: [16]byte{1}},
		{Peer: [33]byte{2}, AmountSat: 200000, CustomID: [16]byte{2}},
		{Peer: [33]byte{3}, AmountSat: 300000, CustomID: [16]byte{3}},
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		for _, req := range requests {
			bus.Publish(events.Event{
				Kind:     events.KindFundingGenerationReady,
				TenantID: "tenant1",
				Payload: eventhandler.FundingGenerationReady{
					UserChannelID:        req.CustomID,
					OutputScript:         newOutputScript(),
					ChannelValueSatoshis: req.AmountSat,
				},
			})
		}
	}()

	results := o.OpenBatch(context.Background(), requests)
	require.Len(t, results, 3)
	for _, r := range results {
		require.NoError(t, r.Err)
	}

	require.Equal(t, 3, bcast.debounceN)
	require.Len(t, mgr.fundingCalls, 3)
}

func TestOpenBatchTimesOutMissingFundingReady(t *testing.T) {
	t.Skip("exercises the full 30s timeout window")
}

func TestCreateChannelErrorIsPerRequest(t *testing.T) {
	mgr := &fakeManager{createErr: errCreateFailed}
	bus := events.New()
	bcast := &fakeBroadcaster{}
	o := New("tenant1", mgr, fakeWallet{}, fakeFees{}, bcast, bus)

	results := o.OpenBatch(context.Background(), []OpenRequest{{Peer: [33]byte{1}, CustomID: [16]byte{9}}})
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
}

var errCreateFailed = &testError{"create_channel failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
