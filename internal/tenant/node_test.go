package tenant

import (
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lnhostd/lnhost/internal/chainlistener"
	"github.com/lnhostd/lnhost/internal/channelopener"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/stretchr/testify/require"
)

func TestChannelFundingOutpoint(t *testing.T) {
	var txid chainhash.Hash
	txid[0] = 0xAB
	blob := MonitorBlob{Txid: txid, Index: 3}

	got := channelFundingOutpoint(blob)
	require.Equal(t, txid, got.Hash)
	require.Equal(t, uint32(3), got.Index)
}

type fakePeerManager struct {
	mu          sync.Mutex
	listened    bool
	connected   []string
	disconnectedAll bool
	announced   int
}

func (f *fakePeerManager) ListenAndAccept(addr string, stop <-chan struct{}) error {
	f.mu.Lock()
	f.listened = true
	f.mu.Unlock()
	<-stop
	return nil
}

func (f *fakePeerManager) Connect(pubkey [33]byte, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, addr)
	return nil
}

func (f *fakePeerManager) Disconnect(pubkey [33]byte) error { return nil }

func (f *fakePeerManager) DisconnectAll() {
	f.mu.Lock()
	f.disconnectedAll = true
	f.mu.Unlock()
}

func (f *fakePeerManager) AnnounceSelf() error {
	f.mu.Lock()
	f.announced++
	f.mu.Unlock()
	return nil
}

type fakeBackgroundWorker struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeBackgroundWorker) Start() {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeBackgroundWorker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

type fakeChannelManager struct {
	channels []ChannelInfo
}

func (f *fakeChannelManager) CreateChannel(peer [33]byte, amountSat, pushMsat int64, customID [16]byte, config channelopener.ChannelConfig) ([32]byte, error) {
	return [32]byte{}, nil
}
func (f *fakeChannelManager) FundingTransactionGenerated(tempChannelID [32]byte, counterparty [33]byte, fundingTx *wire.MsgTx) error {
	return nil
}
func (f *fakeChannelManager) ClaimFunds(preimage [32]byte) bool { return false }
func (f *fakeChannelManager) ProcessPendingHTLCForwards()       {}

func (f *fakeChannelManager) FilteredBlockConnected(header *wire.BlockHeader, txs []chainlistener.TransactionWithIndex, height uint32) {
}
func (f *fakeChannelManager) BlockDisconnected(header *wire.BlockHeader, height uint32) {}

func (f *fakeChannelManager) ListChannels() []ChannelInfo { return f.channels }
func (f *fakeChannelManager) CloseChannel(channelID [32]byte, force bool) error { return nil }
func (f *fakeChannelManager) SendPayment(invoice string) (PaymentResult, error) {
	return PaymentResult{}, nil
}
func (f *fakeChannelManager) Keysend(destination [33]byte, amountMsat int64) (PaymentResult, error) {
	return PaymentResult{}, nil
}
func (f *fakeChannelManager) CreateInvoice(amountMsat int64, memo string, expirySeconds int64) (string, [32]byte, error) {
	return "", [32]byte{}, nil
}
func (f *fakeChannelManager) RouteHint() (RouteHint, error) { return RouteHint{}, nil }
func (f *fakeChannelManager) CreateInvoiceForDestination(destination [33]byte, amountMsat int64, memo string, expirySeconds int64, hints []RouteHint) (string, [32]byte, error) {
	return "", [32]byte{}, nil
}

func newTestNode(t *testing.T, peerMgr *fakePeerManager, bg *fakeBackgroundWorker) *Node {
	t.Helper()
	hub := chainlistener.New()
	return &Node{
		tenant: &database.Tenant{
			ID:         "tenant-1",
			Pubkey:     "03abc",
			ListenAddr: "127.0.0.1",
			ListenPort: 9999,
		},
		hub:             hub,
		peerMgr:         peerMgr,
		background:      bg,
		reconnectTicker: ticker.New(time.Hour),
		announceTicker:  ticker.New(time.Hour),
		stopListen:      make(chan struct{}),
	}
}

func TestStartIsIdempotent(t *testing.T) {
	peerMgr := &fakePeerManager{}
	bg := &fakeBackgroundWorker{}
	n := newTestNode(t, peerMgr, bg)

	require.NoError(t, n.Start())
	require.NoError(t, n.Start())

	n.Stop()

	peerMgr.mu.Lock()
	defer peerMgr.mu.Unlock()
	require.True(t, peerMgr.listened)
	require.True(t, peerMgr.disconnectedAll)
	require.True(t, bg.stopped)
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	n := newTestNode(t, &fakePeerManager{}, &fakeBackgroundWorker{})
	n.Stop() // must not panic or block
}

func TestStopWaitsForSpawnedTasks(t *testing.T) {
	peerMgr := &fakePeerManager{}
	bg := &fakeBackgroundWorker{}
	n := newTestNode(t, peerMgr, bg)

	require.NoError(t, n.Start())

	done := make(chan struct{})
	go func() {
		n.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

type fakeGraphResolver struct {
	addresses map[[33]byte]string
}

func (f fakeGraphResolver) Info() NetworkGraphSummary { return NetworkGraphSummary{} }

func (f fakeGraphResolver) NodeAddress(pubkey [33]byte) (string, bool) {
	addr, ok := f.addresses[pubkey]
	return addr, ok
}

func TestResolvePeerAddressUsesGraphLookup(t *testing.T) {
	var pk [33]byte
	pk[0] = 0x02
	n := newTestNode(t, &fakePeerManager{}, &fakeBackgroundWorker{})
	n.graph = fakeGraphResolver{addresses: map[[33]byte]string{pk: "10.0.0.1:9735"}}

	require.Equal(t, "10.0.0.1:9735", n.resolvePeerAddress(pk))
}

func TestResolvePeerAddressReturnsEmptyWithoutGraph(t *testing.T) {
	n := newTestNode(t, &fakePeerManager{}, &fakeBackgroundWorker{})
	n.graph = nil

	var pk [33]byte
	require.Equal(t, "", n.resolvePeerAddress(pk))
}

func TestReconnectUnusableChannelsSkipsActive(t *testing.T) {
	peerMgr := &fakePeerManager{}
	n := newTestNode(t, peerMgr, &fakeBackgroundWorker{})
	var activePeer, inactivePeer [33]byte
	activePeer[0] = 0x01
	inactivePeer[0] = 0x02

	n.channelMgr = &fakeChannelManager{channels: []ChannelInfo{
		{Peer: activePeer, Active: true},
		{Peer: inactivePeer, Active: false},
	}}
	n.graph = fakeGraphResolver{addresses: map[[33]byte]string{inactivePeer: "1.2.3.4:9735"}}

	n.reconnectUnusableChannels()

	peerMgr.mu.Lock()
	defer peerMgr.mu.Unlock()
	require.Equal(t, []string{"1.2.3.4:9735"}, peerMgr.connected)
}
